package persistence_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"MarginMirror/internal/liquidation"
	"MarginMirror/internal/margin"
	fmath "MarginMirror/internal/math"
	"MarginMirror/internal/persistence"
	"MarginMirror/internal/state"
	"MarginMirror/internal/testutil"
)

func TestBatchLen(t *testing.T) {
	b := persistence.Batch{
		Reports:     make([]persistence.ReportRow, 2),
		Transitions: make([]persistence.TransitionRow, 3),
	}
	assert.Equal(t, 5, b.Len())
}

func TestWorkerRoundTrip(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	require.NoError(t, persistence.NewMigrator(db, "../../migrations", zerolog.Nop()).Up(ctx))

	account := testutil.Key(40)
	at := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	id := uuid.New()

	in := make(chan persistence.Batch, 4)
	w := persistence.NewWorker(db, in, 1000, 10*time.Millisecond, zerolog.Nop(), nil)

	in <- persistence.Batch{
		Snapshots: []persistence.SnapshotRow{
			{ScanSequence: 1, Address: account.String(), Kind: "Account", Data: []byte{1, 2}, CapturedAt: at},
			{ScanSequence: 2, Address: account.String(), Kind: "Account", Data: []byte{3, 4}, CapturedAt: at},
		},
		Reports: []persistence.ReportRow{{ScanSequence: 2, Report: &margin.Report{
			Account:     account,
			MaintHealth: fmath.MustFromString("-5.5"),
			InitHealth:  fmath.MustFromString("-7"),
			Status:      margin.MarginStatusLiquidatable,
			ComputedAt:  at,
		}}},
		Transitions: []persistence.TransitionRow{
			{LiquidationID: id, Account: account, From: liquidation.LiquidationStateHealthy, To: liquidation.LiquidationStateLiquidatable, At: at},
			{LiquidationID: id, Account: account, From: liquidation.LiquidationStateLiquidatable, To: liquidation.LiquidationStateInLiquidation, At: at.Add(time.Second)},
		},
	}
	// duplicate transition is ignored
	in <- persistence.Batch{Transitions: []persistence.TransitionRow{
		{LiquidationID: id, Account: account, From: liquidation.LiquidationStateLiquidatable, To: liquidation.LiquidationStateInLiquidation, At: at.Add(time.Second)},
	}}
	close(in)
	require.NoError(t, w.Run(ctx))

	snaps := persistence.NewSnapshotStore(db)
	row, err := snaps.LatestSnapshot(ctx, account, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(2), row.ScanSequence)
	assert.Equal(t, []byte{3, 4}, row.Data)

	row, err = snaps.LatestSnapshot(ctx, account, 1)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2}, row.Data)

	_, err = snaps.LatestSnapshot(ctx, testutil.Key(41), 0)
	assert.ErrorIs(t, err, state.ErrNotFound)

	seq, err := snaps.LastScanSequence(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), seq)

	hist, err := snaps.ReportHistory(ctx, account, 10)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, "-5.5", hist[0].MaintHealth.String())
	assert.Equal(t, "Liquidatable", hist[0].Status)

	liqs := persistence.NewLiquidationStore(db)
	active, err := liqs.Active(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, id, active[0].LiquidationID)
	assert.Equal(t, liquidation.LiquidationStateInLiquidation, active[0].State)
	assert.True(t, at.Equal(active[0].StartedAt))

	steps, err := liqs.History(ctx, account)
	require.NoError(t, err)
	assert.Len(t, steps, 2)
}

func TestMigratorUpDown(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	m := persistence.NewMigrator(db, "../../migrations", zerolog.Nop())
	require.NoError(t, m.Up(ctx))
	require.NoError(t, m.Up(ctx))

	status, err := m.Status(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, status)
	for _, s := range status {
		assert.NotNil(t, s.AppliedAt, s.Name)
	}

	require.NoError(t, m.Down(ctx))
	pending, err := m.Pending(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{status[len(status)-1].Name}, pending)

	require.NoError(t, m.Up(ctx))
	pending, err = m.Pending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
}
