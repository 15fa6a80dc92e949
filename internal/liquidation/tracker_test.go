package liquidation_test

import (
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"MarginMirror/internal/liquidation"
	"MarginMirror/internal/state"
	"MarginMirror/internal/testutil"
)

func TestLiquidationState_CanTransitionTo(t *testing.T) {
	tests := []struct {
		from, to liquidation.LiquidationState
		want     bool
	}{
		{liquidation.LiquidationStateHealthy, liquidation.LiquidationStateLiquidatable, true},
		{liquidation.LiquidationStateHealthy, liquidation.LiquidationStateInLiquidation, false},
		{liquidation.LiquidationStateLiquidatable, liquidation.LiquidationStateHealthy, true},
		{liquidation.LiquidationStateLiquidatable, liquidation.LiquidationStateBankrupt, false},
		{liquidation.LiquidationStateInLiquidation, liquidation.LiquidationStateBankrupt, true},
		{liquidation.LiquidationStateInLiquidation, liquidation.LiquidationStateClosed, true},
		{liquidation.LiquidationStateBankrupt, liquidation.LiquidationStateHealthy, true},
		{liquidation.LiquidationStateBankrupt, liquidation.LiquidationStateLiquidatable, false},
		{liquidation.LiquidationStateClosed, liquidation.LiquidationStateHealthy, false},
	}
	for _, tt := range tests {
		t.Run(tt.from.String()+"->"+tt.to.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestTracker_Episode(t *testing.T) {
	tr := liquidation.NewTracker()
	f := testutil.NewGroupFixture(6)
	a := f.Account(60)
	testutil.Borrow(a, state.QuoteIndex, "10")
	t0 := time.Unix(1_700_000_000, 0)

	steps, err := tr.Observe(a, false, t0)
	require.NoError(t, err)
	assert.Empty(t, steps)

	steps, err = tr.Observe(a, true, t0.Add(time.Second))
	require.NoError(t, err)
	require.Len(t, steps, 1)
	id := steps[0].LiquidationID
	assert.NotEqual(t, uuid.Nil, id)
	assert.Equal(t, liquidation.LiquidationStateLiquidatable, steps[0].To)

	a.BeingLiquidated = true
	steps, err = tr.Observe(a, true, t0.Add(2*time.Second))
	require.NoError(t, err)
	require.Len(t, steps, 1)
	assert.Equal(t, id, steps[0].LiquidationID)

	a.IsBankrupt = true
	_, err = tr.Observe(a, true, t0.Add(3*time.Second))
	require.NoError(t, err)
	rec, ok := tr.Get(a.Address)
	require.True(t, ok)
	assert.Equal(t, liquidation.LiquidationStateBankrupt, rec.State)
	assert.Equal(t, t0.Add(time.Second), rec.StartedAt)

	// every position closed out
	testutil.Borrow(a, state.QuoteIndex, "0")
	steps, err = tr.Observe(a, false, t0.Add(4*time.Second))
	require.NoError(t, err)
	require.Len(t, steps, 1)
	assert.Equal(t, liquidation.LiquidationStateClosed, steps[0].To)
	assert.Equal(t, id, steps[0].LiquidationID)

	_, ok = tr.Get(a.Address)
	assert.False(t, ok)
	assert.Empty(t, tr.Active())
}

func TestTracker_SkippedStates(t *testing.T) {
	tr := liquidation.NewTracker()
	a := testutil.NewGroupFixture(6).Account(60)
	testutil.Borrow(a, state.QuoteIndex, "10")
	a.BeingLiquidated = true
	a.IsBankrupt = true

	steps, err := tr.Observe(a, true, time.Now())
	require.NoError(t, err)
	require.Len(t, steps, 3)
	assert.Equal(t, liquidation.LiquidationStateHealthy, steps[0].From)
	assert.Equal(t, liquidation.LiquidationStateLiquidatable, steps[0].To)
	assert.Equal(t, liquidation.LiquidationStateInLiquidation, steps[1].To)
	assert.Equal(t, liquidation.LiquidationStateBankrupt, steps[2].To)
	for _, s := range steps {
		assert.Equal(t, steps[0].LiquidationID, s.LiquidationID)
	}
}

func TestTracker_RecoveryStartsNewEpisode(t *testing.T) {
	tr := liquidation.NewTracker()
	a := testutil.NewGroupFixture(6).Account(60)
	now := time.Now()

	first, err := tr.Observe(a, true, now)
	require.NoError(t, err)
	require.Len(t, first, 1)

	back, err := tr.Observe(a, false, now)
	require.NoError(t, err)
	require.Len(t, back, 1)
	assert.Equal(t, liquidation.LiquidationStateHealthy, back[0].To)
	assert.Empty(t, tr.Active())

	second, err := tr.Observe(a, true, now)
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.NotEqual(t, first[0].LiquidationID, second[0].LiquidationID)
}

func TestTracker_Concurrent(t *testing.T) {
	tr := liquidation.NewTracker()
	f := testutil.NewGroupFixture(6)
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(seed uint8) {
			defer wg.Done()
			a := f.Account(seed)
			_, err := tr.Observe(a, true, time.Now())
			assert.NoError(t, err)
		}(uint8(10 + 2*i))
	}
	wg.Wait()
	assert.Len(t, tr.Active(), 32)
}

func TestTracker_Restore(t *testing.T) {
	tr := liquidation.NewTracker()
	a := testutil.NewGroupFixture(6).Account(61)
	testutil.Borrow(a, state.QuoteIndex, "10")
	id := uuid.New()
	started := time.Unix(1_700_000_000, 0)

	n := tr.Restore([]liquidation.ActiveLiquidation{
		{LiquidationID: id, Account: a.Address, State: liquidation.LiquidationStateInLiquidation, StartedAt: started},
		{LiquidationID: uuid.New(), Account: testutil.Key(62), State: liquidation.LiquidationStateClosed},
	})
	assert.Equal(t, 1, n)

	a.BeingLiquidated = true
	a.IsBankrupt = true
	steps, err := tr.Observe(a, true, started.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, steps, 1, "continues from the restored state")
	assert.Equal(t, id, steps[0].LiquidationID)
	assert.Equal(t, liquidation.LiquidationStateInLiquidation, steps[0].From)
	assert.Equal(t, liquidation.LiquidationStateBankrupt, steps[0].To)
}
