package core_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"MarginMirror/internal/chain"
	"MarginMirror/internal/core"
	"MarginMirror/internal/event"
	"MarginMirror/internal/liquidation"
	fmath "MarginMirror/internal/math"
	"MarginMirror/internal/observability"
	"MarginMirror/internal/persistence"
	"MarginMirror/internal/state"
	"MarginMirror/internal/testutil"
)

// --- Test helpers ---

var exact = testutil.Weights{MaintAsset: "0.875", InitAsset: "0.75", MaintLiab: "1.125", InitLiab: "1.25"}

type staticLister struct {
	accounts []chain.KeyedData
}

func (l *staticLister) GroupAccounts(_ context.Context, _, _ solana.PublicKey) ([]chain.KeyedData, error) {
	return l.accounts, nil
}

type capturePublisher struct {
	mu   sync.Mutex
	envs []*event.Envelope
}

func (p *capturePublisher) Enqueue(env *event.Envelope) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.envs = append(p.envs, env)
	return true
}

func (p *capturePublisher) drain() map[event.EventType]int {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[event.EventType]int)
	for _, e := range p.envs {
		out[e.EventType]++
	}
	p.envs = nil
	return out
}

type scanFixture struct {
	group   *testutil.GroupFixture
	fetcher *testutil.MemFetcher
	lister  *staticLister
	pub     *capturePublisher
	persist chan persistence.Batch
	scanner *core.Scanner
}

func encode(t *testing.T, e state.Entity) chain.KeyedData {
	t.Helper()
	b, err := e.Encode()
	require.NoError(t, err)
	return chain.KeyedData{Address: e.Key(), Data: b}
}

// newScanFixture scans a group holding one healthy account, one underwater
// account, and one blob that does not decode.
func newScanFixture(t *testing.T, at time.Time, accounts ...*state.Account) *scanFixture {
	t.Helper()
	f := testutil.NewGroupFixture(6).AddSpot(0, 6, "2", exact).AddPerp(1, 6, "10", exact, 1, 1)

	fetcher := testutil.NewMemFetcher()
	fetcher.Put(t, f.Group)
	fetcher.Put(t, f.Cache)

	lister := &staticLister{}
	for _, a := range accounts {
		lister.accounts = append(lister.accounts, encode(t, a))
	}
	lister.accounts = append(lister.accounts, chain.KeyedData{Address: testutil.Key(99), Data: []byte{1, 2, 3}})

	pub := &capturePublisher{}
	persist := make(chan persistence.Batch, 8)
	s := core.NewScanner(core.ScannerConfig{
		Program:          testutil.Key(200),
		Group:            f.Group.Address,
		Workers:          3,
		SettleMaxActions: 4,
	}, fetcher, lister, zerolog.Nop(), observability.NewMetrics(prometheus.NewRegistry())).
		WithPublisher(pub).
		WithPersistence(persist).
		WithClock(func() time.Time { return at })

	return &scanFixture{group: f, fetcher: fetcher, lister: lister, pub: pub, persist: persist, scanner: s}
}

func healthyAccount(f *testutil.GroupFixture) *state.Account {
	a := f.Account(60)
	testutil.Deposit(a, 0, "1000")
	return a
}

func underwaterAccount(f *testutil.GroupFixture) *state.Account {
	a := f.Account(62)
	testutil.Deposit(a, 0, "1000")
	testutil.Borrow(a, state.QuoteIndex, "3000")
	return a
}

// fresh keeps the fixture cache inside the group's valid interval.
var fresh = time.Unix(5, 0)

// =============================================================================
// Single scan
// =============================================================================

func TestScanOnce_ReportsCandidatesAndTransitions(t *testing.T) {
	base := testutil.NewGroupFixture(6)
	sf := newScanFixture(t, fresh, healthyAccount(base), underwaterAccount(base))

	res, err := sf.scanner.ScanOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(1), res.Sequence)
	assert.NoError(t, res.Stale)
	assert.Len(t, res.Reports, 2)
	require.Len(t, res.Failed, 1)
	assert.Equal(t, "decode", res.Failed[0].Stage)
	assert.Equal(t, testutil.Key(99), res.Failed[0].Address)

	require.Len(t, res.Candidates, 1)
	assert.Equal(t, testutil.Key(62).String(), res.Candidates[0].Address)
	assert.Equal(t, 1, res.Candidates[0].Rank)
	assert.NotEmpty(t, res.Candidates[0].NextAction)
	assert.Equal(t, 1, res.LiquidatableCount())

	require.Len(t, res.Transitions, 1)
	assert.Equal(t, liquidation.LiquidationStateHealthy, res.Transitions[0].From)
	assert.Equal(t, liquidation.LiquidationStateLiquidatable, res.Transitions[0].To)

	rep, ok := res.Report(testutil.Key(60))
	require.True(t, ok)
	assert.False(t, rep.Liquidatable)

	got := sf.pub.drain()
	assert.Equal(t, 2, got[event.EventTypeHealthReport])
	assert.Equal(t, 1, got[event.EventTypeLiquidationCandidate])
	assert.Equal(t, 1, got[event.EventTypeLiquidationTransition])
	assert.Equal(t, 1, got[event.EventTypeScanCompleted])
	assert.Zero(t, got[event.EventTypeSettlementPlanned])

	batch := <-sf.persist
	assert.Len(t, batch.Reports, 2)
	assert.Len(t, batch.Snapshots, 5) // group, cache, three accounts
	assert.Len(t, batch.Transitions, 1)
	assert.Equal(t, "Group", batch.Snapshots[0].Kind)
	assert.Equal(t, "Cache", batch.Snapshots[1].Kind)

	assert.Same(t, res, sf.scanner.Latest())
}

func TestScanOnce_UnchangedReportsAreNotRepublished(t *testing.T) {
	base := testutil.NewGroupFixture(6)
	sf := newScanFixture(t, fresh, healthyAccount(base), underwaterAccount(base))
	ctx := context.Background()

	first, err := sf.scanner.ScanOnce(ctx)
	require.NoError(t, err)
	sf.pub.drain()
	<-sf.persist

	second, err := sf.scanner.ScanOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), second.Sequence)
	assert.Empty(t, second.Transitions)
	assert.NotEqual(t, first.Digest, second.Digest)

	got := sf.pub.drain()
	assert.Zero(t, got[event.EventTypeHealthReport])
	assert.Equal(t, 1, got[event.EventTypeLiquidationCandidate])
	assert.Equal(t, 1, got[event.EventTypeScanCompleted])

	// reports are still archived every scan
	batch := <-sf.persist
	assert.Len(t, batch.Reports, 2)
}

func TestScanOnce_StaleCacheSkipsPlanning(t *testing.T) {
	base := testutil.NewGroupFixture(6)
	sf := newScanFixture(t, time.Unix(1_000, 0), underwaterAccount(base))

	res, err := sf.scanner.ScanOnce(context.Background())
	require.NoError(t, err)

	var stale *state.StaleError
	assert.ErrorAs(t, res.Stale, &stale)
	assert.Empty(t, res.Candidates)
	assert.Equal(t, 1, res.LiquidatableCount())
	// the tracker still follows the account
	assert.Len(t, res.Transitions, 1)
}

func TestScanOnce_PlansSettlementForCandidates(t *testing.T) {
	base := testutil.NewGroupFixture(6)
	loser := underwaterAccount(base)
	loser.PerpAccounts[1].QuotePosition = fmath.MustFromString("-100")
	winner := healthyAccount(base)
	winner.PerpAccounts[1].QuotePosition = fmath.MustFromString("40")

	sf := newScanFixture(t, fresh, loser, winner)
	res, err := sf.scanner.ScanOnce(context.Background())
	require.NoError(t, err)

	require.Len(t, res.Settlements, 1)
	plan := res.Settlements[0]
	assert.Equal(t, loser.Address, plan.Subject)
	assert.Equal(t, 1, plan.MarketIndex)
	require.Len(t, plan.Settlements, 1)
	assert.Equal(t, winner.Address, plan.Settlements[0].Counterparty)
	assert.Equal(t, "40", plan.Settlements[0].Amount.String())
	assert.Equal(t, "-60", plan.Remaining.String())

	assert.Equal(t, 1, sf.pub.drain()[event.EventTypeSettlementPlanned])
}

func TestScanOnce_MissingGroup(t *testing.T) {
	s := core.NewScanner(core.ScannerConfig{Group: testutil.Key(1)}, testutil.NewMemFetcher(), &staticLister{}, zerolog.Nop(), nil)
	_, err := s.ScanOnce(context.Background())
	assert.ErrorIs(t, err, state.ErrAccountMissing)
	assert.Nil(t, s.Latest())
}

func TestScanner_RestoreContinuesEpisode(t *testing.T) {
	base := testutil.NewGroupFixture(6)
	sf := newScanFixture(t, fresh, underwaterAccount(base))

	prior := liquidation.ActiveLiquidation{
		Account:   testutil.Key(62),
		State:     liquidation.LiquidationStateLiquidatable,
		StartedAt: fresh.Add(-time.Minute),
	}
	sf.scanner.Restore([]liquidation.ActiveLiquidation{prior})

	res, err := sf.scanner.ScanOnce(context.Background())
	require.NoError(t, err)
	assert.Empty(t, res.Transitions)

	got, ok := sf.scanner.Tracker().Get(testutil.Key(62))
	require.True(t, ok)
	assert.Equal(t, liquidation.LiquidationStateLiquidatable, got.State)
}

func TestScanner_RunStopsOnCancel(t *testing.T) {
	base := testutil.NewGroupFixture(6)
	sf := newScanFixture(t, fresh, healthyAccount(base))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sf.scanner.Run(ctx, time.Hour) }()

	<-sf.persist
	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("scanner did not stop")
	}
}

// =============================================================================
// Change filter and scan digest
// =============================================================================

func TestChangeFilter(t *testing.T) {
	base := testutil.NewGroupFixture(6)
	sf := newScanFixture(t, fresh, healthyAccount(base), underwaterAccount(base))
	res, err := sf.scanner.ScanOnce(context.Background())
	require.NoError(t, err)
	a, b := res.Reports[0], res.Reports[1]

	f := core.NewChangeFilter(1)
	assert.True(t, f.Changed(a))
	assert.False(t, f.Changed(a))

	moved := *a
	moved.MaintHealth = moved.MaintHealth.Add(fmath.One)
	assert.True(t, f.Changed(&moved))

	assert.True(t, f.Changed(b)) // evicts a
	assert.Equal(t, 1, f.Size())
	assert.Equal(t, int64(1), f.Evictions())
	assert.True(t, f.Changed(&moved))

	f.Forget(moved.Account)
	assert.Equal(t, 0, f.Size())
}

func TestAccountsDigest_OrderIndependent(t *testing.T) {
	x := chain.KeyedData{Address: testutil.Key(1), Data: []byte{1}}
	y := chain.KeyedData{Address: testutil.Key(2), Data: []byte{2}}
	assert.Equal(t, core.AccountsDigest([]chain.KeyedData{x, y}), core.AccountsDigest([]chain.KeyedData{y, x}))

	z := chain.KeyedData{Address: testutil.Key(2), Data: []byte{3}}
	assert.NotEqual(t, core.AccountsDigest([]chain.KeyedData{x, y}), core.AccountsDigest([]chain.KeyedData{x, z}))
}

func TestScanHasher_Chains(t *testing.T) {
	d := core.AccountsDigest(nil)
	h1, h2 := core.NewScanHasher(), core.NewScanHasher()
	assert.Equal(t, h1.PrevHash(), h2.PrevHash())

	a := h1.ComputeHash(1, d)
	assert.Equal(t, a, h2.ComputeHash(1, d))
	assert.Equal(t, a, h1.PrevHash())
	assert.NotEqual(t, a, h1.ComputeHash(2, d))
}
