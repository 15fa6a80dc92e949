// Package core runs the mirror's scan loop: load a group snapshot, compute
// every account's health in parallel, follow liquidation episodes, plan the
// next keeper steps, then hand the results to the publisher and the archive.
package core

import (
	"context"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/rs/zerolog"

	"MarginMirror/internal/chain"
	"MarginMirror/internal/event"
	"MarginMirror/internal/liquidation"
	"MarginMirror/internal/margin"
	"MarginMirror/internal/observability"
	"MarginMirror/internal/persistence"
	"MarginMirror/internal/state"
)

// AccountLister enumerates the raw accounts of a group.
type AccountLister interface {
	GroupAccounts(ctx context.Context, program, group solana.PublicKey) ([]chain.KeyedData, error)
}

// Publisher accepts envelopes for asynchronous delivery.
type Publisher interface {
	Enqueue(env *event.Envelope) bool
}

type ScannerConfig struct {
	Program solana.PublicKey
	Group   solana.PublicKey
	Workers int
	Planner liquidation.PlannerConfig
	// SettleMaxActions caps the settlements planned per candidate and market.
	SettleMaxActions int
	// FilterCapacity bounds the accounts remembered for change suppression.
	FilterCapacity int
}

// AccountFailure is an account the scan could not evaluate.
type AccountFailure struct {
	Address solana.PublicKey
	Stage   string // decode, open_orders or health
	Err     error
}

// ScanResult is everything one scan computed.
type ScanResult struct {
	Sequence    int64
	Group       *state.Group
	Cache       *state.Cache
	Accounts    []*state.Account
	Reports     []*margin.Report
	Failed      []AccountFailure
	Candidates  []*event.LiquidationCandidate
	Transitions []liquidation.Transition
	Settlements []*liquidation.SettlementPlan
	// Stale is the cache staleness error, if any. A stale scan reports health
	// but plans no liquidation or settlement.
	Stale     error
	Digest    [32]byte
	StartedAt time.Time
	Duration  time.Duration
}

// LiquidatableCount counts accounts the engine flagged, whether or not the
// scan planned anything for them.
func (r *ScanResult) LiquidatableCount() int {
	n := 0
	for _, rep := range r.Reports {
		if rep.Liquidatable {
			n++
		}
	}
	return n
}

// Report returns the scan's report for addr.
func (r *ScanResult) Report(addr solana.PublicKey) (*margin.Report, bool) {
	for _, rep := range r.Reports {
		if rep.Account.Equals(addr) {
			return rep, true
		}
	}
	return nil, false
}

// Scanner owns the scan loop. ScanOnce must not be called concurrently.
type Scanner struct {
	cfg     ScannerConfig
	fetcher state.Fetcher
	lister  AccountLister
	tracker *liquidation.Tracker
	filter  *ChangeFilter
	hasher  *ScanHasher

	publisher   Publisher
	persistChan chan<- persistence.Batch
	health      *observability.HealthChecker
	metrics     *observability.Metrics
	log         zerolog.Logger
	now         func() time.Time

	sequence int64

	mu   sync.RWMutex
	last *ScanResult
}

func NewScanner(
	cfg ScannerConfig,
	fetcher state.Fetcher,
	lister AccountLister,
	log zerolog.Logger,
	metrics *observability.Metrics,
) *Scanner {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.FilterCapacity <= 0 {
		cfg.FilterCapacity = 100_000
	}
	return &Scanner{
		cfg:     cfg,
		fetcher: fetcher,
		lister:  lister,
		tracker: liquidation.NewTracker(),
		filter:  NewChangeFilter(cfg.FilterCapacity),
		hasher:  NewScanHasher(),
		metrics: metrics,
		log:     log,
		now:     time.Now,
	}
}

func (s *Scanner) WithPublisher(p Publisher) *Scanner { s.publisher = p; return s }

func (s *Scanner) WithPersistence(ch chan<- persistence.Batch) *Scanner {
	s.persistChan = ch
	return s
}

func (s *Scanner) WithHealthChecker(h *observability.HealthChecker) *Scanner {
	s.health = h
	return s
}

func (s *Scanner) WithClock(now func() time.Time) *Scanner { s.now = now; return s }

// WithStartSequence continues numbering after seq, usually the archive's last.
func (s *Scanner) WithStartSequence(seq int64) *Scanner { s.sequence = seq; return s }

func (s *Scanner) Tracker() *liquidation.Tracker { return s.tracker }

// Restore seeds the liquidation tracker with episodes still open in storage.
func (s *Scanner) Restore(records []liquidation.ActiveLiquidation) {
	n := s.tracker.Restore(records)
	s.log.Info().Int("restored", n).Int("loaded", len(records)).Msg("liquidation tracker restored")
}

// Latest returns the most recent completed scan, or nil before the first.
func (s *Scanner) Latest() *ScanResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last
}

// Run scans immediately and then every interval until ctx is cancelled. A
// failed scan is logged and retried on the next tick.
func (s *Scanner) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := s.ScanOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.log.Error().Err(err).Int64("sequence", s.sequence+1).Msg("scan failed")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// ScanOnce performs one full pass over the group.
func (s *Scanner) ScanOnce(ctx context.Context) (*ScanResult, error) {
	start := s.now()
	seq := s.sequence + 1
	res := &ScanResult{Sequence: seq, StartedAt: start}

	groupData, err := s.fetcher.AccountData(ctx, s.cfg.Group)
	if err != nil {
		return nil, fmt.Errorf("fetch group: %w", err)
	}
	if groupData == nil {
		return nil, fmt.Errorf("group %s: %w", s.cfg.Group, state.ErrAccountMissing)
	}
	if res.Group, err = state.DecodeGroup(s.cfg.Group, groupData); err != nil {
		s.countDecodeError("Group")
		return nil, err
	}

	cacheData, err := s.fetcher.AccountData(ctx, res.Group.Cache)
	if err != nil {
		return nil, fmt.Errorf("fetch cache: %w", err)
	}
	if cacheData == nil {
		return nil, fmt.Errorf("cache %s: %w", res.Group.Cache, state.ErrAccountMissing)
	}
	if res.Cache, err = state.DecodeCache(res.Group.Cache, cacheData); err != nil {
		s.countDecodeError("Cache")
		return nil, err
	}
	res.Stale = res.Cache.CheckValid(res.Group, uint64(start.Unix()))

	raws, err := s.lister.GroupAccounts(ctx, s.cfg.Program, s.cfg.Group)
	if err != nil {
		return nil, err
	}

	calc := margin.NewMarginCalculator(res.Group, res.Cache)
	evaluated := s.evaluate(ctx, calc, raws, start)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	liquidatable := make([]*state.Account, 0)
	for i, ev := range evaluated {
		if ev.err != nil {
			res.Failed = append(res.Failed, AccountFailure{Address: raws[i].Address, Stage: ev.stage, Err: ev.err})
			s.countHealthError(ev.stage)
			continue
		}
		res.Accounts = append(res.Accounts, ev.account)
		res.Reports = append(res.Reports, ev.report)
		if s.metrics != nil {
			s.metrics.HealthComputations.WithLabelValues(ev.report.Status.String()).Inc()
		}

		transitions, err := s.tracker.Observe(ev.account, ev.report.Liquidatable, start)
		if err != nil {
			s.log.Warn().Err(err).Msg("liquidation tracker rejected observation")
		}
		res.Transitions = append(res.Transitions, transitions...)
		if ev.report.Liquidatable {
			liquidatable = append(liquidatable, ev.account)
		}
	}

	if res.Stale != nil {
		s.log.Warn().Err(res.Stale).Int64("sequence", seq).Msg("cache stale, skipping liquidation planning")
	} else {
		s.plan(calc, res, liquidatable)
	}

	snapshots := make([]chain.KeyedData, 0, len(raws)+2)
	snapshots = append(snapshots,
		chain.KeyedData{Address: s.cfg.Group, Data: groupData},
		chain.KeyedData{Address: res.Group.Cache, Data: cacheData},
	)
	snapshots = append(snapshots, raws...)
	res.Digest = s.hasher.ComputeHash(seq, AccountsDigest(snapshots))
	res.Duration = s.now().Sub(start)

	s.publish(res, len(raws))
	if err := s.persist(ctx, res, snapshots); err != nil {
		return nil, err
	}

	s.sequence = seq
	s.mu.Lock()
	s.last = res
	s.mu.Unlock()
	s.observe(res, len(raws))

	s.log.Info().
		Int64("sequence", seq).
		Int("accounts", len(raws)).
		Int("failed", len(res.Failed)).
		Int("liquidatable", len(liquidatable)).
		Int("transitions", len(res.Transitions)).
		Dur("duration", res.Duration).
		Msg("scan completed")
	return res, nil
}

type evaluation struct {
	account *state.Account
	report  *margin.Report
	stage   string
	err     error
}

// evaluate decodes and reports every raw account on cfg.Workers goroutines.
// Each worker decodes its own copy; the calculator is only read. Results
// keep the input order.
func (s *Scanner) evaluate(ctx context.Context, calc *margin.MarginCalculator, raws []chain.KeyedData, now time.Time) []evaluation {
	out := make([]evaluation, len(raws))
	idx := make(chan int)

	var wg sync.WaitGroup
	for w := 0; w < s.cfg.Workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range idx {
				out[i] = s.evaluateOne(ctx, calc, raws[i], now)
			}
		}()
	}

feed:
	for i := range raws {
		select {
		case idx <- i:
		case <-ctx.Done():
			break feed
		}
	}
	close(idx)
	wg.Wait()
	return out
}

func (s *Scanner) evaluateOne(ctx context.Context, calc *margin.MarginCalculator, raw chain.KeyedData, now time.Time) evaluation {
	a, err := state.DecodeAccount(raw.Address, raw.Data)
	if err != nil {
		s.countDecodeError("Account")
		return evaluation{stage: "decode", err: err}
	}
	if err := a.LoadOpenOrders(ctx, s.fetcher); err != nil {
		return evaluation{stage: "open_orders", err: err}
	}
	rep, err := calc.Report(a, now)
	if err != nil {
		return evaluation{stage: "health", err: err}
	}
	return evaluation{account: a, report: rep}
}

// plan ranks candidates, picks each one's next liquidation step, and proposes
// settlements for their open perp PnL.
func (s *Scanner) plan(calc *margin.MarginCalculator, res *ScanResult, liquidatable []*state.Account) {
	cands, err := liquidation.Candidates(calc, liquidatable)
	if err != nil {
		s.log.Warn().Err(err).Msg("candidate ranking skipped accounts")
	}

	planner := liquidation.NewPlanner(calc, s.cfg.Planner)
	for rank, c := range cands {
		lc := &event.LiquidationCandidate{
			ScanSequence: res.Sequence,
			Address:      c.Account.Address.String(),
			Rank:         rank + 1,
			InitHealth:   c.InitHealth,
			MaintHealth:  c.MaintHealth,
		}
		act, err := planner.Next(c.Account)
		switch {
		case err != nil:
			s.log.Warn().Err(err).Str("account", lc.Address).Msg("liquidation planning failed")
		case act != nil:
			lc.NextAction = act.String()
		}
		res.Candidates = append(res.Candidates, lc)
	}

	if s.cfg.SettleMaxActions <= 0 || len(cands) == 0 {
		return
	}
	g := res.Group
	for m := 0; m < state.MaxPairs; m++ {
		if g.PerpMarkets[m].IsEmpty() {
			continue
		}
		positions, err := liquidation.PerpPositions(calc, m, res.Accounts)
		if err != nil {
			s.log.Warn().Err(err).Int("market", m).Msg("perp positions unavailable")
			continue
		}
		for _, c := range cands {
			subject, ok := positionOf(positions, c.Account.Address)
			if !ok || subject.PnL.IsZero() {
				continue
			}
			plan := liquidation.PlanSettlement(subject, m, positions, s.cfg.SettleMaxActions)
			s.countSettlement(plan)
			if len(plan.Settlements) > 0 {
				res.Settlements = append(res.Settlements, plan)
			}
		}
	}
}

func positionOf(positions []liquidation.Position, addr solana.PublicKey) (liquidation.Position, bool) {
	for _, p := range positions {
		if p.Account.Equals(addr) {
			return p, true
		}
	}
	return liquidation.Position{}, false
}

func (s *Scanner) publish(res *ScanResult, scanned int) {
	if s.publisher == nil {
		return
	}
	var events []event.Event
	for _, rep := range res.Reports {
		if s.filter.Changed(rep) {
			events = append(events, &event.HealthReport{ScanSequence: res.Sequence, Report: rep})
		}
	}
	for _, c := range res.Candidates {
		events = append(events, c)
	}
	for _, t := range res.Transitions {
		events = append(events, &event.LiquidationTransition{Transition: t})
	}
	for _, p := range res.Settlements {
		events = append(events, event.NewSettlementPlanned(res.Sequence, p))
	}
	events = append(events, &event.ScanCompleted{
		ScanSequence: res.Sequence,
		Group:        s.cfg.Group.String(),
		Accounts:     scanned,
		Liquidatable: res.LiquidatableCount(),
		Failed:       len(res.Failed),
		Stale:        res.Stale != nil,
		Digest:       hex.EncodeToString(res.Digest[:]),
		DurationMS:   res.Duration.Milliseconds(),
	})

	at := res.StartedAt
	dropped := 0
	for _, e := range events {
		env, err := event.NewEnvelope(res.Sequence, e, at)
		if err != nil {
			s.log.Error().Err(err).Str("event_type", e.EventType().String()).Msg("envelope failed")
			continue
		}
		if !s.publisher.Enqueue(env) {
			dropped++
		}
	}
	if dropped > 0 {
		s.log.Warn().Int("dropped", dropped).Int64("sequence", res.Sequence).Msg("publish buffer full")
	}
}

func (s *Scanner) persist(ctx context.Context, res *ScanResult, snapshots []chain.KeyedData) error {
	if s.persistChan == nil {
		return nil
	}
	batch := persistence.Batch{
		Reports:     make([]persistence.ReportRow, 0, len(res.Reports)),
		Snapshots:   make([]persistence.SnapshotRow, 0, len(snapshots)),
		Transitions: res.Transitions,
	}
	for _, rep := range res.Reports {
		batch.Reports = append(batch.Reports, persistence.ReportRow{ScanSequence: res.Sequence, Report: rep})
	}
	for _, kd := range snapshots {
		batch.Snapshots = append(batch.Snapshots, persistence.SnapshotRow{
			ScanSequence: res.Sequence,
			Address:      kd.Address.String(),
			Kind:         snapshotKind(kd.Data),
			Data:         kd.Data,
			CapturedAt:   res.StartedAt,
		})
	}

	select {
	case s.persistChan <- batch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func snapshotKind(data []byte) string {
	if len(data) == 0 {
		return "Unknown"
	}
	if state.IsSpotOpenOrders(data) {
		return "OpenOrders"
	}
	return state.DataType(data[0]).String()
}

func (s *Scanner) observe(res *ScanResult, scanned int) {
	if s.health != nil {
		s.health.MarkScan(res.StartedAt)
	}
	if s.metrics == nil {
		return
	}
	s.metrics.AccountsScanned.Set(float64(scanned))
	s.metrics.Liquidatable.Set(float64(res.LiquidatableCount()))
	s.metrics.ScanDuration.Observe(res.Duration.Seconds())
	for _, t := range res.Transitions {
		s.metrics.LiquidationEvents.WithLabelValues(t.To.String()).Inc()
	}
}

func (s *Scanner) countDecodeError(entity string) {
	if s.metrics != nil {
		s.metrics.DecodeErrors.WithLabelValues(entity).Inc()
	}
}

func (s *Scanner) countHealthError(stage string) {
	if s.metrics != nil {
		s.metrics.HealthErrors.WithLabelValues(stage).Inc()
	}
}

func (s *Scanner) countSettlement(p *liquidation.SettlementPlan) {
	if s.metrics == nil {
		return
	}
	outcome := "partial"
	switch {
	case len(p.Settlements) == 0:
		outcome = "none"
	case p.Remaining.IsZero():
		outcome = "full"
	}
	s.metrics.SettlementPlans.WithLabelValues(outcome).Inc()
}
