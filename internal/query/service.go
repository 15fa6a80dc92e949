// Package query answers read requests from the latest scan, from the chain on
// demand, and from the Postgres archive.
package query

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"

	"MarginMirror/internal/core"
	"MarginMirror/internal/liquidation"
	"MarginMirror/internal/margin"
	"MarginMirror/internal/persistence"
	"MarginMirror/internal/state"
)

var (
	// ErrWrongGroup is returned for an account that belongs to another group.
	ErrWrongGroup = errors.New("account belongs to another group")
	// ErrNoScan is returned before the first scan completes.
	ErrNoScan = errors.New("no scan completed yet")
	// ErrNoArchive is returned for history requests without a database.
	ErrNoArchive = errors.New("archive not configured")
)

// ScanSource exposes the latest scan and the live liquidation tracker.
type ScanSource interface {
	Latest() *core.ScanResult
	Tracker() *liquidation.Tracker
}

type ReportArchive interface {
	ReportHistory(ctx context.Context, account solana.PublicKey, limit int) ([]persistence.ReportSummary, error)
}

type LiquidationArchive interface {
	History(ctx context.Context, account solana.PublicKey) ([]liquidation.Transition, error)
}

// QueryService is read-only. The archives may be nil when the mirror runs
// without Postgres.
type QueryService struct {
	fetcher  state.Fetcher
	group    solana.PublicKey
	scans    ScanSource
	reports  ReportArchive
	liqs     LiquidationArchive
	now      func() time.Time
	maxLimit int
}

func NewQueryService(fetcher state.Fetcher, group solana.PublicKey, scans ScanSource, reports ReportArchive, liqs LiquidationArchive) *QueryService {
	return &QueryService{
		fetcher:  fetcher,
		group:    group,
		scans:    scans,
		reports:  reports,
		liqs:     liqs,
		now:      time.Now,
		maxLimit: 1000,
	}
}

// AccountHealth returns addr's health. Unless live is set, the latest scan's
// report is served when the scan covered addr.
func (qs *QueryService) AccountHealth(ctx context.Context, addr solana.PublicKey, live bool) (*AccountHealthResponse, error) {
	var resp *AccountHealthResponse
	if last := qs.scans.Latest(); last != nil && !live {
		if rep, ok := last.Report(addr); ok {
			resp = &AccountHealthResponse{Report: rep, Source: SourceScan, AsOfSequence: last.Sequence}
		}
	}
	if resp == nil {
		rep, err := qs.liveReport(ctx, addr)
		if err != nil {
			return nil, err
		}
		resp = &AccountHealthResponse{Report: rep, Source: SourceLive}
		if last := qs.scans.Latest(); last != nil {
			resp.AsOfSequence = last.Sequence
		}
	}
	if rec, ok := qs.scans.Tracker().Get(addr); ok {
		resp.Liquidation = &rec
	}
	return resp, nil
}

// liveReport fetches group, cache and account now and computes the report.
func (qs *QueryService) liveReport(ctx context.Context, addr solana.PublicKey) (*margin.Report, error) {
	g := &state.Group{Address: qs.group}
	if err := g.Reload(ctx, qs.fetcher); err != nil {
		return nil, err
	}
	cache, err := g.LoadCache(ctx, qs.fetcher)
	if err != nil {
		return nil, err
	}

	a := &state.Account{Address: addr}
	if err := a.Reload(ctx, qs.fetcher); err != nil {
		return nil, err
	}
	if !a.Group.Equals(qs.group) {
		return nil, fmt.Errorf("%s: %w", addr, ErrWrongGroup)
	}
	if err := a.LoadOpenOrders(ctx, qs.fetcher); err != nil {
		return nil, err
	}
	return margin.NewMarginCalculator(g, cache).Report(a, qs.now())
}

// AccountHistory returns up to limit archived reports and every recorded
// liquidation transition for addr.
func (qs *QueryService) AccountHistory(ctx context.Context, addr solana.PublicKey, limit int) (*AccountHistoryResponse, error) {
	if qs.reports == nil || qs.liqs == nil {
		return nil, ErrNoArchive
	}
	if limit <= 0 || limit > qs.maxLimit {
		limit = qs.maxLimit
	}
	reports, err := qs.reports.ReportHistory(ctx, addr, limit)
	if err != nil {
		return nil, err
	}
	liqs, err := qs.liqs.History(ctx, addr)
	if err != nil {
		return nil, err
	}
	return &AccountHistoryResponse{Account: addr.String(), Reports: reports, Liquidations: liqs}, nil
}

func (qs *QueryService) ScanStatus() (*ScanStatusResponse, error) {
	last := qs.scans.Latest()
	if last == nil {
		return nil, ErrNoScan
	}
	resp := &ScanStatusResponse{
		Sequence:     last.Sequence,
		StartedAt:    last.StartedAt,
		DurationMS:   last.Duration.Milliseconds(),
		Accounts:     len(last.Reports) + len(last.Failed),
		Failed:       len(last.Failed),
		Liquidatable: last.LiquidatableCount(),
		Digest:       hex.EncodeToString(last.Digest[:]),
	}
	if last.Stale != nil {
		resp.Stale = last.Stale.Error()
	}
	return resp, nil
}

func (qs *QueryService) Candidates() (*CandidatesResponse, error) {
	last := qs.scans.Latest()
	if last == nil {
		return nil, ErrNoScan
	}
	return &CandidatesResponse{AsOfSequence: last.Sequence, Candidates: last.Candidates}, nil
}
