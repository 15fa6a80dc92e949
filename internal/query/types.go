package query

import (
	"time"

	"MarginMirror/internal/event"
	"MarginMirror/internal/liquidation"
	"MarginMirror/internal/margin"
	"MarginMirror/internal/persistence"
)

// Source says where a health report came from.
type Source string

const (
	SourceScan Source = "scan" // the latest completed scan
	SourceLive Source = "live" // computed for this request
)

// AccountHealthResponse is one account's health with freshness metadata.
type AccountHealthResponse struct {
	*margin.Report
	Source       Source                         `json:"source"`
	AsOfSequence int64                          `json:"as_of_sequence"`
	Liquidation  *liquidation.ActiveLiquidation `json:"liquidation,omitempty"`
}

// AccountHistoryResponse is what the archive holds for one account.
type AccountHistoryResponse struct {
	Account      string                      `json:"account"`
	Reports      []persistence.ReportSummary `json:"reports"`
	Liquidations []liquidation.Transition    `json:"liquidations"`
}

// ScanStatusResponse summarizes the latest scan.
type ScanStatusResponse struct {
	Sequence     int64     `json:"sequence"`
	StartedAt    time.Time `json:"started_at"`
	DurationMS   int64     `json:"duration_ms"`
	Accounts     int       `json:"accounts"`
	Failed       int       `json:"failed"`
	Liquidatable int       `json:"liquidatable"`
	Stale        string    `json:"stale,omitempty"`
	Digest       string    `json:"digest"`
}

// CandidatesResponse lists the latest scan's liquidation candidates.
type CandidatesResponse struct {
	AsOfSequence int64                         `json:"as_of_sequence"`
	Candidates   []*event.LiquidationCandidate `json:"candidates"`
}
