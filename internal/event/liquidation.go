package event

import (
	"fmt"

	"github.com/google/uuid"

	"MarginMirror/internal/liquidation"
	"MarginMirror/internal/margin"
	fmath "MarginMirror/internal/math"
)

// HealthReport carries one account's risk metrics from a scan.
type HealthReport struct {
	ScanSequence int64 `json:"scan_sequence"`
	*margin.Report
}

func (h *HealthReport) IdempotencyKey() string {
	return fmt.Sprintf("health:%s:%d", h.Report.Account, h.ScanSequence)
}

func (h *HealthReport) EventType() EventType { return EventTypeHealthReport }
func (h *HealthReport) Account() string      { return h.Report.Account.String() }

// LiquidationCandidate is emitted for every liquidatable account, with the
// next step the planner would take.
type LiquidationCandidate struct {
	ScanSequence int64        `json:"scan_sequence"`
	Address      string       `json:"account"`
	Rank         int          `json:"rank"`
	InitHealth   fmath.I80F48 `json:"init_health"`
	MaintHealth  fmath.I80F48 `json:"maint_health"`
	NextAction   string       `json:"next_action,omitempty"`
}

func (l *LiquidationCandidate) IdempotencyKey() string {
	return fmt.Sprintf("candidate:%s:%d", l.Address, l.ScanSequence)
}

func (l *LiquidationCandidate) EventType() EventType { return EventTypeLiquidationCandidate }
func (l *LiquidationCandidate) Account() string      { return l.Address }

// LiquidationTransition records one step of a liquidation episode.
type LiquidationTransition struct {
	liquidation.Transition
}

func (l *LiquidationTransition) IdempotencyKey() string {
	return fmt.Sprintf("%s:%s", l.LiquidationID, l.To)
}

func (l *LiquidationTransition) EventType() EventType { return EventTypeLiquidationTransition }
func (l *LiquidationTransition) Account() string      { return l.Transition.Account.String() }

// SettlementPlanned proposes PnL settlements for one account and market.
type SettlementPlanned struct {
	PlanID       uuid.UUID `json:"plan_id"`
	ScanSequence int64     `json:"scan_sequence"`
	*liquidation.SettlementPlan
}

func NewSettlementPlanned(scanSeq int64, p *liquidation.SettlementPlan) *SettlementPlanned {
	return &SettlementPlanned{PlanID: uuid.New(), ScanSequence: scanSeq, SettlementPlan: p}
}

func (s *SettlementPlanned) IdempotencyKey() string {
	return fmt.Sprintf("settle:%s:%d:%d", s.Subject, s.MarketIndex, s.ScanSequence)
}

func (s *SettlementPlanned) EventType() EventType { return EventTypeSettlementPlanned }
func (s *SettlementPlanned) Account() string      { return s.Subject.String() }

// ScanCompleted summarizes one pass over the group.
type ScanCompleted struct {
	ScanSequence int64  `json:"scan_sequence"`
	Group        string `json:"group"`
	Accounts     int    `json:"accounts"`
	Liquidatable int    `json:"liquidatable"`
	Failed       int    `json:"failed"`
	Stale        bool   `json:"stale,omitempty"`
	Digest       string `json:"digest"`
	DurationMS   int64  `json:"duration_ms"`
}

func (s *ScanCompleted) IdempotencyKey() string {
	return fmt.Sprintf("scan:%s:%d", s.Group, s.ScanSequence)
}

func (s *ScanCompleted) EventType() EventType { return EventTypeScanCompleted }
func (s *ScanCompleted) Account() string      { return "" }
