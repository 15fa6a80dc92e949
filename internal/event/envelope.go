// Package event defines the mirror's outbound events and the envelope they
// travel in.
package event

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// EventType discriminator for event payloads
type EventType int32

const (
	EventTypeUnknown EventType = iota
	EventTypeHealthReport
	EventTypeLiquidationCandidate
	EventTypeLiquidationTransition
	EventTypeSettlementPlanned
	EventTypeScanCompleted
)

func (et EventType) String() string {
	switch et {
	case EventTypeHealthReport:
		return "HealthReport"
	case EventTypeLiquidationCandidate:
		return "LiquidationCandidate"
	case EventTypeLiquidationTransition:
		return "LiquidationTransition"
	case EventTypeSettlementPlanned:
		return "SettlementPlanned"
	case EventTypeScanCompleted:
		return "ScanCompleted"
	default:
		return "Unknown"
	}
}

// Subject is the NATS subject events of this type are published on.
func (et EventType) Subject() string {
	return SubjectPrefix + snake(et.String())
}

func (et EventType) MarshalText() ([]byte, error) {
	return []byte(et.String()), nil
}

// SubjectPrefix roots every outbound subject.
const SubjectPrefix = "mirror.events."

// Event is the interface all outbound payloads implement.
type Event interface {
	// IdempotencyKey is stable across re-publication of the same fact.
	IdempotencyKey() string
	EventType() EventType
	// Account is the subject account, or empty for group-wide events.
	Account() string
}

// Envelope wraps an event for the wire. Payload is the JSON event body.
type Envelope struct {
	EventID        uuid.UUID       `json:"event_id"`
	ScanSequence   int64           `json:"scan_sequence"`
	IdempotencyKey string          `json:"idempotency_key"`
	EventType      EventType       `json:"event_type"`
	Account        string          `json:"account,omitempty"`
	Timestamp      time.Time       `json:"timestamp"`
	Payload        json.RawMessage `json:"payload"`
}

// NewEnvelope marshals e. The event id is derived from the idempotency key so
// the same fact always carries the same id.
func NewEnvelope(scanSeq int64, e Event, at time.Time) (*Envelope, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", e.EventType(), err)
	}
	key := e.IdempotencyKey()
	return &Envelope{
		EventID:        uuid.NewSHA1(uuid.NameSpaceOID, []byte(key)),
		ScanSequence:   scanSeq,
		IdempotencyKey: key,
		EventType:      e.EventType(),
		Account:        e.Account(),
		Timestamp:      at.UTC(),
		Payload:        payload,
	}, nil
}

func (e *Envelope) Subject() string {
	return e.EventType.Subject()
}

func snake(s string) string {
	var b strings.Builder
	for i, r := range s {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('_')
			}
			r += 'a' - 'A'
		}
		b.WriteRune(r)
	}
	return b.String()
}
