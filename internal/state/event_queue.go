package state

import (
	"context"
	"fmt"
	"iter"

	"MarginMirror/internal/layout"
	fmath "MarginMirror/internal/math"

	"github.com/gagliardetto/solana-go"
)

const (
	EventQueueHeaderSpan = 32
	EventSpan            = 200
	eventBodySpan        = EventSpan - 1
)

type EventType uint8

const (
	EventTypeFill EventType = iota
	EventTypeOut
	EventTypeLiquidate
)

func (t EventType) String() string {
	switch t {
	case EventTypeFill:
		return "fill"
	case EventTypeOut:
		return "out"
	case EventTypeLiquidate:
		return "liquidate"
	default:
		return fmt.Sprintf("EventType(%d)", uint8(t))
	}
}

// Event is one slot of the ring buffer. The set of variants is closed.
type Event interface {
	Type() EventType
	Seq() uint64
}

type FillEvent struct {
	TakerSide         Side
	MakerSlot         uint8
	MakerOut          bool
	Version           uint8
	MarketFeesApplied bool
	Timestamp         uint64
	SeqNum            uint64

	Maker              solana.PublicKey
	MakerOrderID       fmath.Int128
	MakerClientOrderID uint64
	MakerFee           fmath.I80F48
	BestInitial        int64
	MakerTimestamp     uint64

	Taker              solana.PublicKey
	TakerOrderID       fmath.Int128
	TakerClientOrderID uint64
	TakerFee           fmath.I80F48

	Price    int64
	Quantity int64
}

type OutEvent struct {
	Side      Side
	Slot      uint8
	Timestamp uint64
	SeqNum    uint64
	Owner     solana.PublicKey
	Quantity  int64
}

type LiquidateEvent struct {
	Timestamp      uint64
	SeqNum         uint64
	Liqee          solana.PublicKey
	Liqor          solana.PublicKey
	Price          fmath.I80F48
	Quantity       int64
	LiquidationFee fmath.I80F48
}

func (*FillEvent) Type() EventType      { return EventTypeFill }
func (*OutEvent) Type() EventType       { return EventTypeOut }
func (*LiquidateEvent) Type() EventType { return EventTypeLiquidate }
func (e *FillEvent) Seq() uint64        { return e.SeqNum }
func (e *OutEvent) Seq() uint64         { return e.SeqNum }
func (e *LiquidateEvent) Seq() uint64   { return e.SeqNum }

func decodeEvent(r *layout.Reader) Event {
	t := EventType(r.U8())
	var ev Event
	r.Region(eventBodySpan, func(r *layout.Reader) {
		switch t {
		case EventTypeFill:
			e := &FillEvent{}
			e.TakerSide = layout.Enum[Side](r, "Side")
			e.MakerSlot = r.U8()
			e.MakerOut = r.Bool()
			e.Version = r.U8()
			e.MarketFeesApplied = r.Bool()
			r.Pad(2)
			e.Timestamp = r.U64()
			e.SeqNum = r.U64()
			e.Maker = r.PublicKey()
			e.MakerOrderID = r.I128()
			e.MakerClientOrderID = r.U64()
			e.MakerFee = r.I80F48()
			e.BestInitial = r.I64()
			e.MakerTimestamp = r.U64()
			e.Taker = r.PublicKey()
			e.TakerOrderID = r.I128()
			e.TakerClientOrderID = r.U64()
			e.TakerFee = r.I80F48()
			e.Price = r.I64()
			e.Quantity = r.I64()
			ev = e
		case EventTypeOut:
			e := &OutEvent{}
			e.Side = layout.Enum[Side](r, "Side")
			e.Slot = r.U8()
			r.Pad(5)
			e.Timestamp = r.U64()
			e.SeqNum = r.U64()
			e.Owner = r.PublicKey()
			e.Quantity = r.I64()
			ev = e
		case EventTypeLiquidate:
			e := &LiquidateEvent{}
			r.Pad(7)
			e.Timestamp = r.U64()
			e.SeqNum = r.U64()
			e.Liqee = r.PublicKey()
			e.Liqor = r.PublicKey()
			e.Price = r.I80F48()
			e.Quantity = r.I64()
			e.LiquidationFee = r.I80F48()
			ev = e
		default:
			r.Fail(fmt.Errorf("%w: event type %d", layout.ErrUnknownDiscriminant, t))
		}
	})
	return ev
}

func encodeEvent(w *layout.Writer, ev Event) {
	w.U8(uint8(ev.Type()))
	w.Region(eventBodySpan, func(w *layout.Writer) {
		switch e := ev.(type) {
		case *FillEvent:
			w.U8(uint8(e.TakerSide))
			w.U8(e.MakerSlot)
			w.Bool(e.MakerOut)
			w.U8(e.Version)
			w.Bool(e.MarketFeesApplied)
			w.Pad(2)
			w.U64(e.Timestamp)
			w.U64(e.SeqNum)
			w.PublicKey(e.Maker)
			w.I128(e.MakerOrderID)
			w.U64(e.MakerClientOrderID)
			w.I80F48(e.MakerFee)
			w.I64(e.BestInitial)
			w.U64(e.MakerTimestamp)
			w.PublicKey(e.Taker)
			w.I128(e.TakerOrderID)
			w.U64(e.TakerClientOrderID)
			w.I80F48(e.TakerFee)
			w.I64(e.Price)
			w.I64(e.Quantity)
		case *OutEvent:
			w.U8(uint8(e.Side))
			w.U8(e.Slot)
			w.Pad(5)
			w.U64(e.Timestamp)
			w.U64(e.SeqNum)
			w.PublicKey(e.Owner)
			w.I64(e.Quantity)
		case *LiquidateEvent:
			w.Pad(7)
			w.U64(e.Timestamp)
			w.U64(e.SeqNum)
			w.PublicKey(e.Liqee)
			w.PublicKey(e.Liqor)
			w.I80F48(e.Price)
			w.I64(e.Quantity)
			w.I80F48(e.LiquidationFee)
		}
	})
}

// EventQueue is a perp market's ring buffer of fill, out and liquidate events.
// The newest event, SeqNum-1, sits in the slot before (Head+Count) mod len(Events).
type EventQueue struct {
	Address solana.PublicKey
	Meta    MetaData

	Head   uint64
	Count  uint64
	SeqNum uint64
	Events []Event
}

func (q *EventQueue) Key() solana.PublicKey { return q.Address }
func (q *EventQueue) Kind() string          { return "EventQueue" }

// DecodeEventQueue accepts any length of 32 + n*200 bytes with n > 0.
func DecodeEventQueue(addr solana.PublicKey, data []byte) (*EventQueue, error) {
	n := (len(data) - EventQueueHeaderSpan) / EventSpan
	if len(data) < EventQueueHeaderSpan+EventSpan || (len(data)-EventQueueHeaderSpan)%EventSpan != 0 {
		return nil, &layout.DecodeError{
			Entity:  "EventQueue",
			Address: addr,
			Length:  len(data),
			Err:     fmt.Errorf("%w: want %d + n*%d bytes", layout.ErrSpanMismatch, EventQueueHeaderSpan, EventSpan),
		}
	}
	q := &EventQueue{Address: addr, Events: make([]Event, n)}
	err := layout.DecodeExact("EventQueue", addr, data, len(data), func(r *layout.Reader) {
		q.Meta = readMeta(r, DataTypeEventQueue)
		q.Head = r.U64()
		q.Count = r.U64()
		q.SeqNum = r.U64()
		for i := range q.Events {
			q.Events[i] = decodeEvent(r)
		}
	})
	if err != nil {
		return nil, err
	}
	return q, nil
}

func (q *EventQueue) Encode() ([]byte, error) {
	return layout.EncodeExact("EventQueue", EventQueueHeaderSpan+len(q.Events)*EventSpan, func(w *layout.Writer) {
		writeMeta(w, q.Meta)
		w.U64(q.Head)
		w.U64(q.Count)
		w.U64(q.SeqNum)
		for _, ev := range q.Events {
			if ev == nil {
				ev = &FillEvent{}
			}
			encodeEvent(w, ev)
		}
	})
}

func (q *EventQueue) Reload(ctx context.Context, f Fetcher) error {
	data, err := fetch(ctx, f, "EventQueue", q.Address)
	if err != nil {
		return err
	}
	fresh, err := DecodeEventQueue(q.Address, data)
	if err != nil {
		return err
	}
	*q = *fresh
	return nil
}

// EventsSince yields the events with sequence numbers from cursor up to the
// queue's SeqNum, oldest first. Sequence numbers wrap at 2^64. If the cursor
// has fallen more than a full buffer behind, only the last len(Events) events
// are still available and those are yielded. A cursor ahead of SeqNum, as
// after reloading an older snapshot, yields nothing. Ranging over the result
// twice yields the same events.
func (q *EventQueue) EventsSince(cursor uint64) iter.Seq[Event] {
	return func(yield func(Event) bool) {
		n := uint64(len(q.Events))
		if n == 0 {
			return
		}
		if int64(q.SeqNum-cursor) <= 0 {
			return
		}
		missed := q.SeqNum - cursor
		if missed > n {
			missed = n
		}
		end := (q.Head%n + q.Count%n) % n
		start := (end + n - missed) % n
		for k := uint64(0); k < missed; k++ {
			if !yield(q.Events[(start+k)%n]) {
				return
			}
		}
	}
}

// UnconsumedEvents yields the events still between Head and Head+Count.
func (q *EventQueue) UnconsumedEvents() iter.Seq[Event] {
	return q.EventsSince(q.SeqNum - q.Count)
}
