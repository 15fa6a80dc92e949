package state

import (
	"context"

	"MarginMirror/internal/layout"
	fmath "MarginMirror/internal/math"

	"github.com/gagliardetto/solana-go"
)

const (
	TriggerOrdersSpan = 8 + MaxAdvancedOrders*triggerSlotSpan
	triggerSlotSpan   = 80
)

// PerpTriggerOrder is a perp order placed once the oracle price crosses
// TriggerPrice in the direction of TriggerCondition.
type PerpTriggerOrder struct {
	MarketIndex      uint8
	OrderType        OrderType
	Side             Side
	TriggerCondition TriggerCondition
	ReduceOnly       bool
	ClientOrderID    uint64
	Price            int64
	Quantity         int64
	TriggerPrice     fmath.I80F48
}

// IsTriggered reports whether price activates the order.
func (o *PerpTriggerOrder) IsTriggered(price fmath.I80F48) bool {
	if o.TriggerCondition == TriggerAbove {
		return price.Gt(o.TriggerPrice)
	}
	return price.Lt(o.TriggerPrice)
}

// TriggerOrders holds an account's trigger-order slots; nil slots are inactive.
type TriggerOrders struct {
	Address solana.PublicKey
	Meta    MetaData
	Slots   [MaxAdvancedOrders]*PerpTriggerOrder
}

func (t *TriggerOrders) Key() solana.PublicKey { return t.Address }
func (t *TriggerOrders) Kind() string          { return "TriggerOrders" }

func DecodeTriggerOrders(addr solana.PublicKey, data []byte) (*TriggerOrders, error) {
	t := &TriggerOrders{Address: addr}
	err := layout.DecodeExact("TriggerOrders", addr, data, TriggerOrdersSpan, func(r *layout.Reader) {
		t.Meta = readMeta(r, DataTypeAdvancedOrders)
		for i := range t.Slots {
			r.Region(triggerSlotSpan, func(r *layout.Reader) {
				layout.Enum[AdvancedOrderType](r, "AdvancedOrderType")
				if !r.Bool() {
					return
				}
				o := &PerpTriggerOrder{}
				o.MarketIndex = r.U8()
				o.OrderType = layout.Enum[OrderType](r, "OrderType")
				o.Side = layout.Enum[Side](r, "Side")
				o.TriggerCondition = layout.Enum[TriggerCondition](r, "TriggerCondition")
				o.ReduceOnly = r.Bool()
				r.Pad(1)
				o.ClientOrderID = r.U64()
				o.Price = r.I64()
				o.Quantity = r.I64()
				o.TriggerPrice = r.I80F48()
				t.Slots[i] = o
			})
		}
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (t *TriggerOrders) Encode() ([]byte, error) {
	return layout.EncodeExact("TriggerOrders", TriggerOrdersSpan, func(w *layout.Writer) {
		writeMeta(w, t.Meta)
		for _, o := range t.Slots {
			w.Region(triggerSlotSpan, func(w *layout.Writer) {
				if o == nil {
					return
				}
				w.U8(uint8(AdvancedOrderPerpTrigger))
				w.Bool(true)
				w.U8(o.MarketIndex)
				w.U8(uint8(o.OrderType))
				w.U8(uint8(o.Side))
				w.U8(uint8(o.TriggerCondition))
				w.Bool(o.ReduceOnly)
				w.Pad(1)
				w.U64(o.ClientOrderID)
				w.I64(o.Price)
				w.I64(o.Quantity)
				w.I80F48(o.TriggerPrice)
			})
		}
	})
}

func (t *TriggerOrders) Reload(ctx context.Context, f Fetcher) error {
	data, err := fetch(ctx, f, "TriggerOrders", t.Address)
	if err != nil {
		return err
	}
	fresh, err := DecodeTriggerOrders(t.Address, data)
	if err != nil {
		return err
	}
	*t = *fresh
	return nil
}

// FreeSlot returns the first inactive slot, or -1.
func (t *TriggerOrders) FreeSlot() int {
	for i, o := range t.Slots {
		if o == nil {
			return i
		}
	}
	return -1
}

// Triggered lists the active slots on market marketIndex that price activates.
func (t *TriggerOrders) Triggered(marketIndex int, price fmath.I80F48) []int {
	var out []int
	for i, o := range t.Slots {
		if o != nil && int(o.MarketIndex) == marketIndex && o.IsTriggered(price) {
			out = append(out, i)
		}
	}
	return out
}
