package state

// Side of a resting order.
type Side uint8

const (
	SideBid Side = iota
	SideAsk
)

func (s Side) Valid() bool { return s <= SideAsk }

func (s Side) String() string {
	switch s {
	case SideBid:
		return "bid"
	case SideAsk:
		return "ask"
	default:
		return "unknown"
	}
}

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == SideBid {
		return SideAsk
	}
	return SideBid
}

type OrderType uint8

const (
	OrderTypeLimit OrderType = iota
	OrderTypeImmediateOrCancel
	OrderTypePostOnly
	OrderTypeMarket
	OrderTypePostOnlySlide
)

func (t OrderType) Valid() bool { return t <= OrderTypePostOnlySlide }

func (t OrderType) String() string {
	switch t {
	case OrderTypeLimit:
		return "limit"
	case OrderTypeImmediateOrCancel:
		return "ioc"
	case OrderTypePostOnly:
		return "postOnly"
	case OrderTypeMarket:
		return "market"
	case OrderTypePostOnlySlide:
		return "postOnlySlide"
	default:
		return "unknown"
	}
}

// AssetType distinguishes token balances from perp positions in liquidation.
type AssetType uint8

const (
	AssetTypeToken AssetType = iota
	AssetTypePerp
)

func (a AssetType) Valid() bool { return a <= AssetTypePerp }

func (a AssetType) String() string {
	if a == AssetTypePerp {
		return "perp"
	}
	return "token"
}

type TriggerCondition uint8

const (
	TriggerAbove TriggerCondition = iota
	TriggerBelow
)

func (c TriggerCondition) Valid() bool { return c <= TriggerBelow }

func (c TriggerCondition) String() string {
	if c == TriggerBelow {
		return "below"
	}
	return "above"
}

// AdvancedOrderType tags a trigger-order slot. Only perp triggers exist.
type AdvancedOrderType uint8

const AdvancedOrderPerpTrigger AdvancedOrderType = 0

func (t AdvancedOrderType) Valid() bool { return t == AdvancedOrderPerpTrigger }
