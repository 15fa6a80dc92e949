// Package instruction encodes and decodes the venue program's instruction
// messages: a little-endian u32 discriminant followed by a fixed body.
package instruction

import (
	"encoding/binary"
	"fmt"

	"github.com/gagliardetto/solana-go"

	"MarginMirror/internal/layout"
	fmath "MarginMirror/internal/math"
	"MarginMirror/internal/state"
)

const (
	discriminantSpan = 4
	// MaxSpan is the largest encoded instruction, AddPerpTriggerOrder.
	MaxSpan = 40
)

// Instruction is one variant of the program's instruction enum. The set is
// closed; Decode and Encode handle every implementation in this package.
type Instruction interface {
	Discriminant() uint32
	Name() string
	bodySpan() int
	encode(w *layout.Writer)
	decode(r *layout.Reader)
}

// Encode writes the discriminant and body of ix.
func Encode(ix Instruction) ([]byte, error) {
	w := layout.NewWriter(MaxSpan)
	w.U32(ix.Discriminant())
	ix.encode(w)
	if err := w.Err(); err != nil {
		return nil, &layout.EncodeError{Entity: ix.Name(), Offset: w.Offset(), Err: err}
	}
	return w.Bytes(), nil
}

// Decode parses an instruction message. A handful of variants gained a
// trailing flag after they were first deployed; messages with their old
// length decode as if the flag were zero.
func Decode(data []byte) (Instruction, error) {
	if len(data) < discriminantSpan {
		return nil, &layout.DecodeError{Entity: "Instruction", Length: len(data), Err: layout.ErrShortBuffer}
	}
	disc := binary.LittleEndian.Uint32(data)
	ix := newVariant(disc)
	if ix == nil {
		return nil, &layout.DecodeError{
			Entity: "Instruction",
			Length: len(data),
			Err:    fmt.Errorf("%w: instruction %d", layout.ErrUnknownDiscriminant, disc),
		}
	}
	data = padLegacy(disc, data)
	err := layout.DecodeExact(ix.Name(), solana.PublicKey{}, data, discriminantSpan+ix.bodySpan(), func(r *layout.Reader) {
		r.Pad(discriminantSpan)
		ix.decode(r)
	})
	if err != nil {
		return nil, err
	}
	return ix, nil
}

// legacyLengths maps a discriminant to its pre-upgrade length. Each of these
// variants appended exactly one byte.
var legacyLengths = map[uint32]int{
	12: 30, // PlacePerpOrder before ReduceOnly
	13: 12, // CancelPerpOrderByClientID before InvalidIDOk
	14: 20, // CancelPerpOrder before InvalidIDOk
}

func padLegacy(disc uint32, data []byte) []byte {
	n, ok := legacyLengths[disc]
	if !ok || len(data) != n {
		return data
	}
	padded := make([]byte, n+1)
	copy(padded, data)
	return padded
}

func newVariant(disc uint32) Instruction {
	switch disc {
	case 1:
		return &InitAccount{}
	case 2:
		return &Deposit{}
	case 3:
		return &Withdraw{}
	case 5:
		return &AddToBasket{}
	case 6:
		return &Borrow{}
	case 7:
		return &CachePrices{}
	case 8:
		return &CacheRootBanks{}
	case 12:
		return &PlacePerpOrder{}
	case 13:
		return &CancelPerpOrderByClientID{}
	case 14:
		return &CancelPerpOrder{}
	case 15:
		return &ConsumeEvents{}
	case 16:
		return &CachePerpMarkets{}
	case 17:
		return &UpdateFunding{}
	case 19:
		return &SettleFunds{}
	case 21:
		return &UpdateRootBank{}
	case 22:
		return &SettlePnl{}
	case 24:
		return &ForceCancelSpotOrders{}
	case 25:
		return &ForceCancelPerpOrders{}
	case 26:
		return &LiquidateTokenAndToken{}
	case 27:
		return &LiquidateTokenAndPerp{}
	case 28:
		return &LiquidatePerpMarket{}
	case 29:
		return &SettleFees{}
	case 30:
		return &ResolvePerpBankruptcy{}
	case 31:
		return &ResolveTokenBankruptcy{}
	case 39:
		return &CancelAllPerpOrders{}
	case 43:
		return &AddPerpTriggerOrder{}
	case 44:
		return &RemoveAdvancedOrder{}
	case 45:
		return &ExecutePerpTriggerOrder{}
	case 48:
		return &UpdateMarginBasket{}
	case 50:
		return &CloseAccount{}
	case 55:
		return &CreateAccount{}
	case 58:
		return &SetDelegate{}
	}
	return nil
}

// bodiless is embedded by variants that carry only a discriminant.
type bodiless struct{}

func (bodiless) bodySpan() int         { return 0 }
func (bodiless) encode(*layout.Writer) {}
func (bodiless) decode(*layout.Reader) {}

type InitAccount struct{ bodiless }

func (*InitAccount) Discriminant() uint32 { return 1 }
func (*InitAccount) Name() string         { return "InitAccount" }

type Deposit struct {
	Quantity uint64
}

func (*Deposit) Discriminant() uint32       { return 2 }
func (*Deposit) Name() string               { return "Deposit" }
func (*Deposit) bodySpan() int              { return 8 }
func (ix *Deposit) encode(w *layout.Writer) { w.U64(ix.Quantity) }
func (ix *Deposit) decode(r *layout.Reader) { ix.Quantity = r.U64() }

type Withdraw struct {
	Quantity    uint64
	AllowBorrow bool
}

func (*Withdraw) Discriminant() uint32 { return 3 }
func (*Withdraw) Name() string         { return "Withdraw" }
func (*Withdraw) bodySpan() int        { return 9 }

func (ix *Withdraw) encode(w *layout.Writer) {
	w.U64(ix.Quantity)
	w.Bool(ix.AllowBorrow)
}

func (ix *Withdraw) decode(r *layout.Reader) {
	ix.Quantity = r.U64()
	ix.AllowBorrow = r.Bool()
}

type AddToBasket struct {
	MarketIndex uint64
}

func (*AddToBasket) Discriminant() uint32       { return 5 }
func (*AddToBasket) Name() string               { return "AddToBasket" }
func (*AddToBasket) bodySpan() int              { return 8 }
func (ix *AddToBasket) encode(w *layout.Writer) { w.U64(ix.MarketIndex) }
func (ix *AddToBasket) decode(r *layout.Reader) { ix.MarketIndex = r.U64() }

type Borrow struct {
	Quantity uint64
}

func (*Borrow) Discriminant() uint32       { return 6 }
func (*Borrow) Name() string               { return "Borrow" }
func (*Borrow) bodySpan() int              { return 8 }
func (ix *Borrow) encode(w *layout.Writer) { w.U64(ix.Quantity) }
func (ix *Borrow) decode(r *layout.Reader) { ix.Quantity = r.U64() }

type CachePrices struct{ bodiless }

func (*CachePrices) Discriminant() uint32 { return 7 }
func (*CachePrices) Name() string         { return "CachePrices" }

type CacheRootBanks struct{ bodiless }

func (*CacheRootBanks) Discriminant() uint32 { return 8 }
func (*CacheRootBanks) Name() string         { return "CacheRootBanks" }

// PlacePerpOrder prices and sizes are in lots.
type PlacePerpOrder struct {
	Price         int64
	Quantity      int64
	ClientOrderID uint64
	Side          state.Side
	OrderType     state.OrderType
	ReduceOnly    bool
}

func (*PlacePerpOrder) Discriminant() uint32 { return 12 }
func (*PlacePerpOrder) Name() string         { return "PlacePerpOrder" }
func (*PlacePerpOrder) bodySpan() int        { return 27 }

func (ix *PlacePerpOrder) encode(w *layout.Writer) {
	w.I64(ix.Price)
	w.I64(ix.Quantity)
	w.U64(ix.ClientOrderID)
	w.U8(uint8(ix.Side))
	w.U8(uint8(ix.OrderType))
	w.Bool(ix.ReduceOnly)
}

func (ix *PlacePerpOrder) decode(r *layout.Reader) {
	ix.Price = r.I64()
	ix.Quantity = r.I64()
	ix.ClientOrderID = r.U64()
	ix.Side = layout.Enum[state.Side](r, "Side")
	ix.OrderType = layout.Enum[state.OrderType](r, "OrderType")
	ix.ReduceOnly = r.Bool()
}

type CancelPerpOrderByClientID struct {
	ClientOrderID uint64
	InvalidIDOk   bool
}

func (*CancelPerpOrderByClientID) Discriminant() uint32 { return 13 }
func (*CancelPerpOrderByClientID) Name() string         { return "CancelPerpOrderByClientID" }
func (*CancelPerpOrderByClientID) bodySpan() int        { return 9 }

func (ix *CancelPerpOrderByClientID) encode(w *layout.Writer) {
	w.U64(ix.ClientOrderID)
	w.Bool(ix.InvalidIDOk)
}

func (ix *CancelPerpOrderByClientID) decode(r *layout.Reader) {
	ix.ClientOrderID = r.U64()
	ix.InvalidIDOk = r.Bool()
}

type CancelPerpOrder struct {
	OrderID     fmath.Int128
	InvalidIDOk bool
}

func (*CancelPerpOrder) Discriminant() uint32 { return 14 }
func (*CancelPerpOrder) Name() string         { return "CancelPerpOrder" }
func (*CancelPerpOrder) bodySpan() int        { return 17 }

func (ix *CancelPerpOrder) encode(w *layout.Writer) {
	w.I128(ix.OrderID)
	w.Bool(ix.InvalidIDOk)
}

func (ix *CancelPerpOrder) decode(r *layout.Reader) {
	ix.OrderID = r.I128()
	ix.InvalidIDOk = r.Bool()
}

type ConsumeEvents struct {
	Limit uint64
}

func (*ConsumeEvents) Discriminant() uint32       { return 15 }
func (*ConsumeEvents) Name() string               { return "ConsumeEvents" }
func (*ConsumeEvents) bodySpan() int              { return 8 }
func (ix *ConsumeEvents) encode(w *layout.Writer) { w.U64(ix.Limit) }
func (ix *ConsumeEvents) decode(r *layout.Reader) { ix.Limit = r.U64() }

type CachePerpMarkets struct{ bodiless }

func (*CachePerpMarkets) Discriminant() uint32 { return 16 }
func (*CachePerpMarkets) Name() string         { return "CachePerpMarkets" }

type UpdateFunding struct{ bodiless }

func (*UpdateFunding) Discriminant() uint32 { return 17 }
func (*UpdateFunding) Name() string         { return "UpdateFunding" }

type SettleFunds struct{ bodiless }

func (*SettleFunds) Discriminant() uint32 { return 19 }
func (*SettleFunds) Name() string         { return "SettleFunds" }

type UpdateRootBank struct{ bodiless }

func (*UpdateRootBank) Discriminant() uint32 { return 21 }
func (*UpdateRootBank) Name() string         { return "UpdateRootBank" }

type SettlePnl struct {
	MarketIndex uint64
}

func (*SettlePnl) Discriminant() uint32       { return 22 }
func (*SettlePnl) Name() string               { return "SettlePnl" }
func (*SettlePnl) bodySpan() int              { return 8 }
func (ix *SettlePnl) encode(w *layout.Writer) { w.U64(ix.MarketIndex) }
func (ix *SettlePnl) decode(r *layout.Reader) { ix.MarketIndex = r.U64() }

type ForceCancelSpotOrders struct {
	Limit uint8
}

func (*ForceCancelSpotOrders) Discriminant() uint32       { return 24 }
func (*ForceCancelSpotOrders) Name() string               { return "ForceCancelSpotOrders" }
func (*ForceCancelSpotOrders) bodySpan() int              { return 1 }
func (ix *ForceCancelSpotOrders) encode(w *layout.Writer) { w.U8(ix.Limit) }
func (ix *ForceCancelSpotOrders) decode(r *layout.Reader) { ix.Limit = r.U8() }

type ForceCancelPerpOrders struct {
	Limit uint8
}

func (*ForceCancelPerpOrders) Discriminant() uint32       { return 25 }
func (*ForceCancelPerpOrders) Name() string               { return "ForceCancelPerpOrders" }
func (*ForceCancelPerpOrders) bodySpan() int              { return 1 }
func (ix *ForceCancelPerpOrders) encode(w *layout.Writer) { w.U8(ix.Limit) }
func (ix *ForceCancelPerpOrders) decode(r *layout.Reader) { ix.Limit = r.U8() }

type LiquidateTokenAndToken struct {
	MaxLiabTransfer fmath.I80F48
}

func (*LiquidateTokenAndToken) Discriminant() uint32       { return 26 }
func (*LiquidateTokenAndToken) Name() string               { return "LiquidateTokenAndToken" }
func (*LiquidateTokenAndToken) bodySpan() int              { return 16 }
func (ix *LiquidateTokenAndToken) encode(w *layout.Writer) { w.I80F48(ix.MaxLiabTransfer) }
func (ix *LiquidateTokenAndToken) decode(r *layout.Reader) { ix.MaxLiabTransfer = r.I80F48() }

// LiquidateTokenAndPerp swaps a token position for a perp quote position, in
// either direction.
type LiquidateTokenAndPerp struct {
	AssetType       state.AssetType
	AssetIndex      uint64
	LiabType        state.AssetType
	LiabIndex       uint64
	MaxLiabTransfer fmath.I80F48
}

func (*LiquidateTokenAndPerp) Discriminant() uint32 { return 27 }
func (*LiquidateTokenAndPerp) Name() string         { return "LiquidateTokenAndPerp" }
func (*LiquidateTokenAndPerp) bodySpan() int        { return 34 }

func (ix *LiquidateTokenAndPerp) encode(w *layout.Writer) {
	w.U8(uint8(ix.AssetType))
	w.U64(ix.AssetIndex)
	w.U8(uint8(ix.LiabType))
	w.U64(ix.LiabIndex)
	w.I80F48(ix.MaxLiabTransfer)
}

func (ix *LiquidateTokenAndPerp) decode(r *layout.Reader) {
	ix.AssetType = layout.Enum[state.AssetType](r, "AssetType")
	ix.AssetIndex = r.U64()
	ix.LiabType = layout.Enum[state.AssetType](r, "AssetType")
	ix.LiabIndex = r.U64()
	ix.MaxLiabTransfer = r.I80F48()
}

type LiquidatePerpMarket struct {
	BaseTransferRequest int64
}

func (*LiquidatePerpMarket) Discriminant() uint32       { return 28 }
func (*LiquidatePerpMarket) Name() string               { return "LiquidatePerpMarket" }
func (*LiquidatePerpMarket) bodySpan() int              { return 8 }
func (ix *LiquidatePerpMarket) encode(w *layout.Writer) { w.I64(ix.BaseTransferRequest) }
func (ix *LiquidatePerpMarket) decode(r *layout.Reader) { ix.BaseTransferRequest = r.I64() }

type SettleFees struct{ bodiless }

func (*SettleFees) Discriminant() uint32 { return 29 }
func (*SettleFees) Name() string         { return "SettleFees" }

type ResolvePerpBankruptcy struct {
	LiabIndex       uint64
	MaxLiabTransfer fmath.I80F48
}

func (*ResolvePerpBankruptcy) Discriminant() uint32 { return 30 }
func (*ResolvePerpBankruptcy) Name() string         { return "ResolvePerpBankruptcy" }
func (*ResolvePerpBankruptcy) bodySpan() int        { return 24 }

func (ix *ResolvePerpBankruptcy) encode(w *layout.Writer) {
	w.U64(ix.LiabIndex)
	w.I80F48(ix.MaxLiabTransfer)
}

func (ix *ResolvePerpBankruptcy) decode(r *layout.Reader) {
	ix.LiabIndex = r.U64()
	ix.MaxLiabTransfer = r.I80F48()
}

type ResolveTokenBankruptcy struct {
	MaxLiabTransfer fmath.I80F48
}

func (*ResolveTokenBankruptcy) Discriminant() uint32       { return 31 }
func (*ResolveTokenBankruptcy) Name() string               { return "ResolveTokenBankruptcy" }
func (*ResolveTokenBankruptcy) bodySpan() int              { return 16 }
func (ix *ResolveTokenBankruptcy) encode(w *layout.Writer) { w.I80F48(ix.MaxLiabTransfer) }
func (ix *ResolveTokenBankruptcy) decode(r *layout.Reader) { ix.MaxLiabTransfer = r.I80F48() }

type CancelAllPerpOrders struct {
	Limit uint8
}

func (*CancelAllPerpOrders) Discriminant() uint32       { return 39 }
func (*CancelAllPerpOrders) Name() string               { return "CancelAllPerpOrders" }
func (*CancelAllPerpOrders) bodySpan() int              { return 1 }
func (ix *CancelAllPerpOrders) encode(w *layout.Writer) { w.U8(ix.Limit) }
func (ix *CancelAllPerpOrders) decode(r *layout.Reader) { ix.Limit = r.U8() }

type AddPerpTriggerOrder struct {
	OrderType        state.OrderType
	Side             state.Side
	TriggerCondition state.TriggerCondition
	ReduceOnly       bool
	ClientOrderID    uint64
	Quantity         int64
	TriggerPrice     fmath.I80F48
}

func (*AddPerpTriggerOrder) Discriminant() uint32 { return 43 }
func (*AddPerpTriggerOrder) Name() string         { return "AddPerpTriggerOrder" }
func (*AddPerpTriggerOrder) bodySpan() int        { return 36 }

func (ix *AddPerpTriggerOrder) encode(w *layout.Writer) {
	w.U8(uint8(ix.OrderType))
	w.U8(uint8(ix.Side))
	w.U8(uint8(ix.TriggerCondition))
	w.Bool(ix.ReduceOnly)
	w.U64(ix.ClientOrderID)
	w.I64(ix.Quantity)
	w.I80F48(ix.TriggerPrice)
}

func (ix *AddPerpTriggerOrder) decode(r *layout.Reader) {
	ix.OrderType = layout.Enum[state.OrderType](r, "OrderType")
	ix.Side = layout.Enum[state.Side](r, "Side")
	ix.TriggerCondition = layout.Enum[state.TriggerCondition](r, "TriggerCondition")
	ix.ReduceOnly = r.Bool()
	ix.ClientOrderID = r.U64()
	ix.Quantity = r.I64()
	ix.TriggerPrice = r.I80F48()
}

type RemoveAdvancedOrder struct {
	OrderIndex uint8
}

func (*RemoveAdvancedOrder) Discriminant() uint32       { return 44 }
func (*RemoveAdvancedOrder) Name() string               { return "RemoveAdvancedOrder" }
func (*RemoveAdvancedOrder) bodySpan() int              { return 1 }
func (ix *RemoveAdvancedOrder) encode(w *layout.Writer) { w.U8(ix.OrderIndex) }
func (ix *RemoveAdvancedOrder) decode(r *layout.Reader) { ix.OrderIndex = r.U8() }

type ExecutePerpTriggerOrder struct {
	OrderIndex uint8
}

func (*ExecutePerpTriggerOrder) Discriminant() uint32       { return 45 }
func (*ExecutePerpTriggerOrder) Name() string               { return "ExecutePerpTriggerOrder" }
func (*ExecutePerpTriggerOrder) bodySpan() int              { return 1 }
func (ix *ExecutePerpTriggerOrder) encode(w *layout.Writer) { w.U8(ix.OrderIndex) }
func (ix *ExecutePerpTriggerOrder) decode(r *layout.Reader) { ix.OrderIndex = r.U8() }

type UpdateMarginBasket struct{ bodiless }

func (*UpdateMarginBasket) Discriminant() uint32 { return 48 }
func (*UpdateMarginBasket) Name() string         { return "UpdateMarginBasket" }

type CloseAccount struct{ bodiless }

func (*CloseAccount) Discriminant() uint32 { return 50 }
func (*CloseAccount) Name() string         { return "CloseAccount" }

type CreateAccount struct {
	AccountNum uint64
}

func (*CreateAccount) Discriminant() uint32       { return 55 }
func (*CreateAccount) Name() string               { return "CreateAccount" }
func (*CreateAccount) bodySpan() int              { return 8 }
func (ix *CreateAccount) encode(w *layout.Writer) { w.U64(ix.AccountNum) }
func (ix *CreateAccount) decode(r *layout.Reader) { ix.AccountNum = r.U64() }

type SetDelegate struct{ bodiless }

func (*SetDelegate) Discriminant() uint32 { return 58 }
func (*SetDelegate) Name() string         { return "SetDelegate" }
