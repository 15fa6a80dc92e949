package state

import (
	"context"
	"fmt"

	"MarginMirror/internal/layout"
	fmath "MarginMirror/internal/math"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
)

const AccountSpan = 4296

// AccountGroupOffset is where the group key starts, for account scans.
const AccountGroupOffset = metaDataSpan

// PerpAccount is one perp position. Quantities are in lots.
type PerpAccount struct {
	BasePosition        int64
	QuotePosition       fmath.I80F48
	LongSettledFunding  fmath.I80F48
	ShortSettledFunding fmath.I80F48
	BidsQuantity        int64
	AsksQuantity        int64
	TakerBase           int64
	TakerQuote          int64
	MngoAccrued         uint64
}

func (pa *PerpAccount) decode(r *layout.Reader) {
	pa.BasePosition = r.I64()
	pa.QuotePosition = r.I80F48()
	pa.LongSettledFunding = r.I80F48()
	pa.ShortSettledFunding = r.I80F48()
	pa.BidsQuantity = r.I64()
	pa.AsksQuantity = r.I64()
	pa.TakerBase = r.I64()
	pa.TakerQuote = r.I64()
	pa.MngoAccrued = r.U64()
}

func (pa *PerpAccount) encode(w *layout.Writer) {
	w.I64(pa.BasePosition)
	w.I80F48(pa.QuotePosition)
	w.I80F48(pa.LongSettledFunding)
	w.I80F48(pa.ShortSettledFunding)
	w.I64(pa.BidsQuantity)
	w.I64(pa.AsksQuantity)
	w.I64(pa.TakerBase)
	w.I64(pa.TakerQuote)
	w.U64(pa.MngoAccrued)
}

// UnsettledFunding is the funding owed since the last settlement.
func (pa *PerpAccount) UnsettledFunding(pmc PerpMarketCache) fmath.I80F48 {
	return fmath.UnsettledFunding(pa.BasePosition, pmc.LongFunding, pmc.ShortFunding,
		pa.LongSettledFunding, pa.ShortSettledFunding)
}

// EffectiveQuote is the quote position net of unsettled funding.
func (pa *PerpAccount) EffectiveQuote(pmc PerpMarketCache) fmath.I80F48 {
	return pa.QuotePosition.Sub(pa.UnsettledFunding(pmc))
}

// PnL is the position's value in native quote at price.
func (pa *PerpAccount) PnL(info PerpMarketInfo, pmc PerpMarketCache, price fmath.I80F48) fmath.I80F48 {
	base := fmath.FromInt64(pa.BasePosition).MulInt64(info.BaseLotSize).Mul(price)
	return base.Add(pa.EffectiveQuote(pmc))
}

func (pa *PerpAccount) HasOpenOrders() bool {
	return pa.BidsQuantity != 0 || pa.AsksQuantity != 0 || pa.TakerBase != 0 || pa.TakerQuote != 0
}

func (pa *PerpAccount) IsEmpty() bool {
	return pa.BasePosition == 0 && pa.QuotePosition.IsZero() && !pa.HasOpenOrders()
}

// PerpOrder is an occupied slot of an account's perp order table.
type PerpOrder struct {
	Slot          int
	MarketIndex   int
	Side          Side
	OrderID       fmath.Int128
	ClientOrderID uint64
}

// Account is a user's margin account within a group. Balances are shares;
// the native amount is shares times the cached bank index.
type Account struct {
	Address solana.PublicKey
	Meta    MetaData

	Group             solana.PublicKey
	Owner             solana.PublicKey
	InMarginBasket    [MaxPairs]bool
	NumInMarginBasket uint8
	Deposits          [MaxTokens]fmath.I80F48
	Borrows           [MaxTokens]fmath.I80F48
	SpotOpenOrders    [MaxPairs]solana.PublicKey
	PerpAccounts      [MaxPairs]PerpAccount

	OrderMarket    [MaxPerpOpenOrders]uint8
	OrderSide      [MaxPerpOpenOrders]Side
	Orders         [MaxPerpOpenOrders]fmath.Int128
	ClientOrderIDs [MaxPerpOpenOrders]uint64

	MsrmAmount        uint64
	BeingLiquidated   bool
	IsBankrupt        bool
	Info              [32]byte
	AdvancedOrdersKey solana.PublicKey
	NotUpgradable     bool
	Delegate          solana.PublicKey

	// SpotOpenOrdersAccounts is filled by LoadOpenOrders and not part of the layout.
	SpotOpenOrdersAccounts [MaxPairs]*OpenOrders
}

func (a *Account) Key() solana.PublicKey { return a.Address }
func (a *Account) Kind() string          { return "Account" }

func DecodeAccount(addr solana.PublicKey, data []byte) (*Account, error) {
	a := &Account{Address: addr}
	if err := layout.DecodeExact("Account", addr, data, AccountSpan, a.decode); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *Account) decode(r *layout.Reader) {
	a.Meta = readMeta(r, DataTypeAccount)
	a.Group = r.PublicKey()
	a.Owner = r.PublicKey()
	for i := range a.InMarginBasket {
		a.InMarginBasket[i] = r.Bool()
	}
	a.NumInMarginBasket = r.U8()
	for i := range a.Deposits {
		a.Deposits[i] = r.I80F48()
	}
	for i := range a.Borrows {
		a.Borrows[i] = r.I80F48()
	}
	for i := range a.SpotOpenOrders {
		a.SpotOpenOrders[i] = r.PublicKey()
	}
	for i := range a.PerpAccounts {
		a.PerpAccounts[i].decode(r)
	}
	for i := range a.OrderMarket {
		a.OrderMarket[i] = r.U8()
	}
	for i := range a.OrderSide {
		a.OrderSide[i] = layout.Enum[Side](r, "Side")
	}
	for i := range a.Orders {
		a.Orders[i] = r.I128()
	}
	for i := range a.ClientOrderIDs {
		a.ClientOrderIDs[i] = r.U64()
	}
	a.MsrmAmount = r.U64()
	a.BeingLiquidated = r.Bool()
	a.IsBankrupt = r.Bool()
	copy(a.Info[:], r.Bytes(32))
	a.AdvancedOrdersKey = r.PublicKey()
	a.NotUpgradable = r.Bool()
	a.Delegate = r.PublicKey()
	r.Pad(5)
}

func (a *Account) Encode() ([]byte, error) {
	return layout.EncodeExact("Account", AccountSpan, func(w *layout.Writer) {
		writeMeta(w, a.Meta)
		w.PublicKey(a.Group)
		w.PublicKey(a.Owner)
		for _, b := range a.InMarginBasket {
			w.Bool(b)
		}
		w.U8(a.NumInMarginBasket)
		for _, d := range a.Deposits {
			w.I80F48(d)
		}
		for _, b := range a.Borrows {
			w.I80F48(b)
		}
		for _, oo := range a.SpotOpenOrders {
			w.PublicKey(oo)
		}
		for i := range a.PerpAccounts {
			a.PerpAccounts[i].encode(w)
		}
		for _, m := range a.OrderMarket {
			w.U8(m)
		}
		for _, s := range a.OrderSide {
			w.U8(uint8(s))
		}
		for _, o := range a.Orders {
			w.I128(o)
		}
		for _, id := range a.ClientOrderIDs {
			w.U64(id)
		}
		w.U64(a.MsrmAmount)
		w.Bool(a.BeingLiquidated)
		w.Bool(a.IsBankrupt)
		w.Raw(a.Info[:])
		w.PublicKey(a.AdvancedOrdersKey)
		w.Bool(a.NotUpgradable)
		w.PublicKey(a.Delegate)
		w.Pad(5)
	})
}

// Reload refetches the account. Loaded open orders are dropped.
func (a *Account) Reload(ctx context.Context, f Fetcher) error {
	data, err := fetch(ctx, f, "Account", a.Address)
	if err != nil {
		return err
	}
	fresh, err := DecodeAccount(a.Address, data)
	if err != nil {
		return err
	}
	*a = *fresh
	return nil
}

// LoadOpenOrders fetches the spot open-orders accounts of every market in the
// margin basket.
func (a *Account) LoadOpenOrders(ctx context.Context, f Fetcher) error {
	addrs := make([]solana.PublicKey, MaxPairs)
	for i := range a.SpotOpenOrders {
		if a.InMarginBasket[i] {
			addrs[i] = a.SpotOpenOrders[i]
		}
	}
	datas, err := fetchMany(ctx, f, "OpenOrders", addrs)
	if err != nil {
		return err
	}
	var loaded [MaxPairs]*OpenOrders
	for i, d := range datas {
		if addrs[i].IsZero() {
			continue
		}
		if d == nil {
			return fmt.Errorf("open orders %d of %s: %w", i, a.Address, ErrAccountMissing)
		}
		oo, err := DecodeOpenOrders(addrs[i], d)
		if err != nil {
			return err
		}
		loaded[i] = oo
	}
	a.SpotOpenOrdersAccounts = loaded
	return nil
}

func (a *Account) NativeDeposit(c *Cache, i int) fmath.I80F48 {
	return a.Deposits[i].Mul(c.RootBankCache[i].DepositIndex)
}

func (a *Account) NativeBorrow(c *Cache, i int) fmath.I80F48 {
	return a.Borrows[i].Mul(c.RootBankCache[i].BorrowIndex)
}

// NativeNet is deposits minus borrows for token i.
func (a *Account) NativeNet(c *Cache, i int) fmath.I80F48 {
	return a.NativeDeposit(c, i).Sub(a.NativeBorrow(c, i))
}

func (a *Account) UIDeposit(g *Group, c *Cache, i int) decimal.Decimal {
	return NativeToUI(a.NativeDeposit(c, i), g.Tokens[i].Decimals)
}

func (a *Account) UIBorrow(g *Group, c *Cache, i int) decimal.Decimal {
	return NativeToUI(a.NativeBorrow(c, i), g.Tokens[i].Decimals)
}

func (a *Account) UINet(g *Group, c *Cache, i int) decimal.Decimal {
	return NativeToUI(a.NativeNet(c, i), g.Tokens[i].Decimals)
}

// PerpOrders lists the occupied perp order slots.
func (a *Account) PerpOrders() []PerpOrder {
	var out []PerpOrder
	for i, m := range a.OrderMarket {
		if m == FreeOrderSlot {
			continue
		}
		out = append(out, PerpOrder{
			Slot:          i,
			MarketIndex:   int(m),
			Side:          a.OrderSide[i],
			OrderID:       a.Orders[i],
			ClientOrderID: a.ClientOrderIDs[i],
		})
	}
	return out
}

// HasSpotOpenOrders reports resting or unsettled spot state at index i.
// It needs LoadOpenOrders.
func (a *Account) HasSpotOpenOrders(i int) bool {
	oo := a.SpotOpenOrdersAccounts[i]
	return oo != nil && !oo.IsEmpty()
}

// IsEmpty reports whether the account could be closed.
func (a *Account) IsEmpty() bool {
	for i := range a.Deposits {
		if !a.Deposits[i].IsZero() || !a.Borrows[i].IsZero() {
			return false
		}
	}
	for i := range a.PerpAccounts {
		if !a.PerpAccounts[i].IsEmpty() {
			return false
		}
	}
	for _, m := range a.OrderMarket {
		if m != FreeOrderSlot {
			return false
		}
	}
	return a.NumInMarginBasket == 0
}

// NewAccount returns an initialized empty account with every order slot free.
func NewAccount(addr, group, owner solana.PublicKey) *Account {
	a := &Account{
		Address: addr,
		Meta:    NewMeta(DataTypeAccount),
		Group:   group,
		Owner:   owner,
	}
	for i := range a.OrderMarket {
		a.OrderMarket[i] = FreeOrderSlot
	}
	return a
}
