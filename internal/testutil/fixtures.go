package testutil

import (
	"math/bits"
	"sort"

	fmath "MarginMirror/internal/math"
	"MarginMirror/internal/state"

	"github.com/gagliardetto/solana-go"
)

// Key returns a deterministic non-zero public key.
func Key(seed uint8) solana.PublicKey {
	var pk solana.PublicKey
	pk[0] = seed
	pk[31] = 0xA5
	return pk
}

// Weights are maintenance and initial asset/liability weights as decimal strings.
type Weights struct {
	MaintAsset, InitAsset, MaintLiab, InitLiab string
}

var (
	SpotWeights = Weights{MaintAsset: "0.9", InitAsset: "0.8", MaintLiab: "1.1", InitLiab: "1.2"}
	PerpWeights = Weights{MaintAsset: "0.95", InitAsset: "0.9", MaintLiab: "1.05", InitLiab: "1.1"}
)

// GroupFixture builds a consistent group and cache pair. Every bank index is 1,
// so shares equal native amounts.
type GroupFixture struct {
	Group *state.Group
	Cache *state.Cache
}

// NewGroupFixture registers only the quote token.
func NewGroupFixture(quoteDecimals uint8) *GroupFixture {
	g := &state.Group{
		Address:       Key(1),
		Meta:          state.NewMeta(state.DataTypeGroup),
		Cache:         Key(2),
		ValidInterval: 10,
		MaxAccounts:   100_000,
	}
	g.Tokens[state.QuoteIndex] = state.TokenInfo{Mint: Key(3), RootBank: Key(4), Decimals: quoteDecimals}

	c := &state.Cache{Address: g.Cache, Meta: state.NewMeta(state.DataTypeCache)}
	c.RootBankCache[state.QuoteIndex] = state.RootBankCache{DepositIndex: fmath.One, BorrowIndex: fmath.One}
	return &GroupFixture{Group: g, Cache: c}
}

func (f *GroupFixture) registerOracle(i int, price string) {
	f.Group.Oracles[i] = Key(uint8(100 + i))
	if uint64(i+1) > f.Group.NumOracles {
		f.Group.NumOracles = uint64(i + 1)
	}
	f.Cache.PriceCache[i] = state.PriceCache{Price: fmath.MustFromString(price)}
}

// AddSpot registers token i with a spot market and an oracle price in native
// quote per native base.
func (f *GroupFixture) AddSpot(i int, decimals uint8, price string, w Weights) *GroupFixture {
	f.Group.Tokens[i] = state.TokenInfo{Mint: Key(uint8(10 + i)), RootBank: Key(uint8(40 + i)), Decimals: decimals}
	f.Group.SpotMarkets[i] = state.SpotMarketInfo{
		SpotMarket:       Key(uint8(70 + i)),
		MaintAssetWeight: fmath.MustFromString(w.MaintAsset),
		InitAssetWeight:  fmath.MustFromString(w.InitAsset),
		MaintLiabWeight:  fmath.MustFromString(w.MaintLiab),
		InitLiabWeight:   fmath.MustFromString(w.InitLiab),
		LiquidationFee:   fmath.MustFromString("0.05"),
	}
	f.Cache.RootBankCache[i] = state.RootBankCache{DepositIndex: fmath.One, BorrowIndex: fmath.One}
	f.registerOracle(i, price)
	return f
}

// AddPerp registers perp market i. The token slot only carries decimals unless
// AddSpot registered it too.
func (f *GroupFixture) AddPerp(i int, decimals uint8, price string, w Weights, baseLot, quoteLot int64) *GroupFixture {
	if f.Group.Tokens[i].IsEmpty() {
		f.Group.Tokens[i].Decimals = decimals
	}
	f.Group.PerpMarkets[i] = state.PerpMarketInfo{
		PerpMarket:       Key(uint8(130 + i)),
		MaintAssetWeight: fmath.MustFromString(w.MaintAsset),
		InitAssetWeight:  fmath.MustFromString(w.InitAsset),
		MaintLiabWeight:  fmath.MustFromString(w.MaintLiab),
		InitLiabWeight:   fmath.MustFromString(w.InitLiab),
		LiquidationFee:   fmath.MustFromString("0.025"),
		MakerFee:         fmath.MustFromString("-0.0004"),
		TakerFee:         fmath.MustFromString("0.0005"),
		BaseLotSize:      baseLot,
		QuoteLotSize:     quoteLot,
	}
	f.registerOracle(i, price)
	return f
}

// Account returns an empty account in the fixture's group.
func (f *GroupFixture) Account(seed uint8) *state.Account {
	return state.NewAccount(Key(seed), f.Group.Address, Key(seed+1))
}

// PerpMarket returns a perp market account matching the group's perp market i.
func (f *GroupFixture) PerpMarket(i int) *state.PerpMarket {
	info := f.Group.PerpMarkets[i]
	return &state.PerpMarket{
		Address:      info.PerpMarket,
		Meta:         state.NewMeta(state.DataTypePerpMarket),
		Group:        f.Group.Address,
		Bids:         Key(uint8(160 + i)),
		Asks:         Key(uint8(180 + i)),
		EventQueue:   Key(uint8(200 + i)),
		QuoteLotSize: info.QuoteLotSize,
		BaseLotSize:  info.BaseLotSize,
	}
}

// Deposit credits deposit shares of token i. Fixture indexes start at 1, so
// shares equal natives unless a test changes them.
func Deposit(a *state.Account, i int, native string) {
	a.Deposits[i] = fmath.MustFromString(native)
}

func Borrow(a *state.Account, i int, native string) {
	a.Borrows[i] = fmath.MustFromString(native)
}

// SingleDeposit is one native BTC unit (1e6) deposited at 47380.325, with the
// quote token at 6 decimals.
func SingleDeposit() (*GroupFixture, *state.Account) {
	f := NewGroupFixture(6).AddSpot(0, 6, "47380.325", SpotWeights)
	a := f.Account(50)
	Deposit(a, 0, "1000000")
	return f, a
}

// Leveraged is SingleDeposit plus a 200,000 quote borrow, deeply underwater.
func Leveraged() (*GroupFixture, *state.Account) {
	f, a := SingleDeposit()
	Borrow(a, state.QuoteIndex, "200000000000")
	return f, a
}

// Fractional holds a BTC deposit and an ETH borrow at bank indexes other than
// 1, plus a quote deposit. No position or weight is exact in binary.
func Fractional() (*GroupFixture, *state.Account) {
	f := NewGroupFixture(6).
		AddSpot(0, 6, "47380.325", SpotWeights).
		AddSpot(1, 6, "1650.75", SpotWeights)
	f.Cache.RootBankCache[0].DepositIndex = fmath.MustFromString("1.000123456789")
	f.Cache.RootBankCache[1].BorrowIndex = fmath.MustFromString("1.0375")
	f.Cache.RootBankCache[state.QuoteIndex].DepositIndex = fmath.MustFromString("1.0002")

	a := f.Account(54)
	Deposit(a, 0, "999999.123456789")
	Borrow(a, 1, "12500000")
	Deposit(a, state.QuoteIndex, "250000.5")
	return f, a
}

// BookOrder is a resting order for NewBookSide.
type BookOrder struct {
	Price         int64
	Quantity      int64
	Seq           uint64
	Owner         solana.PublicKey
	ClientOrderID uint64
}

// NewBookSide builds a well-formed critbit trie holding orders.
func NewBookSide(addr solana.PublicKey, side state.Side, orders ...BookOrder) *state.BookSide {
	dt := state.DataTypeBids
	if side == state.SideAsk {
		dt = state.DataTypeAsks
	}
	b := &state.BookSide{Address: addr, Meta: state.NewMeta(dt)}
	for i := range b.Nodes {
		b.Nodes[i] = state.UninitializedNode{}
	}

	leaves := make([]*state.LeafNode, len(orders))
	for i, o := range orders {
		leaves[i] = &state.LeafNode{
			OrderType:     state.OrderTypeLimit,
			Key:           state.OrderKey(side, o.Price, o.Seq),
			Owner:         o.Owner,
			Quantity:      o.Quantity,
			ClientOrderID: o.ClientOrderID,
			Timestamp:     o.Seq,
		}
	}
	sort.Slice(leaves, func(i, j int) bool {
		return leaves[i].Key.CmpUnsigned(leaves[j].Key) < 0
	})

	var next uint32
	var build func(ls []*state.LeafNode) uint32
	build = func(ls []*state.LeafNode) uint32 {
		idx := next
		next++
		if len(ls) == 1 {
			b.Nodes[idx] = ls[0]
			return idx
		}
		crit := critBit(ls[0].Key, ls[len(ls)-1].Key)
		split := sort.Search(len(ls), func(k int) bool { return bitSet(ls[k].Key, crit) })
		inner := &state.InnerNode{PrefixLen: uint32(127 - crit), Key: ls[0].Key}
		b.Nodes[idx] = inner
		inner.Children[0] = build(ls[:split])
		inner.Children[1] = build(ls[split:])
		return idx
	}
	if len(leaves) > 0 {
		b.RootNode = build(leaves)
	}
	b.BumpIndex = uint64(next)
	b.LeafCount = uint64(len(leaves))
	return b
}

func critBit(a, b fmath.Int128) int {
	if x := uint64(a.Hi) ^ uint64(b.Hi); x != 0 {
		return 64 + 63 - bits.LeadingZeros64(x)
	}
	return 63 - bits.LeadingZeros64(a.Lo^b.Lo)
}

func bitSet(k fmath.Int128, bit int) bool {
	if bit >= 64 {
		return uint64(k.Hi)>>(bit-64)&1 == 1
	}
	return k.Lo>>bit&1 == 1
}

// NewEventQueue pushes events through a ring of n slots the way the program
// does, assigning sequence numbers from zero.
func NewEventQueue(addr solana.PublicKey, n int, events ...state.Event) *state.EventQueue {
	q := &state.EventQueue{Address: addr, Meta: state.NewMeta(state.DataTypeEventQueue), Events: make([]state.Event, n)}
	for i := range q.Events {
		q.Events[i] = &state.FillEvent{}
	}
	size := uint64(n)
	for _, ev := range events {
		switch e := ev.(type) {
		case *state.FillEvent:
			e.SeqNum = q.SeqNum
		case *state.OutEvent:
			e.SeqNum = q.SeqNum
		case *state.LiquidateEvent:
			e.SeqNum = q.SeqNum
		}
		q.Events[(q.Head+q.Count)%size] = ev
		if q.Count == size {
			q.Head = (q.Head + 1) % size
		} else {
			q.Count++
		}
		q.SeqNum++
	}
	return q
}
