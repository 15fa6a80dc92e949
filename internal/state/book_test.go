package state_test

import (
	"math/rand"
	"slices"
	"testing"

	fmath "MarginMirror/internal/math"
	"MarginMirror/internal/state"
	"MarginMirror/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bookOrders() []testutil.BookOrder {
	owner := testutil.Key(240)
	return []testutil.BookOrder{
		{Price: 100, Quantity: 5, Seq: 1, Owner: owner},
		{Price: 101, Quantity: 2, Seq: 2, Owner: testutil.Key(241)},
		{Price: 100, Quantity: 3, Seq: 3, Owner: owner},
		{Price: 99, Quantity: 10, Seq: 4, Owner: testutil.Key(242)},
		{Price: 102, Quantity: 1, Seq: 5, Owner: owner},
	}
}

func prices(b *state.BookSide) []int64 {
	var out []int64
	for leaf := range b.Leaves() {
		out = append(out, leaf.Price())
	}
	return out
}

func TestBookSide_AsksAscending(t *testing.T) {
	asks := testutil.NewBookSide(testutil.Key(230), state.SideAsk, bookOrders()...)

	assert.Equal(t, []int64{99, 100, 100, 101, 102}, prices(asks))

	best, ok := asks.Best()
	require.True(t, ok)
	assert.Equal(t, int64(99), best.Price())

	// time priority at equal price
	var seqs []uint64
	for leaf := range asks.Leaves() {
		if leaf.Price() == 100 {
			seqs = append(seqs, leaf.Key.Lo)
		}
	}
	assert.Equal(t, []uint64{1, 3}, seqs)
}

func TestBookSide_BidsDescending(t *testing.T) {
	bids := testutil.NewBookSide(testutil.Key(231), state.SideBid, bookOrders()...)

	assert.Equal(t, []int64{102, 101, 100, 100, 99}, prices(bids))

	best, ok := bids.Best()
	require.True(t, ok)
	assert.Equal(t, int64(102), best.Price())

	var stamps []uint64
	for leaf := range bids.Leaves() {
		if leaf.Price() == 100 {
			stamps = append(stamps, leaf.Timestamp)
		}
	}
	assert.Equal(t, []uint64{1, 3}, stamps, "earlier bid first at equal price")
}

func TestBookSide_RoundTrip(t *testing.T) {
	bids := testutil.NewBookSide(testutil.Key(231), state.SideBid, bookOrders()...)
	got, err := state.DecodeBookSide(bids.Address, encode(t, bids))
	require.NoError(t, err)
	assert.Equal(t, bids, got)
	assert.Equal(t, state.SideBid, got.Side())
}

func TestBookSide_Empty(t *testing.T) {
	asks := testutil.NewBookSide(testutil.Key(230), state.SideAsk)
	_, ok := asks.Best()
	assert.False(t, ok)
	_, ok = asks.ImpactPrice(1)
	assert.False(t, ok)
	assert.Empty(t, asks.Levels(5))
}

func TestBookSide_ImpactPrice(t *testing.T) {
	asks := testutil.NewBookSide(testutil.Key(230), state.SideAsk, bookOrders()...)

	p, ok := asks.ImpactPrice(10)
	require.True(t, ok)
	assert.Equal(t, "99", p.String())

	// 10@99 + 5@100 = 1490 over 15
	p, ok = asks.ImpactPrice(15)
	require.True(t, ok)
	want, _ := fmath.FromInt64(1490).Div(fmath.FromInt64(15))
	assert.Equal(t, want, p)

	_, ok = asks.ImpactPrice(22)
	assert.False(t, ok, "only 21 lots rest on the book")
}

func TestBookSide_Levels(t *testing.T) {
	asks := testutil.NewBookSide(testutil.Key(230), state.SideAsk, bookOrders()...)
	levels := asks.Levels(3)
	assert.Equal(t, []state.Level{
		{Price: 99, Quantity: 10, Orders: 1},
		{Price: 100, Quantity: 8, Orders: 2},
		{Price: 101, Quantity: 2, Orders: 1},
	}, levels)
}

func TestBook_SpreadAndOwnerOrders(t *testing.T) {
	all := bookOrders()
	book := &state.Book{
		Bids: testutil.NewBookSide(testutil.Key(231), state.SideBid, all[3]),
		Asks: testutil.NewBookSide(testutil.Key(230), state.SideAsk, all[0], all[1], all[2], all[4]),
	}
	spread, ok := book.Spread()
	require.True(t, ok)
	assert.Equal(t, int64(1), spread)
	assert.Len(t, book.OrdersOf(testutil.Key(240)), 3)
}

// Ordering by key must match (price, sequence) lexicographic ordering on both sides.
func TestOrderKey_TotalOrder(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	type po struct {
		price int64
		seq   uint64
	}
	items := make([]po, 200)
	for i := range items {
		items[i] = po{price: rng.Int63n(50) + 1, seq: uint64(i)}
	}

	asks := slices.Clone(items)
	slices.SortFunc(asks, func(a, b po) int {
		return state.OrderKey(state.SideAsk, a.price, a.seq).Cmp(state.OrderKey(state.SideAsk, b.price, b.seq))
	})
	for i := 1; i < len(asks); i++ {
		a, b := asks[i-1], asks[i]
		if a.price > b.price || (a.price == b.price && a.seq >= b.seq) {
			t.Fatalf("ask keys out of price-time order at %d: %+v before %+v", i, a, b)
		}
	}

	bids := slices.Clone(items)
	slices.SortFunc(bids, func(a, b po) int {
		// best bid has the highest key
		return state.OrderKey(state.SideBid, b.price, b.seq).Cmp(state.OrderKey(state.SideBid, a.price, a.seq))
	})
	for i := 1; i < len(bids); i++ {
		a, b := bids[i-1], bids[i]
		if a.price < b.price || (a.price == b.price && a.seq >= b.seq) {
			t.Fatalf("bid keys out of price-time order at %d: %+v before %+v", i, a, b)
		}
	}
}
