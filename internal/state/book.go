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
	BookSideSpan     = 90152
	bookSideHeader   = 40
	bookNodeSpan     = 88
	bookNodeBodySpan = bookNodeSpan - 4
)

type NodeTag uint32

const (
	NodeTagUninitialized NodeTag = iota
	NodeTagInner
	NodeTagLeaf
	NodeTagFree
	NodeTagLastFree
)

// Node is one slot of a book side's node pool. The set of variants is closed.
type Node interface {
	Tag() NodeTag
}

type UninitializedNode struct{}

// InnerNode splits on the bit after the first PrefixLen bits of Key.
type InnerNode struct {
	PrefixLen uint32
	Key       fmath.Int128
	Children  [2]uint32
}

// LeafNode is a resting order. The high 64 bits of Key are the price in lots;
// the low 64 bits are the sequence number, bit-inverted on the bid side so that
// earlier bids sort higher.
type LeafNode struct {
	OwnerSlot     uint8
	OrderType     OrderType
	Version       uint8
	TimeInForce   uint8
	Key           fmath.Int128
	Owner         solana.PublicKey
	Quantity      int64
	ClientOrderID uint64
	BestInitial   uint64
	Timestamp     uint64
}

type FreeNode struct {
	Next uint32
}

type LastFreeNode struct{}

func (UninitializedNode) Tag() NodeTag { return NodeTagUninitialized }
func (*InnerNode) Tag() NodeTag        { return NodeTagInner }
func (*LeafNode) Tag() NodeTag         { return NodeTagLeaf }
func (*FreeNode) Tag() NodeTag         { return NodeTagFree }
func (LastFreeNode) Tag() NodeTag      { return NodeTagLastFree }

// Price is the order's price in lots.
func (l *LeafNode) Price() int64 { return l.Key.Hi }

// OrderKey builds a book key from a price in lots and a sequence number.
func OrderKey(side Side, price int64, seq uint64) fmath.Int128 {
	if side == SideBid {
		seq = ^seq
	}
	return fmath.Int128{Hi: price, Lo: seq}
}

func decodeNode(r *layout.Reader) Node {
	tag := NodeTag(r.U32())
	var n Node
	r.Region(bookNodeBodySpan, func(r *layout.Reader) {
		switch tag {
		case NodeTagUninitialized:
			n = UninitializedNode{}
		case NodeTagInner:
			in := &InnerNode{}
			in.PrefixLen = r.U32()
			in.Key = r.I128()
			in.Children[0] = r.U32()
			in.Children[1] = r.U32()
			n = in
		case NodeTagLeaf:
			l := &LeafNode{}
			l.OwnerSlot = r.U8()
			l.OrderType = layout.Enum[OrderType](r, "OrderType")
			l.Version = r.U8()
			l.TimeInForce = r.U8()
			l.Key = r.I128()
			l.Owner = r.PublicKey()
			l.Quantity = r.I64()
			l.ClientOrderID = r.U64()
			l.BestInitial = r.U64()
			l.Timestamp = r.U64()
			n = l
		case NodeTagFree:
			n = &FreeNode{Next: r.U32()}
		case NodeTagLastFree:
			n = LastFreeNode{}
		default:
			r.Fail(fmt.Errorf("%w: node tag %d", layout.ErrUnknownDiscriminant, tag))
		}
	})
	return n
}

func encodeNode(w *layout.Writer, n Node) {
	if n == nil {
		n = UninitializedNode{}
	}
	w.U32(uint32(n.Tag()))
	w.Region(bookNodeBodySpan, func(w *layout.Writer) {
		switch v := n.(type) {
		case *InnerNode:
			w.U32(v.PrefixLen)
			w.I128(v.Key)
			w.U32(v.Children[0])
			w.U32(v.Children[1])
		case *LeafNode:
			w.U8(v.OwnerSlot)
			w.U8(uint8(v.OrderType))
			w.U8(v.Version)
			w.U8(v.TimeInForce)
			w.I128(v.Key)
			w.PublicKey(v.Owner)
			w.I64(v.Quantity)
			w.U64(v.ClientOrderID)
			w.U64(v.BestInitial)
			w.U64(v.Timestamp)
		case *FreeNode:
			w.U32(v.Next)
		}
	})
}

// BookSide is one side of a perp order book: a critbit trie over a fixed pool.
type BookSide struct {
	Address solana.PublicKey
	Meta    MetaData

	BumpIndex    uint64
	FreeListLen  uint64
	FreeListHead uint32
	RootNode     uint32
	LeafCount    uint64
	Nodes        [MaxBookNodes]Node
}

func (b *BookSide) Key() solana.PublicKey { return b.Address }
func (b *BookSide) Kind() string          { return "BookSide" }

// Side is derived from the data type of the header.
func (b *BookSide) Side() Side {
	if b.Meta.DataType == DataTypeAsks {
		return SideAsk
	}
	return SideBid
}

// DecodeBookSide decodes either book side; the header data type tells them apart.
func DecodeBookSide(addr solana.PublicKey, data []byte) (*BookSide, error) {
	b := &BookSide{Address: addr}
	err := layout.DecodeExact("BookSide", addr, data, BookSideSpan, func(r *layout.Reader) {
		b.Meta = readMeta(r, DataTypeBids, DataTypeAsks)
		b.BumpIndex = r.U64()
		b.FreeListLen = r.U64()
		b.FreeListHead = r.U32()
		b.RootNode = r.U32()
		b.LeafCount = r.U64()
		for i := range b.Nodes {
			b.Nodes[i] = decodeNode(r)
		}
	})
	if err != nil {
		return nil, err
	}
	return b, nil
}

func (b *BookSide) Encode() ([]byte, error) {
	return layout.EncodeExact("BookSide", BookSideSpan, func(w *layout.Writer) {
		writeMeta(w, b.Meta)
		w.U64(b.BumpIndex)
		w.U64(b.FreeListLen)
		w.U32(b.FreeListHead)
		w.U32(b.RootNode)
		w.U64(b.LeafCount)
		for _, n := range b.Nodes {
			encodeNode(w, n)
		}
	})
}

func (b *BookSide) Reload(ctx context.Context, f Fetcher) error {
	data, err := fetch(ctx, f, "BookSide", b.Address)
	if err != nil {
		return err
	}
	fresh, err := DecodeBookSide(b.Address, data)
	if err != nil {
		return err
	}
	*b = *fresh
	return nil
}

func (b *BookSide) node(i uint32) Node {
	if int(i) >= len(b.Nodes) {
		return nil
	}
	return b.Nodes[i]
}

// Best walks from the root toward the best price: the right child on the bid
// side, the left child on the ask side.
func (b *BookSide) Best() (*LeafNode, bool) {
	if b.LeafCount == 0 {
		return nil, false
	}
	dir := 0
	if b.Side() == SideBid {
		dir = 1
	}
	n := b.node(b.RootNode)
	for steps := 0; steps < len(b.Nodes); steps++ {
		switch v := n.(type) {
		case *LeafNode:
			return v, true
		case *InnerNode:
			n = b.node(v.Children[dir])
		default:
			return nil, false
		}
	}
	return nil, false
}

// Leaves yields resting orders in price-time priority: descending key for bids,
// ascending for asks. The sequence is restartable and visits each pool slot at
// most once.
func (b *BookSide) Leaves() iter.Seq[*LeafNode] {
	return func(yield func(*LeafNode) bool) {
		if b.LeafCount == 0 {
			return
		}
		first, second := 0, 1
		if b.Side() == SideBid {
			first, second = 1, 0
		}
		stack := []uint32{b.RootNode}
		visited := 0
		for len(stack) > 0 && visited <= len(b.Nodes) {
			i := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			visited++
			switch v := b.node(i).(type) {
			case *LeafNode:
				if !yield(v) {
					return
				}
			case *InnerNode:
				stack = append(stack, v.Children[second], v.Children[first])
			}
		}
	}
}

// ImpactPrice walks the book until qty lots are filled and returns the
// volume-weighted average price in lots. ok is false when depth is insufficient.
func (b *BookSide) ImpactPrice(qty int64) (fmath.I80F48, bool) {
	if qty <= 0 {
		return fmath.Zero, false
	}
	remaining := qty
	notional := fmath.Zero
	for leaf := range b.Leaves() {
		take := min(leaf.Quantity, remaining)
		notional = notional.Add(fmath.FromInt64(leaf.Price()).MulInt64(take))
		remaining -= take
		if remaining == 0 {
			avg, err := notional.Div(fmath.FromInt64(qty))
			if err != nil {
				return fmath.Zero, false
			}
			return avg, true
		}
	}
	return fmath.Zero, false
}

// Level is the aggregate quantity resting at one price.
type Level struct {
	Price    int64
	Quantity int64
	Orders   int
}

// Levels aggregates the first depth price levels.
func (b *BookSide) Levels(depth int) []Level {
	var out []Level
	for leaf := range b.Leaves() {
		if n := len(out); n > 0 && out[n-1].Price == leaf.Price() {
			out[n-1].Quantity += leaf.Quantity
			out[n-1].Orders++
			continue
		}
		if len(out) == depth {
			break
		}
		out = append(out, Level{Price: leaf.Price(), Quantity: leaf.Quantity, Orders: 1})
	}
	return out
}

// Book pairs both sides of a perp market.
type Book struct {
	Market *PerpMarket
	Bids   *BookSide
	Asks   *BookSide
}

func (bk *Book) BestBid() (*LeafNode, bool) { return bk.Bids.Best() }
func (bk *Book) BestAsk() (*LeafNode, bool) { return bk.Asks.Best() }

// Spread is best ask minus best bid in lots; ok is false if either side is empty.
func (bk *Book) Spread() (int64, bool) {
	bid, okBid := bk.BestBid()
	ask, okAsk := bk.BestAsk()
	if !okBid || !okAsk {
		return 0, false
	}
	return ask.Price() - bid.Price(), true
}

// OrdersOf yields the resting orders of owner on both sides.
func (bk *Book) OrdersOf(owner solana.PublicKey) []*LeafNode {
	var out []*LeafNode
	for _, side := range []*BookSide{bk.Bids, bk.Asks} {
		for leaf := range side.Leaves() {
			if leaf.Owner.Equals(owner) {
				out = append(out, leaf)
			}
		}
	}
	return out
}
