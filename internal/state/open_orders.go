package state

import (
	"bytes"
	"context"
	"fmt"

	"MarginMirror/internal/layout"
	fmath "MarginMirror/internal/math"

	"github.com/gagliardetto/solana-go"
)

const (
	OpenOrdersSpan    = 3228
	maxSpotOpenOrders = 128
)

var (
	spotHeadPadding = []byte("serum")
	spotTailPadding = []byte("padding")
)

// OpenOrders is the spot venue's per-market order account. Its layout belongs
// to that venue and is framed by fixed head and tail padding strings.
type OpenOrders struct {
	Address solana.PublicKey

	AccountFlags           uint64
	Market                 solana.PublicKey
	Owner                  solana.PublicKey
	BaseTokenFree          uint64
	BaseTokenTotal         uint64
	QuoteTokenFree         uint64
	QuoteTokenTotal        uint64
	FreeSlotBits           fmath.Int128
	IsBidBits              fmath.Int128
	Orders                 [maxSpotOpenOrders]fmath.Int128
	ClientIDs              [maxSpotOpenOrders]uint64
	ReferrerRebatesAccrued uint64
}

func (oo *OpenOrders) Key() solana.PublicKey { return oo.Address }
func (oo *OpenOrders) Kind() string          { return "OpenOrders" }

// IsSpotOpenOrders reports whether data carries the spot venue's head padding.
func IsSpotOpenOrders(data []byte) bool {
	return len(data) >= len(spotHeadPadding) && bytes.Equal(data[:len(spotHeadPadding)], spotHeadPadding)
}

func DecodeOpenOrders(addr solana.PublicKey, data []byte) (*OpenOrders, error) {
	oo := &OpenOrders{Address: addr}
	err := layout.DecodeExact("OpenOrders", addr, data, OpenOrdersSpan, func(r *layout.Reader) {
		if head := r.Bytes(len(spotHeadPadding)); r.Err() == nil && !bytes.Equal(head, spotHeadPadding) {
			r.Fail(fmt.Errorf("%w: head %q", ErrBadMagic, head))
		}
		oo.AccountFlags = r.U64()
		oo.Market = r.PublicKey()
		oo.Owner = r.PublicKey()
		oo.BaseTokenFree = r.U64()
		oo.BaseTokenTotal = r.U64()
		oo.QuoteTokenFree = r.U64()
		oo.QuoteTokenTotal = r.U64()
		oo.FreeSlotBits = r.U128()
		oo.IsBidBits = r.U128()
		for i := range oo.Orders {
			oo.Orders[i] = r.U128()
		}
		for i := range oo.ClientIDs {
			oo.ClientIDs[i] = r.U64()
		}
		oo.ReferrerRebatesAccrued = r.U64()
		if tail := r.Bytes(len(spotTailPadding)); r.Err() == nil && !bytes.Equal(tail, spotTailPadding) {
			r.Fail(fmt.Errorf("%w: tail %q", ErrBadMagic, tail))
		}
	})
	if err != nil {
		return nil, err
	}
	return oo, nil
}

func (oo *OpenOrders) Encode() ([]byte, error) {
	return layout.EncodeExact("OpenOrders", OpenOrdersSpan, func(w *layout.Writer) {
		w.Raw(spotHeadPadding)
		w.U64(oo.AccountFlags)
		w.PublicKey(oo.Market)
		w.PublicKey(oo.Owner)
		w.U64(oo.BaseTokenFree)
		w.U64(oo.BaseTokenTotal)
		w.U64(oo.QuoteTokenFree)
		w.U64(oo.QuoteTokenTotal)
		w.U128(oo.FreeSlotBits)
		w.U128(oo.IsBidBits)
		for _, o := range oo.Orders {
			w.U128(o)
		}
		for _, id := range oo.ClientIDs {
			w.U64(id)
		}
		w.U64(oo.ReferrerRebatesAccrued)
		w.Raw(spotTailPadding)
	})
}

func (oo *OpenOrders) Reload(ctx context.Context, f Fetcher) error {
	data, err := fetch(ctx, f, "OpenOrders", oo.Address)
	if err != nil {
		return err
	}
	fresh, err := DecodeOpenOrders(oo.Address, data)
	if err != nil {
		return err
	}
	*oo = *fresh
	return nil
}

// QuoteFree includes referrer rebates, which are withdrawable with free quote.
func (oo *OpenOrders) QuoteFree() fmath.I80F48 {
	return fmath.FromUint64(oo.QuoteTokenFree).Add(fmath.FromUint64(oo.ReferrerRebatesAccrued))
}

func (oo *OpenOrders) QuoteLocked() fmath.I80F48 {
	return fmath.FromUint64(oo.QuoteTokenTotal).Sub(fmath.FromUint64(oo.QuoteTokenFree))
}

func (oo *OpenOrders) BaseFree() fmath.I80F48 {
	return fmath.FromUint64(oo.BaseTokenFree)
}

func (oo *OpenOrders) BaseLocked() fmath.I80F48 {
	return fmath.FromUint64(oo.BaseTokenTotal).Sub(fmath.FromUint64(oo.BaseTokenFree))
}

// IsEmpty reports whether nothing is held or resting.
func (oo *OpenOrders) IsEmpty() bool {
	return oo.BaseTokenTotal == 0 && oo.QuoteTokenTotal == 0 && oo.ReferrerRebatesAccrued == 0 &&
		oo.FreeSlotBits.Hi == -1 && oo.FreeSlotBits.Lo == ^uint64(0)
}
