package state

import (
	"context"
	"fmt"

	"MarginMirror/internal/layout"
	fmath "MarginMirror/internal/math"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
)

const PerpMarketSpan = 320

// LiquidityMiningInfo is a perp market's reward emission schedule.
type LiquidityMiningInfo struct {
	Rate               fmath.I80F48
	MaxDepthBps        fmath.I80F48
	PeriodStart        uint64
	TargetPeriodLength uint64
	MngoLeft           uint64
	MngoPerPeriod      uint64
}

type PerpMarket struct {
	Address solana.PublicKey
	Meta    MetaData

	Group        solana.PublicKey
	Bids         solana.PublicKey
	Asks         solana.PublicKey
	EventQueue   solana.PublicKey
	QuoteLotSize int64
	BaseLotSize  int64
	LongFunding  fmath.I80F48
	ShortFunding fmath.I80F48
	OpenInterest int64
	LastUpdated  uint64
	SeqNum       uint64
	FeesAccrued  fmath.I80F48

	LiquidityMining LiquidityMiningInfo
	MngoVault       solana.PublicKey
}

func (pm *PerpMarket) Key() solana.PublicKey { return pm.Address }
func (pm *PerpMarket) Kind() string          { return "PerpMarket" }

func DecodePerpMarket(addr solana.PublicKey, data []byte) (*PerpMarket, error) {
	pm := &PerpMarket{Address: addr}
	err := layout.DecodeExact("PerpMarket", addr, data, PerpMarketSpan, func(r *layout.Reader) {
		pm.Meta = readMeta(r, DataTypePerpMarket)
		pm.Group = r.PublicKey()
		pm.Bids = r.PublicKey()
		pm.Asks = r.PublicKey()
		pm.EventQueue = r.PublicKey()
		pm.QuoteLotSize = r.I64()
		pm.BaseLotSize = r.I64()
		pm.LongFunding = r.I80F48()
		pm.ShortFunding = r.I80F48()
		pm.OpenInterest = r.I64()
		pm.LastUpdated = r.U64()
		pm.SeqNum = r.U64()
		pm.FeesAccrued = r.I80F48()
		lm := &pm.LiquidityMining
		lm.Rate = r.I80F48()
		lm.MaxDepthBps = r.I80F48()
		lm.PeriodStart = r.U64()
		lm.TargetPeriodLength = r.U64()
		lm.MngoLeft = r.U64()
		lm.MngoPerPeriod = r.U64()
		pm.MngoVault = r.PublicKey()
	})
	if err != nil {
		return nil, err
	}
	return pm, nil
}

func (pm *PerpMarket) Encode() ([]byte, error) {
	return layout.EncodeExact("PerpMarket", PerpMarketSpan, func(w *layout.Writer) {
		writeMeta(w, pm.Meta)
		w.PublicKey(pm.Group)
		w.PublicKey(pm.Bids)
		w.PublicKey(pm.Asks)
		w.PublicKey(pm.EventQueue)
		w.I64(pm.QuoteLotSize)
		w.I64(pm.BaseLotSize)
		w.I80F48(pm.LongFunding)
		w.I80F48(pm.ShortFunding)
		w.I64(pm.OpenInterest)
		w.U64(pm.LastUpdated)
		w.U64(pm.SeqNum)
		w.I80F48(pm.FeesAccrued)
		lm := pm.LiquidityMining
		w.I80F48(lm.Rate)
		w.I80F48(lm.MaxDepthBps)
		w.U64(lm.PeriodStart)
		w.U64(lm.TargetPeriodLength)
		w.U64(lm.MngoLeft)
		w.U64(lm.MngoPerPeriod)
		w.PublicKey(pm.MngoVault)
	})
}

func (pm *PerpMarket) Reload(ctx context.Context, f Fetcher) error {
	data, err := fetch(ctx, f, "PerpMarket", pm.Address)
	if err != nil {
		return err
	}
	fresh, err := DecodePerpMarket(pm.Address, data)
	if err != nil {
		return err
	}
	*pm = *fresh
	return nil
}

// PriceLotsToNative converts a book price in lots to native quote per native base.
func (pm *PerpMarket) PriceLotsToNative(price int64) (fmath.I80F48, error) {
	return fmath.FromInt64(price).MulInt64(pm.QuoteLotSize).Div(fmath.FromInt64(pm.BaseLotSize))
}

// BaseLotsToNative converts a base quantity in lots to native base units.
func (pm *PerpMarket) BaseLotsToNative(qty int64) fmath.I80F48 {
	return fmath.FromInt64(qty).MulInt64(pm.BaseLotSize)
}

// PriceLotsToUI converts a book price to a UI price.
func (pm *PerpMarket) PriceLotsToUI(price int64, baseDecimals, quoteDecimals uint8) decimal.Decimal {
	native := decimal.New(price, 0).Mul(decimal.New(pm.QuoteLotSize, 0)).Div(decimal.New(pm.BaseLotSize, 0))
	return native.Shift(int32(baseDecimals) - int32(quoteDecimals))
}

// UIPriceToLots converts a UI price to a book price, truncating.
func (pm *PerpMarket) UIPriceToLots(price decimal.Decimal, baseDecimals, quoteDecimals uint8) int64 {
	native := price.Shift(int32(quoteDecimals) - int32(baseDecimals))
	return native.Mul(decimal.New(pm.BaseLotSize, 0)).Div(decimal.New(pm.QuoteLotSize, 0)).IntPart()
}

func (pm *PerpMarket) BaseLotsToUI(qty int64, baseDecimals uint8) decimal.Decimal {
	return decimal.New(qty, 0).Mul(decimal.New(pm.BaseLotSize, 0)).Shift(-int32(baseDecimals))
}

func (pm *PerpMarket) UIBaseToLots(qty decimal.Decimal, baseDecimals uint8) int64 {
	return qty.Shift(int32(baseDecimals)).Div(decimal.New(pm.BaseLotSize, 0)).IntPart()
}

// LoadBook fetches both book sides.
func (pm *PerpMarket) LoadBook(ctx context.Context, f Fetcher) (*Book, error) {
	datas, err := fetchMany(ctx, f, "BookSide", []solana.PublicKey{pm.Bids, pm.Asks})
	if err != nil {
		return nil, err
	}
	if datas[0] == nil || datas[1] == nil {
		return nil, fmt.Errorf("book of %s: %w", pm.Address, ErrAccountMissing)
	}
	bids, err := DecodeBookSide(pm.Bids, datas[0])
	if err != nil {
		return nil, err
	}
	asks, err := DecodeBookSide(pm.Asks, datas[1])
	if err != nil {
		return nil, err
	}
	return &Book{Market: pm, Bids: bids, Asks: asks}, nil
}

func (pm *PerpMarket) LoadEventQueue(ctx context.Context, f Fetcher) (*EventQueue, error) {
	data, err := fetch(ctx, f, "EventQueue", pm.EventQueue)
	if err != nil {
		return nil, err
	}
	return DecodeEventQueue(pm.EventQueue, data)
}

// UpdateFunding applies the funding accrued since LastUpdated the way the
// program's UpdateFunding does, sampling the book at impactQty lots.
func (pm *PerpMarket) UpdateFunding(book *Book, indexPrice fmath.I80F48, impactQty int64, now uint64) (err error) {
	defer fmath.Recover(&err)

	if now <= pm.LastUpdated {
		return nil
	}
	var bid, ask *fmath.I80F48
	if p, ok := book.Bids.ImpactPrice(impactQty); ok {
		n, err := pm.averageLotsToNative(p)
		if err != nil {
			return err
		}
		bid = &n
	}
	if p, ok := book.Asks.ImpactPrice(impactQty); ok {
		n, err := pm.averageLotsToNative(p)
		if err != nil {
			return err
		}
		ask = &n
	}
	delta, err := fmath.FundingDelta(indexPrice, bid, ask, pm.BaseLotSize, int64(now-pm.LastUpdated))
	if err != nil {
		return err
	}
	pm.LongFunding = pm.LongFunding.Add(delta)
	pm.ShortFunding = pm.ShortFunding.Add(delta)
	pm.LastUpdated = now
	return nil
}

func (pm *PerpMarket) averageLotsToNative(price fmath.I80F48) (fmath.I80F48, error) {
	return price.MulInt64(pm.QuoteLotSize).Div(fmath.FromInt64(pm.BaseLotSize))
}
