package state

import (
	"context"

	"MarginMirror/internal/layout"
	fmath "MarginMirror/internal/math"

	"github.com/gagliardetto/solana-go"
)

const CacheSpan = 1608

type PriceCache struct {
	Price      fmath.I80F48
	LastUpdate uint64
}

type RootBankCache struct {
	DepositIndex fmath.I80F48
	BorrowIndex  fmath.I80F48
	LastUpdate   uint64
}

type PerpMarketCache struct {
	LongFunding  fmath.I80F48
	ShortFunding fmath.I80F48
	LastUpdate   uint64
}

// Cache is the point-in-time price, index and funding snapshot one health
// computation reads from.
type Cache struct {
	Address solana.PublicKey
	Meta    MetaData

	PriceCache      [MaxPairs]PriceCache
	RootBankCache   [MaxTokens]RootBankCache
	PerpMarketCache [MaxPairs]PerpMarketCache
}

func (c *Cache) Key() solana.PublicKey { return c.Address }
func (c *Cache) Kind() string          { return "Cache" }

func DecodeCache(addr solana.PublicKey, data []byte) (*Cache, error) {
	c := &Cache{Address: addr}
	err := layout.DecodeExact("Cache", addr, data, CacheSpan, func(r *layout.Reader) {
		c.Meta = readMeta(r, DataTypeCache)
		for i := range c.PriceCache {
			c.PriceCache[i].Price = r.I80F48()
			c.PriceCache[i].LastUpdate = r.U64()
		}
		for i := range c.RootBankCache {
			c.RootBankCache[i].DepositIndex = r.I80F48()
			c.RootBankCache[i].BorrowIndex = r.I80F48()
			c.RootBankCache[i].LastUpdate = r.U64()
		}
		for i := range c.PerpMarketCache {
			c.PerpMarketCache[i].LongFunding = r.I80F48()
			c.PerpMarketCache[i].ShortFunding = r.I80F48()
			c.PerpMarketCache[i].LastUpdate = r.U64()
		}
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Cache) Encode() ([]byte, error) {
	return layout.EncodeExact("Cache", CacheSpan, func(w *layout.Writer) {
		writeMeta(w, c.Meta)
		for _, p := range c.PriceCache {
			w.I80F48(p.Price)
			w.U64(p.LastUpdate)
		}
		for _, b := range c.RootBankCache {
			w.I80F48(b.DepositIndex)
			w.I80F48(b.BorrowIndex)
			w.U64(b.LastUpdate)
		}
		for _, p := range c.PerpMarketCache {
			w.I80F48(p.LongFunding)
			w.I80F48(p.ShortFunding)
			w.U64(p.LastUpdate)
		}
	})
}

func (c *Cache) Reload(ctx context.Context, f Fetcher) error {
	data, err := fetch(ctx, f, "Cache", c.Address)
	if err != nil {
		return err
	}
	fresh, err := DecodeCache(c.Address, data)
	if err != nil {
		return err
	}
	*c = *fresh
	return nil
}

// Price returns the oracle price at index i in native quote per native base.
// The quote token is priced at exactly 1.
func (c *Cache) Price(i int) fmath.I80F48 {
	if i == QuoteIndex {
		return fmath.One
	}
	return c.PriceCache[i].Price
}

// CheckValid reports the first cache entry used by the group that is older
// than the group's valid interval at unix time now.
func (c *Cache) CheckValid(g *Group, now uint64) error {
	age := func(last uint64) uint64 {
		if now <= last {
			return 0
		}
		return now - last
	}
	for i := 0; i < g.MarketCount(); i++ {
		if a := age(c.PriceCache[i].LastUpdate); a > g.ValidInterval {
			return &StaleError{Kind: "price", Index: i, Age: a}
		}
	}
	for i, t := range g.Tokens {
		if t.IsEmpty() {
			continue
		}
		if a := age(c.RootBankCache[i].LastUpdate); a > g.ValidInterval {
			return &StaleError{Kind: "root bank", Index: i, Age: a}
		}
	}
	for i, p := range g.PerpMarkets {
		if p.IsEmpty() {
			continue
		}
		if a := age(c.PerpMarketCache[i].LastUpdate); a > g.ValidInterval {
			return &StaleError{Kind: "perp market", Index: i, Age: a}
		}
	}
	return nil
}
