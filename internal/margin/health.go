// Package margin computes health, leverage and liquidation eligibility of an
// account from a decoded group, cache and account snapshot. Every function is
// pure; callers load open orders and caches beforehand.
package margin

import (
	"fmt"

	fmath "MarginMirror/internal/math"
	"MarginMirror/internal/state"
)

// HealthType selects the weights applied to positions.
type HealthType int

const (
	// HealthTypeNone values positions with all weights at 1.
	HealthTypeNone HealthType = iota
	HealthTypeInit
	HealthTypeMaint
)

func (h HealthType) String() string {
	switch h {
	case HealthTypeInit:
		return "Init"
	case HealthTypeMaint:
		return "Maint"
	default:
		return "None"
	}
}

// Components are the worst-case spot and perp base positions per market index,
// in native base units, and the quote bucket those resolutions imply.
type Components struct {
	Spot  [state.MaxPairs]fmath.I80F48
	Perps [state.MaxPairs]fmath.I80F48
	Quote fmath.I80F48
}

// ComputeHealthComponents resolves resting spot and perp orders against the
// adverse side. Accounts with an open-orders reference in the margin basket must
// have it loaded.
func ComputeHealthComponents(g *state.Group, a *state.Account, c *state.Cache) (comp *Components, err error) {
	defer fmath.Recover(&err)

	comp = &Components{Quote: a.NativeNet(c, state.QuoteIndex)}
	for i := 0; i < g.MarketCount(); i++ {
		price := c.Price(i)
		net := a.NativeNet(c, i)

		if a.InMarginBasket[i] && !a.SpotOpenOrders[i].IsZero() {
			oo := a.SpotOpenOrdersAccounts[i]
			if oo == nil {
				return nil, fmt.Errorf("open orders %d of %s: %w", i, a.Address, state.ErrNotLoaded)
			}
			quoteFree, quoteLocked := oo.QuoteFree(), oo.QuoteLocked()
			baseFree, baseLocked := oo.BaseFree(), oo.BaseLocked()

			lockedAsBase, err := quoteLocked.Div(price)
			if err != nil {
				return nil, fmt.Errorf("spot market %d price: %w", i, err)
			}
			bidsNet := net.Add(lockedAsBase).Add(baseFree).Add(baseLocked)
			asksNet := net.Add(baseFree)

			if bidsNet.Abs().Gt(asksNet.Abs()) {
				comp.Spot[i] = bidsNet
				comp.Quote = comp.Quote.Add(quoteFree)
			} else {
				comp.Spot[i] = asksNet
				comp.Quote = comp.Quote.Add(baseLocked.Mul(price)).Add(quoteFree).Add(quoteLocked)
			}
		} else {
			comp.Spot[i] = net
		}

		info := g.PerpMarkets[i]
		if info.IsEmpty() {
			continue
		}
		pa := &a.PerpAccounts[i]
		takerQuote := fmath.FromInt64(pa.TakerQuote).MulInt64(info.QuoteLotSize)
		basePos := fmath.FromInt64(pa.BasePosition + pa.TakerBase).MulInt64(info.BaseLotSize)
		bidsQty := fmath.FromInt64(pa.BidsQuantity).MulInt64(info.BaseLotSize)
		asksQty := fmath.FromInt64(pa.AsksQuantity).MulInt64(info.BaseLotSize)

		bidsNet := basePos.Add(bidsQty)
		asksNet := basePos.Sub(asksQty)
		quotePos := pa.EffectiveQuote(c.PerpMarketCache[i]).Add(takerQuote)

		if bidsNet.Abs().Gt(asksNet.Abs()) {
			comp.Quote = comp.Quote.Add(quotePos.Sub(bidsQty.Mul(price)))
			comp.Perps[i] = bidsNet
		} else {
			comp.Quote = comp.Quote.Add(quotePos.Add(asksQty.Mul(price)))
			comp.Perps[i] = asksNet
		}
	}
	return comp, nil
}

type weights struct {
	spotAsset, spotLiab fmath.I80F48
	perpAsset, perpLiab fmath.I80F48
}

func weightsFor(g *state.Group, i int, ht HealthType) weights {
	spot, perp := g.SpotMarkets[i], g.PerpMarkets[i]
	switch ht {
	case HealthTypeInit:
		return weights{spot.InitAssetWeight, spot.InitLiabWeight, perp.InitAssetWeight, perp.InitLiabWeight}
	case HealthTypeMaint:
		return weights{spot.MaintAssetWeight, spot.MaintLiabWeight, perp.MaintAssetWeight, perp.MaintLiabWeight}
	default:
		return weights{fmath.One, fmath.One, fmath.One, fmath.One}
	}
}

func weigh(pos, asset, liab fmath.I80F48) fmath.I80F48 {
	if pos.IsPos() {
		return pos.Mul(asset)
	}
	return pos.Mul(liab)
}

// valueOf prices pos first and weighs the product second; each Mul floors, so
// the order is part of the result.
func valueOf(pos, price, asset, liab fmath.I80F48) fmath.I80F48 {
	v := pos.Mul(price)
	if pos.IsPos() {
		return v.Mul(asset)
	}
	return v.Mul(liab)
}

// Health is quote plus every spot and perp position valued at the oracle price
// and weighted by asset or liability weight depending on its sign.
func (comp *Components) Health(g *state.Group, c *state.Cache, ht HealthType) fmath.I80F48 {
	health := comp.Quote
	for i := 0; i < g.MarketCount(); i++ {
		w := weightsFor(g, i, ht)
		price := c.Price(i)
		health = health.
			Add(valueOf(comp.Spot[i], price, w.spotAsset, w.spotLiab)).
			Add(valueOf(comp.Perps[i], price, w.perpAsset, w.perpLiab))
	}
	return health
}

// AssetsLiabs splits weighted health into positive and negative parts; both
// are returned non-negative. Short positions are negated before they are
// priced.
func (comp *Components) AssetsLiabs(g *state.Group, c *state.Cache, ht HealthType) (assets, liabs fmath.I80F48) {
	assets, liabs = fmath.Zero, fmath.Zero
	add := func(pos, price, assetW, liabW fmath.I80F48) {
		switch {
		case pos.IsPos():
			assets = assets.Add(pos.Mul(price).Mul(assetW))
		case pos.IsNeg():
			liabs = liabs.Add(pos.Neg().Mul(price).Mul(liabW))
		}
	}
	for i := 0; i < g.MarketCount(); i++ {
		w := weightsFor(g, i, ht)
		price := c.Price(i)
		add(comp.Spot[i], price, w.spotAsset, w.spotLiab)
		add(comp.Perps[i], price, w.perpAsset, w.perpLiab)
	}
	add(comp.Quote, fmath.One, fmath.One, fmath.One)
	return assets, liabs
}

// HealthRatio is 100 when there are no liabilities, else (assets/liabs - 1) * 100.
func (comp *Components) HealthRatio(g *state.Group, c *state.Cache, ht HealthType) (fmath.I80F48, error) {
	assets, liabs := comp.AssetsLiabs(g, c, ht)
	if !liabs.IsPos() {
		return fmath.Hundred, nil
	}
	r, err := assets.Div(liabs)
	if err != nil {
		return fmath.Zero, err
	}
	return r.Sub(fmath.One).Mul(fmath.Hundred), nil
}

// Leverage is liabs / (assets - liabs) on unweighted values, 0 when assets <= 0.
func (comp *Components) Leverage(g *state.Group, c *state.Cache) (fmath.I80F48, error) {
	assets, liabs := comp.AssetsLiabs(g, c, HealthTypeNone)
	if !assets.IsPos() {
		return fmath.Zero, nil
	}
	return liabs.Div(assets.Sub(liabs))
}

// LiquidationPrice returns the oracle price of market i, in native units, at
// which maintenance health reaches zero with all other prices unchanged. ok is
// false when the account has no exposure at i or the price would be negative.
func (comp *Components) LiquidationPrice(g *state.Group, c *state.Cache, market int) (price fmath.I80F48, ok bool, err error) {
	partial := comp.Quote
	exposure := fmath.Zero
	for i := 0; i < g.MarketCount(); i++ {
		w := weightsFor(g, i, HealthTypeMaint)
		if i == market {
			exposure = weigh(comp.Spot[i], w.spotAsset, w.spotLiab).
				Add(weigh(comp.Perps[i], w.perpAsset, w.perpLiab)).
				Neg()
			continue
		}
		p := c.Price(i)
		partial = partial.
			Add(valueOf(comp.Spot[i], p, w.spotAsset, w.spotLiab)).
			Add(valueOf(comp.Perps[i], p, w.perpAsset, w.perpLiab))
	}
	if exposure.IsZero() {
		return fmath.Zero, false, nil
	}
	liq, err := partial.Div(exposure)
	if err != nil {
		return fmath.Zero, false, err
	}
	if liq.IsNeg() {
		return fmath.Zero, false, nil
	}
	return liq, true, nil
}
