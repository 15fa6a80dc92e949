package margin

import (
	"errors"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"

	fmath "MarginMirror/internal/math"
	"MarginMirror/internal/state"
)

// ErrUnbounded is returned by size queries when taking more of a position
// never lowers health.
var ErrUnbounded = errors.New("margin: position size unbounded")

// MarginStatus summarizes an account's standing.
type MarginStatus int

const (
	MarginStatusHealthy MarginStatus = iota
	MarginStatusAtRisk
	MarginStatusLiquidatable
)

func (ms MarginStatus) String() string {
	switch ms {
	case MarginStatusHealthy:
		return "Healthy"
	case MarginStatusAtRisk:
		return "AtRisk"
	case MarginStatusLiquidatable:
		return "Liquidatable"
	default:
		return "Unknown"
	}
}

func (ms MarginStatus) MarshalText() ([]byte, error) {
	return []byte(ms.String()), nil
}

// MarketLeverage converts an asset weight into the leverage it allows.
func MarketLeverage(assetWeight fmath.I80F48) (lev fmath.I80F48, err error) {
	defer fmath.Recover(&err)
	return fmath.One.Div(fmath.One.Sub(assetWeight))
}

// MarginCalculator evaluates accounts against one group and cache snapshot.
// It holds no mutable state; one calculator may serve many goroutines as long
// as each passes its own account.
type MarginCalculator struct {
	group *state.Group
	cache *state.Cache
}

func NewMarginCalculator(g *state.Group, c *state.Cache) *MarginCalculator {
	return &MarginCalculator{group: g, cache: c}
}

func (mc *MarginCalculator) Group() *state.Group { return mc.group }
func (mc *MarginCalculator) Cache() *state.Cache { return mc.cache }

// Components returns the worst-case positions of a.
func (mc *MarginCalculator) Components(a *state.Account) (*Components, error) {
	return ComputeHealthComponents(mc.group, a, mc.cache)
}

// Health returns weighted health in native quote units.
func (mc *MarginCalculator) Health(a *state.Account, ht HealthType) (h fmath.I80F48, err error) {
	defer fmath.Recover(&err)
	comp, err := mc.Components(a)
	if err != nil {
		return fmath.Zero, err
	}
	return comp.Health(mc.group, mc.cache, ht), nil
}

func (mc *MarginCalculator) HealthRatio(a *state.Account, ht HealthType) (r fmath.I80F48, err error) {
	defer fmath.Recover(&err)
	comp, err := mc.Components(a)
	if err != nil {
		return fmath.Zero, err
	}
	return comp.HealthRatio(mc.group, mc.cache, ht)
}

func (mc *MarginCalculator) AssetsLiabs(a *state.Account, ht HealthType) (assets, liabs fmath.I80F48, err error) {
	defer fmath.Recover(&err)
	comp, err := mc.Components(a)
	if err != nil {
		return fmath.Zero, fmath.Zero, err
	}
	assets, liabs = comp.AssetsLiabs(mc.group, mc.cache, ht)
	return assets, liabs, nil
}

// ComputeValue is the unweighted net worth in UI quote units.
func (mc *MarginCalculator) ComputeValue(a *state.Account) (decimal.Decimal, error) {
	h, err := mc.Health(a, HealthTypeNone)
	if err != nil {
		return decimal.Zero, err
	}
	return state.NativeToUI(h, mc.group.QuoteToken().Decimals), nil
}

func (mc *MarginCalculator) Leverage(a *state.Account) (lev fmath.I80F48, err error) {
	defer fmath.Recover(&err)
	comp, err := mc.Components(a)
	if err != nil {
		return fmath.Zero, err
	}
	return comp.Leverage(mc.group, mc.cache)
}

// IsLiquidatable reports whether maintenance health is negative, or initial
// health is negative while a liquidation is already in progress.
func (mc *MarginCalculator) IsLiquidatable(a *state.Account) (bool, error) {
	comp, err := mc.Components(a)
	if err != nil {
		return false, err
	}
	return comp.IsLiquidatable(mc.group, mc.cache, a)
}

func (comp *Components) IsLiquidatable(g *state.Group, c *state.Cache, a *state.Account) (ok bool, err error) {
	defer fmath.Recover(&err)
	if a.BeingLiquidated && comp.Health(g, c, HealthTypeInit).IsNeg() {
		return true, nil
	}
	return comp.Health(g, c, HealthTypeMaint).IsNeg(), nil
}

// LiquidationPrice returns the UI oracle price of market at which a becomes
// liquidatable. ok is false when no such price exists.
func (mc *MarginCalculator) LiquidationPrice(a *state.Account, market int) (price decimal.Decimal, ok bool, err error) {
	defer fmath.Recover(&err)
	comp, err := mc.Components(a)
	if err != nil {
		return decimal.Zero, false, err
	}
	native, ok, err := comp.LiquidationPrice(mc.group, mc.cache, market)
	if err != nil || !ok {
		return decimal.Zero, false, err
	}
	return mc.nativePriceToUI(native, market), true, nil
}

func (mc *MarginCalculator) nativePriceToUI(p fmath.I80F48, market int) decimal.Decimal {
	shift := int32(mc.group.Tokens[market].Decimals) - int32(mc.group.QuoteToken().Decimals)
	return p.Decimal().Shift(shift)
}

// MaxWithdraw returns the native amount of token that can leave a before
// initial health reaches zero. Without allowBorrow the result is capped at
// the deposit.
func (mc *MarginCalculator) MaxWithdraw(a *state.Account, token int, allowBorrow bool) (amt fmath.I80F48, err error) {
	defer fmath.Recover(&err)
	if token < 0 || token > state.QuoteIndex {
		return fmath.Zero, fmt.Errorf("token index %d: %w", token, state.ErrNotFound)
	}
	comp, err := mc.Components(a)
	if err != nil {
		return fmath.Zero, err
	}
	health := comp.Health(mc.group, mc.cache, HealthTypeInit)

	pos, price := comp.Quote, fmath.One
	assetW, liabW := fmath.One, fmath.One
	if token != state.QuoteIndex {
		pos, price = comp.Spot[token], mc.cache.Price(token)
		w := weightsFor(mc.group, token, HealthTypeInit)
		assetW, liabW = w.spotAsset, w.spotLiab
	}

	// withdrawing x lowers health at price*assetW while the position is
	// positive, then at price*liabW once it becomes a borrow
	held := fmath.Max(pos, fmath.Zero)
	amt, err = solveZero(health, price.Mul(assetW).Neg(), held, price.Mul(liabW).Neg())
	if err != nil {
		return fmath.Zero, err
	}
	if !allowBorrow {
		amt = fmath.Min(amt, a.NativeDeposit(mc.cache, token))
	}
	return amt.Floor(), nil
}

// MaxPerpPosition returns the base quantity, in native units, that can be
// added on side at native price before initial health reaches zero.
func (mc *MarginCalculator) MaxPerpPosition(a *state.Account, market int, side state.Side, price fmath.I80F48) (qty fmath.I80F48, err error) {
	defer fmath.Recover(&err)
	if market < 0 || market >= state.MaxPairs || mc.group.PerpMarkets[market].IsEmpty() {
		return fmath.Zero, fmt.Errorf("perp market %d: %w", market, state.ErrNotFound)
	}
	comp, err := mc.Components(a)
	if err != nil {
		return fmath.Zero, err
	}
	health := comp.Health(mc.group, mc.cache, HealthTypeInit)
	oracle := mc.cache.Price(market)
	w := weightsFor(mc.group, market, HealthTypeInit)
	base := comp.Perps[market]

	// slopes of health per unit traded: first while unwinding the opposite
	// position, then while growing the new one
	var unwind, unwindLen, grow fmath.I80F48
	switch side {
	case state.SideBid:
		unwind = oracle.Mul(w.perpLiab).Sub(price)
		grow = oracle.Mul(w.perpAsset).Sub(price)
		unwindLen = fmath.Max(base.Neg(), fmath.Zero)
	case state.SideAsk:
		unwind = price.Sub(oracle.Mul(w.perpAsset))
		grow = price.Sub(oracle.Mul(w.perpLiab))
		unwindLen = fmath.Max(base, fmath.Zero)
	default:
		return fmath.Zero, fmt.Errorf("side %d: %w", side, state.ErrNotFound)
	}
	return solveZero(health, unwind, unwindLen, grow)
}

// MaxPerpLots is MaxPerpPosition in base lots, rounded down.
func (mc *MarginCalculator) MaxPerpLots(a *state.Account, market int, side state.Side, price fmath.I80F48) (int64, error) {
	qty, err := mc.MaxPerpPosition(a, market, side, price)
	if err != nil {
		return 0, err
	}
	lots, err := qty.Div(fmath.FromInt64(mc.group.PerpMarkets[market].BaseLotSize))
	if err != nil {
		return 0, err
	}
	return lots.Int64(), nil
}

// solveZero returns the largest x >= 0 such that health stays non-negative on a
// piecewise-linear path with slope m1 over [0, l1] and slope m2 beyond.
func solveZero(health, m1, l1, m2 fmath.I80F48) (fmath.I80F48, error) {
	if !m2.IsNeg() {
		return fmath.Zero, ErrUnbounded
	}
	x := fmath.Zero
	if l1.IsPos() {
		end := health.Add(m1.Mul(l1))
		if !end.IsPos() {
			if !health.IsPos() {
				return fmath.Zero, nil
			}
			return health.Div(m1.Neg())
		}
		health, x = end, l1
	}
	if !health.IsPos() {
		return x, nil
	}
	rest, err := health.Div(m2.Neg())
	if err != nil {
		return fmath.Zero, err
	}
	return x.Add(rest), nil
}

// Status classifies a as Liquidatable, AtRisk (initial health negative) or Healthy.
func (mc *MarginCalculator) Status(a *state.Account) (MarginStatus, error) {
	comp, err := mc.Components(a)
	if err != nil {
		return MarginStatusHealthy, err
	}
	return comp.status(mc.group, mc.cache, a)
}

func (comp *Components) status(g *state.Group, c *state.Cache, a *state.Account) (MarginStatus, error) {
	liq, err := comp.IsLiquidatable(g, c, a)
	if err != nil {
		return MarginStatusHealthy, err
	}
	switch {
	case liq:
		return MarginStatusLiquidatable, nil
	case comp.Health(g, c, HealthTypeInit).IsNeg():
		return MarginStatusAtRisk, nil
	default:
		return MarginStatusHealthy, nil
	}
}

// LiquidationLevel is the UI liquidation price of one market.
type LiquidationLevel struct {
	MarketIndex int             `json:"market_index"`
	Price       decimal.Decimal `json:"price"`
}

// Report is a serializable snapshot of every metric for one account.
type Report struct {
	Account           solana.PublicKey   `json:"account"`
	Owner             solana.PublicKey   `json:"owner"`
	Group             solana.PublicKey   `json:"group"`
	InitHealth        fmath.I80F48       `json:"init_health"`
	MaintHealth       fmath.I80F48       `json:"maint_health"`
	InitHealthRatio   fmath.I80F48       `json:"init_health_ratio"`
	MaintHealthRatio  fmath.I80F48       `json:"maint_health_ratio"`
	Assets            fmath.I80F48       `json:"assets"`
	Liabs             fmath.I80F48       `json:"liabs"`
	Value             decimal.Decimal    `json:"value"`
	Leverage          fmath.I80F48       `json:"leverage"`
	Status            MarginStatus       `json:"status"`
	Liquidatable      bool               `json:"liquidatable"`
	BeingLiquidated   bool               `json:"being_liquidated"`
	Bankrupt          bool               `json:"bankrupt"`
	LiquidationPrices []LiquidationLevel `json:"liquidation_prices,omitempty"`
	ComputedAt        time.Time          `json:"computed_at"`
}

// Report computes every metric from a single components pass.
func (mc *MarginCalculator) Report(a *state.Account, now time.Time) (rep *Report, err error) {
	defer fmath.Recover(&err)
	comp, err := mc.Components(a)
	if err != nil {
		return nil, err
	}
	g, c := mc.group, mc.cache

	rep = &Report{
		Account:         a.Address,
		Owner:           a.Owner,
		Group:           g.Address,
		InitHealth:      comp.Health(g, c, HealthTypeInit),
		MaintHealth:     comp.Health(g, c, HealthTypeMaint),
		BeingLiquidated: a.BeingLiquidated,
		Bankrupt:        a.IsBankrupt,
		ComputedAt:      now.UTC(),
	}
	rep.Value = state.NativeToUI(comp.Health(g, c, HealthTypeNone), g.QuoteToken().Decimals)
	rep.Assets, rep.Liabs = comp.AssetsLiabs(g, c, HealthTypeNone)

	if rep.InitHealthRatio, err = comp.HealthRatio(g, c, HealthTypeInit); err != nil {
		return nil, err
	}
	if rep.MaintHealthRatio, err = comp.HealthRatio(g, c, HealthTypeMaint); err != nil {
		return nil, err
	}
	if rep.Leverage, err = comp.Leverage(g, c); err != nil {
		return nil, err
	}
	if rep.Status, err = comp.status(g, c, a); err != nil {
		return nil, err
	}
	rep.Liquidatable = rep.Status == MarginStatusLiquidatable

	for i := 0; i < g.MarketCount(); i++ {
		native, ok, err := comp.LiquidationPrice(g, c, i)
		if err != nil {
			return nil, err
		}
		if ok {
			rep.LiquidationPrices = append(rep.LiquidationPrices, LiquidationLevel{
				MarketIndex: i,
				Price:       mc.nativePriceToUI(native, i),
			})
		}
	}
	return rep, nil
}
