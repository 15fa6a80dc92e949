package liquidation

import (
	"fmt"

	"MarginMirror/internal/instruction"
	"MarginMirror/internal/margin"
	fmath "MarginMirror/internal/math"
	"MarginMirror/internal/state"
)

// Action is the next step against a liquidatee. Each variant maps to exactly
// one program instruction.
type Action interface {
	Instruction() instruction.Instruction
	String() string
}

type ForceCancelSpot struct {
	MarketIndex int
	Limit       uint8
}

func (a ForceCancelSpot) Instruction() instruction.Instruction {
	return &instruction.ForceCancelSpotOrders{Limit: a.Limit}
}

func (a ForceCancelSpot) String() string {
	return fmt.Sprintf("force-cancel spot orders at %d", a.MarketIndex)
}

type ForceCancelPerp struct {
	MarketIndex int
	Limit       uint8
}

func (a ForceCancelPerp) Instruction() instruction.Instruction {
	return &instruction.ForceCancelPerpOrders{Limit: a.Limit}
}

func (a ForceCancelPerp) String() string {
	return fmt.Sprintf("force-cancel perp orders at %d", a.MarketIndex)
}

// LiquidatePerpBase takes over BaseTransfer lots of the liquidatee's perp
// base position; its sign follows the position.
type LiquidatePerpBase struct {
	MarketIndex  int
	BaseTransfer int64
}

func (a LiquidatePerpBase) Instruction() instruction.Instruction {
	return &instruction.LiquidatePerpMarket{BaseTransferRequest: a.BaseTransfer}
}

func (a LiquidatePerpBase) String() string {
	return fmt.Sprintf("liquidate %d perp base lots at %d", a.BaseTransfer, a.MarketIndex)
}

type TokenAndToken struct {
	AssetIndex      int
	LiabIndex       int
	MaxLiabTransfer fmath.I80F48
}

func (a TokenAndToken) Instruction() instruction.Instruction {
	return &instruction.LiquidateTokenAndToken{MaxLiabTransfer: a.MaxLiabTransfer}
}

func (a TokenAndToken) String() string {
	return fmt.Sprintf("liquidate token %d against token %d (max %s)", a.LiabIndex, a.AssetIndex, a.MaxLiabTransfer)
}

type TokenAndPerp struct {
	AssetType       state.AssetType
	AssetIndex      int
	LiabType        state.AssetType
	LiabIndex       int
	MaxLiabTransfer fmath.I80F48
}

func (a TokenAndPerp) Instruction() instruction.Instruction {
	return &instruction.LiquidateTokenAndPerp{
		AssetType:       a.AssetType,
		AssetIndex:      uint64(a.AssetIndex),
		LiabType:        a.LiabType,
		LiabIndex:       uint64(a.LiabIndex),
		MaxLiabTransfer: a.MaxLiabTransfer,
	}
}

func (a TokenAndPerp) String() string {
	return fmt.Sprintf("liquidate %s %d against %s %d (max %s)", a.LiabType, a.LiabIndex, a.AssetType, a.AssetIndex, a.MaxLiabTransfer)
}

type ResolveTokenBankruptcy struct {
	LiabIndex       int
	MaxLiabTransfer fmath.I80F48
}

func (a ResolveTokenBankruptcy) Instruction() instruction.Instruction {
	return &instruction.ResolveTokenBankruptcy{MaxLiabTransfer: a.MaxLiabTransfer}
}

func (a ResolveTokenBankruptcy) String() string {
	return fmt.Sprintf("resolve token bankruptcy at %d (max %s)", a.LiabIndex, a.MaxLiabTransfer)
}

type ResolvePerpBankruptcy struct {
	LiabIndex       int
	MaxLiabTransfer fmath.I80F48
}

func (a ResolvePerpBankruptcy) Instruction() instruction.Instruction {
	return &instruction.ResolvePerpBankruptcy{LiabIndex: uint64(a.LiabIndex), MaxLiabTransfer: a.MaxLiabTransfer}
}

func (a ResolvePerpBankruptcy) String() string {
	return fmt.Sprintf("resolve perp bankruptcy at %d (max %s)", a.LiabIndex, a.MaxLiabTransfer)
}

// PlannerConfig bounds what a single step may move.
type PlannerConfig struct {
	// MaxLiabTransfer caps one transfer in native quote value. Zero is no cap.
	MaxLiabTransfer fmath.I80F48
	// InsuranceReserve is the native quote balance of the insurance vault.
	InsuranceReserve fmath.I80F48
	// CancelLimit is the order count per force-cancel instruction.
	CancelLimit uint8
}

// Planner chooses the next liquidation step the way the program expects them
// sequenced: cancel resting orders, close perp base, swap liabilities for
// assets, and only then draw on the insurance reserve.
type Planner struct {
	calc *margin.MarginCalculator
	cfg  PlannerConfig
}

func NewPlanner(calc *margin.MarginCalculator, cfg PlannerConfig) *Planner {
	if cfg.CancelLimit == 0 {
		cfg.CancelLimit = 20
	}
	return &Planner{calc: calc, cfg: cfg}
}

type exposure struct {
	kind  state.AssetType
	index int
	value fmath.I80F48 // native quote, signed
}

// Next returns the step to take against liqee, or nil when there is none.
func (p *Planner) Next(liqee *state.Account) (act Action, err error) {
	defer fmath.Recover(&err)
	g, c := p.calc.Group(), p.calc.Cache()

	comp, err := p.calc.Components(liqee)
	if err != nil {
		return nil, err
	}
	liq, err := comp.IsLiquidatable(g, c, liqee)
	if err != nil {
		return nil, err
	}
	if !liq && !liqee.IsBankrupt {
		return nil, nil
	}

	for i := 0; i < g.MarketCount(); i++ {
		oo := liqee.SpotOpenOrdersAccounts[i]
		if liqee.InMarginBasket[i] && oo != nil && (oo.QuoteLocked().IsPos() || oo.BaseLocked().IsPos()) {
			return ForceCancelSpot{MarketIndex: i, Limit: p.cfg.CancelLimit}, nil
		}
	}
	for i := 0; i < g.MarketCount(); i++ {
		pa := &liqee.PerpAccounts[i]
		if !g.PerpMarkets[i].IsEmpty() && (pa.BidsQuantity != 0 || pa.AsksQuantity != 0) {
			return ForceCancelPerp{MarketIndex: i, Limit: p.cfg.CancelLimit}, nil
		}
	}

	// largest perp base exposure first
	best, bestValue := -1, fmath.Zero
	for i := 0; i < g.MarketCount(); i++ {
		pa := &liqee.PerpAccounts[i]
		if g.PerpMarkets[i].IsEmpty() || pa.BasePosition == 0 {
			continue
		}
		v := fmath.FromInt64(pa.BasePosition).MulInt64(g.PerpMarkets[i].BaseLotSize).Mul(c.Price(i)).Abs()
		if best < 0 || v.Gt(bestValue) {
			best, bestValue = i, v
		}
	}
	if best >= 0 {
		return LiquidatePerpBase{MarketIndex: best, BaseTransfer: liqee.PerpAccounts[best].BasePosition}, nil
	}

	liab, ok := p.largestLiability(liqee)
	if !ok {
		return nil, nil
	}
	asset, ok := p.largestAsset(liqee, liab)
	if !ok {
		if !liqee.IsBankrupt {
			return nil, nil
		}
		return p.resolveBankruptcy(liqee, liab)
	}
	if !liq {
		return nil, nil
	}

	maxLiab, err := p.liabTransfer(liqee, liab)
	if err != nil {
		return nil, err
	}
	if liab.kind == state.AssetTypeToken && asset.kind == state.AssetTypeToken {
		return TokenAndToken{AssetIndex: asset.index, LiabIndex: liab.index, MaxLiabTransfer: maxLiab}, nil
	}
	return TokenAndPerp{
		AssetType:       asset.kind,
		AssetIndex:      asset.index,
		LiabType:        liab.kind,
		LiabIndex:       liab.index,
		MaxLiabTransfer: maxLiab,
	}, nil
}

func (p *Planner) exposures(a *state.Account) []exposure {
	g, c := p.calc.Group(), p.calc.Cache()
	var out []exposure
	for i := 0; i < state.MaxTokens; i++ {
		if g.Tokens[i].IsEmpty() {
			continue
		}
		if v := a.NativeNet(c, i).Mul(c.Price(i)); !v.IsZero() {
			out = append(out, exposure{kind: state.AssetTypeToken, index: i, value: v})
		}
	}
	for i := 0; i < g.MarketCount(); i++ {
		if g.PerpMarkets[i].IsEmpty() {
			continue
		}
		pa := &a.PerpAccounts[i]
		if v := pa.PnL(g.PerpMarkets[i], c.PerpMarketCache[i], c.Price(i)); !v.IsZero() {
			out = append(out, exposure{kind: state.AssetTypePerp, index: i, value: v})
		}
	}
	return out
}

func (p *Planner) largestLiability(a *state.Account) (exposure, bool) {
	var best exposure
	found := false
	for _, e := range p.exposures(a) {
		if e.value.IsNeg() && (!found || e.value.Lt(best.value)) {
			best, found = e, true
		}
	}
	return best, found
}

// largestAsset skips the liability's own token and, for a perp liability,
// every perp asset: the program has no perp-for-perp liquidation.
func (p *Planner) largestAsset(a *state.Account, liab exposure) (exposure, bool) {
	var best exposure
	found := false
	for _, e := range p.exposures(a) {
		if !e.value.IsPos() {
			continue
		}
		if e.kind == liab.kind && (e.kind == state.AssetTypePerp || e.index == liab.index) {
			continue
		}
		if !found || e.value.Gt(best.value) {
			best, found = e, true
		}
	}
	return best, found
}

// liabTransfer converts the capped quote value of a liability into its native
// units.
func (p *Planner) liabTransfer(a *state.Account, liab exposure) (fmath.I80F48, error) {
	value := transferCap(liab.value.Neg(), p.cfg.MaxLiabTransfer)
	if liab.kind == state.AssetTypePerp {
		return value, nil
	}
	native, err := value.Div(p.calc.Cache().Price(liab.index))
	if err != nil {
		return fmath.Zero, fmt.Errorf("token %d price: %w", liab.index, err)
	}
	return fmath.Min(native, a.NativeBorrow(p.calc.Cache(), liab.index)), nil
}

// resolveBankruptcy returns nil when the insurance reserve covers nothing.
func (p *Planner) resolveBankruptcy(a *state.Account, liab exposure) (Action, error) {
	deficit := transferCap(liab.value.Neg(), p.cfg.MaxLiabTransfer)
	covered, _ := Coverage(p.cfg.InsuranceReserve, deficit)
	if !covered.IsPos() {
		return nil, nil
	}
	if liab.kind == state.AssetTypePerp {
		return ResolvePerpBankruptcy{LiabIndex: liab.index, MaxLiabTransfer: covered}, nil
	}
	native, err := covered.Div(p.calc.Cache().Price(liab.index))
	if err != nil {
		return nil, fmt.Errorf("token %d price: %w", liab.index, err)
	}
	native = fmath.Min(native, a.NativeBorrow(p.calc.Cache(), liab.index))
	if !native.IsPos() {
		return nil, nil
	}
	return ResolveTokenBankruptcy{LiabIndex: liab.index, MaxLiabTransfer: native}, nil
}
