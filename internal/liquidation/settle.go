// Package liquidation picks counterparties and next steps for accounts the
// margin engine flags: PnL settlement matching, liquidation candidates, the
// per-account liquidation plan and its lifecycle.
package liquidation

import (
	"bytes"
	"fmt"
	"slices"

	"github.com/gagliardetto/solana-go"

	"MarginMirror/internal/margin"
	fmath "MarginMirror/internal/math"
	"MarginMirror/internal/state"
)

// Position is an account's perp PnL at one market, in native quote.
type Position struct {
	Account solana.PublicKey
	PnL     fmath.I80F48
}

// Settlement moves Amount (always positive) between the subject and Counterparty.
type Settlement struct {
	Counterparty solana.PublicKey `json:"counterparty"`
	Amount       fmath.I80F48     `json:"amount"`
}

type SettlementPlan struct {
	Subject     solana.PublicKey `json:"subject"`
	MarketIndex int              `json:"market_index"`
	Initial     fmath.I80F48     `json:"initial"`
	Remaining   fmath.I80F48     `json:"remaining"`
	Settlements []Settlement     `json:"settlements"`
}

// Settled is the total amount the plan moves.
func (p *SettlementPlan) Settled() fmath.I80F48 {
	total := fmath.Zero
	for _, s := range p.Settlements {
		total = total.Add(s.Amount)
	}
	return total
}

// PlanSettlement matches subject against pool members whose PnL has the
// opposite sign, largest magnitude first. Each settlement is capped by what
// the subject has left, so the remaining PnL moves toward zero and never
// crosses it. At most maxActions settlements are planned.
func PlanSettlement(subject Position, marketIndex int, pool []Position, maxActions int) *SettlementPlan {
	plan := &SettlementPlan{
		Subject:     subject.Account,
		MarketIndex: marketIndex,
		Initial:     subject.PnL,
		Remaining:   subject.PnL,
	}
	sign := subject.PnL.Sign()
	if sign == 0 || maxActions <= 0 {
		return plan
	}

	var opposing []Position
	for _, p := range pool {
		if p.Account.Equals(subject.Account) || p.PnL.Sign() != -sign {
			continue
		}
		opposing = append(opposing, p)
	}
	slices.SortFunc(opposing, func(a, b Position) int {
		if c := b.PnL.Abs().Cmp(a.PnL.Abs()); c != 0 {
			return c
		}
		return bytes.Compare(a.Account[:], b.Account[:])
	})

	for _, p := range opposing {
		if len(plan.Settlements) >= maxActions || plan.Remaining.Sign() != sign {
			break
		}
		amt := fmath.Min(plan.Remaining.Abs(), p.PnL.Abs())
		plan.Settlements = append(plan.Settlements, Settlement{Counterparty: p.Account, Amount: amt})
		if sign > 0 {
			plan.Remaining = plan.Remaining.Sub(amt)
		} else {
			plan.Remaining = plan.Remaining.Add(amt)
		}
	}
	return plan
}

// PerpPositions computes every account's PnL at market from the calculator's
// cache. Accounts flat at that market are left out.
func PerpPositions(calc *margin.MarginCalculator, market int, accounts []*state.Account) (out []Position, err error) {
	defer fmath.Recover(&err)
	g, c := calc.Group(), calc.Cache()
	if market < 0 || market >= state.MaxPairs || g.PerpMarkets[market].IsEmpty() {
		return nil, fmt.Errorf("perp market %d: %w", market, state.ErrNotFound)
	}
	info, pmc, price := g.PerpMarkets[market], c.PerpMarketCache[market], c.Price(market)
	for _, a := range accounts {
		pa := &a.PerpAccounts[market]
		if pa.BasePosition == 0 && pa.QuotePosition.IsZero() {
			continue
		}
		out = append(out, Position{Account: a.Address, PnL: pa.PnL(info, pmc, price)})
	}
	return out, nil
}
