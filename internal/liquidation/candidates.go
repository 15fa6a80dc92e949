package liquidation

import (
	"bytes"
	"errors"
	"fmt"
	"slices"

	"MarginMirror/internal/margin"
	fmath "MarginMirror/internal/math"
	"MarginMirror/internal/state"
)

// Candidate is a liquidatable account with the healths it was ranked by.
type Candidate struct {
	Account     *state.Account
	InitHealth  fmath.I80F48
	MaintHealth fmath.I80F48
}

// Candidates returns the liquidatable accounts, worst maintenance health
// first. Accounts whose health cannot be computed are skipped and reported in
// the joined error alongside the result.
func Candidates(calc *margin.MarginCalculator, accounts []*state.Account) ([]Candidate, error) {
	var (
		out  []Candidate
		errs []error
	)
	for _, a := range accounts {
		cand, liq, err := evaluate(calc, a)
		if err != nil {
			errs = append(errs, fmt.Errorf("account %s: %w", a.Address, err))
			continue
		}
		if liq {
			out = append(out, cand)
		}
	}
	slices.SortFunc(out, func(a, b Candidate) int {
		if c := a.MaintHealth.Cmp(b.MaintHealth); c != 0 {
			return c
		}
		return bytes.Compare(a.Account.Address[:], b.Account.Address[:])
	})
	return out, errors.Join(errs...)
}

func evaluate(calc *margin.MarginCalculator, a *state.Account) (cand Candidate, liq bool, err error) {
	defer fmath.Recover(&err)
	g, c := calc.Group(), calc.Cache()
	comp, err := calc.Components(a)
	if err != nil {
		return Candidate{}, false, err
	}
	if liq, err = comp.IsLiquidatable(g, c, a); err != nil || !liq {
		return Candidate{}, false, err
	}
	return Candidate{
		Account:     a,
		InitHealth:  comp.Health(g, c, margin.HealthTypeInit),
		MaintHealth: comp.Health(g, c, margin.HealthTypeMaint),
	}, true, nil
}
