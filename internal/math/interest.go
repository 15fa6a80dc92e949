package math

// SecondsPerYear annualizes the per-second rates stored on root banks.
const SecondsPerYear = 31_536_000

// RateCurve is the utilization-based interest curve held by a root bank. Rates are
// per second. Below OptimalUtil the borrow rate rises linearly from 0 to
// OptimalRate; above it, linearly from OptimalRate to MaxRate at full utilization.
type RateCurve struct {
	OptimalUtil I80F48
	OptimalRate I80F48
	MaxRate     I80F48
}

// Utilization is borrows/deposits capped at 1; zero deposits give zero.
func Utilization(deposits, borrows I80F48) (I80F48, error) {
	if !deposits.IsPos() {
		return Zero, nil
	}
	if borrows.Gte(deposits) {
		return One, nil
	}
	return borrows.Div(deposits)
}

// BorrowRate evaluates the curve for native deposit and borrow totals.
func (c RateCurve) BorrowRate(deposits, borrows I80F48) (I80F48, error) {
	if deposits.IsZero() && borrows.IsZero() {
		return Zero, nil
	}
	if deposits.Lte(borrows) {
		return c.MaxRate, nil
	}
	util, err := borrows.Div(deposits)
	if err != nil {
		return Zero, err
	}

	if util.Gt(c.OptimalUtil) {
		extra := util.Sub(c.OptimalUtil)
		slope, err := c.MaxRate.Sub(c.OptimalRate).Div(One.Sub(c.OptimalUtil))
		if err != nil {
			return Zero, err
		}
		return c.OptimalRate.Add(slope.Mul(extra)), nil
	}
	if util.IsZero() {
		return Zero, nil
	}
	slope, err := c.OptimalRate.Div(c.OptimalUtil)
	if err != nil {
		return Zero, err
	}
	return slope.Mul(util), nil
}

// DepositRate is the borrow rate scaled by utilization.
func (c RateCurve) DepositRate(deposits, borrows I80F48) (I80F48, error) {
	if deposits.IsZero() && borrows.IsZero() {
		return Zero, nil
	}
	if deposits.IsZero() {
		return c.MaxRate, nil
	}
	borrowRate, err := c.BorrowRate(deposits, borrows)
	if err != nil {
		return Zero, err
	}
	util, err := borrows.Div(deposits)
	if err != nil {
		return Zero, err
	}
	return util.Mul(borrowRate), nil
}

// AccrueIndexes advances the deposit and borrow indexes by elapsed seconds.
// Accounts are never touched: native balance = shares * index. Indexes never
// decrease because every rate on the curve is non-negative.
func AccrueIndexes(
	c RateCurve,
	depositIndex, borrowIndex I80F48,
	deposits, borrows I80F48, // native totals
	elapsed int64,
) (I80F48, I80F48, error) {
	if elapsed <= 0 {
		return depositIndex, borrowIndex, nil
	}

	rate, err := c.BorrowRate(deposits, borrows)
	if err != nil {
		return depositIndex, borrowIndex, err
	}
	util, err := Utilization(deposits, borrows)
	if err != nil {
		return depositIndex, borrowIndex, err
	}

	borrowInterest := rate.MulInt64(elapsed)
	depositInterest := borrowInterest.Mul(util)

	newBorrow := borrowIndex.Add(borrowIndex.Mul(borrowInterest))
	newDeposit := depositIndex.Add(depositIndex.Mul(depositInterest))
	return newDeposit, newBorrow, nil
}
