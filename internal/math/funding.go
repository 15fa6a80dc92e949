package math

// SecondsPerDay is the funding period the clamp applies to.
const SecondsPerDay = 86_400

var (
	// MaxFunding and MinFunding clamp the daily book/index premium.
	MaxFunding = MustFromString("0.05")
	MinFunding = MustFromString("-0.05")
)

// FundingDelta returns the increment applied to both the long and short funding
// accumulators of a perp market after elapsed seconds. bid and ask are the book
// impact prices in native quote per native base, nil when that side has no depth.
func FundingDelta(
	indexPrice I80F48,
	bid, ask *I80F48,
	baseLotSize int64,
	elapsed int64,
) (I80F48, error) {
	var diff I80F48
	switch {
	case bid != nil && ask != nil:
		mid, err := bid.Add(*ask).Div(FromInt64(2))
		if err != nil {
			return Zero, err
		}
		ratio, err := mid.Div(indexPrice)
		if err != nil {
			return Zero, err
		}
		diff = Max(MinFunding, Min(MaxFunding, ratio.Sub(One)))
	case bid != nil:
		diff = MaxFunding
	case ask != nil:
		diff = MinFunding
	default:
		diff = Zero
	}

	timeFactor, err := FromInt64(elapsed).Div(FromInt64(SecondsPerDay))
	if err != nil {
		return Zero, err
	}
	return indexPrice.Mul(diff).MulInt64(baseLotSize).Mul(timeFactor), nil
}

// UnsettledFunding is what a position owes (positive) or is owed (negative) since
// its last settlement. basePosition is in base lots; the accumulators are per lot.
func UnsettledFunding(
	basePosition int64,
	longFunding, shortFunding I80F48,
	longSettled, shortSettled I80F48,
) I80F48 {
	switch {
	case basePosition > 0:
		return longFunding.Sub(longSettled).MulInt64(basePosition)
	case basePosition < 0:
		return shortFunding.Sub(shortSettled).MulInt64(basePosition)
	default:
		return Zero
	}
}
