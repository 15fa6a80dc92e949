package liquidation

import fmath "MarginMirror/internal/math"

// Coverage splits a deficit into what the insurance reserve pays and what is
// left to socialize.
func Coverage(reserve, deficit fmath.I80F48) (covered, remaining fmath.I80F48) {
	if !reserve.IsPos() {
		return fmath.Zero, deficit
	}
	if reserve.Gte(deficit) {
		return deficit, fmath.Zero
	}
	return reserve, deficit.Sub(reserve)
}

// transferCap bounds one transfer by the caller's limit, where a zero limit
// means no limit.
func transferCap(amount, limit fmath.I80F48) fmath.I80F48 {
	if limit.IsPos() {
		return fmath.Min(amount, limit)
	}
	return amount
}
