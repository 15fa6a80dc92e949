package state

import (
	fmath "MarginMirror/internal/math"

	"github.com/shopspring/decimal"
)

// NativeToUI scales a native amount down by a token's decimals.
func NativeToUI(native fmath.I80F48, decimals uint8) decimal.Decimal {
	return native.Decimal().Shift(-int32(decimals))
}

// UIToNative scales a UI amount up by a token's decimals, truncating below
// fixed-point resolution.
func UIToNative(ui decimal.Decimal, decimals uint8) (fmath.I80F48, error) {
	return fmath.FromDecimal(ui.Shift(int32(decimals)))
}

// NativeIntToUI is NativeToUI for integer amounts such as vault balances.
func NativeIntToUI(native int64, decimals uint8) decimal.Decimal {
	return decimal.New(native, -int32(decimals))
}
