package math

import (
	"errors"
	"fmt"
)

// ErrDivideByZero is the arithmetic error for a zero fixed-point divisor.
var ErrDivideByZero = errors.New("fixed-point division by zero")

// RangeError reports a value outside the representable I80F48 range.
type RangeError struct {
	Value string
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("fixed-point value out of range: %s", e.Value)
}

// Recover turns an overflow panic raised by Add, Sub, Mul, Neg or Ceil into an
// error. Use it deferred at API boundaries:
//
//	defer math.Recover(&err)
func Recover(errp *error) {
	r := recover()
	if r == nil {
		return
	}
	if re, ok := r.(*RangeError); ok {
		*errp = re
		return
	}
	panic(r)
}
