// Package math holds the venue's numeric types: the 128-bit integer, the Q80.48
// fixed-point value used for every monetary and weight quantity, and the rate and
// funding formulas evaluated on top of them.
package math

import (
	stdmath "math"
	"math/big"
	"strconv"
	"sync"

	"github.com/shopspring/decimal"
)

// FracBits is the number of fractional bits of I80F48.
const FracBits = 48

const fracMask = uint64(1)<<FracBits - 1

// I80F48 is a signed fixed-point number with 80 integer and 48 fractional bits.
// The zero value is 0.
type I80F48 struct {
	bits Int128
}

var (
	Zero    = I80F48{}
	One     = FromInt64(1)
	Hundred = FromInt64(100)
)

// pooled big.Int for the double-width intermediates of Mul and Div
var bigPool = &sync.Pool{
	New: func() interface{} {
		return new(big.Int)
	},
}

func getBig() *big.Int {
	return bigPool.Get().(*big.Int)
}

func putBig(v *big.Int) {
	v.SetInt64(0)
	bigPool.Put(v)
}

// FromBits reinterprets raw two's-complement bits.
func FromBits(raw Int128) I80F48 {
	return I80F48{bits: raw}
}

// FromInt64 returns v exactly.
func FromInt64(v int64) I80F48 {
	return I80F48{bits: Int128{Hi: v >> (64 - FracBits), Lo: uint64(v) << FracBits}}
}

// FromUint64 returns v exactly.
func FromUint64(v uint64) I80F48 {
	return I80F48{bits: Int128{Hi: int64(v >> (64 - FracBits)), Lo: v << FracBits}}
}

// FromBig interprets b as raw bits, failing with *RangeError when it does not fit.
func FromBig(raw *big.Int) (I80F48, error) {
	bits, err := Int128FromBig(raw)
	if err != nil {
		return Zero, err
	}
	return I80F48{bits: bits}, nil
}

// FromFloat64 truncates f toward zero at 2^-48 resolution.
func FromFloat64(f float64) (I80F48, error) {
	if stdmath.IsNaN(f) || stdmath.IsInf(f, 0) {
		return Zero, &RangeError{Value: strconv.FormatFloat(f, 'g', -1, 64)}
	}
	bf := new(big.Float).SetFloat64(f)
	bf.SetMantExp(bf, FracBits)
	raw, _ := bf.Int(nil)
	return FromBig(raw)
}

// FromDecimal truncates d toward zero at 2^-48 resolution.
func FromDecimal(d decimal.Decimal) (I80F48, error) {
	scaled := d.Mul(decimal.NewFromBigInt(new(big.Int).Lsh(big.NewInt(1), FracBits), 0))
	raw := scaled.BigInt()
	v, err := FromBig(raw)
	if err != nil {
		return Zero, &RangeError{Value: d.String()}
	}
	return v, nil
}

// FromString parses a decimal string such as "-12.5".
func FromString(s string) (I80F48, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Zero, err
	}
	return FromDecimal(d)
}

// MustFromString is FromString for constants and tests.
func MustFromString(s string) I80F48 {
	v, err := FromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

// Bits returns the raw two's-complement representation.
func (a I80F48) Bits() Int128 { return a.bits }

func (a I80F48) Add(b I80F48) I80F48 {
	r, ok := a.bits.AddChecked(b.bits)
	if !ok {
		panic(&RangeError{Value: "add overflow"})
	}
	return I80F48{bits: r}
}

func (a I80F48) Sub(b I80F48) I80F48 {
	r, ok := a.bits.SubChecked(b.bits)
	if !ok {
		panic(&RangeError{Value: "sub overflow"})
	}
	return I80F48{bits: r}
}

// Mul widens both operands, multiplies and shifts right by 48 bits. The shift is
// arithmetic, so results are floored toward negative infinity.
func (a I80F48) Mul(b I80F48) I80F48 {
	x, y := getBig(), getBig()
	defer putBig(x)
	defer putBig(y)

	a.bits.setBig(x)
	b.bits.setBig(y)
	x.Mul(x, y)
	x.Rsh(x, FracBits)

	r, err := Int128FromBig(x)
	if err != nil {
		panic(err)
	}
	return I80F48{bits: r}
}

// MulInt64 multiplies by an integer exactly.
func (a I80F48) MulInt64(v int64) I80F48 {
	return a.Mul(FromInt64(v))
}

// Div shifts the dividend left by 48 bits before dividing; the quotient is
// truncated toward zero. A zero divisor returns ErrDivideByZero.
func (a I80F48) Div(b I80F48) (I80F48, error) {
	if b.IsZero() {
		return Zero, ErrDivideByZero
	}
	x, y := getBig(), getBig()
	defer putBig(x)
	defer putBig(y)

	a.bits.setBig(x)
	b.bits.setBig(y)
	x.Lsh(x, FracBits)
	x.Quo(x, y)

	r, err := Int128FromBig(x)
	if err != nil {
		return Zero, err
	}
	return I80F48{bits: r}, nil
}

// Floor rounds toward negative infinity to a whole unit.
func (a I80F48) Floor() I80F48 {
	return I80F48{bits: Int128{Hi: a.bits.Hi, Lo: a.bits.Lo &^ fracMask}}
}

// Ceil rounds toward positive infinity to a whole unit.
func (a I80F48) Ceil() I80F48 {
	f := a.Floor()
	if f == a {
		return a
	}
	return f.Add(One)
}

func (a I80F48) Neg() I80F48 {
	if a.bits.Hi == -1<<63 && a.bits.Lo == 0 {
		panic(&RangeError{Value: "neg overflow"})
	}
	return I80F48{bits: a.bits.Neg()}
}

func (a I80F48) Abs() I80F48 {
	if a.IsNeg() {
		return a.Neg()
	}
	return a
}

func (a I80F48) Cmp(b I80F48) int { return a.bits.Cmp(b.bits) }
func (a I80F48) Eq(b I80F48) bool { return a.bits == b.bits }
func (a I80F48) Lt(b I80F48) bool { return a.Cmp(b) < 0 }
func (a I80F48) Lte(b I80F48) bool { return a.Cmp(b) <= 0 }
func (a I80F48) Gt(b I80F48) bool { return a.Cmp(b) > 0 }
func (a I80F48) Gte(b I80F48) bool { return a.Cmp(b) >= 0 }
func (a I80F48) Sign() int        { return a.bits.Sign() }
func (a I80F48) IsZero() bool     { return a.bits.IsZero() }
func (a I80F48) IsPos() bool      { return a.Sign() > 0 }
func (a I80F48) IsNeg() bool      { return a.Sign() < 0 }

func Min(a, b I80F48) I80F48 {
	if a.Lt(b) {
		return a
	}
	return b
}

func Max(a, b I80F48) I80F48 {
	if a.Gt(b) {
		return a
	}
	return b
}

// Pow10 returns 10^n for n >= 0.
func Pow10(n int) I80F48 {
	v := One
	for i := 0; i < n; i++ {
		v = v.MulInt64(10)
	}
	return v
}

// Decimal returns the exact decimal value: raw * 5^48 / 10^48.
func (a I80F48) Decimal() decimal.Decimal {
	scaled := a.bits.Big()
	scaled.Mul(scaled, new(big.Int).Exp(big.NewInt(5), big.NewInt(FracBits), nil))
	return decimal.NewFromBigInt(scaled, -FracBits)
}

// Float64 is lossy and meant for display and metrics only.
func (a I80F48) Float64() float64 {
	f := new(big.Float).SetInt(a.bits.Big())
	f.SetMantExp(f, -FracBits)
	v, _ := f.Float64()
	return v
}

// Int64 truncates toward zero. Values outside int64 saturate.
func (a I80F48) Int64() int64 {
	x := a.bits.Big()
	x.Quo(x, new(big.Int).Lsh(big.NewInt(1), FracBits))
	if !x.IsInt64() {
		if x.Sign() < 0 {
			return -1 << 63
		}
		return 1<<63 - 1
	}
	return x.Int64()
}

func (a I80F48) String() string {
	return a.Decimal().String()
}

// I80F48FromLE decodes 16 little-endian two's-complement bytes.
func I80F48FromLE(b []byte) I80F48 {
	return I80F48{bits: Int128FromLE(b)}
}

// PutLE encodes a as 16 little-endian two's-complement bytes.
func (a I80F48) PutLE(b []byte) {
	PutInt128LE(b, a.bits)
}

// MarshalText keeps JSON reports exact.
func (a I80F48) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

func (a *I80F48) UnmarshalText(text []byte) error {
	v, err := FromString(string(text))
	if err != nil {
		return err
	}
	*a = v
	return nil
}
