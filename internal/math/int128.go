package math

import (
	"encoding/binary"
	"math/big"
	"math/bits"
)

// Int128 is a signed 128-bit two's-complement integer. Hi carries the sign.
type Int128 struct {
	Hi int64
	Lo uint64
}

var (
	minInt128Big = new(big.Int).Neg(new(big.Int).Lsh(big.NewInt(1), 127))
	maxInt128Big = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 127), big.NewInt(1))
	two64        = new(big.Int).Lsh(big.NewInt(1), 64)
)

// Int128FromInt64 sign-extends v.
func Int128FromInt64(v int64) Int128 {
	return Int128{Hi: v >> 63, Lo: uint64(v)}
}

// Int128FromUint64 zero-extends v.
func Int128FromUint64(v uint64) Int128 {
	return Int128{Lo: v}
}

// Int128FromLE reads 16 little-endian bytes. b must hold at least 16 bytes.
func Int128FromLE(b []byte) Int128 {
	return Int128{
		Lo: binary.LittleEndian.Uint64(b[0:8]),
		Hi: int64(binary.LittleEndian.Uint64(b[8:16])),
	}
}

// PutInt128LE writes v as 16 little-endian bytes into b.
func PutInt128LE(b []byte, v Int128) {
	binary.LittleEndian.PutUint64(b[0:8], v.Lo)
	binary.LittleEndian.PutUint64(b[8:16], uint64(v.Hi))
}

// Int128FromBig converts b, failing with *RangeError outside [-2^127, 2^127).
func Int128FromBig(b *big.Int) (Int128, error) {
	if b.Cmp(minInt128Big) < 0 || b.Cmp(maxInt128Big) > 0 {
		return Int128{}, &RangeError{Value: b.String()}
	}
	// two's complement of negative values: b + 2^128
	u := new(big.Int).Set(b)
	if u.Sign() < 0 {
		u.Add(u, new(big.Int).Lsh(two64, 64))
	}
	lo := new(big.Int).And(u, new(big.Int).Sub(two64, big.NewInt(1)))
	hi := new(big.Int).Rsh(u, 64)
	return Int128{Hi: int64(hi.Uint64()), Lo: lo.Uint64()}, nil
}

// Big returns v as a new big.Int.
func (v Int128) Big() *big.Int {
	return v.setBig(new(big.Int))
}

func (v Int128) setBig(z *big.Int) *big.Int {
	z.SetInt64(v.Hi)
	z.Lsh(z, 64)
	return z.Add(z, new(big.Int).SetUint64(v.Lo))
}

func (v Int128) Sign() int {
	switch {
	case v.Hi < 0:
		return -1
	case v.Hi == 0 && v.Lo == 0:
		return 0
	default:
		return 1
	}
}

func (v Int128) IsZero() bool { return v.Hi == 0 && v.Lo == 0 }

// Cmp compares as signed integers.
func (v Int128) Cmp(o Int128) int {
	switch {
	case v.Hi < o.Hi:
		return -1
	case v.Hi > o.Hi:
		return 1
	case v.Lo < o.Lo:
		return -1
	case v.Lo > o.Lo:
		return 1
	}
	return 0
}

// CmpUnsigned compares the raw 128 bits as unsigned integers.
func (v Int128) CmpUnsigned(o Int128) int {
	vh, oh := uint64(v.Hi), uint64(o.Hi)
	switch {
	case vh < oh:
		return -1
	case vh > oh:
		return 1
	case v.Lo < o.Lo:
		return -1
	case v.Lo > o.Lo:
		return 1
	}
	return 0
}

// AddChecked returns v+o and false on signed overflow.
func (v Int128) AddChecked(o Int128) (Int128, bool) {
	lo, carry := bits.Add64(v.Lo, o.Lo, 0)
	hi, _ := bits.Add64(uint64(v.Hi), uint64(o.Hi), carry)
	r := Int128{Hi: int64(hi), Lo: lo}
	// overflow iff operands share a sign that differs from the result
	if (v.Hi >= 0) == (o.Hi >= 0) && (r.Hi >= 0) != (v.Hi >= 0) {
		return r, false
	}
	return r, true
}

// SubChecked returns v-o and false on signed overflow.
func (v Int128) SubChecked(o Int128) (Int128, bool) {
	lo, borrow := bits.Sub64(v.Lo, o.Lo, 0)
	hi, _ := bits.Sub64(uint64(v.Hi), uint64(o.Hi), borrow)
	r := Int128{Hi: int64(hi), Lo: lo}
	if (v.Hi >= 0) != (o.Hi >= 0) && (r.Hi >= 0) != (v.Hi >= 0) {
		return r, false
	}
	return r, true
}

// Neg wraps for the minimum value, matching two's complement.
func (v Int128) Neg() Int128 {
	lo, borrow := bits.Sub64(0, v.Lo, 0)
	hi, _ := bits.Sub64(0, uint64(v.Hi), borrow)
	return Int128{Hi: int64(hi), Lo: lo}
}

func (v Int128) String() string {
	return v.Big().String()
}
