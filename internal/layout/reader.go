// Package layout is the little-endian fixed-layout codec shared by every account
// and instruction structure of the venue program.
//
// Readers and writers carry a sticky error: after the first failure every
// further call is a no-op returning zero values, so a struct decode is written as
// a straight sequence of field reads and checked once at the end.
package layout

import (
	"encoding/binary"
	"fmt"

	fmath "MarginMirror/internal/math"

	"github.com/gagliardetto/solana-go"
)

// Reader decodes fields in order from a byte slice.
type Reader struct {
	buf    []byte
	off    int
	err    error
	errOff int
}

func NewReader(b []byte) *Reader {
	return &Reader{buf: b}
}

// Err returns the first error encountered, if any.
func (r *Reader) Err() error { return r.err }

// ErrOffset is the byte offset at which Err was recorded.
func (r *Reader) ErrOffset() int { return r.errOff }

func (r *Reader) Offset() int    { return r.off }
func (r *Reader) Remaining() int { return len(r.buf) - r.off }

// Fail records err at the current offset unless an error is already set.
func (r *Reader) Fail(err error) {
	if r.err == nil {
		r.err = err
		r.errOff = r.off
	}
}

func (r *Reader) next(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || r.off+n > len(r.buf) {
		r.Fail(fmt.Errorf("%w: need %d bytes at offset %d, have %d", ErrShortBuffer, n, r.off, len(r.buf)))
		return nil
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b
}

func (r *Reader) U8() uint8 {
	b := r.next(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *Reader) U16() uint16 {
	b := r.next(2)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint16(b)
}

func (r *Reader) U32() uint32 {
	b := r.next(4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

func (r *Reader) U64() uint64 {
	b := r.next(8)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

func (r *Reader) I8() int8   { return int8(r.U8()) }
func (r *Reader) I16() int16 { return int16(r.U16()) }
func (r *Reader) I32() int32 { return int32(r.U32()) }
func (r *Reader) I64() int64 { return int64(r.U64()) }

// I128 reads a signed 128-bit integer.
func (r *Reader) I128() fmath.Int128 {
	b := r.next(16)
	if b == nil {
		return fmath.Int128{}
	}
	return fmath.Int128FromLE(b)
}

// U128 reads 128 raw bits. Callers compare them with CmpUnsigned.
func (r *Reader) U128() fmath.Int128 { return r.I128() }

// Bool decodes any nonzero byte as true.
func (r *Reader) Bool() bool { return r.U8() != 0 }

func (r *Reader) PublicKey() solana.PublicKey {
	var pk solana.PublicKey
	if b := r.next(solana.PublicKeyLength); b != nil {
		copy(pk[:], b)
	}
	return pk
}

func (r *Reader) I80F48() fmath.I80F48 {
	b := r.next(16)
	if b == nil {
		return fmath.Zero
	}
	return fmath.I80F48FromLE(b)
}

// Bytes returns a copy of the next n bytes.
func (r *Reader) Bytes(n int) []byte {
	b := r.next(n)
	if b == nil {
		return nil
	}
	out := make([]byte, n)
	copy(out, b)
	return out
}

// Pad skips n bytes of explicit padding.
func (r *Reader) Pad(n int) { r.next(n) }

// Region consumes an n-byte region and runs fn over it. A union variant is
// decoded from a prefix of the region; whatever fn leaves unread is ignored.
func (r *Reader) Region(n int, fn func(*Reader)) {
	start := r.off
	b := r.next(n)
	if b == nil {
		return
	}
	sub := NewReader(b)
	fn(sub)
	if sub.err != nil {
		r.err = sub.err
		r.errOff = start + sub.errOff
	}
}

type enumValue interface {
	~uint8
	Valid() bool
}

// Enum reads a one-byte enum and fails on a value with no symbolic name.
func Enum[E enumValue](r *Reader, name string) E {
	off := r.off
	v := E(r.U8())
	if r.err == nil && !v.Valid() {
		r.err = &EnumError{Enum: name, Value: uint8(v)}
		r.errOff = off
	}
	return v
}

// DecodeExact runs fn over data, which must be exactly span bytes long and be
// fully consumed. On failure the returned *DecodeError names the entity, address,
// buffer length and failing offset; callers must discard whatever fn populated.
func DecodeExact(entity string, addr solana.PublicKey, data []byte, span int, fn func(*Reader)) error {
	if len(data) != span {
		return &DecodeError{
			Entity:  entity,
			Address: addr,
			Length:  len(data),
			Offset:  0,
			Err:     fmt.Errorf("%w: want %d bytes", ErrSpanMismatch, span),
		}
	}
	r := NewReader(data)
	fn(r)
	if r.err == nil && r.off != span {
		r.Fail(fmt.Errorf("%w: layout consumed %d of %d bytes", ErrSpanMismatch, r.off, span))
	}
	if r.err != nil {
		return &DecodeError{Entity: entity, Address: addr, Length: len(data), Offset: r.errOff, Err: r.err}
	}
	return nil
}
