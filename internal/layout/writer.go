package layout

import (
	"encoding/binary"
	"fmt"

	fmath "MarginMirror/internal/math"

	"github.com/gagliardetto/solana-go"
)

// Writer encodes fields in order into a fixed-capacity buffer. Bytes never
// written stay zero.
type Writer struct {
	buf []byte
	off int
	err error
}

// NewWriter allocates a zeroed buffer of capacity bytes.
func NewWriter(capacity int) *Writer {
	return &Writer{buf: make([]byte, capacity)}
}

func (w *Writer) Err() error    { return w.err }
func (w *Writer) Offset() int   { return w.off }
func (w *Writer) Bytes() []byte { return w.buf[:w.off] }

// Fail records err unless an error is already set.
func (w *Writer) Fail(err error) {
	if w.err == nil {
		w.err = err
	}
}

func (w *Writer) next(n int) []byte {
	if w.err != nil {
		return nil
	}
	if n < 0 || w.off+n > len(w.buf) {
		w.Fail(fmt.Errorf("%w: write of %d bytes at offset %d exceeds %d", ErrShortBuffer, n, w.off, len(w.buf)))
		return nil
	}
	b := w.buf[w.off : w.off+n]
	w.off += n
	return b
}

func (w *Writer) U8(v uint8) {
	if b := w.next(1); b != nil {
		b[0] = v
	}
}

func (w *Writer) U16(v uint16) {
	if b := w.next(2); b != nil {
		binary.LittleEndian.PutUint16(b, v)
	}
}

func (w *Writer) U32(v uint32) {
	if b := w.next(4); b != nil {
		binary.LittleEndian.PutUint32(b, v)
	}
}

func (w *Writer) U64(v uint64) {
	if b := w.next(8); b != nil {
		binary.LittleEndian.PutUint64(b, v)
	}
}

func (w *Writer) I8(v int8)   { w.U8(uint8(v)) }
func (w *Writer) I16(v int16) { w.U16(uint16(v)) }
func (w *Writer) I32(v int32) { w.U32(uint32(v)) }
func (w *Writer) I64(v int64) { w.U64(uint64(v)) }

func (w *Writer) I128(v fmath.Int128) {
	if b := w.next(16); b != nil {
		fmath.PutInt128LE(b, v)
	}
}

func (w *Writer) U128(v fmath.Int128) { w.I128(v) }

func (w *Writer) Bool(v bool) {
	if v {
		w.U8(1)
	} else {
		w.U8(0)
	}
}

func (w *Writer) PublicKey(pk solana.PublicKey) {
	if b := w.next(solana.PublicKeyLength); b != nil {
		copy(b, pk[:])
	}
}

func (w *Writer) I80F48(v fmath.I80F48) {
	if b := w.next(16); b != nil {
		v.PutLE(b)
	}
}

// Raw copies p verbatim.
func (w *Writer) Raw(p []byte) {
	if b := w.next(len(p)); b != nil {
		copy(b, p)
	}
}

// Pad leaves n zero bytes.
func (w *Writer) Pad(n int) { w.next(n) }

// Region reserves n bytes and lets fn write a union variant into their prefix.
// The remainder stays zero; writing past n fails.
func (w *Writer) Region(n int, fn func(*Writer)) {
	b := w.next(n)
	if b == nil {
		return
	}
	sub := &Writer{buf: b}
	fn(sub)
	if sub.err != nil {
		w.Fail(sub.err)
	}
}

// EncodeExact encodes a fixed-layout struct that must fill exactly span bytes.
func EncodeExact(entity string, span int, fn func(*Writer)) ([]byte, error) {
	w := NewWriter(span)
	fn(w)
	if w.err == nil && w.off != span {
		w.Fail(fmt.Errorf("%w: layout wrote %d of %d bytes", ErrSpanMismatch, w.off, span))
	}
	if w.err != nil {
		return nil, &EncodeError{Entity: entity, Offset: w.off, Err: w.err}
	}
	return w.buf, nil
}
