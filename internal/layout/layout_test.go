package layout_test

import (
	"errors"
	"testing"

	"MarginMirror/internal/layout"
	fmath "MarginMirror/internal/math"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type shade uint8

const (
	shadeLight shade = iota
	shadeDark
)

func (s shade) Valid() bool { return s <= shadeDark }

// record exercises every primitive once: 1+2+4+8+16+1+32+16+1+3 = 84 bytes.
type record struct {
	A uint8
	B uint16
	C int32
	D int64
	E fmath.Int128
	F bool
	G solana.PublicKey
	H fmath.I80F48
	S shade
}

const recordSpan = 84

func (rec *record) decode(r *layout.Reader) {
	rec.A = r.U8()
	rec.B = r.U16()
	rec.C = r.I32()
	rec.D = r.I64()
	rec.E = r.I128()
	rec.F = r.Bool()
	rec.G = r.PublicKey()
	rec.H = r.I80F48()
	rec.S = layout.Enum[shade](r, "shade")
	r.Pad(3)
}

func (rec *record) encode(w *layout.Writer) {
	w.U8(rec.A)
	w.U16(rec.B)
	w.I32(rec.C)
	w.I64(rec.D)
	w.I128(rec.E)
	w.Bool(rec.F)
	w.PublicKey(rec.G)
	w.I80F48(rec.H)
	w.U8(uint8(rec.S))
	w.Pad(3)
}

func sampleRecord() record {
	return record{
		A: 7,
		B: 0xBEEF,
		C: -12,
		D: -1 << 40,
		E: fmath.Int128{Hi: -2, Lo: 99},
		F: true,
		G: solana.MustPublicKeyFromBase58("11111111111111111111111111111112"),
		H: fmath.MustFromString("-3.25"),
		S: shadeDark,
	}
}

// ============================================================================
// Test: struct round trip
// ============================================================================

func TestRecord_RoundTrip(t *testing.T) {
	in := sampleRecord()
	data, err := layout.EncodeExact("record", recordSpan, in.encode)
	require.NoError(t, err)
	require.Len(t, data, recordSpan)

	var out record
	require.NoError(t, layout.DecodeExact("record", solana.PublicKey{}, data, recordSpan, out.decode))
	assert.Equal(t, in, out)
}

func TestDecodeExact_ShortBuffer(t *testing.T) {
	in := sampleRecord()
	data, err := layout.EncodeExact("record", recordSpan, in.encode)
	require.NoError(t, err)

	var out record
	err = layout.DecodeExact("record", solana.PublicKey{}, data[:recordSpan-1], recordSpan, out.decode)

	var de *layout.DecodeError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, "record", de.Entity)
	assert.Equal(t, recordSpan-1, de.Length)
	assert.ErrorIs(t, err, layout.ErrSpanMismatch)
}

func TestDecodeExact_LayoutUnderconsumes(t *testing.T) {
	data := make([]byte, 8)
	err := layout.DecodeExact("u32", solana.PublicKey{}, data, 8, func(r *layout.Reader) { r.U32() })
	assert.ErrorIs(t, err, layout.ErrSpanMismatch)
}

func TestEncodeExact_Overflow(t *testing.T) {
	_, err := layout.EncodeExact("tiny", 2, func(w *layout.Writer) { w.U32(1) })
	assert.ErrorIs(t, err, layout.ErrShortBuffer)
}

func TestBool_AnyNonzeroIsTrue(t *testing.T) {
	r := layout.NewReader([]byte{0, 1, 2, 0xff})
	assert.False(t, r.Bool())
	assert.True(t, r.Bool())
	assert.True(t, r.Bool())
	assert.True(t, r.Bool())
	assert.NoError(t, r.Err())
}

func TestEnum_UnknownValueFails(t *testing.T) {
	in := sampleRecord()
	data, err := layout.EncodeExact("record", recordSpan, in.encode)
	require.NoError(t, err)
	data[80] = 9 // shade byte

	var out record
	err = layout.DecodeExact("record", solana.PublicKey{}, data, recordSpan, out.decode)

	var ee *layout.EnumError
	require.True(t, errors.As(err, &ee))
	assert.Equal(t, uint8(9), ee.Value)

	var de *layout.DecodeError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, 80, de.Offset)
}

// ============================================================================
// Test: tagged union regions
// ============================================================================

func TestRegion_ZeroFillsAndIgnoresTrailing(t *testing.T) {
	w := layout.NewWriter(12)
	w.U32(2)
	w.Region(8, func(w *layout.Writer) { w.U16(0x0102) })
	require.NoError(t, w.Err())
	assert.Equal(t, []byte{2, 0, 0, 0, 2, 1, 0, 0, 0, 0, 0, 0}, w.Bytes())

	data := w.Bytes()
	data[10] = 0xAA // garbage past the variant is ignored

	r := layout.NewReader(data)
	tag := r.U32()
	var v uint16
	r.Region(8, func(r *layout.Reader) { v = r.U16() })
	require.NoError(t, r.Err())
	assert.Equal(t, uint32(2), tag)
	assert.Equal(t, uint16(0x0102), v)
	assert.Equal(t, 0, r.Remaining())
}

func TestRegion_ErrorOffsetTranslated(t *testing.T) {
	r := layout.NewReader(make([]byte, 10))
	r.U32()
	r.Region(6, func(r *layout.Reader) {
		r.U32()
		r.U32()
	})
	assert.ErrorIs(t, r.Err(), layout.ErrShortBuffer)
	assert.Equal(t, 8, r.ErrOffset())
}

func TestReader_StickyError(t *testing.T) {
	r := layout.NewReader([]byte{1, 2, 3})
	assert.Equal(t, uint64(0), r.U64())
	assert.Error(t, r.Err())
	assert.Equal(t, uint8(0), r.U8(), "reads after a failure return zero")
	assert.Equal(t, 0, r.Offset())
}

func FuzzRecordRoundTrip(f *testing.F) {
	f.Add(make([]byte, recordSpan))
	f.Fuzz(func(t *testing.T, data []byte) {
		if len(data) != recordSpan {
			return
		}
		var rec record
		if err := layout.DecodeExact("record", solana.PublicKey{}, data, recordSpan, rec.decode); err != nil {
			return
		}
		out, err := layout.EncodeExact("record", recordSpan, rec.encode)
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		var again record
		if err := layout.DecodeExact("record", solana.PublicKey{}, out, recordSpan, again.decode); err != nil {
			t.Fatalf("decode re-encoded: %v", err)
		}
		if again != rec {
			t.Fatalf("round trip mismatch: %+v vs %+v", again, rec)
		}
	})
}
