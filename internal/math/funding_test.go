package math_test

import (
	"testing"

	fmath "MarginMirror/internal/math"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFundingDelta_Cases(t *testing.T) {
	index := fmath.FromInt64(100)
	bid := fmath.FromInt64(101)
	ask := fmath.FromInt64(103)
	wideAsk := fmath.FromInt64(150)

	cases := []struct {
		name     string
		bid, ask *fmath.I80F48
		want     float64
	}{
		// mid 102 -> premium 2% over one day, 100 * 0.02 * 10 lots
		{"both sides", &bid, &ask, 20},
		// mid 125.5 -> clamped to 5%
		{"clamped", &bid, &wideAsk, 50},
		{"bids only", &bid, nil, 50},
		{"asks only", nil, &ask, -50},
		{"empty book", nil, nil, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d, err := fmath.FundingDelta(index, tc.bid, tc.ask, 10, fmath.SecondsPerDay)
			require.NoError(t, err)
			assert.InDelta(t, tc.want, d.Float64(), 1e-6)
		})
	}
}

func TestFundingDelta_ZeroIndexPrice(t *testing.T) {
	one := fmath.One
	_, err := fmath.FundingDelta(fmath.Zero, &one, &one, 1, 60)
	assert.ErrorIs(t, err, fmath.ErrDivideByZero)
}

func TestUnsettledFunding_BySide(t *testing.T) {
	long := fmath.FromInt64(12)
	short := fmath.FromInt64(7)
	settledLong := fmath.FromInt64(10)
	settledShort := fmath.FromInt64(4)

	assert.Equal(t, "6", fmath.UnsettledFunding(3, long, short, settledLong, settledShort).String())
	assert.Equal(t, "-6", fmath.UnsettledFunding(-2, long, short, settledLong, settledShort).String())
	assert.True(t, fmath.UnsettledFunding(0, long, short, settledLong, settledShort).IsZero())
}
