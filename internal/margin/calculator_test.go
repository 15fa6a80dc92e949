package margin_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"MarginMirror/internal/margin"
	fmath "MarginMirror/internal/math"
	"MarginMirror/internal/state"
	"MarginMirror/internal/testutil"
)

func TestMaxWithdraw(t *testing.T) {
	f := testutil.NewGroupFixture(6).AddSpot(0, 6, "2", exact)
	a := f.Account(60)
	testutil.Deposit(a, 0, "1000")
	testutil.Deposit(a, state.QuoteIndex, "100")
	mc := margin.NewMarginCalculator(f.Group, f.Cache)

	tests := []struct {
		name        string
		token       int
		allowBorrow bool
		want        string
	}{
		{"quote with borrow", state.QuoteIndex, true, "1600"},
		{"quote deposit only", state.QuoteIndex, false, "100"},
		{"base with borrow", 0, true, "1040"},
		{"base deposit only", 0, false, "1000"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := mc.MaxWithdraw(a, tt.token, tt.allowBorrow)
			require.NoError(t, err)
			assert.Equal(t, d(tt.want), got)
		})
	}
}

func TestMaxWithdraw_Underwater(t *testing.T) {
	f, a := testutil.Leveraged()
	mc := margin.NewMarginCalculator(f.Group, f.Cache)

	got, err := mc.MaxWithdraw(a, 0, true)
	require.NoError(t, err)
	assert.True(t, got.IsZero())

	_, err = mc.MaxWithdraw(a, 16, true)
	assert.ErrorIs(t, err, state.ErrNotFound)
}

func TestMaxPerpPosition(t *testing.T) {
	f := testutil.NewGroupFixture(6).AddPerp(1, 6, "10", exact, 1, 1)
	mc := margin.NewMarginCalculator(f.Group, f.Cache)

	flat := f.Account(60)
	testutil.Deposit(flat, state.QuoteIndex, "1000")

	short := f.Account(62)
	testutil.Deposit(short, state.QuoteIndex, "1000")
	short.PerpAccounts[1].BasePosition = -100
	short.PerpAccounts[1].QuotePosition = d("1000")

	tests := []struct {
		name    string
		account *state.Account
		side    state.Side
		price   string
		want    string
	}{
		{"flat bid", flat, state.SideBid, "10", "400"},
		{"flat ask", flat, state.SideAsk, "10", "400"},
		{"short bid unwinds first", short, state.SideBid, "10", "500"},
		{"short ask grows", short, state.SideAsk, "10", "300"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := mc.MaxPerpPosition(tt.account, 1, tt.side, d(tt.price))
			require.NoError(t, err)
			assert.Equal(t, d(tt.want), got)
		})
	}

	lots, err := mc.MaxPerpLots(flat, 1, state.SideBid, d("10"))
	require.NoError(t, err)
	assert.Equal(t, int64(400), lots)

	// bidding below the weighted oracle value only adds health
	_, err = mc.MaxPerpPosition(flat, 1, state.SideBid, d("7"))
	assert.ErrorIs(t, err, margin.ErrUnbounded)

	_, err = mc.MaxPerpPosition(flat, 0, state.SideBid, d("10"))
	assert.ErrorIs(t, err, state.ErrNotFound)
}

func TestWeightOfOne(t *testing.T) {
	lev, err := margin.MarketLeverage(d("0.75"))
	require.NoError(t, err)
	assert.Equal(t, d("4"), lev)

	_, err = margin.MarketLeverage(fmath.One)
	assert.ErrorIs(t, err, fmath.ErrDivideByZero)

	unit := testutil.Weights{MaintAsset: "1", InitAsset: "1", MaintLiab: "1", InitLiab: "1"}
	f := testutil.NewGroupFixture(6).AddPerp(0, 6, "10", unit, 1, 1)
	a := f.Account(60)
	testutil.Deposit(a, state.QuoteIndex, "1000")
	mc := margin.NewMarginCalculator(f.Group, f.Cache)

	_, err = mc.MaxPerpPosition(a, 0, state.SideBid, d("10"))
	assert.ErrorIs(t, err, margin.ErrUnbounded)
	_, err = mc.MaxPerpPosition(a, 0, state.SideAsk, d("10"))
	assert.ErrorIs(t, err, margin.ErrUnbounded)
}

func TestLiquidationPrice_NoExposure(t *testing.T) {
	f, _ := testutil.SingleDeposit()
	a := f.Account(60)
	mc := margin.NewMarginCalculator(f.Group, f.Cache)

	_, ok, err := mc.LiquidationPrice(a, 0)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestReport(t *testing.T) {
	f, a := testutil.Leveraged()
	mc := margin.NewMarginCalculator(f.Group, f.Cache)
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	rep, err := mc.Report(a, now)
	require.NoError(t, err)
	assert.Equal(t, a.Address, rep.Account)
	assert.Equal(t, a.Owner, rep.Owner)
	assert.Equal(t, margin.MarginStatusLiquidatable, rep.Status)
	assert.True(t, rep.Liquidatable)
	assert.True(t, rep.MaintHealth.IsNeg())
	require.Len(t, rep.LiquidationPrices, 1)
	assert.Equal(t, 0, rep.LiquidationPrices[0].MarketIndex)
	assert.Equal(t, now, rep.ComputedAt)

	raw, err := json.Marshal(rep)
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, "Liquidatable", decoded["status"])
	assert.Equal(t, a.Address.String(), decoded["account"])
	assert.Contains(t, decoded, "maint_health_ratio")
}
