package instruction_test

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"MarginMirror/internal/instruction"
	"MarginMirror/internal/layout"
	fmath "MarginMirror/internal/math"
	"MarginMirror/internal/state"
	"MarginMirror/internal/testutil"
)

func allVariants() []instruction.Instruction {
	return []instruction.Instruction{
		&instruction.InitAccount{},
		&instruction.Deposit{Quantity: 1_000_000},
		&instruction.Withdraw{Quantity: 5, AllowBorrow: true},
		&instruction.AddToBasket{MarketIndex: 3},
		&instruction.Borrow{Quantity: 77},
		&instruction.CachePrices{},
		&instruction.CacheRootBanks{},
		&instruction.PlacePerpOrder{Price: 1000, Quantity: 5, ClientOrderID: 42, Side: state.SideAsk, OrderType: state.OrderTypePostOnly, ReduceOnly: true},
		&instruction.CancelPerpOrderByClientID{ClientOrderID: 9, InvalidIDOk: true},
		&instruction.CancelPerpOrder{OrderID: fmath.Int128{Hi: -5, Lo: 12}, InvalidIDOk: true},
		&instruction.ConsumeEvents{Limit: 8},
		&instruction.CachePerpMarkets{},
		&instruction.UpdateFunding{},
		&instruction.SettleFunds{},
		&instruction.UpdateRootBank{},
		&instruction.SettlePnl{MarketIndex: 3},
		&instruction.ForceCancelSpotOrders{Limit: 10},
		&instruction.ForceCancelPerpOrders{Limit: 20},
		&instruction.LiquidateTokenAndToken{MaxLiabTransfer: fmath.MustFromString("123.5")},
		&instruction.LiquidateTokenAndPerp{AssetType: state.AssetTypePerp, AssetIndex: 2, LiabType: state.AssetTypeToken, LiabIndex: 15, MaxLiabTransfer: fmath.One},
		&instruction.LiquidatePerpMarket{BaseTransferRequest: -2},
		&instruction.SettleFees{},
		&instruction.ResolvePerpBankruptcy{LiabIndex: 1, MaxLiabTransfer: fmath.MustFromString("0.5")},
		&instruction.ResolveTokenBankruptcy{MaxLiabTransfer: fmath.Hundred},
		&instruction.CancelAllPerpOrders{Limit: 4},
		&instruction.AddPerpTriggerOrder{OrderType: state.OrderTypeMarket, TriggerCondition: state.TriggerBelow, ClientOrderID: 7, Quantity: 10, TriggerPrice: fmath.FromInt64(2)},
		&instruction.RemoveAdvancedOrder{OrderIndex: 31},
		&instruction.ExecutePerpTriggerOrder{OrderIndex: 1},
		&instruction.UpdateMarginBasket{},
		&instruction.CloseAccount{},
		&instruction.CreateAccount{AccountNum: 2},
		&instruction.SetDelegate{},
	}
}

func TestRoundTrip(t *testing.T) {
	seen := map[uint32]bool{}
	for _, ix := range allVariants() {
		t.Run(ix.Name(), func(t *testing.T) {
			require.False(t, seen[ix.Discriminant()], "duplicate discriminant")
			seen[ix.Discriminant()] = true

			data, err := instruction.Encode(ix)
			require.NoError(t, err)
			assert.LessOrEqual(t, len(data), instruction.MaxSpan)

			got, err := instruction.Decode(data)
			require.NoError(t, err)
			assert.Equal(t, ix, got)
		})
	}
}

func TestGoldenEncoding(t *testing.T) {
	golden := []instruction.Instruction{
		&instruction.PlacePerpOrder{Price: 1000, Quantity: 5, ClientOrderID: 42, Side: state.SideAsk, OrderType: state.OrderTypePostOnly, ReduceOnly: true},
		&instruction.ConsumeEvents{Limit: 8},
		&instruction.LiquidateTokenAndToken{MaxLiabTransfer: fmath.One},
		&instruction.SettlePnl{MarketIndex: 3},
		&instruction.CachePrices{},
		&instruction.LiquidatePerpMarket{BaseTransferRequest: -2},
		&instruction.ResolvePerpBankruptcy{LiabIndex: 1, MaxLiabTransfer: fmath.MustFromString("0.5")},
		&instruction.AddPerpTriggerOrder{OrderType: state.OrderTypeMarket, TriggerCondition: state.TriggerBelow, ClientOrderID: 7, Quantity: 10, TriggerPrice: fmath.FromInt64(2)},
	}
	var sb strings.Builder
	for _, ix := range golden {
		data, err := instruction.Encode(ix)
		require.NoError(t, err)
		fmt.Fprintf(&sb, "%s %s\n", ix.Name(), hex.EncodeToString(data))
	}
	testutil.AssertGolden(t, "instructions.golden", []byte(sb.String()))
}

func TestDecode_LegacyLengths(t *testing.T) {
	tests := []struct {
		name string
		ix   instruction.Instruction
	}{
		{"place perp order", &instruction.PlacePerpOrder{Price: 10, Quantity: 3, ClientOrderID: 1, Side: state.SideBid, OrderType: state.OrderTypeLimit}},
		{"cancel by client id", &instruction.CancelPerpOrderByClientID{ClientOrderID: 99}},
		{"cancel by order id", &instruction.CancelPerpOrder{OrderID: fmath.Int128{Hi: 1, Lo: 2}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			current, err := instruction.Encode(tt.ix)
			require.NoError(t, err)
			legacy := current[:len(current)-1]

			fromLegacy, err := instruction.Decode(legacy)
			require.NoError(t, err)
			fromCurrent, err := instruction.Decode(current)
			require.NoError(t, err)
			assert.Equal(t, fromCurrent, fromLegacy)
		})
	}
}

func TestDecode_NoPaddingOutsideLegacyPairs(t *testing.T) {
	data, err := instruction.Encode(&instruction.Withdraw{Quantity: 5})
	require.NoError(t, err)

	_, err = instruction.Decode(data[:len(data)-1])
	var de *layout.DecodeError
	require.ErrorAs(t, err, &de)
	assert.ErrorIs(t, err, layout.ErrSpanMismatch)

	// a place-order message one byte shorter than the legacy length is still rejected
	place, err := instruction.Encode(&instruction.PlacePerpOrder{})
	require.NoError(t, err)
	_, err = instruction.Decode(place[:len(place)-2])
	assert.ErrorIs(t, err, layout.ErrSpanMismatch)
}

func TestDecode_Errors(t *testing.T) {
	_, err := instruction.Decode([]byte{1, 0})
	assert.ErrorIs(t, err, layout.ErrShortBuffer)

	_, err = instruction.Decode([]byte{4, 0, 0, 0})
	var de *layout.DecodeError
	require.ErrorAs(t, err, &de)
	assert.ErrorIs(t, err, layout.ErrUnknownDiscriminant)

	data, err := instruction.Encode(&instruction.PlacePerpOrder{Side: state.SideBid})
	require.NoError(t, err)
	data[28] = 7
	_, err = instruction.Decode(data)
	var ee *layout.EnumError
	require.True(t, errors.As(err, &ee))
	assert.Equal(t, "Side", ee.Enum)
	require.ErrorAs(t, err, &de)
	assert.Equal(t, 28, de.Offset)
}

func FuzzDecode(f *testing.F) {
	for _, ix := range allVariants() {
		data, err := instruction.Encode(ix)
		if err != nil {
			f.Fatal(err)
		}
		f.Add(data)
	}
	f.Fuzz(func(t *testing.T, data []byte) {
		ix, err := instruction.Decode(data)
		if err != nil {
			return
		}
		again, err := instruction.Encode(ix)
		if err != nil {
			t.Fatalf("re-encode %s: %v", ix.Name(), err)
		}
		back, err := instruction.Decode(again)
		if err != nil {
			t.Fatalf("decode re-encoded %s: %v", ix.Name(), err)
		}
		if !assert.ObjectsAreEqual(ix, back) {
			t.Fatalf("%s changed across re-encode", ix.Name())
		}
	})
}
