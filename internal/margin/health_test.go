package margin_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"MarginMirror/internal/margin"
	fmath "MarginMirror/internal/math"
	"MarginMirror/internal/state"
	"MarginMirror/internal/testutil"
)

// weights that are exact in binary fixed point
var exact = testutil.Weights{MaintAsset: "0.875", InitAsset: "0.75", MaintLiab: "1.125", InitLiab: "1.25"}

func d(s string) fmath.I80F48 { return fmath.MustFromString(s) }

func TestHealth_EmptyAccount(t *testing.T) {
	f, _ := testutil.SingleDeposit()
	a := f.Account(60)
	mc := margin.NewMarginCalculator(f.Group, f.Cache)

	for _, ht := range []margin.HealthType{margin.HealthTypeInit, margin.HealthTypeMaint} {
		h, err := mc.Health(a, ht)
		require.NoError(t, err)
		assert.True(t, h.IsZero(), ht.String())

		r, err := mc.HealthRatio(a, ht)
		require.NoError(t, err)
		assert.Equal(t, fmath.Hundred, r, ht.String())
	}

	v, err := mc.ComputeValue(a)
	require.NoError(t, err)
	assert.True(t, v.IsZero())

	lev, err := mc.Leverage(a)
	require.NoError(t, err)
	assert.True(t, lev.IsZero())

	liq, err := mc.IsLiquidatable(a)
	require.NoError(t, err)
	assert.False(t, liq)

	status, err := mc.Status(a)
	require.NoError(t, err)
	assert.Equal(t, margin.MarginStatusHealthy, status)
}

// A single BTC deposit at 0.8/0.9 asset weights. The exact strings pin the
// floored multiplies: price first, weight second.
func TestHealth_SingleDeposit(t *testing.T) {
	f, a := testutil.SingleDeposit()
	mc := margin.NewMarginCalculator(f.Group, f.Cache)

	init, err := mc.Health(a, margin.HealthTypeInit)
	require.NoError(t, err)
	assert.Equal(t, "37904259999.9998653364485790007165633141994476318359375", init.String())

	maint, err := mc.Health(a, margin.HealthTypeMaint)
	require.NoError(t, err)
	assert.Equal(t, "42642292499.99993266786901813247823156416416168212890625", maint.String())

	for _, ht := range []margin.HealthType{margin.HealthTypeInit, margin.HealthTypeMaint} {
		r, err := mc.HealthRatio(a, ht)
		require.NoError(t, err)
		assert.Equal(t, fmath.Hundred, r)
	}

	v, err := mc.ComputeValue(a)
	require.NoError(t, err)
	assert.Equal(t, "47380.324999999999999289457264239899814128875732421875", v.String())

	lev, err := mc.Leverage(a)
	require.NoError(t, err)
	assert.True(t, lev.IsZero())

	liq, err := mc.IsLiquidatable(a)
	require.NoError(t, err)
	assert.False(t, liq)
}

func TestHealth_Leveraged(t *testing.T) {
	f, a := testutil.Leveraged()
	mc := margin.NewMarginCalculator(f.Group, f.Cache)

	init, err := mc.Health(a, margin.HealthTypeInit)
	require.NoError(t, err)
	assert.Equal(t, "-162095740000.0001346635514209992834366858005523681640625", init.String())

	maint, err := mc.Health(a, margin.HealthTypeMaint)
	require.NoError(t, err)
	assert.Equal(t, "-157357707500.00006733213098186752176843583583831787109375", maint.String())

	lev, err := mc.Leverage(a)
	require.NoError(t, err)
	assert.Equal(t, "-1.310447031157679020907380618155002593994140625", lev.String())

	initRatio, err := mc.HealthRatio(a, margin.HealthTypeInit)
	require.NoError(t, err)
	assert.Equal(t, "-81.0478700000000884529072209261357784271240234375", initRatio.String())

	maintRatio, err := mc.HealthRatio(a, margin.HealthTypeMaint)
	require.NoError(t, err)
	assert.Equal(t, "-78.67885375000014391844160854816436767578125", maintRatio.String())

	liq, err := mc.IsLiquidatable(a)
	require.NoError(t, err)
	assert.True(t, liq)

	status, err := mc.Status(a)
	require.NoError(t, err)
	assert.Equal(t, margin.MarginStatusLiquidatable, status)

	price, ok, err := mc.LiquidationPrice(a, 0)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "222222.222222222573105199217025074176490306854248046875", price.String())
}

func TestHealth_FractionalIndexes(t *testing.T) {
	f, a := testutil.Fractional()
	mc := margin.NewMarginCalculator(f.Group, f.Cache)

	comp, err := mc.Components(a)
	require.NoError(t, err)
	assert.Equal(t, "1000122.58013757184509273656658479012548923492431640625", comp.Spot[0].String())
	assert.Equal(t, "-12968749.9999999733546474089962430298328399658203125", comp.Spot[1].String())
	assert.Equal(t, "250050.500099999883470758277326240204274654388427734375", comp.Quote.String())

	tests := []struct {
		ht     margin.HealthType
		health string
		assets string
		liabs  string
		ratio  string
	}{
		{
			ht:     margin.HealthTypeInit,
			health: "12219359484.9053922980941848663860582746565341949462890625",
			assets: "37909156359.905324304899778553590294905006885528564453125",
			liabs:  "25689796874.999932006805590134490557829849421977996826171875",
			ratio:  "47.565029588835017193559906445443630218505859375",
		},
		{
			ht:     margin.HealthTypeMaint,
			health: "19098789179.831155535251813404329368495382368564605712890625",
			assets: "42647769648.58106151770806491185794584453105926513671875",
			liabs:  "23548980468.74990598245624795481489854864776134490966796875",
			ratio:  "81.102403584629456645416212268173694610595703125",
		},
		{
			ht:     margin.HealthTypeNone,
			health: "25978218874.756842715332140869577415287494659423828125",
			assets: "47386382937.256798730516351270125596784055233001708984375",
			liabs:  "21408164062.499956015184210400548181496560573577880859375",
		},
	}
	for _, tt := range tests {
		t.Run(tt.ht.String(), func(t *testing.T) {
			h, err := mc.Health(a, tt.ht)
			require.NoError(t, err)
			assert.Equal(t, tt.health, h.String())

			assets, liabs, err := mc.AssetsLiabs(a, tt.ht)
			require.NoError(t, err)
			assert.Equal(t, tt.assets, assets.String())
			assert.Equal(t, tt.liabs, liabs.String())

			if tt.ratio != "" {
				r, err := mc.HealthRatio(a, tt.ht)
				require.NoError(t, err)
				assert.Equal(t, tt.ratio, r.String())
			}
		})
	}

	v, err := mc.ComputeValue(a)
	require.NoError(t, err)
	assert.Equal(t, "25978.218874756842715332140869577415287494659423828125", v.String())

	lev, err := mc.Leverage(a)
	require.NoError(t, err)
	assert.Equal(t, "0.824081287701456943750599748454988002777099609375", lev.String())

	btc, ok, err := mc.LiquidationPrice(a, 0)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "26162.04907270311020539566015941090881824493408203125", btc.String())

	eth, ok, err := mc.LiquidationPrice(a, 1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "2989.547927173273638601358470623381435871124267578125", eth.String())
}

// Weighing before pricing, or negating after the floor, lands on a different
// 2^-48 step than the program does.
func TestHealth_PriceBeforeWeight(t *testing.T) {
	f, a := testutil.Fractional()
	mc := margin.NewMarginCalculator(f.Group, f.Cache)
	comp, err := mc.Components(a)
	require.NoError(t, err)

	price, w := f.Cache.Price(0), f.Group.SpotMarkets[0].InitAssetWeight
	want := comp.Spot[0].Mul(price).Mul(w)
	assert.NotEqual(t, comp.Spot[0].Mul(w).Mul(price), want)

	onlyBTC := comp.Health(f.Group, f.Cache, margin.HealthTypeInit).
		Sub(comp.Quote).
		Sub(comp.Spot[1].Mul(f.Cache.Price(1)).Mul(f.Group.SpotMarkets[1].InitLiabWeight))
	assert.Equal(t, want, onlyBTC)

	short := comp.Spot[1]
	liabW := f.Group.SpotMarkets[1].InitLiabWeight
	_, liabs := comp.AssetsLiabs(f.Group, f.Cache, margin.HealthTypeInit)
	assert.Equal(t, short.Neg().Mul(f.Cache.Price(1)).Mul(liabW), liabs)
	assert.NotEqual(t, short.Mul(f.Cache.Price(1)).Mul(liabW).Neg(), liabs)
}

func TestHealth_BeingLiquidatedUsesInitHealth(t *testing.T) {
	f := testutil.NewGroupFixture(6).AddSpot(0, 6, "2", exact)
	a := f.Account(60)
	testutil.Deposit(a, 0, "1000")
	testutil.Borrow(a, state.QuoteIndex, "1600")
	mc := margin.NewMarginCalculator(f.Group, f.Cache)

	// init 1500-1600 < 0, maint 1750-1600 > 0
	status, err := mc.Status(a)
	require.NoError(t, err)
	assert.Equal(t, margin.MarginStatusAtRisk, status)

	liq, err := mc.IsLiquidatable(a)
	require.NoError(t, err)
	assert.False(t, liq)

	a.BeingLiquidated = true
	liq, err = mc.IsLiquidatable(a)
	require.NoError(t, err)
	assert.True(t, liq)
}

func TestHealthComponents_SpotOpenOrders(t *testing.T) {
	f := testutil.NewGroupFixture(6).AddSpot(0, 6, "2", exact)

	newAccount := func() *state.Account {
		a := f.Account(60)
		testutil.Deposit(a, state.QuoteIndex, "1000")
		a.InMarginBasket[0] = true
		a.SpotOpenOrders[0] = testutil.Key(90)
		a.SpotOpenOrdersAccounts[0] = &state.OpenOrders{
			Address:         testutil.Key(90),
			QuoteTokenTotal: 200,
			BaseTokenFree:   10,
			BaseTokenTotal:  50,
		}
		return a
	}

	t.Run("bids dominate", func(t *testing.T) {
		comp, err := margin.ComputeHealthComponents(f.Group, newAccount(), f.Cache)
		require.NoError(t, err)
		assert.Equal(t, d("150"), comp.Spot[0])
		assert.Equal(t, d("1000"), comp.Quote)
	})

	t.Run("asks dominate", func(t *testing.T) {
		a := newAccount()
		testutil.Borrow(a, 0, "200")
		comp, err := margin.ComputeHealthComponents(f.Group, a, f.Cache)
		require.NoError(t, err)
		assert.Equal(t, d("-190"), comp.Spot[0])
		assert.Equal(t, d("1280"), comp.Quote)
	})

	t.Run("not loaded", func(t *testing.T) {
		a := newAccount()
		a.SpotOpenOrdersAccounts[0] = nil
		_, err := margin.ComputeHealthComponents(f.Group, a, f.Cache)
		assert.ErrorIs(t, err, state.ErrNotLoaded)
	})
}

func TestHealthComponents_PerpRestingOrders(t *testing.T) {
	f := testutil.NewGroupFixture(6).AddPerp(1, 6, "10", exact, 10, 1)
	a := f.Account(60)
	pa := &a.PerpAccounts[1]
	pa.BasePosition = 2
	pa.QuotePosition = d("-200")
	pa.BidsQuantity = 3
	pa.AsksQuantity = 1

	comp, err := margin.ComputeHealthComponents(f.Group, a, f.Cache)
	require.NoError(t, err)
	// bids: 20+30 = 50 base beats asks: 20-10 = 10
	assert.Equal(t, d("50"), comp.Perps[1])
	assert.Equal(t, d("-500"), comp.Quote)

	pa.BidsQuantity = 0
	pa.AsksQuantity = 5
	comp, err = margin.ComputeHealthComponents(f.Group, a, f.Cache)
	require.NoError(t, err)
	assert.Equal(t, d("-30"), comp.Perps[1])
	assert.Equal(t, d("300"), comp.Quote)
}
