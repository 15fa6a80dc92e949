package instruction_test

import (
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"MarginMirror/internal/instruction"
	fmath "MarginMirror/internal/math"
	"MarginMirror/internal/state"
	"MarginMirror/internal/testutil"
)

var programID = testutil.Key(250)

func TestBuilder_CachePrices(t *testing.T) {
	f := testutil.NewGroupFixture(6).
		AddSpot(0, 6, "10", testutil.SpotWeights).
		AddSpot(1, 9, "20", testutil.SpotWeights)
	b := instruction.NewBuilder(programID, f.Group)

	ix, err := b.CachePrices()
	require.NoError(t, err)
	assert.Equal(t, programID, ix.ProgramID())

	accounts := ix.Accounts()
	require.Len(t, accounts, 4)
	assert.Equal(t, f.Group.Address, accounts[0].PublicKey)
	assert.True(t, accounts[1].IsWritable)
	assert.Equal(t, f.Group.Oracles[1], accounts[3].PublicKey)

	data, err := ix.Data()
	require.NoError(t, err)
	assert.Equal(t, []byte{7, 0, 0, 0}, data)
}

func TestBuilder_LiquidatePerpMarket(t *testing.T) {
	f := testutil.NewGroupFixture(6).AddPerp(0, 6, "10", testutil.PerpWeights, 10, 1)
	pm := f.PerpMarket(0)
	liqee := f.Account(60)
	liqee.InMarginBasket[2] = true
	liqee.SpotOpenOrders[2] = testutil.Key(91)
	liqor := instruction.Liquidator{Account: f.Account(70), Owner: testutil.Key(71)}

	b := instruction.NewBuilder(programID, f.Group)
	ix, err := b.LiquidatePerpMarket(pm, liqee, liqor, 5)
	require.NoError(t, err)

	accounts := ix.Accounts()
	require.Len(t, accounts, 8)
	assert.Equal(t, pm.EventQueue, accounts[3].PublicKey)
	assert.True(t, accounts[6].IsSigner)
	assert.False(t, accounts[6].IsWritable)
	assert.Equal(t, testutil.Key(91), accounts[7].PublicKey)

	data, err := ix.Data()
	require.NoError(t, err)
	decoded, err := instruction.Decode(data)
	require.NoError(t, err)
	assert.Equal(t, &instruction.LiquidatePerpMarket{BaseTransferRequest: 5}, decoded)
}

func TestBuilder_SettlePnlNeedsNodeBank(t *testing.T) {
	f := testutil.NewGroupFixture(6)
	b := instruction.NewBuilder(programID, f.Group)
	rb := &state.RootBank{Address: testutil.Key(4)}

	_, err := b.SettlePnl(testutil.Key(60), testutil.Key(62), rb, 0)
	assert.ErrorIs(t, err, state.ErrNotFound)

	rb.NumNodeBanks = 1
	rb.NodeBanks[0] = testutil.Key(5)
	ix, err := b.SettlePnl(testutil.Key(60), testutil.Key(62), rb, 0)
	require.NoError(t, err)
	accounts := ix.Accounts()
	require.Len(t, accounts, 6)
	assert.Equal(t, testutil.Key(5), accounts[5].PublicKey)
	assert.True(t, accounts[5].IsWritable)
}

func TestBuilder_ResolveTokenBankruptcy(t *testing.T) {
	f := testutil.NewGroupFixture(6).AddSpot(0, 6, "10", testutil.SpotWeights)
	f.Group.InsuranceVault = testutil.Key(30)
	b := instruction.NewBuilder(programID, f.Group)

	quote := &state.RootBank{Address: testutil.Key(4), NumNodeBanks: 1}
	quote.NodeBanks[0] = testutil.Key(5)
	liab := &state.RootBank{Address: testutil.Key(40), NumNodeBanks: 2}
	liab.NodeBanks[0], liab.NodeBanks[1] = testutil.Key(41), testutil.Key(42)

	liqor := instruction.Liquidator{Account: f.Account(70), Owner: testutil.Key(71)}
	ix, err := b.ResolveTokenBankruptcy(f.Account(60), liqor, quote, testutil.Key(6), liab, fmath.FromInt64(500))
	require.NoError(t, err)

	accounts := ix.Accounts()
	require.Len(t, accounts, 14)
	assert.Equal(t, testutil.Key(30), accounts[8].PublicKey)
	assert.Equal(t, testutil.Key(42), accounts[12].PublicKey)
	assert.Equal(t, solana.TokenProgramID, accounts[13].PublicKey)
}
