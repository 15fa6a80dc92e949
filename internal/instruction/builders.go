package instruction

import (
	"fmt"

	"github.com/gagliardetto/solana-go"

	fmath "MarginMirror/internal/math"
	"MarginMirror/internal/state"
)

// Builder wraps payloads into program instructions with the account metas the
// program expects for one group.
type Builder struct {
	ProgramID solana.PublicKey
	Group     *state.Group
}

func NewBuilder(programID solana.PublicKey, g *state.Group) *Builder {
	return &Builder{ProgramID: programID, Group: g}
}

func (b *Builder) build(ix Instruction, accounts solana.AccountMetaSlice) (solana.Instruction, error) {
	data, err := Encode(ix)
	if err != nil {
		return nil, err
	}
	return solana.NewInstruction(b.ProgramID, accounts, data), nil
}

func ro(pk solana.PublicKey) *solana.AccountMeta     { return solana.NewAccountMeta(pk, false, false) }
func rw(pk solana.PublicKey) *solana.AccountMeta     { return solana.NewAccountMeta(pk, true, false) }
func signer(pk solana.PublicKey) *solana.AccountMeta { return solana.NewAccountMeta(pk, false, true) }

// basketOpenOrders lists a's spot open-orders keys in market order, read-only.
func basketOpenOrders(a *state.Account) solana.AccountMetaSlice {
	var metas solana.AccountMetaSlice
	for i, in := range a.InMarginBasket {
		if in {
			metas = append(metas, ro(a.SpotOpenOrders[i]))
		}
	}
	return metas
}

func firstNodeBank(rb *state.RootBank) (solana.PublicKey, error) {
	if rb.NumNodeBanks == 0 {
		return solana.PublicKey{}, fmt.Errorf("root bank %s has no node banks: %w", rb.Address, state.ErrNotFound)
	}
	return rb.NodeBanks[0], nil
}

// CachePrices refreshes the oracle prices of every registered market.
func (b *Builder) CachePrices() (solana.Instruction, error) {
	metas := solana.AccountMetaSlice{ro(b.Group.Address), rw(b.Group.Cache)}
	for i := 0; i < b.Group.MarketCount(); i++ {
		metas = append(metas, ro(b.Group.Oracles[i]))
	}
	return b.build(&CachePrices{}, metas)
}

func (b *Builder) CacheRootBanks() (solana.Instruction, error) {
	metas := solana.AccountMetaSlice{ro(b.Group.Address), rw(b.Group.Cache)}
	for _, t := range b.Group.Tokens {
		if !t.IsEmpty() {
			metas = append(metas, ro(t.RootBank))
		}
	}
	return b.build(&CacheRootBanks{}, metas)
}

func (b *Builder) CachePerpMarkets() (solana.Instruction, error) {
	metas := solana.AccountMetaSlice{ro(b.Group.Address), rw(b.Group.Cache)}
	for _, pm := range b.Group.PerpMarkets {
		if !pm.IsEmpty() {
			metas = append(metas, ro(pm.PerpMarket))
		}
	}
	return b.build(&CachePerpMarkets{}, metas)
}

// UpdateRootBank accrues interest on rb across all of its node banks.
func (b *Builder) UpdateRootBank(rb *state.RootBank) (solana.Instruction, error) {
	metas := solana.AccountMetaSlice{ro(b.Group.Address), rw(rb.Address)}
	for i := uint64(0); i < rb.NumNodeBanks && i < state.MaxNodeBanks; i++ {
		metas = append(metas, rw(rb.NodeBanks[i]))
	}
	return b.build(&UpdateRootBank{}, metas)
}

func (b *Builder) UpdateFunding(pm *state.PerpMarket) (solana.Instruction, error) {
	return b.build(&UpdateFunding{}, solana.AccountMetaSlice{
		ro(b.Group.Address),
		ro(b.Group.Cache),
		rw(pm.Address),
		ro(pm.Bids),
		ro(pm.Asks),
	})
}

// ConsumeEvents cranks up to limit events. accounts must hold every account
// named by those events.
func (b *Builder) ConsumeEvents(pm *state.PerpMarket, accounts []solana.PublicKey, limit uint64) (solana.Instruction, error) {
	metas := solana.AccountMetaSlice{
		ro(b.Group.Address),
		ro(b.Group.Cache),
		rw(pm.Address),
		rw(pm.EventQueue),
	}
	for _, a := range accounts {
		metas = append(metas, rw(a))
	}
	return b.build(&ConsumeEvents{Limit: limit}, metas)
}

// SettlePnl moves realized perp PnL at marketIndex between two accounts
// through the quote bank.
func (b *Builder) SettlePnl(first, second solana.PublicKey, quoteBank *state.RootBank, marketIndex int) (solana.Instruction, error) {
	node, err := firstNodeBank(quoteBank)
	if err != nil {
		return nil, err
	}
	return b.build(&SettlePnl{MarketIndex: uint64(marketIndex)}, solana.AccountMetaSlice{
		ro(b.Group.Address),
		rw(first),
		rw(second),
		ro(b.Group.Cache),
		ro(quoteBank.Address),
		rw(node),
	})
}

func (b *Builder) ForceCancelPerpOrders(pm *state.PerpMarket, liqee *state.Account, limit uint8) (solana.Instruction, error) {
	metas := solana.AccountMetaSlice{
		ro(b.Group.Address),
		ro(b.Group.Cache),
		ro(pm.Address),
		rw(pm.Bids),
		rw(pm.Asks),
		rw(liqee.Address),
	}
	metas = append(metas, basketOpenOrders(liqee)...)
	return b.build(&ForceCancelPerpOrders{Limit: limit}, metas)
}

// Liquidator identifies the account taking over positions and its signing owner.
type Liquidator struct {
	Account *state.Account
	Owner   solana.PublicKey
}

func (b *Builder) LiquidatePerpMarket(pm *state.PerpMarket, liqee *state.Account, liqor Liquidator, baseTransfer int64) (solana.Instruction, error) {
	metas := solana.AccountMetaSlice{
		ro(b.Group.Address),
		ro(b.Group.Cache),
		rw(pm.Address),
		rw(pm.EventQueue),
		rw(liqee.Address),
		rw(liqor.Account.Address),
		signer(liqor.Owner),
	}
	metas = append(metas, basketOpenOrders(liqee)...)
	metas = append(metas, basketOpenOrders(liqor.Account)...)
	return b.build(&LiquidatePerpMarket{BaseTransferRequest: baseTransfer}, metas)
}

func (b *Builder) LiquidateTokenAndToken(liqee *state.Account, liqor Liquidator, asset, liab *state.RootBank, maxLiab fmath.I80F48) (solana.Instruction, error) {
	assetNode, err := firstNodeBank(asset)
	if err != nil {
		return nil, err
	}
	liabNode, err := firstNodeBank(liab)
	if err != nil {
		return nil, err
	}
	metas := solana.AccountMetaSlice{
		ro(b.Group.Address),
		ro(b.Group.Cache),
		rw(liqee.Address),
		rw(liqor.Account.Address),
		signer(liqor.Owner),
		ro(asset.Address),
		rw(assetNode),
		ro(liab.Address),
		rw(liabNode),
	}
	metas = append(metas, basketOpenOrders(liqee)...)
	metas = append(metas, basketOpenOrders(liqor.Account)...)
	return b.build(&LiquidateTokenAndToken{MaxLiabTransfer: maxLiab}, metas)
}

// LiquidateTokenAndPerp needs the root bank of whichever side is the token.
func (b *Builder) LiquidateTokenAndPerp(liqee *state.Account, liqor Liquidator, bank *state.RootBank, ix *LiquidateTokenAndPerp) (solana.Instruction, error) {
	node, err := firstNodeBank(bank)
	if err != nil {
		return nil, err
	}
	metas := solana.AccountMetaSlice{
		ro(b.Group.Address),
		ro(b.Group.Cache),
		rw(liqee.Address),
		rw(liqor.Account.Address),
		signer(liqor.Owner),
		ro(bank.Address),
		rw(node),
	}
	metas = append(metas, basketOpenOrders(liqee)...)
	metas = append(metas, basketOpenOrders(liqor.Account)...)
	return b.build(ix, metas)
}

// ResolvePerpBankruptcy pays a bankrupt perp liability out of the insurance
// vault through the quote bank.
func (b *Builder) ResolvePerpBankruptcy(pm *state.PerpMarket, liqee *state.Account, liqor Liquidator, quoteBank *state.RootBank, quoteVault solana.PublicKey, liabIndex int, maxLiab fmath.I80F48) (solana.Instruction, error) {
	node, err := firstNodeBank(quoteBank)
	if err != nil {
		return nil, err
	}
	metas := solana.AccountMetaSlice{
		ro(b.Group.Address),
		rw(b.Group.Cache),
		rw(liqee.Address),
		rw(liqor.Account.Address),
		signer(liqor.Owner),
		rw(pm.Address),
		ro(quoteBank.Address),
		rw(node),
		rw(quoteVault),
		rw(b.Group.InsuranceVault),
		ro(b.Group.SignerKey),
		ro(solana.TokenProgramID),
	}
	metas = append(metas, basketOpenOrders(liqor.Account)...)
	return b.build(&ResolvePerpBankruptcy{LiabIndex: uint64(liabIndex), MaxLiabTransfer: maxLiab}, metas)
}

// ResolveTokenBankruptcy socializes whatever of a bankrupt token borrow the
// insurance vault cannot cover.
func (b *Builder) ResolveTokenBankruptcy(liqee *state.Account, liqor Liquidator, quoteBank *state.RootBank, quoteVault solana.PublicKey, liab *state.RootBank, maxLiab fmath.I80F48) (solana.Instruction, error) {
	quoteNode, err := firstNodeBank(quoteBank)
	if err != nil {
		return nil, err
	}
	metas := solana.AccountMetaSlice{
		ro(b.Group.Address),
		rw(b.Group.Cache),
		rw(liqee.Address),
		rw(liqor.Account.Address),
		signer(liqor.Owner),
		rw(quoteBank.Address),
		rw(quoteNode),
		rw(quoteVault),
		rw(b.Group.InsuranceVault),
		ro(b.Group.SignerKey),
		rw(liab.Address),
	}
	for i := uint64(0); i < liab.NumNodeBanks && i < state.MaxNodeBanks; i++ {
		metas = append(metas, rw(liab.NodeBanks[i]))
	}
	metas = append(metas, ro(solana.TokenProgramID))
	metas = append(metas, basketOpenOrders(liqor.Account)...)
	return b.build(&ResolveTokenBankruptcy{MaxLiabTransfer: maxLiab}, metas)
}
