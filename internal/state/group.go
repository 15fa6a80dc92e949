package state

import (
	"context"
	"fmt"

	"MarginMirror/internal/layout"
	fmath "MarginMirror/internal/math"

	"github.com/gagliardetto/solana-go"
)

const GroupSpan = 6032

type TokenInfo struct {
	Mint     solana.PublicKey
	RootBank solana.PublicKey
	Decimals uint8
}

func (t TokenInfo) IsEmpty() bool { return t.Mint.IsZero() }

type SpotMarketInfo struct {
	SpotMarket       solana.PublicKey
	MaintAssetWeight fmath.I80F48
	InitAssetWeight  fmath.I80F48
	MaintLiabWeight  fmath.I80F48
	InitLiabWeight   fmath.I80F48
	LiquidationFee   fmath.I80F48
}

func (s SpotMarketInfo) IsEmpty() bool { return s.SpotMarket.IsZero() }

type PerpMarketInfo struct {
	PerpMarket       solana.PublicKey
	MaintAssetWeight fmath.I80F48
	InitAssetWeight  fmath.I80F48
	MaintLiabWeight  fmath.I80F48
	InitLiabWeight   fmath.I80F48
	LiquidationFee   fmath.I80F48
	MakerFee         fmath.I80F48
	TakerFee         fmath.I80F48
	BaseLotSize      int64
	QuoteLotSize     int64
}

func (p PerpMarketInfo) IsEmpty() bool { return p.PerpMarket.IsZero() }

// Group binds tokens, markets and oracles under one venue instance. Index i is
// shared across Tokens, SpotMarkets, PerpMarkets and Oracles; Tokens[QuoteIndex]
// is the quote asset.
type Group struct {
	Address solana.PublicKey
	Meta    MetaData

	NumOracles  uint64
	Tokens      [MaxTokens]TokenInfo
	SpotMarkets [MaxPairs]SpotMarketInfo
	PerpMarkets [MaxPairs]PerpMarketInfo
	Oracles     [MaxPairs]solana.PublicKey

	SignerNonce   uint64
	SignerKey     solana.PublicKey
	Admin         solana.PublicKey
	DexProgramID  solana.PublicKey
	Cache         solana.PublicKey
	ValidInterval uint64

	InsuranceVault solana.PublicKey
	SrmVault       solana.PublicKey
	MsrmVault      solana.PublicKey
	FeesVault      solana.PublicKey

	MaxAccounts          uint32
	NumAccounts          uint32
	RefSurchargeCentibps uint32
	RefShareCentibps     uint32
	RefMngoRequired      uint64
}

func (g *Group) Key() solana.PublicKey { return g.Address }
func (g *Group) Kind() string          { return "Group" }

// DecodeGroup decodes a group account.
func DecodeGroup(addr solana.PublicKey, data []byte) (*Group, error) {
	g := &Group{Address: addr}
	if err := layout.DecodeExact("Group", addr, data, GroupSpan, g.decode); err != nil {
		return nil, err
	}
	return g, nil
}

func (g *Group) decode(r *layout.Reader) {
	g.Meta = readMeta(r, DataTypeGroup)
	g.NumOracles = r.U64()
	for i := range g.Tokens {
		t := &g.Tokens[i]
		t.Mint = r.PublicKey()
		t.RootBank = r.PublicKey()
		t.Decimals = r.U8()
		r.Pad(7)
	}
	for i := range g.SpotMarkets {
		s := &g.SpotMarkets[i]
		s.SpotMarket = r.PublicKey()
		s.MaintAssetWeight = r.I80F48()
		s.InitAssetWeight = r.I80F48()
		s.MaintLiabWeight = r.I80F48()
		s.InitLiabWeight = r.I80F48()
		s.LiquidationFee = r.I80F48()
	}
	for i := range g.PerpMarkets {
		p := &g.PerpMarkets[i]
		p.PerpMarket = r.PublicKey()
		p.MaintAssetWeight = r.I80F48()
		p.InitAssetWeight = r.I80F48()
		p.MaintLiabWeight = r.I80F48()
		p.InitLiabWeight = r.I80F48()
		p.LiquidationFee = r.I80F48()
		p.MakerFee = r.I80F48()
		p.TakerFee = r.I80F48()
		p.BaseLotSize = r.I64()
		p.QuoteLotSize = r.I64()
	}
	for i := range g.Oracles {
		g.Oracles[i] = r.PublicKey()
	}
	g.SignerNonce = r.U64()
	g.SignerKey = r.PublicKey()
	g.Admin = r.PublicKey()
	g.DexProgramID = r.PublicKey()
	g.Cache = r.PublicKey()
	g.ValidInterval = r.U64()
	g.InsuranceVault = r.PublicKey()
	g.SrmVault = r.PublicKey()
	g.MsrmVault = r.PublicKey()
	g.FeesVault = r.PublicKey()
	g.MaxAccounts = r.U32()
	g.NumAccounts = r.U32()
	g.RefSurchargeCentibps = r.U32()
	g.RefShareCentibps = r.U32()
	g.RefMngoRequired = r.U64()
	r.Pad(8)
}

func (g *Group) Encode() ([]byte, error) {
	return layout.EncodeExact("Group", GroupSpan, func(w *layout.Writer) {
		writeMeta(w, g.Meta)
		w.U64(g.NumOracles)
		for _, t := range g.Tokens {
			w.PublicKey(t.Mint)
			w.PublicKey(t.RootBank)
			w.U8(t.Decimals)
			w.Pad(7)
		}
		for _, s := range g.SpotMarkets {
			w.PublicKey(s.SpotMarket)
			w.I80F48(s.MaintAssetWeight)
			w.I80F48(s.InitAssetWeight)
			w.I80F48(s.MaintLiabWeight)
			w.I80F48(s.InitLiabWeight)
			w.I80F48(s.LiquidationFee)
		}
		for _, p := range g.PerpMarkets {
			w.PublicKey(p.PerpMarket)
			w.I80F48(p.MaintAssetWeight)
			w.I80F48(p.InitAssetWeight)
			w.I80F48(p.MaintLiabWeight)
			w.I80F48(p.InitLiabWeight)
			w.I80F48(p.LiquidationFee)
			w.I80F48(p.MakerFee)
			w.I80F48(p.TakerFee)
			w.I64(p.BaseLotSize)
			w.I64(p.QuoteLotSize)
		}
		for _, o := range g.Oracles {
			w.PublicKey(o)
		}
		w.U64(g.SignerNonce)
		w.PublicKey(g.SignerKey)
		w.PublicKey(g.Admin)
		w.PublicKey(g.DexProgramID)
		w.PublicKey(g.Cache)
		w.U64(g.ValidInterval)
		w.PublicKey(g.InsuranceVault)
		w.PublicKey(g.SrmVault)
		w.PublicKey(g.MsrmVault)
		w.PublicKey(g.FeesVault)
		w.U32(g.MaxAccounts)
		w.U32(g.NumAccounts)
		w.U32(g.RefSurchargeCentibps)
		w.U32(g.RefShareCentibps)
		w.U64(g.RefMngoRequired)
		w.Pad(8)
	})
}

// Reload refetches and re-decodes the group in place.
func (g *Group) Reload(ctx context.Context, f Fetcher) error {
	data, err := fetch(ctx, f, "Group", g.Address)
	if err != nil {
		return err
	}
	fresh, err := DecodeGroup(g.Address, data)
	if err != nil {
		return err
	}
	*g = *fresh
	return nil
}

// TokenIndex scans the token table for mint.
func (g *Group) TokenIndex(mint solana.PublicKey) (int, error) {
	for i, t := range g.Tokens {
		if t.Mint.Equals(mint) {
			return i, nil
		}
	}
	return -1, &LookupError{Kind: "token", Key: mint.String()}
}

func (g *Group) SpotMarketIndex(market solana.PublicKey) (int, error) {
	for i, s := range g.SpotMarkets {
		if s.SpotMarket.Equals(market) {
			return i, nil
		}
	}
	return -1, &LookupError{Kind: "spot market", Key: market.String()}
}

func (g *Group) PerpMarketIndex(market solana.PublicKey) (int, error) {
	for i, p := range g.PerpMarkets {
		if p.PerpMarket.Equals(market) {
			return i, nil
		}
	}
	return -1, &LookupError{Kind: "perp market", Key: market.String()}
}

func (g *Group) RootBankIndex(bank solana.PublicKey) (int, error) {
	for i, t := range g.Tokens {
		if t.RootBank.Equals(bank) {
			return i, nil
		}
	}
	return -1, &LookupError{Kind: "root bank", Key: bank.String()}
}

func (g *Group) OracleIndex(oracle solana.PublicKey) (int, error) {
	for i := 0; i < int(g.NumOracles) && i < MaxPairs; i++ {
		if g.Oracles[i].Equals(oracle) {
			return i, nil
		}
	}
	return -1, &LookupError{Kind: "oracle", Key: oracle.String()}
}

// QuoteToken is the reserve asset every price is denominated in.
func (g *Group) QuoteToken() TokenInfo { return g.Tokens[QuoteIndex] }

// MarketCount bounds the per-index loops of the health engine.
func (g *Group) MarketCount() int {
	if g.NumOracles > MaxPairs {
		return MaxPairs
	}
	return int(g.NumOracles)
}

// LoadRootBanks fetches every registered root bank, indexed by token.
func (g *Group) LoadRootBanks(ctx context.Context, f Fetcher) ([MaxTokens]*RootBank, error) {
	var banks [MaxTokens]*RootBank
	addrs := make([]solana.PublicKey, MaxTokens)
	for i, t := range g.Tokens {
		addrs[i] = t.RootBank
	}
	datas, err := fetchMany(ctx, f, "RootBank", addrs)
	if err != nil {
		return banks, err
	}
	for i, d := range datas {
		if d == nil {
			continue
		}
		rb, err := DecodeRootBank(addrs[i], d)
		if err != nil {
			return banks, fmt.Errorf("root bank %d: %w", i, err)
		}
		banks[i] = rb
	}
	return banks, nil
}

// LoadCache fetches the group's price/index/funding cache.
func (g *Group) LoadCache(ctx context.Context, f Fetcher) (*Cache, error) {
	data, err := fetch(ctx, f, "Cache", g.Cache)
	if err != nil {
		return nil, err
	}
	return DecodeCache(g.Cache, data)
}

// LoadPerpMarkets fetches every registered perp market, indexed by market.
func (g *Group) LoadPerpMarkets(ctx context.Context, f Fetcher) ([MaxPairs]*PerpMarket, error) {
	var markets [MaxPairs]*PerpMarket
	addrs := make([]solana.PublicKey, MaxPairs)
	for i, p := range g.PerpMarkets {
		addrs[i] = p.PerpMarket
	}
	datas, err := fetchMany(ctx, f, "PerpMarket", addrs)
	if err != nil {
		return markets, err
	}
	for i, d := range datas {
		if d == nil {
			continue
		}
		pm, err := DecodePerpMarket(addrs[i], d)
		if err != nil {
			return markets, fmt.Errorf("perp market %d: %w", i, err)
		}
		markets[i] = pm
	}
	return markets, nil
}
