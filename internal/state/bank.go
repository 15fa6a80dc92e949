package state

import (
	"context"
	"fmt"

	"MarginMirror/internal/layout"
	fmath "MarginMirror/internal/math"

	"github.com/gagliardetto/solana-go"
)

const (
	RootBankSpan = 424
	NodeBankSpan = 72
)

// RootBank holds a token's interest curve and its deposit and borrow indexes.
// A native balance is shares times the matching index.
type RootBank struct {
	Address solana.PublicKey
	Meta    MetaData

	OptimalUtil  fmath.I80F48
	OptimalRate  fmath.I80F48
	MaxRate      fmath.I80F48
	NumNodeBanks uint64
	NodeBanks    [MaxNodeBanks]solana.PublicKey
	DepositIndex fmath.I80F48
	BorrowIndex  fmath.I80F48
	LastUpdated  uint64

	// NodeBankAccounts is filled by LoadNodeBanks and not part of the layout.
	NodeBankAccounts []*NodeBank
}

func (rb *RootBank) Key() solana.PublicKey { return rb.Address }
func (rb *RootBank) Kind() string          { return "RootBank" }

func DecodeRootBank(addr solana.PublicKey, data []byte) (*RootBank, error) {
	rb := &RootBank{Address: addr}
	err := layout.DecodeExact("RootBank", addr, data, RootBankSpan, func(r *layout.Reader) {
		rb.Meta = readMeta(r, DataTypeRootBank)
		rb.OptimalUtil = r.I80F48()
		rb.OptimalRate = r.I80F48()
		rb.MaxRate = r.I80F48()
		rb.NumNodeBanks = r.U64()
		for i := range rb.NodeBanks {
			rb.NodeBanks[i] = r.PublicKey()
		}
		rb.DepositIndex = r.I80F48()
		rb.BorrowIndex = r.I80F48()
		rb.LastUpdated = r.U64()
		r.Pad(64)
		if r.Err() == nil && rb.NumNodeBanks > MaxNodeBanks {
			r.Fail(fmt.Errorf("node bank count %d exceeds %d", rb.NumNodeBanks, MaxNodeBanks))
		}
	})
	if err != nil {
		return nil, err
	}
	return rb, nil
}

func (rb *RootBank) Encode() ([]byte, error) {
	return layout.EncodeExact("RootBank", RootBankSpan, func(w *layout.Writer) {
		writeMeta(w, rb.Meta)
		w.I80F48(rb.OptimalUtil)
		w.I80F48(rb.OptimalRate)
		w.I80F48(rb.MaxRate)
		w.U64(rb.NumNodeBanks)
		for _, nb := range rb.NodeBanks {
			w.PublicKey(nb)
		}
		w.I80F48(rb.DepositIndex)
		w.I80F48(rb.BorrowIndex)
		w.U64(rb.LastUpdated)
		w.Pad(64)
	})
}

// Reload refetches the root bank. Loaded node banks are dropped.
func (rb *RootBank) Reload(ctx context.Context, f Fetcher) error {
	data, err := fetch(ctx, f, "RootBank", rb.Address)
	if err != nil {
		return err
	}
	fresh, err := DecodeRootBank(rb.Address, data)
	if err != nil {
		return err
	}
	*rb = *fresh
	return nil
}

// Curve returns the bank's interest rate curve.
func (rb *RootBank) Curve() fmath.RateCurve {
	return fmath.RateCurve{
		OptimalUtil: rb.OptimalUtil,
		OptimalRate: rb.OptimalRate,
		MaxRate:     rb.MaxRate,
	}
}

// LoadNodeBanks fetches the active node banks.
func (rb *RootBank) LoadNodeBanks(ctx context.Context, f Fetcher) error {
	addrs := rb.NodeBanks[:rb.NumNodeBanks]
	datas, err := fetchMany(ctx, f, "NodeBank", addrs)
	if err != nil {
		return err
	}
	nodes := make([]*NodeBank, 0, len(addrs))
	for i, d := range datas {
		if d == nil {
			return fmt.Errorf("node bank %s: %w", addrs[i], ErrAccountMissing)
		}
		nb, err := DecodeNodeBank(addrs[i], d)
		if err != nil {
			return err
		}
		nodes = append(nodes, nb)
	}
	rb.NodeBankAccounts = nodes
	return nil
}

func (rb *RootBank) shareTotals() (fmath.I80F48, fmath.I80F48, error) {
	if rb.NodeBankAccounts == nil && rb.NumNodeBanks > 0 {
		return fmath.Zero, fmath.Zero, fmt.Errorf("root bank %s node banks: %w", rb.Address, ErrNotLoaded)
	}
	deposits, borrows := fmath.Zero, fmath.Zero
	for _, nb := range rb.NodeBankAccounts {
		deposits = deposits.Add(nb.Deposits)
		borrows = borrows.Add(nb.Borrows)
	}
	return deposits, borrows, nil
}

// TotalDeposits is the native deposit total across node banks.
func (rb *RootBank) TotalDeposits() (fmath.I80F48, error) {
	deposits, _, err := rb.shareTotals()
	if err != nil {
		return fmath.Zero, err
	}
	return deposits.Mul(rb.DepositIndex), nil
}

// TotalBorrows is the native borrow total across node banks.
func (rb *RootBank) TotalBorrows() (fmath.I80F48, error) {
	_, borrows, err := rb.shareTotals()
	if err != nil {
		return fmath.Zero, err
	}
	return borrows.Mul(rb.BorrowIndex), nil
}

func (rb *RootBank) nativeTotals() (fmath.I80F48, fmath.I80F48, error) {
	d, err := rb.TotalDeposits()
	if err != nil {
		return fmath.Zero, fmath.Zero, err
	}
	b, err := rb.TotalBorrows()
	if err != nil {
		return fmath.Zero, fmath.Zero, err
	}
	return d, b, nil
}

// BorrowRate is the current annualized borrow rate.
func (rb *RootBank) BorrowRate() (fmath.I80F48, error) {
	d, b, err := rb.nativeTotals()
	if err != nil {
		return fmath.Zero, err
	}
	rate, err := rb.Curve().BorrowRate(d, b)
	if err != nil {
		return fmath.Zero, err
	}
	return rate.MulInt64(fmath.SecondsPerYear), nil
}

// DepositRate is the current annualized deposit rate.
func (rb *RootBank) DepositRate() (fmath.I80F48, error) {
	d, b, err := rb.nativeTotals()
	if err != nil {
		return fmath.Zero, err
	}
	rate, err := rb.Curve().DepositRate(d, b)
	if err != nil {
		return fmath.Zero, err
	}
	return rate.MulInt64(fmath.SecondsPerYear), nil
}

// Accrue advances the indexes to unix time now the way the program's
// UpdateRootBank does. It is a no-op when now is not after LastUpdated.
func (rb *RootBank) Accrue(now uint64) (err error) {
	defer fmath.Recover(&err)

	if now <= rb.LastUpdated {
		return nil
	}
	d, b, err := rb.nativeTotals()
	if err != nil {
		return err
	}
	dep, bor, err := fmath.AccrueIndexes(rb.Curve(), rb.DepositIndex, rb.BorrowIndex, d, b, int64(now-rb.LastUpdated))
	if err != nil {
		return err
	}
	rb.DepositIndex, rb.BorrowIndex, rb.LastUpdated = dep, bor, now
	return nil
}

// NodeBank holds share totals and the token vault.
type NodeBank struct {
	Address solana.PublicKey
	Meta    MetaData

	Deposits fmath.I80F48
	Borrows  fmath.I80F48
	Vault    solana.PublicKey
}

func (nb *NodeBank) Key() solana.PublicKey { return nb.Address }
func (nb *NodeBank) Kind() string          { return "NodeBank" }

func DecodeNodeBank(addr solana.PublicKey, data []byte) (*NodeBank, error) {
	nb := &NodeBank{Address: addr}
	err := layout.DecodeExact("NodeBank", addr, data, NodeBankSpan, func(r *layout.Reader) {
		nb.Meta = readMeta(r, DataTypeNodeBank)
		nb.Deposits = r.I80F48()
		nb.Borrows = r.I80F48()
		nb.Vault = r.PublicKey()
	})
	if err != nil {
		return nil, err
	}
	return nb, nil
}

func (nb *NodeBank) Encode() ([]byte, error) {
	return layout.EncodeExact("NodeBank", NodeBankSpan, func(w *layout.Writer) {
		writeMeta(w, nb.Meta)
		w.I80F48(nb.Deposits)
		w.I80F48(nb.Borrows)
		w.PublicKey(nb.Vault)
	})
}

func (nb *NodeBank) Reload(ctx context.Context, f Fetcher) error {
	data, err := fetch(ctx, f, "NodeBank", nb.Address)
	if err != nil {
		return err
	}
	fresh, err := DecodeNodeBank(nb.Address, data)
	if err != nil {
		return err
	}
	*nb = *fresh
	return nil
}
