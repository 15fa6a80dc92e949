package state

import (
	"context"
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// Fetcher supplies raw account bytes. MultipleAccountData returns one entry per
// address, nil where the account does not exist; batching beyond provider limits
// is the implementation's job.
type Fetcher interface {
	AccountData(ctx context.Context, addr solana.PublicKey) ([]byte, error)
	MultipleAccountData(ctx context.Context, addrs []solana.PublicKey) ([][]byte, error)
}

// Entity is any decoded account.
type Entity interface {
	Key() solana.PublicKey
	Kind() string
	Encode() ([]byte, error)
}

func fetch(ctx context.Context, f Fetcher, kind string, addr solana.PublicKey) ([]byte, error) {
	data, err := f.AccountData(ctx, addr)
	if err != nil {
		return nil, fmt.Errorf("fetch %s %s: %w", kind, addr, err)
	}
	if data == nil {
		return nil, fmt.Errorf("fetch %s %s: %w", kind, addr, ErrAccountMissing)
	}
	return data, nil
}

// fetchMany fetches the non-zero addresses in addrs and returns a slice aligned
// with addrs; zero addresses and missing accounts yield nil.
func fetchMany(ctx context.Context, f Fetcher, kind string, addrs []solana.PublicKey) ([][]byte, error) {
	want := make([]solana.PublicKey, 0, len(addrs))
	pos := make([]int, 0, len(addrs))
	for i, a := range addrs {
		if a.IsZero() {
			continue
		}
		want = append(want, a)
		pos = append(pos, i)
	}
	out := make([][]byte, len(addrs))
	if len(want) == 0 {
		return out, nil
	}
	datas, err := f.MultipleAccountData(ctx, want)
	if err != nil {
		return nil, fmt.Errorf("fetch %d %s accounts: %w", len(want), kind, err)
	}
	if len(datas) != len(want) {
		return nil, fmt.Errorf("fetch %s accounts: got %d results for %d addresses", kind, len(datas), len(want))
	}
	for j, d := range datas {
		out[pos[j]] = d
	}
	return out, nil
}
