// Package chain reads and writes the venue's accounts over Solana JSON-RPC. It
// is the only package that talks to the network; everything above it sees
// state.Fetcher.
package chain

import (
	"context"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	"MarginMirror/internal/observability"
	"MarginMirror/internal/state"
)

// MaxAccountsPerCall is the provider limit for getMultipleAccounts.
const MaxAccountsPerCall = 100

// AccountsRPC is the subset of *rpc.Client used for reads.
type AccountsRPC interface {
	GetAccountInfoWithOpts(ctx context.Context, account solana.PublicKey, opts *rpc.GetAccountInfoOpts) (*rpc.GetAccountInfoResult, error)
	GetMultipleAccountsWithOpts(ctx context.Context, accounts []solana.PublicKey, opts *rpc.GetMultipleAccountsOpts) (*rpc.GetMultipleAccountsResult, error)
	GetProgramAccountsWithOpts(ctx context.Context, program solana.PublicKey, opts *rpc.GetProgramAccountsOpts) (rpc.GetProgramAccountsResult, error)
}

// Client implements state.Fetcher on top of JSON-RPC.
type Client struct {
	rpc        AccountsRPC
	commitment rpc.CommitmentType
	guard      *Guard
	metrics    *observability.Metrics
}

var _ state.Fetcher = (*Client)(nil)

func NewClient(r AccountsRPC, commitment rpc.CommitmentType, guard *Guard, metrics *observability.Metrics) *Client {
	return &Client{rpc: r, commitment: commitment, guard: guard, metrics: metrics}
}

// AccountData returns nil, nil when the account does not exist.
func (c *Client) AccountData(ctx context.Context, addr solana.PublicKey) ([]byte, error) {
	var data []byte
	err := c.guard.Do(ctx, "getAccountInfo", func(ctx context.Context) error {
		res, err := c.rpc.GetAccountInfoWithOpts(ctx, addr, &rpc.GetAccountInfoOpts{
			Encoding:   solana.EncodingBase64,
			Commitment: c.commitment,
		})
		if errors.Is(err, rpc.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if res != nil && res.Value != nil {
			data = accountBytes(res.Value)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("account %s: %w", addr, err)
	}
	c.countAccounts(1)
	return data, nil
}

// MultipleAccountData splits addrs into calls of at most MaxAccountsPerCall and
// returns one entry per address in order.
func (c *Client) MultipleAccountData(ctx context.Context, addrs []solana.PublicKey) ([][]byte, error) {
	out := make([][]byte, 0, len(addrs))
	for start := 0; start < len(addrs); start += MaxAccountsPerCall {
		end := min(start+MaxAccountsPerCall, len(addrs))
		chunk := addrs[start:end]

		var res *rpc.GetMultipleAccountsResult
		err := c.guard.Do(ctx, "getMultipleAccounts", func(ctx context.Context) error {
			var err error
			res, err = c.rpc.GetMultipleAccountsWithOpts(ctx, chunk, &rpc.GetMultipleAccountsOpts{
				Encoding:   solana.EncodingBase64,
				Commitment: c.commitment,
			})
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("accounts %d..%d of %d: %w", start, end, len(addrs), err)
		}
		if res == nil || len(res.Value) != len(chunk) {
			got := 0
			if res != nil {
				got = len(res.Value)
			}
			return nil, fmt.Errorf("accounts %d..%d: provider returned %d entries for %d addresses", start, end, got, len(chunk))
		}
		for _, acc := range res.Value {
			out = append(out, accountBytes(acc))
		}
		c.countAccounts(len(chunk))
	}
	return out, nil
}

// KeyedData is one account returned by a program scan.
type KeyedData struct {
	Address solana.PublicKey
	Data    []byte
}

// GroupAccounts lists every margin account of group owned by program.
func (c *Client) GroupAccounts(ctx context.Context, program, group solana.PublicKey) ([]KeyedData, error) {
	var res rpc.GetProgramAccountsResult
	err := c.guard.Do(ctx, "getProgramAccounts", func(ctx context.Context) error {
		var err error
		res, err = c.rpc.GetProgramAccountsWithOpts(ctx, program, &rpc.GetProgramAccountsOpts{
			Encoding:   solana.EncodingBase64,
			Commitment: c.commitment,
			Filters: []rpc.RPCFilter{
				{DataSize: state.AccountSpan},
				{Memcmp: &rpc.RPCFilterMemcmp{Offset: state.AccountGroupOffset, Bytes: solana.Base58(group[:])}},
			},
		})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("group %s accounts: %w", group, err)
	}
	out := make([]KeyedData, 0, len(res))
	for _, ka := range res {
		if ka == nil || ka.Account == nil {
			continue
		}
		out = append(out, KeyedData{Address: ka.Pubkey, Data: accountBytes(ka.Account)})
	}
	c.countAccounts(len(out))
	return out, nil
}

func (c *Client) countAccounts(n int) {
	if c.metrics != nil {
		c.metrics.FetchAccounts.Add(float64(n))
	}
}

func accountBytes(acc *rpc.Account) []byte {
	if acc == nil || acc.Data == nil {
		return nil
	}
	return acc.Data.GetBinary()
}
