package chain

import (
	"context"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// SendRPC is the subset of *rpc.Client used to submit transactions.
type SendRPC interface {
	GetLatestBlockhash(ctx context.Context, commitment rpc.CommitmentType) (*rpc.GetLatestBlockhashResult, error)
	SendTransactionWithOpts(ctx context.Context, tx *solana.Transaction, opts rpc.TransactionOpts) (solana.Signature, error)
}

// Submitter signs instructions with one key and sends them as a single
// transaction. It does not wait for confirmation.
type Submitter struct {
	rpc           SendRPC
	signer        solana.PrivateKey
	commitment    rpc.CommitmentType
	skipPreflight bool
	guard         *Guard
}

func NewSubmitter(r SendRPC, signer solana.PrivateKey, commitment rpc.CommitmentType, skipPreflight bool, guard *Guard) *Submitter {
	return &Submitter{rpc: r, signer: signer, commitment: commitment, skipPreflight: skipPreflight, guard: guard}
}

// LoadSigner reads a solana-keygen JSON keypair file.
func LoadSigner(path string) (solana.PrivateKey, error) {
	key, err := solana.PrivateKeyFromSolanaKeygenFile(path)
	if err != nil {
		return nil, fmt.Errorf("load keypair %s: %w", path, err)
	}
	return key, nil
}

func (s *Submitter) Payer() solana.PublicKey {
	return s.signer.PublicKey()
}

func (s *Submitter) Submit(ctx context.Context, ixs ...solana.Instruction) (solana.Signature, error) {
	if len(ixs) == 0 {
		return solana.Signature{}, errors.New("submit: no instructions")
	}

	var recent *rpc.GetLatestBlockhashResult
	err := s.guard.Do(ctx, "getLatestBlockhash", func(ctx context.Context) error {
		var err error
		recent, err = s.rpc.GetLatestBlockhash(ctx, s.commitment)
		return err
	})
	if err != nil {
		return solana.Signature{}, err
	}
	if recent == nil || recent.Value == nil {
		return solana.Signature{}, errors.New("get latest blockhash: empty result")
	}

	tx, err := solana.NewTransaction(ixs, recent.Value.Blockhash, solana.TransactionPayer(s.Payer()))
	if err != nil {
		return solana.Signature{}, fmt.Errorf("build transaction: %w", err)
	}
	_, err = tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if s.signer.PublicKey().Equals(key) {
			return &s.signer
		}
		return nil
	})
	if err != nil {
		return solana.Signature{}, fmt.Errorf("sign transaction: %w", err)
	}

	var sig solana.Signature
	err = s.guard.Do(ctx, "sendTransaction", func(ctx context.Context) error {
		var err error
		sig, err = s.rpc.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
			SkipPreflight:       s.skipPreflight,
			PreflightCommitment: s.commitment,
		})
		return err
	})
	if err != nil {
		return solana.Signature{}, err
	}
	return sig, nil
}
