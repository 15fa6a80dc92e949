package core

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"slices"

	"MarginMirror/internal/chain"
)

const GenesisHashSeed = "MarginMirror:scan:v1"

// ScanHasher chains a digest over every scan's account bytes:
// digest[N] = SHA-256(digest[N-1] || N || accounts_digest). Two mirrors that
// saw the same bytes in the same scans agree on the digest.
type ScanHasher struct {
	prevHash [32]byte
}

func NewScanHasher() *ScanHasher {
	return &ScanHasher{prevHash: sha256.Sum256([]byte(GenesisHashSeed))}
}

// ComputeHash advances the chain with one scan.
func (h *ScanHasher) ComputeHash(sequence int64, accountsDigest [32]byte) [32]byte {
	hasher := sha256.New()
	hasher.Write(h.prevHash[:])

	var seqBuf [8]byte
	binary.LittleEndian.PutUint64(seqBuf[:], uint64(sequence))
	hasher.Write(seqBuf[:])
	hasher.Write(accountsDigest[:])

	var hash [32]byte
	copy(hash[:], hasher.Sum(nil))
	h.prevHash = hash
	return hash
}

func (h *ScanHasher) PrevHash() [32]byte {
	return h.prevHash
}

// AccountsDigest hashes (address, len, data) for every account in address
// order, so the result does not depend on RPC return order.
func AccountsDigest(accounts []chain.KeyedData) [32]byte {
	sorted := slices.Clone(accounts)
	slices.SortFunc(sorted, func(a, b chain.KeyedData) int {
		return bytes.Compare(a.Address[:], b.Address[:])
	})

	hasher := sha256.New()
	var lenBuf [8]byte
	for _, acct := range sorted {
		hasher.Write(acct.Address[:])
		binary.LittleEndian.PutUint64(lenBuf[:], uint64(len(acct.Data)))
		hasher.Write(lenBuf[:])
		hasher.Write(acct.Data)
	}
	var out [32]byte
	copy(out[:], hasher.Sum(nil))
	return out
}
