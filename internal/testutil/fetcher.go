package testutil

import (
	"context"
	"sync"
	"testing"

	"MarginMirror/internal/state"

	"github.com/gagliardetto/solana-go"
)

// MemFetcher serves account bytes from memory.
type MemFetcher struct {
	mu    sync.Mutex
	data  map[solana.PublicKey][]byte
	Calls int
}

func NewMemFetcher() *MemFetcher {
	return &MemFetcher{data: make(map[solana.PublicKey][]byte)}
}

// Put encodes e and stores it under its key.
func (m *MemFetcher) Put(t testing.TB, e state.Entity) {
	t.Helper()
	b, err := e.Encode()
	if err != nil {
		t.Fatalf("encode %s: %v", e.Kind(), err)
	}
	m.PutRaw(e.Key(), b)
}

func (m *MemFetcher) PutRaw(addr solana.PublicKey, b []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[addr] = b
}

func (m *MemFetcher) AccountData(_ context.Context, addr solana.PublicKey) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls++
	return m.data[addr], nil
}

func (m *MemFetcher) MultipleAccountData(_ context.Context, addrs []solana.PublicKey) ([][]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls++
	out := make([][]byte, len(addrs))
	for i, a := range addrs {
		out[i] = m.data[a]
	}
	return out, nil
}
