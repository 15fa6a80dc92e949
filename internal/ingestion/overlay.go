package ingestion

import (
	"context"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/rs/zerolog"

	"MarginMirror/internal/observability"
	"MarginMirror/internal/state"
)

type overlayEntry struct {
	slot     uint64
	data     []byte
	received time.Time
}

// Overlay is a state.Fetcher that serves bytes from streamed updates and falls
// through to next for addresses it has not seen or whose update is older than
// maxAge. Updates for a slot at or below the held one are ignored.
type Overlay struct {
	next    state.Fetcher
	maxAge  time.Duration
	now     func() time.Time
	log     zerolog.Logger
	metrics *observability.Metrics

	mu      sync.RWMutex
	entries map[solana.PublicKey]overlayEntry
}

func NewOverlay(next state.Fetcher, maxAge time.Duration, log zerolog.Logger, metrics *observability.Metrics) *Overlay {
	return &Overlay{
		next:    next,
		maxAge:  maxAge,
		now:     time.Now,
		log:     log,
		metrics: metrics,
		entries: make(map[solana.PublicKey]overlayEntry),
	}
}

// WithClock replaces the time source; tests use it to age entries.
func (o *Overlay) WithClock(now func() time.Time) *Overlay {
	o.now = now
	return o
}

// Apply records u and reports whether it replaced what was held.
func (o *Overlay) Apply(u *AccountUpdate) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if cur, ok := o.entries[u.Address]; ok && cur.slot >= u.Slot {
		return false
	}
	o.entries[u.Address] = overlayEntry{slot: u.Slot, data: u.Data, received: o.now()}
	return true
}

func (o *Overlay) Len() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.entries)
}

func (o *Overlay) lookup(addr solana.PublicKey) ([]byte, bool) {
	e, ok := o.entries[addr]
	if !ok {
		return nil, false
	}
	if o.maxAge > 0 && o.now().Sub(e.received) > o.maxAge {
		return nil, false
	}
	return e.data, true
}

func (o *Overlay) AccountData(ctx context.Context, addr solana.PublicKey) ([]byte, error) {
	o.mu.RLock()
	data, ok := o.lookup(addr)
	o.mu.RUnlock()
	if ok {
		return data, nil
	}
	return o.next.AccountData(ctx, addr)
}

func (o *Overlay) MultipleAccountData(ctx context.Context, addrs []solana.PublicKey) ([][]byte, error) {
	out := make([][]byte, len(addrs))
	var (
		miss    []solana.PublicKey
		missPos []int
	)
	o.mu.RLock()
	for i, a := range addrs {
		if data, ok := o.lookup(a); ok {
			out[i] = data
			continue
		}
		miss = append(miss, a)
		missPos = append(missPos, i)
	}
	o.mu.RUnlock()

	if len(miss) == 0 {
		return out, nil
	}
	fetched, err := o.next.MultipleAccountData(ctx, miss)
	if err != nil {
		return nil, err
	}
	for j, d := range fetched {
		out[missPos[j]] = d
	}
	return out, nil
}

// Run parses updates from in and applies the ones that decode. Malformed
// messages are acked: redelivery cannot fix them.
func (o *Overlay) Run(ctx context.Context, in <-chan RawUpdate) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw, ok := <-in:
			if !ok {
				return nil
			}
			u, err := ParseAccountUpdate(raw)
			if err != nil {
				kind := "update"
				if u != nil {
					kind = "account"
				}
				if o.metrics != nil {
					o.metrics.DecodeErrors.WithLabelValues(kind).Inc()
				}
				o.log.Warn().Err(err).Str("subject", raw.Subject).Msg("dropping account update")
				ack(raw)
				continue
			}
			if o.Apply(u) {
				o.log.Debug().Str("address", u.Address.String()).Str("kind", u.Entity.Kind()).Uint64("slot", u.Slot).Msg("account updated")
			}
			ack(raw)
		}
	}
}

func ack(raw RawUpdate) {
	if raw.AckFunc != nil {
		raw.AckFunc()
	}
}
