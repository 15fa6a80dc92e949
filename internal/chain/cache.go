package chain

import (
	"context"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"MarginMirror/internal/observability"
	"MarginMirror/internal/state"
)

// Store is a byte cache with per-key expiry. MGet returns one entry per key,
// nil for misses.
type Store interface {
	MGet(ctx context.Context, keys ...string) ([][]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// RedisStore adapts a go-redis client to Store.
type RedisStore struct {
	client redis.Cmdable
}

func NewRedisStore(client redis.Cmdable) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) MGet(ctx context.Context, keys ...string) ([][]byte, error) {
	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	out := make([][]byte, len(vals))
	for i, v := range vals {
		if str, ok := v.(string); ok {
			out[i] = []byte(str)
		}
	}
	return out, nil
}

func (s *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return s.client.Set(ctx, key, value, ttl).Err()
}

// CachedFetcher serves account bytes from a Store and fills misses from the
// next fetcher. Missing accounts are never cached. Store failures degrade to
// uncached reads.
type CachedFetcher struct {
	next    state.Fetcher
	store   Store
	ttl     time.Duration
	prefix  string
	log     zerolog.Logger
	metrics *observability.Metrics
}

var _ state.Fetcher = (*CachedFetcher)(nil)

func NewCachedFetcher(next state.Fetcher, store Store, ttl time.Duration, log zerolog.Logger, metrics *observability.Metrics) *CachedFetcher {
	return &CachedFetcher{
		next:    next,
		store:   store,
		ttl:     ttl,
		prefix:  "mirror:acct:",
		log:     log,
		metrics: metrics,
	}
}

func (f *CachedFetcher) key(addr solana.PublicKey) string {
	return f.prefix + addr.String()
}

func (f *CachedFetcher) AccountData(ctx context.Context, addr solana.PublicKey) ([]byte, error) {
	datas, err := f.MultipleAccountData(ctx, []solana.PublicKey{addr})
	if err != nil {
		return nil, err
	}
	return datas[0], nil
}

func (f *CachedFetcher) MultipleAccountData(ctx context.Context, addrs []solana.PublicKey) ([][]byte, error) {
	if len(addrs) == 0 {
		return nil, nil
	}
	keys := make([]string, len(addrs))
	for i, a := range addrs {
		keys[i] = f.key(a)
	}

	out, err := f.store.MGet(ctx, keys...)
	if err != nil || len(out) != len(addrs) {
		if err == nil {
			err = fmt.Errorf("store returned %d entries for %d keys", len(out), len(addrs))
		}
		f.log.Warn().Err(err).Msg("account cache read failed")
		out = make([][]byte, len(addrs))
	}

	var miss []solana.PublicKey
	var pos []int
	for i, d := range out {
		if d == nil {
			miss = append(miss, addrs[i])
			pos = append(pos, i)
		}
	}
	if f.metrics != nil {
		f.metrics.CacheHits.Add(float64(len(addrs) - len(miss)))
		f.metrics.CacheMisses.Add(float64(len(miss)))
	}
	if len(miss) == 0 {
		return out, nil
	}

	fetched, err := f.next.MultipleAccountData(ctx, miss)
	if err != nil {
		return nil, err
	}
	if len(fetched) != len(miss) {
		return nil, fmt.Errorf("fetcher returned %d entries for %d addresses", len(fetched), len(miss))
	}
	for j, d := range fetched {
		out[pos[j]] = d
		if d == nil {
			continue
		}
		if err := f.store.Set(ctx, keys[pos[j]], d, f.ttl); err != nil {
			f.log.Warn().Err(err).Str("account", miss[j].String()).Msg("account cache write failed")
		}
	}
	return out, nil
}
