package chain

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/ws"
	"github.com/rs/zerolog"

	"MarginMirror/internal/observability"
)

// Update is one account change notification.
type Update struct {
	Address solana.PublicKey
	Slot    uint64
	Data    []byte
}

// Subscriber streams account changes over the RPC websocket.
type Subscriber struct {
	url        string
	commitment rpc.CommitmentType
	log        zerolog.Logger
	metrics    *observability.Metrics
}

func NewSubscriber(url string, commitment rpc.CommitmentType, log zerolog.Logger, metrics *observability.Metrics) *Subscriber {
	return &Subscriber{url: url, commitment: commitment, log: log, metrics: metrics}
}

// Run subscribes to every address and forwards notifications to out until ctx
// ends or a subscription fails. Notifications are dropped, not queued, when out
// is full; the next scan refetches the account anyway.
func (s *Subscriber) Run(ctx context.Context, addrs []solana.PublicKey, out chan<- Update) error {
	client, err := ws.Connect(ctx, s.url)
	if err != nil {
		return fmt.Errorf("ws connect %s: %w", s.url, err)
	}
	defer client.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg       sync.WaitGroup
		errOnce  sync.Once
		firstErr error
	)
	fail := func(err error) {
		errOnce.Do(func() {
			firstErr = err
			cancel()
		})
	}

	for _, addr := range addrs {
		sub, err := client.AccountSubscribeWithOpts(addr, s.commitment, solana.EncodingBase64)
		if err != nil {
			fail(fmt.Errorf("subscribe %s: %w", addr, err))
			break
		}
		wg.Add(1)
		go func(addr solana.PublicKey, sub *ws.AccountSubscription) {
			defer wg.Done()
			defer sub.Unsubscribe()
			for {
				res, err := sub.Recv(ctx)
				if err != nil {
					if !errors.Is(err, context.Canceled) {
						fail(fmt.Errorf("recv %s: %w", addr, err))
					}
					return
				}
				u := Update{Address: addr, Slot: res.Context.Slot}
				if res.Value.Data != nil {
					u.Data = res.Value.Data.GetBinary()
				}
				select {
				case out <- u:
				case <-ctx.Done():
					return
				default:
					if s.metrics != nil {
						s.metrics.SubscribeDrops.Inc()
					}
					s.log.Debug().Str("account", addr.String()).Uint64("slot", u.Slot).Msg("update dropped")
				}
			}
		}(addr, sub)
	}
	s.log.Info().Int("accounts", len(addrs)).Msg("account subscriptions active")

	wg.Wait()
	if firstErr != nil {
		return firstErr
	}
	return ctx.Err()
}
