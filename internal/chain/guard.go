package chain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"MarginMirror/internal/observability"
)

// GuardConfig bounds the request rate and trips the breaker after consecutive
// failures. A tripped breaker rejects calls for Timeout before probing again.
type GuardConfig struct {
	Name           string
	RatePerSecond  float64
	Burst          int
	MaxFailures    uint32
	Timeout        time.Duration
	RequestTimeout time.Duration
}

// Guard applies rate limiting and circuit breaking to every outbound RPC call.
type Guard struct {
	cfg     GuardConfig
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
	metrics *observability.Metrics
}

func NewGuard(cfg GuardConfig, metrics *observability.Metrics, log zerolog.Logger) *Guard {
	if cfg.MaxFailures == 0 {
		cfg.MaxFailures = 5
	}
	g := &Guard{
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.Burst),
		metrics: metrics,
	}
	g.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    cfg.Name,
		Timeout: cfg.Timeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= cfg.MaxFailures
		},
		// cancellation is the caller's doing, not the endpoint's
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state change")
			if metrics != nil {
				metrics.BreakerState.WithLabelValues(name).Set(float64(to))
			}
		},
	})
	return g
}

// Do waits for a rate token and runs fn through the breaker. fn receives a
// context bounded by RequestTimeout when one is configured.
func (g *Guard) Do(ctx context.Context, method string, fn func(ctx context.Context) error) error {
	if err := g.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%s: rate limit: %w", method, err)
	}
	callCtx := ctx
	if g.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, g.cfg.RequestTimeout)
		defer cancel()
	}

	start := time.Now()
	_, err := g.breaker.Execute(func() (interface{}, error) {
		return nil, fn(callCtx)
	})
	if g.metrics != nil {
		g.metrics.FetchDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
		if err != nil {
			g.metrics.FetchErrors.WithLabelValues(method, reason(err)).Inc()
		}
	}
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	return nil
}

// State reports the breaker state.
func (g *Guard) State() gobreaker.State {
	return g.breaker.State()
}

func reason(err error) string {
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return "breaker_open"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "rpc"
	}
}
