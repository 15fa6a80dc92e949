package persistence

import (
	"context"
	"database/sql"
	"time"

	"github.com/rs/zerolog"

	"MarginMirror/internal/observability"
)

// Worker drains the batch channel and commits to Postgres, flushing when the
// accumulated rows reach batchSize or flushInterval passes. A failed flush is
// retried with backoff until it succeeds or the worker shuts down.
type Worker struct {
	db            *sql.DB
	writer        *Writer
	input         <-chan Batch
	batchSize     int
	flushInterval time.Duration
	log           zerolog.Logger
	metrics       *observability.Metrics
}

func NewWorker(
	db *sql.DB,
	input <-chan Batch,
	batchSize int,
	flushInterval time.Duration,
	log zerolog.Logger,
	metrics *observability.Metrics,
) *Worker {
	return &Worker{
		db:            db,
		writer:        NewWriter(),
		input:         input,
		batchSize:     batchSize,
		flushInterval: flushInterval,
		log:           log,
		metrics:       metrics,
	}
}

// Run blocks until ctx is cancelled or input is closed, flushing what is
// pending on the way out.
func (w *Worker) Run(ctx context.Context) error {
	var pending Batch

	timer := time.NewTimer(w.flushInterval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			if pending.Len() > 0 {
				if err := w.flush(context.Background(), &pending); err != nil {
					w.log.Error().Err(err).Msg("final flush failed")
				}
			}
			return ctx.Err()

		case b, ok := <-w.input:
			if !ok {
				if pending.Len() > 0 {
					if err := w.flush(context.Background(), &pending); err != nil {
						w.log.Error().Err(err).Msg("final flush failed")
					}
				}
				return nil
			}
			pending.append(b)
			if pending.Len() >= w.batchSize {
				if err := w.flushWithRetry(ctx, &pending); err != nil {
					w.log.Error().Err(err).Msg("batch flush failed after retries")
				}
				pending.reset()
				timer.Reset(w.flushInterval)
			}

		case <-timer.C:
			if pending.Len() > 0 {
				if err := w.flushWithRetry(ctx, &pending); err != nil {
					w.log.Error().Err(err).Msg("timed flush failed after retries")
				}
				pending.reset()
			}
			timer.Reset(w.flushInterval)
		}
	}
}

func (w *Worker) flushWithRetry(ctx context.Context, b *Batch) error {
	backoff := 100 * time.Millisecond
	const maxBackoff = 30 * time.Second

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			w.log.Warn().Int("attempt", attempt).Dur("backoff", backoff).Int("rows", b.Len()).Msg("persistence retry")
			select {
			case <-ctx.Done():
				// one last try on shutdown so the batch is not lost
				return w.flush(context.Background(), b)
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, maxBackoff)
		}

		err := w.flush(ctx, b)
		if err == nil {
			if attempt > 0 {
				w.log.Info().Int("retries", attempt).Msg("persistence flush succeeded")
			}
			return nil
		}
		w.log.Warn().Err(err).Msg("persistence flush failed")
	}
}

func (w *Worker) flush(ctx context.Context, b *Batch) error {
	start := time.Now()

	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		w.countError("tx_begin")
		return err
	}
	defer tx.Rollback()

	if err := w.writer.WriteSnapshots(ctx, tx, b.Snapshots); err != nil {
		w.countError("account_snapshots")
		return err
	}
	if err := w.writer.WriteReports(ctx, tx, b.Reports); err != nil {
		w.countError("health_reports")
		return err
	}
	if err := w.writer.WriteTransitions(ctx, tx, b.Transitions); err != nil {
		w.countError("liquidations")
		return err
	}
	if err := tx.Commit(); err != nil {
		w.countError("tx_commit")
		return err
	}

	if w.metrics != nil {
		w.metrics.PersistBatchDur.Observe(time.Since(start).Seconds())
		w.metrics.PersistRows.WithLabelValues("account_snapshots").Add(float64(len(b.Snapshots)))
		w.metrics.PersistRows.WithLabelValues("health_reports").Add(float64(len(b.Reports)))
		w.metrics.PersistRows.WithLabelValues("liquidations").Add(float64(len(b.Transitions)))
	}
	return nil
}

func (w *Worker) countError(table string) {
	if w.metrics != nil {
		w.metrics.PersistErrors.WithLabelValues(table).Inc()
	}
}
