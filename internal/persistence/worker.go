package persistence

import (
	"context"
	"database/sql"
	"time"

	"github.com/rs/zerolog"

	"BloomLedger/internal/events"
	"BloomLedger/internal/observability"
)

// Worker drains the settlement event channel and batch-writes to Postgres.
// The input channel is fed with blocking sends: if the worker falls behind,
// emitters stall rather than drop history.
type Worker struct {
	writer       *SettlementWriter
	db           *sql.DB
	input        <-chan events.Event
	batchSize    int
	flushTimeout time.Duration
	log          zerolog.Logger
	metrics      *observability.Metrics
}

func NewWorker(db *sql.DB, input <-chan events.Event, batchSize int, flushTimeout time.Duration, log zerolog.Logger, metrics *observability.Metrics) *Worker {
	return &Worker{
		writer:       NewSettlementWriter(db),
		db:           db,
		input:        input,
		batchSize:    batchSize,
		flushTimeout: flushTimeout,
		log:          log,
		metrics:      metrics,
	}
}

// Run batches incoming events and flushes when the batch fills or the flush
// timer fires. Blocks until ctx is cancelled or the input channel closes;
// both paths flush the remaining batch first.
func (w *Worker) Run(ctx context.Context) error {
	batch := make([]SettlementRecord, 0, w.batchSize)

	timer := time.NewTimer(w.flushTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			if len(batch) > 0 {
				if err := w.flush(context.Background(), batch); err != nil {
					w.log.Error().Err(err).Int("batch", len(batch)).Msg("final flush failed")
				}
			}
			return ctx.Err()

		case ev, ok := <-w.input:
			if !ok {
				if len(batch) > 0 {
					if err := w.flush(context.Background(), batch); err != nil {
						w.log.Error().Err(err).Int("batch", len(batch)).Msg("final flush failed")
					}
				}
				return nil
			}

			batch = append(batch, RecordFromEvent(ev))
			if len(batch) >= w.batchSize {
				w.flushWithRetry(ctx, batch)
				batch = batch[:0]
				timer.Reset(w.flushTimeout)
			}

		case <-timer.C:
			if len(batch) > 0 {
				w.flushWithRetry(ctx, batch)
				batch = batch[:0]
			}
			timer.Reset(w.flushTimeout)
		}
	}
}

// flushWithRetry retries with exponential backoff until the write succeeds
// or ctx is cancelled, in which case one final attempt runs with a
// background context so the batch is not lost on shutdown.
func (w *Worker) flushWithRetry(ctx context.Context, batch []SettlementRecord) {
	backoff := 100 * time.Millisecond
	const maxBackoff = 30 * time.Second

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			if w.metrics != nil {
				w.metrics.PersistRetry.Inc()
			}
			w.log.Warn().
				Int("attempt", attempt).
				Dur("backoff", backoff).
				Int("batch", len(batch)).
				Msg("persistence flush retrying")
			select {
			case <-ctx.Done():
				if err := w.flush(context.Background(), batch); err != nil {
					w.log.Error().Err(err).Msg("final flush on shutdown failed")
				}
				return
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}

		if err := w.flush(ctx, batch); err == nil {
			if attempt > 0 {
				w.log.Info().Int("retries", attempt).Msg("persistence flush recovered")
			}
			return
		}
	}
}

func (w *Worker) flush(ctx context.Context, batch []SettlementRecord) error {
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		if w.metrics != nil {
			w.metrics.PersistErrors.Inc()
		}
		return err
	}
	defer tx.Rollback()

	if err := w.writer.WriteBatch(ctx, tx, batch); err != nil {
		if w.metrics != nil {
			w.metrics.PersistErrors.Inc()
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		if w.metrics != nil {
			w.metrics.PersistErrors.Inc()
		}
		return err
	}

	if w.metrics != nil {
		w.metrics.PersistRecordsWritten.Add(float64(len(batch)))
	}
	return nil
}
