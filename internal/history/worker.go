package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"BitLedger/internal/chain"
	"BitLedger/internal/observability"
)

// Batch is one applied operation's worth of records, keyed by ledger sequence.
type Batch struct {
	Sequence int64
	Time     time.Time
	Fills    []chain.FillRecord
	Removals []chain.RemovalRecord
}

// Worker drains the history channel and batch-writes to Postgres. The channel
// uses blocking sends from the orchestrator, so if the worker falls behind,
// operation processing stalls rather than losing history.
type Worker struct {
	writer       *Writer
	db           *sql.DB
	in           <-chan Batch
	batchSize    int
	flushTimeout time.Duration
	log          zerolog.Logger
	metrics      *observability.Metrics
}

func NewWorker(db *sql.DB, in <-chan Batch, batchSize int, flushTimeout time.Duration, log zerolog.Logger, metrics *observability.Metrics) *Worker {
	return &Worker{
		writer:       NewWriter(db),
		db:           db,
		in:           in,
		batchSize:    batchSize,
		flushTimeout: flushTimeout,
		log:          log,
		metrics:      metrics,
	}
}

// Run batches incoming records and flushes when the batch is full or the
// flush timeout expires. Blocks until ctx is cancelled or the channel closes.
func (w *Worker) Run(ctx context.Context) error {
	fills := make([]FillRow, 0, w.batchSize)
	removals := make([]RemovalRow, 0, w.batchSize)

	timer := time.NewTimer(w.flushTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			if len(fills) > 0 || len(removals) > 0 {
				if err := w.flush(context.Background(), fills, removals); err != nil {
					w.log.Error().Err(err).Msg("final history flush failed")
				}
			}
			return ctx.Err()

		case batch, ok := <-w.in:
			if !ok {
				if len(fills) > 0 || len(removals) > 0 {
					if err := w.flush(context.Background(), fills, removals); err != nil {
						w.log.Error().Err(err).Msg("final history flush failed")
					}
				}
				return nil
			}

			fills = appendFills(fills, batch)
			removals = appendRemovals(removals, batch)

			if len(fills)+len(removals) >= w.batchSize {
				if err := w.flushWithRetry(ctx, fills, removals); err != nil {
					w.log.Error().Err(err).Msg("history flush failed after retries")
				}
				fills = fills[:0]
				removals = removals[:0]
				timer.Reset(w.flushTimeout)
			}

		case <-timer.C:
			if len(fills) > 0 || len(removals) > 0 {
				if err := w.flushWithRetry(ctx, fills, removals); err != nil {
					w.log.Error().Err(err).Msg("history flush failed after retries")
				}
				fills = fills[:0]
				removals = removals[:0]
			}
			timer.Reset(w.flushTimeout)
		}
	}
}

func appendFills(rows []FillRow, batch Batch) []FillRow {
	for i, f := range batch.Fills {
		rows = append(rows, FillRow{
			Sequence:       batch.Sequence,
			FillIndex:      i,
			OrderID:        int64(f.OrderID),
			Account:        int64(f.Account),
			PaysAmount:     f.Pays.Amount,
			PaysAsset:      int64(f.Pays.Asset),
			ReceivesAmount: f.Receives.Amount,
			ReceivesAsset:  int64(f.Receives.Asset),
			FeeAmount:      f.Fee.Amount,
			FeeAsset:       int64(f.Fee.Asset),
			PriceBase:      f.FillPrice.Base.Amount,
			PriceQuote:     f.FillPrice.Quote.Amount,
			IsMaker:        f.IsMaker,
			Timestamp:      batch.Time,
		})
	}
	return rows
}

func appendRemovals(rows []RemovalRow, batch Batch) []RemovalRow {
	for i, r := range batch.Removals {
		rows = append(rows, RemovalRow{
			Sequence:     batch.Sequence,
			RemovalIndex: i,
			Kind:         int16(r.Kind),
			ObjectID:     int64(r.ID),
			Account:      int64(r.Account),
			Timestamp:    batch.Time,
		})
	}
	return rows
}

// flushWithRetry retries with exponential backoff. History is never dropped:
// the worker retries until the write succeeds or the context is cancelled,
// and on cancellation attempts one final flush.
func (w *Worker) flushWithRetry(ctx context.Context, fills []FillRow, removals []RemovalRow) error {
	backoff := 100 * time.Millisecond
	const maxBackoff = 30 * time.Second

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			w.log.Warn().Int("attempt", attempt).Dur("backoff", backoff).
				Int("fills", len(fills)).Int("removals", len(removals)).
				Msg("history write retry")
			select {
			case <-ctx.Done():
				if err := w.flush(context.Background(), fills, removals); err != nil {
					return fmt.Errorf("final flush on shutdown: %w", err)
				}
				return nil
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}

		if err := w.flush(ctx, fills, removals); err == nil {
			return nil
		} else if w.metrics != nil {
			w.metrics.PersistErrors.WithLabelValues("retry").Inc()
		}
	}
}

func (w *Worker) flush(ctx context.Context, fills []FillRow, removals []RemovalRow) error {
	start := time.Now()

	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		if w.metrics != nil {
			w.metrics.PersistErrors.WithLabelValues("tx_begin").Inc()
		}
		return err
	}
	defer tx.Rollback()

	if err := w.writer.WriteFills(ctx, tx, fills); err != nil {
		if w.metrics != nil {
			w.metrics.PersistErrors.WithLabelValues("write_fills").Inc()
		}
		return err
	}
	if err := w.writer.WriteRemovals(ctx, tx, removals); err != nil {
		if w.metrics != nil {
			w.metrics.PersistErrors.WithLabelValues("write_removals").Inc()
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		if w.metrics != nil {
			w.metrics.PersistErrors.WithLabelValues("tx_commit").Inc()
		}
		return err
	}

	if w.metrics != nil {
		w.metrics.PersistBatchDur.Observe(time.Since(start).Seconds())
		w.metrics.PersistBatchSize.Observe(float64(len(fills) + len(removals)))
		w.metrics.PersistFillsWritten.Add(float64(len(fills)))
		w.metrics.PersistRemovalsWritten.Add(float64(len(removals)))
	}
	return nil
}
