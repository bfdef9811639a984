// Package notify fans the engine's fill and removal records out to NATS
// JetStream for downstream consumers (market data, trading bots, the history
// indexer of other deployments). Publishing is best effort: a dropped batch
// never blocks operation processing, and the authoritative record lives in
// Postgres.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"BitLedger/internal/chain"
	"BitLedger/internal/observability"
)

// Batch is one applied operation's worth of events, stamped with the ledger
// sequence it came from.
type Batch struct {
	Sequence int64
	Time     time.Time
	Fills    []chain.FillRecord
	Removals []chain.RemovalRecord
}

// FillMessage is the wire form of a fill record.
type FillMessage struct {
	Sequence  int64             `json:"sequence"`
	OrderID   chain.ObjectID    `json:"order_id"`
	Account   chain.AccountID   `json:"account"`
	Pays      chain.AssetAmount `json:"pays"`
	Receives  chain.AssetAmount `json:"receives"`
	Fee       chain.AssetAmount `json:"fee"`
	FillPrice chain.Price       `json:"fill_price"`
	IsMaker   bool              `json:"is_maker"`
	Timestamp time.Time         `json:"timestamp"`
}

// RemovalMessage is the wire form of an object removal.
type RemovalMessage struct {
	Sequence  int64             `json:"sequence"`
	Kind      chain.RemovalKind `json:"kind"`
	ObjectID  chain.ObjectID    `json:"object_id"`
	Account   chain.AccountID   `json:"account"`
	Timestamp time.Time         `json:"timestamp"`
}

// Publisher drains batches from the applier and publishes them to
// dex.fills.{pays_asset}.{receives_asset} and dex.removals.{kind}.
type Publisher struct {
	js      jetstream.JetStream
	in      <-chan Batch
	log     zerolog.Logger
	metrics *observability.Metrics
}

// NewPublisher wires a publisher over a JetStream context. metrics may be nil.
func NewPublisher(js jetstream.JetStream, in <-chan Batch, log zerolog.Logger, metrics *observability.Metrics) *Publisher {
	return &Publisher{js: js, in: in, log: log, metrics: metrics}
}

// Run consumes batches until the context ends or the channel closes.
func (p *Publisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case batch, ok := <-p.in:
			if !ok {
				return nil
			}
			if p.metrics != nil {
				p.metrics.SetChannelMetrics("notify", len(p.in), cap(p.in))
			}
			if err := p.publishBatch(ctx, batch); err != nil {
				// Non-fatal: downstream consumers can replay from history.
				p.log.Warn().Int64("sequence", batch.Sequence).Err(err).Msg("outbound publish failed")
			}
		}
	}
}

func (p *Publisher) publishBatch(ctx context.Context, batch Batch) error {
	for _, f := range batch.Fills {
		msg := FillMessage{
			Sequence:  batch.Sequence,
			OrderID:   f.OrderID,
			Account:   f.Account,
			Pays:      f.Pays,
			Receives:  f.Receives,
			Fee:       f.Fee,
			FillPrice: f.FillPrice,
			IsMaker:   f.IsMaker,
			Timestamp: batch.Time,
		}
		data, err := json.Marshal(msg)
		if err != nil {
			return fmt.Errorf("marshal fill: %w", err)
		}
		subject := fmt.Sprintf("dex.fills.%d.%d", f.Pays.Asset, f.Receives.Asset)
		if _, err := p.js.Publish(ctx, subject, data); err != nil {
			return err
		}
	}
	for _, r := range batch.Removals {
		msg := RemovalMessage{
			Sequence:  batch.Sequence,
			Kind:      r.Kind,
			ObjectID:  r.ID,
			Account:   r.Account,
			Timestamp: batch.Time,
		}
		data, err := json.Marshal(msg)
		if err != nil {
			return fmt.Errorf("marshal removal: %w", err)
		}
		subject := fmt.Sprintf("dex.removals.%d", r.Kind)
		if _, err := p.js.Publish(ctx, subject, data); err != nil {
			return err
		}
	}
	return nil
}

// EnsureNotifyStream creates the outbound events stream.
func EnsureNotifyStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      "DEX_EVENTS",
		Subjects:  []string{"dex.fills.>", "dex.removals.>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create notify stream: %w", err)
	}
	return nil
}
