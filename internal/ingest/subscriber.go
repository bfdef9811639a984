// Package ingest is the operation intake shell. Operations arrive as JSON
// envelopes on NATS JetStream subjects, get parsed and deduplicated here, and
// are handed to the applier in arrival order on a single channel so the
// ledger stays deterministic.
package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"BitLedger/internal/observability"
)

// RawOp is a received-but-unparsed operation envelope. AckFunc and NakFunc
// settle the underlying JetStream message once processing succeeds or fails.
type RawOp struct {
	Subject   string
	Data      []byte
	Timestamp time.Time
	AckFunc   func()
	NakFunc   func()
}

// SubjectConfig maps a NATS subject to a durable consumer.
type SubjectConfig struct {
	Subject      string
	ConsumerName string
	StreamName   string
}

// DefaultSubjects returns the standard intake configuration. Orders, feeds,
// and settlement traffic ride separate subjects so they can be throttled
// independently; a single consumer per subject preserves per-subject order.
func DefaultSubjects() []SubjectConfig {
	return []SubjectConfig{
		{Subject: "dex.ops.orders.>", ConsumerName: "ledger-orders", StreamName: "DEX_OPS"},
		{Subject: "dex.ops.feeds.>", ConsumerName: "ledger-feeds", StreamName: "DEX_OPS"},
		{Subject: "dex.ops.settlements.>", ConsumerName: "ledger-settlements", StreamName: "DEX_OPS"},
		{Subject: "dex.ops.admin.>", ConsumerName: "ledger-admin", StreamName: "DEX_OPS"},
	}
}

// Subscriber owns the JetStream consumers feeding the intake channel.
type Subscriber struct {
	js        jetstream.JetStream
	opChan    chan<- RawOp
	consumers []jetstream.ConsumeContext
	log       zerolog.Logger
	metrics   *observability.Metrics
}

// NewSubscriber wires a subscriber over a JetStream context. metrics may be
// nil in tests.
func NewSubscriber(js jetstream.JetStream, opChan chan<- RawOp, log zerolog.Logger, metrics *observability.Metrics) *Subscriber {
	return &Subscriber{js: js, opChan: opChan, log: log, metrics: metrics}
}

// Subscribe creates durable JetStream consumers for the configured subjects.
// Consumers use explicit ACK, max_deliver=5, ack_wait=30s.
func (s *Subscriber) Subscribe(ctx context.Context, subjects []SubjectConfig) error {
	for _, cfg := range subjects {
		consumer, err := s.js.CreateOrUpdateConsumer(ctx, cfg.StreamName, jetstream.ConsumerConfig{
			Durable:       cfg.ConsumerName,
			FilterSubject: cfg.Subject,
			AckPolicy:     jetstream.AckExplicitPolicy,
			AckWait:       30 * time.Second,
			MaxDeliver:    5,
			DeliverPolicy: jetstream.DeliverAllPolicy,
		})
		if err != nil {
			return fmt.Errorf("create consumer %s: %w", cfg.ConsumerName, err)
		}

		cc, err := consumer.Consume(func(msg jetstream.Msg) {
			if s.metrics != nil {
				s.metrics.IngestReceived.WithLabelValues(msg.Subject()).Inc()
			}
			raw := RawOp{
				Subject:   msg.Subject(),
				Data:      msg.Data(),
				Timestamp: time.Now(),
				AckFunc:   func() { msg.Ack() },
				NakFunc:   func() { msg.Nak() },
			}
			select {
			case s.opChan <- raw:
			case <-ctx.Done():
				msg.Nak()
			}
		})
		if err != nil {
			return fmt.Errorf("consume %s: %w", cfg.ConsumerName, err)
		}

		s.consumers = append(s.consumers, cc)
		s.log.Info().Str("subject", cfg.Subject).Str("consumer", cfg.ConsumerName).Msg("subscribed")
	}
	return nil
}

// EnsureStreams creates the intake stream if it doesn't exist. FileStorage,
// retention=Limits, max_age=72h.
func EnsureStreams(ctx context.Context, js jetstream.JetStream, log zerolog.Logger) error {
	cfg := jetstream.StreamConfig{
		Name:      "DEX_OPS",
		Subjects:  []string{"dex.ops.>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	}
	if _, err := js.CreateOrUpdateStream(ctx, cfg); err != nil {
		return fmt.Errorf("create stream %s: %w", cfg.Name, err)
	}
	log.Info().Str("stream", cfg.Name).Msg("ensured stream")
	return nil
}

// Stop gracefully stops all consumers.
func (s *Subscriber) Stop() {
	for _, cc := range s.consumers {
		cc.Stop()
	}
	s.log.Info().Msg("intake consumers stopped")
}

// ConnectNATS establishes a NATS connection and returns a JetStream context.
func ConnectNATS(url string, log zerolog.Logger) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Info().Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream: %w", err)
	}
	return nc, js, nil
}
