// Featurepipe - Online Feature Pipeline for Recommendation Serving
// Copyright 2026 The Featurepipe Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/recsyslab/featurepipe

package aggregator

import (
	"context"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"

	"github.com/recsyslab/featurepipe/internal/logging"
	"github.com/recsyslab/featurepipe/internal/metrics"
	"github.com/recsyslab/featurepipe/internal/models"
)

// MetadataCorrelationID is the broker metadata key carrying the correlation
// ID from ingress to the aggregation workers.
const MetadataCorrelationID = "correlation_id"

// ConsumerConfig holds configuration for the aggregation consumer.
type ConsumerConfig struct {
	// SubjectPrefix is the broker subject prefix; partition p subscribes
	// to "<prefix>.p<p>".
	SubjectPrefix string

	// Partitions is the number of partition subjects to consume.
	Partitions int

	// LedgerSize bounds each partition's idempotency ledger.
	LedgerSize int

	// CloseTimeout is how long to wait for in-flight messages on shutdown.
	CloseTimeout time.Duration

	// In-process redelivery before the message is nacked back to the broker.
	RetryMaxRetries      int
	RetryInitialInterval time.Duration
	RetryMaxInterval     time.Duration
	RetryMultiplier      float64
}

// DefaultConsumerConfig returns production defaults for the consumer.
func DefaultConsumerConfig() ConsumerConfig {
	return ConsumerConfig{
		SubjectPrefix:        "events",
		Partitions:           8,
		LedgerSize:           DefaultLedgerSize,
		CloseTimeout:         30 * time.Second,
		RetryMaxRetries:      3,
		RetryInitialInterval: time.Second,
		RetryMaxInterval:     time.Minute,
		RetryMultiplier:      2.0,
	}
}

// Consumer runs one handler per partition subject on a shared router.
// Handlers are synchronous, so each partition processes its events in
// arrival order.
type Consumer struct {
	router     *message.Router
	processors []*Processor
	config     ConsumerConfig
}

// NewConsumer builds the partition handlers on a new router. The subscriber
// is shared; ordering comes from one synchronous handler owning each subject.
func NewConsumer(
	cfg ConsumerConfig,
	subscriber message.Subscriber,
	newProcessor func() *Processor,
	logger watermill.LoggerAdapter,
) (*Consumer, error) {
	if logger == nil {
		logger = watermill.NewStdLogger(false, false)
	}
	if cfg.Partitions <= 0 {
		return nil, fmt.Errorf("consumer requires at least one partition, got %d", cfg.Partitions)
	}

	router, err := message.NewRouter(message.RouterConfig{CloseTimeout: cfg.CloseTimeout}, logger)
	if err != nil {
		return nil, fmt.Errorf("create router: %w", err)
	}

	router.AddMiddleware(middleware.Recoverer)
	retry := middleware.Retry{
		MaxRetries:      cfg.RetryMaxRetries,
		InitialInterval: cfg.RetryInitialInterval,
		MaxInterval:     cfg.RetryMaxInterval,
		Multiplier:      cfg.RetryMultiplier,
		Logger:          logger,
	}
	router.AddMiddleware(retry.Middleware)

	c := &Consumer{
		router:     router,
		processors: make([]*Processor, cfg.Partitions),
		config:     cfg,
	}
	for p := 0; p < cfg.Partitions; p++ {
		proc := newProcessor()
		c.processors[p] = proc
		router.AddConsumerHandler(
			fmt.Sprintf("aggregate-p%d", p),
			Subject(cfg.SubjectPrefix, p),
			subscriber,
			c.handle(proc),
		)
	}
	return c, nil
}

// handle decodes the payload and applies it through the partition's
// processor. Malformed payloads are acknowledged and dropped; redelivering
// them can never succeed.
func (c *Consumer) handle(proc *Processor) message.NoPublishHandlerFunc {
	return func(msg *message.Message) error {
		e, err := models.UnmarshalEvent(msg.Payload)
		if err != nil {
			logging.Ctx(msg.Context()).Error().
				Err(err).
				Str("message_uuid", msg.UUID).
				Msg("dropping malformed event payload")
			metrics.EventsProcessed.WithLabelValues("unknown", "malformed").Inc()
			return nil
		}

		ctx := msg.Context()
		if cid := msg.Metadata.Get(MetadataCorrelationID); cid != "" {
			ctx = logging.ContextWithCorrelationID(ctx, cid)
		} else if e.CorrelationID != "" {
			ctx = logging.ContextWithCorrelationID(ctx, e.CorrelationID)
		}
		return proc.ProcessEvent(ctx, e)
	}
}

// Run starts the router and blocks until the context is canceled.
func (c *Consumer) Run(ctx context.Context) error {
	return c.router.Run(ctx)
}

// Running returns a channel that closes once all handlers are consuming.
func (c *Consumer) Running() <-chan struct{} {
	return c.router.Running()
}

// Close drains in-flight messages up to CloseTimeout and stops the router.
func (c *Consumer) Close() error {
	return c.router.Close()
}
