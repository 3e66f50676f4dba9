// Featurepipe - Online Feature Pipeline for Recommendation Serving
// Copyright 2026 The Featurepipe Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/recsyslab/featurepipe

// Package ingest accepts interaction events over HTTP and publishes them to
// the broker, partitioned by user so downstream aggregation sees each user's
// events in order.
package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	wmNats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	natsgo "github.com/nats-io/nats.go"

	"github.com/recsyslab/featurepipe/internal/aggregator"
	"github.com/recsyslab/featurepipe/internal/metrics"
	"github.com/recsyslab/featurepipe/internal/models"
	"github.com/recsyslab/featurepipe/internal/resilience"
)

// Publisher sends events to the broker.
type Publisher interface {
	Publish(ctx context.Context, e *models.Event) error
	Close() error
}

// EventPublisher wraps a watermill publisher with partition routing and a
// resilience guard. A broker outage opens the breaker so intake fails fast
// instead of piling up blocked requests.
type EventPublisher struct {
	pub        message.Publisher
	guard      *resilience.Guard
	prefix     string
	partitions int
}

// NewEventPublisher creates a partition-routing publisher. The guard may be
// nil, mainly for tests.
func NewEventPublisher(pub message.Publisher, guard *resilience.Guard, subjectPrefix string, partitions int) (*EventPublisher, error) {
	if partitions <= 0 {
		return nil, fmt.Errorf("publisher requires at least one partition, got %d", partitions)
	}
	return &EventPublisher{
		pub:        pub,
		guard:      guard,
		prefix:     subjectPrefix,
		partitions: partitions,
	}, nil
}

// Publish sends one event to its partition subject. The event's
// idempotency key doubles as the broker message ID so JetStream drops
// republished duplicates before they reach a consumer.
func (p *EventPublisher) Publish(ctx context.Context, e *models.Event) error {
	payload, err := e.Marshal()
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	msg := message.NewMessage(e.EventID, payload)
	msg.SetContext(ctx)
	if e.CorrelationID != "" {
		msg.Metadata.Set(aggregator.MetadataCorrelationID, e.CorrelationID)
	}
	if e.IdempotencyKey != "" {
		msg.Metadata.Set(natsgo.MsgIdHdr, e.IdempotencyKey)
	}

	subject := aggregator.SubjectFor(p.prefix, e.UserID, p.partitions)
	publish := func(context.Context) (struct{}, error) {
		if err := p.pub.Publish(subject, msg); err != nil {
			return struct{}{}, resilience.Transient(err)
		}
		return struct{}{}, nil
	}

	if p.guard != nil {
		_, err = resilience.Call(ctx, p.guard, publish)
	} else {
		_, err = publish(ctx)
	}
	if err != nil {
		return err
	}
	metrics.EventsIngested.WithLabelValues(string(e.EventType)).Inc()
	return nil
}

// Close shuts down the underlying publisher.
func (p *EventPublisher) Close() error {
	return p.pub.Close()
}

// NATSConfig holds JetStream publisher configuration.
type NATSConfig struct {
	URL             string
	MaxReconnects   int
	ReconnectWait   time.Duration
	ReconnectBuffer int
}

// DefaultNATSConfig returns production publisher defaults.
func DefaultNATSConfig(url string) NATSConfig {
	return NATSConfig{
		URL:             url,
		MaxReconnects:   -1,
		ReconnectWait:   2 * time.Second,
		ReconnectBuffer: 8 * 1024 * 1024,
	}
}

// NewNATSPublisher creates a JetStream publisher with message ID tracking,
// so the stream itself deduplicates republished events.
func NewNATSPublisher(cfg NATSConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	if logger == nil {
		logger = watermill.NewStdLogger(false, false)
	}

	natsOpts := []natsgo.Option{
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(cfg.MaxReconnects),
		natsgo.ReconnectWait(cfg.ReconnectWait),
		natsgo.ReconnectBufSize(cfg.ReconnectBuffer),
		natsgo.DisconnectErrHandler(func(_ *natsgo.Conn, err error) {
			if err != nil {
				logger.Error("publisher disconnected", err, nil)
			}
		}),
		natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
			logger.Info("publisher reconnected", watermill.LogFields{"url": nc.ConnectedUrl()})
		}),
	}

	wmConfig := wmNats.PublisherConfig{
		URL:         cfg.URL,
		NatsOptions: natsOpts,
		Marshaler:   &wmNats.NATSMarshaler{},
		JetStream: wmNats.JetStreamConfig{
			Disabled:      false,
			AutoProvision: false,
			TrackMsgId:    true,
			PublishOptions: []natsgo.PubOpt{
				natsgo.RetryAttempts(3),
				natsgo.RetryWait(100 * time.Millisecond),
			},
		},
	}

	pub, err := wmNats.NewPublisher(wmConfig, logger)
	if err != nil {
		return nil, fmt.Errorf("create nats publisher: %w", err)
	}
	return pub, nil
}
