// Featurepipe - Online Feature Pipeline for Recommendation Serving
// Copyright 2026 The Featurepipe Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/recsyslab/featurepipe

package ingest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/recsyslab/featurepipe/internal/aggregator"
	"github.com/recsyslab/featurepipe/internal/models"
	"github.com/recsyslab/featurepipe/internal/resilience"
)

// topicCapture records messages by topic.
type topicCapture struct {
	topics map[string][]*message.Message
	err    error
}

func newTopicCapture() *topicCapture {
	return &topicCapture{topics: make(map[string][]*message.Message)}
}

func (c *topicCapture) Publish(topic string, msgs ...*message.Message) error {
	if c.err != nil {
		return c.err
	}
	c.topics[topic] = append(c.topics[topic], msgs...)
	return nil
}

func (c *topicCapture) Close() error { return nil }

func TestEventPublisherRoutesByUser(t *testing.T) {
	const partitions = 4
	sink := newTopicCapture()
	pub, err := NewEventPublisher(sink, nil, "events", partitions)
	if err != nil {
		t.Fatalf("new publisher: %v", err)
	}

	e := &models.Event{
		EventID:        "evt-1",
		UserID:         "alice",
		ItemID:         "i1",
		EventType:      models.EventView,
		Timestamp:      time.Now().UTC(),
		IdempotencyKey: "key-1",
		CorrelationID:  "corr-1",
	}
	if err := pub.Publish(context.Background(), e); err != nil {
		t.Fatalf("publish: %v", err)
	}

	want := aggregator.SubjectFor("events", "alice", partitions)
	msgs := sink.topics[want]
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message on %s, topics: %v", want, sink.topics)
	}
	msg := msgs[0]
	if msg.UUID != "evt-1" {
		t.Errorf("message UUID = %s, want evt-1", msg.UUID)
	}
	if got := msg.Metadata.Get(aggregator.MetadataCorrelationID); got != "corr-1" {
		t.Errorf("correlation metadata = %s, want corr-1", got)
	}
	if got := msg.Metadata.Get("Nats-Msg-Id"); got != "key-1" {
		t.Errorf("broker message id = %s, want key-1", got)
	}

	decoded, err := models.UnmarshalEvent(msg.Payload)
	if err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if decoded.UserID != "alice" || decoded.EventType != models.EventView {
		t.Errorf("payload round trip: %+v", decoded)
	}
}

func TestEventPublisherSameUserSamePartition(t *testing.T) {
	const partitions = 8
	sink := newTopicCapture()
	pub, _ := NewEventPublisher(sink, nil, "events", partitions)

	for i := 0; i < 5; i++ {
		e := &models.Event{EventID: "e", UserID: "bob", EventType: models.EventClick}
		if err := pub.Publish(context.Background(), e); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}
	if len(sink.topics) != 1 {
		t.Errorf("events for one user spread over %d subjects", len(sink.topics))
	}
}

func TestEventPublisherBreakerOpens(t *testing.T) {
	cfg := resilience.DefaultConfig()
	cfg.Retry.MaxRetries = 0
	cfg.Retry.InitialDelay = time.Millisecond
	cfg.Breaker.FailureThreshold = 2
	guard := resilience.NewGuard("broker", cfg)

	sink := newTopicCapture()
	sink.err = errors.New("nats down")
	pub, _ := NewEventPublisher(sink, guard, "events", 2)

	e := &models.Event{EventID: "e", UserID: "u", EventType: models.EventView}
	for i := 0; i < 3; i++ {
		_ = pub.Publish(context.Background(), e)
	}

	err := pub.Publish(context.Background(), e)
	if !resilience.IsUnavailable(err) {
		t.Fatalf("expected UnavailableError once the breaker is open, got %v", err)
	}
	if !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Errorf("expected ErrCircuitOpen in the chain, got %v", err)
	}
}

func TestNewEventPublisherRejectsZeroPartitions(t *testing.T) {
	if _, err := NewEventPublisher(newTopicCapture(), nil, "events", 0); err == nil {
		t.Fatal("expected error for zero partitions")
	}
}
