// Featurepipe - Online Feature Pipeline for Recommendation Serving
// Copyright 2026 The Featurepipe Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/recsyslab/featurepipe

package aggregator

import (
	"context"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/recsyslab/featurepipe/internal/models"
)

func TestConsumerProcessesPartitionedEvents(t *testing.T) {
	store, _ := testStore()
	pubSub := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
	defer pubSub.Close()

	cfg := DefaultConsumerConfig()
	cfg.Partitions = 4
	cfg.CloseTimeout = 5 * time.Second
	cfg.RetryMaxRetries = 0

	consumer, err := NewConsumer(cfg, pubSub, func() *Processor {
		return NewProcessor(store, 100)
	}, watermill.NopLogger{})
	if err != nil {
		t.Fatalf("new consumer: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := consumer.Run(ctx); err != nil {
			t.Errorf("consumer run: %v", err)
		}
	}()
	<-consumer.Running()

	users := []string{"alice", "bob", "carol"}
	for i, user := range users {
		e := event(user, "item-a", models.EventView, "key-"+user)
		payload, err := e.Marshal()
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		msg := message.NewMessage(watermill.NewUUID(), payload)
		msg.Metadata.Set(MetadataCorrelationID, "corr-"+user)
		if err := pubSub.Publish(SubjectFor(cfg.SubjectPrefix, user, cfg.Partitions), msg); err != nil {
			t.Fatalf("publish %d: %v", i, err)
		}
	}

	deadline := time.After(5 * time.Second)
	for _, user := range users {
		for {
			rec, err := store.Get(context.Background(), models.UserSubject(user))
			if err != nil {
				t.Fatalf("get %s: %v", user, err)
			}
			if rec != nil && rec.Counters["total_events"] == 1 {
				break
			}
			select {
			case <-deadline:
				t.Fatalf("event for %s never processed", user)
			case <-time.After(10 * time.Millisecond):
			}
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("consumer did not stop")
	}
}

func TestConsumerDropsMalformedPayload(t *testing.T) {
	store, _ := testStore()
	pubSub := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
	defer pubSub.Close()

	cfg := DefaultConsumerConfig()
	cfg.Partitions = 1
	cfg.RetryMaxRetries = 0

	consumer, err := NewConsumer(cfg, pubSub, func() *Processor {
		return NewProcessor(store, 100)
	}, watermill.NopLogger{})
	if err != nil {
		t.Fatalf("new consumer: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = consumer.Run(ctx) }()
	<-consumer.Running()

	subject := Subject(cfg.SubjectPrefix, 0)
	if err := pubSub.Publish(subject, message.NewMessage(watermill.NewUUID(), []byte("{not json"))); err != nil {
		t.Fatalf("publish garbage: %v", err)
	}

	// A valid event published after the garbage still gets through, which
	// shows the malformed payload was acked rather than redelivered forever.
	e := event("u1", "item-a", models.EventView, "k1")
	payload, _ := e.Marshal()
	if err := pubSub.Publish(subject, message.NewMessage(watermill.NewUUID(), payload)); err != nil {
		t.Fatalf("publish event: %v", err)
	}

	deadline := time.After(5 * time.Second)
	for {
		rec, err := store.Get(context.Background(), models.UserSubject("u1"))
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if rec != nil {
			break
		}
		select {
		case <-deadline:
			t.Fatal("valid event never processed")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestNewConsumerRejectsZeroPartitions(t *testing.T) {
	pubSub := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
	defer pubSub.Close()

	cfg := DefaultConsumerConfig()
	cfg.Partitions = 0
	if _, err := NewConsumer(cfg, pubSub, func() *Processor { return nil }, watermill.NopLogger{}); err == nil {
		t.Fatal("expected error for zero partitions")
	}
}
