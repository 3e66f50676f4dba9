// Featurepipe - Online Feature Pipeline for Recommendation Serving
// Copyright 2026 The Featurepipe Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/recsyslab/featurepipe

// Package aggregator consumes interaction events from the broker and folds
// them into per-user and per-item feature records. Each partition is owned
// by exactly one processor, so records for a given user are never updated
// concurrently.
package aggregator

import (
	"context"
	"time"

	"github.com/recsyslab/featurepipe/internal/cache"
	"github.com/recsyslab/featurepipe/internal/featurestore"
	"github.com/recsyslab/featurepipe/internal/logging"
	"github.com/recsyslab/featurepipe/internal/metrics"
	"github.com/recsyslab/featurepipe/internal/models"
)

// DefaultLedgerSize bounds the idempotency ledger per partition.
const DefaultLedgerSize = 10000

// Processor applies events to the feature store. It is not safe for
// concurrent use; run one processor per partition.
type Processor struct {
	store  *featurestore.Store
	ledger *cache.LRU
}

// NewProcessor creates a processor with an idempotency ledger of the given
// capacity. A non-positive size falls back to DefaultLedgerSize.
func NewProcessor(store *featurestore.Store, ledgerSize int) *Processor {
	if ledgerSize <= 0 {
		ledgerSize = DefaultLedgerSize
	}
	return &Processor{
		store:  store,
		ledger: cache.NewLRU(ledgerSize, 0),
	}
}

// ProcessEvent folds one event into the store.
//
// Duplicates (same idempotency key) are acknowledged without effect. The
// ledger records a key only after every write succeeded, so a failed event
// is retried in full on redelivery. Store failures are returned to the
// caller; the broker redelivers.
func (p *Processor) ProcessEvent(ctx context.Context, e *models.Event) error {
	start := time.Now()

	if e.IdempotencyKey != "" && p.ledger.Contains(e.IdempotencyKey) {
		logging.Ctx(ctx).Debug().
			Str("event_id", e.EventID).
			Str("idempotency_key", e.IdempotencyKey).
			Msg("duplicate event skipped")
		metrics.ObserveProcessing(string(e.EventType), "duplicate", start)
		return nil
	}

	if e.UserID != "" {
		if err := p.applyUser(ctx, e); err != nil {
			metrics.ObserveProcessing(string(e.EventType), "error", start)
			return err
		}
	}

	if e.ItemID != "" {
		if err := p.applyItem(ctx, e); err != nil {
			metrics.ObserveProcessing(string(e.EventType), "error", start)
			return err
		}
		if e.UserID != "" {
			if err := p.store.UpsertInteraction(ctx, e.UserID, e.ItemID, e.EventType, e.Timestamp); err != nil {
				metrics.ObserveProcessing(string(e.EventType), "error", start)
				return err
			}
		}
	}

	if e.IdempotencyKey != "" {
		p.ledger.Add(e.IdempotencyKey)
	}
	metrics.ObserveProcessing(string(e.EventType), "success", start)
	return nil
}

func (p *Processor) applyUser(ctx context.Context, e *models.Event) error {
	subject := models.UserSubject(e.UserID)
	rec, err := p.store.Get(ctx, subject)
	if err != nil {
		return err
	}
	if rec == nil {
		rec = models.NewFeatureRecord(e.UserID)
	}
	rec.Apply(e)
	if e.ItemID != "" {
		rec.PushRecentItem(e.ItemID)
	}
	return p.store.Put(ctx, subject, rec)
}

func (p *Processor) applyItem(ctx context.Context, e *models.Event) error {
	subject := models.ItemSubject(e.ItemID)
	rec, err := p.store.Get(ctx, subject)
	if err != nil {
		return err
	}
	if rec == nil {
		rec = models.NewFeatureRecord(e.ItemID)
	}
	rec.Apply(e)
	return p.store.Put(ctx, subject, rec)
}

// LedgerLen reports how many idempotency keys the processor currently tracks.
func (p *Processor) LedgerLen() int {
	return p.ledger.Len()
}
