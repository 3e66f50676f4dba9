// Featurepipe - Online Feature Pipeline for Recommendation Serving
// Copyright 2026 The Featurepipe Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/recsyslab/featurepipe

// Package featurestore implements the two-tier feature store: a fast cache
// tier with TTL expiry in front of a durable tier with none.
//
// The two tiers are deliberately not written transactionally. A crash between
// the writes leaves the durable tier authoritative and the cache stale or
// absent; the read path's cache-miss-then-durable fallback is what bounds
// staleness to the cache TTL. Do not "fix" this with cross-tier transactions.
package featurestore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/recsyslab/featurepipe/internal/logging"
	"github.com/recsyslab/featurepipe/internal/metrics"
	"github.com/recsyslab/featurepipe/internal/models"
	"github.com/recsyslab/featurepipe/internal/resilience"
)

// ErrNotFound is returned by tiers when a key or subject is absent. The Store
// converts it to a nil record: absence is an expected state for a never-seen
// subject, not a failure, and must never trip a circuit breaker.
var ErrNotFound = errors.New("featurestore: not found")

// CacheTier is the fast, expiring storage backend (Redis in production).
type CacheTier interface {
	// Name identifies the backend for logs and guard wiring.
	Name() string

	// Get returns the raw value for key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// SetWithTTL stores value under key, eligible for eviction after ttl.
	SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Close releases the backend connection.
	Close() error
}

// PopularItem is one row of the popularity ranking.
type PopularItem struct {
	ItemID string
	Score  float64
}

// DurableTier is the persistent, non-expiring storage backend (Postgres in
// production). It also owns the interaction aggregates that feed the
// popularity fallback.
type DurableTier interface {
	// Name identifies the backend for logs and guard wiring.
	Name() string

	// GetFeatures returns the stored record for subject, or ErrNotFound.
	GetFeatures(ctx context.Context, subject models.Subject) (*models.FeatureRecord, error)

	// UpsertFeatures stores the record for subject, last writer wins.
	UpsertFeatures(ctx context.Context, subject models.Subject, rec *models.FeatureRecord) error

	// UpsertInteraction increments the (user, item, type) aggregate count and
	// refreshes its last-interaction timestamp.
	UpsertInteraction(ctx context.Context, userID, itemID string, eventType models.EventType, at time.Time) error

	// TopItems ranks items by summed interaction count over the trailing
	// window, descending, at most k rows.
	TopItems(ctx context.Context, window time.Duration, k int) ([]PopularItem, error)

	// Close releases the backend connection.
	Close() error
}

// Store is the two-tier feature store. Every backend call passes through the
// per-dependency resilience guards supplied at construction.
type Store struct {
	cache   CacheTier
	durable DurableTier

	cacheGuard   *resilience.Guard
	durableGuard *resilience.Guard

	ttl time.Duration
}

// Config holds feature store settings.
type Config struct {
	// TTL bounds how long a cache entry may serve reads. This is the strict
	// staleness bound for a subject after its last successful write.
	TTL time.Duration
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{TTL: time.Hour}
}

// New creates the store over the given tiers and guards.
func New(cfg Config, cache CacheTier, durable DurableTier, cacheGuard, durableGuard *resilience.Guard) *Store {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultConfig().TTL
	}
	return &Store{
		cache:        cache,
		durable:      durable,
		cacheGuard:   cacheGuard,
		durableGuard: durableGuard,
		ttl:          cfg.TTL,
	}
}

// cacheKey builds the cache tier key for a subject.
func cacheKey(subject models.Subject) string {
	return fmt.Sprintf("features:%s:%s", subject.Kind, subject.ID)
}

// Get returns the feature record for subject, or (nil, nil) when the subject
// has never been seen.
//
// The cache tier is consulted first. A cache miss or a cache tier failure
// falls through to the durable tier; a durable hit repopulates the cache as
// a best-effort latency optimization.
func (s *Store) Get(ctx context.Context, subject models.Subject) (*models.FeatureRecord, error) {
	key := cacheKey(subject)

	cached, err := resilience.Call(ctx, s.cacheGuard, func(ctx context.Context) ([]byte, error) {
		data, err := s.cache.Get(ctx, key)
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return data, err
	})
	switch {
	case err != nil:
		// A failing cache tier degrades to durable reads instead of failing
		// the lookup.
		logging.Ctx(ctx).Warn().Err(err).Str("subject", subject.ID).Msg("cache tier read failed, falling back to durable tier")
		metrics.CacheMisses.Inc()
	case cached != nil:
		rec, uerr := models.UnmarshalFeatureRecord(cached)
		if uerr == nil {
			metrics.CacheHits.Inc()
			return rec, nil
		}
		// A corrupt entry reads as a miss; the durable tier is authoritative.
		logging.Ctx(ctx).Warn().Err(uerr).Str("key", key).Msg("discarding undecodable cache entry")
		metrics.CacheMisses.Inc()
	default:
		metrics.CacheMisses.Inc()
	}

	rec, err := resilience.Call(ctx, s.durableGuard, func(ctx context.Context) (*models.FeatureRecord, error) {
		r, err := s.durable.GetFeatures(ctx, subject)
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return r, err
	})
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, nil
	}

	s.repopulate(ctx, key, rec)
	return rec, nil
}

// Put writes the record to both tiers. The writes are independent: a cache
// failure is logged and absorbed (reads fall back to the durable tier), a
// durable failure surfaces to the caller.
func (s *Store) Put(ctx context.Context, subject models.Subject, rec *models.FeatureRecord) error {
	rec.UpdatedAt = time.Now().UTC()

	data, err := rec.Marshal()
	if err != nil {
		return fmt.Errorf("marshal feature record: %w", err)
	}

	if cerr := s.cacheGuard.Do(ctx, func(ctx context.Context) error {
		return s.cache.SetWithTTL(ctx, cacheKey(subject), data, s.ttl)
	}); cerr != nil {
		logging.Ctx(ctx).Warn().Err(cerr).Str("subject", rec.SubjectID).Msg("cache tier write failed, durable tier remains authoritative")
	}

	if err := s.durableGuard.Do(ctx, func(ctx context.Context) error {
		return s.durable.UpsertFeatures(ctx, subject, rec)
	}); err != nil {
		return err
	}

	metrics.FeaturesUpdated.WithLabelValues(string(subject.Kind)).Inc()
	return nil
}

// UpsertInteraction records one interaction into the durable aggregates.
func (s *Store) UpsertInteraction(ctx context.Context, userID, itemID string, eventType models.EventType, at time.Time) error {
	return s.durableGuard.Do(ctx, func(ctx context.Context) error {
		return s.durable.UpsertInteraction(ctx, userID, itemID, eventType, at)
	})
}

// TopItems returns the popularity ranking over the trailing window.
func (s *Store) TopItems(ctx context.Context, window time.Duration, k int) ([]PopularItem, error) {
	return resilience.Call(ctx, s.durableGuard, func(ctx context.Context) ([]PopularItem, error) {
		return s.durable.TopItems(ctx, window, k)
	})
}

// TTL returns the configured cache expiry.
func (s *Store) TTL() time.Duration {
	return s.ttl
}

// Close closes both tiers.
func (s *Store) Close() error {
	cerr := s.cache.Close()
	derr := s.durable.Close()
	if derr != nil {
		return derr
	}
	return cerr
}

// repopulate refreshes the cache after a durable hit. Failures only cost
// latency on the next read.
func (s *Store) repopulate(ctx context.Context, key string, rec *models.FeatureRecord) {
	data, err := rec.Marshal()
	if err != nil {
		return
	}
	if err := s.cacheGuard.Do(ctx, func(ctx context.Context) error {
		return s.cache.SetWithTTL(ctx, key, data, s.ttl)
	}); err != nil {
		logging.Ctx(ctx).Debug().Err(err).Str("key", key).Msg("cache repopulation failed")
	}
}
