// Featurepipe - Online Feature Pipeline for Recommendation Serving
// Copyright 2026 The Featurepipe Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/recsyslab/featurepipe

package featurestore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/recsyslab/featurepipe/internal/models"
)

// MemoryCache is an in-process CacheTier used in tests and single-node
// development runs. TTL expiry is enforced lazily on read.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]memoryCacheEntry

	// now is injectable for expiry tests.
	now func() time.Time
}

type memoryCacheEntry struct {
	value     []byte
	expiresAt time.Time
}

// NewMemoryCache creates an empty in-memory cache tier.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		entries: make(map[string]memoryCacheEntry),
		now:     time.Now,
	}
}

// SetClock replaces the time source. Test helper.
func (m *MemoryCache) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// Name implements CacheTier.
func (m *MemoryCache) Name() string { return "memory-cache" }

// Get implements CacheTier.
func (m *MemoryCache) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	e, ok := m.entries[key]
	now := m.now()
	m.mu.RUnlock()

	if !ok || now.After(e.expiresAt) {
		return nil, ErrNotFound
	}
	out := make([]byte, len(e.value))
	copy(out, e.value)
	return out, nil
}

// SetWithTTL implements CacheTier.
func (m *MemoryCache) SetWithTTL(_ context.Context, key string, value []byte, ttl time.Duration) error {
	v := make([]byte, len(value))
	copy(v, value)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = memoryCacheEntry{value: v, expiresAt: m.now().Add(ttl)}
	return nil
}

// Close implements CacheTier.
func (m *MemoryCache) Close() error { return nil }

// interactionKey identifies one (user, item, type) aggregate row.
type interactionKey struct {
	userID    string
	itemID    string
	eventType models.EventType
}

// MemoryDurable is an in-process DurableTier used in tests and single-node
// development runs. Upserts are last-writer-wins per subject, matching the
// Postgres tier's semantics.
type MemoryDurable struct {
	mu           sync.RWMutex
	features     map[models.Subject]*models.FeatureRecord
	interactions map[interactionKey]*models.InteractionAggregate
}

// NewMemoryDurable creates an empty in-memory durable tier.
func NewMemoryDurable() *MemoryDurable {
	return &MemoryDurable{
		features:     make(map[models.Subject]*models.FeatureRecord),
		interactions: make(map[interactionKey]*models.InteractionAggregate),
	}
}

// Name implements DurableTier.
func (m *MemoryDurable) Name() string { return "memory-durable" }

// GetFeatures implements DurableTier.
func (m *MemoryDurable) GetFeatures(_ context.Context, subject models.Subject) (*models.FeatureRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.features[subject]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneRecord(rec), nil
}

// UpsertFeatures implements DurableTier.
func (m *MemoryDurable) UpsertFeatures(_ context.Context, subject models.Subject, rec *models.FeatureRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.features[subject] = cloneRecord(rec)
	return nil
}

// UpsertInteraction implements DurableTier.
func (m *MemoryDurable) UpsertInteraction(_ context.Context, userID, itemID string, eventType models.EventType, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := interactionKey{userID: userID, itemID: itemID, eventType: eventType}
	if agg, ok := m.interactions[key]; ok {
		agg.Count++
		agg.LastInteractionAt = at
		return nil
	}
	m.interactions[key] = &models.InteractionAggregate{
		UserID:            userID,
		ItemID:            itemID,
		InteractionType:   eventType,
		Count:             1,
		LastInteractionAt: at,
	}
	return nil
}

// TopItems implements DurableTier.
func (m *MemoryDurable) TopItems(_ context.Context, window time.Duration, k int) ([]PopularItem, error) {
	cutoff := time.Now().Add(-window)

	m.mu.RLock()
	totals := make(map[string]float64)
	for _, agg := range m.interactions {
		if agg.LastInteractionAt.After(cutoff) {
			totals[agg.ItemID] += float64(agg.Count)
		}
	}
	m.mu.RUnlock()

	items := make([]PopularItem, 0, len(totals))
	for id, score := range totals {
		items = append(items, PopularItem{ItemID: id, Score: score})
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].Score != items[j].Score {
			return items[i].Score > items[j].Score
		}
		return items[i].ItemID < items[j].ItemID
	})
	if len(items) > k {
		items = items[:k]
	}
	return items, nil
}

// Close implements DurableTier.
func (m *MemoryDurable) Close() error { return nil }

// Interaction returns the stored aggregate for one triple. Test helper.
func (m *MemoryDurable) Interaction(userID, itemID string, eventType models.EventType) *models.InteractionAggregate {
	m.mu.RLock()
	defer m.mu.RUnlock()

	agg, ok := m.interactions[interactionKey{userID: userID, itemID: itemID, eventType: eventType}]
	if !ok {
		return nil
	}
	cp := *agg
	return &cp
}

// cloneRecord deep-copies a feature record so callers cannot alias stored
// state.
func cloneRecord(rec *models.FeatureRecord) *models.FeatureRecord {
	cp := *rec
	if rec.Counters != nil {
		cp.Counters = make(map[string]int64, len(rec.Counters))
		for k, v := range rec.Counters {
			cp.Counters[k] = v
		}
	}
	cp.RecentItems = append([]string(nil), rec.RecentItems...)
	cp.FeatureVector = append([]float32(nil), rec.FeatureVector...)
	return &cp
}
