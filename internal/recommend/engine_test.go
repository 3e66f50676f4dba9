// Featurepipe - Online Feature Pipeline for Recommendation Serving
// Copyright 2026 The Featurepipe Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/recsyslab/featurepipe

package recommend

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/recsyslab/featurepipe/internal/featurestore"
	"github.com/recsyslab/featurepipe/internal/models"
	"github.com/recsyslab/featurepipe/internal/resilience"
)

func fastGuard(name string) *resilience.Guard {
	cfg := resilience.DefaultConfig()
	cfg.Retry.MaxRetries = 1
	cfg.Retry.InitialDelay = time.Millisecond
	cfg.Retry.MaxDelay = 2 * time.Millisecond
	return resilience.NewGuard(name, cfg)
}

func storeWith(t *testing.T, setup func(ctx context.Context, store *featurestore.Store)) *featurestore.Store {
	t.Helper()
	store := featurestore.New(
		featurestore.Config{TTL: time.Hour},
		featurestore.NewMemoryCache(),
		featurestore.NewMemoryDurable(),
		fastGuard("cache"),
		fastGuard("durable"),
	)
	if setup != nil {
		setup(context.Background(), store)
	}
	return store
}

func seedPopularity(ctx context.Context, store *featurestore.Store) {
	now := time.Now().UTC()
	for i := 0; i < 5; i++ {
		_ = store.UpsertInteraction(ctx, "seed-user", "hot-item", models.EventView, now)
	}
	_ = store.UpsertInteraction(ctx, "seed-user", "warm-item", models.EventView, now)
}

func TestRecommendNewUserFallsBackToPopularity(t *testing.T) {
	store := storeWith(t, seedPopularity)
	engine := NewEngine(DefaultConfig(), store, nil, nil, zerolog.Nop())

	resp, err := engine.Recommend(context.Background(), "never-seen", 10)
	if err != nil {
		t.Fatalf("recommend: %v", err)
	}
	if resp.UserType != UserTypeNew {
		t.Errorf("user type = %s, want %s", resp.UserType, UserTypeNew)
	}
	if resp.Source != SourcePopularity {
		t.Errorf("source = %s, want %s", resp.Source, SourcePopularity)
	}
	if len(resp.Items) != 2 || resp.Items[0].ItemID != "hot-item" {
		t.Errorf("unexpected items: %+v", resp.Items)
	}
	if resp.Items[0].Score < resp.Items[1].Score {
		t.Error("scores must be non-increasing")
	}
}

func TestRecommendExistingUserUsesSimilarity(t *testing.T) {
	store := storeWith(t, func(ctx context.Context, store *featurestore.Store) {
		rec := models.NewFeatureRecord("alice")
		rec.FeatureVector = []float32{1, 0}
		if err := store.Put(ctx, models.UserSubject("alice"), rec); err != nil {
			t.Fatalf("seed user: %v", err)
		}
	})

	index, err := NewExactIndex(2)
	if err != nil {
		t.Fatalf("new index: %v", err)
	}
	_ = index.Add("close", []float32{1, 0.1})
	_ = index.Add("far", []float32{-1, 0})
	_ = index.Add("mid", []float32{0.5, 0})

	engine := NewEngine(DefaultConfig(), store, index, fastGuard("search"), zerolog.Nop())
	resp, err := engine.Recommend(context.Background(), "alice", 2)
	if err != nil {
		t.Fatalf("recommend: %v", err)
	}
	if resp.UserType != UserTypeExisting {
		t.Errorf("user type = %s, want %s", resp.UserType, UserTypeExisting)
	}
	if resp.Source != SourceVectorSimilarity {
		t.Errorf("source = %s, want %s", resp.Source, SourceVectorSimilarity)
	}
	if len(resp.Items) != 2 || resp.Items[0].ItemID != "close" || resp.Items[1].ItemID != "mid" {
		t.Errorf("unexpected ranking: %+v", resp.Items)
	}
	if resp.Items[0].Score <= resp.Items[1].Score {
		t.Error("closer item must score strictly higher here")
	}
}

// failingSearcher always fails, exercising the degradation path.
type failingSearcher struct{ calls int }

func (f *failingSearcher) Search(context.Context, []float32, int) ([]ScoredItem, error) {
	f.calls++
	return nil, resilience.Transient(errors.New("index unavailable"))
}

func TestRecommendDegradesOnSearchFailure(t *testing.T) {
	store := storeWith(t, func(ctx context.Context, store *featurestore.Store) {
		seedPopularity(ctx, store)
		rec := models.NewFeatureRecord("alice")
		rec.FeatureVector = []float32{1, 0}
		_ = store.Put(ctx, models.UserSubject("alice"), rec)
	})

	engine := NewEngine(DefaultConfig(), store, &failingSearcher{}, fastGuard("search"), zerolog.Nop())
	resp, err := engine.Recommend(context.Background(), "alice", 10)
	if err != nil {
		t.Fatalf("recommend should degrade, not fail: %v", err)
	}
	if resp.Source != SourcePopularity {
		t.Errorf("source = %s, want %s", resp.Source, SourcePopularity)
	}
	// Classification reflects the user's features, not the path taken.
	if resp.UserType != UserTypeExisting {
		t.Errorf("user type = %s, want %s", resp.UserType, UserTypeExisting)
	}
}

func TestRecommendKBounds(t *testing.T) {
	store := storeWith(t, seedPopularity)
	engine := NewEngine(DefaultConfig(), store, nil, nil, zerolog.Nop())
	ctx := context.Background()

	var invalid *InvalidKError
	if _, err := engine.Recommend(ctx, "u", -1); !errors.As(err, &invalid) {
		t.Errorf("k=-1: expected InvalidKError, got %v", err)
	}
	if _, err := engine.Recommend(ctx, "u", 101); !errors.As(err, &invalid) {
		t.Errorf("k=101: expected InvalidKError, got %v", err)
	}

	// k=0 takes the default rather than erroring.
	resp, err := engine.Recommend(ctx, "u", 0)
	if err != nil {
		t.Fatalf("k=0: %v", err)
	}
	if len(resp.Items) == 0 {
		t.Error("default k should return results")
	}
}

func TestExactIndexValidation(t *testing.T) {
	if _, err := NewExactIndex(0); err == nil {
		t.Error("zero dimension must be rejected")
	}

	index, _ := NewExactIndex(3)
	if err := index.Add("a", []float32{1, 2}); err == nil {
		t.Error("dimension mismatch on add must be rejected")
	}
	if _, err := index.Search(context.Background(), []float32{1}, 5); err == nil {
		t.Error("dimension mismatch on search must be rejected")
	}

	_ = index.Add("a", []float32{1, 2, 3})
	_ = index.Add("a", []float32{4, 5, 6})
	if index.Len() != 1 {
		t.Errorf("re-adding an item must replace it, len = %d", index.Len())
	}
}
