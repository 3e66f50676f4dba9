// Featurepipe - Online Feature Pipeline for Recommendation Serving
// Copyright 2026 The Featurepipe Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/recsyslab/featurepipe

package recommend

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/recsyslab/featurepipe/internal/featurestore"
	"github.com/recsyslab/featurepipe/internal/logging"
	"github.com/recsyslab/featurepipe/internal/metrics"
	"github.com/recsyslab/featurepipe/internal/models"
	"github.com/recsyslab/featurepipe/internal/resilience"
)

// Config holds serving parameters.
type Config struct {
	// DefaultK is the result count when the caller does not specify one.
	DefaultK int

	// MaxK bounds the requested result count. Requests above it are
	// rejected, not clamped.
	MaxK int

	// PopularityWindow is how far back the popularity fallback looks.
	PopularityWindow time.Duration
}

// DefaultConfig returns production serving defaults.
func DefaultConfig() Config {
	return Config{
		DefaultK:         10,
		MaxK:             100,
		PopularityWindow: 30 * 24 * time.Hour,
	}
}

// Engine produces recommendations. It is safe for concurrent use.
type Engine struct {
	config      Config
	store       *featurestore.Store
	searcher    Searcher
	searchGuard *resilience.Guard
	logger      zerolog.Logger
}

// NewEngine creates a serving engine. The searcher may be nil, in which case
// every request is served from the popularity fallback.
//
//nolint:gocritic // hugeParam: logger passed by value for zerolog chaining
func NewEngine(cfg Config, store *featurestore.Store, searcher Searcher, searchGuard *resilience.Guard, logger zerolog.Logger) *Engine {
	if cfg.DefaultK <= 0 {
		cfg.DefaultK = 10
	}
	if cfg.MaxK <= 0 {
		cfg.MaxK = 100
	}
	if cfg.PopularityWindow <= 0 {
		cfg.PopularityWindow = 30 * 24 * time.Hour
	}
	return &Engine{
		config:      cfg,
		store:       store,
		searcher:    searcher,
		searchGuard: searchGuard,
		logger:      logger.With().Str("component", "recommend").Logger(),
	}
}

// Recommend returns up to k ranked items for the user.
//
// A user with a feature vector is served by similarity search; a search
// failure degrades to the popularity fallback instead of failing the
// request. Users without a vector (including never-seen users) go straight
// to popularity. Only when the fallback itself fails does the request error.
func (e *Engine) Recommend(ctx context.Context, userID string, k int) (*Response, error) {
	if k == 0 {
		k = e.config.DefaultK
	}
	if k < 1 || k > e.config.MaxK {
		return nil, &InvalidKError{K: k, Max: e.config.MaxK}
	}

	logger := logging.Ctx(ctx).With().Str("user_id", userID).Int("k", k).Logger()

	rec, err := e.store.Get(ctx, models.UserSubject(userID))
	if err != nil {
		return nil, fmt.Errorf("load user features: %w", err)
	}

	userType := UserTypeNew
	if rec.HasVector() {
		userType = UserTypeExisting
		items, err := e.similar(ctx, rec.FeatureVector, k)
		if err == nil {
			metrics.RecommendationsServed.WithLabelValues(userType).Inc()
			return e.response(userID, items, SourceVectorSimilarity, userType), nil
		}
		logger.Warn().Err(err).Msg("similarity search failed, falling back to popularity")
	}

	items, err := e.popular(ctx, k)
	if err != nil {
		return nil, fmt.Errorf("popularity fallback: %w", err)
	}
	metrics.RecommendationsServed.WithLabelValues(userType).Inc()
	return e.response(userID, items, SourcePopularity, userType), nil
}

func (e *Engine) similar(ctx context.Context, vector []float32, k int) ([]ScoredItem, error) {
	if e.searcher == nil {
		return nil, fmt.Errorf("no similarity index configured")
	}
	if e.searchGuard == nil {
		return e.searcher.Search(ctx, vector, k)
	}
	return resilience.Call(ctx, e.searchGuard, func(ctx context.Context) ([]ScoredItem, error) {
		return e.searcher.Search(ctx, vector, k)
	})
}

func (e *Engine) popular(ctx context.Context, k int) ([]ScoredItem, error) {
	top, err := e.store.TopItems(ctx, e.config.PopularityWindow, k)
	if err != nil {
		return nil, err
	}
	items := make([]ScoredItem, len(top))
	for i, it := range top {
		items[i] = ScoredItem{ItemID: it.ItemID, Score: it.Score}
	}
	return items, nil
}

func (e *Engine) response(userID string, items []ScoredItem, source, userType string) *Response {
	if items == nil {
		items = []ScoredItem{}
	}
	return &Response{
		UserID:      userID,
		Items:       items,
		Source:      source,
		UserType:    userType,
		GeneratedAt: time.Now().UTC(),
	}
}
