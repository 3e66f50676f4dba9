// Featurepipe - Online Feature Pipeline for Recommendation Serving
// Copyright 2026 The Featurepipe Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/recsyslab/featurepipe

// Package recommend serves ranked item recommendations from online features.
// Users with a trained embedding get vector-similarity results; everyone else
// falls back to recent popularity.
package recommend

import (
	"context"
	"fmt"
	"time"
)

// User classifications reported on responses and metrics.
const (
	UserTypeExisting = "existing_user"
	UserTypeNew      = "new_user"
)

// Sources describe which strategy produced a response.
const (
	SourceVectorSimilarity = "vector_similarity"
	SourcePopularity       = "popularity"
)

// ScoredItem is one recommended item with its relevance score. Scores within
// a response are non-increasing.
type ScoredItem struct {
	ItemID string  `json:"item_id"`
	Score  float64 `json:"score"`
}

// Response is a ranked recommendation list for one user.
type Response struct {
	UserID      string       `json:"user_id"`
	Items       []ScoredItem `json:"recommendations"`
	Source      string       `json:"source"`
	UserType    string       `json:"user_type"`
	GeneratedAt time.Time    `json:"generated_at"`
}

// Searcher finds the k items most similar to a query vector.
type Searcher interface {
	Search(ctx context.Context, vector []float32, k int) ([]ScoredItem, error)
}

// InvalidKError reports a requested result count outside the allowed range.
type InvalidKError struct {
	K   int
	Max int
}

func (e *InvalidKError) Error() string {
	return fmt.Sprintf("k must be between 1 and %d, got %d", e.Max, e.K)
}
