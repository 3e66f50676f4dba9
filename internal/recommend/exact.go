// Featurepipe - Online Feature Pipeline for Recommendation Serving
// Copyright 2026 The Featurepipe Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/recsyslab/featurepipe

package recommend

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
)

// ExactIndex is a brute-force similarity index over item embeddings. Exact
// search is O(items * dimension) per query, which is fine for catalogs up to
// the low millions.
type ExactIndex struct {
	mu      sync.RWMutex
	dim     int
	ids     []string
	vectors [][]float32
}

// NewExactIndex creates an empty index for vectors of the given dimension.
func NewExactIndex(dim int) (*ExactIndex, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("index dimension must be positive, got %d", dim)
	}
	return &ExactIndex{dim: dim}, nil
}

// Add inserts or replaces an item vector.
func (x *ExactIndex) Add(itemID string, vector []float32) error {
	if len(vector) != x.dim {
		return fmt.Errorf("vector for %s has dimension %d, index expects %d", itemID, len(vector), x.dim)
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	for i, id := range x.ids {
		if id == itemID {
			x.vectors[i] = vector
			return nil
		}
	}
	x.ids = append(x.ids, itemID)
	x.vectors = append(x.vectors, vector)
	return nil
}

// Len returns the number of indexed items.
func (x *ExactIndex) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.ids)
}

// Dimension returns the vector dimension the index was built for.
func (x *ExactIndex) Dimension() int {
	return x.dim
}

// Search returns up to k items nearest the query vector by Euclidean
// distance, scored as 1/(1+distance) so closer items score higher.
func (x *ExactIndex) Search(ctx context.Context, vector []float32, k int) ([]ScoredItem, error) {
	if len(vector) != x.dim {
		return nil, fmt.Errorf("query vector has dimension %d, index expects %d", len(vector), x.dim)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	x.mu.RLock()
	defer x.mu.RUnlock()

	items := make([]ScoredItem, 0, len(x.ids))
	for i, id := range x.ids {
		dist := euclidean(vector, x.vectors[i])
		items = append(items, ScoredItem{ItemID: id, Score: 1 / (1 + dist)})
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

func euclidean(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}
