// Featurepipe - Online Feature Pipeline for Recommendation Serving
// Copyright 2026 The Featurepipe Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/recsyslab/featurepipe

// Package registry loads trained model artifacts from the model registry
// service. Serving only needs the latest published item-embedding model.
package registry

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/recsyslab/featurepipe/internal/recommend"
	"github.com/recsyslab/featurepipe/internal/resilience"
)

// Model is a published embedding model: one vector per catalog item, all of
// one dimension.
type Model struct {
	Version     string               `json:"version"`
	Dimension   int                  `json:"dimension"`
	TrainedAt   time.Time            `json:"trained_at"`
	ItemVectors map[string][]float32 `json:"item_vectors"`
}

// Config holds registry client configuration.
type Config struct {
	BaseURL string
	Timeout time.Duration
}

// Client fetches models over HTTP. Calls go through a resilience guard so a
// flapping registry cannot stall startup retries indefinitely.
type Client struct {
	baseURL string
	http    *http.Client
	guard   *resilience.Guard
}

// NewClient creates a registry client.
func NewClient(cfg Config, guard *resilience.Guard) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		guard:   guard,
	}
}

// LoadLatest fetches the most recent published model. Returns (nil, nil)
// when no model has been published yet; serving then runs on the popularity
// fallback alone.
func (c *Client) LoadLatest(ctx context.Context) (*Model, error) {
	return resilience.Call(ctx, c.guard, func(ctx context.Context) (*Model, error) {
		return c.fetch(ctx, c.baseURL+"/models/latest")
	})
}

func (c *Client) fetch(ctx context.Context, url string) (*Model, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, resilience.Transient(fmt.Errorf("fetch model: %w", err))
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, nil
	case resp.StatusCode >= 500:
		return nil, resilience.Transient(fmt.Errorf("registry returned %d", resp.StatusCode))
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("registry returned %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resilience.Transient(fmt.Errorf("read model body: %w", err))
	}
	var m Model
	if err := json.Unmarshal(body, &m); err != nil {
		return nil, fmt.Errorf("decode model: %w", err)
	}
	if m.Dimension <= 0 {
		return nil, fmt.Errorf("model %s has invalid dimension %d", m.Version, m.Dimension)
	}
	return &m, nil
}

// BuildIndex constructs a similarity index from a model's item vectors.
// Vectors whose dimension disagrees with the model header are rejected.
func BuildIndex(m *Model) (*recommend.ExactIndex, error) {
	index, err := recommend.NewExactIndex(m.Dimension)
	if err != nil {
		return nil, err
	}
	for itemID, vec := range m.ItemVectors {
		if err := index.Add(itemID, vec); err != nil {
			return nil, fmt.Errorf("index model %s: %w", m.Version, err)
		}
	}
	return index, nil
}
