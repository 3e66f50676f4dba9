// Featurepipe - Online Feature Pipeline for Recommendation Serving
// Copyright 2026 The Featurepipe Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/recsyslab/featurepipe

package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/recsyslab/featurepipe/internal/featurestore"
	"github.com/recsyslab/featurepipe/internal/ingest"
	"github.com/recsyslab/featurepipe/internal/models"
	"github.com/recsyslab/featurepipe/internal/recommend"
	"github.com/recsyslab/featurepipe/internal/resilience"
)

type stubPublisher struct {
	events []*models.Event
}

func (s *stubPublisher) Publish(_ context.Context, e *models.Event) error {
	s.events = append(s.events, e)
	return nil
}

func (s *stubPublisher) Close() error { return nil }

func fastGuard(name string) *resilience.Guard {
	cfg := resilience.DefaultConfig()
	cfg.Retry.MaxRetries = 1
	cfg.Retry.InitialDelay = time.Millisecond
	cfg.Retry.MaxDelay = 2 * time.Millisecond
	return resilience.NewGuard(name, cfg)
}

func testServer(t *testing.T, ready map[string]ReadyCheck) (*Server, *stubPublisher) {
	t.Helper()
	store := featurestore.New(
		featurestore.Config{TTL: time.Hour},
		featurestore.NewMemoryCache(),
		featurestore.NewMemoryDurable(),
		fastGuard("cache"),
		fastGuard("durable"),
	)
	ctx := context.Background()
	now := time.Now().UTC()
	for i := 0; i < 3; i++ {
		if err := store.UpsertInteraction(ctx, "seed", "hot-item", models.EventView, now); err != nil {
			t.Fatalf("seed interactions: %v", err)
		}
	}

	engine := recommend.NewEngine(recommend.DefaultConfig(), store, nil, nil, zerolog.Nop())
	pub := &stubPublisher{}
	cfg := DefaultConfig()
	cfg.RateLimitPerMinute = 0
	return NewServer(cfg, ingest.NewHandler(pub), engine, ready), pub
}

func TestHealthEndpoint(t *testing.T) {
	srv, _ := testServer(t, nil)
	rr := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rr.Code)
	}
}

func TestReadyEndpoint(t *testing.T) {
	t.Run("all checks pass", func(t *testing.T) {
		srv, _ := testServer(t, map[string]ReadyCheck{
			"postgres": func(context.Context) error { return nil },
		})
		rr := httptest.NewRecorder()
		srv.Routes().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
		if rr.Code != http.StatusOK {
			t.Errorf("status = %d, want 200", rr.Code)
		}
	})

	t.Run("failing check flips the probe", func(t *testing.T) {
		srv, _ := testServer(t, map[string]ReadyCheck{
			"postgres": func(context.Context) error { return errors.New("connection refused") },
			"redis":    func(context.Context) error { return nil },
		})
		rr := httptest.NewRecorder()
		srv.Routes().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
		if rr.Code != http.StatusServiceUnavailable {
			t.Errorf("status = %d, want 503", rr.Code)
		}
	})
}

func TestEventIntakeRoute(t *testing.T) {
	srv, pub := testServer(t, nil)
	req := httptest.NewRequest(http.MethodPost, "/v1/events",
		strings.NewReader(`{"user_id": "u1", "item_id": "i1", "event_type": "purchase"}`))
	rr := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", rr.Code, rr.Body.String())
	}
	if len(pub.events) != 1 {
		t.Fatalf("published %d events, want 1", len(pub.events))
	}
	if rr.Header().Get("X-Correlation-ID") == "" {
		t.Error("correlation ID header missing")
	}
	if pub.events[0].CorrelationID == "" {
		t.Error("correlation ID should propagate onto the event")
	}
}

func TestRecommendRoute(t *testing.T) {
	srv, _ := testServer(t, nil)

	t.Run("serves popularity for a new user", func(t *testing.T) {
		rr := httptest.NewRecorder()
		srv.Routes().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/recommendations/someone?k=5", nil))
		if rr.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200: %s", rr.Code, rr.Body.String())
		}

		var resp recommendResponse
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if resp.UserID != "someone" || resp.Count != len(resp.Recommendations) {
			t.Errorf("unexpected response: %+v", resp)
		}
		if resp.Count == 0 || resp.Recommendations[0].ItemID != "hot-item" {
			t.Errorf("expected popularity results, got %+v", resp.Recommendations)
		}
		if resp.UserType != recommend.UserTypeNew {
			t.Errorf("user type = %s, want %s", resp.UserType, recommend.UserTypeNew)
		}
	})

	t.Run("rejects out-of-range k", func(t *testing.T) {
		rr := httptest.NewRecorder()
		srv.Routes().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/recommendations/u?k=500", nil))
		if rr.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rr.Code)
		}
	})

	t.Run("rejects non-integer k", func(t *testing.T) {
		rr := httptest.NewRecorder()
		srv.Routes().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/recommendations/u?k=lots", nil))
		if rr.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rr.Code)
		}
	})
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _ := testServer(t, nil)
	rr := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "go_") {
		t.Error("expected prometheus exposition output")
	}
}
