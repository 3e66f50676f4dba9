// Featurepipe - Online Feature Pipeline for Recommendation Serving
// Copyright 2026 The Featurepipe Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/recsyslab/featurepipe

package ingest

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/goccy/go-json"

	"github.com/recsyslab/featurepipe/internal/models"
	"github.com/recsyslab/featurepipe/internal/resilience"
)

// capturePublisher records published events.
type capturePublisher struct {
	events []*models.Event
	err    error
}

func (c *capturePublisher) Publish(_ context.Context, e *models.Event) error {
	if c.err != nil {
		return c.err
	}
	c.events = append(c.events, e)
	return nil
}

func (c *capturePublisher) Close() error { return nil }

func postEvent(t *testing.T, h *Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/v1/events", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.PostEvent(rr, req)
	return rr
}

func TestPostEventAccepted(t *testing.T) {
	pub := &capturePublisher{}
	h := NewHandler(pub)

	rr := postEvent(t, h, `{"user_id": "u1", "item_id": "i1", "event_type": "view"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", rr.Code, rr.Body.String())
	}

	var resp acceptedResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != "accepted" || resp.EventID == "" || resp.IdempotencyKey == "" {
		t.Errorf("unexpected response: %+v", resp)
	}

	if len(pub.events) != 1 {
		t.Fatalf("published %d events, want 1", len(pub.events))
	}
	e := pub.events[0]
	if e.EventID != resp.EventID || e.IdempotencyKey != resp.IdempotencyKey {
		t.Error("response IDs must match the published event")
	}
	if e.Timestamp.IsZero() {
		t.Error("timestamp should be defaulted")
	}
}

func TestPostEventPreservesProvidedKeys(t *testing.T) {
	pub := &capturePublisher{}
	h := NewHandler(pub)

	rr := postEvent(t, h, `{"user_id": "u1", "event_type": "click", "idempotency_key": "client-key", "event_id": "client-id"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201", rr.Code)
	}
	e := pub.events[0]
	if e.IdempotencyKey != "client-key" || e.EventID != "client-id" {
		t.Errorf("client-supplied keys must be preserved: %+v", e)
	}
}

func TestPostEventValidation(t *testing.T) {
	h := NewHandler(&capturePublisher{})

	tests := []struct {
		name string
		body string
	}{
		{"missing user_id", `{"event_type": "view"}`},
		{"unknown event_type", `{"user_id": "u1", "event_type": "hover"}`},
		{"not json", `{nope`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := postEvent(t, h, tt.body)
			if rr.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400: %s", rr.Code, rr.Body.String())
			}
		})
	}
}

func TestPostEventBrokerUnavailable(t *testing.T) {
	pub := &capturePublisher{err: &resilience.UnavailableError{
		Dependency: "broker",
		Err:        resilience.ErrCircuitOpen,
	}}
	h := NewHandler(pub)

	rr := postEvent(t, h, `{"user_id": "u1", "event_type": "view"}`)
	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rr.Code)
	}
}

func TestPostEventPublishError(t *testing.T) {
	pub := &capturePublisher{err: errors.New("boom")}
	h := NewHandler(pub)

	rr := postEvent(t, h, `{"user_id": "u1", "event_type": "view"}`)
	if rr.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rr.Code)
	}
}
