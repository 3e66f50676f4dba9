// Featurepipe - Online Feature Pipeline for Recommendation Serving
// Copyright 2026 The Featurepipe Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/recsyslab/featurepipe

package ingest

import (
	"errors"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/recsyslab/featurepipe/internal/logging"
	"github.com/recsyslab/featurepipe/internal/models"
	"github.com/recsyslab/featurepipe/internal/resilience"
	"github.com/recsyslab/featurepipe/internal/validation"
)

const maxBodyBytes = 64 * 1024

// Handler accepts events over HTTP and hands them to the publisher.
type Handler struct {
	publisher Publisher
}

// NewHandler creates the intake handler.
func NewHandler(publisher Publisher) *Handler {
	return &Handler{publisher: publisher}
}

// acceptedResponse is the body returned for an accepted event.
type acceptedResponse struct {
	EventID        string `json:"event_id"`
	IdempotencyKey string `json:"idempotency_key"`
	Status         string `json:"status"`
}

type errorResponse struct {
	Error   string   `json:"error"`
	Details []string `json:"details,omitempty"`
}

// PostEvent handles POST /v1/events.
//
// Missing event_id, idempotency_key, and timestamp are filled in here so
// everything downstream can rely on them. Validation failures are 400 with
// per-field detail; an open breaker or exhausted broker retries are 503, the
// producer's cue to back off and resubmit.
func (h *Handler) PostEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logging.Ctx(ctx)

	var e models.Event
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(&e); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body"})
		return
	}

	if err := validation.ValidateStruct(&e); err != nil {
		var verrs *validation.Errors
		if errors.As(err, &verrs) {
			details := make([]string, len(verrs.Fields))
			for i, f := range verrs.Fields {
				details[i] = f.Message
			}
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "validation failed", Details: details})
			return
		}
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	if e.EventID == "" {
		e.EventID = uuid.NewString()
	}
	if e.IdempotencyKey == "" {
		e.IdempotencyKey = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	if e.CorrelationID == "" {
		e.CorrelationID = logging.CorrelationIDFromContext(ctx)
	}

	if err := h.publisher.Publish(ctx, &e); err != nil {
		if resilience.IsUnavailable(err) {
			logger.Warn().Err(err).Str("event_id", e.EventID).Msg("broker unavailable, rejecting event")
			writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "event intake temporarily unavailable"})
			return
		}
		logger.Error().Err(err).Str("event_id", e.EventID).Msg("publish failed")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "failed to accept event"})
		return
	}

	logger.Debug().
		Str("event_id", e.EventID).
		Str("user_id", e.UserID).
		Str("event_type", string(e.EventType)).
		Msg("event accepted")
	writeJSON(w, http.StatusCreated, acceptedResponse{
		EventID:        e.EventID,
		IdempotencyKey: e.IdempotencyKey,
		Status:         "accepted",
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
