// Featurepipe - Online Feature Pipeline for Recommendation Serving
// Copyright 2026 The Featurepipe Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/recsyslab/featurepipe

package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/recsyslab/featurepipe/internal/logging"
	"github.com/recsyslab/featurepipe/internal/recommend"
	"github.com/recsyslab/featurepipe/internal/resilience"
)

type recommendResponse struct {
	UserID          string                 `json:"user_id"`
	Recommendations []recommend.ScoredItem `json:"recommendations"`
	Count           int                    `json:"count"`
	Source          string                 `json:"source"`
	UserType        string                 `json:"user_type"`
	Timestamp       time.Time              `json:"timestamp"`
}

type errorBody struct {
	Error string `json:"error"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReady probes every registered dependency. Any failure flips the
// probe so the orchestrator stops routing traffic here.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := http.StatusOK
	checks := make(map[string]string, len(s.ready))
	for name, check := range s.ready {
		if err := check(ctx); err != nil {
			checks[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}
	writeJSON(w, status, map[string]any{
		"status": http.StatusText(status),
		"checks": checks,
	})
}

func (s *Server) handleRecommend(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if userID == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "user_id is required"})
		return
	}

	k := 0
	if raw := r.URL.Query().Get("k"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "k must be an integer"})
			return
		}
		k = parsed
	}

	resp, err := s.engine.Recommend(r.Context(), userID, k)
	if err != nil {
		var invalid *recommend.InvalidKError
		switch {
		case errors.As(err, &invalid):
			writeJSON(w, http.StatusBadRequest, errorBody{Error: invalid.Error()})
		case resilience.IsUnavailable(err):
			logging.Ctx(r.Context()).Warn().Err(err).Str("user_id", userID).Msg("serving dependencies unavailable")
			writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "recommendations temporarily unavailable"})
		default:
			logging.Ctx(r.Context()).Error().Err(err).Str("user_id", userID).Msg("recommendation failed")
			writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error"})
		}
		return
	}

	writeJSON(w, http.StatusOK, recommendResponse{
		UserID:          resp.UserID,
		Recommendations: resp.Items,
		Count:           len(resp.Items),
		Source:          resp.Source,
		UserType:        resp.UserType,
		Timestamp:       resp.GeneratedAt,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
