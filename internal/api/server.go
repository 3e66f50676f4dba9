// Featurepipe - Online Feature Pipeline for Recommendation Serving
// Copyright 2026 The Featurepipe Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/recsyslab/featurepipe

// Package api exposes the pipeline over HTTP: event intake, recommendation
// serving, health probes, and Prometheus metrics.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/recsyslab/featurepipe/internal/ingest"
	"github.com/recsyslab/featurepipe/internal/logging"
	"github.com/recsyslab/featurepipe/internal/recommend"
)

// Config holds HTTP server configuration.
type Config struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// RateLimitPerMinute caps requests per client IP on the /v1 routes.
	// Zero disables rate limiting.
	RateLimitPerMinute int
}

// DefaultConfig returns production server defaults.
func DefaultConfig() Config {
	return Config{
		Addr:               ":8080",
		ReadTimeout:        10 * time.Second,
		WriteTimeout:       30 * time.Second,
		IdleTimeout:        120 * time.Second,
		ShutdownTimeout:    30 * time.Second,
		RateLimitPerMinute: 600,
	}
}

// ReadyCheck reports whether one dependency can serve traffic.
type ReadyCheck func(ctx context.Context) error

// Server hosts the intake and serving endpoints.
type Server struct {
	config Config
	intake *ingest.Handler
	engine *recommend.Engine
	ready  map[string]ReadyCheck
	http   *http.Server
}

// NewServer builds the server. Ready checks run on every /readyz probe,
// keyed by dependency name for the probe response.
func NewServer(cfg Config, intake *ingest.Handler, engine *recommend.Engine, ready map[string]ReadyCheck) *Server {
	s := &Server{
		config: cfg,
		intake: intake,
		engine: engine,
		ready:  ready,
	}
	s.http = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.Routes(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return s
}

// Routes assembles the router. Exposed separately so tests can drive the
// handler without binding a port.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(correlationID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(requestLogging)
	r.Use(requestMetrics)

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		if s.config.RateLimitPerMinute > 0 {
			r.Use(httprate.LimitByIP(s.config.RateLimitPerMinute, time.Minute))
		}
		r.Post("/events", s.intake.PostEvent)
		r.Get("/recommendations/{userID}", s.handleRecommend)
	})

	return r
}

// Run serves until the context is canceled, then drains connections up to
// ShutdownTimeout.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		logging.Info().Str("addr", s.config.Addr).Msg("http server listening")
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}
