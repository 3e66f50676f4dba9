// Featurepipe - Online Feature Pipeline for Recommendation Serving
// Copyright 2026 The Featurepipe Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/recsyslab/featurepipe

// Package resilience guards every call that crosses a process boundary:
// cache tier, durable tier, model registry, search backend, broker publish.
//
// Each dependency gets one long-lived Guard, constructed at process start and
// passed by reference to every call site. A Guard composes a circuit breaker
// (sony/gobreaker) with exponential-backoff retry (cenkalti/backoff): every
// retry attempt passes through the breaker, and a breaker that is already
// open short-circuits the whole call without consuming retry budget.
package resilience

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/recsyslab/featurepipe/internal/logging"
	"github.com/recsyslab/featurepipe/internal/metrics"
)

// RetryConfig controls the exponential backoff policy.
type RetryConfig struct {
	// MaxRetries is the number of retries after the initial attempt.
	MaxRetries uint64

	// InitialDelay is the first inter-attempt delay.
	InitialDelay time.Duration

	// MaxDelay caps the computed delay.
	MaxDelay time.Duration

	// Multiplier scales the delay between attempts.
	Multiplier float64

	// Jitter is the symmetric randomization factor applied to each delay
	// (0.25 means the actual delay lands in ±25% of the computed value).
	Jitter float64
}

// BreakerConfig controls the circuit breaker state machine.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures that trips the
	// breaker from CLOSED to OPEN.
	FailureThreshold uint32

	// RecoveryTimeout is how long the breaker stays OPEN before a call may
	// transition it to HALF_OPEN.
	RecoveryTimeout time.Duration

	// HalfOpenMaxCalls is the number of trial calls allowed in HALF_OPEN;
	// that many consecutive successes close the breaker.
	HalfOpenMaxCalls uint32
}

// Config bundles the retry and breaker policies for one dependency.
type Config struct {
	Retry   RetryConfig
	Breaker BreakerConfig
}

// DefaultConfig returns the production defaults: 3 retries starting at 1s
// doubling to a 60s cap with ±25% jitter, and a breaker that opens after 5
// consecutive failures, recovers after 60s, and allows 3 half-open trials.
func DefaultConfig() Config {
	return Config{
		Retry: RetryConfig{
			MaxRetries:   3,
			InitialDelay: time.Second,
			MaxDelay:     60 * time.Second,
			Multiplier:   2.0,
			Jitter:       0.25,
		},
		Breaker: BreakerConfig{
			FailureThreshold: 5,
			RecoveryTimeout:  60 * time.Second,
			HalfOpenMaxCalls: 3,
		},
	}
}

// Guard protects one external dependency. Safe for concurrent use.
type Guard struct {
	name    string
	breaker *gobreaker.CircuitBreaker[any]
	retry   RetryConfig
}

// NewGuard creates the guard for one named dependency. Construct one per
// dependency at process start; per-call construction defeats the breaker.
func NewGuard(name string, cfg Config) *Guard {
	if cfg.Retry.Multiplier <= 0 {
		cfg.Retry = DefaultConfig().Retry
	}
	if cfg.Breaker.FailureThreshold == 0 {
		cfg.Breaker = DefaultConfig().Breaker
	}

	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.Breaker.HalfOpenMaxCalls,
		Timeout:     cfg.Breaker.RecoveryTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.Breaker.FailureThreshold
		},
		OnStateChange: func(dep string, from, to gobreaker.State) {
			logging.Warn().
				Str("dependency", dep).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state change")
			metrics.BreakerTransitions.WithLabelValues(dep, from.String(), to.String()).Inc()
			metrics.SetBreakerState(dep, to.String())
		},
	}

	metrics.SetBreakerState(name, gobreaker.StateClosed.String())

	return &Guard{
		name:    name,
		breaker: gobreaker.NewCircuitBreaker[any](settings),
		retry:   cfg.Retry,
	}
}

// Name returns the protected dependency's name.
func (g *Guard) Name() string {
	return g.name
}

// State returns the breaker's current state as a string (closed, half-open,
// open).
func (g *Guard) State() string {
	return g.breaker.State().String()
}

// Do executes op behind the breaker with retries. Transient failures are
// retried up to the configured budget; non-retryable errors surface
// immediately and untouched. When the budget is exhausted or the breaker is
// open, the error is an *UnavailableError wrapping the original cause.
func (g *Guard) Do(ctx context.Context, op func(context.Context) error) error {
	_, err := Call(ctx, g, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

// Call executes op behind g's breaker with retries and returns its result.
// A top-level generic function because Go does not allow parameterized
// methods.
func Call[T any](ctx context.Context, g *Guard, op func(context.Context) (T, error)) (T, error) {
	var result T
	attempt := 0

	run := func() error {
		res, err := g.breaker.Execute(func() (any, error) {
			attempt++
			if attempt > 1 {
				metrics.RetryAttempts.WithLabelValues(g.name).Inc()
			}
			return op(ctx)
		})
		if err == nil {
			result = res.(T)
			return nil
		}

		// An open breaker fails the whole call immediately: remaining retry
		// attempts would be rejected the same way.
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return backoff.Permanent(&UnavailableError{Dependency: g.name, Err: ErrCircuitOpen})
		}

		if IsTransient(err) {
			logging.Debug().
				Str("dependency", g.name).
				Int("attempt", attempt).
				Err(err).
				Msg("transient failure, will retry")
			return err
		}

		return backoff.Permanent(err)
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(g.newBackOff(), g.retry.MaxRetries), ctx)
	err := backoff.Retry(run, policy)
	if err == nil {
		return result, nil
	}

	var ue *UnavailableError
	if errors.As(err, &ue) {
		return result, err
	}
	if IsTransient(err) {
		// Retry budget exhausted; the original error stays reachable.
		return result, &UnavailableError{Dependency: g.name, Err: err}
	}
	return result, err
}

// newBackOff builds the exponential backoff schedule for one call.
func (g *Guard) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = g.retry.InitialDelay
	b.MaxInterval = g.retry.MaxDelay
	b.Multiplier = g.retry.Multiplier
	b.RandomizationFactor = g.retry.Jitter
	b.MaxElapsedTime = 0 // bounded by MaxRetries, not wall time
	b.Reset()
	return b
}
