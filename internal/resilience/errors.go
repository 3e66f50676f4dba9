// Featurepipe - Online Feature Pipeline for Recommendation Serving
// Copyright 2026 The Featurepipe Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/recsyslab/featurepipe

package resilience

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrCircuitOpen is returned when a dependency's circuit breaker rejects a
// call without executing it. It is always wrapped in an *UnavailableError.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// TransientError marks an error as retryable: a timeout, a refused
// connection, a temporarily unavailable dependency. Only errors carrying this
// marker (or matching IsTransient's built-in checks) are retried; everything
// else surfaces immediately.
type TransientError struct {
	Err error
}

// Error returns the wrapped error's message.
func (e *TransientError) Error() string {
	return e.Err.Error()
}

// Unwrap supports errors.Is and errors.As against the cause.
func (e *TransientError) Unwrap() error {
	return e.Err
}

// Transient wraps err so the retry policy treats it as retryable.
// Returns nil when err is nil.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// IsTransient reports whether err should be retried. Explicitly marked
// errors, network errors, and deadline expiry all qualify; context
// cancellation does not, since the caller has already given up.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var te *TransientError
	if errors.As(err, &te) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// UnavailableError reports that a dependency could not be reached: either
// every retry attempt failed, or the circuit breaker is open. The original
// cause remains reachable through errors.Is and errors.As.
type UnavailableError struct {
	// Dependency is the protected dependency's name (e.g. "redis",
	// "postgres", "model-registry").
	Dependency string

	// Err is the final underlying error.
	Err error
}

// Error formats the dependency name with the underlying cause.
func (e *UnavailableError) Error() string {
	return fmt.Sprintf("dependency %s unavailable: %v", e.Dependency, e.Err)
}

// Unwrap supports errors.Is and errors.As against the cause.
func (e *UnavailableError) Unwrap() error {
	return e.Err
}

// IsUnavailable reports whether err represents an exhausted or short-circuited
// dependency.
func IsUnavailable(err error) bool {
	var ue *UnavailableError
	return errors.As(err, &ue)
}
