// Featurepipe - Online Feature Pipeline for Recommendation Serving
// Copyright 2026 The Featurepipe Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/recsyslab/featurepipe

// Package models defines the wire and storage types shared across the
// pipeline: interaction events, feature records, and interaction aggregates.
package models

import (
	"time"

	"github.com/goccy/go-json"
)

// EventType enumerates the supported user interaction kinds.
// Unknown values are a producer-side contract violation and are rejected at
// the ingress boundary.
type EventType string

const (
	EventView           EventType = "view"
	EventClick          EventType = "click"
	EventPurchase       EventType = "purchase"
	EventAddToCart      EventType = "add_to_cart"
	EventRemoveFromCart EventType = "remove_from_cart"
)

// Valid reports whether t is one of the enumerated event types.
func (t EventType) Valid() bool {
	switch t {
	case EventView, EventClick, EventPurchase, EventAddToCart, EventRemoveFromCart:
		return true
	}
	return false
}

// EventTypes lists all valid event types, used for metric label
// pre-registration and validation messages.
func EventTypes() []EventType {
	return []EventType{EventView, EventClick, EventPurchase, EventAddToCart, EventRemoveFromCart}
}

// Event is a single user interaction, immutable once emitted by the ingress.
//
// Events are partitioned by UserID on the broker so that all events of one
// user arrive at one worker in order. IdempotencyKey deduplicates logically
// identical submissions under at-least-once delivery.
type Event struct {
	// EventID uniquely identifies this emission (assigned at ingress).
	EventID string `json:"event_id"`

	// UserID is the interacting user. Also the broker partition key.
	UserID string `json:"user_id" validate:"required,max=128"`

	// ItemID is the item acted upon. May be empty for non-item events.
	ItemID string `json:"item_id" validate:"max=128"`

	// EventType is one of the enumerated interaction kinds.
	EventType EventType `json:"event_type" validate:"required,oneof=view click purchase add_to_cart remove_from_cart"`

	// Timestamp is when the interaction occurred (RFC 3339 on the wire).
	Timestamp time.Time `json:"timestamp"`

	// Properties carries producer-supplied attributes, passed through opaquely.
	Properties map[string]any `json:"properties,omitempty"`

	// IdempotencyKey deduplicates repeated submissions of the same logical
	// event. Generated at ingress when the producer does not supply one.
	IdempotencyKey string `json:"idempotency_key"`

	// CorrelationID traces the event across services.
	CorrelationID string `json:"correlation_id,omitempty"`
}

// Marshal serializes the event for broker transport.
func (e *Event) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// UnmarshalEvent deserializes an event from its broker payload.
func UnmarshalEvent(data []byte) (*Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, err
	}
	return &e, nil
}
