// Featurepipe - Online Feature Pipeline for Recommendation Serving
// Copyright 2026 The Featurepipe Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/recsyslab/featurepipe

package models

import (
	"time"

	"github.com/goccy/go-json"
)

// MaxRecentItems bounds the recent_items sequence on a user feature record.
const MaxRecentItems = 10

// SubjectKind distinguishes user and item feature records.
type SubjectKind string

const (
	SubjectUser SubjectKind = "user"
	SubjectItem SubjectKind = "item"
)

// Subject identifies one feature record.
type Subject struct {
	Kind SubjectKind
	ID   string
}

// UserSubject returns the feature store subject for a user.
func UserSubject(userID string) Subject {
	return Subject{Kind: SubjectUser, ID: userID}
}

// ItemSubject returns the feature store subject for an item.
func ItemSubject(itemID string) Subject {
	return Subject{Kind: SubjectItem, ID: itemID}
}

// FeatureRecord is the aggregated behavioral summary for one user or item.
//
// It is mutated only by the aggregation engine. Counters are monotonically
// non-decreasing for the lifetime of a record; RecentItems holds at most
// MaxRecentItems unique item IDs, most recent first.
type FeatureRecord struct {
	// SubjectID is the user or item this record describes.
	SubjectID string `json:"subject_id"`

	// Counters holds cumulative event counts: total_events plus one
	// <event_type>_count entry per observed type.
	Counters map[string]int64 `json:"counters"`

	// RecentItems lists the most recently interacted item IDs, most recent
	// first, unique, bounded by MaxRecentItems. Only populated on user
	// records.
	RecentItems []string `json:"recent_items,omitempty"`

	// LastEventAt is the timestamp of the most recent contributing event.
	LastEventAt time.Time `json:"last_event_at"`

	// LastEventType is the type of the most recent contributing event.
	LastEventType EventType `json:"last_event_type"`

	// FeatureVector is the embedding written by the training job. The
	// aggregation engine never touches it; serving uses it for similarity
	// search when present.
	FeatureVector []float32 `json:"feature_vector,omitempty"`

	// UpdatedAt is set on every write. Last writer wins.
	UpdatedAt time.Time `json:"updated_at"`
}

// NewFeatureRecord returns a zero-valued record for a never-seen subject.
func NewFeatureRecord(subjectID string) *FeatureRecord {
	return &FeatureRecord{
		SubjectID: subjectID,
		Counters:  make(map[string]int64),
	}
}

// Apply folds one event into the record: increments total_events and the
// per-type counter, and refreshes the last-event fields.
func (r *FeatureRecord) Apply(e *Event) {
	if r.Counters == nil {
		r.Counters = make(map[string]int64)
	}
	r.Counters["total_events"]++
	r.Counters[string(e.EventType)+"_count"]++
	r.LastEventAt = e.Timestamp
	r.LastEventType = e.EventType
}

// PushRecentItem prepends itemID to RecentItems, removing any earlier
// occurrence and truncating to MaxRecentItems. A no-op when itemID is already
// at the head.
func (r *FeatureRecord) PushRecentItem(itemID string) {
	if itemID == "" {
		return
	}
	if len(r.RecentItems) > 0 && r.RecentItems[0] == itemID {
		return
	}
	out := make([]string, 0, len(r.RecentItems)+1)
	out = append(out, itemID)
	for _, id := range r.RecentItems {
		if id != itemID {
			out = append(out, id)
		}
	}
	if len(out) > MaxRecentItems {
		out = out[:MaxRecentItems]
	}
	r.RecentItems = out
}

// HasVector reports whether the record carries a usable feature vector.
func (r *FeatureRecord) HasVector() bool {
	return r != nil && len(r.FeatureVector) > 0
}

// Marshal serializes the record for the cache tier.
func (r *FeatureRecord) Marshal() ([]byte, error) {
	return json.Marshal(r)
}

// UnmarshalFeatureRecord deserializes a record from its cache payload.
func UnmarshalFeatureRecord(data []byte) (*FeatureRecord, error) {
	var r FeatureRecord
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// InteractionAggregate counts interactions per (user, item, type) triple.
// Upserts use count += 1 semantics; LastInteractionAt is last-writer-wins.
type InteractionAggregate struct {
	UserID            string    `json:"user_id"`
	ItemID            string    `json:"item_id"`
	InteractionType   EventType `json:"interaction_type"`
	Count             int64     `json:"count"`
	LastInteractionAt time.Time `json:"last_interaction_at"`
}
