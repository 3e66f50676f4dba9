// Featurepipe - Online Feature Pipeline for Recommendation Serving
// Copyright 2026 The Featurepipe Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/recsyslab/featurepipe

package aggregator

import (
	"fmt"
	"hash/fnv"
)

// Partition maps a user ID onto one of n partitions. Events for one user
// always land on the same partition, which is what preserves their order.
func Partition(userID string, n int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(userID))
	return int(h.Sum32() % uint32(n))
}

// Subject returns the broker subject for a partition.
func Subject(prefix string, p int) string {
	return fmt.Sprintf("%s.p%d", prefix, p)
}

// SubjectFor returns the broker subject an event with the given user ID
// must be published to.
func SubjectFor(prefix, userID string, n int) string {
	return Subject(prefix, Partition(userID, n))
}
