package models

import "strings"

// ReconcileResult is the outcome of merging an incoming batch into an existing log.
type ReconcileResult struct {
	ToAdd              []*Event
	SkippedMissingDate int
	Duplicates         int
}

// Deduplicator decides which incoming events are genuinely new.
type Deduplicator interface {
	Reconcile(existing, incoming []*Event) ReconcileResult
}

// PositionalDeduplicator identifies events by their position among events sharing the
// exact same raw timestamp string. Receipts carry no unique id, so the n-th event with a
// given timestamp is assumed to be the same occurrence across pastes.
//
// Two distinct events that share a timestamp string and arrive in different order across
// pastes are under-counted. This is a known limitation of the scheme.
type PositionalDeduplicator struct{}

func NewPositionalDeduplicator() Deduplicator {
	return PositionalDeduplicator{}
}

func (PositionalDeduplicator) Reconcile(existing, incoming []*Event) ReconcileResult {
	known := make(map[string]int, len(existing))
	for _, e := range existing {
		if e == nil {
			continue
		}
		known[e.Timestamp]++
	}

	res := ReconcileResult{ToAdd: make([]*Event, 0)}
	seen := make(map[string]int)
	for _, e := range incoming {
		if e == nil || strings.TrimSpace(e.Timestamp) == "" {
			res.SkippedMissingDate++
			continue
		}
		pos := seen[e.Timestamp]
		seen[e.Timestamp] = pos + 1
		if pos >= known[e.Timestamp] {
			res.ToAdd = append(res.ToAdd, e)
			known[e.Timestamp]++
			continue
		}
		res.Duplicates++
	}
	return res
}

// FilterTimestamped drops events that can't be persisted and returns how many were dropped.
func FilterTimestamped(events []*Event) ([]*Event, int) {
	out := make([]*Event, 0, len(events))
	skipped := 0
	for _, e := range events {
		if e == nil || !e.HasTimestamp() {
			skipped++
			continue
		}
		out = append(out, e)
	}
	return out, skipped
}
