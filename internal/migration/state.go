// Package migration rewrites legacy storage shapes into day-bucket shards exactly once.
package migration

// State is the storage shape found for a user.
type State string

const (
	StateCurrent    State = "current"
	StateLegacyFlat State = "legacy_flat"
	StateLegacyBlob State = "legacy_blob"
	StateLocalOnly  State = "local_only"
	StateEmpty      State = "empty"
)

type phase string

const (
	// phaseConverting: shards may hold a partial conversion, the source is intact.
	phaseConverting phase = "converting"
	// phaseConverted: shards are complete, the source may still need deleting.
	phaseConverted phase = "converted"
)

// marker records an unfinished migration so a retry resumes instead of trusting partial shards.
type marker struct {
	From  State `json:"from"`
	Phase phase `json:"phase"`
}

// Probe is what was found in each storage shape.
type Probe struct {
	HasBuckets     bool
	LegacyFlatDocs int
	HasLegacyBlob  bool
	HasLocal       bool
	Pending        *marker
}

// Detect returns the first matching shape in priority order. An unfinished migration wins
// over everything so it can be resumed from its source.
func Detect(p Probe) State {
	switch {
	case p.Pending != nil:
		return p.Pending.From
	case p.HasBuckets:
		return StateCurrent
	case p.LegacyFlatDocs > 0:
		return StateLegacyFlat
	case p.HasLegacyBlob:
		return StateLegacyBlob
	case p.HasLocal:
		return StateLocalOnly
	default:
		return StateEmpty
	}
}

// Outcome reports what EnsureCurrentShape did.
type Outcome struct {
	Migrated           bool  `json:"migrated"`
	From               State `json:"from"`
	EventCount         int   `json:"eventCount"`
	SkippedMissingDate int   `json:"skippedMissingDate"`
}
