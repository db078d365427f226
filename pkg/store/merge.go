package store

import "github.com/meditrack/backend/pkg/track"

// PrefixCompatible reports whether one location sequence is a temporal
// extension of the other: the shorter sequence must match the longer one
// location for location over their common length.
func PrefixCompatible(a, b []string) bool {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Mergeable reports whether an incoming track from a re-association run
// supersedes a stored track: same class, overlapping time spans, and
// prefix-compatible location sequences. Anything else is stored as a
// distinct track and the older one is left untouched.
func Mergeable(stored, incoming track.Track) bool {
	return stored.Class == incoming.Class &&
		stored.Overlaps(incoming.StartTime, incoming.EndTime) &&
		PrefixCompatible(stored.Locations, incoming.Locations)
}

// Merge folds an incoming track into a mergeable stored one and reports
// whether the stored track changed.
//
// When the incoming sequence does not reach beyond the stored one, the
// stored track already covers it and nothing changes; in particular a
// re-run over an identical batch is a no-op, and reconciliation decisions
// survive. When the incoming run genuinely extends the chain, the stored
// track keeps its identifier and creation time but takes the new links,
// confidence, and engine-assigned status, since the extension is new
// evidence a past human decision did not see.
func Merge(stored, incoming track.Track) (track.Track, bool) {
	if len(incoming.Locations) <= len(stored.Locations) {
		return stored, false
	}
	merged := stored
	merged.Links = append([]track.Link(nil), incoming.Links...)
	merged.Locations = append([]string(nil), incoming.Locations...)
	merged.Confidence = incoming.Confidence
	merged.Status = incoming.Status
	merged.Reasons = append([]string(nil), incoming.Reasons...)
	merged.StartTime = incoming.StartTime
	merged.EndTime = incoming.EndTime
	return merged, true
}
