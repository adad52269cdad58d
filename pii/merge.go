package pii

import (
	"sort"

	detectors "github.com/hannes/deepsearch/pii/detectors"
)

// MergeSpans resolves overlapping candidate spans from different detectors
// into a non-overlapping canonical set.
//
// The algorithm is a greedy pairwise walk: spans are stable-sorted by
// (start, end) and placed one at a time. An incoming span that overlaps an
// already-placed one either replaces it (strictly higher probability) or is
// folded into it; either way the two spans' sources are unioned so
// provenance survives losing on confidence. Equal probabilities keep the
// first-placed span. Chains of three or more mutually overlapping spans are
// resolved in sort order, which is deliberately preserved behavior rather
// than a globally optimal interval schedule.
func MergeSpans(spans []detectors.Span) []detectors.Span {
	if len(spans) == 0 {
		return []detectors.Span{}
	}

	sorted := make([]detectors.Span, len(spans))
	copy(sorted, spans)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Start != sorted[j].Start {
			return sorted[i].Start < sorted[j].Start
		}
		return sorted[i].End < sorted[j].End
	})

	merged := make([]detectors.Span, 0, len(sorted))
	for _, incoming := range sorted {
		overlapped := false
		for i := range merged {
			if incoming.Start < merged[i].End && incoming.End > merged[i].Start {
				if incoming.Probability > merged[i].Probability {
					winner := incoming
					winner.UnionSources(merged[i])
					merged[i] = winner
				} else {
					merged[i].UnionSources(incoming)
				}
				overlapped = true
				break
			}
		}
		if !overlapped {
			merged = append(merged, incoming)
		}
	}

	return merged
}
