package replay

import "strings"

// MatchThreshold is the minimum hierarchy-path similarity the matcher
// requires before binding a primary id to a secondary. Scores must strictly
// exceed the threshold.
const MatchThreshold = 0.8

// BoundMatch records one rebinding the matcher performed.
type BoundMatch struct {
	PrimaryID   string
	SecondaryID string
	Similarity  float64
}

// MatchReport summarizes a reconciliation pass. Ids that stayed below the
// threshold are listed for the caller to report; the matcher itself never
// fails.
type MatchReport struct {
	Bound                []BoundMatch
	UnmatchedPrimaries   []string
	UnmatchedSecondaries []string
}

// Changed reports whether the pass rebound any ids.
func (m MatchReport) Changed() bool { return len(m.Bound) > 0 }

// HierarchySimilarity scores how closely two hierarchy paths agree: the
// count of segments equal at the same depth divided by the larger segment
// count. Segments compare case-insensitively with any trailing "_" suffix
// stripped, so duplicate-disambiguation suffixes do not break a match.
func HierarchySimilarity(a, b string) float64 {
	segsA := splitHierarchyPath(a)
	segsB := splitHierarchyPath(b)
	if len(segsA) == 0 || len(segsB) == 0 {
		return 0
	}
	max := len(segsA)
	if len(segsB) > max {
		max = len(segsB)
	}
	limit := len(segsA)
	if len(segsB) < limit {
		limit = len(segsB)
	}
	matches := 0
	for i := 0; i < limit; i++ {
		if normalizeSegment(segsA[i]) == normalizeSegment(segsB[i]) {
			matches++
		}
	}
	return float64(matches) / float64(max)
}

func normalizeSegment(segment string) string {
	if idx := strings.LastIndex(segment, "_"); idx >= 0 {
		segment = segment[:idx]
	}
	return strings.ToLower(segment)
}

// Reconcile aligns diverged ids after a rebuild: for each primary id with no
// same-id secondary, it scores every unmatched secondary by hierarchy-path
// similarity and, when the best score exceeds MatchThreshold, rekeys that
// secondary under the primary's id. The pass is greedy and single-sweep in
// encounter order; ties keep the first-encountered candidate. Ids left below
// the threshold stay unmatched.
func Reconcile(reg *Registry) MatchReport {
	report := MatchReport{}
	if reg == nil {
		return report
	}

	type candidate struct {
		id   string
		path string
	}
	pool := make([]candidate, 0)
	for _, id := range reg.SecondaryIDs() {
		if _, matched := reg.Primary(id); matched {
			continue
		}
		h, ok := reg.Secondary(id)
		if !ok {
			continue
		}
		pool = append(pool, candidate{id: id, path: h.HierarchyPath()})
	}

	for _, primaryID := range reg.PrimaryIDs() {
		if _, matched := reg.Secondary(primaryID); matched {
			continue
		}
		h, ok := reg.Primary(primaryID)
		if !ok {
			continue
		}
		primaryPath := h.HierarchyPath()

		bestIdx := -1
		bestScore := 0.0
		for i, sec := range pool {
			score := HierarchySimilarity(primaryPath, sec.path)
			if score > bestScore {
				bestScore = score
				bestIdx = i
			}
		}
		if bestIdx < 0 || bestScore <= MatchThreshold {
			report.UnmatchedPrimaries = append(report.UnmatchedPrimaries, primaryID)
			continue
		}

		matched := pool[bestIdx]
		if !reg.RebindSecondary(matched.id, primaryID) {
			report.UnmatchedPrimaries = append(report.UnmatchedPrimaries, primaryID)
			continue
		}
		report.Bound = append(report.Bound, BoundMatch{
			PrimaryID:   primaryID,
			SecondaryID: matched.id,
			Similarity:  bestScore,
		})
		pool = append(pool[:bestIdx], pool[bestIdx+1:]...)
	}

	for _, sec := range pool {
		report.UnmatchedSecondaries = append(report.UnmatchedSecondaries, sec.id)
	}
	return report
}
