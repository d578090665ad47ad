package model

import (
	"math"
	"sort"
)

// CosineSimilarity returns the cosine of the angle between a and b, or 0 when
// lengths differ or either vector is zero.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	denom := math.Sqrt(normA) * math.Sqrt(normB)
	if denom == 0 {
		return 0
	}
	return dot / denom
}

// RankBySimilarity scores records against query and returns the best limit
// hits. Records with a vector of a different dimension are skipped.
func RankBySimilarity(query []float32, records []*MemoryRecord, limit int) []*ScoredRecord {
	candidates := make([]*ScoredRecord, 0, len(records))
	for _, r := range records {
		if len(r.Vector) != len(query) {
			continue
		}
		candidates = append(candidates, &ScoredRecord{Record: r, Score: CosineSimilarity(query, r.Vector)})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Score > candidates[j].Score
	})

	if limit > 0 && limit < len(candidates) {
		candidates = candidates[:limit]
	}
	return candidates
}
