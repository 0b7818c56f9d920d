package ai

import (
	"math"
	"sort"
)

// CosineSimilarity returns dot(a,b) / (|a| * |b|). Mismatched lengths or a
// zero-magnitude vector yield 0 rather than a fault.
func CosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, magA, magB float64
	for i := range a {
		dot += a[i] * b[i]
		magA += a[i] * a[i]
		magB += b[i] * b[i]
	}
	if magA == 0 || magB == 0 {
		return 0
	}
	return dot / (math.Sqrt(magA) * math.Sqrt(magB))
}

// Match is one similarity-search result.
type Match struct {
	Index int
	Score float64
}

// TopK scores each candidate against the query vector and returns the k
// best matches in descending score order. Equal scores keep their original
// input order.
func TopK(query []float64, candidates [][]float64, k int) []Match {
	matches := make([]Match, 0, len(candidates))
	for i, c := range candidates {
		matches = append(matches, Match{Index: i, Score: CosineSimilarity(query, c)})
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})
	if k > 0 && len(matches) > k {
		matches = matches[:k]
	}
	return matches
}
