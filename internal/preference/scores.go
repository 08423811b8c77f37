package preference

import "strings"

// ComplexityScore estimates how involved a research task is, 0..1. Longer
// queries with comparative or multi-part phrasing score higher. The score
// is descriptive metadata on episodes, not a gating input.
func ComplexityScore(query string, plannedQueries []string) float64 {
	score := 0.2
	words := strings.Fields(query)
	if len(words) > 10 {
		score += 0.2
	}
	if len(words) > 25 {
		score += 0.1
	}
	lower := strings.ToLower(query)
	for _, marker := range []string{"compare", "versus", " vs ", "difference", "trade-off", "pros and cons"} {
		if strings.Contains(lower, marker) {
			score += 0.2
			break
		}
	}
	if len(plannedQueries) > 1 {
		score += 0.1 * float64(len(plannedQueries)-1)
	}
	if score > 1 {
		score = 1
	}
	return score
}

// SearchQualityScore estimates how well a plan covers the query, 0..1,
// from term overlap between the query and the planned queries.
func SearchQualityScore(query string, plannedQueries []string) float64 {
	if len(plannedQueries) == 0 {
		return 0
	}
	queryTerms := map[string]bool{}
	for _, w := range strings.Fields(strings.ToLower(query)) {
		if len(w) > 3 {
			queryTerms[w] = true
		}
	}
	if len(queryTerms) == 0 {
		return 0.5
	}
	covered := map[string]bool{}
	for _, pq := range plannedQueries {
		for _, w := range strings.Fields(strings.ToLower(pq)) {
			if queryTerms[w] {
				covered[w] = true
			}
		}
	}
	return float64(len(covered)) / float64(len(queryTerms))
}
