// Package fuzzy provides fuzzy matching over recorded owner handles
package fuzzy

import (
	"sort"
	"strings"
)

// Matcher scores owner handles against a partial query
type Matcher struct{}

// NewMatcher creates a new fuzzy matcher
func NewMatcher() *Matcher {
	return &Matcher{}
}

// RankOwners orders the known owners by match quality against the query,
// dropping non-matches. An empty query returns the owners unchanged.
func (m *Matcher) RankOwners(query string, owners []string) []string {
	if query == "" {
		return owners
	}

	type scoredOwner struct {
		owner string
		score float64
	}

	query = strings.ToLower(strings.TrimPrefix(query, "@"))

	var scored []scoredOwner
	for _, owner := range owners {
		score := m.calculateScore(query, owner)
		if score > 0 {
			scored = append(scored, scoredOwner{owner: owner, score: score})
		}
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].score > scored[j].score
	})

	ranked := make([]string, 0, len(scored))
	for _, s := range scored {
		ranked = append(ranked, s.owner)
	}
	return ranked
}

// calculateScore calculates the fuzzy match score between query and handle
func (m *Matcher) calculateScore(query, handle string) float64 {
	handle = strings.ToLower(handle)

	if handle == query {
		return 2.0
	}
	if strings.HasPrefix(handle, query) {
		// Prefix matches score above substring matches, weighted by how
		// much of the handle the query covers
		return 1.0 + float64(len(query))/float64(len(handle))
	}
	if strings.Contains(handle, query) {
		return float64(len(query)) / float64(len(handle))
	}

	// Word-piece match across separator boundaries
	handleWords := strings.FieldsFunc(handle, func(r rune) bool {
		return r == '.' || r == '_' || r == '-' || r == ' '
	})
	for _, word := range handleWords {
		if strings.HasPrefix(word, query) {
			return 0.5 * float64(len(query)) / float64(len(handle))
		}
	}

	return 0.0
}
