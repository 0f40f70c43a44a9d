// Package matching implements fuzzy name matching for sanctions and PEP
// screening: phonetic prefiltering followed by edit-distance scoring.
package matching

import (
	"strings"

	"github.com/opensource-finance/kestrel/internal/domain"
)

const (
	defaultLevenshteinThreshold = 3
	defaultSimilarityThreshold  = 0.8
	defaultMaxCodeLength        = 10
)

// Matcher compares entity names against watchlist entries. It is stateless
// after construction and safe for concurrent use.
type Matcher struct {
	levThreshold int
	simThreshold float64
	maxCodeLen   int
}

// NewMatcher builds a Matcher from config, substituting the documented
// defaults for zero values.
func NewMatcher(cfg domain.MatchingConfig) *Matcher {
	m := &Matcher{
		levThreshold: cfg.LevenshteinThreshold,
		simThreshold: cfg.SimilarityThreshold,
		maxCodeLen:   cfg.MaxCodeLength,
	}
	if m.levThreshold <= 0 {
		m.levThreshold = defaultLevenshteinThreshold
	}
	if m.simThreshold <= 0 {
		m.simThreshold = defaultSimilarityThreshold
	}
	if m.maxCodeLen <= 0 {
		m.maxCodeLen = defaultMaxCodeLength
	}
	return m
}

// Match compares two names. Phonetic agreement is a prefilter: names whose
// codes share no overlap are rejected without computing edit distance (the
// result carries DistanceUnmatched). Phonetically compatible names match
// when the edit distance is within the threshold or the normalized
// similarity meets the similarity threshold.
func (m *Matcher) Match(name1, name2 string) domain.MatchResult {
	n1 := Normalize(name1)
	n2 := Normalize(name2)

	res := domain.MatchResult{
		Name1:        n1,
		Name2:        n2,
		EditDistance: domain.DistanceUnmatched,
	}

	if n1 == "" || n2 == "" {
		return res
	}

	p1, a1 := phoneticCodes(n1, m.maxCodeLen)
	p2, a2 := phoneticCodes(n2, m.maxCodeLen)
	res.PhoneticCode1 = p1
	res.PhoneticCode2 = p2
	res.PhoneticMatch = codesOverlap(p1, a1, p2, a2)

	if !res.PhoneticMatch {
		return res
	}

	dist := levenshtein(n1, n2)
	res.EditDistance = dist
	res.Similarity = similarity(n1, n2, dist)
	res.IsMatch = dist <= m.levThreshold || res.Similarity >= m.simThreshold

	return res
}

// MatchAny screens a name against a list of watchlist names and returns the
// first hit, or the best non-matching result for audit context.
func (m *Matcher) MatchAny(name string, candidates []string) domain.MatchResult {
	var best domain.MatchResult
	best.EditDistance = domain.DistanceUnmatched

	for _, cand := range candidates {
		res := m.Match(name, cand)
		if res.IsMatch {
			return res
		}
		if res.Similarity > best.Similarity {
			best = res
		}
	}
	return best
}

// Normalize uppercases a name, strips everything outside [A-Z0-9 ], and
// collapses runs of whitespace to a single space.
func Normalize(name string) string {
	upper := strings.ToUpper(name)

	var b strings.Builder
	b.Grow(len(upper))
	lastSpace := true // trims leading spaces
	for _, c := range upper {
		switch {
		case (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9'):
			b.WriteRune(c)
			lastSpace = false
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			if !lastSpace {
				b.WriteByte(' ')
				lastSpace = true
			}
		}
		// Everything else (punctuation, diacritics) drops.
	}

	return strings.TrimRight(b.String(), " ")
}

// codesOverlap reports whether any primary/alternate code of one name equals
// any code of the other. Empty codes never match.
func codesOverlap(p1, a1, p2, a2 string) bool {
	if p1 == "" || p2 == "" {
		return false
	}
	return p1 == p2 || p1 == a2 || a1 == p2 || (a1 != "" && a1 == a2)
}

// levenshtein computes edit distance with the two-row dynamic programming
// formulation, O(min(len)) space.
func levenshtein(s1, s2 string) int {
	r1 := []rune(s1)
	r2 := []rune(s2)
	if len(r1) < len(r2) {
		r1, r2 = r2, r1
	}
	if len(r2) == 0 {
		return len(r1)
	}

	prev := make([]int, len(r2)+1)
	curr := make([]int, len(r2)+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(r1); i++ {
		curr[0] = i
		for j := 1; j <= len(r2); j++ {
			cost := 1
			if r1[i-1] == r2[j-1] {
				cost = 0
			}
			curr[j] = minInt(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}

	return prev[len(r2)]
}

// similarity converts an edit distance to a [0,1] score relative to the
// longer name. Two empty names are identical by definition.
func similarity(s1, s2 string, dist int) float64 {
	maxLen := len([]rune(s1))
	if l := len([]rune(s2)); l > maxLen {
		maxLen = l
	}
	if maxLen == 0 {
		return 1.0
	}
	return 1.0 - float64(dist)/float64(maxLen)
}

func minInt(a, b, c int) int {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}
