package domain

import "math"

// DistanceUnmatched is the edit-distance sentinel for names that were never
// compared (empty input, or rejected by the phonetic pre-filter).
const DistanceUnmatched = math.MaxInt32

// MatchResult is the detailed outcome of one fuzzy name comparison used for
// sanctions/PEP screening.
type MatchResult struct {
	Name1         string  `json:"name1"`
	Name2         string  `json:"name2"`
	PhoneticCode1 string  `json:"phoneticCode1"`
	PhoneticCode2 string  `json:"phoneticCode2"`
	PhoneticMatch bool    `json:"phoneticMatch"`
	EditDistance  int     `json:"editDistance"`
	Similarity    float64 `json:"similarity"`
	IsMatch       bool    `json:"isMatch"`
}
