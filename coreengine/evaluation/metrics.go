// Package evaluation scores final answers against reference answers.
//
// Both metrics compare normalized text: NFKC-folded, case-folded, with
// whitespace runs collapsed to one space.
package evaluation

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// Metric names.
const (
	MetricExactMatch       = "exact_match"
	MetricStringSimilarity = "string_similarity"
)

// Normalize prepares text for comparison.
func Normalize(text string) string {
	text = norm.NFKC.String(text)
	text = cases.Fold().String(text)
	return strings.Join(strings.Fields(text), " ")
}

// ExactMatch returns 1 when the normalized texts are equal, else 0.
func ExactMatch(prediction, reference string) float64 {
	if Normalize(prediction) == Normalize(reference) {
		return 1
	}
	return 0
}

// StringSimilarity returns the Ratcliff/Obershelp ratio of the normalized
// texts: twice the number of matching runes over the total rune count.
// Two empty texts are identical.
func StringSimilarity(prediction, reference string) float64 {
	a := []rune(Normalize(prediction))
	b := []rune(Normalize(reference))
	total := len(a) + len(b)
	if total == 0 {
		return 1
	}
	return 2 * float64(matchingRunes(a, b)) / float64(total)
}

// matchingRunes sums the sizes of the recursively found longest common
// blocks, left side first.
func matchingRunes(a, b []rune) int {
	type span struct{ alo, ahi, blo, bhi int }

	matched := 0
	queue := []span{{0, len(a), 0, len(b)}}
	for len(queue) > 0 {
		s := queue[len(queue)-1]
		queue = queue[:len(queue)-1]

		i, j, k := longestMatch(a, b, s.alo, s.ahi, s.blo, s.bhi)
		if k == 0 {
			continue
		}
		matched += k
		if s.alo < i && s.blo < j {
			queue = append(queue, span{s.alo, i, s.blo, j})
		}
		if i+k < s.ahi && j+k < s.bhi {
			queue = append(queue, span{i + k, s.ahi, j + k, s.bhi})
		}
	}
	return matched
}

// longestMatch finds the longest block a[i:i+k] == b[j:j+k] within the
// given bounds, preferring the earliest i and then the earliest j.
func longestMatch(a, b []rune, alo, ahi, blo, bhi int) (int, int, int) {
	bestI, bestJ, bestK := alo, blo, 0
	prev := make([]int, bhi-blo+1)
	for i := alo; i < ahi; i++ {
		cur := make([]int, bhi-blo+1)
		for j := blo; j < bhi; j++ {
			if a[i] != b[j] {
				continue
			}
			k := prev[j-blo] + 1
			cur[j-blo+1] = k
			if k > bestK {
				bestI, bestJ, bestK = i-k+1, j-k+1, k
			}
		}
		prev = cur
	}
	return bestI, bestJ, bestK
}

// =============================================================================
// AGGREGATION
// =============================================================================

// Scores holds the per-answer metrics.
type Scores struct {
	ExactMatch       float64 `json:"exact_match"`
	StringSimilarity float64 `json:"string_similarity"`
}

// Score computes every metric for one answer.
func Score(prediction, reference string) Scores {
	return Scores{
		ExactMatch:       ExactMatch(prediction, reference),
		StringSimilarity: StringSimilarity(prediction, reference),
	}
}

// Summary accumulates scores across a batch.
type Summary struct {
	Count int
	sum   Scores
}

// Add records one scored answer.
func (s *Summary) Add(sc Scores) {
	s.Count++
	s.sum.ExactMatch += sc.ExactMatch
	s.sum.StringSimilarity += sc.StringSimilarity
}

// Mean returns the average scores, zero when nothing was added.
func (s *Summary) Mean() Scores {
	if s.Count == 0 {
		return Scores{}
	}
	n := float64(s.Count)
	return Scores{
		ExactMatch:       s.sum.ExactMatch / n,
		StringSimilarity: s.sum.StringSimilarity / n,
	}
}

// ToMap renders the mean scores keyed by metric name.
func (s *Summary) ToMap() map[string]any {
	mean := s.Mean()
	return map[string]any{
		"count":                s.Count,
		MetricExactMatch:       mean.ExactMatch,
		MetricStringSimilarity: mean.StringSimilarity,
	}
}
