package agents

import (
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/montanaflynn/stats"
)

// The reranker scores retrieval hits and notes against a section
// description with lexical overlap. It is deliberately embedding-free:
// the vector store is out of scope, and inside the core a cheap
// normalized-overlap score plus an adaptive cutoff is enough to order
// candidates and drop the long tail before an LLM sees them.

var wordRE = regexp.MustCompile(`[a-zA-Z0-9]+`)

var stopwords = map[string]bool{
	"the": true, "and": true, "for": true, "that": true, "this": true,
	"with": true, "from": true, "are": true, "was": true, "were": true,
	"has": true, "have": true, "its": true, "their": true, "about": true,
	"into": true, "over": true, "under": true, "between": true, "what": true,
	"which": true, "how": true, "why": true, "when": true, "where": true,
}

func tokenize(s string) map[string]int {
	tokens := make(map[string]int)
	for _, w := range wordRE.FindAllString(strings.ToLower(s), -1) {
		if len(w) < 3 || stopwords[w] {
			continue
		}
		tokens[w]++
	}
	return tokens
}

// overlapScore is a cosine-like normalized term overlap in [0, 1].
func overlapScore(query, candidate string) float64 {
	q := tokenize(query)
	c := tokenize(candidate)
	if len(q) == 0 || len(c) == 0 {
		return 0
	}
	shared := 0.0
	for w, qn := range q {
		if cn, ok := c[w]; ok {
			shared += float64(min(qn, cn))
		}
	}
	return shared / math.Sqrt(float64(len(q))*float64(len(c)))
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// scored pairs an index into the caller's slice with its score.
type scored struct {
	index int
	score float64
}

// rankByRelevance scores each candidate text against the query and
// returns indices ordered best-first, dropping candidates below an
// adaptive threshold: mean minus one standard deviation of the score
// distribution, floored at minScore. With few candidates the cutoff
// collapses to minScore alone so small result sets are not over-pruned.
func rankByRelevance(query string, candidates []string, minScore float64) []scored {
	if len(candidates) == 0 {
		return nil
	}
	ranked := make([]scored, 0, len(candidates))
	values := make([]float64, 0, len(candidates))
	for i, c := range candidates {
		s := overlapScore(query, c)
		ranked = append(ranked, scored{index: i, score: s})
		values = append(values, s)
	}

	cutoff := minScore
	if len(values) >= 5 {
		mean, _ := stats.Mean(values)
		stddev, _ := stats.StandardDeviation(values)
		if adaptive := mean - stddev; adaptive > cutoff {
			cutoff = adaptive
		}
	}

	filtered := ranked[:0]
	for _, r := range ranked {
		if r.score >= cutoff {
			filtered = append(filtered, r)
		}
	}
	sort.SliceStable(filtered, func(i, j int) bool { return filtered[i].score > filtered[j].score })
	return filtered
}
