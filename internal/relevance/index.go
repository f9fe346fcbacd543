// Package relevance ranks the historical findings corpus against
// signals extracted from a submitted codebase. It builds the context
// handed to the reasoning service before each analysis call.
package relevance

import (
	"fmt"
	"sort"
	"strings"

	"github.com/castellansec/castellan/internal/corpus"
)

// Scoring weights. The formula is additive and deterministic:
// keyword and tag matches, a severity bonus, then quality and rarity
// taken directly from the finding.
const (
	keywordWeight       = 3
	tagWeight           = 5
	criticalBonus       = 10
	highBonus           = 5
	qualityMultiplier   = 2
	defaultSearchLimit  = 10
	contextExcerptBytes = 400
)

// ScoredFinding pairs a corpus finding with its relevance score for one
// search call. Transient; not persisted.
type ScoredFinding struct {
	corpus.Finding
	Score float64
}

// Index scores and ranks the corpus pool. The pool is read-only after
// load, so an Index is safe for concurrent use.
type Index struct {
	store *corpus.Store
}

// NewIndex creates an index over the given corpus store.
func NewIndex(store *corpus.Store) *Index {
	return &Index{store: store}
}

// Search returns up to limit findings ranked by descending score.
// Scoring: +3 per keyword appearing case-insensitively in title+body,
// +5 per (tag, pattern) pair where the tag contains the pattern,
// +10 for critical severity, +5 for high, plus quality*2 and rarity.
// Zero-score findings are excluded. Ties are broken by finding ID
// ascending, so repeated calls with identical inputs return identical
// orderings. Pure function of its inputs and the loaded pool; no I/O.
func (idx *Index) Search(keywords, tagPatterns []string, limit int) []ScoredFinding {
	if limit <= 0 {
		limit = defaultSearchLimit
	}

	lowerKeywords := lowerAll(keywords)
	lowerPatterns := lowerAll(tagPatterns)

	pool := idx.store.Pool()
	scored := make([]ScoredFinding, 0, len(pool))
	for i := range pool {
		f := &pool[i]
		score := scoreFinding(f, lowerKeywords, lowerPatterns)
		if score <= 0 {
			continue
		}
		scored = append(scored, ScoredFinding{Finding: *f, Score: score})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].ID < scored[j].ID
	})

	if len(scored) > limit {
		scored = scored[:limit]
	}
	return scored
}

func scoreFinding(f *corpus.Finding, keywords, tagPatterns []string) float64 {
	var score float64

	haystack := strings.ToLower(f.Title + " " + f.Body)
	for _, kw := range keywords {
		if kw != "" && strings.Contains(haystack, kw) {
			score += keywordWeight
		}
	}

	// Every qualifying (tag, pattern) pair scores independently.
	for _, tag := range f.Tags {
		lowerTag := strings.ToLower(tag)
		for _, p := range tagPatterns {
			if p != "" && strings.Contains(lowerTag, p) {
				score += tagWeight
			}
		}
	}

	switch f.Severity {
	case corpus.SeverityCritical:
		score += criticalBonus
	case corpus.SeverityHigh:
		score += highBonus
	}

	score += f.QualityScore * qualityMultiplier
	score += f.RarityScore

	return score
}

// BuildContext renders ranked findings into the historical-context
// string passed to the reasoning service. Output is capped at max
// findings; each entry carries title, protocol, severity and a body
// excerpt.
func BuildContext(results []ScoredFinding, max int) string {
	if len(results) == 0 {
		return ""
	}
	if max > 0 && len(results) > max {
		results = results[:max]
	}

	var sb strings.Builder
	sb.WriteString("## Similar historical findings\n")
	for i, r := range results {
		sb.WriteString(fmt.Sprintf("\n### %d. %s", i+1, r.Title))
		if r.Protocol != "" {
			sb.WriteString(fmt.Sprintf(" (%s)", r.Protocol))
		}
		sb.WriteString(fmt.Sprintf("\nSeverity: %s | Relevance: %.0f\n", r.Severity, r.Score))
		body := r.Body
		if len(body) > contextExcerptBytes {
			body = body[:contextExcerptBytes] + "..."
		}
		sb.WriteString(body)
		if r.Source != "" {
			sb.WriteString(fmt.Sprintf("\nSource: %s", r.Source))
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.ToLower(strings.TrimSpace(s))
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
