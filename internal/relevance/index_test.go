package relevance

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/castellansec/castellan/internal/corpus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func indexOver(t *testing.T, findings []corpus.Finding) *Index {
	t.Helper()
	dir := t.TempDir()
	data, err := json.Marshal(map[string]any{"name": "test", "findings": findings})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "test.json"), data, 0600))

	store := corpus.NewStore(dir)
	require.NoError(t, store.Load())
	return NewIndex(store)
}

func TestSearchScoringFormula(t *testing.T) {
	idx := indexOver(t, []corpus.Finding{{
		ID:           "f1",
		Title:        "Oracle manipulation",
		Body:         "spot price read in the same block",
		Severity:     corpus.SeverityCritical,
		QualityScore: 8,
		RarityScore:  3,
		Tags:         []string{"Oracle"},
	}})

	// critical 10 + quality 8*2 + rarity 3 = 29, +3 keyword, +5 tag = 37
	results := idx.Search([]string{"oracle"}, []string{"oracle"}, 10)
	require.Len(t, results, 1)
	assert.Equal(t, 37.0, results[0].Score)
}

func TestSearchBaseScoresWithoutSignals(t *testing.T) {
	idx := indexOver(t, []corpus.Finding{
		{ID: "f1", Title: "a", Severity: corpus.SeverityCritical, QualityScore: 2, RarityScore: 1},
		{ID: "f2", Title: "b", Severity: corpus.SeverityInfo},
	})

	// Empty signal sets still admit findings whose severity/quality/
	// rarity alone score above zero; a zero-total finding is excluded.
	results := idx.Search(nil, nil, 10)
	require.Len(t, results, 1)
	assert.Equal(t, "f1", results[0].ID)
	assert.Equal(t, 15.0, results[0].Score)
}

func TestSearchOrderingAndLimit(t *testing.T) {
	var findings []corpus.Finding
	for i := 0; i < 30; i++ {
		findings = append(findings, corpus.Finding{
			ID:           fmt.Sprintf("f%02d", i),
			Title:        "vault drain",
			Severity:     corpus.SeverityMedium,
			QualityScore: float64(i % 7),
		})
	}
	idx := indexOver(t, findings)

	results := idx.Search([]string{"vault"}, nil, 5)
	require.Len(t, results, 5)
	for i := 1; i < len(results); i++ {
		assert.GreaterOrEqual(t, results[i-1].Score, results[i].Score)
	}
	for _, r := range results {
		assert.Greater(t, r.Score, 0.0)
	}
}

func TestSearchTieBreakIsStable(t *testing.T) {
	idx := indexOver(t, []corpus.Finding{
		{ID: "b", Title: "vault issue", Severity: corpus.SeverityHigh, QualityScore: 4},
		{ID: "a", Title: "vault issue", Severity: corpus.SeverityHigh, QualityScore: 4},
		{ID: "c", Title: "vault issue", Severity: corpus.SeverityHigh, QualityScore: 4},
	})

	first := idx.Search([]string{"vault"}, nil, 10)
	for i := 0; i < 5; i++ {
		again := idx.Search([]string{"vault"}, nil, 10)
		require.Equal(t, first, again)
	}
	// Identical scores fall back to id order
	assert.Equal(t, "a", first[0].ID)
	assert.Equal(t, "b", first[1].ID)
	assert.Equal(t, "c", first[2].ID)
}

func TestSearchMultipleTagMatchesScoreIndependently(t *testing.T) {
	idx := indexOver(t, []corpus.Finding{{
		ID:       "f1",
		Title:    "x",
		Severity: corpus.SeverityInfo,
		Tags:     []string{"oracle-spot", "oracle-twap"},
	}})

	// Both tags contain the pattern, so the pair bonus applies twice.
	results := idx.Search(nil, []string{"oracle"}, 10)
	require.Len(t, results, 1)
	assert.Equal(t, 10.0, results[0].Score)
}

func TestSearchEmptyCorpus(t *testing.T) {
	idx := indexOver(t, nil)
	assert.Empty(t, idx.Search([]string{"vault"}, []string{"oracle"}, 10))
}

func TestBuildContext(t *testing.T) {
	idx := indexOver(t, []corpus.Finding{{
		ID:           "f1",
		Title:        "Oracle manipulation",
		Body:         "spot price read",
		Severity:     corpus.SeverityCritical,
		QualityScore: 8,
		Protocol:     "LendingDAO",
		Source:       "https://example.com/report",
	}})

	results := idx.Search(nil, nil, 10)
	out := BuildContext(results, 5)
	assert.Contains(t, out, "Oracle manipulation")
	assert.Contains(t, out, "LendingDAO")
	assert.Contains(t, out, "critical")
	assert.Contains(t, out, "https://example.com/report")

	assert.Empty(t, BuildContext(nil, 5))
}
