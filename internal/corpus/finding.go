package corpus

import "strings"

// Severity levels for historical findings, ordered critical > high >
// medium > low > info.
const (
	SeverityCritical = "critical"
	SeverityHigh     = "high"
	SeverityMedium   = "medium"
	SeverityLow      = "low"
	SeverityInfo     = "info"
)

// Finding is one historical vulnerability record. Findings are created
// at corpus-build time and never mutated; the store owns them for the
// process lifetime and shares them read-only.
type Finding struct {
	ID           string   `json:"id"`
	Title        string   `json:"title"`
	Body         string   `json:"body"`
	Severity     string   `json:"severity"`
	QualityScore float64  `json:"quality_score"` // 0-10
	RarityScore  float64  `json:"rarity_score"`  // 0-10
	Tags         []string `json:"tags,omitempty"`
	Protocol     string   `json:"protocol,omitempty"`
	Source       string   `json:"source,omitempty"`
}

// NormalizeSeverity lowercases and trims a severity label so corpus
// files may use any casing.
func NormalizeSeverity(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
