package reasoning

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/castellansec/castellan/internal/models"
)

// DecodeError reports a reasoning payload that failed the schema
// decode. The pipeline persists its message (bounded) instead of
// attaching unvalidated data to the job record.
type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decode reasoning result: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("decode reasoning result: %s", e.Reason)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// wireFinding mirrors the provider payload. Only these fields are
// copied onto the internal finding type; anything else the provider
// emits is dropped here.
type wireFinding struct {
	ID             string         `json:"id"`
	Severity       string         `json:"severity"`
	Title          string         `json:"title"`
	Description    string         `json:"description"`
	Lines          []int          `json:"lines"`
	File           string         `json:"file"`
	Reference      *wireReference `json:"reference"`
	ProofOfConcept string         `json:"proof_of_concept"`
}

type wireReference struct {
	Title      string `json:"title"`
	Protocol   string `json:"protocol"`
	Similarity int    `json:"similarity"`
	Source     string `json:"source"`
}

type wireResult struct {
	Findings []wireFinding `json:"findings"`
}

var knownSeverities = map[string]bool{
	"critical": true,
	"high":     true,
	"medium":   true,
	"low":      true,
	"info":     true,
}

// DecodeResult parses a raw reasoning payload into a Result. The decode
// is strict: malformed JSON, a finding without a title, or an unknown
// severity yield a *DecodeError rather than a partially populated
// result.
func DecodeResult(data []byte) (Result, error) {
	var wire wireResult
	if err := json.Unmarshal(data, &wire); err != nil {
		return Result{}, &DecodeError{Reason: "malformed payload", Err: err}
	}

	res := Result{Findings: make([]models.Finding, 0, len(wire.Findings))}
	for i, wf := range wire.Findings {
		if strings.TrimSpace(wf.Title) == "" {
			return Result{}, &DecodeError{Reason: fmt.Sprintf("finding %d has no title", i)}
		}
		severity := strings.ToLower(strings.TrimSpace(wf.Severity))
		if !knownSeverities[severity] {
			return Result{}, &DecodeError{Reason: fmt.Sprintf("finding %d has unknown severity %q", i, wf.Severity)}
		}

		f := models.Finding{
			ID:             strings.TrimSpace(wf.ID),
			Severity:       severity,
			Title:          wf.Title,
			Description:    wf.Description,
			Lines:          wf.Lines,
			File:           wf.File,
			ProofOfConcept: wf.ProofOfConcept,
		}
		if f.ID == "" {
			f.ID = fmt.Sprintf("finding-%d", i+1)
		}
		if wf.Reference != nil {
			sim := wf.Reference.Similarity
			if sim < 0 {
				sim = 0
			}
			if sim > 100 {
				sim = 100
			}
			f.Reference = &models.HistoricalReference{
				Title:      wf.Reference.Title,
				Protocol:   wf.Reference.Protocol,
				Similarity: sim,
				Source:     wf.Reference.Source,
			}
		}
		res.Findings = append(res.Findings, f)
	}
	return res, nil
}
