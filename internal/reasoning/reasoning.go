// Package reasoning defines the reasoning-service collaborator
// contract and the strict decode of its payload into job findings.
package reasoning

import (
	"context"
	"errors"

	"github.com/castellansec/castellan/internal/models"
)

// ErrQuotaExceeded marks a distinguished provider failure: the account
// is out of quota. The pipeline does not retry it but renders a
// user-actionable message instead of the raw provider error.
var ErrQuotaExceeded = errors.New("reasoning quota exceeded")

// Request is the input to one analysis call.
type Request struct {
	Source            string // flattened source text
	Architecture      string // short architecture summary
	HistoricalContext string // rendered relevance-search results
}

// Result is the structured outcome of one analysis call.
type Result struct {
	Findings []models.Finding
}

// Client is the reasoning-service collaborator. Implementations own
// prompt construction, model selection and any internal model-tier
// downgrade; the pipeline sees a single call that succeeds or fails.
type Client interface {
	Analyze(ctx context.Context, req Request) (Result, error)
}
