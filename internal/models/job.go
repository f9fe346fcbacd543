// Package models defines the job record types shared across the audit
// pipeline, the job stores and the HTTP API.
package models

import (
	"time"

	"github.com/oklog/ulid/v2"
)

// Status is the lifecycle state of an audit job.
type Status string

const (
	StatusPending   Status = "pending"
	StatusAnalyzing Status = "analyzing"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// IsTerminal reports whether no further transition is allowed out of s.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusAnalyzing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// HistoricalReference links a reported finding back to a historical
// corpus finding that informed it.
type HistoricalReference struct {
	Title      string `json:"title"`
	Protocol   string `json:"protocol,omitempty"`
	Similarity int    `json:"similarity"` // 0-100
	Source     string `json:"source,omitempty"`
}

// Finding is a single vulnerability reported by the reasoning service
// against the submitted code. Distinct from corpus.Finding, which is a
// historical record.
type Finding struct {
	ID             string               `json:"id"`
	Severity       string               `json:"severity"`
	Title          string               `json:"title"`
	Description    string               `json:"description"`
	Lines          []int                `json:"lines,omitempty"`
	File           string               `json:"file,omitempty"`
	Reference      *HistoricalReference `json:"reference,omitempty"`
	ProofOfConcept string               `json:"proof_of_concept,omitempty"`
}

// JobRecord tracks one audit from submission to a terminal state.
// CreatedAt is immutable after creation; it drives both listing order
// and the recovery deadline.
type JobRecord struct {
	ID        string            `json:"id"`
	RepoRef   string            `json:"repo"`
	Status    Status            `json:"status"`
	Message   string            `json:"message,omitempty"`
	Findings  []Finding         `json:"findings"`
	Files     map[string]string `json:"files,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// NewJobID returns a fresh job identifier. ULIDs sort by creation time,
// which the stores rely on as a tie-break for identical timestamps.
func NewJobID() string {
	return ulid.Make().String()
}
