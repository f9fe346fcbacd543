// Package jobs persists audit job records. Two backends implement the
// same Store contract: a JSON-file-per-job store and a sqlite store.
// The backend is chosen once at startup; the rest of the system is
// backend-agnostic.
package jobs

import (
	"context"
	"errors"

	"github.com/castellansec/castellan/internal/models"
)

// ErrNotFound is returned by Get and UpdateStatus when no record exists
// for the requested id. Callers treat it as a normal outcome.
var ErrNotFound = errors.New("job not found")

// ErrTerminal is returned by UpdateStatus when the record is already in
// a terminal state. Terminal records never transition again; callers
// that race a recovery sweep check for this and discard their result.
var ErrTerminal = errors.New("job already in terminal state")

// Patch carries the partial fields merged into a record by
// UpdateStatus. Nil fields are left untouched.
type Patch struct {
	Message  *string
	Findings []models.Finding
	Files    map[string]string
}

// Store is durable CRUD over job records. UpdateStatus is the only
// sanctioned mutation path for status; both backends apply it as a
// single atomic read-modify-write per record.
type Store interface {
	// Save upserts the full record.
	Save(ctx context.Context, job models.JobRecord) error

	// Get returns the record for id, or ErrNotFound.
	Get(ctx context.Context, id string) (models.JobRecord, error)

	// List returns all records, newest first.
	List(ctx context.Context) ([]models.JobRecord, error)

	// UpdateStatus applies status and merges patch into the existing
	// record, then persists the result. Returns ErrNotFound for an
	// unknown id and ErrTerminal when the record is already terminal.
	UpdateStatus(ctx context.Context, id string, status models.Status, patch Patch) error

	// Close releases backend resources.
	Close() error
}

func applyPatch(job *models.JobRecord, status models.Status, patch Patch) {
	job.Status = status
	if patch.Message != nil {
		job.Message = *patch.Message
	}
	if patch.Findings != nil {
		job.Findings = patch.Findings
	}
	if patch.Files != nil {
		job.Files = patch.Files
	}
}
