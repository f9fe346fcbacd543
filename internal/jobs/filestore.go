package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/castellansec/castellan/internal/models"
	"github.com/rs/zerolog/log"
)

// FileStore keeps one JSON file per job under dataDir/jobs and mirrors
// the records in memory for lookups and ordered listing. The in-memory
// index is rebuilt from disk on open, so restarts see every persisted
// job.
type FileStore struct {
	dir string

	mu      sync.RWMutex
	records map[string]models.JobRecord
}

// NewFileStore opens (or creates) the job directory and loads every
// existing record. A malformed job file is logged and skipped rather
// than failing the open.
func NewFileStore(dataDir string) (*FileStore, error) {
	dir := filepath.Join(dataDir, "jobs")
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create job directory: %w", err)
	}

	s := &FileStore{
		dir:     dir,
		records: make(map[string]models.JobRecord),
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read job directory: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			log.Warn().Err(err).Str("file", entry.Name()).Msg("Skipping unreadable job file")
			continue
		}
		var job models.JobRecord
		if err := json.Unmarshal(data, &job); err != nil {
			log.Warn().Err(err).Str("file", entry.Name()).Msg("Skipping malformed job file")
			continue
		}
		s.records[job.ID] = job
	}

	return s, nil
}

func (s *FileStore) jobFilePath(id string) string {
	// filepath.Base prevents path traversal through a crafted id
	return filepath.Join(s.dir, filepath.Base(id)+".json")
}

// Save upserts the full record.
func (s *FileStore) Save(ctx context.Context, job models.JobRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeLocked(job)
}

func (s *FileStore) writeLocked(job models.JobRecord) error {
	data, err := json.MarshalIndent(job, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal job %s: %w", job.ID, err)
	}
	if err := os.WriteFile(s.jobFilePath(job.ID), data, 0600); err != nil {
		return fmt.Errorf("write job file: %w", err)
	}
	s.records[job.ID] = job
	return nil
}

// Get returns the record for id, or ErrNotFound.
func (s *FileStore) Get(ctx context.Context, id string) (models.JobRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.records[id]
	if !ok {
		return models.JobRecord{}, ErrNotFound
	}
	return job, nil
}

// List returns all records newest first. Identical timestamps fall back
// to id order, which for ULIDs still reflects creation order.
func (s *FileStore) List(ctx context.Context) ([]models.JobRecord, error) {
	s.mu.RLock()
	out := make([]models.JobRecord, 0, len(s.records))
	for _, job := range s.records {
		out = append(out, job)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

// UpdateStatus merges patch into the stored record under the write
// lock, so concurrent updates to different jobs never lose fields.
func (s *FileStore) UpdateStatus(ctx context.Context, id string, status models.Status, patch Patch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.records[id]
	if !ok {
		return ErrNotFound
	}
	if job.Status.IsTerminal() {
		return ErrTerminal
	}

	applyPatch(&job, status, patch)
	return s.writeLocked(job)
}

// Close is a no-op for the file backend.
func (s *FileStore) Close() error {
	return nil
}
