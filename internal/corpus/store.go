// Package corpus loads the historical findings corpus from disk and
// exposes it read-only for the process lifetime.
package corpus

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
)

// collection is the on-disk unit: one named group of findings.
type collection struct {
	Name     string    `json:"name"`
	Findings []Finding `json:"findings"`
}

// Store holds every historical finding collection, loaded once from a
// corpus directory. After Load succeeds the store is immutable and may
// be shared across any number of readers without locking.
type Store struct {
	dir string

	once    sync.Once
	loadErr error

	byCategory map[string][]Finding
	pool       []Finding
}

// NewStore creates a store over the given corpus directory. Nothing is
// read until Load (or the first accessor) runs.
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// Load reads every *.json collection in the corpus directory and merges
// all findings into one flat pool. A second call is a no-op; concurrent
// first callers share a single load. An unreadable corpus directory is
// fatal, a malformed individual file is logged and skipped.
func (s *Store) Load() error {
	s.once.Do(func() {
		s.loadErr = s.load()
	})
	return s.loadErr
}

func (s *Store) load() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("read corpus directory %s: %w", s.dir, err)
	}

	s.byCategory = make(map[string][]Finding)

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		path := filepath.Join(s.dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			log.Warn().Err(err).Str("file", entry.Name()).Msg("Skipping unreadable corpus file")
			continue
		}

		var col collection
		if err := json.Unmarshal(data, &col); err != nil {
			log.Warn().Err(err).Str("file", entry.Name()).Msg("Skipping malformed corpus file")
			continue
		}
		if col.Name == "" {
			col.Name = strings.TrimSuffix(entry.Name(), ".json")
		}

		for i := range col.Findings {
			col.Findings[i].Severity = NormalizeSeverity(col.Findings[i].Severity)
		}

		s.byCategory[col.Name] = append(s.byCategory[col.Name], col.Findings...)
		s.pool = append(s.pool, col.Findings...)
	}

	log.Info().
		Int("collections", len(s.byCategory)).
		Int("findings", len(s.pool)).
		Str("dir", s.dir).
		Msg("Historical findings corpus loaded")

	return nil
}

// ByCategory returns the findings of one named collection, or an empty
// slice when the name is unknown.
func (s *Store) ByCategory(name string) []Finding {
	if err := s.Load(); err != nil {
		log.Error().Err(err).Msg("Corpus load failed")
		return nil
	}
	return s.byCategory[name]
}

// Pool returns the flat merged pool of all findings.
func (s *Store) Pool() []Finding {
	if err := s.Load(); err != nil {
		log.Error().Err(err).Msg("Corpus load failed")
		return nil
	}
	return s.pool
}

// Categories returns the sorted collection names.
func (s *Store) Categories() []string {
	if err := s.Load(); err != nil {
		return nil
	}
	names := make([]string, 0, len(s.byCategory))
	for name := range s.byCategory {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
