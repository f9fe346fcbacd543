package jobs

import (
	"fmt"

	"github.com/rs/zerolog/log"
)

// Backend names accepted by Open.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
)

// Open constructs the configured store backend. The switch is evaluated
// here, once per process; no other component branches on the backend.
func Open(backend, dataDir string) (Store, error) {
	switch backend {
	case BackendFile, "":
		store, err := NewFileStore(dataDir)
		if err != nil {
			return nil, err
		}
		log.Info().Str("backend", BackendFile).Str("dataDir", dataDir).Msg("Job store opened")
		return store, nil
	case BackendSQLite:
		store, err := NewSQLiteStore(dataDir)
		if err != nil {
			return nil, err
		}
		log.Info().Str("backend", BackendSQLite).Str("dataDir", dataDir).Msg("Job store opened")
		return store, nil
	default:
		return nil, fmt.Errorf("unknown job store backend %q", backend)
	}
}
