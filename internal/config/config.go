// Package config loads the service configuration from the environment.
// The configuration, including the job store backend switch, is
// evaluated once at startup and never re-read at runtime.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// Config holds all runtime settings.
type Config struct {
	DataDir    string // job records, sqlite database
	CorpusDir  string // historical findings corpus (read-only)
	JobBackend string // "file" or "sqlite"

	ListenAddr string

	LogLevel  string
	LogFormat string

	SweepInterval time.Duration // recovery sweep period
	JobTimeout    time.Duration // recovery deadline for stuck jobs

	ReasoningEndpoint string // external reasoning service URL
	ReasoningAPIKey   string
	CheckoutRoot      string // root directory for local repository checkouts
}

// Load reads configuration from the environment, with .env support for
// deployment overrides.
func Load() (*Config, error) {
	dataDir := "/var/lib/castellan"
	if dir := os.Getenv("CASTELLAN_DATA_DIR"); dir != "" {
		dataDir = dir
	}

	// Load .env from the data directory if present (deployment overrides)
	envFile := filepath.Join(dataDir, ".env")
	if _, err := os.Stat(envFile); err == nil {
		if err := godotenv.Load(envFile); err != nil {
			log.Warn().Err(err).Str("file", envFile).Msg("Failed to load .env file")
		}
	}
	// Also try the current directory for development
	_ = godotenv.Load()

	cfg := &Config{
		DataDir:       dataDir,
		CorpusDir:     filepath.Join(dataDir, "corpus"),
		JobBackend:    "file",
		ListenAddr:    ":7420",
		LogLevel:      "info",
		LogFormat:     "auto",
		SweepInterval: 5 * time.Minute,
		JobTimeout:    15 * time.Minute,
	}

	if dir := os.Getenv("CASTELLAN_CORPUS_DIR"); dir != "" {
		cfg.CorpusDir = dir
	}
	if backend := os.Getenv("CASTELLAN_JOB_BACKEND"); backend != "" {
		if backend != "file" && backend != "sqlite" {
			return nil, fmt.Errorf("invalid CASTELLAN_JOB_BACKEND %q (want file or sqlite)", backend)
		}
		cfg.JobBackend = backend
	}
	if addr := os.Getenv("CASTELLAN_LISTEN_ADDR"); addr != "" {
		cfg.ListenAddr = addr
	} else if port := os.Getenv("PORT"); port != "" {
		if _, err := strconv.Atoi(port); err != nil {
			return nil, fmt.Errorf("invalid PORT %q: %w", port, err)
		}
		cfg.ListenAddr = ":" + port
	}
	if level := os.Getenv("CASTELLAN_LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}
	if format := os.Getenv("CASTELLAN_LOG_FORMAT"); format != "" {
		cfg.LogFormat = format
	}
	if v := os.Getenv("CASTELLAN_SWEEP_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("invalid CASTELLAN_SWEEP_INTERVAL %q: %w", v, err)
		}
		cfg.SweepInterval = d
	}
	if v := os.Getenv("CASTELLAN_JOB_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("invalid CASTELLAN_JOB_TIMEOUT %q: %w", v, err)
		}
		cfg.JobTimeout = d
	}
	cfg.ReasoningEndpoint = os.Getenv("CASTELLAN_REASONING_ENDPOINT")
	cfg.ReasoningAPIKey = os.Getenv("CASTELLAN_REASONING_API_KEY")
	cfg.CheckoutRoot = os.Getenv("CASTELLAN_CHECKOUT_ROOT")
	if cfg.CheckoutRoot == "" {
		cfg.CheckoutRoot = filepath.Join(dataDir, "checkouts")
	}

	return cfg, nil
}
