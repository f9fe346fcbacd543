package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/castellansec/castellan/internal/api"
	"github.com/castellansec/castellan/internal/audit"
	"github.com/castellansec/castellan/internal/config"
	"github.com/castellansec/castellan/internal/corpus"
	"github.com/castellansec/castellan/internal/jobs"
	"github.com/castellansec/castellan/internal/logging"
	"github.com/castellansec/castellan/internal/reasoning"
	"github.com/castellansec/castellan/internal/recovery"
	"github.com/castellansec/castellan/internal/relevance"
	"github.com/castellansec/castellan/internal/retrieval"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// Version information (set at build time with -ldflags)
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

var rootCmd = &cobra.Command{
	Use:     "castellan",
	Short:   "Castellan - asynchronous smart-contract audit service",
	Long:    `Castellan accepts repository audit jobs, ranks a historical findings corpus for context, and tracks each job through an external reasoning service to a terminal result.`,
	Version: Version,
	Run: func(cmd *cobra.Command, args []string) {
		runServer()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("Castellan %s\n", Version)
		if BuildTime != "unknown" {
			fmt.Printf("Built: %s\n", BuildTime)
		}
		if GitCommit != "unknown" {
			fmt.Printf("Commit: %s\n", GitCommit)
		}
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServer() {
	// Baseline logger for early startup messages
	logging.Init(logging.Config{Format: "auto", Level: "info", Component: "castellan"})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Re-initialize with configuration-driven settings
	logging.Init(logging.Config{
		Format:    cfg.LogFormat,
		Level:     cfg.LogLevel,
		Component: "castellan",
	})

	corpusStore := corpus.NewStore(cfg.CorpusDir)
	if err := corpusStore.Load(); err != nil {
		log.Fatal().Err(err).Msg("Failed to load findings corpus")
	}

	store, err := jobs.Open(cfg.JobBackend, cfg.DataDir)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open job store")
	}
	defer store.Close()

	reasoner := reasoning.NewHTTPClient(cfg.ReasoningEndpoint, cfg.ReasoningAPIKey)
	retriever := retrieval.DirRetriever{Root: cfg.CheckoutRoot}
	index := relevance.NewIndex(corpusStore)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	controller := audit.NewController(store, retriever, reasoner, index)
	controller.Start(ctx)
	defer controller.Stop()

	sweeper := recovery.NewSweeper(store, cfg.JobTimeout, cfg.SweepInterval)
	sweeper.Start(ctx)
	defer sweeper.Stop()

	handler := api.NewRouter(store, controller, sweeper, corpusStore)
	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.ListenAddr).Msg("HTTP server listening")
		errCh <- server.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("Shutting down")
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("HTTP server error")
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}
}
