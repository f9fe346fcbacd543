// Package recovery guarantees no audit job stays pending or analyzing
// forever after a crash or lost callback. A periodic sweep force-fails
// jobs older than the deadline.
//
// Known limitation: the sweep changes the recorded status only. An
// external call still executing is not cancelled; its late result is
// discarded by the controller because the store refuses transitions out
// of terminal states.
package recovery

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/castellansec/castellan/internal/jobs"
	"github.com/castellansec/castellan/internal/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

const (
	// DefaultInterval is how often the background sweep runs.
	DefaultInterval = 5 * time.Minute
	// DefaultThreshold is how long a job may stay non-terminal before
	// the sweep fails it.
	DefaultThreshold = 15 * time.Minute
)

var (
	recoveredCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "castellan",
		Subsystem: "recovery",
		Name:      "jobs_recovered_total",
		Help:      "Total stuck jobs transitioned to failed by the recovery sweep",
	})
	registerOnce sync.Once
)

// Sweeper periodically scans the job store for stuck jobs.
type Sweeper struct {
	store     jobs.Store
	threshold time.Duration
	interval  time.Duration

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewSweeper creates a sweeper. Zero threshold or interval fall back to
// the defaults.
func NewSweeper(store jobs.Store, threshold, interval time.Duration) *Sweeper {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	registerOnce.Do(func() {
		prometheus.MustRegister(recoveredCounter)
	})
	return &Sweeper{store: store, threshold: threshold, interval: interval}
}

// Start runs one immediate pass, then sweeps on the configured
// interval until Stop or context cancellation.
func (s *Sweeper) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.mu.Unlock()

	log.Info().
		Dur("interval", s.interval).
		Dur("threshold", s.threshold).
		Msg("Recovery sweeper started")

	s.wg.Add(1)
	go s.loop(ctx)
}

// Stop halts the background loop.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()

	s.wg.Wait()
	log.Info().Msg("Recovery sweeper stopped")
}

func (s *Sweeper) loop(ctx context.Context) {
	defer s.wg.Done()

	// Immediate pass at startup catches jobs stranded by a crash.
	if _, err := s.SweepOnce(ctx); err != nil {
		log.Error().Err(err).Msg("Initial recovery sweep failed")
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.SweepOnce(ctx); err != nil {
				log.Error().Err(err).Msg("Recovery sweep failed")
			}
		}
	}
}

// SweepOnce runs a single pass and returns how many jobs it
// transitioned to failed. An error updating one job does not abort the
// sweep of the rest; only a failed listing aborts the pass. Re-running
// against already-failed jobs is a no-op.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	all, err := s.store.List(ctx)
	if err != nil {
		return 0, err
	}

	now := time.Now().UTC()
	recovered := 0
	for _, job := range all {
		if job.Status != models.StatusPending && job.Status != models.StatusAnalyzing {
			continue
		}
		elapsed := now.Sub(job.CreatedAt)
		if elapsed <= s.threshold {
			continue
		}

		minutes := int(elapsed.Minutes())
		message := timeoutMessage(minutes)
		err := s.store.UpdateStatus(ctx, job.ID, models.StatusFailed, jobs.Patch{Message: &message})
		if err != nil {
			log.Error().Err(err).Str("job_id", job.ID).Msg("Failed to recover stuck job")
			continue
		}
		recoveredCounter.Inc()
		recovered++
		log.Warn().
			Str("job_id", job.ID).
			Int("elapsed_minutes", minutes).
			Msg("Recovered stuck job")
	}

	if recovered > 0 {
		log.Info().Int("recovered", recovered).Int("scanned", len(all)).Msg("Recovery sweep complete")
	}
	return recovered, nil
}

func timeoutMessage(minutes int) string {
	return fmt.Sprintf("analysis timed out after %d minutes and was marked failed by recovery", minutes)
}
