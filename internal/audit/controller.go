// Package audit implements the job lifecycle: submission, the analysis
// pipeline and the state machine pending → analyzing → completed or
// failed. Both terminal states are final; every failure path inside the
// pipeline ends with the job marked failed rather than stuck.
package audit

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/castellansec/castellan/internal/jobs"
	"github.com/castellansec/castellan/internal/models"
	"github.com/castellansec/castellan/internal/reasoning"
	"github.com/castellansec/castellan/internal/relevance"
	"github.com/castellansec/castellan/internal/retrieval"
	"github.com/rs/zerolog/log"
)

const (
	defaultQueueSize = 64
	searchLimit      = 10
	contextFindings  = 10
	maxErrMessageLen = 500
	quotaUserMessage = "The reasoning service quota is exhausted. Wait for the quota to reset or upgrade the plan, then resubmit."
	queueFullMessage = "analysis queue is full, resubmit later"
)

// repoRefPattern accepts owner/name references and https URLs.
var repoRefPattern = regexp.MustCompile(`^(https://[^\s]+|[\w.-]+/[\w.-]+)$`)

// ErrInvalidRepoRef is returned by Submit before any record is created.
var ErrInvalidRepoRef = errors.New("invalid repository reference")

// Controller owns the audit state machine. One background worker drains
// the queue; per job the pipeline is strictly sequential, and no two
// tasks ever update the same job except a recovery sweep against a
// presumed-dead worker.
type Controller struct {
	store     jobs.Store
	retriever retrieval.Retriever
	reasoner  reasoning.Client
	index     *relevance.Index

	queue chan string

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewController wires the controller with its collaborators.
func NewController(store jobs.Store, retriever retrieval.Retriever, reasoner reasoning.Client, index *relevance.Index) *Controller {
	return &Controller{
		store:     store,
		retriever: retriever,
		reasoner:  reasoner,
		index:     index,
		queue:     make(chan string, defaultQueueSize),
	}
}

// Start launches the queue worker.
func (c *Controller) Start(ctx context.Context) {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return
	}
	c.running = true
	c.stopCh = make(chan struct{})
	c.mu.Unlock()

	c.wg.Add(1)
	go c.workerLoop(ctx)
	log.Info().Msg("Audit controller started")
}

// Stop signals the worker to exit and waits for the in-flight job.
func (c *Controller) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	close(c.stopCh)
	c.mu.Unlock()

	c.wg.Wait()
	log.Info().Msg("Audit controller stopped")
}

func (c *Controller) workerLoop(ctx context.Context) {
	defer c.wg.Done()
	for {
		select {
		case <-c.stopCh:
			return
		case <-ctx.Done():
			return
		case id := <-c.queue:
			c.RunJob(ctx, id)
		}
	}
}

// Submit validates the reference, persists a pending record and hands
// the job to the worker. It returns as soon as the record is durable;
// the caller polls the job id for progress.
func (c *Controller) Submit(ctx context.Context, repoRef string) (models.JobRecord, error) {
	repoRef = strings.TrimSpace(repoRef)
	if repoRef == "" || !repoRefPattern.MatchString(repoRef) {
		return models.JobRecord{}, fmt.Errorf("%w: %q", ErrInvalidRepoRef, repoRef)
	}

	job := models.JobRecord{
		ID:        models.NewJobID(),
		RepoRef:   repoRef,
		Status:    models.StatusPending,
		Message:   "audit queued",
		Findings:  []models.Finding{},
		CreatedAt: time.Now().UTC(),
	}
	if err := c.store.Save(ctx, job); err != nil {
		return models.JobRecord{}, fmt.Errorf("persist new job: %w", err)
	}
	GetMetrics().RecordSubmitted()

	select {
	case c.queue <- job.ID:
	default:
		// Queue saturated. The record exists, so fail it rather than
		// leaving a pending job no worker will ever pick up.
		c.failJob(ctx, job.ID, "submit", queueFullMessage)
		return models.JobRecord{}, fmt.Errorf("analysis queue is full")
	}

	log.Info().Str("job_id", job.ID).Str("repo", repoRef).Msg("Audit job submitted")
	return job, nil
}

// RunJob executes the full pipeline for one job. The worker calls it
// asynchronously; tests call it directly and get the same behavior.
func (c *Controller) RunJob(ctx context.Context, id string) {
	job, err := c.store.Get(ctx, id)
	if err != nil {
		log.Error().Err(err).Str("job_id", id).Msg("Cannot load job for analysis")
		return
	}
	if job.Status != models.StatusPending {
		log.Warn().Str("job_id", id).Str("status", string(job.Status)).Msg("Skipping job not in pending state")
		return
	}

	// Stage 1: retrieval
	src, err := c.retriever.Fetch(ctx, job.RepoRef)
	if err != nil {
		c.failJob(ctx, id, "retrieval", boundMessage("source retrieval failed: "+err.Error()))
		return
	}

	files := make(map[string]string, len(src.Files))
	for _, f := range src.Files {
		files[f.Path] = f.Content
	}
	if err := c.updateStatus(ctx, id, models.StatusAnalyzing, jobs.Patch{
		Message: strPtr(fmt.Sprintf("source retrieved (%d files), analyzing", len(src.Files))),
		Files:   files,
	}); err != nil {
		// A terminal status here means a recovery sweep beat us to it.
		if errors.Is(err, jobs.ErrTerminal) {
			log.Warn().Str("job_id", id).Msg("Job already terminal before analysis, abandoning")
			return
		}
		c.failJob(ctx, id, "storage", boundMessage("failed to persist analysis state: "+err.Error()))
		return
	}

	// Stage 2: relevance context (in-memory, never fails the job)
	patterns := relevance.ExtractPatterns(src.Flattened)
	keywords := relevance.DeriveKeywords(src.Flattened, patterns)
	ranked := c.index.Search(keywords, patterns, searchLimit)
	histContext := relevance.BuildContext(ranked, contextFindings)

	log.Debug().
		Str("job_id", id).
		Strs("patterns", patterns).
		Int("context_findings", len(ranked)).
		Msg("Historical context assembled")

	// Stage 3: reasoning
	result, err := c.reasoner.Analyze(ctx, reasoning.Request{
		Source:            src.Flattened,
		Architecture:      summarizeArchitecture(src.Files),
		HistoricalContext: histContext,
	})
	if err != nil {
		if errors.Is(err, reasoning.ErrQuotaExceeded) {
			c.failJob(ctx, id, "reasoning", quotaUserMessage)
			return
		}
		c.failJob(ctx, id, "reasoning", boundMessage("analysis failed: "+err.Error()))
		return
	}

	// A recovery sweep may have failed the job while the provider call
	// was in flight. The store refuses transitions out of terminal
	// states; a late success is discarded, never resurrected.
	err = c.updateStatus(ctx, id, models.StatusCompleted, jobs.Patch{
		Message:  strPtr(fmt.Sprintf("analysis complete, %d findings", len(result.Findings))),
		Findings: result.Findings,
	})
	switch {
	case errors.Is(err, jobs.ErrTerminal):
		GetMetrics().RecordDiscarded()
		log.Warn().Str("job_id", id).Msg("Discarding late analysis result for terminal job")
	case err != nil:
		c.failJob(ctx, id, "storage", boundMessage("failed to persist findings: "+err.Error()))
	default:
		GetMetrics().RecordCompleted()
		log.Info().Str("job_id", id).Int("findings", len(result.Findings)).Msg("Audit job completed")
	}
}

func (c *Controller) updateStatus(ctx context.Context, id string, status models.Status, patch jobs.Patch) error {
	return c.store.UpdateStatus(ctx, id, status, patch)
}

// failJob is the last-resort transition: it must succeed for the job
// not to be stranded, so a write failure here is logged loudly and left
// to the recovery sweep.
func (c *Controller) failJob(ctx context.Context, id, stage, message string) {
	GetMetrics().RecordFailed(stage)
	err := c.updateStatus(ctx, id, models.StatusFailed, jobs.Patch{Message: strPtr(message)})
	if err != nil && !errors.Is(err, jobs.ErrTerminal) {
		log.Error().Err(err).Str("job_id", id).Str("stage", stage).Msg("Failed to record job failure")
		return
	}
	log.Info().Str("job_id", id).Str("stage", stage).Str("reason", message).Msg("Audit job failed")
}

// summarizeArchitecture produces the short architecture summary sent
// alongside the source: file count and paths, enough for the provider
// to orient itself without a second retrieval pass.
func summarizeArchitecture(files []retrieval.File) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d source files:\n", len(files))
	for _, f := range files {
		sb.WriteString("- " + f.Path + "\n")
	}
	return sb.String()
}

// boundMessage truncates error text before it is persisted so raw
// provider detail never reaches the client unbounded.
func boundMessage(msg string) string {
	if len(msg) > maxErrMessageLen {
		return msg[:maxErrMessageLen] + "..."
	}
	return msg
}

func strPtr(s string) *string { return &s }
