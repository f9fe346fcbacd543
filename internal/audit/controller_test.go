package audit

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/castellansec/castellan/internal/corpus"
	"github.com/castellansec/castellan/internal/jobs"
	"github.com/castellansec/castellan/internal/models"
	"github.com/castellansec/castellan/internal/reasoning"
	"github.com/castellansec/castellan/internal/relevance"
	"github.com/castellansec/castellan/internal/retrieval"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRetriever struct {
	result retrieval.Result
	err    error
}

func (f fakeRetriever) Fetch(ctx context.Context, repoRef string) (retrieval.Result, error) {
	return f.result, f.err
}

type fakeReasoner struct {
	fn func(ctx context.Context, req reasoning.Request) (reasoning.Result, error)
}

func (f fakeReasoner) Analyze(ctx context.Context, req reasoning.Request) (reasoning.Result, error) {
	return f.fn(ctx, req)
}

func emptyIndex(t *testing.T) *relevance.Index {
	t.Helper()
	store := corpus.NewStore(t.TempDir())
	require.NoError(t, store.Load())
	return relevance.NewIndex(store)
}

func newTestController(t *testing.T, retriever retrieval.Retriever, reasoner reasoning.Client) (*Controller, jobs.Store) {
	t.Helper()
	store, err := jobs.NewFileStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return NewController(store, retriever, reasoner, emptyIndex(t)), store
}

var okRetrieval = retrieval.Result{
	Flattened: "// File: Vault.sol\ncontract Vault { function w() external { msg.sender.call{value: 1}(\"\"); } }",
	Files:     []retrieval.File{{Path: "Vault.sol", Content: "contract Vault {}"}},
}

func okReasoner(findings ...models.Finding) fakeReasoner {
	return fakeReasoner{fn: func(ctx context.Context, req reasoning.Request) (reasoning.Result, error) {
		return reasoning.Result{Findings: findings}, nil
	}}
}

func TestSubmitCreatesPendingJob(t *testing.T) {
	c, store := newTestController(t, fakeRetriever{result: okRetrieval}, okReasoner())
	ctx := context.Background()

	job, err := c.Submit(ctx, "acme/vault")
	require.NoError(t, err)
	assert.NotEmpty(t, job.ID)
	assert.Equal(t, models.StatusPending, job.Status)

	// The record is durable and readable immediately after Submit
	got, err := store.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, got.Status)
	assert.Equal(t, "acme/vault", got.RepoRef)
	assert.WithinDuration(t, time.Now(), got.CreatedAt, 5*time.Second)
}

func TestSubmitGeneratesUniqueIDs(t *testing.T) {
	c, _ := newTestController(t, fakeRetriever{result: okRetrieval}, okReasoner())
	seen := make(map[string]bool)
	for i := 0; i < 20; i++ {
		job, err := c.Submit(context.Background(), "acme/vault")
		require.NoError(t, err)
		assert.False(t, seen[job.ID])
		seen[job.ID] = true
	}
}

func TestSubmitRejectsInvalidRef(t *testing.T) {
	c, store := newTestController(t, fakeRetriever{result: okRetrieval}, okReasoner())

	for _, ref := range []string{"", "   ", "no spaces allowed here", "just-a-name"} {
		_, err := c.Submit(context.Background(), ref)
		assert.ErrorIs(t, err, ErrInvalidRepoRef, "ref %q", ref)
	}

	// Validation failures never create records
	all, err := store.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestSubmitAcceptsURLAndOwnerName(t *testing.T) {
	c, _ := newTestController(t, fakeRetriever{result: okRetrieval}, okReasoner())
	for _, ref := range []string{"acme/vault", "https://github.com/acme/vault"} {
		_, err := c.Submit(context.Background(), ref)
		assert.NoError(t, err, "ref %q", ref)
	}
}

func TestRunJobCompletes(t *testing.T) {
	finding := models.Finding{ID: "finding-1", Severity: "high", Title: "Unchecked call"}
	c, store := newTestController(t, fakeRetriever{result: okRetrieval}, okReasoner(finding))
	ctx := context.Background()

	job, err := c.Submit(ctx, "acme/vault")
	require.NoError(t, err)
	c.RunJob(ctx, job.ID)

	got, err := store.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, got.Status)
	require.Len(t, got.Findings, 1)
	assert.Equal(t, "Unchecked call", got.Findings[0].Title)
	assert.Equal(t, "contract Vault {}", got.Files["Vault.sol"])
	assert.Contains(t, got.Message, "1 findings")
}

func TestRunJobRetrievalFailure(t *testing.T) {
	c, store := newTestController(t, fakeRetriever{err: errors.New("repository unreachable")}, okReasoner())
	ctx := context.Background()

	job, err := c.Submit(ctx, "acme/vault")
	require.NoError(t, err)
	c.RunJob(ctx, job.ID)

	got, err := store.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, got.Status)
	assert.Contains(t, got.Message, "repository unreachable")
}

func TestRunJobReasoningFailureIsBounded(t *testing.T) {
	hugeErr := errors.New(strings.Repeat("internal stack detail ", 200))
	c, store := newTestController(t, fakeRetriever{result: okRetrieval}, fakeReasoner{
		fn: func(ctx context.Context, req reasoning.Request) (reasoning.Result, error) {
			return reasoning.Result{}, hugeErr
		},
	})
	ctx := context.Background()

	job, err := c.Submit(ctx, "acme/vault")
	require.NoError(t, err)
	c.RunJob(ctx, job.ID)

	got, err := store.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, got.Status)
	assert.LessOrEqual(t, len(got.Message), maxErrMessageLen+len("..."))
}

func TestRunJobQuotaFailure(t *testing.T) {
	c, store := newTestController(t, fakeRetriever{result: okRetrieval}, fakeReasoner{
		fn: func(ctx context.Context, req reasoning.Request) (reasoning.Result, error) {
			return reasoning.Result{}, reasoning.ErrQuotaExceeded
		},
	})
	ctx := context.Background()

	job, err := c.Submit(ctx, "acme/vault")
	require.NoError(t, err)
	c.RunJob(ctx, job.ID)

	got, err := store.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, got.Status)
	assert.Contains(t, got.Message, "quota")
	assert.Contains(t, got.Message, "upgrade")
}

func TestRunJobLateResultIsDiscarded(t *testing.T) {
	var store jobs.Store
	// The reasoner simulates a recovery sweep firing while the provider
	// call is in flight: the job goes terminal underneath the pipeline.
	reasoner := fakeReasoner{fn: func(ctx context.Context, req reasoning.Request) (reasoning.Result, error) {
		msg := "analysis timed out after 20 minutes"
		if err := store.UpdateStatus(ctx, currentJobID(ctx), models.StatusFailed, jobs.Patch{Message: &msg}); err != nil {
			return reasoning.Result{}, err
		}
		return reasoning.Result{Findings: []models.Finding{{ID: "finding-1", Severity: "low", Title: "late"}}}, nil
	}}

	c, s := newTestController(t, fakeRetriever{result: okRetrieval}, reasoner)
	store = s
	ctx := context.Background()

	job, err := c.Submit(ctx, "acme/vault")
	require.NoError(t, err)
	c.RunJob(withJobID(ctx, job.ID), job.ID)

	got, err := store.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, got.Status)
	assert.Contains(t, got.Message, "timed out")
	assert.Empty(t, got.Findings)
}

func TestRunJobSkipsNonPending(t *testing.T) {
	c, store := newTestController(t, fakeRetriever{result: okRetrieval}, okReasoner())
	ctx := context.Background()

	job, err := c.Submit(ctx, "acme/vault")
	require.NoError(t, err)
	msg := "done"
	require.NoError(t, store.UpdateStatus(ctx, job.ID, models.StatusCompleted, jobs.Patch{Message: &msg}))

	c.RunJob(ctx, job.ID)

	got, err := store.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, got.Status)
	assert.Equal(t, "done", got.Message)
}

func TestWorkerDrainsQueue(t *testing.T) {
	finding := models.Finding{ID: "finding-1", Severity: "medium", Title: "x"}
	c, store := newTestController(t, fakeRetriever{result: okRetrieval}, okReasoner(finding))
	ctx := context.Background()

	c.Start(ctx)
	defer c.Stop()

	job, err := c.Submit(ctx, "acme/vault")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		got, err := store.Get(ctx, job.ID)
		return err == nil && got.Status == models.StatusCompleted
	}, 5*time.Second, 10*time.Millisecond)
}

type jobIDKey struct{}

func withJobID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, jobIDKey{}, id)
}

func currentJobID(ctx context.Context) string {
	id, _ := ctx.Value(jobIDKey{}).(string)
	return id
}
