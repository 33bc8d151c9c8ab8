package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leadharvest/leadharvest/internal/discovery"
)

func newJob(id string, priority int, created time.Time) discovery.DiscoveryJob {
	return discovery.DiscoveryJob{
		ID:          id,
		City:        "Berlin",
		Industry:    "bakery",
		DatasetID:   "ds-1",
		Priority:    priority,
		MaxRetries:  3,
		CreatedAt:   created,
		ScheduledAt: created,
	}
}

func TestClaimOrderPriorityThenFIFO(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	q := New(nil)
	base := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, q.CreateJob(ctx, newJob("low-old", 1, base)))
	require.NoError(t, q.CreateJob(ctx, newJob("high-new", 5, base.Add(time.Hour))))
	require.NoError(t, q.CreateJob(ctx, newJob("high-old", 5, base.Add(time.Minute))))

	first, err := q.ClaimNextJob(ctx)
	require.NoError(t, err)
	assert.Equal(t, "high-old", first.ID)

	second, err := q.ClaimNextJob(ctx)
	require.NoError(t, err)
	assert.Equal(t, "high-new", second.ID)

	third, err := q.ClaimNextJob(ctx)
	require.NoError(t, err)
	assert.Equal(t, "low-old", third.ID)

	_, err = q.ClaimNextJob(ctx)
	require.ErrorIs(t, err, discovery.ErrNoJob)
}

func TestClaimSkipsFutureScheduledJobs(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	q := New(nil)

	job := newJob("later", 1, time.Now().UTC())
	job.ScheduledAt = time.Now().UTC().Add(time.Hour)
	require.NoError(t, q.CreateJob(ctx, job))

	_, err := q.ClaimNextJob(ctx)
	require.ErrorIs(t, err, discovery.ErrNoJob)
}

func TestClaimExclusivityUnderConcurrency(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	q := New(nil)
	require.NoError(t, q.CreateJob(ctx, newJob("only", 1, time.Now().UTC())))

	const claimers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		claimed []string
		noJob   int
	)
	for i := 0; i < claimers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			job, err := q.ClaimNextJob(ctx)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				noJob++
				return
			}
			claimed = append(claimed, job.ID)
		}()
	}
	wg.Wait()

	assert.Len(t, claimed, 1)
	assert.Equal(t, claimers-1, noJob)
}

func TestFailJobRetryBudget(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	q := New(nil)
	require.NoError(t, q.CreateJob(ctx, newJob("flaky", 1, time.Now().UTC())))

	// A job with max_retries=3 that fails 3 times ends terminally failed.
	for i := 0; i < 3; i++ {
		job, err := q.ClaimNextJob(ctx)
		require.NoError(t, err, "claim %d", i+1)
		require.NoError(t, q.FailJob(ctx, job.ID, "upstream 503", true))
	}

	job, err := q.GetJob(ctx, "flaky")
	require.NoError(t, err)
	assert.Equal(t, discovery.JobStatusFailed, job.Status)
	assert.Equal(t, 3, job.RetryCount)
	assert.Equal(t, "upstream 503", job.LastError)

	_, err = q.ClaimNextJob(ctx)
	require.ErrorIs(t, err, discovery.ErrNoJob)
}

func TestFailJobNonRetryableIsTerminal(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	q := New(nil)
	require.NoError(t, q.CreateJob(ctx, newJob("doomed", 1, time.Now().UTC())))

	job, err := q.ClaimNextJob(ctx)
	require.NoError(t, err)
	require.NoError(t, q.FailJob(ctx, job.ID, "blocked by challenge wall", false))

	got, err := q.GetJob(ctx, "doomed")
	require.NoError(t, err)
	assert.Equal(t, discovery.JobStatusFailed, got.Status)
	assert.Equal(t, 1, got.RetryCount)
}

func TestCompleteJobLifecycle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	q := New(nil)
	require.NoError(t, q.CreateJob(ctx, newJob("good", 1, time.Now().UTC())))

	job, err := q.ClaimNextJob(ctx)
	require.NoError(t, err)
	require.NotNil(t, job.StartedAt)

	require.NoError(t, q.ReportProgress(ctx, job.ID, discovery.JobCounters{PagesProcessed: 3}))
	require.NoError(t, q.ReportProgress(ctx, job.ID, discovery.JobCounters{PagesProcessed: 2, BusinessesProcessed: 12}))

	mid, err := q.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, mid.Counters.PagesProcessed)
	assert.Equal(t, discovery.JobStatusRunning, mid.Status)

	final := discovery.JobCounters{KeywordsProcessed: 1, PagesProcessed: 5, BusinessesProcessed: 12}
	require.NoError(t, q.CompleteJob(ctx, job.ID, final))

	done, err := q.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, discovery.JobStatusCompleted, done.Status)
	assert.NotNil(t, done.CompletedAt)
	assert.Equal(t, final, done.Counters)
}

func TestCancelJobOnlyFromPendingOrRunning(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	q := New(nil)
	require.NoError(t, q.CreateJob(ctx, newJob("victim", 1, time.Now().UTC())))

	require.NoError(t, q.CancelJob(ctx, "victim"))

	got, err := q.GetJob(ctx, "victim")
	require.NoError(t, err)
	assert.Equal(t, discovery.JobStatusCancelled, got.Status)

	// Terminal states reject further transitions.
	require.ErrorIs(t, q.CancelJob(ctx, "victim"), discovery.ErrInvalidTransition)
	require.ErrorIs(t, q.CompleteJob(ctx, "victim", discovery.JobCounters{}), discovery.ErrInvalidTransition)
	require.ErrorIs(t, q.FailJob(ctx, "victim", "late", true), discovery.ErrInvalidTransition)
}
