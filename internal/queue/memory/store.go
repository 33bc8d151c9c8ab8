// Package memory provides an in-memory job queue for development/testing.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/leadharvest/leadharvest/internal/discovery"
	"github.com/leadharvest/leadharvest/internal/telemetry"
)

// Queue implements discovery.JobQueue with a mutex-guarded map. The mutex
// plays the role Postgres row locking plays in production: claim is atomic, so
// two concurrent claimers never receive the same job.
type Queue struct {
	mu    sync.Mutex
	jobs  map[string]discovery.DiscoveryJob
	clock discovery.Clock
}

// New constructs an empty Queue.
func New(clock discovery.Clock) *Queue {
	if clock == nil {
		clock = realClock{}
	}
	return &Queue{
		jobs:  make(map[string]discovery.DiscoveryJob),
		clock: clock,
	}
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now().UTC() }

// CreateJob stores a new pending job.
func (q *Queue) CreateJob(_ context.Context, job discovery.DiscoveryJob) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, exists := q.jobs[job.ID]; exists {
		return discovery.ErrInvalidTransition
	}
	job.Status = discovery.JobStatusPending
	if job.CreatedAt.IsZero() {
		job.CreatedAt = q.clock.Now()
	}
	if job.ScheduledAt.IsZero() {
		job.ScheduledAt = job.CreatedAt
	}
	q.jobs[job.ID] = job
	return nil
}

// ClaimNextJob picks the highest-priority, oldest eligible pending job and
// transitions it to running.
func (q *Queue) ClaimNextJob(_ context.Context) (discovery.DiscoveryJob, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.clock.Now()
	var eligible []discovery.DiscoveryJob
	for _, job := range q.jobs {
		if job.Status == discovery.JobStatusPending && !job.ScheduledAt.After(now) {
			eligible = append(eligible, job)
		}
	}
	if len(eligible) == 0 {
		return discovery.DiscoveryJob{}, discovery.ErrNoJob
	}
	sort.Slice(eligible, func(i, j int) bool {
		if eligible[i].Priority != eligible[j].Priority {
			return eligible[i].Priority > eligible[j].Priority
		}
		if !eligible[i].CreatedAt.Equal(eligible[j].CreatedAt) {
			return eligible[i].CreatedAt.Before(eligible[j].CreatedAt)
		}
		// UUID7 ids sort by creation time, so this keeps ties FIFO.
		return eligible[i].ID < eligible[j].ID
	})

	job := eligible[0]
	job.Status = discovery.JobStatusRunning
	started := now
	job.StartedAt = &started
	q.jobs[job.ID] = job
	telemetry.CountJobEvent("claimed")
	return job, nil
}

// ReportProgress adds counter deltas without touching status.
func (q *Queue) ReportProgress(_ context.Context, jobID string, delta discovery.JobCounters) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.jobs[jobID]
	if !ok {
		return discovery.ErrJobNotFound
	}
	job.Counters = job.Counters.Add(delta)
	q.jobs[jobID] = job
	return nil
}

// CompleteJob transitions running -> completed.
func (q *Queue) CompleteJob(_ context.Context, jobID string, final discovery.JobCounters) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.jobs[jobID]
	if !ok {
		return discovery.ErrJobNotFound
	}
	if job.Status != discovery.JobStatusRunning {
		return discovery.ErrInvalidTransition
	}
	job.Status = discovery.JobStatusCompleted
	job.Counters = final
	done := q.clock.Now()
	job.CompletedAt = &done
	q.jobs[jobID] = job
	telemetry.CountJobEvent("completed")
	return nil
}

// FailJob applies the retry-with-budget policy.
func (q *Queue) FailJob(_ context.Context, jobID, reason string, retryable bool) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.jobs[jobID]
	if !ok {
		return discovery.ErrJobNotFound
	}
	if job.Status != discovery.JobStatusRunning {
		return discovery.ErrInvalidTransition
	}
	job.RetryCount++
	job.LastError = reason
	if retryable && job.RetryCount < job.MaxRetries {
		job.Status = discovery.JobStatusPending
		job.StartedAt = nil
	} else {
		job.Status = discovery.JobStatusFailed
		done := q.clock.Now()
		job.CompletedAt = &done
	}
	q.jobs[jobID] = job
	telemetry.CountJobEvent("failed")
	return nil
}

// CancelJob transitions pending or running -> cancelled.
func (q *Queue) CancelJob(_ context.Context, jobID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.jobs[jobID]
	if !ok {
		return discovery.ErrJobNotFound
	}
	if job.Status != discovery.JobStatusPending && job.Status != discovery.JobStatusRunning {
		return discovery.ErrInvalidTransition
	}
	job.Status = discovery.JobStatusCancelled
	done := q.clock.Now()
	job.CompletedAt = &done
	q.jobs[jobID] = job
	telemetry.CountJobEvent("cancelled")
	return nil
}

// GetJob fetches a job by id.
func (q *Queue) GetJob(_ context.Context, jobID string) (discovery.DiscoveryJob, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.jobs[jobID]
	if !ok {
		return discovery.DiscoveryJob{}, discovery.ErrJobNotFound
	}
	return job, nil
}
