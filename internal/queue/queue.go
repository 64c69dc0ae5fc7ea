package queue

import (
	"context"
	"errors"
	"time"

	"file-processing-pipeline/internal/jobs"
)

// ErrJobNotFound is returned for operations on unknown or ineligible job IDs.
var ErrJobNotFound = errors.New("queue: job not found")

// Queue is a durable, ordered, at-least-once channel of jobs. Producers
// enqueue, workers dequeue and settle with Ack or FailWithRetry. The
// Redis implementation backs production; tests inject fakes.
type Queue interface {
	// Enqueue durably records a job and returns its ID. It must not
	// block beyond the time needed to persist the job.
	Enqueue(ctx context.Context, kind jobs.Kind, payload any, policy jobs.RetryPolicy) (string, error)

	// Dequeue claims the next eligible job under a visibility lease.
	// Returns (nil, nil) when no job is ready.
	Dequeue(ctx context.Context) (*jobs.Job, error)

	// Ack marks a claimed job completed.
	Ack(ctx context.Context, jobID string) error

	// FailWithRetry records a failed attempt. If attempts remain the job
	// is rescheduled after its backoff delay, otherwise it is moved to
	// the failed state with the given reason retained for inspection.
	FailWithRetry(ctx context.Context, jobID, reason string) error

	// Counts returns the per-state totals for the queue snapshot.
	Counts(ctx context.Context) (jobs.Counts, error)

	// JobsByState pages through jobs in one state. Completed and failed
	// come back most-recent-first, waiting and active in insertion order.
	JobsByState(ctx context.Context, state jobs.State, offset, limit int64) ([]jobs.Job, error)

	// Retry moves a failed job back to waiting without touching its
	// payload or attempt counter. ErrJobNotFound if the ID is unknown or
	// the job is not in the failed state.
	Retry(ctx context.Context, jobID string) error

	// Maintain promotes due delayed jobs and reclaims expired leases.
	// Called periodically by the worker pool.
	Maintain(ctx context.Context, now time.Time) error
}
