// Package worker runs the bounded-concurrency consumer side of the
// pipeline: it pulls jobs from the queue, dispatches by kind, and
// translates handler outcomes into queue state transitions.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"file-processing-pipeline/internal/events"
	"file-processing-pipeline/internal/jobs"
	"file-processing-pipeline/internal/queue"
	"file-processing-pipeline/internal/telemetry"
)

// Handler executes one job kind.
type Handler interface {
	Handle(ctx context.Context, job jobs.Job) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, job jobs.Job) error

func (f HandlerFunc) Handle(ctx context.Context, job jobs.Job) error {
	return f(ctx, job)
}

// Handlers binds each job kind to its handler. One field per kind, so
// adding a kind without wiring a handler fails at the dispatch switch
// rather than at runtime.
type Handlers struct {
	Thumbnail Handler
	Metadata  Handler
	Analysis  Handler
}

// Options tune the pool.
type Options struct {
	Concurrency      int
	PollInterval     time.Duration
	MaintainInterval time.Duration
}

// Pool drives N concurrent execution slots over a shared queue.
type Pool struct {
	queue    queue.Queue
	handlers Handlers
	opts     Options
	log      zerolog.Logger
	events   *events.Publisher
}

// New constructs a pool. A nil events publisher disables lifecycle
// notifications.
func New(q queue.Queue, handlers Handlers, opts Options, log zerolog.Logger, pub *events.Publisher) *Pool {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 5
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 250 * time.Millisecond
	}
	if opts.MaintainInterval <= 0 {
		opts.MaintainInterval = time.Second
	}
	return &Pool{
		queue:    q,
		handlers: handlers,
		opts:     opts,
		log:      log,
		events:   pub,
	}
}

// Run blocks until the context is cancelled. Each slot processes one
// job at a time; at most Concurrency jobs are active across the pool.
func (p *Pool) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return p.maintainLoop(ctx)
	})
	for i := 0; i < p.opts.Concurrency; i++ {
		g.Go(func() error {
			return p.workerLoop(ctx)
		})
	}
	return g.Wait()
}

func (p *Pool) workerLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		job, err := p.queue.Dequeue(ctx)
		if err != nil {
			p.log.Error().Err(err).Msg("dequeue failed")
			p.sleep(ctx, p.opts.PollInterval)
			continue
		}
		if job == nil {
			p.sleep(ctx, p.opts.PollInterval)
			continue
		}

		p.process(ctx, *job)
	}
}

func (p *Pool) maintainLoop(ctx context.Context) error {
	ticker := time.NewTicker(p.opts.MaintainInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		if err := p.queue.Maintain(ctx, time.Now()); err != nil {
			p.log.Error().Err(err).Msg("queue maintenance failed")
		}
		if counts, err := p.queue.Counts(ctx); err == nil {
			telemetry.QueueDepth.Set(float64(counts.Waiting))
		}
	}
}

// process runs one job to completion and settles it. Errors are local
// to the job; nothing a handler does may take down the pool.
func (p *Pool) process(ctx context.Context, job jobs.Job) {
	telemetry.ActiveJobs.Inc()
	defer telemetry.ActiveJobs.Dec()

	start := time.Now()
	err := p.dispatch(ctx, job)
	telemetry.HandlerDuration.WithLabelValues(string(job.Kind)).Observe(time.Since(start).Seconds())

	if err == nil {
		if ackErr := p.queue.Ack(ctx, job.ID); ackErr != nil {
			p.log.Error().Err(ackErr).Str("job_id", job.ID).Msg("ack failed")
			return
		}
		telemetry.JobsCompleted.WithLabelValues(string(job.Kind)).Inc()
		p.emit(job, events.StageCompleted, "")
		return
	}

	p.log.Warn().Err(err).
		Str("job_id", job.ID).
		Str("kind", string(job.Kind)).
		Int("attempts_made", job.AttemptsMade+1).
		Int("attempts_allowed", job.AttemptsAllowed).
		Msg("job attempt failed")

	if failErr := p.queue.FailWithRetry(ctx, job.ID, err.Error()); failErr != nil {
		p.log.Error().Err(failErr).Str("job_id", job.ID).Msg("fail transition failed")
		return
	}

	if job.AttemptsMade+1 >= job.AttemptsAllowed {
		telemetry.JobsFailed.WithLabelValues(string(job.Kind)).Inc()
		p.emit(job, events.StageFailed, err.Error())
	} else {
		telemetry.JobsRetried.WithLabelValues(string(job.Kind)).Inc()
	}
}

// dispatch routes the job to its handler. The switch is exhaustive over
// jobs.Kind; anything else is a deployment mismatch that no retry can
// fix, so it is logged and discarded.
func (p *Pool) dispatch(ctx context.Context, job jobs.Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()

	switch job.Kind {
	case jobs.KindGenerateThumbnail:
		return p.handlers.Thumbnail.Handle(ctx, job)
	case jobs.KindExtractMetadata:
		return p.handlers.Metadata.Handle(ctx, job)
	case jobs.KindAnalyzeImage:
		return p.handlers.Analysis.Handle(ctx, job)
	default:
		p.log.Warn().Str("job_id", job.ID).Str("kind", string(job.Kind)).Msg("unknown job kind, discarding")
		telemetry.JobsDiscarded.Inc()
		return nil
	}
}

func (p *Pool) emit(job jobs.Job, stage, errMsg string) {
	ev := events.JobLifecycleEvent{
		JobID:        job.ID,
		Kind:         string(job.Kind),
		FileID:       fileIDFromPayload(job.Payload),
		Stage:        stage,
		Error:        errMsg,
		AttemptsMade: job.AttemptsMade,
		FinishedAt:   time.Now().UnixMilli(),
	}
	if err := p.events.Publish(ev); err != nil {
		p.log.Debug().Err(err).Str("job_id", job.ID).Msg("lifecycle event publish failed")
	}
}

func fileIDFromPayload(raw json.RawMessage) string {
	var probe struct {
		FileID string `json:"file_id"`
	}
	_ = json.Unmarshal(raw, &probe)
	return probe.FileID
}

func (p *Pool) sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
