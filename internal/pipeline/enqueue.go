package pipeline

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"file-processing-pipeline/internal/config"
	"file-processing-pipeline/internal/jobs"
	"file-processing-pipeline/internal/queue"
	"file-processing-pipeline/internal/telemetry"
)

// PolicyFunc resolves the retry policy for a job kind.
type PolicyFunc func(jobs.Kind) jobs.RetryPolicy

// Pipeline is the enqueue surface the upload path calls after a file
// lands in blob storage. Each method applies the retry policy for its
// job kind so callers never choose attempt budgets themselves.
type Pipeline struct {
	queue    queue.Queue
	log      zerolog.Logger
	policies PolicyFunc
}

func New(q queue.Queue, log zerolog.Logger) *Pipeline {
	return &Pipeline{queue: q, log: log, policies: jobs.DefaultPolicy}
}

// FromConfig builds a Pipeline whose retry budgets come from the
// environment-level settings. This is the constructor the upload path
// uses; New with built-in defaults exists for tests and embedding.
func FromConfig(q queue.Queue, cfg config.Config, log zerolog.Logger) *Pipeline {
	p := New(q, log)
	p.UsePolicies(PoliciesFromConfig(cfg))
	return p
}

// UsePolicies replaces the per-kind retry policy source, for deployments
// that tune attempt budgets through the environment.
func (p *Pipeline) UsePolicies(fn PolicyFunc) {
	if fn != nil {
		p.policies = fn
	}
}

// PoliciesFromConfig layers the configured attempt budgets and backoff
// delays over the built-in per-kind defaults. Zero values leave the
// default in place.
func PoliciesFromConfig(cfg config.Config) PolicyFunc {
	return func(kind jobs.Kind) jobs.RetryPolicy {
		p := jobs.DefaultPolicy(kind)
		switch kind {
		case jobs.KindGenerateThumbnail:
			p = overridePolicy(p, cfg.ThumbnailAttempts, cfg.ThumbnailBackoff)
		case jobs.KindExtractMetadata:
			p = overridePolicy(p, cfg.MetadataAttempts, cfg.MetadataBackoff)
		case jobs.KindAnalyzeImage:
			p = overridePolicy(p, cfg.AnalysisAttempts, cfg.AnalysisBackoff)
		}
		if cfg.BackoffMax > 0 {
			p.BackoffMax = cfg.BackoffMax
		}
		return p
	}
}

func overridePolicy(p jobs.RetryPolicy, attempts int, backoff time.Duration) jobs.RetryPolicy {
	if attempts > 0 {
		p.AttemptsAllowed = attempts
	}
	if backoff > 0 {
		p.BackoffBase = backoff
	}
	return p
}

// EnqueueThumbnailJob schedules preview generation for an uploaded file.
func (p *Pipeline) EnqueueThumbnailJob(ctx context.Context, payload jobs.ThumbnailPayload) (string, error) {
	return p.enqueue(ctx, jobs.KindGenerateThumbnail, payload, payload.FileID)
}

// EnqueueMetadataJob schedules dimension and duration extraction.
func (p *Pipeline) EnqueueMetadataJob(ctx context.Context, payload jobs.MetadataPayload) (string, error) {
	return p.enqueue(ctx, jobs.KindExtractMetadata, payload, payload.FileID)
}

// EnqueueImageAnalysisJob schedules tagging through the analysis service.
func (p *Pipeline) EnqueueImageAnalysisJob(ctx context.Context, payload jobs.AnalysisPayload) (string, error) {
	return p.enqueue(ctx, jobs.KindAnalyzeImage, payload, payload.FileID)
}

func (p *Pipeline) enqueue(ctx context.Context, kind jobs.Kind, payload any, fileID string) (string, error) {
	jobID, err := p.queue.Enqueue(ctx, kind, payload, p.policies(kind))
	if err != nil {
		p.log.Error().Err(err).Str("kind", string(kind)).Str("file_id", fileID).Msg("enqueue failed")
		return "", err
	}
	telemetry.JobsEnqueued.WithLabelValues(string(kind)).Inc()
	p.log.Debug().Str("kind", string(kind)).Str("file_id", fileID).Str("job_id", jobID).Msg("job enqueued")
	return jobID, nil
}
