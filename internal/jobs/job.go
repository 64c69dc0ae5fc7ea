package jobs

import (
	"encoding/json"
	"time"
)

// Kind identifies which processing handler a job is dispatched to.
type Kind string

const (
	KindGenerateThumbnail Kind = "thumbnail.generate"
	KindExtractMetadata   Kind = "metadata.extract"
	KindAnalyzeImage      Kind = "image.analyze"
)

// State enumerates job lifecycle states tracked by the queue.
type State string

const (
	StateWaiting   State = "waiting"
	StateActive    State = "active"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateDelayed   State = "delayed"
)

// States lists every state in a stable order, for snapshots and validation.
var States = []State{StateWaiting, StateActive, StateCompleted, StateFailed, StateDelayed}

// Job is a unit of deferred work held by the queue.
type Job struct {
	ID              string          `json:"id"`
	Kind            Kind            `json:"kind"`
	Payload         json.RawMessage `json:"payload"`
	AttemptsMade    int             `json:"attempts_made"`
	AttemptsAllowed int             `json:"attempts_allowed"`
	BackoffBase     time.Duration   `json:"backoff_base"`
	BackoffMax      time.Duration   `json:"backoff_max"`
	CreatedAt       time.Time       `json:"created_at"`
	ProcessedOn     *time.Time      `json:"processed_on,omitempty"`
	FinishedOn      *time.Time      `json:"finished_on,omitempty"`
	FailedReason    string          `json:"failed_reason,omitempty"`
}

// Policy returns the retry policy the job was enqueued with.
func (j *Job) Policy() RetryPolicy {
	return RetryPolicy{
		AttemptsAllowed: j.AttemptsAllowed,
		BackoffBase:     j.BackoffBase,
		BackoffMax:      j.BackoffMax,
	}
}

// ThumbnailPayload is the payload for thumbnail.generate jobs.
type ThumbnailPayload struct {
	FileID       string `json:"file_id"`
	UserID       string `json:"user_id"`
	StoragePath  string `json:"storage_path"`
	MimeType     string `json:"mime_type"`
	OriginalName string `json:"original_name"`
}

// MetadataPayload is the payload for metadata.extract jobs.
type MetadataPayload struct {
	FileID      string `json:"file_id"`
	UserID      string `json:"user_id"`
	StoragePath string `json:"storage_path"`
	MimeType    string `json:"mime_type"`
}

// AnalysisPayload is the payload for image.analyze jobs.
type AnalysisPayload struct {
	FileID      string `json:"file_id"`
	UserID      string `json:"user_id"`
	StoragePath string `json:"storage_path"`
}

// Counts is the per-state queue snapshot used by the operator API.
type Counts struct {
	Waiting   int64 `json:"waiting"`
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Delayed   int64 `json:"delayed"`
}

// Total sums all states.
func (c Counts) Total() int64 {
	return c.Waiting + c.Active + c.Completed + c.Failed + c.Delayed
}

// Health thresholds for the queue snapshot.
const (
	HealthUnhealthyFailed = 10
	HealthBusyActive      = 50
)

// Health classifies the snapshot for operator dashboards.
func (c Counts) Health() string {
	switch {
	case c.Failed > HealthUnhealthyFailed:
		return "unhealthy"
	case c.Active > HealthBusyActive:
		return "busy"
	default:
		return "healthy"
	}
}
