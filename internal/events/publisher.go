// Package events publishes job lifecycle notifications over NATS for
// downstream observers. Publishing is strictly best-effort and never
// affects job control flow.
package events

import (
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"
)

// Lifecycle stages emitted by the worker pool.
const (
	StageCompleted = "completed"
	StageFailed    = "failed"
)

// JobLifecycleEvent describes a settled job.
type JobLifecycleEvent struct {
	JobID        string `json:"job_id"`
	Kind         string `json:"kind"`
	FileID       string `json:"file_id,omitempty"`
	Stage        string `json:"stage"`
	Error        string `json:"error,omitempty"`
	AttemptsMade int    `json:"attempts_made"`
	FinishedAt   int64  `json:"finished_at"`
}

// Publisher wraps a NATS connection. A nil *Publisher is a valid no-op,
// so callers never need to branch on whether events are configured.
type Publisher struct {
	nc *nats.Conn
}

// Connect dials NATS with retry settings suited to a long-lived worker.
func Connect(url string) (*Publisher, error) {
	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.Timeout(5*time.Second),
	)
	if err != nil {
		return nil, err
	}
	return &Publisher{nc: nc}, nil
}

// Close drains the connection.
func (p *Publisher) Close() {
	if p == nil || p.nc == nil {
		return
	}
	_ = p.nc.Drain()
}

// Publish sends the event on pipeline.jobs.<stage>.
func (p *Publisher) Publish(ev JobLifecycleEvent) error {
	if p == nil || p.nc == nil {
		return nil
	}
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return p.nc.Publish("pipeline.jobs."+ev.Stage, b)
}
