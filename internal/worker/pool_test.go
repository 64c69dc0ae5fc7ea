package worker

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"file-processing-pipeline/internal/jobs"
)

// fakeQueue is an in-memory queue.Queue for pool tests.
type fakeQueue struct {
	mu      sync.Mutex
	waiting []jobs.Job
	acked   []string
	failed  map[string]string
}

func newFakeQueue(pending ...jobs.Job) *fakeQueue {
	return &fakeQueue{waiting: pending, failed: map[string]string{}}
}

func (f *fakeQueue) Enqueue(_ context.Context, kind jobs.Kind, payload any, policy jobs.RetryPolicy) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	id := string(kind) + "-" + time.Now().Format("150405.000000000")
	f.waiting = append(f.waiting, jobs.Job{
		ID:              id,
		Kind:            kind,
		Payload:         raw,
		AttemptsAllowed: policy.AttemptsAllowed,
		BackoffBase:     policy.BackoffBase,
	})
	return id, nil
}

func (f *fakeQueue) Dequeue(context.Context) (*jobs.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.waiting) == 0 {
		return nil, nil
	}
	job := f.waiting[0]
	f.waiting = f.waiting[1:]
	return &job, nil
}

func (f *fakeQueue) Ack(_ context.Context, jobID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acked = append(f.acked, jobID)
	return nil
}

func (f *fakeQueue) FailWithRetry(_ context.Context, jobID, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed[jobID] = reason
	return nil
}

func (f *fakeQueue) Counts(context.Context) (jobs.Counts, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return jobs.Counts{Waiting: int64(len(f.waiting))}, nil
}

func (f *fakeQueue) JobsByState(context.Context, jobs.State, int64, int64) ([]jobs.Job, error) {
	return nil, nil
}

func (f *fakeQueue) Retry(context.Context, string) error { return nil }

func (f *fakeQueue) Maintain(context.Context, time.Time) error { return nil }

func (f *fakeQueue) ackedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.acked)
}

func (f *fakeQueue) failedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.failed)
}

func thumbnailJob(id string) jobs.Job {
	raw, _ := json.Marshal(jobs.ThumbnailPayload{FileID: "f-" + id, StoragePath: "u1/" + id + ".jpg", MimeType: "image/jpeg"})
	return jobs.Job{ID: id, Kind: jobs.KindGenerateThumbnail, Payload: raw, AttemptsAllowed: 3, BackoffBase: time.Second}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestPoolConcurrencyBound(t *testing.T) {
	var pending []jobs.Job
	for i := 0; i < 20; i++ {
		pending = append(pending, thumbnailJob(string(rune('a'+i))))
	}
	q := newFakeQueue(pending...)

	var active, maxActive int64
	handler := HandlerFunc(func(ctx context.Context, job jobs.Job) error {
		cur := atomic.AddInt64(&active, 1)
		for {
			prev := atomic.LoadInt64(&maxActive)
			if cur <= prev || atomic.CompareAndSwapInt64(&maxActive, prev, cur) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		atomic.AddInt64(&active, -1)
		return nil
	})

	pool := New(q, Handlers{Thumbnail: handler, Metadata: handler, Analysis: handler},
		Options{Concurrency: 5, PollInterval: time.Millisecond}, zerolog.Nop(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = pool.Run(ctx)
		close(done)
	}()

	waitFor(t, 5*time.Second, func() bool { return q.ackedCount() == 20 })
	cancel()
	<-done

	if got := atomic.LoadInt64(&maxActive); got > 5 {
		t.Fatalf("active jobs exceeded concurrency limit: %d", got)
	}
}

func TestPoolUnknownKindDiscarded(t *testing.T) {
	q := newFakeQueue(jobs.Job{ID: "j1", Kind: "pdf.render", Payload: json.RawMessage(`{}`), AttemptsAllowed: 3})

	handler := HandlerFunc(func(context.Context, jobs.Job) error {
		t.Fatal("handler must not run for unknown kind")
		return nil
	})
	pool := New(q, Handlers{Thumbnail: handler, Metadata: handler, Analysis: handler},
		Options{Concurrency: 1, PollInterval: time.Millisecond}, zerolog.Nop(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = pool.Run(ctx) }()

	waitFor(t, time.Second, func() bool { return q.ackedCount() == 1 })
	if q.failedCount() != 0 {
		t.Fatalf("unknown kind must be acked, not retried")
	}
}

func TestPoolHandlerErrorTriggersRetry(t *testing.T) {
	q := newFakeQueue(thumbnailJob("j1"))

	handler := HandlerFunc(func(context.Context, jobs.Job) error {
		return context.DeadlineExceeded
	})
	pool := New(q, Handlers{Thumbnail: handler, Metadata: handler, Analysis: handler},
		Options{Concurrency: 1, PollInterval: time.Millisecond}, zerolog.Nop(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = pool.Run(ctx) }()

	waitFor(t, time.Second, func() bool { return q.failedCount() == 1 })
	if q.ackedCount() != 0 {
		t.Fatalf("failing job must not be acked")
	}
}

func TestPoolRecoversHandlerPanic(t *testing.T) {
	q := newFakeQueue(thumbnailJob("j1"), thumbnailJob("j2"))

	var calls int64
	handler := HandlerFunc(func(_ context.Context, job jobs.Job) error {
		if atomic.AddInt64(&calls, 1) == 1 {
			panic("corrupt decoder state")
		}
		return nil
	})
	pool := New(q, Handlers{Thumbnail: handler, Metadata: handler, Analysis: handler},
		Options{Concurrency: 1, PollInterval: time.Millisecond}, zerolog.Nop(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = pool.Run(ctx) }()

	// The panic becomes a retryable failure and the pool keeps serving.
	waitFor(t, time.Second, func() bool { return q.failedCount() == 1 && q.ackedCount() == 1 })
}
