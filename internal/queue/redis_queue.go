package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"file-processing-pipeline/internal/jobs"
)

// RedisQueue keeps jobs in Redis: a waiting list, active and delayed
// sorted sets, completed/failed lists, and one hash per job holding its
// fields. A visibility lease on the active set gives at-least-once
// delivery: a worker that dies between dequeue and ack loses its lease
// and the job is reclaimed into waiting.
type RedisQueue struct {
	client       *redis.Client
	prefix       string
	visibility   time.Duration
	retention    time.Duration
	historyLimit int64
}

// Options tune queue behavior beyond the connection itself.
type Options struct {
	Prefix            string
	VisibilityTimeout time.Duration
	Retention         time.Duration
}

// NewRedisQueue builds a queue on an existing Redis client.
func NewRedisQueue(client *redis.Client, opts Options) *RedisQueue {
	if opts.Prefix == "" {
		opts.Prefix = "pipeline"
	}
	if opts.VisibilityTimeout == 0 {
		opts.VisibilityTimeout = 30 * time.Second
	}
	if opts.Retention == 0 {
		opts.Retention = 24 * time.Hour
	}
	return &RedisQueue{
		client:       client,
		prefix:       opts.Prefix,
		visibility:   opts.VisibilityTimeout,
		retention:    opts.Retention,
		historyLimit: 1000,
	}
}

func (q *RedisQueue) waitingKey() string   { return q.prefix + ":waiting" }
func (q *RedisQueue) activeKey() string    { return q.prefix + ":active" }
func (q *RedisQueue) delayedKey() string   { return q.prefix + ":delayed" }
func (q *RedisQueue) completedKey() string { return q.prefix + ":completed" }
func (q *RedisQueue) failedKey() string    { return q.prefix + ":failed" }
func (q *RedisQueue) jobKey(id string) string {
	return q.prefix + ":job:" + id
}

// Enqueue persists the job hash and appends the ID to the waiting list.
func (q *RedisQueue) Enqueue(ctx context.Context, kind jobs.Kind, payload any, policy jobs.RetryPolicy) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	id := uuid.New().String()
	now := time.Now().UTC()

	pipe := q.client.TxPipeline()
	pipe.HSet(ctx, q.jobKey(id), map[string]any{
		"kind":             string(kind),
		"payload":          string(raw),
		"state":            string(jobs.StateWaiting),
		"attempts_made":    0,
		"attempts_allowed": policy.AttemptsAllowed,
		"backoff_base_ms":  policy.BackoffBase.Milliseconds(),
		"backoff_max_ms":   policy.BackoffMax.Milliseconds(),
		"created_at_ms":    now.UnixMilli(),
	})
	pipe.RPush(ctx, q.waitingKey(), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("enqueue job: %w", err)
	}
	return id, nil
}

// dequeueScript atomically pops the head of the waiting list and leases
// it into the active set so no two workers can claim the same job.
var dequeueScript = redis.NewScript(`
local id = redis.call('LPOP', KEYS[1])
if not id then
  return false
end
redis.call('ZADD', KEYS[2], ARGV[1], id)
return id
`)

// Dequeue claims the next waiting job under a lease.
func (q *RedisQueue) Dequeue(ctx context.Context) (*jobs.Job, error) {
	deadline := time.Now().Add(q.visibility).UnixMilli()
	res, err := dequeueScript.Run(ctx, q.client, []string{q.waitingKey(), q.activeKey()}, deadline).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("dequeue: %w", err)
	}
	id, ok := res.(string)
	if !ok {
		return nil, fmt.Errorf("unexpected type from dequeue script: %T", res)
	}

	now := time.Now().UTC()
	pipe := q.client.TxPipeline()
	pipe.HSet(ctx, q.jobKey(id), "state", string(jobs.StateActive), "processed_on_ms", now.UnixMilli())
	getAll := pipe.HGetAll(ctx, q.jobKey(id))
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("load job %s: %w", id, err)
	}

	fields := getAll.Val()
	if fields["kind"] == "" {
		// Hash expired or was purged; drop the orphaned claim.
		pipe := q.client.TxPipeline()
		pipe.ZRem(ctx, q.activeKey(), id)
		pipe.Del(ctx, q.jobKey(id))
		_, _ = pipe.Exec(ctx)
		return nil, nil
	}
	job := jobFromHash(id, fields)
	return &job, nil
}

// Ack settles a claimed job as completed. If the lease was already
// reclaimed the ack is a no-op: the redelivered copy owns the job now.
func (q *RedisQueue) Ack(ctx context.Context, jobID string) error {
	removed, err := q.client.ZRem(ctx, q.activeKey(), jobID).Result()
	if err != nil {
		return fmt.Errorf("ack %s: %w", jobID, err)
	}
	if removed == 0 {
		return nil
	}

	now := time.Now().UTC()
	pipe := q.client.TxPipeline()
	pipe.HSet(ctx, q.jobKey(jobID), "state", string(jobs.StateCompleted), "finished_on_ms", now.UnixMilli())
	pipe.LPush(ctx, q.completedKey(), jobID)
	pipe.LTrim(ctx, q.completedKey(), 0, q.historyLimit-1)
	pipe.Expire(ctx, q.jobKey(jobID), q.retention)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("complete %s: %w", jobID, err)
	}
	return nil
}

// FailWithRetry counts the attempt and either schedules the next try or
// moves the job to failed with the reason retained. Like Ack, it is a
// no-op when the lease was already reclaimed: the redelivered copy owns
// the job, and a stale failure must not double-count the attempt or
// leave the ID in two indexes at once.
func (q *RedisQueue) FailWithRetry(ctx context.Context, jobID, reason string) error {
	key := q.jobKey(jobID)
	exists, err := q.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("fail %s: %w", jobID, err)
	}
	if exists == 0 {
		return ErrJobNotFound
	}

	removed, err := q.client.ZRem(ctx, q.activeKey(), jobID).Result()
	if err != nil {
		return fmt.Errorf("fail %s: %w", jobID, err)
	}
	if removed == 0 {
		return nil
	}

	attempts, err := q.client.HIncrBy(ctx, key, "attempts_made", 1).Result()
	if err != nil {
		return fmt.Errorf("count attempt for %s: %w", jobID, err)
	}
	allowed, err := q.client.HGet(ctx, key, "attempts_allowed").Int64()
	if err != nil {
		return fmt.Errorf("read attempts_allowed for %s: %w", jobID, err)
	}

	now := time.Now().UTC()
	if attempts < allowed {
		baseMS, _ := q.client.HGet(ctx, key, "backoff_base_ms").Int64()
		maxMS, _ := q.client.HGet(ctx, key, "backoff_max_ms").Int64()
		policy := jobs.RetryPolicy{
			BackoffBase: time.Duration(baseMS) * time.Millisecond,
			BackoffMax:  time.Duration(maxMS) * time.Millisecond,
		}
		due := now.Add(policy.Delay(int(attempts)))

		pipe := q.client.TxPipeline()
		pipe.ZAdd(ctx, q.delayedKey(), redis.Z{Score: float64(due.UnixMilli()), Member: jobID})
		pipe.HSet(ctx, key, "state", string(jobs.StateDelayed), "failed_reason", reason)
		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("reschedule %s: %w", jobID, err)
		}
		return nil
	}

	pipe := q.client.TxPipeline()
	pipe.LPush(ctx, q.failedKey(), jobID)
	pipe.LTrim(ctx, q.failedKey(), 0, q.historyLimit-1)
	pipe.HSet(ctx, key, "state", string(jobs.StateFailed), "failed_reason", reason, "finished_on_ms", now.UnixMilli())
	pipe.Expire(ctx, key, q.retention)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("mark failed %s: %w", jobID, err)
	}
	return nil
}

// Retry moves a failed job back to waiting. Attempts and payload are
// untouched, so a job that has exhausted its budget and fails again
// goes straight back to failed.
func (q *RedisQueue) Retry(ctx context.Context, jobID string) error {
	state, err := q.client.HGet(ctx, q.jobKey(jobID), "state").Result()
	if err == redis.Nil {
		return ErrJobNotFound
	}
	if err != nil {
		return fmt.Errorf("read state for %s: %w", jobID, err)
	}
	if state != string(jobs.StateFailed) {
		return ErrJobNotFound
	}

	pipe := q.client.TxPipeline()
	pipe.LRem(ctx, q.failedKey(), 0, jobID)
	pipe.RPush(ctx, q.waitingKey(), jobID)
	pipe.HSet(ctx, q.jobKey(jobID), "state", string(jobs.StateWaiting))
	pipe.HDel(ctx, q.jobKey(jobID), "finished_on_ms")
	pipe.Persist(ctx, q.jobKey(jobID))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("retry %s: %w", jobID, err)
	}
	return nil
}

// Maintain promotes due delayed jobs into waiting (readiness order) and
// reclaims jobs whose lease expired.
func (q *RedisQueue) Maintain(ctx context.Context, now time.Time) error {
	if err := q.moveDue(ctx, q.delayedKey(), now); err != nil {
		return fmt.Errorf("promote delayed: %w", err)
	}
	if err := q.moveDue(ctx, q.activeKey(), now); err != nil {
		return fmt.Errorf("reclaim expired: %w", err)
	}
	return nil
}

func (q *RedisQueue) moveDue(ctx context.Context, zsetKey string, now time.Time) error {
	ids, err := q.client.ZRangeByScore(ctx, zsetKey, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.UnixMilli(), 10),
		Count: 100,
	}).Result()
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}

	pipe := q.client.TxPipeline()
	for _, id := range ids {
		pipe.ZRem(ctx, zsetKey, id)
		pipe.RPush(ctx, q.waitingKey(), id)
		pipe.HSet(ctx, q.jobKey(id), "state", string(jobs.StateWaiting))
	}
	_, err = pipe.Exec(ctx)
	return err
}

// Counts returns the queue snapshot counters in one round trip.
func (q *RedisQueue) Counts(ctx context.Context) (jobs.Counts, error) {
	pipe := q.client.Pipeline()
	waiting := pipe.LLen(ctx, q.waitingKey())
	active := pipe.ZCard(ctx, q.activeKey())
	completed := pipe.LLen(ctx, q.completedKey())
	failed := pipe.LLen(ctx, q.failedKey())
	delayed := pipe.ZCard(ctx, q.delayedKey())
	if _, err := pipe.Exec(ctx); err != nil {
		return jobs.Counts{}, fmt.Errorf("counts: %w", err)
	}
	return jobs.Counts{
		Waiting:   waiting.Val(),
		Active:    active.Val(),
		Completed: completed.Val(),
		Failed:    failed.Val(),
		Delayed:   delayed.Val(),
	}, nil
}

// JobsByState pages job records out of one state's index.
func (q *RedisQueue) JobsByState(ctx context.Context, state jobs.State, offset, limit int64) ([]jobs.Job, error) {
	if limit <= 0 {
		limit = 20
	}
	var ids []string
	var err error
	switch state {
	case jobs.StateWaiting:
		ids, err = q.client.LRange(ctx, q.waitingKey(), offset, offset+limit-1).Result()
	case jobs.StateCompleted:
		ids, err = q.client.LRange(ctx, q.completedKey(), offset, offset+limit-1).Result()
	case jobs.StateFailed:
		ids, err = q.client.LRange(ctx, q.failedKey(), offset, offset+limit-1).Result()
	case jobs.StateActive:
		ids, err = q.client.ZRange(ctx, q.activeKey(), offset, offset+limit-1).Result()
	case jobs.StateDelayed:
		ids, err = q.client.ZRange(ctx, q.delayedKey(), offset, offset+limit-1).Result()
	default:
		return nil, fmt.Errorf("unknown state %q", state)
	}
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", state, err)
	}

	out := make([]jobs.Job, 0, len(ids))
	for _, id := range ids {
		fields, err := q.client.HGetAll(ctx, q.jobKey(id)).Result()
		if err != nil {
			return nil, fmt.Errorf("load job %s: %w", id, err)
		}
		if len(fields) == 0 {
			// Retention expired the hash; the index entry is stale.
			continue
		}
		out = append(out, jobFromHash(id, fields))
	}
	return out, nil
}

func jobFromHash(id string, fields map[string]string) jobs.Job {
	job := jobs.Job{
		ID:           id,
		Kind:         jobs.Kind(fields["kind"]),
		Payload:      json.RawMessage(fields["payload"]),
		FailedReason: fields["failed_reason"],
	}
	job.AttemptsMade = atoiDefault(fields["attempts_made"], 0)
	job.AttemptsAllowed = atoiDefault(fields["attempts_allowed"], 1)
	job.BackoffBase = time.Duration(atoi64Default(fields["backoff_base_ms"], 1000)) * time.Millisecond
	job.BackoffMax = time.Duration(atoi64Default(fields["backoff_max_ms"], 0)) * time.Millisecond
	job.CreatedAt = msToTime(fields["created_at_ms"])
	if v, ok := fields["processed_on_ms"]; ok {
		t := msToTime(v)
		job.ProcessedOn = &t
	}
	if v, ok := fields["finished_on_ms"]; ok {
		t := msToTime(v)
		job.FinishedOn = &t
	}
	return job
}

func atoiDefault(s string, def int) int {
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return def
}

func atoi64Default(s string, def int64) int64 {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	return def
}

func msToTime(s string) time.Time {
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
