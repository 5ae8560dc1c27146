// Package queue is a persistent lease-based work queue on top of Postgres.
// Tasks move pending -> leased -> completed, or back to pending with
// exponential backoff on failure until max_attempts is exhausted, then to
// terminal failed. Claiming uses row locking with skip-locked semantics so
// concurrent workers never lease the same task.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/TOOITW/morning-pulse/internal/db"
	"github.com/TOOITW/morning-pulse/internal/globaltime"
)

const (
	DefaultMaxAttempts    = 3
	DefaultRetryBaseDelay = time.Minute
	DefaultLeaseTimeout   = 10 * time.Minute
	DefaultRetentionDays  = 7
)

// ErrInvalidData classifies failures caused by a task's own data: a payload
// that does not decode, a malformed cycle date, a record the handlers cannot
// act on. These do not heal with time, so workers route them through FailFast
// while the attempt counter still bounds a poison task.
var ErrInvalidData = errors.New("invalid task data")

type Config struct {
	MaxAttempts    int
	RetryBaseDelay time.Duration
	LeaseTimeout   time.Duration
	RetentionDays  int
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = DefaultRetryBaseDelay
	}
	if c.LeaseTimeout <= 0 {
		c.LeaseTimeout = DefaultLeaseTimeout
	}
	if c.RetentionDays <= 0 {
		c.RetentionDays = DefaultRetentionDays
	}
	return c
}

type Queue struct {
	pool *db.Pool
	cfg  Config
}

func New(pool *db.Pool, cfg Config) *Queue {
	return &Queue{pool: pool, cfg: cfg.withDefaults()}
}

// EnqueueOptions tune one enqueue call. Zero values fall back to immediate
// scheduling and the queue's configured max attempts.
type EnqueueOptions struct {
	ScheduledFor time.Time
	MaxAttempts  int
}

// Enqueue inserts a pending task and returns its ID.
func (q *Queue) Enqueue(ctx context.Context, taskType string, payload any, opts EnqueueOptions) (int64, error) {
	raw, err := EncodePayload(payload)
	if err != nil {
		return 0, err
	}

	now := globaltime.UTC()
	scheduledFor := opts.ScheduledFor
	if scheduledFor.IsZero() {
		scheduledFor = now
	}
	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = q.cfg.MaxAttempts
	}

	const query = `
INSERT INTO pulse.tasks (type, status, payload, attempts, max_attempts, scheduled_for, created_at, updated_at)
VALUES ($1, 'pending', $2, 0, $3, $4, $5, $5)
RETURNING task_id
`
	var taskID int64
	if err := q.pool.QueryRow(ctx, query, taskType, string(raw), maxAttempts, scheduledFor.UTC(), now).Scan(&taskID); err != nil {
		return 0, fmt.Errorf("enqueue %s task: %w", taskType, err)
	}
	return taskID, nil
}

// Lease claims the earliest-due pending task, transitions it to leased, and
// increments its attempt counter. Returns (nil, nil) when nothing is due. The
// claim subquery locks the candidate row and skips rows locked by concurrent
// workers, so each task is leased at most once per attempt.
func (q *Queue) Lease(ctx context.Context) (*Task, error) {
	now := globaltime.UTC()

	const query = `
UPDATE pulse.tasks t
SET
	status = 'leased',
	attempts = t.attempts + 1,
	started_at = $1,
	lease_expires_at = $2,
	updated_at = $1
WHERE t.task_id = (
	SELECT task_id
	FROM pulse.tasks
	WHERE status = 'pending'
	  AND scheduled_for <= $1
	ORDER BY scheduled_for, task_id
	LIMIT 1
	FOR UPDATE SKIP LOCKED
)
RETURNING t.task_id, t.type, t.status, t.payload, t.attempts, t.max_attempts, t.scheduled_for
`
	var task Task
	var payload []byte
	err := q.pool.QueryRow(ctx, query, now, now.Add(q.cfg.LeaseTimeout)).Scan(
		&task.TaskID,
		&task.Type,
		&task.Status,
		&payload,
		&task.Attempts,
		&task.MaxAttempts,
		&task.ScheduledFor,
	)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("lease task: %w", err)
	}
	task.Payload = json.RawMessage(payload)
	return &task, nil
}

// Complete transitions a leased task to completed and stores its result.
func (q *Queue) Complete(ctx context.Context, taskID int64, result any) error {
	raw := json.RawMessage("{}")
	if result != nil {
		encoded, err := json.Marshal(result)
		if err != nil {
			return fmt.Errorf("encode task result: %w", err)
		}
		raw = encoded
	}

	now := globaltime.UTC()
	const query = `
UPDATE pulse.tasks
SET
	status = 'completed',
	result = $2,
	completed_at = $3,
	lease_expires_at = NULL,
	error_message = NULL,
	updated_at = $3
WHERE task_id = $1
  AND status = 'leased'
`
	tag, err := q.pool.Exec(ctx, query, taskID, string(raw), now)
	if err != nil {
		return fmt.Errorf("complete task_id=%d: %w", taskID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("complete task_id=%d: task is not leased", taskID)
	}
	return nil
}

// Fail records a failed attempt. While attempts remain the task goes back to
// pending with exponential backoff; once exhausted it becomes terminal failed.
func (q *Queue) Fail(ctx context.Context, taskID int64, errorSummary string) error {
	return q.fail(ctx, taskID, errorSummary, q.cfg.RetryBaseDelay.Seconds())
}

// FailFast records a failed attempt without a retry delay: the task goes
// straight back to pending, or to terminal failed when attempts are exhausted.
// Meant for data errors, where waiting cannot change the outcome.
func (q *Queue) FailFast(ctx context.Context, taskID int64, errorSummary string) error {
	return q.fail(ctx, taskID, errorSummary, 0)
}

func (q *Queue) fail(ctx context.Context, taskID int64, errorSummary string, baseDelaySeconds float64) error {
	now := globaltime.UTC()

	// Backoff is derived from the row's own attempt counter inside the
	// statement so the retry delay and the status flip stay atomic. The SQL
	// expression is the same base * 2^(attempt-1) formula as Backoff; keep
	// the two in sync.
	const query = `
UPDATE pulse.tasks
SET
	status = CASE WHEN attempts >= max_attempts THEN 'failed' ELSE 'pending' END,
	scheduled_for = CASE
		WHEN attempts >= max_attempts THEN scheduled_for
		ELSE $2 + make_interval(secs => $3 * power(2, GREATEST(attempts, 1) - 1))
	END,
	completed_at = CASE WHEN attempts >= max_attempts THEN $2 ELSE NULL END,
	lease_expires_at = NULL,
	error_message = $4,
	updated_at = $2
WHERE task_id = $1
  AND status = 'leased'
RETURNING status
`
	var status string
	err := q.pool.QueryRow(ctx, query, taskID, now, baseDelaySeconds, errorSummary).Scan(&status)
	if err != nil {
		if db.IsNoRows(err) {
			return fmt.Errorf("fail task_id=%d: task is not leased", taskID)
		}
		return fmt.Errorf("fail task_id=%d: %w", taskID, err)
	}
	return nil
}

// Backoff is the delay before retrying after the given (1-based) attempt:
// base * 2^(attempt-1). The SQL in fail applies the same formula row-side.
func Backoff(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	// Cap the shift so pathological attempt counts cannot overflow.
	exp := attempt - 1
	if exp > 20 {
		exp = 20
	}
	return time.Duration(float64(base) * math.Pow(2, float64(exp)))
}

// ReclaimExpired returns stale leased tasks to circulation. A lease that
// outlived its expiry means the worker died mid-task; the attempt is treated
// as a failure so poison tasks still hit the retry bound.
func (q *Queue) ReclaimExpired(ctx context.Context) (int64, error) {
	now := globaltime.UTC()

	const query = `
UPDATE pulse.tasks
SET
	status = CASE WHEN attempts >= max_attempts THEN 'failed' ELSE 'pending' END,
	completed_at = CASE WHEN attempts >= max_attempts THEN $1 ELSE NULL END,
	lease_expires_at = NULL,
	error_message = 'lease expired',
	updated_at = $1
WHERE status = 'leased'
  AND lease_expires_at IS NOT NULL
  AND lease_expires_at < $1
`
	tag, err := q.pool.Exec(ctx, query, now)
	if err != nil {
		return 0, fmt.Errorf("reclaim expired leases: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Stats reports task counts by status.
func (q *Queue) Stats(ctx context.Context) (map[string]int64, error) {
	const query = `
SELECT status, COUNT(*)
FROM pulse.tasks
GROUP BY status
`
	rows, err := q.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query queue stats: %w", err)
	}
	defer rows.Close()

	stats := map[string]int64{
		StatusPending:   0,
		StatusLeased:    0,
		StatusCompleted: 0,
		StatusFailed:    0,
	}
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan queue stats: %w", err)
		}
		stats[status] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate queue stats: %w", err)
	}
	return stats, nil
}

// Cleanup deletes terminal tasks older than the retention window.
func (q *Queue) Cleanup(ctx context.Context, olderThanDays int) (int64, error) {
	if olderThanDays <= 0 {
		olderThanDays = q.cfg.RetentionDays
	}
	cutoff := globaltime.UTC().AddDate(0, 0, -olderThanDays)

	const query = `
DELETE FROM pulse.tasks
WHERE status IN ('completed', 'failed')
  AND updated_at < $1
`
	tag, err := q.pool.Exec(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("cleanup tasks: %w", err)
	}
	return tag.RowsAffected(), nil
}
