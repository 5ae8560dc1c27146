package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/TOOITW/morning-pulse/internal/globaltime"
	"github.com/TOOITW/morning-pulse/internal/queue"
)

const (
	DefaultPollInterval = 5 * time.Second
	DefaultReclaimEvery = time.Minute
	defaultClusterBatch = 500
)

// WorkQueue is the queue surface a worker needs; satisfied by *queue.Queue.
type WorkQueue interface {
	Lease(ctx context.Context) (*queue.Task, error)
	Complete(ctx context.Context, taskID int64, result any) error
	Fail(ctx context.Context, taskID int64, errorSummary string) error
	FailFast(ctx context.Context, taskID int64, errorSummary string) error
	ReclaimExpired(ctx context.Context) (int64, error)
	Cleanup(ctx context.Context, olderThanDays int) (int64, error)
}

// Janitor removes clusters left without members; part of the cleanup task.
type Janitor interface {
	DeleteEmptyClusters(ctx context.Context) (int64, error)
}

type WorkerConfig struct {
	PollInterval time.Duration
	ReclaimEvery time.Duration
}

func (c WorkerConfig) withDefaults() WorkerConfig {
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.ReclaimEvery <= 0 {
		c.ReclaimEvery = DefaultReclaimEvery
	}
	return c
}

// Worker polls the queue and executes tasks. Workers share no in-memory
// state; any number of them can run against the same database.
type Worker struct {
	queue   WorkQueue
	orch    *Orchestrator
	janitor Janitor
	cfg     WorkerConfig
	logger  zerolog.Logger
}

func NewWorker(wq WorkQueue, orch *Orchestrator, janitor Janitor, cfg WorkerConfig, logger zerolog.Logger) (*Worker, error) {
	if wq == nil {
		return nil, fmt.Errorf("worker queue is nil")
	}
	if orch == nil {
		return nil, fmt.Errorf("worker orchestrator is nil")
	}
	return &Worker{
		queue:   wq,
		orch:    orch,
		janitor: janitor,
		cfg:     cfg.withDefaults(),
		logger:  logger,
	}, nil
}

// Run polls until the context is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	poll := time.NewTicker(w.cfg.PollInterval)
	defer poll.Stop()
	reclaim := time.NewTicker(w.cfg.ReclaimEvery)
	defer reclaim.Stop()

	w.logger.Info().
		Dur("poll_interval", w.cfg.PollInterval).
		Msg("worker started")

	for {
		// Drain everything that is due before going back to sleep.
		for {
			processed, err := w.RunOnce(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				w.logger.Error().Err(err).Msg("task processing error")
				break
			}
			if !processed {
				break
			}
		}

		select {
		case <-ctx.Done():
			w.logger.Info().Msg("worker stopped")
			return ctx.Err()
		case <-reclaim.C:
			if n, err := w.queue.ReclaimExpired(ctx); err != nil {
				w.logger.Error().Err(err).Msg("lease reclaim failed")
			} else if n > 0 {
				w.logger.Warn().Int64("reclaimed", n).Msg("returned expired leases to the queue")
			}
		case <-poll.C:
		}
	}
}

// RunOnce leases and executes at most one task. The bool reports whether a
// task was leased. Task failures are recorded on the queue and not returned
// as errors; only queue-level problems surface.
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	task, err := w.queue.Lease(ctx)
	if err != nil {
		return false, fmt.Errorf("lease: %w", err)
	}
	if task == nil {
		return false, nil
	}

	log := w.logger.With().
		Int64("task_id", task.TaskID).
		Str("type", task.Type).
		Int("attempt", task.Attempts).
		Logger()

	result, err := w.execute(ctx, task)
	if err != nil {
		log.Error().Err(err).Msg("task failed")
		// Data errors do not heal with time, so retries skip the backoff
		// delay; the attempt counter still bounds them.
		fail := w.queue.Fail
		if errors.Is(err, queue.ErrInvalidData) {
			fail = w.queue.FailFast
		}
		if failErr := fail(ctx, task.TaskID, err.Error()); failErr != nil {
			return true, fmt.Errorf("record task failure: %w", failErr)
		}
		return true, nil
	}

	if err := w.queue.Complete(ctx, task.TaskID, result); err != nil {
		return true, fmt.Errorf("record task completion: %w", err)
	}
	log.Info().Msg("task completed")
	return true, nil
}

// execute dispatches one task. A panicking handler is converted to an error
// so a poison task consumes an attempt instead of killing the worker.
func (w *Worker) execute(ctx context.Context, task *queue.Task) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task handler panicked: %v", r)
		}
	}()

	payload, err := queue.DecodePayload(task.Type, task.Payload)
	if err != nil {
		return nil, err
	}

	switch p := payload.(type) {
	case queue.ClusterPayload:
		limit := p.Limit
		if limit <= 0 {
			limit = defaultClusterBatch
		}
		if w.orch.clusterer == nil {
			return nil, fmt.Errorf("no clusterer configured")
		}
		res, err := w.orch.clusterer.ClusterPending(ctx, limit)
		if err != nil {
			return nil, err
		}
		return map[string]int{"processed": res.Processed, "joined": res.Joined, "created": res.Created, "skipped": res.Skipped}, nil

	case queue.RankAndFilterPayload:
		sel, err := w.runCycleFor(ctx, p.CycleDate, task)
		if err != nil {
			return nil, err
		}
		return selectionResult(sel), nil

	case queue.BuildPayload:
		sel, err := w.runCycleFor(ctx, p.CycleDate, task)
		if err != nil {
			return nil, err
		}
		return selectionResult(sel), nil

	case queue.CleanupPayload:
		deleted, err := w.queue.Cleanup(ctx, p.OlderThanDays)
		if err != nil {
			return nil, err
		}
		var emptied int64
		if w.janitor != nil {
			emptied, err = w.janitor.DeleteEmptyClusters(ctx)
			if err != nil {
				return nil, err
			}
		}
		return map[string]int64{"tasks_deleted": deleted, "clusters_deleted": emptied}, nil

	default:
		return nil, fmt.Errorf("%w: no handler for task type %q", queue.ErrInvalidData, task.Type)
	}
}

// runCycleFor drives one cycle. A degraded fallback is permitted only on the
// task's last attempt; earlier failures go back to the queue with backoff so a
// transient hiccup cannot permanently degrade the cycle.
func (w *Worker) runCycleFor(ctx context.Context, cycleDate string, task *queue.Task) (Selection, error) {
	day, err := parseCycleDate(cycleDate)
	if err != nil {
		return Selection{}, err
	}
	opts := CycleOptions{AllowDegraded: task.Attempts >= task.MaxAttempts}
	return w.orch.RunCycle(ctx, day, opts)
}

func parseCycleDate(s string) (time.Time, error) {
	if s == "" {
		return globaltime.UTC(), nil
	}
	day, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: invalid cycle date %q: %v", queue.ErrInvalidData, s, err)
	}
	return day, nil
}

func selectionResult(sel Selection) map[string]any {
	return map[string]any{
		"selection_id": sel.SelectionID,
		"cycle_date":   sel.CycleDate.Format("2006-01-02"),
		"item_count":   len(sel.ItemIDs),
		"degraded":     sel.Degraded,
	}
}
