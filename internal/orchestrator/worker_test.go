package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/TOOITW/morning-pulse/internal/globaltime"
	"github.com/TOOITW/morning-pulse/internal/queue"
	"github.com/TOOITW/morning-pulse/internal/rank"
)

// memQueue is an in-memory WorkQueue implementing the same state machine as
// the persistent queue, minus scheduling delays.
type memQueue struct {
	tasks     map[int64]*memTask
	nextID    int64
	leases    int
	fails     int
	fastFails int
}

type memTask struct {
	queue.Task
	failedWith string
	result     any
}

func newMemQueue() *memQueue {
	return &memQueue{tasks: map[int64]*memTask{}, nextID: 1}
}

func (q *memQueue) enqueue(taskType string, payload any, maxAttempts int) int64 {
	raw, _ := queue.EncodePayload(payload)
	id := q.nextID
	q.nextID++
	q.tasks[id] = &memTask{Task: queue.Task{
		TaskID:      id,
		Type:        taskType,
		Status:      queue.StatusPending,
		Payload:     json.RawMessage(raw),
		MaxAttempts: maxAttempts,
	}}
	return id
}

func (q *memQueue) Lease(context.Context) (*queue.Task, error) {
	for _, id := range q.orderedIDs() {
		t := q.tasks[id]
		if t.Status != queue.StatusPending {
			continue
		}
		t.Status = queue.StatusLeased
		t.Attempts++
		q.leases++
		copied := t.Task
		return &copied, nil
	}
	return nil, nil
}

func (q *memQueue) orderedIDs() []int64 {
	ids := make([]int64, 0, len(q.tasks))
	for id := int64(1); id < q.nextID; id++ {
		if _, ok := q.tasks[id]; ok {
			ids = append(ids, id)
		}
	}
	return ids
}

func (q *memQueue) Complete(_ context.Context, taskID int64, result any) error {
	t, ok := q.tasks[taskID]
	if !ok || t.Status != queue.StatusLeased {
		return fmt.Errorf("task %d is not leased", taskID)
	}
	t.Status = queue.StatusCompleted
	t.result = result
	return nil
}

func (q *memQueue) Fail(_ context.Context, taskID int64, errorSummary string) error {
	q.fails++
	return q.recordFailure(taskID, errorSummary)
}

func (q *memQueue) FailFast(_ context.Context, taskID int64, errorSummary string) error {
	q.fastFails++
	return q.recordFailure(taskID, errorSummary)
}

func (q *memQueue) recordFailure(taskID int64, errorSummary string) error {
	t, ok := q.tasks[taskID]
	if !ok || t.Status != queue.StatusLeased {
		return fmt.Errorf("task %d is not leased", taskID)
	}
	t.failedWith = errorSummary
	if t.Attempts >= t.MaxAttempts {
		t.Status = queue.StatusFailed
	} else {
		t.Status = queue.StatusPending
	}
	return nil
}

func (q *memQueue) ReclaimExpired(context.Context) (int64, error) { return 0, nil }

func (q *memQueue) Cleanup(context.Context, int) (int64, error) { return 0, nil }

func testWorker(t *testing.T, q WorkQueue, store Store, clusterer Clusterer) *Worker {
	t.Helper()
	orch := testOrchestrator(t, store, clusterer)
	w, err := NewWorker(q, orch, nil, WorkerConfig{}, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewWorker: %v", err)
	}
	return w
}

func drain(t *testing.T, w *Worker) {
	t.Helper()
	for i := 0; i < 100; i++ {
		processed, err := w.RunOnce(context.Background())
		if err != nil {
			t.Fatalf("RunOnce: %v", err)
		}
		if !processed {
			return
		}
	}
	t.Fatal("queue never drained")
}

func TestWorkerFailingTaskHitsRetryBound(t *testing.T) {
	q := newMemQueue()
	id := q.enqueue(queue.TypeCluster, queue.ClusterPayload{}, 3)

	clusterer := &stubClusterer{err: errors.New("always broken")}
	w := testWorker(t, q, newStubStore(), clusterer)
	drain(t, w)

	task := q.tasks[id]
	if task.Status != queue.StatusFailed {
		t.Fatalf("status = %s, want failed", task.Status)
	}
	if q.leases != 3 {
		t.Fatalf("task leased %d times, want exactly max_attempts", q.leases)
	}
	if task.failedWith == "" {
		t.Fatal("failure left no error summary")
	}
}

func TestWorkerRecoversFromPanic(t *testing.T) {
	q := newMemQueue()
	id := q.enqueue(queue.TypeCluster, queue.ClusterPayload{}, 1)

	w := testWorker(t, q, newStubStore(), &stubClusterer{panics: true})
	drain(t, w)

	task := q.tasks[id]
	if task.Status != queue.StatusFailed {
		t.Fatalf("status = %s, want failed after panic", task.Status)
	}
	if task.failedWith == "" {
		t.Fatal("panic left no error summary")
	}
}

func TestWorkerBuildTaskProducesSelection(t *testing.T) {
	cycle := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)

	q := newMemQueue()
	q.enqueue(queue.TypeBuild, queue.BuildPayload{CycleDate: "2026-03-10"}, 3)

	store := newStubStore()
	w := testWorker(t, q, store, &stubClusterer{})
	drain(t, w)

	if _, found, _ := store.SelectionByCycleDate(context.Background(), cycle); !found {
		t.Fatal("build task did not create a selection")
	}
}

func TestWorkerDegradesOnlyOnFinalAttempt(t *testing.T) {
	cycle := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	globaltime.SetMockTime(cycle.Add(6 * time.Hour))
	defer globaltime.ResetTime()

	q := newMemQueue()
	id := q.enqueue(queue.TypeBuild, queue.BuildPayload{CycleDate: "2026-03-10"}, 3)

	store := newStubStore()
	store.candidateErr = errors.New("storage timeout")
	store.trusted = []rank.Candidate{
		{ItemID: 9, SourceID: "a", TrustScore: 0.95, PublishedAt: cycle.Add(time.Hour)},
	}
	w := testWorker(t, q, store, &stubClusterer{})
	drain(t, w)

	task := q.tasks[id]
	if task.Status != queue.StatusCompleted {
		t.Fatalf("status = %s, want completed via the final-attempt fallback", task.Status)
	}
	if q.leases != 3 {
		t.Fatalf("task leased %d times, want every attempt consumed before degrading", q.leases)
	}
	if q.fails != 2 {
		t.Fatalf("recorded %d retriable failures, want one per non-final attempt", q.fails)
	}

	sel, found, _ := store.SelectionByCycleDate(context.Background(), cycle)
	if !found || !sel.Degraded {
		t.Fatalf("expected a stored degraded selection, got found=%v sel=%+v", found, sel)
	}
	if store.saveCalls != 1 {
		t.Fatalf("saveCalls = %d, non-final attempts must not persist selections", store.saveCalls)
	}
}

func TestWorkerDataErrorSkipsBackoff(t *testing.T) {
	q := newMemQueue()
	id := q.nextID
	q.nextID++
	q.tasks[id] = &memTask{Task: queue.Task{
		TaskID:      id,
		Type:        queue.TypeCluster,
		Status:      queue.StatusPending,
		Payload:     json.RawMessage(`{"limit":"not-a-number"}`),
		MaxAttempts: 2,
	}}

	w := testWorker(t, q, newStubStore(), &stubClusterer{})
	drain(t, w)

	task := q.tasks[id]
	if task.Status != queue.StatusFailed {
		t.Fatalf("status = %s, want failed", task.Status)
	}
	if q.fastFails != 2 || q.fails != 0 {
		t.Fatalf("fastFails=%d fails=%d, undecodable payloads must skip the backoff path", q.fastFails, q.fails)
	}
}

func TestWorkerRejectsUnknownTaskType(t *testing.T) {
	q := newMemQueue()
	id := q.nextID
	q.nextID++
	q.tasks[id] = &memTask{Task: queue.Task{
		TaskID:      id,
		Type:        "mystery",
		Status:      queue.StatusPending,
		MaxAttempts: 1,
	}}

	w := testWorker(t, q, newStubStore(), &stubClusterer{})
	drain(t, w)

	if q.tasks[id].Status != queue.StatusFailed {
		t.Fatalf("unknown task type status = %s, want failed", q.tasks[id].Status)
	}
	if q.fastFails != 1 {
		t.Fatalf("fastFails = %d, an unknown type is a data error", q.fastFails)
	}
}

func TestParseCycleDate(t *testing.T) {
	day, err := parseCycleDate("2026-03-10")
	if err != nil {
		t.Fatalf("parseCycleDate: %v", err)
	}
	if !day.Equal(time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("parsed %v", day)
	}
	if _, err := parseCycleDate("not-a-date"); err == nil {
		t.Fatal("expected error for malformed date")
	}
}
