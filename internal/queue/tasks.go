package queue

import (
	"encoding/json"
	"fmt"
	"time"
)

// Task types dispatched by workers.
const (
	TypeCluster       = "cluster"
	TypeRankAndFilter = "rank_and_filter"
	TypeBuild         = "build"
	TypeCleanup       = "cleanup"
)

// Task statuses.
const (
	StatusPending   = "pending"
	StatusLeased    = "leased"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Task is one queued unit of work as seen by workers.
type Task struct {
	TaskID       int64
	Type         string
	Status       string
	Payload      json.RawMessage
	Attempts     int
	MaxAttempts  int
	ScheduledFor time.Time
}

// ClusterPayload asks for a clustering pass over unassigned items.
type ClusterPayload struct {
	CycleDate string `json:"cycle_date"`
	// Limit bounds how many items one task processes. Zero means the
	// worker default applies.
	Limit int `json:"limit,omitempty"`
}

// RankAndFilterPayload asks for scoring, filtering, and selection of one cycle.
type RankAndFilterPayload struct {
	CycleDate string `json:"cycle_date"`
}

// BuildPayload asks the orchestrator to drive one full cycle end to end.
type BuildPayload struct {
	CycleDate string `json:"cycle_date"`
}

// CleanupPayload asks for removal of expired queue rows and empty clusters.
type CleanupPayload struct {
	OlderThanDays int `json:"older_than_days,omitempty"`
}

// EncodePayload marshals a typed payload for enqueueing. Only the payload
// types above are accepted so arbitrary maps cannot sneak into the queue.
func EncodePayload(payload any) (json.RawMessage, error) {
	switch payload.(type) {
	case ClusterPayload, RankAndFilterPayload, BuildPayload, CleanupPayload:
	default:
		return nil, fmt.Errorf("unsupported task payload type %T", payload)
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode task payload: %w", err)
	}
	return raw, nil
}

// DecodePayload unmarshals a task's payload into the typed struct for its
// task type. Unknown task types are an error so a poison row fails fast.
func DecodePayload(taskType string, raw json.RawMessage) (any, error) {
	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}
	switch taskType {
	case TypeCluster:
		var p ClusterPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("%w: decode %s payload: %v", ErrInvalidData, taskType, err)
		}
		return p, nil
	case TypeRankAndFilter:
		var p RankAndFilterPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("%w: decode %s payload: %v", ErrInvalidData, taskType, err)
		}
		return p, nil
	case TypeBuild:
		var p BuildPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("%w: decode %s payload: %v", ErrInvalidData, taskType, err)
		}
		return p, nil
	case TypeCleanup:
		var p CleanupPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("%w: decode %s payload: %v", ErrInvalidData, taskType, err)
		}
		return p, nil
	default:
		return nil, fmt.Errorf("%w: unknown task type %q", ErrInvalidData, taskType)
	}
}
