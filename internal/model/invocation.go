package model

import (
	"encoding/json"
	"time"
)

// Invocation status constants.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	// StatusKilled marks an invocation cut short because its unit was unloaded.
	StatusKilled = "killed"
)

// validTransitions maps each status to the set of statuses it may transition to.
var validTransitions = map[string]map[string]bool{
	StatusPending: {
		StatusRunning: true,
		StatusFailed:  true,
		StatusKilled:  true,
	},
	StatusRunning: {
		StatusCompleted: true,
		StatusFailed:    true,
		StatusKilled:    true,
	},
}

// ValidTransition reports whether transitioning from one status to another is allowed.
func ValidTransition(from, to string) bool {
	targets, ok := validTransitions[from]
	if !ok {
		return false
	}
	return targets[to]
}

// IsTerminal reports whether an invocation in status can no longer change.
func IsTerminal(status string) bool {
	_, ok := validTransitions[status]
	return !ok
}

// LogLine is one console line written by an entry point during an invocation.
type LogLine struct {
	ID           int64     `json:"id"`
	InvocationID string    `json:"invocation_id"`
	Seq          int       `json:"seq"`
	Line         string    `json:"line"`
	CreatedAt    time.Time `json:"created_at"`
}

// Invocation is one call of a task entry point. Args holds the JSON array of
// call arguments; Output holds the JSON result.
type Invocation struct {
	ID          string          `json:"id"`
	TaskID      string          `json:"task_id"`
	Status      string          `json:"status"`
	UnitName    string          `json:"unit_name,omitempty"`
	UnitVersion *int            `json:"unit_version,omitempty"`
	Args        json.RawMessage `json:"args"`
	Output      json.RawMessage `json:"output,omitempty"`
	Error       string          `json:"error,omitempty"`
	TimeoutMS   *int            `json:"timeout_ms,omitempty"`
	DurationMS  *int            `json:"duration_ms,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	FinishedAt  *time.Time      `json:"finished_at,omitempty"`
}
