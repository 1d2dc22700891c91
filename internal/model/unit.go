package model

import "time"

// Unit lifecycle status constants.
const (
	UnitLoaded   = "loaded"
	UnitFailed   = "failed"
	UnitUnloaded = "unloaded"
)

// UnitRecord is the persisted history entry of one load attempt of a
// deployment unit version.
type UnitRecord struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Version     int        `json:"version"`
	Path        string     `json:"path"`
	Status      string     `json:"status"`
	TaskIDs     []string   `json:"task_ids"`
	WorkflowIDs []string   `json:"workflow_ids"`
	Error       string     `json:"error,omitempty"`
	LoadedAt    time.Time  `json:"loaded_at"`
	UnloadedAt  *time.Time `json:"unloaded_at,omitempty"`
}
