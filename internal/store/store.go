package store

import (
	"context"
	"errors"

	"github.com/seantiz/flux/internal/model"
)

var (
	// ErrNotFound is returned when an invocation or unit record is not found.
	ErrNotFound = errors.New("record not found")

	// ErrInvalidTransition is returned when an invocation status transition is not allowed.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// InvocationStats holds aggregate invocation statistics.
type InvocationStats struct {
	Total         int            `json:"total"`
	CountByStatus map[string]int `json:"count_by_status"`
	CountByTask   map[string]int `json:"count_by_task"`
	AvgDurationMS float64        `json:"avg_duration_ms"`
}

// Store defines the persistence operations for invocations and the unit
// lifecycle history.
type Store interface {
	CreateInvocation(ctx context.Context, inv *model.Invocation) error
	GetInvocation(ctx context.Context, id string) (*model.Invocation, error)
	ListInvocations(ctx context.Context, limit, offset int) ([]*model.Invocation, int, error)
	UpdateInvocationStatus(ctx context.Context, id, status string) error
	UpdateInvocation(ctx context.Context, inv *model.Invocation) error
	GetInvocationStats(ctx context.Context) (*InvocationStats, error)
	InsertLogLine(ctx context.Context, invocationID string, seq int, line string) error
	GetLogLines(ctx context.Context, invocationID string) ([]model.LogLine, error)

	CreateUnitRecord(ctx context.Context, rec *model.UnitRecord) error
	MarkUnitUnloaded(ctx context.Context, name string, version int) error
	ListUnitRecords(ctx context.Context, limit, offset int) ([]*model.UnitRecord, int, error)

	Close() error
}
