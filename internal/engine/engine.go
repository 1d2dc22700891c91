package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/seantiz/flux/internal/isolate"
	"github.com/seantiz/flux/internal/model"
	"github.com/seantiz/flux/internal/store"
	"github.com/seantiz/flux/internal/unit"
)

// DefaultTimeout applies when neither the invocation nor the task tag sets one.
const DefaultTimeout = 30 * time.Second

// Resolver finds the entry point serving a task id.
type Resolver interface {
	Lookup(taskID string) (*unit.DeploymentUnit, *unit.EntryPoint, error)
}

// Pools runs work on the worker pool of a task id.
type Pools interface {
	Submit(taskID string, fn func()) error
}

// Engine orchestrates asynchronous task invocations.
type Engine struct {
	store          store.Store
	units          Resolver
	pools          Pools
	logger         *slog.Logger
	defaultTimeout time.Duration
	wg             sync.WaitGroup
	broker         *LogBroker
}

// NewEngine creates a new execution engine. A zero defaultTimeout means
// DefaultTimeout.
func NewEngine(s store.Store, units Resolver, pools Pools, defaultTimeout time.Duration, logger *slog.Logger) *Engine {
	if defaultTimeout <= 0 {
		defaultTimeout = DefaultTimeout
	}
	return &Engine{
		store:          s,
		units:          units,
		pools:          pools,
		logger:         logger,
		defaultTimeout: defaultTimeout,
		broker:         NewLogBroker(),
	}
}

// Broker returns the engine's log broker for SSE subscription.
func (e *Engine) Broker() *LogBroker {
	return e.broker
}

// DecodeArgs splits a JSON array of call arguments. Empty input means no
// arguments.
func DecodeArgs(raw json.RawMessage) ([]json.RawMessage, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var args []json.RawMessage
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, fmt.Errorf("%w: args must be a JSON array: %w", unit.ErrBadSignature, err)
	}
	return args, nil
}

// Submit validates the invocation against the live entry point of its task,
// stores it as pending and queues it on the task's pool. The queued run works
// on a copy of inv.
func (e *Engine) Submit(ctx context.Context, inv *model.Invocation) error {
	u, ep, err := e.units.Lookup(inv.TaskID)
	if err != nil {
		return err
	}
	args, err := DecodeArgs(inv.Args)
	if err != nil {
		return err
	}
	if len(args) != ep.Arity {
		return fmt.Errorf("%w: %s takes %d arguments, got %d", unit.ErrBadSignature, ep.ID, ep.Arity, len(args))
	}

	version := u.Version
	inv.Status = model.StatusPending
	inv.UnitName = u.Name
	inv.UnitVersion = &version
	if err := e.store.CreateInvocation(ctx, inv); err != nil {
		return fmt.Errorf("create invocation: %w", err)
	}

	invCopy := *inv
	e.wg.Go(func() {
		done := make(chan struct{})
		err := e.pools.Submit(invCopy.TaskID, func() {
			defer close(done)
			e.execute(&invCopy, args)
		})
		if err != nil {
			e.finish(invCopy.ID, nil, model.StatusFailed, nil, fmt.Sprintf("queue: %v", err))
			e.broker.Close(invCopy.ID)
			return
		}
		<-done
	})
	return nil
}

// Wait blocks until all queued and running invocations finish.
func (e *Engine) Wait() {
	e.wg.Wait()
}

// execute runs one invocation: pending→running→completed/failed/killed.
func (e *Engine) execute(inv *model.Invocation, args []json.RawMessage) {
	defer e.broker.Close(inv.ID)

	// Resolve again: the unit may have been replaced while queued.
	u, ep, err := e.units.Lookup(inv.TaskID)
	if err != nil {
		e.finish(inv.ID, nil, model.StatusFailed, nil, fmt.Sprintf("resolve task: %v", err))
		return
	}

	if err := e.store.UpdateInvocationStatus(context.Background(), inv.ID, model.StatusRunning); err != nil {
		e.logger.Error("failed to transition to running", "invocation_id", inv.ID, "error", err)
		e.finish(inv.ID, u, model.StatusFailed, nil, fmt.Sprintf("failed to start: %v", err))
		return
	}
	start := time.Now()

	timeout := e.defaultTimeout
	switch {
	case inv.TimeoutMS != nil && *inv.TimeoutMS > 0:
		timeout = time.Duration(*inv.TimeoutMS) * time.Millisecond
	case ep.TimeoutMS > 0:
		timeout = time.Duration(ep.TimeoutMS) * time.Millisecond
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	// Console lines are persisted for history and published for live SSE.
	var seq atomic.Int32
	logf := func(line string) {
		currentSeq := int(seq.Add(1) - 1)
		if err := e.store.InsertLogLine(context.Background(), inv.ID, currentSeq, line); err != nil {
			e.logger.Error("failed to persist log line", "invocation_id", inv.ID, "seq", currentSeq, "error", err)
		}
		if missed := e.broker.Publish(inv.ID, LogEvent{Seq: currentSeq, Line: line}); missed > 0 {
			logEventsDropped.Add(float64(missed))
		}
	}

	output, err := ep.Invoke(ctx, args, logf)
	if err != nil {
		switch {
		case errors.Is(err, isolate.ErrContextReleased):
			e.finish(inv.ID, u, model.StatusKilled, &start, fmt.Sprintf("unit %s@%d was unloaded", u.Name, u.Version))
		case errors.Is(err, context.DeadlineExceeded):
			e.finish(inv.ID, u, model.StatusFailed, &start, fmt.Sprintf("invocation timed out after %v", timeout))
		default:
			e.finish(inv.ID, u, model.StatusFailed, &start, err.Error())
		}
		return
	}

	now := time.Now().UTC()
	dur := int(time.Since(start).Milliseconds())
	version := u.Version
	completed := &model.Invocation{
		ID:          inv.ID,
		TaskID:      inv.TaskID,
		Status:      model.StatusCompleted,
		UnitName:    u.Name,
		UnitVersion: &version,
		Output:      output,
		TimeoutMS:   inv.TimeoutMS,
		DurationMS:  &dur,
		StartedAt:   &start,
		FinishedAt:  &now,
	}
	if err := e.store.UpdateInvocation(context.Background(), completed); err != nil {
		e.logger.Error("failed to update completed invocation", "invocation_id", inv.ID, "error", err)
	}
	invocationsTotal.WithLabelValues(model.StatusCompleted).Inc()
}

// finish records a terminal status with the given error message. u is the
// unit the invocation was resolved against at execution, nil if it never
// was. startedAt is nil when execution never started.
func (e *Engine) finish(id string, u *unit.DeploymentUnit, status string, startedAt *time.Time, errMsg string) {
	invocationsTotal.WithLabelValues(status).Inc()

	inv, err := e.store.GetInvocation(context.Background(), id)
	if err != nil {
		e.logger.Error("failed to load invocation", "invocation_id", id, "error", err)
		return
	}

	now := time.Now().UTC()
	var durationMS int
	if startedAt != nil {
		durationMS = int(time.Since(*startedAt).Milliseconds())
	}
	if u != nil {
		version := u.Version
		inv.UnitName = u.Name
		inv.UnitVersion = &version
	}
	inv.Status = status
	inv.Error = errMsg
	inv.DurationMS = &durationMS
	inv.StartedAt = startedAt
	inv.FinishedAt = &now

	if err := e.store.UpdateInvocation(context.Background(), inv); err != nil {
		e.logger.Error("failed to update finished invocation", "invocation_id", id, "status", status, "error", err)
	}
}
