package router

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/panjf2000/ants/v2"
)

// ErrNoPool is returned when no pool exists for a task id.
var ErrNoPool = errors.New("no worker pool for task")

// PoolInfo describes one task pool.
type PoolInfo struct {
	TaskID   string `json:"task_id"`
	Capacity int    `json:"capacity"`
	Running  int    `json:"running"`
	Waiting  int    `json:"waiting"`
}

// Registry holds the worker pool of every known task id.
type Registry struct {
	mu     sync.RWMutex
	pools  map[string]*ants.Pool
	logger *slog.Logger
}

// NewRegistry creates an empty pool registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Registry{
		pools:  make(map[string]*ants.Pool),
		logger: logger,
	}
}

// Resize sets the capacity of the pool for taskID, creating the pool if it
// does not exist. Resizing to the current capacity is a no-op.
func (r *Registry) Resize(taskID string, concurrency int) error {
	if concurrency < 1 {
		return fmt.Errorf("resize %s: concurrency must be positive, got %d", taskID, concurrency)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if p, ok := r.pools[taskID]; ok {
		if p.Cap() != concurrency {
			r.logger.Info("resizing task pool", "task_id", taskID, "from", p.Cap(), "to", concurrency)
			p.Tune(concurrency)
		}
		poolCapacity.WithLabelValues(taskID).Set(float64(concurrency))
		return nil
	}

	p, err := ants.NewPool(concurrency, ants.WithPanicHandler(func(v any) {
		r.logger.Error("task panicked", "task_id", taskID, "panic", fmt.Sprint(v))
	}))
	if err != nil {
		return fmt.Errorf("create pool for %s: %w", taskID, err)
	}
	r.pools[taskID] = p
	poolCapacity.WithLabelValues(taskID).Set(float64(concurrency))
	r.logger.Info("task pool created", "task_id", taskID, "capacity", concurrency)
	return nil
}

// Submit runs fn on the pool of taskID, blocking while the pool is full.
func (r *Registry) Submit(taskID string, fn func()) error {
	r.mu.RLock()
	p, ok := r.pools[taskID]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoPool, taskID)
	}
	if err := p.Submit(fn); err != nil {
		return fmt.Errorf("submit to %s: %w", taskID, err)
	}
	return nil
}

// Has reports whether a pool exists for taskID.
func (r *Registry) Has(taskID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.pools[taskID]
	return ok
}

// List returns all pools sorted by task id.
func (r *Registry) List() []PoolInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]PoolInfo, 0, len(r.pools))
	for id, p := range r.pools {
		infos = append(infos, PoolInfo{
			TaskID:   id,
			Capacity: p.Cap(),
			Running:  p.Running(),
			Waiting:  p.Waiting(),
		})
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].TaskID < infos[j].TaskID
	})
	return infos
}

// Close releases every pool. Queued work is dropped.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, p := range r.pools {
		p.Release()
		poolCapacity.DeleteLabelValues(id)
		delete(r.pools, id)
	}
}
