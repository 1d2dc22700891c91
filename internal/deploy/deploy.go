// Package deploy coordinates unit loads with the task pools: a new version is
// loaded, its task pools are provisioned and only then are older versions of
// the same unit retired.
package deploy

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/seantiz/flux/internal/unit"
)

// Manager loads and unloads deployment unit versions.
type Manager interface {
	Load(ctx context.Context, name string, version int) (*unit.DeploymentUnit, error)
	Unload(ctx context.Context, name string, version int) error
	GetAllDeploymentUnits() []*unit.DeploymentUnit
}

// Router sizes the worker pool of a task id. Resize must be idempotent.
type Router interface {
	Resize(taskID string, concurrency int) error
}

// Service deploys units onto the router.
type Service struct {
	manager     Manager
	router      Router
	concurrency int
	logger      *slog.Logger
}

// NewService creates a Service that gives every task pool the given
// concurrency unless the unit's metadata sets one for the task.
func NewService(m Manager, r Router, concurrency int, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Service{
		manager:     m,
		router:      r,
		concurrency: concurrency,
		logger:      logger,
	}
}

// Load loads (name, version) and sizes the pool of every task it declares.
// With replace, every other live version of name is unloaded afterwards, so
// a task present in both versions never loses its pool. A failed load leaves
// the live versions untouched.
func (s *Service) Load(ctx context.Context, name string, version int, replace bool) (*unit.DeploymentUnit, error) {
	u, err := s.manager.Load(ctx, name, version)
	if err != nil {
		return nil, err
	}

	for _, taskID := range u.TaskIDs() {
		concurrency, err := s.taskConcurrency(u, taskID)
		if err == nil {
			err = s.router.Resize(taskID, concurrency)
		}
		if err != nil {
			if uerr := s.manager.Unload(ctx, name, version); uerr != nil {
				s.logger.Error("failed to roll back unit load", "unit", name, "version", version, "error", uerr)
			}
			return nil, fmt.Errorf("provision pool for %s: %w", taskID, err)
		}
	}

	if !replace {
		return u, nil
	}

	for _, old := range s.manager.GetAllDeploymentUnits() {
		if old.Name != name || old.Version == version {
			continue
		}
		if err := s.manager.Unload(ctx, old.Name, old.Version); err != nil {
			s.logger.Warn("failed to unload replaced unit", "unit", old.Name, "version", old.Version, "error", err)
			continue
		}
		s.logger.Info("unit replaced", "unit", name, "old_version", old.Version, "new_version", version)
	}
	return u, nil
}

// taskConcurrency returns the pool size the unit's metadata configures for
// taskID, or the service default.
func (s *Service) taskConcurrency(u *unit.DeploymentUnit, taskID string) (int, error) {
	n, ok, err := u.Config.TaskConcurrency(taskID)
	if err != nil || !ok {
		return s.concurrency, err
	}
	return n, nil
}

// Unload unloads (name, version). Task pools are kept: another version may
// still declare the same tasks.
func (s *Service) Unload(ctx context.Context, name string, version int) error {
	return s.manager.Unload(ctx, name, version)
}

// Catalog lists the units available for loading.
type Catalog interface {
	List() ([]string, error)
	Latest(name string) (int, error)
}

// Preload loads the latest version of every unit in the catalog. Units that
// fail to load are logged and skipped. It returns the number loaded.
func (s *Service) Preload(ctx context.Context, c Catalog) (int, error) {
	names, err := c.List()
	if err != nil {
		return 0, fmt.Errorf("list units: %w", err)
	}

	loaded := 0
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return loaded, err
		}
		version, err := c.Latest(name)
		if err != nil {
			s.logger.Warn("skip unit preload", "unit", name, "error", err)
			continue
		}
		if _, err := s.Load(ctx, name, version, false); err != nil {
			s.logger.Warn("unit preload failed", "unit", name, "version", version, "error", err)
			continue
		}
		loaded++
	}
	return loaded, nil
}
