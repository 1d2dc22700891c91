package manager

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/seantiz/flux/internal/model"
	"github.com/seantiz/flux/internal/unit"
)

var (
	// ErrNotLoaded is returned when a (name, version) pair is not live.
	ErrNotLoaded = errors.New("deployment unit not loaded")

	// ErrAlreadyLoaded is returned when a (name, version) pair is already live.
	ErrAlreadyLoaded = errors.New("deployment unit already loaded")

	// ErrBusy is returned while another load or unload of the same pair runs.
	ErrBusy = errors.New("deployment unit operation in progress")
)

// History persists the unit lifecycle.
type History interface {
	CreateUnitRecord(ctx context.Context, rec *model.UnitRecord) error
	MarkUnitUnloaded(ctx context.Context, name string, version int) error
}

// Key identifies a deployment unit version.
type Key struct {
	Name    string
	Version int
}

func (k Key) String() string {
	return fmt.Sprintf("%s@%d", k.Name, k.Version)
}

// Options configures a Manager.
type Options struct {
	Scanner     *unit.Scanner
	History     History
	Logger      *slog.Logger
	EvalTimeout time.Duration
}

// Manager holds the live deployment units.
type Manager struct {
	scanner     *unit.Scanner
	history     History
	logger      *slog.Logger
	evalTimeout time.Duration

	mu       sync.RWMutex
	units    map[Key]*unit.DeploymentUnit
	inflight map[Key]bool
}

// New creates a Manager with no live units.
func New(opts Options) *Manager {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	scanner := opts.Scanner
	if scanner == nil {
		scanner = unit.NewScanner("")
	}
	return &Manager{
		scanner:     scanner,
		history:     opts.History,
		logger:      logger,
		evalTimeout: opts.EvalTimeout,
		units:       make(map[Key]*unit.DeploymentUnit),
		inflight:    make(map[Key]bool),
	}
}

// Scanner returns the unit store scanner.
func (m *Manager) Scanner() *unit.Scanner {
	return m.scanner
}

// reserve marks k as in flight. want reports whether k must be live.
func (m *Manager) reserve(k Key, want bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.inflight[k] {
		return fmt.Errorf("%w: %s", ErrBusy, k)
	}
	_, live := m.units[k]
	switch {
	case live && !want:
		return fmt.Errorf("%w: %s", ErrAlreadyLoaded, k)
	case !live && want:
		return fmt.Errorf("%w: %s", ErrNotLoaded, k)
	}
	m.inflight[k] = true
	return nil
}

// Load builds the given version of a unit and makes it live. Other versions
// of the same name are left untouched.
func (m *Manager) Load(ctx context.Context, name string, version int) (*unit.DeploymentUnit, error) {
	if err := validName(name); err != nil {
		return nil, err
	}
	if m.scanner.Root == "" {
		return nil, fmt.Errorf("%w: no deployment units path configured", unit.ErrNotFound)
	}

	k := Key{Name: name, Version: version}
	if err := m.reserve(k, false); err != nil {
		return nil, err
	}
	defer m.release(k)

	dir := m.scanner.Path(name, version)
	start := time.Now()
	u, err := unit.Load(name, version, dir, unit.BuildOptions{
		EvalTimeout: m.evalTimeout,
		Logger:      m.logger,
	})
	unitLoadDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		unitLoadsTotal.WithLabelValues(resultFailure).Inc()
		m.logger.Warn("unit load failed", "unit", name, "version", version, "path", dir, "error", err)
		m.record(ctx, &model.UnitRecord{
			ID:       model.NewID(),
			Name:     name,
			Version:  version,
			Path:     dir,
			Status:   model.UnitFailed,
			Error:    err.Error(),
			LoadedAt: time.Now().UTC(),
		})
		return nil, err
	}

	m.mu.Lock()
	m.units[k] = u
	live := len(m.units)
	m.mu.Unlock()

	unitLoadsTotal.WithLabelValues(resultSuccess).Inc()
	unitsLoaded.Set(float64(live))
	m.logger.Info("unit loaded", "unit", name, "version", version,
		"tasks", len(u.TaskMethods), "workflows", len(u.WorkflowMethods))
	m.record(ctx, &model.UnitRecord{
		ID:          model.NewID(),
		Name:        name,
		Version:     version,
		Path:        dir,
		Status:      model.UnitLoaded,
		TaskIDs:     u.TaskIDs(),
		WorkflowIDs: u.WorkflowIDs(),
		LoadedAt:    u.LoadedAt,
	})
	return u, nil
}

// Unload removes a live unit and releases its context. Entry points of the
// unit fail from then on.
func (m *Manager) Unload(ctx context.Context, name string, version int) error {
	k := Key{Name: name, Version: version}
	if err := m.reserve(k, true); err != nil {
		return err
	}
	defer m.release(k)

	m.mu.Lock()
	u := m.units[k]
	delete(m.units, k)
	live := len(m.units)
	m.mu.Unlock()
	unitsLoaded.Set(float64(live))

	if err := u.Release(); err != nil {
		m.logger.Warn("unit release reported errors", "unit", name, "version", version, "error", err)
	}
	m.logger.Info("unit unloaded", "unit", name, "version", version)

	if m.history != nil {
		if err := m.history.MarkUnitUnloaded(ctx, name, version); err != nil {
			m.logger.Error("failed to record unit unload", "unit", name, "version", version, "error", err)
		}
	}
	return nil
}

func (m *Manager) release(k Key) {
	m.mu.Lock()
	delete(m.inflight, k)
	m.mu.Unlock()
}

func (m *Manager) record(ctx context.Context, rec *model.UnitRecord) {
	if m.history == nil {
		return
	}
	if err := m.history.CreateUnitRecord(ctx, rec); err != nil {
		m.logger.Error("failed to record unit load", "unit", rec.Name, "version", rec.Version, "error", err)
	}
}

// GetAllDeploymentUnits returns the live units sorted by name, then version.
func (m *Manager) GetAllDeploymentUnits() []*unit.DeploymentUnit {
	m.mu.RLock()
	defer m.mu.RUnlock()

	units := make([]*unit.DeploymentUnit, 0, len(m.units))
	for _, u := range m.units {
		units = append(units, u)
	}
	slices.SortFunc(units, func(a, b *unit.DeploymentUnit) int {
		return cmp.Or(cmp.Compare(a.Name, b.Name), cmp.Compare(a.Version, b.Version))
	})
	return units
}

// Get returns the live unit (name, version).
func (m *Manager) Get(name string, version int) (*unit.DeploymentUnit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.units[Key{Name: name, Version: version}]
	if !ok {
		return nil, fmt.Errorf("%w: %s@%d", ErrNotLoaded, name, version)
	}
	return u, nil
}

// Lookup returns the newest live unit declaring taskID, with its entry point.
func (m *Manager) Lookup(taskID string) (*unit.DeploymentUnit, *unit.EntryPoint, error) {
	var best *unit.DeploymentUnit
	for _, u := range m.GetAllDeploymentUnits() {
		if _, ok := u.TaskMethods[taskID]; !ok {
			continue
		}
		if best == nil || u.Version > best.Version {
			best = u
		}
	}
	if best == nil {
		return nil, nil, fmt.Errorf("%w: no live unit declares task %s", ErrNotLoaded, taskID)
	}
	return best, best.TaskMethods[taskID], nil
}

// Close releases every live unit.
func (m *Manager) Close() {
	m.mu.Lock()
	units := m.units
	m.units = make(map[Key]*unit.DeploymentUnit)
	m.mu.Unlock()

	for k, u := range units {
		if err := u.Release(); err != nil {
			m.logger.Warn("unit release reported errors", "unit", k.Name, "version", k.Version, "error", err)
		}
	}
	unitsLoaded.Set(0)
}

// validName rejects names that are not a single path element.
func validName(name string) error {
	if name == "" || name == "." || name == ".." || filepath.Base(name) != name {
		return fmt.Errorf("%w: invalid unit name %q", unit.ErrNotFound, name)
	}
	return nil
}
