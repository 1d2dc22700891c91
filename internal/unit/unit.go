package unit

import (
	"fmt"
	"sort"
	"time"

	"github.com/seantiz/flux/internal/isolate"
)

// DeploymentUnit is a loaded version of a unit: its isolated context, the
// discovered entry points and its metadata. The context belongs to this
// unit alone.
type DeploymentUnit struct {
	Name     string
	Version  int
	Path     string
	LoadedAt time.Time

	TaskMethods     map[string]*EntryPoint
	WorkflowMethods map[string]*EntryPoint
	Config          Metadata

	ctx *isolate.Context
}

// Load builds the unit stored in dir as (name, version). Either the unit is
// returned fully populated, or the context is released and an error returned.
func Load(name string, version int, dir string, opts BuildOptions) (*DeploymentUnit, error) {
	if opts.Name == "" {
		opts.Name = fmt.Sprintf("%s@%d", name, version)
	}
	if opts.Logger != nil {
		opts.Logger = opts.Logger.With("unit", name, "version", version)
	}

	ctx, err := Build(dir, opts)
	if err != nil {
		return nil, err
	}

	u, err := assemble(ctx, name, version, dir)
	if err != nil {
		_ = ctx.Release()
		return nil, err
	}
	return u, nil
}

func assemble(ctx *isolate.Context, name string, version int, dir string) (*DeploymentUnit, error) {
	md, err := ReadMetadata(ctx)
	if err != nil {
		return nil, err
	}
	tasks, err := Discover(ctx, md, isolate.TagTask)
	if err != nil {
		return nil, err
	}
	workflows, err := Discover(ctx, md, isolate.TagWorkflow)
	if err != nil {
		return nil, err
	}
	return &DeploymentUnit{
		Name:            name,
		Version:         version,
		Path:            dir,
		LoadedAt:        time.Now().UTC(),
		TaskMethods:     tasks,
		WorkflowMethods: workflows,
		Config:          md,
		ctx:             ctx,
	}, nil
}

// TaskIDs returns the unit's task ids, sorted.
func (u *DeploymentUnit) TaskIDs() []string {
	return sortedKeys(u.TaskMethods)
}

// WorkflowIDs returns the unit's workflow ids, sorted.
func (u *DeploymentUnit) WorkflowIDs() []string {
	return sortedKeys(u.WorkflowMethods)
}

// Context returns the unit's isolated context.
func (u *DeploymentUnit) Context() *isolate.Context {
	return u.ctx
}

// Released reports whether the unit has been released.
func (u *DeploymentUnit) Released() bool {
	return u.ctx == nil || u.ctx.Released()
}

// Release releases the unit's context. Entry points of a released unit can
// no longer be invoked.
func (u *DeploymentUnit) Release() error {
	if u.ctx == nil {
		return nil
	}
	return u.ctx.Release()
}

func sortedKeys(m map[string]*EntryPoint) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
