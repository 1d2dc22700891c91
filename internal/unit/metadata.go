package unit

import (
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/seantiz/flux/internal/isolate"
)

// WorkflowClassesKey lists the fully-qualified class names scanned for entry
// points.
const WorkflowClassesKey = "workflowClasses"

// ConcurrencyKey, nested under a task id, overrides the size of that task's
// worker pool.
const ConcurrencyKey = "executionConcurrency"

// Metadata is a unit's flux_config.yml document.
type Metadata map[string]any

// ReadMetadata reads flux_config.yml from the context's own resources.
func ReadMetadata(ctx *isolate.Context) (Metadata, error) {
	rc, err := ctx.OpenResource(MetadataFile)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %w", ErrIO, MetadataFile, err)
	}
	defer rc.Close()

	raw, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %w", ErrIO, MetadataFile, err)
	}
	return ParseMetadata(raw)
}

// ParseMetadata decodes a metadata document. An empty document is valid;
// anything other than a mapping is not.
func ParseMetadata(raw []byte) (Metadata, error) {
	var doc any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %w", ErrIO, MetadataFile, err)
	}
	if doc == nil {
		return Metadata{}, nil
	}
	m, ok := doc.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: %s is not a mapping", ErrIO, MetadataFile)
	}

	md := Metadata(m)
	if _, err := md.WorkflowClasses(); err != nil {
		return nil, err
	}
	return md, nil
}

// WorkflowClasses returns the workflowClasses list in document order. A
// missing key yields an empty list.
func (m Metadata) WorkflowClasses() ([]string, error) {
	raw, ok := m[WorkflowClassesKey]
	if !ok || raw == nil {
		return []string{}, nil
	}
	items, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: %s must be a list, got %T", ErrIO, WorkflowClassesKey, raw)
	}
	out := make([]string, 0, len(items))
	for i, item := range items {
		s, ok := item.(string)
		if !ok || s == "" {
			return nil, fmt.Errorf("%w: %s[%d] must be a class name", ErrIO, WorkflowClassesKey, i)
		}
		out = append(out, s)
	}
	return out, nil
}

// Get returns the value stored under key.
func (m Metadata) Get(key string) (any, bool) {
	v, ok := m[key]
	return v, ok
}

// TaskConcurrency returns the pool size configured for taskID under
// "<taskID>.executionConcurrency". ok is false when none is set.
func (m Metadata) TaskConcurrency(taskID string) (n int, ok bool, err error) {
	section, found := m[taskID]
	if !found || section == nil {
		return 0, false, nil
	}
	fields, isMap := section.(map[string]any)
	if !isMap {
		return 0, false, fmt.Errorf("%w: %s must be a mapping, got %T", ErrIO, taskID, section)
	}
	raw, found := fields[ConcurrencyKey]
	if !found || raw == nil {
		return 0, false, nil
	}
	n, isInt := raw.(int)
	if !isInt || n < 1 {
		return 0, false, fmt.Errorf("%w: %s.%s must be a positive integer, got %v", ErrIO, taskID, ConcurrencyKey, raw)
	}
	return n, true, nil
}
