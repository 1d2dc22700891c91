package isolate

import (
	"fmt"
	"math"

	"github.com/dop251/goja"
)

// TagKind names a capability tag.
type TagKind string

const (
	TagWorkflow TagKind = "workflow"
	TagTask     TagKind = "task"
)

// Client library names installed into every context.
const (
	clientLibrary = "flux"
	tagsProperty  = "__flux_tags__"
)

var tagDefinitions = map[TagKind]string{
	TagWorkflow: clientLibrary + ".Workflow",
	TagTask:     clientLibrary + ".Task",
}

// ParseTagKind converts a string into a known TagKind.
func ParseTagKind(s string) (TagKind, error) {
	k := TagKind(s)
	if _, ok := tagDefinitions[k]; !ok {
		return "", fmt.Errorf("unknown tag kind %q", s)
	}
	return k, nil
}

// Tag is a capability tag resolved inside one context. Tags from different
// contexts never match each other's members.
type Tag struct {
	kind  TagKind
	owner uint64
}

// Kind returns the tag's kind.
func (t Tag) Kind() TagKind {
	return t.kind
}

// Annotation is one tag attached to a member by flux.task or flux.workflow.
type Annotation struct {
	Kind      TagKind `json:"kind"`
	Version   int     `json:"version"`
	TimeoutMS int     `json:"timeout_ms,omitempty"`
	// Params is the declared arity, or -1 when the tag does not declare one.
	Params int `json:"params"`
}

// ResolveTag looks up the client library's definition of kind inside this
// context and returns a tag scoped to it.
func (c *Context) ResolveTag(kind TagKind) (Tag, error) {
	name, ok := tagDefinitions[kind]
	if !ok {
		return Tag{}, fmt.Errorf("unknown tag kind %q", kind)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.released.Load() {
		return Tag{}, ErrContextReleased
	}

	err := c.guarded(func() error {
		def, err := c.lookup(name)
		if err != nil {
			return err
		}
		if got := def.Get("kind"); got == nil || got.String() != string(kind) {
			return fmt.Errorf("%w: %s is not a %s tag definition", ErrSymbolNotFound, name, kind)
		}
		return nil
	})
	if err != nil {
		return Tag{}, err
	}
	return Tag{kind: kind, owner: c.id}, nil
}

// tagger returns the native implementation of flux.task / flux.workflow. It
// records an annotation on the target and returns the target unchanged.
func (c *Context) tagger(kind TagKind) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		target, ok := call.Argument(0).(*goja.Object)
		if !ok {
			panic(c.vm.NewTypeError("flux.%s: target must be a function", kind))
		}

		ann := c.vm.NewObject()
		if opts, ok := call.Argument(1).(*goja.Object); ok {
			for _, k := range opts.Keys() {
				_ = ann.Set(k, opts.Get(k))
			}
		}
		_ = ann.Set("kind", string(kind))

		list, ok := target.Get(tagsProperty).(*goja.Object)
		if !ok {
			list = c.vm.NewArray()
			if err := target.DefineDataProperty(tagsProperty, list, goja.FLAG_FALSE, goja.FLAG_FALSE, goja.FLAG_FALSE); err != nil {
				panic(c.vm.NewTypeError("flux.%s: %v", kind, err))
			}
		}
		_ = list.Set(fmt.Sprint(list.Get("length").ToInteger()), ann)
		return target
	}
}

func parseAnnotations(v *goja.Object) ([]Annotation, error) {
	raw, ok := v.Get(tagsProperty).(*goja.Object)
	if !ok {
		return nil, nil
	}
	items, ok := raw.Export().([]interface{})
	if !ok {
		return nil, fmt.Errorf("tag list has type %T", raw.Export())
	}

	out := make([]Annotation, 0, len(items))
	for i, item := range items {
		fields, ok := item.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("tag %d has type %T", i, item)
		}
		kind, _ := fields["kind"].(string)
		a := Annotation{Kind: TagKind(kind), Params: -1}

		var err error
		if a.Version, err = intField(fields, "version", 0); err != nil {
			return nil, err
		}
		if a.TimeoutMS, err = intField(fields, "timeout", 0); err != nil {
			return nil, err
		}
		if _, present := fields["timeout"]; present && a.TimeoutMS == 0 {
			return nil, fmt.Errorf("timeout must be positive")
		}
		if _, present := fields["params"]; present {
			if a.Params, err = intField(fields, "params", 0); err != nil {
				return nil, err
			}
		}
		out = append(out, a)
	}
	return out, nil
}

// intField reads a non-negative integer option. JS numbers export as int64
// when integral and float64 otherwise.
func intField(fields map[string]interface{}, key string, def int) (int, error) {
	raw, ok := fields[key]
	if !ok || raw == nil {
		return def, nil
	}

	var n int64
	switch v := raw.(type) {
	case int64:
		n = v
	case int:
		n = int64(v)
	case float64:
		if v != math.Trunc(v) || math.IsInf(v, 0) {
			return 0, fmt.Errorf("%s must be an integer, got %v", key, v)
		}
		n = int64(v)
	default:
		return 0, fmt.Errorf("%s must be an integer, got %T", key, raw)
	}
	if n < 0 {
		return 0, fmt.Errorf("%s must not be negative, got %d", key, n)
	}
	return int(n), nil
}
