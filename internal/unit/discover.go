package unit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"github.com/seantiz/flux/internal/isolate"
)

// EntryPoint is a tagged member of a unit class, bound to the unit's context.
type EntryPoint struct {
	ID        string          `json:"id"`
	Kind      isolate.TagKind `json:"kind"`
	Class     string          `json:"class"`
	Method    string          `json:"method"`
	Static    bool            `json:"static"`
	Version   int             `json:"version"`
	TimeoutMS int             `json:"timeout_ms,omitempty"`
	Arity     int             `json:"arity"`

	ctx    *isolate.Context
	handle isolate.Handle
}

// TaskID returns the identifier of a class member: "<class>_<method>".
func TaskID(class, method string) string {
	return class + "_" + method
}

// Invoke calls the entry point with JSON arguments. The argument count must
// match the declared arity. Once the owning unit is unloaded every call
// fails with isolate.ErrContextReleased.
func (e *EntryPoint) Invoke(ctx context.Context, args []json.RawMessage, logf func(string)) (json.RawMessage, error) {
	if len(args) != e.Arity {
		return nil, fmt.Errorf("%w: %s takes %d arguments, got %d", ErrBadSignature, e.ID, e.Arity, len(args))
	}
	return e.ctx.Call(ctx, e.handle, args, logf)
}

// Discover resolves the tag of the given kind and every class listed in the
// metadata inside ctx, and returns the members carrying the tag keyed by
// task id. A class missing from the context aborts the whole discovery.
//
// A member reached through several listed classes, by inheritance or by a
// repeated listing, yields one entry point. It is named after the listed
// class that declares it, or after the first listed class that reaches it
// when its declaring class is not listed.
func Discover(ctx *isolate.Context, md Metadata, kind isolate.TagKind) (map[string]*EntryPoint, error) {
	tag, err := ctx.ResolveTag(kind)
	if errors.Is(err, isolate.ErrSymbolNotFound) {
		return nil, fmt.Errorf("%w: %w", ErrClassNotFound, err)
	}
	if errors.Is(err, isolate.ErrEvaluation) {
		return nil, fmt.Errorf("%w: resolve %s tag: %w", ErrInvalidArtifact, kind, err)
	}
	if err != nil {
		return nil, err
	}

	classes, err := md.WorkflowClasses()
	if err != nil {
		return nil, err
	}

	var tagged []isolate.Member
	var anns []isolate.Annotation
	for _, name := range classes {
		cl, err := ctx.ResolveClass(name)
		if errors.Is(err, isolate.ErrSymbolNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrClassNotFound, name)
		}
		if errors.Is(err, isolate.ErrEvaluation) {
			return nil, fmt.Errorf("%w: resolve class %s: %w", ErrInvalidArtifact, name, err)
		}
		if err != nil {
			return nil, fmt.Errorf("resolve class %s: %w", name, err)
		}

		for _, m := range cl.Members {
			if m.AnnotationErr != nil {
				return nil, fmt.Errorf("%w: %s.%s: %w", ErrBadSignature, m.Class, m.Name, m.AnnotationErr)
			}
			ann, ok := m.Annotation(tag)
			if !ok {
				continue
			}

			i := slices.IndexFunc(tagged, m.SameAs)
			switch {
			case i < 0:
				tagged = append(tagged, m)
				anns = append(anns, ann)
			case tagged[i].Inherited && !m.Inherited:
				tagged[i] = m
			}
		}
	}

	found := make(map[string]*EntryPoint, len(tagged))
	for i, m := range tagged {
		ep, err := bindEntryPoint(ctx, m, anns[i])
		if err != nil {
			return nil, err
		}
		if _, dup := found[ep.ID]; dup {
			return nil, fmt.Errorf("%w: %s is declared both static and on instances", ErrBadSignature, ep.ID)
		}
		found[ep.ID] = ep
	}
	return found, nil
}

func bindEntryPoint(ctx *isolate.Context, m isolate.Member, ann isolate.Annotation) (*EntryPoint, error) {
	if !m.Callable {
		return nil, fmt.Errorf("%w: %s.%s is not a function", ErrBadSignature, m.Class, m.Name)
	}
	if ann.Params >= 0 && ann.Params != m.Arity {
		return nil, fmt.Errorf("%w: %s.%s declares %d params but takes %d", ErrBadSignature, m.Class, m.Name, ann.Params, m.Arity)
	}

	h, err := ctx.Bind(m)
	if err != nil {
		return nil, fmt.Errorf("bind %s.%s: %w", m.Class, m.Name, err)
	}
	return &EntryPoint{
		ID:        TaskID(m.Class, m.Name),
		Kind:      ann.Kind,
		Class:     m.Class,
		Method:    m.Name,
		Static:    m.Static,
		Version:   ann.Version,
		TimeoutMS: ann.TimeoutMS,
		Arity:     m.Arity,
		ctx:       ctx,
		handle:    h,
	}, nil
}
