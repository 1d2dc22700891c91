package isolate

import (
	"fmt"
	"strings"

	"github.com/dop251/goja"
)

// Class is a named object resolved inside a context: either a constructor
// (class or function) or a plain object used as a namespace of functions.
type Class struct {
	Name    string
	Members []Member
}

// Member is a public data property of a class whose value is an object.
type Member struct {
	Class  string
	Name   string
	Static bool
	// Inherited reports whether the property was found further up the
	// prototype chain rather than on the class itself.
	Inherited bool

	// Callable reports whether the member is a function.
	Callable bool
	// Arity is the function's declared parameter count.
	Arity int

	Annotations []Annotation
	// AnnotationErr is set when the member's tags are malformed.
	AnnotationErr error

	ctx       *Context
	value     *goja.Object
	fn        goja.Callable
	owner     *goja.Object
	construct bool
}

// SameAs reports whether m and o are the same property value reached under
// the same name, possibly through different classes.
func (m Member) SameAs(o Member) bool {
	return m.ctx == o.ctx && m.Name == o.Name && m.Static == o.Static &&
		m.value != nil && o.value != nil && m.value.SameAs(o.value)
}

// HasTag reports whether the member carries t. A tag resolved in another
// context never matches.
func (m Member) HasTag(t Tag) bool {
	_, ok := m.Annotation(t)
	return ok
}

// Annotation returns the member's annotation for t.
func (m Member) Annotation(t Tag) (Annotation, bool) {
	if m.ctx == nil || t.owner != m.ctx.id {
		return Annotation{}, false
	}
	for _, a := range m.Annotations {
		if a.Kind == t.kind {
			return a, true
		}
	}
	return Annotation{}, false
}

// ResolveClass resolves a dotted class name inside the context and
// enumerates its public members: own and inherited, static and prototype.
// Names starting with an underscore are private. Accessor properties are
// skipped, so no user getter runs during resolution.
func (c *Context) ResolveClass(name string) (*Class, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.released.Load() {
		return nil, ErrContextReleased
	}

	var cl *Class
	err := c.guarded(func() error {
		value, err := c.lookup(name)
		if err != nil {
			return err
		}

		describe, err := c.describer()
		if err != nil {
			return err
		}
		stops := []*goja.Object{c.builtinPrototype("Object"), c.builtinPrototype("Function")}

		cl = &Class{Name: name}
		w := walker{c: c, describe: describe, class: name, owner: value, stops: stops}
		if cl.Members, err = w.collect(cl.Members, value, true, false); err != nil {
			return err
		}
		if _, ok := goja.AssertConstructor(value); ok {
			if proto, ok := value.Get("prototype").(*goja.Object); ok {
				if cl.Members, err = w.collect(cl.Members, proto, false, true); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return cl, nil
}

func (c *Context) builtinPrototype(ctor string) *goja.Object {
	obj, ok := c.vm.Get(ctor).(*goja.Object)
	if !ok {
		return nil
	}
	proto, _ := obj.Get("prototype").(*goja.Object)
	return proto
}

// describer returns the runtime's Object.getOwnPropertyDescriptor.
func (c *Context) describer() (goja.Callable, error) {
	obj, ok := c.vm.Get("Object").(*goja.Object)
	if ok {
		if fn, ok := goja.AssertFunction(obj.Get("getOwnPropertyDescriptor")); ok {
			return fn, nil
		}
	}
	return nil, fmt.Errorf("%w: Object.getOwnPropertyDescriptor is unavailable", ErrEvaluation)
}

type walker struct {
	c        *Context
	describe goja.Callable
	class    string
	owner    *goja.Object
	stops    []*goja.Object
}

// collect walks start and its prototype chain until one of the stops,
// keeping the first occurrence of every public name.
func (w walker) collect(out []Member, start *goja.Object, static, construct bool) ([]Member, error) {
	seen := make(map[string]bool)
	for obj := start; obj != nil && !isAny(obj, w.stops); obj = obj.Prototype() {
		for _, name := range obj.GetOwnPropertyNames() {
			if seen[name] || !isPublic(name) {
				continue
			}
			seen[name] = true

			v, err := w.dataProperty(obj, name)
			if err != nil {
				return nil, err
			}
			if v == nil {
				continue
			}
			m := Member{
				Class:     w.class,
				Name:      name,
				Static:    static,
				Inherited: !obj.SameAs(start),
				ctx:       w.c,
				value:     v,
				owner:     w.owner,
				construct: construct,
			}
			if fn, ok := goja.AssertFunction(v); ok {
				m.Callable = true
				m.fn = fn
				m.Arity = int(v.Get("length").ToInteger())
			}
			m.Annotations, m.AnnotationErr = parseAnnotations(v)
			out = append(out, m)
		}
	}
	return out, nil
}

// dataProperty returns the object held by obj's own data property name, or
// nil when the property is an accessor or holds a primitive.
func (w walker) dataProperty(obj *goja.Object, name string) (*goja.Object, error) {
	d, err := w.describe(goja.Undefined(), obj, w.c.vm.ToValue(name))
	if err != nil {
		return nil, fmt.Errorf("%w: describe %s: %w", ErrEvaluation, name, err)
	}
	desc, ok := d.(*goja.Object)
	if !ok {
		return nil, nil
	}
	if isSet(desc.Get("get")) || isSet(desc.Get("set")) {
		return nil, nil
	}
	v, _ := desc.Get("value").(*goja.Object)
	return v, nil
}

func isSet(v goja.Value) bool {
	return v != nil && !goja.IsUndefined(v)
}

var reservedNames = map[string]bool{
	"constructor": true,
	"prototype":   true,
	"length":      true,
	"name":        true,
	"caller":      true,
	"arguments":   true,
	tagsProperty:  true,
}

func isPublic(name string) bool {
	return !reservedNames[name] && !strings.HasPrefix(name, "_")
}

func isAny(obj *goja.Object, set []*goja.Object) bool {
	for _, s := range set {
		if s != nil && obj.SameAs(s) {
			return true
		}
	}
	return false
}
