package isolate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dop251/goja"
)

// DefaultEvalTimeout bounds the evaluation of all artifacts of one context.
const DefaultEvalTimeout = 10 * time.Second

// ScriptExt is the extension of artifacts that are evaluated as code.
const ScriptExt = ".js"

var nextContextID atomic.Uint64

// Artifact is one code file owned by a context.
type Artifact struct {
	Path string `json:"path"`
	Lib  bool   `json:"lib"`
}

// Options configures a new Context.
type Options struct {
	// Name labels the context in logs.
	Name string

	// Artifacts are evaluated in order. Only files ending in ScriptExt are
	// executed; the rest are owned but inert.
	Artifacts []Artifact

	// ResourceRoots are directories searched, in order, by OpenResource.
	ResourceRoots []string

	// EvalTimeout bounds artifact evaluation. Zero means DefaultEvalTimeout.
	EvalTimeout time.Duration

	Logger *slog.Logger
}

// Context is an isolated code and resource scope backed by one goja runtime.
// A goja runtime is single-threaded, so every access goes through mu.
type Context struct {
	id        uint64
	name      string
	logger    *slog.Logger
	artifacts []Artifact
	roots     []*os.Root
	timeout   time.Duration

	released atomic.Bool

	mu      sync.Mutex
	vm      *goja.Runtime
	handles []*slot
	sink    func(string)
}

// slot is one arena entry addressed by a Handle.
type slot struct {
	fn        goja.Callable
	owner     *goja.Object
	construct bool
}

// Handle addresses a callable bound inside a context.
type Handle struct {
	ctx   uint64
	index int
}

// New builds a context: it opens the resource roots, installs the client
// library and console, then evaluates the artifacts. On any failure the
// half-built context is discarded.
func New(opts Options) (*Context, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	c := &Context{
		id:        nextContextID.Add(1),
		name:      opts.Name,
		logger:    logger,
		artifacts: slices.Clone(opts.Artifacts),
		vm:        goja.New(),
	}

	for _, dir := range opts.ResourceRoots {
		root, err := os.OpenRoot(dir)
		if err != nil {
			c.discard()
			return nil, fmt.Errorf("open resource root %s: %w", dir, err)
		}
		c.roots = append(c.roots, root)
	}

	c.installClientLibrary()
	c.installConsole()

	c.timeout = opts.EvalTimeout
	if c.timeout <= 0 {
		c.timeout = DefaultEvalTimeout
	}
	if err := c.evaluate(c.timeout); err != nil {
		c.discard()
		return nil, err
	}

	c.logger.Debug("context built", "context_id", c.id, "artifacts", len(c.artifacts), "resource_roots", len(c.roots))
	return c, nil
}

// ID returns the process-unique identifier of the context.
func (c *Context) ID() uint64 { return c.id }

// Name returns the label given at construction.
func (c *Context) Name() string { return c.name }

// Artifacts returns the code artifacts owned by the context.
func (c *Context) Artifacts() []Artifact { return slices.Clone(c.artifacts) }

// Released reports whether Release has been called.
func (c *Context) Released() bool { return c.released.Load() }

// Handles returns the number of outstanding handles.
func (c *Context) Handles() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.handles)
}

func (c *Context) evaluate(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	stop := c.interruptOn(ctx)
	defer stop()

	for _, a := range c.artifacts {
		if !strings.EqualFold(filepath.Ext(a.Path), ScriptExt) {
			continue
		}
		src, err := os.ReadFile(a.Path)
		if err != nil {
			return fmt.Errorf("%w: read %s: %w", ErrEvaluation, a.Path, err)
		}
		prg, err := goja.Compile(a.Path, string(src), false)
		if err != nil {
			return fmt.Errorf("%w: compile %s: %w", ErrEvaluation, a.Path, err)
		}
		if _, err := c.vm.RunProgram(prg); err != nil {
			return fmt.Errorf("%w: run %s: %w", ErrEvaluation, a.Path, err)
		}
	}
	return nil
}

// interruptOn interrupts the runtime when ctx is done. The returned func must
// be called after the guarded run returns; it waits for the watcher to exit
// before clearing the interrupt flag.
func (c *Context) interruptOn(ctx context.Context) func() {
	done := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		select {
		case <-ctx.Done():
			c.vm.Interrupt(ctx.Err())
		case <-done:
		}
	}()
	return func() {
		close(done)
		<-stopped
		c.vm.ClearInterrupt()
	}
}

// guarded runs f against the runtime with the evaluation deadline. A JS
// exception or an interrupt raised inside f is returned as ErrEvaluation.
// The caller must hold mu.
func (c *Context) guarded(f func() error) (err error) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	stop := c.interruptOn(ctx)
	defer stop()

	defer func() {
		if x := recover(); x != nil {
			ie, ok := x.(*goja.InterruptedError)
			if !ok {
				panic(x)
			}
			err = fmt.Errorf("%w: %w", ErrEvaluation, ie)
		}
	}()
	if ex := c.vm.Try(func() { err = f() }); ex != nil {
		return fmt.Errorf("%w: %w", ErrEvaluation, ex)
	}
	return err
}

// lookup resolves a dotted name starting from the runtime's global scope,
// which includes top-level let/const/class bindings.
func (c *Context) lookup(name string) (*goja.Object, error) {
	parts := strings.Split(name, ".")
	if name == "" || slices.Contains(parts, "") {
		return nil, fmt.Errorf("%w: invalid name %q", ErrSymbolNotFound, name)
	}

	v := c.vm.Get(parts[0])
	for _, part := range parts[1:] {
		obj, ok := v.(*goja.Object)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrSymbolNotFound, name)
		}
		v = obj.Get(part)
	}
	obj, ok := v.(*goja.Object)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSymbolNotFound, name)
	}
	return obj, nil
}

// OpenResource opens name from the first resource root that holds it as a
// regular file. Names cannot escape their root.
func (c *Context) OpenResource(name string) (io.ReadCloser, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.released.Load() {
		return nil, ErrContextReleased
	}

	for _, root := range c.roots {
		f, err := root.Open(name)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("open resource %s: %w", name, err)
		}
		info, err := f.Stat()
		if err != nil || !info.Mode().IsRegular() {
			f.Close()
			continue
		}
		return f, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrResourceNotFound, name)
}

// Bind registers a callable member in the context's arena and returns its
// handle. The member must have been resolved in this context.
func (c *Context) Bind(m Member) (Handle, error) {
	if m.ctx != c {
		return Handle{}, fmt.Errorf("%w: %s.%s belongs to another context", ErrInvalidHandle, m.Class, m.Name)
	}
	if !m.Callable {
		return Handle{}, fmt.Errorf("%w: %s.%s is not callable", ErrInvalidHandle, m.Class, m.Name)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.released.Load() {
		return Handle{}, ErrContextReleased
	}
	c.handles = append(c.handles, &slot{fn: m.fn, owner: m.owner, construct: m.construct})
	return Handle{ctx: c.id, index: len(c.handles) - 1}, nil
}

// Call invokes the callable behind h. Arguments and the result are JSON
// values. Console output produced during the call is passed to logf when it
// is non-nil. Cancelling ctx interrupts the running script.
func (c *Context) Call(ctx context.Context, h Handle, args []json.RawMessage, logf func(string)) (json.RawMessage, error) {
	if c.released.Load() {
		return nil, ErrContextReleased
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.released.Load() {
		return nil, ErrContextReleased
	}
	if h.ctx != c.id || h.index < 0 || h.index >= len(c.handles) {
		return nil, ErrInvalidHandle
	}
	s := c.handles[h.index]

	jsArgs := make([]goja.Value, len(args))
	for i, raw := range args {
		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("%w: argument %d: %w", ErrEncoding, i, err)
		}
		jsArgs[i] = c.vm.ToValue(v)
	}

	c.sink = logf
	defer func() { c.sink = nil }()

	stop := c.interruptOn(ctx)
	result, err := c.invoke(s, jsArgs)
	stop()

	if err != nil {
		if c.released.Load() {
			return nil, ErrContextReleased
		}
		var interrupted *goja.InterruptedError
		if errors.As(err, &interrupted) && ctx.Err() != nil {
			return nil, fmt.Errorf("call interrupted: %w", ctx.Err())
		}
		return nil, err
	}
	return encodeResult(result)
}

func (c *Context) invoke(s *slot, args []goja.Value) (goja.Value, error) {
	var this goja.Value = s.owner
	if s.construct {
		inst, err := c.vm.New(s.owner)
		if err != nil {
			return nil, fmt.Errorf("construct receiver: %w", err)
		}
		this = inst
	}
	return s.fn(this, args...)
}

func encodeResult(v goja.Value) (json.RawMessage, error) {
	if p, ok := exportPromise(v); ok {
		switch p.State() {
		case goja.PromiseStateFulfilled:
			v = p.Result()
		case goja.PromiseStateRejected:
			return nil, fmt.Errorf("promise rejected: %s", formatValue(p.Result()))
		default:
			return nil, errors.New("promise still pending when call returned")
		}
	}

	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return json.RawMessage("null"), nil
	}
	b, err := json.Marshal(v.Export())
	if err != nil {
		return nil, fmt.Errorf("%w: result: %w", ErrEncoding, err)
	}
	return b, nil
}

func exportPromise(v goja.Value) (*goja.Promise, bool) {
	if v == nil {
		return nil, false
	}
	p, ok := v.Export().(*goja.Promise)
	return p, ok
}

// Release drops the runtime, invalidates every handle and closes the
// resource roots. A running call is interrupted. Calling Release again is a
// no-op.
func (c *Context) Release() error {
	if !c.released.CompareAndSwap(false, true) {
		return nil
	}
	c.vm.Interrupt(ErrContextReleased)

	c.mu.Lock()
	defer c.mu.Unlock()
	outstanding := len(c.handles)
	c.handles = nil
	c.vm = nil
	err := c.closeRoots()

	c.logger.Debug("context released", "context_id", c.id, "handles", outstanding)
	return err
}

// discard tears down a context that never finished construction.
func (c *Context) discard() {
	c.released.Store(true)
	c.vm = nil
	_ = c.closeRoots()
}

func (c *Context) closeRoots() error {
	var errs []error
	for _, root := range c.roots {
		if err := root.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	c.roots = nil
	return errors.Join(errs...)
}
