package isolate

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/dop251/goja"
)

// installClientLibrary binds a fresh flux object into the runtime:
//
//	flux.Task, flux.Workflow    tag definitions
//	flux.task(fn, opts)         tag fn as a task
//	flux.workflow(fn, opts)     tag fn as a workflow
//	flux.define(name, value)    publish value under a dotted class name
//
// Every context gets its own objects, so definitions never leak between units.
func (c *Context) installClientLibrary() {
	lib := c.vm.NewObject()
	for kind, name := range tagDefinitions {
		def := c.vm.NewObject()
		_ = def.Set("kind", string(kind))
		_ = lib.Set(strings.TrimPrefix(name, clientLibrary+"."), def)
		_ = lib.Set(string(kind), c.tagger(kind))
	}
	_ = lib.Set("define", c.define)
	_ = c.vm.Set(clientLibrary, lib)
}

func (c *Context) define(call goja.FunctionCall) goja.Value {
	name := call.Argument(0).String()
	value := call.Argument(1)

	parts := strings.Split(name, ".")
	if name == "" || slices.Contains(parts, "") {
		panic(c.vm.NewTypeError("flux.define: invalid name %q", name))
	}

	cur := c.vm.GlobalObject()
	for _, part := range parts[:len(parts)-1] {
		existing := cur.Get(part)
		next, ok := existing.(*goja.Object)
		if !ok {
			if existing != nil && !goja.IsUndefined(existing) {
				panic(c.vm.NewTypeError("flux.define: %s is not a namespace in %q", part, name))
			}
			next = c.vm.NewObject()
			_ = cur.Set(part, next)
		}
		cur = next
	}
	_ = cur.Set(parts[len(parts)-1], value)
	return value
}

var consoleLevels = map[string]slog.Level{
	"debug": slog.LevelDebug,
	"log":   slog.LevelInfo,
	"info":  slog.LevelInfo,
	"warn":  slog.LevelWarn,
	"error": slog.LevelError,
}

func (c *Context) installConsole() {
	console := c.vm.NewObject()
	for name, level := range consoleLevels {
		_ = console.Set(name, c.consoleFn(strings.ToUpper(name), level))
	}
	_ = c.vm.Set("console", console)
}

func (c *Context) consoleFn(label string, level slog.Level) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		parts := make([]string, len(call.Arguments))
		for i, arg := range call.Arguments {
			parts[i] = formatValue(arg)
		}
		msg := strings.Join(parts, " ")

		c.logger.Log(context.Background(), level, msg, "source", "console")
		if c.sink != nil {
			c.sink(fmt.Sprintf("[%s] %s", label, msg))
		}
		return goja.Undefined()
	}
}

func formatValue(v goja.Value) string {
	if v == nil || goja.IsUndefined(v) {
		return "undefined"
	}
	if goja.IsNull(v) {
		return "null"
	}
	if obj, ok := v.(*goja.Object); ok {
		if _, isFn := goja.AssertFunction(obj); !isFn {
			if b, err := json.Marshal(obj.Export()); err == nil {
				return string(b)
			}
		}
	}
	return v.String()
}
