// Package isolate provides shared-nothing execution contexts for deployment
// units. Each Context owns one goja JavaScript runtime, the code artifacts
// evaluated into it and the resource roots it may read from. Nothing is
// looked up in the host process: symbols, tag definitions and resources are
// resolved strictly inside the context that owns them.
//
// Callables discovered inside a context are exposed as Handles. Releasing the
// context invalidates every outstanding handle, so a call made after release
// fails with ErrContextReleased instead of touching a dropped runtime.
package isolate
