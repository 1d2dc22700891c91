// Package engine runs task invocations. Each invocation is recorded as
// pending, queued on the worker pool of its task, run against the newest
// live unit declaring the task under a deadline, and finished as completed,
// failed or killed. Console output is persisted and streamed to subscribers.
package engine
