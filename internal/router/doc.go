// Package router owns one worker pool per task id. Pools are created or
// resized when a deployment unit declaring the task is loaded, and
// invocations of the task run on its pool.
package router
