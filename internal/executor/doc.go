// Package executor runs a single task inside a task process.
//
// Each task kind has an Executor. An executor either finishes the task with
// a message or continues it by returning successor tasks, which the worker
// pool swaps in for the original once the process exits cleanly. Executors
// reach the outside world only through Env: the remote vault, the local
// inventory, the multipart part tracker and an event sink.
//
// Dispatch is the entry point used by the task process. It turns the
// outcome of an executor into events, successors and an exit code.
package executor
