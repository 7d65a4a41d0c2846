// Package task owns the local view of backend jobs: the Task record, the
// status state machine both pipelines share, and the Registry that creates,
// patches and eventually drops tasks.
//
// The Registry is not safe for concurrent use. Every call is expected to come
// from one logical thread (the session event loop), including the removal
// timer callbacks, which the session posts back onto that loop.
package task
