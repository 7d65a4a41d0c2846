// Package httpapi serves a running session over HTTP: the tracked tasks, the
// rows each pipeline renders, control state, the transition history and
// Prometheus metrics. Control endpoints only queue a request on the session
// loop; the outcome shows up in the session view the same way a UI click's
// would.
package httpapi
