// Package session runs one UI session: the registry, both queue
// reconcilers, the liveness monitor and the command dispatcher, all driven
// from a single event loop goroutine.
//
// Backend frames, timer callbacks, RPC completions and read queries are
// posted to the loop as closures, so none of the components it owns needs
// locking. Only the loop goroutine ever touches them.
package session
