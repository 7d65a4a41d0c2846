// Package command wraps the backend control RPCs behind one dispatch path.
//
// Every call disables the control that triggered it, runs the RPC with a
// timeout and a correlation id, and re-enables the control on every exit
// path, panics included. Failures are turned into a timed banner through the
// Notifier and are never returned to the caller. Controls are reference
// counted so overlapping calls on the same control each release only their
// own hold.
//
// A Dispatcher is owned by one goroutine. When Options.Post is set the RPC
// itself runs on a separate goroutine and its completion is handed back
// through Post, so a slow backend never blocks the owner.
package command
