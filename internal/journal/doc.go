// Package journal keeps a durable record of task status transitions in a
// local SQLite database.
//
// Appends are queued on a bounded buffer and written by a single background
// goroutine in small batches, so callers on the event loop never wait on
// disk. When the buffer is full new transitions are dropped and counted
// rather than blocking.
package journal
