// Package backend talks to the task backend process.
//
// Client issues the control RPCs as JSON-RPC 2.0 requests over HTTP. Stream
// holds a websocket open to the backend's event endpoint, forwards every
// frame to a sink, and reconnects with exponential backoff when the
// connection drops.
package backend
