// Command courier watches a download/extraction backend and keeps a live
// per-pipeline table of its tasks.
//
// `courier watch` runs the session: it follows the backend event stream,
// reconciles queue snapshots, forces stalled tasks out, records every status
// transition in the journal and serves the session over HTTP. The other
// commands are one-shot helpers around the same backend and state.
package main
