// Package reconcile merges the backend's periodic queue snapshots with the
// event-driven registry into one positioned, de-duplicated list of rows per
// pipeline, and tells a Renderer only about what changed.
package reconcile
