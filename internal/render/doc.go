// Package render turns reconciled rows into terminal output.
//
// View implements the reconciler's Renderer contract and the dispatcher's
// banner Notifier. It keeps the latest rows per pipeline plus at most one
// banner, hides the banner when its display time runs out, and renders
// everything as go-pretty tables on demand.
package render
