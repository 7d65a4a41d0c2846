// Package events is the gateway between the backend's untyped event channels
// and the rest of courier. It decodes each payload into a typed event,
// rejects payloads missing required keys, and applies task lifecycle events
// to the registry.
package events
