// Package notifications pushes task alerts to ntfy.
//
// NewService returns an ntfy publisher when a topic is configured and a no-op
// otherwise. Relay sits between the session and the service: it turns
// registry transitions and control failure banners into events and sends
// them off the session loop.
package notifications
