package config

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateBackend(); err != nil {
		return err
	}
	if err := c.validateLiveness(); err != nil {
		return err
	}
	if err := c.validateRemoval(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	if err := c.validateNotifications(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateNotifications() error {
	if c.Notifications.NtfyTopic == "" {
		return nil
	}
	topic, err := url.Parse(c.Notifications.NtfyTopic)
	if err != nil || (topic.Scheme != "http" && topic.Scheme != "https") || topic.Host == "" {
		return fmt.Errorf("notifications.ntfy_topic must be an http(s) url, got %q", c.Notifications.NtfyTopic)
	}
	return nil
}

func (c *Config) validateBackend() error {
	rpc, err := url.Parse(c.Backend.RPCURL)
	if err != nil || (rpc.Scheme != "http" && rpc.Scheme != "https") || rpc.Host == "" {
		return fmt.Errorf("backend.rpc_url must be an http(s) url, got %q", c.Backend.RPCURL)
	}
	events, err := url.Parse(c.Backend.EventsURL)
	if err != nil || (events.Scheme != "ws" && events.Scheme != "wss") || events.Host == "" {
		return fmt.Errorf("backend.events_url must be a ws(s) url, got %q", c.Backend.EventsURL)
	}
	return ensurePositiveMap(map[string]int{
		"backend.request_timeout":       c.Backend.RequestTimeout,
		"backend.reconnect_max_backoff": c.Backend.ReconnectMaxBackoff,
	})
}

func (c *Config) validateLiveness() error {
	if err := ensurePositiveMap(map[string]int{
		"liveness.tick_interval":       c.Liveness.TickInterval,
		"liveness.stall_threshold":     c.Liveness.StallThreshold,
		"liveness.stall_removal_delay": c.Liveness.StallRemovalDelay,
	}); err != nil {
		return err
	}
	if c.Liveness.StallThreshold <= c.Liveness.TickInterval {
		return errors.New("liveness.stall_threshold must be greater than liveness.tick_interval")
	}
	return nil
}

func (c *Config) validateRemoval() error {
	return ensurePositiveMap(map[string]int{
		"removal.saved_delay":     c.Removal.SavedDelay,
		"removal.extracted_delay": c.Removal.ExtractedDelay,
		"removal.failed_delay":    c.Removal.FailedDelay,
		"removal.canceled_delay":  c.Removal.CanceledDelay,
	})
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format must be console or json, got %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level %q is not recognized", c.Logging.Level)
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if values[key] <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
