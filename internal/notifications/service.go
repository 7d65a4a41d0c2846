package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"courier/internal/config"
)

const userAgent = "courier/0.1"

// Event names one kind of notification.
type Event string

const (
	EventTaskFailed    Event = "task_failed"
	EventExtractFailed Event = "extract_failed"
	EventTaskStalled   Event = "task_stalled"
	EventTaskCompleted Event = "task_completed"
	EventControlFailed Event = "control_failed"
	EventTest          Event = "test"
)

// Payload carries the event's fields. Keys used: name, pipeline, reason,
// diagnostic, title, message.
type Payload map[string]string

// Service publishes events.
type Service interface {
	Publish(ctx context.Context, event Event, payload Payload) error
}

// NewService builds an ntfy publisher, or a noop when no topic is set.
func NewService(cfg *config.Config) Service {
	if cfg == nil {
		return noopService{}
	}
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}
	return &ntfyService{
		endpoint: topic,
		client:   &http.Client{Timeout: publishTimeout(cfg)},
	}
}

type message struct {
	title    string
	body     string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint string
	client   *http.Client
}

func (n *ntfyService) Publish(ctx context.Context, event Event, payload Payload) error {
	msg, err := format(event, payload)
	if err != nil {
		return err
	}
	return n.send(ctx, msg)
}

func format(event Event, payload Payload) (message, error) {
	name := payload.value("name", "unnamed task")
	pipeline := payload.value("pipeline", "download")
	switch event {
	case EventTaskFailed, EventExtractFailed:
		verb := "Download"
		if event == EventExtractFailed {
			verb = "Extract"
		}
		body := fmt.Sprintf("%s failed: %s", verb, name)
		if diag := strings.TrimSpace(payload["diagnostic"]); diag != "" {
			body += "\n" + diag
		}
		return message{
			title:    "Courier - " + verb + " Failed",
			body:     body,
			tags:     []string{"courier", pipeline, "failed"},
			priority: "high",
		}, nil
	case EventTaskStalled:
		return message{
			title: "Courier - Stalled",
			body:  fmt.Sprintf("No progress on %s, canceling", name),
			tags:  []string{"courier", pipeline, "stalled"},
		}, nil
	case EventTaskCompleted:
		verb := "Downloaded"
		if pipeline == "extract" {
			verb = "Extracted"
		}
		return message{
			title: "Courier - Complete",
			body:  fmt.Sprintf("%s: %s", verb, name),
			tags:  []string{"courier", pipeline, "completed"},
		}, nil
	case EventControlFailed:
		return message{
			title:    "Courier - " + payload.value("title", "Control failed"),
			body:     payload.value("message", "unknown error"),
			tags:     []string{"courier", "control", "failed"},
			priority: "high",
		}, nil
	case EventTest:
		return message{
			title:    "Courier - Test",
			body:     "Notification system test",
			tags:     []string{"courier", "test"},
			priority: "low",
		}, nil
	default:
		return message{}, fmt.Errorf("unknown notification event %q", event)
	}
}

func (p Payload) value(key, fallback string) string {
	if v := strings.TrimSpace(p[key]); v != "" {
		return v
	}
	return fallback
}

func (n *ntfyService) send(ctx context.Context, msg message) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(msg.body))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if msg.title != "" {
		req.Header.Set("Title", msg.title)
	}
	if len(msg.tags) > 0 {
		req.Header.Set("Tags", strings.Join(msg.tags, ","))
	}
	if msg.priority != "" && msg.priority != "default" {
		req.Header.Set("Priority", msg.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) Publish(context.Context, Event, Payload) error { return nil }

// Enabled reports whether svc actually sends anything.
func Enabled(svc Service) bool {
	_, noop := svc.(noopService)
	return svc != nil && !noop
}

// publishTimeout caps a single send issued by the relay.
func publishTimeout(cfg *config.Config) time.Duration {
	if cfg == nil || cfg.NotificationTimeout() <= 0 {
		return 10 * time.Second
	}
	return cfg.NotificationTimeout()
}
