package notifications

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"courier/internal/command"
	"courier/internal/config"
	"courier/internal/logging"
	"courier/internal/task"
)

// Relay forwards task alerts to a Service without blocking the caller.
type Relay struct {
	service   Service
	logger    *slog.Logger
	timeout   time.Duration
	completed bool

	wg sync.WaitGroup
}

// NewRelay builds a relay for svc using the notification settings in cfg.
func NewRelay(svc Service, cfg *config.Config, logger *slog.Logger) *Relay {
	if svc == nil {
		svc = noopService{}
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	r := &Relay{
		service: svc,
		logger:  logging.NewComponentLogger(logger, "notifications"),
		timeout: publishTimeout(cfg),
	}
	if cfg != nil {
		r.completed = cfg.Notifications.NotifyCompleted
	}
	return r
}

// Transition publishes failures, stalls and, when enabled, completions.
// Implied steps are ignored.
func (r *Relay) Transition(t task.Task, tr task.Transition) {
	if tr.Implied {
		return
	}
	var event Event
	switch tr.To {
	case task.StatusFailed:
		event = EventTaskFailed
	case task.StatusExtractFailed:
		event = EventExtractFailed
	case task.StatusStalled:
		event = EventTaskStalled
	case task.StatusExtracted:
		event = EventTaskCompleted
	case task.StatusDownloaded:
		if !t.SaveOnly {
			return
		}
		event = EventTaskCompleted
	default:
		return
	}
	if event == EventTaskCompleted && !r.completed {
		return
	}
	name := t.DisplayName
	if name == "" {
		name = tr.TaskID
	}
	payload := Payload{
		"name":     name,
		"pipeline": string(tr.Kind),
		"reason":   tr.Reason,
	}
	if t.RawDiagnostic != "" {
		payload["diagnostic"] = t.RawDiagnostic
	}
	r.publish(event, payload, logging.TaskID(tr.TaskID), logging.Pipeline(string(tr.Kind)))
}

// Show publishes a control failure banner.
func (r *Relay) Show(b command.Banner) {
	r.publish(EventControlFailed, Payload{"title": b.Title, "message": b.Message})
}

// Wait blocks until every publish started so far has finished.
func (r *Relay) Wait() {
	r.wg.Wait()
}

func (r *Relay) publish(event Event, payload Payload, attrs ...logging.Attr) {
	if !Enabled(r.service) {
		return
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		defer cancel()
		if err := r.service.Publish(ctx, event, payload); err != nil {
			attrs = append(attrs,
				logging.String("event", string(event)),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check notifications.ntfy_topic"),
				logging.String(logging.FieldImpact, "alert not delivered"),
			)
			logging.WarnWithContext(r.logger, "notification failed", "notification_failed", attrs...)
		}
	}()
}

// Banners fans a banner out to several notifiers.
type Banners []command.Notifier

// Show implements command.Notifier.
func (b Banners) Show(banner command.Banner) {
	for _, n := range b {
		if n != nil {
			n.Show(banner)
		}
	}
}
