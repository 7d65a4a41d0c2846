package events

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"courier/internal/logging"
)

// Handler receives decoded events for one channel.
type Handler func(Event)

// Observer is told about every delivery outcome. Any field may be nil.
type Observer struct {
	Delivered func(Channel)
	Malformed func(Channel)
}

// Gateway demultiplexes raw channel payloads to one handler per channel.
type Gateway struct {
	logger   *slog.Logger
	observer Observer

	mu       sync.Mutex
	handlers map[Channel]Handler
}

// NewGateway constructs a gateway with no subscriptions.
func NewGateway(logger *slog.Logger, observer Observer) *Gateway {
	return &Gateway{
		logger:   logging.NewComponentLogger(logger, "gateway"),
		observer: observer,
		handlers: make(map[Channel]Handler),
	}
}

// Subscribe registers handler for ch. Each channel accepts one subscription
// per session; the returned function releases it.
func (g *Gateway) Subscribe(ch Channel, handler Handler) (func(), error) {
	if !known(ch) {
		return nil, fmt.Errorf("subscribe %s: %w", ch, ErrUnknownChannel)
	}
	if handler == nil {
		return nil, fmt.Errorf("subscribe %s: nil handler", ch)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, exists := g.handlers[ch]; exists {
		return nil, fmt.Errorf("subscribe %s: %w", ch, ErrAlreadySubscribed)
	}
	g.handlers[ch] = handler

	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			defer g.mu.Unlock()
			delete(g.handlers, ch)
		})
	}, nil
}

// Subscribed reports whether ch has a handler.
func (g *Gateway) Subscribed(ch Channel) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.handlers[ch]
	return ok
}

// Deliver decodes raw and hands the event to the channel's handler.
// Malformed payloads are logged and dropped; the returned error is for the
// caller's accounting only and never needs to be surfaced.
func (g *Gateway) Deliver(ch Channel, raw []byte) error {
	g.mu.Lock()
	handler := g.handlers[ch]
	g.mu.Unlock()
	if handler == nil {
		logging.DebugEvent(g.logger, "no subscriber for channel", "event_unrouted", logging.String(logging.FieldChannel, string(ch)))
		return nil
	}

	event, err := Decode(ch, raw)
	if err != nil {
		var malformed *MalformedEventError
		if errors.As(err, &malformed) {
			if g.observer.Malformed != nil {
				g.observer.Malformed(ch)
			}
			logging.WarnWithContext(g.logger, "dropping malformed event", "event_malformed",
				logging.String(logging.FieldChannel, string(ch)),
				logging.String("field", malformed.Field),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "backend payload shape changed or is truncated"),
				logging.String(logging.FieldImpact, "event ignored"),
			)
		}
		return err
	}
	if g.observer.Delivered != nil {
		g.observer.Delivered(ch)
	}
	handler(event)
	return nil
}
