package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"courier/internal/config"
	"courier/internal/events"
	"courier/internal/logging"
)

const (
	defaultInitialBackoff = 500 * time.Millisecond
	defaultMaxBackoff     = 30 * time.Second
)

// Frame is one message on the event socket.
type Frame struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// Sink receives each frame's channel and raw payload, one call at a time.
// A Sink that blocks holds up reading from the socket.
type Sink func(ch events.Channel, payload []byte)

// StreamOptions configures a Stream.
type StreamOptions struct {
	URL    string
	Sink   Sink
	Logger *slog.Logger
	// OnConnect runs after every successful dial, before the first frame.
	OnConnect func()
	// State is told when the connection comes up or goes down.
	State          func(connected bool)
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// Stream keeps a websocket to the backend open and feeds frames to a sink.
type Stream struct {
	url       string
	sink      Sink
	logger    *slog.Logger
	onConnect func()
	state     func(bool)
	initial   time.Duration
	max       time.Duration
	dialer    websocket.Dialer
}

// NewStream constructs a Stream.
func NewStream(opts StreamOptions) *Stream {
	initial := opts.InitialBackoff
	if initial <= 0 {
		initial = defaultInitialBackoff
	}
	maxBackoff := opts.MaxBackoff
	if maxBackoff <= 0 {
		maxBackoff = defaultMaxBackoff
	}
	if maxBackoff < initial {
		maxBackoff = initial
	}
	return &Stream{
		url:       opts.URL,
		sink:      opts.Sink,
		logger:    logging.NewComponentLogger(opts.Logger, "stream"),
		onConnect: opts.OnConnect,
		state:     opts.State,
		initial:   initial,
		max:       maxBackoff,
		dialer: websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 5 * time.Second,
		},
	}
}

// StreamOptionsFromConfig fills URL and MaxBackoff from the [backend] section.
func StreamOptionsFromConfig(cfg *config.Config, opts StreamOptions) StreamOptions {
	opts.URL = cfg.Backend.EventsURL
	opts.MaxBackoff = cfg.ReconnectMaxBackoff()
	return opts
}

// Run connects and reads until ctx ends, reconnecting on failure. It always
// returns ctx's error.
func (s *Stream) Run(ctx context.Context) error {
	backoff := s.initial
	for {
		delivered, err := s.connectOnce(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if delivered {
			backoff = s.initial
		}
		if IsClosed(err) {
			s.logger.Info("event stream closed by backend", logging.Duration("backoff", backoff))
		} else {
			logging.WarnWithContext(s.logger, "event stream disconnected", "stream_disconnected",
				logging.Error(err),
				logging.Duration("backoff", backoff),
				logging.String(logging.FieldErrorHint, "check that the backend is running"),
				logging.String(logging.FieldImpact, "task updates paused until reconnect"),
			)
		}
		if err := sleepWithContext(ctx, backoff); err != nil {
			return err
		}
		backoff *= 2
		if backoff > s.max {
			backoff = s.max
		}
	}
}

// connectOnce dials and reads one connection to the end. It reports whether
// the connection came up at all.
func (s *Stream) connectOnce(ctx context.Context) (bool, error) {
	conn, resp, err := s.dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		if resp != nil {
			return false, fmt.Errorf("dial %s (%s): %w", s.url, resp.Status, err)
		}
		return false, fmt.Errorf("dial %s: %w", s.url, err)
	}
	defer conn.Close()

	s.logger.Info("event stream connected", logging.String("url", s.url))
	if s.state != nil {
		s.state(true)
		defer s.state(false)
	}
	if s.onConnect != nil {
		s.onConnect()
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return true, ctx.Err()
			}
			return true, err
		}
		s.handle(data)
	}
}

func (s *Stream) handle(data []byte) {
	var frame Frame
	if err := json.Unmarshal(data, &frame); err != nil {
		logging.WarnWithContext(s.logger, "event frame dropped", "frame_malformed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "backend sent a frame that is not an event envelope"),
		)
		return
	}
	if frame.Event == "" {
		logging.DebugEvent(s.logger, "event frame without name", "frame_unnamed")
		return
	}
	if s.sink != nil {
		s.sink(events.Channel(frame.Event), frame.Payload)
	}
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// IsClosed reports whether err is a normal websocket close.
func IsClosed(err error) bool {
	var closeErr *websocket.CloseError
	return errors.As(err, &closeErr) && closeErr.Code == websocket.CloseNormalClosure
}
