package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"courier/internal/clock"
	"courier/internal/command"
	"courier/internal/config"
	"courier/internal/events"
	"courier/internal/liveness"
	"courier/internal/logging"
	"courier/internal/observability"
	"courier/internal/reconcile"
	"courier/internal/task"
)

const defaultInbox = 1024

var (
	// ErrStopped is returned when the session loop is not running anymore.
	ErrStopped = errors.New("session stopped")
	// ErrRunning is returned by a second concurrent Run.
	ErrRunning = errors.New("session already running")
	// ErrLocked means another session holds the state directory.
	ErrLocked = errors.New("another courier session is already running")
)

// TransitionSink records status transitions.
type TransitionSink interface {
	Append(task.Transition)
}

// Alerts receives each transition along with the task it belongs to.
// Transition runs on the session loop and must not block.
type Alerts interface {
	Transition(task.Task, task.Transition)
}

// Options configures a Session.
type Options struct {
	Config   *config.Config
	Logger   *slog.Logger
	Clock    clock.Clock
	Backend  command.Backend
	Renderer reconcile.Renderer
	Banner   command.Notifier
	Journal  TransitionSink
	Alerts   Alerts
	Metrics  *observability.Metrics
	// LockPath, when set, is held with an exclusive file lock while Run is
	// active.
	LockPath string
	Inbox    int
}

// Session owns every component of one UI session.
type Session struct {
	id       string
	logger   *slog.Logger
	clock    loopClock
	journal  TransitionSink
	alerts   Alerts
	metrics  *observability.Metrics
	lock     *flock.Flock
	lockPath string

	registry    *task.Registry
	gateway     *events.Gateway
	applier     *events.Applier
	reconcilers map[task.Kind]*reconcile.Reconciler
	monitor     *liveness.Monitor
	dispatcher  *command.Dispatcher

	inbox     chan func()
	done      chan struct{}
	running   atomic.Bool
	connected atomic.Bool
	unsub     []func()
	ctx       context.Context
}

// New wires a session. Nothing runs until Run is called.
func New(opts Options) (*Session, error) {
	if opts.Renderer == nil {
		return nil, errors.New("session requires a renderer")
	}
	inbox := opts.Inbox
	if inbox <= 0 {
		inbox = defaultInbox
	}
	base := opts.Clock
	if base == nil {
		base = clock.Real()
	}

	id := uuid.NewString()
	logger := logging.WithSessionID(opts.Logger, id)

	s := &Session{
		id:       id,
		logger:   logging.NewComponentLogger(logger, "session"),
		journal:  opts.Journal,
		alerts:   opts.Alerts,
		metrics:  opts.Metrics,
		lockPath: opts.LockPath,
		inbox:    make(chan func(), inbox),
		done:     make(chan struct{}),
		ctx:      context.Background(),
	}
	s.clock = loopClock{base: base, post: s.Post}
	if opts.LockPath != "" {
		s.lock = flock.New(opts.LockPath)
	}

	s.registry = task.NewRegistry(task.Options{
		Clock:   s.clock,
		Logger:  logger,
		Removal: task.RemovalPolicyFromConfig(opts.Config),
		Hooks: task.Hooks{
			Transition: s.onTransition,
			Changed:    s.onChanged,
			Removed:    s.onRemoved,
		},
	})

	s.reconcilers = make(map[task.Kind]*reconcile.Reconciler, len(task.Kinds))
	for _, k := range task.Kinds {
		s.reconcilers[k] = reconcile.New(reconcile.Options{
			Pipeline: k,
			Registry: s.registry,
			Renderer: opts.Renderer,
			Logger:   logger,
			Mutated:  s.onMutated,
		})
	}

	dispatchOpts := command.Options{
		Backend: opts.Backend,
		Banner:  opts.Banner,
		Logger:  logger,
		Tasks:   s.registry,
		Post:    func(f func()) { s.Post(f) },
		Done:    s.onOutcome,
	}
	if opts.Config != nil {
		dispatchOpts.Timeout = opts.Config.RequestTimeout()
	}
	s.dispatcher = command.New(dispatchOpts)

	s.monitor = liveness.New(liveness.OptionsFromConfig(opts.Config, liveness.Options{
		Clock:    s.clock,
		Logger:   logger,
		Registry: s.registry,
		Cancel:   s.stallCancel,
		Stalled:  s.onStalled,
	}))

	s.applier = events.NewApplier(s.registry, logger)
	s.applier.Stale = s.onStale
	s.gateway = events.NewGateway(logger, events.Observer{
		Delivered: s.onDelivered,
		Malformed: s.onMalformed,
	})
	if err := s.subscribe(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Session) subscribe() error {
	for _, ch := range events.TaskChannels {
		unsub, err := s.gateway.Subscribe(ch, s.applier.Handle)
		if err != nil {
			return fmt.Errorf("subscribe: %w", err)
		}
		s.unsub = append(s.unsub, unsub)
	}
	for _, ch := range []events.Channel{events.ChannelDownloadQueue, events.ChannelExtractQueue} {
		unsub, err := s.gateway.Subscribe(ch, s.onQueue)
		if err != nil {
			return fmt.Errorf("subscribe: %w", err)
		}
		s.unsub = append(s.unsub, unsub)
	}
	return nil
}

// Run drives the event loop until ctx ends. It returns nil on a normal
// shutdown. A Session runs once; Done is closed when Run returns, including
// when it fails to take the lock.
func (s *Session) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrRunning
	}
	defer close(s.done)
	if s.lock != nil {
		ok, err := s.lock.TryLock()
		if err != nil {
			return fmt.Errorf("acquire lock: %w", err)
		}
		if !ok {
			return ErrLocked
		}
		defer func() {
			if err := s.lock.Unlock(); err != nil {
				s.logger.Warn("failed to release session lock", logging.Error(err))
			}
		}()
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.ctx = runCtx
	defer func() {
		for _, unsub := range s.unsub {
			unsub()
		}
	}()

	s.monitor.Start()
	defer s.monitor.Stop()
	s.logger.Info("session started", logging.String("lock", s.lockPath))

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("session stopped", logging.Int("tracked", s.registry.Len()))
			return nil
		case f := <-s.inbox:
			s.exec(f)
		}
	}
}

func (s *Session) exec(f func()) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("session callback panicked",
				logging.String("panic", fmt.Sprint(r)),
				logging.String(logging.FieldEventType, "loop_panic"),
				logging.String(logging.FieldImpact, "one update was lost"),
			)
		}
	}()
	f()
}

// Post queues f to run on the loop. It blocks while the inbox is full and
// reports false once the session has stopped.
func (s *Session) Post(f func()) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.inbox <- f:
		return true
	case <-s.done:
		return false
	}
}

// Done is closed when Run returns.
func (s *Session) Done() <-chan struct{} { return s.done }

// ID is the random identifier stamped on this session's log records.
func (s *Session) ID() string { return s.id }

// Deliver hands a raw backend frame to the gateway on the loop.
func (s *Session) Deliver(ch events.Channel, payload []byte) {
	s.Post(func() { _ = s.gateway.Deliver(ch, payload) })
}

// Connected records the event stream state.
func (s *Session) Connected(up bool) {
	s.connected.Store(up)
	if s.metrics != nil {
		if up {
			s.metrics.StreamConnected.Set(1)
		} else {
			s.metrics.StreamConnected.Set(0)
		}
	}
}

// OnConnect requests fresh snapshots for both pipelines.
func (s *Session) OnConnect() {
	s.Post(func() {
		for _, k := range task.Kinds {
			s.dispatcher.Do(s.ctx, command.Request{Op: command.OpRefresh, Pipeline: k, Quiet: true})
		}
	})
}

// Cancel asks the backend to cancel one task.
func (s *Session) Cancel(p task.Kind, id, reason string) error {
	return s.dispatch(command.Request{Op: command.OpCancel, Pipeline: p, TaskID: id, Reason: reason})
}

// CancelAll asks the backend to cancel every task in p.
func (s *Session) CancelAll(p task.Kind) error {
	return s.dispatch(command.Request{Op: command.OpCancelAll, Pipeline: p})
}

// Refresh asks the backend for a fresh snapshot of p.
func (s *Session) Refresh(p task.Kind) error {
	return s.dispatch(command.Request{Op: command.OpRefresh, Pipeline: p})
}

func (s *Session) dispatch(req command.Request) error {
	if !s.Post(func() { s.dispatcher.Do(s.ctx, req) }) {
		return ErrStopped
	}
	return nil
}

func (s *Session) stallCancel(t task.Task, reason string) {
	s.dispatcher.Do(s.ctx, command.Request{Op: command.OpCancel, Pipeline: t.Kind, TaskID: t.ID, Reason: reason, Quiet: true})
}

func (s *Session) onQueue(ev events.Event) {
	q, ok := ev.(events.QueueUpdate)
	if !ok {
		return
	}
	rec, ok := s.reconcilers[q.Snapshot.Pipeline]
	if !ok {
		return
	}
	rec.Apply(q.Snapshot)
}
