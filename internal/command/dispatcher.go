package command

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"courier/internal/logging"
	"courier/internal/task"
)

// DefaultReason is sent with a single-task cancel that names no reason.
const DefaultReason = "normal"

const defaultTimeout = 10 * time.Second

// Backend is the control surface of the task backend. Each call resolves
// with an implementation-defined result or an error carrying a readable
// message.
type Backend interface {
	CancelDownload(ctx context.Context, taskID, reason string) (string, error)
	CancelAllDownloads(ctx context.Context) (string, error)
	CancelExtract(ctx context.Context, taskID string) (string, error)
	CancelAllExtracts(ctx context.Context) (string, error)
	RefreshDownloadQueue(ctx context.Context) (string, error)
	RefreshExtractQueue(ctx context.Context) (string, error)
}

// Banner is a transient user-facing message.
type Banner struct {
	Title    string
	Message  string
	Duration time.Duration
}

// Notifier shows banners. Show must not block.
type Notifier interface {
	Show(Banner)
}

// Op names a control action.
type Op string

const (
	OpCancel    Op = "cancel"
	OpCancelAll Op = "cancel-all"
	OpRefresh   Op = "refresh"
)

// Request describes one control action.
type Request struct {
	Op       Op
	Pipeline task.Kind
	TaskID   string
	Reason   string
	// Quiet suppresses the failure banner; the failure is still logged.
	Quiet bool
}

// Control names the UI control a request disables while in flight.
func (r Request) Control() string {
	if r.Op == OpCancel {
		return fmt.Sprintf("%s:%s:%s", r.Op, r.pipeline(), r.TaskID)
	}
	return fmt.Sprintf("%s:%s", r.Op, r.pipeline())
}

// Method returns the backend RPC the request maps to.
func (r Request) Method() string {
	switch r.Op {
	case OpCancel:
		return "cancel_" + string(r.pipeline())
	case OpCancelAll:
		return "cancel_all_" + string(r.pipeline()) + "s"
	default:
		return "refresh_" + string(r.pipeline()) + "_queue"
	}
}

func (r Request) pipeline() task.Kind {
	if r.Pipeline == "" {
		return task.KindDownload
	}
	return r.Pipeline
}

// banner returns the title and display time used when r fails.
func (r Request) banner() (string, time.Duration) {
	switch r.Op {
	case OpCancel:
		return "Cancel failed", 8 * time.Second
	case OpCancelAll:
		return "Cancel all failed", 10 * time.Second
	default:
		return "Refresh failed", 5 * time.Second
	}
}

// Outcome is reported once per dispatched request, after its control is
// released.
type Outcome struct {
	Request       Request
	CorrelationID string
	Result        string
	Err           error
	Elapsed       time.Duration
	// Skipped is true when the request named a task that is no longer
	// tracked and no RPC was sent.
	Skipped bool
}

// Tracker answers whether a task can still be canceled.
type Tracker interface {
	Get(id string) (task.Task, bool)
}

// Options configures a Dispatcher.
type Options struct {
	Backend Backend
	Banner  Notifier
	Logger  *slog.Logger
	Timeout time.Duration
	// Tasks, when set, is consulted before a single-task cancel.
	Tasks Tracker
	// Post, when set, moves RPCs off the owner goroutine; completions are
	// delivered back through it. Nil runs calls inline.
	Post func(func())
	// Controls is told whenever a control flips between enabled and
	// disabled.
	Controls func(name string, enabled bool)
	// Done is told about every outcome.
	Done func(Outcome)
}

// Dispatcher runs control requests against the backend.
type Dispatcher struct {
	backend  Backend
	banner   Notifier
	logger   *slog.Logger
	timeout  time.Duration
	tasks    Tracker
	post     func(func())
	done     func(Outcome)
	controls *controls
}

// New constructs a Dispatcher.
func New(opts Options) *Dispatcher {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Dispatcher{
		backend:  opts.Backend,
		banner:   opts.Banner,
		logger:   logging.NewComponentLogger(opts.Logger, "command"),
		timeout:  timeout,
		tasks:    opts.Tasks,
		post:     opts.Post,
		done:     opts.Done,
		controls: newControls(opts.Controls),
	}
}

// Cancel asks the backend to cancel one task.
func (d *Dispatcher) Cancel(ctx context.Context, pipeline task.Kind, id, reason string) {
	d.Do(ctx, Request{Op: OpCancel, Pipeline: pipeline, TaskID: id, Reason: reason})
}

// CancelAll asks the backend to cancel every task in pipeline.
func (d *Dispatcher) CancelAll(ctx context.Context, pipeline task.Kind) {
	d.Do(ctx, Request{Op: OpCancelAll, Pipeline: pipeline})
}

// Refresh asks the backend to push a fresh snapshot for pipeline.
func (d *Dispatcher) Refresh(ctx context.Context, pipeline task.Kind) {
	d.Do(ctx, Request{Op: OpRefresh, Pipeline: pipeline})
}

// Enabled reports whether the named control currently accepts input.
func (d *Dispatcher) Enabled(control string) bool {
	return d.controls.enabled(control)
}

// Controls lists the controls with requests in flight.
func (d *Dispatcher) Controls() []ControlState {
	return d.controls.states()
}

// Do dispatches req. Errors never escape: transport failures become a
// banner, stale references are logged.
func (d *Dispatcher) Do(ctx context.Context, req Request) {
	if ctx == nil {
		ctx = context.Background()
	}
	if req.Op == OpCancel && req.Reason == "" && req.pipeline() == task.KindDownload {
		req.Reason = DefaultReason
	}
	id := uuid.NewString()
	ctx = logging.WithCorrelationID(ctx, id)
	if req.TaskID != "" {
		ctx = logging.WithTaskID(ctx, req.TaskID)
	}
	logger := logging.WithContext(ctx, d.logger).With(
		logging.String("op", string(req.Op)),
		logging.Pipeline(string(req.pipeline())),
	)

	if req.Op == OpCancel && d.tasks != nil {
		if t, ok := d.tasks.Get(req.TaskID); !ok || t.Terminal() {
			err := &task.StaleReferenceError{TaskID: req.TaskID, Op: "cancel"}
			logging.DebugEvent(logger, "cancel skipped", "cancel_stale", logging.Error(err))
			d.report(Outcome{Request: req, CorrelationID: id, Err: err, Skipped: true})
			return
		}
	}

	release := d.controls.acquire(req.Control())
	started := time.Now()
	finish := func(result string, err error) {
		release()
		d.complete(logger, Outcome{Request: req, CorrelationID: id, Result: result, Err: err, Elapsed: time.Since(started)})
	}

	if d.post == nil {
		result, err := d.call(ctx, req)
		finish(result, err)
		return
	}
	go func() {
		result, err := d.call(ctx, req)
		d.post(func() { finish(result, err) })
	}()
}

// call runs the RPC with the dispatcher timeout. A panic inside the backend
// is converted into a transport error.
func (d *Dispatcher) call(ctx context.Context, req Request) (result string, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = ""
			err = &TransportError{Op: req.Method(), Err: fmt.Errorf("unexpected failure: %v", r)}
		}
	}()
	if d.backend == nil {
		return "", &TransportError{Op: req.Method(), Err: fmt.Errorf("backend not configured")}
	}
	callCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	switch {
	case req.Op == OpCancel && req.pipeline() == task.KindExtract:
		result, err = d.backend.CancelExtract(callCtx, req.TaskID)
	case req.Op == OpCancel:
		result, err = d.backend.CancelDownload(callCtx, req.TaskID, req.Reason)
	case req.Op == OpCancelAll && req.pipeline() == task.KindExtract:
		result, err = d.backend.CancelAllExtracts(callCtx)
	case req.Op == OpCancelAll:
		result, err = d.backend.CancelAllDownloads(callCtx)
	case req.Op == OpRefresh && req.pipeline() == task.KindExtract:
		result, err = d.backend.RefreshExtractQueue(callCtx)
	case req.Op == OpRefresh:
		result, err = d.backend.RefreshDownloadQueue(callCtx)
	default:
		return "", fmt.Errorf("unknown op %q", req.Op)
	}
	if err != nil {
		var te *TransportError
		if !errors.As(err, &te) {
			err = &TransportError{Op: req.Method(), Err: err}
		}
		return "", err
	}
	return result, nil
}

func (d *Dispatcher) complete(logger *slog.Logger, out Outcome) {
	defer d.report(out)
	if out.Err == nil {
		logger.Info("control request completed", logging.String("result", out.Result))
		return
	}
	impact := "request not applied by backend"
	if out.Request.Quiet {
		impact = "stalled task may linger in the backend"
	}
	logging.WarnWithContext(logger, "control request failed", "control_failed",
		logging.String("method", out.Request.Method()),
		logging.Error(out.Err),
		logging.String(logging.FieldErrorHint, "check that the backend is running and reachable"),
		logging.String(logging.FieldImpact, impact),
	)
	if out.Request.Quiet || d.banner == nil || !UserVisible(out.Err) {
		return
	}
	title, duration := out.Request.banner()
	d.banner.Show(Banner{Title: title, Message: bannerMessage(out.Err), Duration: duration})
}

func (d *Dispatcher) report(out Outcome) {
	if d.done != nil {
		d.done(out)
	}
}

func bannerMessage(err error) string {
	var te *TransportError
	if errors.As(err, &te) {
		return strings.TrimSpace(te.Message())
	}
	return strings.TrimSpace(err.Error())
}
