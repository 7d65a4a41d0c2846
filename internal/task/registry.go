package task

import (
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"courier/internal/clock"
	"courier/internal/config"
	"courier/internal/logging"
)

const tombstoneLimit = 256

// RemovalPolicy is how long each terminal outcome stays visible.
type RemovalPolicy struct {
	Saved     time.Duration
	Extracted time.Duration
	Failed    time.Duration
	Canceled  time.Duration
}

// DefaultRemovalPolicy returns the stock grace periods.
func DefaultRemovalPolicy() RemovalPolicy {
	return RemovalPolicy{
		Saved:     5 * time.Second,
		Extracted: 5 * time.Second,
		Failed:    10 * time.Second,
		Canceled:  5 * time.Second,
	}
}

// RemovalPolicyFromConfig reads the [removal] section.
func RemovalPolicyFromConfig(cfg *config.Config) RemovalPolicy {
	if cfg == nil {
		return DefaultRemovalPolicy()
	}
	return RemovalPolicy{
		Saved:     time.Duration(cfg.Removal.SavedDelay) * time.Second,
		Extracted: time.Duration(cfg.Removal.ExtractedDelay) * time.Second,
		Failed:    time.Duration(cfg.Removal.FailedDelay) * time.Second,
		Canceled:  time.Duration(cfg.Removal.CanceledDelay) * time.Second,
	}
}

// Delay returns the grace period for a task entering status.
func (p RemovalPolicy) Delay(status Status) time.Duration {
	switch status {
	case StatusDownloaded:
		return p.Saved
	case StatusExtracted:
		return p.Extracted
	case StatusFailed, StatusExtractFailed:
		return p.Failed
	default:
		return p.Canceled
	}
}

// Hooks observe registry mutations. Any hook may be nil.
type Hooks struct {
	// Transition fires once per status step, implied steps included.
	Transition func(Transition)
	// Changed fires after any upsert that created or modified a task.
	Changed func(Task)
	// Removed fires after a task leaves the registry.
	Removed func(Task)
}

// Options configures a Registry.
type Options struct {
	Clock   clock.Clock
	Logger  *slog.Logger
	Removal RemovalPolicy
	Hooks   Hooks
}

type entry struct {
	task    Task
	seq     uint64
	removal clock.Timer
}

// Registry is the authoritative local mapping of task id to task record.
type Registry struct {
	clock   clock.Clock
	logger  *slog.Logger
	removal RemovalPolicy
	hooks   Hooks

	seq        uint64
	tasks      map[string]*entry
	tombstones *tombstones
}

// NewRegistry constructs an empty registry.
func NewRegistry(opts Options) *Registry {
	clk := opts.Clock
	if clk == nil {
		clk = clock.Real()
	}
	removal := opts.Removal
	if removal == (RemovalPolicy{}) {
		removal = DefaultRemovalPolicy()
	}
	return &Registry{
		clock:      clk,
		logger:     logging.NewComponentLogger(opts.Logger, "registry"),
		removal:    removal,
		hooks:      opts.Hooks,
		tasks:      make(map[string]*entry),
		tombstones: newTombstones(tombstoneLimit),
	}
}

// Upsert creates the task if absent, else merges patch into it, and always
// advances LastUpdate. Updates to terminal tasks are discarded with
// ErrTerminal. Ids removed recently yield a StaleReferenceError unless the
// patch sets Revive, which clears the tombstone and starts over. A status the
// state machine cannot reach from the current one is skipped and reported as
// a TransitionError while the remaining fields still apply.
func (r *Registry) Upsert(id string, patch Patch) (Task, error) {
	if id == "" {
		return Task{}, fmt.Errorf("upsert: empty task id")
	}
	e, ok := r.tasks[id]
	if !ok {
		if r.tombstones.has(id) {
			if !patch.Revive {
				return Task{}, &StaleReferenceError{TaskID: id, Op: "upsert"}
			}
			r.tombstones.forget(id)
			logging.DebugEvent(r.logger, "recreating removed task", "task_revived", logging.TaskID(id))
		}
		return r.create(id, patch), nil
	}
	if e.task.Terminal() {
		return e.task, fmt.Errorf("upsert %s (%s): %w", id, e.task.Status, ErrTerminal)
	}

	now := r.clock.Now()
	before := e.task.Status
	mergeFields(&e.task, patch)
	e.task.LastUpdate = now

	var transitionErr error
	if patch.Status != "" && patch.Status != e.task.Status {
		steps, reachable := Path(e.task.Status, patch.Status, e.task.SaveOnly)
		if !reachable {
			transitionErr = &TransitionError{TaskID: id, From: e.task.Status, To: patch.Status}
			logging.DebugEvent(r.logger, "status change rejected", "invalid_transition",
				logging.TaskID(id),
				logging.String("from", string(e.task.Status)),
				logging.String("to", string(patch.Status)),
			)
		} else {
			r.walk(e, steps, patch.Reason, now)
		}
	}
	r.settleTimer(e, before, patch)
	r.changed(e)
	return e.task, transitionErr
}

func (r *Registry) create(id string, patch Patch) Task {
	now := r.clock.Now()
	status := patch.Status
	if status == "" {
		status = StatusPending
	}
	r.seq++
	e := &entry{seq: r.seq, task: Task{ID: id, Status: status, LastUpdate: now}}
	mergeFields(&e.task, patch)
	e.task.Kind = KindForStatus(status)
	e.task.Cancelable = !e.task.Terminal()
	r.tasks[id] = e

	r.emit(Transition{TaskID: id, Kind: e.task.Kind, To: status, Reason: patch.Reason, At: now})
	if e.task.Terminal() {
		r.arm(e, r.removal.Delay(status))
	}
	r.changed(e)
	return e.task
}

func (r *Registry) walk(e *entry, steps []Status, reason string, now time.Time) {
	for i, step := range steps {
		from := e.task.Status
		e.task.Status = step
		e.task.Kind = KindAfter(e.task.Kind, step)
		last := i == len(steps)-1
		stepReason := reason
		if !last {
			stepReason = "implied"
		}
		r.emit(Transition{TaskID: e.task.ID, Kind: e.task.Kind, From: from, To: step, Reason: stepReason, At: now, Implied: !last})
	}
	e.task.Cancelable = !e.task.Terminal()
}

// settleTimer keeps the removal timer consistent with the status after an
// upsert of a previously non-terminal task. Entering a terminal status arms
// it; a status update landing in an ordinary non-terminal status cancels any
// grace period still counting down. A stalled task keeps the timer the
// monitor armed, including when its cancel is confirmed.
func (r *Registry) settleTimer(e *entry, before Status, patch Patch) {
	status := e.task.Status
	switch {
	case e.task.Terminal():
		if before == StatusStalled && e.removal != nil {
			return
		}
		r.arm(e, r.removal.Delay(status))
	case patch.Status != "" && !e.task.Terminal() && status != StatusStalled:
		r.disarm(e)
	}
}

// Remove deletes the task and cancels its removal timer. It reports whether
// a task was removed; removing an unknown id is a no-op.
func (r *Registry) Remove(id string) bool {
	e, ok := r.tasks[id]
	if !ok {
		return false
	}
	r.disarm(e)
	delete(r.tasks, id)
	r.tombstones.add(id)
	if r.hooks.Removed != nil {
		r.hooks.Removed(e.task)
	}
	return true
}

// ScheduleRemoval arms a one-shot removal timer, replacing any pending one.
func (r *Registry) ScheduleRemoval(id string, delay time.Duration) error {
	e, ok := r.tasks[id]
	if !ok {
		return &StaleReferenceError{TaskID: id, Op: "schedule removal"}
	}
	r.arm(e, delay)
	r.changed(e)
	return nil
}

// RemovalPending reports whether a removal timer is armed for id.
func (r *Registry) RemovalPending(id string) bool {
	e, ok := r.tasks[id]
	return ok && e.removal != nil
}

func (r *Registry) arm(e *entry, delay time.Duration) {
	r.disarm(e)
	id := e.task.ID
	var handle clock.Timer
	handle = r.clock.AfterFunc(delay, func() { r.fire(id, handle) })
	e.removal = handle
	e.task.RemovalAt = r.clock.Now().Add(delay)
}

func (r *Registry) disarm(e *entry) {
	if e.removal == nil {
		return
	}
	e.removal.Stop()
	e.removal = nil
	e.task.RemovalAt = time.Time{}
}

// fire runs when a removal timer elapses. A timer that was replaced or
// stopped after its callback was already queued is ignored.
func (r *Registry) fire(id string, handle clock.Timer) {
	e, ok := r.tasks[id]
	if !ok || e.removal != handle {
		return
	}
	e.removal = nil
	if e.task.Status == StatusStalled {
		r.walk(e, []Status{StatusCanceled}, "stalled", r.clock.Now())
		r.changed(e)
	}
	r.logger.Debug("removing task after grace period",
		logging.TaskID(id),
		logging.String(logging.FieldStatus, string(e.task.Status)),
	)
	r.Remove(id)
}

// Get returns a copy of the task.
func (r *Registry) Get(id string) (Task, bool) {
	e, ok := r.tasks[id]
	if !ok {
		return Task{}, false
	}
	return e.task, true
}

// Removed reports whether id was tracked and has since been dropped.
func (r *Registry) Removed(id string) bool {
	_, live := r.tasks[id]
	return !live && r.tombstones.has(id)
}

// All returns every task in first-seen order.
func (r *Registry) All() []Task {
	entries := make([]*entry, 0, len(r.tasks))
	for _, e := range r.tasks {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })
	out := make([]Task, len(entries))
	for i, e := range entries {
		out[i] = e.task
	}
	return out
}

// ByKind returns the tasks currently in pipeline k, in first-seen order.
func (r *Registry) ByKind(k Kind) []Task {
	var out []Task
	for _, t := range r.All() {
		if t.Kind == k {
			out = append(out, t)
		}
	}
	return out
}

// Len reports how many tasks are tracked.
func (r *Registry) Len() int { return len(r.tasks) }

func (r *Registry) emit(t Transition) {
	if r.hooks.Transition != nil {
		r.hooks.Transition(t)
	}
}

func (r *Registry) changed(e *entry) {
	if r.hooks.Changed != nil {
		r.hooks.Changed(e.task)
	}
}

func mergeFields(t *Task, patch Patch) {
	if patch.DisplayName != "" {
		t.DisplayName = patch.DisplayName
	}
	if patch.Progress != nil {
		t.Progress = clampProgress(*patch.Progress)
	}
	if patch.RawDiagnostic != nil {
		t.RawDiagnostic = *patch.RawDiagnostic
	}
	if patch.SaveOnly != nil {
		t.SaveOnly = *patch.SaveOnly
	}
	if patch.URL != "" {
		t.URL = patch.URL
	}
	if patch.ExtractDir != "" {
		t.ExtractDir = patch.ExtractDir
	}
	if patch.Transfer != nil {
		t.Transfer = *patch.Transfer
	}
	if patch.CancelRequested != nil {
		t.CancelRequested = *patch.CancelRequested
	}
}

// RoundProgress rounds a percentage to one decimal place, clamped to [0,100].
func RoundProgress(p float64) float64 {
	return clampProgress(math.Round(p*10) / 10)
}

func clampProgress(p float64) float64 {
	switch {
	case math.IsNaN(p) || p < 0:
		return 0
	case p > 100:
		return 100
	default:
		return p
	}
}
