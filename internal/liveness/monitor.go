// Package liveness detects tasks the backend silently stopped reporting on
// and forces them out through a stall cancel.
package liveness

import (
	"log/slog"
	"time"

	"courier/internal/clock"
	"courier/internal/config"
	"courier/internal/logging"
	"courier/internal/task"
)

// StallReason is the cancel reason sent for tasks the monitor gives up on.
const StallReason = "stalled"

// CancelFunc requests a best-effort backend cancel for a stalled task. It
// must not block; failures are the callee's to log.
type CancelFunc func(t task.Task, reason string)

// Options configures a Monitor.
type Options struct {
	Clock    clock.Clock
	Logger   *slog.Logger
	Registry *task.Registry
	Cancel   CancelFunc
	// Tick, Threshold and RemovalDelay default to 5s, 30s and 5s.
	Tick         time.Duration
	Threshold    time.Duration
	RemovalDelay time.Duration
	// Stalled, when set, is told about every stall the monitor acts on.
	Stalled func(task.Task)
}

// OptionsFromConfig fills the timing fields from the [liveness] section.
func OptionsFromConfig(cfg *config.Config, opts Options) Options {
	if cfg == nil {
		return opts
	}
	opts.Tick = cfg.TickInterval()
	opts.Threshold = cfg.StallThreshold()
	opts.RemovalDelay = cfg.StallRemovalDelay()
	return opts
}

// Monitor sweeps the registry on a fixed tick.
type Monitor struct {
	clock        clock.Clock
	logger       *slog.Logger
	registry     *task.Registry
	cancel       CancelFunc
	stalled      func(task.Task)
	tick         time.Duration
	threshold    time.Duration
	removalDelay time.Duration

	timer clock.Timer
}

// New constructs a stopped Monitor.
func New(opts Options) *Monitor {
	m := &Monitor{
		clock:        opts.Clock,
		logger:       logging.NewComponentLogger(opts.Logger, "liveness"),
		registry:     opts.Registry,
		cancel:       opts.Cancel,
		stalled:      opts.Stalled,
		tick:         opts.Tick,
		threshold:    opts.Threshold,
		removalDelay: opts.RemovalDelay,
	}
	if m.clock == nil {
		m.clock = clock.Real()
	}
	if m.tick <= 0 {
		m.tick = 5 * time.Second
	}
	if m.threshold <= 0 {
		m.threshold = 30 * time.Second
	}
	if m.removalDelay <= 0 {
		m.removalDelay = 5 * time.Second
	}
	return m
}

// Start arms the sweep tick. Calling Start on a running monitor is a no-op.
func (m *Monitor) Start() {
	if m.timer != nil {
		return
	}
	m.schedule()
}

// Stop cancels the pending tick.
func (m *Monitor) Stop() {
	if m.timer == nil {
		return
	}
	m.timer.Stop()
	m.timer = nil
}

func (m *Monitor) schedule() {
	var handle clock.Timer
	handle = m.clock.AfterFunc(m.tick, func() {
		if m.timer != handle {
			return
		}
		m.Sweep()
		m.schedule()
	})
	m.timer = handle
}

// Sweep checks every active task once and returns the ids it marked stalled.
// A task whose cancel was already requested is skipped, so one stall episode
// produces one cancel.
func (m *Monitor) Sweep() []string {
	now := m.clock.Now()
	var stalled []string
	for _, t := range m.registry.All() {
		if !task.IsActive(t.Status) || t.CancelRequested {
			continue
		}
		silence := now.Sub(t.LastUpdate)
		if silence <= m.threshold {
			continue
		}
		if m.markStalled(t, silence) {
			stalled = append(stalled, t.ID)
		}
	}
	return stalled
}

func (m *Monitor) markStalled(t task.Task, silence time.Duration) bool {
	requested := true
	updated, err := m.registry.Upsert(t.ID, task.Patch{
		Status:          task.StatusStalled,
		CancelRequested: &requested,
		Reason:          StallReason,
	})
	if err != nil {
		logging.DebugEvent(m.logger, "stall mark skipped", "stall_skipped", logging.TaskID(t.ID), logging.Error(err))
		return false
	}
	logging.WarnWithContext(m.logger, "task stalled; forcing cancel", "task_stalled",
		logging.TaskID(t.ID),
		logging.Pipeline(string(updated.Kind)),
		logging.Duration("silence", silence),
		logging.String(logging.FieldErrorHint, "backend stopped reporting progress for this task"),
		logging.String(logging.FieldImpact, "task will be canceled and removed"),
	)
	if m.cancel != nil {
		m.cancel(updated, StallReason)
	}
	if err := m.registry.ScheduleRemoval(t.ID, m.removalDelay); err != nil {
		logging.DebugEvent(m.logger, "stall removal not scheduled", "stall_skipped", logging.TaskID(t.ID), logging.Error(err))
	}
	if m.stalled != nil {
		m.stalled(updated)
	}
	return true
}
