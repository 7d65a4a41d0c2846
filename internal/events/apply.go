package events

import (
	"errors"
	"log/slog"

	"courier/internal/logging"
	"courier/internal/task"
)

const maxSamplers = 256

// Applier turns task lifecycle events into registry mutations.
type Applier struct {
	registry *task.Registry
	logger   *slog.Logger
	samplers map[string]*logging.ProgressSampler
	// Stale, when set, is told about events that referenced removed or
	// finished tasks.
	Stale func(Channel)
}

// NewApplier binds an Applier to registry.
func NewApplier(registry *task.Registry, logger *slog.Logger) *Applier {
	return &Applier{
		registry: registry,
		logger:   logging.NewComponentLogger(logger, "gateway"),
		samplers: make(map[string]*logging.ProgressSampler),
	}
}

// Handle is a Handler applying ev; errors are logged, never returned.
func (a *Applier) Handle(ev Event) {
	_ = a.Apply(ev)
}

// Apply mutates the registry for ev. Stale references and updates to
// finished tasks are benign races: they are logged at debug and returned.
func (a *Applier) Apply(ev Event) error {
	te, ok := ev.(TaskEvent)
	if !ok {
		return nil
	}
	var err error
	switch e := ev.(type) {
	case TaskAdded:
		err = a.start(e.ID, task.StatusPending, e.Filename, e.URL, ev.Channel())
	case TaskStarted:
		err = a.start(e.ID, task.StatusDownloading, e.Filename, e.URL, ev.Channel())
	case Progress:
		percent := e.Percent
		raw := e.RawOutput
		var updated task.Task
		updated, err = a.registry.Upsert(e.ID, task.Patch{
			Status:        task.StatusDownloading,
			DisplayName:   e.Filename,
			Progress:      &percent,
			RawDiagnostic: &raw,
			Transfer:      e.Transfer,
			Reason:        string(ev.Channel()),
		})
		if err == nil {
			a.logProgress(updated)
		}
	case DownloadComplete:
		patch := task.Patch{DisplayName: e.Filename, RawDiagnostic: &e.Message, Reason: string(ev.Channel())}
		if e.Success {
			full := 100.0
			saveOnly := e.SaveOnly
			patch.Status = task.StatusDownloaded
			patch.Progress = &full
			patch.SaveOnly = &saveOnly
		} else {
			patch.Status = task.StatusFailed
		}
		_, err = a.registry.Upsert(e.ID, patch)
	case DownloadFailed:
		_, err = a.registry.Upsert(e.ID, task.Patch{
			Status:        task.StatusFailed,
			DisplayName:   e.Filename,
			RawDiagnostic: &e.Error,
			Reason:        string(ev.Channel()),
		})
	case DownloadCanceled:
		_, err = a.registry.Upsert(e.ID, task.Patch{Status: task.StatusCanceled, DisplayName: e.Filename, Reason: string(ev.Channel())})
	case CancelRequested:
		if _, tracked := a.registry.Get(e.ID); !tracked {
			err = &task.StaleReferenceError{TaskID: e.ID, Op: string(ev.Channel())}
			break
		}
		requested := true
		_, err = a.registry.Upsert(e.ID, task.Patch{CancelRequested: &requested})
	case DownloadResumed:
		_, err = a.registry.Upsert(e.ID, task.Patch{
			Status:        task.StatusDownloading,
			DisplayName:   e.Filename,
			RawDiagnostic: &e.Message,
			Reason:        string(ev.Channel()),
		})
	case ExtractStart:
		_, err = a.registry.Upsert(e.ID, task.Patch{
			Status:      task.StatusExtracting,
			DisplayName: e.Filename,
			ExtractDir:  e.ExtractDir,
			Reason:      string(ev.Channel()),
		})
	case ExtractComplete:
		patch := task.Patch{DisplayName: e.Filename, RawDiagnostic: &e.Message, Reason: string(ev.Channel())}
		if e.Success {
			full := 100.0
			patch.Status = task.StatusExtracted
			patch.Progress = &full
		} else {
			patch.Status = task.StatusExtractFailed
		}
		_, err = a.registry.Upsert(e.ID, patch)
	}
	if t, ok := a.registry.Get(te.TaskID()); !ok || t.Terminal() {
		delete(a.samplers, te.TaskID())
	}
	a.report(ev.Channel(), te.TaskID(), err)
	return err
}

// logProgress writes a debug line each time a task crosses a 5% bucket.
func (a *Applier) logProgress(t task.Task) {
	sampler, ok := a.samplers[t.ID]
	if !ok {
		if len(a.samplers) >= maxSamplers {
			a.sweepSamplers()
		}
		sampler = logging.NewProgressSampler(5)
		a.samplers[t.ID] = sampler
	}
	if !sampler.ShouldLog(t.Progress, string(t.Kind)) {
		return
	}
	a.logger.Debug("download progress",
		logging.TaskID(t.ID),
		logging.Float64("progress", t.Progress),
		logging.Float64("completed_mib", t.Transfer.CompletedMiB),
		logging.Float64("total_mib", t.Transfer.TotalMiB),
	)
}

func (a *Applier) sweepSamplers() {
	for id := range a.samplers {
		if _, tracked := a.registry.Get(id); !tracked {
			delete(a.samplers, id)
		}
	}
}

// start handles task-add and task-start. A repeat for a task already at or
// past the announced status only refreshes its LastUpdate. A start for an id
// removed earlier recreates it.
func (a *Applier) start(id string, status task.Status, filename, rawURL string, ch Channel) error {
	if existing, ok := a.registry.Get(id); ok && !existing.Terminal() {
		if existing.Status != task.StatusPending || status == task.StatusPending {
			_, err := a.registry.Upsert(id, task.Patch{})
			return err
		}
	}
	_, err := a.registry.Upsert(id, task.Patch{Status: status, DisplayName: filename, URL: rawURL, Reason: string(ch), Revive: true})
	return err
}

func (a *Applier) report(ch Channel, id string, err error) {
	if err == nil {
		return
	}
	attrs := []logging.Attr{
		logging.String(logging.FieldChannel, string(ch)),
		logging.TaskID(id),
		logging.Error(err),
	}
	var transitionErr *task.TransitionError
	switch {
	case task.IsStale(err):
		if a.Stale != nil {
			a.Stale(ch)
		}
		logging.DebugEvent(a.logger, "ignoring event for stale task", "event_stale", attrs...)
	case errors.As(err, &transitionErr):
		logging.DebugEvent(a.logger, "event status not reachable", "event_out_of_order", attrs...)
	default:
		a.logger.Warn("event apply failed", logging.Args(append(attrs, logging.String(logging.FieldEventType, "event_apply_failed"))...)...)
	}
}
