package reconcile

import (
	"log/slog"
	"time"

	"courier/internal/logging"
	"courier/internal/task"
)

// Mutation names used in Result and the Mutated hook.
const (
	OpInsert  = "insert"
	OpUpdate  = "update"
	OpRemove  = "remove"
	OpSummary = "summary"
)

// Options configures a Reconciler.
type Options struct {
	Pipeline task.Kind
	Registry *task.Registry
	Renderer Renderer
	Logger   *slog.Logger
	// Mutated, when set, is told about every renderer call.
	Mutated func(p task.Kind, op string)
}

// Result counts what one Apply did.
type Result struct {
	Inserted    int
	Updated     int
	Removed     int
	Synthesized []string
	Pruned      []string
	// Unchanged is true when the snapshot repeated the previous one and the
	// pass was skipped.
	Unchanged bool
}

// Reconciler keeps one pipeline's rendered rows consistent with the latest
// snapshot and the registry. It is not safe for concurrent use.
type Reconciler struct {
	pipeline task.Kind
	registry *task.Registry
	renderer Renderer
	logger   *slog.Logger
	mutated  func(task.Kind, string)

	seq      int
	rendered map[string]Row
	order    map[string]int
	unseen   map[string]time.Time
	snapshot *task.QueueSnapshot
	summary  *Summary

	result *Result
}

// New constructs a Reconciler for one pipeline.
func New(opts Options) *Reconciler {
	return &Reconciler{
		pipeline: opts.Pipeline,
		registry: opts.Registry,
		renderer: opts.Renderer,
		logger:   logging.NewComponentLogger(opts.Logger, "reconcile").With(logging.Pipeline(string(opts.Pipeline))),
		mutated:  opts.Mutated,
		rendered: make(map[string]Row),
		order:    make(map[string]int),
		unseen:   make(map[string]time.Time),
	}
}

// Pipeline returns the pipeline this reconciler renders.
func (r *Reconciler) Pipeline() task.Kind { return r.pipeline }

// Apply reconciles snap against the registry and the previously rendered
// rows. Applying a snapshot identical to the previous one does nothing
// unless a task is waiting on its second missing pass.
func (r *Reconciler) Apply(snap task.QueueSnapshot) Result {
	snap.Pipeline = r.pipeline
	if r.snapshot != nil && len(r.unseen) == 0 && sameSnapshot(*r.snapshot, snap) {
		return Result{Unchanged: true}
	}
	saved := snap
	r.snapshot = &saved

	res := Result{}
	r.result = &res
	defer func() { r.result = nil }()

	r.synthesize(snap, &res)
	r.prune(snap, &res)

	desired, ids := r.desired(snap)
	for _, id := range ids {
		r.put(desired[id])
	}
	for id := range r.rendered {
		if _, keep := desired[id]; !keep {
			r.drop(id)
		}
	}
	r.emitSummary(Summary{Total: snap.Total, Active: len(snap.Active), Waiting: len(snap.Waiting)})

	if res.Inserted+res.Updated+res.Removed > 0 || len(res.Synthesized) > 0 || len(res.Pruned) > 0 {
		r.logger.Debug("queue reconciled",
			logging.Int("inserted", res.Inserted),
			logging.Int("updated", res.Updated),
			logging.Int("removed", res.Removed),
			logging.Int("synthesized", len(res.Synthesized)),
			logging.Int("pruned", len(res.Pruned)),
		)
	}
	return res
}

// synthesize makes sure every active entry has a registry task. Missing ids
// are created in the pipeline's running status; queued tasks the backend
// now reports active are promoted. Existing tasks keep their LastUpdate
// otherwise, so a snapshot never masks a stall.
func (r *Reconciler) synthesize(snap task.QueueSnapshot, res *Result) {
	active := r.pipeline.ActiveStatus()
	for _, entry := range snap.Active {
		existing, ok := r.registry.Get(entry.ID)
		switch {
		case !ok:
			_, err := r.registry.Upsert(entry.ID, task.Patch{Status: active, DisplayName: entry.DisplayName, Reason: "snapshot", Revive: true})
			if err != nil {
				logging.DebugEvent(r.logger, "active entry not synthesized", "reconcile_stale", logging.TaskID(entry.ID), logging.Error(err))
				continue
			}
			res.Synthesized = append(res.Synthesized, entry.ID)
		case existing.Terminal(), existing.Status == active, existing.Status == task.StatusStalled:
		default:
			if _, reachable := task.Path(existing.Status, active, existing.SaveOnly); reachable {
				if _, err := r.registry.Upsert(entry.ID, task.Patch{Status: active, Reason: "snapshot"}); err != nil {
					logging.DebugEvent(r.logger, "active entry not promoted", "reconcile_promote_failed", logging.TaskID(entry.ID), logging.Error(err))
				}
			}
		}
	}
}

// prune drops queued or running registry tasks the backend stopped listing,
// once two consecutive passes saw them missing with no event in between.
func (r *Reconciler) prune(snap task.QueueSnapshot, res *Result) {
	listed := snapshotIDs(snap)
	candidates := make(map[string]struct{})
	for _, t := range r.registry.All() {
		if !r.pruneCandidate(t) {
			continue
		}
		candidates[t.ID] = struct{}{}
		if _, ok := listed[t.ID]; ok {
			delete(r.unseen, t.ID)
			continue
		}
		marked, seen := r.unseen[t.ID]
		if !seen || !marked.Equal(t.LastUpdate) {
			r.unseen[t.ID] = t.LastUpdate
			continue
		}
		delete(r.unseen, t.ID)
		if r.registry.Remove(t.ID) {
			res.Pruned = append(res.Pruned, t.ID)
			r.logger.Info("pruned task missing from queue", logging.TaskID(t.ID), logging.String(logging.FieldStatus, string(t.Status)))
		}
	}
	for id := range r.unseen {
		if _, ok := candidates[id]; !ok {
			delete(r.unseen, id)
		}
	}
}

func (r *Reconciler) pruneCandidate(t task.Task) bool {
	switch t.Status {
	case task.StatusPending:
		return r.pipeline == task.KindDownload
	case task.StatusDownloading:
		return r.pipeline == task.KindDownload
	case task.StatusExtracting:
		return r.pipeline == task.KindExtract
	case task.StatusDownloaded:
		// A finished download waiting for extraction belongs to the extract queue.
		return r.pipeline == task.KindExtract && !t.SaveOnly
	}
	return false
}

// desired returns the rows the pipeline should show, keyed by id, plus the
// ids in display order: active entries, waiting entries, then registry tasks
// the snapshot does not list.
func (r *Reconciler) desired(snap task.QueueSnapshot) (map[string]Row, []string) {
	rows := make(map[string]Row, len(snap.Active)+len(snap.Waiting))
	var ids []string
	add := func(row Row) {
		if _, dup := rows[row.ID]; dup {
			return
		}
		rows[row.ID] = row
		ids = append(ids, row.ID)
	}
	for _, entry := range snap.Active {
		add(r.rowFor(entry.ID, entry.DisplayName))
	}
	for _, entry := range snap.Waiting {
		add(r.rowFor(entry.ID, entry.DisplayName))
	}
	for _, t := range r.registry.ByKind(r.pipeline) {
		add(r.rowFor(t.ID, ""))
	}
	return rows, ids
}

// rowFor builds the row for id from the registry and the latest snapshot.
func (r *Reconciler) rowFor(id, snapshotName string) Row {
	var row Row
	if t, ok := r.registry.Get(id); ok {
		row = rowFromTask(t, snapshotName)
	} else {
		row = Row{ID: id, DisplayName: snapshotName, Status: task.StatusPending, Cancelable: true}
		if r.snapshot != nil && containsEntry(r.snapshot.Active, id) {
			row.Status = r.pipeline.ActiveStatus()
		}
	}
	if r.snapshot != nil {
		if pos, queued := waitingPosition(*r.snapshot, id); queued {
			row.Queued = true
			row.Position = pos
		}
		if row.DisplayName == "" {
			row.DisplayName = snapshotName
		}
	}
	return row
}

// Refresh re-renders one task after an event changed it. A task that moved
// to the other pipeline and is not listed in this pipeline's snapshot is
// dropped right away.
func (r *Reconciler) Refresh(t task.Task) {
	listed := r.snapshot != nil && (containsEntry(r.snapshot.Active, t.ID) || containsEntry(r.snapshot.Waiting, t.ID))
	if t.Kind != r.pipeline && !listed {
		if _, shown := r.rendered[t.ID]; shown {
			r.drop(t.ID)
		}
		return
	}
	r.put(r.rowFor(t.ID, ""))
}

// Forget drops the row for a task the registry removed, and any prune
// bookkeeping for it. A row the snapshot still lists stays, rendered from
// the snapshot alone.
func (r *Reconciler) Forget(id string) {
	delete(r.unseen, id)
	if r.snapshot != nil && (containsEntry(r.snapshot.Active, id) || containsEntry(r.snapshot.Waiting, id)) {
		r.put(r.rowFor(id, snapshotName(*r.snapshot, id)))
		return
	}
	if _, shown := r.rendered[id]; shown {
		r.drop(id)
	}
}

// Rows returns the rendered rows in display order.
func (r *Reconciler) Rows() []Row {
	rows := make([]Row, 0, len(r.rendered))
	for _, row := range r.rendered {
		rows = append(rows, row)
	}
	SortRows(rows, func(id string) int { return r.order[id] })
	return rows
}

// Snapshot returns the last applied snapshot.
func (r *Reconciler) Snapshot() (task.QueueSnapshot, bool) {
	if r.snapshot == nil {
		return task.QueueSnapshot{Pipeline: r.pipeline}, false
	}
	return *r.snapshot, true
}

func (r *Reconciler) put(row Row) {
	prev, shown := r.rendered[row.ID]
	if shown && prev == row {
		return
	}
	r.rendered[row.ID] = row
	if !shown {
		r.seq++
		r.order[row.ID] = r.seq
		r.renderer.Insert(r.pipeline, row)
		r.count(OpInsert)
		return
	}
	r.renderer.Update(r.pipeline, row)
	r.count(OpUpdate)
}

func (r *Reconciler) drop(id string) {
	delete(r.rendered, id)
	delete(r.order, id)
	r.renderer.Remove(r.pipeline, id)
	r.count(OpRemove)
}

func (r *Reconciler) emitSummary(s Summary) {
	if r.summary != nil && *r.summary == s {
		return
	}
	r.summary = &s
	r.renderer.Summary(r.pipeline, s)
	r.count(OpSummary)
}

func (r *Reconciler) count(op string) {
	if r.result != nil {
		switch op {
		case OpInsert:
			r.result.Inserted++
		case OpUpdate:
			r.result.Updated++
		case OpRemove:
			r.result.Removed++
		}
	}
	if r.mutated != nil {
		r.mutated(r.pipeline, op)
	}
}

func sameSnapshot(a, b task.QueueSnapshot) bool {
	return a.Total == b.Total && sameEntries(a.Active, b.Active) && sameEntries(a.Waiting, b.Waiting)
}

func sameEntries(a, b []task.QueueEntry) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func snapshotIDs(snap task.QueueSnapshot) map[string]struct{} {
	ids := make(map[string]struct{}, len(snap.Active)+len(snap.Waiting))
	for _, e := range snap.Active {
		ids[e.ID] = struct{}{}
	}
	for _, e := range snap.Waiting {
		ids[e.ID] = struct{}{}
	}
	return ids
}

// waitingPosition assigns i+1 to waiting[i] while anything is active and 0
// otherwise.
func waitingPosition(snap task.QueueSnapshot, id string) (int, bool) {
	for i, e := range snap.Waiting {
		if e.ID != id {
			continue
		}
		if len(snap.Active) == 0 {
			return 0, true
		}
		return i + 1, true
	}
	return 0, false
}

func containsEntry(entries []task.QueueEntry, id string) bool {
	for _, e := range entries {
		if e.ID == id {
			return true
		}
	}
	return false
}

func snapshotName(snap task.QueueSnapshot, id string) string {
	for _, list := range [][]task.QueueEntry{snap.Active, snap.Waiting} {
		for _, e := range list {
			if e.ID == id {
				return e.DisplayName
			}
		}
	}
	return ""
}
