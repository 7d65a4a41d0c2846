package task_test

import (
	"errors"
	"testing"
	"time"

	"courier/internal/clock"
	"courier/internal/task"
)

var epoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type recorder struct {
	transitions []task.Transition
	removed     []string
	changed     int
}

func (r *recorder) hooks() task.Hooks {
	return task.Hooks{
		Transition: func(t task.Transition) { r.transitions = append(r.transitions, t) },
		Changed:    func(task.Task) { r.changed++ },
		Removed:    func(t task.Task) { r.removed = append(r.removed, t.ID) },
	}
}

func (r *recorder) path(id string) []task.Status {
	var out []task.Status
	for _, tr := range r.transitions {
		if tr.TaskID == id {
			out = append(out, tr.To)
		}
	}
	return out
}

func newRegistry(t *testing.T) (*task.Registry, *clock.Fake, *recorder) {
	t.Helper()
	fake := clock.NewFake(epoch)
	rec := &recorder{}
	reg := task.NewRegistry(task.Options{Clock: fake, Hooks: rec.hooks()})
	return reg, fake, rec
}

func ptr[T any](v T) *T { return &v }

func TestUpsertCreatesAndMerges(t *testing.T) {
	reg, fake, _ := newRegistry(t)

	created, err := reg.Upsert("t1", task.Patch{Status: task.StatusDownloading, DisplayName: "a.7z"})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if created.Kind != task.KindDownload || !created.Cancelable || !created.LastUpdate.Equal(epoch) {
		t.Fatalf("unexpected created task: %+v", created)
	}

	fake.Advance(2 * time.Second)
	updated, err := reg.Upsert("t1", task.Patch{Progress: ptr(42.4)})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if updated.Progress != 42.4 || updated.DisplayName != "a.7z" {
		t.Fatalf("merge lost fields: %+v", updated)
	}
	if !updated.LastUpdate.Equal(epoch.Add(2 * time.Second)) {
		t.Fatalf("LastUpdate not advanced: %v", updated.LastUpdate)
	}
}

func TestUpsertRecordsImpliedSteps(t *testing.T) {
	reg, _, rec := newRegistry(t)
	if _, err := reg.Upsert("t1", task.Patch{}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if _, err := reg.Upsert("t1", task.Patch{Status: task.StatusExtracting}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	want := []task.Status{task.StatusPending, task.StatusDownloading, task.StatusDownloaded, task.StatusExtracting}
	if got := rec.path("t1"); len(got) != len(want) {
		t.Fatalf("path=%v want %v", got, want)
	}
	got, _ := reg.Get("t1")
	if got.Kind != task.KindExtract {
		t.Fatalf("expected extract kind after handoff, got %s", got.Kind)
	}
	for i, tr := range rec.transitions[1:] {
		if wantImplied := i < 2; tr.Implied != wantImplied {
			t.Fatalf("transition %d implied=%v", i, tr.Implied)
		}
	}
}

func TestTerminalWins(t *testing.T) {
	reg, fake, rec := newRegistry(t)
	reg.Upsert("t1", task.Patch{Status: task.StatusDownloading})
	reg.Upsert("t1", task.Patch{Status: task.StatusFailed})
	finishedAt, _ := reg.Get("t1")

	fake.Advance(time.Second)
	_, err := reg.Upsert("t1", task.Patch{Status: task.StatusDownloading, Progress: ptr(80.0)})
	if !errors.Is(err, task.ErrTerminal) || !task.IsStale(err) {
		t.Fatalf("expected ErrTerminal, got %v", err)
	}
	got, _ := reg.Get("t1")
	if got.Status != task.StatusFailed || got.Progress != 0 || !got.LastUpdate.Equal(finishedAt.LastUpdate) {
		t.Fatalf("terminal task was modified: %+v", got)
	}
	if got.Cancelable {
		t.Fatal("terminal task must not be cancelable")
	}
	if n := len(rec.path("t1")); n != 2 {
		t.Fatalf("expected 2 recorded statuses, got %v", rec.path("t1"))
	}
}

func TestUnreachableStatusKeepsOtherFields(t *testing.T) {
	reg, _, _ := newRegistry(t)
	reg.Upsert("t1", task.Patch{Status: task.StatusDownloading})
	reg.Upsert("t1", task.Patch{Status: task.StatusStalled})

	got, err := reg.Upsert("t1", task.Patch{Status: task.StatusDownloading, Progress: ptr(10.0)})
	var transitionErr *task.TransitionError
	if !errors.As(err, &transitionErr) {
		t.Fatalf("expected TransitionError, got %v", err)
	}
	if got.Status != task.StatusStalled || got.Progress != 10 {
		t.Fatalf("unexpected task: %+v", got)
	}
}

func TestRemovalDelaysPerOutcome(t *testing.T) {
	tests := []struct {
		name  string
		patch task.Patch
		delay time.Duration
	}{
		{"saved", task.Patch{Status: task.StatusDownloaded, SaveOnly: ptr(true)}, 5 * time.Second},
		{"failed", task.Patch{Status: task.StatusFailed}, 10 * time.Second},
		{"canceled", task.Patch{Status: task.StatusCanceled}, 5 * time.Second},
		{"extracted", task.Patch{Status: task.StatusExtracted}, 5 * time.Second},
		{"extract failed", task.Patch{Status: task.StatusExtractFailed}, 10 * time.Second},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			reg, fake, rec := newRegistry(t)
			reg.Upsert("t1", task.Patch{Status: task.StatusDownloading})
			reg.Upsert("t1", tc.patch)
			if !reg.RemovalPending("t1") {
				t.Fatal("expected removal timer armed")
			}
			got, _ := reg.Get("t1")
			if !got.RemovalAt.Equal(epoch.Add(tc.delay)) {
				t.Fatalf("RemovalAt=%v want %v", got.RemovalAt, epoch.Add(tc.delay))
			}

			fake.Advance(tc.delay - time.Millisecond)
			if _, ok := reg.Get("t1"); !ok {
				t.Fatal("task removed before its grace period")
			}
			fake.Advance(time.Millisecond)
			if _, ok := reg.Get("t1"); ok {
				t.Fatal("task still present after grace period")
			}
			if len(rec.removed) != 1 || rec.removed[0] != "t1" {
				t.Fatalf("expected one removal hook, got %v", rec.removed)
			}
		})
	}
}

func TestDownloadedForExtractionDoesNotScheduleRemoval(t *testing.T) {
	reg, fake, _ := newRegistry(t)
	reg.Upsert("t2", task.Patch{Status: task.StatusDownloading})
	reg.Upsert("t2", task.Patch{Status: task.StatusDownloaded, SaveOnly: ptr(false)})
	if reg.RemovalPending("t2") {
		t.Fatal("download handed to extraction must not schedule removal")
	}
	fake.Advance(2 * time.Second)
	got, err := reg.Upsert("t2", task.Patch{Status: task.StatusExtracting})
	if err != nil || got.Status != task.StatusExtracting {
		t.Fatalf("handoff failed: %+v err=%v", got, err)
	}
	fake.Advance(time.Minute)
	if _, ok := reg.Get("t2"); !ok {
		t.Fatal("extracting task removed")
	}
}

func TestReactivationCancelsScheduledRemoval(t *testing.T) {
	reg, fake, _ := newRegistry(t)
	reg.Upsert("t1", task.Patch{Status: task.StatusDownloading})
	if err := reg.ScheduleRemoval("t1", 5*time.Second); err != nil {
		t.Fatalf("ScheduleRemoval: %v", err)
	}
	fake.Advance(3 * time.Second)
	reg.Upsert("t1", task.Patch{Status: task.StatusDownloading, Progress: ptr(50.0)})
	if reg.RemovalPending("t1") {
		t.Fatal("expected timer cancelled on reactivation")
	}
	fake.Advance(time.Minute)
	if _, ok := reg.Get("t1"); !ok {
		t.Fatal("reactivated task was removed")
	}
}

func TestStalledTaskCancelsWhenTimerFires(t *testing.T) {
	reg, fake, rec := newRegistry(t)
	reg.Upsert("t3", task.Patch{Status: task.StatusDownloading})
	reg.Upsert("t3", task.Patch{Status: task.StatusStalled, CancelRequested: ptr(true)})
	reg.ScheduleRemoval("t3", 5*time.Second)

	// Cancel confirmation keeps the stall timer instead of restarting it.
	fake.Advance(2 * time.Second)
	reg.Upsert("t3", task.Patch{Status: task.StatusCanceled})
	got, _ := reg.Get("t3")
	if !got.RemovalAt.Equal(epoch.Add(5 * time.Second)) {
		t.Fatalf("stall timer restarted: RemovalAt=%v", got.RemovalAt)
	}
	fake.Advance(3 * time.Second)
	if _, ok := reg.Get("t3"); ok {
		t.Fatal("expected task removed at stall deadline")
	}

	reg.Upsert("t4", task.Patch{Status: task.StatusDownloading})
	reg.Upsert("t4", task.Patch{Status: task.StatusStalled})
	reg.ScheduleRemoval("t4", 5*time.Second)
	fake.Advance(5 * time.Second)
	path := rec.path("t4")
	if path[len(path)-1] != task.StatusCanceled {
		t.Fatalf("stalled task should end CANCELED, got %v", path)
	}
}

func TestRemoveIsIdempotentAndTombstones(t *testing.T) {
	reg, fake, rec := newRegistry(t)
	reg.Upsert("t1", task.Patch{Status: task.StatusFailed})
	if !reg.Remove("t1") {
		t.Fatal("expected first Remove to report true")
	}
	if reg.Remove("t1") {
		t.Fatal("expected second Remove to be a no-op")
	}
	fake.Advance(time.Minute)
	if len(rec.removed) != 1 {
		t.Fatalf("removal timer fired after Remove: %v", rec.removed)
	}

	_, err := reg.Upsert("t1", task.Patch{Status: task.StatusDownloading})
	var stale *task.StaleReferenceError
	if !errors.As(err, &stale) || stale.Op != "upsert" {
		t.Fatalf("expected stale reference, got %v", err)
	}
	if !reg.Removed("t1") || reg.Len() != 0 {
		t.Fatal("tombstoned id resurrected")
	}
	if err := reg.ScheduleRemoval("nope", time.Second); !task.IsStale(err) {
		t.Fatalf("expected stale error for unknown id, got %v", err)
	}
}

func TestAllPreservesFirstSeenOrder(t *testing.T) {
	reg, _, _ := newRegistry(t)
	reg.Upsert("b", task.Patch{})
	reg.Upsert("a", task.Patch{Status: task.StatusExtracting})
	reg.Upsert("c", task.Patch{})
	reg.Upsert("b", task.Patch{Status: task.StatusDownloading})

	all := reg.All()
	if len(all) != 3 || all[0].ID != "b" || all[1].ID != "a" || all[2].ID != "c" {
		t.Fatalf("unexpected order: %+v", all)
	}
	if extract := reg.ByKind(task.KindExtract); len(extract) != 1 || extract[0].ID != "a" {
		t.Fatalf("unexpected extract tasks: %+v", extract)
	}
}

func TestStalledExtractionStaysInExtractPipeline(t *testing.T) {
	reg, _, _ := newRegistry(t)
	if _, err := reg.Upsert("x1", task.Patch{Status: task.StatusExtracting}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	stalled, err := reg.Upsert("x1", task.Patch{Status: task.StatusStalled})
	if err != nil {
		t.Fatalf("Upsert stalled: %v", err)
	}
	if stalled.Kind != task.KindExtract {
		t.Fatalf("expected extract pipeline, got %s", stalled.Kind)
	}
	canceled, err := reg.Upsert("x1", task.Patch{Status: task.StatusCanceled})
	if err != nil {
		t.Fatalf("Upsert canceled: %v", err)
	}
	if canceled.Kind != task.KindExtract {
		t.Fatalf("expected extract pipeline after cancel, got %s", canceled.Kind)
	}
}

func TestReviveRecreatesTombstonedTask(t *testing.T) {
	reg, _, rec := newRegistry(t)
	reg.Upsert("t1", task.Patch{Status: task.StatusDownloading})
	reg.Remove("t1")

	got, err := reg.Upsert("t1", task.Patch{Status: task.StatusDownloading, DisplayName: "again.7z", Revive: true})
	if err != nil {
		t.Fatalf("revive: %v", err)
	}
	if got.Status != task.StatusDownloading || got.DisplayName != "again.7z" {
		t.Fatalf("unexpected revived task %+v", got)
	}
	if reg.Removed("t1") || reg.Len() != 1 {
		t.Fatal("revived id still tombstoned")
	}
	if path := rec.path("t1"); len(path) != 2 || path[1] != task.StatusDownloading {
		t.Fatalf("expected a fresh creation transition, got %v", path)
	}

	reg.Remove("t1")
	if _, err := reg.Upsert("t1", task.Patch{Status: task.StatusFailed}); !task.IsStale(err) {
		t.Fatalf("plain upsert after second removal should be stale, got %v", err)
	}
}
