package events_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"courier/internal/clock"
	"courier/internal/events"
	"courier/internal/logging"
	"courier/internal/task"
)

var epoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type harness struct {
	clock    *clock.Fake
	registry *task.Registry
	gateway  *events.Gateway
	stale    int
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{clock: clock.NewFake(epoch)}
	h.registry = task.NewRegistry(task.Options{Clock: h.clock})
	applier := events.NewApplier(h.registry, nil)
	applier.Stale = func(events.Channel) { h.stale++ }
	h.gateway = events.NewGateway(nil, events.Observer{})
	for _, ch := range events.TaskChannels {
		if _, err := h.gateway.Subscribe(ch, applier.Handle); err != nil {
			t.Fatalf("Subscribe %s: %v", ch, err)
		}
	}
	return h
}

func (h *harness) send(t *testing.T, ch events.Channel, raw string) {
	t.Helper()
	if err := h.gateway.Deliver(ch, []byte(raw)); err != nil {
		t.Fatalf("Deliver %s: %v", ch, err)
	}
}

func (h *harness) task(t *testing.T, id string) task.Task {
	t.Helper()
	got, ok := h.registry.Get(id)
	if !ok {
		t.Fatalf("task %s not tracked", id)
	}
	return got
}

func TestStartThenProgressRoundsPercent(t *testing.T) {
	h := newHarness(t)
	h.send(t, events.ChannelTaskStart, `{"taskId":"t1","filename":"a.7z","url":"http://host/a.7z"}`)
	h.send(t, events.ChannelProgress, `{"taskId":"t1","progress":42.37,"rawOutput":"DL:1MiB/s"}`)

	got := h.task(t, "t1")
	if got.Status != task.StatusDownloading || got.Progress != 42.4 {
		t.Fatalf("unexpected task %+v", got)
	}
	if got.DisplayName != "a.7z" || got.RawDiagnostic != "DL:1MiB/s" || got.URL != "http://host/a.7z" {
		t.Fatalf("fields not merged: %+v", got)
	}
}

func TestSaveOnlyCompleteSchedulesRemoval(t *testing.T) {
	h := newHarness(t)
	h.send(t, events.ChannelTaskStart, `{"taskId":"t1","filename":"a.7z"}`)
	h.send(t, events.ChannelComplete, `{"taskId":"t1","success":true,"saveonly":true,"message":"saved"}`)

	got := h.task(t, "t1")
	if got.Status != task.StatusDownloaded || !got.Terminal() {
		t.Fatalf("expected terminal DOWNLOADED, got %+v", got)
	}
	if !got.RemovalAt.Equal(epoch.Add(5 * time.Second)) {
		t.Fatalf("expected removal in 5s, got %v", got.RemovalAt)
	}
	h.clock.Advance(5 * time.Second)
	if _, ok := h.registry.Get("t1"); ok {
		t.Fatal("expected t1 removed")
	}
}

func TestCompleteThenExtractStartHandsOff(t *testing.T) {
	h := newHarness(t)
	h.send(t, events.ChannelTaskStart, `{"taskId":"t2","filename":"b.rar"}`)
	h.send(t, events.ChannelComplete, `{"taskId":"t2","success":true,"saveonly":false}`)
	if h.registry.RemovalPending("t2") {
		t.Fatal("no removal expected while extraction is pending")
	}
	h.clock.Advance(2 * time.Second)
	if h.registry.RemovalPending("t2") {
		t.Fatal("no removal expected during handoff window")
	}
	h.send(t, events.ChannelExtractStart, `{"taskId":"t2","filename":"b.rar","extractDir":"/tmp/b"}`)

	got := h.task(t, "t2")
	if got.Status != task.StatusExtracting || got.Kind != task.KindExtract || got.ExtractDir != "/tmp/b" {
		t.Fatalf("unexpected task %+v", got)
	}
	if h.registry.RemovalPending("t2") {
		t.Fatal("extracting task has a removal timer")
	}

	h.send(t, events.ChannelExtractComplete, `{"taskId":"t2","success":false,"message":"crc mismatch"}`)
	got = h.task(t, "t2")
	if got.Status != task.StatusExtractFailed || got.RawDiagnostic != "crc mismatch" {
		t.Fatalf("unexpected task %+v", got)
	}
}

func TestDuplicateStartOnlyRefreshes(t *testing.T) {
	h := newHarness(t)
	h.send(t, events.ChannelTaskStart, `{"taskId":"t1","filename":"a.7z"}`)
	h.send(t, events.ChannelProgress, `{"taskId":"t1","progress":10}`)
	h.clock.Advance(3 * time.Second)
	h.send(t, events.ChannelTaskStart, `{"taskId":"t1","filename":"renamed.7z"}`)

	got := h.task(t, "t1")
	if got.DisplayName != "a.7z" || got.Progress != 10 || got.Status != task.StatusDownloading {
		t.Fatalf("duplicate start changed fields: %+v", got)
	}
	if !got.LastUpdate.Equal(epoch.Add(3 * time.Second)) {
		t.Fatalf("expected LastUpdate refreshed, got %v", got.LastUpdate)
	}
}

func TestAddThenStartPromotesPending(t *testing.T) {
	h := newHarness(t)
	h.send(t, events.ChannelTaskAdd, `{"taskId":"t1","filename":"a.7z"}`)
	if got := h.task(t, "t1"); got.Status != task.StatusPending {
		t.Fatalf("expected PENDING, got %s", got.Status)
	}
	h.send(t, events.ChannelTaskStart, `{"taskId":"t1","filename":"a.7z"}`)
	if got := h.task(t, "t1"); got.Status != task.StatusDownloading {
		t.Fatalf("expected DOWNLOADING, got %s", got.Status)
	}
}

func TestLateProgressAfterFailureIsStale(t *testing.T) {
	h := newHarness(t)
	h.send(t, events.ChannelTaskStart, `{"taskId":"t1"}`)
	h.send(t, events.ChannelFailed, `{"taskId":"t1","error":"connection reset"}`)
	h.send(t, events.ChannelProgress, `{"taskId":"t1","progress":99}`)

	got := h.task(t, "t1")
	if got.Status != task.StatusFailed || got.Progress == 99 {
		t.Fatalf("terminal task reverted: %+v", got)
	}
	if h.stale != 1 {
		t.Fatalf("expected one stale event, got %d", h.stale)
	}

	h.clock.Advance(10 * time.Second)
	h.send(t, events.ChannelCanceled, `{"taskId":"t1"}`)
	if _, ok := h.registry.Get("t1"); ok {
		t.Fatal("event for a removed task recreated it")
	}
	if h.stale != 2 {
		t.Fatalf("expected tombstoned id counted stale, got %d", h.stale)
	}
}

func TestStartRecreatesRemovedTask(t *testing.T) {
	h := newHarness(t)
	h.send(t, events.ChannelTaskStart, `{"taskId":"t1","filename":"a.7z"}`)
	h.send(t, events.ChannelCanceled, `{"taskId":"t1"}`)
	h.clock.Advance(time.Minute)
	if _, ok := h.registry.Get("t1"); ok {
		t.Fatal("canceled task outlived its grace period")
	}

	h.send(t, events.ChannelProgress, `{"taskId":"t1","progress":12}`)
	if _, ok := h.registry.Get("t1"); ok {
		t.Fatal("progress for a removed task recreated it")
	}

	h.send(t, events.ChannelTaskStart, `{"taskId":"t1","filename":"a.7z"}`)
	got := h.task(t, "t1")
	if got.Status != task.StatusDownloading || got.Progress != 0 {
		t.Fatalf("expected a fresh downloading task, got %+v", got)
	}
	if h.stale != 1 {
		t.Fatalf("expected only the progress event counted stale, got %d", h.stale)
	}
}

func TestCancelRequestedMarksFlag(t *testing.T) {
	h := newHarness(t)
	h.send(t, events.ChannelTaskStart, `{"taskId":"t1"}`)
	h.clock.Advance(4 * time.Second)
	h.send(t, events.ChannelCancelRequested, `{"taskId":"t1"}`)

	got := h.task(t, "t1")
	if !got.CancelRequested || got.Status != task.StatusDownloading {
		t.Fatalf("unexpected task %+v", got)
	}
	if !got.LastUpdate.Equal(epoch.Add(4 * time.Second)) {
		t.Fatalf("expected LastUpdate refreshed, got %v", got.LastUpdate)
	}

	h.send(t, events.ChannelCancelRequested, `{"taskId":"ghost"}`)
	if _, ok := h.registry.Get("ghost"); ok {
		t.Fatal("cancel-requested must not create tasks")
	}
}

func TestResumedRefreshesDiagnostic(t *testing.T) {
	h := newHarness(t)
	h.send(t, events.ChannelTaskStart, `{"taskId":"t1"}`)
	h.clock.Advance(20 * time.Second)
	h.send(t, events.ChannelResumed, `{"taskId":"t1","filename":"a.7z","message":"resumed from 40%"}`)

	got := h.task(t, "t1")
	if got.RawDiagnostic != "resumed from 40%" || !got.LastUpdate.Equal(epoch.Add(20*time.Second)) {
		t.Fatalf("unexpected task %+v", got)
	}
}

func TestProgressLoggingIsSampled(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "gateway.log")
	logger, err := logging.New(logging.Options{Format: "json", Level: "debug", OutputPaths: []string{logPath}})
	if err != nil {
		t.Fatalf("logging.New: %v", err)
	}
	registry := task.NewRegistry(task.Options{Clock: clock.NewFake(epoch)})
	applier := events.NewApplier(registry, logger)

	apply := func(ev events.Event) {
		t.Helper()
		if err := applier.Apply(ev); err != nil {
			t.Fatalf("Apply %T: %v", ev, err)
		}
	}
	apply(events.TaskStarted{ID: "t1", Filename: "a.7z"})
	for _, p := range []float64{1, 2, 3, 6, 7, 11} {
		apply(events.Progress{ID: "t1", Percent: p})
	}

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if n := strings.Count(string(content), `"msg":"download progress"`); n != 3 {
		t.Fatalf("expected 3 sampled progress lines, got %d:\n%s", n, content)
	}
}
