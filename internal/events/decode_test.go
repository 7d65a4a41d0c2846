package events_test

import (
	"errors"
	"testing"
	"time"

	"courier/internal/events"
	"courier/internal/task"
)

func TestDecodeProgress(t *testing.T) {
	ev, err := events.Decode(events.ChannelProgress, []byte(`{
		"taskId": "t1", "progress": 42.37, "filename": "my%20archive.7z",
		"rawOutput": "[#2089b0 1.0MiB/2.0MiB(50%) CN:1 DL:1.0MiB/s]",
		"totalSize": 2.0, "completedSize": 1.0, "downloadSpeed": 1048576, "eta": 12
	}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	p, ok := ev.(events.Progress)
	if !ok {
		t.Fatalf("unexpected type %T", ev)
	}
	if p.Percent != 42.4 {
		t.Fatalf("expected rounded progress, got %v", p.Percent)
	}
	if p.Filename != "my archive.7z" {
		t.Fatalf("expected percent-decoded name, got %q", p.Filename)
	}
	if p.Transfer == nil || p.Transfer.BytesPerSecond != 1048576 || p.Transfer.ETA != 12*time.Second || p.Transfer.TotalMiB != 2 {
		t.Fatalf("unexpected transfer %+v", p.Transfer)
	}
	if p.TaskID() != "t1" || p.Channel() != events.ChannelProgress {
		t.Fatalf("unexpected identity %s/%s", p.TaskID(), p.Channel())
	}
}

func TestDecodeRequiresFields(t *testing.T) {
	tests := []struct {
		ch    events.Channel
		raw   string
		field string
	}{
		{events.ChannelProgress, `{"taskId":"t1"}`, "progress"},
		{events.ChannelExtractComplete, `{"taskId":"t1","message":"ok"}`, "success"},
		{events.ChannelTaskStart, `{"filename":"a.7z"}`, "taskId"},
		{events.ChannelDownloadQueue, `{}`, "queue"},
		{events.ChannelExtractQueue, `{"queue":{"waiting_tasks":[{"filename":"x"}]}}`, "waiting_tasks[0].id"},
	}
	for _, tc := range tests {
		_, err := events.Decode(tc.ch, []byte(tc.raw))
		var malformed *events.MalformedEventError
		if !errors.As(err, &malformed) || malformed.Field != tc.field {
			t.Fatalf("%s %s: expected missing %s, got %v", tc.ch, tc.raw, tc.field, err)
		}
	}
}

func TestDecodeAcceptsIDFallbackAndLooseText(t *testing.T) {
	ev, err := events.Decode(events.ChannelFailed, []byte(`{"id":"t9","error":{"code":3,"message":"resource not found"}}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	failed := ev.(events.DownloadFailed)
	if failed.ID != "t9" || failed.Error != `{"code":3,"message":"resource not found"}` {
		t.Fatalf("unexpected event %+v", failed)
	}
}

func TestDecodeQueueSnapshot(t *testing.T) {
	ev, err := events.Decode(events.ChannelDownloadQueue, []byte(`{"queue":{
		"total_tasks": 3,
		"waiting_tasks": [{"id":"w1","url":"http://x/a","filename":"a.7z"}, "w2"],
		"active_tasks": [{"id":"a1","filename":"b%2Ezip"}]
	}}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	q := ev.(events.QueueUpdate)
	snap := q.Snapshot
	if snap.Pipeline != task.KindDownload || snap.Total != 3 {
		t.Fatalf("unexpected snapshot header %+v", snap)
	}
	if len(snap.Waiting) != 2 || snap.Waiting[0].ID != "w1" || snap.Waiting[1].ID != "w2" {
		t.Fatalf("unexpected waiting list %+v", snap.Waiting)
	}
	if len(snap.Active) != 1 || snap.Active[0].DisplayName != "b.zip" {
		t.Fatalf("unexpected active list %+v", snap.Active)
	}

	ev, err = events.Decode(events.ChannelExtractQueue, []byte(`{"queue":{"waiting_tasks":[],"active_tasks":["e1"]}}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if q := ev.(events.QueueUpdate); q.Snapshot.Total != 1 || q.Channel() != events.ChannelExtractQueue {
		t.Fatalf("expected derived total for extract queue, got %+v", q.Snapshot)
	}
}

func TestDisplayName(t *testing.T) {
	tests := []struct{ raw, want string }{
		{"plain.rar", "plain.rar"},
		{"%E4%B8%AD%E6%96%87.7z", "\u4e2d\u6587.7z"},
		{"bad%zzescape.zip", "bad%zzescape.zip"},
		{"Cafe\u0301.zip", "Caf\u00e9.zip"},
		{"Cafe%CC%81.zip", "Caf\u00e9.zip"},
		{"  padded.zip ", "padded.zip"},
	}
	for _, tc := range tests {
		if got := events.DisplayName(tc.raw); got != tc.want {
			t.Fatalf("DisplayName(%q)=%q want %q", tc.raw, got, tc.want)
		}
	}
}
