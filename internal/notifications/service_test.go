package notifications_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"courier/internal/command"
	"courier/internal/config"
	"courier/internal/notifications"
	"courier/internal/task"
)

type captured struct {
	title    string
	tags     string
	priority string
	agent    string
	body     string
}

type ntfyRecorder struct {
	mu   sync.Mutex
	seen []captured
}

func newNtfyServer(t *testing.T, status int) (*ntfyRecorder, *httptest.Server) {
	t.Helper()
	rec := &ntfyRecorder{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		rec.mu.Lock()
		rec.seen = append(rec.seen, captured{
			title:    r.Header.Get("Title"),
			tags:     r.Header.Get("Tags"),
			priority: r.Header.Get("Priority"),
			agent:    r.Header.Get("User-Agent"),
			body:     string(body),
		})
		rec.mu.Unlock()
		w.WriteHeader(status)
		if status >= 300 {
			_, _ = io.WriteString(w, "topic is read-only")
		}
	}))
	t.Cleanup(server.Close)
	return rec, server
}

func (r *ntfyRecorder) all() []captured {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]captured(nil), r.seen...)
}

func configFor(url string) *config.Config {
	cfg := config.Default()
	cfg.Notifications.NtfyTopic = url
	cfg.Notifications.RequestTimeout = 5
	return &cfg
}

func TestNewServiceReturnsNoopWhenTopicMissing(t *testing.T) {
	cfg := config.Default()
	cfg.Notifications.NtfyTopic = ""
	svc := notifications.NewService(&cfg)
	if notifications.Enabled(svc) {
		t.Fatalf("service without a topic reports enabled")
	}
	if err := svc.Publish(context.Background(), notifications.EventTaskFailed, notifications.Payload{"name": "a.7z"}); err != nil {
		t.Fatalf("expected noop notifier to return nil, got %v", err)
	}
}

func TestNtfyServiceFormatsPayloads(t *testing.T) {
	tests := []struct {
		name           string
		event          notifications.Event
		payload        notifications.Payload
		expectTitle    string
		expectMessage  string
		expectTags     string
		expectPriority string
	}{
		{
			name:           "download failed",
			event:          notifications.EventTaskFailed,
			payload:        notifications.Payload{"name": "movie.mkv", "pipeline": "download", "diagnostic": "disk full"},
			expectTitle:    "Courier - Download Failed",
			expectMessage:  "Download failed: movie.mkv\ndisk full",
			expectTags:     "courier,download,failed",
			expectPriority: "high",
		},
		{
			name:           "extract failed",
			event:          notifications.EventExtractFailed,
			payload:        notifications.Payload{"name": "b.rar", "pipeline": "extract"},
			expectTitle:    "Courier - Extract Failed",
			expectMessage:  "Extract failed: b.rar",
			expectTags:     "courier,extract,failed",
			expectPriority: "high",
		},
		{
			name:          "stalled",
			event:         notifications.EventTaskStalled,
			payload:       notifications.Payload{"name": "stuck.7z", "pipeline": "download"},
			expectTitle:   "Courier - Stalled",
			expectMessage: "No progress on stuck.7z, canceling",
			expectTags:    "courier,download,stalled",
		},
		{
			name:          "extracted",
			event:         notifications.EventTaskCompleted,
			payload:       notifications.Payload{"name": "b.rar", "pipeline": "extract"},
			expectTitle:   "Courier - Complete",
			expectMessage: "Extracted: b.rar",
			expectTags:    "courier,extract,completed",
		},
		{
			name:           "control failed",
			event:          notifications.EventControlFailed,
			payload:        notifications.Payload{"title": "Cancel failed", "message": "connection refused"},
			expectTitle:    "Courier - Cancel failed",
			expectMessage:  "connection refused",
			expectTags:     "courier,control,failed",
			expectPriority: "high",
		},
		{
			name:           "test",
			event:          notifications.EventTest,
			expectTitle:    "Courier - Test",
			expectMessage:  "Notification system test",
			expectTags:     "courier,test",
			expectPriority: "low",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec, server := newNtfyServer(t, http.StatusOK)
			svc := notifications.NewService(configFor(server.URL))
			if err := svc.Publish(context.Background(), tc.event, tc.payload); err != nil {
				t.Fatalf("notification returned error: %v", err)
			}

			seen := rec.all()
			if len(seen) != 1 {
				t.Fatalf("expected one request, got %d", len(seen))
			}
			got := seen[0]
			if got.title != tc.expectTitle {
				t.Fatalf("expected title %q, got %q", tc.expectTitle, got.title)
			}
			if got.body != tc.expectMessage {
				t.Fatalf("expected message %q, got %q", tc.expectMessage, got.body)
			}
			if got.tags != tc.expectTags {
				t.Fatalf("expected tags %q, got %q", tc.expectTags, got.tags)
			}
			if got.priority != tc.expectPriority {
				t.Fatalf("expected priority %q, got %q", tc.expectPriority, got.priority)
			}
			if got.agent != "courier/0.1" {
				t.Fatalf("unexpected user agent %q", got.agent)
			}
		})
	}
}

func TestNtfyServiceReportsRejectedPublish(t *testing.T) {
	_, server := newNtfyServer(t, http.StatusForbidden)
	svc := notifications.NewService(configFor(server.URL))
	err := svc.Publish(context.Background(), notifications.EventTest, nil)
	if err == nil || !strings.Contains(err.Error(), "403") || !strings.Contains(err.Error(), "read-only") {
		t.Fatalf("expected 403 error with body, got %v", err)
	}
}

func TestNtfyServiceRejectsUnknownEvent(t *testing.T) {
	rec, server := newNtfyServer(t, http.StatusOK)
	svc := notifications.NewService(configFor(server.URL))
	if err := svc.Publish(context.Background(), notifications.Event("bogus"), nil); err == nil {
		t.Fatalf("expected error for unknown event")
	}
	if n := len(rec.all()); n != 0 {
		t.Fatalf("unknown event reached ntfy %d times", n)
	}
}

func TestRelayPublishesFailuresAndStalls(t *testing.T) {
	rec, server := newNtfyServer(t, http.StatusOK)
	cfg := configFor(server.URL)
	relay := notifications.NewRelay(notifications.NewService(cfg), cfg, nil)

	stuck := task.Task{ID: "t3", Kind: task.KindDownload, DisplayName: "stuck.7z"}
	relay.Transition(stuck, task.Transition{TaskID: "t3", Kind: task.KindDownload, From: task.StatusDownloading, To: task.StatusStalled, Reason: "stalled"})
	relay.Wait()
	relay.Transition(stuck, task.Transition{TaskID: "t3", Kind: task.KindDownload, From: task.StatusStalled, To: task.StatusCanceled})
	relay.Transition(task.Task{ID: "x1"}, task.Transition{TaskID: "x1", Kind: task.KindExtract, From: task.StatusExtracting, To: task.StatusExtracted})
	relay.Transition(task.Task{ID: "t4"}, task.Transition{TaskID: "t4", Kind: task.KindDownload, To: task.StatusFailed, Implied: true})
	relay.Wait()
	relay.Transition(task.Task{ID: "t5", RawDiagnostic: "checksum mismatch"}, task.Transition{TaskID: "t5", Kind: task.KindDownload, From: task.StatusDownloading, To: task.StatusFailed})
	relay.Wait()

	seen := rec.all()
	if len(seen) != 2 {
		t.Fatalf("expected stall and failure only, got %+v", seen)
	}
	if seen[0].title != "Courier - Stalled" || !strings.Contains(seen[0].body, "stuck.7z") {
		t.Fatalf("unexpected stall notification %+v", seen[0])
	}
	if seen[1].body != "Download failed: t5\nchecksum mismatch" {
		t.Fatalf("unexpected failure notification %+v", seen[1])
	}
}

func TestRelayCompletionsAreOptIn(t *testing.T) {
	rec, server := newNtfyServer(t, http.StatusOK)
	cfg := configFor(server.URL)
	cfg.Notifications.NotifyCompleted = true
	relay := notifications.NewRelay(notifications.NewService(cfg), cfg, nil)

	relay.Transition(task.Task{ID: "d1", DisplayName: "keep.iso"}, task.Transition{TaskID: "d1", Kind: task.KindDownload, To: task.StatusDownloaded})
	relay.Wait()
	relay.Transition(task.Task{ID: "d2", DisplayName: "save.iso", SaveOnly: true}, task.Transition{TaskID: "d2", Kind: task.KindDownload, To: task.StatusDownloaded})
	relay.Wait()

	seen := rec.all()
	if len(seen) != 1 || seen[0].body != "Downloaded: save.iso" {
		t.Fatalf("expected only the save-only completion, got %+v", seen)
	}
}

func TestBannersFanOutToRelay(t *testing.T) {
	rec, server := newNtfyServer(t, http.StatusOK)
	cfg := configFor(server.URL)
	relay := notifications.NewRelay(notifications.NewService(cfg), cfg, nil)

	var local []command.Banner
	banners := notifications.Banners{bannerFunc(func(b command.Banner) { local = append(local, b) }), nil, relay}
	banners.Show(command.Banner{Title: "Refresh failed", Message: "timeout"})
	relay.Wait()

	if len(local) != 1 {
		t.Fatalf("local notifier saw %d banners", len(local))
	}
	seen := rec.all()
	if len(seen) != 1 || seen[0].title != "Courier - Refresh failed" || seen[0].body != "timeout" {
		t.Fatalf("unexpected relayed banner %+v", seen)
	}
}

type bannerFunc func(command.Banner)

func (f bannerFunc) Show(b command.Banner) { f(b) }
