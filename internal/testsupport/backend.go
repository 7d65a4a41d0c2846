package testsupport

import (
	"context"
	"sync"
)

// BackendCall is one recorded control RPC.
type BackendCall struct {
	Method string
	TaskID string
	Reason string
}

// FakeBackend records control RPCs and returns scripted results. Methods are
// safe for concurrent use.
type FakeBackend struct {
	mu     sync.Mutex
	calls  []BackendCall
	errs   map[string]error
	result string
	// Gate, when non-nil, blocks every call until a value is received or the
	// context ends.
	Gate chan struct{}
}

// NewFakeBackend returns a backend whose calls succeed with "ok".
func NewFakeBackend() *FakeBackend {
	return &FakeBackend{errs: make(map[string]error), result: "ok"}
}

// FailWith makes every later call of method return err. A nil err clears it.
func (f *FakeBackend) FailWith(method string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.errs, method)
		return
	}
	f.errs[method] = err
}

// Calls returns a copy of the recorded calls.
func (f *FakeBackend) Calls() []BackendCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]BackendCall(nil), f.calls...)
}

// CallCount reports how many times method was invoked.
func (f *FakeBackend) CallCount(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

func (f *FakeBackend) call(ctx context.Context, method, taskID, reason string) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, BackendCall{Method: method, TaskID: taskID, Reason: reason})
	err := f.errs[method]
	result := f.result
	gate := f.Gate
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if err != nil {
		return "", err
	}
	return result, nil
}

func (f *FakeBackend) CancelDownload(ctx context.Context, taskID, reason string) (string, error) {
	return f.call(ctx, "cancel_download", taskID, reason)
}

func (f *FakeBackend) CancelAllDownloads(ctx context.Context) (string, error) {
	return f.call(ctx, "cancel_all_downloads", "", "")
}

func (f *FakeBackend) CancelExtract(ctx context.Context, taskID string) (string, error) {
	return f.call(ctx, "cancel_extract", taskID, "")
}

func (f *FakeBackend) CancelAllExtracts(ctx context.Context) (string, error) {
	return f.call(ctx, "cancel_all_extracts", "", "")
}

func (f *FakeBackend) RefreshDownloadQueue(ctx context.Context) (string, error) {
	return f.call(ctx, "refresh_download_queue", "", "")
}

func (f *FakeBackend) RefreshExtractQueue(ctx context.Context) (string, error) {
	return f.call(ctx, "refresh_extract_queue", "", "")
}
