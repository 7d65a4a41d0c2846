package task

import (
	"fmt"
	"strings"
	"time"
)

// Status is a task lifecycle state.
type Status string

const (
	StatusPending       Status = "PENDING"
	StatusDownloading   Status = "DOWNLOADING"
	StatusDownloaded    Status = "DOWNLOADED"
	StatusExtracting    Status = "EXTRACTING"
	StatusExtracted     Status = "EXTRACTED"
	StatusFailed        Status = "FAILED"
	StatusExtractFailed Status = "EXTRACT_FAILED"
	StatusCanceled      Status = "CANCELED"
	StatusStalled       Status = "STALLED"
)

var allStatuses = []Status{
	StatusPending,
	StatusDownloading,
	StatusDownloaded,
	StatusExtracting,
	StatusExtracted,
	StatusFailed,
	StatusExtractFailed,
	StatusCanceled,
	StatusStalled,
}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

// AllStatuses returns every known status in lifecycle order.
func AllStatuses() []Status {
	out := make([]Status, len(allStatuses))
	copy(out, allStatuses)
	return out
}

// ParseStatus converts a string into a Status, ignoring case.
func ParseStatus(value string) (Status, bool) {
	status := Status(strings.ToUpper(strings.TrimSpace(value)))
	_, ok := statusSet[status]
	return status, ok
}

// Kind names the pipeline a task currently belongs to.
type Kind string

const (
	KindDownload Kind = "download"
	KindExtract  Kind = "extract"
)

// Kinds lists both pipelines.
var Kinds = []Kind{KindDownload, KindExtract}

// ParseKind converts a pipeline name into a Kind.
func ParseKind(value string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(value))) {
	case KindDownload:
		return KindDownload, nil
	case KindExtract:
		return KindExtract, nil
	}
	return "", fmt.Errorf("unknown pipeline %q", value)
}

// ActiveStatus is the status of a running task in pipeline k.
func (k Kind) ActiveStatus() Status {
	if k == KindExtract {
		return StatusExtracting
	}
	return StatusDownloading
}

// KindForStatus maps a status to the pipeline that displays it. A finished
// download waiting for extraction still belongs to the download pipeline.
func KindForStatus(status Status) Kind {
	switch status {
	case StatusExtracting, StatusExtracted, StatusExtractFailed:
		return KindExtract
	default:
		return KindDownload
	}
}

// KindAfter returns the pipeline a task in pipeline k belongs to once it
// enters status. STALLED and CANCELED leave the task where it was.
func KindAfter(k Kind, status Status) Kind {
	if (status == StatusStalled || status == StatusCanceled) && k != "" {
		return k
	}
	return KindForStatus(status)
}

// Transfer carries the optional progress detail the download engine reports.
type Transfer struct {
	TotalMiB     float64
	CompletedMiB float64
	// BytesPerSecond is the current download speed.
	BytesPerSecond int64
	// ETA is the backend's remaining-time estimate.
	ETA time.Duration
}

// Task is one in-flight or recently finished job.
type Task struct {
	ID              string
	Kind            Kind
	DisplayName     string
	Status          Status
	Progress        float64
	LastUpdate      time.Time
	Cancelable      bool
	RawDiagnostic   string
	SaveOnly        bool
	URL             string
	ExtractDir      string
	Transfer        Transfer
	CancelRequested bool
	// RemovalAt is when the pending removal timer fires; zero when none is armed.
	RemovalAt time.Time
}

// Terminal reports whether the task has reached a status it never leaves.
func (t Task) Terminal() bool {
	return IsTerminal(t.Status, t.SaveOnly)
}

// IsTerminal reports whether status is terminal. DOWNLOADED is terminal only
// for save-only downloads; otherwise extraction follows.
func IsTerminal(status Status, saveOnly bool) bool {
	switch status {
	case StatusExtracted, StatusFailed, StatusCanceled, StatusExtractFailed:
		return true
	case StatusDownloaded:
		return saveOnly
	default:
		return false
	}
}

// IsActive reports whether status is a running state the liveness monitor watches.
func IsActive(status Status) bool {
	return status == StatusDownloading || status == StatusExtracting
}

// Patch lists the fields an upsert changes. Zero values leave a field alone;
// pointer fields distinguish "unset" from an explicit zero.
type Patch struct {
	Status          Status
	DisplayName     string
	Progress        *float64
	RawDiagnostic   *string
	SaveOnly        *bool
	URL             string
	ExtractDir      string
	Transfer        *Transfer
	CancelRequested *bool
	// Reason annotates the status change in the transition journal.
	Reason string
	// Revive lets the patch recreate an id removed recently. Only evidence
	// that the backend is running the task sets it: a start announcement or
	// an active queue entry.
	Revive bool
}

// Transition records one status change.
type Transition struct {
	TaskID string
	Kind   Kind
	From   Status
	To     Status
	Reason string
	At     time.Time
	// Implied marks intermediate steps the registry filled in because an
	// event skipped them.
	Implied bool
}

// QueueEntry is one task listed in a queue snapshot.
type QueueEntry struct {
	ID          string
	DisplayName string
}

// QueueSnapshot is the backend's point-in-time view of one pipeline's queue.
type QueueSnapshot struct {
	Pipeline Kind
	Total    int
	Waiting  []QueueEntry
	Active   []QueueEntry
}
