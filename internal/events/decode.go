package events

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"

	"courier/internal/task"
)

type taskPayload struct {
	TaskID        string    `json:"taskId"`
	ID            string    `json:"id"`
	Filename      string    `json:"filename"`
	URL           string    `json:"url"`
	Progress      *float64  `json:"progress"`
	RawOutput     looseText `json:"rawOutput"`
	TotalSize     *float64  `json:"totalSize"`
	CompletedSize *float64  `json:"completedSize"`
	DownloadSpeed *float64  `json:"downloadSpeed"`
	ETA           *float64  `json:"eta"`
	Success       *bool     `json:"success"`
	Message       looseText `json:"message"`
	SaveOnly      bool      `json:"saveonly"`
	Error         looseText `json:"error"`
	ExtractDir    string    `json:"extractDir"`
}

func (p taskPayload) id() string {
	if id := strings.TrimSpace(p.TaskID); id != "" {
		return id
	}
	return strings.TrimSpace(p.ID)
}

type queuePayload struct {
	Queue *struct {
		Total   *int         `json:"total_tasks"`
		Waiting []queueEntry `json:"waiting_tasks"`
		Active  []queueEntry `json:"active_tasks"`
	} `json:"queue"`
}

type queueEntry struct {
	ID       string `json:"id"`
	Filename string `json:"filename"`
}

// UnmarshalJSON accepts either {"id": ..., "filename": ...} or a bare id string.
func (e *queueEntry) UnmarshalJSON(data []byte) error {
	if bytes.HasPrefix(bytes.TrimSpace(data), []byte(`"`)) {
		return json.Unmarshal(data, &e.ID)
	}
	type plain queueEntry
	return json.Unmarshal(data, (*plain)(e))
}

// looseText decodes a JSON string as is and anything else as its raw JSON
// text, so diagnostic fields never make an event undecodable.
type looseText string

func (t *looseText) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*t = looseText(s)
		return nil
	}
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*t = ""
		return nil
	}
	*t = looseText(bytes.TrimSpace(data))
	return nil
}

// Decode turns a raw channel payload into a typed event.
func Decode(ch Channel, raw []byte) (Event, error) {
	if !known(ch) {
		return nil, fmt.Errorf("decode %s: %w", ch, ErrUnknownChannel)
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, &MalformedEventError{Channel: ch, Err: errors.New("empty payload")}
	}
	switch ch {
	case ChannelDownloadQueue:
		return decodeQueue(ch, task.KindDownload, raw)
	case ChannelExtractQueue:
		return decodeQueue(ch, task.KindExtract, raw)
	}

	var p taskPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, &MalformedEventError{Channel: ch, Err: err}
	}
	id := p.id()
	if id == "" {
		return nil, &MalformedEventError{Channel: ch, Field: "taskId"}
	}
	name := DisplayName(p.Filename)

	switch ch {
	case ChannelTaskAdd:
		return TaskAdded{ID: id, Filename: name, URL: p.URL}, nil
	case ChannelTaskStart:
		return TaskStarted{ID: id, Filename: name, URL: p.URL}, nil
	case ChannelProgress:
		if p.Progress == nil {
			return nil, &MalformedEventError{Channel: ch, Field: "progress"}
		}
		return Progress{
			ID:        id,
			Filename:  name,
			Percent:   task.RoundProgress(*p.Progress),
			RawOutput: string(p.RawOutput),
			Transfer:  p.transfer(),
		}, nil
	case ChannelComplete:
		if p.Success == nil {
			return nil, &MalformedEventError{Channel: ch, Field: "success"}
		}
		return DownloadComplete{ID: id, Filename: name, Success: *p.Success, Message: string(p.Message), SaveOnly: p.SaveOnly}, nil
	case ChannelFailed:
		return DownloadFailed{ID: id, Filename: name, Error: string(p.Error)}, nil
	case ChannelCanceled:
		return DownloadCanceled{ID: id, Filename: name}, nil
	case ChannelCancelRequested:
		return CancelRequested{ID: id}, nil
	case ChannelResumed:
		return DownloadResumed{ID: id, Filename: name, Message: string(p.Message)}, nil
	case ChannelExtractStart:
		return ExtractStart{ID: id, Filename: name, ExtractDir: p.ExtractDir}, nil
	case ChannelExtractComplete:
		if p.Success == nil {
			return nil, &MalformedEventError{Channel: ch, Field: "success"}
		}
		return ExtractComplete{ID: id, Filename: name, Success: *p.Success, Message: string(p.Message)}, nil
	}
	return nil, fmt.Errorf("decode %s: %w", ch, ErrUnknownChannel)
}

func (p taskPayload) transfer() *task.Transfer {
	if p.TotalSize == nil && p.CompletedSize == nil && p.DownloadSpeed == nil && p.ETA == nil {
		return nil
	}
	var t task.Transfer
	if p.TotalSize != nil {
		t.TotalMiB = *p.TotalSize
	}
	if p.CompletedSize != nil {
		t.CompletedMiB = *p.CompletedSize
	}
	if p.DownloadSpeed != nil && *p.DownloadSpeed > 0 {
		t.BytesPerSecond = int64(*p.DownloadSpeed)
	}
	if p.ETA != nil && *p.ETA > 0 {
		t.ETA = time.Duration(*p.ETA * float64(time.Second))
	}
	return &t
}

func decodeQueue(ch Channel, pipeline task.Kind, raw []byte) (Event, error) {
	var p queuePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, &MalformedEventError{Channel: ch, Err: err}
	}
	if p.Queue == nil {
		return nil, &MalformedEventError{Channel: ch, Field: "queue"}
	}
	snap := task.QueueSnapshot{Pipeline: pipeline}
	var err error
	if snap.Waiting, err = entries(ch, "waiting_tasks", p.Queue.Waiting); err != nil {
		return nil, err
	}
	if snap.Active, err = entries(ch, "active_tasks", p.Queue.Active); err != nil {
		return nil, err
	}
	if p.Queue.Total != nil {
		snap.Total = *p.Queue.Total
	} else {
		snap.Total = len(snap.Waiting) + len(snap.Active)
	}
	return QueueUpdate{Snapshot: snap}, nil
}

func entries(ch Channel, field string, in []queueEntry) ([]task.QueueEntry, error) {
	out := make([]task.QueueEntry, 0, len(in))
	for i, e := range in {
		id := strings.TrimSpace(e.ID)
		if id == "" {
			return nil, &MalformedEventError{Channel: ch, Field: fmt.Sprintf("%s[%d].id", field, i)}
		}
		out = append(out, task.QueueEntry{ID: id, DisplayName: DisplayName(e.Filename)})
	}
	return out, nil
}

// DisplayName percent-decodes a backend filename and normalizes it to NFC.
// Names that are not valid escapes are kept as given.
func DisplayName(raw string) string {
	name := strings.TrimSpace(raw)
	if decoded, err := url.PathUnescape(name); err == nil {
		name = decoded
	}
	return norm.NFC.String(name)
}
