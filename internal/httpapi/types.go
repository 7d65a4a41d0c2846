package httpapi

import (
	"time"

	"courier/internal/command"
	"courier/internal/journal"
	"courier/internal/reconcile"
	"courier/internal/task"
)

// TransferView is the optional progress detail of a download.
type TransferView struct {
	TotalMiB       float64 `json:"total_mib"`
	CompletedMiB   float64 `json:"completed_mib"`
	BytesPerSecond int64   `json:"bytes_per_second"`
	ETASeconds     float64 `json:"eta_seconds"`
}

// TaskView is the JSON form of a tracked task.
type TaskView struct {
	ID              string        `json:"id"`
	Pipeline        task.Kind     `json:"pipeline"`
	Name            string        `json:"name"`
	Status          task.Status   `json:"status"`
	Progress        float64       `json:"progress"`
	LastUpdate      time.Time     `json:"last_update"`
	Cancelable      bool          `json:"cancelable"`
	CancelRequested bool          `json:"cancel_requested"`
	SaveOnly        bool          `json:"save_only,omitempty"`
	Diagnostic      string        `json:"diagnostic,omitempty"`
	RemovalAt       *time.Time    `json:"removal_at,omitempty"`
	Transfer        *TransferView `json:"transfer,omitempty"`
}

// RowView is the JSON form of a rendered row.
type RowView struct {
	ID         string      `json:"id"`
	Name       string      `json:"name"`
	Status     task.Status `json:"status"`
	Progress   float64     `json:"progress"`
	Queued     bool        `json:"queued"`
	Position   int         `json:"position"`
	Diagnostic string      `json:"diagnostic,omitempty"`
	Cancelable bool        `json:"cancelable"`
}

// TaskListResponse answers GET /v1/tasks.
type TaskListResponse struct {
	Connected bool       `json:"connected"`
	Tasks     []TaskView `json:"tasks"`
}

// QueueResponse answers GET /v1/queues/{pipeline}.
type QueueResponse struct {
	Pipeline task.Kind `json:"pipeline"`
	Known    bool      `json:"known"`
	Total    int       `json:"total"`
	Active   int       `json:"active"`
	Waiting  int       `json:"waiting"`
	Rows     []RowView `json:"rows"`
}

// ControlsResponse answers GET /v1/controls.
type ControlsResponse struct {
	Controls []command.ControlState `json:"controls"`
}

// HistoryEntry is one journaled transition.
type HistoryEntry struct {
	TaskID   string      `json:"task_id"`
	Pipeline task.Kind   `json:"pipeline"`
	From     task.Status `json:"from,omitempty"`
	To       task.Status `json:"to"`
	Reason   string      `json:"reason,omitempty"`
	Implied  bool        `json:"implied,omitempty"`
	At       time.Time   `json:"at"`
}

// HistoryResponse answers GET /v1/history.
type HistoryResponse struct {
	Entries []HistoryEntry `json:"entries"`
}

// AcceptedResponse is returned when a control request was queued.
type AcceptedResponse struct {
	Status   string     `json:"status"`
	Op       command.Op `json:"op"`
	Pipeline task.Kind  `json:"pipeline"`
	TaskID   string     `json:"task_id,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// FromTask converts a registry task.
func FromTask(t task.Task) TaskView {
	v := TaskView{
		ID:              t.ID,
		Pipeline:        t.Kind,
		Name:            t.DisplayName,
		Status:          t.Status,
		Progress:        t.Progress,
		LastUpdate:      t.LastUpdate,
		Cancelable:      t.Cancelable,
		CancelRequested: t.CancelRequested,
		SaveOnly:        t.SaveOnly,
		Diagnostic:      t.RawDiagnostic,
	}
	if !t.RemovalAt.IsZero() {
		at := t.RemovalAt
		v.RemovalAt = &at
	}
	if t.Transfer != (task.Transfer{}) {
		v.Transfer = &TransferView{
			TotalMiB:       t.Transfer.TotalMiB,
			CompletedMiB:   t.Transfer.CompletedMiB,
			BytesPerSecond: t.Transfer.BytesPerSecond,
			ETASeconds:     t.Transfer.ETA.Seconds(),
		}
	}
	return v
}

// FromRow converts a reconciler row.
func FromRow(r reconcile.Row) RowView {
	return RowView{
		ID:         r.ID,
		Name:       r.DisplayName,
		Status:     r.Status,
		Progress:   r.Progress,
		Queued:     r.Queued,
		Position:   r.Position,
		Diagnostic: r.Diagnostic,
		Cancelable: r.Cancelable,
	}
}

// FromEntry converts a journal entry.
func FromEntry(e journal.Entry) HistoryEntry {
	return HistoryEntry{
		TaskID:   e.TaskID,
		Pipeline: e.Kind,
		From:     e.From,
		To:       e.To,
		Reason:   e.Reason,
		Implied:  e.Implied,
		At:       e.At,
	}
}
