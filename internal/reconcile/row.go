package reconcile

import (
	"sort"

	"courier/internal/task"
)

// Row is one rendered entry of a pipeline's list.
type Row struct {
	ID          string
	DisplayName string
	Status      task.Status
	Progress    float64
	// Queued is true for entries in the snapshot's waiting list.
	Queued bool
	// Position is the 1-based waiting position, or 0 when nothing is active
	// and the entry starts on the next tick.
	Position   int
	Diagnostic string
	Cancelable bool
}

// Summary is the per-pipeline header.
type Summary struct {
	Total   int
	Active  int
	Waiting int
}

// Renderer receives row mutations. Calls for one pipeline arrive in order
// and never concurrently.
type Renderer interface {
	Insert(p task.Kind, row Row)
	Update(p task.Kind, row Row)
	Remove(p task.Kind, id string)
	Summary(p task.Kind, s Summary)
}

// SortRows orders rows for display: running and finished entries first in
// the order they appeared, then waiting entries by position.
func SortRows(rows []Row, seq func(id string) int) {
	sort.SliceStable(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if a.Queued != b.Queued {
			return !a.Queued
		}
		if a.Queued && a.Position != b.Position {
			return a.Position < b.Position
		}
		return seq(a.ID) < seq(b.ID)
	})
}

func rowFromTask(t task.Task, fallbackName string) Row {
	name := t.DisplayName
	if name == "" {
		name = fallbackName
	}
	return Row{
		ID:          t.ID,
		DisplayName: name,
		Status:      t.Status,
		Progress:    t.Progress,
		Diagnostic:  t.RawDiagnostic,
		Cancelable:  t.Cancelable,
	}
}
