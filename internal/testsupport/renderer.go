package testsupport

import (
	"sync"

	"courier/internal/reconcile"
	"courier/internal/task"
)

// RenderCall is one recorded renderer invocation.
type RenderCall struct {
	Op       string
	Pipeline task.Kind
	ID       string
	Row      reconcile.Row
	Summary  reconcile.Summary
}

// RecordingRenderer implements reconcile.Renderer and keeps every call plus
// the resulting rows.
type RecordingRenderer struct {
	mu        sync.Mutex
	calls     []RenderCall
	rows      map[task.Kind]map[string]reconcile.Row
	summaries map[task.Kind]reconcile.Summary
}

// NewRecordingRenderer returns an empty recorder.
func NewRecordingRenderer() *RecordingRenderer {
	return &RecordingRenderer{
		rows:      make(map[task.Kind]map[string]reconcile.Row),
		summaries: make(map[task.Kind]reconcile.Summary),
	}
}

func (r *RecordingRenderer) Insert(p task.Kind, row reconcile.Row) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, RenderCall{Op: reconcile.OpInsert, Pipeline: p, ID: row.ID, Row: row})
	r.pipeline(p)[row.ID] = row
}

func (r *RecordingRenderer) Update(p task.Kind, row reconcile.Row) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, RenderCall{Op: reconcile.OpUpdate, Pipeline: p, ID: row.ID, Row: row})
	r.pipeline(p)[row.ID] = row
}

func (r *RecordingRenderer) Remove(p task.Kind, id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, RenderCall{Op: reconcile.OpRemove, Pipeline: p, ID: id})
	delete(r.pipeline(p), id)
}

func (r *RecordingRenderer) Summary(p task.Kind, s reconcile.Summary) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, RenderCall{Op: reconcile.OpSummary, Pipeline: p, Summary: s})
	r.summaries[p] = s
}

func (r *RecordingRenderer) pipeline(p task.Kind) map[string]reconcile.Row {
	rows, ok := r.rows[p]
	if !ok {
		rows = make(map[string]reconcile.Row)
		r.rows[p] = rows
	}
	return rows
}

// Calls returns a copy of the recorded calls.
func (r *RecordingRenderer) Calls() []RenderCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]RenderCall(nil), r.calls...)
}

// CallsFor returns the recorded calls of one op for id.
func (r *RecordingRenderer) CallsFor(op, id string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.calls {
		if c.Op == op && c.ID == id {
			n++
		}
	}
	return n
}

// Reset forgets recorded calls but keeps the current rows.
func (r *RecordingRenderer) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = nil
}

// Row returns the current row for id in pipeline p.
func (r *RecordingRenderer) Row(p task.Kind, id string) (reconcile.Row, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[p][id]
	return row, ok
}

// Len reports how many rows pipeline p currently shows.
func (r *RecordingRenderer) Len(p task.Kind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rows[p])
}

// LastSummary returns the most recent summary for p.
func (r *RecordingRenderer) LastSummary(p task.Kind) reconcile.Summary {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.summaries[p]
}
