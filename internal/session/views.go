package session

import (
	"context"

	"courier/internal/command"
	"courier/internal/reconcile"
	"courier/internal/task"
)

// Status summarises a running session.
type Status struct {
	Connected bool                `json:"connected"`
	Tracked   map[task.Kind]int   `json:"tracked"`
	Queues    map[task.Kind]Queue `json:"queues"`
}

// Queue is the last snapshot summary of one pipeline.
type Queue struct {
	Total   int  `json:"total"`
	Active  int  `json:"active"`
	Waiting int  `json:"waiting"`
	Known   bool `json:"known"`
}

// query runs fn on the loop and waits for it.
func (s *Session) query(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	if !s.Post(func() {
		defer close(finished)
		fn()
	}) {
		return ErrStopped
	}
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return ErrStopped
	}
}

// Tasks returns every tracked task in first-seen order.
func (s *Session) Tasks(ctx context.Context) ([]task.Task, error) {
	var out []task.Task
	err := s.query(ctx, func() { out = s.registry.All() })
	return out, err
}

// Task returns one tracked task.
func (s *Session) Task(ctx context.Context, id string) (task.Task, bool, error) {
	var (
		out task.Task
		ok  bool
	)
	err := s.query(ctx, func() { out, ok = s.registry.Get(id) })
	return out, ok, err
}

// Rows returns the rows pipeline p currently renders.
func (s *Session) Rows(ctx context.Context, p task.Kind) ([]reconcile.Row, error) {
	var out []reconcile.Row
	err := s.query(ctx, func() {
		if rec, ok := s.reconcilers[p]; ok {
			out = rec.Rows()
		}
	})
	return out, err
}

// Snapshot returns the last snapshot applied for p.
func (s *Session) Snapshot(ctx context.Context, p task.Kind) (task.QueueSnapshot, bool, error) {
	var (
		out task.QueueSnapshot
		ok  bool
	)
	err := s.query(ctx, func() {
		if rec, found := s.reconcilers[p]; found {
			out, ok = rec.Snapshot()
		}
	})
	return out, ok, err
}

// Controls lists controls with requests in flight.
func (s *Session) Controls(ctx context.Context) ([]command.ControlState, error) {
	var out []command.ControlState
	err := s.query(ctx, func() { out = s.dispatcher.Controls() })
	return out, err
}

// Status reports connection state, tracked counts and queue summaries.
func (s *Session) Status(ctx context.Context) (Status, error) {
	st := Status{
		Connected: s.connected.Load(),
		Tracked:   make(map[task.Kind]int, len(task.Kinds)),
		Queues:    make(map[task.Kind]Queue, len(task.Kinds)),
	}
	err := s.query(ctx, func() {
		for _, t := range s.registry.All() {
			st.Tracked[t.Kind]++
		}
		for _, k := range task.Kinds {
			snap, ok := s.reconcilers[k].Snapshot()
			st.Queues[k] = Queue{Total: snap.Total, Active: len(snap.Active), Waiting: len(snap.Waiting), Known: ok}
		}
	})
	return st, err
}
