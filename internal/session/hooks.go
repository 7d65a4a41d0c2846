package session

import (
	"courier/internal/command"
	"courier/internal/events"
	"courier/internal/task"
)

func (s *Session) onTransition(t task.Transition) {
	if s.journal != nil {
		s.journal.Append(t)
	}
	if s.metrics != nil {
		s.metrics.Transitions.WithLabelValues(string(t.Kind), string(t.To)).Inc()
	}
	if s.alerts != nil {
		current, _ := s.registry.Get(t.TaskID)
		s.alerts.Transition(current, t)
	}
}

func (s *Session) onChanged(t task.Task) {
	for _, k := range task.Kinds {
		s.reconcilers[k].Refresh(t)
	}
	s.updateTracked()
}

func (s *Session) onRemoved(t task.Task) {
	for _, k := range task.Kinds {
		s.reconcilers[k].Forget(t.ID)
	}
	if s.metrics != nil {
		s.metrics.Removals.WithLabelValues(string(t.Status)).Inc()
	}
	s.updateTracked()
}

func (s *Session) updateTracked() {
	if s.metrics == nil {
		return
	}
	counts := make(map[task.Kind]int, len(task.Kinds))
	for _, t := range s.registry.All() {
		counts[t.Kind]++
	}
	for _, k := range task.Kinds {
		s.metrics.TrackedTasks.WithLabelValues(string(k)).Set(float64(counts[k]))
	}
}

func (s *Session) onMutated(p task.Kind, op string) {
	if s.metrics != nil {
		s.metrics.Mutations.WithLabelValues(string(p), op).Inc()
	}
}

func (s *Session) onStalled(t task.Task) {
	if s.metrics != nil {
		s.metrics.Stalls.WithLabelValues(string(t.Kind)).Inc()
	}
}

func (s *Session) onOutcome(out command.Outcome) {
	if s.metrics == nil || out.Skipped {
		return
	}
	s.metrics.ObserveControl(out.Request.Method(), out.Elapsed, out.Err)
}

func (s *Session) onDelivered(ch events.Channel) {
	if s.metrics != nil {
		s.metrics.Events.WithLabelValues(string(ch)).Inc()
	}
}

func (s *Session) onMalformed(ch events.Channel) {
	if s.metrics != nil {
		s.metrics.MalformedEvents.WithLabelValues(string(ch)).Inc()
	}
}

func (s *Session) onStale(ch events.Channel) {
	if s.metrics != nil {
		s.metrics.StaleEvents.WithLabelValues(string(ch)).Inc()
	}
}
