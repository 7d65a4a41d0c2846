package task

// tombstones remembers recently removed ids so late events for them are
// recognized as stale instead of recreating the task. Oldest ids are
// forgotten first once the set is full.
type tombstones struct {
	limit int
	order []string
	set   map[string]struct{}
}

func newTombstones(limit int) *tombstones {
	return &tombstones{limit: limit, set: make(map[string]struct{}, limit)}
}

func (t *tombstones) add(id string) {
	if _, ok := t.set[id]; ok {
		return
	}
	if len(t.order) >= t.limit {
		oldest := t.order[0]
		t.order = t.order[1:]
		delete(t.set, oldest)
	}
	t.order = append(t.order, id)
	t.set[id] = struct{}{}
}

func (t *tombstones) has(id string) bool {
	_, ok := t.set[id]
	return ok
}

func (t *tombstones) forget(id string) {
	if _, ok := t.set[id]; !ok {
		return
	}
	delete(t.set, id)
	for i, candidate := range t.order {
		if candidate == id {
			t.order = append(t.order[:i], t.order[i+1:]...)
			return
		}
	}
}
