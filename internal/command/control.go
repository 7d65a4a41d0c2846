package command

import "sort"

// ControlState is a point-in-time view of one control.
type ControlState struct {
	Name     string `json:"name"`
	Enabled  bool   `json:"enabled"`
	InFlight int    `json:"in_flight"`
}

// controls tracks reference-counted holds on named UI controls. A control
// reads as disabled while at least one hold is outstanding.
type controls struct {
	holds   map[string]int
	changed func(name string, enabled bool)
}

func newControls(changed func(string, bool)) *controls {
	return &controls{holds: make(map[string]int), changed: changed}
}

// acquire disables name and returns the matching release. Calling release
// more than once has no further effect.
func (c *controls) acquire(name string) func() {
	c.holds[name]++
	if c.holds[name] == 1 && c.changed != nil {
		c.changed(name, false)
	}
	released := false
	return func() {
		if released {
			return
		}
		released = true
		c.holds[name]--
		if c.holds[name] > 0 {
			return
		}
		delete(c.holds, name)
		if c.changed != nil {
			c.changed(name, true)
		}
	}
}

func (c *controls) enabled(name string) bool {
	return c.holds[name] == 0
}

func (c *controls) states() []ControlState {
	out := make([]ControlState, 0, len(c.holds))
	for name, n := range c.holds {
		out = append(out, ControlState{Name: name, Enabled: n == 0, InFlight: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
