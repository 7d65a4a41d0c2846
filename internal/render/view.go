package render

import (
	"fmt"
	"strings"
	"sync"

	"courier/internal/clock"
	"courier/internal/command"
	"courier/internal/reconcile"
	"courier/internal/task"
)

// Options configures a View.
type Options struct {
	Clock    clock.Clock
	Colorize bool
	// Changed is called after every mutation, outside the view's lock.
	Changed func()
}

type pipelineView struct {
	seq     int
	rows    map[string]reconcile.Row
	order   map[string]int
	summary reconcile.Summary
}

// View is the presentation state of a session. It is safe for concurrent
// use.
type View struct {
	clock    clock.Clock
	colorize bool
	changed  func()

	mu        sync.Mutex
	pipelines map[task.Kind]*pipelineView
	banner    *command.Banner
	hide      clock.Timer
}

// NewView returns an empty view.
func NewView(opts Options) *View {
	clk := opts.Clock
	if clk == nil {
		clk = clock.Real()
	}
	v := &View{
		clock:     clk,
		colorize:  opts.Colorize,
		changed:   opts.Changed,
		pipelines: make(map[task.Kind]*pipelineView, len(task.Kinds)),
	}
	for _, k := range task.Kinds {
		v.pipelines[k] = &pipelineView{rows: make(map[string]reconcile.Row), order: make(map[string]int)}
	}
	return v
}

func (v *View) pipeline(p task.Kind) *pipelineView {
	pv, ok := v.pipelines[p]
	if !ok {
		pv = &pipelineView{rows: make(map[string]reconcile.Row), order: make(map[string]int)}
		v.pipelines[p] = pv
	}
	return pv
}

func (v *View) Insert(p task.Kind, row reconcile.Row) {
	v.mutate(func() {
		pv := v.pipeline(p)
		if _, ok := pv.rows[row.ID]; !ok {
			pv.seq++
			pv.order[row.ID] = pv.seq
		}
		pv.rows[row.ID] = row
	})
}

func (v *View) Update(p task.Kind, row reconcile.Row) {
	v.Insert(p, row)
}

func (v *View) Remove(p task.Kind, id string) {
	v.mutate(func() {
		pv := v.pipeline(p)
		delete(pv.rows, id)
		delete(pv.order, id)
	})
}

func (v *View) Summary(p task.Kind, s reconcile.Summary) {
	v.mutate(func() { v.pipeline(p).summary = s })
}

// Show displays b until its duration elapses or another banner replaces it.
func (v *View) Show(b command.Banner) {
	v.mutate(func() {
		if v.hide != nil {
			v.hide.Stop()
			v.hide = nil
		}
		shown := b
		v.banner = &shown
		if b.Duration <= 0 {
			return
		}
		var handle clock.Timer
		handle = v.clock.AfterFunc(b.Duration, func() { v.expire(handle) })
		v.hide = handle
	})
}

// DismissBanner hides the current banner, if any.
func (v *View) DismissBanner() {
	v.mutate(func() {
		if v.hide != nil {
			v.hide.Stop()
			v.hide = nil
		}
		v.banner = nil
	})
}

func (v *View) expire(handle clock.Timer) {
	v.mu.Lock()
	if v.hide != handle {
		v.mu.Unlock()
		return
	}
	v.hide = nil
	v.banner = nil
	v.mu.Unlock()
	v.notify()
}

func (v *View) mutate(fn func()) {
	v.mu.Lock()
	fn()
	v.mu.Unlock()
	v.notify()
}

func (v *View) notify() {
	if v.changed != nil {
		v.changed()
	}
}

// Banner returns the banner currently shown.
func (v *View) Banner() (command.Banner, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.banner == nil {
		return command.Banner{}, false
	}
	return *v.banner, true
}

// Rows returns pipeline p's rows in display order.
func (v *View) Rows(p task.Kind) []reconcile.Row {
	v.mu.Lock()
	defer v.mu.Unlock()
	pv := v.pipeline(p)
	rows := make([]reconcile.Row, 0, len(pv.rows))
	for _, row := range pv.rows {
		rows = append(rows, row)
	}
	reconcile.SortRows(rows, func(id string) int { return pv.order[id] })
	return rows
}

// SummaryFor returns pipeline p's last summary.
func (v *View) SummaryFor(p task.Kind) reconcile.Summary {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.pipeline(p).summary
}

var pipelineTitles = map[task.Kind]string{
	task.KindDownload: "Downloads",
	task.KindExtract:  "Extractions",
}

// Render draws the banner and both pipelines.
func (v *View) Render() string {
	var b strings.Builder
	if banner, ok := v.Banner(); ok {
		line := fmt.Sprintf("! %s: %s", banner.Title, banner.Message)
		if v.colorize {
			line = ansiRed + line + ansiReset
		}
		b.WriteString(line)
		b.WriteString("\n\n")
	}
	for i, k := range task.Kinds {
		if i > 0 {
			b.WriteString("\n")
		}
		s := v.SummaryFor(k)
		title := fmt.Sprintf("%s (total %d, active %d, waiting %d)", pipelineTitles[k], s.Total, s.Active, s.Waiting)
		b.WriteString(sectionHeader(title, v.colorize))
		b.WriteString("\n")

		rows := v.Rows(k)
		if len(rows) == 0 {
			b.WriteString("  (empty)\n")
			continue
		}
		b.WriteString(Table(
			[]string{"ID", "Name", "Status", "Progress", "Queue", "Detail"},
			v.cells(rows),
			[]Alignment{AlignLeft, AlignLeft, AlignLeft, AlignRight, AlignRight, AlignLeft},
		))
		b.WriteString("\n")
	}
	return b.String()
}

func (v *View) cells(rows []reconcile.Row) [][]string {
	out := make([][]string, 0, len(rows))
	for _, row := range rows {
		out = append(out, []string{
			row.ID,
			Truncate(row.DisplayName, 48),
			StatusText(row.Status, v.colorize),
			Progress(row.Progress),
			Position(row.Queued, row.Position),
			Truncate(row.Diagnostic, 40),
		})
	}
	return out
}
