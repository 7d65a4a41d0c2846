package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"courier/internal/render"
)

const (
	repaintDelay = 100 * time.Millisecond
	clearScreen  = "\x1b[H\x1b[2J"
)

// painter redraws the view after it changes, coalescing bursts of changes
// into one repaint.
type painter struct {
	out   io.Writer
	clear bool
	view  *render.View
	dirty chan struct{}
}

func newPainter(out io.Writer, clear bool) *painter {
	return &painter{out: out, clear: clear, dirty: make(chan struct{}, 1)}
}

// Invalidate marks the screen stale. It never blocks.
func (p *painter) Invalidate() {
	select {
	case p.dirty <- struct{}{}:
	default:
	}
}

// Run repaints until ctx ends, then paints once more.
func (p *painter) Run(ctx context.Context) {
	timer := time.NewTimer(repaintDelay)
	if !timer.Stop() {
		<-timer.C
	}
	pending := false
	for {
		select {
		case <-ctx.Done():
			p.paint()
			return
		case <-p.dirty:
			if !pending {
				pending = true
				timer.Reset(repaintDelay)
			}
		case <-timer.C:
			pending = false
			p.paint()
		}
	}
}

func (p *painter) paint() {
	if p.view == nil {
		return
	}
	if p.clear {
		fmt.Fprint(p.out, clearScreen)
	}
	fmt.Fprintln(p.out, p.view.Render())
}
