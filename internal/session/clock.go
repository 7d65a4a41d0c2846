package session

import (
	"time"

	"courier/internal/clock"
)

// loopClock schedules callbacks on the base clock but runs them on the
// session loop.
type loopClock struct {
	base clock.Clock
	post func(func()) bool
}

func (c loopClock) Now() time.Time { return c.base.Now() }

func (c loopClock) AfterFunc(d time.Duration, f func()) clock.Timer {
	return c.base.AfterFunc(d, func() { c.post(f) })
}
