package clarity

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
)

var clock = clockwork.NewRealClock()

// SetClock swaps the package clock, for tests. Passing nil restores the real
// clock.
func SetClock(c clockwork.Clock) {
	if c == nil {
		clock = clockwork.NewRealClock()
		return
	}
	clock = c
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}

	timer := clock.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.Chan():
		return true
	}
}
