package pipeline

import (
	"time"

	"github.com/tanagerlabs/airdata-ingest/internal/domain"
)

// Windows splits the half-open range [from, now) into fetch windows of at
// most step. The final window is clamped to now, so its end never lands in
// the future. A zero or negative step yields the whole range as one window.
// When from is at or past now there is nothing to fetch and the result is
// nil.
func Windows(from, now time.Time, step time.Duration) []domain.Window {
	if !from.Before(now) {
		return nil
	}
	if step <= 0 {
		return []domain.Window{{Start: from, End: now}}
	}

	var wins []domain.Window
	for start := from; start.Before(now); start = start.Add(step) {
		end := start.Add(step)
		if end.After(now) {
			end = now
		}
		wins = append(wins, domain.Window{Start: start, End: end})
	}
	return wins
}
