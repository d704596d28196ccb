// Package correlator implements behavioral pattern detection over
// per-process event timelines: dropper, persistence, and lateral
// movement patterns, each within its own detection window.
package correlator

import (
	"time"

	"edr-agent/internal/schema"
)

// TimelineWindow bounds how long an event stays in a process's timeline
// before CleanupOldEvents discards it, regardless of which pattern
// window is checking it.
const TimelineWindow = 60 * time.Second

// processTimeline holds the bounded, time-ordered event history for one
// pid. Not safe for concurrent use directly; the Correlator guards
// access with its own mutex and hands out copies for scanning.
type processTimeline struct {
	pid    int
	events []schema.Event
}

// addEvent appends event, keeping the timeline in arrival order.
func (t *processTimeline) addEvent(event schema.Event) {
	t.events = append(t.events, event)
}

// cleanup drops events older than TimelineWindow relative to now. The
// events slice arrives time-ordered (append-only), so trimming from the
// front is enough; no re-sort is needed.
func (t *processTimeline) cleanup(now time.Time) {
	cutoff := now.Add(-TimelineWindow)
	i := 0
	for i < len(t.events) && t.events[i].Timestamp().Before(cutoff) {
		i++
	}
	if i > 0 {
		t.events = append([]schema.Event(nil), t.events[i:]...)
	}
}

// snapshot returns a copy of the timeline's events safe to scan without
// holding the Correlator's lock.
func (t *processTimeline) snapshot() []schema.Event {
	out := make([]schema.Event, len(t.events))
	copy(out, t.events)
	return out
}
