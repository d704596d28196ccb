package correlator

import (
	"log/slog"
	"strconv"
	"sync"
	"time"

	"edr-agent/internal/bus"
	"edr-agent/internal/schema"
)

// Correlator maintains a bounded per-pid event timeline and scans it for
// dropper, persistence, and lateral-movement patterns on every relevant
// event. Grounded on
// original_source/engine/BehaviorCorrelator.cpp: mutation happens under
// lock, pattern detection runs against a snapshot taken outside it.
type Correlator struct {
	mu        sync.Mutex
	timelines map[int]*processTimeline

	bus *bus.Bus
	log *slog.Logger
	now func() time.Time
}

// New constructs a Correlator publishing detections onto b. now
// defaults to time.Now and exists only to make tests deterministic.
func New(b *bus.Bus, log *slog.Logger) *Correlator {
	if log == nil {
		log = slog.Default()
	}
	return &Correlator{
		timelines: make(map[int]*processTimeline),
		bus:       b,
		log:       log,
		now:       time.Now,
	}
}

// Subscribe registers the Correlator against the event kinds it needs:
// PROCESS_CREATE, PROCESS_TERMINATE, FILE_CREATE, FILE_MODIFY,
// NETWORK_CONNECT, REGISTRY_WRITE.
func (c *Correlator) Subscribe() {
	c.bus.Subscribe(schema.KindProcessCreate, c.OnEvent)
	c.bus.Subscribe(schema.KindProcessTerminate, c.OnEvent)
	c.bus.Subscribe(schema.KindFileCreate, c.OnEvent)
	c.bus.Subscribe(schema.KindFileModify, c.OnEvent)
	c.bus.Subscribe(schema.KindNetworkConnect, c.OnEvent)
	c.bus.Subscribe(schema.KindRegistryWrite, c.OnEvent)
}

// TimelineCount returns the number of pids currently tracked.
func (c *Correlator) TimelineCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timelines)
}

// OnEvent is the Correlator's bus handler.
func (c *Correlator) OnEvent(event schema.Event) {
	var snapshot []schema.Event

	func() {
		c.mu.Lock()
		defer c.mu.Unlock()

		if event.Kind == schema.KindProcessTerminate {
			delete(c.timelines, event.PID)
			return
		}

		if event.PID == 0 {
			return
		}

		tl, ok := c.timelines[event.PID]
		if !ok {
			tl = &processTimeline{pid: event.PID}
			c.timelines[event.PID] = tl
		}
		tl.addEvent(event)
		tl.cleanup(c.now())
		snapshot = tl.snapshot()
	}()

	if snapshot == nil {
		return
	}

	c.scan(event.PID, snapshot)
}

func (c *Correlator) scan(pid int, events []schema.Event) {
	if d, ok := detectDropper(events); ok {
		c.emit(pid, d)
	}
	if d, ok := detectPersistence(events); ok {
		c.emit(pid, d)
	}
	if d, ok := detectLateralMovement(events); ok {
		c.emit(pid, d)
	}
}

func (c *Correlator) emit(pid int, d detection) {
	metadata := map[string]string{
		"pattern_name": d.patternName,
		"description":  d.description,
		"bonus_score":  strconv.Itoa(d.bonusScore),
		"state":        "ACTIVE",
	}
	event := schema.NewEvent(schema.KindIncidentStateChange, pid, "BehaviorCorrelator", metadata)
	c.bus.PublishAsync(event)

	c.log.Info("behavior pattern detected",
		slog.String("pattern", d.patternName),
		slog.Int("pid", pid),
		slog.String("description", d.description))
}
