package incident

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"edr-agent/internal/bus"
	"edr-agent/internal/risk"
	"edr-agent/internal/schema"
)

// ErrIncidentNotFound is returned by the mutation API when uuid does
// not name a tracked incident.
var ErrIncidentNotFound = errors.New("incident: not found")

// ErrInvalidTransition is returned by the mutation API when the
// requested move is illegal from the incident's current state.
var ErrInvalidTransition = errors.New("incident: invalid state transition")

// ErrRevertNotSupported is returned by Revert. The state diagram has no
// REVERT state and no defined undo semantics for containment actions
// (unblocking an IP, restoring a quarantined file, resuming a
// suspended process); original_source/response/IncidentManager.cpp
// leaves the same operation unimplemented.
var ErrRevertNotSupported = errors.New("incident: revert is not supported")

// Persister is the subset of the store's incident API the manager
// needs: a full-row upsert after every mutation.
type Persister interface {
	UpsertIncident(Incident) error
}

// Manager tracks one Incident per actively-monitored pid and drives its
// state machine off RiskThresholdExceeded and ContainmentAction events.
// Grounded on original_source/response/IncidentManager.cpp.
type Manager struct {
	mu        sync.Mutex
	incidents map[string]*Incident
	pidIndex  map[int]string

	scorer    *risk.Scorer
	bus       *bus.Bus
	persist   Persister
	log       *slog.Logger
	now       func() time.Time
}

// New constructs a Manager. persist may be nil, in which case mutations
// still apply in memory but are never upserted to a store.
func New(b *bus.Bus, scorer *risk.Scorer, persist Persister, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		incidents: make(map[string]*Incident),
		pidIndex:  make(map[int]string),
		scorer:    scorer,
		bus:       b,
		persist:   persist,
		log:       log,
		now:       time.Now,
	}
}

// Subscribe registers the manager against RiskThresholdExceeded and
// ContainmentAction.
func (m *Manager) Subscribe() {
	m.bus.Subscribe(schema.KindRiskThresholdExceeded, m.OnRiskThresholdExceeded)
	m.bus.Subscribe(schema.KindContainmentAction, m.OnContainmentAction)
}

// --- Query API ---

// List returns a snapshot of every tracked incident.
func (m *Manager) List() []Incident {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Incident, 0, len(m.incidents))
	for _, inc := range m.incidents {
		out = append(out, inc.snapshot())
	}
	return out
}

// Get returns the incident named by uuid, or false if absent.
func (m *Manager) Get(uuid string) (Incident, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inc, ok := m.incidents[uuid]
	if !ok {
		return Incident{}, false
	}
	return inc.snapshot(), true
}

// ActiveCount returns the number of tracked incidents not in StateClosed.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, inc := range m.incidents {
		if inc.State != StateClosed {
			count++
		}
	}
	return count
}

// TotalCount returns the total number of tracked incidents.
func (m *Manager) TotalCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.incidents)
}

// --- Mutation API ---

// Contain transitions uuid to StateContained.
func (m *Manager) Contain(uuid string) error {
	return m.mutate(uuid, StateContained, "Manual containment via operator command")
}

// Close transitions uuid to StateClosed.
func (m *Manager) Close(uuid string) error {
	return m.mutate(uuid, StateClosed, "Manual close via operator command")
}

// Escalate transitions uuid to StateEscalated.
func (m *Manager) Escalate(uuid string) error {
	return m.mutate(uuid, StateEscalated, "Manual escalation via operator command")
}

// Revert always fails: see ErrRevertNotSupported.
func (m *Manager) Revert(uuid string) error {
	m.mu.Lock()
	_, ok := m.incidents[uuid]
	m.mu.Unlock()
	if !ok {
		return ErrIncidentNotFound
	}
	m.log.Warn("revert requested but not supported", slog.String("incident_uuid", uuid))
	return ErrRevertNotSupported
}

func (m *Manager) mutate(uuid string, to State, reason string) error {
	m.mu.Lock()
	inc, ok := m.incidents[uuid]
	if !ok {
		m.mu.Unlock()
		return ErrIncidentNotFound
	}
	ok = m.transition(inc, to, reason)
	snap := inc.snapshot()
	m.mu.Unlock()

	if !ok {
		return ErrInvalidTransition
	}
	m.persistIncident(snap)
	return nil
}

// --- Event handlers ---

// OnRiskThresholdExceeded is the manager's bus handler for
// RiskThresholdExceeded.
func (m *Manager) OnRiskThresholdExceeded(event schema.Event) {
	m.mu.Lock()
	inc := m.findOrCreate(event.PID, event.ProcessName)

	inc.AssociatedEvents = append(inc.AssociatedEvents, event)
	inc.UpdatedAt = m.now().UTC()

	if m.scorer != nil && event.PID > 0 {
		score := m.scorer.Get(event.PID)
		inc.RiskTimeline = append(inc.RiskTimeline, RiskSnapshot{
			Score:     score.Value,
			Level:     score.Level,
			Timestamp: inc.UpdatedAt,
		})
	}

	switch event.Meta("risk_level") {
	case "MEDIUM":
		if inc.State == StateNew {
			m.transition(inc, StateInvestigating, "Risk level reached MEDIUM")
		}
	case "HIGH":
		if inc.State == StateNew {
			m.transition(inc, StateInvestigating, "Initial risk threshold crossing")
			m.transition(inc, StateActive, "Risk level reached HIGH")
		} else if inc.State == StateInvestigating {
			m.transition(inc, StateActive, "Risk level reached HIGH")
		}
	case "CRITICAL":
		switch inc.State {
		case StateActive:
			m.transition(inc, StateEscalated, "Risk level reached CRITICAL")
		case StateNew, StateInvestigating:
			if inc.State == StateNew {
				m.transition(inc, StateInvestigating, "Initial risk threshold crossing")
			}
			m.transition(inc, StateActive, "Risk level reached HIGH+")
			m.transition(inc, StateEscalated, "Risk level reached CRITICAL")
		}
	}

	snap := inc.snapshot()
	m.mu.Unlock()

	m.persistIncident(snap)
}

// OnContainmentAction is the manager's bus handler for ContainmentAction.
func (m *Manager) OnContainmentAction(event schema.Event) {
	m.mu.Lock()
	uuid, ok := m.pidIndex[event.PID]
	if !ok {
		m.mu.Unlock()
		m.log.Debug("containment action has no associated incident", slog.Int("pid", event.PID))
		return
	}
	inc, ok := m.incidents[uuid]
	if !ok {
		m.mu.Unlock()
		return
	}

	action := event.Meta("action")
	if action == "" {
		action = "unknown"
	}
	now := m.now().UTC()
	inc.ContainmentActions = append(inc.ContainmentActions, ContainmentRecord{
		Action:    action,
		Success:   true,
		Timestamp: now,
		Details:   event.Meta("reason"),
	})
	inc.UpdatedAt = now

	if inc.State == StateActive || inc.State == StateEscalated {
		m.transition(inc, StateContained, "Containment action: "+action)
	}

	snap := inc.snapshot()
	m.mu.Unlock()

	m.persistIncident(snap)
}

// --- Internals (caller holds m.mu) ---

func (m *Manager) findOrCreate(pid int, processName string) *Incident {
	if uuid, ok := m.pidIndex[pid]; ok {
		if inc, ok := m.incidents[uuid]; ok && inc.State != StateClosed {
			return inc
		}
	}

	inc := newIncident(pid, processName)
	m.incidents[inc.UUID] = inc
	m.pidIndex[pid] = inc.UUID

	m.log.Info("incident created",
		slog.String("incident_uuid", inc.UUID),
		slog.Int("pid", pid),
		slog.String("process_name", processName))

	return inc
}

// transition applies a single hop, recording history and publishing
// IncidentStateChange on success. Returns false (and does nothing) if
// the hop is illegal.
func (m *Manager) transition(inc *Incident, to State, reason string) bool {
	if !IsValidTransition(inc.State, to) {
		m.log.Warn("invalid state transition",
			slog.String("incident_uuid", inc.UUID),
			slog.String("from", string(inc.State)),
			slog.String("to", string(to)))
		return false
	}

	now := m.now().UTC()
	inc.StateHistory = append(inc.StateHistory, StateTransition{
		From:      inc.State,
		To:        to,
		Timestamp: now,
		Reason:    reason,
	})
	from := inc.State
	inc.State = to
	inc.UpdatedAt = now

	m.log.Info("incident state change",
		slog.String("incident_uuid", inc.UUID),
		slog.String("from", string(from)),
		slog.String("to", string(to)),
		slog.String("reason", reason))

	derived := schema.NewEvent(schema.KindIncidentStateChange, inc.PID, inc.ProcessName, map[string]string{
		"incident_uuid": inc.UUID,
		"from_state":    string(from),
		"to_state":      string(to),
		"reason":        reason,
	})
	m.bus.PublishAsync(derived)

	return true
}

func (m *Manager) persistIncident(inc Incident) {
	if m.persist == nil {
		return
	}
	if err := m.persist.UpsertIncident(inc); err != nil {
		m.log.Error("failed to persist incident",
			slog.String("incident_uuid", inc.UUID),
			slog.Any("error", err))
	}
}
