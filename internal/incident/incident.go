// Package incident implements incident lifecycle management: a state
// machine driven by risk-threshold and containment events, with a
// query/mutation API for operator tooling.
package incident

import (
	"time"

	"edr-agent/internal/risk"
	"edr-agent/internal/schema"

	"github.com/google/uuid"
)

// State is the closed set of incident states.
type State string

const (
	StateNew           State = "NEW"
	StateInvestigating State = "INVESTIGATING"
	StateActive        State = "ACTIVE"
	StateContained     State = "CONTAINED"
	StateEscalated     State = "ESCALATED"
	StateClosed        State = "CLOSED"
)

// IsValidTransition is the authoritative state diagram, ported from
// original_source/response/IncidentManager.cpp's IsValidTransition.
func IsValidTransition(from, to State) bool {
	switch from {
	case StateNew:
		return to == StateInvestigating
	case StateInvestigating:
		return to == StateActive || to == StateClosed
	case StateActive:
		return to == StateContained || to == StateEscalated || to == StateClosed
	case StateEscalated:
		return to == StateContained || to == StateClosed
	case StateContained:
		return to == StateClosed
	case StateClosed:
		return false
	default:
		return false
	}
}

// StateTransition records one hop in an incident's history.
type StateTransition struct {
	From      State     `json:"from"`
	To        State     `json:"to"`
	Timestamp time.Time `json:"timestamp"`
	Reason    string    `json:"reason"`
}

// ContainmentRecord records one containment action taken against an
// incident's process.
type ContainmentRecord struct {
	Action    string    `json:"action"`
	Success   bool      `json:"success"`
	Timestamp time.Time `json:"timestamp"`
	Details   string    `json:"details"`
}

// RiskSnapshot captures the risk scorer's view of the incident's pid at
// a point in time.
type RiskSnapshot struct {
	Score     int        `json:"score"`
	Level     risk.Level `json:"level"`
	Timestamp time.Time  `json:"timestamp"`
}

// Incident is a tracked sequence of related events for one process.
type Incident struct {
	UUID               string              `json:"uuid"`
	PID                int                 `json:"pid"`
	ProcessName        string              `json:"process_name"`
	State              State               `json:"state"`
	AssociatedEvents   []schema.Event      `json:"associated_events"`
	RiskTimeline       []RiskSnapshot      `json:"risk_timeline"`
	ContainmentActions []ContainmentRecord `json:"containment_actions"`
	StateHistory       []StateTransition   `json:"state_history"`
	CreatedAt          time.Time           `json:"created_at"`
	UpdatedAt          time.Time           `json:"updated_at"`
}

func newIncident(pid int, processName string) *Incident {
	now := time.Now().UTC()
	return &Incident{
		UUID:        uuid.NewString(),
		PID:         pid,
		ProcessName: processName,
		State:       StateNew,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// snapshot returns a deep-enough copy safe to hand to a caller outside
// the manager's lock: the slice headers are copied so appends on the
// original don't alias into a returned Incident.
func (inc *Incident) snapshot() Incident {
	clone := *inc
	clone.AssociatedEvents = append([]schema.Event(nil), inc.AssociatedEvents...)
	clone.RiskTimeline = append([]RiskSnapshot(nil), inc.RiskTimeline...)
	clone.ContainmentActions = append([]ContainmentRecord(nil), inc.ContainmentActions...)
	clone.StateHistory = append([]StateTransition(nil), inc.StateHistory...)
	return clone
}
