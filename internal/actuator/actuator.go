// Package actuator implements the containment actuator contract:
// spec.md §6 describes actuators as external to the core ("not owned by
// the core, but when an actuator completes it must publish a
// ContainmentAction event"). This package defines that contract as a Go
// interface plus one concrete implementation (FirewallActuator,
// network_block) so the incident lifecycle has something real to drive
// end to end, grounded on the teacher's internal/security/firewall
// package.
package actuator

import (
	"context"
	"fmt"
	"log/slog"

	"edr-agent/internal/bus"
	"edr-agent/internal/schema"
)

// Action is the closed set of containment actions spec.md §6 names.
type Action string

const (
	ActionProcessTerminate Action = "process_terminate"
	ActionProcessSuspend   Action = "process_suspend"
	ActionNetworkBlock     Action = "network_block"
	ActionFileQuarantine   Action = "file_quarantine"
)

// Actuator performs one containment action against a live pid/target
// and reports whether it succeeded. Implementations do not publish
// events themselves — Dispatcher does, so every actuator's outcome is
// reported through the same event shape regardless of backend.
type Actuator interface {
	// Supports reports whether this actuator can perform action.
	Supports(action Action) bool
	// Execute performs action against pid with the given parameters
	// (e.g. "remote_address" for network_block) and returns a
	// human-readable outcome detail plus any error.
	Execute(ctx context.Context, pid int, action Action, params map[string]string) (detail string, err error)
}

// Dispatcher routes a requested containment action to the first
// registered Actuator that supports it, then publishes the
// ContainmentAction event the incident manager drives its state machine
// from — regardless of whether Execute succeeded, since a failed
// containment attempt is itself an auditable fact.
type Dispatcher struct {
	bus       *bus.Bus
	actuators []Actuator
	log       *slog.Logger
}

// NewDispatcher constructs a Dispatcher publishing through b.
func NewDispatcher(b *bus.Bus, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{bus: b, log: log}
}

// Register adds a into the dispatch chain. Order matters: the first
// Actuator whose Supports(action) is true wins.
func (d *Dispatcher) Register(a Actuator) {
	d.actuators = append(d.actuators, a)
}

// Dispatch executes action against pid/processName, publishing a
// ContainmentAction event with metadata.action/reason/success/detail.
// Returns an error only when no registered actuator supports the
// action; execution failures are reported through the published event,
// not a returned error, since the incident manager's OnContainmentAction
// handler is the authoritative consumer of that outcome.
func (d *Dispatcher) Dispatch(ctx context.Context, pid int, processName string, action Action, reason string, params map[string]string) error {
	var chosen Actuator
	for _, a := range d.actuators {
		if a.Supports(action) {
			chosen = a
			break
		}
	}
	if chosen == nil {
		return fmt.Errorf("actuator: no registered actuator supports %s", action)
	}

	detail, err := chosen.Execute(ctx, pid, action, params)
	success := err == nil
	if err != nil {
		detail = err.Error()
		d.log.Error("containment action failed", slog.String("action", string(action)), slog.Int("pid", pid), slog.Any("error", err))
	} else {
		d.log.Info("containment action completed", slog.String("action", string(action)), slog.Int("pid", pid))
	}

	event := schema.NewEvent(schema.KindContainmentAction, pid, processName, map[string]string{
		"action":  string(action),
		"reason":  reason,
		"success": fmt.Sprintf("%t", success),
		"detail":  detail,
	})
	d.bus.PublishAsync(event)

	return nil
}
