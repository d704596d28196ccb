package actuator

import (
	"context"
	"fmt"
	"sync"
	"syscall"
	"time"
)

// ProcessActuator implements process_terminate (SIGTERM, escalating to
// SIGKILL if the process survives a grace period) and process_suspend
// (SIGSTOP) directly against the host's process table, grounded on the
// same raw syscall style as the privilege and watchdog packages use for
// process control.
type ProcessActuator struct {
	mu            sync.Mutex
	terminated    map[int]time.Time
	suspended     map[int]time.Time
	killGracePeriod time.Duration
}

// NewProcessActuator constructs a ProcessActuator that escalates an
// unresponsive process_terminate to SIGKILL after gracePeriod.
func NewProcessActuator(gracePeriod time.Duration) *ProcessActuator {
	if gracePeriod <= 0 {
		gracePeriod = 3 * time.Second
	}
	return &ProcessActuator{
		terminated:      make(map[int]time.Time),
		suspended:       make(map[int]time.Time),
		killGracePeriod: gracePeriod,
	}
}

// Supports reports true for process_terminate and process_suspend;
// network and file containment belong to other actuators.
func (p *ProcessActuator) Supports(action Action) bool {
	return action == ActionProcessTerminate || action == ActionProcessSuspend
}

// Execute signals pid according to action.
func (p *ProcessActuator) Execute(ctx context.Context, pid int, action Action, params map[string]string) (string, error) {
	if pid <= 0 {
		return "", fmt.Errorf("actuator: invalid pid %d", pid)
	}

	switch action {
	case ActionProcessTerminate:
		return p.terminate(ctx, pid)
	case ActionProcessSuspend:
		return p.suspend(pid)
	default:
		return "", fmt.Errorf("actuator: process actuator does not support %s", action)
	}
}

func (p *ProcessActuator) terminate(ctx context.Context, pid int) (string, error) {
	if err := syscall.Kill(pid, syscall.SIGTERM); err != nil {
		return "", fmt.Errorf("sending SIGTERM to pid %d: %w", pid, err)
	}

	p.mu.Lock()
	p.terminated[pid] = time.Now()
	p.mu.Unlock()

	select {
	case <-time.After(p.killGracePeriod):
	case <-ctx.Done():
		return fmt.Sprintf("sent SIGTERM to pid %d, escalation cancelled", pid), nil
	}

	if !processAlive(pid) {
		return fmt.Sprintf("pid %d exited after SIGTERM", pid), nil
	}

	if err := syscall.Kill(pid, syscall.SIGKILL); err != nil {
		return "", fmt.Errorf("escalating to SIGKILL for pid %d: %w", pid, err)
	}
	return fmt.Sprintf("pid %d survived SIGTERM, escalated to SIGKILL", pid), nil
}

func (p *ProcessActuator) suspend(pid int) (string, error) {
	if err := syscall.Kill(pid, syscall.SIGSTOP); err != nil {
		return "", fmt.Errorf("sending SIGSTOP to pid %d: %w", pid, err)
	}

	p.mu.Lock()
	p.suspended[pid] = time.Now()
	p.mu.Unlock()

	return fmt.Sprintf("suspended pid %d", pid), nil
}

// Resume sends SIGCONT to a previously suspended pid. Not part of the
// Actuator interface — it's an operator recovery action, not a
// containment action the core drives the incident state machine from.
func (p *ProcessActuator) Resume(pid int) error {
	if err := syscall.Kill(pid, syscall.SIGCONT); err != nil {
		return fmt.Errorf("resuming pid %d: %w", pid, err)
	}
	p.mu.Lock()
	delete(p.suspended, pid)
	p.mu.Unlock()
	return nil
}

func processAlive(pid int) bool {
	return syscall.Kill(pid, 0) == nil
}
