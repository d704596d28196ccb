// Package privilege provides re-entrant privilege verification for
// security-sensitive operations: before the agent registers an actuator
// capable of changing firewall state or hardens the audit store with
// chattr, it checks the capabilities the operation actually needs rather
// than assuming root is enough, and it detects unexpected privilege
// changes during the process lifetime.
package privilege

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"
)

var (
	ErrVerificationFailed = errors.New("privilege verification failed")
	ErrCapabilityMissing  = errors.New("required capability missing")
	ErrNotRoot            = errors.New("root privileges required")
)

// Capability represents a Linux capability bit (see capabilities(7)).
type Capability int

const (
	CAP_CHOWN            Capability = 0
	CAP_DAC_OVERRIDE     Capability = 1
	CAP_DAC_READ_SEARCH  Capability = 2
	CAP_FOWNER           Capability = 3
	CAP_KILL             Capability = 5
	CAP_SETGID           Capability = 6
	CAP_SETUID           Capability = 7
	CAP_NET_BIND_SERVICE Capability = 10
	CAP_NET_ADMIN        Capability = 12
	CAP_NET_RAW          Capability = 13
	CAP_SYS_PTRACE       Capability = 19
	CAP_SYS_ADMIN        Capability = 21
	CAP_SYS_RESOURCE     Capability = 24
)

func (c Capability) String() string {
	names := map[Capability]string{
		CAP_CHOWN: "CAP_CHOWN", CAP_DAC_OVERRIDE: "CAP_DAC_OVERRIDE",
		CAP_DAC_READ_SEARCH: "CAP_DAC_READ_SEARCH", CAP_FOWNER: "CAP_FOWNER",
		CAP_KILL: "CAP_KILL", CAP_SETGID: "CAP_SETGID", CAP_SETUID: "CAP_SETUID",
		CAP_NET_BIND_SERVICE: "CAP_NET_BIND_SERVICE", CAP_NET_ADMIN: "CAP_NET_ADMIN",
		CAP_NET_RAW: "CAP_NET_RAW", CAP_SYS_PTRACE: "CAP_SYS_PTRACE",
		CAP_SYS_ADMIN: "CAP_SYS_ADMIN", CAP_SYS_RESOURCE: "CAP_SYS_RESOURCE",
	}
	if name, ok := names[c]; ok {
		return name
	}
	return fmt.Sprintf("CAP_%d", int(c))
}

// State captures the privilege state of the process at a point in time.
type State struct {
	UID          int
	GID          int
	EUID         int
	EGID         int
	Capabilities []Capability
	CapturedAt   time.Time
}

func (s *State) IsRoot() bool { return s.EUID == 0 }

func (s *State) HasCapability(c Capability) bool {
	for _, have := range s.Capabilities {
		if have == c {
			return true
		}
	}
	return false
}

// Requirement names the privileges an operation needs.
type Requirement struct {
	Name         string
	RequireRoot  bool
	RequiredCaps []Capability
}

// Common requirements for agent operations that touch firewall state,
// the immutable-guard filesystem attributes, or raw process control.
var (
	RequireFirewallAdmin = Requirement{Name: "firewall_admin", RequiredCaps: []Capability{CAP_NET_ADMIN, CAP_NET_RAW}}
	RequireFileAdmin     = Requirement{Name: "file_admin", RequiredCaps: []Capability{CAP_DAC_READ_SEARCH, CAP_FOWNER}}
	RequireProcessAdmin  = Requirement{Name: "process_admin", RequiredCaps: []Capability{CAP_KILL, CAP_SYS_PTRACE}}
)

// Verifier checks privilege state before sensitive operations and
// records a short audit history of what was checked.
type Verifier struct {
	mu           sync.RWMutex
	initialState *State
	logger       *slog.Logger
	history      []Result
}

// Result records the outcome of one verification.
type Result struct {
	Operation string
	Timestamp time.Time
	Success   bool
	Error     string
}

// NewVerifier captures the process's current privilege state as a
// baseline for detecting later unexpected changes.
func NewVerifier(logger *slog.Logger) (*Verifier, error) {
	if logger == nil {
		logger = slog.Default()
	}

	v := &Verifier{logger: logger}
	state, err := v.CaptureState()
	if err != nil {
		return nil, fmt.Errorf("failed to capture initial privilege state: %w", err)
	}
	v.initialState = state

	return v, nil
}

// CaptureState reads the process's current UID/GID/capability set.
func (v *Verifier) CaptureState() (*State, error) {
	state := &State{
		UID: syscall.Getuid(), GID: syscall.Getgid(),
		EUID: syscall.Geteuid(), EGID: syscall.Getegid(),
		CapturedAt: time.Now(),
	}

	caps, err := readEffectiveCapabilities()
	if err == nil {
		state.Capabilities = caps
	}

	return state, nil
}

func readEffectiveCapabilities() ([]Capability, error) {
	data, err := os.ReadFile("/proc/self/status")
	if err != nil {
		return nil, err
	}

	for _, line := range strings.Split(string(data), "\n") {
		if !strings.HasPrefix(line, "CapEff:") {
			continue
		}
		hexCaps := strings.TrimSpace(strings.TrimPrefix(line, "CapEff:"))
		bits, err := strconv.ParseUint(hexCaps, 16, 64)
		if err != nil {
			return nil, err
		}

		var caps []Capability
		for i := 0; i < 64; i++ {
			if bits&(1<<uint(i)) != 0 {
				caps = append(caps, Capability(i))
			}
		}
		return caps, nil
	}

	return nil, errors.New("CapEff line not found in /proc/self/status")
}

// Verify checks the current privilege state against req, recording the
// result in the verifier's history for later audit.
func (v *Verifier) Verify(req Requirement) error {
	state, err := v.CaptureState()
	result := Result{Operation: req.Name, Timestamp: time.Now(), Success: true}

	if err != nil {
		result.Success = false
		result.Error = err.Error()
		v.record(result)
		return fmt.Errorf("%w: %v", ErrVerificationFailed, err)
	}

	if req.RequireRoot && !state.IsRoot() {
		result.Success = false
		result.Error = "root privileges required"
		v.record(result)
		return ErrNotRoot
	}

	for _, cap := range req.RequiredCaps {
		if !state.HasCapability(cap) {
			result.Success = false
			result.Error = fmt.Sprintf("missing capability: %s", cap)
			v.record(result)
			return fmt.Errorf("%w: %s", ErrCapabilityMissing, cap)
		}
	}

	v.record(result)
	return nil
}

func (v *Verifier) record(r Result) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.history = append(v.history, r)
	if !r.Success {
		v.logger.Warn("privilege verification failed", "operation", r.Operation, "error", r.Error)
	}
}

// Failures returns the verifications recorded so far that did not pass.
func (v *Verifier) Failures() []Result {
	v.mu.RLock()
	defer v.mu.RUnlock()

	var failures []Result
	for _, r := range v.history {
		if !r.Success {
			failures = append(failures, r)
		}
	}
	return failures
}
