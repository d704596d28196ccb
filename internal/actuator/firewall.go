package actuator

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os/exec"
	"sync"
	"time"
)

// Backend is a detected firewall tool, adapted from the teacher's
// firewall.Backend.
type Backend string

const (
	BackendNftables Backend = "nftables"
	BackendIptables Backend = "iptables"
	BackendNone     Backend = "none"
)

// FirewallActuator implements network_block by adding the connection's
// remote address to a deny rule, trying nftables first and falling back
// to iptables — the same backend-detection shape as the teacher's
// firewall.Manager, trimmed to the one operation containment needs
// (block a single address) rather than full ruleset/chain lifecycle
// management.
type FirewallActuator struct {
	mu           sync.Mutex
	nftablesPath string
	iptablesPath string
	backend      Backend
	detected     bool
	blocked      map[string]time.Time
}

// NewFirewallActuator constructs a FirewallActuator. Backend detection
// is deferred to the first Execute call so constructing one in a test
// environment without either tool never fails.
func NewFirewallActuator() *FirewallActuator {
	return NewFirewallActuatorWithPaths("/usr/sbin/nft", "/sbin/iptables")
}

// NewFirewallActuatorWithPaths is NewFirewallActuator with caller-supplied
// binary paths, for deployments that keep nft/iptables somewhere other
// than the usual distro locations.
func NewFirewallActuatorWithPaths(nftablesPath, iptablesPath string) *FirewallActuator {
	return &FirewallActuator{
		nftablesPath: nftablesPath,
		iptablesPath: iptablesPath,
		blocked:      make(map[string]time.Time),
	}
}

// Supports reports true only for network_block; process/file containment
// belong to other actuators this package does not implement.
func (f *FirewallActuator) Supports(action Action) bool {
	return action == ActionNetworkBlock
}

// Execute blocks params["remote_address"] using the detected backend.
func (f *FirewallActuator) Execute(ctx context.Context, pid int, action Action, params map[string]string) (string, error) {
	if action != ActionNetworkBlock {
		return "", fmt.Errorf("actuator: firewall actuator does not support %s", action)
	}

	addr := params["remote_address"]
	ip := net.ParseIP(addr)
	if ip == nil {
		return "", fmt.Errorf("actuator: invalid remote_address %q", addr)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	backend := f.detectBackendLocked()
	if backend == BackendNone {
		return "", errors.New("actuator: no firewall backend available")
	}

	if _, already := f.blocked[ip.String()]; already {
		return fmt.Sprintf("%s already blocked", ip), nil
	}

	var err error
	switch backend {
	case BackendNftables:
		err = f.nftablesBlock(ctx, ip)
	case BackendIptables:
		err = f.iptablesBlock(ctx, ip)
	}
	if err != nil {
		return "", err
	}

	f.blocked[ip.String()] = time.Now()
	return fmt.Sprintf("blocked %s via %s", ip, backend), nil
}

func (f *FirewallActuator) detectBackendLocked() Backend {
	if f.detected {
		return f.backend
	}
	f.detected = true

	if _, err := exec.LookPath(f.nftablesPath); err == nil {
		f.backend = BackendNftables
		return f.backend
	}
	if _, err := exec.LookPath(f.iptablesPath); err == nil {
		f.backend = BackendIptables
		return f.backend
	}
	f.backend = BackendNone
	return f.backend
}

func (f *FirewallActuator) nftablesBlock(ctx context.Context, ip net.IP) error {
	setName := "edr_blocked"
	if ip.To4() == nil {
		setName = "edr_blocked_v6"
	}
	cmd := exec.CommandContext(ctx, f.nftablesPath, "add", "element",
		"inet", "edr_agent", setName, fmt.Sprintf("{ %s }", ip.String()))
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("nftables add element failed: %s: %w", string(out), err)
	}
	return nil
}

func (f *FirewallActuator) iptablesBlock(ctx context.Context, ip net.IP) error {
	iptablesCmd := f.iptablesPath
	ipVersion := "-4"
	if ip.To4() == nil {
		ipVersion = "-6"
		iptablesCmd = "/sbin/ip6tables"
	}
	cmd := exec.CommandContext(ctx, iptablesCmd, ipVersion, "-I", "INPUT", "1",
		"-s", ip.String(), "-j", "DROP", "-m", "comment", "--comment", "edr-agent-contained")
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("iptables block failed: %s: %w", string(out), err)
	}
	return nil
}

// BlockedCount reports how many distinct addresses this actuator has
// blocked since construction.
func (f *FirewallActuator) BlockedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.blocked)
}
