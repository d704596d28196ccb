package rules

import (
	"strconv"
	"sync"

	"edr-agent/internal/bus"
	"edr-agent/internal/schema"
)

// Engine matches incoming events against a loaded ruleset and publishes
// RiskThresholdExceeded on a hit. Grounded on
// original_source/engine/RuleEngine.cpp's OnEvent/MatchRule dispatch.
type Engine struct {
	mu    sync.RWMutex
	rules []Rule
	bus   *bus.Bus
	dedup *DedupCache // optional; nil disables dedup
}

// NewEngine constructs an Engine publishing matches onto b. dedup may be
// nil.
func NewEngine(b *bus.Bus, dedup *DedupCache) *Engine {
	return &Engine{bus: b, dedup: dedup}
}

// LoadRules atomically replaces the active ruleset.
func (e *Engine) LoadRules(rules []Rule) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rules = rules
}

// Rules returns a copy of the active ruleset.
func (e *Engine) Rules() []Rule {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Rule, len(e.rules))
	copy(out, e.rules)
	return out
}

// OnEvent is the Engine's bus handler for ProcessCreate, FileCreate,
// FileModify, NetworkConnect, and RegistryWrite.
func (e *Engine) OnEvent(event schema.Event) {
	e.mu.RLock()
	rules := e.rules
	e.mu.RUnlock()

	for _, r := range rules {
		if !r.Enabled {
			continue
		}
		if !matchRule(r, event) {
			continue
		}
		if e.dedup != nil && e.dedup.Seen(r.Name, event.PID) {
			continue
		}
		e.publishMatch(r, event)
	}
}

func (e *Engine) publishMatch(r Rule, event schema.Event) {
	metadata := map[string]string{
		"rule_name":   r.Name,
		"rule_type":   string(r.Kind),
		"risk_points": strconv.Itoa(r.Points),
		"action":      string(r.Action),
	}
	for k, v := range event.Metadata {
		metadata["original_"+k] = v
	}

	derived := schema.NewEvent(schema.KindRiskThresholdExceeded, event.PID, event.ProcessName, metadata)
	e.bus.PublishAsync(derived)
}

func matchRule(r Rule, event schema.Event) bool {
	switch r.Kind {
	case KindHash:
		return matchHash(r, event)
	case KindPath:
		return matchPath(r, event)
	case KindNetwork:
		return matchNetwork(r, event)
	case KindRegistry:
		return matchRegistry(r, event)
	default:
		return false
	}
}

func matchHash(r Rule, event schema.Event) bool {
	if event.Kind != schema.KindProcessCreate {
		return false
	}
	hash := event.Meta("file_hash")
	if hash == "" {
		return false
	}
	hash = lower(hash)
	for _, p := range r.Patterns {
		if lower(p) == hash {
			return true
		}
	}
	return false
}

func matchPath(r Rule, event schema.Event) bool {
	var path string
	switch event.Kind {
	case schema.KindProcessCreate:
		path = event.Meta("image_path")
	case schema.KindFileCreate, schema.KindFileModify:
		path = event.Meta("file_path")
	default:
		return false
	}
	if path == "" {
		return false
	}
	path = lower(path)

	for _, p := range r.Patterns {
		if WildcardMatch(lower(p), path) {
			return true
		}
	}
	return false
}

func matchNetwork(r Rule, event schema.Event) bool {
	if event.Kind != schema.KindNetworkConnect {
		return false
	}
	addr := event.Meta("remote_address")
	if addr == "" {
		return false
	}
	return matchAnyPattern(r.Patterns, addr)
}

func matchRegistry(r Rule, event schema.Event) bool {
	if event.Kind != schema.KindRegistryWrite {
		return false
	}
	keyPath := event.Meta("key_path")
	if keyPath == "" {
		return false
	}
	keyPath = lower(keyPath)
	for _, p := range r.Patterns {
		if WildcardMatch(lower(p), keyPath) {
			return true
		}
	}
	return false
}
