// Package rules implements the declarative rule engine: YAML-loaded
// rules matched against events by hash, path, network, or registry
// wildcard patterns, publishing RiskThresholdExceeded on a hit.
package rules

import (
	"strings"

	"gopkg.in/yaml.v3"
)

// Kind is the closed set of rule kinds.
type Kind string

const (
	KindHash     Kind = "hash"
	KindPath     Kind = "path"
	KindNetwork  Kind = "network"
	KindRegistry Kind = "registry"
)

func (k Kind) valid() bool {
	switch k {
	case KindHash, KindPath, KindNetwork, KindRegistry:
		return true
	default:
		return false
	}
}

// Action is the tag carried in a rule's emitted RiskThresholdExceeded
// event, left for the incident manager / operator to interpret.
type Action string

const (
	ActionLog      Action = "log"
	ActionAlert    Action = "alert"
	ActionEscalate Action = "escalate"
)

// Rule is an immutable-after-load declarative rule. Grounded on
// original_source/engine/RuleEngine.cpp's Rule shape (name/type/
// patterns/risk_points/action) and the teacher's internal/correlation
// rule.go for the YAML-tagged struct idiom.
type Rule struct {
	Name     string `yaml:"name"`
	Enabled  bool   `yaml:"enabled"`
	Kind     Kind   `yaml:"type"`
	Patterns []string `yaml:"patterns"`
	Points   int    `yaml:"risk_points"`
	Action   Action `yaml:"action"`
}

// ruleFile is the top-level YAML document shape: a "rules" list, matching
// the reference implementation's YAML layout.
type ruleFile struct {
	Rules []Rule `yaml:"rules"`
}

// LoadResult captures both the rules that loaded successfully and any
// that were skipped, so a caller can log the skips without failing the
// whole load.
type LoadResult struct {
	Rules   []Rule
	Skipped []SkippedRule
}

// SkippedRule names a rule definition that failed validation and why.
type SkippedRule struct {
	Index  int
	Name   string
	Reason string
}

// ParseRules parses a YAML document of the form `rules: [...]`. A rule
// missing name, kind, or patterns is skipped with a reason rather than
// failing the whole load; an unknown kind is likewise skipped. Other
// rules still load, per spec.md §4.4 / §7.
func ParseRules(data []byte) (LoadResult, error) {
	var doc ruleFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return LoadResult{}, err
	}

	var result LoadResult
	for i, r := range doc.Rules {
		if r.Name == "" {
			result.Skipped = append(result.Skipped, SkippedRule{Index: i, Reason: "missing name"})
			continue
		}
		if r.Kind == "" {
			result.Skipped = append(result.Skipped, SkippedRule{Index: i, Name: r.Name, Reason: "missing type"})
			continue
		}
		if !r.Kind.valid() {
			result.Skipped = append(result.Skipped, SkippedRule{Index: i, Name: r.Name, Reason: "unknown type: " + string(r.Kind)})
			continue
		}
		if len(r.Patterns) == 0 {
			result.Skipped = append(result.Skipped, SkippedRule{Index: i, Name: r.Name, Reason: "missing patterns"})
			continue
		}
		result.Rules = append(result.Rules, r)
	}
	return result, nil
}

// WildcardMatch implements linear-time backtracking glob matching: '*'
// matches any run of characters including empty, '?' matches exactly one
// character, everything else is literal. Ported verbatim in algorithm
// from original_source/engine/RuleEngine.cpp's WildcardMatch (classic
// two-pointer backtracking, no regex).
func WildcardMatch(pattern, text string) bool {
	p, t := 0, 0
	starIdx := -1
	matchIdx := 0

	for t < len(text) {
		if p < len(pattern) && (pattern[p] == '?' || pattern[p] == text[t]) {
			p++
			t++
		} else if p < len(pattern) && pattern[p] == '*' {
			starIdx = p
			matchIdx = t
			p++
		} else if starIdx != -1 {
			p = starIdx + 1
			matchIdx++
			t = matchIdx
		} else {
			return false
		}
	}

	for p < len(pattern) && pattern[p] == '*' {
		p++
	}
	return p == len(pattern)
}

// matchAnyPattern reports whether text matches any of patterns.
func matchAnyPattern(patterns []string, text string) bool {
	for _, p := range patterns {
		if WildcardMatch(p, text) {
			return true
		}
	}
	return false
}

func lower(s string) string { return strings.ToLower(s) }
