// Package risk implements the per-process risk scorer: additive scoring
// with saturation, reason-tag dedup, and configurable level thresholds.
package risk

import (
	"strconv"
	"strings"
	"sync"

	"edr-agent/internal/schema"
)

// Level is the qualitative risk level derived from a score and the
// configured thresholds.
type Level string

const (
	LevelLow      Level = "LOW"
	LevelMedium   Level = "MEDIUM"
	LevelHigh     Level = "HIGH"
	LevelCritical Level = "CRITICAL"
)

// Thresholds are the four score cut points that separate Low/Medium/
// High/Critical. Each is the minimum score (inclusive) that maps to the
// corresponding level.
type Thresholds struct {
	Low      int
	Medium   int
	High     int
	Critical int
}

// DefaultThresholds matches spec.md §4.3's default table.
func DefaultThresholds() Thresholds {
	return Thresholds{Low: 30, Medium: 60, High: 80, Critical: 100}
}

// Score is the observable per-pid risk state.
type Score struct {
	PID                 int
	Value               int
	Level               Level
	ContributingFactors map[string]int
}

// Snapshot returns a deep copy of s safe to retain after the scorer's
// lock is released.
func (s Score) Snapshot() Score {
	factors := make(map[string]int, len(s.ContributingFactors))
	for k, v := range s.ContributingFactors {
		factors[k] = v
	}
	return Score{PID: s.PID, Value: s.Value, Level: s.Level, ContributingFactors: factors}
}

// Scorer maintains per-pid cumulative risk scores. It is safe for
// concurrent use.
//
// Grounded on original_source/engine/RiskScorer.cpp for the scoring
// table, but deliberately diverges from it in two places: reason-tag
// contributions REPLACE rather than accumulate, and the four level
// thresholds are evaluated as genuinely distinct boundaries rather than
// reproducing the reference's score>=medium / score>=low aliasing bug.
type Scorer struct {
	mu         sync.Mutex
	scores     map[int]*Score
	thresholds Thresholds
	publish    func(schema.Event)
}

// NewScorer constructs a Scorer with DefaultThresholds.
func NewScorer() *Scorer {
	return &Scorer{
		scores:     make(map[int]*Score),
		thresholds: DefaultThresholds(),
	}
}

// SetPublisher wires the scorer to emit a RiskThresholdExceeded event
// (carrying metadata.risk_level, the field the incident manager drives
// its state machine from) after every event that changes a pid's score.
// A nil publisher, the default, disables emission.
func (s *Scorer) SetPublisher(publish func(schema.Event)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.publish = publish
}

// SetThresholds replaces the level thresholds at runtime. Existing scores
// are not recomputed until their next observation.
func (s *Scorer) SetThresholds(t Thresholds) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.thresholds = t
}

// AddRisk adds points under reason for pid, replacing any prior
// contribution under the same reason tag (the map key dedupes), then
// recomputes the clamped score and level. Returns the resulting Score.
func (s *Scorer) AddRisk(pid int, reason string, points int) Score {
	s.mu.Lock()
	defer s.mu.Unlock()

	sc, ok := s.scores[pid]
	if !ok {
		sc = &Score{PID: pid, ContributingFactors: make(map[string]int)}
		s.scores[pid] = sc
	}
	sc.ContributingFactors[reason] = points

	sum := 0
	for _, p := range sc.ContributingFactors {
		sum += p
	}
	if sum > 100 {
		sum = 100
	}
	sc.Value = sum
	sc.Level = levelFor(sum, s.thresholds)

	return sc.Snapshot()
}

func levelFor(score int, t Thresholds) Level {
	switch {
	case score >= t.Critical:
		return LevelCritical
	case score >= t.High:
		return LevelHigh
	case score >= t.Medium:
		return LevelMedium
	case score >= t.Low:
		return LevelLow
	default:
		return LevelLow
	}
}

// Get returns the current Score for pid, or the zero Score with Level
// LevelLow if no event has been scored for it yet.
func (s *Scorer) Get(pid int) Score {
	s.mu.Lock()
	defer s.mu.Unlock()

	sc, ok := s.scores[pid]
	if !ok {
		return Score{PID: pid, ContributingFactors: map[string]int{}, Level: LevelLow}
	}
	return sc.Snapshot()
}

// Clear removes the stored score for pid. Called on ProcessTerminate;
// spec.md §9 notes the reference implementation leaks here and that a
// conforming implementation SHOULD clear on terminate, which this does.
func (s *Scorer) Clear(pid int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.scores, pid)
}

// OnEvent is the Scorer's bus handler: it inspects kind/metadata, derives
// zero or more (reason, points) contributions per the scoring table, and
// calls AddRisk for each. On ProcessTerminate it clears the pid instead.
// When a publisher is wired and at least one contribution applied, emits
// a single RiskThresholdExceeded event reflecting the pid's score after
// all contributions from this event.
func (s *Scorer) OnEvent(e schema.Event) {
	if e.Kind == schema.KindProcessTerminate {
		s.Clear(e.PID)
		return
	}

	contributions := contributionsFor(e)
	if len(contributions) == 0 {
		return
	}

	var final Score
	for _, c := range contributions {
		final = s.AddRisk(e.PID, c.reason, c.points)
	}

	s.mu.Lock()
	publish := s.publish
	s.mu.Unlock()
	if publish == nil {
		return
	}

	derived := schema.NewEvent(schema.KindRiskThresholdExceeded, e.PID, e.ProcessName, map[string]string{
		"risk_level": string(final.Level),
		"risk_score": strconv.Itoa(final.Value),
		"source":     "scorer",
	})
	publish(derived)
}

type contribution struct {
	reason string
	points int
}

var suspiciousPorts = map[string]bool{"4444": true, "1337": true, "6667": true, "31337": true}

var privatePrefixes = []string{"10.", "192.168.", "172.16.", "127.0.0.1", "0.0.0.0"}

func contributionsFor(e schema.Event) []contribution {
	var out []contribution

	switch e.Kind {
	case schema.KindProcessCreate:
		imagePath := strings.ToLower(e.Meta("image_path"))
		if strings.Contains(imagePath, `\temp\`) || strings.Contains(imagePath, `\appdata\`) {
			out = append(out, contribution{"process_from_temp_or_appdata", 15})
		}

	case schema.KindFileCreate, schema.KindFileModify:
		filePath := strings.ToLower(e.Meta("file_path"))
		if strings.Contains(filePath, `\system32\`) || strings.Contains(filePath, `\syswow64\`) {
			out = append(out, contribution{"write_to_system_directory", 15})
		}

	case schema.KindNetworkConnect:
		remoteAddr := e.Meta("remote_address")
		if remoteAddr != "" && !isPrivateAddress(remoteAddr) {
			out = append(out, contribution{"connection_to_external_ip", 10})
		}
		if port := e.Meta("remote_port"); suspiciousPorts[normalizePort(port)] {
			out = append(out, contribution{"connection_to_suspicious_port", 15})
		}

	case schema.KindRegistryWrite:
		keyPath := strings.ToLower(e.Meta("key_path"))
		if strings.Contains(keyPath, `\run`) || strings.Contains(keyPath, `\services`) {
			out = append(out, contribution{"registry_persistence_modification", 20})
		}
	}

	return out
}

func isPrivateAddress(addr string) bool {
	for _, p := range privatePrefixes {
		if strings.HasPrefix(addr, p) || addr == strings.TrimSuffix(p, ".") {
			return true
		}
	}
	return false
}

// normalizePort strips a leading zero-padding so "04444" doesn't fail to
// match the literal "4444" in suspiciousPorts; remote_port arrives as a
// plain decimal string per the collector contract.
func normalizePort(port string) string {
	n, err := strconv.Atoi(port)
	if err != nil {
		return port
	}
	return strconv.Itoa(n)
}
