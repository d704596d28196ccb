package incident

import (
	"sync"
	"testing"

	"edr-agent/internal/audit"
	"edr-agent/internal/bus"
	"edr-agent/internal/risk"
	"edr-agent/internal/schema"
)

type fakePersister struct {
	mu    sync.Mutex
	saved []Incident
}

func (f *fakePersister) UpsertIncident(inc Incident) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved = append(f.saved, inc)
	return nil
}

func (f *fakePersister) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.saved)
}

func TestManager_EscalationPath_CriticalDrivesThreeHops(t *testing.T) {
	b := bus.New(nil)
	persist := &fakePersister{}
	m := New(b, risk.NewScorer(), persist, nil)

	var mu sync.Mutex
	var stateChanges []schema.Event
	b.Subscribe(schema.KindIncidentStateChange, func(e schema.Event) {
		mu.Lock()
		stateChanges = append(stateChanges, e)
		mu.Unlock()
	})

	m.OnRiskThresholdExceeded(schema.NewEvent(schema.KindRiskThresholdExceeded, 42, "x.exe", map[string]string{
		"risk_level": "CRITICAL",
	}))

	if m.TotalCount() != 1 {
		t.Fatalf("expected exactly one incident created, got %d", m.TotalCount())
	}

	incidents := m.List()
	inc := incidents[0]
	if inc.State != StateEscalated {
		t.Fatalf("state = %v, want Escalated", inc.State)
	}

	wantHistory := []struct{ from, to State }{
		{StateNew, StateInvestigating},
		{StateInvestigating, StateActive},
		{StateActive, StateEscalated},
	}
	if len(inc.StateHistory) != len(wantHistory) {
		t.Fatalf("state_history = %+v, want %d hops", inc.StateHistory, len(wantHistory))
	}
	for i, want := range wantHistory {
		got := inc.StateHistory[i]
		if got.From != want.from || got.To != want.to {
			t.Errorf("hop %d = %s->%s, want %s->%s", i, got.From, got.To, want.from, want.to)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if len(stateChanges) != 3 {
		t.Errorf("expected exactly 3 IncidentStateChange events, got %d", len(stateChanges))
	}

	if persist.count() != 1 {
		t.Errorf("expected exactly one persist call (one per inbound event), got %d", persist.count())
	}
}

func TestManager_MediumOnlyReachesInvestigating(t *testing.T) {
	b := bus.New(nil)
	m := New(b, risk.NewScorer(), nil, nil)

	m.OnRiskThresholdExceeded(schema.NewEvent(schema.KindRiskThresholdExceeded, 1, "x", map[string]string{
		"risk_level": "MEDIUM",
	}))

	inc := m.List()[0]
	if inc.State != StateInvestigating {
		t.Fatalf("state = %v, want Investigating", inc.State)
	}
}

func TestManager_FindOrCreateReusesNonClosedIncidentForSamePID(t *testing.T) {
	b := bus.New(nil)
	m := New(b, risk.NewScorer(), nil, nil)

	m.OnRiskThresholdExceeded(schema.NewEvent(schema.KindRiskThresholdExceeded, 7, "x", map[string]string{"risk_level": "MEDIUM"}))
	m.OnRiskThresholdExceeded(schema.NewEvent(schema.KindRiskThresholdExceeded, 7, "x", map[string]string{"risk_level": "MEDIUM"}))

	if m.TotalCount() != 1 {
		t.Fatalf("expected the second event to reuse the existing incident, got %d incidents", m.TotalCount())
	}
}

func TestManager_FindOrCreateStartsFreshAfterClose(t *testing.T) {
	b := bus.New(nil)
	m := New(b, risk.NewScorer(), nil, nil)

	m.OnRiskThresholdExceeded(schema.NewEvent(schema.KindRiskThresholdExceeded, 9, "x", map[string]string{"risk_level": "HIGH"}))
	first := m.List()[0]
	if err := m.Close(first.UUID); err != nil {
		t.Fatalf("Close from Active should succeed: %v", err)
	}

	m.OnRiskThresholdExceeded(schema.NewEvent(schema.KindRiskThresholdExceeded, 9, "x", map[string]string{"risk_level": "MEDIUM"}))
	if m.TotalCount() != 2 {
		t.Fatalf("expected a new incident after the prior one closed, got %d total", m.TotalCount())
	}
}

func TestManager_ContainmentActionTransitionsActiveToContained(t *testing.T) {
	b := bus.New(nil)
	m := New(b, risk.NewScorer(), nil, nil)

	m.OnRiskThresholdExceeded(schema.NewEvent(schema.KindRiskThresholdExceeded, 5, "x", map[string]string{"risk_level": "HIGH"}))
	inc := m.List()[0]
	if inc.State != StateActive {
		t.Fatalf("precondition failed: state = %v, want Active", inc.State)
	}

	m.OnContainmentAction(schema.NewEvent(schema.KindContainmentAction, 5, "x", map[string]string{
		"action": "kill_process",
		"reason": "confirmed malicious",
	}))

	inc = m.List()[0]
	if inc.State != StateContained {
		t.Fatalf("state after containment = %v, want Contained", inc.State)
	}
	if len(inc.ContainmentActions) != 1 || inc.ContainmentActions[0].Action != "kill_process" {
		t.Fatalf("containment record not appended correctly: %+v", inc.ContainmentActions)
	}
}

func TestManager_MutationAPIRejectsUnknownIncident(t *testing.T) {
	b := bus.New(nil)
	m := New(b, risk.NewScorer(), nil, nil)

	if err := m.Contain("does-not-exist"); err != ErrIncidentNotFound {
		t.Errorf("Contain on unknown uuid = %v, want ErrIncidentNotFound", err)
	}
}

type fakeAuditStore struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (f *fakeAuditStore) InsertAuditEntry(e audit.Entry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, e)
	return nil
}

func (f *fakeAuditStore) QueryAuditEntriesRaw(limit int, descending bool) ([]audit.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return nil, nil
}

func (f *fakeAuditStore) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.entries)
}

func TestManager_ContainRejectsInvalidTransitionAndWritesNoAuditEntry(t *testing.T) {
	b := bus.New(nil)
	store := &fakeAuditStore{}
	logger, err := audit.NewLogger(store, []byte("0123456789abcdef0123456789abcdef"), nil)
	if err != nil {
		t.Fatalf("audit.NewLogger: %v", err)
	}
	logger.Subscribe(b)

	m := New(b, risk.NewScorer(), nil, nil)

	m.OnRiskThresholdExceeded(schema.NewEvent(schema.KindRiskThresholdExceeded, 50, "x", map[string]string{
		"risk_level": "MEDIUM",
	}))
	inc := m.List()[0]
	if inc.State != StateInvestigating {
		t.Fatalf("precondition failed: state = %v, want Investigating", inc.State)
	}

	before := store.count()
	if before == 0 {
		t.Fatalf("precondition failed: expected an audit entry for the Investigating transition")
	}

	if err := m.Contain(inc.UUID); err != ErrInvalidTransition {
		t.Errorf("Contain from Investigating = %v, want ErrInvalidTransition", err)
	}

	inc, _ = m.Get(inc.UUID)
	if inc.State != StateInvestigating {
		t.Errorf("state after rejected Contain = %v, want unchanged Investigating", inc.State)
	}

	if after := store.count(); after != before {
		t.Errorf("audit entry count changed from %d to %d; a rejected transition must not be audited", before, after)
	}
}

func TestManager_RevertAlwaysFails(t *testing.T) {
	b := bus.New(nil)
	m := New(b, risk.NewScorer(), nil, nil)
	m.OnRiskThresholdExceeded(schema.NewEvent(schema.KindRiskThresholdExceeded, 1, "x", map[string]string{"risk_level": "MEDIUM"}))
	inc := m.List()[0]

	if err := m.Revert(inc.UUID); err != ErrRevertNotSupported {
		t.Errorf("Revert = %v, want ErrRevertNotSupported", err)
	}
}

func TestManager_EscalateThenClose(t *testing.T) {
	b := bus.New(nil)
	m := New(b, risk.NewScorer(), nil, nil)
	m.OnRiskThresholdExceeded(schema.NewEvent(schema.KindRiskThresholdExceeded, 1, "x", map[string]string{"risk_level": "HIGH"}))
	inc := m.List()[0]

	if err := m.Escalate(inc.UUID); err != nil {
		t.Fatalf("Escalate from Active should succeed: %v", err)
	}
	inc, _ = m.Get(inc.UUID)
	if inc.State != StateEscalated {
		t.Fatalf("state = %v, want Escalated", inc.State)
	}

	if err := m.Close(inc.UUID); err != nil {
		t.Fatalf("Close from Escalated should succeed: %v", err)
	}
	inc, _ = m.Get(inc.UUID)
	if inc.State != StateClosed {
		t.Fatalf("state = %v, want Closed", inc.State)
	}
}
