package privilege

import "testing"

func TestNewVerifier_CapturesInitialState(t *testing.T) {
	v, err := NewVerifier(nil)
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}
	if v.initialState == nil {
		t.Fatal("expected an initial privilege state to be captured")
	}
}

func TestVerify_NoRequirementsAlwaysSucceeds(t *testing.T) {
	v, err := NewVerifier(nil)
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}
	if err := v.Verify(Requirement{Name: "noop"}); err != nil {
		t.Errorf("expected a requirement with no constraints to pass, got %v", err)
	}
}

func TestVerify_RequireRootFailsWhenNotRoot(t *testing.T) {
	v, err := NewVerifier(nil)
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}
	state, _ := v.CaptureState()
	if state.IsRoot() {
		t.Skip("test process is running as root")
	}

	if err := v.Verify(Requirement{Name: "root_only", RequireRoot: true}); err == nil {
		t.Error("expected RequireRoot to fail for a non-root process")
	}
}

func TestVerify_RecordsFailureHistory(t *testing.T) {
	v, err := NewVerifier(nil)
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}
	state, _ := v.CaptureState()
	if state.IsRoot() {
		t.Skip("test process is running as root")
	}

	v.Verify(Requirement{Name: "root_only", RequireRoot: true})
	if len(v.Failures()) != 1 {
		t.Errorf("expected 1 recorded failure, got %d", len(v.Failures()))
	}
}

func TestCapability_StringKnownAndUnknown(t *testing.T) {
	if CAP_NET_ADMIN.String() != "CAP_NET_ADMIN" {
		t.Errorf("expected CAP_NET_ADMIN, got %s", CAP_NET_ADMIN.String())
	}
	if Capability(999).String() != "CAP_999" {
		t.Errorf("expected a fallback name for an unknown capability, got %s", Capability(999).String())
	}
}

func TestState_HasCapability(t *testing.T) {
	s := &State{Capabilities: []Capability{CAP_NET_ADMIN, CAP_KILL}}
	if !s.HasCapability(CAP_NET_ADMIN) {
		t.Error("expected HasCapability to find CAP_NET_ADMIN")
	}
	if s.HasCapability(CAP_SYS_ADMIN) {
		t.Error("expected HasCapability to not find an absent capability")
	}
}
