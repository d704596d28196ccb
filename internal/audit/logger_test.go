package audit

import (
	"errors"
	"sort"
	"testing"

	"edr-agent/internal/schema"
)

type fakeStore struct {
	entries []Entry
	failNextInsert bool
}

func (f *fakeStore) InsertAuditEntry(e Entry) error {
	if f.failNextInsert {
		f.failNextInsert = false
		return errors.New("simulated write failure")
	}
	f.entries = append(f.entries, e)
	return nil
}

func (f *fakeStore) QueryAuditEntriesRaw(limit int, descending bool) ([]Entry, error) {
	out := append([]Entry(nil), f.entries...)
	sort.Slice(out, func(i, j int) bool {
		if descending {
			return out[i].Sequence > out[j].Sequence
		}
		return out[i].Sequence < out[j].Sequence
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func testKey() []byte {
	return []byte("0123456789abcdef0123456789abcdef")
}

func TestLogger_FirstEntryChainsFromGenesis(t *testing.T) {
	store := &fakeStore{}
	l, err := NewLogger(store, testKey(), nil)
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}

	if err := l.LogAction("TEST_ACTION", "tester", "pid:1", map[string]string{"k": "v"}); err != nil {
		t.Fatalf("LogAction: %v", err)
	}

	if len(store.entries) != 1 {
		t.Fatalf("expected 1 persisted entry, got %d", len(store.entries))
	}
	if store.entries[0].PrevHash != GenesisHash {
		t.Errorf("first entry prev_hash = %q, want %q", store.entries[0].PrevHash, GenesisHash)
	}
	if store.entries[0].Sequence != 1 {
		t.Errorf("first entry sequence = %d, want 1", store.entries[0].Sequence)
	}
}

func TestLogger_ChainLinksAcrossEntries(t *testing.T) {
	store := &fakeStore{}
	l, _ := NewLogger(store, testKey(), nil)

	l.LogAction("A", "x", "", nil)
	l.LogAction("B", "x", "", nil)
	l.LogAction("C", "x", "", nil)

	if store.entries[1].PrevHash != store.entries[0].EntryHash {
		t.Error("entry 2's prev_hash must equal entry 1's entry_hash")
	}
	if store.entries[2].PrevHash != store.entries[1].EntryHash {
		t.Error("entry 3's prev_hash must equal entry 2's entry_hash")
	}
}

func TestLogger_FailedWriteDoesNotAdvanceTip(t *testing.T) {
	store := &fakeStore{}
	l, _ := NewLogger(store, testKey(), nil)

	l.LogAction("A", "x", "", nil)
	tipAfterA := l.tip

	store.failNextInsert = true
	if err := l.LogAction("B", "x", "", nil); err == nil {
		t.Fatal("expected LogAction to surface the store's write error")
	}
	if l.tip != tipAfterA {
		t.Error("a failed write must not advance the chain tip")
	}

	if err := l.LogAction("B-retry", "x", "", nil); err != nil {
		t.Fatalf("retry after failure should succeed: %v", err)
	}
	if store.entries[len(store.entries)-1].PrevHash != tipAfterA {
		t.Error("the retried entry should chain from the pre-failure tip, not a poisoned one")
	}
}

func TestLogger_VerifyIntegrityPassesOnUntamperedChain(t *testing.T) {
	store := &fakeStore{}
	l, _ := NewLogger(store, testKey(), nil)
	l.LogAction("A", "x", "", nil)
	l.LogAction("B", "x", "", nil)
	l.LogAction("C", "x", "", nil)

	if err := l.VerifyIntegrity(); err != nil {
		t.Errorf("VerifyIntegrity on an untampered chain failed: %v", err)
	}
}

func TestLogger_VerifyIntegrityDetectsTamperedDetails(t *testing.T) {
	store := &fakeStore{}
	l, _ := NewLogger(store, testKey(), nil)
	l.LogAction("A", "x", "", nil)
	l.LogAction("B", "x", "", nil)

	store.entries[0].Details = `{"tampered":"true"}`

	if err := l.VerifyIntegrity(); !errors.Is(err, ErrTamperDetected) {
		t.Errorf("VerifyIntegrity = %v, want ErrTamperDetected", err)
	}
}

func TestLogger_VerifyIntegrityDetectsBrokenLink(t *testing.T) {
	store := &fakeStore{}
	l, _ := NewLogger(store, testKey(), nil)
	l.LogAction("A", "x", "", nil)
	l.LogAction("B", "x", "", nil)

	store.entries[1].PrevHash = "not-the-real-prev-hash"

	if err := l.VerifyIntegrity(); !errors.Is(err, ErrTamperDetected) {
		t.Errorf("VerifyIntegrity = %v, want ErrTamperDetected", err)
	}
}

func TestLogger_RecoversTipFromExistingChain(t *testing.T) {
	store := &fakeStore{}
	first, _ := NewLogger(store, testKey(), nil)
	first.LogAction("A", "x", "", nil)
	first.LogAction("B", "x", "", nil)

	second, err := NewLogger(store, testKey(), nil)
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	if second.tip != first.tip {
		t.Errorf("recovered tip = %q, want %q", second.tip, first.tip)
	}
	if second.sequence != 2 {
		t.Errorf("recovered sequence = %d, want 2", second.sequence)
	}
}

func TestLogger_OnEventTranslatesToLogAction(t *testing.T) {
	store := &fakeStore{}
	l, _ := NewLogger(store, testKey(), nil)

	l.onEvent(schema.NewEvent(schema.KindIncidentStateChange, 99, "svc.exe", map[string]string{
		"from_state": "NEW",
		"to_state":   "INVESTIGATING",
	}))

	if len(store.entries) != 1 {
		t.Fatalf("expected one audit entry from onEvent, got %d", len(store.entries))
	}
	if store.entries[0].Action != string(schema.KindIncidentStateChange) {
		t.Errorf("action = %q, want %q", store.entries[0].Action, schema.KindIncidentStateChange)
	}
	if store.entries[0].Target != "pid:99" {
		t.Errorf("target = %q, want pid:99", store.entries[0].Target)
	}
}
