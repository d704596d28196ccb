package audit

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"edr-agent/internal/bus"
	"edr-agent/internal/schema"
)

// ErrTamperDetected is returned by VerifyIntegrity when a link in the
// chain fails to reproduce.
var ErrTamperDetected = errors.New("audit: tamper detected")

// Store is the subset of the persistence store the logger needs.
type Store interface {
	InsertAuditEntry(Entry) error
	// QueryAuditEntriesRaw returns entries ordered by sequence; when
	// descending is true, newest first.
	QueryAuditEntriesRaw(limit int, descending bool) ([]Entry, error)
}

// Logger is the tamper-evident audit logger: one HMAC-SHA256 chain,
// one writer at a time.
type Logger struct {
	mu       sync.Mutex
	store    Store
	key      []byte
	tip      string
	sequence uint64
	log      *slog.Logger
	now      func() time.Time
}

// NewLogger constructs a Logger bound to store and key, recovering the
// chain tip from the most recent persisted entry. An empty store starts
// the chain at GenesisHash.
func NewLogger(store Store, key []byte, log *slog.Logger) (*Logger, error) {
	if log == nil {
		log = slog.Default()
	}
	l := &Logger{
		store: store,
		key:   key,
		tip:   GenesisHash,
		log:   log,
		now:   time.Now,
	}

	latest, err := store.QueryAuditEntriesRaw(1, true)
	if err != nil {
		return nil, fmt.Errorf("audit: failed to recover chain tip: %w", err)
	}
	if len(latest) > 0 {
		l.tip = latest[0].EntryHash
		l.sequence = latest[0].Sequence
	}

	return l, nil
}

// LoadOrGenerateKey loads a 32-byte HMAC key from path, or generates and
// persists one with 0400 permissions if absent. Grounded on the
// teacher's loadOrGenerateHMACKey.
func LoadOrGenerateKey(path string) ([]byte, error) {
	if data, err := os.ReadFile(path); err == nil && len(data) == 32 {
		return data, nil
	}

	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, key, 0400); err != nil {
		return nil, err
	}
	return key, nil
}

// LogAction appends one entry to the chain. details is JSON-encoded
// before hashing/storage. On a failed store write the tip is NOT
// advanced, so the next call retries from the same prev_hash — the
// chain must never be poisoned by a write it couldn't actually persist.
func (l *Logger) LogAction(action, actor, target string, details map[string]string) error {
	detailsJSON, err := json.Marshal(details)
	if err != nil {
		return fmt.Errorf("audit: failed to encode details: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	ts := l.now().UTC()
	tsISO := schema.FormatTimestamp(ts)
	prevHash := l.tip

	entry := Entry{
		Sequence:  l.sequence + 1,
		Timestamp: ts,
		Action:    action,
		Actor:     actor,
		Target:    target,
		Details:   string(detailsJSON),
		PrevHash:  prevHash,
		EntryHash: computeEntryHash(l.key, tsISO, action, actor, target, string(detailsJSON), prevHash),
	}

	if err := l.store.InsertAuditEntry(entry); err != nil {
		l.log.Error("failed to persist audit entry", slog.String("action", action), slog.Any("error", err))
		return fmt.Errorf("audit: failed to persist entry: %w", err)
	}

	l.tip = entry.EntryHash
	l.sequence = entry.Sequence
	return nil
}

// Subscribe registers the logger against RiskThresholdExceeded,
// IncidentStateChange, and ContainmentAction, translating each into a
// log_action call whose details is the event's metadata.
func (l *Logger) Subscribe(b *bus.Bus) {
	b.Subscribe(schema.KindRiskThresholdExceeded, l.onEvent)
	b.Subscribe(schema.KindIncidentStateChange, l.onEvent)
	b.Subscribe(schema.KindContainmentAction, l.onEvent)
}

func (l *Logger) onEvent(event schema.Event) {
	target := ""
	if event.PID != 0 {
		target = fmt.Sprintf("pid:%d", event.PID)
	}
	if err := l.LogAction(string(event.Kind), event.ProcessName, target, event.Metadata); err != nil {
		l.log.Error("failed to audit-log event", slog.String("kind", string(event.Kind)), slog.Any("error", err))
	}
}

// Started records the AUDIT_STARTED lifecycle marker.
func (l *Logger) Started() error {
	return l.LogAction("AUDIT_STARTED", "system", "", nil)
}

// Stopped records the AUDIT_STOPPED lifecycle marker.
func (l *Logger) Stopped() error {
	return l.LogAction("AUDIT_STOPPED", "system", "", nil)
}

// VerifyIntegrity re-walks the entire chain ascending by sequence,
// recomputing each entry's hash and checking the prev_hash linkage.
// Ported from spec.md §4.7's verify_integrity.
func (l *Logger) VerifyIntegrity() error {
	entries, err := l.store.QueryAuditEntriesRaw(0, false)
	if err != nil {
		return fmt.Errorf("audit: failed to read entries: %w", err)
	}

	expectedPrev := GenesisHash
	for _, e := range entries {
		if e.PrevHash != expectedPrev {
			return fmt.Errorf("%w: sequence %d: prev_hash mismatch (expected %s, got %s)",
				ErrTamperDetected, e.Sequence, expectedPrev, e.PrevHash)
		}
		if !verifyEntryHash(l.key, e) {
			return fmt.Errorf("%w: sequence %d: entry_hash does not reproduce", ErrTamperDetected, e.Sequence)
		}
		expectedPrev = e.EntryHash
	}

	return nil
}
