// Package audit implements the tamper-evident audit log: an
// HMAC-SHA256 hash chain over every RiskThresholdExceeded,
// IncidentStateChange, and ContainmentAction event, persisted through
// the store and independently re-verifiable.
//
// Grounded on the teacher's internal/security/audit/audit.go
// (AuditEntry.Sign/Verify via hmac.Equal, sequence counter, HMAC key
// load-or-generate with 0400 perms) but DEVIATES from both the teacher
// and original_source/compliance/AuditLogger.cpp in chain semantics:
// the tip only advances after a successful store write (a failed write
// must not poison the chain), and the canonical hash input is the exact
// pipe-joined field list spec.md §4.7 specifies, not the teacher's
// per-field sha256 accumulation.
package audit

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"edr-agent/internal/schema"
)

// GenesisHash is the literal chain-tip value before any entry exists.
const GenesisHash = "GENESIS"

// Entry is one row of the audit chain.
type Entry struct {
	Sequence  uint64    `json:"sequence"`
	Timestamp time.Time `json:"timestamp"`
	Action    string    `json:"action"`
	Actor     string    `json:"actor"`
	Target    string    `json:"target"`
	Details   string    `json:"details"`
	PrevHash  string    `json:"prev_hash"`
	EntryHash string    `json:"entry_hash"`
}

// canonical joins the signed fields with a single ASCII '|', in the
// exact order spec.md §4.7 step 4 specifies.
func canonical(tsISO8601, action, actor, target, details, prevHash string) string {
	return strings.Join([]string{tsISO8601, action, actor, target, details, prevHash}, "|")
}

// computeEntryHash computes HMAC-SHA256(key, canonical(...)).
func computeEntryHash(key []byte, tsISO8601, action, actor, target, details, prevHash string) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(canonical(tsISO8601, action, actor, target, details, prevHash)))
	return hex.EncodeToString(mac.Sum(nil))
}

// verifyEntryHash reports whether entry.EntryHash matches what HMAC-SHA256
// over its canonical fields would produce under key.
func verifyEntryHash(key []byte, e Entry) bool {
	want := computeEntryHash(key, schema.FormatTimestamp(e.Timestamp), e.Action, e.Actor, e.Target, e.Details, e.PrevHash)
	return hmac.Equal([]byte(want), []byte(e.EntryHash))
}
