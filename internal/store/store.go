// Package store implements the embedded SQLite persistence layer: the
// events/incidents/audit_log schema, WAL-mode durability tuned for a
// single local writer, and the Store type other packages depend on
// through narrow interfaces (audit.Store, incident.Persister).
//
// Grounded on original_source/persistence/DatabaseManager.cpp/.hpp for
// the schema, pragmas, and prepared-statement shape, and on the
// teacher's internal/storage/migrator.go for the embedded,
// version-ordered migration idiom. modernc.org/sqlite is used instead
// of a cgo sqlite3 binding so the agent binary stays a single static
// executable, matching the rest of the pack's preference for pure-Go
// drivers where one exists.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"edr-agent/internal/audit"
	"edr-agent/internal/incident"
	"edr-agent/internal/schema"

	_ "modernc.org/sqlite"
)

// Store is the mutex-serialized SQLite-backed persistence layer. One
// connection is kept open (SetMaxOpenConns(1)), matching the single
// sqlite3* handle the reference implementation guards with a mutex:
// SQLite only allows one writer at a time regardless, so pooling
// additional connections would just add contention without concurrency.
type Store struct {
	mu  sync.Mutex
	db  *sql.DB
	log *slog.Logger
}

// Open opens (creating if absent) the database at path, enables WAL
// mode and synchronous=NORMAL, and applies every pending migration.
// path may be ":memory:" for tests.
func Open(path string, log *slog.Logger) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}

	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0700); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrOpenFailed, err)
			}
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOpenFailed, err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %v", ErrOpenFailed, err)
	}
	if _, err := db.Exec("PRAGMA synchronous=NORMAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %v", ErrOpenFailed, err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, err
	}

	log.Info("store opened", slog.String("path", path))
	return &Store{db: db, log: log}, nil
}

// Close closes the underlying connection.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

// --- Events ---

// InsertEvent persists one event alongside the risk score attributed to
// it at the moment it was observed.
func (s *Store) InsertEvent(event schema.Event, riskScore int) error {
	detailsJSON, err := json.Marshal(event.Metadata)
	if err != nil {
		return wrapErr("InsertEvent", "events", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.Exec(
		`INSERT INTO events (timestamp, event_type, pid, process_name, risk_score, details)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		event.TimestampISO8601(), string(event.Kind), event.PID, event.ProcessName, riskScore, string(detailsJSON),
	)
	if err != nil {
		return wrapErr("InsertEvent", "events", err)
	}
	return nil
}

// EventRow is one row returned by QueryEventsJSON, pre-serialized to the
// shape operator tooling expects.
type EventRow struct {
	Timestamp   string            `json:"timestamp"`
	EventType   string            `json:"event_type"`
	PID         int               `json:"pid"`
	ProcessName string            `json:"process_name"`
	RiskScore   int               `json:"risk_score"`
	Details     map[string]string `json:"details,omitempty"`
}

// QueryEventsJSON returns the most recent events matching whereClause
// (a raw SQL fragment with no leading "WHERE", or empty for all rows),
// newest first, as JSON-encoded strings.
func (s *Store) QueryEventsJSON(whereClause string, limit, offset int) ([]string, error) {
	sqlText := "SELECT timestamp, event_type, pid, process_name, risk_score, details FROM events"
	if whereClause != "" {
		sqlText += " WHERE " + whereClause
	}
	sqlText += fmt.Sprintf(" ORDER BY id DESC LIMIT %d OFFSET %d", limit, offset)

	s.mu.Lock()
	rows, err := s.db.Query(sqlText)
	s.mu.Unlock()
	if err != nil {
		return nil, wrapErr("QueryEventsJSON", "events", err)
	}
	defer rows.Close()

	var results []string
	for rows.Next() {
		var row EventRow
		var details string
		if err := rows.Scan(&row.Timestamp, &row.EventType, &row.PID, &row.ProcessName, &row.RiskScore, &details); err != nil {
			return nil, wrapErr("QueryEventsJSON", "events", err)
		}
		if details != "" {
			_ = json.Unmarshal([]byte(details), &row.Details)
		}
		encoded, err := json.Marshal(row)
		if err != nil {
			return nil, wrapErr("QueryEventsJSON", "events", err)
		}
		results = append(results, string(encoded))
	}
	return results, rows.Err()
}

// EventCount returns the total number of persisted events.
func (s *Store) EventCount() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var count int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM events").Scan(&count); err != nil {
		return 0, wrapErr("EventCount", "events", err)
	}
	return count, nil
}

// --- Incidents ---

// UpsertIncident implements incident.Persister: a full-row replace of
// inc, serializing its four slice fields as JSON columns.
func (s *Store) UpsertIncident(inc incident.Incident) error {
	eventsJSON, err := json.Marshal(inc.AssociatedEvents)
	if err != nil {
		return wrapErr("UpsertIncident", "incidents", err)
	}
	riskJSON, err := json.Marshal(inc.RiskTimeline)
	if err != nil {
		return wrapErr("UpsertIncident", "incidents", err)
	}
	actionsJSON, err := json.Marshal(inc.ContainmentActions)
	if err != nil {
		return wrapErr("UpsertIncident", "incidents", err)
	}
	historyJSON, err := json.Marshal(inc.StateHistory)
	if err != nil {
		return wrapErr("UpsertIncident", "incidents", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.Exec(
		`INSERT OR REPLACE INTO incidents
		 (uuid, pid, process_name, state, created_at, updated_at,
		  associated_events, risk_timeline, containment_actions, state_history)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		inc.UUID, inc.PID, inc.ProcessName, string(inc.State),
		schema.FormatTimestamp(inc.CreatedAt), schema.FormatTimestamp(inc.UpdatedAt),
		string(eventsJSON), string(riskJSON), string(actionsJSON), string(historyJSON),
	)
	if err != nil {
		return wrapErr("UpsertIncident", "incidents", err)
	}
	return nil
}

// LoadIncident loads one incident by uuid, or ErrNotFound.
func (s *Store) LoadIncident(uuid string) (incident.Incident, error) {
	s.mu.Lock()
	row := s.db.QueryRow(
		`SELECT uuid, pid, process_name, state, created_at, updated_at,
		        associated_events, risk_timeline, containment_actions, state_history
		 FROM incidents WHERE uuid = ?`, uuid)
	inc, err := scanIncident(row.Scan)
	s.mu.Unlock()

	if err == sql.ErrNoRows {
		return incident.Incident{}, ErrNotFound
	}
	if err != nil {
		return incident.Incident{}, wrapErr("LoadIncident", "incidents", err)
	}
	return inc, nil
}

// LoadAllIncidents loads every persisted incident, in no particular
// order; callers needing a specific order should sort the result.
func (s *Store) LoadAllIncidents() ([]incident.Incident, error) {
	s.mu.Lock()
	rows, err := s.db.Query(
		`SELECT uuid, pid, process_name, state, created_at, updated_at,
		        associated_events, risk_timeline, containment_actions, state_history
		 FROM incidents`)
	s.mu.Unlock()
	if err != nil {
		return nil, wrapErr("LoadAllIncidents", "incidents", err)
	}
	defer rows.Close()

	var out []incident.Incident
	for rows.Next() {
		inc, err := scanIncident(rows.Scan)
		if err != nil {
			return nil, wrapErr("LoadAllIncidents", "incidents", err)
		}
		out = append(out, inc)
	}
	return out, rows.Err()
}

func scanIncident(scan func(dest ...any) error) (incident.Incident, error) {
	var inc incident.Incident
	var state, createdAt, updatedAt, eventsJSON, riskJSON, actionsJSON, historyJSON string

	if err := scan(&inc.UUID, &inc.PID, &inc.ProcessName, &state, &createdAt, &updatedAt,
		&eventsJSON, &riskJSON, &actionsJSON, &historyJSON); err != nil {
		return incident.Incident{}, err
	}

	inc.State = incident.State(state)
	if t, err := schema.ParseTimestamp(createdAt); err == nil {
		inc.CreatedAt = t
	}
	if t, err := schema.ParseTimestamp(updatedAt); err == nil {
		inc.UpdatedAt = t
	}
	_ = json.Unmarshal([]byte(eventsJSON), &inc.AssociatedEvents)
	_ = json.Unmarshal([]byte(riskJSON), &inc.RiskTimeline)
	_ = json.Unmarshal([]byte(actionsJSON), &inc.ContainmentActions)
	_ = json.Unmarshal([]byte(historyJSON), &inc.StateHistory)

	return inc, nil
}

// --- Status ---

// StatusSnapshot is the store-derived subset of the shared-status
// record: the counters the status writer and console read on a cadence.
type StatusSnapshot struct {
	ActiveIncidentCount int
	TotalEventCount     int
	HighestRiskScore    int
}

// StatusSnapshot computes the current counters in three queries under
// one lock so the numbers are mutually consistent.
func (s *Store) StatusSnapshot() (StatusSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var snap StatusSnapshot
	if err := s.db.QueryRow("SELECT COUNT(*) FROM events").Scan(&snap.TotalEventCount); err != nil {
		return StatusSnapshot{}, wrapErr("StatusSnapshot", "events", err)
	}
	if err := s.db.QueryRow("SELECT COALESCE(MAX(risk_score), 0) FROM events").Scan(&snap.HighestRiskScore); err != nil {
		return StatusSnapshot{}, wrapErr("StatusSnapshot", "events", err)
	}
	if err := s.db.QueryRow("SELECT COUNT(*) FROM incidents WHERE state != 'CLOSED'").Scan(&snap.ActiveIncidentCount); err != nil {
		return StatusSnapshot{}, wrapErr("StatusSnapshot", "incidents", err)
	}
	return snap, nil
}

// --- Audit log ---
//
// InsertAuditEntry and QueryAuditEntriesRaw implement audit.Store.

// InsertAuditEntry persists one audit chain entry.
func (s *Store) InsertAuditEntry(e audit.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		`INSERT INTO audit_log (timestamp, action, actor, target, details, prev_hash, entry_hash)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		schema.FormatTimestamp(e.Timestamp), e.Action, e.Actor, e.Target, e.Details, e.PrevHash, e.EntryHash,
	)
	if err != nil {
		return wrapErr("InsertAuditEntry", "audit_log", err)
	}
	return nil
}

// QueryAuditEntriesRaw returns audit entries ordered by sequence_id
// (descending when descending is true), limited to limit rows (0 means
// unlimited).
func (s *Store) QueryAuditEntriesRaw(limit int, descending bool) ([]audit.Entry, error) {
	sqlText := "SELECT sequence_id, timestamp, action, actor, target, details, prev_hash, entry_hash FROM audit_log"
	if descending {
		sqlText += " ORDER BY sequence_id DESC"
	} else {
		sqlText += " ORDER BY sequence_id ASC"
	}
	if limit > 0 {
		sqlText += fmt.Sprintf(" LIMIT %d", limit)
	}

	s.mu.Lock()
	rows, err := s.db.Query(sqlText)
	s.mu.Unlock()
	if err != nil {
		return nil, wrapErr("QueryAuditEntriesRaw", "audit_log", err)
	}
	defer rows.Close()

	var out []audit.Entry
	for rows.Next() {
		var e audit.Entry
		var ts string
		if err := rows.Scan(&e.Sequence, &ts, &e.Action, &e.Actor, &e.Target, &e.Details, &e.PrevHash, &e.EntryHash); err != nil {
			return nil, wrapErr("QueryAuditEntriesRaw", "audit_log", err)
		}
		if t, err := schema.ParseTimestamp(ts); err == nil {
			e.Timestamp = t
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// AuditEntryCount returns the total number of audit entries.
func (s *Store) AuditEntryCount() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var count int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM audit_log").Scan(&count); err != nil {
		return 0, wrapErr("AuditEntryCount", "audit_log", err)
	}
	return count, nil
}

// Path reports whether the store is backed by an on-disk file versus
// :memory:, used by cmd/edr-agent to decide whether to wire ImmutableGuard.
func Path(dsn string) (path string, onDisk bool) {
	if dsn == ":memory:" || strings.TrimSpace(dsn) == "" {
		return dsn, false
	}
	return dsn, true
}
