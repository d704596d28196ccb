package audit

import (
	"errors"
	"log/slog"
	"os/exec"
	"sync"
)

// Errors surfaced by ImmutableGuard when the host lacks the tooling or
// capabilities to honor a hardening request. Grounded on the teacher's
// internal/security/audit/immutable.go error set, trimmed to the
// operations ImmutableGuard actually performs.
var (
	ErrChattrNotFound  = errors.New("audit: chattr command not found")
	ErrInsufficientCap = errors.New("audit: insufficient capability for immutable attribute")
)

// ImmutableGuard applies Linux chattr(1) append-only/immutable
// attributes to the audit database file, adapted from the teacher's
// ImmutableManager but scoped to a single path (the sqlite database)
// rather than a rotating set of log files: this package's chain lives
// in one file the store owns, not daily-rotated plaintext logs.
type ImmutableGuard struct {
	mu         sync.Mutex
	chattrPath string
	log        *slog.Logger
	active     bool
}

// NewImmutableGuard resolves chattr on PATH. Returns ErrChattrNotFound
// if unavailable; callers should treat that as "hardening disabled",
// not a fatal error — most container and CI environments lack it.
func NewImmutableGuard(log *slog.Logger) (*ImmutableGuard, error) {
	if log == nil {
		log = slog.Default()
	}
	path, err := exec.LookPath("chattr")
	if err != nil {
		return nil, ErrChattrNotFound
	}
	return &ImmutableGuard{chattrPath: path, log: log}, nil
}

// SetAppendOnly marks path +a: writes may append but existing bytes
// can't be altered or truncated. Call this once the audit database is
// open and the logger is running.
func (g *ImmutableGuard) SetAppendOnly(path string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := exec.Command(g.chattrPath, "+a", path).Run(); err != nil {
		g.log.Warn("failed to set append-only attribute", slog.String("path", path), slog.Any("error", err))
		return ErrInsufficientCap
	}
	g.active = true
	return nil
}

// ClearAppendOnly removes +a, needed before any write path that isn't a
// pure append (e.g. vacuuming or closing the database cleanly).
func (g *ImmutableGuard) ClearAppendOnly(path string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := exec.Command(g.chattrPath, "-a", path).Run(); err != nil {
		g.log.Warn("failed to clear append-only attribute", slog.String("path", path), slog.Any("error", err))
		return ErrInsufficientCap
	}
	g.active = false
	return nil
}

// SetImmutable marks path +i: fully read-only at the filesystem level,
// for a finalized export snapshot (edr-auditctl export) rather than the
// live database.
func (g *ImmutableGuard) SetImmutable(path string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := exec.Command(g.chattrPath, "+i", path).Run(); err != nil {
		g.log.Warn("failed to set immutable attribute", slog.String("path", path), slog.Any("error", err))
		return ErrInsufficientCap
	}
	return nil
}

// Active reports whether append-only is currently engaged.
func (g *ImmutableGuard) Active() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.active
}
