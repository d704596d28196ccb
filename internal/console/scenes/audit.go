package scenes

import (
	"fmt"
	"strings"
	"time"

	"edr-agent/internal/console/styles"

	"edr-agent/internal/audit"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// Verifier is the subset of *audit.Logger the scene needs to check the
// chain without taking a direct dependency on the logger's write path.
type Verifier interface {
	VerifyIntegrity() error
}

// AuditScene lists the most recent audit chain entries and lets the
// operator trigger a full chain verification on demand. Verification
// is manual, not ticked, since walking the whole chain is O(n) and has
// no reason to run every refresh interval.
type AuditScene struct {
	store    auditStore
	verifier Verifier // nil when no HMAC key is configured for this console

	entries  []audit.Entry
	err      string
	verifyMsg string

	width, height int
	cursor        int
	offset        int
	maxRows       int
	loading       bool
	verifying     bool
	lastUpdate    time.Time
}

type auditStore interface {
	QueryAuditEntriesRaw(limit int, descending bool) ([]audit.Entry, error)
}

type auditMsg struct {
	entries []audit.Entry
	err     string
}

type verifyMsg struct {
	err error
}

func NewAuditScene(st auditStore, verifier Verifier) *AuditScene {
	return &AuditScene{store: st, verifier: verifier, loading: true, maxRows: 10}
}

func (a *AuditScene) Init() tea.Cmd {
	return a.fetch()
}

func (a *AuditScene) fetch() tea.Cmd {
	return func() tea.Msg {
		entries, err := a.store.QueryAuditEntriesRaw(200, true)
		if err != nil {
			return auditMsg{err: err.Error()}
		}
		return auditMsg{entries: entries}
	}
}

func (a *AuditScene) verify() tea.Cmd {
	return func() tea.Msg {
		if a.verifier == nil {
			return verifyMsg{err: fmt.Errorf("no audit key configured for this console")}
		}
		return verifyMsg{err: a.verifier.VerifyIntegrity()}
	}
}

func (a *AuditScene) TickCmd() tea.Cmd {
	return tea.Tick(5*time.Second, func(t time.Time) tea.Msg {
		return TickMsg{Scene: "audit", Time: t}
	})
}

func (a *AuditScene) Update(msg tea.Msg) (*AuditScene, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		a.width, a.height = msg.Width, msg.Height
		a.maxRows = max(5, a.height-14)
		return a, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "up", "k":
			if a.cursor > 0 {
				a.cursor--
				if a.cursor < a.offset {
					a.offset = a.cursor
				}
			}
		case "down", "j":
			if a.cursor < len(a.entries)-1 {
				a.cursor++
				if a.cursor >= a.offset+a.maxRows {
					a.offset = a.cursor - a.maxRows + 1
				}
			}
		case "r":
			a.loading = true
			return a, a.fetch()
		case "v":
			a.verifying = true
			a.verifyMsg = ""
			return a, a.verify()
		}
		return a, nil

	case auditMsg:
		a.loading = false
		a.entries = msg.entries
		a.err = msg.err
		a.lastUpdate = time.Now()
		if a.cursor >= len(a.entries) {
			a.cursor = max(0, len(a.entries)-1)
		}
		return a, nil

	case verifyMsg:
		a.verifying = false
		if msg.err != nil {
			a.verifyMsg = fmt.Sprintf("chain verification FAILED: %v", msg.err)
		} else {
			a.verifyMsg = "chain verification OK"
		}
		return a, nil

	case TickMsg:
		if msg.Scene == "audit" {
			return a, a.fetch()
		}
	}
	return a, nil
}

func (a *AuditScene) View() string {
	var b strings.Builder

	b.WriteString(styles.Title.Render("  Audit Log"))
	b.WriteString("\n\n")

	if a.loading && len(a.entries) == 0 {
		b.WriteString(styles.Muted.Render("  Loading audit entries..."))
		return b.String()
	}

	if a.err != "" {
		b.WriteString(styles.StatusError.Render(fmt.Sprintf("  Error: %s", a.err)))
		return b.String()
	}

	if a.verifying {
		b.WriteString(styles.Muted.Render("  Verifying chain..."))
		b.WriteString("\n\n")
	} else if a.verifyMsg != "" {
		style := styles.StatusOK
		if strings.Contains(a.verifyMsg, "FAILED") {
			style = styles.StatusError
		}
		b.WriteString(style.Render("  " + a.verifyMsg))
		b.WriteString("\n\n")
	}

	if len(a.entries) == 0 {
		b.WriteString(styles.Muted.Render("  No audit entries recorded yet."))
		return b.String()
	}

	header := fmt.Sprintf("  %-8s %-20s %-24s %-10s %s", "SEQ", "TIMESTAMP", "ACTION", "ACTOR", "TARGET")
	b.WriteString(styles.TableHeader.Render(header))
	b.WriteString("\n")

	endIdx := min(a.offset+a.maxRows, len(a.entries))
	for i, e := range a.entries[a.offset:endIdx] {
		idx := a.offset + i
		row := a.renderRow(e, idx == a.cursor)
		b.WriteString(row)
		b.WriteString("\n")
	}

	if len(a.entries) > a.maxRows {
		b.WriteString(styles.Muted.Render(fmt.Sprintf("\n  %d-%d of %d (↑↓ scroll, [v] verify chain, [r] refresh)",
			a.offset+1, endIdx, len(a.entries))))
	} else {
		b.WriteString(styles.Muted.Render("\n  [v] Verify chain  [r] Refresh"))
	}

	if !a.lastUpdate.IsZero() {
		b.WriteString(styles.Muted.Render(fmt.Sprintf("  |  Updated: %s", a.lastUpdate.Format("15:04:05"))))
	}

	return b.String()
}

func (a *AuditScene) renderRow(e audit.Entry, selected bool) string {
	row := fmt.Sprintf("  %-8d %-20s %-24s %-10s %s",
		e.Sequence, e.Timestamp.Format("2006-01-02 15:04:05"), truncate(e.Action, 24), truncate(e.Actor, 10), truncate(e.Target, 30))

	if selected {
		return lipgloss.NewStyle().Background(styles.Primary).Foreground(styles.White).Render(row)
	}
	return row
}
