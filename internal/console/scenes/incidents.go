package scenes

import (
	"fmt"
	"strings"
	"time"

	"edr-agent/internal/console/styles"
	"edr-agent/internal/incident"
	"edr-agent/internal/store"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// IncidentsScene lists every tracked incident from the store, newest
// first, navigable with the same up/down/page keys as the teacher's
// events scene.
type IncidentsScene struct {
	store *store.Store

	incidents []incident.Incident
	err       string

	width, height int
	cursor        int
	offset        int
	maxRows       int
	loading       bool
	lastUpdate    time.Time
}

type incidentsMsg struct {
	incidents []incident.Incident
	err       string
}

func NewIncidentsScene(st *store.Store) *IncidentsScene {
	return &IncidentsScene{store: st, loading: true, maxRows: 10}
}

func (s *IncidentsScene) Init() tea.Cmd {
	return s.fetch()
}

func (s *IncidentsScene) fetch() tea.Cmd {
	return func() tea.Msg {
		incidents, err := s.store.LoadAllIncidents()
		if err != nil {
			return incidentsMsg{err: err.Error()}
		}
		// newest first
		for i, j := 0, len(incidents)-1; i < j; i, j = i+1, j-1 {
			incidents[i], incidents[j] = incidents[j], incidents[i]
		}
		return incidentsMsg{incidents: incidents}
	}
}

func (s *IncidentsScene) TickCmd() tea.Cmd {
	return tea.Tick(5*time.Second, func(t time.Time) tea.Msg {
		return TickMsg{Scene: "incidents", Time: t}
	})
}

func (s *IncidentsScene) Update(msg tea.Msg) (*IncidentsScene, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		s.width, s.height = msg.Width, msg.Height
		s.maxRows = max(5, s.height-12)
		return s, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "up", "k":
			if s.cursor > 0 {
				s.cursor--
				if s.cursor < s.offset {
					s.offset = s.cursor
				}
			}
		case "down", "j":
			if s.cursor < len(s.incidents)-1 {
				s.cursor++
				if s.cursor >= s.offset+s.maxRows {
					s.offset = s.cursor - s.maxRows + 1
				}
			}
		case "r":
			s.loading = true
			return s, s.fetch()
		}
		return s, nil

	case incidentsMsg:
		s.loading = false
		s.incidents = msg.incidents
		s.err = msg.err
		s.lastUpdate = time.Now()
		if s.cursor >= len(s.incidents) {
			s.cursor = max(0, len(s.incidents)-1)
		}
		return s, nil

	case TickMsg:
		if msg.Scene == "incidents" {
			return s, s.fetch()
		}
	}
	return s, nil
}

func (s *IncidentsScene) View() string {
	var b strings.Builder

	b.WriteString(styles.Title.Render("  Incidents"))
	b.WriteString("\n\n")

	if s.loading && len(s.incidents) == 0 {
		b.WriteString(styles.Muted.Render("  Loading incidents..."))
		return b.String()
	}

	if s.err != "" {
		b.WriteString(styles.StatusError.Render(fmt.Sprintf("  Error: %s", s.err)))
		return b.String()
	}

	if len(s.incidents) == 0 {
		b.WriteString(styles.Muted.Render("  No incidents tracked yet."))
		return b.String()
	}

	header := fmt.Sprintf("  %-36s %-12s %-8s %-20s %s", "UUID", "STATE", "PID", "PROCESS", "UPDATED")
	b.WriteString(styles.TableHeader.Render(header))
	b.WriteString("\n")

	endIdx := min(s.offset+s.maxRows, len(s.incidents))
	for i, inc := range s.incidents[s.offset:endIdx] {
		idx := s.offset + i
		row := s.renderRow(inc, idx == s.cursor)
		b.WriteString(row)
		b.WriteString("\n")
	}

	if len(s.incidents) > s.maxRows {
		b.WriteString(styles.Muted.Render(fmt.Sprintf("\n  %d-%d of %d (↑↓ scroll, [r] refresh)",
			s.offset+1, endIdx, len(s.incidents))))
	} else {
		b.WriteString(styles.Muted.Render("\n  [r] Refresh"))
	}

	if !s.lastUpdate.IsZero() {
		b.WriteString(styles.Muted.Render(fmt.Sprintf("  |  Updated: %s", s.lastUpdate.Format("15:04:05"))))
	}

	return b.String()
}

func (s *IncidentsScene) renderRow(inc incident.Incident, selected bool) string {
	state := styles.StateStyle(string(inc.State)).Render(fmt.Sprintf("%-12s", inc.State))
	row := fmt.Sprintf("  %-36s %s %-8d %-20s %s",
		inc.UUID, state, inc.PID, truncate(inc.ProcessName, 20), inc.UpdatedAt.Format("15:04:05"))

	if selected {
		return lipgloss.NewStyle().Background(styles.Primary).Foreground(styles.White).Render(row)
	}
	return row
}

// Selected returns the incident currently under the cursor, if any.
func (s *IncidentsScene) Selected() (incident.Incident, bool) {
	if s.cursor < 0 || s.cursor >= len(s.incidents) {
		return incident.Incident{}, false
	}
	return s.incidents[s.cursor], true
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
