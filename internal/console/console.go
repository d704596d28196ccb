// Package console implements the operator TUI for cmd/edr-console: a
// read-only terminal view onto the shared-status record and the
// agent's store, standing in for original_source's Qt GUI without
// opening any IPC transport of its own. Grounded on the teacher's
// internal/tui package (Model/Update/View split, scene switching on
// number keys and Tab, per-scene ticking so an inactive scene never
// does work) adapted to read the store and shared-status file
// directly rather than over HTTP, since this agent has no API server.
package console

import (
	"fmt"
	"strings"

	"edr-agent/internal/audit"
	"edr-agent/internal/console/scenes"
	"edr-agent/internal/console/styles"
	"edr-agent/internal/status"
	"edr-agent/internal/store"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// Scene identifies which view is active.
type Scene int

const (
	SceneDashboard Scene = iota
	SceneIncidents
	SceneAudit
	sceneCount
)

// Model is the top-level bubbletea model for the console.
type Model struct {
	scene Scene

	dashboard *scenes.DashboardScene
	incidents *scenes.IncidentsScene
	audit     *scenes.AuditScene

	width, height int
	quitting      bool
}

// New constructs a Model. statusReader may be nil if the agent's
// shared-status file doesn't exist yet; verifier may be nil if no
// audit HMAC key was supplied to the console, in which case chain
// verification is disabled rather than the console failing to start.
func New(statusReader *status.Reader, st *store.Store, verifier scenes.Verifier) *Model {
	return &Model{
		scene:     SceneDashboard,
		dashboard: scenes.NewDashboardScene(statusReader, st),
		incidents: scenes.NewIncidentsScene(st),
		audit:     scenes.NewAuditScene(st, verifier),
	}
}

func (m *Model) Init() tea.Cmd {
	return tea.Batch(m.dashboard.Init(), m.activeTickCmd())
}

func (m *Model) activeTickCmd() tea.Cmd {
	switch m.scene {
	case SceneDashboard:
		return m.dashboard.TickCmd()
	case SceneIncidents:
		return m.incidents.TickCmd()
	case SceneAudit:
		return m.audit.TickCmd()
	default:
		return nil
	}
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit

		case "1":
			return m.switchTo(SceneDashboard)
		case "2":
			return m.switchTo(SceneIncidents)
		case "3":
			return m.switchTo(SceneAudit)

		case "tab":
			return m.switchTo((m.scene + 1) % sceneCount)
		}

	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.dashboard, _ = m.dashboard.Update(msg)
		m.incidents, _ = m.incidents.Update(msg)
		m.audit, _ = m.audit.Update(msg)
		return m, nil

	case scenes.TickMsg:
		var cmd tea.Cmd
		switch m.scene {
		case SceneDashboard:
			m.dashboard, cmd = m.dashboard.Update(msg)
			cmds = append(cmds, cmd, m.dashboard.TickCmd())
		case SceneIncidents:
			m.incidents, cmd = m.incidents.Update(msg)
			cmds = append(cmds, cmd, m.incidents.TickCmd())
		case SceneAudit:
			m.audit, cmd = m.audit.Update(msg)
			cmds = append(cmds, cmd, m.audit.TickCmd())
		}
		return m, tea.Batch(cmds...)
	}

	var cmd tea.Cmd
	switch m.scene {
	case SceneDashboard:
		m.dashboard, cmd = m.dashboard.Update(msg)
	case SceneIncidents:
		m.incidents, cmd = m.incidents.Update(msg)
	case SceneAudit:
		m.audit, cmd = m.audit.Update(msg)
	}
	if cmd != nil {
		cmds = append(cmds, cmd)
	}
	return m, tea.Batch(cmds...)
}

func (m *Model) switchTo(s Scene) (tea.Model, tea.Cmd) {
	if s == m.scene {
		return m, nil
	}
	m.scene = s
	var initCmd tea.Cmd
	switch s {
	case SceneDashboard:
		initCmd = m.dashboard.Init()
	case SceneIncidents:
		initCmd = m.incidents.Init()
	case SceneAudit:
		initCmd = m.audit.Init()
	}
	return m, tea.Batch(initCmd, m.activeTickCmd())
}

func (m *Model) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(m.renderHeader())
	b.WriteString("\n")

	switch m.scene {
	case SceneDashboard:
		b.WriteString(m.dashboard.View())
	case SceneIncidents:
		b.WriteString(m.incidents.View())
	case SceneAudit:
		b.WriteString(m.audit.View())
	}

	b.WriteString("\n")
	b.WriteString(m.renderFooter())
	return b.String()
}

func (m *Model) renderHeader() string {
	tabs := []struct {
		name  string
		key   string
		scene Scene
	}{
		{"Dashboard", "1", SceneDashboard},
		{"Incidents", "2", SceneIncidents},
		{"Audit", "3", SceneAudit},
	}

	var tabViews []string
	for _, tab := range tabs {
		label := fmt.Sprintf(" %s %s ", tab.key, tab.name)
		if tab.scene == m.scene {
			tabViews = append(tabViews, styles.TabActive.Render(label))
		} else {
			tabViews = append(tabViews, styles.TabInactive.Render(label))
		}
	}

	tabBar := lipgloss.JoinHorizontal(lipgloss.Top, tabViews...)
	return lipgloss.NewStyle().
		BorderBottom(true).
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(styles.MutedColor).
		Width(m.width).
		Render(tabBar)
}

func (m *Model) renderFooter() string {
	return styles.Help.Render(" [1-3] Switch tabs  [Tab] Next tab  [↑↓/jk] Navigate  [r] Refresh  [q] Quit ")
}

// Run opens the shared-status file and store at the given paths and
// runs the console until the operator quits. hmacKey may be nil to
// disable chain verification.
func Run(statusPath, storePath string, hmacKey []byte) error {
	st, err := store.Open(storePath, nil)
	if err != nil {
		return fmt.Errorf("console: opening store: %w", err)
	}
	defer st.Close()

	var reader *status.Reader
	if r, err := status.NewReader(statusPath); err == nil {
		reader = r
		defer reader.Close()
	}

	var verifier scenes.Verifier
	if len(hmacKey) > 0 {
		if logger, err := audit.NewLogger(st, hmacKey, nil); err == nil {
			verifier = logger
		}
	}

	m := New(reader, st, verifier)
	p := tea.NewProgram(m, tea.WithAltScreen())
	_, err = p.Run()
	return err
}
