// Package scenes provides the TUI scenes for cmd/edr-console.
package scenes

import (
	"fmt"
	"strings"
	"time"

	"edr-agent/internal/console/styles"
	"edr-agent/internal/status"
	"edr-agent/internal/store"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// DashboardScene renders the shared-status record alongside the
// store's own counters, so an operator can tell the two apart: the
// status record is what the running agent believes right now, the
// store counters are what has actually been persisted.
type DashboardScene struct {
	statusReader *status.Reader
	store        *store.Store

	record    status.Record
	snapshot  store.StatusSnapshot
	statusErr error
	storeErr  error

	width, height int
	lastUpdate    time.Time
	loading       bool
}

type dashboardMsg struct {
	record    status.Record
	snapshot  store.StatusSnapshot
	statusErr error
	storeErr  error
}

// NewDashboardScene constructs a DashboardScene. statusReader may be
// nil when the shared-status file hasn't been created yet (agent not
// running); the scene falls back to reporting that explicitly rather
// than failing to start.
func NewDashboardScene(statusReader *status.Reader, st *store.Store) *DashboardScene {
	return &DashboardScene{
		statusReader: statusReader,
		store:        st,
		loading:      true,
	}
}

func (d *DashboardScene) Init() tea.Cmd {
	return d.fetch()
}

func (d *DashboardScene) fetch() tea.Cmd {
	return func() tea.Msg {
		msg := dashboardMsg{}
		if d.statusReader != nil {
			msg.record, msg.statusErr = d.statusReader.Read()
		} else {
			msg.statusErr = fmt.Errorf("shared-status file not open")
		}
		msg.snapshot, msg.storeErr = d.store.StatusSnapshot()
		return msg
	}
}

func (d *DashboardScene) TickCmd() tea.Cmd {
	return tea.Tick(2*time.Second, func(t time.Time) tea.Msg {
		return TickMsg{Scene: "dashboard", Time: t}
	})
}

func (d *DashboardScene) Update(msg tea.Msg) (*DashboardScene, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		d.width, d.height = msg.Width, msg.Height
		return d, nil

	case dashboardMsg:
		d.loading = false
		d.record = msg.record
		d.snapshot = msg.snapshot
		d.statusErr = msg.statusErr
		d.storeErr = msg.storeErr
		d.lastUpdate = time.Now()
		return d, nil

	case TickMsg:
		if msg.Scene == "dashboard" {
			return d, d.fetch()
		}
	}
	return d, nil
}

func (d *DashboardScene) View() string {
	var b strings.Builder

	b.WriteString(styles.Title.Render("  EDR Agent Status"))
	b.WriteString("\n\n")

	if d.loading {
		b.WriteString(styles.Muted.Render("  Loading..."))
		return b.String()
	}

	if d.statusErr != nil {
		b.WriteString(styles.StatusWarning.Render(fmt.Sprintf("  Shared-status unavailable: %v", d.statusErr)))
		b.WriteString("\n\n")
	} else {
		var protection string
		if d.record.ProtectionActive {
			protection = styles.StatusOK.Render("● PROTECTION ACTIVE")
		} else {
			protection = styles.StatusError.Render("● PROTECTION INACTIVE")
		}
		b.WriteString(fmt.Sprintf("  %s   engine %s   uptime %s\n\n",
			protection, d.record.EngineVersion, formatUptimeMs(d.record.EngineUptimeMs)))

		cards := []string{
			d.renderMetricCard("Active Incidents", fmt.Sprintf("%d", d.record.ActiveIncidentCount)),
			d.renderMetricCard("Total Incidents", fmt.Sprintf("%d", d.record.TotalIncidentCount)),
			d.renderMetricCard("Events Seen", formatNumber(int64(d.record.TotalEventCount))),
			d.renderMetricCard("Highest Risk", fmt.Sprintf("%d", d.record.HighestRiskScore)),
		}
		b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, cards...))
		b.WriteString("\n\n")

		b.WriteString(styles.Subtitle.Render("  Monitors"))
		b.WriteString("\n")
		b.WriteString(d.renderMonitors())
		b.WriteString("\n")
	}

	if d.storeErr != nil {
		b.WriteString(styles.StatusError.Render(fmt.Sprintf("  Store query failed: %v", d.storeErr)))
	} else {
		b.WriteString(styles.Subtitle.Render("  Persisted"))
		b.WriteString("\n")
		b.WriteString(fmt.Sprintf("  %d events stored, %d incidents open, highest persisted risk %d\n",
			d.snapshot.TotalEventCount, d.snapshot.ActiveIncidentCount, d.snapshot.HighestRiskScore))
	}

	if !d.lastUpdate.IsZero() {
		b.WriteString(styles.Muted.Render(fmt.Sprintf("\n  Last updated: %s", d.lastUpdate.Format("15:04:05"))))
	}

	return b.String()
}

func (d *DashboardScene) renderMetricCard(label, value string) string {
	card := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(styles.MutedColor).
		Padding(0, 2).
		Width(20).
		Align(lipgloss.Center)

	content := fmt.Sprintf("%s\n%s", styles.MetricValue.Render(value), styles.MetricLabel.Render(label))
	return card.Render(content)
}

func (d *DashboardScene) renderMonitors() string {
	monitors := []struct {
		name   string
		active bool
	}{
		{"Process", d.record.ProcessMonitorActive},
		{"File", d.record.FileMonitorActive},
		{"Network", d.record.NetworkMonitorActive},
		{"Registry", d.record.RegistryMonitorActive},
	}

	var rows []string
	for _, m := range monitors {
		dot := styles.StatusError.Render("●")
		if m.active {
			dot = styles.StatusOK.Render("●")
		}
		rows = append(rows, fmt.Sprintf("  %s %s", dot, m.name))
	}
	return strings.Join(rows, "\n")
}

func formatNumber(n int64) string {
	if n >= 1000000 {
		return fmt.Sprintf("%.1fM", float64(n)/1000000)
	}
	if n >= 1000 {
		return fmt.Sprintf("%.1fK", float64(n)/1000)
	}
	return fmt.Sprintf("%d", n)
}

func formatUptimeMs(ms uint64) string {
	d := time.Duration(ms) * time.Millisecond
	hours := int(d.Hours())
	mins := int(d.Minutes()) % 60
	secs := int(d.Seconds()) % 60
	if hours > 0 {
		return fmt.Sprintf("%dh %dm %ds", hours, mins, secs)
	}
	if mins > 0 {
		return fmt.Sprintf("%dm %ds", mins, secs)
	}
	return fmt.Sprintf("%ds", secs)
}
