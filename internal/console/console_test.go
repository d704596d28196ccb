package console

import (
	"strings"
	"testing"
	"time"

	"edr-agent/internal/console/scenes"
	"edr-agent/internal/store"

	tea "github.com/charmbracelet/bubbletea"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(":memory:", nil)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func keyMsg(s string) tea.KeyMsg {
	switch s {
	case "tab":
		return tea.KeyMsg{Type: tea.KeyTab}
	case "ctrl+c":
		return tea.KeyMsg{Type: tea.KeyCtrlC}
	default:
		return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
	}
}

func TestNewModelReturnsNonNil(t *testing.T) {
	m := New(nil, openTestStore(t), nil)
	if m == nil {
		t.Fatal("New() returned nil")
	}
}

func TestNewModelDefaultScene(t *testing.T) {
	m := New(nil, openTestStore(t), nil)
	if m.scene != SceneDashboard {
		t.Errorf("expected initial scene SceneDashboard, got %d", m.scene)
	}
}

func TestNewModelSubScenesNonNil(t *testing.T) {
	m := New(nil, openTestStore(t), nil)
	if m.dashboard == nil || m.incidents == nil || m.audit == nil {
		t.Error("expected all sub-scenes to be non-nil")
	}
}

func TestNewModelNotQuitting(t *testing.T) {
	m := New(nil, openTestStore(t), nil)
	if m.quitting {
		t.Error("model should not be quitting on init")
	}
}

func TestModelInitReturnsCommand(t *testing.T) {
	m := New(nil, openTestStore(t), nil)
	if cmd := m.Init(); cmd == nil {
		t.Error("Model.Init() returned nil, expected a batch command")
	}
}

func TestUpdateSwitchesScenesOnNumberKeys(t *testing.T) {
	m := New(nil, openTestStore(t), nil)

	m.Update(keyMsg("2"))
	if m.scene != SceneIncidents {
		t.Errorf("expected SceneIncidents after pressing '2', got %d", m.scene)
	}

	m.Update(keyMsg("3"))
	if m.scene != SceneAudit {
		t.Errorf("expected SceneAudit after pressing '3', got %d", m.scene)
	}

	m.Update(keyMsg("1"))
	if m.scene != SceneDashboard {
		t.Errorf("expected SceneDashboard after pressing '1', got %d", m.scene)
	}
}

func TestUpdateTabCyclesThroughScenes(t *testing.T) {
	m := New(nil, openTestStore(t), nil)

	m.Update(keyMsg("tab"))
	if m.scene != SceneIncidents {
		t.Errorf("expected SceneIncidents after first tab, got %d", m.scene)
	}
	m.Update(keyMsg("tab"))
	if m.scene != SceneAudit {
		t.Errorf("expected SceneAudit after second tab, got %d", m.scene)
	}
	m.Update(keyMsg("tab"))
	if m.scene != SceneDashboard {
		t.Errorf("expected SceneDashboard after third tab (wrap), got %d", m.scene)
	}
}

func TestUpdateNoSceneChangeWhenAlreadyOnScene(t *testing.T) {
	m := New(nil, openTestStore(t), nil)
	m.Update(keyMsg("1"))
	if m.scene != SceneDashboard {
		t.Errorf("scene should remain SceneDashboard, got %d", m.scene)
	}
}

func TestUpdateQuitWithQ(t *testing.T) {
	m := New(nil, openTestStore(t), nil)
	_, cmd := m.Update(keyMsg("q"))
	if !m.quitting {
		t.Error("expected quitting=true after pressing 'q'")
	}
	if cmd == nil {
		t.Error("expected non-nil command (tea.Quit) after pressing 'q'")
	}
}

func TestUpdateQuitWithCtrlC(t *testing.T) {
	m := New(nil, openTestStore(t), nil)
	_, cmd := m.Update(keyMsg("ctrl+c"))
	if !m.quitting {
		t.Error("expected quitting=true after ctrl+c")
	}
	if cmd == nil {
		t.Error("expected non-nil command (tea.Quit) after ctrl+c")
	}
}

func TestUpdateWindowSizeMsg(t *testing.T) {
	m := New(nil, openTestStore(t), nil)
	m.Update(tea.WindowSizeMsg{Width: 120, Height: 40})
	if m.width != 120 || m.height != 40 {
		t.Errorf("expected dimensions 120x40, got %dx%d", m.width, m.height)
	}
}

func TestViewWhenQuittingIsEmpty(t *testing.T) {
	m := New(nil, openTestStore(t), nil)
	m.quitting = true
	if view := m.View(); view != "" {
		t.Errorf("expected empty view when quitting, got %q", view)
	}
}

func TestViewContainsTabLabels(t *testing.T) {
	m := New(nil, openTestStore(t), nil)
	m.width, m.height = 80, 24
	view := m.View()
	for _, label := range []string{"Dashboard", "Incidents", "Audit"} {
		if !strings.Contains(view, label) {
			t.Errorf("view should contain tab label %q", label)
		}
	}
}

func TestViewContainsFooterHelp(t *testing.T) {
	m := New(nil, openTestStore(t), nil)
	m.width, m.height = 80, 24
	view := m.View()
	if !strings.Contains(view, "Quit") {
		t.Error("view should contain 'Quit' in footer help")
	}
}

func TestModelRoutesTickToActiveSceneOnly(t *testing.T) {
	m := New(nil, openTestStore(t), nil)
	m.scene = SceneIncidents
	tick := scenes.TickMsg{Scene: "incidents", Time: time.Now()}
	_, cmd := m.Update(tick)
	if cmd == nil {
		t.Error("expected non-nil command when routing incidents tick")
	}
}
