package scenes

import (
	"testing"
	"time"

	"edr-agent/internal/incident"

	tea "github.com/charmbracelet/bubbletea"
)

func TestNewIncidentsSceneNonNil(t *testing.T) {
	s := NewIncidentsScene(openTestStore(t))
	if s == nil {
		t.Fatal("NewIncidentsScene() returned nil")
	}
}

func TestIncidentsSceneInitReturnsCmd(t *testing.T) {
	s := NewIncidentsScene(openTestStore(t))
	if cmd := s.Init(); cmd == nil {
		t.Error("IncidentsScene.Init() returned nil, expected a fetch command")
	}
}

func TestIncidentsUpdateWindowSize(t *testing.T) {
	s := NewIncidentsScene(openTestStore(t))
	updated, cmd := s.Update(tea.WindowSizeMsg{Width: 100, Height: 50})
	if updated == nil {
		t.Fatal("IncidentsScene.Update returned nil")
	}
	if cmd != nil {
		t.Error("WindowSizeMsg should return nil command for incidents")
	}
}

func TestIncidentsTickMsgOwnScene(t *testing.T) {
	s := NewIncidentsScene(openTestStore(t))
	_, cmd := s.Update(TickMsg{Scene: "incidents", Time: time.Now()})
	if cmd == nil {
		t.Error("expected non-nil command when handling own TickMsg")
	}
}

func TestIncidentsTickMsgOtherScene(t *testing.T) {
	s := NewIncidentsScene(openTestStore(t))
	_, cmd := s.Update(TickMsg{Scene: "dashboard", Time: time.Now()})
	if cmd != nil {
		t.Error("incidents should return nil command for another scene's TickMsg")
	}
}

func TestIncidentsViewEmptyState(t *testing.T) {
	s := NewIncidentsScene(openTestStore(t))
	s.loading = false
	view := s.View()
	if view == "" {
		t.Error("expected non-empty view")
	}
}

func TestIncidentsNavigationMovesCursor(t *testing.T) {
	s := NewIncidentsScene(openTestStore(t))
	s.loading = false
	s.incidents = []incident.Incident{
		{UUID: "a"}, {UUID: "b"}, {UUID: "c"},
	}

	s.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("j")})
	if s.cursor != 1 {
		t.Errorf("expected cursor=1 after down, got %d", s.cursor)
	}

	s.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("k")})
	if s.cursor != 0 {
		t.Errorf("expected cursor=0 after up, got %d", s.cursor)
	}
}

func TestIncidentsSelected(t *testing.T) {
	s := NewIncidentsScene(openTestStore(t))
	s.incidents = []incident.Incident{{UUID: "only"}}
	s.cursor = 0

	inc, ok := s.Selected()
	if !ok {
		t.Fatal("expected Selected to find an incident")
	}
	if inc.UUID != "only" {
		t.Errorf("expected UUID 'only', got %q", inc.UUID)
	}
}

func TestIncidentsSelectedEmpty(t *testing.T) {
	s := NewIncidentsScene(openTestStore(t))
	if _, ok := s.Selected(); ok {
		t.Error("expected Selected to report no incident when list is empty")
	}
}
