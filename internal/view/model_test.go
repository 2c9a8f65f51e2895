package view

import (
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/abelbrown/relay/internal/reduce"
)

func sized(t *testing.T, m Model) Model {
	t.Helper()
	next, _ := m.Update(tea.WindowSizeMsg{Width: 80, Height: 24})
	return next.(Model)
}

func TestFreshOccurrenceAppendsCard(t *testing.T) {
	ch := make(chan Update)
	m := sized(t, New(ch))

	next, _ := m.Update(Update{Occ: &reduce.Occurrence{
		Outcome:  reduce.OutcomeToolComplete,
		ToolName: "Bash",
		Count:    1,
	}, Fresh: true})
	m = next.(Model)

	if len(m.cards) != 1 || m.seen != 1 {
		t.Fatalf("cards=%d seen=%d, want 1/1", len(m.cards), m.seen)
	}
	if !strings.Contains(m.View(), "Bash") {
		t.Fatal("card not visible")
	}
}

func TestRepeatReplacesLastCard(t *testing.T) {
	ch := make(chan Update)
	m := sized(t, New(ch))

	occ := &reduce.Occurrence{Outcome: reduce.OutcomeSingle, EventType: "assistant", Payload: "hi", Count: 1}
	next, _ := m.Update(Update{Occ: occ, Fresh: true})
	m = next.(Model)
	occ.Count = 4
	next, _ = m.Update(Update{Occ: occ, Fresh: false})
	m = next.(Model)

	if len(m.cards) != 1 || m.seen != 1 {
		t.Fatalf("repeat appended: cards=%d seen=%d", len(m.cards), m.seen)
	}
	if !strings.Contains(m.cards[0], "4") {
		t.Fatalf("count not shown: %q", m.cards[0])
	}
}

func TestStreamClosedShowsFinished(t *testing.T) {
	ch := make(chan Update)
	m := sized(t, New(ch))
	next, _ := m.Update(streamClosedMsg{})
	m = next.(Model)
	if !m.finished || !strings.Contains(m.View(), "stream ended") {
		t.Fatal("finished state not reflected")
	}
}

func TestQuitKeys(t *testing.T) {
	ch := make(chan Update)
	m := sized(t, New(ch))
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}})
	if cmd == nil {
		t.Fatal("q did not quit")
	}
}

func TestCardCapBounded(t *testing.T) {
	ch := make(chan Update)
	m := sized(t, New(ch))
	for i := 0; i < maxCards+50; i++ {
		next, _ := m.Update(Update{Occ: &reduce.Occurrence{
			Outcome: reduce.OutcomeSingle, EventType: "assistant", Payload: "x", Count: 1,
		}, Fresh: true})
		m = next.(Model)
	}
	if len(m.cards) != maxCards {
		t.Fatalf("cards=%d, want %d", len(m.cards), maxCards)
	}
}
