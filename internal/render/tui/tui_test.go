package tui

import (
	"context"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/fleetshift/deployctl/internal/domain"
)

type fixedClock struct{ t time.Time }

func (f fixedClock) Now() time.Time                              { return f.t }
func (f fixedClock) Sleep(context.Context, time.Duration) error { return nil }

func TestModel_UpdateCreatesBarOnFirstEvent(t *testing.T) {
	events := make(chan domain.Event, 1)
	m := New(events, fixedClock{time.Now()}, nil)

	next, cmd := m.Update(eventMsg(domain.Event{Stage: "apply", Task: "Assemble", Index: 1, Total: 2, State: domain.TaskStarted}))
	mm := next.(Model)

	if _, ok := mm.bars["apply"]; !ok {
		t.Fatal("expected a progress bar to be created for the new stage")
	}
	if cmd == nil {
		t.Fatal("expected Update to re-arm the event listener command")
	}
}

func TestModel_NoProgressBarStageSkipsBar(t *testing.T) {
	events := make(chan domain.Event, 1)
	m := New(events, fixedClock{time.Now()}, map[string]bool{"canaries": true})

	next, _ := m.Update(eventMsg(domain.Event{Stage: "canaries", Task: "Watch canary", Index: 1, Total: 1, State: domain.TaskStarted, Tags: []string{"canary"}}))
	mm := next.(Model)

	if _, ok := mm.bars["canaries"]; ok {
		t.Fatal("expected no progress bar for a no-progress-bar stage")
	}
}

func TestModel_ClosedChannelQuits(t *testing.T) {
	events := make(chan domain.Event)
	m := New(events, fixedClock{time.Now()}, nil)

	next, cmd := m.Update(closedMsg{})
	mm := next.(Model)
	if !mm.closed {
		t.Fatal("expected Model.closed to be set")
	}
	if cmd == nil {
		t.Fatal("expected a Quit command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Fatal("expected the returned command to produce a tea.QuitMsg")
	}
}

func TestBarWidth_ClampsToMinimum(t *testing.T) {
	if w := barWidth(20); w != 10 {
		t.Fatalf("barWidth(20) = %d, want 10", w)
	}
	if w := barWidth(100); w != 70 {
		t.Fatalf("barWidth(100) = %d, want 70", w)
	}
}
