package plain

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/fleetshift/deployctl/internal/domain"
)

type fixedClock struct{ t time.Time }

func (f fixedClock) Now() time.Time                              { return f.t }
func (f fixedClock) Sleep(context.Context, time.Duration) error { return nil }

func TestRenderer_BarLineOnTerminal(t *testing.T) {
	var buf strings.Builder
	r := New(&buf, fixedClock{time.Now()}, nil)

	r.Emit(domain.Event{Stage: "apply", Task: "Bind properties", Index: 1, Total: 2, State: domain.TaskStarted})
	r.Emit(domain.Event{Stage: "apply", Task: "Bind properties", Index: 1, Total: 2, State: domain.TaskFinished})
	r.Emit(domain.Event{Stage: "apply", Task: "Assemble", Index: 2, Total: 2, State: domain.TaskStarted})
	r.Emit(domain.Event{Stage: "apply", Task: "Assemble", Index: 2, Total: 2, State: domain.TaskFinished})

	out := buf.String()
	if !strings.Contains(out, "[apply] 1/2") {
		t.Fatalf("expected first progress line, got %q", out)
	}
	if !strings.Contains(out, "Done") {
		t.Fatalf("expected a stage-done line, got %q", out)
	}
	if r.InvalidCount() != 0 {
		t.Fatalf("InvalidCount = %d, want 0", r.InvalidCount())
	}
}

func TestRenderer_NoProgressBarStageEmitsBareLines(t *testing.T) {
	var buf strings.Builder
	r := New(&buf, fixedClock{time.Now()}, map[string]bool{"canaries": true})

	r.Emit(domain.Event{Stage: "canaries", Task: "Watch canary", Index: 1, Total: 1, State: domain.TaskStarted, Tags: []string{"canary"}})
	r.Emit(domain.Event{Stage: "canaries", Task: "Watch canary", Index: 1, Total: 1, State: domain.TaskFinished, Tags: []string{"canary"}})

	out := buf.String()
	if !strings.Contains(out, "Started") || !strings.Contains(out, "canaries[canary]") {
		t.Fatalf("expected bare started line with tag, got %q", out)
	}
	if !strings.Contains(out, "Done") {
		t.Fatalf("expected bare done line, got %q", out)
	}
}

func TestRenderer_StageLevelFailure(t *testing.T) {
	var buf strings.Builder
	r := New(&buf, fixedClock{time.Now()}, nil)

	r.Emit(domain.Event{Stage: "apply", Error: &domain.EventError{Code: 2, Message: "cpi dispatch failed"}})

	out := buf.String()
	if !strings.Contains(out, "[stage failed]") || !strings.Contains(out, "cpi dispatch failed") {
		t.Fatalf("expected stage-failed line, got %q", out)
	}
}

func TestRenderer_InvalidEventsAreCounted(t *testing.T) {
	var buf strings.Builder
	r := New(&buf, fixedClock{time.Now()}, nil)

	r.Emit(domain.Event{})
	r.Emit(domain.Event{Stage: "apply", State: domain.TaskFinished, Index: 1})

	if r.InvalidCount() != 2 {
		t.Fatalf("InvalidCount = %d, want 2", r.InvalidCount())
	}
	if buf.Len() != 0 {
		t.Fatalf("expected no output for invalid events, got %q", buf.String())
	}
}
