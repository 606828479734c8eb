// Package render implements the pure progress model a renderer consumes
// from the event log stream (spec.md 4.8): it holds no terminal or I/O
// dependency, so tests can feed it events and assert on its bar/ETA math
// directly. internal/render/tui wraps Model in a bubbletea presentation.
package render

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/fleetshift/deployctl/internal/domain"
)

// TaskSnapshot is one task's current rendering-relevant state.
type TaskSnapshot struct {
	Index    int
	Task     string
	State    domain.TaskState
	Progress int
	Tags     []string
	Start    time.Time
	Finish   time.Time
	Err      string
}

// Disposition is a stage's terminal rendering disposition.
type Disposition int

const (
	Pending Disposition = iota
	Done
	NotDone
	Errored
)

// StageModel is the per-stage progress state the Renderer accumulates.
type StageModel struct {
	Name  string
	Total int

	tasks map[int]*TaskSnapshot
	order []int

	firstStarted time.Time
	lastTerminal time.Time

	inFlight    int
	maxInFlight int

	hasNonCanaryStart bool
	nonCanaryStart    time.Time

	durSum   time.Duration
	durCount int

	stageErr *domain.EventError
}

func newStageModel(name string, total int) *StageModel {
	return &StageModel{Name: name, Total: total, tasks: map[int]*TaskSnapshot{}}
}

func isCanary(tags []string) bool {
	for _, t := range tags {
		if t == "canary" {
			return true
		}
	}
	return false
}

func (s *StageModel) apply(e domain.Event, clock domain.Clock) {
	if e.Error != nil {
		s.stageErr = e.Error
		s.lastTerminal = clock.Now()
		return
	}

	t, known := s.tasks[e.Index]
	switch e.State {
	case domain.TaskStarted:
		if known {
			// A repeated started for a known index is ignored: the first
			// event per (stage, index) is the one that establishes it.
			return
		}
		t = &TaskSnapshot{Index: e.Index, Task: e.Task, State: domain.TaskStarted, Tags: e.Tags, Start: clock.Now()}
		s.tasks[e.Index] = t
		s.order = append(s.order, e.Index)
		if s.firstStarted.IsZero() {
			s.firstStarted = t.Start
		}
		if !isCanary(e.Tags) && !s.hasNonCanaryStart {
			s.hasNonCanaryStart = true
			s.nonCanaryStart = t.Start
		}
		s.inFlight++
		if s.inFlight > s.maxInFlight {
			s.maxInFlight = s.inFlight
		}

	case domain.TaskInProgress:
		if !known {
			// in_progress without a prior started is ignored (spec.md 9
			// open question, resolved as "ignored").
			return
		}
		if t.State == domain.TaskFinished || t.State == domain.TaskFailed {
			return
		}
		t.State = domain.TaskInProgress
		if e.HasProgress {
			t.Progress = e.Progress
		}

	case domain.TaskFinished, domain.TaskFailed:
		if !known {
			// A non-started event for an unknown index is ignored
			// (spec.md 4.8).
			return
		}
		if t.State == domain.TaskFinished || t.State == domain.TaskFailed {
			return
		}
		t.State = e.State
		t.Finish = clock.Now()
		if e.State == domain.TaskFailed {
			if v, ok := e.Data["error"]; ok {
				t.Err = v.Str
			}
		}
		s.inFlight--
		s.lastTerminal = t.Finish

		if !isCanary(t.Tags) {
			s.durSum += t.Finish.Sub(t.Start)
			s.durCount++
		}
	}
}

// Done reports whether every task has reached a terminal state, or the
// stage received a stage-level error.
func (s *StageModel) Done() bool {
	if s.stageErr != nil {
		return true
	}
	if len(s.tasks) < s.Total {
		return false
	}
	for _, t := range s.tasks {
		if t.State != domain.TaskFinished && t.State != domain.TaskFailed {
			return false
		}
	}
	return true
}

// Disposition reports the stage's terminal rendering color class.
func (s *StageModel) Disposition() Disposition {
	if !s.Done() {
		return Pending
	}
	if s.stageErr != nil {
		return Errored
	}
	for _, t := range s.tasks {
		if t.State == domain.TaskFailed {
			return NotDone
		}
	}
	return Done
}

// Progress returns the stage's fractional progress bar position (spec.md
// 4.8: "current is a fractional sum Σ per_task.progress clipped to
// [0,total]") and the stage total.
func (s *StageModel) Progress() (current float64, total int) {
	var sum float64
	for _, t := range s.tasks {
		switch t.State {
		case domain.TaskFinished, domain.TaskFailed:
			sum += 1
		case domain.TaskInProgress:
			sum += float64(t.Progress) / 100
		}
	}
	if sum > float64(s.Total) {
		sum = float64(s.Total)
	}
	if sum < 0 {
		sum = 0
	}
	return sum, s.Total
}

// FinishedSteps is the integer count of terminal (finished|failed) tasks.
func (s *StageModel) FinishedSteps() int {
	n := 0
	for _, t := range s.tasks {
		if t.State == domain.TaskFinished || t.State == domain.TaskFailed {
			n++
		}
	}
	return n
}

// ETA implements spec.md 4.8's estimate:
//
//	B = observed max_in_flight
//	avg = running average of (finish - start) across completed non-canary tasks
//	batches_remaining = ceil((total - done) / B)
//	ETA = non_canary_start_time + avg * batches_remaining
//
// It returns false if there isn't yet enough data (no non-canary task has
// started, no completed non-canary task to average, or B == 0).
func (s *StageModel) ETA() (time.Time, bool) {
	if !s.hasNonCanaryStart || s.durCount == 0 || s.maxInFlight == 0 {
		return time.Time{}, false
	}
	avg := s.durSum / time.Duration(s.durCount)
	done := s.FinishedSteps()
	remaining := s.Total - done
	if remaining <= 0 {
		return s.nonCanaryStart, true
	}
	batches := int(math.Ceil(float64(remaining) / float64(s.maxInFlight)))
	return s.nonCanaryStart.Add(avg * time.Duration(batches)), true
}

// Elapsed reports the wall time between the stage's first started
// event and its last terminal event (spec.md 4.8 "Stage-end label").
func (s *StageModel) Elapsed() time.Duration {
	if s.firstStarted.IsZero() || s.lastTerminal.IsZero() {
		return 0
	}
	return s.lastTerminal.Sub(s.firstStarted)
}

// Tasks returns task snapshots in started order.
func (s *StageModel) Tasks() []TaskSnapshot {
	out := make([]TaskSnapshot, 0, len(s.order))
	for _, idx := range s.order {
		out = append(out, *s.tasks[idx])
	}
	return out
}

// SortedTags renders a task/stage's tags joined by ", " in lexicographic
// order (spec.md 4.8 "Tag rendering").
func SortedTags(tags []string) string {
	cp := append([]string(nil), tags...)
	sort.Strings(cp)
	return strings.Join(cp, ", ")
}

// TaskLabel applies spec.md 4.8's casing rule: "Task labels beginning with
// two uppercase letters are printed verbatim; otherwise the first
// character is lowercased."
func TaskLabel(task string) string {
	r := []rune(task)
	if len(r) >= 2 && isUpper(r[0]) && isUpper(r[1]) {
		return task
	}
	if len(r) == 0 {
		return task
	}
	r[0] = toLower(r[0])
	return string(r)
}

func isUpper(r rune) bool { return r >= 'A' && r <= 'Z' }
func toLower(r rune) rune {
	if isUpper(r) {
		return r + ('a' - 'A')
	}
	return r
}

// Model is the Renderer's full progress model: one StageModel per stage
// seen, plus the single-cursor policy over which stage is "current"
// (spec.md 4.8 and the section 9 open question resolving late events for
// an already-superseded stage as dropped, not reopened).
type Model struct {
	Clock domain.Clock
	// NoProgressBar names stages that bypass the bar and print per-event
	// lines instead (spec.md 4.8).
	NoProgressBar map[string]bool

	stages  map[string]*StageModel
	order   []string
	current string

	invalidCount int
}

func NewModel(clock domain.Clock, noProgressBar map[string]bool) *Model {
	if clock == nil {
		clock = domain.SystemClock{}
	}
	return &Model{Clock: clock, NoProgressBar: noProgressBar, stages: map[string]*StageModel{}}
}

// Process applies one event to the model, enforcing the single-cursor
// policy: late events for a stage already superseded by a later one are
// dropped silently.
func (m *Model) Process(e domain.Event) {
	if e.Stage == "" {
		m.invalidCount++
		return
	}

	stage, known := m.stages[e.Stage]
	if !known {
		if e.State != domain.TaskStarted && e.Error == nil {
			// The first event ever seen for a stage must establish it;
			// anything else arriving for an unknown stage is invalid.
			m.invalidCount++
			return
		}
		stage = newStageModel(e.Stage, e.Total)
		m.stages[e.Stage] = stage
		m.order = append(m.order, e.Stage)
		m.current = e.Stage
	} else if e.Stage != m.current {
		// A late event for a stage we've already moved past: dropped,
		// per the single-cursor (no reopen) decision.
		return
	}

	stage.apply(e, m.Clock)
}

// Current returns the currently-displayed stage, if any.
func (m *Model) Current() (*StageModel, bool) {
	if m.current == "" {
		return nil, false
	}
	s, ok := m.stages[m.current]
	return s, ok
}

// Stage returns a named stage's model, if seen.
func (m *Model) Stage(name string) (*StageModel, bool) {
	s, ok := m.stages[name]
	return s, ok
}

// Stages returns every stage model in first-seen order.
func (m *Model) Stages() []*StageModel {
	out := make([]*StageModel, 0, len(m.order))
	for _, name := range m.order {
		out = append(out, m.stages[name])
	}
	return out
}

// InvalidCount is the number of malformed/out-of-contract lines dropped
// silently (spec.md 4.8: "Invalid event lines are dropped silently after
// counting").
func (m *Model) InvalidCount() int { return m.invalidCount }
