package domain

// TaskState is the lifecycle state of one task within a stage, or of a
// whole stage when carried on a stage-level error event (spec.md 4.7).
type TaskState string

const (
	TaskStarted    TaskState = "started"
	TaskInProgress TaskState = "in_progress"
	TaskFinished   TaskState = "finished"
	TaskFailed     TaskState = "failed"
)

// EventError carries a stage-level or task-level failure payload.
type EventError struct {
	Code    int
	Message string
}

// Event is one line of the structured event log (spec.md 4.7). Index is
// 1-based within its Stage; Total is authoritative from the first event of
// the stage and must not change thereafter.
type Event struct {
	Time  int64
	Stage string
	Task  string
	Index int
	Total int
	State TaskState

	// Progress is only meaningful when State == TaskInProgress.
	Progress int
	HasProgress bool

	Tags []string
	Data map[string]Value

	// Error is set on a stage-level failure event (not a per-task failed
	// event, which instead carries its detail in Data["error"]).
	Error *EventError
}

// EventSink is the production side of the event log (spec.md section 6
// "Event stream (produced)"): one structured event per line on a
// dedicated channel. Emit must never block the producer on a full
// downstream consumer; implementations are responsible for the bounded
// queue / overflow policy described in spec.md section 5.
type EventSink interface {
	Emit(e Event)
}

// NopSink discards every event; used where a caller doesn't want progress
// reporting (e.g. library callers composing their own).
type NopSink struct{}

func (NopSink) Emit(Event) {}

// Stager is a small helper used by components that drive one event-log
// stage (Assembler, Resource Pool Updater, Job Updater): it stamps Stage,
// Total and Time onto every emitted event; callers pass each task's index.
type Stager struct {
	sink  EventSink
	stage string
	total int
	now   func() int64
}

func NewStager(sink EventSink, stage string, total int, now func() int64) *Stager {
	if sink == nil {
		sink = NopSink{}
	}
	return &Stager{sink: sink, stage: stage, total: total, now: now}
}

func (s *Stager) Started(index int, task string, tags ...string) {
	s.sink.Emit(Event{Time: s.now(), Stage: s.stage, Task: task, Index: index, Total: s.total, State: TaskStarted, Tags: tags})
}

func (s *Stager) InProgress(index int, task string, progress int, tags ...string) {
	s.sink.Emit(Event{Time: s.now(), Stage: s.stage, Task: task, Index: index, Total: s.total, State: TaskInProgress, Progress: progress, HasProgress: true, Tags: tags})
}

func (s *Stager) Finished(index int, task string, tags ...string) {
	s.sink.Emit(Event{Time: s.now(), Stage: s.stage, Task: task, Index: index, Total: s.total, State: TaskFinished, Tags: tags})
}

func (s *Stager) Failed(index int, task string, cause error, tags ...string) {
	data := map[string]Value{"error": NewString(cause.Error())}
	s.sink.Emit(Event{Time: s.now(), Stage: s.stage, Task: task, Index: index, Total: s.total, State: TaskFailed, Tags: tags, Data: data})
}

func (s *Stager) StageFailed(code int, message string) {
	s.sink.Emit(Event{Time: s.now(), Stage: s.stage, Total: s.total, Error: &EventError{Code: code, Message: message}})
}
