// Package plain implements the headless (non-interactive) renderer: it
// consumes domain.Event directly and prints one line per state change to
// an io.Writer, following the ANSI-gate-on-TTY convention from
// h3ow3d-nlab/internal/log rather than pulling in the bubbletea stack.
// internal/render/tui is the interactive alternative built on the same
// render.Model.
package plain

import (
	"fmt"
	"io"
	"os"

	"golang.org/x/term"

	"github.com/fleetshift/deployctl/internal/domain"
	"github.com/fleetshift/deployctl/internal/render"
)

// ANSI escape codes, matching h3ow3d-nlab/internal/log's palette.
const (
	reset = "\033[0m"
	bold  = "\033[1m"
	cyan  = "\033[36m"
	green = "\033[32m"
	red   = "\033[31m"
)

// Renderer prints the event stream as it arrives, no screen repainting.
// It implements domain.EventSink so it can be handed directly to a
// DeploymentService/ApplyWorkflow as the progress sink.
type Renderer struct {
	out   io.Writer
	color bool
	model *render.Model
}

// New builds a Renderer writing to w. Color is enabled only when w is a
// terminal (checked via golang.org/x/term when w is an *os.File).
func New(w io.Writer, clock domain.Clock, noProgressBar map[string]bool) *Renderer {
	color := false
	if f, ok := w.(*os.File); ok {
		color = term.IsTerminal(int(f.Fd()))
	}
	return &Renderer{out: w, color: color, model: render.NewModel(clock, noProgressBar)}
}

func (r *Renderer) colorize(code, s string) string {
	if !r.color {
		return s
	}
	return code + bold + s + reset
}

// Emit implements domain.EventSink.
func (r *Renderer) Emit(e domain.Event) {
	r.model.Process(e)

	if e.Error != nil {
		fmt.Fprintf(r.out, "%s %s: %s\n", r.colorize(red, "[stage failed]"), e.Stage, e.Error.Message)
		return
	}

	stage, ok := r.model.Stage(e.Stage)
	if !ok {
		return
	}

	if r.model.NoProgressBar[e.Stage] {
		r.emitBareLine(stage, e)
		return
	}
	r.emitBarLine(stage, e)
}

func (r *Renderer) emitBareLine(stage *render.StageModel, e domain.Event) {
	var label string
	var color string
	switch e.State {
	case domain.TaskStarted:
		label, color = "Started", cyan
	case domain.TaskFinished:
		label, color = "    Done", green
	case domain.TaskFailed:
		label, color = "  Failed", red
	default:
		return
	}

	tags := render.SortedTags(e.Tags)
	header := e.Stage
	if tags != "" {
		header = fmt.Sprintf("%s[%s]", e.Stage, tags)
	}
	fmt.Fprintf(r.out, "  %s %s: %s\n", r.colorize(color, label), header, render.TaskLabel(e.Task))
}

func (r *Renderer) emitBarLine(stage *render.StageModel, e domain.Event) {
	if e.State != domain.TaskFinished && e.State != domain.TaskFailed {
		return
	}
	current, total := stage.Progress()
	pct := 0
	if total > 0 {
		pct = int(current / float64(total) * 100)
	}

	line := fmt.Sprintf("[%s] %d/%d (%d%%)", e.Stage, stage.FinishedSteps(), total, pct)
	if eta, ok := stage.ETA(); ok {
		line += fmt.Sprintf(" eta=%s", eta.Format("15:04:05"))
	}
	if stage.Done() {
		label, color := "Done", green
		if stage.Disposition() == render.NotDone || stage.Disposition() == render.Errored {
			label, color = "Not done", red
		}
		line += fmt.Sprintf(" — %s (%s)", r.colorize(color, label), stage.Elapsed().Round(1_000_000))
	}
	fmt.Fprintln(r.out, line)
}

// InvalidCount reports how many malformed event lines the model dropped.
func (r *Renderer) InvalidCount() int { return r.model.InvalidCount() }
