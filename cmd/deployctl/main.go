// deployctl – fleet deployment orchestrator CLI.
//
// Usage:
//
//	deployctl deploy <manifest-path> [--recreate] [--job-state job/index=state]...
//
// Exit codes: 0 success, 1 validation error, 2 runtime failure,
// 3 cancelled, 4 lock unavailable.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	wfsqlite "github.com/cschleiden/go-workflows/backend/sqlite"
	"github.com/cschleiden/go-workflows/client"
	"github.com/cschleiden/go-workflows/worker"
	"github.com/dbos-inc/dbos-transact-golang/dbos"
	"github.com/spf13/cobra"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"github.com/fleetshift/deployctl/internal/application"
	"github.com/fleetshift/deployctl/internal/cliconfig"
	"github.com/fleetshift/deployctl/internal/domain"
	"github.com/fleetshift/deployctl/internal/infrastructure/dbosworkflows"
	"github.com/fleetshift/deployctl/internal/infrastructure/eventlog"
	"github.com/fleetshift/deployctl/internal/infrastructure/goworkflows"
	"github.com/fleetshift/deployctl/internal/infrastructure/naive"
	"github.com/fleetshift/deployctl/internal/infrastructure/sqlite"
	"github.com/fleetshift/deployctl/internal/infrastructure/syncworkflow"
	"github.com/fleetshift/deployctl/internal/render/plain"
	"github.com/fleetshift/deployctl/internal/render/tui"
)

func main() {
	root := &cobra.Command{
		Use:   "deployctl",
		Short: "Fleet deployment orchestrator",
		Long: `deployctl drives a fleet of VMs toward the target state described by a
deployment manifest: parsing the manifest, binding template properties,
reconciling resource pools, and rolling out jobs canary-then-batch while
streaming structured progress events.`,
	}

	root.AddCommand(deployCmd())

	if err := root.Execute(); err != nil {
		os.Exit(exitCodeFor(err))
	}
}

func deployCmd() *cobra.Command {
	var recreate bool
	var jobStates []string
	var eventLogPath string
	var noTUI bool

	cmd := &cobra.Command{
		Use:   "deploy <manifest-path>",
		Short: "Apply a deployment manifest",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			overrides, err := parseJobStates(jobStates)
			if err != nil {
				return fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err)
			}
			return runDeploy(args[0], recreate, overrides, eventLogPath, noTUI)
		},
	}

	cmd.Flags().BoolVar(&recreate, "recreate", false, "force every instance to be recreated rather than updated in place")
	cmd.Flags().StringArrayVar(&jobStates, "job-state", nil, "override an instance's target state, as job/index=state (repeatable)")
	cmd.Flags().StringVar(&eventLogPath, "event-log", "", "also archive the raw event stream to this file (gzipped on completion)")
	cmd.Flags().BoolVar(&noTUI, "no-tui", false, "use the plain line-oriented renderer even on a TTY")

	return cmd
}

// parseJobStates parses repeated "job/index=state" flags into the map
// ApplyWorkflow expects, per spec.md section 6's CLI surface.
func parseJobStates(raw []string) (map[string]domain.InstanceState, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	out := make(map[string]domain.InstanceState, len(raw))
	for _, entry := range raw {
		key, value, ok := strings.Cut(entry, "=")
		if !ok || key == "" || value == "" {
			return nil, fmt.Errorf("invalid --job-state %q: expected job/index=state", entry)
		}
		out[key] = domain.InstanceState(value)
	}
	return out, nil
}

func runDeploy(manifestPath string, recreate bool, overrides map[string]domain.InstanceState, eventLogPath string, noTUI bool) error {
	cfg, err := cliconfig.Load()
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)
	slog.Info("loading manifest", "path", manifestPath, "engine", cfg.Engine)

	manifestYAML, manifestText, err := loadManifest(manifestPath)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err)
	}
	name, _ := manifestYAML["name"].(string)
	if name == "" {
		return fmt.Errorf("%w: manifest is missing a top-level name", domain.ErrInvalidArgument)
	}

	store, closeStore, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	sink, closeSink, err := buildSink(eventLogPath, noTUI)
	if err != nil {
		return err
	}
	defer closeSink()

	wf := &domain.ApplyWorkflow{
		Store: store,
		CPI:   naive.NewCPI(),
		Agent: naive.NewAgent(),
		Lock:  naive.NewLock(),
		Clock: domain.SystemClock{},
		Sink:  sink,
	}

	runner, closeEngine, err := buildEngine(cfg, wf)
	if err != nil {
		return err
	}
	defer closeEngine()

	svc := &application.DeploymentService{Store: store, Apply: runner}

	ctx, cancel := context.WithTimeout(context.Background(), time.Hour)
	defer cancel()

	in := application.ApplyInput{
		Deployment:        domain.DeploymentName(name),
		ManifestYAML:      manifestYAML,
		ManifestText:      manifestText,
		Recreate:          recreate,
		JobStateOverrides: overrides,
	}

	if _, err := svc.Get(ctx, in.Deployment); errors.Is(err, domain.ErrNotFound) {
		slog.Info("creating deployment", "deployment", in.Deployment)
		_, err = svc.Create(ctx, in)
		if err != nil {
			slog.Error("deployment failed", "deployment", in.Deployment, "err", err)
		}
		return err
	} else if err != nil {
		return err
	}

	slog.Info("updating deployment", "deployment", in.Deployment)
	_, _, err = svc.Update(ctx, in)
	if err != nil {
		slog.Error("deployment failed", "deployment", in.Deployment, "err", err)
	}
	return err
}

func loadManifest(path string) (map[string]any, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("read manifest %q: %w", path, err)
	}
	var m map[string]any
	dec := yaml.NewDecoder(strings.NewReader(string(data)))
	dec.KnownFields(true)
	if err := dec.Decode(&m); err != nil {
		return nil, "", fmt.Errorf("manifest %q: %w", path, err)
	}
	return m, string(data), nil
}

func openStore(cfg cliconfig.Config) (domain.Store, func(), error) {
	if cfg.StorePath == "" || cfg.StorePath == ":memory:" {
		return naive.NewStore(), func() {}, nil
	}
	db, err := sqlite.Open(cfg.StorePath)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", domain.ErrStoreTransactionFailed, err)
	}
	return &sqlite.Store{DB: db}, func() { db.Close() }, nil
}

// buildSink wires the EventSink: the interactive TUI when stdout is a TTY
// and --no-tui wasn't passed, the plain line renderer otherwise, and
// optionally a gzip-archiving file sink alongside either one (spec.md
// section 6 "Event stream (produced)").
func buildSink(eventLogPath string, noTUI bool) (domain.EventSink, func(), error) {
	var sinks []domain.EventSink
	closers := []func(){}

	interactive := !noTUI && term.IsTerminal(int(os.Stdout.Fd()))
	if interactive {
		events := make(chan domain.Event, 256)
		done := make(chan struct{})
		// The TUI's channel read can stall (a slow render, a blocked
		// terminal); BoundedQueue decouples Emit from that so a stalled
		// renderer drops only in_progress events rather than silently
		// dropping started/finished/failed events too (spec.md section 5).
		queue := eventlog.NewBoundedQueue(channelSink{ch: events}, 256)
		sinks = append(sinks, queue)
		go func() {
			defer close(done)
			_ = tui.Run(events, domain.SystemClock{}, nil)
		}()
		closers = append(closers, func() {
			queue.Close()
			close(events)
			<-done
		})
	} else {
		sinks = append(sinks, plain.New(os.Stdout, domain.SystemClock{}, nil))
	}

	if eventLogPath != "" {
		fileSink, err := eventlog.NewFileSink(eventLogPath)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %v", domain.ErrInvariantViolated, err)
		}
		sinks = append(sinks, fileSink)
		closers = append(closers, func() {
			if err := fileSink.Close(); err == nil {
				_, _ = eventlog.Archive(eventLogPath, filepath.Dir(eventLogPath))
			}
		})
	}

	closeAll := func() {
		for _, c := range closers {
			c()
		}
	}
	return multiSink(sinks), closeAll, nil
}

// channelSink is BoundedQueue's downstream: a blocking send, since
// BoundedQueue's single drain goroutine is the only producer reaching it
// and already owns the spec-mandated overflow policy (spec.md section 5).
// A select/default send here would silently drop events BoundedQueue had
// promised never to drop once they'd already cleared its buffer.
type channelSink struct{ ch chan<- domain.Event }

func (c channelSink) Emit(e domain.Event) {
	c.ch <- e
}

type multiSink []domain.EventSink

func (m multiSink) Emit(e domain.Event) {
	for _, s := range m {
		s.Emit(e)
	}
}

func buildEngine(cfg cliconfig.Config, wf *domain.ApplyWorkflow) (domain.ApplyRunner, func(), error) {
	switch cfg.Engine {
	case "", "sync":
		engine := &syncworkflow.Engine{}
		runner, err := engine.ApplyRunner(wf)
		return runner, func() {}, err

	case "durable":
		// NewInMemoryBackend is the constructor the teacher's own test
		// suite exercises (registry_test.go); go-workflows also ships a
		// persistent SQLite backend, but wiring it here without having
		// verified its exact constructor signature would risk fabricating
		// an API, so durable mode is replay-safe within this process only.
		backend := wfsqlite.NewInMemoryBackend()
		w := worker.New(backend, nil)
		ctx, cancel := context.WithCancel(context.Background())
		if err := w.Start(ctx); err != nil {
			cancel()
			return nil, nil, fmt.Errorf("%w: start go-workflows worker: %v", domain.ErrInvariantViolated, err)
		}
		c := client.New(backend)
		engine := &goworkflows.Engine{Worker: w, Client: c}
		runner, err := engine.ApplyRunner(wf)
		closer := func() {
			cancel()
			_ = w.WaitForCompletion()
		}
		return runner, closer, err

	case "dbos":
		if cfg.DBOSDatabaseURL == "" {
			return nil, nil, fmt.Errorf("%w: dbos_database_url is required when engine is \"dbos\"", domain.ErrInvalidArgument)
		}
		dbosCtx, err := dbos.NewDBOSContext(context.Background(), dbos.Config{
			AppName:     "deployctl",
			DatabaseURL: cfg.DBOSDatabaseURL,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %v", domain.ErrStoreTransactionFailed, err)
		}
		engine := &dbosworkflows.Engine{DBOSCtx: dbosCtx}
		runner, err := engine.ApplyRunner(wf)
		if err != nil {
			return nil, nil, err
		}
		if err := dbos.Launch(dbosCtx); err != nil {
			return nil, nil, fmt.Errorf("%w: launch dbos: %v", domain.ErrInvariantViolated, err)
		}
		closer := func() { dbos.Shutdown(dbosCtx, 5*time.Second) }
		return runner, closer, nil

	default:
		return nil, nil, fmt.Errorf("%w: unknown engine %q", domain.ErrInvalidArgument, cfg.Engine)
	}
}

// exitCodeFor maps an apply error to the exit code spec.md section 6
// fixes: 0 success, 1 validation, 2 runtime, 3 cancelled, 4 lock unavailable.
func exitCodeFor(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, domain.ErrLockUnavailable):
		return 4
	case errors.Is(err, domain.ErrCancelled):
		return 3
	case errors.Is(err, domain.ErrValidation), errors.Is(err, domain.ErrInvalidArgument):
		return 1
	case errors.Is(err, domain.ErrCPI),
		errors.Is(err, domain.ErrAgentUnreachable),
		errors.Is(err, domain.ErrAgentNotReady),
		errors.Is(err, domain.ErrDiskAttachment),
		errors.Is(err, domain.ErrCompilationFailed),
		errors.Is(err, domain.ErrRuntimeJobHalted):
		return 2
	default:
		return 2
	}
}
