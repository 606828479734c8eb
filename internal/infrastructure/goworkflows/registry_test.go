package goworkflows_test

import (
	"context"
	"testing"
	"time"

	"github.com/cschleiden/go-workflows/backend"
	wfsqlite "github.com/cschleiden/go-workflows/backend/sqlite"
	"github.com/cschleiden/go-workflows/client"
	"github.com/cschleiden/go-workflows/worker"

	"github.com/fleetshift/deployctl/internal/domain"
	"github.com/fleetshift/deployctl/internal/infrastructure/goworkflows"
	"github.com/fleetshift/deployctl/internal/infrastructure/naive"
)

func startWorker(t *testing.T, b backend.Backend) *worker.Worker {
	t.Helper()
	w := worker.New(b, nil)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		cancel()
		_ = w.WaitForCompletion()
	})
	if err := w.Start(ctx); err != nil {
		t.Fatalf("start worker: %v", err)
	}
	return w
}

func seedWebappRelease(t *testing.T, store *naive.Store) {
	t.Helper()
	rv := &domain.ReleaseVersion{
		Release: "app",
		Version: "1.0.0",
		Templates: map[domain.TemplateName]*domain.Template{
			"web": {Release: "app", Name: "web"},
		},
	}
	if err := store.PutReleaseVersion(context.Background(), rv); err != nil {
		t.Fatalf("PutReleaseVersion: %v", err)
	}
}

func webappManifest() map[string]any {
	return map[string]any{
		"name": "webapp",
		"releases": []any{
			map[string]any{"name": "app", "version": "1.0.0"},
		},
		"resource_pools": []any{
			map[string]any{
				"name":     "default",
				"size":     1,
				"stemcell": map[string]any{"name": "bionic", "version": "1"},
				"network":  "default",
			},
		},
		"networks": []any{
			map[string]any{"name": "default", "type": "manual"},
		},
		"jobs": []any{
			map[string]any{
				"name":          "web",
				"release":       "app",
				"template":      "web",
				"resource_pool": "default",
				"instances":     int64(1),
				"networks": []any{
					map[string]any{"name": "default"},
				},
				"update": map[string]any{
					"canaries":          int64(1),
					"max_in_flight":     int64(1),
					"canary_watch_time": int64(1000),
					"update_watch_time": int64(1000),
				},
			},
		},
	}
}

func TestApply_GoWorkflows(t *testing.T) {
	b := wfsqlite.NewInMemoryBackend()
	w := startWorker(t, b)
	c := client.New(b)

	store := naive.NewStore()
	seedWebappRelease(t, store)

	wf := &domain.ApplyWorkflow{
		Store: store,
		CPI:   naive.NewCPI(),
		Agent: naive.NewAgent(),
		Lock:  naive.NewLock(),
		Clock: domain.SystemClock{},
		Sink:  domain.NopSink{},
	}

	engine := &goworkflows.Engine{Worker: w, Client: c, Timeout: 10 * time.Second}
	runner, err := engine.ApplyRunner(wf)
	if err != nil {
		t.Fatalf("ApplyRunner: %v", err)
	}

	ctx := context.Background()
	handle, err := runner.Run(ctx, domain.ApplyRequest{
		Deployment:   "webapp",
		ManifestYAML: webappManifest(),
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	result, err := handle.AwaitResult(ctx)
	if err != nil {
		t.Fatalf("AwaitResult: %v", err)
	}
	if result.Deployment != "webapp" {
		t.Errorf("Deployment = %q, want %q", result.Deployment, "webapp")
	}
	if len(result.Jobs) != 1 {
		t.Fatalf("Jobs: got %d, want 1", len(result.Jobs))
	}
	if result.Jobs[0].State != domain.JobDone {
		t.Errorf("job %s state = %q, want %q", result.Jobs[0].Job, result.Jobs[0].State, domain.JobDone)
	}

	vm, found, err := store.FindVM(ctx, "webapp", "web", 0)
	if err != nil {
		t.Fatalf("FindVM: %v", err)
	}
	if !found {
		t.Fatalf("expected a VM record for web/0")
	}
	if vm.IsIdle {
		t.Errorf("web/0 should not be idle after apply")
	}
}
