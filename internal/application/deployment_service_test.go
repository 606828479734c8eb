package application_test

import (
	"context"
	"errors"
	"testing"

	"github.com/fleetshift/deployctl/internal/application"
	"github.com/fleetshift/deployctl/internal/domain"
	"github.com/fleetshift/deployctl/internal/infrastructure/naive"
	"github.com/fleetshift/deployctl/internal/infrastructure/syncworkflow"
)

func setup(t *testing.T) (*application.DeploymentService, *naive.Store) {
	t.Helper()
	store := naive.NewStore()

	rv := &domain.ReleaseVersion{
		Release: "app",
		Version: "1.0.0",
		Templates: map[domain.TemplateName]*domain.Template{
			"web": {Release: "app", Name: "web"},
		},
	}
	if err := store.PutReleaseVersion(context.Background(), rv); err != nil {
		t.Fatal(err)
	}

	wf := &domain.ApplyWorkflow{
		Store: store,
		CPI:   naive.NewCPI(),
		Agent: naive.NewAgent(),
		Lock:  naive.NewLock(),
		Clock: domain.SystemClock{},
		Sink:  domain.NopSink{},
	}

	engine := &syncworkflow.Engine{}
	runner, err := engine.ApplyRunner(wf)
	if err != nil {
		t.Fatal(err)
	}

	return &application.DeploymentService{Store: store, Apply: runner}, store
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
					"canary_watch_time": int64(0),
					"update_watch_time": int64(1000),
				},
			},
		},
	}
}

func TestDeploymentService_CreateAppliesImmediately(t *testing.T) {
	svc, _ := setup(t)
	ctx := context.Background()

	rec, err := svc.Create(ctx, application.ApplyInput{
		Deployment:   "webapp",
		ManifestYAML: webappManifest(),
		ManifestText: "name: webapp\n",
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if rec.State != domain.DeploymentActive {
		t.Fatalf("State = %q, want %q", rec.State, domain.DeploymentActive)
	}

	got, err := svc.Get(ctx, "webapp")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.State != domain.DeploymentActive {
		t.Fatalf("Get State = %q, want %q", got.State, domain.DeploymentActive)
	}
}

func TestDeploymentService_CreateMissingName(t *testing.T) {
	svc, _ := setup(t)
	_, err := svc.Create(context.Background(), application.ApplyInput{})
	if !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestDeploymentService_Delete(t *testing.T) {
	svc, _ := setup(t)
	ctx := context.Background()

	if _, err := svc.Create(ctx, application.ApplyInput{
		Deployment:   "webapp",
		ManifestYAML: webappManifest(),
		ManifestText: "name: webapp\n",
	}); err != nil {
		t.Fatal(err)
	}

	if err := svc.Delete(ctx, "webapp"); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	if _, err := svc.Get(ctx, "webapp"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Get after Delete: got %v, want ErrNotFound", err)
	}
}

func TestDeploymentService_List(t *testing.T) {
	svc, _ := setup(t)
	ctx := context.Background()

	if _, err := svc.Create(ctx, application.ApplyInput{
		Deployment:   "webapp",
		ManifestYAML: webappManifest(),
		ManifestText: "name: webapp\n",
	}); err != nil {
		t.Fatal(err)
	}

	all, err := svc.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("List: got %d, want 1", len(all))
	}
}
