package domain

import (
	"errors"
	"testing"
)

func webCatalog() map[ReleaseName]*ReleaseVersion {
	return map[ReleaseName]*ReleaseVersion{
		"app": {
			Release: "app",
			Version: "1.0.0",
			Templates: map[TemplateName]*Template{
				"web": {Release: "app", Name: "web"},
			},
		},
	}
}

func webManifest() map[string]any {
	return map[string]any{
		"name": "webapp",
		"releases": []any{
			map[string]any{"name": "app", "version": "1.0.0"},
		},
		"resource_pools": []any{
			map[string]any{
				"name":     "default",
				"size":     int64(2),
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
				"instances":     int64(2),
				"networks": []any{
					map[string]any{"name": "default"},
				},
			},
		},
	}
}

func TestParseManifest_Minimal(t *testing.T) {
	plan, err := ParseManifest(FromAny(webManifest()), webCatalog())
	if err != nil {
		t.Fatalf("ParseManifest: %v", err)
	}
	if plan.DeploymentName != "webapp" {
		t.Fatalf("DeploymentName = %q", plan.DeploymentName)
	}
	job, ok := plan.Jobs["web"]
	if !ok {
		t.Fatal("expected job \"web\"")
	}
	if job.Instances != 2 {
		t.Fatalf("Instances = %d, want 2", job.Instances)
	}
	if job.Update != DefaultUpdateConfig() {
		t.Fatalf("Update = %+v, want defaults", job.Update)
	}
}

func TestParseManifest_MissingNameFails(t *testing.T) {
	m := webManifest()
	delete(m, "name")
	_, err := ParseManifest(FromAny(m), webCatalog())
	if !errors.Is(err, ErrMissingField) {
		t.Fatalf("expected ErrMissingField, got %v", err)
	}
}

func TestParseManifest_UnknownReleaseVersionFails(t *testing.T) {
	m := webManifest()
	m["releases"] = []any{map[string]any{"name": "app", "version": "9.9.9"}}
	_, err := ParseManifest(FromAny(m), webCatalog())
	if !errors.Is(err, ErrUnknownRelease) {
		t.Fatalf("expected ErrUnknownRelease, got %v", err)
	}
}

func TestParseManifest_UnknownResourcePoolFails(t *testing.T) {
	m := webManifest()
	jobs := m["jobs"].([]any)
	jobs[0].(map[string]any)["resource_pool"] = "missing"
	_, err := ParseManifest(FromAny(m), webCatalog())
	if !errors.Is(err, ErrUnknownResourcePool) {
		t.Fatalf("expected ErrUnknownResourcePool, got %v", err)
	}
}

func TestParseManifest_PoolCapacityExceeded(t *testing.T) {
	m := webManifest()
	jobs := m["jobs"].([]any)
	jobs[0].(map[string]any)["instances"] = int64(5)
	_, err := ParseManifest(FromAny(m), webCatalog())
	if !errors.Is(err, ErrInvalidValue) {
		t.Fatalf("expected ErrInvalidValue for pool overcommit, got %v", err)
	}
}

func TestParseManifest_DuplicateJobNamesAccumulate(t *testing.T) {
	m := webManifest()
	jobs := m["jobs"].([]any)
	dup := map[string]any{}
	for k, v := range jobs[0].(map[string]any) {
		dup[k] = v
	}
	m["jobs"] = []any{jobs[0], dup}
	_, err := ParseManifest(FromAny(m), webCatalog())
	if !errors.Is(err, ErrInvalidValue) {
		t.Fatalf("expected ErrInvalidValue for duplicate job name, got %v", err)
	}
}

func TestParseManifest_TemplatesFromDifferentReleasesRejected(t *testing.T) {
	catalog := webCatalog()
	catalog["other"] = &ReleaseVersion{
		Release: "other", Version: "2.0.0",
		Templates: map[TemplateName]*Template{"worker": {Release: "other", Name: "worker"}},
	}
	m := webManifest()
	m["releases"] = append(m["releases"].([]any), map[string]any{"name": "other", "version": "2.0.0"})
	jobs := m["jobs"].([]any)
	job := jobs[0].(map[string]any)
	delete(job, "template")
	job["templates"] = []any{
		map[string]any{"name": "web", "release": "app"},
		map[string]any{"name": "worker", "release": "other"},
	}
	_, err := ParseManifest(FromAny(m), catalog)
	if !errors.Is(err, ErrInvalidTemplates) {
		t.Fatalf("expected ErrInvalidTemplates, got %v", err)
	}
}

func TestParseManifest_CustomUpdateConfig(t *testing.T) {
	m := webManifest()
	jobs := m["jobs"].([]any)
	jobs[0].(map[string]any)["update"] = map[string]any{
		"canaries":          int64(2),
		"max_in_flight":     int64(3),
		"canary_watch_time": int64(5000),
		"update_watch_time": []any{int64(1000), int64(60000)},
		"serial":            false,
	}
	plan, err := ParseManifest(FromAny(m), webCatalog())
	if err != nil {
		t.Fatalf("ParseManifest: %v", err)
	}
	u := plan.Jobs["web"].Update
	if u.Canaries != 2 || u.MaxInFlight != 3 || u.Serial {
		t.Fatalf("Update = %+v", u)
	}
	if u.UpdateWatchTime.MinMillis != 1000 || u.UpdateWatchTime.MaxMillis != 60000 {
		t.Fatalf("UpdateWatchTime = %+v", u.UpdateWatchTime)
	}
}

func TestParseManifest_JobStateOverrides(t *testing.T) {
	m := webManifest()
	jobs := m["jobs"].([]any)
	jobs[0].(map[string]any)["job_state_overrides"] = map[string]any{"1": "stopped"}
	plan, err := ParseManifest(FromAny(m), webCatalog())
	if err != nil {
		t.Fatalf("ParseManifest: %v", err)
	}
	job := plan.Jobs["web"]
	if job.TargetState(0) != InstanceStarted {
		t.Fatalf("TargetState(0) = %q, want started", job.TargetState(0))
	}
	if job.TargetState(1) != InstanceStopped {
		t.Fatalf("TargetState(1) = %q, want stopped", job.TargetState(1))
	}
}
