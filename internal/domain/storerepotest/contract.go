// Package storerepotest provides contract tests for [domain.Store]
// implementations, reused against the sqlite adapter and the in-memory one.
package storerepotest

import (
	"context"
	"errors"
	"testing"

	"github.com/fleetshift/deployctl/internal/domain"
)

// Factory creates a fresh [domain.Store] for each test invocation.
type Factory func(t *testing.T) domain.Store

// Run exercises the domain.Store contract.
func Run(t *testing.T, factory Factory) {
	t.Run("SaveAndFindVM", func(t *testing.T) {
		store := factory(t)
		ctx := context.Background()

		vm := domain.VMRecord{
			VMID:       "vm-1",
			Deployment: "dep",
			Job:        "web",
			Index:      0,
			Pool:       "pool-a",
			SpecDigest: "abc",
		}
		if err := store.SaveVM(ctx, vm); err != nil {
			t.Fatalf("SaveVM: %v", err)
		}

		got, found, err := store.FindVM(ctx, "dep", "web", 0)
		if err != nil {
			t.Fatalf("FindVM: %v", err)
		}
		if !found {
			t.Fatalf("FindVM: not found")
		}
		if got.VMID != "vm-1" || got.SpecDigest != "abc" {
			t.Fatalf("FindVM: got %+v", got)
		}
	})

	t.Run("FindVMNotFound", func(t *testing.T) {
		store := factory(t)
		_, found, err := store.FindVM(context.Background(), "dep", "web", 99)
		if err != nil {
			t.Fatalf("FindVM: %v", err)
		}
		if found {
			t.Fatalf("FindVM: expected not found")
		}
	})

	t.Run("IdleVMs", func(t *testing.T) {
		store := factory(t)
		ctx := context.Background()

		if err := store.SaveVM(ctx, domain.VMRecord{VMID: "idle-1", Deployment: "dep", Pool: "pool-a", IsIdle: true}); err != nil {
			t.Fatal(err)
		}
		if err := store.SaveVM(ctx, domain.VMRecord{VMID: "idle-2", Deployment: "dep", Pool: "pool-b", IsIdle: true}); err != nil {
			t.Fatal(err)
		}

		got, err := store.IdleVMs(ctx, "dep", "pool-a")
		if err != nil {
			t.Fatalf("IdleVMs: %v", err)
		}
		if len(got) != 1 || got[0].VMID != "idle-1" {
			t.Fatalf("IdleVMs: got %+v", got)
		}
	})

	t.Run("DeleteVM", func(t *testing.T) {
		store := factory(t)
		ctx := context.Background()

		if err := store.SaveVM(ctx, domain.VMRecord{VMID: "vm-1", Deployment: "dep", Job: "web", Index: 0}); err != nil {
			t.Fatal(err)
		}
		if err := store.DeleteVM(ctx, "vm-1"); err != nil {
			t.Fatalf("DeleteVM: %v", err)
		}
		_, found, err := store.FindVM(ctx, "dep", "web", 0)
		if err != nil {
			t.Fatalf("FindVM: %v", err)
		}
		if found {
			t.Fatalf("FindVM: expected gone after delete")
		}
	})

	t.Run("CommitReleaseVersions", func(t *testing.T) {
		store := factory(t)
		ctx := context.Background()
		err := store.CommitReleaseVersions(ctx, "dep", map[domain.ReleaseName]string{"r1": "1.0"})
		if err != nil {
			t.Fatalf("CommitReleaseVersions: %v", err)
		}
	})

	t.Run("UpdateStemcellReferences", func(t *testing.T) {
		store := factory(t)
		ctx := context.Background()
		err := store.UpdateStemcellReferences(ctx, "dep", []domain.StemcellRef{{Name: "ubuntu", Version: "1"}})
		if err != nil {
			t.Fatalf("UpdateStemcellReferences: %v", err)
		}
	})

	t.Run("SaveManifest", func(t *testing.T) {
		store := factory(t)
		ctx := context.Background()
		if err := store.SaveManifest(ctx, "dep", "name: dep\n"); err != nil {
			t.Fatalf("SaveManifest: %v", err)
		}
	})

	t.Run("DeploymentRecordLifecycle", func(t *testing.T) {
		store := factory(t)
		ctx := context.Background()

		rec := domain.DeploymentRecord{Name: "dep", State: domain.DeploymentPending, Manifest: "name: dep\n"}
		if err := store.SaveDeploymentRecord(ctx, rec); err != nil {
			t.Fatalf("SaveDeploymentRecord: %v", err)
		}

		got, err := store.GetDeploymentRecord(ctx, "dep")
		if err != nil {
			t.Fatalf("GetDeploymentRecord: %v", err)
		}
		if got.State != domain.DeploymentPending {
			t.Fatalf("State = %q, want %q", got.State, domain.DeploymentPending)
		}

		rec.State = domain.DeploymentActive
		if err := store.SaveDeploymentRecord(ctx, rec); err != nil {
			t.Fatalf("SaveDeploymentRecord (update): %v", err)
		}
		got, err = store.GetDeploymentRecord(ctx, "dep")
		if err != nil {
			t.Fatalf("GetDeploymentRecord: %v", err)
		}
		if got.State != domain.DeploymentActive {
			t.Fatalf("State after update = %q, want %q", got.State, domain.DeploymentActive)
		}

		all, err := store.ListDeploymentRecords(ctx)
		if err != nil {
			t.Fatalf("ListDeploymentRecords: %v", err)
		}
		if len(all) != 1 {
			t.Fatalf("ListDeploymentRecords: got %d, want 1", len(all))
		}

		if err := store.DeleteDeploymentRecord(ctx, "dep"); err != nil {
			t.Fatalf("DeleteDeploymentRecord: %v", err)
		}
		if _, err := store.GetDeploymentRecord(ctx, "dep"); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("GetDeploymentRecord after delete: got %v, want ErrNotFound", err)
		}
	})
}
