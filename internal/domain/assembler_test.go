package domain

import (
	"context"
	"testing"
)

func testPlan() *Plan {
	pool := &ResourcePool{Name: "default", Size: 3, Stemcell: StemcellRef{Name: "bionic", Version: "1"}, Network: "default"}
	job := &Job{
		Name:         "web",
		ResourcePool: "default",
		Networks:     []NetworkName{"default"},
		Instances:    2,
		Update:       DefaultUpdateConfig(),
	}
	return &Plan{
		DeploymentName: "webapp",
		ResourcePools:  map[PoolName]*ResourcePool{"default": pool},
		Jobs:           map[JobName]*Job{"web": job},
		JobOrder:       []JobName{"web"},
	}
}

func TestAssembler_AllNewInstancesAreCreates(t *testing.T) {
	a := &Assembler{Store: newFakeStore()}
	diffs, err := a.Assemble(context.Background(), testPlan(), false, NopSink{}, func() int64 { return 0 })
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if len(diffs) != 2 {
		t.Fatalf("got %d diffs, want 2", len(diffs))
	}
	for _, d := range diffs {
		if d.Kind != ChangeCreate {
			t.Fatalf("instance %d: Kind = %q, want %q", d.Index, d.Kind, ChangeCreate)
		}
	}
}

func TestAssembler_UnchangedInstanceIsNoop(t *testing.T) {
	store := newFakeStore()
	plan := testPlan()
	job := plan.Jobs["web"]
	job.Instances = 1

	spec := buildInstanceSpec(plan, job, 0)
	store.seed(VMRecord{
		VMID: "vm-0", Deployment: "webapp", Job: "web", Index: 0,
		Pool: "default", Stemcell: StemcellRef{Name: "bionic", Version: "1"},
		Networks: []NetworkName{"default"}, SpecDigest: SpecDigest(spec),
	})

	a := &Assembler{Store: store}
	diffs, err := a.Assemble(context.Background(), plan, false, NopSink{}, func() int64 { return 0 })
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if len(diffs) != 1 || diffs[0].Kind != ChangeNoop {
		t.Fatalf("diffs = %+v, want a single noop", diffs)
	}
}

func TestAssembler_TopologyChangeForcesRecreate(t *testing.T) {
	store := newFakeStore()
	plan := testPlan()
	job := plan.Jobs["web"]
	job.Instances = 1

	spec := buildInstanceSpec(plan, job, 0)
	store.seed(VMRecord{
		VMID: "vm-0", Deployment: "webapp", Job: "web", Index: 0,
		Pool: "default", Stemcell: StemcellRef{Name: "xenial", Version: "1"}, // stale stemcell
		Networks: []NetworkName{"default"}, SpecDigest: SpecDigest(spec),
	})

	a := &Assembler{Store: store}
	diffs, err := a.Assemble(context.Background(), plan, false, NopSink{}, func() int64 { return 0 })
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if len(diffs) != 1 || diffs[0].Kind != ChangeRecreate {
		t.Fatalf("diffs = %+v, want a single recreate", diffs)
	}
}

func TestAssembler_ForceRecreateOverridesNoop(t *testing.T) {
	store := newFakeStore()
	plan := testPlan()
	job := plan.Jobs["web"]
	job.Instances = 1

	spec := buildInstanceSpec(plan, job, 0)
	store.seed(VMRecord{
		VMID: "vm-0", Deployment: "webapp", Job: "web", Index: 0,
		Pool: "default", Stemcell: StemcellRef{Name: "bionic", Version: "1"},
		Networks: []NetworkName{"default"}, SpecDigest: SpecDigest(spec),
	})

	a := &Assembler{Store: store}
	diffs, err := a.Assemble(context.Background(), plan, true, NopSink{}, func() int64 { return 0 })
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if len(diffs) != 1 || diffs[0].Kind != ChangeRecreate {
		t.Fatalf("diffs = %+v, want a single forced recreate", diffs)
	}
}

func TestAssembler_RemovedInstanceIsDelete(t *testing.T) {
	store := newFakeStore()
	plan := testPlan()
	job := plan.Jobs["web"]
	job.Instances = 1 // was 2, now scaled down to 1: index 1 must be deleted

	store.seed(VMRecord{VMID: "vm-1", Deployment: "webapp", Job: "web", Index: 1, Pool: "default"})

	a := &Assembler{Store: store}
	diffs, err := a.Assemble(context.Background(), plan, false, NopSink{}, func() int64 { return 0 })
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	var deletes int
	for _, d := range diffs {
		if d.Kind == ChangeDelete {
			deletes++
			if d.Index != 1 {
				t.Fatalf("delete diff Index = %d, want 1", d.Index)
			}
		}
	}
	if deletes != 1 {
		t.Fatalf("got %d delete diffs, want 1", deletes)
	}
}

func TestAssembler_RenameBindsToOldJobNameVM(t *testing.T) {
	store := newFakeStore()
	plan := testPlan()
	job := plan.Jobs["web"]
	job.Instances = 1
	job.Rename = "web-old"

	spec := buildInstanceSpec(plan, job, 0)
	store.seed(VMRecord{
		VMID: "vm-0", Deployment: "webapp", Job: "web-old", Index: 0,
		Pool: "default", Stemcell: StemcellRef{Name: "bionic", Version: "1"},
		Networks: []NetworkName{"default"}, SpecDigest: SpecDigest(spec),
	})

	a := &Assembler{Store: store}
	diffs, err := a.Assemble(context.Background(), plan, false, NopSink{}, func() int64 { return 0 })
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if len(diffs) != 1 {
		t.Fatalf("got %d diffs, want 1", len(diffs))
	}
	if diffs[0].Kind != ChangeNoop {
		t.Fatalf("Kind = %q, want %q (rename should bind to the old job name's VM, not plan a create)", diffs[0].Kind, ChangeNoop)
	}
	if diffs[0].Job != "web" {
		t.Fatalf("Job = %q, want the new job name %q", diffs[0].Job, "web")
	}
	if diffs[0].ExistingVM == nil || diffs[0].ExistingVM.VMID != "vm-0" {
		t.Fatalf("ExistingVM = %+v, want the VM record found under the old job name", diffs[0].ExistingVM)
	}
}
