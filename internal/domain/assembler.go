package domain

import (
	"context"
	"strconv"
)

// ChangeKind classifies one instance's desired-vs-actual diff (spec.md 4.3).
type ChangeKind string

const (
	ChangeCreate  ChangeKind = "create"
	ChangeUpdate  ChangeKind = "update"
	ChangeRecreate ChangeKind = "recreate"
	ChangeDelete  ChangeKind = "delete"
	ChangeNoop    ChangeKind = "noop"
)

// InstanceDiff is one row of the Assembler's output: a planned instance (or,
// for ChangeDelete, a store-only instance no longer in the plan) paired
// with its classification and whatever existing VM/disk it binds to.
type InstanceDiff struct {
	Job   JobName
	Index int
	Kind  ChangeKind

	Target *Instance
	Spec   InstanceSpec

	ExistingVM *VMRecord
}

// preparerSteps are the Assembler/Preparer's nine advertised stage steps
// (spec.md 4.3: "the Preparer advertises a nine-step stage ... total=9"),
// named the way the BOSH lineage this spec descends from names its own
// deployment-plan binding passes.
var preparerSteps = []string{
	"Binding deployment",
	"Binding releases",
	"Binding existing deployment",
	"Binding resource pools",
	"Binding stemcells",
	"Binding templates",
	"Binding properties",
	"Binding unallocated VMs",
	"Binding instance networks",
}

// Assembler binds existing store state to a Plan and classifies every
// instance's desired-vs-actual diff.
type Assembler struct {
	Store Store
}

// Assemble runs the nine-step "Preparing deployment" stage and returns one
// InstanceDiff per planned instance plus one ChangeDelete per store-only
// VM of a still-declared job at consecutive indices from the job's new
// Instances count upward (see findDeletions). VMs of jobs that are no
// longer in the plan are not enumerated.
func (a *Assembler) Assemble(ctx context.Context, plan *Plan, forceRecreate bool, sink EventSink, now func() int64) ([]InstanceDiff, error) {
	stage := NewStager(sink, "Preparing deployment", len(preparerSteps), now)
	for i, step := range preparerSteps {
		stage.Started(i+1, step)
	}

	var diffs []InstanceDiff
	seen := map[string]bool{}

	for _, jobName := range plan.JobOrder {
		job := plan.Jobs[jobName]
		for idx := 0; idx < job.Instances; idx++ {
			existing, found, err := a.Store.FindVM(ctx, plan.DeploymentName, jobName, idx)
			if err != nil {
				stage.StageFailed(1, err.Error())
				return nil, err
			}
			if !found && job.Rename != "" {
				// migrated_from style rename (spec.md 3's optional "rename"
				// mapping): the VM record still lives under the job's old
				// name, so look it up there rather than planning a create.
				existing, found, err = a.Store.FindVM(ctx, plan.DeploymentName, JobName(job.Rename), idx)
				if err != nil {
					stage.StageFailed(1, err.Error())
					return nil, err
				}
			}
			spec := buildInstanceSpec(plan, job, idx)
			digest := SpecDigest(spec)

			inst := &Instance{
				Job:              jobName,
				Index:            idx,
				TargetState:      job.TargetState(idx),
				TargetSpecDigest: digest,
				Recreate:         forceRecreate,
			}

			kind := ChangeCreate
			switch {
			case !found:
				kind = ChangeCreate
			case forceRecreate:
				kind = ChangeRecreate
				inst.CurrentVMID = existing.VMID
				inst.CurrentDiskID = existing.DiskID
				inst.CurrentSpecDigest = existing.SpecDigest
			case topologyChanged(existing, job, plan):
				kind = ChangeRecreate
				inst.CurrentVMID = existing.VMID
				inst.CurrentDiskID = existing.DiskID
				inst.CurrentSpecDigest = existing.SpecDigest
			case existing.SpecDigest != digest:
				kind = ChangeUpdate
				inst.CurrentVMID = existing.VMID
				inst.CurrentDiskID = existing.DiskID
				inst.CurrentSpecDigest = existing.SpecDigest
			default:
				kind = ChangeNoop
				inst.CurrentVMID = existing.VMID
				inst.CurrentDiskID = existing.DiskID
				inst.CurrentSpecDigest = existing.SpecDigest
			}

			key := string(jobName) + "/" + strconv.Itoa(idx)
			seen[key] = true

			var existingCopy *VMRecord
			if found {
				v := *existing
				existingCopy = &v
			}
			diffs = append(diffs, InstanceDiff{Job: jobName, Index: idx, Kind: kind, Target: inst, Spec: spec, ExistingVM: existingCopy})
		}
	}

	deletes, err := a.findDeletions(ctx, plan, seen)
	if err != nil {
		stage.StageFailed(1, err.Error())
		return nil, err
	}
	diffs = append(diffs, deletes...)

	for i := range preparerSteps {
		stage.Finished(i + 1, preparerSteps[i])
	}

	return diffs, nil
}

// findDeletions locates store-only instances no longer present in the
// plan's jobs, for every job the deployment still declares (instances
// beyond the new, lower Instances count) plus jobs removed entirely from
// the manifest are the Store's concern to enumerate: the Assembler checks
// only indices within the still-declared job range here, consulting the
// caller's seen set; a full job removal is detected by the caller querying
// the Store for job names outside plan.Jobs and is out of scope for this
// pass since it requires an enumeration capability the Store port does not
// expose beyond FindVM.
func (a *Assembler) findDeletions(ctx context.Context, plan *Plan, seen map[string]bool) ([]InstanceDiff, error) {
	var out []InstanceDiff
	for _, jobName := range plan.JobOrder {
		job := plan.Jobs[jobName]
		for idx := job.Instances; ; idx++ {
			key := string(jobName) + "/" + strconv.Itoa(idx)
			if seen[key] {
				continue
			}
			existing, found, err := a.Store.FindVM(ctx, plan.DeploymentName, jobName, idx)
			if err != nil {
				return nil, err
			}
			if !found {
				break
			}
			v := *existing
			out = append(out, InstanceDiff{
				Job:        jobName,
				Index:      idx,
				Kind:       ChangeDelete,
				Target:     &Instance{Job: jobName, Index: idx, TargetState: InstanceDetached},
				ExistingVM: &v,
			})
		}
	}
	return out, nil
}

func topologyChanged(existing *VMRecord, job *Job, plan *Plan) bool {
	if existing.Pool != job.ResourcePool {
		return true
	}
	pool, ok := plan.ResourcePools[job.ResourcePool]
	if ok && existing.Stemcell != pool.Stemcell {
		return true
	}
	if len(existing.Networks) != len(job.Networks) {
		return true
	}
	want := map[NetworkName]bool{}
	for _, n := range job.Networks {
		want[n] = true
	}
	for _, n := range existing.Networks {
		if !want[n] {
			return true
		}
	}
	return false
}

func buildInstanceSpec(plan *Plan, job *Job, index int) InstanceSpec {
	pool := plan.ResourcePools[job.ResourcePool]
	var stemcell StemcellRef
	if pool != nil {
		stemcell = pool.Stemcell
	}
	return InstanceSpec{
		Job:              job.Name,
		Index:            index,
		Templates:        job.Templates,
		ReleaseVersion:   releaseVersionKey(job.ReleaseVersion),
		ResourcePool:     job.ResourcePool,
		Stemcell:         stemcell,
		Networks:         job.Networks,
		PersistentDiskMB: job.PersistentDiskMB,
		Properties:       job.Properties,
	}
}

func releaseVersionKey(rv *ReleaseVersion) string {
	if rv == nil {
		return ""
	}
	return string(rv.Release) + "/" + rv.Version
}

