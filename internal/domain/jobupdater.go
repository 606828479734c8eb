package domain

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// JobState is the per-job rollout state machine (spec.md 4.5).
type JobState string

const (
	JobIdle      JobState = "idle"
	JobCanaries  JobState = "canaries"
	JobBatches   JobState = "batches"
	JobDone      JobState = "done"
	JobHalted    JobState = "halted"
)

// InstanceTxState is the per-instance transition state machine (spec.md
// 4.5): PLANNED -> STOPPING -> APPLYING -> STARTING -> WATCHING -> DONE,
// with FAILED reachable from any step.
type InstanceTxState string

const (
	TxPlanned  InstanceTxState = "planned"
	TxStopping InstanceTxState = "stopping"
	TxApplying InstanceTxState = "applying"
	TxStarting InstanceTxState = "starting"
	TxWatching InstanceTxState = "watching"
	TxDone     InstanceTxState = "done"
	TxFailed   InstanceTxState = "failed"
)

// JobUpdater executes one job's canary-then-batch rollout.
type JobUpdater struct {
	CPI   CPI
	Agent Agent
	Store Store
	Clock Clock
}

// JobResult carries the terminal state reached by Run.
type JobResult struct {
	Job   JobName
	State JobState
	Err   error
}

// Run executes the canary-then-batch algorithm of spec.md 4.5 over the
// non-noop diffs for one job. Diffs must already be sorted by Index; Run
// sorts defensively to not depend on caller order.
func (u *JobUpdater) Run(ctx context.Context, deployment DeploymentName, job *Job, diffs []InstanceDiff, sink EventSink, now func() int64) JobResult {
	work := make([]InstanceDiff, 0, len(diffs))
	for _, d := range diffs {
		if d.Kind != ChangeNoop {
			work = append(work, d)
		}
	}
	sort.Slice(work, func(i, j int) bool { return work[i].Index < work[j].Index })

	if len(work) == 0 {
		return JobResult{Job: job.Name, State: JobDone}
	}

	stage := NewStager(sink, fmt.Sprintf("Updating job %s", job.Name), len(work), now)

	canarySize := job.Update.Canaries
	if canarySize > len(work) {
		canarySize = len(work)
	}
	canarySet := work[:canarySize]
	rest := work[canarySize:]

	canaryConcurrency := job.Update.Canaries
	if job.Update.MaxInFlight < canaryConcurrency {
		canaryConcurrency = job.Update.MaxInFlight
	}
	if canaryConcurrency < 1 {
		canaryConcurrency = 1
	}

	if len(canarySet) > 0 {
		ok := u.runGroup(ctx, deployment, stage, canarySet, 1, canaryConcurrency, job.Update.CanaryWatchTime, "canary")
		if !ok {
			return JobResult{Job: job.Name, State: JobHalted, Err: fmt.Errorf("%w: job %s: canary failed", ErrRuntimeJobHalted, job.Name)}
		}
	}

	offset := len(canarySet) + 1
	for start := 0; start < len(rest); start += job.Update.MaxInFlight {
		end := start + job.Update.MaxInFlight
		if end > len(rest) {
			end = len(rest)
		}
		batch := rest[start:end]
		ok := u.runGroup(ctx, deployment, stage, batch, offset, len(batch), job.Update.UpdateWatchTime)
		offset += len(batch)
		if !ok {
			return JobResult{Job: job.Name, State: JobHalted, Err: fmt.Errorf("%w: job %s: batch failed", ErrRuntimeJobHalted, job.Name)}
		}
	}

	return JobResult{Job: job.Name, State: JobDone}
}

// runGroup executes one concurrency group (the canary set, or one batch)
// with the given bound, waiting for every dispatched instance to reach a
// terminal state before returning — even after a sibling fails — matching
// spec.md 4.5: "the batch waits for in-flight siblings to complete, then
// HALTS". indexBase is the 1-based event index of the group's first member.
func (u *JobUpdater) runGroup(ctx context.Context, deployment DeploymentName, stage *Stager, group []InstanceDiff, indexBase, concurrency int, watch WatchWindow, tags ...string) bool {
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup
	results := make([]bool, len(group))

	for i, diff := range group {
		i, diff := i, diff
		index := indexBase + i
		sem <- struct{}{}
		wg.Add(1)
		task := fmt.Sprintf("%s/%d", diff.Job, diff.Index)
		stage.Started(index, task, tags...)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			if err := u.transition(ctx, deployment, diff, watch); err != nil {
				stage.Failed(index, task, err, tags...)
				results[i] = false
				return
			}
			stage.Finished(index, task, tags...)
			results[i] = true
		}()
	}
	wg.Wait()

	for _, ok := range results {
		if !ok {
			return false
		}
	}
	return true
}

// transition runs the per-instance state machine for one diff (spec.md
// 4.5): drain/stop always happens first when there is an existing VM;
// the target state then decides whether to delete, leave stopped, or
// apply+start+watch.
func (u *JobUpdater) transition(ctx context.Context, deployment DeploymentName, diff InstanceDiff, watch WatchWindow) error {
	target := diff.Target

	if diff.Kind == ChangeDelete {
		return u.drainAndRemove(ctx, diff.ExistingVM)
	}

	if diff.ExistingVM != nil {
		if err := u.drain(ctx, diff.ExistingVM.VMID); err != nil {
			return err
		}
	}

	switch target.TargetState {
	case InstanceDetached:
		if diff.ExistingVM == nil {
			return nil
		}
		return u.drainAndRemove(ctx, diff.ExistingVM)

	case InstanceStopped:
		if diff.ExistingVM != nil && !needsReplacement(diff.Kind) {
			return u.Agent.Stop(ctx, diff.ExistingVM.VMID)
		}
		vmID, err := u.provisionVM(ctx, deployment, diff)
		if err != nil {
			return err
		}
		return u.Agent.Stop(ctx, vmID)

	case InstanceStarted:
		vmID := ""
		if diff.ExistingVM != nil && !needsReplacement(diff.Kind) {
			vmID = diff.ExistingVM.VMID
		} else {
			var err error
			vmID, err = u.provisionVM(ctx, deployment, diff)
			if err != nil {
				return err
			}
		}
		if err := u.Agent.Apply(ctx, vmID, diff.Spec); err != nil {
			return fmt.Errorf("%w: %v", ErrCPI, err)
		}
		if err := u.Agent.Start(ctx, vmID); err != nil {
			return fmt.Errorf("%w: %v", ErrAgentUnreachable, err)
		}
		if err := u.watchUntilRunning(ctx, vmID, watch); err != nil {
			return err
		}
		return u.Store.SaveVM(ctx, VMRecord{
			VMID:       vmID,
			Deployment: deployment,
			Job:        diff.Job,
			Index:      diff.Index,
			Pool:       diff.Spec.ResourcePool,
			Stemcell:   diff.Spec.Stemcell,
			Networks:   diff.Spec.Networks,
			SpecDigest: diff.Target.TargetSpecDigest,
			DiskID:     diff.ExistingVM.diskIDOr(""),
		})

	default:
		return fmt.Errorf("%w: unknown target state %q", ErrInvariantViolated, target.TargetState)
	}
}

func needsReplacement(kind ChangeKind) bool {
	return kind == ChangeCreate || kind == ChangeRecreate
}

func (v *VMRecord) diskIDOr(def string) string {
	if v == nil {
		return def
	}
	return v.DiskID
}

func (u *JobUpdater) drain(ctx context.Context, vmID string) error {
	if err := u.Agent.Drain(ctx, vmID, "update"); err != nil {
		return fmt.Errorf("%w: drain: %v", ErrAgentUnreachable, err)
	}
	if err := u.Agent.Stop(ctx, vmID); err != nil {
		return fmt.Errorf("%w: stop: %v", ErrAgentUnreachable, err)
	}
	return nil
}

func (u *JobUpdater) drainAndRemove(ctx context.Context, vm *VMRecord) error {
	if vm == nil {
		return nil
	}
	if err := u.drain(ctx, vm.VMID); err != nil {
		return err
	}
	if err := u.CPI.DeleteVM(ctx, vm.VMID); err != nil {
		return fmt.Errorf("%w: %v", ErrCPI, err)
	}
	if vm.DiskID != "" {
		if err := u.CPI.DetachDisk(ctx, vm.VMID, vm.DiskID); err != nil {
			return fmt.Errorf("%w: %v", ErrDiskAttachment, err)
		}
	}
	return u.Store.DeleteVM(ctx, vm.VMID)
}

func (u *JobUpdater) provisionVM(ctx context.Context, deployment DeploymentName, diff InstanceDiff) (string, error) {
	if diff.ExistingVM != nil {
		if err := u.CPI.DeleteVM(ctx, diff.ExistingVM.VMID); err != nil {
			return "", fmt.Errorf("%w: %v", ErrCPI, err)
		}
		if err := u.Store.DeleteVM(ctx, diff.ExistingVM.VMID); err != nil {
			return "", fmt.Errorf("%w: %v", ErrStoreTransactionFailed, err)
		}
	}

	var diskCIDs []string
	if diff.Spec.PersistentDiskMB > 0 {
		diskID, err := u.CPI.CreateDisk(ctx, diff.Spec.PersistentDiskMB, Null())
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrDiskAttachment, err)
		}
		diskCIDs = append(diskCIDs, diskID)
	}

	cid, err := u.CPI.CreateVM(ctx, diff.Spec.Stemcell, Null(), diff.Spec.Networks, diskCIDs)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCPI, err)
	}
	for _, diskID := range diskCIDs {
		if err := u.CPI.AttachDisk(ctx, cid, diskID); err != nil {
			return "", fmt.Errorf("%w: %v", ErrDiskAttachment, err)
		}
	}
	if err := u.Agent.Prepare(ctx, cid, diff.Spec); err != nil {
		return "", fmt.Errorf("%w: %v", ErrAgentUnreachable, err)
	}
	return cid, nil
}

// watchUntilRunning polls the agent between watch.MinMillis and
// watch.MaxMillis, failing if the VM is not "running" by the max
// (spec.md 4.5 / 5 "per-instance watch has a hard deadline").
func (u *JobUpdater) watchUntilRunning(ctx context.Context, vmID string, watch WatchWindow) error {
	deadline := u.Clock.Now().Add(time.Duration(watch.MaxMillis) * time.Millisecond)
	if watch.MinMillis > 0 {
		if err := u.Clock.Sleep(ctx, time.Duration(watch.MinMillis)*time.Millisecond); err != nil {
			return fmt.Errorf("%w: %v", ErrCancelled, err)
		}
	}
	const pollInterval = 500 * time.Millisecond
	for {
		state, err := u.Agent.GetState(ctx, vmID)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrAgentUnreachable, err)
		}
		if state == AgentRunning {
			return nil
		}
		if !u.Clock.Now().Before(deadline) {
			return fmt.Errorf("%w: vm %s not running within watch window", ErrAgentNotReady, vmID)
		}
		if err := u.Clock.Sleep(ctx, pollInterval); err != nil {
			return fmt.Errorf("%w: %v", ErrCancelled, err)
		}
	}
}
