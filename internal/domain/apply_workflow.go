package domain

import (
	"context"
	"fmt"
)

// ApplyRequest is the input to one Apply workflow execution.
type ApplyRequest struct {
	Deployment   DeploymentName
	ManifestYAML map[string]any
	ManifestText string
	Recreate     bool
	// JobStateOverrides mirrors the CLI's --job-state flag: "job/index" ->
	// forced target state, merged over the manifest's own job_state_overrides.
	JobStateOverrides map[string]InstanceState
}

// ApplyResult is the terminal output of one Apply workflow execution.
type ApplyResult struct {
	Deployment DeploymentName
	Jobs       []JobResult
}

// ApplyWorkflow composes the Deployment Planner, Assembler, Resource Pool
// Updater, and Batch Multi-Job Updater into the single durable workflow a
// WorkflowEngine drives (spec.md components 4.1-4.6, run end to end). Its
// Run method is engine-agnostic: it only calls RunActivity, so any
// WorkflowEngine (go-workflows, DBOS, the in-process sync runner) can host
// it by supplying a DurableRunner.
type ApplyWorkflow struct {
	Store Store
	CPI   CPI
	Agent Agent
	Lock  Lock
	Clock Clock
	Sink  EventSink

	MaxPoolConcurrency int
}

// ParseActivity is exported so WorkflowEngine adapters can register it by
// name with their respective durable execution backends.
func (wf *ApplyWorkflow) ParseActivity() Activity[ApplyRequest, *Plan] {
	return NewActivity("parse_manifest", func(ctx context.Context, req ApplyRequest) (*Plan, error) {
		raw := FromAny(req.ManifestYAML)
		refs := PeekDeclaredReleases(raw)
		catalog, err := wf.Store.ReleaseCatalog(ctx, refs)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStoreTransactionFailed, err)
		}
		plan, err := ParseManifest(raw, catalog)
		if err != nil {
			return nil, err
		}
		for key, state := range req.JobStateOverrides {
			job, idx, ok := splitJobIndex(key)
			if !ok {
				continue
			}
			if j, found := plan.Jobs[job]; found {
				if j.JobStateOverrides == nil {
					j.JobStateOverrides = map[int]InstanceState{}
				}
				j.JobStateOverrides[idx] = state
			}
		}
		return plan, nil
	})
}

func (wf *ApplyWorkflow) AssembleActivity() Activity[assembleInput, []InstanceDiff] {
	return NewActivity("assemble", func(ctx context.Context, in assembleInput) ([]InstanceDiff, error) {
		a := &Assembler{Store: wf.Store}
		return a.Assemble(ctx, in.Plan, in.Recreate, wf.Sink, wf.now)
	})
}

func (wf *ApplyWorkflow) ReconcilePoolsActivity() Activity[*Plan, struct{}] {
	return NewActivity("reconcile_pools", func(ctx context.Context, plan *Plan) (struct{}, error) {
		u := &ResourcePoolUpdater{Store: wf.Store, CPI: wf.CPI}
		maxInFlight := wf.MaxPoolConcurrency
		if maxInFlight < 1 {
			maxInFlight = 4
		}
		return struct{}{}, u.Reconcile(ctx, plan, maxInFlight, wf.Sink, wf.now)
	})
}

func (wf *ApplyWorkflow) BatchUpdateActivity() Activity[batchInput, []JobResult] {
	return NewActivity("batch_update", func(ctx context.Context, in batchInput) ([]JobResult, error) {
		b := &BatchUpdater{NewJobUpdater: func() *JobUpdater {
			return &JobUpdater{CPI: wf.CPI, Agent: wf.Agent, Store: wf.Store, Clock: wf.Clock}
		}}
		results, err := b.Run(ctx, in.Deployment, in.Plan, in.Diffs, wf.Sink, wf.now)
		return results, err
	})
}

func (wf *ApplyWorkflow) FinalizeActivity() Activity[finalizeInput, struct{}] {
	return NewActivity("finalize", func(ctx context.Context, in finalizeInput) (struct{}, error) {
		releases := map[ReleaseName]string{}
		var stemcells []StemcellRef
		for _, job := range in.Plan.Jobs {
			if job.ReleaseVersion != nil {
				releases[job.ReleaseVersion.Release] = job.ReleaseVersion.Version
			}
			if pool, ok := in.Plan.ResourcePools[job.ResourcePool]; ok {
				stemcells = append(stemcells, pool.Stemcell)
			}
		}

		// Per-release shared locks are held only around the commit that
		// rewrites the deployment's release-version set (spec.md section 5
		// "Shared resource policy"), not the whole Finalize activity.
		unlocks := make([]func(), 0, len(releases))
		for release := range releases {
			unlock, err := wf.Lock.AcquireShared(ctx, release)
			if err != nil {
				for _, u := range unlocks {
					u()
				}
				return struct{}{}, fmt.Errorf("%w: %v", ErrLockUnavailable, err)
			}
			unlocks = append(unlocks, unlock)
		}
		commitErr := wf.Store.CommitReleaseVersions(ctx, in.Plan.DeploymentName, releases)
		stemcellErr := error(nil)
		if commitErr == nil {
			stemcellErr = wf.Store.UpdateStemcellReferences(ctx, in.Plan.DeploymentName, stemcells)
		}
		for _, unlock := range unlocks {
			unlock()
		}
		if commitErr != nil {
			return struct{}{}, fmt.Errorf("%w: %v", ErrStoreTransactionFailed, commitErr)
		}
		if stemcellErr != nil {
			return struct{}{}, fmt.Errorf("%w: %v", ErrStoreTransactionFailed, stemcellErr)
		}

		if err := wf.Store.SaveManifest(ctx, in.Plan.DeploymentName, in.ManifestText); err != nil {
			return struct{}{}, fmt.Errorf("%w: %v", ErrStoreTransactionFailed, err)
		}
		return struct{}{}, nil
	})
}

type assembleInput struct {
	Plan     *Plan
	Recreate bool
}

type batchInput struct {
	Deployment DeploymentName
	Plan       *Plan
	Diffs      map[JobName][]InstanceDiff
}

type finalizeInput struct {
	Plan         *Plan
	ManifestText string
}

func (wf *ApplyWorkflow) now() int64 {
	if wf.Clock == nil {
		return SystemClock{}.Now().Unix()
	}
	return wf.Clock.Now().Unix()
}

// Run drives the full Apply workflow body: acquire the deployment lock for
// the duration of the run, parse, assemble, reconcile pools, batch-update,
// then finalize (spec.md section 5 "Shared resource policy" — the
// exclusive deployment lock is held for the whole apply).
func (wf *ApplyWorkflow) Run(runner DurableRunner, req ApplyRequest) (ApplyResult, error) {
	ctx := runner.Context()

	release, err := wf.Lock.AcquireExclusive(ctx, req.Deployment)
	if err != nil {
		return ApplyResult{}, fmt.Errorf("%w: %v", ErrLockUnavailable, err)
	}
	defer release()

	plan, err := RunActivity(runner, wf.ParseActivity(), req)
	if err != nil {
		return ApplyResult{}, err
	}

	diffs, err := RunActivity(runner, wf.AssembleActivity(), assembleInput{Plan: plan, Recreate: req.Recreate})
	if err != nil {
		return ApplyResult{}, err
	}

	if _, err := RunActivity(runner, wf.ReconcilePoolsActivity(), plan); err != nil {
		return ApplyResult{}, err
	}

	byJob := map[JobName][]InstanceDiff{}
	for _, d := range diffs {
		byJob[d.Job] = append(byJob[d.Job], d)
	}

	results, err := RunActivity(runner, wf.BatchUpdateActivity(), batchInput{Deployment: req.Deployment, Plan: plan, Diffs: byJob})
	batchErr := err
	haltedOrFailed := batchErr != nil
	for _, r := range results {
		if r.State == JobHalted {
			haltedOrFailed = true
		}
	}

	if !haltedOrFailed {
		if _, err := RunActivity(runner, wf.FinalizeActivity(), finalizeInput{Plan: plan, ManifestText: req.ManifestText}); err != nil {
			return ApplyResult{Deployment: req.Deployment, Jobs: results}, err
		}
	}

	return ApplyResult{Deployment: req.Deployment, Jobs: results}, batchErr
}

func splitJobIndex(key string) (JobName, int, bool) {
	for i := len(key) - 1; i >= 0; i-- {
		if key[i] == '/' {
			idx := 0
			for _, c := range key[i+1:] {
				if c < '0' || c > '9' {
					return "", 0, false
				}
				idx = idx*10 + int(c-'0')
			}
			return JobName(key[:i]), idx, true
		}
	}
	return "", 0, false
}
