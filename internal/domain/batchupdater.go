package domain

import (
	"context"
	"sync"
)

// BatchUpdater runs the Job Updaters for every job in a plan, honoring the
// serial/parallel scheduling rule of spec.md 4.6.
type BatchUpdater struct {
	NewJobUpdater func() *JobUpdater
}

// run is one maximal group of jobs that execute concurrently: either a
// single serial job, or a contiguous run of parallel jobs.
type run struct {
	jobs   []JobName
	serial bool
}

// planRuns partitions jobOrder into runs delimited by serial jobs (spec.md
// 4.6 steps 1-2): a serial job forms a run of its own; consecutive
// non-serial jobs form one parallel run.
func planRuns(jobOrder []JobName, jobs map[JobName]*Job) []run {
	var runs []run
	var parallel []JobName
	flush := func() {
		if len(parallel) > 0 {
			runs = append(runs, run{jobs: parallel})
			parallel = nil
		}
	}
	for _, name := range jobOrder {
		job := jobs[name]
		if job.Update.Serial {
			flush()
			runs = append(runs, run{jobs: []JobName{name}, serial: true})
			continue
		}
		parallel = append(parallel, name)
	}
	flush()
	return runs
}

// Run executes every run in order, jobs within a run concurrently. On the
// first job failure within a run, not-yet-started runs are cancelled; jobs
// already in flight in the current run are allowed to reach HALTED before
// Run returns the first error (spec.md 4.6 step 4).
func (b *BatchUpdater) Run(ctx context.Context, deployment DeploymentName, plan *Plan, diffs map[JobName][]InstanceDiff, sink EventSink, now func() int64) ([]JobResult, error) {
	runs := planRuns(plan.JobOrder, plan.Jobs)

	var all []JobResult
	var firstErr error

	for _, r := range runs {
		if firstErr != nil {
			break
		}
		results := make([]JobResult, len(r.jobs))
		var wg sync.WaitGroup
		for i, name := range r.jobs {
			i, name := i, name
			wg.Add(1)
			go func() {
				defer wg.Done()
				u := b.NewJobUpdater()
				results[i] = u.Run(ctx, deployment, plan.Jobs[name], diffs[name], sink, now)
			}()
		}
		wg.Wait()

		all = append(all, results...)
		for _, res := range results {
			if res.Err != nil && firstErr == nil {
				firstErr = res.Err
			}
		}
	}

	return all, firstErr
}
