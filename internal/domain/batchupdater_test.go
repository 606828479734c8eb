package domain

import (
	"context"
	"testing"
	"time"
)

func newTestJobUpdater() *JobUpdater {
	return &JobUpdater{
		CPI:   &fakeCPI{},
		Agent: newHaltingAgent(-1),
		Store: newFakeStore(),
		Clock: fakeClock{now: time.Now()},
	}
}

func TestBatchUpdater_SerialJobsRunOneAtATime(t *testing.T) {
	plan := &Plan{
		JobOrder: []JobName{"db", "web"},
		Jobs: map[JobName]*Job{
			"db":  {Name: "db", Update: UpdateConfig{Canaries: 1, MaxInFlight: 1, Serial: true, CanaryWatchTime: WatchWindow{MaxMillis: 1000}, UpdateWatchTime: WatchWindow{MaxMillis: 1000}}},
			"web": {Name: "web", Update: UpdateConfig{Canaries: 1, MaxInFlight: 1, Serial: true, CanaryWatchTime: WatchWindow{MaxMillis: 1000}, UpdateWatchTime: WatchWindow{MaxMillis: 1000}}},
		},
	}
	diffs := map[JobName][]InstanceDiff{
		"db":  createDiffs("db", 1),
		"web": createDiffs("web", 1),
	}

	b := &BatchUpdater{NewJobUpdater: newTestJobUpdater}
	results, err := b.Run(context.Background(), "webapp", plan, diffs, NopSink{}, func() int64 { return 0 })
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	for _, r := range results {
		if r.State != JobDone {
			t.Fatalf("job %s: State = %q, want %q", r.Job, r.State, JobDone)
		}
	}
}

func TestBatchUpdater_ParallelJobsAllRun(t *testing.T) {
	plan := &Plan{
		JobOrder: []JobName{"web", "worker"},
		Jobs: map[JobName]*Job{
			"web":    {Name: "web", Update: UpdateConfig{Canaries: 1, MaxInFlight: 1, Serial: false, CanaryWatchTime: WatchWindow{MaxMillis: 1000}, UpdateWatchTime: WatchWindow{MaxMillis: 1000}}},
			"worker": {Name: "worker", Update: UpdateConfig{Canaries: 1, MaxInFlight: 1, Serial: false, CanaryWatchTime: WatchWindow{MaxMillis: 1000}, UpdateWatchTime: WatchWindow{MaxMillis: 1000}}},
		},
	}
	diffs := map[JobName][]InstanceDiff{
		"web":    createDiffs("web", 1),
		"worker": createDiffs("worker", 1),
	}

	b := &BatchUpdater{NewJobUpdater: newTestJobUpdater}
	results, err := b.Run(context.Background(), "webapp", plan, diffs, NopSink{}, func() int64 { return 0 })
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
}

func TestBatchUpdater_FailureInEarlierSerialRunStopsLaterRuns(t *testing.T) {
	plan := &Plan{
		JobOrder: []JobName{"db", "web"},
		Jobs: map[JobName]*Job{
			"db":  {Name: "db", Update: UpdateConfig{Canaries: 1, MaxInFlight: 1, Serial: true, CanaryWatchTime: WatchWindow{MaxMillis: 1000}, UpdateWatchTime: WatchWindow{MaxMillis: 1000}}},
			"web": {Name: "web", Update: UpdateConfig{Canaries: 1, MaxInFlight: 1, Serial: true, CanaryWatchTime: WatchWindow{MaxMillis: 1000}, UpdateWatchTime: WatchWindow{MaxMillis: 1000}}},
		},
	}
	diffs := map[JobName][]InstanceDiff{
		"db":  createDiffs("db", 1),
		"web": createDiffs("web", 1),
	}

	failingDBUpdater := &JobUpdater{
		CPI:   &fakeCPI{},
		Agent: newHaltingAgent(1),
		Store: newFakeStore(),
		Clock: fakeClock{now: time.Now()},
	}
	calls := 0
	newUpdater := func() *JobUpdater {
		calls++
		if calls == 1 {
			return failingDBUpdater
		}
		return newTestJobUpdater()
	}

	b := &BatchUpdater{NewJobUpdater: newUpdater}
	results, err := b.Run(context.Background(), "webapp", plan, diffs, NopSink{}, func() int64 { return 0 })
	if err == nil {
		t.Fatal("expected an error from the failed db run")
	}
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1 (the web run must not have started)", len(results))
	}
	if results[0].Job != "db" || results[0].State != JobHalted {
		t.Fatalf("results[0] = %+v, want db/halted", results[0])
	}
}
