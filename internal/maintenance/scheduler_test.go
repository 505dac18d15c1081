package maintenance

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/angelmondragon/marketplace-checkout/pkg/logger"
)

type fakeLock struct {
	held     bool
	acquires int
	releases int
}

func (f *fakeLock) Acquire(context.Context) (bool, error) {
	if f.held {
		return false, nil
	}
	f.held = true
	f.acquires++
	return true, nil
}

func (f *fakeLock) Release(context.Context) error {
	f.held = false
	f.releases++
	return nil
}

type testJob struct {
	name string
	err  error
	runs int
}

func (t *testJob) Name() string { return t.name }

func (t *testJob) Run(context.Context) error {
	t.runs++
	return t.err
}

type recordingObserver struct {
	success []string
	failure []string
	timed   int
}

func (r *recordingObserver) ObserveDuration(string, time.Duration) { r.timed++ }
func (r *recordingObserver) IncSuccess(job string)                 { r.success = append(r.success, job) }
func (r *recordingObserver) IncFailure(job string)                 { r.failure = append(r.failure, job) }

func TestSchedulerRunsAllJobsEvenOnFailure(t *testing.T) {
	ok := &testJob{name: "order-expiry"}
	failing := &testJob{name: "outbox-retention", err: errors.New("boom")}
	lock := &fakeLock{}
	observer := &recordingObserver{}
	scheduler, err := NewScheduler(SchedulerParams{
		Logger:   logger.Nop(),
		Registry: NewRegistry(failing, ok),
		Lock:     lock,
		Metrics:  observer,
	})
	if err != nil {
		t.Fatalf("construct scheduler: %v", err)
	}

	if err := scheduler.runCycle(context.Background()); err != nil {
		t.Fatalf("run cycle: %v", err)
	}
	if ok.runs != 1 || failing.runs != 1 {
		t.Fatalf("expected both jobs to run once, got ok=%d failing=%d", ok.runs, failing.runs)
	}
	if lock.releases != 1 || lock.held {
		t.Fatalf("expected lock released after cycle")
	}
	if observer.timed != 2 || len(observer.success) != 1 || len(observer.failure) != 1 {
		t.Fatalf("unexpected metrics: %+v", observer)
	}
	if observer.failure[0] != "outbox-retention" {
		t.Fatalf("failure recorded for wrong job %q", observer.failure[0])
	}
}

func TestSchedulerSkipsCycleWhenLockHeld(t *testing.T) {
	job := &testJob{name: "order-expiry"}
	lock := &fakeLock{held: true}
	scheduler, err := NewScheduler(SchedulerParams{
		Logger:   logger.Nop(),
		Registry: NewRegistry(job),
		Lock:     lock,
	})
	if err != nil {
		t.Fatalf("construct scheduler: %v", err)
	}

	if err := scheduler.runCycle(context.Background()); err != nil {
		t.Fatalf("run cycle: %v", err)
	}
	if job.runs != 0 {
		t.Fatalf("expected job skipped, ran %d", job.runs)
	}
	if lock.releases != 0 {
		t.Fatalf("lock released by non-holder")
	}
}

func TestSchedulerRunStopsOnCancel(t *testing.T) {
	job := &testJob{name: "order-expiry"}
	scheduler, err := NewScheduler(SchedulerParams{
		Logger:   logger.Nop(),
		Registry: NewRegistry(job),
		Lock:     &fakeLock{},
		Interval: time.Hour,
	})
	if err != nil {
		t.Fatalf("construct scheduler: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := scheduler.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if job.runs != 1 {
		t.Fatalf("expected the initial cycle to run once, ran %d", job.runs)
	}
}

func TestNewSchedulerRequiresLock(t *testing.T) {
	if _, err := NewScheduler(SchedulerParams{Logger: logger.Nop()}); err == nil {
		t.Fatal("expected error without lock")
	}
}
