package daemonctl

import (
	"context"
	"os"
	"testing"

	"github.com/gofrs/flock"

	"studyreel/internal/queue"
	"studyreel/internal/storage"
	"studyreel/internal/testsupport"
)

func newTestControl(t *testing.T) (*Control, *queue.Store) {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctl, err := Open(cfg)
	if err != nil {
		t.Fatalf("open control: %v", err)
	}
	t.Cleanup(func() { _ = ctl.Close() })
	return ctl, store
}

func TestStatusReportsQueueCountsAndLock(t *testing.T) {
	ctl, store := newTestControl(t)
	ctx := context.Background()

	testsupport.NewTopicJob(t, store, "photosynthesis")
	testsupport.NewTopicJob(t, store, "mitosis")

	report, err := ctl.Status(ctx)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if report.DaemonRunning {
		t.Fatal("expected no daemon while lock is free")
	}
	if report.Queue.Queued != 2 {
		t.Fatalf("queued = %d, want 2", report.Queue.Queued)
	}

	lock := flock.New(report.LockPath)
	acquired, err := lock.TryLock()
	if err != nil || !acquired {
		t.Fatalf("acquire lock: acquired=%v err=%v", acquired, err)
	}
	defer lock.Unlock()

	report, err = ctl.Status(ctx)
	if err != nil {
		t.Fatalf("status with lock held: %v", err)
	}
	if !report.DaemonRunning {
		t.Fatal("expected daemon running while lock is held")
	}
}

func TestRetryRequeuesFailedJobs(t *testing.T) {
	ctl, store := newTestControl(t)
	ctx := context.Background()

	testsupport.NewTopicJob(t, store, "erosion")
	job := testsupport.ClaimJob(t, store, "worker-1")
	job.SetFailed("render", "renderer crashed")
	if err := store.Update(ctx, job); err != nil {
		t.Fatalf("fail job: %v", err)
	}

	n, err := ctl.Retry(ctx)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if n != 1 {
		t.Fatalf("retried %d jobs, want 1", n)
	}

	got, err := store.GetByID(ctx, job.ID)
	if err != nil || got == nil {
		t.Fatalf("get job: %v", err)
	}
	if got.Status != queue.StatusQueued {
		t.Fatalf("status = %s, want queued", got.Status)
	}
}

func TestRemoveRejectsRunningJob(t *testing.T) {
	ctl, store := newTestControl(t)
	ctx := context.Background()

	testsupport.NewTopicJob(t, store, "volcanoes")
	job := testsupport.ClaimJob(t, store, "worker-1")

	if err := ctl.Remove(ctx, job.ID); err == nil {
		t.Fatal("expected error removing a running job")
	}

	job.SetSucceeded()
	if err := store.Update(ctx, job); err != nil {
		t.Fatalf("finish job: %v", err)
	}
	tree := storage.NewJobTree(ctl.cfg.JobsRoot(), job.ID)
	if err := tree.Ensure(); err != nil {
		t.Fatalf("ensure tree: %v", err)
	}

	if err := ctl.Remove(ctx, job.ID); err != nil {
		t.Fatalf("remove finished job: %v", err)
	}
	if _, err := os.Stat(tree.Root()); !os.IsNotExist(err) {
		t.Fatalf("job tree still present: %v", err)
	}
	got, err := store.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if got != nil {
		t.Fatal("job record still present after remove")
	}
}

func TestCancelRequestsCancellation(t *testing.T) {
	ctl, store := newTestControl(t)
	ctx := context.Background()

	job := testsupport.NewTopicJob(t, store, "glaciers")

	status, err := ctl.Cancel(ctx, job.ID)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if status != queue.StatusCancelled {
		t.Fatalf("status = %s, want cancelled for a queued job", status)
	}

	if _, err := ctl.Cancel(ctx, "no-such-job"); err == nil {
		t.Fatal("expected error for unknown job")
	}
}

func TestSweepLeavesFreshJobsAlone(t *testing.T) {
	ctl, store := newTestControl(t)
	ctx := context.Background()

	testsupport.NewTopicJob(t, store, "tides")
	job := testsupport.ClaimJob(t, store, "worker-1")
	job.SetSucceeded()
	if err := store.Update(ctx, job); err != nil {
		t.Fatalf("finish job: %v", err)
	}

	removed, err := ctl.Sweep(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if removed != 0 {
		t.Fatalf("sweep removed %d fresh jobs", removed)
	}
}

func TestHealthChecksCoverEveryStage(t *testing.T) {
	ctl, _ := newTestControl(t)

	checks := ctl.HealthChecks(context.Background())
	if len(checks) != 8 {
		t.Fatalf("got %d health checks, want 8", len(checks))
	}
	seen := map[string]bool{}
	for _, h := range checks {
		if h.Name == "" {
			t.Fatal("health check with empty name")
		}
		seen[h.Name] = true
	}
	for _, name := range []string{"extract", "script", "render", "finalize"} {
		if !seen[name] {
			t.Fatalf("missing health check for %s", name)
		}
	}
}
