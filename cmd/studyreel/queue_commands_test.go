package main

import (
	"context"
	"testing"

	"studyreel/internal/queue"
	"studyreel/internal/testsupport"
)

func TestQueueListShowsJobs(t *testing.T) {
	env := setupCLITestEnv(t)

	testsupport.NewTopicJob(t, env.store, "photosynthesis")
	testsupport.NewTopicJob(t, env.store, "plate tectonics")

	out, _, err := runCLI(t, env.configPath, "queue", "list")
	if err != nil {
		t.Fatalf("queue list: %v", err)
	}
	requireContains(t, out, "photosynthesis")
	requireContains(t, out, "plate tectonics")
	requireContains(t, out, "queued")
}

func TestQueueListStatusFilter(t *testing.T) {
	env := setupCLITestEnv(t)
	ctx := context.Background()

	testsupport.NewTopicJob(t, env.store, "erosion")
	job := testsupport.ClaimJob(t, env.store, "worker-1")
	job.SetFailed("render", "renderer crashed")
	if err := env.store.Update(ctx, job); err != nil {
		t.Fatalf("fail job: %v", err)
	}
	testsupport.NewTopicJob(t, env.store, "mitosis")

	out, _, err := runCLI(t, env.configPath, "queue", "list", "--status", "failed")
	if err != nil {
		t.Fatalf("queue list --status failed: %v", err)
	}
	requireContains(t, out, "erosion")
	if _, _, err := runCLI(t, env.configPath, "queue", "list", "--status", "bogus"); err == nil {
		t.Fatal("expected error for unknown status filter")
	}
}

func TestQueueRetryRequeuesFailed(t *testing.T) {
	env := setupCLITestEnv(t)
	ctx := context.Background()

	testsupport.NewTopicJob(t, env.store, "volcanoes")
	job := testsupport.ClaimJob(t, env.store, "worker-1")
	job.SetFailed("voice", "synthesis unavailable")
	if err := env.store.Update(ctx, job); err != nil {
		t.Fatalf("fail job: %v", err)
	}

	out, _, err := runCLI(t, env.configPath, "queue", "retry")
	if err != nil {
		t.Fatalf("queue retry: %v", err)
	}
	requireContains(t, out, "Requeued 1 job(s)")

	got, err := env.store.GetByID(ctx, job.ID)
	if err != nil || got == nil {
		t.Fatalf("get job: %v", err)
	}
	if got.Status != queue.StatusQueued {
		t.Fatalf("status = %s, want queued", got.Status)
	}
}

func TestQueueCancelQueuedJob(t *testing.T) {
	env := setupCLITestEnv(t)

	job := testsupport.NewTopicJob(t, env.store, "tides")

	out, _, err := runCLI(t, env.configPath, "queue", "cancel", job.ID)
	if err != nil {
		t.Fatalf("queue cancel: %v", err)
	}
	requireContains(t, out, "cancelled")

	got, err := env.store.GetByID(context.Background(), job.ID)
	if err != nil || got == nil {
		t.Fatalf("get job: %v", err)
	}
	if got.Status != queue.StatusCancelled {
		t.Fatalf("status = %s, want cancelled", got.Status)
	}
}

func TestQueueRemoveAndClear(t *testing.T) {
	env := setupCLITestEnv(t)
	ctx := context.Background()

	testsupport.NewTopicJob(t, env.store, "glaciers")
	job := testsupport.ClaimJob(t, env.store, "worker-1")
	job.SetSucceeded()
	if err := env.store.Update(ctx, job); err != nil {
		t.Fatalf("finish job: %v", err)
	}
	testsupport.NewTopicJob(t, env.store, "monsoons")

	out, _, err := runCLI(t, env.configPath, "queue", "remove", job.ID)
	if err != nil {
		t.Fatalf("queue remove: %v", err)
	}
	requireContains(t, out, "Removed job")

	out, _, err = runCLI(t, env.configPath, "queue", "clear")
	if err != nil {
		t.Fatalf("queue clear: %v", err)
	}
	requireContains(t, out, "Removed 1 job(s)")

	jobs, err := env.store.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(jobs) != 0 {
		t.Fatalf("expected empty queue, got %d jobs", len(jobs))
	}
}
