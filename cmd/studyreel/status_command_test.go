package main

import (
	"testing"

	"studyreel/internal/testsupport"
)

func TestStatusReportsQueueCounts(t *testing.T) {
	env := setupCLITestEnv(t)

	testsupport.NewTopicJob(t, env.store, "photosynthesis")
	testsupport.NewTopicJob(t, env.store, "mitosis")

	out, _, err := runCLI(t, env.configPath, "status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	requireContains(t, out, "not running")
	requireContains(t, out, "queued")
	requireContains(t, out, "2")
}

func TestHealthListsEveryStage(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, env.configPath, "health")
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	for _, name := range []string{"extract", "script", "timeline", "assets", "voice", "captions", "render", "finalize"} {
		requireContains(t, out, name)
	}
}

func TestSweepReportsRemovedCount(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, env.configPath, "sweep")
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	requireContains(t, out, "Swept 0 expired job(s)")
}
