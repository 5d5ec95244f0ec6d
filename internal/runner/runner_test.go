package runner

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"studyreel/internal/config"
	"studyreel/internal/progress"
	"studyreel/internal/queue"
	"studyreel/internal/services"
	"studyreel/internal/stage"
	"studyreel/internal/storage"
	"studyreel/internal/testsupport"
)

type fakeStage struct {
	name     string
	optional bool
	fp       string
	calls    int32
	execute  func(ctx context.Context, sc *stage.Context) (stage.Result, error)
}

func (f *fakeStage) Name() string                      { return f.name }
func (f *fakeStage) Optional(queue.JobConfig) bool     { return f.optional }
func (f *fakeStage) Fingerprint(*stage.Context) string { return f.fp }

func (f *fakeStage) Execute(ctx context.Context, sc *stage.Context) (stage.Result, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.execute != nil {
		return f.execute(ctx, sc)
	}
	return stage.Result{}, nil
}

func (f *fakeStage) HealthCheck(context.Context) stage.Health {
	return stage.Healthy(f.name)
}

func (f *fakeStage) callCount() int {
	return int(atomic.LoadInt32(&f.calls))
}

type skippingStage struct {
	fakeStage
	reason string
}

func (s *skippingStage) Skip(*stage.Context) (string, bool) {
	return s.reason, s.reason != ""
}

func newTestRunner(t *testing.T, cfg *config.Config, store *queue.Store, stages ...stage.Stage) (*Runner, *progress.Hub) {
	t.Helper()
	hub := progress.NewHub(4)
	return New(cfg, store, hub, stages, nil, nil), hub
}

func claimTopicJob(t *testing.T, store *queue.Store, topic string) *queue.Job {
	t.Helper()
	testsupport.NewTopicJob(t, store, topic)
	return testsupport.ClaimJob(t, store, "test-worker")
}

// produceArtifact writes a file under the job tree and returns its manifest
// entry.
func produceArtifact(t *testing.T, cfg *config.Config, job *queue.Job, stageName, name string, final bool) queue.Artifact {
	t.Helper()
	tree := storage.NewJobTree(cfg.JobsRoot(), job.ID)
	path := filepath.Join(tree.Dir(stageName), name)
	if err := storage.WriteFileAtomic(path, []byte("content"), 0o644); err != nil {
		t.Fatalf("write artifact: %v", err)
	}
	return queue.Artifact{JobID: job.ID, Stage: stageName, Name: name, Path: path, Final: final}
}

func mustGetJob(t *testing.T, store *queue.Store, id string) *queue.Job {
	t.Helper()
	job, err := store.GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if job == nil {
		t.Fatalf("job %s missing", id)
	}
	return job
}

func TestRunJobSuccessRegistersArtifactsAndPrunes(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	job := claimTopicJob(t, store, "mitosis")

	script := &fakeStage{name: stage.Script, fp: "fp-script"}
	script.execute = func(_ context.Context, sc *stage.Context) (stage.Result, error) {
		return stage.Result{Artifacts: []queue.Artifact{
			produceArtifact(t, cfg, job, stage.Script, "script.json", false),
		}}, nil
	}
	render := &fakeStage{name: stage.Render, fp: "fp-render"}
	render.execute = func(_ context.Context, sc *stage.Context) (stage.Result, error) {
		if len(sc.Upstream[stage.Script]) != 1 {
			t.Errorf("render saw %d script artifacts, want 1", len(sc.Upstream[stage.Script]))
		}
		return stage.Result{Artifacts: []queue.Artifact{
			produceArtifact(t, cfg, job, stage.Render, "final.mp4", true),
		}}, nil
	}

	runner, hub := newTestRunner(t, cfg, store, script, render)
	sub := hub.Subscribe(job.ID)

	runner.runJob(context.Background(), "test-worker", job)

	got := mustGetJob(t, store, job.ID)
	if got.Status != queue.StatusSucceeded {
		t.Fatalf("status = %s, want %s (error: %s)", got.Status, queue.StatusSucceeded, got.ErrorMessage)
	}
	if got.ProgressPercent != 100 {
		t.Errorf("progress = %v, want 100", got.ProgressPercent)
	}

	manifest, err := store.Manifest(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("Manifest: %v", err)
	}
	if len(manifest) != 1 || manifest[0].Name != "final.mp4" {
		t.Fatalf("manifest after prune = %+v, want only final.mp4", manifest)
	}
	intermediate := filepath.Join(cfg.JobsRoot(), job.ID, stage.Script, "script.json")
	if _, err := os.Stat(intermediate); !os.IsNotExist(err) {
		t.Errorf("intermediate artifact %s not removed", intermediate)
	}

	var last progress.Event
	for evt := range sub.Events() {
		last = evt
	}
	if last.Status != queue.StatusSucceeded || last.ProgressPct != 100 {
		t.Errorf("terminal event = %+v, want succeeded at 100", last)
	}
}

func TestRunJobRetriesTransientUntilAttemptCap(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithStageAttempts(3))
	store := testsupport.MustOpenStore(t, cfg)
	job := claimTopicJob(t, store, "osmosis")

	flaky := &fakeStage{name: stage.Script, fp: "fp"}
	flaky.execute = func(context.Context, *stage.Context) (stage.Result, error) {
		return stage.Result{}, services.Wrap(services.ErrProvider, stage.Script, "generate", "upstream 503", nil)
	}

	runner, _ := newTestRunner(t, cfg, store, flaky)
	runner.runJob(context.Background(), "test-worker", job)

	if flaky.callCount() != 3 {
		t.Errorf("execute called %d times, want 3", flaky.callCount())
	}
	got := mustGetJob(t, store, job.ID)
	if got.Status != queue.StatusFailed {
		t.Fatalf("status = %s, want failed", got.Status)
	}
	if got.ErrorStage != stage.Script {
		t.Errorf("error stage = %q, want %q", got.ErrorStage, stage.Script)
	}
	if !strings.Contains(got.ErrorMessage, "upstream 503") {
		t.Errorf("error message %q missing cause", got.ErrorMessage)
	}
	rec, err := store.StageRecordFor(context.Background(), job.ID, stage.Script)
	if err != nil {
		t.Fatalf("StageRecordFor: %v", err)
	}
	if rec == nil || rec.Status != queue.StageFailed || rec.Attempt != 3 {
		t.Errorf("stage record = %+v, want failed at attempt 3", rec)
	}
}

func TestRunJobPermanentErrorFailsWithoutRetry(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithStageAttempts(3))
	store := testsupport.MustOpenStore(t, cfg)
	job := claimTopicJob(t, store, "photosynthesis")

	broken := &fakeStage{name: stage.Script, fp: "fp"}
	broken.execute = func(context.Context, *stage.Context) (stage.Result, error) {
		return stage.Result{}, services.Wrap(services.ErrValidation, stage.Script, "", "empty source", nil)
	}

	runner, _ := newTestRunner(t, cfg, store, broken)
	runner.runJob(context.Background(), "test-worker", job)

	if broken.callCount() != 1 {
		t.Errorf("execute called %d times, want 1", broken.callCount())
	}
	got := mustGetJob(t, store, job.ID)
	if got.Status != queue.StatusFailed {
		t.Errorf("status = %s, want failed", got.Status)
	}
	if !strings.Contains(got.ErrorMessage, "empty source") {
		t.Errorf("error message = %q, want the stage's own error", got.ErrorMessage)
	}
	if got.ErrorMessage == queue.CancelReason {
		t.Errorf("stage failure recorded as cancellation")
	}
}

func TestRunJobOptionalStageFailureBecomesSkip(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithStageAttempts(2))
	store := testsupport.MustOpenStore(t, cfg)
	job := claimTopicJob(t, store, "glycolysis")

	assets := &fakeStage{name: stage.Assets, fp: "fp-assets", optional: true}
	assets.execute = func(context.Context, *stage.Context) (stage.Result, error) {
		return stage.Result{}, services.Wrap(services.ErrResource, stage.Assets, "", "disk full", nil)
	}
	render := &fakeStage{name: stage.Render, fp: "fp-render"}

	runner, _ := newTestRunner(t, cfg, store, assets, render)
	runner.runJob(context.Background(), "test-worker", job)

	if got := mustGetJob(t, store, job.ID); got.Status != queue.StatusSucceeded {
		t.Fatalf("status = %s, want succeeded", got.Status)
	}
	if render.callCount() != 1 {
		t.Errorf("downstream stage called %d times, want 1", render.callCount())
	}
	rec, err := store.StageRecordFor(context.Background(), job.ID, stage.Assets)
	if err != nil {
		t.Fatalf("StageRecordFor: %v", err)
	}
	if rec == nil || rec.Status != queue.StageSkipped {
		t.Errorf("assets record = %+v, want skipped", rec)
	}
}

func TestRunJobSkipperBypassesExecution(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	job := claimTopicJob(t, store, "entropy")

	extract := &skippingStage{
		fakeStage: fakeStage{name: stage.Extract, fp: "fp-extract"},
		reason:    "topic job has no document to extract",
	}
	script := &fakeStage{name: stage.Script, fp: "fp-script"}

	runner, _ := newTestRunner(t, cfg, store, extract, script)
	runner.runJob(context.Background(), "test-worker", job)

	if extract.callCount() != 0 {
		t.Errorf("skipped stage executed %d times", extract.callCount())
	}
	rec, err := store.StageRecordFor(context.Background(), job.ID, stage.Extract)
	if err != nil {
		t.Fatalf("StageRecordFor: %v", err)
	}
	if rec == nil || rec.Status != queue.StageSkipped {
		t.Errorf("extract record = %+v, want skipped", rec)
	}
	if got := mustGetJob(t, store, job.ID); got.Status != queue.StatusSucceeded {
		t.Errorf("status = %s, want succeeded", got.Status)
	}
}

func TestRunJobReusesCachedArtifactsOnResume(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	job := claimTopicJob(t, store, "krebs cycle")

	// Simulate a prior attempt that completed the script stage before a crash.
	prior := produceArtifact(t, cfg, job, stage.Script, "script.json", false)
	rec := &queue.StageRecord{JobID: job.ID, Stage: stage.Script, Attempt: 1, Fingerprint: "fp-script"}
	if err := store.RegisterArtifacts(context.Background(), rec, []queue.Artifact{prior}); err != nil {
		t.Fatalf("RegisterArtifacts: %v", err)
	}

	script := &fakeStage{name: stage.Script, fp: "fp-script"}
	var sawUpstream int
	render := &fakeStage{name: stage.Render, fp: "fp-render"}
	render.execute = func(_ context.Context, sc *stage.Context) (stage.Result, error) {
		sawUpstream = len(sc.Upstream[stage.Script])
		return stage.Result{Artifacts: []queue.Artifact{
			produceArtifact(t, cfg, job, stage.Render, "final.mp4", true),
		}}, nil
	}

	runner, _ := newTestRunner(t, cfg, store, script, render)
	runner.runJob(context.Background(), "test-worker", job)

	if script.callCount() != 0 {
		t.Errorf("cached stage re-executed %d times", script.callCount())
	}
	if sawUpstream != 1 {
		t.Errorf("downstream saw %d cached artifacts, want 1", sawUpstream)
	}
	if got := mustGetJob(t, store, job.ID); got.Status != queue.StatusSucceeded {
		t.Errorf("status = %s, want succeeded", got.Status)
	}
}

func TestRunJobFingerprintMismatchReexecutes(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	job := claimTopicJob(t, store, "dna replication")

	prior := produceArtifact(t, cfg, job, stage.Script, "script.json", false)
	rec := &queue.StageRecord{JobID: job.ID, Stage: stage.Script, Attempt: 1, Fingerprint: "fp-old"}
	if err := store.RegisterArtifacts(context.Background(), rec, []queue.Artifact{prior}); err != nil {
		t.Fatalf("RegisterArtifacts: %v", err)
	}

	script := &fakeStage{name: stage.Script, fp: "fp-new"}
	runner, _ := newTestRunner(t, cfg, store, script)
	runner.runJob(context.Background(), "test-worker", job)

	if script.callCount() != 1 {
		t.Errorf("stage executed %d times after fingerprint change, want 1", script.callCount())
	}
}

func TestRunJobCancelBetweenStages(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	job := claimTopicJob(t, store, "volcanoes")

	script := &fakeStage{name: stage.Script, fp: "fp-script"}
	script.execute = func(context.Context, *stage.Context) (stage.Result, error) {
		if _, _, err := store.RequestCancel(context.Background(), job.ID); err != nil {
			t.Errorf("RequestCancel: %v", err)
		}
		return stage.Result{Artifacts: []queue.Artifact{
			produceArtifact(t, cfg, job, stage.Script, "script.json", false),
		}}, nil
	}
	render := &fakeStage{name: stage.Render, fp: "fp-render"}

	runner, hub := newTestRunner(t, cfg, store, script, render)
	sub := hub.Subscribe(job.ID)
	runner.runJob(context.Background(), "test-worker", job)

	got := mustGetJob(t, store, job.ID)
	if got.Status != queue.StatusCancelled {
		t.Fatalf("status = %s, want cancelled", got.Status)
	}
	if got.ErrorMessage != queue.CancelReason {
		t.Errorf("error message = %q, want %q", got.ErrorMessage, queue.CancelReason)
	}
	if render.callCount() != 0 {
		t.Errorf("stage after cancel executed %d times", render.callCount())
	}

	manifest, err := store.Manifest(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("Manifest: %v", err)
	}
	for _, artifact := range manifest {
		if artifact.Stage == stage.Render {
			t.Errorf("manifest gained %s entry after cancel", stage.Render)
		}
	}

	var last progress.Event
	for evt := range sub.Events() {
		last = evt
	}
	if last.Status != queue.StatusCancelled {
		t.Errorf("terminal event status = %s, want cancelled", last.Status)
	}
}

func TestRunJobCancelObservedAtProgressCheckpoint(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	job := claimTopicJob(t, store, "tectonics")

	render := &fakeStage{name: stage.Render, fp: "fp-render"}
	render.execute = func(ctx context.Context, sc *stage.Context) (stage.Result, error) {
		sc.ReportProgress(0.2, "encoding")
		if _, _, err := store.RequestCancel(context.Background(), job.ID); err != nil {
			t.Errorf("RequestCancel: %v", err)
		}
		sc.ReportProgress(0.5, "encoding")
		if err := ctx.Err(); err != nil {
			return stage.Result{}, err
		}
		t.Error("stage context not cancelled after cancel request")
		return stage.Result{}, nil
	}

	runner, _ := newTestRunner(t, cfg, store, render)
	runner.runJob(context.Background(), "test-worker", job)

	got := mustGetJob(t, store, job.ID)
	if got.Status != queue.StatusCancelled {
		t.Fatalf("status = %s, want cancelled", got.Status)
	}
	manifest, err := store.Manifest(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("Manifest: %v", err)
	}
	if len(manifest) != 0 {
		t.Errorf("manifest has %d entries after mid-stage cancel, want 0", len(manifest))
	}
}

func TestExecutePipelineSoftTimeoutStopsAtBoundary(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	job := claimTopicJob(t, store, "black holes")

	script := &fakeStage{name: stage.Script, fp: "fp"}
	runner, _ := newTestRunner(t, cfg, store, script)

	tree := storage.NewJobTree(cfg.JobsRoot(), job.ID)
	if err := tree.Ensure(); err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	run := &jobRun{
		job:          job,
		tree:         tree,
		jobLog:       storage.OpenJobLog(tree),
		upstream:     map[string][]queue.Artifact{},
		softDeadline: time.Now().Add(-time.Second),
	}

	status := runner.executePipeline(context.Background(), run)
	if status != queue.StatusFailed {
		t.Fatalf("status = %s, want failed", status)
	}
	if script.callCount() != 0 {
		t.Errorf("stage executed %d times past soft deadline", script.callCount())
	}
	got := mustGetJob(t, store, job.ID)
	if !strings.Contains(got.ErrorMessage, "time limit") {
		t.Errorf("error message = %q, want time limit", got.ErrorMessage)
	}
}

func TestExecutePipelineHardDeadlineFailsJob(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	job := claimTopicJob(t, store, "supernovae")

	script := &fakeStage{name: stage.Script, fp: "fp"}
	runner, _ := newTestRunner(t, cfg, store, script)

	tree := storage.NewJobTree(cfg.JobsRoot(), job.ID)
	if err := tree.Ensure(); err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	run := &jobRun{
		job:          job,
		tree:         tree,
		jobLog:       storage.OpenJobLog(tree),
		upstream:     map[string][]queue.Artifact{},
		softDeadline: time.Now().Add(time.Hour),
	}

	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()

	status := runner.executePipeline(ctx, run)
	if status != queue.StatusFailed {
		t.Fatalf("status = %s, want failed", status)
	}
	got := mustGetJob(t, store, job.ID)
	if !strings.Contains(got.ErrorMessage, "hard timeout") {
		t.Errorf("error message = %q, want hard timeout", got.ErrorMessage)
	}
}

func TestRunnerStartDrainsQueue(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithWorkers(2))
	store := testsupport.MustOpenStore(t, cfg)

	done := &fakeStage{name: stage.Script, fp: "fp"}
	runner, _ := newTestRunner(t, cfg, store, done)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runner.Start(ctx)
	defer runner.Stop()

	job := testsupport.NewTopicJob(t, store, "meiosis")

	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		got := mustGetJob(t, store, job.ID)
		if got.Status.IsTerminal() {
			if got.Status != queue.StatusSucceeded {
				t.Fatalf("status = %s, want succeeded", got.Status)
			}
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatal("job did not reach a terminal state")
}

func TestRunJobShutdownReleasesWithoutTerminalWrite(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	job := claimTopicJob(t, store, "ecosystems")

	ctx, cancel := context.WithCancel(context.Background())
	script := &fakeStage{name: stage.Script, fp: "fp"}
	script.execute = func(stageCtx context.Context, _ *stage.Context) (stage.Result, error) {
		cancel()
		<-stageCtx.Done()
		return stage.Result{}, stageCtx.Err()
	}

	runner, _ := newTestRunner(t, cfg, store, script)
	runner.runJob(ctx, "test-worker", job)

	got := mustGetJob(t, store, job.ID)
	if got.Status != queue.StatusRunning {
		t.Fatalf("status = %s, want running (left for reclaim)", got.Status)
	}
}
