package queue_test

import (
	"context"
	"testing"
	"time"

	"studyreel/internal/queue"
	"studyreel/internal/testsupport"
)

func TestNewJobAndGetByID(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	job, err := store.NewJob(ctx, queue.NewJobParams{
		InputKind: queue.InputTopic,
		Topic:     "mitochondria",
		Config:    queue.JobConfig{Pacing: queue.PacingExam, ExportExtras: true},
		ClientID:  "client-1",
	})
	if err != nil {
		t.Fatalf("NewJob failed: %v", err)
	}
	if job.ID == "" {
		t.Fatal("expected job ID to be assigned")
	}
	if job.Status != queue.StatusQueued {
		t.Fatalf("expected queued status, got %s", job.Status)
	}

	fetched, err := store.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if fetched == nil || fetched.Topic != "mitochondria" {
		t.Fatalf("unexpected fetched job: %#v", fetched)
	}
	cfgParsed := fetched.Config()
	if cfgParsed.Pacing != queue.PacingExam {
		t.Fatalf("unexpected pacing: %s", cfgParsed.Pacing)
	}
	if !cfgParsed.ExportExtras {
		t.Fatal("expected export extras to round-trip")
	}

	missing, err := store.GetByID(ctx, "nope")
	if err != nil {
		t.Fatalf("GetByID for missing job failed: %v", err)
	}
	if missing != nil {
		t.Fatalf("expected nil for missing job, got %#v", missing)
	}
}

func TestNewJobValidatesInput(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	if _, err := store.NewJob(ctx, queue.NewJobParams{InputKind: queue.InputTopic}); err == nil {
		t.Fatal("expected error for topic job without topic")
	}
	if _, err := store.NewJob(ctx, queue.NewJobParams{InputKind: queue.InputDocument}); err == nil {
		t.Fatal("expected error for document job without path")
	}
	if _, err := store.NewJob(ctx, queue.NewJobParams{InputKind: "voice"}); err == nil {
		t.Fatal("expected error for unknown input kind")
	}
}

func TestClaimNextLeasesOldestJob(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	first := testsupport.NewTopicJob(t, store, "first")
	testsupport.NewTopicJob(t, store, "second")

	claimed, err := store.ClaimNext(ctx, "worker-1", 30*time.Second)
	if err != nil {
		t.Fatalf("ClaimNext failed: %v", err)
	}
	if claimed == nil || claimed.ID != first.ID {
		t.Fatalf("expected oldest job to be claimed, got %#v", claimed)
	}
	if claimed.Status != queue.StatusRunning {
		t.Fatalf("expected running status, got %s", claimed.Status)
	}
	if claimed.LeaseOwner != "worker-1" {
		t.Fatalf("unexpected lease owner: %q", claimed.LeaseOwner)
	}
	if claimed.LeaseExpiresAt == nil || !claimed.LeaseExpiresAt.After(time.Now().UTC()) {
		t.Fatalf("expected future lease expiry, got %v", claimed.LeaseExpiresAt)
	}

	second, err := store.ClaimNext(ctx, "worker-2", 30*time.Second)
	if err != nil {
		t.Fatalf("second ClaimNext failed: %v", err)
	}
	if second == nil || second.ID == claimed.ID {
		t.Fatalf("expected a different job for second worker, got %#v", second)
	}

	third, err := store.ClaimNext(ctx, "worker-3", 30*time.Second)
	if err != nil {
		t.Fatalf("third ClaimNext failed: %v", err)
	}
	if third != nil {
		t.Fatalf("expected empty queue, got %#v", third)
	}
}

func TestRenewLeaseRequiresOwner(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	testsupport.NewTopicJob(t, store, "renewable")
	claimed := testsupport.ClaimJob(t, store, "worker-1")

	renewed, err := store.RenewLease(ctx, claimed.ID, "worker-1", time.Minute)
	if err != nil {
		t.Fatalf("RenewLease failed: %v", err)
	}
	if !renewed {
		t.Fatal("expected lease renewal to succeed")
	}

	stolen, err := store.RenewLease(ctx, claimed.ID, "worker-2", time.Minute)
	if err != nil {
		t.Fatalf("RenewLease with wrong owner failed: %v", err)
	}
	if stolen {
		t.Fatal("expected renewal to fail for non-owner")
	}
}

func TestReclaimExpiredLeases(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	testsupport.NewTopicJob(t, store, "crashy")
	claimed := testsupport.ClaimJob(t, store, "worker-1")

	// Lease still live: nothing to reclaim.
	count, err := store.ReclaimExpiredLeases(ctx, time.Now().UTC().Add(-time.Minute))
	if err != nil {
		t.Fatalf("ReclaimExpiredLeases failed: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected no reclaims for live lease, got %d", count)
	}

	count, err = store.ReclaimExpiredLeases(ctx, time.Now().UTC().Add(time.Hour))
	if err != nil {
		t.Fatalf("ReclaimExpiredLeases failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected one reclaim, got %d", count)
	}

	reclaimed, err := store.GetByID(ctx, claimed.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if reclaimed.Status != queue.StatusQueued {
		t.Fatalf("expected requeued status, got %s", reclaimed.Status)
	}
	if reclaimed.LeaseOwner != "" || reclaimed.LeaseExpiresAt != nil {
		t.Fatalf("expected cleared lease, got %#v", reclaimed)
	}
}

func TestRequestCancelQueuedJob(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	job := testsupport.NewTopicJob(t, store, "cancel me")

	status, found, err := store.RequestCancel(ctx, job.ID)
	if err != nil {
		t.Fatalf("RequestCancel failed: %v", err)
	}
	if !found {
		t.Fatal("expected job to be found")
	}
	if status != queue.StatusCancelled {
		t.Fatalf("expected immediate cancellation for queued job, got %s", status)
	}

	// Cancelled jobs never become claimable.
	claimed, err := store.ClaimNext(ctx, "worker-1", time.Minute)
	if err != nil {
		t.Fatalf("ClaimNext failed: %v", err)
	}
	if claimed != nil {
		t.Fatalf("expected cancelled job to be unclaimable, got %#v", claimed)
	}
}

func TestRequestCancelRunningJobSetsFlag(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	testsupport.NewTopicJob(t, store, "long render")
	claimed := testsupport.ClaimJob(t, store, "worker-1")

	status, found, err := store.RequestCancel(ctx, claimed.ID)
	if err != nil {
		t.Fatalf("RequestCancel failed: %v", err)
	}
	if !found || status != queue.StatusRunning {
		t.Fatalf("expected running job to stay running, got %s found=%v", status, found)
	}

	flagged, err := store.CancelRequested(ctx, claimed.ID)
	if err != nil {
		t.Fatalf("CancelRequested failed: %v", err)
	}
	if !flagged {
		t.Fatal("expected cancel flag to be set")
	}

	if err := store.MarkCancelled(ctx, claimed.ID); err != nil {
		t.Fatalf("MarkCancelled failed: %v", err)
	}
	final, err := store.GetByID(ctx, claimed.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if final.Status != queue.StatusCancelled {
		t.Fatalf("expected cancelled status, got %s", final.Status)
	}
}

func TestTerminalJobsAreImmutable(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	testsupport.NewTopicJob(t, store, "short lived")
	claimed := testsupport.ClaimJob(t, store, "worker-1")

	claimed.SetFailed("render", "encoder crashed")
	if err := store.Update(ctx, claimed); err != nil {
		t.Fatalf("Update to failed: %v", err)
	}

	// A late runner write must not resurrect the terminal record.
	claimed.Status = queue.StatusRunning
	claimed.SetProgress("render", "still going", 80)
	if err := store.Update(ctx, claimed); err != nil {
		t.Fatalf("late Update errored: %v", err)
	}

	fetched, err := store.GetByID(ctx, claimed.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if fetched.Status != queue.StatusFailed {
		t.Fatalf("expected failed status to persist, got %s", fetched.Status)
	}
	if fetched.ErrorStage != "render" || fetched.ErrorMessage != "encoder crashed" {
		t.Fatalf("unexpected error fields: %#v", fetched)
	}
}

func TestRegisterArtifactsAndCacheHit(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	job := testsupport.NewTopicJob(t, store, "cached stage")

	started := time.Now().UTC()
	rec := &queue.StageRecord{
		JobID:       job.ID,
		Stage:       "script",
		Attempt:     1,
		Fingerprint: "fp-1",
		StartedAt:   &started,
	}
	artifacts := []queue.Artifact{
		{Name: "script.json", Path: "/tmp/script.json", Kind: "json"},
		{Name: "notes.md", Path: "/tmp/notes.md", Kind: "markdown", Final: true},
	}
	if err := store.RegisterArtifacts(ctx, rec, artifacts); err != nil {
		t.Fatalf("RegisterArtifacts failed: %v", err)
	}

	stored, err := store.StageRecordFor(ctx, job.ID, "script")
	if err != nil {
		t.Fatalf("StageRecordFor failed: %v", err)
	}
	if stored == nil || stored.Status != queue.StageSucceeded {
		t.Fatalf("expected succeeded stage record, got %#v", stored)
	}
	if stored.FinishedAt == nil {
		t.Fatal("expected finished timestamp")
	}

	cached, hit, err := store.CachedArtifacts(ctx, job.ID, "script", "fp-1")
	if err != nil {
		t.Fatalf("CachedArtifacts failed: %v", err)
	}
	if !hit {
		t.Fatal("expected cache hit for matching fingerprint")
	}
	if len(cached) != 2 {
		t.Fatalf("expected two cached artifacts, got %d", len(cached))
	}

	_, hit, err = store.CachedArtifacts(ctx, job.ID, "script", "fp-2")
	if err != nil {
		t.Fatalf("CachedArtifacts with new fingerprint failed: %v", err)
	}
	if hit {
		t.Fatal("expected cache miss for changed fingerprint")
	}

	_, hit, err = store.CachedArtifacts(ctx, job.ID, "script", "")
	if err != nil {
		t.Fatalf("CachedArtifacts with empty fingerprint failed: %v", err)
	}
	if hit {
		t.Fatal("expected cache miss for empty fingerprint")
	}
}

func TestRegisterArtifactsReplacesPriorAttempt(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	job := testsupport.NewTopicJob(t, store, "retried stage")

	rec := &queue.StageRecord{JobID: job.ID, Stage: "voice", Attempt: 1, Fingerprint: "fp-a"}
	if err := store.RegisterArtifacts(ctx, rec, []queue.Artifact{{Name: "old.wav", Path: "/tmp/old.wav"}}); err != nil {
		t.Fatalf("first RegisterArtifacts failed: %v", err)
	}

	rec.Attempt = 2
	rec.Fingerprint = "fp-b"
	if err := store.RegisterArtifacts(ctx, rec, []queue.Artifact{{Name: "new.wav", Path: "/tmp/new.wav"}}); err != nil {
		t.Fatalf("second RegisterArtifacts failed: %v", err)
	}

	artifacts, err := store.ArtifactsForStage(ctx, job.ID, "voice")
	if err != nil {
		t.Fatalf("ArtifactsForStage failed: %v", err)
	}
	if len(artifacts) != 1 || artifacts[0].Name != "new.wav" {
		t.Fatalf("expected replacement artifacts, got %#v", artifacts)
	}
}

func TestPruneIntermediateKeepsFinalEntries(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	job := testsupport.NewTopicJob(t, store, "prunable")

	rec := &queue.StageRecord{JobID: job.ID, Stage: "render", Attempt: 1, Fingerprint: "fp"}
	artifacts := []queue.Artifact{
		{Name: "video_raw.mp4", Path: "/tmp/video_raw.mp4"},
		{Name: "final.mp4", Path: "/tmp/final.mp4", Final: true},
	}
	if err := store.RegisterArtifacts(ctx, rec, artifacts); err != nil {
		t.Fatalf("RegisterArtifacts failed: %v", err)
	}

	pruned, err := store.PruneIntermediate(ctx, job.ID)
	if err != nil {
		t.Fatalf("PruneIntermediate failed: %v", err)
	}
	if len(pruned) != 1 || pruned[0] != "/tmp/video_raw.mp4" {
		t.Fatalf("unexpected pruned paths: %v", pruned)
	}

	remaining, err := store.Manifest(ctx, job.ID)
	if err != nil {
		t.Fatalf("Manifest failed: %v", err)
	}
	if len(remaining) != 1 || !remaining[0].Final {
		t.Fatalf("expected only final entries to remain, got %#v", remaining)
	}

	finals, err := store.FinalArtifacts(ctx, job.ID)
	if err != nil {
		t.Fatalf("FinalArtifacts failed: %v", err)
	}
	if len(finals) != 1 || finals[0].Name != "final.mp4" {
		t.Fatalf("unexpected final artifacts: %#v", finals)
	}
}

func TestRemoveCascadesToRecords(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	job := testsupport.NewTopicJob(t, store, "removable")
	rec := &queue.StageRecord{JobID: job.ID, Stage: "extract", Attempt: 1, Fingerprint: "fp"}
	if err := store.RegisterArtifacts(ctx, rec, []queue.Artifact{{Name: "doc.txt", Path: "/tmp/doc.txt"}}); err != nil {
		t.Fatalf("RegisterArtifacts failed: %v", err)
	}

	removed, err := store.Remove(ctx, job.ID)
	if err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if !removed {
		t.Fatal("expected job to be removed")
	}

	manifest, err := store.Manifest(ctx, job.ID)
	if err != nil {
		t.Fatalf("Manifest failed: %v", err)
	}
	if len(manifest) != 0 {
		t.Fatalf("expected cascading delete of artifacts, got %#v", manifest)
	}
	records, err := store.StageRecords(ctx, job.ID)
	if err != nil {
		t.Fatalf("StageRecords failed: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("expected cascading delete of stage records, got %#v", records)
	}
}

func TestJobsOlderThanAndStats(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	testsupport.NewTopicJob(t, store, "fresh")

	old, err := store.JobsOlderThan(ctx, time.Now().UTC().Add(-time.Hour))
	if err != nil {
		t.Fatalf("JobsOlderThan failed: %v", err)
	}
	if len(old) != 0 {
		t.Fatalf("expected no old jobs, got %d", len(old))
	}

	old, err = store.JobsOlderThan(ctx, time.Now().UTC().Add(time.Hour))
	if err != nil {
		t.Fatalf("JobsOlderThan failed: %v", err)
	}
	if len(old) != 1 {
		t.Fatalf("expected one old job, got %d", len(old))
	}

	health, err := store.Health(ctx)
	if err != nil {
		t.Fatalf("Health failed: %v", err)
	}
	if health.Total != 1 || health.Queued != 1 {
		t.Fatalf("unexpected health summary: %#v", health)
	}
}

func TestPacingPresets(t *testing.T) {
	if queue.PacingFast.WordsPerMinute() != 180 {
		t.Fatalf("unexpected fast wpm: %d", queue.PacingFast.WordsPerMinute())
	}
	if queue.PacingBalanced.WordsPerMinute() != 165 {
		t.Fatalf("unexpected balanced wpm: %d", queue.PacingBalanced.WordsPerMinute())
	}
	if queue.PacingExam.WordsPerMinute() != 145 {
		t.Fatalf("unexpected exam wpm: %d", queue.PacingExam.WordsPerMinute())
	}
	if queue.Pacing("WILD").WordsPerMinute() != 165 {
		t.Fatalf("expected unknown pacing to fall back to balanced")
	}

	cfg := queue.ConfigFromJSON(`{"pacing":"fast","personality":"professor"}`)
	if cfg.Pacing != queue.PacingFast {
		t.Fatalf("expected normalized pacing, got %s", cfg.Pacing)
	}
	if cfg.Personality != queue.PersonalityProfessor {
		t.Fatalf("expected normalized personality, got %s", cfg.Personality)
	}
	if cfg.DurationClass != "standard" || cfg.CaptionStyle != "default" {
		t.Fatalf("expected defaults, got %#v", cfg)
	}
}

func TestUpdateDoesNotClobberCancelFlagOrLease(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	testsupport.NewTopicJob(t, store, "long render")
	claimed := testsupport.ClaimJob(t, store, "worker-1")

	if _, _, err := store.RequestCancel(ctx, claimed.ID); err != nil {
		t.Fatalf("RequestCancel failed: %v", err)
	}
	renewed, err := store.RenewLease(ctx, claimed.ID, "worker-1", 10*time.Minute)
	if err != nil || !renewed {
		t.Fatalf("RenewLease failed: renewed=%v err=%v", renewed, err)
	}
	afterRenew, err := store.GetByID(ctx, claimed.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}

	// The claim-time snapshot carries cancel_requested=0 and the original
	// lease expiry. A progress write from it must touch neither.
	claimed.ProgressPercent = 40
	claimed.ProgressMessage = "assets completed"
	if err := store.Update(ctx, claimed); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	got, err := store.GetByID(ctx, claimed.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if !got.CancelRequested {
		t.Fatal("cancel flag lost after progress update")
	}
	if got.LeaseExpiresAt == nil || !got.LeaseExpiresAt.Equal(*afterRenew.LeaseExpiresAt) {
		t.Fatalf("lease expiry changed by progress update: got %v, want %v",
			got.LeaseExpiresAt, afterRenew.LeaseExpiresAt)
	}
	if got.ProgressPercent != 40 || got.ProgressMessage != "assets completed" {
		t.Fatalf("progress fields not persisted: %#v", got)
	}
}

func TestSetDocumentPath(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	job, err := store.NewJob(ctx, queue.NewJobParams{
		InputKind:    queue.InputDocument,
		DocumentPath: "/tmp/incoming/upload.md",
	})
	if err != nil {
		t.Fatalf("NewJob failed: %v", err)
	}

	final := cfg.JobsRoot() + "/" + job.ID + "/input/notes.md"
	if err := store.SetDocumentPath(ctx, job.ID, final); err != nil {
		t.Fatalf("SetDocumentPath failed: %v", err)
	}

	got, err := store.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if got.DocumentPath != final {
		t.Fatalf("document path = %s, want %s", got.DocumentPath, final)
	}
}
