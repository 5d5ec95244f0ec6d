package runner

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"os"
	"time"

	"studyreel/internal/progress"
	"studyreel/internal/queue"
	"studyreel/internal/services"
	"studyreel/internal/stage"
	"studyreel/internal/storage"
)

const maxErrorMessage = 500

// jobRun bundles the per-job state the pipeline loop threads through.
type jobRun struct {
	job          *queue.Job
	tree         storage.JobTree
	jobLog       *storage.JobLog
	upstream     map[string][]queue.Artifact
	softDeadline time.Time
}

func (r *Runner) runJob(ctx context.Context, owner string, job *queue.Job) {
	start := time.Now()
	log := r.log.With("job_id", job.ID, "worker", owner)
	log.Info("job claimed", "input_kind", job.InputKind, "progress", job.ProgressPercent)
	r.metrics.JobStarted()

	tree := storage.NewJobTree(r.cfg.JobsRoot(), job.ID)
	if err := tree.Ensure(); err != nil {
		run := &jobRun{job: job, tree: tree, jobLog: storage.OpenJobLog(tree)}
		r.failJob(run, job.CurrentStage, 0, fmt.Sprintf("prepare job workspace: %v", err))
		r.metrics.JobFinished(string(queue.StatusFailed))
		return
	}
	jobLog := storage.OpenJobLog(tree)
	_ = jobLog.Appendf("claimed by %s", owner)

	hard := minutesOrDefault(r.cfg.Workflow.HardTimeoutMin, time.Hour)
	soft := minutesOrDefault(r.cfg.Workflow.SoftTimeoutMin, 55*time.Minute)
	jobCtx, cancelJob := context.WithDeadline(ctx, start.Add(hard))
	defer cancelJob()

	hbDone := make(chan struct{})
	go r.heartbeat(jobCtx, cancelJob, job.ID, owner, hbDone)
	defer func() {
		cancelJob()
		<-hbDone
	}()

	run := &jobRun{
		job:          job,
		tree:         tree,
		jobLog:       jobLog,
		upstream:     r.loadUpstream(jobCtx, job.ID),
		softDeadline: start.Add(soft),
	}

	status := r.executePipeline(jobCtx, run)
	if status.IsTerminal() {
		r.metrics.JobFinished(string(status))
		log.Info("job finished", "status", status, "elapsed", time.Since(start).Round(time.Millisecond))
	} else {
		r.metrics.JobFinished("released")
	}
}

// loadUpstream groups the job's manifest by stage so a resumed job sees the
// artifacts its earlier attempts already produced.
func (r *Runner) loadUpstream(ctx context.Context, jobID string) map[string][]queue.Artifact {
	upstream := make(map[string][]queue.Artifact)
	manifest, err := r.store.Manifest(ctx, jobID)
	if err != nil {
		r.log.Warn("load manifest", "job_id", jobID, "error", err)
		return upstream
	}
	for _, artifact := range manifest {
		upstream[artifact.Stage] = append(upstream[artifact.Stage], artifact)
	}
	return upstream
}

func (r *Runner) executePipeline(ctx context.Context, run *jobRun) queue.Status {
	job := run.job

	for _, st := range r.stages {
		name := st.Name()

		if status, done := r.checkInterrupts(ctx, run, name); done {
			return status
		}

		sc := &stage.Context{
			Job:      job,
			Config:   job.Config(),
			Tree:     run.tree,
			Log:      run.jobLog,
			Upstream: run.upstream,
		}

		if sk, ok := st.(stage.Skipper); ok {
			if reason, skip := sk.Skip(sc); skip {
				r.recordSkip(ctx, run, name, 0, reason)
				continue
			}
		}

		fingerprint := st.Fingerprint(sc)
		cached, hit, err := r.store.CachedArtifacts(ctx, job.ID, name, fingerprint)
		if err != nil && ctx.Err() == nil {
			r.log.Warn("cached artifact lookup", "job_id", job.ID, "stage", name, "error", err)
		}
		if hit {
			run.upstream[name] = cached
			_ = run.jobLog.Appendf("%s reused cached artifacts", name)
			r.advance(ctx, run, name, stage.Ceiling(name), name+" restored from cache")
			continue
		}

		res, rec, execErr := r.executeStage(ctx, run, st, sc, fingerprint)
		if execErr != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return r.handleContextErr(run, name, ctxErr)
			}
			if errors.Is(execErr, services.ErrCancelled) {
				return r.cancelJob(run, name)
			}
			if st.Optional(job.Config()) {
				r.log.Warn("optional stage failed, skipping", "job_id", job.ID, "stage", name, "error", execErr)
				r.recordSkip(ctx, run, name, rec.Attempt, errMessage(execErr))
				continue
			}
			return r.failJob(run, name, rec.Attempt, errMessage(execErr))
		}

		if err := r.store.RegisterArtifacts(ctx, rec, res.Artifacts); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return r.handleContextErr(run, name, ctxErr)
			}
			return r.failJob(run, name, rec.Attempt, fmt.Sprintf("record %s artifacts: %v", name, err))
		}
		run.upstream[name] = res.Artifacts
		r.advance(ctx, run, name, stage.Ceiling(name), name+" completed")
	}

	r.pruneIntermediate(run)

	job.SetSucceeded()
	if err := r.store.Update(context.Background(), job); err != nil {
		r.log.Error("persist success", "job_id", job.ID, "error", err)
	}
	_ = run.jobLog.Append("job completed")
	r.publish(run)
	r.hub.CloseJob(job.ID)
	return queue.StatusSucceeded
}

// pruneIntermediate drops non-final manifest rows after success and removes
// the files they pointed to.
func (r *Runner) pruneIntermediate(run *jobRun) {
	paths, err := r.store.PruneIntermediate(context.Background(), run.job.ID)
	if err != nil {
		r.log.Warn("prune intermediate artifacts", "job_id", run.job.ID, "error", err)
		return
	}
	for _, path := range paths {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			r.log.Warn("remove pruned artifact", "path", path, "error", err)
		}
	}
	if len(paths) > 0 {
		_ = run.jobLog.Appendf("pruned %d intermediate artifacts", len(paths))
	}
}

// checkInterrupts is evaluated at every stage boundary: context death, a
// pending cancel request, and the soft processing deadline all stop the
// pipeline here rather than mid-stage.
func (r *Runner) checkInterrupts(ctx context.Context, run *jobRun, name string) (queue.Status, bool) {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return r.handleContextErr(run, name, ctxErr), true
	}
	cancelled, err := r.store.CancelRequested(ctx, run.job.ID)
	if err != nil {
		r.log.Warn("read cancel flag", "job_id", run.job.ID, "error", err)
	}
	if cancelled {
		return r.cancelJob(run, name), true
	}
	if time.Now().After(run.softDeadline) {
		return r.failJob(run, name, 0, "processing time limit exceeded"), true
	}
	return "", false
}

// handleContextErr distinguishes the three ways a job context dies: the hard
// deadline fails the job, a cancel request ends it cleanly, and anything else
// (shutdown, lost lease) releases the job for reclaim without a terminal
// write.
func (r *Runner) handleContextErr(run *jobRun, name string, ctxErr error) queue.Status {
	if errors.Is(ctxErr, context.DeadlineExceeded) {
		return r.failJob(run, name, 0, "hard timeout exceeded")
	}
	cancelled, err := r.store.CancelRequested(context.Background(), run.job.ID)
	if err == nil && cancelled {
		return r.cancelJob(run, name)
	}
	r.log.Info("worker interrupted, releasing job", "job_id", run.job.ID, "stage", name)
	_ = run.jobLog.Append("worker interrupted, job will be resumed")
	return run.job.Status
}

func (r *Runner) executeStage(ctx context.Context, run *jobRun, st stage.Stage, sc *stage.Context, fingerprint string) (stage.Result, *queue.StageRecord, error) {
	name := st.Name()
	job := run.job
	floor := stage.Floor(name)
	ceiling := stage.Ceiling(name)
	attempts := r.cfg.Workflow.StageAttempts
	if attempts < 1 {
		attempts = 1
	}

	started := time.Now().UTC()
	rec := &queue.StageRecord{
		JobID:       job.ID,
		Stage:       name,
		Fingerprint: fingerprint,
		StartedAt:   &started,
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return stage.Result{}, rec, err
		}
		rec.Attempt = attempt
		rec.Status = queue.StageRunning
		if err := r.store.UpsertStageRecord(ctx, rec); err != nil && ctx.Err() == nil {
			r.log.Warn("record stage start", "job_id", job.ID, "stage", name, "error", err)
		}
		if attempt == 1 {
			r.advance(ctx, run, name, floor, name+" started")
		} else {
			_ = run.jobLog.Appendf("%s attempt %d", name, attempt)
		}

		stageCtx, cancelStage := context.WithCancel(ctx)
		sc.Progress = func(fraction float64, message string) {
			if fraction < 0 {
				fraction = 0
			}
			if fraction > 1 {
				fraction = 1
			}
			r.advance(stageCtx, run, name, floor+fraction*(ceiling-floor), message)
			if cancelled, err := r.store.CancelRequested(stageCtx, job.ID); err == nil && cancelled {
				cancelStage()
			}
		}

		attemptStart := time.Now()
		res, err := st.Execute(stageCtx, sc)
		// A dead stage context while the job context lives means a cancel
		// request was observed at a progress checkpoint. Read it before
		// releasing the context.
		cancelObserved := stageCtx.Err() != nil && ctx.Err() == nil
		cancelStage()
		sc.Progress = nil
		if err == nil {
			r.metrics.ObserveStage(name, time.Since(attemptStart))
			return res, rec, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return stage.Result{}, rec, err
		}
		if cancelObserved {
			return stage.Result{}, rec, services.Wrap(services.ErrCancelled, name, "", queue.CancelReason, nil)
		}
		if !services.IsTransient(err) || attempt == attempts {
			return stage.Result{}, rec, err
		}

		r.metrics.StageRetried(name)
		delay := r.backoffDelay(attempt)
		r.log.Warn("stage attempt failed, retrying",
			"job_id", job.ID, "stage", name, "attempt", attempt, "delay", delay, "error", err)
		_ = run.jobLog.Appendf("%s attempt %d failed: %v", name, attempt, err)
		if !sleepCtx(ctx, delay) {
			return stage.Result{}, rec, ctx.Err()
		}
	}
	return stage.Result{}, rec, lastErr
}

// backoffDelay doubles the base delay per attempt, caps it, and applies
// jitter in [delay/2, delay].
func (r *Runner) backoffDelay(attempt int) time.Duration {
	base := r.cfg.Workflow.RetryBaseDelaySec
	if base <= 0 {
		base = 1
	}
	ceiling := r.cfg.Workflow.RetryMaxDelaySec
	if ceiling < base {
		ceiling = base
	}
	delay := base * math.Pow(2, float64(attempt-1))
	if delay > ceiling {
		delay = ceiling
	}
	jittered := delay/2 + rand.Float64()*delay/2
	return time.Duration(jittered * float64(time.Second))
}

func (r *Runner) recordSkip(ctx context.Context, run *jobRun, name string, attempt int, reason string) {
	now := time.Now().UTC()
	rec := &queue.StageRecord{
		JobID:      run.job.ID,
		Stage:      name,
		Status:     queue.StageSkipped,
		Attempt:    attempt,
		LogTail:    reason,
		FinishedAt: &now,
	}
	if err := r.store.UpsertStageRecord(ctx, rec); err != nil && ctx.Err() == nil {
		r.log.Warn("record stage skip", "job_id", run.job.ID, "stage", name, "error", err)
	}
	_ = run.jobLog.Appendf("%s skipped: %s", name, reason)
	r.advance(ctx, run, name, stage.Ceiling(name), name+" skipped")
}

// advance persists forward progress and publishes it to subscribers.
func (r *Runner) advance(ctx context.Context, run *jobRun, name string, pct float64, message string) {
	run.job.SetProgress(name, message, pct)
	if err := r.store.Update(ctx, run.job); err != nil && ctx.Err() == nil {
		r.log.Warn("persist progress", "job_id", run.job.ID, "error", err)
	}
	r.publish(run)
}

func (r *Runner) failJob(run *jobRun, name string, attempt int, message string) queue.Status {
	bg := context.Background()
	job := run.job

	job.SetFailed(name, message)
	if err := r.store.Update(bg, job); err != nil {
		r.log.Error("persist failure", "job_id", job.ID, "error", err)
	}
	now := time.Now().UTC()
	rec := &queue.StageRecord{
		JobID:      job.ID,
		Stage:      name,
		Status:     queue.StageFailed,
		Attempt:    attempt,
		LogTail:    message,
		FinishedAt: &now,
	}
	if err := r.store.UpsertStageRecord(bg, rec); err != nil {
		r.log.Warn("record stage failure", "job_id", job.ID, "stage", name, "error", err)
	}
	_ = run.jobLog.Appendf("%s failed: %s", name, message)
	r.publish(run)
	r.hub.CloseJob(job.ID)
	r.log.Error("job failed", "job_id", job.ID, "stage", name, "error", message)
	return queue.StatusFailed
}

func (r *Runner) cancelJob(run *jobRun, name string) queue.Status {
	job := run.job
	if err := r.store.MarkCancelled(context.Background(), job.ID); err != nil {
		r.log.Error("mark cancelled", "job_id", job.ID, "error", err)
	}
	job.Status = queue.StatusCancelled
	job.CurrentStage = name
	job.ErrorMessage = queue.CancelReason
	job.ProgressMessage = queue.CancelReason
	_ = run.jobLog.Appendf("cancelled during %s", name)
	r.publish(run)
	r.hub.CloseJob(job.ID)
	r.log.Info("job cancelled", "job_id", job.ID, "stage", name)
	return queue.StatusCancelled
}

func (r *Runner) publish(run *jobRun) {
	tail, err := run.jobLog.Tail(5)
	if err != nil {
		tail = nil
	}
	r.hub.Publish(progress.Event{
		JobID:       run.job.ID,
		Stage:       run.job.CurrentStage,
		ProgressPct: run.job.ProgressPercent,
		LogTail:     tail,
		Status:      run.job.Status,
		Timestamp:   time.Now().UTC(),
	})
}

func errMessage(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	if len(msg) > maxErrorMessage {
		msg = msg[:maxErrorMessage] + "..."
	}
	return msg
}
