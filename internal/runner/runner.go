package runner

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"studyreel/internal/config"
	"studyreel/internal/logging"
	"studyreel/internal/metrics"
	"studyreel/internal/progress"
	"studyreel/internal/queue"
	"studyreel/internal/stage"
)

// Runner owns the worker pool that drains the job queue.
type Runner struct {
	cfg     *config.Config
	store   *queue.Store
	hub     *progress.Hub
	stages  []stage.Stage
	log     *slog.Logger
	metrics *metrics.Metrics

	hostname string

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

// New builds a runner over the given store, hub, and stage sequence. A nil
// logger or metrics disables the respective output.
func New(cfg *config.Config, store *queue.Store, hub *progress.Hub, stages []stage.Stage, logger *slog.Logger, m *metrics.Metrics) *Runner {
	if logger == nil {
		logger = logging.NewNop()
	}
	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		hostname = "studyreel"
	}
	return &Runner{
		cfg:      cfg,
		store:    store,
		hub:      hub,
		stages:   stages,
		log:      logging.NewComponentLogger(logger, "runner"),
		metrics:  m,
		hostname: hostname,
	}
}

// Start launches the worker pool. It returns immediately; workers run until
// Stop is called or the context is cancelled.
func (r *Runner) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.started = true

	workers := r.cfg.Workflow.Workers
	if workers < 1 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		owner := fmt.Sprintf("%s-worker-%d", r.hostname, i+1)
		r.wg.Add(1)
		go r.workerLoop(runCtx, owner)
	}
	r.log.Info("runner started", "workers", workers)
}

// Stop cancels the workers and waits for in-flight jobs to release.
func (r *Runner) Stop() {
	r.mu.Lock()
	cancel := r.cancel
	r.cancel = nil
	r.started = false
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	r.wg.Wait()
	r.log.Info("runner stopped")
}

func (r *Runner) workerLoop(ctx context.Context, owner string) {
	defer r.wg.Done()

	poll := secondsOrDefault(r.cfg.Workflow.QueuePollInterval, 5*time.Second)
	retry := secondsOrDefault(r.cfg.Workflow.ErrorRetryInterval, 10*time.Second)
	leaseTTL := secondsOrDefault(r.cfg.Workflow.HeartbeatTimeout, 2*time.Minute)

	for {
		if ctx.Err() != nil {
			return
		}
		if _, err := r.store.ReclaimExpiredLeases(ctx, time.Now().UTC()); err != nil && ctx.Err() == nil {
			r.log.Warn("reclaim expired leases", "error", err)
		}
		job, err := r.store.ClaimNext(ctx, owner, leaseTTL)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			r.log.Error("claim next job", "error", err)
			if !sleepCtx(ctx, retry) {
				return
			}
			continue
		}
		if job == nil {
			if !sleepCtx(ctx, poll) {
				return
			}
			continue
		}
		r.runJob(ctx, owner, job)
	}
}

// heartbeat renews the job lease until the job context ends. Losing the lease
// cancels the job context so the worker abandons work another worker may have
// reclaimed.
func (r *Runner) heartbeat(ctx context.Context, cancel context.CancelFunc, jobID, owner string, done chan<- struct{}) {
	defer close(done)

	interval := secondsOrDefault(r.cfg.Workflow.HeartbeatInterval, 15*time.Second)
	ttl := secondsOrDefault(r.cfg.Workflow.HeartbeatTimeout, 2*time.Minute)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			renewed, err := r.store.RenewLease(ctx, jobID, owner, ttl)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				r.log.Warn("renew lease", "job_id", jobID, "error", err)
				continue
			}
			if !renewed {
				r.log.Warn("lease lost, abandoning job", "job_id", jobID, "worker", owner)
				cancel()
				return
			}
		}
	}
}

func secondsOrDefault(value int, fallback time.Duration) time.Duration {
	if value <= 0 {
		return fallback
	}
	return time.Duration(value) * time.Second
}

func minutesOrDefault(value int, fallback time.Duration) time.Duration {
	if value <= 0 {
		return fallback
	}
	return time.Duration(value) * time.Minute
}

// sleepCtx waits for the duration and reports false when the context ended
// first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
