// Package daemonctl implements the operator-facing control operations the
// CLI exposes. They act on the shared queue store and storage trees directly,
// so most commands work whether or not the daemon is running.
package daemonctl

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/gofrs/flock"

	"studyreel/internal/config"
	"studyreel/internal/logging"
	"studyreel/internal/queue"
	"studyreel/internal/retention"
	"studyreel/internal/stage"
	"studyreel/internal/stages"
	"studyreel/internal/storage"
)

// Control bundles the store-backed operations behind the CLI commands.
type Control struct {
	cfg   *config.Config
	store *queue.Store
}

// StatusReport summarizes daemon and queue state for display.
type StatusReport struct {
	DaemonRunning bool
	LockPath      string
	Queue         queue.HealthSummary
}

// Open connects to the queue store described by the configuration.
func Open(cfg *config.Config) (*Control, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}
	store, err := queue.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("open queue store: %w", err)
	}
	return &Control{cfg: cfg, store: store}, nil
}

// Close releases the store handle.
func (c *Control) Close() error {
	return c.store.Close()
}

// Status reports queue counts and whether a daemon currently holds the
// instance lock.
func (c *Control) Status(ctx context.Context) (StatusReport, error) {
	summary, err := c.store.Health(ctx)
	if err != nil {
		return StatusReport{}, err
	}

	lockPath := filepath.Join(c.cfg.Paths.LogDir, "studyreeld.lock")
	report := StatusReport{LockPath: lockPath, Queue: summary}

	probe := flock.New(lockPath)
	acquired, err := probe.TryLock()
	if err == nil && acquired {
		_ = probe.Unlock()
	} else {
		report.DaemonRunning = true
	}
	return report, nil
}

// List returns jobs, optionally filtered by status.
func (c *Control) List(ctx context.Context, statuses ...queue.Status) ([]*queue.Job, error) {
	return c.store.List(ctx, statuses...)
}

// Get returns one job with its stage records.
func (c *Control) Get(ctx context.Context, id string) (*queue.Job, []*queue.StageRecord, error) {
	job, err := c.store.GetByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if job == nil {
		return nil, nil, fmt.Errorf("job %s not found", id)
	}
	records, err := c.store.StageRecords(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return job, records, nil
}

// Retry requeues failed jobs; with ids it also requeues cancelled ones.
func (c *Control) Retry(ctx context.Context, ids ...string) (int64, error) {
	return c.store.RetryFailed(ctx, ids...)
}

// Remove deletes one job record and its storage tree. Running jobs must be
// cancelled first.
func (c *Control) Remove(ctx context.Context, id string) error {
	job, err := c.store.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if job == nil {
		return fmt.Errorf("job %s not found", id)
	}
	if job.Status == queue.StatusRunning {
		return fmt.Errorf("job %s is running; cancel it first", id)
	}
	if err := storage.NewJobTree(c.cfg.JobsRoot(), id).Remove(); err != nil {
		return fmt.Errorf("remove job tree: %w", err)
	}
	if _, err := c.store.Remove(ctx, id); err != nil {
		return err
	}
	return nil
}

// Cancel requests cancellation of a queued or running job.
func (c *Control) Cancel(ctx context.Context, id string) (queue.Status, error) {
	status, found, err := c.store.RequestCancel(ctx, id)
	if err != nil {
		return "", err
	}
	if !found {
		return "", fmt.Errorf("job %s not found", id)
	}
	return status, nil
}

// Clear removes every job record. Storage trees are swept separately.
func (c *Control) Clear(ctx context.Context) (int64, error) {
	return c.store.Clear(ctx)
}

// Sweep runs one retention pass and reports how many jobs were removed.
func (c *Control) Sweep(ctx context.Context) (int, error) {
	return retention.NewSweeper(c.cfg, c.store, nil).SweepOnce(ctx)
}

// HealthChecks probes each pipeline stage's external dependencies.
func (c *Control) HealthChecks(ctx context.Context) []stage.Health {
	pipeline := stages.Pipeline(c.cfg, logging.NewNop())
	checks := make([]stage.Health, 0, len(pipeline))
	for _, st := range pipeline {
		checks = append(checks, st.HealthCheck(ctx))
	}
	return checks
}
