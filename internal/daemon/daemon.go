package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync/atomic"

	"github.com/gofrs/flock"

	"studyreel/internal/api"
	"studyreel/internal/config"
	"studyreel/internal/logging"
	"studyreel/internal/metrics"
	"studyreel/internal/progress"
	"studyreel/internal/queue"
	"studyreel/internal/retention"
	"studyreel/internal/runner"
	"studyreel/internal/stages"
)

// Daemon owns the background services and enforces single-instance execution.
type Daemon struct {
	cfg     *config.Config
	log     *slog.Logger
	store   *queue.Store
	hub     *progress.Hub
	metrics *metrics.Metrics
	runner  *runner.Runner
	sweeper *retention.Sweeper
	api     *api.Server

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	cancel  context.CancelFunc
}

// Status is a point-in-time snapshot for the CLI.
type Status struct {
	Running    bool
	APIAddress string
	LockPath   string
	Queue      queue.HealthSummary
}

// New opens the store and wires the services. The daemon does not process
// anything until Start. A non-nil logStream backs the API log tail endpoint.
func New(cfg *config.Config, logger *slog.Logger, logStream *logging.StreamHub) (*Daemon, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}

	store, err := queue.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("open queue store: %w", err)
	}

	m := metrics.New()
	hub := progress.NewHub(cfg.Workflow.MaxSubscribers)
	hub.OnEvict(m.SubscriberEvicted)

	pipeline := stages.Pipeline(cfg, logger)
	lockPath := filepath.Join(cfg.Paths.LogDir, "studyreeld.lock")

	return &Daemon{
		cfg:      cfg,
		log:      logging.NewComponentLogger(logger, "daemon"),
		store:    store,
		hub:      hub,
		metrics:  m,
		runner:   runner.New(cfg, store, hub, pipeline, logger, m),
		sweeper:  retention.NewSweeper(cfg, store, logger),
		api:      api.NewServer(cfg, store, hub, m, logStream, logger),
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}, nil
}

// Start acquires the instance lock, requeues jobs orphaned by a previous
// crash, and launches the API server, runner, and sweeper.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	acquired, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire instance lock: %w", err)
	}
	if !acquired {
		return errors.New("another studyreel daemon is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	if requeued, err := d.store.ResetOrphanedRunning(runCtx); err != nil {
		d.log.Warn("requeue orphaned jobs", "error", err)
	} else if requeued > 0 {
		d.log.Info("requeued jobs from previous run", "count", requeued)
	}

	if err := d.api.Start(runCtx); err != nil {
		cancel()
		d.cancel = nil
		_ = d.lock.Unlock()
		return err
	}
	d.runner.Start(runCtx)
	d.sweeper.Start(runCtx)

	d.running.Store(true)
	d.log.Info("daemon started", "lock", d.lockPath, "api", d.api.Addr())
	return nil
}

// Stop halts processing and releases the instance lock. Claimed jobs are
// released for resume, not failed.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.runner.Stop()
	d.sweeper.Stop()
	d.api.Stop()
	if err := d.lock.Unlock(); err != nil {
		d.log.Warn("release instance lock", "error", err)
	}
	d.running.Store(false)
	d.log.Info("daemon stopped")
}

// Close stops the daemon and closes the store.
func (d *Daemon) Close() error {
	d.Stop()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// FailInterrupted marks the remaining live jobs failed with the shutdown
// reason. Called on forced shutdown, when resume is not wanted.
func (d *Daemon) FailInterrupted(ctx context.Context) (int64, error) {
	return d.store.FailInterrupted(ctx)
}

// Status reports a runtime snapshot.
func (d *Daemon) Status(ctx context.Context) (Status, error) {
	summary, err := d.store.Health(ctx)
	if err != nil {
		return Status{}, err
	}
	return Status{
		Running:    d.running.Load(),
		APIAddress: d.api.Addr(),
		LockPath:   d.lockPath,
		Queue:      summary,
	}, nil
}
