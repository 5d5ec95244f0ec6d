// Package retention removes finished jobs and their storage trees once they
// age past the configured window. The sweeper runs periodically inside the
// daemon and once on demand for the CLI sweep command.
package retention

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"studyreel/internal/config"
	"studyreel/internal/logging"
	"studyreel/internal/queue"
	"studyreel/internal/storage"
)

// Sweeper deletes terminal jobs older than the retention window.
type Sweeper struct {
	cfg   *config.Config
	store *queue.Store
	log   *slog.Logger
	now   func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSweeper builds a sweeper over the given store.
func NewSweeper(cfg *config.Config, store *queue.Store, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Sweeper{
		cfg:   cfg,
		store: store,
		log:   logging.NewComponentLogger(logger, "retention"),
		now:   time.Now,
	}
}

// Start launches the periodic sweep loop. A non-positive retention window
// disables sweeping entirely.
func (s *Sweeper) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	if s.cfg.Retention.RetentionDays <= 0 {
		s.log.Info("retention sweeping disabled")
		return
	}

	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	interval := time.Duration(s.cfg.Retention.SweepIntervalHours) * time.Hour
	if interval <= 0 {
		interval = 6 * time.Hour
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
				if _, err := s.SweepOnce(loopCtx); err != nil && loopCtx.Err() == nil {
					s.log.Error("retention sweep", "error", err)
				}
			}
		}
	}()
	s.log.Info("retention sweeper started",
		"retention_days", s.cfg.Retention.RetentionDays, "interval", interval)
}

// Stop halts the periodic loop.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
}

// SweepOnce removes every terminal job older than the window and reports how
// many were deleted. Live jobs are never touched, no matter their age.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	days := s.cfg.Retention.RetentionDays
	if days <= 0 {
		return 0, nil
	}
	cutoff := s.now().UTC().AddDate(0, 0, -days)

	jobs, err := s.store.JobsOlderThan(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, job := range jobs {
		if ctx.Err() != nil {
			return removed, ctx.Err()
		}
		if !job.IsTerminal() {
			continue
		}
		tree := storage.NewJobTree(s.cfg.JobsRoot(), job.ID)
		if err := tree.Remove(); err != nil {
			s.log.Warn("remove job tree", "job_id", job.ID, "error", err)
			continue
		}
		if _, err := s.store.Remove(ctx, job.ID); err != nil {
			s.log.Warn("remove job record", "job_id", job.ID, "error", err)
			continue
		}
		removed++
	}
	if removed > 0 {
		s.log.Info("retention sweep removed jobs", "count", removed, "cutoff", cutoff)
	}
	return removed, nil
}
