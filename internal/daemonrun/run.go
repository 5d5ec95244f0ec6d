// Package daemonrun hosts the daemon process loop: signal wiring, logger
// setup, and graceful shutdown.
package daemonrun

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"studyreel/internal/config"
	"studyreel/internal/daemon"
	"studyreel/internal/logging"
)

// Run starts the daemon and blocks until the process is signalled. A first
// SIGINT/SIGTERM drains gracefully, leaving claimed jobs to resume on the
// next start; a second signal marks the remaining live jobs failed before
// exiting.
func Run(cmdCtx context.Context, cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}

	signalCtx, stop := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logStream := logging.NewStreamHub(4096)
	logger, err := logging.NewFromConfig(cfg, logStream)
	if err != nil {
		return fmt.Errorf("init logging: %w", err)
	}

	d, err := daemon.New(cfg, logger, logStream)
	if err != nil {
		return err
	}
	defer d.Close()

	if err := d.Start(signalCtx); err != nil {
		return err
	}

	<-signalCtx.Done()
	stop()

	forced := make(chan os.Signal, 1)
	signal.Notify(forced, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(forced)

	stopped := make(chan struct{})
	go func() {
		d.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-forced:
		logger.Warn("forced shutdown requested, abandoning in-flight jobs")
		failCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if failed, err := d.FailInterrupted(failCtx); err != nil {
			logger.Error("fail interrupted jobs", "error", err)
		} else if failed > 0 {
			logger.Warn("marked interrupted jobs failed", "count", failed)
		}
		<-stopped
	}
	return nil
}
