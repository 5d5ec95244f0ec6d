package testsupport

import (
	"path/filepath"
	"testing"

	"studyreel/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*config.Config)

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.StorageDir = filepath.Join(base, "storage")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Paths.AssetsDir = filepath.Join(base, "assets")
	cfg.Paths.APIBind = "127.0.0.1:0"
	cfg.LLM.Primary.APIKey = "test"
	cfg.Workflow.QueuePollInterval = 1
	cfg.Workflow.HeartbeatInterval = 1
	cfg.Workflow.HeartbeatTimeout = 2
	cfg.Workflow.RetryBaseDelaySec = 0.01
	cfg.Workflow.RetryMaxDelaySec = 0.05

	for _, opt := range opts {
		opt(&cfg)
	}

	return &cfg
}

// WithWorkers overrides the worker pool size on the test config.
func WithWorkers(n int) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Workflow.Workers = n
	}
}

// WithStageAttempts overrides the per-stage attempt cap on the test config.
func WithStageAttempts(n int) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Workflow.StageAttempts = n
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.StorageDir)
}
