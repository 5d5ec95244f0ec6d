package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	StorageDir string `toml:"storage_dir"`
	LogDir     string `toml:"log_dir"`
	AssetsDir  string `toml:"assets_dir"`
	APIBind    string `toml:"api_bind"`
	APIToken   string `toml:"api_token"`
}

// Provider describes one LLM backend in the fallback chain.
type Provider struct {
	Name           string `toml:"name"`
	APIKey         string `toml:"api_key"`
	BaseURL        string `toml:"base_url"`
	Model          string `toml:"model"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// LLM contains the ordered provider chain used for script, notes, and quiz
// generation. Primary is tried first; Fallbacks follow in declared order.
type LLM struct {
	Primary   Provider   `toml:"primary"`
	Fallbacks []Provider `toml:"fallbacks"`
}

// TTS contains voice synthesis configuration.
type TTS struct {
	ElevenLabsAPIKey  string `toml:"elevenlabs_api_key"`
	ElevenLabsBaseURL string `toml:"elevenlabs_base_url"`
	ElevenLabsVoiceID string `toml:"elevenlabs_voice_id"`
	PiperBinary       string `toml:"piper_binary"`
	PiperModel        string `toml:"piper_model"`
	RequestTimeout    int    `toml:"request_timeout"`
}

// Assets contains configuration for the stock image search backend.
type Assets struct {
	OpenverseBaseURL string `toml:"openverse_base_url"`
	RequestTimeout   int    `toml:"request_timeout"`
}

// Render contains video composition settings.
type Render struct {
	FFmpegBinary  string `toml:"ffmpeg_binary"`
	FFprobeBinary string `toml:"ffprobe_binary"`
	Width         int    `toml:"width"`
	Height        int    `toml:"height"`
	TimeoutMin    int    `toml:"timeout_min"`
}

// Workflow contains worker pool timing and retry policy.
type Workflow struct {
	Workers            int     `toml:"workers"`
	QueuePollInterval  int     `toml:"queue_poll_interval"`
	ErrorRetryInterval int     `toml:"error_retry_interval"`
	HeartbeatInterval  int     `toml:"heartbeat_interval"`
	HeartbeatTimeout   int     `toml:"heartbeat_timeout"`
	StageAttempts      int     `toml:"stage_attempts"`
	RetryBaseDelaySec  float64 `toml:"retry_base_delay_sec"`
	RetryMaxDelaySec   float64 `toml:"retry_max_delay_sec"`
	SoftTimeoutMin     int     `toml:"soft_timeout_min"`
	HardTimeoutMin     int     `toml:"hard_timeout_min"`
	MaxSubscribers     int     `toml:"max_subscribers_per_job"`
}

// Admission contains per-client rate limit ceilings.
type Admission struct {
	JobsPerHour      int `toml:"jobs_per_hour"`
	DownloadsPerHour int `toml:"downloads_per_hour"`
}

// Retention contains job tree cleanup settings.
type Retention struct {
	RetentionDays      int `toml:"retention_days"`
	SweepIntervalHours int `toml:"sweep_interval_hours"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for studyreel.
//
// Configuration sections by subsystem:
//   - Paths: storage/log/assets directories and API bind address
//   - LLM: ordered provider chain for script and extras generation
//   - TTS: voice synthesis providers (ElevenLabs, piper)
//   - Assets: stock image search backend
//   - Render: ffmpeg composition settings
//   - Workflow: worker pool sizing, heartbeats, retry policy, timeouts
//   - Admission: per-client creation and download ceilings
//   - Retention: job tree retention window and sweep cadence
//   - Logging: log format and level
type Config struct {
	Paths     Paths     `toml:"paths"`
	LLM       LLM       `toml:"llm"`
	TTS       TTS       `toml:"tts"`
	Assets    Assets    `toml:"assets"`
	Render    Render    `toml:"render"`
	Workflow  Workflow  `toml:"workflow"`
	Admission Admission `toml:"admission"`
	Retention Retention `toml:"retention"`
	Logging   Logging   `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/studyreel/config.toml")
}

// SampleConfig returns the embedded sample configuration file contents.
func SampleConfig() string {
	return sampleConfig
}

// Load locates, parses, and validates a configuration file. The returned
// config has all path fields expanded and normalized. An optional .env file
// next to the working directory is loaded first so environment fallbacks
// (LLM_API_KEY, ELEVENLABS_API_KEY) can come from it.
func Load(path string) (*Config, string, bool, error) {
	_ = godotenv.Load()

	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("studyreel.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
// AssetsDir is created on a best-effort basis so the daemon can run when
// the shared asset library is temporarily unavailable.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.StorageDir, c.Paths.LogDir, c.JobsRoot()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	if strings.TrimSpace(c.Paths.AssetsDir) != "" {
		_ = os.MkdirAll(c.Paths.AssetsDir, 0o755)
	}
	return nil
}

// JobsRoot returns the directory that holds one subtree per job.
func (c *Config) JobsRoot() string {
	return filepath.Join(c.Paths.StorageDir, "jobs")
}

// Providers returns the LLM provider chain in fallback order.
func (c *Config) Providers() []Provider {
	chain := make([]Provider, 0, 1+len(c.LLM.Fallbacks))
	if c.LLM.Primary.APIKey != "" || c.LLM.Primary.BaseURL != "" {
		chain = append(chain, c.LLM.Primary)
	}
	chain = append(chain, c.LLM.Fallbacks...)
	return chain
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}
