package config

const (
	defaultStorageDir = "~/.local/share/studyreel/storage"
	defaultLogDir     = "~/.local/share/studyreel/logs"
	defaultAssetsDir  = "~/.local/share/studyreel/assets"
	defaultAPIBind    = "127.0.0.1:8487"

	defaultLLMBaseURL        = "https://openrouter.ai/api/v1/chat/completions"
	defaultLLMModel          = "google/gemini-3-flash-preview"
	defaultLLMTimeoutSeconds = 60

	defaultElevenLabsBaseURL = "https://api.elevenlabs.io/v1"
	defaultElevenLabsVoiceID = "21m00Tcm4TlvDq8ikWAM"
	defaultPiperBinary       = "piper"
	defaultPiperModel        = "en_US-lessac-medium"
	defaultTTSRequestTimeout = 60

	defaultOpenverseBaseURL      = "https://api.openverse.org/v1"
	defaultAssetsRequestTimeout  = 30
	defaultRenderWidth           = 1080
	defaultRenderHeight          = 1920
	defaultRenderTimeoutMin      = 20
	defaultWorkers               = 2
	defaultQueuePollInterval     = 5
	defaultErrorRetryInterval    = 10
	defaultHeartbeatInterval     = 15
	defaultHeartbeatTimeout      = 120
	defaultStageAttempts         = 3
	defaultRetryBaseDelaySec     = 1.0
	defaultRetryMaxDelaySec      = 60.0
	defaultSoftTimeoutMin        = 55
	defaultHardTimeoutMin        = 60
	defaultMaxSubscribers        = 16
	defaultJobsPerHour           = 10
	defaultDownloadsPerHour      = 60
	defaultRetentionDays         = 7
	defaultSweepIntervalHours    = 6
	defaultLogFormat             = "console"
	defaultLogLevel              = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			StorageDir: defaultStorageDir,
			LogDir:     defaultLogDir,
			AssetsDir:  defaultAssetsDir,
			APIBind:    defaultAPIBind,
		},
		LLM: LLM{
			Primary: Provider{
				Name:           "primary",
				BaseURL:        defaultLLMBaseURL,
				Model:          defaultLLMModel,
				TimeoutSeconds: defaultLLMTimeoutSeconds,
			},
		},
		TTS: TTS{
			ElevenLabsBaseURL: defaultElevenLabsBaseURL,
			ElevenLabsVoiceID: defaultElevenLabsVoiceID,
			PiperBinary:       defaultPiperBinary,
			PiperModel:        defaultPiperModel,
			RequestTimeout:    defaultTTSRequestTimeout,
		},
		Assets: Assets{
			OpenverseBaseURL: defaultOpenverseBaseURL,
			RequestTimeout:   defaultAssetsRequestTimeout,
		},
		Render: Render{
			FFmpegBinary:  "ffmpeg",
			FFprobeBinary: "ffprobe",
			Width:         defaultRenderWidth,
			Height:        defaultRenderHeight,
			TimeoutMin:    defaultRenderTimeoutMin,
		},
		Workflow: Workflow{
			Workers:            defaultWorkers,
			QueuePollInterval:  defaultQueuePollInterval,
			ErrorRetryInterval: defaultErrorRetryInterval,
			HeartbeatInterval:  defaultHeartbeatInterval,
			HeartbeatTimeout:   defaultHeartbeatTimeout,
			StageAttempts:      defaultStageAttempts,
			RetryBaseDelaySec:  defaultRetryBaseDelaySec,
			RetryMaxDelaySec:   defaultRetryMaxDelaySec,
			SoftTimeoutMin:     defaultSoftTimeoutMin,
			HardTimeoutMin:     defaultHardTimeoutMin,
			MaxSubscribers:     defaultMaxSubscribers,
		},
		Admission: Admission{
			JobsPerHour:      defaultJobsPerHour,
			DownloadsPerHour: defaultDownloadsPerHour,
		},
		Retention: Retention{
			RetentionDays:      defaultRetentionDays,
			SweepIntervalHours: defaultSweepIntervalHours,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
