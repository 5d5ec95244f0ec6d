package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeLLM()
	c.normalizeTTS()
	c.normalizeAssets()
	c.normalizeRender()
	c.normalizeWorkflow()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if c.Paths.StorageDir, err = expandPath(c.Paths.StorageDir); err != nil {
		return fmt.Errorf("paths.storage_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if c.Paths.AssetsDir, err = expandPath(c.Paths.AssetsDir); err != nil {
		return fmt.Errorf("paths.assets_dir: %w", err)
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	if c.Paths.APIBind == "" {
		c.Paths.APIBind = defaultAPIBind
	}
	c.Paths.APIToken = strings.TrimSpace(c.Paths.APIToken)
	return nil
}

func (c *Config) normalizeLLM() {
	if c.LLM.Primary.APIKey == "" {
		if value, ok := os.LookupEnv("LLM_API_KEY"); ok {
			c.LLM.Primary.APIKey = value
		}
	}
	normalizeProvider(&c.LLM.Primary, "primary")
	for i := range c.LLM.Fallbacks {
		normalizeProvider(&c.LLM.Fallbacks[i], fmt.Sprintf("fallback-%d", i+1))
	}
}

func normalizeProvider(p *Provider, fallbackName string) {
	p.Name = strings.TrimSpace(p.Name)
	if p.Name == "" {
		p.Name = fallbackName
	}
	p.BaseURL = strings.TrimSpace(p.BaseURL)
	if p.BaseURL == "" {
		p.BaseURL = defaultLLMBaseURL
	}
	p.Model = strings.TrimSpace(p.Model)
	if p.Model == "" {
		p.Model = defaultLLMModel
	}
	if p.TimeoutSeconds <= 0 {
		p.TimeoutSeconds = defaultLLMTimeoutSeconds
	}
}

func (c *Config) normalizeTTS() {
	if c.TTS.ElevenLabsAPIKey == "" {
		if value, ok := os.LookupEnv("ELEVENLABS_API_KEY"); ok {
			c.TTS.ElevenLabsAPIKey = value
		}
	}
	c.TTS.ElevenLabsBaseURL = strings.TrimSpace(c.TTS.ElevenLabsBaseURL)
	if c.TTS.ElevenLabsBaseURL == "" {
		c.TTS.ElevenLabsBaseURL = defaultElevenLabsBaseURL
	}
	if strings.TrimSpace(c.TTS.ElevenLabsVoiceID) == "" {
		c.TTS.ElevenLabsVoiceID = defaultElevenLabsVoiceID
	}
	if strings.TrimSpace(c.TTS.PiperBinary) == "" {
		c.TTS.PiperBinary = defaultPiperBinary
	}
	if strings.TrimSpace(c.TTS.PiperModel) == "" {
		c.TTS.PiperModel = defaultPiperModel
	}
	if c.TTS.RequestTimeout <= 0 {
		c.TTS.RequestTimeout = defaultTTSRequestTimeout
	}
}

func (c *Config) normalizeAssets() {
	c.Assets.OpenverseBaseURL = strings.TrimSpace(c.Assets.OpenverseBaseURL)
	if c.Assets.OpenverseBaseURL == "" {
		c.Assets.OpenverseBaseURL = defaultOpenverseBaseURL
	}
	if c.Assets.RequestTimeout <= 0 {
		c.Assets.RequestTimeout = defaultAssetsRequestTimeout
	}
}

func (c *Config) normalizeRender() {
	if strings.TrimSpace(c.Render.FFmpegBinary) == "" {
		c.Render.FFmpegBinary = "ffmpeg"
	}
	if strings.TrimSpace(c.Render.FFprobeBinary) == "" {
		c.Render.FFprobeBinary = "ffprobe"
	}
	if c.Render.Width <= 0 {
		c.Render.Width = defaultRenderWidth
	}
	if c.Render.Height <= 0 {
		c.Render.Height = defaultRenderHeight
	}
	if c.Render.TimeoutMin <= 0 {
		c.Render.TimeoutMin = defaultRenderTimeoutMin
	}
}

func (c *Config) normalizeWorkflow() {
	if c.Workflow.Workers <= 0 {
		c.Workflow.Workers = defaultWorkers
	}
	if c.Workflow.StageAttempts <= 0 {
		c.Workflow.StageAttempts = defaultStageAttempts
	}
	if c.Workflow.RetryBaseDelaySec <= 0 {
		c.Workflow.RetryBaseDelaySec = defaultRetryBaseDelaySec
	}
	if c.Workflow.RetryMaxDelaySec <= 0 {
		c.Workflow.RetryMaxDelaySec = defaultRetryMaxDelaySec
	}
	if c.Workflow.MaxSubscribers <= 0 {
		c.Workflow.MaxSubscribers = defaultMaxSubscribers
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
