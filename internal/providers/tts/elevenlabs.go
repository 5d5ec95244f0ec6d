package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	defaultRequestTimeout = 60 * time.Second
	elevenLabsModelID     = "eleven_multilingual_v2"
	elevenLabsFormat      = "mp3_44100_128"
)

// ElevenLabsClient calls the ElevenLabs text-to-speech API.
type ElevenLabsClient struct {
	apiKey     string
	baseURL    string
	voiceID    string
	httpClient *http.Client
}

// NewElevenLabsClient constructs a client. An empty API key yields a client
// whose Synthesize always fails, which the engine treats as "not configured".
func NewElevenLabsClient(apiKey, baseURL, voiceID string, timeout time.Duration) *ElevenLabsClient {
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	return &ElevenLabsClient{
		apiKey:     strings.TrimSpace(apiKey),
		baseURL:    strings.TrimSpace(baseURL),
		voiceID:    strings.TrimSpace(voiceID),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// WithHTTPClient overrides the HTTP client (useful for tests).
func (c *ElevenLabsClient) WithHTTPClient(client *http.Client) {
	if client != nil {
		c.httpClient = client
	}
}

// Configured reports whether an API key is present.
func (c *ElevenLabsClient) Configured() bool {
	return c != nil && c.apiKey != ""
}

type synthesisRequest struct {
	Text          string         `json:"text"`
	ModelID       string         `json:"model_id"`
	VoiceSettings *voiceSettings `json:"voice_settings,omitempty"`
}

type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Style           float64 `json:"style,omitempty"`
}

// Synthesize renders text to MP3 audio bytes. The style knob maps the
// narration personality onto the voice_settings style parameter.
func (c *ElevenLabsClient) Synthesize(ctx context.Context, text string, style float64) ([]byte, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, errors.New("elevenlabs: text required")
	}
	if !c.Configured() {
		return nil, errors.New("elevenlabs: api key required")
	}
	endpoint, err := url.JoinPath(c.baseURL, "text-to-speech", c.voiceID)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: build url: %w", err)
	}
	endpoint += "?output_format=" + elevenLabsFormat

	payload := synthesisRequest{
		Text:    text,
		ModelID: elevenLabsModelID,
		VoiceSettings: &voiceSettings{
			Stability:       0.5,
			SimilarityBoost: 0.75,
			Style:           style,
		},
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: encode body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(encoded))
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: new request: %w", err)
	}
	req.Header.Set("xi-api-key", c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/mpeg")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: http error: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: read body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		snippet := strings.TrimSpace(string(body))
		if len(snippet) > 200 {
			snippet = snippet[:200] + "..."
		}
		return nil, fmt.Errorf("elevenlabs: http %d: %s", resp.StatusCode, snippet)
	}
	if len(body) == 0 {
		return nil, errors.New("elevenlabs: empty audio payload")
	}
	return body, nil
}
