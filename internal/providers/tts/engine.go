package tts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"studyreel/internal/config"
	"studyreel/internal/logging"
	"studyreel/internal/storage"
)

// Result describes a completed synthesis.
type Result struct {
	Provider string
	Path     string
}

// Engine chooses between ElevenLabs and piper. ElevenLabs is preferred
// whenever its API key is configured; piper catches both the unconfigured
// case and ElevenLabs request failures.
type Engine struct {
	elevenlabs *ElevenLabsClient
	piper      *PiperSynthesizer
	log        *slog.Logger
}

// NewEngine wires an engine from TTS configuration.
func NewEngine(cfg config.TTS, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = logging.NewNop()
	}
	timeout := time.Duration(cfg.RequestTimeout) * time.Second
	return &Engine{
		elevenlabs: NewElevenLabsClient(cfg.ElevenLabsAPIKey, cfg.ElevenLabsBaseURL, cfg.ElevenLabsVoiceID, timeout),
		piper:      NewPiperSynthesizer(cfg.PiperBinary, cfg.PiperModel),
		log:        logging.NewComponentLogger(logger, "tts"),
	}
}

// ElevenLabs exposes the primary client (for tests and health checks).
func (e *Engine) ElevenLabs() *ElevenLabsClient { return e.elevenlabs }

// Piper exposes the fallback synthesizer (for tests).
func (e *Engine) Piper() *PiperSynthesizer { return e.piper }

// Available reports whether at least one backend can synthesize.
func (e *Engine) Available() bool {
	if e == nil {
		return false
	}
	return e.elevenlabs.Configured() || e.piper.Available()
}

// Synthesize renders text to an audio file. destBase is the output path
// without extension; the extension depends on which backend served the
// request (.mp3 for ElevenLabs, .wav for piper).
func (e *Engine) Synthesize(ctx context.Context, text string, style float64, destBase string) (Result, error) {
	var result Result
	if destBase == "" {
		return result, errors.New("tts: destination base required")
	}

	var primaryErr error
	if e.elevenlabs.Configured() {
		audio, err := e.elevenlabs.Synthesize(ctx, text, style)
		if err == nil {
			dest := destBase + ".mp3"
			if err := storage.WriteFileAtomic(dest, audio, 0o644); err != nil {
				return result, fmt.Errorf("tts: write audio: %w", err)
			}
			return Result{Provider: "elevenlabs", Path: dest}, nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return result, err
		}
		primaryErr = err
		e.log.Warn("elevenlabs synthesis failed, falling back to piper", logging.Error(err))
	}

	if !e.piper.Available() {
		if primaryErr != nil {
			return result, fmt.Errorf("tts: elevenlabs failed and piper unavailable: %w", primaryErr)
		}
		return result, errors.New("tts: no synthesis backend configured")
	}

	dest := destBase + ".wav"
	if err := e.piper.SynthesizeToFile(ctx, text, dest); err != nil {
		if primaryErr != nil {
			return result, fmt.Errorf("tts: elevenlabs failed (%v); piper failed: %w", primaryErr, err)
		}
		return result, fmt.Errorf("tts: %w", err)
	}
	return Result{Provider: "piper", Path: dest}, nil
}
