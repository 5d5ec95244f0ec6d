package tts

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// PiperSynthesizer runs the local piper binary for offline synthesis.
type PiperSynthesizer struct {
	binary        string
	model         string
	commandRunner func(ctx context.Context, stdin string, name string, args ...string) error
}

// NewPiperSynthesizer constructs a synthesizer around the configured binary.
func NewPiperSynthesizer(binary, model string) *PiperSynthesizer {
	return &PiperSynthesizer{
		binary: strings.TrimSpace(binary),
		model:  strings.TrimSpace(model),
	}
}

// WithCommandRunner sets a custom command runner (for testing).
func (p *PiperSynthesizer) WithCommandRunner(runner func(ctx context.Context, stdin string, name string, args ...string) error) {
	p.commandRunner = runner
}

// Available reports whether the piper binary can be resolved on PATH.
func (p *PiperSynthesizer) Available() bool {
	if p == nil || p.binary == "" {
		return false
	}
	if p.commandRunner != nil {
		return true
	}
	_, err := exec.LookPath(p.binary)
	return err == nil
}

// SynthesizeToFile renders text to a WAV file at dest.
func (p *PiperSynthesizer) SynthesizeToFile(ctx context.Context, text, dest string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return errors.New("piper: text required")
	}
	if dest == "" {
		return errors.New("piper: destination path required")
	}
	if p.binary == "" {
		return errors.New("piper: binary not configured")
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("piper: ensure output dir: %w", err)
	}
	args := []string{"--output_file", dest}
	if p.model != "" {
		args = append(args, "--model", p.model)
	}
	if p.commandRunner != nil {
		return p.commandRunner(ctx, text, p.binary, args...)
	}
	cmd := exec.CommandContext(ctx, p.binary, args...) //nolint:gosec
	cmd.Stdin = strings.NewReader(text)
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("piper: %w: %s", err, strings.TrimSpace(string(output)))
	}
	return nil
}
