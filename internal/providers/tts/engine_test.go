package tts_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"studyreel/internal/config"
	"studyreel/internal/providers/tts"
)

func newTestConfig(serverURL string) config.TTS {
	return config.TTS{
		ElevenLabsAPIKey:  "key",
		ElevenLabsBaseURL: serverURL,
		ElevenLabsVoiceID: "voice-1",
		PiperBinary:       "piper",
		PiperModel:        "en_US-lessac-medium",
	}
}

func TestSynthesizePrefersElevenLabs(t *testing.T) {
	var gotPath, gotKey string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("xi-api-key")
		w.Write([]byte("mp3-bytes"))
	}))
	defer server.Close()

	engine := tts.NewEngine(newTestConfig(server.URL), nil)
	destBase := filepath.Join(t.TempDir(), "narration")
	result, err := engine.Synthesize(context.Background(), "hello world", 0.3, destBase)
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if result.Provider != "elevenlabs" {
		t.Fatalf("expected elevenlabs provider, got %q", result.Provider)
	}
	if result.Path != destBase+".mp3" {
		t.Fatalf("unexpected path %q", result.Path)
	}
	if gotPath != "/text-to-speech/voice-1" {
		t.Fatalf("unexpected request path %q", gotPath)
	}
	if gotKey != "key" {
		t.Fatalf("unexpected api key header %q", gotKey)
	}
	data, err := os.ReadFile(result.Path)
	if err != nil {
		t.Fatalf("read audio: %v", err)
	}
	if string(data) != "mp3-bytes" {
		t.Fatalf("unexpected audio payload %q", data)
	}
}

func TestSynthesizeFallsBackToPiper(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	engine := tts.NewEngine(newTestConfig(server.URL), nil)
	var ranBinary, ranStdin string
	engine.Piper().WithCommandRunner(func(ctx context.Context, stdin, name string, args ...string) error {
		ranBinary = name
		ranStdin = stdin
		for i, arg := range args {
			if arg == "--output_file" && i+1 < len(args) {
				return os.WriteFile(args[i+1], []byte("wav-bytes"), 0o644)
			}
		}
		t.Fatal("missing --output_file argument")
		return nil
	})

	destBase := filepath.Join(t.TempDir(), "narration")
	result, err := engine.Synthesize(context.Background(), "hello world", 0, destBase)
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if result.Provider != "piper" {
		t.Fatalf("expected piper provider, got %q", result.Provider)
	}
	if result.Path != destBase+".wav" {
		t.Fatalf("unexpected path %q", result.Path)
	}
	if ranBinary != "piper" {
		t.Fatalf("unexpected binary %q", ranBinary)
	}
	if ranStdin != "hello world" {
		t.Fatalf("unexpected stdin %q", ranStdin)
	}
}

func TestSynthesizeSkipsElevenLabsWithoutKey(t *testing.T) {
	cfg := newTestConfig("http://127.0.0.1:0")
	cfg.ElevenLabsAPIKey = ""
	engine := tts.NewEngine(cfg, nil)
	engine.Piper().WithCommandRunner(func(ctx context.Context, stdin, name string, args ...string) error {
		for i, arg := range args {
			if arg == "--output_file" && i+1 < len(args) {
				return os.WriteFile(args[i+1], []byte("wav"), 0o644)
			}
		}
		return nil
	})

	result, err := engine.Synthesize(context.Background(), "text", 0, filepath.Join(t.TempDir(), "n"))
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if result.Provider != "piper" {
		t.Fatalf("expected piper provider, got %q", result.Provider)
	}
}

func TestSynthesizeFailsWhenBothBackendsFail(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	cfg := newTestConfig(server.URL)
	cfg.PiperBinary = "definitely-not-a-real-binary-name"
	engine := tts.NewEngine(cfg, nil)

	_, err := engine.Synthesize(context.Background(), "text", 0, filepath.Join(t.TempDir(), "n"))
	if err == nil {
		t.Fatal("expected error when both backends fail")
	}
	if !strings.Contains(err.Error(), "piper unavailable") {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestSynthesizeRejectsEmptyText(t *testing.T) {
	engine := tts.NewEngine(newTestConfig("http://127.0.0.1:0"), nil)
	if _, err := engine.Synthesize(context.Background(), "  ", 0, filepath.Join(t.TempDir(), "n")); err == nil {
		t.Fatal("expected error for empty text")
	}
}
