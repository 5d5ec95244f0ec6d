package stages_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"studyreel/internal/config"
	"studyreel/internal/providers/tts"
	"studyreel/internal/stage"
	"studyreel/internal/stages"
)

func seedVoiceInputs(t *testing.T, sc *stage.Context) {
	t.Helper()
	seedScript(t, sc, stages.ScriptPlan{
		Title: "Topic",
		Hook:  "Listen up.",
		Segments: []stages.ScriptSegment{
			{Heading: "A", Narration: "First segment narration."},
			{Heading: "B", Narration: "Second segment narration."},
		},
	})
	seedTimeline(t, sc, stages.Timeline{
		TotalDurationSec: 10,
		Segments: []stages.TimelineSegment{
			{Index: 0, Narration: "First segment narration.", DurationSec: 5},
			{Index: 1, Narration: "Second segment narration.", StartSec: 5, DurationSec: 5},
		},
	})
}

func TestVoiceSynthesizesViaEngine(t *testing.T) {
	var gotBody string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf := make([]byte, r.ContentLength)
		r.Body.Read(buf)
		gotBody = string(buf)
		w.Write([]byte("mp3-bytes"))
	}))
	defer server.Close()

	engine := tts.NewEngine(config.TTS{
		ElevenLabsAPIKey:  "key",
		ElevenLabsBaseURL: server.URL,
		ElevenLabsVoiceID: "v",
	}, nil)

	sc := newStageContext(t, topicJob("topic"))
	seedVoiceInputs(t, sc)

	result, err := stages.NewVoice(engine, "ffmpeg").Execute(context.Background(), sc)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.Artifacts[0].Name != "voice.mp3" {
		t.Fatalf("unexpected artifact %q", result.Artifacts[0].Name)
	}
	// Hook and all segment narrations joined into one request.
	mustContain(t, gotBody, "Listen up.")
	mustContain(t, gotBody, "Second segment narration.")
}

func TestVoiceRendersSilenceWithoutBackends(t *testing.T) {
	engine := tts.NewEngine(config.TTS{PiperBinary: "definitely-not-a-real-binary"}, nil)
	sc := newStageContext(t, topicJob("topic"))
	seedVoiceInputs(t, sc)

	voice := stages.NewVoice(engine, "ffmpeg")
	var gotArgs []string
	voice.WithCommandRunner(func(ctx context.Context, name string, args ...string) error {
		gotArgs = args
		// Last arg is the destination.
		return writeFile(t, args[len(args)-1], "silent-wav")
	})

	result, err := voice.Execute(context.Background(), sc)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.Artifacts[0].Name != "voice.wav" {
		t.Fatalf("unexpected artifact %q", result.Artifacts[0].Name)
	}
	joined := strings.Join(gotArgs, " ")
	mustContain(t, joined, "anullsrc")
	mustContain(t, joined, "10.00")
}

func TestVoiceRequiresScript(t *testing.T) {
	engine := tts.NewEngine(config.TTS{}, nil)
	sc := newStageContext(t, topicJob("topic"))
	if _, err := stages.NewVoice(engine, "ffmpeg").Execute(context.Background(), sc); err == nil {
		t.Fatal("expected error without script artifact")
	}
}

func TestVoiceFingerprintTracksPersonality(t *testing.T) {
	sc := newStageContext(t, topicJob("topic"))
	voice := stages.NewVoice(nil, "ffmpeg")
	base := voice.Fingerprint(sc)

	sc.Config.Personality = "ASMR"
	if voice.Fingerprint(sc) == base {
		t.Fatal("fingerprint must change with personality")
	}
}
