package stages

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"

	"studyreel/internal/providers/tts"
	"studyreel/internal/queue"
	"studyreel/internal/services"
	"studyreel/internal/stage"
)

// Style intensity passed to the voice backend per personality.
var voiceStyle = map[queue.Personality]float64{
	queue.PersonalityStandard:  0,
	queue.PersonalityUnhinged:  0.9,
	queue.PersonalityASMR:      0.2,
	queue.PersonalityGossip:    0.6,
	queue.PersonalityProfessor: 0.1,
}

// VoiceStage synthesizes the narration track. The TTS engine already falls
// back from ElevenLabs to piper; when neither backend is usable the stage
// renders a silent track of the timeline's duration so the pipeline can
// still produce a video.
type VoiceStage struct {
	engine        *tts.Engine
	ffmpegBinary  string
	commandRunner func(ctx context.Context, name string, args ...string) error
}

// NewVoice constructs the stage.
func NewVoice(engine *tts.Engine, ffmpegBinary string) *VoiceStage {
	if ffmpegBinary == "" {
		ffmpegBinary = "ffmpeg"
	}
	return &VoiceStage{engine: engine, ffmpegBinary: ffmpegBinary}
}

// WithCommandRunner sets a custom command runner (for testing).
func (s *VoiceStage) WithCommandRunner(runner func(ctx context.Context, name string, args ...string) error) {
	s.commandRunner = runner
}

func (s *VoiceStage) Name() string { return stage.Voice }

func (s *VoiceStage) Optional(queue.JobConfig) bool { return false }

func (s *VoiceStage) Fingerprint(sc *stage.Context) string {
	return stage.FingerprintOf(
		stage.Voice,
		stage.UpstreamIdentity(sc.Upstream, stage.Script, stage.Timeline),
		string(sc.Config.Personality),
	)
}

func (s *VoiceStage) Execute(ctx context.Context, sc *stage.Context) (stage.Result, error) {
	var result stage.Result

	narration, timeline, err := s.loadInputs(sc)
	if err != nil {
		return result, err
	}

	destBase := filepath.Join(sc.Tree.AudioDir(), "voice")
	sc.ReportProgress(0.2, "synthesizing narration")

	var (
		path     string
		provider string
	)
	if s.engine != nil && s.engine.Available() {
		synth, synthErr := s.engine.Synthesize(ctx, narration, voiceStyle[sc.Config.Personality], destBase)
		if synthErr != nil {
			if errors.Is(synthErr, context.Canceled) || errors.Is(synthErr, context.DeadlineExceeded) {
				return result, synthErr
			}
			return result, services.Wrap(services.ErrProvider, stage.Voice, "synthesize", "voice synthesis failed", synthErr)
		}
		path, provider = synth.Path, synth.Provider
	} else {
		path = destBase + ".wav"
		if err := s.silentTrack(ctx, timeline.TotalDurationSec, path); err != nil {
			return result, services.Wrap(services.ErrResource, stage.Voice, "silent track", "render silent narration", err)
		}
		provider = "silence"
		if sc.Log != nil {
			_ = sc.Log.Append("no TTS backend available; rendered silent narration track")
		}
	}
	sc.ReportProgress(1, fmt.Sprintf("narration synthesized via %s", provider))

	result.Artifacts = []queue.Artifact{
		fileArtifact(sc.Job.ID, stage.Voice, filepath.Base(path), path, KindVoiceTrack, false),
	}
	result.Metrics = map[string]float64{"narration_chars": float64(len(narration))}
	return result, nil
}

func (s *VoiceStage) loadInputs(sc *stage.Context) (string, Timeline, error) {
	var timeline Timeline
	scriptArtifact, ok := sc.UpstreamArtifact(stage.Script, "script.json")
	if !ok {
		return "", timeline, services.Wrap(services.ErrValidation, stage.Voice, "read script", "script artifact missing", nil)
	}
	var plan ScriptPlan
	if err := readPlanJSON(scriptArtifact.Path, &plan); err != nil {
		return "", timeline, services.Wrap(services.ErrResource, stage.Voice, "read script", "load script plan", err)
	}
	timelineArtifact, ok := sc.UpstreamArtifact(stage.Timeline, "timeline.json")
	if !ok {
		return "", timeline, services.Wrap(services.ErrValidation, stage.Voice, "read timeline", "timeline artifact missing", nil)
	}
	if err := readPlanJSON(timelineArtifact.Path, &timeline); err != nil {
		return "", timeline, services.Wrap(services.ErrResource, stage.Voice, "read timeline", "load timeline", err)
	}

	parts := make([]string, 0, len(plan.Segments)+1)
	if hook := strings.TrimSpace(plan.Hook); hook != "" {
		parts = append(parts, hook)
	}
	for _, seg := range plan.Segments {
		if narration := strings.TrimSpace(seg.Narration); narration != "" {
			parts = append(parts, narration)
		}
	}
	narration := strings.Join(parts, " ")
	if narration == "" {
		return "", timeline, services.Wrap(services.ErrValidation, stage.Voice, "read script", "script has no narration", nil)
	}
	return narration, timeline, nil
}

func (s *VoiceStage) silentTrack(ctx context.Context, seconds float64, dest string) error {
	if seconds <= 0 {
		seconds = 1
	}
	args := []string{
		"-y",
		"-f", "lavfi",
		"-i", "anullsrc=r=44100:cl=mono",
		"-t", fmt.Sprintf("%.2f", seconds),
		dest,
	}
	if s.commandRunner != nil {
		return s.commandRunner(ctx, s.ffmpegBinary, args...)
	}
	cmd := exec.CommandContext(ctx, s.ffmpegBinary, args...) //nolint:gosec
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("%s: %w: %s", s.ffmpegBinary, err, strings.TrimSpace(string(output)))
	}
	return nil
}

func (s *VoiceStage) HealthCheck(ctx context.Context) stage.Health {
	if s.engine != nil && s.engine.Available() {
		return stage.Healthy(stage.Voice)
	}
	if _, err := exec.LookPath(s.ffmpegBinary); err == nil {
		return stage.Unhealthy(stage.Voice, "no TTS backend configured; silent tracks only")
	}
	return stage.Unhealthy(stage.Voice, "no TTS backend and no ffmpeg for silent fallback")
}
