package stages

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"

	"studyreel/internal/config"
	"studyreel/internal/queue"
	"studyreel/internal/services"
	"studyreel/internal/stage"
)

const backgroundColor = "0x101018"

// RenderStage composes the vertical video with ffmpeg: segment visuals
// concatenated over the narration track, captions burned in when present.
// If the full filter graph fails (codec or filter availability varies by
// build), a simplified single-background command is attempted before the
// stage reports a resource error.
type RenderStage struct {
	ffmpegBinary  string
	width         int
	height        int
	commandRunner func(ctx context.Context, name string, args ...string) error
}

// NewRender constructs the stage from render configuration.
func NewRender(cfg config.Render) *RenderStage {
	binary := cfg.FFmpegBinary
	if binary == "" {
		binary = "ffmpeg"
	}
	return &RenderStage{ffmpegBinary: binary, width: cfg.Width, height: cfg.Height}
}

// WithCommandRunner sets a custom command runner (for testing).
func (s *RenderStage) WithCommandRunner(runner func(ctx context.Context, name string, args ...string) error) {
	s.commandRunner = runner
}

func (s *RenderStage) Name() string { return stage.Render }

func (s *RenderStage) Optional(queue.JobConfig) bool { return false }

func (s *RenderStage) Fingerprint(sc *stage.Context) string {
	return stage.FingerprintOf(
		stage.Render,
		stage.UpstreamIdentity(sc.Upstream, stage.Timeline, stage.Assets, stage.Voice, stage.Captions),
		fmt.Sprintf("%dx%d", s.width, s.height),
	)
}

func (s *RenderStage) Execute(ctx context.Context, sc *stage.Context) (stage.Result, error) {
	var result stage.Result

	timelineArtifact, ok := sc.UpstreamArtifact(stage.Timeline, "timeline.json")
	if !ok {
		return result, services.Wrap(services.ErrValidation, stage.Render, "read timeline", "timeline artifact missing", nil)
	}
	var timeline Timeline
	if err := readPlanJSON(timelineArtifact.Path, &timeline); err != nil {
		return result, services.Wrap(services.ErrResource, stage.Render, "read timeline", "load timeline", err)
	}
	voice, ok := sc.UpstreamArtifact(stage.Voice, "voice.wav")
	if !ok {
		if voice, ok = sc.UpstreamArtifact(stage.Voice, "voice.mp3"); !ok {
			return result, services.Wrap(services.ErrValidation, stage.Render, "read voice", "voice track missing", nil)
		}
	}
	srtPath := ""
	if srt, ok := sc.UpstreamArtifact(stage.Captions, "captions.srt"); ok {
		srtPath = srt.Path
	}
	images := s.segmentImages(sc, timeline)

	dest := filepath.Join(sc.Tree.RenderDir(), "video_raw.mp4")
	sc.ReportProgress(0.1, "composing render command")

	args := s.buildSlideshowArgs(timeline, images, voice.Path, srtPath, dest)
	sc.ReportProgress(0.2, "encoding video")
	if err := s.run(ctx, args); err != nil {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		if sc.Log != nil {
			_ = sc.Log.Appendf("full render failed, retrying with simple composition: %v", err)
		}
		simple := s.buildSimpleArgs(timeline, voice.Path, srtPath, dest)
		if err := s.run(ctx, simple); err != nil {
			if ctx.Err() != nil {
				return result, ctx.Err()
			}
			return result, services.Wrap(services.ErrResource, stage.Render, "encode", "ffmpeg failed", err)
		}
	}
	sc.ReportProgress(1, fmt.Sprintf("video rendered: %.1fs", timeline.TotalDurationSec))

	result.Artifacts = []queue.Artifact{
		fileArtifact(sc.Job.ID, stage.Render, "video_raw.mp4", dest, KindRenderedVideo, false),
	}
	result.Metrics = map[string]float64{"duration_seconds": timeline.TotalDurationSec}
	return result, nil
}

// segmentImages maps segment index to a raster image path. Generated SVG
// title cards are excluded since ffmpeg builds commonly lack SVG decoding.
func (s *RenderStage) segmentImages(sc *stage.Context, timeline Timeline) map[int]string {
	images := make(map[int]string)
	manifestArtifact, ok := sc.UpstreamArtifact(stage.Assets, "manifest.json")
	if !ok {
		return images
	}
	var manifest AssetManifest
	if err := readPlanJSON(manifestArtifact.Path, &manifest); err != nil {
		if sc.Log != nil {
			_ = sc.Log.Appendf("asset manifest unreadable, rendering without images: %v", err)
		}
		return images
	}
	for _, item := range manifest.Items {
		if item.Kind == "image" && item.SegmentIndex < len(timeline.Segments) {
			images[item.SegmentIndex] = item.Path
		}
	}
	return images
}

// buildSlideshowArgs loops each segment's image for the segment duration,
// concatenates them, and lays the narration underneath.
func (s *RenderStage) buildSlideshowArgs(timeline Timeline, images map[int]string, voicePath, srtPath, dest string) []string {
	args := []string{"-y"}
	var filter strings.Builder
	inputs := 0
	for _, segment := range timeline.Segments {
		path, ok := images[segment.Index]
		if !ok {
			// Color slate for segments without a raster image.
			args = append(args,
				"-f", "lavfi",
				"-t", fmt.Sprintf("%.2f", segment.DurationSec),
				"-i", fmt.Sprintf("color=c=%s:s=%dx%d:r=30", backgroundColor, s.width, s.height),
			)
		} else {
			args = append(args,
				"-loop", "1",
				"-t", fmt.Sprintf("%.2f", segment.DurationSec),
				"-i", path,
			)
		}
		fmt.Fprintf(&filter, "[%d:v]scale=%d:%d:force_original_aspect_ratio=increase,crop=%d:%d,setsar=1[v%d];",
			inputs, s.width, s.height, s.width, s.height, inputs)
		inputs++
	}
	args = append(args, "-i", voicePath)

	for i := 0; i < inputs; i++ {
		fmt.Fprintf(&filter, "[v%d]", i)
	}
	fmt.Fprintf(&filter, "concat=n=%d:v=1:a=0[video]", inputs)
	if srtPath != "" {
		fmt.Fprintf(&filter, ";[video]subtitles=%s[video]", escapeFilterPath(srtPath))
	}

	args = append(args,
		"-filter_complex", filter.String(),
		"-map", "[video]",
		"-map", fmt.Sprintf("%d:a", inputs),
		"-c:v", "libx264",
		"-pix_fmt", "yuv420p",
		"-c:a", "aac",
		"-shortest",
		dest,
	)
	return args
}

// buildSimpleArgs renders a plain background with the narration track.
func (s *RenderStage) buildSimpleArgs(timeline Timeline, voicePath, srtPath, dest string) []string {
	args := []string{
		"-y",
		"-f", "lavfi",
		"-t", fmt.Sprintf("%.2f", timeline.TotalDurationSec),
		"-i", fmt.Sprintf("color=c=%s:s=%dx%d:r=30", backgroundColor, s.width, s.height),
		"-i", voicePath,
	}
	if srtPath != "" {
		args = append(args, "-vf", "subtitles="+escapeFilterPath(srtPath))
	}
	args = append(args,
		"-c:v", "libx264",
		"-pix_fmt", "yuv420p",
		"-c:a", "aac",
		"-shortest",
		dest,
	)
	return args
}

// escapeFilterPath escapes characters that break ffmpeg filter arguments.
func escapeFilterPath(path string) string {
	replacer := strings.NewReplacer(`\`, `\\`, ":", `\:`, "'", `\'`)
	return replacer.Replace(path)
}

func (s *RenderStage) run(ctx context.Context, args []string) error {
	if s.commandRunner != nil {
		return s.commandRunner(ctx, s.ffmpegBinary, args...)
	}
	cmd := exec.CommandContext(ctx, s.ffmpegBinary, args...) //nolint:gosec
	if output, err := cmd.CombinedOutput(); err != nil {
		tail := strings.TrimSpace(string(output))
		if len(tail) > 400 {
			tail = tail[len(tail)-400:]
		}
		return fmt.Errorf("%s: %w: %s", s.ffmpegBinary, err, tail)
	}
	return nil
}

func (s *RenderStage) HealthCheck(ctx context.Context) stage.Health {
	if _, err := exec.LookPath(s.ffmpegBinary); err != nil {
		return stage.Unhealthy(stage.Render, fmt.Sprintf("%s not on PATH", s.ffmpegBinary))
	}
	return stage.Healthy(stage.Render)
}
