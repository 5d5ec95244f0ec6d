package stages

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"studyreel/internal/config"
	"studyreel/internal/queue"
	"studyreel/internal/services"
	"studyreel/internal/stage"
)

const minSegmentSeconds = 2.0

// Motion styles rotate across segments; faster pacing uses sharper moves.
var motionsByPacing = map[queue.Pacing][]string{
	queue.PacingFast:     {"cut", "zoom_in", "pan_left", "zoom_out"},
	queue.PacingBalanced: {"zoom_in", "pan_left", "zoom_out", "pan_right"},
	queue.PacingExam:     {"pan_left", "pan_right", "zoom_in"},
}

// TimelineStage places script segments on the clock: each segment's duration
// is derived from its narration length at the pacing preset's words-per-
// minute rate.
type TimelineStage struct {
	width  int
	height int
}

// NewTimeline constructs the stage from render configuration.
func NewTimeline(cfg config.Render) *TimelineStage {
	return &TimelineStage{width: cfg.Width, height: cfg.Height}
}

func (s *TimelineStage) Name() string { return stage.Timeline }

func (s *TimelineStage) Optional(queue.JobConfig) bool { return false }

func (s *TimelineStage) Fingerprint(sc *stage.Context) string {
	return stage.FingerprintOf(
		stage.Timeline,
		stage.UpstreamIdentity(sc.Upstream, stage.Script),
		string(sc.Config.Pacing),
		fmt.Sprintf("%dx%d", s.width, s.height),
	)
}

func (s *TimelineStage) Execute(ctx context.Context, sc *stage.Context) (stage.Result, error) {
	var result stage.Result

	artifact, ok := sc.UpstreamArtifact(stage.Script, "script.json")
	if !ok {
		return result, services.Wrap(services.ErrValidation, stage.Timeline, "read script", "script artifact missing", nil)
	}
	var plan ScriptPlan
	if err := readPlanJSON(artifact.Path, &plan); err != nil {
		return result, services.Wrap(services.ErrResource, stage.Timeline, "read script", "load script plan", err)
	}
	if len(plan.Segments) == 0 {
		return result, services.Wrap(services.ErrValidation, stage.Timeline, "plan segments", "script has no segments", nil)
	}

	sc.ReportProgress(0.2, "timing segments")
	wpm := sc.Config.Pacing.WordsPerMinute()
	motions := motionsByPacing[sc.Config.Pacing]
	if len(motions) == 0 {
		motions = motionsByPacing[queue.PacingBalanced]
	}

	timeline := Timeline{
		Width:          s.width,
		Height:         s.height,
		WordsPerMinute: wpm,
	}
	cursor := 0.0
	hookWords := len(strings.Fields(plan.Hook))
	if hookWords > 0 {
		duration := segmentSeconds(hookWords, wpm)
		timeline.Segments = append(timeline.Segments, TimelineSegment{
			Index:       0,
			Heading:     plan.Title,
			Narration:   plan.Hook,
			VisualCue:   plan.Title,
			StartSec:    cursor,
			DurationSec: duration,
			Motion:      "zoom_in",
		})
		cursor += duration
	}
	for _, seg := range plan.Segments {
		words := len(strings.Fields(seg.Narration))
		if words == 0 {
			continue
		}
		duration := segmentSeconds(words, wpm)
		index := len(timeline.Segments)
		timeline.Segments = append(timeline.Segments, TimelineSegment{
			Index:       index,
			Heading:     seg.Heading,
			Narration:   seg.Narration,
			VisualCue:   seg.VisualCue,
			StartSec:    cursor,
			DurationSec: duration,
			Motion:      motions[index%len(motions)],
		})
		cursor += duration
	}
	timeline.TotalDurationSec = cursor
	if len(timeline.Segments) == 0 {
		return result, services.Wrap(services.ErrValidation, stage.Timeline, "plan segments", "no narratable segments", nil)
	}

	dest := filepath.Join(sc.Tree.RenderDir(), "timeline.json")
	if err := writePlanJSON(dest, timeline); err != nil {
		return result, services.Wrap(services.ErrResource, stage.Timeline, "write timeline", "persist timeline", err)
	}
	sc.ReportProgress(1, fmt.Sprintf("timeline: %d segments, %.1fs total", len(timeline.Segments), cursor))

	result.Artifacts = []queue.Artifact{
		fileArtifact(sc.Job.ID, stage.Timeline, "timeline.json", dest, KindTimeline, false),
	}
	result.Metrics = map[string]float64{
		"segments":      float64(len(timeline.Segments)),
		"total_seconds": cursor,
	}
	return result, nil
}

func segmentSeconds(words, wpm int) float64 {
	seconds := float64(words) / float64(wpm) * 60
	if seconds < minSegmentSeconds {
		return minSegmentSeconds
	}
	return seconds
}

func (s *TimelineStage) HealthCheck(context.Context) stage.Health {
	return stage.Healthy(stage.Timeline)
}
