package stages

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"studyreel/internal/queue"
	"studyreel/internal/services"
	"studyreel/internal/stage"
	"studyreel/internal/storage"
)

const wordsPerCue = 6

// CaptionsStage derives timed captions from the timeline by spreading each
// segment's words proportionally across its duration. Jobs with caption
// style "none" skip the stage.
type CaptionsStage struct{}

// NewCaptions constructs the stage.
func NewCaptions() *CaptionsStage { return &CaptionsStage{} }

func (s *CaptionsStage) Name() string { return stage.Captions }

func (s *CaptionsStage) Optional(queue.JobConfig) bool { return false }

// Skip reports caption-less configurations as not applicable.
func (s *CaptionsStage) Skip(sc *stage.Context) (string, bool) {
	if strings.EqualFold(strings.TrimSpace(sc.Config.CaptionStyle), "none") {
		return "caption style none", true
	}
	return "", false
}

func (s *CaptionsStage) Fingerprint(sc *stage.Context) string {
	return stage.FingerprintOf(
		stage.Captions,
		stage.UpstreamIdentity(sc.Upstream, stage.Timeline),
		sc.Config.CaptionStyle,
	)
}

func (s *CaptionsStage) Execute(ctx context.Context, sc *stage.Context) (stage.Result, error) {
	var result stage.Result

	artifact, ok := sc.UpstreamArtifact(stage.Timeline, "timeline.json")
	if !ok {
		return result, services.Wrap(services.ErrValidation, stage.Captions, "read timeline", "timeline artifact missing", nil)
	}
	var timeline Timeline
	if err := readPlanJSON(artifact.Path, &timeline); err != nil {
		return result, services.Wrap(services.ErrResource, stage.Captions, "read timeline", "load timeline", err)
	}

	sc.ReportProgress(0.3, "timing captions")
	set := CaptionSet{Style: sc.Config.CaptionStyle}
	for _, segment := range timeline.Segments {
		set.Cues = append(set.Cues, cueSegment(segment, len(set.Cues))...)
	}
	if len(set.Cues) == 0 {
		return result, services.Wrap(services.ErrValidation, stage.Captions, "time captions", "timeline has no narration to caption", nil)
	}

	jsonDest := filepath.Join(sc.Tree.CaptionsDir(), "captions.json")
	if err := writePlanJSON(jsonDest, set); err != nil {
		return result, services.Wrap(services.ErrResource, stage.Captions, "write captions", "persist caption set", err)
	}
	srtDest := filepath.Join(sc.Tree.CaptionsDir(), "captions.srt")
	if err := storage.WriteFileAtomic(srtDest, []byte(formatSRT(set.Cues)), 0o644); err != nil {
		return result, services.Wrap(services.ErrResource, stage.Captions, "write captions", "persist srt", err)
	}
	sc.ReportProgress(1, fmt.Sprintf("captions: %d cues", len(set.Cues)))

	result.Artifacts = []queue.Artifact{
		fileArtifact(sc.Job.ID, stage.Captions, "captions.json", jsonDest, KindCaptions, false),
		fileArtifact(sc.Job.ID, stage.Captions, "captions.srt", srtDest, KindCaptionFile, false),
	}
	result.Metrics = map[string]float64{"cues": float64(len(set.Cues))}
	return result, nil
}

// cueSegment spreads a segment's words over its duration in fixed-size word
// groups.
func cueSegment(segment TimelineSegment, nextIndex int) []CaptionCue {
	words := strings.Fields(segment.Narration)
	if len(words) == 0 {
		return nil
	}
	perWord := segment.DurationSec / float64(len(words))

	var cues []CaptionCue
	for start := 0; start < len(words); start += wordsPerCue {
		end := start + wordsPerCue
		if end > len(words) {
			end = len(words)
		}
		cues = append(cues, CaptionCue{
			Index:    nextIndex + len(cues),
			StartSec: segment.StartSec + float64(start)*perWord,
			EndSec:   segment.StartSec + float64(end)*perWord,
			Text:     strings.Join(words[start:end], " "),
		})
	}
	return cues
}

func formatSRT(cues []CaptionCue) string {
	var b strings.Builder
	for i, cue := range cues {
		fmt.Fprintf(&b, "%d\n%s --> %s\n%s\n\n", i+1, srtTimestamp(cue.StartSec), srtTimestamp(cue.EndSec), cue.Text)
	}
	return b.String()
}

func srtTimestamp(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	millis := int(seconds*1000 + 0.5)
	h := millis / 3600000
	m := millis % 3600000 / 60000
	s := millis % 60000 / 1000
	ms := millis % 1000
	return fmt.Sprintf("%02d:%02d:%02d,%03d", h, m, s, ms)
}

func (s *CaptionsStage) HealthCheck(context.Context) stage.Health {
	return stage.Healthy(stage.Captions)
}
