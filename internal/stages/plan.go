package stages

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"studyreel/internal/queue"
	"studyreel/internal/storage"
)

// Artifact kinds registered in the manifest.
const (
	KindSlides        = "slides"
	KindScript        = "script"
	KindTimeline      = "timeline"
	KindAssetManifest = "asset-manifest"
	KindImage         = "image"
	KindVoiceTrack    = "voice-track"
	KindCaptions      = "captions"
	KindCaptionFile   = "caption-file"
	KindRenderedVideo = "rendered-video"
	KindMetadata      = "metadata"
	KindNotes         = "notes"
	KindFlashcards    = "flashcards"
	KindQuiz          = "quiz"
)

// Slide is one unit of extracted source material.
type Slide struct {
	Index int    `json:"index"`
	Title string `json:"title"`
	Body  string `json:"body"`
}

// SlideSet is the extract stage's output.
type SlideSet struct {
	Source string  `json:"source"`
	Topic  string  `json:"topic,omitempty"`
	Slides []Slide `json:"slides"`
}

// ScriptSegment is one narrated beat of the video.
type ScriptSegment struct {
	Heading   string `json:"heading"`
	Narration string `json:"narration"`
	VisualCue string `json:"visual_cue"`
}

// ScriptPlan is the script stage's output.
type ScriptPlan struct {
	Title       string          `json:"title"`
	Hook        string          `json:"hook"`
	Personality string          `json:"personality"`
	Segments    []ScriptSegment `json:"segments"`
}

// WordCount counts narration words across the hook and all segments.
func (p ScriptPlan) WordCount() int {
	count := len(strings.Fields(p.Hook))
	for _, seg := range p.Segments {
		count += len(strings.Fields(seg.Narration))
	}
	return count
}

// TimelineSegment is a script segment placed on the clock.
type TimelineSegment struct {
	Index       int     `json:"index"`
	Heading     string  `json:"heading"`
	Narration   string  `json:"narration"`
	VisualCue   string  `json:"visual_cue"`
	StartSec    float64 `json:"start_sec"`
	DurationSec float64 `json:"duration_sec"`
	Motion      string  `json:"motion"`
}

// Timeline is the timeline stage's output.
type Timeline struct {
	Width            int               `json:"width"`
	Height           int               `json:"height"`
	WordsPerMinute   int               `json:"words_per_minute"`
	TotalDurationSec float64           `json:"total_duration_sec"`
	Segments         []TimelineSegment `json:"segments"`
}

// AssetItem is one resolved visual for a timeline segment.
type AssetItem struct {
	SegmentIndex int    `json:"segment_index"`
	Kind         string `json:"kind"` // image | title_card
	Path         string `json:"path"`
	Source       string `json:"source,omitempty"`
	License      string `json:"license,omitempty"`
	Creator      string `json:"creator,omitempty"`
}

// AssetManifest is the assets stage's output.
type AssetManifest struct {
	Items []AssetItem `json:"items"`
}

// CaptionCue is one timed caption.
type CaptionCue struct {
	Index    int     `json:"index"`
	StartSec float64 `json:"start_sec"`
	EndSec   float64 `json:"end_sec"`
	Text     string  `json:"text"`
}

// CaptionSet is the captions stage's output.
type CaptionSet struct {
	Style string       `json:"style"`
	Cues  []CaptionCue `json:"cues"`
}

func writePlanJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	return storage.WriteFileAtomic(path, data, 0o644)
}

func readPlanJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func fileArtifact(jobID, stageName, name, path, kind string, final bool) queue.Artifact {
	return queue.Artifact{
		JobID:     jobID,
		Stage:     stageName,
		Name:      name,
		Path:      path,
		Kind:      kind,
		Final:     final,
		SizeBytes: storage.FileSize(path),
	}
}
