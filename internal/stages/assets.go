package stages

import (
	"context"
	"encoding/xml"
	"fmt"
	"path/filepath"
	"strings"

	"studyreel/internal/providers/imagesearch"
	"studyreel/internal/queue"
	"studyreel/internal/services"
	"studyreel/internal/stage"
	"studyreel/internal/storage"
)

// AssetsStage resolves each timeline segment's visual cue against the image
// search API, falling back to a generated title card when no usable image is
// found. The stage is optional: a reel of title cards is still a reel, so
// exhausting retries degrades the visuals instead of failing the job.
type AssetsStage struct {
	search *imagesearch.Client
	width  int
	height int
}

// NewAssets constructs the stage.
func NewAssets(search *imagesearch.Client, width, height int) *AssetsStage {
	return &AssetsStage{search: search, width: width, height: height}
}

func (s *AssetsStage) Name() string { return stage.Assets }

func (s *AssetsStage) Optional(queue.JobConfig) bool { return true }

func (s *AssetsStage) Fingerprint(sc *stage.Context) string {
	return stage.FingerprintOf(
		stage.Assets,
		stage.UpstreamIdentity(sc.Upstream, stage.Timeline),
	)
}

func (s *AssetsStage) Execute(ctx context.Context, sc *stage.Context) (stage.Result, error) {
	var result stage.Result

	artifact, ok := sc.UpstreamArtifact(stage.Timeline, "timeline.json")
	if !ok {
		return result, services.Wrap(services.ErrValidation, stage.Assets, "read timeline", "timeline artifact missing", nil)
	}
	var timeline Timeline
	if err := readPlanJSON(artifact.Path, &timeline); err != nil {
		return result, services.Wrap(services.ErrResource, stage.Assets, "read timeline", "load timeline", err)
	}

	manifest := AssetManifest{}
	var artifacts []queue.Artifact
	downloaded := 0
	for i, segment := range timeline.Segments {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		sc.ReportProgress(float64(i)/float64(len(timeline.Segments)), fmt.Sprintf("resolving visual %d/%d", i+1, len(timeline.Segments)))

		item := s.resolveSegment(ctx, sc, segment)
		manifest.Items = append(manifest.Items, item)
		name := filepath.Base(item.Path)
		artifacts = append(artifacts, fileArtifact(sc.Job.ID, stage.Assets, name, item.Path, KindImage, false))
		if item.Kind == "image" {
			downloaded++
		}
	}

	dest := filepath.Join(sc.Tree.AssetsDir(), "manifest.json")
	if err := writePlanJSON(dest, manifest); err != nil {
		return result, services.Wrap(services.ErrResource, stage.Assets, "write manifest", "persist asset manifest", err)
	}
	sc.ReportProgress(1, fmt.Sprintf("assets resolved: %d images, %d title cards", downloaded, len(manifest.Items)-downloaded))

	result.Artifacts = append([]queue.Artifact{
		fileArtifact(sc.Job.ID, stage.Assets, "manifest.json", dest, KindAssetManifest, false),
	}, artifacts...)
	result.Metrics = map[string]float64{
		"images":      float64(downloaded),
		"title_cards": float64(len(manifest.Items) - downloaded),
	}
	return result, nil
}

// resolveSegment tries image search first and always succeeds by falling
// back to a generated title card.
func (s *AssetsStage) resolveSegment(ctx context.Context, sc *stage.Context, segment TimelineSegment) AssetItem {
	cue := strings.TrimSpace(segment.VisualCue)
	if cue == "" {
		cue = strings.TrimSpace(segment.Heading)
	}
	if cue != "" && s.search != nil {
		if item, ok := s.fetchImage(ctx, sc, segment.Index, cue); ok {
			return item
		}
	}
	return s.titleCard(sc, segment)
}

func (s *AssetsStage) fetchImage(ctx context.Context, sc *stage.Context, index int, cue string) (AssetItem, bool) {
	results, err := s.search.Search(ctx, cue, 3)
	if err != nil || len(results) == 0 {
		if err != nil && sc.Log != nil {
			_ = sc.Log.Appendf("image search failed for %q: %v", cue, err)
		}
		return AssetItem{}, false
	}
	dest := filepath.Join(sc.Tree.AssetsDir(), fmt.Sprintf("scene_%02d.jpg", index))
	for _, candidate := range results {
		if err := s.search.Download(ctx, candidate.URL, dest); err != nil {
			if sc.Log != nil {
				_ = sc.Log.Appendf("image download failed for %q: %v", candidate.URL, err)
			}
			continue
		}
		return AssetItem{
			SegmentIndex: index,
			Kind:         "image",
			Path:         dest,
			Source:       candidate.Source,
			License:      candidate.License,
			Creator:      candidate.Creator,
		}, true
	}
	return AssetItem{}, false
}

func (s *AssetsStage) titleCard(sc *stage.Context, segment TimelineSegment) AssetItem {
	dest := filepath.Join(sc.Tree.AssetsDir(), fmt.Sprintf("title_card_%02d.svg", segment.Index))
	card := renderTitleCard(segment.Heading, s.width, s.height)
	if err := storage.WriteFileAtomic(dest, []byte(card), 0o644); err != nil && sc.Log != nil {
		_ = sc.Log.Appendf("title card write failed: %v", err)
	}
	return AssetItem{SegmentIndex: segment.Index, Kind: "title_card", Path: dest}
}

func renderTitleCard(heading string, width, height int) string {
	var escaped strings.Builder
	_ = xml.EscapeText(&escaped, []byte(strings.TrimSpace(heading)))
	return fmt.Sprintf(
		`<svg xmlns="http://www.w3.org/2000/svg" width="%d" height="%d" viewBox="0 0 %d %d">`+
			`<rect width="100%%" height="100%%" fill="#101018"/>`+
			`<text x="50%%" y="50%%" fill="#ffffff" font-family="sans-serif" font-size="64" text-anchor="middle" dominant-baseline="middle">%s</text>`+
			`</svg>`,
		width, height, width, height, escaped.String())
}

func (s *AssetsStage) HealthCheck(context.Context) stage.Health {
	if s.search == nil {
		return stage.Unhealthy(stage.Assets, "image search not configured; title cards only")
	}
	return stage.Healthy(stage.Assets)
}
