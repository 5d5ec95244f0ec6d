package stages

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"studyreel/internal/queue"
	"studyreel/internal/services"
	"studyreel/internal/stage"
	"studyreel/internal/storage"
)

const (
	maxSlides        = 12
	pdftotextCommand = "pdftotext"
)

// ExtractStage parses the uploaded document into a slide set. Topic-only
// jobs skip it entirely; the script stage works from the topic string.
type ExtractStage struct {
	pdftotextBinary string
	commandRunner   func(ctx context.Context, name string, args ...string) error
}

// NewExtract constructs the stage.
func NewExtract() *ExtractStage {
	return &ExtractStage{pdftotextBinary: pdftotextCommand}
}

// WithCommandRunner sets a custom command runner (for testing).
func (s *ExtractStage) WithCommandRunner(runner func(ctx context.Context, name string, args ...string) error) {
	s.commandRunner = runner
}

func (s *ExtractStage) Name() string { return stage.Extract }

func (s *ExtractStage) Optional(queue.JobConfig) bool { return false }

// Skip reports topic-only jobs as not applicable.
func (s *ExtractStage) Skip(sc *stage.Context) (string, bool) {
	if sc.Job.InputKind == queue.InputTopic {
		return "topic job has no document to extract", true
	}
	return "", false
}

func (s *ExtractStage) Fingerprint(sc *stage.Context) string {
	return stage.FingerprintOf(
		stage.Extract,
		string(sc.Job.InputKind),
		sc.Job.DocumentPath,
		strconv.FormatInt(storage.FileSize(sc.Job.DocumentPath), 10),
		sc.Job.Topic,
	)
}

func (s *ExtractStage) Execute(ctx context.Context, sc *stage.Context) (stage.Result, error) {
	var result stage.Result
	source := sc.Job.DocumentPath
	if strings.TrimSpace(source) == "" {
		return result, services.Wrap(services.ErrValidation, stage.Extract, "read document", "document path missing", nil)
	}
	if _, err := os.Stat(source); err != nil {
		return result, services.Wrap(services.ErrValidation, stage.Extract, "read document", "document not found", err)
	}

	sc.ReportProgress(0.1, "reading document")
	text, err := s.extractText(ctx, sc, source)
	if err != nil {
		return result, err
	}
	if strings.TrimSpace(text) == "" {
		return result, services.Wrap(services.ErrValidation, stage.Extract, "parse document", "document has no extractable text", nil)
	}

	sc.ReportProgress(0.6, "splitting into slides")
	set := SlideSet{
		Source: filepath.Base(source),
		Slides: splitSlides(text),
	}

	dest := filepath.Join(sc.Tree.ExtractedDir(), "slides.json")
	if err := writePlanJSON(dest, set); err != nil {
		return result, services.Wrap(services.ErrResource, stage.Extract, "write slides", "persist slide set", err)
	}
	sc.ReportProgress(1, fmt.Sprintf("extracted %d slides", len(set.Slides)))

	result.Artifacts = []queue.Artifact{
		fileArtifact(sc.Job.ID, stage.Extract, "slides.json", dest, KindSlides, false),
	}
	result.Metrics = map[string]float64{"slides": float64(len(set.Slides))}
	return result, nil
}

func (s *ExtractStage) extractText(ctx context.Context, sc *stage.Context, source string) (string, error) {
	switch strings.ToLower(filepath.Ext(source)) {
	case ".txt", ".md":
		data, err := os.ReadFile(source)
		if err != nil {
			return "", services.Wrap(services.ErrResource, stage.Extract, "read document", "read text file", err)
		}
		return string(data), nil
	case ".pdf":
		dest := filepath.Join(sc.Tree.ExtractedDir(), "document.txt")
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return "", services.Wrap(services.ErrResource, stage.Extract, "extract pdf", "ensure output dir", err)
		}
		if err := s.run(ctx, s.pdftotextBinary, "-layout", source, dest); err != nil {
			return "", services.Wrap(services.ErrResource, stage.Extract, "extract pdf", "pdftotext failed", err)
		}
		data, err := os.ReadFile(dest)
		if err != nil {
			return "", services.Wrap(services.ErrResource, stage.Extract, "extract pdf", "read extracted text", err)
		}
		return string(data), nil
	default:
		return "", services.Wrap(services.ErrValidation, stage.Extract, "parse document", fmt.Sprintf("unsupported document type %q", filepath.Ext(source)), nil)
	}
}

func (s *ExtractStage) run(ctx context.Context, name string, args ...string) error {
	if s.commandRunner != nil {
		return s.commandRunner(ctx, name, args...)
	}
	cmd := exec.CommandContext(ctx, name, args...) //nolint:gosec
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("%s: %w: %s", name, err, strings.TrimSpace(string(output)))
	}
	return nil
}

func (s *ExtractStage) HealthCheck(ctx context.Context) stage.Health {
	if _, err := exec.LookPath(s.pdftotextBinary); err != nil {
		return stage.Unhealthy(stage.Extract, "pdftotext not on PATH; only txt/md documents supported")
	}
	return stage.Healthy(stage.Extract)
}

// splitSlides groups paragraphs into at most maxSlides slides, using the
// first line of each paragraph as the slide title.
func splitSlides(text string) []Slide {
	paragraphs := splitParagraphs(text)
	if len(paragraphs) == 0 {
		return nil
	}
	perSlide := 1
	if len(paragraphs) > maxSlides {
		perSlide = (len(paragraphs) + maxSlides - 1) / maxSlides
	}

	var slides []Slide
	for start := 0; start < len(paragraphs); start += perSlide {
		end := start + perSlide
		if end > len(paragraphs) {
			end = len(paragraphs)
		}
		body := strings.Join(paragraphs[start:end], "\n\n")
		title := firstLine(paragraphs[start])
		slides = append(slides, Slide{
			Index: len(slides),
			Title: title,
			Body:  body,
		})
	}
	return slides
}

func splitParagraphs(text string) []string {
	var paragraphs []string
	for _, block := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n\n") {
		trimmed := strings.TrimSpace(block)
		if trimmed != "" {
			paragraphs = append(paragraphs, trimmed)
		}
	}
	return paragraphs
}

func firstLine(paragraph string) string {
	line := paragraph
	if idx := strings.IndexByte(paragraph, '\n'); idx >= 0 {
		line = paragraph[:idx]
	}
	line = strings.TrimSpace(line)
	const limit = 80
	if len(line) > limit {
		line = strings.TrimSpace(line[:limit])
	}
	return line
}
