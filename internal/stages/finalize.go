package stages

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"

	"studyreel/internal/providers/llm"
	"studyreel/internal/queue"
	"studyreel/internal/services"
	"studyreel/internal/stage"
	"studyreel/internal/storage"
)

const notesSystemPrompt = `You write concise markdown study notes.
Respond with JSON only: {"notes_markdown": string}. The notes cover the
supplied script as bullet points under short headings.`

const quizSystemPrompt = `You write multiple-choice study quizzes.
Respond with JSON only: {"questions": [{"question": string, "choices":
[string, string, string, string], "answer_index": number}]}. Write 3-5
questions grounded in the supplied script.`

// FinalizeStage publishes the final output set: the rendered video, the
// caption file, and when export_extras is set the study extras (notes,
// flashcards, quiz). Quiz generation is best-effort: a provider failure is
// logged and the quiz omitted rather than failing an otherwise complete job.
type FinalizeStage struct {
	chain         *llm.Chain
	ffprobeBinary string
	outputRunner  func(ctx context.Context, name string, args ...string) ([]byte, error)
}

// NewFinalize constructs the stage.
func NewFinalize(chain *llm.Chain, ffprobeBinary string) *FinalizeStage {
	if ffprobeBinary == "" {
		ffprobeBinary = "ffprobe"
	}
	return &FinalizeStage{chain: chain, ffprobeBinary: ffprobeBinary}
}

// WithOutputRunner sets a custom probe command runner (for testing).
func (s *FinalizeStage) WithOutputRunner(runner func(ctx context.Context, name string, args ...string) ([]byte, error)) {
	s.outputRunner = runner
}

func (s *FinalizeStage) Name() string { return stage.Finalize }

func (s *FinalizeStage) Optional(queue.JobConfig) bool { return false }

func (s *FinalizeStage) Fingerprint(sc *stage.Context) string {
	return stage.FingerprintOf(
		stage.Finalize,
		stage.UpstreamIdentity(sc.Upstream, stage.Render, stage.Captions, stage.Script),
		fmt.Sprintf("extras=%t", sc.Config.ExportExtras),
	)
}

func (s *FinalizeStage) Execute(ctx context.Context, sc *stage.Context) (stage.Result, error) {
	var result stage.Result

	video, ok := sc.UpstreamArtifact(stage.Render, "video_raw.mp4")
	if !ok {
		return result, services.Wrap(services.ErrValidation, stage.Finalize, "read video", "rendered video missing", nil)
	}

	sc.ReportProgress(0.1, "publishing final video")
	finalVideo := filepath.Join(sc.Tree.OutputDir(), "final.mp4")
	if err := storage.CopyFile(video.Path, finalVideo); err != nil {
		return result, services.Wrap(services.ErrResource, stage.Finalize, "publish video", "copy final video", err)
	}
	result.Artifacts = append(result.Artifacts,
		fileArtifact(sc.Job.ID, stage.Finalize, "final.mp4", finalVideo, KindRenderedVideo, true))

	if srt, ok := sc.UpstreamArtifact(stage.Captions, "captions.srt"); ok {
		finalSRT := filepath.Join(sc.Tree.OutputDir(), "captions.srt")
		if err := storage.CopyFile(srt.Path, finalSRT); err != nil {
			return result, services.Wrap(services.ErrResource, stage.Finalize, "publish captions", "copy caption file", err)
		}
		result.Artifacts = append(result.Artifacts,
			fileArtifact(sc.Job.ID, stage.Finalize, "captions.srt", finalSRT, KindCaptionFile, true))
	}

	sc.ReportProgress(0.3, "probing video metadata")
	if metadataPath, err := s.writeMetadata(ctx, sc, finalVideo); err == nil && metadataPath != "" {
		result.Artifacts = append(result.Artifacts,
			fileArtifact(sc.Job.ID, stage.Finalize, "metadata.json", metadataPath, KindMetadata, true))
	} else if err != nil && sc.Log != nil {
		_ = sc.Log.Appendf("metadata probe skipped: %v", err)
	}

	if sc.Config.ExportExtras {
		extras, err := s.buildExtras(ctx, sc)
		if err != nil {
			return result, err
		}
		result.Artifacts = append(result.Artifacts, extras...)
	}

	sc.ReportProgress(1, "job finalized")
	result.Metrics = map[string]float64{"final_artifacts": float64(len(result.Artifacts))}
	return result, nil
}

func (s *FinalizeStage) writeMetadata(ctx context.Context, sc *stage.Context, videoPath string) (string, error) {
	output, err := s.probe(ctx, videoPath)
	if err != nil {
		return "", err
	}
	var probed struct {
		Format struct {
			Duration string `json:"duration"`
			Size     string `json:"size"`
		} `json:"format"`
	}
	if err := json.Unmarshal(output, &probed); err != nil {
		return "", fmt.Errorf("decode ffprobe output: %w", err)
	}
	metadata := map[string]any{
		"duration": probed.Format.Duration,
		"size":     probed.Format.Size,
	}
	dest := filepath.Join(sc.Tree.OutputDir(), "metadata.json")
	if err := writePlanJSON(dest, metadata); err != nil {
		return "", err
	}
	return dest, nil
}

func (s *FinalizeStage) probe(ctx context.Context, videoPath string) ([]byte, error) {
	args := []string{"-v", "quiet", "-print_format", "json", "-show_format", videoPath}
	if s.outputRunner != nil {
		return s.outputRunner(ctx, s.ffprobeBinary, args...)
	}
	if _, err := exec.LookPath(s.ffprobeBinary); err != nil {
		return nil, fmt.Errorf("%s not on PATH", s.ffprobeBinary)
	}
	cmd := exec.CommandContext(ctx, s.ffprobeBinary, args...) //nolint:gosec
	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", s.ffprobeBinary, err)
	}
	return output, nil
}

func (s *FinalizeStage) buildExtras(ctx context.Context, sc *stage.Context) ([]queue.Artifact, error) {
	scriptArtifact, ok := sc.UpstreamArtifact(stage.Script, "script.json")
	if !ok {
		return nil, services.Wrap(services.ErrValidation, stage.Finalize, "build extras", "script artifact missing", nil)
	}
	var plan ScriptPlan
	if err := readPlanJSON(scriptArtifact.Path, &plan); err != nil {
		return nil, services.Wrap(services.ErrResource, stage.Finalize, "build extras", "load script plan", err)
	}

	var artifacts []queue.Artifact

	sc.ReportProgress(0.5, "writing study notes")
	notesPath := filepath.Join(sc.Tree.OutputDir(), "notes.md")
	notes := s.generateNotes(ctx, sc, plan)
	if err := storage.WriteFileAtomic(notesPath, []byte(notes), 0o644); err != nil {
		return nil, services.Wrap(services.ErrResource, stage.Finalize, "build extras", "write notes", err)
	}
	artifacts = append(artifacts,
		fileArtifact(sc.Job.ID, stage.Finalize, "notes.md", notesPath, KindNotes, true))

	sc.ReportProgress(0.6, "writing flashcards")
	ankiPath := filepath.Join(sc.Tree.OutputDir(), "anki.csv")
	if err := storage.WriteFileAtomic(ankiPath, []byte(flashcardsCSV(plan)), 0o644); err != nil {
		return nil, services.Wrap(services.ErrResource, stage.Finalize, "build extras", "write flashcards", err)
	}
	artifacts = append(artifacts,
		fileArtifact(sc.Job.ID, stage.Finalize, "anki.csv", ankiPath, KindFlashcards, true))

	sc.ReportProgress(0.7, "generating quiz")
	if quizPath, err := s.generateQuiz(ctx, sc, plan); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		// Quiz is best-effort; publish the job without it.
		if sc.Log != nil {
			_ = sc.Log.Appendf("quiz generation skipped: %v", err)
		}
	} else if quizPath != "" {
		artifacts = append(artifacts,
			fileArtifact(sc.Job.ID, stage.Finalize, "quiz.json", quizPath, KindQuiz, true))
	}

	return artifacts, nil
}

func (s *FinalizeStage) generateNotes(ctx context.Context, sc *stage.Context, plan ScriptPlan) string {
	if s.chain.Len() > 0 {
		content, _, err := s.chain.CompleteJSON(ctx, notesSystemPrompt, scriptDigest(plan))
		if err == nil {
			var parsed struct {
				NotesMarkdown string `json:"notes_markdown"`
			}
			if decodeErr := llm.DecodeJSON(content, &parsed); decodeErr == nil && strings.TrimSpace(parsed.NotesMarkdown) != "" {
				return parsed.NotesMarkdown
			}
		}
		if sc.Log != nil {
			_ = sc.Log.Appendf("LLM notes unavailable, using static notes: %v", err)
		}
	}
	return staticNotes(plan)
}

func staticNotes(plan ScriptPlan) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", plan.Title)
	for _, seg := range plan.Segments {
		fmt.Fprintf(&b, "## %s\n\n%s\n\n", seg.Heading, seg.Narration)
	}
	return b.String()
}

func flashcardsCSV(plan ScriptPlan) string {
	var b strings.Builder
	b.WriteString("front,back\n")
	for _, seg := range plan.Segments {
		fmt.Fprintf(&b, "%s,%s\n", csvField(seg.Heading), csvField(seg.Narration))
	}
	return b.String()
}

func csvField(value string) string {
	value = strings.TrimSpace(value)
	if strings.ContainsAny(value, ",\"\n") {
		return `"` + strings.ReplaceAll(value, `"`, `""`) + `"`
	}
	return value
}

func (s *FinalizeStage) generateQuiz(ctx context.Context, sc *stage.Context, plan ScriptPlan) (string, error) {
	if s.chain.Len() == 0 {
		return "", errors.New("no LLM providers configured")
	}
	content, _, err := s.chain.CompleteJSON(ctx, quizSystemPrompt, scriptDigest(plan))
	if err != nil {
		return "", err
	}
	var quiz struct {
		Questions []struct {
			Question    string   `json:"question"`
			Choices     []string `json:"choices"`
			AnswerIndex int      `json:"answer_index"`
		} `json:"questions"`
	}
	if err := llm.DecodeJSON(content, &quiz); err != nil {
		return "", fmt.Errorf("parse quiz payload: %w", err)
	}
	if len(quiz.Questions) == 0 {
		return "", errors.New("model returned no questions")
	}
	dest := filepath.Join(sc.Tree.OutputDir(), "quiz.json")
	if err := writePlanJSON(dest, quiz); err != nil {
		return "", err
	}
	return dest, nil
}

func scriptDigest(plan ScriptPlan) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Title: %s\n", plan.Title)
	for _, seg := range plan.Segments {
		fmt.Fprintf(&b, "%s: %s\n", seg.Heading, seg.Narration)
	}
	return b.String()
}

func (s *FinalizeStage) HealthCheck(ctx context.Context) stage.Health {
	if _, err := exec.LookPath(s.ffprobeBinary); err != nil {
		return stage.Unhealthy(stage.Finalize, fmt.Sprintf("%s not on PATH; metadata probing disabled", s.ffprobeBinary))
	}
	return stage.Healthy(stage.Finalize)
}
