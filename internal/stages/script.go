package stages

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"studyreel/internal/providers/llm"
	"studyreel/internal/queue"
	"studyreel/internal/services"
	"studyreel/internal/stage"
)

// Target total narration length per duration class, in seconds.
var durationClassSeconds = map[string]int{
	"short":    30,
	"standard": 60,
	"long":     90,
}

var personalityTone = map[queue.Personality]string{
	queue.PersonalityStandard:  "Clear, friendly, and direct.",
	queue.PersonalityUnhinged:  "Chaotic, high-energy, meme-literate, but factually precise.",
	queue.PersonalityASMR:      "Soft, slow, soothing whispers with gentle phrasing.",
	queue.PersonalityGossip:    "Conspirational, dramatic, like sharing a juicy secret.",
	queue.PersonalityProfessor: "Measured, authoritative, with precise terminology.",
}

const scriptSystemPrompt = `You write scripts for short vertical study videos.
Respond with JSON only, shaped as:
{"title": string, "hook": string, "segments": [{"heading": string, "narration": string, "visual_cue": string}]}
The hook is one attention-grabbing opening line. Each segment narration is
2-3 spoken sentences. visual_cue is a 2-4 word image search phrase.`

// ScriptStage turns extracted slides (or a bare topic) into a narration
// script via the configured LLM provider chain. With no providers
// configured it builds a deterministic script directly from the source
// material so offline runs still complete.
type ScriptStage struct {
	chain *llm.Chain
}

// NewScript constructs the stage.
func NewScript(chain *llm.Chain) *ScriptStage {
	return &ScriptStage{chain: chain}
}

func (s *ScriptStage) Name() string { return stage.Script }

func (s *ScriptStage) Optional(queue.JobConfig) bool { return false }

func (s *ScriptStage) Fingerprint(sc *stage.Context) string {
	return stage.FingerprintOf(
		stage.Script,
		stage.UpstreamIdentity(sc.Upstream, stage.Extract),
		sc.Job.Topic,
		string(sc.Config.Pacing),
		string(sc.Config.Personality),
		sc.Config.DurationClass,
	)
}

func (s *ScriptStage) Execute(ctx context.Context, sc *stage.Context) (stage.Result, error) {
	var result stage.Result

	slides, err := s.loadSlides(sc)
	if err != nil {
		return result, err
	}
	if len(slides.Slides) == 0 && strings.TrimSpace(sc.Job.Topic) == "" {
		return result, services.Wrap(services.ErrValidation, stage.Script, "build prompt", "no source material: empty slides and no topic", nil)
	}

	targetWords := targetWordCount(sc.Config)
	sc.ReportProgress(0.1, "building script")

	var plan ScriptPlan
	if s.chain.Len() > 0 {
		plan, err = s.generate(ctx, sc, slides, targetWords)
		if err != nil {
			return result, err
		}
	} else {
		plan = fallbackScript(sc.Job.Topic, slides, targetWords)
	}
	plan.Personality = string(sc.Config.Personality)
	if strings.TrimSpace(plan.Title) == "" {
		plan.Title = firstNonEmptyString(sc.Job.Topic, slides.Source, "Study Reel")
	}
	if len(plan.Segments) == 0 {
		return result, services.Wrap(services.ErrProvider, stage.Script, "generate script", "model returned no segments", nil)
	}

	wpm := sc.Config.Pacing.WordsPerMinute()
	estimated := float64(plan.WordCount()) / float64(wpm) * 60
	sc.ReportProgress(0.8, fmt.Sprintf("script ready: %d segments, ~%.0fs narration", len(plan.Segments), estimated))

	dest := filepath.Join(sc.Tree.LLMDir(), "script.json")
	if err := writePlanJSON(dest, plan); err != nil {
		return result, services.Wrap(services.ErrResource, stage.Script, "write script", "persist script plan", err)
	}
	sc.ReportProgress(1, "script written")

	result.Artifacts = []queue.Artifact{
		fileArtifact(sc.Job.ID, stage.Script, "script.json", dest, KindScript, false),
	}
	result.Metrics = map[string]float64{
		"segments":          float64(len(plan.Segments)),
		"narration_words":   float64(plan.WordCount()),
		"estimated_seconds": estimated,
	}
	return result, nil
}

func (s *ScriptStage) loadSlides(sc *stage.Context) (SlideSet, error) {
	var slides SlideSet
	artifact, ok := sc.UpstreamArtifact(stage.Extract, "slides.json")
	if !ok {
		// Topic-only jobs skip extract; an empty slide set is expected.
		slides.Topic = sc.Job.Topic
		return slides, nil
	}
	if err := readPlanJSON(artifact.Path, &slides); err != nil {
		return slides, services.Wrap(services.ErrResource, stage.Script, "read slides", "load upstream slide set", err)
	}
	return slides, nil
}

func (s *ScriptStage) generate(ctx context.Context, sc *stage.Context, slides SlideSet, targetWords int) (ScriptPlan, error) {
	var plan ScriptPlan
	prompt := buildScriptPrompt(sc.Job.Topic, slides, sc.Config, targetWords)
	content, provider, err := s.chain.CompleteJSON(ctx, scriptSystemPrompt, prompt)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return plan, err
		}
		return plan, services.Wrap(services.ErrProvider, stage.Script, "generate script", "all providers failed", err)
	}
	if err := llm.DecodeJSON(content, &plan); err != nil {
		return plan, services.Wrap(services.ErrProvider, stage.Script, "generate script", "model returned unparseable payload", err)
	}
	if sc.Log != nil {
		_ = sc.Log.Appendf("script generated by provider %s", provider)
	}
	return plan, nil
}

func buildScriptPrompt(topic string, slides SlideSet, cfg queue.JobConfig, targetWords int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Write a study video script of roughly %d narration words total.\n", targetWords)
	fmt.Fprintf(&b, "Tone: %s\n", personalityTone[cfg.Personality])
	if topic = strings.TrimSpace(topic); topic != "" {
		fmt.Fprintf(&b, "Topic: %s\n", topic)
	}
	if len(slides.Slides) > 0 {
		b.WriteString("Source material:\n")
		for _, slide := range slides.Slides {
			fmt.Fprintf(&b, "## %s\n%s\n", slide.Title, slide.Body)
		}
	}
	return b.String()
}

// fallbackScript builds a deterministic script from the source material when
// no LLM provider is configured.
func fallbackScript(topic string, slides SlideSet, targetWords int) ScriptPlan {
	title := firstNonEmptyString(topic, slides.Source, "Study Reel")
	plan := ScriptPlan{
		Title: title,
		Hook:  fmt.Sprintf("Here is what you need to know about %s.", title),
	}
	if len(slides.Slides) == 0 {
		plan.Segments = []ScriptSegment{{
			Heading:   title,
			Narration: fmt.Sprintf("%s. Key points, definitions, and context, condensed for quick review.", title),
			VisualCue: title,
		}}
		return plan
	}

	budget := targetWords
	for _, slide := range slides.Slides {
		narration := truncateWords(slide.Body, 60)
		words := len(strings.Fields(narration))
		if budget-words < 0 && len(plan.Segments) > 0 {
			break
		}
		budget -= words
		plan.Segments = append(plan.Segments, ScriptSegment{
			Heading:   slide.Title,
			Narration: narration,
			VisualCue: slide.Title,
		})
	}
	return plan
}

func targetWordCount(cfg queue.JobConfig) int {
	seconds, ok := durationClassSeconds[strings.ToLower(strings.TrimSpace(cfg.DurationClass))]
	if !ok {
		seconds = durationClassSeconds["standard"]
	}
	return cfg.Pacing.WordsPerMinute() * seconds / 60
}

func truncateWords(text string, limit int) string {
	fields := strings.Fields(text)
	if len(fields) <= limit {
		return strings.Join(fields, " ")
	}
	return strings.Join(fields[:limit], " ") + "..."
}

func firstNonEmptyString(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func (s *ScriptStage) HealthCheck(ctx context.Context) stage.Health {
	if s.chain.Len() == 0 {
		return stage.Unhealthy(stage.Script, "no LLM providers configured; deterministic fallback scripts only")
	}
	if err := s.chain.HealthCheck(ctx); err != nil {
		return stage.Unhealthy(stage.Script, err.Error())
	}
	return stage.Healthy(stage.Script)
}
