package stages

import (
	"log/slog"
	"time"

	"studyreel/internal/config"
	"studyreel/internal/providers/imagesearch"
	"studyreel/internal/providers/llm"
	"studyreel/internal/providers/tts"
	"studyreel/internal/stage"
)

// Pipeline wires the eight stages from configuration, in execution order.
func Pipeline(cfg *config.Config, logger *slog.Logger) []stage.Stage {
	chain := llm.NewChain(cfg.Providers(), logger)
	engine := tts.NewEngine(cfg.TTS, logger)
	search := imagesearch.NewClient(cfg.Assets.OpenverseBaseURL, time.Duration(cfg.Assets.RequestTimeout)*time.Second)

	return []stage.Stage{
		NewExtract(),
		NewScript(chain),
		NewTimeline(cfg.Render),
		NewAssets(search, cfg.Render.Width, cfg.Render.Height),
		NewVoice(engine, cfg.Render.FFmpegBinary),
		NewCaptions(),
		NewRender(cfg.Render),
		NewFinalize(chain, cfg.Render.FFprobeBinary),
	}
}
