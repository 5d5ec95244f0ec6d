package stage

import (
	"context"

	"studyreel/internal/queue"
	"studyreel/internal/storage"
)

// Canonical stage names in execution order.
const (
	Extract  = "extract"
	Script   = "script"
	Timeline = "timeline"
	Assets   = "assets"
	Voice    = "voice"
	Captions = "captions"
	Render   = "render"
	Finalize = "finalize"
)

var order = []string{Extract, Script, Timeline, Assets, Voice, Captions, Render, Finalize}

// Progress ceiling per stage: the overall job percentage reported when the
// stage completes.
var ceilings = map[string]float64{
	Extract:  10,
	Script:   25,
	Timeline: 35,
	Assets:   50,
	Voice:    65,
	Captions: 80,
	Render:   95,
	Finalize: 100,
}

// Order returns the fixed stage sequence.
func Order() []string {
	cp := make([]string, len(order))
	copy(cp, order)
	return cp
}

// Ceiling returns the overall progress percentage a completed stage maps to.
func Ceiling(name string) float64 {
	if pct, ok := ceilings[name]; ok {
		return pct
	}
	return 0
}

// Floor returns the overall progress percentage at which a stage begins,
// which is the previous stage's ceiling.
func Floor(name string) float64 {
	prev := 0.0
	for _, stage := range order {
		if stage == name {
			return prev
		}
		prev = ceilings[stage]
	}
	return prev
}

// Context carries everything a stage needs to execute for one job.
type Context struct {
	Job      *queue.Job
	Config   queue.JobConfig
	Tree     storage.JobTree
	Log      *storage.JobLog
	Upstream map[string][]queue.Artifact

	// Progress reports stage-local completion in [0,1]; the runner maps it
	// into the job's overall percentage band for this stage.
	Progress func(fraction float64, message string)
}

// Result is a successful stage outcome.
type Result struct {
	Artifacts []queue.Artifact
	Metrics   map[string]float64
}

// Stage is implemented by each pipeline stage.
type Stage interface {
	// Name returns the canonical stage name.
	Name() string

	// Optional reports whether the stage may be skipped for this
	// configuration. Optional stages that exhaust retries are marked
	// skipped instead of failing the job.
	Optional(cfg queue.JobConfig) bool

	// Fingerprint hashes the stage's inputs (upstream artifact identities
	// plus relevant configuration). Matching fingerprints let the runner
	// reuse cached artifacts instead of re-executing.
	Fingerprint(sc *Context) string

	// Execute runs the stage. Errors must carry a services marker so the
	// runner can classify them as transient or permanent.
	Execute(ctx context.Context, sc *Context) (Result, error)

	// HealthCheck reports whether the stage's dependencies are usable.
	HealthCheck(ctx context.Context) Health
}

// Skipper is implemented by stages that can declare themselves not
// applicable for a given job before execution. Skipped stages are recorded
// as such and do not block downstream stages.
type Skipper interface {
	Skip(sc *Context) (reason string, ok bool)
}

// ReportProgress is a nil-safe helper for stages.
func (sc *Context) ReportProgress(fraction float64, message string) {
	if sc == nil || sc.Progress == nil {
		return
	}
	if fraction < 0 {
		fraction = 0
	}
	if fraction > 1 {
		fraction = 1
	}
	sc.Progress(fraction, message)
}

// UpstreamArtifact finds a named artifact from an upstream stage.
func (sc *Context) UpstreamArtifact(stage, name string) (queue.Artifact, bool) {
	if sc == nil {
		return queue.Artifact{}, false
	}
	for _, artifact := range sc.Upstream[stage] {
		if artifact.Name == name {
			return artifact, true
		}
	}
	return queue.Artifact{}, false
}
