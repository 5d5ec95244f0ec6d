package stage_test

import (
	"testing"

	"studyreel/internal/queue"
	"studyreel/internal/stage"
)

func TestOrderAndCeilings(t *testing.T) {
	order := stage.Order()
	want := []string{"extract", "script", "timeline", "assets", "voice", "captions", "render", "finalize"}
	if len(order) != len(want) {
		t.Fatalf("unexpected stage count: %d", len(order))
	}
	for i, name := range want {
		if order[i] != name {
			t.Fatalf("unexpected stage at %d: %q", i, order[i])
		}
	}

	prev := 0.0
	for _, name := range order {
		ceiling := stage.Ceiling(name)
		if ceiling <= prev {
			t.Fatalf("expected increasing ceilings, %s has %f after %f", name, ceiling, prev)
		}
		if stage.Floor(name) != prev {
			t.Fatalf("expected floor of %s to be %f, got %f", name, prev, stage.Floor(name))
		}
		prev = ceiling
	}
	if prev != 100 {
		t.Fatalf("expected final ceiling of 100, got %f", prev)
	}
}

func TestFingerprintOfIsStableAndSensitive(t *testing.T) {
	a := stage.FingerprintOf("one", "two")
	b := stage.FingerprintOf("one", "two")
	if a != b {
		t.Fatal("expected identical inputs to produce identical fingerprints")
	}
	if a == stage.FingerprintOf("one", "three") {
		t.Fatal("expected changed input to change fingerprint")
	}
	if a == stage.FingerprintOf("onetwo") {
		t.Fatal("expected part boundaries to matter")
	}
}

func TestUpstreamIdentityIsOrderIndependent(t *testing.T) {
	upstream := map[string][]queue.Artifact{
		"script": {
			{Stage: "script", Name: "b.json", Fingerprint: "f1", SizeBytes: 10},
			{Stage: "script", Name: "a.json", Fingerprint: "f2", SizeBytes: 20},
		},
	}
	reversed := map[string][]queue.Artifact{
		"script": {
			{Stage: "script", Name: "a.json", Fingerprint: "f2", SizeBytes: 20},
			{Stage: "script", Name: "b.json", Fingerprint: "f1", SizeBytes: 10},
		},
	}
	if stage.UpstreamIdentity(upstream, "script") != stage.UpstreamIdentity(reversed, "script") {
		t.Fatal("expected identity to be independent of artifact order")
	}
	if stage.UpstreamIdentity(upstream, "script") == stage.UpstreamIdentity(nil, "script") {
		t.Fatal("expected empty upstream to differ")
	}
}

func TestContextHelpers(t *testing.T) {
	sc := &stage.Context{
		Upstream: map[string][]queue.Artifact{
			"voice": {{Stage: "voice", Name: "narration.wav", Path: "/tmp/narration.wav"}},
		},
	}
	artifact, ok := sc.UpstreamArtifact("voice", "narration.wav")
	if !ok || artifact.Path != "/tmp/narration.wav" {
		t.Fatalf("expected upstream artifact, got %#v ok=%v", artifact, ok)
	}
	if _, ok := sc.UpstreamArtifact("voice", "missing.wav"); ok {
		t.Fatal("expected miss for unknown artifact")
	}

	var got float64 = -1
	sc.Progress = func(fraction float64, message string) { got = fraction }
	sc.ReportProgress(1.5, "overflow")
	if got != 1 {
		t.Fatalf("expected clamped fraction, got %f", got)
	}
	sc.ReportProgress(-0.5, "underflow")
	if got != 0 {
		t.Fatalf("expected clamped fraction, got %f", got)
	}

	var nilCtx *stage.Context
	nilCtx.ReportProgress(0.5, "no panic")
}
