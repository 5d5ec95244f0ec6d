package stages_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"studyreel/internal/providers/imagesearch"
	"studyreel/internal/stages"
)

func assetsTimeline() stages.Timeline {
	return stages.Timeline{
		Width: 1080, Height: 1920, TotalDurationSec: 8,
		Segments: []stages.TimelineSegment{
			{Index: 0, Heading: "Mitosis", VisualCue: "mitosis diagram", StartSec: 0, DurationSec: 4},
			{Index: 1, Heading: "Meiosis", VisualCue: "meiosis diagram", StartSec: 4, DurationSec: 4},
		},
	}
}

func TestAssetsDownloadsImages(t *testing.T) {
	var server *httptest.Server
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/images/") {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"results":[{"id":"x","title":"t","url":"` + server.URL + `/file.jpg","license":"cc0","creator":"ada"}]}`))
			return
		}
		w.Write([]byte("jpeg-bytes"))
	}))
	defer server.Close()

	sc := newStageContext(t, topicJob("topic"))
	seedTimeline(t, sc, assetsTimeline())

	client := imagesearch.NewClient(server.URL, 0)
	result, err := stages.NewAssets(client, 1080, 1920).Execute(context.Background(), sc)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	var manifest stages.AssetManifest
	var manifestPath string
	for _, artifact := range result.Artifacts {
		if artifact.Name == "manifest.json" {
			manifestPath = artifact.Path
		}
	}
	if manifestPath == "" {
		t.Fatal("expected manifest artifact")
	}
	if err := readJSONFile(t, manifestPath, &manifest); err != nil {
		t.Fatalf("read manifest: %v", err)
	}
	if len(manifest.Items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(manifest.Items))
	}
	for _, item := range manifest.Items {
		if item.Kind != "image" {
			t.Fatalf("expected downloaded image, got %q", item.Kind)
		}
		if item.License != "cc0" {
			t.Fatalf("expected license carried through, got %q", item.License)
		}
		if _, err := os.Stat(item.Path); err != nil {
			t.Fatalf("image file missing: %v", err)
		}
	}
}

func TestAssetsFallBackToTitleCards(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	sc := newStageContext(t, topicJob("topic"))
	seedTimeline(t, sc, assetsTimeline())

	client := imagesearch.NewClient(server.URL, 0)
	result, err := stages.NewAssets(client, 1080, 1920).Execute(context.Background(), sc)
	if err != nil {
		t.Fatalf("Execute should not fail when search is down: %v", err)
	}

	var manifest stages.AssetManifest
	for _, artifact := range result.Artifacts {
		if artifact.Name == "manifest.json" {
			if err := readJSONFile(t, artifact.Path, &manifest); err != nil {
				t.Fatalf("read manifest: %v", err)
			}
		}
	}
	for _, item := range manifest.Items {
		if item.Kind != "title_card" {
			t.Fatalf("expected title card fallback, got %q", item.Kind)
		}
		data, err := os.ReadFile(item.Path)
		if err != nil {
			t.Fatalf("read title card: %v", err)
		}
		if !strings.Contains(string(data), "<svg") {
			t.Fatal("expected svg title card content")
		}
	}
}

func TestAssetsEscapeTitleCardText(t *testing.T) {
	sc := newStageContext(t, topicJob("topic"))
	timeline := assetsTimeline()
	timeline.Segments[0].Heading = `Proteins & "Folding" <fast>`
	timeline.Segments[0].VisualCue = ""
	timeline.Segments = timeline.Segments[:1]
	seedTimeline(t, sc, timeline)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"results":[]}`))
	}))
	defer server.Close()

	client := imagesearch.NewClient(server.URL, 0)
	result, err := stages.NewAssets(client, 1080, 1920).Execute(context.Background(), sc)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	var cardPath string
	for _, artifact := range result.Artifacts {
		if strings.HasPrefix(artifact.Name, "title_card") {
			cardPath = artifact.Path
		}
	}
	data, err := os.ReadFile(cardPath)
	if err != nil {
		t.Fatalf("read title card: %v", err)
	}
	content := string(data)
	if strings.Contains(content, "<fast>") {
		t.Fatal("heading must be XML-escaped")
	}
	mustContain(t, content, "&amp;")
}

func TestAssetsIsOptional(t *testing.T) {
	sc := newStageContext(t, topicJob("topic"))
	if !stages.NewAssets(nil, 1080, 1920).Optional(sc.Config) {
		t.Fatal("assets stage must be optional")
	}
}
