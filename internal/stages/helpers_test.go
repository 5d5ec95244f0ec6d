package stages_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"studyreel/internal/queue"
	"studyreel/internal/stage"
	"studyreel/internal/storage"
)

func newStageContext(t *testing.T, job *queue.Job) *stage.Context {
	t.Helper()
	cfg := job.Config()
	tree := storage.NewJobTree(t.TempDir(), job.ID)
	if err := tree.Ensure(); err != nil {
		t.Fatalf("ensure tree: %v", err)
	}
	return &stage.Context{
		Job:      job,
		Config:   cfg,
		Tree:     tree,
		Log:      storage.OpenJobLog(tree),
		Upstream: make(map[string][]queue.Artifact),
	}
}

func topicJob(topic string) *queue.Job {
	cfg := queue.JobConfig{Pacing: queue.PacingBalanced, Personality: queue.PersonalityStandard}
	cfg.Normalize()
	return &queue.Job{
		ID:         "job-test",
		InputKind:  queue.InputTopic,
		Topic:      topic,
		ConfigJSON: cfg.JSON(),
		Status:     queue.StatusRunning,
	}
}

func documentJob(path string) *queue.Job {
	cfg := queue.JobConfig{Pacing: queue.PacingBalanced, Personality: queue.PersonalityStandard}
	cfg.Normalize()
	return &queue.Job{
		ID:           "job-test",
		InputKind:    queue.InputDocument,
		DocumentPath: path,
		ConfigJSON:   cfg.JSON(),
		Status:       queue.StatusRunning,
	}
}

func addUpstream(sc *stage.Context, stageName, name, path string) {
	sc.Upstream[stageName] = append(sc.Upstream[stageName], queue.Artifact{
		JobID:       sc.Job.ID,
		Stage:       stageName,
		Name:        name,
		Path:        path,
		Fingerprint: "fp-" + name,
		SizeBytes:   storage.FileSize(path),
	})
}

func readJSONFile(t *testing.T, path string, v any) error {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

func writeFile(t *testing.T, path, content string) error {
	t.Helper()
	return storage.WriteFileAtomic(path, []byte(content), 0o644)
}

func writeJSONFile(t *testing.T, path string, v any) error {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return storage.WriteFileAtomic(path, data, 0o644)
}

func writeTestDoc(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := storage.WriteFileAtomic(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write test doc: %v", err)
	}
	return path
}
