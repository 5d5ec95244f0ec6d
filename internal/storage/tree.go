package storage

import (
	"fmt"
	"os"
	"path/filepath"
)

// Stage directory names inside one job tree.
const (
	DirInput     = "input"
	DirExtracted = "extracted"
	DirLLM       = "llm"
	DirAssets    = "assets"
	DirAudio     = "audio"
	DirCaptions  = "captions"
	DirRender    = "render"
	DirOutput    = "output"
	DirLogs      = "logs"
)

var stageDirs = []string{
	DirInput,
	DirExtracted,
	DirLLM,
	DirAssets,
	DirAudio,
	DirCaptions,
	DirRender,
	DirOutput,
	DirLogs,
}

// JobTree addresses the directory subtree that holds one job's files.
type JobTree struct {
	root string
}

// NewJobTree builds a JobTree for the given job under the jobs root. The
// tree is not created on disk until Ensure is called.
func NewJobTree(jobsRoot, jobID string) JobTree {
	return JobTree{root: filepath.Join(jobsRoot, jobID)}
}

// Root returns the job's top-level directory.
func (t JobTree) Root() string { return t.root }

// Dir returns the absolute path of one named stage directory.
func (t JobTree) Dir(name string) string { return filepath.Join(t.root, name) }

func (t JobTree) InputDir() string     { return t.Dir(DirInput) }
func (t JobTree) ExtractedDir() string { return t.Dir(DirExtracted) }
func (t JobTree) LLMDir() string       { return t.Dir(DirLLM) }
func (t JobTree) AssetsDir() string    { return t.Dir(DirAssets) }
func (t JobTree) AudioDir() string     { return t.Dir(DirAudio) }
func (t JobTree) CaptionsDir() string  { return t.Dir(DirCaptions) }
func (t JobTree) RenderDir() string    { return t.Dir(DirRender) }
func (t JobTree) OutputDir() string    { return t.Dir(DirOutput) }
func (t JobTree) LogsDir() string      { return t.Dir(DirLogs) }

// LogPath returns the job's log file location.
func (t JobTree) LogPath() string { return filepath.Join(t.LogsDir(), "job.log") }

// Ensure creates the job tree with all stage directories.
func (t JobTree) Ensure() error {
	for _, dir := range stageDirs {
		if err := os.MkdirAll(t.Dir(dir), 0o755); err != nil {
			return fmt.Errorf("create job directory %q: %w", dir, err)
		}
	}
	return nil
}

// Exists reports whether the job tree is present on disk.
func (t JobTree) Exists() bool {
	info, err := os.Stat(t.root)
	return err == nil && info.IsDir()
}

// Remove deletes the entire job tree.
func (t JobTree) Remove() error {
	if t.root == "" || t.root == string(filepath.Separator) {
		return fmt.Errorf("refusing to remove job tree at %q", t.root)
	}
	return os.RemoveAll(t.root)
}
