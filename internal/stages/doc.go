// Package stages implements the eight pipeline stages that turn a document
// or topic into a rendered short video: extract, script, timeline, assets,
// voice, captions, render, finalize.
//
// Stage content logic is deliberately self-contained. Each stage reads its
// upstream artifacts from the job tree, writes its outputs there, and
// returns manifest entries; the runner owns sequencing, retries, and
// fingerprint-based caching. Provider fallback (LLM chains, TTS backends,
// image search with title-card fallback) is encapsulated inside the stage
// that needs it, so the runner only ever sees a single transient or
// permanent outcome per attempt.
package stages
