// Package stage defines the contract between the pipeline runner and the
// content-generation stages.
//
// The runner is agnostic to a stage's internals. It needs the stage's name
// and position in the fixed sequence, whether the stage is optional for the
// job's configuration, an idempotency fingerprint over the stage's inputs,
// and an Execute method that returns artifacts or a classified error.
// Provider fallback happens inside a stage; the runner only sees the final
// transient-or-permanent outcome.
package stage
