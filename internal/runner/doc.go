// Package runner drives queued jobs through the pipeline stages. A fixed pool
// of workers claims jobs under short-lived leases, renews them with a
// heartbeat, and executes each stage with retry, cache reuse, cancellation,
// and timeout handling. Stage outcomes and progress are persisted to the
// queue store and fanned out through the progress hub.
package runner
