// Package queue persists jobs in SQLite and exposes helpers for driving their
// lifecycle.
//
// The Store manages database connections, schema initialization, lease claims,
// heartbeat tracking, stale-lease recovery, stage execution records, and the
// artifact manifest. Jobs capture input, configuration, progress, and error
// state so the pipeline runner and the HTTP API can coordinate without
// additional shared state.
//
// The database is the single source of truth for job semantics. Terminal jobs
// (succeeded, failed, cancelled) are immutable except for deletion by the
// retention sweeper. Schema changes bump the version in schema.go; users clear
// the database to adopt the new schema.
package queue
