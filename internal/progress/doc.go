// Package progress fans pipeline events out to per-job subscribers.
//
// The hub keeps a bounded buffer per subscriber and never blocks the
// publisher: a subscriber that falls behind, or the oldest subscriber when a
// job's subscriber cap is exceeded, is evicted by closing its channel.
// Evicted or late clients recover by polling the persisted job record; the
// event stream is a latency optimization, never the source of truth.
// Progress percentages are monotonic within a job's event sequence.
package progress
