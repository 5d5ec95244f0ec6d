// Package storage owns the on-disk layout of job trees and the file helpers
// stages use to produce artifacts.
//
// Each job gets one subtree under the configured jobs root with fixed
// per-stage directories. Artifact writes go through atomic temp-file renames
// so a crash never leaves a half-written file behind a registered manifest
// entry. Per-job logs capture stage output and feed the log tails surfaced by
// the progress stream and the API.
package storage
