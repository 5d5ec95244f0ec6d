// Package daemon assembles the long-running process: queue store, pipeline
// runner, progress hub, HTTP API, metrics, and the retention sweeper, under a
// single lifecycle with flock-based locking to prevent multiple instances.
package daemon
