package testsupport

import (
	"context"
	"testing"

	"studyreel/internal/config"
	"studyreel/internal/queue"
)

// MustOpenStore opens a queue.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *queue.Store {
	t.Helper()

	store, err := queue.Open(cfg)
	if err != nil {
		t.Fatalf("queue.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// NewTopicJob creates a queued topic job for tests using the provided store.
func NewTopicJob(t testing.TB, store *queue.Store, topic string) *queue.Job {
	t.Helper()

	job, err := store.NewJob(context.Background(), queue.NewJobParams{
		InputKind: queue.InputTopic,
		Topic:     topic,
		ClientID:  "test-client",
	})
	if err != nil {
		t.Fatalf("NewJob: %v", err)
	}
	return job
}

// ClaimJob claims the next queued job for tests and fails when none is available.
func ClaimJob(t testing.TB, store *queue.Store, owner string) *queue.Job {
	t.Helper()

	job, err := store.ClaimNext(context.Background(), owner, defaultLeaseTTL)
	if err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}
	if job == nil {
		t.Fatal("expected a claimable job")
	}
	return job
}
