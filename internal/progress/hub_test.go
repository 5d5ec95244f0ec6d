package progress_test

import (
	"testing"

	"studyreel/internal/progress"
	"studyreel/internal/queue"
)

func TestPublishDeliversInOrder(t *testing.T) {
	hub := progress.NewHub(4)
	sub := hub.Subscribe("job-1")

	hub.Publish(progress.Event{JobID: "job-1", Stage: "extract", ProgressPct: 10, Status: queue.StatusRunning})
	hub.Publish(progress.Event{JobID: "job-1", Stage: "script", ProgressPct: 25, Status: queue.StatusRunning})
	hub.CloseJob("job-1")

	var events []progress.Event
	for evt := range sub.Events() {
		events = append(events, evt)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].Stage != "extract" || events[1].Stage != "script" {
		t.Fatalf("unexpected event order: %#v", events)
	}
	if events[0].Sequence >= events[1].Sequence {
		t.Fatalf("expected increasing sequence, got %d then %d", events[0].Sequence, events[1].Sequence)
	}
	if events[0].Timestamp.IsZero() {
		t.Fatal("expected timestamps to be stamped")
	}
}

func TestProgressPctIsMonotonic(t *testing.T) {
	hub := progress.NewHub(4)
	sub := hub.Subscribe("job-1")

	hub.Publish(progress.Event{JobID: "job-1", Stage: "assets", ProgressPct: 50})
	// A retried stage reports a lower raw percentage; subscribers must not
	// observe regression.
	hub.Publish(progress.Event{JobID: "job-1", Stage: "assets", ProgressPct: 40})
	hub.Publish(progress.Event{JobID: "job-1", Stage: "voice", ProgressPct: 65})
	hub.CloseJob("job-1")

	last := -1.0
	for evt := range sub.Events() {
		if evt.ProgressPct < last {
			t.Fatalf("progress regressed from %f to %f", last, evt.ProgressPct)
		}
		last = evt.ProgressPct
	}
	if last != 65 {
		t.Fatalf("expected final pct 65, got %f", last)
	}
}

func TestSubscriberCapEvictsOldest(t *testing.T) {
	hub := progress.NewHub(2)
	first := hub.Subscribe("job-1")
	hub.Subscribe("job-1")
	if hub.SubscriberCount("job-1") != 2 {
		t.Fatalf("expected 2 subscribers, got %d", hub.SubscriberCount("job-1"))
	}

	hub.Subscribe("job-1")
	if hub.SubscriberCount("job-1") != 2 {
		t.Fatalf("expected cap to hold at 2, got %d", hub.SubscriberCount("job-1"))
	}

	// The oldest subscriber's channel is closed on eviction.
	if _, open := <-first.Events(); open {
		t.Fatal("expected evicted subscriber channel to be closed")
	}
}

func TestSlowSubscriberIsEvictedNotBlocked(t *testing.T) {
	hub := progress.NewHub(4)
	slow := hub.Subscribe("job-1")

	// Overflow the subscriber's buffer without draining it. Publish must
	// never block; the overflowed subscriber is evicted instead.
	for i := 0; i < 200; i++ {
		hub.Publish(progress.Event{JobID: "job-1", Stage: "render", ProgressPct: float64(i)})
	}

	if hub.SubscriberCount("job-1") != 0 {
		t.Fatalf("expected slow subscriber eviction, count=%d", hub.SubscriberCount("job-1"))
	}

	// The slow subscriber still drains its buffered prefix, then sees close.
	count := 0
	for range slow.Events() {
		count++
	}
	if count == 0 {
		t.Fatal("expected buffered events before eviction")
	}
	if count >= 200 {
		t.Fatalf("expected eviction before all events, drained %d", count)
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	hub := progress.NewHub(4)
	sub := hub.Subscribe("job-1")
	hub.Unsubscribe(sub)

	if _, open := <-sub.Events(); open {
		t.Fatal("expected closed channel after unsubscribe")
	}
	if hub.SubscriberCount("job-1") != 0 {
		t.Fatalf("expected 0 subscribers, got %d", hub.SubscriberCount("job-1"))
	}

	// Publishing after unsubscribe must not panic.
	hub.Publish(progress.Event{JobID: "job-1", Stage: "extract", ProgressPct: 5})
	hub.CloseJob("job-1")
}

func TestJobsAreIsolated(t *testing.T) {
	hub := progress.NewHub(4)
	a := hub.Subscribe("job-a")
	b := hub.Subscribe("job-b")

	hub.Publish(progress.Event{JobID: "job-a", Stage: "script", ProgressPct: 25})
	hub.CloseJob("job-a")
	hub.CloseJob("job-b")

	var aCount int
	for range a.Events() {
		aCount++
	}
	if aCount != 1 {
		t.Fatalf("expected 1 event for job-a, got %d", aCount)
	}
	for range b.Events() {
		t.Fatal("expected no events for job-b")
	}
}
