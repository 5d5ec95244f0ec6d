package progress

import (
	"sync"
	"time"

	"studyreel/internal/queue"
)

// Event is one progress update published by the pipeline runner.
type Event struct {
	JobID       string       `json:"job_id"`
	Stage       string       `json:"stage"`
	ProgressPct float64      `json:"progress_pct"`
	LogTail     []string     `json:"log_tail,omitempty"`
	Status      queue.Status `json:"status"`
	Sequence    uint64       `json:"seq"`
	Timestamp   time.Time    `json:"ts"`
}

const defaultBufferSize = 64

// Hub routes events to subscribers keyed by job id.
type Hub struct {
	mu             sync.Mutex
	maxSubscribers int
	bufferSize     int
	jobs           map[string]*jobStream
	nextSubID      uint64
	onEvict        func()
}

// OnEvict registers a callback invoked whenever a subscriber is forcibly
// disconnected (cap exceeded or buffer overflow). Used for metrics.
func (h *Hub) OnEvict(fn func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onEvict = fn
}

type jobStream struct {
	lastPct float64
	nextSeq uint64
	subs    []*Subscriber
}

// Subscriber receives a bounded, ordered copy of one job's events. The
// channel closes when the job finishes or the subscriber is evicted.
type Subscriber struct {
	id     uint64
	jobID  string
	ch     chan Event
	closed bool
}

// Events returns the subscriber's event channel.
func (s *Subscriber) Events() <-chan Event {
	return s.ch
}

// NewHub constructs a hub enforcing the given per-job subscriber cap.
func NewHub(maxSubscribers int) *Hub {
	if maxSubscribers <= 0 {
		maxSubscribers = 16
	}
	return &Hub{
		maxSubscribers: maxSubscribers,
		bufferSize:     defaultBufferSize,
		jobs:           make(map[string]*jobStream),
	}
}

// Subscribe registers a new subscriber for a job. When the job already has
// the maximum number of subscribers, the oldest one is evicted to make room.
func (h *Hub) Subscribe(jobID string) *Subscriber {
	h.mu.Lock()
	defer h.mu.Unlock()

	stream, ok := h.jobs[jobID]
	if !ok {
		stream = &jobStream{}
		h.jobs[jobID] = stream
	}

	if len(stream.subs) >= h.maxSubscribers {
		oldest := stream.subs[0]
		stream.subs = stream.subs[1:]
		h.evictSubscriberLocked(oldest)
	}

	h.nextSubID++
	sub := &Subscriber{
		id:    h.nextSubID,
		jobID: jobID,
		ch:    make(chan Event, h.bufferSize),
	}
	stream.subs = append(stream.subs, sub)
	return sub
}

// Unsubscribe detaches a subscriber and closes its channel.
func (h *Hub) Unsubscribe(sub *Subscriber) {
	if sub == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	stream, ok := h.jobs[sub.jobID]
	if !ok {
		h.closeSubscriberLocked(sub)
		return
	}
	for i, candidate := range stream.subs {
		if candidate.id == sub.id {
			stream.subs = append(stream.subs[:i], stream.subs[i+1:]...)
			break
		}
	}
	h.closeSubscriberLocked(sub)
	if len(stream.subs) == 0 && stream.nextSeq == 0 {
		delete(h.jobs, sub.jobID)
	}
}

// Publish delivers an event to every subscriber of the job. Publish never
// blocks: a subscriber whose buffer is full is evicted. Progress percentages
// are clamped so a job's sequence is non-decreasing.
func (h *Hub) Publish(evt Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	stream, ok := h.jobs[evt.JobID]
	if !ok {
		stream = &jobStream{}
		h.jobs[evt.JobID] = stream
	}

	if evt.ProgressPct < stream.lastPct {
		evt.ProgressPct = stream.lastPct
	} else {
		stream.lastPct = evt.ProgressPct
	}

	stream.nextSeq++
	evt.Sequence = stream.nextSeq
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}

	kept := stream.subs[:0]
	for _, sub := range stream.subs {
		select {
		case sub.ch <- evt:
			kept = append(kept, sub)
		default:
			// Slow consumer: evict rather than block the runner.
			h.evictSubscriberLocked(sub)
		}
	}
	stream.subs = kept
}

// CloseJob ends the stream for a finished job, closing every subscriber
// channel after any buffered events are drained by the consumers.
func (h *Hub) CloseJob(jobID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	stream, ok := h.jobs[jobID]
	if !ok {
		return
	}
	for _, sub := range stream.subs {
		h.closeSubscriberLocked(sub)
	}
	delete(h.jobs, jobID)
}

// SubscriberCount reports the live subscriber count for a job.
func (h *Hub) SubscriberCount(jobID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if stream, ok := h.jobs[jobID]; ok {
		return len(stream.subs)
	}
	return 0
}

func (h *Hub) closeSubscriberLocked(sub *Subscriber) {
	if sub.closed {
		return
	}
	sub.closed = true
	close(sub.ch)
}

func (h *Hub) evictSubscriberLocked(sub *Subscriber) {
	wasOpen := !sub.closed
	h.closeSubscriberLocked(sub)
	if wasOpen && h.onEvict != nil {
		h.onEvict()
	}
}
