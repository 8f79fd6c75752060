package engine

import (
	"sync"
	"time"
)

// Progress event types.
const (
	EventTaskStarted   = "task_started"
	EventTaskCompleted = "task_completed"
	EventTaskFailed    = "task_failed"
)

// subscriberBufferSize is the channel buffer for each event subscriber.
// Events are dropped if a subscriber falls this far behind.
const subscriberBufferSize = 64

// DefaultMarkerRetention is how long a closed topic is remembered.
const DefaultMarkerRetention = 5 * time.Minute

// Event is one progress notification for a task in a batch.
type Event struct {
	Type       string    `json:"type"`
	BatchID    string    `json:"batch_id"`
	Seq        int       `json:"seq"`
	TaskID     string    `json:"task_id"`
	Backend    string    `json:"backend,omitempty"`
	ExitCode   int       `json:"exit_code"`
	Error      string    `json:"error,omitempty"`
	DurationMS int64     `json:"duration_ms"`
	Time       time.Time `json:"time"`
}

// EventBroker manages per-batch event streaming to subscribers.
// It is safe for concurrent use.
//
// Closed topics are retained as markers for a retention period so that late
// subscribers (those subscribing after a batch finishes) receive a closed
// channel instead of blocking forever. Callers subscribing later than that
// must check the batch status first.
type EventBroker struct {
	mu        sync.Mutex
	topics    map[string]*eventTopic
	retention time.Duration
}

type eventTopic struct {
	subs   map[int]chan Event
	nextID int
	closed bool
}

// NewEventBroker creates a new event broker that keeps closed markers for
// DefaultMarkerRetention.
func NewEventBroker() *EventBroker {
	return NewEventBrokerWithRetention(DefaultMarkerRetention)
}

// NewEventBrokerWithRetention creates a broker that evicts closed markers
// after retention.
func NewEventBrokerWithRetention(retention time.Duration) *EventBroker {
	return &EventBroker{
		topics:    make(map[string]*eventTopic),
		retention: retention,
	}
}

// Topics returns the number of open topics and retained markers.
func (b *EventBroker) Topics() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.topics)
}

// Subscribe returns a channel that receives events for the given batch and an
// unsubscribe function. If the batch has already finished (Close was called),
// the returned channel is immediately closed.
func (b *EventBroker) Subscribe(batchID string) (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[batchID]
	if !ok {
		t = &eventTopic{subs: make(map[int]chan Event)}
		b.topics[batchID] = t
	}

	ch := make(chan Event, subscriberBufferSize)
	if t.closed {
		close(ch)
		return ch, func() {}
	}

	id := t.nextID
	t.nextID++
	t.subs[id] = ch

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(t.subs, id)
		// Publish skips missing topics, so an idle open topic can go.
		if !t.closed && len(t.subs) == 0 && b.topics[batchID] == t {
			delete(b.topics, batchID)
		}
	}
}

// Publish sends an event to all subscribers of ev.BatchID.
// Events are dropped for subscribers whose buffers are full.
func (b *EventBroker) Publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[ev.BatchID]
	if !ok || t.closed {
		return
	}

	for _, ch := range t.subs {
		select {
		case ch <- ev:
		default:
			// Drop for slow subscribers so execution never blocks.
		}
	}
}

// Close signals that no more events will be published for the given batch.
// All subscriber channels are closed and future Subscribe calls return a
// closed channel.
func (b *EventBroker) Close(batchID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[batchID]
	if !ok {
		t = &eventTopic{subs: make(map[int]chan Event)}
		b.topics[batchID] = t
	}
	if t.closed {
		return
	}

	t.closed = true
	for id, ch := range t.subs {
		close(ch)
		delete(t.subs, id)
	}

	time.AfterFunc(b.retention, func() { b.evict(batchID, t) })
}

// evict drops a closed marker unless the topic was replaced.
func (b *EventBroker) evict(batchID string, t *eventTopic) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.topics[batchID] == t {
		delete(b.topics, batchID)
	}
}
