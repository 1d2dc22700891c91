package engine

import "sync"

// subscriberBufferSize is the channel buffer for each log subscriber.
// Events are dropped if a subscriber falls this far behind; the persisted
// history fills the gap on reconnect.
const subscriberBufferSize = 64

// LogEvent is one console line of an invocation with its sequence number.
type LogEvent struct {
	Seq  int
	Line string
}

// LogBroker fans console output of running invocations out to subscribers.
// It is safe for concurrent use.
//
// Finished invocations keep an empty closed marker so that a subscriber
// arriving after Close gets a closed channel instead of waiting forever.
type LogBroker struct {
	mu     sync.Mutex
	topics map[string]*logTopic
}

type logTopic struct {
	subs    map[int]chan LogEvent
	nextID  int
	closed  bool
	dropped int
}

// NewLogBroker creates a new log broker.
func NewLogBroker() *LogBroker {
	return &LogBroker{
		topics: make(map[string]*logTopic),
	}
}

func (b *LogBroker) topic(invocationID string) *logTopic {
	t, ok := b.topics[invocationID]
	if !ok {
		t = &logTopic{subs: make(map[int]chan LogEvent)}
		b.topics[invocationID] = t
	}
	return t
}

// Subscribe returns a channel of the invocation's events published from now
// on and an unsubscribe function. The channel is closed when the invocation
// finishes; it is returned closed if that already happened.
func (b *LogBroker) Subscribe(invocationID string) (<-chan LogEvent, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t := b.topic(invocationID)
	ch := make(chan LogEvent, subscriberBufferSize)
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
	}
}

// Publish delivers ev to every subscriber of the invocation without blocking.
// It reports how many subscribers missed the event because their buffer was
// full.
func (b *LogBroker) Publish(invocationID string, ev LogEvent) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[invocationID]
	if !ok || t.closed {
		return 0
	}

	missed := 0
	for _, ch := range t.subs {
		select {
		case ch <- ev:
		default:
			missed++
		}
	}
	t.dropped += missed
	return missed
}

// Close marks the invocation finished. Subscriber channels are closed and
// later Subscribe calls return a closed channel.
func (b *LogBroker) Close(invocationID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t := b.topic(invocationID)
	t.closed = true
	for id, ch := range t.subs {
		close(ch)
		delete(t.subs, id)
	}
}

// Dropped returns how many events subscribers of the invocation missed.
func (b *LogBroker) Dropped(invocationID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if t, ok := b.topics[invocationID]; ok {
		return t.dropped
	}
	return 0
}
