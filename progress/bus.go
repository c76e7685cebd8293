package progress

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

const (
	// backlogCap bounds the per-topic replay ring. A full session history
	// for realistic imports fits comfortably; beyond it, late subscribers
	// lose the oldest events. Replay is in-memory only — reconnects across
	// process restarts start from the session row, not the event stream.
	backlogCap = 1024

	// subQueueCap bounds each subscriber's pending queue. A subscriber
	// that falls further behind loses oldest non-terminal events and gets
	// a synthetic status marker in their place.
	subQueueCap = 256
)

// Bus holds one topic per live import session or upload task.
type Bus struct {
	mu     sync.Mutex
	topics map[string]*Topic
}

func NewBus() *Bus {
	return &Bus{topics: make(map[string]*Topic)}
}

// Topic returns the topic for key, creating it if needed.
func (b *Bus) Topic(key string) *Topic {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.topics[key]
	if !ok {
		t = newTopic()
		b.topics[key] = t
	}
	return t
}

// Lookup returns an existing topic without creating one.
func (b *Bus) Lookup(key string) (*Topic, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.topics[key]
	return t, ok
}

// Remove drops a finished topic. Existing subscribers keep draining their
// queues; new subscribers will not find it.
func (b *Bus) Remove(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.topics, key)
}

// Topic is a single-publisher, multi-subscriber ordered event stream.
type Topic struct {
	mu      sync.Mutex
	nextSeq int64
	backlog []Event
	subs    map[*Subscription]struct{}
	closed  bool
}

func newTopic() *Topic {
	return &Topic{nextSeq: 1, subs: make(map[*Subscription]struct{})}
}

// Publish assigns the next sequence number, appends to the replay backlog
// and fans out to live subscribers. Publishing `done` closes the topic.
func (t *Topic) Publish(kind string, payload any) (int64, error) {
	var data json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return 0, fmt.Errorf("marshal %s payload: %w", kind, err)
		}
		data = b
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return 0, fmt.Errorf("publish %s on closed topic", kind)
	}

	ev := Event{Seq: t.nextSeq, Kind: kind, Data: data, At: time.Now().UTC()}
	t.nextSeq++

	t.backlog = append(t.backlog, ev)
	if len(t.backlog) > backlogCap {
		t.backlog = t.backlog[len(t.backlog)-backlogCap:]
	}

	for s := range t.subs {
		s.push(ev)
	}
	if kind == KindDone {
		t.closed = true
		for s := range t.subs {
			s.markClosed()
		}
	}
	return ev.Seq, nil
}

// Subscribe registers a new subscriber and replays the backlog into its
// queue ahead of live events.
func (t *Topic) Subscribe() *Subscription {
	s := &Subscription{
		topic:  t,
		notify: make(chan struct{}, 1),
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	s.queue = append(s.queue, t.backlog...)
	if t.closed {
		s.closed = true
	} else {
		t.subs[s] = struct{}{}
	}
	if len(s.queue) > 0 || s.closed {
		s.wake()
	}
	return s
}

// Subscription is one subscriber's view of a topic.
type Subscription struct {
	topic  *Topic
	notify chan struct{}

	mu     sync.Mutex
	queue  []Event
	closed bool
}

// Next blocks for the next event. ok=false means the stream ended: the
// topic closed (after `done`) and the queue is drained.
func (s *Subscription) Next(ctx context.Context) (Event, bool, error) {
	for {
		s.mu.Lock()
		if len(s.queue) > 0 {
			ev := s.queue[0]
			s.queue = s.queue[1:]
			// More pending: keep the signal raised for the next call.
			if len(s.queue) > 0 {
				s.wake()
			}
			s.mu.Unlock()
			return ev, true, nil
		}
		if s.closed {
			s.mu.Unlock()
			return Event{}, false, nil
		}
		s.mu.Unlock()

		select {
		case <-s.notify:
		case <-ctx.Done():
			return Event{}, false, ctx.Err()
		}
	}
}

// Close detaches the subscription. Safe to call more than once; the
// publisher is unaffected.
func (s *Subscription) Close() {
	s.topic.mu.Lock()
	delete(s.topic.subs, s)
	s.topic.mu.Unlock()

	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.wake()
}

func (s *Subscription) push(ev Event) {
	s.mu.Lock()
	if len(s.queue) >= subQueueCap {
		s.dropOldestLocked()
	}
	s.queue = append(s.queue, ev)
	s.mu.Unlock()
	s.wake()
}

// dropOldestLocked frees one slot by evicting the oldest non-terminal
// event. The first eviction in a gap is replaced in-place by a synthetic
// status marker carrying the evicted seq, so the subscriber observes both
// the drop and an unbroken seq order; later evictions in the same gap
// remove events outright. Terminal events are never evicted.
func (s *Subscription) dropOldestLocked() {
	marker := -1
	for i, e := range s.queue {
		if e.synthetic {
			marker = i
			break
		}
	}
	victim := -1
	from := 0
	if marker >= 0 {
		from = marker + 1
	}
	for i := from; i < len(s.queue); i++ {
		e := s.queue[i]
		if !e.synthetic && !IsTerminal(e.Kind) {
			victim = i
			break
		}
	}
	if victim < 0 {
		// Nothing evictable; let the queue grow past the cap rather than
		// lose a terminal event.
		return
	}
	if marker >= 0 {
		s.queue = append(s.queue[:victim], s.queue[victim+1:]...)
		return
	}
	data, _ := json.Marshal(StatusPayload{Message: "subscriber lagging; older progress events dropped"})
	s.queue[victim] = Event{
		Seq:       s.queue[victim].Seq,
		Kind:      KindStatus,
		Data:      data,
		At:        time.Now().UTC(),
		synthetic: true,
	}
	// The marker still occupies the slot; evict the next candidate.
	s.dropOldestLocked()
}

func (s *Subscription) markClosed() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.wake()
}

func (s *Subscription) wake() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}
