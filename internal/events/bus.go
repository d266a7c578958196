// Package events provides the in-process publish/subscribe bus used to fan out
// speech notifications to transports and UI listeners.
package events

import (
	"sync"

	"github.com/rs/zerolog/log"
)

// Topics published by cardspeak components
const (
	TopicSpeechFinished  = "speech:finished"
	TopicSpeechStatus    = "speech:status"
	TopicSettingsChanged = "settings:changed"

	defaultBufferSize = 64
)

// Publisher is the write side of the bus
type Publisher interface {
	Publish(topic string, payload any)
}

// Subscriber is the read side of the bus
type Subscriber interface {
	Subscribe(topic string) (<-chan any, func())
}

// lossless topics queue without bound per subscriber instead of dropping
var lossless = map[string]bool{
	TopicSpeechFinished:  true,
	TopicSettingsChanged: true,
}

// Bus delivers payloads to every subscriber of a topic. Publish never blocks.
// On lossy topics a subscriber whose buffer is full misses the payload; on
// TopicSpeechFinished and TopicSettingsChanged every payload is queued and
// delivered in order.
type Bus struct {
	mu        sync.RWMutex
	subs      map[string]map[int]*subscription
	nextSubID int
	closed    bool

	dropMu     sync.Mutex
	dropCounts map[string]uint64
}

// NewBus creates an empty bus
func NewBus() *Bus {
	return &Bus{
		subs:       make(map[string]map[int]*subscription),
		dropCounts: make(map[string]uint64),
	}
}

// Publish sends payload to all current subscribers of topic
func (b *Bus) Publish(topic string, payload any) {
	if b == nil || topic == "" {
		return
	}

	// held across sends so unsubscribe cannot close a channel mid-send
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}

	for _, sub := range b.subs[topic] {
		if sub.queue != nil {
			sub.queue.push(payload)
			continue
		}
		select {
		case sub.ch <- payload:
		default:
			b.recordDrop(topic)
		}
	}
}

// Subscribe returns a receive channel for topic and a function that removes the
// subscription. The channel is closed once the subscription is removed; on
// lossless topics this happens asynchronously and queued payloads are discarded.
func (b *Bus) Subscribe(topic string) (<-chan any, func()) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		ch := make(chan any)
		close(ch)
		return ch, func() {}
	}
	sub := newSubscription(lossless[topic])
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[int]*subscription)
	}
	id := b.nextSubID
	b.nextSubID++
	b.subs[topic][id] = sub
	b.mu.Unlock()

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			subs, ok := b.subs[topic]
			if !ok {
				return
			}
			if _, ok := subs[id]; !ok {
				return
			}
			delete(subs, id)
			if len(subs) == 0 {
				delete(b.subs, topic)
			}
			sub.close()
		})
	}

	return sub.ch, unsubscribe
}

// Close closes every subscription. Later publishes are dropped.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for topic, subs := range b.subs {
		for id, sub := range subs {
			sub.close()
			delete(subs, id)
		}
		delete(b.subs, topic)
	}
}

// Subscribers returns the number of live subscriptions for topic
func (b *Bus) Subscribers(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[topic])
}

// Drops returns how many payloads were dropped for topic
func (b *Bus) Drops(topic string) uint64 {
	b.dropMu.Lock()
	defer b.dropMu.Unlock()
	return b.dropCounts[topic]
}

func (b *Bus) recordDrop(topic string) {
	b.dropMu.Lock()
	defer b.dropMu.Unlock()
	b.dropCounts[topic]++
	if b.dropCounts[topic]%100 == 1 {
		log.Warn().
			Str("topic", topic).
			Uint64("drops", b.dropCounts[topic]).
			Msg("Dropping bus messages for slow subscriber")
	}
}

type subscription struct {
	ch    chan any
	queue *queue
}

func newSubscription(unbounded bool) *subscription {
	if !unbounded {
		return &subscription{ch: make(chan any, defaultBufferSize)}
	}
	q := newQueue()
	return &subscription{ch: q.out, queue: q}
}

// close must be called with the bus lock held
func (s *subscription) close() {
	if s.queue != nil {
		s.queue.close()
		return
	}
	close(s.ch)
}

// queue feeds out from an unbounded buffer. out is closed once the queue is
// closed; payloads still buffered at that point are discarded.
type queue struct {
	mu    sync.Mutex
	items []any
	wake  chan struct{}
	done  chan struct{}
	out   chan any
}

func newQueue() *queue {
	q := &queue{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
		out:  make(chan any),
	}
	go q.run()
	return q
}

func (q *queue) push(v any) {
	q.mu.Lock()
	q.items = append(q.items, v)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *queue) close() {
	close(q.done)
}

func (q *queue) run() {
	defer close(q.out)
	for {
		q.mu.Lock()
		if len(q.items) == 0 {
			q.mu.Unlock()
			select {
			case <-q.wake:
				continue
			case <-q.done:
				return
			}
		}
		v := q.items[0]
		q.items[0] = nil
		q.items = q.items[1:]
		q.mu.Unlock()

		select {
		case q.out <- v:
		case <-q.done:
			return
		}
	}
}
