// Package event implements the broadcast fan-out the Runtime uses to
// deliver asynchronous events (peer up/down, messages, stream events,
// context updates) to any number of Handle subscribers. The shape —
// a Bus with topic-keyed channel subscriptions — follows qri's own
// event package; adapted here from qri's per-topic-only subscription to
// also support subscribing to every event (spec §4.4 subscribe_events()),
// and from an unbounded channel to a bounded, drop-oldest one (spec §5
// "capacity 1000, drop-oldest" for the broadcast) since qri's version
// assumed a consumer that synchronously acknowledges each event.
package event

import (
	"context"
	"sync"
	"time"

	golog "github.com/ipfs/go-log/v2"
)

var log = golog.Logger("event")

// Topic names a class of event. Spec §3 enumerates the concrete payload
// shapes; Topic is the tag used to route and filter them.
type Topic string

// Topics emitted by the runtime and stream layer (spec §3 "Event").
const (
	ETStarted          Topic = "runtime:Started"
	ETPeerDiscovered   Topic = "runtime:PeerDiscovered"
	ETPeerConnected    Topic = "runtime:PeerConnected"
	ETPeerDisconnected Topic = "runtime:PeerDisconnected"
	ETMessage          Topic = "runtime:Message"
	ETStreamRequested  Topic = "stream:StreamRequested"
	ETStreamOpened     Topic = "stream:StreamOpened"
	ETStreamData       Topic = "stream:StreamData"
	ETStreamClosed     Topic = "stream:StreamClosed"
	ETContextUpdated   Topic = "context:ContextUpdated"
)

// NowFunc is overridable in tests for deterministic timestamps.
var NowFunc = time.Now

// Event is a single broadcast item: a topic tag, a timestamp, and an
// opaque payload whose concrete type is determined by Topic (see the
// payload types declared alongside each topic's producer).
type Event struct {
	Topic     Topic
	Timestamp int64
	Payload   interface{}
}

// DefaultBufSize is each subscriber channel's capacity. Once full, the
// oldest buffered event is dropped to admit the newest one, so a slow
// subscriber never blocks the bus (spec §5 "drop-oldest").
const DefaultBufSize = 1000

type subscriber struct {
	ch     chan Event
	topics map[Topic]bool // nil means "subscribed to everything"
}

// Bus is the concrete broadcast fan-out. All methods are safe for
// concurrent use; the Runtime publishes from its single goroutine while
// arbitrary handle-owning goroutines subscribe and unsubscribe.
type Bus struct {
	ctx context.Context

	mu   sync.Mutex
	subs map[int]*subscriber
	next int
}

// NewBus constructs a Bus bound to ctx; all subscriber goroutines and
// channels are considered dead once ctx is done.
func NewBus(ctx context.Context) *Bus {
	return &Bus{ctx: ctx, subs: map[int]*subscriber{}}
}

// Subscribe returns a receive channel carrying every event, plus an
// unsubscribe function the caller must eventually call to release it.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	return b.subscribe(nil)
}

// SubscribeTopics returns a receive channel carrying only events matching
// one of the given topics.
func (b *Bus) SubscribeTopics(topics ...Topic) (<-chan Event, func()) {
	set := make(map[Topic]bool, len(topics))
	for _, t := range topics {
		set[t] = true
	}
	return b.subscribe(set)
}

func (b *Bus) subscribe(topics map[Topic]bool) (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.next
	b.next++
	s := &subscriber{ch: make(chan Event, DefaultBufSize), topics: topics}
	b.subs[id] = s

	unsubscribe := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(s.ch)
		}
	}
	return s.ch, unsubscribe
}

// Publish broadcasts an event to every matching subscriber. It never
// blocks: a subscriber at capacity has its oldest buffered event dropped.
func (b *Bus) Publish(topic Topic, payload interface{}) {
	e := Event{Topic: topic, Timestamp: NowFunc().UnixNano(), Payload: payload}

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, s := range b.subs {
		if s.topics != nil && !s.topics[topic] {
			continue
		}
		select {
		case s.ch <- e:
		default:
			// buffer full: drop the oldest queued event, then retry once.
			select {
			case <-s.ch:
				log.Debugw("dropped oldest event for slow subscriber", "topic", topic)
			default:
			}
			select {
			case s.ch <- e:
			default:
				log.Debugw("subscriber still full after drop, discarding event", "topic", topic)
			}
		}
	}
}

// NumSubscribers reports the current subscriber count; useful for tests
// and diagnostics.
func (b *Bus) NumSubscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
