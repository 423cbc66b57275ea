// Package bus is the in-process pub/sub fabric between the orchestrator and
// the SSE transport. Channels are named strings, subscribers get an
// independent bounded queue, and a slow subscriber never blocks a publisher:
// when a queue is full the oldest event is dropped to make room.
package bus

import (
	"log/slog"
	"sync"
)

// DefaultQueueSize is the per-subscriber buffer. Kiosk screens only care
// about recent state, so a shallow queue with drop-oldest is enough.
const DefaultQueueSize = 100

// Event is one published payload. Values must be JSON-serializable since the
// SSE layer marshals events verbatim.
type Event map[string]any

// Subscription is one subscriber's view of a channel. Close it when the
// consumer goes away; the bus never closes C on its own except at shutdown.
type Subscription struct {
	bus     *Bus
	channel string
	ch      chan Event
	once    sync.Once
}

// C returns the receive side of the subscription queue.
func (s *Subscription) C() <-chan Event { return s.ch }

// Close detaches the subscription and closes its queue. Safe to call more
// than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.bus.remove(s)
		close(s.ch)
	})
}

// Bus fans events out to subscribers per channel.
type Bus struct {
	mu        sync.Mutex
	subs      map[string]map[*Subscription]struct{}
	queueSize int
	closed    bool
	logger    *slog.Logger
}

// Option configures a Bus.
type Option func(*Bus)

// WithLogHandler sets the slog handler for bus logs.
func WithLogHandler(handler slog.Handler) Option {
	return func(b *Bus) {
		if handler != nil {
			b.logger = slog.New(handler).WithGroup("bus")
		}
	}
}

// WithLogger sets the logger directly.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Bus) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithQueueSize overrides the per-subscriber buffer size.
func WithQueueSize(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.queueSize = n
		}
	}
}

// New creates an empty bus.
func New(opts ...Option) *Bus {
	b := &Bus{
		subs:      make(map[string]map[*Subscription]struct{}),
		queueSize: DefaultQueueSize,
		logger:    slog.Default().WithGroup("bus"),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe attaches a new bounded queue to the channel.
func (b *Bus) Subscribe(channel string) *Subscription {
	sub := &Subscription{
		bus:     b,
		channel: channel,
		ch:      make(chan Event, b.queueSize),
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		sub.once.Do(func() { close(sub.ch) })
		return sub
	}
	set, ok := b.subs[channel]
	if !ok {
		set = make(map[*Subscription]struct{})
		b.subs[channel] = set
	}
	set[sub] = struct{}{}
	b.logger.Debug("subscriber attached", "channel", channel, "subscribers", len(set))
	return sub
}

// Publish delivers the event to every current subscriber of the channel.
// Never blocks: full queues drop their oldest event first.
func (b *Bus) Publish(channel string, evt Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for sub := range b.subs[channel] {
		select {
		case sub.ch <- evt:
			continue
		default:
		}
		// Queue full. Evict the oldest entry, then retry once.
		select {
		case <-sub.ch:
			b.logger.Warn("subscriber queue full, dropped oldest event", "channel", channel)
		default:
		}
		select {
		case sub.ch <- evt:
		default:
		}
	}
}

// SubscriberCount reports attached subscribers on a channel.
func (b *Bus) SubscriberCount(channel string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[channel])
}

// Close detaches and closes every subscription. Publishes after Close are
// silently discarded.
//
// The subscriber set is snapshotted and the mutex released before any
// Subscription.Close runs: that call takes the subscription's Once and then
// b.mu, so holding b.mu across it would invert the lock order against a
// concurrent subscriber-side Close.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	var detached []*Subscription
	for channel, set := range b.subs {
		for sub := range set {
			detached = append(detached, sub)
		}
		delete(b.subs, channel)
	}
	b.mu.Unlock()

	for _, sub := range detached {
		sub.Close()
	}
	b.logger.Debug("bus closed")
}

func (b *Bus) remove(s *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if set, ok := b.subs[s.channel]; ok {
		delete(set, s)
		if len(set) == 0 {
			delete(b.subs, s.channel)
		}
	}
}
