package events

import (
	"sync"

	"golang.org/x/exp/slog"
)

// Handler receives events for a subscribed topic.
type Handler func(Event)

type subscription struct {
	id      uint64
	topic   Topic
	handler Handler
}

// Bus is an in-process publish/subscribe channel for session events.
//
// Events are delivered in the order they were enqueued. A publish issued from
// inside a handler is queued behind the event being delivered, never recursed,
// so handlers may publish freely. Delivery happens on the goroutine that
// drains the queue, which may be another publisher's.
type Bus struct {
	mu          sync.Mutex
	subs        []subscription
	nextID      uint64
	queue       []Event
	dispatching bool
	logger      *slog.Logger
}

// NewBus creates a new Bus.
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{logger: logger.With(slog.String("component", "events"))}
}

// Subscribe registers h for topic and returns a function that removes it.
// The returned function is safe to call more than once.
func (b *Bus) Subscribe(topic Topic, h Handler) (unsubscribe func()) {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs = append(b.subs, subscription{id: id, topic: topic, handler: h})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(id) })
	}
}

// SubscribeAll registers h for every topic.
func (b *Bus) SubscribeAll(h Handler) (unsubscribe func()) {
	return b.Subscribe("", h)
}

func (b *Bus) remove(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s.id == id {
			b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
			return
		}
	}
}

// Publish enqueues e and delivers pending events.
func (b *Bus) Publish(e Event) {
	b.Enqueue(e)
	b.Flush()
}

// Enqueue adds e to the delivery queue without delivering it. Callers holding
// their own lock use Enqueue so bus order matches mutation order, then call
// Flush once the lock is released.
func (b *Bus) Enqueue(e Event) {
	b.mu.Lock()
	b.queue = append(b.queue, e)
	b.mu.Unlock()
}

// Flush delivers queued events. If another goroutine is already delivering,
// Flush returns immediately and that goroutine delivers the queued events.
func (b *Bus) Flush() {
	b.mu.Lock()
	if b.dispatching {
		b.mu.Unlock()
		return
	}
	b.dispatching = true

	for len(b.queue) > 0 {
		e := b.queue[0]
		b.queue[0] = nil
		b.queue = b.queue[1:]

		handlers := make([]Handler, 0, len(b.subs))
		for _, s := range b.subs {
			if s.topic == "" || s.topic == e.Topic() {
				handlers = append(handlers, s.handler)
			}
		}

		b.mu.Unlock()
		for _, h := range handlers {
			b.deliver(h, e)
		}
		b.mu.Lock()
	}

	b.dispatching = false
	b.mu.Unlock()
}

func (b *Bus) deliver(h Handler, e Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				slog.String("topic", string(e.Topic())),
				slog.Any("panic", r))
		}
	}()
	h(e)
}

// On subscribes a handler typed to a concrete event.
func On[T Event](b *Bus, h func(T)) (unsubscribe func()) {
	var zero T
	return b.Subscribe(zero.Topic(), func(e Event) {
		if typed, ok := e.(T); ok {
			h(typed)
		}
	})
}
