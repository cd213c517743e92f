package pipeline

import (
	"sync"
)

// Bus fans detection results out to multiple sinks. Handlers are invoked
// synchronously so results reach every subscriber in admission order; channel
// subscribers get non-blocking delivery and miss results when full.
type Bus struct {
	subscribers map[*busSubscription]bool
	mu          sync.RWMutex
}

type busSubscription struct {
	sink    ResultSink
	channel chan *Result
}

// NewBus creates an empty result bus.
func NewBus() *Bus {
	return &Bus{subscribers: make(map[*busSubscription]bool)}
}

// Subscribe registers a sink and returns its unsubscribe function.
func (b *Bus) Subscribe(sink ResultSink) func() {
	sub := &busSubscription{sink: sink}

	b.mu.Lock()
	b.subscribers[sub] = true
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.subscribers, sub)
		b.mu.Unlock()
	}
}

// SubscribeChannel returns a buffered channel of results and its unsubscribe
// function. The channel is closed on unsubscribe.
func (b *Bus) SubscribeChannel(bufferSize int) (<-chan *Result, func()) {
	if bufferSize <= 0 {
		bufferSize = 10
	}
	sub := &busSubscription{channel: make(chan *Result, bufferSize)}

	b.mu.Lock()
	b.subscribers[sub] = true
	b.mu.Unlock()

	unsubscribe := func() {
		b.mu.Lock()
		if _, ok := b.subscribers[sub]; ok {
			delete(b.subscribers, sub)
			close(sub.channel)
		}
		b.mu.Unlock()
	}
	return sub.channel, unsubscribe
}

// OnResult delivers one result to all subscribers. Sinks run synchronously
// to preserve ordering; full channels are skipped rather than blocked on.
func (b *Bus) OnResult(result *Result) {
	if result == nil {
		return
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subscribers {
		if sub.sink != nil {
			sub.sink.OnResult(result)
			continue
		}
		select {
		case sub.channel <- result:
		default:
			// Subscriber is slow, skip this result
		}
	}
}

// SubscriberCount returns the number of active subscriptions.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Close drops all subscriptions and closes channel subscribers.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for sub := range b.subscribers {
		if sub.channel != nil {
			close(sub.channel)
		}
		delete(b.subscribers, sub)
	}
}

var _ ResultSink = (*Bus)(nil)
