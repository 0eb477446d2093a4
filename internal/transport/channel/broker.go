// Package channel provides the in-process event broker through which the
// engine and import pipeline report lifecycle and progress events.
//
// Subscribers registered with Subscribe are invoked synchronously on every
// publish; a subscriber panic is recovered and logged so it cannot break
// the emitting component. Tap exposes a buffered channel for consumers
// that prefer to drain events asynchronously.
package channel

import (
	"log"
	"sync"

	"github.com/djlord-it/easy-batch/internal/domain"
)

// MetricsSink records broker metrics. Methods must be non-blocking.
type MetricsSink interface {
	BufferSizeUpdate(size int)
	EmitError()
}

type Subscriber func(domain.ExecutionEvent)

type Option func(*Broker)

// WithMetrics attaches a metrics sink to the broker.
func WithMetrics(sink MetricsSink) Option {
	return func(b *Broker) {
		b.metrics = sink
	}
}

type Broker struct {
	mu          sync.RWMutex
	subscribers []Subscriber

	tap     chan domain.ExecutionEvent
	metrics MetricsSink // optional, nil = disabled
}

// NewBroker creates a broker whose channel tap buffers up to buffer events.
func NewBroker(buffer int, opts ...Option) *Broker {
	b := &Broker{
		tap: make(chan domain.ExecutionEvent, buffer),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers a callback for all subsequent events. Events
// published before registration are not replayed.
func (b *Broker) Subscribe(fn Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers = append(b.subscribers, fn)
}

// Publish delivers the event to every registered subscriber, then offers
// it to the channel tap without blocking. A full tap drops the event for
// channel consumers only; callback subscribers always see it.
func (b *Broker) Publish(event domain.ExecutionEvent) {
	b.mu.RLock()
	subs := b.subscribers
	b.mu.RUnlock()

	for _, fn := range subs {
		b.invoke(fn, event)
	}

	select {
	case b.tap <- event:
	default:
		if b.metrics != nil {
			b.metrics.EmitError()
		}
	}
	if b.metrics != nil {
		b.metrics.BufferSizeUpdate(len(b.tap))
	}
}

// Tap returns the buffered event channel for asynchronous consumers.
func (b *Broker) Tap() <-chan domain.ExecutionEvent {
	return b.tap
}

func (b *Broker) invoke(fn Subscriber, event domain.ExecutionEvent) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("broker: subscriber panic on %s event: %v", event.Type, r)
		}
	}()
	fn(event)
}
