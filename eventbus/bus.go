// Package eventbus provides the in-process fan-out of committed events to
// the read model, the saga manager and the distribution bridge.
package eventbus

import (
	"sync"

	"github.com/eventfold/bank-cqrs-go/eventstore"
)

// Message is a committed event together with the origin node that produced
// it. Events relayed in from other nodes keep their foreign origin so the
// outbound bridge can tell them apart from locally produced ones.
type Message struct {
	Origin string
	Event  eventstore.SequencedEvent
}

// Subscriber receives every published event. For a single aggregate
// identifier, messages arrive in commit order; no order is guaranteed
// across identifiers.
type Subscriber interface {
	Handle(msg Message)
}

// SubscriberFunc adapts a function to the Subscriber interface.
type SubscriberFunc func(msg Message)

func (f SubscriberFunc) Handle(msg Message) {
	f(msg)
}

// Bus fans events out to all subscribers synchronously, preserving the
// publish order per caller. Subscribers must not block for long - slow
// consumers throttle command handling.
type Bus struct {
	origin string

	mutex       sync.RWMutex
	subscribers []Subscriber
}

// New creates a bus for the node identified by origin.
func New(origin string) *Bus {
	return &Bus{origin: origin}
}

func (b *Bus) Origin() string {
	return b.origin
}

func (b *Bus) Subscribe(sub Subscriber) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	b.subscribers = append(b.subscribers, sub)
}

// Publish fans out an event produced by this node.
func (b *Bus) Publish(e eventstore.SequencedEvent) {
	b.publish(Message{Origin: b.origin, Event: e})
}

// PublishFrom fans out an event relayed from another node, keeping its
// foreign origin tag.
func (b *Bus) PublishFrom(origin string, e eventstore.SequencedEvent) {
	b.publish(Message{Origin: origin, Event: e})
}

func (b *Bus) publish(msg Message) {
	b.mutex.RLock()
	defer b.mutex.RUnlock()
	for _, sub := range b.subscribers {
		sub.Handle(msg)
	}
}
