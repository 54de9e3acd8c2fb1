package eventstore

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/eventfold/bank-cqrs-go/account"
)

// Subscriber is invoked for every event committed through the store, in
// append order for any single aggregate.
type Subscriber func(e SequencedEvent)

type store interface {
	Events(ctx context.Context, id account.ID, version int) ([]SequencedEvent, error)
	Append(ctx context.Context, events []SequencedEvent, snapshots map[account.ID]SequencedEvent, txID uuid.UUID) error
	LoadSnapshot(ctx context.Context, id account.ID) (SequencedEvent, error)
	TransactionExists(ctx context.Context, id account.ID, txID uuid.UUID) (bool, error)
	AllEvents(ctx context.Context, handle func(SequencedEvent) error) error
}

// NotifyingStore decorates an event store with a subscription hook: each
// successfully appended event is handed to every subscriber. Per-aggregate
// notification order follows append order because command dispatch holds a
// per-aggregate lock across the append.
type NotifyingStore struct {
	store

	mutex       sync.RWMutex
	subscribers []Subscriber
}

func NewNotifyingStore(inner store) *NotifyingStore {
	return &NotifyingStore{store: inner}
}

func (s *NotifyingStore) Subscribe(sub Subscriber) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.subscribers = append(s.subscribers, sub)
}

func (s *NotifyingStore) Append(ctx context.Context, events []SequencedEvent, snapshots map[account.ID]SequencedEvent, txID uuid.UUID) error {
	if err := s.store.Append(ctx, events, snapshots, txID); err != nil {
		return err
	}
	for _, e := range events {
		s.notify(e)
	}
	return nil
}

// Replay feeds the full event log to all current subscribers. It is used at
// startup to rebuild projections and saga state before serving.
func (s *NotifyingStore) Replay(ctx context.Context) error {
	return s.store.AllEvents(ctx, func(e SequencedEvent) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		s.notify(e)
		return nil
	})
}

func (s *NotifyingStore) notify(e SequencedEvent) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	for _, sub := range s.subscribers {
		sub(e)
	}
}
