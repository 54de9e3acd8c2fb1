package eventstore

import (
	"context"

	"github.com/google/uuid"

	"github.com/eventfold/bank-cqrs-go/account"
)

// EventSerializer converts between the domain and persisted event forms.
type EventSerializer interface {
	SerializeEvent(e SequencedEvent) (SerializedEvent, error)
	DeserializeEvent(s SerializedEvent) (SequencedEvent, error)
}

// serializedStore is the contract of persistence engines that deal in opaque
// payloads, such as the postgres store.
type serializedStore interface {
	Events(ctx context.Context, id account.ID, version int) ([]SerializedEvent, error)
	Append(ctx context.Context, events []SerializedEvent, snapshots []SerializedEvent, txID uuid.UUID) error
	LoadSnapshot(ctx context.Context, id account.ID) (*SerializedEvent, error)
	TransactionExists(ctx context.Context, id account.ID, txID uuid.UUID) (bool, error)
	AllEvents(ctx context.Context, handle func(SerializedEvent) error) error
}

type serializingEventStore struct {
	store      serializedStore
	serializer EventSerializer
}

// NewSerializingEventStore adapts a payload-level store to the domain-level
// event store contract.
func NewSerializingEventStore(store serializedStore, serializer EventSerializer) *serializingEventStore {
	return &serializingEventStore{store: store, serializer: serializer}
}

func (s serializingEventStore) Events(ctx context.Context, id account.ID, version int) ([]SequencedEvent, error) {
	serializedEvents, err := s.store.Events(ctx, id, version)
	if err != nil {
		return nil, err
	}
	var events []SequencedEvent
	for _, serializedEvent := range serializedEvents {
		event, err := s.serializer.DeserializeEvent(serializedEvent)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, nil
}

func (s serializingEventStore) Append(ctx context.Context, events []SequencedEvent, snapshots map[account.ID]SequencedEvent, txID uuid.UUID) error {
	var serializedEvents []SerializedEvent
	for _, event := range events {
		serializedEvent, err := s.serializer.SerializeEvent(event)
		if err != nil {
			return err
		}
		serializedEvent.TxID = txID
		serializedEvents = append(serializedEvents, serializedEvent)
	}
	var serializedSnapshots []SerializedEvent
	for _, snapshot := range snapshots {
		serializedSnapshot, err := s.serializer.SerializeEvent(snapshot)
		if err != nil {
			return err
		}
		serializedSnapshot.TxID = txID
		serializedSnapshots = append(serializedSnapshots, serializedSnapshot)
	}
	return s.store.Append(ctx, serializedEvents, serializedSnapshots, txID)
}

func (s serializingEventStore) LoadSnapshot(ctx context.Context, id account.ID) (SequencedEvent, error) {
	serializedSnapshot, err := s.store.LoadSnapshot(ctx, id)
	if err != nil {
		return SequencedEvent{}, err
	}
	if serializedSnapshot == nil {
		return SequencedEvent{}, nil
	}
	return s.serializer.DeserializeEvent(*serializedSnapshot)
}

func (s serializingEventStore) TransactionExists(ctx context.Context, id account.ID, txID uuid.UUID) (bool, error) {
	return s.store.TransactionExists(ctx, id, txID)
}

func (s serializingEventStore) AllEvents(ctx context.Context, handle func(SequencedEvent) error) error {
	return s.store.AllEvents(ctx, func(serializedEvent SerializedEvent) error {
		event, err := s.serializer.DeserializeEvent(serializedEvent)
		if err != nil {
			return err
		}
		return handle(event)
	})
}
