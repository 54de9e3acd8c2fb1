package eventsourcing

import (
	"context"

	"github.com/google/uuid"

	"github.com/eventfold/bank-cqrs-go/account"
	"github.com/eventfold/bank-cqrs-go/eventstore"
)

// EventStore is the persistence contract the dispatcher depends on.
type EventStore interface {
	Events(ctx context.Context, id account.ID, version int) ([]eventstore.SequencedEvent, error)
	Append(ctx context.Context, events []eventstore.SequencedEvent, snapshots map[account.ID]eventstore.SequencedEvent, txID uuid.UUID) error
	LoadSnapshot(ctx context.Context, id account.ID) (eventstore.SequencedEvent, error)
	TransactionExists(ctx context.Context, id account.ID, txID uuid.UUID) (bool, error)
}

// eventStream tracks the events an aggregate emits during one command so
// they can be committed atomically with an optimistic version check.
type eventStream struct {
	eventStore           EventStore
	snapshotFrequency    int
	versions             map[account.ID]int
	uncommittedEvents    []eventstore.SequencedEvent
	uncommittedSnapshots map[account.ID]eventstore.SequencedEvent
}

func newEventStream(es EventStore, snapshotFrequency int) *eventStream {
	if snapshotFrequency < 0 {
		panic("snapshot frequency can not be negative")
	}
	return &eventStream{
		eventStore:           es,
		snapshotFrequency:    snapshotFrequency,
		versions:             map[account.ID]int{},
		uncommittedSnapshots: map[account.ID]eventstore.SequencedEvent{},
	}
}

func (s *eventStream) applySnapshot(ctx context.Context, id account.ID) (*account.Account, int, error) {
	a := account.New(s)
	snapshot, err := s.eventStore.LoadSnapshot(ctx, id)
	if err != nil {
		return nil, 0, err
	}
	if snapshot.Event != nil {
		snapshot.Event.Apply(a)
		return a, snapshot.Seq, nil
	}
	return a, 0, nil
}

// replay folds the stream for id into a fresh aggregate. An empty stream
// yields an Uninitialized aggregate - whether that is acceptable is the
// command handler's decision, not the replay's.
func (s *eventStream) replay(ctx context.Context, id account.ID) (*account.Account, error) {
	a, currentVersion, err := s.applySnapshot(ctx, id)
	if err != nil {
		return nil, err
	}
	events, err := s.eventStore.Events(ctx, id, currentVersion)
	if err != nil {
		return nil, err
	}

	for _, e := range events {
		e.Event.Apply(a)
		currentVersion = e.Seq
	}

	s.versions[id] = currentVersion
	return a, nil
}

func (s *eventStream) Append(e account.Event, a *account.Account, id account.ID) {
	e.Apply(a)
	version := s.versions[id] + 1
	s.versions[id] = version
	s.uncommittedEvents = append(s.uncommittedEvents, eventstore.SequencedEvent{AggregateID: id, Seq: version, Event: e})
	if s.snapshotFrequency != 0 && version%s.snapshotFrequency == 0 {
		s.uncommittedSnapshots[id] = eventstore.SequencedEvent{AggregateID: id, Seq: version, Event: a.Snapshot()}
	}
}

func (s *eventStream) commit(ctx context.Context, txID uuid.UUID) error {
	if len(s.uncommittedEvents) == 0 {
		return nil
	}
	if err := s.eventStore.Append(ctx, s.uncommittedEvents, s.uncommittedSnapshots, txID); err != nil {
		return err
	}
	s.uncommittedEvents = nil
	s.uncommittedSnapshots = map[account.ID]eventstore.SequencedEvent{}
	return nil
}
