package eventstore

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/eventfold/bank-cqrs-go/account"
)

type inmemoryStore struct {
	events       []SequencedEvent
	snapshots    map[account.ID]SequencedEvent
	transactions map[account.ID][]uuid.UUID
	mutex        sync.RWMutex
}

func NewInMemoryStore() *inmemoryStore {
	return &inmemoryStore{
		snapshots:    map[account.ID]SequencedEvent{},
		transactions: map[account.ID][]uuid.UUID{},
	}
}

func (es *inmemoryStore) Events(ctx context.Context, id account.ID, version int) ([]SequencedEvent, error) {
	es.mutex.RLock()
	defer es.mutex.RUnlock()

	var events []SequencedEvent
	for _, e := range es.events {
		if e.AggregateID == id && e.Seq > version {
			events = append(events, e)
		}
	}
	return events, nil
}

func (es *inmemoryStore) LoadSnapshot(ctx context.Context, id account.ID) (SequencedEvent, error) {
	es.mutex.RLock()
	defer es.mutex.RUnlock()

	return es.snapshots[id], nil
}

func (es *inmemoryStore) TransactionExists(ctx context.Context, id account.ID, txID uuid.UUID) (bool, error) {
	es.mutex.RLock()
	defer es.mutex.RUnlock()

	return transactionExists(es.transactions[id], txID), nil
}

// The mutex here simulates what a persistence engine of choice should do -
// ensure consistency. Events can only be written in sequence per aggregate,
// and either all events of an append get written or none.
func (es *inmemoryStore) Append(ctx context.Context, events []SequencedEvent, snapshots map[account.ID]SequencedEvent, txID uuid.UUID) error {
	es.mutex.Lock()
	defer es.mutex.Unlock()

	if err := es.validateConsistency(events, txID); err != nil {
		return err
	}

	for _, e := range events {
		es.events = append(es.events, e)
		es.transactions[e.AggregateID] = append(es.transactions[e.AggregateID], txID)
	}
	for id, snapshot := range snapshots {
		es.snapshots[id] = snapshot
	}
	return nil
}

// AllEvents replays every committed event from the start of the log.
// Events of a single aggregate are visited in their stream order.
func (es *inmemoryStore) AllEvents(ctx context.Context, handle func(SequencedEvent) error) error {
	es.mutex.RLock()
	events := make([]SequencedEvent, len(es.events))
	copy(events, es.events)
	es.mutex.RUnlock()

	for _, e := range events {
		if err := handle(e); err != nil {
			return err
		}
	}
	return nil
}

func (es *inmemoryStore) validateConsistency(events []SequencedEvent, txID uuid.UUID) error {
	aggregateVersions := map[account.ID]int{}

	for _, e := range events {
		currentVersion := aggregateVersions[e.AggregateID]
		if currentVersion == 0 {
			currentVersion = es.latestVersion(e.AggregateID)
		}
		if transactionExists(es.transactions[e.AggregateID], txID) {
			return account.ConcurrentModification
		}
		if e.Seq <= currentVersion {
			return account.ConcurrentModification
		}
		aggregateVersions[e.AggregateID] = e.Seq
	}
	return nil
}

func (es *inmemoryStore) latestVersion(id account.ID) int {
	latestVersion := 0
	for _, e := range es.events {
		if e.AggregateID == id {
			latestVersion = e.Seq
		}
	}
	return latestVersion
}

func transactionExists(transactions []uuid.UUID, txID uuid.UUID) bool {
	for _, tx := range transactions {
		if tx == txID {
			return true
		}
	}
	return false
}
