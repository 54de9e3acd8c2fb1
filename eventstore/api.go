package eventstore

import (
	"github.com/google/uuid"

	"github.com/eventfold/bank-cqrs-go/account"
)

// SequencedEvent is a domain event tagged with its aggregate stream key and
// its position within that stream. Positions start at 1 and are assigned on
// append; events are never mutated or deleted afterwards.
type SequencedEvent struct {
	AggregateID account.ID
	Seq         int
	Event       account.Event
}

// SerializedEvent is the persisted form of a SequencedEvent - an opaque
// payload plus a type alias the serializer understands.
type SerializedEvent struct {
	AggregateID account.ID
	Seq         int
	Payload     []byte
	EventType   int
	TxID        uuid.UUID
}
