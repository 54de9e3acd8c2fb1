package serialization

import (
	"encoding/json"
	"fmt"

	"github.com/eventfold/bank-cqrs-go/account"
	"github.com/eventfold/bank-cqrs-go/eventstore"
)

type jsonEventSerializer struct {
}

func NewJSONEventSerializer() *jsonEventSerializer {
	return &jsonEventSerializer{}
}

// Stable payload type aliases. New event types get appended - existing
// aliases can never be renumbered once events are persisted.
const (
	Snapshot = iota + 1
	AccountCreated
	AmountDeposited
	AmountWithdrawn
	WithdrawalDenied
	AccountNotExisting
	AccountClosed
)

func eventTypeAlias(event account.Event) (int, error) {
	switch t := event.(type) {
	case account.Snapshot:
		return Snapshot, nil
	case account.AccountCreatedEvent:
		return AccountCreated, nil
	case account.AmountDepositedEvent:
		return AmountDeposited, nil
	case account.AmountWithdrawnEvent:
		return AmountWithdrawn, nil
	case account.WithdrawalDeniedEvent:
		return WithdrawalDenied, nil
	case account.AccountNotExistingEvent:
		return AccountNotExisting, nil
	case account.AccountClosedEvent:
		return AccountClosed, nil
	default:
		return 0, fmt.Errorf("don't know how to alias %T", t)
	}
}

func deserializeJSONEvent(payload []byte, typeAlias int) (account.Event, error) {
	switch typeAlias {
	case Snapshot:
		var event account.Snapshot
		err := json.Unmarshal(payload, &event)
		return event, err
	case AccountCreated:
		var event account.AccountCreatedEvent
		err := json.Unmarshal(payload, &event)
		return event, err
	case AmountDeposited:
		var event account.AmountDepositedEvent
		err := json.Unmarshal(payload, &event)
		return event, err
	case AmountWithdrawn:
		var event account.AmountWithdrawnEvent
		err := json.Unmarshal(payload, &event)
		return event, err
	case WithdrawalDenied:
		var event account.WithdrawalDeniedEvent
		err := json.Unmarshal(payload, &event)
		return event, err
	case AccountNotExisting:
		var event account.AccountNotExistingEvent
		err := json.Unmarshal(payload, &event)
		return event, err
	case AccountClosed:
		var event account.AccountClosedEvent
		err := json.Unmarshal(payload, &event)
		return event, err
	default:
		return nil, fmt.Errorf("don't know how to deserialize event with type alias %v", typeAlias)
	}
}

func (s jsonEventSerializer) SerializeEvent(e eventstore.SequencedEvent) (event eventstore.SerializedEvent, err error) {
	event.AggregateID = e.AggregateID
	event.Seq = e.Seq

	event.Payload, err = json.Marshal(e.Event)
	if err != nil {
		return
	}
	event.EventType, err = eventTypeAlias(e.Event)
	return
}

func (s jsonEventSerializer) DeserializeEvent(se eventstore.SerializedEvent) (event eventstore.SequencedEvent, err error) {
	event.AggregateID = se.AggregateID
	event.Seq = se.Seq
	event.Event, err = deserializeJSONEvent(se.Payload, se.EventType)
	return
}
