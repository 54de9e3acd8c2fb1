package serialization

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v4"

	"github.com/eventfold/bank-cqrs-go/account"
	"github.com/eventfold/bank-cqrs-go/eventstore"
)

type msgpackEventSerializer struct {
}

func NewMsgpackEventSerializer() *msgpackEventSerializer {
	return &msgpackEventSerializer{}
}

func (s msgpackEventSerializer) SerializeEvent(e eventstore.SequencedEvent) (event eventstore.SerializedEvent, err error) {
	event.AggregateID = e.AggregateID
	event.Seq = e.Seq

	event.Payload, err = msgpack.Marshal(e.Event)
	if err != nil {
		return
	}
	event.EventType, err = eventTypeAlias(e.Event)
	return
}

func (s msgpackEventSerializer) DeserializeEvent(se eventstore.SerializedEvent) (event eventstore.SequencedEvent, err error) {
	event.AggregateID = se.AggregateID
	event.Seq = se.Seq
	event.Event, err = deserializeMsgpackEvent(se.Payload, se.EventType)
	return
}

func deserializeMsgpackEvent(payload []byte, typeAlias int) (event account.Event, err error) {
	switch typeAlias {
	case Snapshot:
		var e account.Snapshot
		err = msgpack.Unmarshal(payload, &e)
		event = e
	case AccountCreated:
		var e account.AccountCreatedEvent
		err = msgpack.Unmarshal(payload, &e)
		event = e
	case AmountDeposited:
		var e account.AmountDepositedEvent
		err = msgpack.Unmarshal(payload, &e)
		event = e
	case AmountWithdrawn:
		var e account.AmountWithdrawnEvent
		err = msgpack.Unmarshal(payload, &e)
		event = e
	case WithdrawalDenied:
		var e account.WithdrawalDeniedEvent
		err = msgpack.Unmarshal(payload, &e)
		event = e
	case AccountNotExisting:
		var e account.AccountNotExistingEvent
		err = msgpack.Unmarshal(payload, &e)
		event = e
	case AccountClosed:
		var e account.AccountClosedEvent
		err = msgpack.Unmarshal(payload, &e)
		event = e
	default:
		err = fmt.Errorf("don't know how to deserialize event with type alias %v", typeAlias)
	}
	return
}
