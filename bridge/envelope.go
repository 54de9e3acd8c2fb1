package bridge

import (
	"github.com/vmihailenco/msgpack/v5"

	"github.com/eventfold/bank-cqrs-go/account"
	"github.com/eventfold/bank-cqrs-go/eventstore"
)

// Envelope is the wire form of a distributed event: the serialized domain
// payload plus its type tag, stream position and the node that produced it.
type Envelope struct {
	Origin      string `msgpack:"origin"`
	AggregateID string `msgpack:"aggregateId"`
	Seq         int    `msgpack:"seq"`
	EventType   int    `msgpack:"eventType"`
	Payload     []byte `msgpack:"payload"`
}

func encodeEnvelope(origin string, e eventstore.SequencedEvent, serializer eventstore.EventSerializer) ([]byte, error) {
	serialized, err := serializer.SerializeEvent(e)
	if err != nil {
		return nil, err
	}
	return msgpack.Marshal(Envelope{
		Origin:      origin,
		AggregateID: string(e.AggregateID),
		Seq:         serialized.Seq,
		EventType:   serialized.EventType,
		Payload:     serialized.Payload,
	})
}

func decodeEnvelope(body []byte, serializer eventstore.EventSerializer) (string, eventstore.SequencedEvent, error) {
	var envelope Envelope
	if err := msgpack.Unmarshal(body, &envelope); err != nil {
		return "", eventstore.SequencedEvent{}, err
	}
	event, err := serializer.DeserializeEvent(eventstore.SerializedEvent{
		AggregateID: account.ID(envelope.AggregateID),
		Seq:         envelope.Seq,
		EventType:   envelope.EventType,
		Payload:     envelope.Payload,
	})
	if err != nil {
		return "", eventstore.SequencedEvent{}, err
	}
	return envelope.Origin, event, nil
}
