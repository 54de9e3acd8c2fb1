package serialization_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/eventfold/bank-cqrs-go/account"
	"github.com/eventfold/bank-cqrs-go/eventstore"
	"github.com/eventfold/bank-cqrs-go/serialization"
)

var serializers = map[string]eventstore.EventSerializer{
	"msgpack": serialization.NewMsgpackEventSerializer(),
	"json":    serialization.NewJSONEventSerializer(),
}

func TestRoundTripsEveryEventType(t *testing.T) {
	events := []account.Event{
		account.AccountCreatedEvent{AccountID: "A1", CustomerName: "kermit the frog"},
		account.AmountDepositedEvent{AccountID: "A1", Amount: 42},
		account.AmountWithdrawnEvent{AccountID: "A1", Amount: 11},
		account.WithdrawalDeniedEvent{AccountID: "A1", Amount: 150, Balance: 100},
		account.AccountNotExistingEvent{AccountID: "A1"},
		account.AccountClosedEvent{AccountID: "A1"},
		account.Snapshot{AccountID: "A1", CustomerName: "kermit the frog", Balance: 31, Status: account.Active},
	}

	for name, serializer := range serializers {
		t.Run(name, func(t *testing.T) {
			for seq, e := range events {
				event := eventstore.SequencedEvent{AggregateID: "A1", Seq: seq + 1, Event: e}

				serialized, err := serializer.SerializeEvent(event)
				assert.NoError(t, err)

				deserialized, err := serializer.DeserializeEvent(serialized)
				assert.NoError(t, err)
				assert.Equal(t, event, deserialized)
			}
		})
	}
}

func TestUnknownTypeAliasIsRejected(t *testing.T) {
	for name, serializer := range serializers {
		t.Run(name, func(t *testing.T) {
			_, err := serializer.DeserializeEvent(eventstore.SerializedEvent{EventType: 255, Payload: []byte{}})
			assert.Error(t, err)
		})
	}
}
