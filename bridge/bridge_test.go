package bridge

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/streadway/amqp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eventfold/bank-cqrs-go/account"
	"github.com/eventfold/bank-cqrs-go/eventbus"
	"github.com/eventfold/bank-cqrs-go/eventstore"
	"github.com/eventfold/bank-cqrs-go/serialization"
)

var serializer = serialization.NewMsgpackEventSerializer()

func testLogger() *logrus.Entry {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logrus.NewEntry(logger)
}

func depositEvent(id account.ID, seq int) eventstore.SequencedEvent {
	return eventstore.SequencedEvent{
		AggregateID: id,
		Seq:         seq,
		Event:       account.AmountDepositedEvent{AccountID: id, Amount: 42},
	}
}

func TestEnvelopeRoundTrip(t *testing.T) {
	event := depositEvent("A1", 7)

	body, err := encodeEnvelope("node-1", event, serializer)
	require.NoError(t, err)

	origin, decoded, err := decodeEnvelope(body, serializer)
	require.NoError(t, err)
	assert.Equal(t, "node-1", origin)
	assert.Equal(t, event, decoded)
}

type recordingChannel struct {
	keys   []string
	bodies [][]byte
}

func (c *recordingChannel) Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	c.keys = append(c.keys, key)
	c.bodies = append(c.bodies, msg.Body)
	return nil
}

func TestPublisherRelaysLocalEventsKeyedByIdentifier(t *testing.T) {
	channel := &recordingChannel{}
	publisher := NewPublisher("amqp://localhost", "accounts", "node-1", serializer, testLogger())
	publisher.channel = channel

	publisher.Handle(eventbus.Message{Origin: "node-1", Event: depositEvent("A1", 1)})
	publisher.Handle(eventbus.Message{Origin: "node-1", Event: depositEvent("A2", 1)})

	assert.Equal(t, []string{"A1", "A2"}, channel.keys)
}

func TestPublisherNeverRelaysBridgedEvents(t *testing.T) {
	channel := &recordingChannel{}
	publisher := NewPublisher("amqp://localhost", "accounts", "node-1", serializer, testLogger())
	publisher.channel = channel

	publisher.Handle(eventbus.Message{Origin: "node-2", Event: depositEvent("A1", 1)})

	assert.Empty(t, channel.keys, "foreign events must not be relayed outward")
}

type fakeAcknowledger struct {
	acked int
}

func (a *fakeAcknowledger) Ack(tag uint64, multiple bool) error       { return nil }
func (a *fakeAcknowledger) Nack(tag uint64, multiple, req bool) error { return nil }
func (a *fakeAcknowledger) Reject(tag uint64, requeue bool) error     { return nil }

func delivery(t *testing.T, body []byte) amqp.Delivery {
	t.Helper()
	return amqp.Delivery{Acknowledger: &fakeAcknowledger{}, Body: body}
}

func TestConsumerRepublishesForeignEvents(t *testing.T) {
	bus := eventbus.New("node-1")
	var seen []eventbus.Message
	bus.Subscribe(eventbus.SubscriberFunc(func(msg eventbus.Message) {
		seen = append(seen, msg)
	}))
	consumer := NewConsumer(nil, bus, serializer, testLogger())

	body, err := encodeEnvelope("node-2", depositEvent("A1", 3), serializer)
	require.NoError(t, err)
	consumer.handleDelivery(delivery(t, body))

	require.Len(t, seen, 1)
	assert.Equal(t, "node-2", seen[0].Origin)
	assert.Equal(t, depositEvent("A1", 3), seen[0].Event)
}

func TestConsumerIgnoresOwnEchoedEvents(t *testing.T) {
	bus := eventbus.New("node-1")
	republished := 0
	bus.Subscribe(eventbus.SubscriberFunc(func(msg eventbus.Message) {
		republished++
	}))
	consumer := NewConsumer(nil, bus, serializer, testLogger())

	body, err := encodeEnvelope("node-1", depositEvent("A1", 3), serializer)
	require.NoError(t, err)
	consumer.handleDelivery(delivery(t, body))

	assert.Zero(t, republished, "own events echoed from the topic must not loop")
}

func TestConsumerSkipsPoisonPayloads(t *testing.T) {
	bus := eventbus.New("node-1")
	republished := 0
	bus.Subscribe(eventbus.SubscriberFunc(func(msg eventbus.Message) {
		republished++
	}))
	consumer := NewConsumer(nil, bus, serializer, testLogger())

	consumer.handleDelivery(delivery(t, []byte("not an envelope")))

	assert.Zero(t, republished)
}

func TestListenReconnectsWithBackoffUntilCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	consumer := NewConsumer(func() (io.Closer, <-chan amqp.Delivery, error) {
		return nil, nil, amqp.ErrClosed
	}, eventbus.New("node-1"), serializer, testLogger())

	var waits []time.Duration
	consumer.waitFn = func(d time.Duration) {
		waits = append(waits, d)
		if len(waits) == 3 {
			cancel()
		}
	}

	err := consumer.Listen(ctx)
	assert.Equal(t, context.Canceled, err)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}, waits)
}
