package bridge

import (
	"context"
	"io"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sirupsen/logrus"
	"github.com/streadway/amqp"

	"github.com/eventfold/bank-cqrs-go/eventbus"
	"github.com/eventfold/bank-cqrs-go/eventstore"
)

var (
	consumedEvents = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bridge_consumed_events_total",
		Help: "Number of foreign events republished onto the local bus",
	})
	droppedEvents = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bridge_dropped_events_total",
		Help: "Number of malformed distribution payloads skipped",
	})
)

// Consumer relays events from the distribution topic onto the local event
// bus. Deliveries are acknowledged only after successful local
// republication, so a crash mid-handling redelivers rather than skips.
// Malformed payloads are logged, counted and acknowledged - a poison
// message must not block the stream.
type Consumer struct {
	consume              Consume
	bus                  *eventbus.Bus
	serializer           eventstore.EventSerializer
	minReconnectInterval time.Duration
	maxReconnectInterval time.Duration
	log                  *logrus.Entry
	waitFn               func(time.Duration)
}

func NewConsumer(consume Consume, bus *eventbus.Bus, serializer eventstore.EventSerializer, log *logrus.Entry) *Consumer {
	return &Consumer{
		consume:              consume,
		bus:                  bus,
		serializer:           serializer,
		minReconnectInterval: time.Second,
		maxReconnectInterval: time.Minute,
		log:                  log,
		waitFn:               time.Sleep,
	}
}

// Listen consumes deliveries until ctx is cancelled, reconnecting with
// exponential backoff on transport failure. Shutdown is graceful: the
// in-flight delivery is finished before returning.
func (c *Consumer) Listen(ctx context.Context) error {
	reconnectInterval := c.minReconnectInterval
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		conn, deliveries, err := c.consume()
		if err != nil {
			c.log.WithError(err).WithField("reconnect_in", reconnectInterval.String()).
				Error("failed to start consuming distribution topic")

			c.waitFn(reconnectInterval)
			reconnectInterval *= 2
			if reconnectInterval > c.maxReconnectInterval {
				reconnectInterval = c.maxReconnectInterval
			}
			continue
		}
		reconnectInterval = c.minReconnectInterval

		c.consumeDeliveries(ctx, conn, deliveries)
	}
}

func (c *Consumer) consumeDeliveries(ctx context.Context, conn io.Closer, deliveries <-chan amqp.Delivery) {
	defer func() {
		if err := conn.Close(); err != nil {
			c.log.WithError(err).Error("failed to close amqp connection")
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-deliveries:
			if !ok {
				return
			}
			c.handleDelivery(msg)
		}
	}
}

func (c *Consumer) handleDelivery(msg amqp.Delivery) {
	origin, event, err := decodeEnvelope(msg.Body, c.serializer)
	if err != nil {
		droppedEvents.Inc()
		c.log.WithError(err).Error("dropping malformed distribution payload")
		c.ack(msg)
		return
	}

	// Our own events come back around the topic; republishing them
	// would relay them outward again, indefinitely.
	if origin != c.bus.Origin() {
		c.bus.PublishFrom(origin, event)
		consumedEvents.Inc()
	}
	c.ack(msg)
}

func (c *Consumer) ack(msg amqp.Delivery) {
	if err := msg.Ack(false); err != nil {
		c.log.WithError(err).Error("failed to acknowledge delivery")
	}
}
