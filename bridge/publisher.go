package bridge

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sirupsen/logrus"
	"github.com/streadway/amqp"

	"github.com/eventfold/bank-cqrs-go/eventbus"
	"github.com/eventfold/bank-cqrs-go/eventstore"
)

var (
	publishedEvents = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bridge_published_events_total",
		Help: "Number of events relayed to the distribution topic",
	})
	publishFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bridge_publish_failures_total",
		Help: "Number of events that could not be relayed outward",
	})
)

// Publisher subscribes to the event bus and relays every locally committed
// event to the distribution exchange, routed by account identifier. Events
// that arrived over the bridge keep their foreign origin and are never
// relayed again - that is the loop guard.
type Publisher struct {
	url        string
	exchange   string
	origin     string
	serializer eventstore.EventSerializer
	log        *logrus.Entry

	mutex      sync.Mutex
	connection *amqp.Connection
	channel    NotificationChannel
}

func NewPublisher(url, exchange, origin string, serializer eventstore.EventSerializer, log *logrus.Entry) *Publisher {
	return &Publisher{
		url:        url,
		exchange:   exchange,
		origin:     origin,
		serializer: serializer,
		log:        log,
	}
}

// Handle implements eventbus.Subscriber.
func (p *Publisher) Handle(msg eventbus.Message) {
	if msg.Origin != p.origin {
		return
	}

	body, err := encodeEnvelope(msg.Origin, msg.Event, p.serializer)
	if err != nil {
		publishFailures.Inc()
		p.log.WithError(err).WithField("account", msg.Event.AggregateID).Error("failed to encode event for distribution")
		return
	}

	if err := p.publish(string(msg.Event.AggregateID), body); err != nil {
		publishFailures.Inc()
		p.log.WithError(err).WithField("account", msg.Event.AggregateID).Error("failed to relay event outward")
		return
	}
	publishedEvents.Inc()
}

func (p *Publisher) publish(routingKey string, body []byte) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	for {
		if p.channel == nil {
			conn, ch, err := setup(p.url, p.exchange)
			if err != nil {
				return err
			}
			p.connection, p.channel = conn, ch
		}

		err := p.channel.Publish(p.exchange, routingKey, false, false, amqp.Publishing{
			ContentType:  "application/msgpack",
			DeliveryMode: amqp.Persistent,
			Body:         body,
		})
		if err == amqp.ErrClosed || err == amqp.ErrFrame || err == amqp.ErrUnexpectedFrame {
			p.closeLocked()
			continue
		}
		return err
	}
}

// Close releases the broker connection.
func (p *Publisher) Close() {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.closeLocked()
}

func (p *Publisher) closeLocked() {
	if p.connection != nil {
		if err := p.connection.Close(); err != nil {
			p.log.WithError(err).Error("failed to close amqp connection")
		}
	}
	p.connection = nil
	p.channel = nil
}
