// Package bridge relays committed events between the local event bus and an
// external AMQP topic so independent nodes can observe the same account
// history. Outbound it publishes locally committed events keyed by account
// identifier; inbound it republishes foreign events onto the local bus.
package bridge

import (
	"io"

	"github.com/streadway/amqp"
)

// NotificationChannel is the slice of amqp.Channel the publisher needs.
type NotificationChannel interface {
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// Consume opens a delivery stream and returns a closer for its connection.
type Consume func() (io.Closer, <-chan amqp.Delivery, error)

// setup dials the broker and declares the topic exchange. Routing by
// account identifier keeps per-identifier order on the wire.
func setup(url, exchange string) (*amqp.Connection, *amqp.Channel, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, nil, err
	}

	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, nil, err
	}

	return conn, ch, nil
}

// NewConsume returns a Consume that binds a durable per-node queue to the
// exchange. The broker tracks the queue's delivered-but-unacked offset, so
// a restarted node resumes where it left off; a fresh node starts from the
// beginning of its (empty) queue.
func NewConsume(url, exchange, queue string) Consume {
	return func() (io.Closer, <-chan amqp.Delivery, error) {
		conn, ch, err := setup(url, exchange)
		if err != nil {
			return nil, nil, err
		}

		if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
			conn.Close()
			return nil, nil, err
		}
		if err := ch.QueueBind(queue, "#", exchange, false, nil); err != nil {
			conn.Close()
			return nil, nil, err
		}
		// One unacked delivery at a time keeps redelivery windows small.
		if err := ch.Qos(1, 0, false); err != nil {
			conn.Close()
			return nil, nil, err
		}

		deliveries, err := ch.Consume(queue, "", false, false, false, false, nil)
		if err != nil {
			conn.Close()
			return nil, nil, err
		}
		return conn, deliveries, nil
	}
}
