// Package sms bridges alert dispatch and inbound text commands to an SMS gateway over AMQP.
package sms

import (
	"fmt"

	"aquasync/internal/logger"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Connection wraps the broker connection shared by the publisher and the consumer.
type Connection struct {
	conn *amqp.Connection
	log  *logger.Logger
}

// Dial connects to the broker at url.
func Dial(url string, log *logger.Logger) (*Connection, error) {
	log.Infow("sms_broker_connecting")
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connect to sms broker: %w", err)
	}
	log.Infow("sms_broker_connected")
	return &Connection{conn: conn, log: log}, nil
}

// Channel opens a new channel on the connection.
func (c *Connection) Channel() (*amqp.Channel, error) {
	return c.conn.Channel()
}

func (c *Connection) Close() error {
	if err := c.conn.Close(); err != nil {
		return fmt.Errorf("close sms broker connection: %w", err)
	}
	c.log.Infow("sms_broker_closed")
	return nil
}

func declareExchange(ch *amqp.Channel, exchange string) error {
	return ch.ExchangeDeclare(
		exchange,
		"topic",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,   // arguments
	)
}
