package sms

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"aquasync/internal/logger"

	amqp "github.com/rabbitmq/amqp091-go"
)

var ErrNoContact = errors.New("sms: empty contact")

// OutboundMessage is what the gateway receives for every text to send.
type OutboundMessage struct {
	To     string    `json:"to"`
	Body   string    `json:"body"`
	SentAt time.Time `json:"sent_at"`
}

type publishChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Publisher hands outbound texts to the gateway through a topic exchange.
type Publisher struct {
	channel    publishChannel
	exchange   string
	routingKey string
	log        *logger.Logger
	now        func() time.Time
}

// NewPublisher opens a channel and declares the exchange.
func NewPublisher(conn *Connection, exchange, routingKey string, log *logger.Logger) (*Publisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to create channel: %w", err)
	}
	if err := declareExchange(ch, exchange); err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}
	return newPublisher(ch, exchange, routingKey, log), nil
}

func newPublisher(ch publishChannel, exchange, routingKey string, log *logger.Logger) *Publisher {
	return &Publisher{
		channel:    ch,
		exchange:   exchange,
		routingKey: routingKey,
		log:        log,
		now:        time.Now,
	}
}

// Send publishes one persistent text message. A nil error means the broker accepted it.
func (p *Publisher) Send(ctx context.Context, contact, message string) error {
	if contact == "" {
		return ErrNoContact
	}
	body, err := json.Marshal(OutboundMessage{To: contact, Body: message, SentAt: p.now().UTC()})
	if err != nil {
		return fmt.Errorf("failed to marshal sms: %w", err)
	}
	err = p.channel.PublishWithContext(
		ctx,
		p.exchange,
		p.routingKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish sms: %w", err)
	}
	p.log.Debugw("sms_published", "routing_key", p.routingKey, "to", contact)
	return nil
}

func (p *Publisher) Close() error {
	if p.channel != nil {
		return p.channel.Close()
	}
	return nil
}

// LogNotifier only logs texts. It stands in when no gateway is configured.
type LogNotifier struct {
	log *logger.Logger
}

func NewLogNotifier(log *logger.Logger) *LogNotifier {
	return &LogNotifier{log: log}
}

func (n *LogNotifier) Send(_ context.Context, contact, message string) error {
	if contact == "" {
		return ErrNoContact
	}
	n.log.Infow("sms_not_sent_no_gateway", "to", contact, "body", message)
	return nil
}
