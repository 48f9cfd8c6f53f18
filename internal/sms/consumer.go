package sms

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"aquasync/internal/logger"
	"aquasync/internal/models"

	amqp "github.com/rabbitmq/amqp091-go"
)

// InboundMessage is a text received by the gateway for one account.
type InboundMessage struct {
	AccountID string `json:"account_id"`
	From      string `json:"from"`
	Body      string `json:"body"`
}

// CommandSubmitter turns an administrator's text into a pump command.
type CommandSubmitter interface {
	SubmitSMSCommand(ctx context.Context, accountID, from, body string) (models.Command, error)
}

// ConsumerConfig holds consumer configuration
type ConsumerConfig struct {
	Connection    *Connection
	Exchange      string
	Queue         string
	RoutingKey    string
	PrefetchCount int
	Commands      CommandSubmitter
	// Retryable reports infrastructure failures; those messages are dead-lettered instead of dropped.
	Retryable func(error) bool
	Log       *logger.Logger
}

// Consumer reads inbound texts and submits them as commands.
type Consumer struct {
	channel   *amqp.Channel
	queue     string
	commands  CommandSubmitter
	retryable func(error) bool
	log       *logger.Logger
}

// NewConsumer declares the exchange, the queue with its dead-letter queue, and the binding.
func NewConsumer(cfg ConsumerConfig) (*Consumer, error) {
	ch, err := cfg.Connection.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to create channel: %w", err)
	}
	if cfg.PrefetchCount <= 0 {
		cfg.PrefetchCount = 10
	}
	if err := ch.Qos(cfg.PrefetchCount, 0, false); err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to set QoS: %w", err)
	}
	if err := declareExchange(ch, cfg.Exchange); err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	dlq := cfg.Queue + ".dlq"
	if _, err := ch.QueueDeclare(dlq, true, false, false, false, nil); err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to declare DLQ: %w", err)
	}
	args := amqp.Table{
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": dlq,
	}
	if _, err := ch.QueueDeclare(cfg.Queue, true, false, false, false, args); err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to declare queue: %w", err)
	}
	if err := ch.QueueBind(cfg.Queue, cfg.RoutingKey, cfg.Exchange, false, nil); err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to bind queue: %w", err)
	}

	return newConsumer(ch, cfg), nil
}

func newConsumer(ch *amqp.Channel, cfg ConsumerConfig) *Consumer {
	retryable := cfg.Retryable
	if retryable == nil {
		retryable = func(error) bool { return false }
	}
	return &Consumer{
		channel:   ch,
		queue:     cfg.Queue,
		commands:  cfg.Commands,
		retryable: retryable,
		log:       cfg.Log,
	}
}

// Start consumes until ctx is canceled or the channel closes.
func (c *Consumer) Start(ctx context.Context) error {
	msgs, err := c.channel.Consume(
		c.queue,
		"",    // consumer tag
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,   // args
	)
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}
	c.log.Infow("sms_consumer_started", "queue", c.queue)

	go func() {
		for {
			select {
			case <-ctx.Done():
				c.log.Infow("sms_consumer_stopped")
				return
			case msg, ok := <-msgs:
				if !ok {
					c.log.Warnw("sms_consumer_channel_closed")
					return
				}
				c.processMessage(ctx, msg)
			}
		}
	}()
	return nil
}

// processMessage acks everything but infrastructure failures, which go to the DLQ.
func (c *Consumer) processMessage(ctx context.Context, msg amqp.Delivery) {
	err := c.handle(ctx, msg.Body)
	switch {
	case err == nil:
		if ackErr := msg.Ack(false); ackErr != nil {
			c.log.Errorw("sms_ack_failed", "err", ackErr)
		}
	case c.retryable(err):
		c.log.Errorw("sms_command_failed", "routing_key", msg.RoutingKey, "err", err)
		if nackErr := msg.Nack(false, false); nackErr != nil {
			c.log.Errorw("sms_nack_failed", "err", nackErr)
		}
	default:
		c.log.Warnw("sms_command_rejected", "routing_key", msg.RoutingKey, "err", err)
		if ackErr := msg.Ack(false); ackErr != nil {
			c.log.Errorw("sms_ack_failed", "err", ackErr)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, body []byte) error {
	var in InboundMessage
	if err := json.Unmarshal(body, &in); err != nil {
		return fmt.Errorf("decode inbound sms: %w", err)
	}
	in.AccountID = strings.TrimSpace(in.AccountID)
	if in.AccountID == "" || in.From == "" {
		return fmt.Errorf("inbound sms misses account_id or from")
	}
	cmd, err := c.commands.SubmitSMSCommand(ctx, in.AccountID, in.From, in.Body)
	if err != nil {
		return err
	}
	c.log.Infow("sms_command_accepted", "account_id", in.AccountID, "action", cmd.Action)
	return nil
}

func (c *Consumer) Close() error {
	if c.channel != nil {
		return c.channel.Close()
	}
	return nil
}
