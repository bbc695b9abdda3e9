package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"

	"catalog_syncer/internal/domain"
)

const consumerTag = "catalog-consumer"

// Handler applies one page. A nil return acknowledges the message.
type Handler func(ctx context.Context, msg *domain.PageMessage) error

type Consumer struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	queue   string
	logger  *slog.Logger
}

func NewConsumer(cfg Config, logger *slog.Logger) (*Consumer, error) {
	conn, ch, err := open(cfg)
	if err != nil {
		return nil, err
	}

	if cfg.Prefetch > 0 {
		if err := ch.Qos(cfg.Prefetch, 0, false); err != nil {
			ch.Close()
			conn.Close()
			return nil, fmt.Errorf("set qos: %w", err)
		}
	}

	return &Consumer{
		conn:    conn,
		channel: ch,
		queue:   cfg.QueueName,
		logger:  logger.With("queue", cfg.QueueName),
	}, nil
}

// Run consumes until ctx is done or the broker closes the channel. Messages
// are acknowledged only after handler returned. A failed message is requeued
// once and then moved to the dead-letter queue.
func (c *Consumer) Run(ctx context.Context, handler Handler) error {
	deliveries, err := c.channel.Consume(c.queue, consumerTag, false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume: %w", err)
	}

	c.logger.Info("consumer started")

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("consumer stopped")
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return errors.New("delivery channel closed")
			}
			c.handle(ctx, d, handler)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, d amqp.Delivery, handler Handler) {
	var msg domain.PageMessage
	if err := json.Unmarshal(d.Body, &msg); err != nil {
		c.logger.Error("dead-lettering malformed message", "message_id", d.MessageId, "error", err)
		_ = d.Nack(false, false)
		return
	}

	if err := handler(ctx, &msg); err != nil {
		// Shutdown is not the page's fault, it goes back as is.
		requeue := !d.Redelivered || ctx.Err() != nil
		c.logger.Error("failed to apply message",
			"message_id", msg.ID,
			"requeue", requeue,
			"dead_letter", !requeue,
			"error", err,
		)
		_ = d.Nack(false, requeue)
		return
	}

	if err := d.Ack(false); err != nil {
		c.logger.Error("failed to ack message", "message_id", msg.ID, "error", err)
	}
}

func (c *Consumer) Close() error {
	if c.channel != nil {
		c.channel.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
