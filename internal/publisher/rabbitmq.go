package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"catalog_syncer/internal/domain"
)

type Config struct {
	URL        string
	Exchange   string
	RoutingKey string
	QueueName  string
	Prefetch   int
	// Rejected pages are parked in DeadLetterQueue through
	// DeadLetterExchange. Both default to the main names with a ".dead" suffix.
	DeadLetterExchange string
	DeadLetterQueue    string
}

func (c Config) deadLetter() (exchange, queue string) {
	exchange, queue = c.DeadLetterExchange, c.DeadLetterQueue
	if exchange == "" {
		exchange = c.Exchange + ".dead"
	}
	if queue == "" {
		queue = c.QueueName + ".dead"
	}
	return exchange, queue
}

// RabbitMQ publishes fetched pages to a durable queue with publisher
// confirms.
type RabbitMQ struct {
	conn       *amqp.Connection
	channel    *amqp.Channel
	mu         sync.Mutex
	exchange   string
	routingKey string
	logger     *slog.Logger
}

func NewRabbitMQ(cfg Config, logger *slog.Logger) (*RabbitMQ, error) {
	conn, ch, err := open(cfg)
	if err != nil {
		return nil, err
	}

	if err := ch.Confirm(false); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("enable confirms: %w", err)
	}

	logger.Info("connected to rabbitmq",
		"exchange", cfg.Exchange,
		"queue", cfg.QueueName,
		"routing_key", cfg.RoutingKey,
	)

	return &RabbitMQ{
		conn:       conn,
		channel:    ch,
		exchange:   cfg.Exchange,
		routingKey: cfg.RoutingKey,
		logger:     logger,
	}, nil
}

// open dials the broker and declares the topology shared by publisher and
// consumer: the work exchange and queue, plus the dead-letter exchange and
// queue the work queue rejects into.
func open(cfg Config) (*amqp.Connection, *amqp.Channel, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("open channel: %w", err)
	}

	fail := func(step string, err error) (*amqp.Connection, *amqp.Channel, error) {
		ch.Close()
		conn.Close()
		return nil, nil, fmt.Errorf("%s: %w", step, err)
	}

	dlx, dlq := cfg.deadLetter()
	if err := ch.ExchangeDeclare(dlx, "direct", true, false, false, false, nil); err != nil {
		return fail("declare dead-letter exchange", err)
	}
	if _, err := ch.QueueDeclare(dlq, true, false, false, false, nil); err != nil {
		return fail("declare dead-letter queue", err)
	}
	if err := ch.QueueBind(dlq, cfg.RoutingKey, dlx, false, nil); err != nil {
		return fail("bind dead-letter queue", err)
	}

	if err := ch.ExchangeDeclare(cfg.Exchange, "direct", true, false, false, false, nil); err != nil {
		return fail("declare exchange", err)
	}

	q, err := ch.QueueDeclare(cfg.QueueName, true, false, false, false, amqp.Table{
		"x-dead-letter-exchange":    dlx,
		"x-dead-letter-routing-key": cfg.RoutingKey,
	})
	if err != nil {
		return fail("declare queue", err)
	}

	if err := ch.QueueBind(q.Name, cfg.RoutingKey, cfg.Exchange, false, nil); err != nil {
		return fail("bind queue", err)
	}

	return conn, ch, nil
}

// Publish sends one page and waits for the broker to confirm it.
func (r *RabbitMQ) Publish(ctx context.Context, msg *domain.PageMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	r.mu.Lock()
	confirm, err := r.channel.PublishWithDeferredConfirmWithContext(
		ctx,
		r.exchange,
		r.routingKey,
		false,
		false,
		amqp.Publishing{
			MessageId:    msg.ID,
			DeliveryMode: amqp.Persistent,
			ContentType:  "application/json",
			Body:         body,
			Timestamp:    time.Now(),
		},
	)
	r.mu.Unlock()
	if err != nil {
		return fmt.Errorf("publish message: %w", err)
	}

	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("wait for confirm: %w", err)
	}
	if !acked {
		return fmt.Errorf("message %s was nacked by the broker", msg.ID)
	}

	r.logger.Debug("published page",
		"message_id", msg.ID,
		"page", msg.Page,
		"videos", len(msg.Videos),
	)

	return nil
}

func (r *RabbitMQ) Close() error {
	if r.channel != nil {
		r.channel.Close()
	}
	if r.conn != nil {
		return r.conn.Close()
	}
	return nil
}
