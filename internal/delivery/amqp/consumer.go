package amqp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	amqplib "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/Harsh-BH/gauntlet/internal/publisher"
	"github.com/Harsh-BH/gauntlet/internal/queue"
)

const (
	// Reconnection parameters
	maxReconnectDelay  = 30 * time.Second
	baseReconnectDelay = 1 * time.Second
)

// ErrMalformedWakeup is returned for bodies that carry no usable job id.
var ErrMalformedWakeup = errors.New("malformed wake-up message")

// Consumer listens to RabbitMQ wake-ups and forwards the job ids to the local
// worker pool. Jobs themselves are always claimed from the store.
type Consumer struct {
	url     string
	conn    *amqplib.Connection
	channel *amqplib.Channel
	logger  *zap.Logger
	target  queue.Notifier

	mu      sync.Mutex
	closed  bool
	closeCh chan struct{}
}

// NewConsumer creates a new RabbitMQ consumer forwarding to target.
func NewConsumer(url string, target queue.Notifier, logger *zap.Logger) (*Consumer, error) {
	c := &Consumer{
		url:     url,
		logger:  logger,
		target:  target,
		closeCh: make(chan struct{}),
	}

	if err := c.connect(); err != nil {
		return nil, err
	}

	return c, nil
}

func (c *Consumer) connect() error {
	conn, err := amqplib.Dial(c.url)
	if err != nil {
		return fmt.Errorf("amqp dial: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("amqp channel: %w", err)
	}

	if err := ch.Qos(16, 0, false); err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("amqp qos: %w", err)
	}

	if err := publisher.Declare(ch); err != nil {
		ch.Close()
		conn.Close()
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.channel = ch
	c.mu.Unlock()

	return nil
}

// Start begins consuming messages. It blocks until the context is cancelled.
// On connection loss it automatically reconnects with exponential backoff.
func (c *Consumer) Start(ctx context.Context) error {
	for {
		err := c.consume(ctx)
		if err == nil {
			return nil
		}

		select {
		case <-c.closeCh:
			return nil
		case <-ctx.Done():
			return nil
		default:
		}

		c.logger.Warn("AMQP consumer lost connection, reconnecting...", zap.Error(err))

		for attempt := 0; ; attempt++ {
			delay := time.Duration(math.Min(
				float64(baseReconnectDelay)*math.Pow(2, float64(attempt)),
				float64(maxReconnectDelay),
			))
			c.logger.Info("Reconnect attempt",
				zap.Int("attempt", attempt+1),
				zap.Duration("delay", delay),
			)

			select {
			case <-c.closeCh:
				return nil
			case <-ctx.Done():
				return nil
			case <-time.After(delay):
			}

			if err := c.connect(); err != nil {
				c.logger.Error("Reconnect failed", zap.Error(err))
				continue
			}

			c.logger.Info("Reconnected to RabbitMQ")
			break
		}
	}
}

func (c *Consumer) consume(ctx context.Context) error {
	c.mu.Lock()
	ch := c.channel
	c.mu.Unlock()

	if ch == nil {
		return fmt.Errorf("channel is nil")
	}

	deliveries, err := ch.Consume(
		publisher.QueueName,
		"",    // auto-generated consumer tag
		false, // auto-ack disabled (manual ack)
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("amqp consume: %w", err)
	}

	c.logger.Info("AMQP consumer started", zap.String("queue", publisher.QueueName))

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("AMQP consumer stopping (context cancelled)")
			return nil
		case delivery, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("delivery channel closed")
			}
			c.handle(ctx, delivery)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, delivery amqplib.Delivery) {
	ids, err := DecodeWakeup(delivery.Body)
	if err != nil {
		c.logger.Error("Rejecting wake-up",
			zap.Error(err),
			zap.String("body", string(delivery.Body)),
		)
		_ = delivery.Nack(false, false) // reject → DLQ
		return
	}

	if err := c.target.Notify(ctx, ids...); err != nil {
		c.logger.Warn("Failed to forward wake-up", zap.Error(err))
		_ = delivery.Nack(false, true)
		return
	}
	c.logger.Debug("Received wake-up", zap.String("job_id", ids[0].String()), zap.Int("count", len(ids)))
	_ = delivery.Ack(false)
}

// DecodeWakeup accepts a single record {"jobId": ...}, a batch {"jobIds": [...]}
// or a bare array of ids or records.
func DecodeWakeup(body []byte) ([]uuid.UUID, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, fmt.Errorf("%w: empty body", ErrMalformedWakeup)
	}

	var ids []uuid.UUID
	if body[0] == '[' {
		var items []json.RawMessage
		if err := json.Unmarshal(body, &items); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedWakeup, err)
		}
		for _, item := range items {
			var id uuid.UUID
			if err := json.Unmarshal(item, &id); err == nil {
				ids = append(ids, id)
				continue
			}
			more, err := decodeRecord(item)
			if err != nil {
				return nil, err
			}
			ids = append(ids, more...)
		}
	} else {
		var err error
		if ids, err = decodeRecord(body); err != nil {
			return nil, err
		}
	}

	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: no job ids", ErrMalformedWakeup)
	}
	return ids, nil
}

func decodeRecord(raw []byte) ([]uuid.UUID, error) {
	var msg publisher.WakeMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedWakeup, err)
	}
	ids := msg.JobIDs
	if msg.JobID != nil {
		ids = append([]uuid.UUID{*msg.JobID}, ids...)
	}
	return ids, nil
}

// Close gracefully shuts down the consumer.
func (c *Consumer) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	close(c.closeCh)

	var firstErr error
	if c.channel != nil {
		if err := c.channel.Close(); err != nil {
			firstErr = err
		}
	}
	if c.conn != nil {
		if err := c.conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
