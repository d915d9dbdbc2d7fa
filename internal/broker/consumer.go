package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/KJZOFFERS/krizzy-ops-launch-sub000/internal/models"
	"github.com/KJZOFFERS/krizzy-ops-launch-sub000/internal/retry"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Handler processes one decoded sync message. A nil return acknowledges the
// delivery; the returned error's retry class decides requeue versus dead-letter.
type Handler interface {
	ProcessMessage(ctx context.Context, msg models.SyncJobMessage) error
}

// SyncConsumer manages the connection and message flow from the broker
type SyncConsumer struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	handler Handler
	logger  *slog.Logger
}

// NewSyncConsumer initializes the consumer that applies sync jobs to the remote base
func NewSyncConsumer(url string, handler Handler, logger *slog.Logger) (*SyncConsumer, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %v", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open a channel: %v", err)
	}

	// QoS: Prefetch 1 ensures we process messages one by one, maintaining strict order
	if err := ch.Qos(1, 0, false); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to set QoS: %v", err)
	}

	return &SyncConsumer{
		conn:    conn,
		channel: ch,
		handler: handler,
		logger:  logger,
	}, nil
}

// declareTopology sets up the full exchange/queue graph. Rejected messages
// route through the dead-letter exchange into the dead queue for feedback.
func (c *SyncConsumer) declareTopology() error {
	if err := c.channel.ExchangeDeclare(SyncExchange, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare topic exchange: %v", err)
	}

	if err := c.channel.ExchangeDeclare(DeadLetterExchange, "fanout", true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare dead-letter exchange: %v", err)
	}

	dead, err := c.channel.QueueDeclare(DeadLetterQueue, true, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to declare dead-letter queue: %v", err)
	}
	if err := c.channel.QueueBind(dead.Name, "", DeadLetterExchange, false, nil); err != nil {
		return fmt.Errorf("failed to bind dead-letter queue: %v", err)
	}

	args := amqp.Table{"x-dead-letter-exchange": DeadLetterExchange}
	q, err := c.channel.QueueDeclare(SyncQueue, true, false, false, false, args)
	if err != nil {
		return fmt.Errorf("failed to declare queue: %v", err)
	}
	if err := c.channel.QueueBind(q.Name, SyncBinding, SyncExchange, false, nil); err != nil {
		return fmt.Errorf("failed to bind queue: %v", err)
	}

	return nil
}

// Listen starts the consumption loop and handles the queue/exchange binding
func (c *SyncConsumer) Listen(ctx context.Context) error {
	if err := c.declareTopology(); err != nil {
		return err
	}

	msgs, err := c.channel.Consume(SyncQueue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to register consumer: %v", err)
	}

	c.logger.Info("Consumer is online and waiting for messages", "queue", SyncQueue, "binding", SyncBinding)

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-msgs:
			if !ok {
				return fmt.Errorf("message channel closed")
			}

			var msg models.SyncJobMessage
			if err := json.Unmarshal(d.Body, &msg); err != nil {
				c.logger.Error("Failed to unmarshal message", "error", err)
				d.Nack(false, false) // Drop malformed messages to the dead queue
				continue
			}

			// Core synchronization execution
			err := c.handler.ProcessMessage(ctx, msg)
			if err != nil {
				if retry.Classify(err) == retry.ClassFatal || retry.IsExhausted(err) {
					c.logger.Error("Processing failed permanently, dead-lettering",
						"correlation_id", msg.CorrelationID, "error", err)
					d.Nack(false, false)
					continue
				}
				c.logger.Error("Processing failed, requeueing", "correlation_id", msg.CorrelationID, "error", err)
				time.Sleep(5 * time.Second) // Throttling retries
				d.Nack(false, true)         // Requeue for another attempt
				continue
			}

			// Manual Ack: Only confirmed after the remote write landed
			if err := d.Ack(false); err != nil {
				c.logger.Error("Failed to Ack message", "correlation_id", msg.CorrelationID, "error", err)
			}
		}
	}
}

// Close gracefully terminates RabbitMQ resources
func (c *SyncConsumer) Close() {
	c.logger.Info("Shutting down RabbitMQ consumer")
	c.channel.Close()
	c.conn.Close()
}

// DeadLetterHandler receives jobs that exhausted their delivery budget.
type DeadLetterHandler interface {
	HandleDeadLetter(ctx context.Context, msg models.SyncJobMessage, reason string) error
}

// DeadLetterConsumer drains the dead queue so failed jobs get reflected back
// into the jobs table instead of rotting in the broker.
type DeadLetterConsumer struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	handler DeadLetterHandler
	logger  *slog.Logger
}

func NewDeadLetterConsumer(url string, handler DeadLetterHandler, logger *slog.Logger) (*DeadLetterConsumer, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %v", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open a channel: %v", err)
	}

	if err := ch.Qos(1, 0, false); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to set QoS: %v", err)
	}

	return &DeadLetterConsumer{
		conn:    conn,
		channel: ch,
		handler: handler,
		logger:  logger,
	}, nil
}

// Listen consumes the dead queue. Feedback is best effort: a handler error is
// logged and the delivery requeued once the throttle expires.
func (c *DeadLetterConsumer) Listen(ctx context.Context) error {
	if err := c.channel.ExchangeDeclare(DeadLetterExchange, "fanout", true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare dead-letter exchange: %v", err)
	}
	q, err := c.channel.QueueDeclare(DeadLetterQueue, true, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to declare dead-letter queue: %v", err)
	}
	if err := c.channel.QueueBind(q.Name, "", DeadLetterExchange, false, nil); err != nil {
		return fmt.Errorf("failed to bind dead-letter queue: %v", err)
	}

	msgs, err := c.channel.Consume(q.Name, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to register dead-letter consumer: %v", err)
	}

	c.logger.Info("Dead-letter consumer is online", "queue", q.Name)

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-msgs:
			if !ok {
				return fmt.Errorf("dead-letter channel closed")
			}

			var msg models.SyncJobMessage
			if err := json.Unmarshal(d.Body, &msg); err != nil {
				c.logger.Error("Failed to unmarshal dead letter, discarding", "error", err)
				d.Ack(false)
				continue
			}

			if err := c.handler.HandleDeadLetter(ctx, msg, deathReason(d)); err != nil {
				c.logger.Error("Dead-letter feedback failed, requeueing",
					"correlation_id", msg.CorrelationID, "error", err)
				time.Sleep(5 * time.Second)
				d.Nack(false, true)
				continue
			}

			if err := d.Ack(false); err != nil {
				c.logger.Error("Failed to Ack dead letter", "correlation_id", msg.CorrelationID, "error", err)
			}
		}
	}
}

func (c *DeadLetterConsumer) Close() {
	c.logger.Info("Shutting down dead-letter consumer")
	c.channel.Close()
	c.conn.Close()
}

func deathReason(d amqp.Delivery) string {
	if reason, ok := d.Headers["x-first-death-reason"].(string); ok && reason != "" {
		return reason
	}
	return "dead_lettered"
}
