// Package broker consumes launch requests from a message queue, as an
// alternative trigger to the HTTP API.
package broker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/streadway/amqp"
)

// Launcher starts a pipeline run. Satisfied by the pipeline use case.
type Launcher interface {
	Launch(ctx context.Context, configID string) (string, error)
}

type launchMessage struct {
	ConfigID string `json:"config_id"`
}

type Consumer struct {
	queue      string
	pipeline   Launcher
	connection *amqp.Connection
	channel    *amqp.Channel
	log        *zerolog.Logger
}

// NewConsumer dials the broker and declares the durable launch queue.
func NewConsumer(url, queue string, pipeline Launcher, log *zerolog.Logger) (*Consumer, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	// One unacked launch at a time per consumer; runs are long.
	if err := ch.Qos(1, 0, false); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("set qos: %w", err)
	}

	if _, err := ch.QueueDeclare(
		queue, // queue name
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare queue: %w", err)
	}

	return &Consumer{
		queue:      queue,
		pipeline:   pipeline,
		connection: conn,
		channel:    ch,
		log:        log,
	}, nil
}

// Start consumes launch messages until ctx is canceled or the channel
// closes. Malformed messages are rejected without requeue; launch errors
// are logged and acked, because retrying a bad configuration forever would
// wedge the queue.
func (c *Consumer) Start(ctx context.Context) error {
	deliveries, err := c.channel.Consume(
		c.queue,
		"",    // consumer tag
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,   // args
	)
	if err != nil {
		return fmt.Errorf("consume: %w", err)
	}

	c.log.Info().Str("queue", c.queue).Msg("broker consumer started")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("broker channel closed")
			}
			c.handle(ctx, d)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, d amqp.Delivery) {
	var msg launchMessage
	if err := json.Unmarshal(d.Body, &msg); err != nil || msg.ConfigID == "" {
		c.log.Warn().Err(err).Str("body", string(d.Body)).Msg("malformed launch message")
		_ = d.Reject(false)
		return
	}

	taskID, err := c.pipeline.Launch(ctx, msg.ConfigID)
	if err != nil {
		c.log.Error().Err(err).Str("config_id", msg.ConfigID).Msg("broker launch failed")
		_ = d.Ack(false)
		return
	}
	c.log.Info().Str("config_id", msg.ConfigID).Str("task_id", taskID).Msg("pipeline launched from queue")
	_ = d.Ack(false)
}

// Ping reports whether the broker connection is still open. Used by the
// health endpoint when the consumer is enabled.
func (c *Consumer) Ping(_ context.Context) error {
	if c.connection == nil || c.connection.IsClosed() {
		return fmt.Errorf("broker connection closed")
	}
	return nil
}

func (c *Consumer) Close() {
	if c.channel != nil {
		c.channel.Close()
	}
	if c.connection != nil {
		c.connection.Close()
	}
}
