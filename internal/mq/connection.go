package mq

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Connection wraps the RabbitMQ connection carrying the alert stream.
type Connection struct {
	conn   *amqp.Connection
	logger *zap.Logger
}

// NewConnection dials RabbitMQ and ties the connection to the fx
// lifecycle. An unreachable broker is fatal at startup: the worker must
// not consume readings it cannot alert on.
func NewConnection(lc fx.Lifecycle, logger *zap.Logger, url string) (*Connection, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("[RABBITMQ CONNECTION FAILED] cannot connect to RabbitMQ, check that it is running and RABBITMQ_URL is correct: %w", err)
	}

	mqConn := &Connection{conn: conn, logger: logger}

	// Surface broker-side closes; publish attempts will fail and
	// either retry or dead-letter, but operators should see why.
	closed := conn.NotifyClose(make(chan *amqp.Error, 1))
	go func() {
		if amqpErr := <-closed; amqpErr != nil {
			logger.Error("rabbitmq connection lost", zap.Error(amqpErr))
		}
	}()

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			logger.Info("rabbitmq connection established")
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if conn.IsClosed() {
				return nil
			}
			if err := conn.Close(); err != nil {
				logger.Error("failed to close rabbitmq connection", zap.Error(err))
				return err
			}
			logger.Info("rabbitmq connection closed")
			return nil
		},
	})

	return mqConn, nil
}

// Channel creates a new RabbitMQ channel
func (c *Connection) Channel() (*amqp.Channel, error) {
	return c.conn.Channel()
}
