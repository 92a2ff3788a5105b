package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/voltmon/energy-usage-worker/internal/model"
	"go.uber.org/zap"
)

// Publisher publishes alerting events to the alert exchange.
type Publisher struct {
	conn        *Connection
	channel     *amqp.Channel
	exchange    string
	routingKey  string
	maxAttempts int
	backoff     time.Duration
	logger      *zap.Logger
}

// PublisherConfig holds publisher configuration
type PublisherConfig struct {
	Connection  *Connection
	Exchange    string
	RoutingKey  string
	MaxAttempts int
	Backoff     time.Duration
	Logger      *zap.Logger
}

// NewPublisher creates a new alert publisher
func NewPublisher(cfg PublisherConfig) (*Publisher, error) {
	ch, err := cfg.Connection.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to create channel: %w", err)
	}

	// Declare exchange
	err = ch.ExchangeDeclare(
		cfg.Exchange,
		"topic",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	return &Publisher{
		conn:        cfg.Connection,
		channel:     ch,
		exchange:    cfg.Exchange,
		routingKey:  cfg.RoutingKey,
		maxAttempts: cfg.MaxAttempts,
		backoff:     cfg.Backoff,
		logger:      cfg.Logger,
	}, nil
}

// PublishAlert publishes one alerting event as a persistent JSON
// message. The dedup key travels as the message id so downstream
// consumers can discard redeliveries of the same transition. Transient
// failures are retried with exponential backoff; once attempts are
// exhausted the error is returned for the caller to dead-letter.
func (p *Publisher) PublishAlert(ctx context.Context, event model.AlertingEvent, dedupKey string) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal alerting event: %w", err)
	}

	var lastErr error
	delay := p.backoff
	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		lastErr = p.channel.PublishWithContext(
			ctx,
			p.exchange,
			p.routingKey,
			false, // mandatory
			false, // immediate
			amqp.Publishing{
				ContentType:  "application/json",
				Body:         body,
				DeliveryMode: amqp.Persistent,
				MessageId:    dedupKey,
			},
		)
		if lastErr == nil {
			p.logger.Debug("published alerting event",
				zap.Int64("user_id", event.UserID),
				zap.String("dedup_key", dedupKey),
			)
			return nil
		}

		p.logger.Warn("alert publish failed",
			zap.Error(lastErr),
			zap.Int64("user_id", event.UserID),
			zap.Int("attempt", attempt),
		)

		if attempt == p.maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}

	return fmt.Errorf("alert publish exhausted %d attempts: %w", p.maxAttempts, lastErr)
}

// Close closes the publisher channel
func (p *Publisher) Close() error {
	if p.channel != nil {
		return p.channel.Close()
	}
	return nil
}
