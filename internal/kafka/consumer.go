package kafka

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Shopify/sarama"
	"github.com/voltmon/energy-usage-worker/internal/config"
	"go.uber.org/zap"
)

// ErrSkipMessage marks a poison message: the processor could not and
// will never be able to handle it, so the offset is advanced and the
// message is left behind. Redeliverable failures must not wrap it.
var ErrSkipMessage = errors.New("skip message")

// Processor handles one raw message from the usage topic.
type Processor func(ctx context.Context, body []byte, receivedAt time.Time) error

// Consumer consumes the usage topic through a sarama consumer group.
// Offsets are marked only after the processor reports the message's
// durable side effects complete; a retryable failure tears down the
// session so the message is redelivered.
type Consumer struct {
	id        string
	group     sarama.ConsumerGroup
	topic     string
	processor Processor
	logger    *zap.Logger
}

// NewConsumer creates a new consumer group member.
func NewConsumer(id string, cfg config.KafkaConfig, processor Processor, logger *zap.Logger) (*Consumer, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Consumer.Return.Errors = true
	saramaConfig.Consumer.Offsets.Initial = sarama.OffsetOldest
	saramaConfig.Consumer.Group.Rebalance.Strategy = sarama.BalanceStrategyRoundRobin

	group, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("[KAFKA CONNECTION FAILED] cannot create consumer group, check that the brokers are reachable and KAFKA_BROKERS is correct: %w", err)
	}

	return &Consumer{
		id:        id,
		group:     group,
		topic:     cfg.Topic,
		processor: processor,
		logger:    logger.With(zap.String("consumer_id", id)),
	}, nil
}

// Consume joins the group and processes claims until the context is
// cancelled. Rebalances re-enter the loop.
func (c *Consumer) Consume(ctx context.Context) error {
	go func() {
		for err := range c.group.Errors() {
			c.logger.Error("consumer group error", zap.Error(err))
		}
	}()

	handler := &groupHandler{consumer: c}

	for {
		if err := c.group.Consume(ctx, []string{c.topic}, handler); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return nil
			}
			c.logger.Error("consume session ended with error", zap.Error(err))
			// Back off briefly before rejoining so a persistent
			// downstream failure does not spin the group.
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

// Close leaves the consumer group.
func (c *Consumer) Close() error {
	return c.group.Close()
}

// groupHandler implements sarama.ConsumerGroupHandler
type groupHandler struct {
	consumer *Consumer
}

func (h *groupHandler) Setup(_ sarama.ConsumerGroupSession) error   { return nil }
func (h *groupHandler) Cleanup(_ sarama.ConsumerGroupSession) error { return nil }

func (h *groupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	c := h.consumer

	for message := range claim.Messages() {
		if session.Context().Err() != nil {
			return nil
		}

		err := c.processor(session.Context(), message.Value, time.Now())
		switch {
		case err == nil:
			session.MarkMessage(message, "")
		case errors.Is(err, ErrSkipMessage):
			c.logger.Warn("skipping poison message",
				zap.Error(err),
				zap.Int32("partition", message.Partition),
				zap.Int64("offset", message.Offset),
			)
			session.MarkMessage(message, "")
		default:
			// Durable side effects did not land: leave the offset
			// unmarked and restart the session for redelivery.
			return fmt.Errorf("processing failed at partition %d offset %d: %w",
				message.Partition, message.Offset, err)
		}
	}

	return nil
}
