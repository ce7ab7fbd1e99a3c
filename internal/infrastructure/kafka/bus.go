// Package kafka implements the event bus on Kafka topics. Each exchange maps
// to a topic; header matching happens on the consumer side.
package kafka

import (
	"context"

	"go.uber.org/zap"

	"github.com/example/ec-consistency/internal/messaging"
)

type Bus struct {
	*Producer
	brokers   []string
	manualAck bool
	logger    *zap.Logger
}

func NewBus(brokers []string, topicPrefix string, manualAck bool, logger *zap.Logger) *Bus {
	return &Bus{
		Producer:  NewProducer(brokers, topicPrefix),
		brokers:   brokers,
		manualAck: manualAck,
		logger:    logger.Named("kafka"),
	}
}

func (b *Bus) Subscribe(ctx context.Context, sub messaging.Subscription, h messaging.Handler) error {
	c := NewConsumer(b.brokers, TopicName(b.prefix, sub.Exchange), sub, b.manualAck, b.logger)
	defer c.Close()
	c.logger.Info("consumer started")
	return c.Consume(ctx, h)
}
