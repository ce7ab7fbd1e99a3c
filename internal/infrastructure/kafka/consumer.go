package kafka

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/example/ec-consistency/internal/messaging"
)

// messageReader is the subset of *kafka.Reader the consumer loop needs.
type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer reads one topic under a consumer group named after the queue,
// giving each subscribing service its own copy of the stream.
type Consumer struct {
	reader    messageReader
	match     messaging.Headers
	manualAck bool
	logger    *zap.Logger
	// redeliver builds the backoff used when a handler asks for redelivery.
	redeliver func() backoff.BackOff
}

func NewConsumer(brokers []string, topic string, sub messaging.Subscription, manualAck bool, logger *zap.Logger) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  sub.Queue,
		MinBytes: 10e3, // 10KB
		MaxBytes: 10e6, // 10MB
	})
	return newConsumer(reader, sub.Match, manualAck, logger.With(zap.String("queue", sub.Queue), zap.String("topic", topic)))
}

func newConsumer(r messageReader, match messaging.Headers, manualAck bool, logger *zap.Logger) *Consumer {
	return &Consumer{
		reader:    r,
		match:     match,
		manualAck: manualAck,
		logger:    logger,
		redeliver: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 200 * time.Millisecond
			b.MaxInterval = 5 * time.Second
			b.MaxElapsedTime = 0
			return b
		},
	}
}

// Consume runs until ctx is done. Messages whose headers do not match are
// skipped. In manual mode the offset is committed only after handling; a
// failure that asks for redelivery is retried in place, which keeps
// partition order.
func (c *Consumer) Consume(ctx context.Context, handler messaging.Handler) error {
	for {
		msg, err := c.next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Error("error reading message", zap.Error(err))
			continue
		}

		headers := fromKafkaHeaders(msg.Headers)
		if messaging.MatchAll(c.match, headers) {
			if err := c.process(ctx, headers, msg, handler); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				c.logger.Error("giving up on message", zap.Error(err), zap.Int64("offset", msg.Offset))
			}
		}

		if c.manualAck {
			if err := c.reader.CommitMessages(ctx, msg); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				c.logger.Error("commit failed", zap.Error(err), zap.Int64("offset", msg.Offset))
			}
		}
	}
}

func (c *Consumer) next(ctx context.Context) (kafka.Message, error) {
	if c.manualAck {
		return c.reader.FetchMessage(ctx)
	}
	return c.reader.ReadMessage(ctx)
}

func (c *Consumer) process(ctx context.Context, headers messaging.Headers, msg kafka.Message, handler messaging.Handler) error {
	msgCtx := messaging.ExtractTrace(ctx, headers)
	msgCtx, span := otel.Tracer("kafka").Start(msgCtx, "consume "+msg.Topic, trace.WithSpanKind(trace.SpanKindConsumer))
	defer span.End()

	dropped := false
	attempt := func() error {
		err := handler(msgCtx, msg.Value)
		if err == nil {
			return nil
		}
		c.logger.Error("handler failed",
			zap.Error(err),
			zap.Any("event", headers[messaging.HeaderEvent]),
			zap.Int64("offset", msg.Offset),
		)
		if !c.manualAck || !messaging.Requeue(err) {
			dropped = true
			return backoff.Permanent(err)
		}
		return err
	}

	err := backoff.Retry(attempt, backoff.WithContext(c.redeliver(), ctx))
	if err == nil || dropped {
		return nil
	}
	return fmt.Errorf("redelivery aborted: %w", err)
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}
