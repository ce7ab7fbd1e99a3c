// Package rabbitmq implements the event bus on RabbitMQ header exchanges.
package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/example/ec-consistency/internal/messaging"
)

const exchangeKind = "headers"

var ErrClosed = errors.New("rabbitmq: bus closed")

// Bus holds one connection per process. Publishing shares a single channel
// guarded by a mutex; every subscription gets its own channel.
type Bus struct {
	conn      *amqp.Connection
	manualAck bool
	logger    *zap.Logger

	mu    sync.Mutex
	pubCh *amqp.Channel
}

func Dial(url string, manualAck bool, logger *zap.Logger) (*Bus, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open publish channel: %w", err)
	}
	return &Bus{
		conn:      conn,
		manualAck: manualAck,
		logger:    logger.Named("rabbitmq"),
		pubCh:     ch,
	}, nil
}

func declareExchange(ch *amqp.Channel, name string) error {
	return ch.ExchangeDeclare(name, exchangeKind, true, false, false, false, nil)
}

// Publish declares the exchange, then sends a persistent JSON message with an
// empty routing key. Routing happens on headers alone.
func (b *Bus) Publish(ctx context.Context, exchange string, headers messaging.Headers, payload any) error {
	body, err := messaging.Encode(payload)
	if err != nil {
		return err
	}

	ctx, span := otel.Tracer("rabbitmq").Start(ctx, "publish "+exchange,
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(attribute.String("messaging.destination.name", exchange)),
	)
	defer span.End()

	h := make(messaging.Headers, len(headers)+2)
	for k, v := range headers {
		h[k] = v
	}
	messaging.InjectTrace(ctx, h)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pubCh == nil {
		return ErrClosed
	}
	if err := declareExchange(b.pubCh, exchange); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	err = b.pubCh.PublishWithContext(ctx, exchange, "", false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Headers:      toTable(h),
		Body:         body,
	})
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("publish to %s: %w", exchange, err)
	}
	return nil
}

// Subscribe declares the durable queue, binds it with x-match=all and runs
// the consumer loop until ctx is cancelled or the channel closes.
func (b *Bus) Subscribe(ctx context.Context, sub messaging.Subscription, h messaging.Handler) error {
	ch, err := b.conn.Channel()
	if err != nil {
		return fmt.Errorf("open consumer channel: %w", err)
	}
	defer ch.Close()

	if err := declareExchange(ch, sub.Exchange); err != nil {
		return fmt.Errorf("declare exchange %s: %w", sub.Exchange, err)
	}
	q, err := ch.QueueDeclare(sub.Queue, true, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("declare queue %s: %w", sub.Queue, err)
	}
	if err := ch.QueueBind(q.Name, "", sub.Exchange, false, bindArgs(sub.Match)); err != nil {
		return fmt.Errorf("bind queue %s: %w", q.Name, err)
	}
	if b.manualAck {
		if err := ch.Qos(1, 0, false); err != nil {
			return fmt.Errorf("set qos: %w", err)
		}
	}
	deliveries, err := ch.ConsumeWithContext(ctx, q.Name, "", !b.manualAck, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", q.Name, err)
	}

	c := newConsumer(q.Name, b.manualAck, h, b.logger.With(zap.String("queue", q.Name)))
	c.logger.Info("consumer started")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				c.logger.Warn("delivery channel closed")
				return nil
			}
			c.handle(ctx, d)
		}
	}
}

func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	var errs []error
	if b.pubCh != nil {
		errs = append(errs, b.pubCh.Close())
		b.pubCh = nil
	}
	if b.conn != nil {
		errs = append(errs, b.conn.Close())
	}
	return errors.Join(errs...)
}

type consumer struct {
	queue     string
	manualAck bool
	handler   messaging.Handler
	logger    *zap.Logger
	// redeliver paces in-place retries of a delivery the handler failed
	// but asked to see again.
	redeliver func() backoff.BackOff
}

func newConsumer(queue string, manualAck bool, h messaging.Handler, logger *zap.Logger) *consumer {
	return &consumer{
		queue:     queue,
		manualAck: manualAck,
		handler:   h,
		logger:    logger,
		redeliver: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 200 * time.Millisecond
			b.MaxInterval = 5 * time.Second
			b.MaxElapsedTime = 30 * time.Second
			return b
		},
	}
}

// handle runs the handler for one delivery. In manual mode a failure that
// asks for redelivery is retried in place with backoff while the delivery is
// held; once the backoff gives up it is nacked with requeue. Success and
// failures redelivery cannot fix are acked. In auto mode the broker already
// considers the delivery settled, so the handler runs once.
func (c *consumer) handle(ctx context.Context, d amqp.Delivery) {
	headers := messaging.Headers(d.Headers)
	msgCtx := messaging.ExtractTrace(ctx, headers)
	msgCtx, span := otel.Tracer("rabbitmq").Start(msgCtx, "consume "+c.queue, trace.WithSpanKind(trace.SpanKindConsumer))
	defer span.End()

	attempts := 0
	attempt := func() error {
		attempts++
		err := c.handler(msgCtx, d.Body)
		if err == nil {
			return nil
		}
		retry := c.manualAck && messaging.Requeue(err)
		c.logger.Error("handler failed",
			zap.Error(err),
			zap.Any("event", headers[messaging.HeaderEvent]),
			zap.Int("attempt", attempts),
			zap.Bool("retry", retry),
		)
		if !retry {
			return backoff.Permanent(err)
		}
		return err
	}
	err := backoff.Retry(attempt, backoff.WithContext(c.redeliver(), ctx))
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
	}
	if !c.manualAck {
		return
	}

	if messaging.Requeue(err) {
		c.logger.Warn("requeueing delivery", zap.Int("attempts", attempts), zap.Error(err))
		if nerr := d.Nack(false, true); nerr != nil {
			c.logger.Error("nack failed", zap.Error(nerr))
		}
		return
	}
	if aerr := d.Ack(false); aerr != nil {
		c.logger.Error("ack failed", zap.Error(aerr))
	}
}

// toTable narrows header values to types the AMQP table encoder accepts.
func toTable(h messaging.Headers) amqp.Table {
	t := make(amqp.Table, len(h))
	for k, v := range h {
		switch n := v.(type) {
		case int:
			t[k] = int32(n)
		default:
			t[k] = v
		}
	}
	return t
}

func bindArgs(match messaging.Headers) amqp.Table {
	args := toTable(match)
	args["x-match"] = "all"
	return args
}
