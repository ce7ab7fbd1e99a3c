package kafka

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/example/ec-consistency/internal/messaging"
)

// Producer writes events to one topic per exchange. Topic is set per message
// so a single writer serves every exchange.
type Producer struct {
	writer *kafka.Writer
	prefix string
}

func NewProducer(brokers []string, topicPrefix string) *Producer {
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		BatchTimeout:           10 * time.Millisecond,
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}
	return &Producer{writer: writer, prefix: topicPrefix}
}

// Publish keys the message by the event header so one event type stays on
// one partition.
func (p *Producer) Publish(ctx context.Context, exchange string, headers messaging.Headers, payload any) error {
	data, err := messaging.Encode(payload)
	if err != nil {
		return err
	}

	h := make(messaging.Headers, len(headers)+2)
	for k, v := range headers {
		h[k] = v
	}
	messaging.InjectTrace(ctx, h)

	topic := TopicName(p.prefix, exchange)
	err = p.writer.WriteMessages(ctx, kafka.Message{
		Topic:   topic,
		Key:     []byte(fmt.Sprint(headers[messaging.HeaderEvent])),
		Value:   data,
		Headers: toKafkaHeaders(h),
		Time:    time.Now(),
	})
	if err != nil {
		return fmt.Errorf("write to %s: %w", topic, err)
	}
	return nil
}

func (p *Producer) Close() error {
	return p.writer.Close()
}

// TopicName maps an exchange name onto a topic.
func TopicName(prefix, exchange string) string {
	if prefix == "" {
		return exchange
	}
	return prefix + "." + exchange
}

func toKafkaHeaders(h messaging.Headers) []kafka.Header {
	out := make([]kafka.Header, 0, len(h))
	for k, v := range h {
		out = append(out, kafka.Header{Key: k, Value: []byte(fmt.Sprint(v))})
	}
	return out
}

func fromKafkaHeaders(hs []kafka.Header) messaging.Headers {
	out := make(messaging.Headers, len(hs))
	for _, h := range hs {
		out[h.Key] = string(h.Value)
	}
	return out
}
