package messaging

import (
	"context"
	"fmt"
)

// Header names attached to every delivery.
const (
	HeaderEvent    = "event"
	HeaderRowCount = "RowCount"
)

// Headers is delivery metadata. Values are strings or integers.
type Headers map[string]any

// Handler processes one raw delivery. A nil error acknowledges it.
type Handler func(ctx context.Context, body []byte) error

// Subscription binds a durable queue to an exchange by header match.
type Subscription struct {
	Queue    string
	Exchange string
	Match    Headers
}

type Publisher interface {
	Publish(ctx context.Context, exchange string, headers Headers, payload any) error
}

type Subscriber interface {
	// Subscribe blocks, delivering messages to h until ctx is done.
	Subscribe(ctx context.Context, sub Subscription, h Handler) error
}

type Bus interface {
	Publisher
	Subscriber
	Close() error
}

// EventHeaders builds the headers for one event type.
func EventHeaders(event string) Headers {
	return Headers{HeaderEvent: event, HeaderRowCount: 1}
}

// QueueName scopes a queue by consuming service: "<service>.<event>.queue".
func QueueName(service, event string) string {
	return fmt.Sprintf("%s.%s.queue", service, event)
}

// SubscriptionFor is the standard subscription for one event type.
func SubscriptionFor(service, exchange, event string) Subscription {
	return Subscription{
		Queue:    QueueName(service, event),
		Exchange: exchange,
		Match:    EventHeaders(event),
	}
}

// MatchAll reports whether every header in match is present in headers with
// an equal value. Values compare by their string form so that typed AMQP
// values and string-only Kafka headers match alike.
func MatchAll(match, headers Headers) bool {
	for k, want := range match {
		got, ok := headers[k]
		if !ok {
			return false
		}
		if fmt.Sprint(got) != fmt.Sprint(want) {
			return false
		}
	}
	return true
}
