package inventory

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/example/ec-consistency/internal/messaging"
)

// ServiceName scopes the queues this package consumes from.
const ServiceName = "products"

// Handle decodes one order lifecycle event and reconciles it.
func (r *Reconciler) Handle(ctx context.Context, event string, body []byte) error {
	err := r.dispatch(ctx, event, body)
	if errors.Is(err, messaging.ErrDecode) {
		r.logger.Error("dropping undecodable event", zap.String("event", event), zap.Error(err))
	}
	return err
}

func (r *Reconciler) dispatch(ctx context.Context, event string, body []byte) error {
	switch event {
	case messaging.EventOrderCreated:
		ev, err := messaging.Decode[messaging.OrderCreated](body)
		if err != nil {
			return err
		}
		_, err = r.OrderCreated(ctx, ev)
		return err
	case messaging.EventOrderUpdated:
		ev, err := messaging.Decode[messaging.OrderUpdated](body)
		if err != nil {
			return err
		}
		_, err = r.OrderUpdated(ctx, ev)
		return err
	case messaging.EventOrderDeleted:
		ev, err := messaging.Decode[messaging.OrderDeleted](body)
		if err != nil {
			return err
		}
		_, err = r.OrderDeleted(ctx, ev)
		return err
	default:
		return fmt.Errorf("%w: unknown event %q", messaging.ErrDecode, event)
	}
}

// Bindings returns one subscription per order event type on exchange.
func (r *Reconciler) Bindings(exchange string) []messaging.Binding {
	events := []string{messaging.EventOrderCreated, messaging.EventOrderUpdated, messaging.EventOrderDeleted}
	out := make([]messaging.Binding, 0, len(events))
	for _, ev := range events {
		ev := ev
		out = append(out, messaging.Binding{
			Subscription: messaging.SubscriptionFor(ServiceName, exchange, ev),
			Handler: func(ctx context.Context, body []byte) error {
				return r.Handle(ctx, ev, body)
			},
		})
	}
	return out
}
