// Package projection keeps the order service's copies of product data in
// step with product lifecycle events.
package projection

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/example/ec-consistency/internal/cache"
	"github.com/example/ec-consistency/internal/infrastructure/store"
	"github.com/example/ec-consistency/internal/messaging"
)

// ServiceName scopes the queues this package consumes from.
const ServiceName = "orders"

// DefaultScanLimit bounds how many orders a rename rewrites.
const DefaultScanLimit = 1000

// ProductProjector drops cached products on delete and rename, and copies a
// new product name into the snapshots of orders that reference it.
type ProductProjector struct {
	orders    store.OrderStore
	cache     cache.Cache
	scanLimit int
	logger    *zap.Logger
}

func NewProductProjector(orders store.OrderStore, c cache.Cache, scanLimit int, logger *zap.Logger) *ProductProjector {
	if scanLimit <= 0 {
		scanLimit = DefaultScanLimit
	}
	return &ProductProjector{orders: orders, cache: c, scanLimit: scanLimit, logger: logger.Named("projector")}
}

// Handle decodes one product lifecycle event and applies it.
func (p *ProductProjector) Handle(ctx context.Context, event string, body []byte) error {
	p.logger.Debug("received event", zap.String("event", event))

	err := p.dispatch(ctx, event, body)
	if errors.Is(err, messaging.ErrDecode) {
		p.logger.Error("dropping undecodable event", zap.String("event", event), zap.Error(err))
	}
	return err
}

func (p *ProductProjector) dispatch(ctx context.Context, event string, body []byte) error {
	switch event {
	case messaging.EventProductDeleted:
		ev, err := messaging.Decode[messaging.ProductDeleted](body)
		if err != nil {
			return err
		}
		return p.ProductDeleted(ctx, ev)
	case messaging.EventProductNameUpdated:
		ev, err := messaging.Decode[messaging.ProductNameUpdated](body)
		if err != nil {
			return err
		}
		return p.ProductNameUpdated(ctx, ev)
	default:
		return fmt.Errorf("%w: unknown event %q", messaging.ErrDecode, event)
	}
}

func (p *ProductProjector) ProductDeleted(ctx context.Context, ev messaging.ProductDeleted) error {
	if err := p.evict(ctx, ev.ProductID); err != nil {
		return err
	}
	p.logger.Info("product removed from cache",
		zap.String("product_id", ev.ProductID),
		zap.String("product_name", ev.ProductName),
		zap.String("event_id", ev.EventID))
	return nil
}

// ProductNameUpdated evicts the cached product and, when a new name is
// given, rewrites the name snapshot of the newest scanLimit orders. Only the
// snapshot changes, so order writes racing with the sync are kept.
func (p *ProductProjector) ProductNameUpdated(ctx context.Context, ev messaging.ProductNameUpdated) error {
	if err := p.evict(ctx, ev.ProductID); err != nil {
		return err
	}
	if ev.NewName == "" {
		return nil
	}

	updated, matched, err := p.orders.SyncProductName(ctx, ev.ProductID, ev.NewName, p.scanLimit)
	if err != nil {
		return fmt.Errorf("sync name of product %s: %w", ev.ProductID, err)
	}
	if matched > p.scanLimit {
		p.logger.Warn("name sync truncated",
			zap.String("product_id", ev.ProductID),
			zap.Int("matched", matched),
			zap.Int("scanned", p.scanLimit))
	}

	p.logger.Info("product name propagated",
		zap.String("product_id", ev.ProductID),
		zap.String("new_name", ev.NewName),
		zap.Int("updated", updated))
	return nil
}

func (p *ProductProjector) evict(ctx context.Context, productID string) error {
	if err := p.cache.Remove(ctx, cache.ProductKey(productID)); err != nil {
		return fmt.Errorf("evict product %s: %w", productID, err)
	}
	return nil
}

// Bindings returns one subscription per product event type on exchange.
func (p *ProductProjector) Bindings(exchange string) []messaging.Binding {
	events := []string{messaging.EventProductDeleted, messaging.EventProductNameUpdated}
	out := make([]messaging.Binding, 0, len(events))
	for _, ev := range events {
		ev := ev
		out = append(out, messaging.Binding{
			Subscription: messaging.SubscriptionFor(ServiceName, exchange, ev),
			Handler: func(ctx context.Context, body []byte) error {
				return p.Handle(ctx, ev, body)
			},
		})
	}
	return out
}
