// Package inventory applies order lifecycle events to product stock.
package inventory

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/example/ec-consistency/internal/infrastructure/store"
	"github.com/example/ec-consistency/internal/messaging"
)

var (
	ErrInsufficientStock = store.ErrInsufficientStock
	ErrProductNotFound   = errors.New("product not found")
)

// Outcome of one stock adjustment.
type Outcome string

const (
	OutcomeApplied   Outcome = "applied"
	OutcomeSkipped   Outcome = "skipped"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeRejected  Outcome = "rejected"
	OutcomeNotFound  Outcome = "not_found"
	OutcomeFailed    Outcome = "failed"
)

// Adjustment changes a product's stock by Delta. Negative consumes stock.
type Adjustment struct {
	ProductID string
	Delta     int
}

type Result struct {
	Adjustment
	Outcome  Outcome
	NewStock int
	Err      error
}

// Reconciler applies each adjustment of an event on its own. One item
// failing does not stop the others.
type Reconciler struct {
	products store.ProductStore
	ledger   store.Ledger
	logger   *zap.Logger
}

// NewReconciler builds a Reconciler. A nil ledger disables deduplication.
func NewReconciler(products store.ProductStore, ledger store.Ledger, logger *zap.Logger) *Reconciler {
	return &Reconciler{products: products, ledger: ledger, logger: logger.Named("reconciler")}
}

func (r *Reconciler) OrderCreated(ctx context.Context, ev messaging.OrderCreated) ([]Result, error) {
	adjs := make([]Adjustment, 0, len(ev.OrderItems))
	for _, it := range ev.OrderItems {
		adjs = append(adjs, Adjustment{ProductID: it.ProductID, Delta: -it.Quantity})
	}
	return r.apply(ctx, messaging.EventOrderCreated, ev.EventID, ev.OrderID, adjs)
}

func (r *Reconciler) OrderUpdated(ctx context.Context, ev messaging.OrderUpdated) ([]Result, error) {
	adjs := make([]Adjustment, 0, len(ev.ItemChanges))
	for _, c := range ev.ItemChanges {
		adjs = append(adjs, Adjustment{ProductID: c.ProductID, Delta: -c.QuantityChange})
	}
	return r.apply(ctx, messaging.EventOrderUpdated, ev.EventID, ev.OrderID, adjs)
}

func (r *Reconciler) OrderDeleted(ctx context.Context, ev messaging.OrderDeleted) ([]Result, error) {
	adjs := make([]Adjustment, 0, len(ev.OrderItems))
	for _, it := range ev.OrderItems {
		adjs = append(adjs, Adjustment{ProductID: it.ProductID, Delta: it.Quantity})
	}
	return r.apply(ctx, messaging.EventOrderDeleted, ev.EventID, ev.OrderID, adjs)
}

// apply returns an error only when some item hit an infrastructure failure.
// With an event id the error asks for redelivery; the ledger keeps already
// applied items from being applied twice. Without one, redelivery could
// double-apply, so the error is marked permanent.
func (r *Reconciler) apply(ctx context.Context, event, eventID, orderID string, adjs []Adjustment) ([]Result, error) {
	logger := r.logger.With(
		zap.String("event", event),
		zap.String("event_id", eventID),
		zap.String("order_id", orderID),
	)

	results := make([]Result, 0, len(adjs))
	var failed error
	for _, a := range mergeByProduct(adjs) {
		res := r.applyOne(ctx, eventID, a)
		results = append(results, res)

		fields := []zap.Field{
			zap.String("product_id", a.ProductID),
			zap.Int("delta", a.Delta),
			zap.String("outcome", string(res.Outcome)),
		}
		switch res.Outcome {
		case OutcomeApplied:
			logger.Info("stock adjusted", append(fields, zap.Int("stock", res.NewStock))...)
		case OutcomeSkipped, OutcomeDuplicate:
			logger.Debug("stock adjustment skipped", fields...)
		case OutcomeRejected, OutcomeNotFound:
			logger.Error("stock reconciliation failed", append(fields, zap.Error(res.Err))...)
		case OutcomeFailed:
			logger.Error("stock adjustment error", append(fields, zap.Error(res.Err))...)
			failed = errors.Join(failed, res.Err)
		}
	}

	if failed == nil {
		return results, nil
	}
	if eventID == "" || r.ledger == nil {
		return results, fmt.Errorf("%w: %v", messaging.ErrPermanent, failed)
	}
	return results, failed
}

func (r *Reconciler) applyOne(ctx context.Context, eventID string, a Adjustment) Result {
	res := Result{Adjustment: a}
	if a.Delta == 0 {
		res.Outcome = OutcomeSkipped
		return res
	}

	dedup := eventID != "" && r.ledger != nil
	if dedup {
		claimed, err := r.ledger.Claim(ctx, eventID, a.ProductID)
		if err != nil {
			res.Outcome, res.Err = OutcomeFailed, err
			return res
		}
		if !claimed {
			res.Outcome = OutcomeDuplicate
			return res
		}
	}

	stock, err := r.products.AdjustStock(ctx, a.ProductID, a.Delta)
	switch {
	case err == nil:
		res.Outcome, res.NewStock = OutcomeApplied, stock
	case errors.Is(err, store.ErrInsufficientStock):
		res.Outcome, res.NewStock, res.Err = OutcomeRejected, stock, err
	case errors.Is(err, store.ErrNotFound):
		res.Outcome, res.Err = OutcomeNotFound, fmt.Errorf("%w: %s", ErrProductNotFound, a.ProductID)
	default:
		res.Outcome, res.Err = OutcomeFailed, err
		if dedup {
			if rerr := r.ledger.Release(ctx, eventID, a.ProductID); rerr != nil {
				res.Err = errors.Join(err, rerr)
			}
		}
	}
	return res
}

// mergeByProduct sums deltas of lines that share a product, keeping first
// appearance order. The ledger is keyed per product, so one event yields at
// most one adjustment per product.
func mergeByProduct(adjs []Adjustment) []Adjustment {
	idx := make(map[string]int, len(adjs))
	out := make([]Adjustment, 0, len(adjs))
	for _, a := range adjs {
		if i, ok := idx[a.ProductID]; ok {
			out[i].Delta += a.Delta
			continue
		}
		idx[a.ProductID] = len(out)
		out = append(out, a)
	}
	return out
}
