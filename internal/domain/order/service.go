package order

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/example/ec-consistency/internal/infrastructure/store"
	"github.com/example/ec-consistency/internal/messaging"
	"github.com/example/ec-consistency/internal/readmodel"
	"github.com/example/ec-consistency/internal/remote"
)

// ProductLookup resolves product data. degraded reports a fallback value.
type ProductLookup interface {
	GetProduct(ctx context.Context, id string) (p readmodel.Product, degraded bool, err error)
}

// UserLookup resolves user data. degraded reports a fallback value.
type UserLookup interface {
	GetUser(ctx context.Context, id string) (u readmodel.User, degraded bool, err error)
}

// defaultLookupLimit caps concurrent remote lookups issued for one request,
// keeping a large order from taking every product bulkhead slot.
const defaultLookupLimit = 4

// maxUpdateAttempts bounds how often Update re-reads an order that changed
// between its read and its conditional write.
const maxUpdateAttempts = 3

type Service struct {
	orders      store.OrderStore
	products    ProductLookup
	users       UserLookup
	publisher   messaging.Publisher
	exchange    string
	lookupLimit int
	now         func() time.Time
	logger      *zap.Logger
}

type Option func(*Service)

func WithLookupLimit(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.lookupLimit = n
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(orders store.OrderStore, products ProductLookup, users UserLookup, pub messaging.Publisher, exchange string, logger *zap.Logger, opts ...Option) *Service {
	s := &Service{
		orders:      orders,
		products:    products,
		users:       users,
		publisher:   pub,
		exchange:    exchange,
		lookupLimit: defaultLookupLimit,
		now:         time.Now,
		logger:      logger.Named("orders"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create validates the input, resolves every referenced product and the
// user, prices the lines from the resolved products, persists the order and
// then publishes OrderCreated.
func (s *Service) Create(ctx context.Context, in Input) (*View, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	products, user, err := s.resolveForWrite(ctx, in)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	items, total := priceItems(in.Items, productsOf(products))
	o := readmodel.Order{
		ID:        uuid.NewString(),
		UserID:    in.UserID,
		OrderDate: orderDate(in.OrderDate, now),
		TotalBill: total,
		Items:     items,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.orders.Add(ctx, &o); err != nil {
		return nil, fmt.Errorf("save order: %w", err)
	}

	s.publish(ctx, messaging.EventOrderCreated, messaging.OrderCreated{
		Envelope:   messaging.NewEnvelope(),
		OrderID:    o.ID,
		UserID:     o.UserID,
		TotalBill:  o.TotalBill,
		OrderDate:  o.OrderDate,
		OrderItems: itemMessages(o.Items),
	})

	v := compose(o, user, products)
	return &v, nil
}

// Update replaces an order's lines and publishes OrderUpdated carrying the
// per-product quantity change against the version it replaced. The write is
// conditional on that version; a concurrent change causes a re-read so the
// published deltas always net to the committed quantities.
func (s *Service) Update(ctx context.Context, id string, in Input) (*View, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	products, user, err := s.resolveForWrite(ctx, in)
	if err != nil {
		return nil, err
	}
	items, total := priceItems(in.Items, productsOf(products))

	var existing, updated readmodel.Order
	write := func() error {
		current, err := s.orders.Get(ctx, id)
		if err != nil {
			return backoff.Permanent(notFound(id, err))
		}
		next := *current
		next.UserID = in.UserID
		next.OrderDate = orderDate(in.OrderDate, current.OrderDate)
		next.Items = items
		next.TotalBill = total
		next.UpdatedAt = s.now().UTC()
		if err := s.orders.Replace(ctx, &next); err != nil {
			if errors.Is(err, store.ErrConflict) {
				s.logger.Debug("order changed during update, retrying", zap.String("order_id", id), zap.Error(err))
				return err
			}
			return backoff.Permanent(notFound(id, err))
		}
		existing, updated = *current, next
		return nil
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 10 * time.Millisecond
	b.MaxInterval = 100 * time.Millisecond
	if err := backoff.Retry(write, backoff.WithContext(backoff.WithMaxRetries(b, maxUpdateAttempts-1), ctx)); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, fmt.Errorf("%w: %s: %w", ErrConcurrentUpdate, id, err)
		}
		return nil, err
	}

	s.publish(ctx, messaging.EventOrderUpdated, messaging.OrderUpdated{
		Envelope:    messaging.NewEnvelope(),
		OrderID:     updated.ID,
		UserID:      updated.UserID,
		TotalBill:   updated.TotalBill,
		ItemChanges: ComputeDeltas(existing.Items, updated.Items),
	})

	v := compose(updated, user, products)
	return &v, nil
}

// Delete removes the order and publishes OrderDeleted with its full lines
// so stock can be restored.
func (s *Service) Delete(ctx context.Context, id string) error {
	o, err := s.orders.Delete(ctx, id)
	if err != nil {
		return notFound(id, err)
	}
	s.publish(ctx, messaging.EventOrderDeleted, messaging.OrderDeleted{
		Envelope:   messaging.NewEnvelope(),
		OrderID:    o.ID,
		UserID:     o.UserID,
		TotalBill:  o.TotalBill,
		OrderItems: itemMessages(o.Items),
	})
	return nil
}

func (s *Service) Get(ctx context.Context, id string) (*View, error) {
	o, err := s.orders.Get(ctx, id)
	if err != nil {
		return nil, notFound(id, err)
	}
	views := s.enrich(ctx, []readmodel.Order{*o})
	return &views[0], nil
}

func (s *Service) List(ctx context.Context, page, size int) (readmodel.Page[View], error) {
	page, size = readmodel.NormalizePaging(page, size)
	orders, total, err := s.orders.List(ctx, page, size)
	if err != nil {
		return readmodel.Page[View]{}, fmt.Errorf("list orders: %w", err)
	}
	return readmodel.NewPage(s.enrich(ctx, orders), total, page, size), nil
}

func (s *Service) ListByUser(ctx context.Context, userID string, page, size int) (readmodel.Page[View], error) {
	page, size = readmodel.NormalizePaging(page, size)
	orders, total, err := s.orders.ListByUser(ctx, userID, page, size)
	if err != nil {
		return readmodel.Page[View]{}, fmt.Errorf("list orders of user %s: %w", userID, err)
	}
	return readmodel.NewPage(s.enrich(ctx, orders), total, page, size), nil
}

func (s *Service) ListByProduct(ctx context.Context, productID string, page, size int) (readmodel.Page[View], error) {
	page, size = readmodel.NormalizePaging(page, size)
	orders, total, err := s.orders.ListByProduct(ctx, productID, page, size)
	if err != nil {
		return readmodel.Page[View]{}, fmt.Errorf("list orders of product %s: %w", productID, err)
	}
	return readmodel.NewPage(s.enrich(ctx, orders), total, page, size), nil
}

// resolveForWrite looks up the user and every distinct product concurrently.
// A product or user that is missing, or whose response is malformed or
// unreachable, fails the whole operation. Degraded placeholders are accepted
// and flagged so the caller can see which lines were priced from them.
func (s *Service) resolveForWrite(ctx context.Context, in Input) (map[string]resolvedProduct, resolvedUser, error) {
	ids := in.productIDs()
	found := make([]resolvedProduct, len(ids))
	var user resolvedUser

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.lookupLimit)
	g.Go(func() error {
		u, degraded, err := s.users.GetUser(gctx, in.UserID)
		if err != nil {
			return lookupFailed("user", in.UserID, err)
		}
		if degraded {
			s.logger.Warn("user lookup degraded, using fallback details", zap.String("user_id", in.UserID))
		}
		user = resolvedUser{user: u, degraded: degraded}
		return nil
	})
	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			p, degraded, err := s.products.GetProduct(gctx, id)
			if err != nil {
				return lookupFailed("product", id, err)
			}
			if degraded {
				s.logger.Warn("product lookup degraded, pricing from fallback", zap.String("product_id", id))
			}
			found[i] = resolvedProduct{product: p, degraded: degraded}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, resolvedUser{}, err
	}

	products := make(map[string]resolvedProduct, len(ids))
	for i, id := range ids {
		products[id] = found[i]
	}
	return products, user, nil
}

// enrich resolves display data for orders. Lookups that fail degrade to
// fallback values instead of failing the read.
func (s *Service) enrich(ctx context.Context, orders []readmodel.Order) []View {
	var mu sync.Mutex
	users := map[string]resolvedUser{}
	products := map[string]resolvedProduct{}

	seenUsers := map[string]bool{}
	seenProducts := map[string]bool{}

	var g errgroup.Group
	g.SetLimit(s.lookupLimit)
	for _, o := range orders {
		o := o
		if !seenUsers[o.UserID] {
			seenUsers[o.UserID] = true
			g.Go(func() error {
				u, degraded, err := s.users.GetUser(ctx, o.UserID)
				if err != nil {
					s.logger.Warn("user enrichment failed", zap.String("user_id", o.UserID), zap.Error(err))
					u, degraded = remote.UserFallback(o.UserID), true
				}
				mu.Lock()
				users[o.UserID] = resolvedUser{user: u, degraded: degraded}
				mu.Unlock()
				return nil
			})
		}
		for _, it := range o.Items {
			it := it
			if seenProducts[it.ProductID] {
				continue
			}
			seenProducts[it.ProductID] = true
			g.Go(func() error {
				p, degraded, err := s.products.GetProduct(ctx, it.ProductID)
				if err != nil {
					s.logger.Warn("product enrichment failed", zap.String("product_id", it.ProductID), zap.Error(err))
					p, degraded = remote.ProductFallback(it.ProductID), true
				}
				mu.Lock()
				products[it.ProductID] = resolvedProduct{product: p, degraded: degraded}
				mu.Unlock()
				return nil
			})
		}
	}
	_ = g.Wait()

	views := make([]View, 0, len(orders))
	for _, o := range orders {
		views = append(views, compose(o, users[o.UserID], products))
	}
	return views
}

func (s *Service) publish(ctx context.Context, event string, payload any) {
	if err := s.publisher.Publish(ctx, s.exchange, messaging.EventHeaders(event), payload); err != nil {
		s.logger.Error("failed to publish order event", zap.String("event", event), zap.Error(err))
	}
}

func lookupFailed(kind, id string, err error) error {
	switch {
	case errors.Is(err, remote.ErrProductNotFound), errors.Is(err, remote.ErrUserNotFound):
		return fmt.Errorf("%w: %w", ErrReferenceNotFound, err)
	case errors.Is(err, remote.ErrMalformedResponse):
		return err
	default:
		return fmt.Errorf("%w: %s %s: %w", ErrDependencyUnavailable, kind, id, err)
	}
}

func notFound(id string, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrOrderNotFound, id)
	}
	return err
}

func orderDate(requested *time.Time, def time.Time) time.Time {
	if requested == nil || requested.IsZero() {
		return def
	}
	return requested.UTC()
}

func productsOf(resolved map[string]resolvedProduct) map[string]readmodel.Product {
	out := make(map[string]readmodel.Product, len(resolved))
	for id, rp := range resolved {
		out[id] = rp.product
	}
	return out
}
