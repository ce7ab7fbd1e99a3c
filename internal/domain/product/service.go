// Package product serves product lookups and publishes product lifecycle
// events when a product is removed or renamed.
package product

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/ec-consistency/internal/infrastructure/store"
	"github.com/example/ec-consistency/internal/messaging"
	"github.com/example/ec-consistency/internal/readmodel"
)

var (
	ErrProductNotFound = errors.New("product not found")
	ErrInvalidPrice    = errors.New("price must not be negative")
	ErrInvalidName     = errors.New("name is required")
	ErrInvalidStock    = errors.New("stock must not be negative")
)

type Service struct {
	products  store.ProductStore
	publisher messaging.Publisher
	exchange  string
	logger    *zap.Logger
}

func NewService(products store.ProductStore, pub messaging.Publisher, exchange string, logger *zap.Logger) *Service {
	return &Service{products: products, publisher: pub, exchange: exchange, logger: logger.Named("products")}
}

type CreateInput struct {
	Name            string  `json:"name"`
	Category        string  `json:"category"`
	UnitPrice       float64 `json:"unitPrice"`
	QuantityInStock int     `json:"quantityInStock"`
}

func (s *Service) Create(ctx context.Context, in CreateInput) (*readmodel.Product, error) {
	if strings.TrimSpace(in.Name) == "" {
		return nil, ErrInvalidName
	}
	if in.UnitPrice < 0 {
		return nil, ErrInvalidPrice
	}
	if in.QuantityInStock < 0 {
		return nil, ErrInvalidStock
	}

	stock := in.QuantityInStock
	p := &readmodel.Product{
		ID:              uuid.NewString(),
		Name:            in.Name,
		Category:        in.Category,
		UnitPrice:       in.UnitPrice,
		QuantityInStock: &stock,
	}
	if err := s.products.Put(ctx, p); err != nil {
		return nil, fmt.Errorf("save product: %w", err)
	}
	return p, nil
}

func (s *Service) Get(ctx context.Context, id string) (*readmodel.Product, error) {
	p, err := s.products.Get(ctx, id)
	if err != nil {
		return nil, notFound(id, err)
	}
	return p, nil
}

// Stock returns the current quantity in stock. A null quantity reads as zero.
func (s *Service) Stock(ctx context.Context, id string) (int, error) {
	p, err := s.Get(ctx, id)
	if err != nil {
		return 0, err
	}
	return p.Stock(), nil
}

// Delete removes the product and publishes ProductDeleted so that consumers
// drop any cached copy.
func (s *Service) Delete(ctx context.Context, id string) error {
	p, err := s.products.Delete(ctx, id)
	if err != nil {
		return notFound(id, err)
	}
	s.publish(ctx, messaging.EventProductDeleted, messaging.ProductDeleted{
		Envelope:    messaging.NewEnvelope(),
		ProductID:   p.ID,
		ProductName: p.Name,
	})
	return nil
}

// Rename changes the product name and publishes ProductNameUpdated so that
// order snapshots and caches follow.
func (s *Service) Rename(ctx context.Context, id, name string) (*readmodel.Product, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrInvalidName
	}
	if err := s.products.Rename(ctx, id, name); err != nil {
		return nil, notFound(id, err)
	}
	s.publish(ctx, messaging.EventProductNameUpdated, messaging.ProductNameUpdated{
		Envelope:  messaging.NewEnvelope(),
		ProductID: id,
		NewName:   name,
	})
	return s.Get(ctx, id)
}

func (s *Service) publish(ctx context.Context, event string, payload any) {
	if err := s.publisher.Publish(ctx, s.exchange, messaging.EventHeaders(event), payload); err != nil {
		s.logger.Error("failed to publish product event", zap.String("event", event), zap.Error(err))
	}
}

func notFound(id string, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrProductNotFound, id)
	}
	return err
}
