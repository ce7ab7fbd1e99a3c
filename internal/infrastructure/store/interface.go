package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/example/ec-consistency/internal/readmodel"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrAlreadyExists     = errors.New("already exists")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrConflict          = errors.New("concurrent modification")
)

// InsufficientStockError is returned when an adjustment would drive stock
// below zero. It matches ErrInsufficientStock with errors.Is.
type InsufficientStockError struct {
	Available int
	Requested int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock. available: %d, requested: %d", e.Available, e.Requested)
}

func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}

// OrderStore persists orders with their line items.
type OrderStore interface {
	Add(ctx context.Context, o *readmodel.Order) error
	Get(ctx context.Context, id string) (*readmodel.Order, error)
	// Replace overwrites the order only if the stored version still equals
	// o.Version, returning ErrConflict otherwise. On success o.Version holds
	// the new version.
	Replace(ctx context.Context, o *readmodel.Order) error
	// SyncProductName rewrites the product name snapshot in the newest limit
	// orders referencing productID without touching any other field. It
	// returns how many orders changed and how many reference the product.
	SyncProductName(ctx context.Context, productID, name string, limit int) (updated, matched int, err error)
	// Delete removes the order and returns what was stored.
	Delete(ctx context.Context, id string) (*readmodel.Order, error)
	List(ctx context.Context, page, size int) ([]readmodel.Order, int, error)
	ListByUser(ctx context.Context, userID string, page, size int) ([]readmodel.Order, int, error)
	ListByProduct(ctx context.Context, productID string, page, size int) ([]readmodel.Order, int, error)
}

// ProductStore persists products and their stock level.
type ProductStore interface {
	Put(ctx context.Context, p *readmodel.Product) error
	Get(ctx context.Context, id string) (*readmodel.Product, error)
	// AdjustStock applies delta atomically against the stored quantity and
	// returns the new quantity. A result below zero is rejected.
	AdjustStock(ctx context.Context, productID string, delta int) (int, error)
	Rename(ctx context.Context, productID, name string) error
	Delete(ctx context.Context, productID string) (*readmodel.Product, error)
}

// Ledger records which (event, product) adjustments have been applied.
type Ledger interface {
	// Claim returns false if the pair was already claimed.
	Claim(ctx context.Context, eventID, productID string) (bool, error)
	// Release forgets a claim so a redelivery can apply it again.
	Release(ctx context.Context, eventID, productID string) error
}

func ledgerKey(eventID, productID string) string {
	return eventID + "|" + productID
}
