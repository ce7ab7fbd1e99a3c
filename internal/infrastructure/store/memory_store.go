package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/example/ec-consistency/internal/readmodel"
)

// MemoryOrderStore is an in-memory OrderStore.
type MemoryOrderStore struct {
	mu     sync.RWMutex
	orders map[string]readmodel.Order
}

func NewMemoryOrderStore() *MemoryOrderStore {
	return &MemoryOrderStore{orders: make(map[string]readmodel.Order)}
}

func (s *MemoryOrderStore) Add(ctx context.Context, o *readmodel.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orders[o.ID]; ok {
		return fmt.Errorf("order %s: %w", o.ID, ErrAlreadyExists)
	}
	s.orders[o.ID] = cloneOrder(*o)
	return nil
}

func (s *MemoryOrderStore) Get(ctx context.Context, id string) (*readmodel.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, fmt.Errorf("order %s: %w", id, ErrNotFound)
	}
	c := cloneOrder(o)
	return &c, nil
}

func (s *MemoryOrderStore) Replace(ctx context.Context, o *readmodel.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.orders[o.ID]
	if !ok {
		return fmt.Errorf("order %s: %w", o.ID, ErrNotFound)
	}
	if stored.Version != o.Version {
		return fmt.Errorf("order %s at version %d, stored %d: %w", o.ID, o.Version, stored.Version, ErrConflict)
	}
	o.Version++
	s.orders[o.ID] = cloneOrder(*o)
	return nil
}

func (s *MemoryOrderStore) SyncProductName(ctx context.Context, productID, name string, limit int) (int, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var matched []readmodel.Order
	for _, o := range s.orders {
		if o.HasProduct(productID) {
			matched = append(matched, o)
		}
	}
	sortNewestFirst(matched)
	total := len(matched)
	if limit > 0 && total > limit {
		matched = matched[:limit]
	}

	updated := 0
	for _, o := range matched {
		o = cloneOrder(o)
		if !o.RenameProduct(productID, name) {
			continue
		}
		o.Version++
		s.orders[o.ID] = o
		updated++
	}
	return updated, total, nil
}

func (s *MemoryOrderStore) Delete(ctx context.Context, id string) (*readmodel.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, fmt.Errorf("order %s: %w", id, ErrNotFound)
	}
	delete(s.orders, id)
	return &o, nil
}

func (s *MemoryOrderStore) List(ctx context.Context, page, size int) ([]readmodel.Order, int, error) {
	return s.listWhere(func(readmodel.Order) bool { return true }, page, size)
}

func (s *MemoryOrderStore) ListByUser(ctx context.Context, userID string, page, size int) ([]readmodel.Order, int, error) {
	return s.listWhere(func(o readmodel.Order) bool { return o.UserID == userID }, page, size)
}

func (s *MemoryOrderStore) ListByProduct(ctx context.Context, productID string, page, size int) ([]readmodel.Order, int, error) {
	return s.listWhere(func(o readmodel.Order) bool { return o.HasProduct(productID) }, page, size)
}

func (s *MemoryOrderStore) listWhere(keep func(readmodel.Order) bool, page, size int) ([]readmodel.Order, int, error) {
	page, size = readmodel.NormalizePaging(page, size)

	s.mu.RLock()
	var matched []readmodel.Order
	for _, o := range s.orders {
		if keep(o) {
			matched = append(matched, cloneOrder(o))
		}
	}
	s.mu.RUnlock()

	sortNewestFirst(matched)

	total := len(matched)
	start := (page - 1) * size
	if start >= total {
		return nil, total, nil
	}
	end := start + size
	if end > total {
		end = total
	}
	return matched[start:end], total, nil
}

func sortNewestFirst(orders []readmodel.Order) {
	sort.Slice(orders, func(i, j int) bool {
		if !orders[i].OrderDate.Equal(orders[j].OrderDate) {
			return orders[i].OrderDate.After(orders[j].OrderDate)
		}
		return orders[i].ID < orders[j].ID
	})
}

func cloneOrder(o readmodel.Order) readmodel.Order {
	o.Items = append([]readmodel.OrderItem(nil), o.Items...)
	return o
}

// MemoryProductStore is an in-memory ProductStore. A single mutex serializes
// stock adjustments.
type MemoryProductStore struct {
	mu       sync.Mutex
	products map[string]readmodel.Product
}

func NewMemoryProductStore() *MemoryProductStore {
	return &MemoryProductStore{products: make(map[string]readmodel.Product)}
}

func (s *MemoryProductStore) Put(ctx context.Context, p *readmodel.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[p.ID] = cloneProduct(*p)
	return nil
}

func (s *MemoryProductStore) Get(ctx context.Context, id string) (*readmodel.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[id]
	if !ok {
		return nil, fmt.Errorf("product %s: %w", id, ErrNotFound)
	}
	c := cloneProduct(p)
	return &c, nil
}

func (s *MemoryProductStore) AdjustStock(ctx context.Context, productID string, delta int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[productID]
	if !ok {
		return 0, fmt.Errorf("product %s: %w", productID, ErrNotFound)
	}
	current := p.Stock()
	next := current + delta
	if next < 0 {
		return current, &InsufficientStockError{Available: current, Requested: -delta}
	}
	p.QuantityInStock = &next
	s.products[productID] = p
	return next, nil
}

func (s *MemoryProductStore) Rename(ctx context.Context, productID, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[productID]
	if !ok {
		return fmt.Errorf("product %s: %w", productID, ErrNotFound)
	}
	p.Name = name
	s.products[productID] = p
	return nil
}

func (s *MemoryProductStore) Delete(ctx context.Context, productID string) (*readmodel.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[productID]
	if !ok {
		return nil, fmt.Errorf("product %s: %w", productID, ErrNotFound)
	}
	delete(s.products, productID)
	return &p, nil
}

func cloneProduct(p readmodel.Product) readmodel.Product {
	if p.QuantityInStock != nil {
		n := *p.QuantityInStock
		p.QuantityInStock = &n
	}
	return p
}

// MemoryLedger is an in-process Ledger.
type MemoryLedger struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{seen: make(map[string]struct{})}
}

func (l *MemoryLedger) Claim(ctx context.Context, eventID, productID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	k := ledgerKey(eventID, productID)
	if _, ok := l.seen[k]; ok {
		return false, nil
	}
	l.seen[k] = struct{}{}
	return true, nil
}

func (l *MemoryLedger) Release(ctx context.Context, eventID, productID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.seen, ledgerKey(eventID, productID))
	return nil
}
