package readmodel

import "time"

// Product is the product record as served by the product service.
// QuantityInStock is nullable; a missing value counts as zero stock.
type Product struct {
	ID              string  `json:"id"`
	Name            string  `json:"name"`
	Category        string  `json:"category"`
	UnitPrice       float64 `json:"unitPrice"`
	QuantityInStock *int    `json:"quantityInStock"`
}

// Stock returns the stored quantity, treating null as zero.
func (p Product) Stock() int {
	if p.QuantityInStock == nil {
		return 0
	}
	return *p.QuantityInStock
}

// User is the user record as served by the user service.
type User struct {
	ID     string `json:"id"`
	Email  string `json:"email"`
	Name   string `json:"name"`
	Gender string `json:"gender"`
}

// OrderItem is one stored order line. ProductName is a denormalized snapshot
// kept in sync by product rename events.
type OrderItem struct {
	ProductID   string  `json:"productId"`
	ProductName string  `json:"productName,omitempty"`
	Quantity    int     `json:"quantity"`
	UnitPrice   float64 `json:"unitPrice"`
	TotalPrice  float64 `json:"totalPrice"`
}

// Order is a stored order. Version increases on every write and guards
// Replace against lost updates.
type Order struct {
	ID        string      `json:"id"`
	UserID    string      `json:"userId"`
	OrderDate time.Time   `json:"orderDate"`
	TotalBill float64     `json:"totalBill"`
	Items     []OrderItem `json:"items"`
	Version   int64       `json:"version"`
	CreatedAt time.Time   `json:"createdAt"`
	UpdatedAt time.Time   `json:"updatedAt"`
}

// RenameProduct sets the name snapshot on every line of productID and
// reports whether any line changed.
func (o *Order) RenameProduct(productID, name string) bool {
	changed := false
	for i := range o.Items {
		if o.Items[i].ProductID == productID && o.Items[i].ProductName != name {
			o.Items[i].ProductName = name
			changed = true
		}
	}
	return changed
}

// HasProduct reports whether any line references productID.
func (o Order) HasProduct(productID string) bool {
	for _, it := range o.Items {
		if it.ProductID == productID {
			return true
		}
	}
	return false
}

// Page is one page of a listing. PageNumber is 1-based.
type Page[T any] struct {
	Items       []T  `json:"items"`
	TotalCount  int  `json:"totalCount"`
	PageNumber  int  `json:"pageNumber"`
	PageSize    int  `json:"pageSize"`
	TotalPages  int  `json:"totalPages"`
	HasPrevious bool `json:"hasPrevious"`
	HasNext     bool `json:"hasNext"`
}

func NewPage[T any](items []T, total, page, size int) Page[T] {
	if items == nil {
		items = []T{}
	}
	pages := 0
	if size > 0 {
		pages = (total + size - 1) / size
	}
	return Page[T]{
		Items:       items,
		TotalCount:  total,
		PageNumber:  page,
		PageSize:    size,
		TotalPages:  pages,
		HasPrevious: page > 1,
		HasNext:     page < pages,
	}
}

// NormalizePaging clamps page and size to sane bounds.
func NormalizePaging(page, size int) (int, int) {
	if page < 1 {
		page = 1
	}
	if size < 1 {
		size = 10
	}
	if size > 1000 {
		size = 1000
	}
	return page, size
}
