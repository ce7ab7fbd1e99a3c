package messaging

import (
	"time"

	"github.com/google/uuid"
)

// Event discriminators carried in the "event" delivery header.
const (
	EventOrderCreated       = "order.created"
	EventOrderUpdated       = "order.updated"
	EventOrderDeleted       = "order.deleted"
	EventProductDeleted     = "product.delete"
	EventProductNameUpdated = "product.update"
)

// Envelope is embedded in every event. EventID keys the stock adjustment
// ledger; legacy publishers may leave it empty.
type Envelope struct {
	EventID    string    `json:"eventId,omitempty"`
	OccurredAt time.Time `json:"occurredAt,omitempty"`
}

// NewEnvelope stamps a fresh event id and the current time.
func NewEnvelope() Envelope {
	return Envelope{EventID: uuid.NewString(), OccurredAt: time.Now().UTC()}
}

type OrderItemMessage struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

type OrderItemDelta struct {
	ProductID      string `json:"productId"`
	QuantityChange int    `json:"quantityChange"`
}

type OrderCreated struct {
	Envelope
	OrderID    string             `json:"orderId"`
	UserID     string             `json:"userId"`
	TotalBill  float64            `json:"totalBill"`
	OrderDate  time.Time          `json:"orderDate"`
	OrderItems []OrderItemMessage `json:"orderItems"`
}

type OrderUpdated struct {
	Envelope
	OrderID     string           `json:"orderId"`
	UserID      string           `json:"userId"`
	TotalBill   float64          `json:"totalBill"`
	ItemChanges []OrderItemDelta `json:"itemChanges"`
}

type OrderDeleted struct {
	Envelope
	OrderID    string             `json:"orderId"`
	UserID     string             `json:"userId"`
	TotalBill  float64            `json:"totalBill"`
	OrderItems []OrderItemMessage `json:"orderItems"`
}

type ProductDeleted struct {
	Envelope
	ProductID   string `json:"productId"`
	ProductName string `json:"productName,omitempty"`
}

// ProductNameUpdated with an empty NewName only invalidates the cache entry.
type ProductNameUpdated struct {
	Envelope
	ProductID string `json:"productId"`
	NewName   string `json:"newName,omitempty"`
}

func (e OrderCreated) validate() error {
	if e.OrderID == "" {
		return missing("orderId")
	}
	return validateItems(e.OrderItems)
}

func (e OrderUpdated) validate() error {
	if e.OrderID == "" {
		return missing("orderId")
	}
	for _, c := range e.ItemChanges {
		if c.ProductID == "" {
			return missing("itemChanges.productId")
		}
	}
	return nil
}

func (e OrderDeleted) validate() error {
	if e.OrderID == "" {
		return missing("orderId")
	}
	return validateItems(e.OrderItems)
}

func (e ProductDeleted) validate() error {
	if e.ProductID == "" {
		return missing("productId")
	}
	return nil
}

func (e ProductNameUpdated) validate() error {
	if e.ProductID == "" {
		return missing("productId")
	}
	return nil
}

func validateItems(items []OrderItemMessage) error {
	for _, it := range items {
		if it.ProductID == "" {
			return missing("orderItems.productId")
		}
	}
	return nil
}
