// Package order composes orders from local state and remote product and
// user data, and publishes order lifecycle events.
package order

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/example/ec-consistency/internal/messaging"
	"github.com/example/ec-consistency/internal/readmodel"
)

var (
	ErrValidation            = errors.New("validation failed")
	ErrOrderNotFound         = errors.New("order not found")
	ErrReferenceNotFound     = errors.New("referenced entity not found")
	ErrDependencyUnavailable = errors.New("dependency unavailable")
	ErrConcurrentUpdate      = errors.New("order modified concurrently")
)

// ValidationError lists every invalid field of an input.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

type ItemInput struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

// Input is the client's order request. Prices are never taken from it.
type Input struct {
	UserID    string      `json:"userId"`
	OrderDate *time.Time  `json:"orderDate,omitempty"`
	Items     []ItemInput `json:"items"`
}

func (in Input) Validate() error {
	fields := map[string]string{}
	if strings.TrimSpace(in.UserID) == "" {
		fields["userId"] = "is required"
	}
	if len(in.Items) == 0 {
		fields["items"] = "must contain at least one item"
	}
	for i, it := range in.Items {
		if strings.TrimSpace(it.ProductID) == "" {
			fields[fmt.Sprintf("items[%d].productId", i)] = "is required"
		}
		if it.Quantity <= 0 {
			fields[fmt.Sprintf("items[%d].quantity", i)] = "must be greater than zero"
		}
	}
	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

// productIDs returns the distinct product ids in input order.
func (in Input) productIDs() []string {
	seen := make(map[string]bool, len(in.Items))
	ids := make([]string, 0, len(in.Items))
	for _, it := range in.Items {
		if !seen[it.ProductID] {
			seen[it.ProductID] = true
			ids = append(ids, it.ProductID)
		}
	}
	return ids
}

// priceItems builds stored lines from resolved products. Line totals and
// the bill are computed here from the product's unit price.
func priceItems(in []ItemInput, products map[string]readmodel.Product) ([]readmodel.OrderItem, float64) {
	items := make([]readmodel.OrderItem, 0, len(in))
	var total float64
	for _, it := range in {
		p := products[it.ProductID]
		line := float64(it.Quantity) * p.UnitPrice
		items = append(items, readmodel.OrderItem{
			ProductID:   it.ProductID,
			ProductName: p.Name,
			Quantity:    it.Quantity,
			UnitPrice:   p.UnitPrice,
			TotalPrice:  line,
		})
		total += line
	}
	return items, total
}

// ComputeDeltas returns the per-product quantity change from old to new,
// omitting products whose quantity did not change. Products present in new
// come first in their order of appearance, then products only in old.
func ComputeDeltas(old, new []readmodel.OrderItem) []messaging.OrderItemDelta {
	before := map[string]int{}
	for _, it := range old {
		before[it.ProductID] += it.Quantity
	}
	after := map[string]int{}
	var order []string
	for _, it := range new {
		if _, ok := after[it.ProductID]; !ok {
			order = append(order, it.ProductID)
		}
		after[it.ProductID] += it.Quantity
	}
	for _, it := range old {
		if _, ok := after[it.ProductID]; !ok {
			after[it.ProductID] = 0
			order = append(order, it.ProductID)
		}
	}

	var deltas []messaging.OrderItemDelta
	for _, id := range order {
		if d := after[id] - before[id]; d != 0 {
			deltas = append(deltas, messaging.OrderItemDelta{ProductID: id, QuantityChange: d})
		}
	}
	return deltas
}

func itemMessages(items []readmodel.OrderItem) []messaging.OrderItemMessage {
	out := make([]messaging.OrderItemMessage, 0, len(items))
	for _, it := range items {
		out = append(out, messaging.OrderItemMessage{ProductID: it.ProductID, Quantity: it.Quantity})
	}
	return out
}
