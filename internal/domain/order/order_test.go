package order

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/ec-consistency/internal/messaging"
	"github.com/example/ec-consistency/internal/readmodel"
)

func TestInput_Validate(t *testing.T) {
	require.NoError(t, Input{UserID: "u1", Items: []ItemInput{{ProductID: "p1", Quantity: 1}}}.Validate())

	err := Input{UserID: " ", Items: []ItemInput{{ProductID: "", Quantity: -1}}}.Validate()

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Len(t, verr.Fields, 3)
	assert.Contains(t, err.Error(), "items[0].productId: is required")
}

func TestPriceItems(t *testing.T) {
	products := map[string]readmodel.Product{
		"p1": {ID: "p1", Name: "Pen", UnitPrice: 10},
		"p2": {ID: "p2", Name: "Ink", UnitPrice: 0.5},
	}

	items, total := priceItems([]ItemInput{{ProductID: "p1", Quantity: 3}, {ProductID: "p2", Quantity: 4}}, products)

	require.Len(t, items, 2)
	assert.Equal(t, 30.0, items[0].TotalPrice)
	assert.Equal(t, "Ink", items[1].ProductName)
	assert.Equal(t, 32.0, total)
}

func TestComputeDeltas(t *testing.T) {
	line := func(id string, q int) readmodel.OrderItem { return readmodel.OrderItem{ProductID: id, Quantity: q} }

	tests := []struct {
		name string
		old  []readmodel.OrderItem
		new  []readmodel.OrderItem
		want []messaging.OrderItemDelta
	}{
		{"increase", []readmodel.OrderItem{line("p1", 3)}, []readmodel.OrderItem{line("p1", 5)}, []messaging.OrderItemDelta{{ProductID: "p1", QuantityChange: 2}}},
		{"decrease", []readmodel.OrderItem{line("p1", 5)}, []readmodel.OrderItem{line("p1", 1)}, []messaging.OrderItemDelta{{ProductID: "p1", QuantityChange: -4}}},
		{"unchanged", []readmodel.OrderItem{line("p1", 2)}, []readmodel.OrderItem{line("p1", 2)}, nil},
		{"added and removed", []readmodel.OrderItem{line("p1", 2)}, []readmodel.OrderItem{line("p2", 1)}, []messaging.OrderItemDelta{
			{ProductID: "p2", QuantityChange: 1},
			{ProductID: "p1", QuantityChange: -2},
		}},
		{"duplicate lines summed", []readmodel.OrderItem{line("p1", 1), line("p1", 1)}, []readmodel.OrderItem{line("p1", 3)}, []messaging.OrderItemDelta{{ProductID: "p1", QuantityChange: 1}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ComputeDeltas(tt.old, tt.new))
		})
	}
}

func TestCompose_KeepsStoredPricesAndFlagsDegraded(t *testing.T) {
	o := readmodel.Order{
		ID:        "o1",
		UserID:    "u1",
		TotalBill: 20,
		Items:     []readmodel.OrderItem{{ProductID: "p1", ProductName: "Pen", Quantity: 2, UnitPrice: 10, TotalPrice: 20}},
	}
	products := map[string]resolvedProduct{
		"p1": {product: readmodel.Product{ID: "p1", Name: "Placeholder", UnitPrice: 0}, degraded: true},
	}

	v := compose(o, resolvedUser{user: readmodel.User{Email: "a@b.c"}}, products)

	assert.True(t, v.Degraded)
	assert.True(t, v.Items[0].Degraded)
	assert.Equal(t, 10.0, v.Items[0].UnitPrice)
	assert.Equal(t, 20.0, v.TotalBill)
	assert.Equal(t, "a@b.c", v.Email)
}
