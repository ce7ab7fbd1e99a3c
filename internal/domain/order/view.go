package order

import (
	"time"

	"github.com/example/ec-consistency/internal/readmodel"
)

// ItemView is an order line enriched with product display fields.
type ItemView struct {
	ProductID   string  `json:"productId"`
	ProductName string  `json:"productName"`
	Category    string  `json:"category"`
	Quantity    int     `json:"quantity"`
	UnitPrice   float64 `json:"unitPrice"`
	TotalPrice  float64 `json:"totalPrice"`
	Degraded    bool    `json:"degraded,omitempty"`
}

// View is an order enriched with user and product display fields. Degraded
// is set when any field came from a fallback value.
type View struct {
	ID        string     `json:"id"`
	UserID    string     `json:"userId"`
	Email     string     `json:"email"`
	UserName  string     `json:"userName"`
	OrderDate time.Time  `json:"orderDate"`
	TotalBill float64    `json:"totalBill"`
	Items     []ItemView `json:"items"`
	Degraded  bool       `json:"degraded,omitempty"`
}

type resolvedProduct struct {
	product  readmodel.Product
	degraded bool
}

type resolvedUser struct {
	user     readmodel.User
	degraded bool
}

func compose(o readmodel.Order, u resolvedUser, products map[string]resolvedProduct) View {
	v := View{
		ID:        o.ID,
		UserID:    o.UserID,
		Email:     u.user.Email,
		UserName:  u.user.Name,
		OrderDate: o.OrderDate,
		TotalBill: o.TotalBill,
		Items:     make([]ItemView, 0, len(o.Items)),
		Degraded:  u.degraded,
	}
	for _, it := range o.Items {
		iv := ItemView{
			ProductID:   it.ProductID,
			ProductName: it.ProductName,
			Quantity:    it.Quantity,
			UnitPrice:   it.UnitPrice,
			TotalPrice:  it.TotalPrice,
		}
		if rp, ok := products[it.ProductID]; ok {
			iv.ProductName = rp.product.Name
			iv.Category = rp.product.Category
			iv.Degraded = rp.degraded
		}
		v.Degraded = v.Degraded || iv.Degraded
		v.Items = append(v.Items, iv)
	}
	return v
}
