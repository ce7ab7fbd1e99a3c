package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/example/ec-consistency/internal/domain/order"
	"github.com/example/ec-consistency/internal/readmodel"
)

// OrderService is the order operation surface the handlers need.
type OrderService interface {
	Create(ctx context.Context, in order.Input) (*order.View, error)
	Update(ctx context.Context, id string, in order.Input) (*order.View, error)
	Delete(ctx context.Context, id string) error
	Get(ctx context.Context, id string) (*order.View, error)
	List(ctx context.Context, page, size int) (readmodel.Page[order.View], error)
	ListByUser(ctx context.Context, userID string, page, size int) (readmodel.Page[order.View], error)
	ListByProduct(ctx context.Context, productID string, page, size int) (readmodel.Page[order.View], error)
}

type OrderHandlers struct {
	orders OrderService
	logger *zap.Logger
}

func NewOrderHandlers(orders OrderService, logger *zap.Logger) *OrderHandlers {
	return &OrderHandlers{orders: orders, logger: logger.Named("api")}
}

func (h *OrderHandlers) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var in order.Input
	if err := decodeBody(r, &in); err != nil {
		respondError(w, r, h.logger, err)
		return
	}

	v, err := h.orders.Create(r.Context(), in)
	if err != nil {
		respondError(w, r, h.logger, err)
		return
	}
	respondData(w, http.StatusCreated, v, "Order has been created successfully")
}

func (h *OrderHandlers) UpdateOrder(w http.ResponseWriter, r *http.Request) {
	id := extractPathParam(r.URL.Path, "/orders/")
	var in order.Input
	if err := decodeBody(r, &in); err != nil {
		respondError(w, r, h.logger, err)
		return
	}

	v, err := h.orders.Update(r.Context(), id, in)
	if err != nil {
		respondError(w, r, h.logger, err)
		return
	}
	respondData(w, http.StatusOK, v, "Order has been updated successfully")
}

func (h *OrderHandlers) DeleteOrder(w http.ResponseWriter, r *http.Request) {
	id := extractPathParam(r.URL.Path, "/orders/")
	if err := h.orders.Delete(r.Context(), id); err != nil {
		respondError(w, r, h.logger, err)
		return
	}
	respondData(w, http.StatusOK, nil, "Order has been deleted successfully")
}

func (h *OrderHandlers) GetOrder(w http.ResponseWriter, r *http.Request) {
	id := extractPathParam(r.URL.Path, "/orders/")
	v, err := h.orders.Get(r.Context(), id)
	if err != nil {
		respondError(w, r, h.logger, err)
		return
	}
	respondData(w, http.StatusOK, v, "Order has been retrieved successfully")
}

func (h *OrderHandlers) ListOrders(w http.ResponseWriter, r *http.Request) {
	page, size, err := paging(r)
	if err != nil {
		respondError(w, r, h.logger, err)
		return
	}
	p, err := h.orders.List(r.Context(), page, size)
	if err != nil {
		respondError(w, r, h.logger, err)
		return
	}
	respondData(w, http.StatusOK, p, "Orders have been retrieved successfully")
}

func (h *OrderHandlers) ListOrdersByUser(w http.ResponseWriter, r *http.Request) {
	userID := extractPathParam(r.URL.Path, "/orders/search/user-id/")
	page, size, err := paging(r)
	if err != nil {
		respondError(w, r, h.logger, err)
		return
	}
	p, err := h.orders.ListByUser(r.Context(), userID, page, size)
	if err != nil {
		respondError(w, r, h.logger, err)
		return
	}
	respondData(w, http.StatusOK, p, "Orders have been retrieved successfully")
}

func (h *OrderHandlers) ListOrdersByProduct(w http.ResponseWriter, r *http.Request) {
	productID := extractPathParam(r.URL.Path, "/orders/search/product-id/")
	page, size, err := paging(r)
	if err != nil {
		respondError(w, r, h.logger, err)
		return
	}
	p, err := h.orders.ListByProduct(r.Context(), productID, page, size)
	if err != nil {
		respondError(w, r, h.logger, err)
		return
	}
	respondData(w, http.StatusOK, p, "Orders have been retrieved successfully")
}

// Helper functions

func decodeBody(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: invalid request body: %v", errBadRequest, err)
	}
	return nil
}

func extractPathParam(path, prefix string) string {
	return strings.Trim(strings.TrimPrefix(path, prefix), "/")
}

// paging reads the page and size query parameters. Missing values fall back
// to the defaults applied by the service.
func paging(r *http.Request) (int, int, error) {
	q := r.URL.Query()
	page, err := queryInt(q.Get("page"), "page")
	if err != nil {
		return 0, 0, err
	}
	size, err := queryInt(q.Get("size"), "size")
	if err != nil {
		return 0, 0, err
	}
	return page, size, nil
}

func queryInt(raw, name string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %s must be a non-negative integer", errBadRequest, name)
	}
	return n, nil
}
