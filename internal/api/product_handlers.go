package api

import (
	"context"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/example/ec-consistency/internal/domain/product"
	"github.com/example/ec-consistency/internal/readmodel"
)

type ProductService interface {
	Create(ctx context.Context, in product.CreateInput) (*readmodel.Product, error)
	Get(ctx context.Context, id string) (*readmodel.Product, error)
	Stock(ctx context.Context, id string) (int, error)
	Delete(ctx context.Context, id string) error
	Rename(ctx context.Context, id, name string) (*readmodel.Product, error)
}

type ProductHandlers struct {
	products ProductService
	logger   *zap.Logger
}

func NewProductHandlers(products ProductService, logger *zap.Logger) *ProductHandlers {
	return &ProductHandlers{products: products, logger: logger.Named("api")}
}

func (h *ProductHandlers) CreateProduct(w http.ResponseWriter, r *http.Request) {
	var in product.CreateInput
	if err := decodeBody(r, &in); err != nil {
		respondError(w, r, h.logger, err)
		return
	}
	p, err := h.products.Create(r.Context(), in)
	if err != nil {
		respondError(w, r, h.logger, err)
		return
	}
	respondData(w, http.StatusCreated, p, "Product has been created successfully")
}

func (h *ProductHandlers) GetProduct(w http.ResponseWriter, r *http.Request) {
	id := extractPathParam(r.URL.Path, "/products/search/product-id/")
	p, err := h.products.Get(r.Context(), id)
	if err != nil {
		respondError(w, r, h.logger, err)
		return
	}
	respondData(w, http.StatusOK, p, "Product has been retrieved successfully")
}

func (h *ProductHandlers) GetStock(w http.ResponseWriter, r *http.Request) {
	id := extractPathParam(strings.TrimSuffix(r.URL.Path, "/stock"), "/products/")
	stock, err := h.products.Stock(r.Context(), id)
	if err != nil {
		respondError(w, r, h.logger, err)
		return
	}
	respondData(w, http.StatusOK, map[string]any{"productId": id, "quantityInStock": stock}, "Stock has been retrieved successfully")
}

func (h *ProductHandlers) DeleteProduct(w http.ResponseWriter, r *http.Request) {
	id := extractPathParam(r.URL.Path, "/products/")
	if err := h.products.Delete(r.Context(), id); err != nil {
		respondError(w, r, h.logger, err)
		return
	}
	respondData(w, http.StatusOK, nil, "Product has been deleted successfully")
}

func (h *ProductHandlers) RenameProduct(w http.ResponseWriter, r *http.Request) {
	id := extractPathParam(strings.TrimSuffix(r.URL.Path, "/name"), "/products/")
	var req struct {
		Name string `json:"name"`
	}
	if err := decodeBody(r, &req); err != nil {
		respondError(w, r, h.logger, err)
		return
	}
	p, err := h.products.Rename(r.Context(), id, req.Name)
	if err != nil {
		respondError(w, r, h.logger, err)
		return
	}
	respondData(w, http.StatusOK, p, "Product has been renamed successfully")
}
