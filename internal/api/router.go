package api

import (
	"net/http"
	"strings"

	"go.uber.org/zap"
)

func methodNotAllowed(w http.ResponseWriter) {
	http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
}

// NewOrderRouter serves the order API.
func NewOrderRouter(handlers *OrderHandlers, serviceName string, logger *zap.Logger) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", healthz)

	mux.HandleFunc("/orders", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			handlers.ListOrders(w, r)
		case http.MethodPost:
			handlers.CreateOrder(w, r)
		default:
			methodNotAllowed(w)
		}
	})

	mux.HandleFunc("/orders/search/user-id/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		handlers.ListOrdersByUser(w, r)
	})

	mux.HandleFunc("/orders/search/product-id/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		handlers.ListOrdersByProduct(w, r)
	})

	mux.HandleFunc("/orders/", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			handlers.GetOrder(w, r)
		case http.MethodPut:
			handlers.UpdateOrder(w, r)
		case http.MethodDelete:
			handlers.DeleteOrder(w, r)
		default:
			methodNotAllowed(w)
		}
	})

	return withTracing(withLogging(mux, logger), serviceName)
}

// NewProductRouter serves the product API.
func NewProductRouter(handlers *ProductHandlers, serviceName string, logger *zap.Logger) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", healthz)

	mux.HandleFunc("/products", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		handlers.CreateProduct(w, r)
	})

	mux.HandleFunc("/products/search/product-id/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		handlers.GetProduct(w, r)
	})

	mux.HandleFunc("/products/", func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path
		switch {
		case strings.HasSuffix(path, "/stock") && r.Method == http.MethodGet:
			handlers.GetStock(w, r)
		case strings.HasSuffix(path, "/name") && r.Method == http.MethodPut:
			handlers.RenameProduct(w, r)
		case r.Method == http.MethodDelete:
			handlers.DeleteProduct(w, r)
		default:
			methodNotAllowed(w)
		}
	})

	return withTracing(withLogging(mux, logger), serviceName)
}

func healthz(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
