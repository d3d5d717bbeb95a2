// Package handler exposes the catalog and order services over HTTP.
package handler

import (
	"net/http"

	"github.com/go-faster/jx"

	"github.com/xenking/dscommerce/internal/domain/auth"
	"github.com/xenking/dscommerce/internal/domain/order"
	"github.com/xenking/dscommerce/internal/domain/product"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

// HandlerConfig holds non-dependency configuration for the Handler.
type HandlerConfig struct {
	// ImageBaseURL is prepended to relative image paths in responses.
	// When empty, image paths are returned as stored in the database.
	ImageBaseURL string
}

// Handler serves the public API, delegating business logic to the product
// and order services.
type Handler struct {
	products     *product.Service
	orders       *order.Service
	resolver     auth.Resolver
	imageBaseURL string
}

// NewHandler constructs a Handler with the required domain dependencies.
func NewHandler(
	cfg HandlerConfig,
	products *product.Service,
	orders *order.Service,
	resolver auth.Resolver,
) *Handler {
	return &Handler{
		products:     products,
		orders:       orders,
		resolver:     resolver,
		imageBaseURL: cfg.ImageBaseURL,
	}
}

// Register adds the API routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /products", h.ListProducts)
	mux.HandleFunc("GET /products/{id}", h.GetProduct)
	mux.HandleFunc("POST /products", h.CreateProduct)
	mux.HandleFunc("PUT /products/{id}", h.UpdateProduct)
	mux.HandleFunc("DELETE /products/{id}", h.DeleteProduct)
	mux.HandleFunc("GET /categories", h.ListCategories)
	mux.HandleFunc("GET /orders/{id}", h.GetOrder)
}

func writeJSON(w http.ResponseWriter, status int, encode func(e *jx.Encoder)) {
	var e jx.Encoder
	encode(&e)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}
