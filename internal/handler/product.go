package handler

import (
	"net/http"
	"strconv"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/dscommerce/internal/domain/auth"
	"github.com/xenking/dscommerce/internal/domain/product"
)

// ListProducts returns a page of the catalog, optionally filtered by name.
func (h *Handler) ListProducts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	params := product.ListParams{Name: q.Get("name")}

	var err error
	if params.Page, err = queryInt(q.Get("page"), 0); err != nil {
		writeError(w, r, errors.Wrap(errBadRequest, "page must be an integer"))
		return
	}
	if params.Size, err = queryInt(q.Get("size"), 0); err != nil {
		writeError(w, r, errors.Wrap(errBadRequest, "size must be an integer"))
		return
	}

	page, err := h.products.List(r.Context(), params)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { h.encodePage(e, page) })
}

// GetProduct returns a single product with its categories.
func (h *Handler) GetProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	p, err := h.products.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { h.encodeProduct(e, p) })
}

// CreateProduct inserts a product. Admin only.
func (h *Handler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := h.requireRole(w, r, auth.RoleAdmin)
	if !ok {
		return
	}
	payload, err := decodePayload(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	p, err := h.products.Create(r.Context(), id, payload)
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Location", "/products/"+strconv.FormatInt(p.ID, 10))
	writeJSON(w, http.StatusCreated, func(e *jx.Encoder) { h.encodeProduct(e, p) })
}

// UpdateProduct replaces a product. Admin only.
func (h *Handler) UpdateProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := h.requireRole(w, r, auth.RoleAdmin)
	if !ok {
		return
	}
	productID, ok := pathID(w, r)
	if !ok {
		return
	}
	payload, err := decodePayload(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	p, err := h.products.Update(r.Context(), id, productID, payload)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { h.encodeProduct(e, p) })
}

// DeleteProduct removes a product that no order references. Admin only.
func (h *Handler) DeleteProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := h.requireRole(w, r, auth.RoleAdmin)
	if !ok {
		return
	}
	productID, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.products.Delete(r.Context(), id, productID); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListCategories returns every category ordered by id.
func (h *Handler) ListCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := h.products.Categories(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.Arr(func(e *jx.Encoder) {
			for _, c := range categories {
				encodeCategory(e, c)
			}
		})
	})
}

// pathID parses the {id} wildcard. On failure it writes a 400 and returns
// false.
func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, r, errors.Wrap(errBadRequest, "id must be an integer"))
		return 0, false
	}
	return id, true
}

func queryInt(raw string, fallback int) (int, error) {
	if raw == "" {
		return fallback, nil
	}
	return strconv.Atoi(raw)
}
