package handler

import (
	"net/http"

	"github.com/go-faster/jx"
)

// GetOrder returns an order to its owner or to an admin.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := h.requireAuthenticated(w, r)
	if !ok {
		return
	}
	orderID, ok := pathID(w, r)
	if !ok {
		return
	}
	o, err := h.orders.Get(r.Context(), id, orderID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { h.encodeOrder(e, o) })
}
