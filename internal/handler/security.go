package handler

import (
	"net/http"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/dscommerce/internal/domain/auth"
)

// identify resolves the Authorization header of r. A failed resolution is
// carried in the returned Identity; the services decide what it means for
// the operation.
func (h *Handler) identify(r *http.Request) auth.Identity {
	ctx := r.Context()
	id := auth.Identify(ctx, h.resolver, r.Header.Get("Authorization"))
	if err := id.Err(); err != nil {
		zctx.From(ctx).Debug("Credential rejected", zap.Error(err))
	}
	return id
}

// requireRole resolves the caller and rejects it unless it holds role. It
// runs before any path or body parsing. On rejection the error is written and
// ok is false.
func (h *Handler) requireRole(w http.ResponseWriter, r *http.Request, role auth.Role) (_ auth.Identity, ok bool) {
	id := h.identify(r)
	if d := auth.RequireRole(id, role); d != auth.Allowed {
		writeError(w, r, auth.Deny(id, d))
		return id, false
	}
	return id, true
}

// requireAuthenticated is requireRole for operations open to any verified
// caller.
func (h *Handler) requireAuthenticated(w http.ResponseWriter, r *http.Request) (_ auth.Identity, ok bool) {
	id := h.identify(r)
	if _, authenticated := id.Principal(); !authenticated {
		writeError(w, r, auth.Deny(id, auth.Unauthorized))
		return id, false
	}
	return id, true
}
