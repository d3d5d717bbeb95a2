package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/dscommerce/internal/domain/apperr"
	"github.com/xenking/dscommerce/pkg/httperr"
)

// errBadRequest marks a request whose body or parameters cannot be parsed.
var errBadRequest = errors.New("bad request")

// writeError maps err onto the error taxonomy and writes the matching
// response. Storage details never reach the body; unexpected errors are
// logged here and answered with an opaque message.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	lg := zctx.From(r.Context())

	if errors.Is(err, errBadRequest) {
		lg.Debug("Bad request", zap.Error(err))
		httperr.Write(w, r, http.StatusBadRequest, err.Error())
		return
	}

	kind := apperr.KindOf(err)
	switch kind {
	case apperr.KindUnauthorized:
		httperr.Write(w, r, http.StatusUnauthorized, apperr.ErrUnauthorized.Error())
	case apperr.KindForbidden:
		httperr.Write(w, r, http.StatusForbidden, apperr.ErrForbidden.Error())
	case apperr.KindNotFound:
		httperr.Write(w, r, http.StatusNotFound, apperr.ErrNotFound.Error())
	case apperr.KindValidationFailed:
		var verr *apperr.ValidationError
		errors.As(err, &verr)
		fields := make([]httperr.FieldError, len(verr.Violations))
		for i, v := range verr.Violations {
			fields[i] = httperr.FieldError{Field: v.Field, Message: v.Message}
		}
		httperr.Write(w, r, http.StatusUnprocessableEntity, "invalid data", fields...)
	case apperr.KindDependencyConflict:
		httperr.Write(w, r, http.StatusBadRequest, "integrity violation: "+apperr.ErrDependencyConflict.Error())
	default:
		lg.Error("Request failed", zap.Error(err))
		httperr.Write(w, r, http.StatusInternalServerError, "unexpected error")
		return
	}
	lg.Debug("Request rejected", zap.Stringer("kind", kind), zap.Error(err))
}
