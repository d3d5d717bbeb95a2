package httpmiddleware

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/xenking/dscommerce/pkg/httperr"
)

// Recovery turns a handler panic into a 500 with the standard error body and
// logs it to lg with the stack. It runs outermost, before the request logger
// is injected, so it takes its own logger.
func Recovery(lg *zap.Logger) Middleware {
	if lg == nil {
		lg = zap.NewNop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				lg.Error("Panic recovered",
					zap.Any("panic", rec),
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.String("request_id", w.Header().Get("X-Request-ID")),
					zap.Stack("stack"),
				)
				w.Header().Set("Connection", "close")
				httperr.Write(w, r, http.StatusInternalServerError, "unexpected error")
			}()
			next.ServeHTTP(w, r)
		})
	}
}
