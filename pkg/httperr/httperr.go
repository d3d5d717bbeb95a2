// Package httperr writes the JSON error body shared by every non-2xx
// response:
//
//	{"timestamp": "...", "status": 422, "error": "Unprocessable Entity",
//	 "message": "invalid data", "path": "/products",
//	 "errors": [{"field": "name", "message": "..."}]}
//
// The errors array is present only when field errors are given.
package httperr

import (
	"net/http"
	"time"

	"github.com/go-faster/jx"
)

// FieldError is a single field-level failure.
type FieldError struct {
	Field   string
	Message string
}

// Body is the error response body.
type Body struct {
	Timestamp time.Time
	Status    int
	Error     string
	Message   string
	Path      string
	Errors    []FieldError
}

// New builds a Body for a request to path.
func New(status int, message, path string, fieldErrors ...FieldError) Body {
	return Body{
		Timestamp: time.Now().UTC(),
		Status:    status,
		Error:     http.StatusText(status),
		Message:   message,
		Path:      path,
		Errors:    fieldErrors,
	}
}

// Encode writes b as a JSON object.
func (b Body) Encode(e *jx.Encoder) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("timestamp", func(e *jx.Encoder) { e.Str(b.Timestamp.Format(time.RFC3339Nano)) })
		e.Field("status", func(e *jx.Encoder) { e.Int(b.Status) })
		e.Field("error", func(e *jx.Encoder) { e.Str(b.Error) })
		e.Field("message", func(e *jx.Encoder) { e.Str(b.Message) })
		e.Field("path", func(e *jx.Encoder) { e.Str(b.Path) })
		if len(b.Errors) > 0 {
			e.Field("errors", func(e *jx.Encoder) {
				e.Arr(func(e *jx.Encoder) {
					for _, fe := range b.Errors {
						e.Obj(func(e *jx.Encoder) {
							e.Field("field", func(e *jx.Encoder) { e.Str(fe.Field) })
							e.Field("message", func(e *jx.Encoder) { e.Str(fe.Message) })
						})
					}
				})
			})
		}
	})
}

// Write sends an error body for r with the given status.
func Write(w http.ResponseWriter, r *http.Request, status int, message string, fieldErrors ...FieldError) {
	WriteBody(w, New(status, message, r.URL.Path, fieldErrors...))
}

// WriteBody sends b, using b.Status as the response status.
func WriteBody(w http.ResponseWriter, b Body) {
	var e jx.Encoder
	b.Encode(&e)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(b.Status)
	_, _ = w.Write(e.Bytes())
}
