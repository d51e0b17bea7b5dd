package middleware

import (
	"encoding/json"
	"net/http"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

// ErrorBody is the JSON body of every rejection written by this package.
type ErrorBody struct {
	Message string `json:"message"`
}

// WriteJSONError writes {"message": ...} with the given status.
// If w already carries a status (a handler further in wrote first), nothing is written.
func WriteJSONError(w http.ResponseWriter, status int, message string) {
	if ww, ok := w.(chimiddleware.WrapResponseWriter); ok && ww.Status() != 0 {
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorBody{Message: message})
}

// ensureWrapped returns w as a chi WrapResponseWriter so the write-once guard can see its status.
func ensureWrapped(w http.ResponseWriter, r *http.Request) chimiddleware.WrapResponseWriter {
	if ww, ok := w.(chimiddleware.WrapResponseWriter); ok {
		return ww
	}
	return chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
}
