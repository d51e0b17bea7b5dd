package server

import (
	"encoding/json"
	"net/http"

	"github.com/hashjosh/meshauth/internal/middleware"
)

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	middleware.WriteJSONError(w, status, message)
}
