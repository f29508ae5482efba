package proxyserver

import (
	"encoding/json"
	"net/http"
)

// writeError writes a small JSON error body, mirroring the teacher's
// writeError helper in server_utils.go.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
