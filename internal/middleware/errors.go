package middleware

import (
	"encoding/json"
	"net"
	"net/http"

	"github.com/scanpulse/scanpulse/internal/handler/dto"
)

// writeError writes the API error envelope.
func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(dto.ErrorResponse{Error: message, Code: code})
}

// ClientIP returns the host part of r.RemoteAddr. Proxy headers are expected
// to have been folded into RemoteAddr by chi's RealIP middleware.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
