package middleware

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// MaxCodeLength bounds the path segment accepted as a short code.
const MaxCodeLength = 32

// Short code errors.
var (
	ErrCodeEmpty   = errors.New("short code is empty")
	ErrCodeTooLong = errors.New("short code exceeds maximum length")
	ErrCodeInvalid = errors.New("short code contains invalid characters")
)

// ValidateCode checks that code is a plausible base62 short code.
func ValidateCode(code string) error {
	if code == "" {
		return ErrCodeEmpty
	}
	if len(code) > MaxCodeLength {
		return ErrCodeTooLong
	}
	for i := 0; i < len(code); i++ {
		c := code[i]
		switch {
		case c >= '0' && c <= '9', c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z':
		default:
			return ErrCodeInvalid
		}
	}
	return nil
}

// RequireValidCode answers 404 for malformed codes in URL parameter param
// before they reach the resolver, so junk paths never hit the store or the
// negative cache.
func RequireValidCode(param string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := ValidateCode(chi.URLParam(r, param)); err != nil {
				writeError(w, http.StatusNotFound, "QR_NOT_FOUND", "QR code not found")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
