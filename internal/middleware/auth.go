package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/scanpulse/scanpulse/internal/auth"
)

// TokenVerifier validates a bearer token and returns its owner.
type TokenVerifier interface {
	Verify(token string) (*auth.Owner, error)
}

// OwnerAuth authenticates requests with an "Authorization: Bearer <jwt>"
// header and stores the owner in the request context. Missing, malformed,
// invalid and expired tokens are answered with 401.
func OwnerAuth(verifier TokenVerifier, logger *slog.Logger) func(http.Handler) http.Handler {
	logger = logger.With("component", "middleware.auth")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				writeUnauthorized(w)
				return
			}

			owner, err := verifier.Verify(token)
			if err != nil {
				logger.Info("token rejected",
					slog.String("request_id", GetRequestID(r.Context())),
					slog.String("error", err.Error()),
				)
				writeUnauthorized(w)
				return
			}

			noteOwner(r.Context(), owner.ID)
			next.ServeHTTP(w, r.WithContext(auth.ContextWithOwner(r.Context(), owner)))
		})
	}
}

// bearerToken extracts the token of a Bearer authorization header.
func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func writeUnauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="scanpulse"`)
	writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Missing or invalid bearer token")
}
