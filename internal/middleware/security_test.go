package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestSecurity_Headers(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		isDev  bool
		header string
		want   string
	}{
		{name: "nosniff", header: "X-Content-Type-Options", want: "nosniff"},
		{name: "no framing", header: "X-Frame-Options", want: "DENY"},
		{name: "referrer trimmed cross-origin", header: "Referrer-Policy", want: "strict-origin-when-cross-origin"},
		{name: "locked down csp", header: "Content-Security-Policy", want: "default-src 'none'; frame-ancestors 'none'"},
		{name: "hsts in production", header: "Strict-Transport-Security", want: "max-age=31536000; includeSubDomains; preload"},
		{name: "no hsts in development", isDev: true, header: "Strict-Transport-Security", want: ""},
		{name: "api responses are not cached", header: "Cache-Control", want: "no-store"},
		{name: "server banner removed", header: "Server", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			handler := Security(SecurityConfig{IsDevelopment: tt.isDev})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest(http.MethodGet, "/api/v1/dashboard", nil)
			rec := httptest.NewRecorder()
			rec.Header().Set("Server", "scanpulse")

			handler.ServeHTTP(rec, req)

			if got := rec.Header().Get(tt.header); got != tt.want {
				t.Errorf("%s = %q, want %q", tt.header, got, tt.want)
			}
		})
	}
}

func TestSecurity_HandlerCacheControlWins(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		path string
		set  string
	}{
		{name: "redirect", path: "/Ab3dE9z", set: "private, no-store"},
		{name: "qr image", path: "/api/v1/qrcodes/qr-1/image.png", set: "private, max-age=300"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			handler := Security(SecurityConfig{})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Cache-Control", tt.set)
				w.WriteHeader(http.StatusOK)
			}))

			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))

			if got := rec.Header().Get("Cache-Control"); got != tt.set {
				t.Errorf("Cache-Control = %q, want handler value %q", got, tt.set)
			}
			if got := rec.Header().Get("X-Content-Type-Options"); got != "nosniff" {
				t.Errorf("X-Content-Type-Options = %q, want nosniff", got)
			}
		})
	}
}

func TestMaxBodySize(t *testing.T) {
	t.Parallel()

	const limit = 64
	tests := []struct {
		name          string
		body          string
		contentLength int64
		wantStatus    int
	}{
		{
			name:          "small create payload",
			body:          `{"name":"Spring"}`,
			contentLength: 17,
			wantStatus:    http.StatusOK,
		},
		{
			name:          "declared oversize payload",
			body:          strings.Repeat("x", limit+1),
			contentLength: limit + 1,
			wantStatus:    http.StatusRequestEntityTooLarge,
		},
		{
			name:          "undeclared oversize payload is cut off",
			body:          strings.Repeat("x", limit*2),
			contentLength: -1,
			wantStatus:    http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			handler := MaxBodySize(limit)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if _, err := io.ReadAll(r.Body); err != nil {
					w.WriteHeader(http.StatusBadRequest)
					return
				}
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest(http.MethodPost, "/api/v1/qrcodes", strings.NewReader(tt.body))
			req.ContentLength = tt.contentLength
			rec := httptest.NewRecorder()

			handler.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
		})
	}
}
