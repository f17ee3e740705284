// Package contract validates live API responses against docs/api/openapi.yaml.
package contract

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3filter"
	"github.com/getkin/kin-openapi/routers"
	"github.com/getkin/kin-openapi/routers/gorillamux"

	"github.com/scanpulse/scanpulse/internal/aggregation"
	"github.com/scanpulse/scanpulse/internal/auth"
	"github.com/scanpulse/scanpulse/internal/geo"
	"github.com/scanpulse/scanpulse/internal/handler"
	"github.com/scanpulse/scanpulse/internal/middleware"
	"github.com/scanpulse/scanpulse/internal/recorder"
	"github.com/scanpulse/scanpulse/internal/resolver"
	"github.com/scanpulse/scanpulse/internal/service"
	"github.com/scanpulse/scanpulse/internal/store/memory"
)

const contractSecret = "contract-test-secret"

// testEnv is an in-process server plus the document it is checked against.
type testEnv struct {
	server   *httptest.Server
	spec     *openapi3.T
	router   routers.Router
	verifier *auth.Verifier
}

// specPath returns the document location, overridable by OPENAPI_SPEC_PATH.
func specPath() string {
	if path := os.Getenv("OPENAPI_SPEC_PATH"); path != "" {
		return path
	}
	wd, _ := os.Getwd()
	return filepath.Join(wd, "..", "..", "docs", "api", "openapi.yaml")
}

// loadSpec loads and validates the OpenAPI document.
func loadSpec(t *testing.T, path string) *openapi3.T {
	t.Helper()

	loader := openapi3.NewLoader()
	loader.IsExternalRefsAllowed = true

	spec, err := loader.LoadFromFile(path)
	if err != nil {
		t.Fatalf("Failed to load OpenAPI spec from %s: %v", path, err)
	}
	if err := spec.Validate(context.Background()); err != nil {
		t.Fatalf("OpenAPI spec validation failed: %v", err)
	}
	return spec
}

// newTestEnv serves the production router over the memory store and points
// the document's servers at it.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := memory.New()

	rec := recorder.New(store, geo.NewGuard(geo.NoopProvider{}, time.Second, logger, nil), logger, nil)
	dispatcher := recorder.NewDetached(rec, time.Second, 16, logger, nil)
	t.Cleanup(func() { _ = dispatcher.Shutdown(context.Background()) })

	svc := service.NewQrCodeService(store, nil, "http://scan.test", logger, nil)
	verifier := auth.NewVerifier(contractSecret, "")

	router := handler.NewRouter(handler.RouterConfig{
		Logger:       logger,
		Verifier:     verifier,
		Security:     middleware.SecurityConfig{IsDevelopment: true},
		CORS:         middleware.DefaultCORSConfig(),
		MaxBodyBytes: 1 << 20,
		Health:       handler.NewHealthHandler(store, nil),
		Redirect: handler.NewRedirectHandler(
			resolver.New(store, nil, dispatcher, resolver.Config{BaseURL: "http://scan.test"}, logger, nil),
			logger,
		),
		QrCodes:   handler.NewQrCodeHandler(svc, logger),
		Profiles:  handler.NewProfileHandler(svc, logger),
		Analytics: handler.NewAnalyticsHandler(aggregation.NewScopeResolver(store), aggregation.New(store, logger), logger),
	})

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	spec := loadSpec(t, specPath())
	spec.Servers = openapi3.Servers{{URL: srv.URL}}
	specRouter, err := gorillamux.NewRouter(spec)
	if err != nil {
		t.Fatalf("Failed to create router from spec: %v", err)
	}

	return &testEnv{server: srv, spec: spec, router: specRouter, verifier: verifier}
}

func (e *testEnv) token(t *testing.T, ownerID string) string {
	t.Helper()
	token, err := e.verifier.Issue(ownerID, time.Hour)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return token
}

// call sends a request as ownerID and returns the response with its body
// already read.
func (e *testEnv) call(t *testing.T, method, path, ownerID string, payload any) (*http.Request, *http.Response, []byte) {
	t.Helper()

	var reader io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, e.server.URL+path, reader)
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if ownerID != "" {
		req.Header.Set("Authorization", "Bearer "+e.token(t, ownerID))
	}

	client := &http.Client{
		Timeout: 10 * time.Second,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("request %s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("Failed to read response body: %v", err)
	}
	return req, resp, body
}

// validate checks a response against the operation the document declares
// for req.
func (e *testEnv) validate(t *testing.T, req *http.Request, resp *http.Response, body []byte, opts *openapi3filter.Options) {
	t.Helper()

	route, pathParams, err := e.router.FindRoute(req)
	if err != nil {
		t.Fatalf("Could not find route in spec for %s %s: %v", req.Method, req.URL.Path, err)
	}
	if opts == nil {
		opts = &openapi3filter.Options{}
	}
	opts.IncludeResponseStatus = true

	input := &openapi3filter.ResponseValidationInput{
		RequestValidationInput: &openapi3filter.RequestValidationInput{
			Request:    req,
			PathParams: pathParams,
			Route:      route,
		},
		Status:  resp.StatusCode,
		Header:  resp.Header,
		Body:    io.NopCloser(bytes.NewReader(body)),
		Options: opts,
	}
	if err := openapi3filter.ValidateResponse(context.Background(), input); err != nil {
		t.Errorf("Response validation failed for %s %s: %v\nBody: %s", req.Method, req.URL.Path, err, body)
	}
}

// validateSchema checks a body against a named component schema. Used for
// top-level paths that also match the /{code} template.
func (e *testEnv) validateSchema(t *testing.T, name string, body []byte) {
	t.Helper()

	ref := e.spec.Components.Schemas[name]
	if ref == nil {
		t.Fatalf("schema %s not found in spec", name)
	}
	var value any
	if err := json.Unmarshal(body, &value); err != nil {
		t.Fatalf("Failed to parse response as JSON: %v\nBody: %s", err, body)
	}
	if err := ref.Value.VisitJSON(value); err != nil {
		t.Errorf("Body does not match %s: %v\nBody: %s", name, err, body)
	}
}

func (e *testEnv) createQrCode(t *testing.T, ownerID string, payload map[string]any) map[string]any {
	t.Helper()
	_, resp, body := e.call(t, http.MethodPost, "/api/v1/qrcodes", ownerID, payload)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201 from qr create, got %d: %s", resp.StatusCode, body)
	}
	var qr map[string]any
	if err := json.Unmarshal(body, &qr); err != nil {
		t.Fatalf("decode qr code: %v", err)
	}
	return qr
}

// TestOpenAPISpecValid ensures the OpenAPI document is valid.
func TestOpenAPISpecValid(t *testing.T) {
	spec := loadSpec(t, specPath())
	t.Logf("Spec %s %s is valid", spec.Info.Title, spec.Info.Version)
}

// TestEndpointsExist validates that every documented path is routed.
func TestEndpointsExist(t *testing.T) {
	env := newTestEnv(t)

	expectedPaths := []string{
		"/healthz",
		"/readyz",
		"/{code}",
		"/api/v1/qrcodes",
		"/api/v1/qrcodes/{id}",
		"/api/v1/qrcodes/{id}/image.png",
		"/api/v1/profiles",
		"/api/v1/analytics",
		"/api/v1/analytics/export.xlsx",
		"/api/v1/dashboard",
		"/api/v1/rankings/profiles",
	}
	for _, path := range expectedPaths {
		if env.spec.Paths.Find(path) == nil {
			t.Errorf("Expected path %s not found in spec", path)
		}
	}

	// An authenticated request to a routed path never falls through to the
	// NOT_FOUND handler.
	owner := "contract-owner"
	qr := env.createQrCode(t, owner, map[string]any{"target_url": "https://example.com/exists"})
	id := qr["id"].(string)

	routed := []string{
		"/healthz",
		"/readyz",
		"/api/v1/qrcodes",
		"/api/v1/qrcodes/" + id,
		"/api/v1/qrcodes/" + id + "/image.png",
		"/api/v1/profiles",
		"/api/v1/analytics?range=week",
		"/api/v1/analytics/export.xlsx?range=week",
		"/api/v1/dashboard?range=week",
		"/api/v1/rankings/profiles?range=week",
	}
	for _, path := range routed {
		t.Run(fmt.Sprintf("GET_%s", path), func(t *testing.T) {
			_, resp, _ := env.call(t, http.MethodGet, path, owner, nil)
			if resp.StatusCode == http.StatusNotFound {
				t.Errorf("Endpoint GET %s returned 404 - not implemented", path)
			}
		})
	}
}

// TestErrorResponseSchema validates error responses match the schema.
func TestErrorResponseSchema(t *testing.T) {
	env := newTestEnv(t)

	errorCases := []struct {
		name           string
		method         string
		path           string
		ownerID        string
		payload        any
		expectedStatus int
	}{
		{"Unauthorized", http.MethodGet, "/api/v1/qrcodes", "", nil, http.StatusUnauthorized},
		{"NotFound", http.MethodGet, "/api/v1/qrcodes/nonexistent-id-12345", "contract-owner", nil, http.StatusNotFound},
		{"ValidationFailed", http.MethodPost, "/api/v1/qrcodes", "contract-owner", map[string]any{"name": "no target"}, http.StatusBadRequest},
		{"InvalidRange", http.MethodGet, "/api/v1/analytics?range=decade", "contract-owner", nil, http.StatusBadRequest},
		{"UnknownScope", http.MethodGet, "/api/v1/dashboard?range=week&qrCodeId=missing", "contract-owner", nil, http.StatusNotFound},
	}

	for _, tc := range errorCases {
		t.Run(tc.name, func(t *testing.T) {
			req, resp, body := env.call(t, tc.method, tc.path, tc.ownerID, tc.payload)
			if resp.StatusCode != tc.expectedStatus {
				t.Errorf("Expected status %d, got %d: %s", tc.expectedStatus, resp.StatusCode, body)
			}
			validateErrorResponse(t, resp, body)
			env.validate(t, req, resp, body, nil)
		})
	}

	t.Run("UnknownCode", func(t *testing.T) {
		_, resp, body := env.call(t, http.MethodGet, "/Zz9Zz9Zz", "", nil)
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("Expected status 404, got %d", resp.StatusCode)
		}
		validateErrorResponse(t, resp, body)
	})
}

// validateErrorResponse checks that error responses have required fields.
func validateErrorResponse(t *testing.T, resp *http.Response, body []byte) {
	t.Helper()

	contentType := resp.Header.Get("Content-Type")
	if !strings.Contains(contentType, "application/json") {
		t.Errorf("Error response Content-Type should be application/json, got: %s", contentType)
		return
	}

	var errorResp struct {
		Error string `json:"error"`
		Code  string `json:"code"`
	}
	if err := json.Unmarshal(body, &errorResp); err != nil {
		t.Errorf("Failed to parse error response as JSON: %v\nBody: %s", err, string(body))
		return
	}
	if errorResp.Error == "" {
		t.Errorf("Error response missing 'error' field. Body: %s", string(body))
	}
	if errorResp.Code == "" {
		t.Errorf("Error response missing 'code' field. Body: %s", string(body))
	}
}

// TestResponseContentType validates Content-Type headers.
func TestResponseContentType(t *testing.T) {
	env := newTestEnv(t)
	owner := "contract-owner"
	qr := env.createQrCode(t, owner, map[string]any{"target_url": "https://example.com/types"})

	cases := []struct {
		path string
		want string
	}{
		{"/healthz", "application/json"},
		{"/readyz", "application/json"},
		{"/api/v1/qrcodes", "application/json"},
		{"/api/v1/qrcodes/" + qr["id"].(string) + "/image.png", "image/png"},
		{"/api/v1/analytics/export.xlsx?range=month", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"},
	}
	for _, tc := range cases {
		t.Run(tc.path, func(t *testing.T) {
			_, resp, _ := env.call(t, http.MethodGet, tc.path, owner, nil)
			if contentType := resp.Header.Get("Content-Type"); !strings.Contains(contentType, tc.want) {
				t.Errorf("Expected %s Content-Type for %s, got: %s", tc.want, tc.path, contentType)
			}
		})
	}
}

// TestRequiredFieldsPresent validates response bodies against the document.
func TestRequiredFieldsPresent(t *testing.T) {
	env := newTestEnv(t)
	owner := "contract-owner"

	t.Run("HealthResponses", func(t *testing.T) {
		for _, path := range []string{"/healthz", "/readyz"} {
			_, resp, body := env.call(t, http.MethodGet, path, "", nil)
			if resp.StatusCode != http.StatusOK {
				t.Errorf("expected 200 from %s, got %d", path, resp.StatusCode)
			}
			env.validateSchema(t, "HealthResponse", body)
		}
	})

	var profileID string
	t.Run("Profiles", func(t *testing.T) {
		req, resp, body := env.call(t, http.MethodPost, "/api/v1/profiles", owner, map[string]any{
			"name": "Spring Fair",
			"slug": "spring-fair",
		})
		env.validate(t, req, resp, body, nil)
		var profile map[string]any
		_ = json.Unmarshal(body, &profile)
		profileID, _ = profile["id"].(string)

		req, resp, body = env.call(t, http.MethodGet, "/api/v1/profiles", owner, nil)
		env.validate(t, req, resp, body, nil)
	})

	var qrID, code string
	t.Run("QrCodes", func(t *testing.T) {
		start := time.Now().Add(-24 * time.Hour).UTC().Format(time.RFC3339)
		end := time.Now().Add(24 * time.Hour).UTC().Format(time.RFC3339)

		req, resp, body := env.call(t, http.MethodPost, "/api/v1/qrcodes", owner, map[string]any{
			"name":              "Flyer",
			"target_url":        "https://example.com/flyer",
			"fallback_url":      "https://example.com/thanks",
			"profile_id":        profileID,
			"campaign_type":     "marketing-campaign",
			"redirect_behavior": "fallback_expired",
			"start_date":        start,
			"end_date":          end,
		})
		if resp.StatusCode != http.StatusCreated {
			t.Fatalf("expected 201, got %d: %s", resp.StatusCode, body)
		}
		env.validate(t, req, resp, body, nil)
		var qr map[string]any
		_ = json.Unmarshal(body, &qr)
		qrID, _ = qr["id"].(string)
		code, _ = qr["code"].(string)

		req, resp, body = env.call(t, http.MethodGet, "/api/v1/qrcodes/"+qrID, owner, nil)
		env.validate(t, req, resp, body, nil)

		req, resp, body = env.call(t, http.MethodPatch, "/api/v1/qrcodes/"+qrID, owner, map[string]any{"name": "Flyer v2"})
		env.validate(t, req, resp, body, nil)

		req, resp, body = env.call(t, http.MethodGet, "/api/v1/qrcodes?limit=10", owner, nil)
		env.validate(t, req, resp, body, nil)

		req, resp, body = env.call(t, http.MethodGet, "/api/v1/qrcodes/"+qrID+"/image.png?size=128", owner, nil)
		env.validate(t, req, resp, body, &openapi3filter.Options{ExcludeResponseBody: true})
	})

	t.Run("Redirect", func(t *testing.T) {
		_, resp, _ := env.call(t, http.MethodGet, "/"+code, "", nil)
		if resp.StatusCode != http.StatusFound {
			t.Fatalf("expected 302, got %d", resp.StatusCode)
		}
		if loc := resp.Header.Get("Location"); loc != "https://example.com/flyer" {
			t.Errorf("unexpected Location %q", loc)
		}
	})

	t.Run("Analytics", func(t *testing.T) {
		paths := []string{
			"/api/v1/analytics?range=week",
			"/api/v1/analytics?range=month&qrCodeId=" + qrID,
			"/api/v1/analytics?range=year&profileId=" + profileID,
			"/api/v1/dashboard?range=week",
			"/api/v1/dashboard?range=month&qrCodeId=" + qrID,
			"/api/v1/rankings/profiles?range=week",
		}
		for _, path := range paths {
			req, resp, body := env.call(t, http.MethodGet, path, owner, nil)
			if resp.StatusCode != http.StatusOK {
				t.Errorf("expected 200 from %s, got %d: %s", path, resp.StatusCode, body)
			}
			env.validate(t, req, resp, body, nil)
		}

		req, resp, body := env.call(t, http.MethodGet, "/api/v1/analytics/export.xlsx?range=week", owner, nil)
		env.validate(t, req, resp, body, &openapi3filter.Options{ExcludeResponseBody: true})
	})

	t.Run("Delete", func(t *testing.T) {
		req, resp, body := env.call(t, http.MethodDelete, "/api/v1/qrcodes/"+qrID, owner, nil)
		if resp.StatusCode != http.StatusNoContent {
			t.Fatalf("expected 204, got %d", resp.StatusCode)
		}
		env.validate(t, req, resp, body, nil)
	})
}
