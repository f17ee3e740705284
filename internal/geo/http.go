package geo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/netip"
	"strings"
	"time"

	"github.com/scanpulse/scanpulse/internal/model"
)

// maxResponseSize caps the body read from the remote service.
const maxResponseSize = 64 << 10

// HTTPProvider queries an ip-api.com compatible JSON endpoint.
type HTTPProvider struct {
	baseURL   string
	client    *http.Client
	countries *CountryNames
}

// ipAPIResponse mirrors the fields requested from the remote service.
type ipAPIResponse struct {
	Status      string   `json:"status"`
	Message     string   `json:"message"`
	Country     string   `json:"country"`
	CountryCode string   `json:"countryCode"`
	City        string   `json:"city"`
	Lat         *float64 `json:"lat"`
	Lon         *float64 `json:"lon"`
}

// NewHTTPProvider creates a provider for baseURL; the IP is appended to it.
func NewHTTPProvider(baseURL string, timeout time.Duration) *HTTPProvider {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	return &HTTPProvider{
		baseURL:   baseURL,
		client:    &http.Client{Timeout: timeout},
		countries: NewCountryNames(),
	}
}

// Lookup resolves addr via the remote service.
func (p *HTTPProvider) Lookup(ctx context.Context, addr netip.Addr) (model.Location, error) {
	endpoint := p.baseURL + addr.String() + "?fields=status,message,country,countryCode,city,lat,lon"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return model.Location{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return model.Location{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return model.Location{}, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	var body ipAPIResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseSize)).Decode(&body); err != nil {
		return model.Location{}, fmt.Errorf("decode response: %w", err)
	}
	if body.Status != "success" {
		return model.Location{}, fmt.Errorf("%w: %s", ErrNotFound, body.Message)
	}

	loc := model.Location{
		City:      body.City,
		Country:   body.Country,
		Latitude:  body.Lat,
		Longitude: body.Lon,
	}
	if loc.Country == "" {
		loc.Country = p.countries.Name(body.CountryCode)
	}
	return loc, nil
}
