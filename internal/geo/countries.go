package geo

import (
	"strings"
	"sync"

	"github.com/pariz/gountries"
)

// CountryNames maps ISO 3166-1 alpha-2 codes to common English names.
type CountryNames struct {
	once  sync.Once
	query *gountries.Query
}

// NewCountryNames creates a lazily-initialized lookup table.
func NewCountryNames() *CountryNames {
	return &CountryNames{}
}

// Name returns the common name for code, or "" when unknown.
func (c *CountryNames) Name(code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	if len(code) != 2 {
		return ""
	}
	c.once.Do(func() {
		c.query = gountries.New()
	})
	country, err := c.query.FindCountryByAlpha(code)
	if err != nil {
		return ""
	}
	return country.Name.Common
}
