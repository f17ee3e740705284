package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/scanpulse/scanpulse/internal/model"
)

// Cache key prefixes and TTLs.
const (
	qrKeyPrefix       = "qr:"
	negCacheKeySuffix = ":neg"

	// DefaultQrCodeTTL is the TTL for cached QR code data.
	DefaultQrCodeTTL = 24 * time.Hour

	// NegativeCacheTTL is the TTL for negative cache entries.
	NegativeCacheTTL = 5 * time.Minute
)

// Common cache errors.
var (
	ErrCacheMiss = errors.New("cache miss")
)

// GetQrCode retrieves the redirect projection of a QR code by short code.
// Returns ErrCacheMiss if not found.
func (c *Cache) GetQrCode(ctx context.Context, code string) (*model.QrCode, error) {
	cmd := c.client.HGetAll(ctx, qrKeyPrefix+code)
	result, err := cmd.Result()
	if err != nil {
		return nil, fmt.Errorf("redis hgetall failed: %w", err)
	}
	if len(result) == 0 {
		return nil, ErrCacheMiss
	}

	var cached model.CachedQrCode
	if err := cmd.Scan(&cached); err != nil {
		return nil, fmt.Errorf("decode cached qr code: %w", err)
	}
	return cached.ToQrCode(code), nil
}

// SetQrCode stores the redirect projection of qr, replacing any previous entry.
func (c *Cache) SetQrCode(ctx context.Context, qr *model.QrCode) error {
	key := qrKeyPrefix + qr.Code

	pipe := c.client.TxPipeline()
	pipe.Del(ctx, key, key+negCacheKeySuffix)
	pipe.HSet(ctx, key, qr.ToCached())
	pipe.Expire(ctx, key, DefaultQrCodeTTL)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to cache qr code: %w", err)
	}
	return nil
}

// DeleteQrCode removes a QR code and its negative entry from cache.
func (c *Cache) DeleteQrCode(ctx context.Context, code string) error {
	key := qrKeyPrefix + code
	if err := c.client.Del(ctx, key, key+negCacheKeySuffix).Err(); err != nil {
		return fmt.Errorf("failed to delete qr code from cache: %w", err)
	}
	return nil
}

// IsNegativelyCached checks if a short code is in negative cache.
func (c *Cache) IsNegativelyCached(ctx context.Context, code string) (bool, error) {
	exists, err := c.client.Exists(ctx, qrKeyPrefix+code+negCacheKeySuffix).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check negative cache: %w", err)
	}
	return exists > 0, nil
}

// SetNegativeCache marks a short code as not found.
func (c *Cache) SetNegativeCache(ctx context.Context, code string) error {
	if err := c.client.SetEx(ctx, qrKeyPrefix+code+negCacheKeySuffix, "", NegativeCacheTTL).Err(); err != nil {
		return fmt.Errorf("failed to set negative cache: %w", err)
	}
	return nil
}
