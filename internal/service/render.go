package service

import (
	"context"
	"fmt"

	qrcode "github.com/skip2/go-qrcode"
)

// PNG size bounds in pixels.
const (
	DefaultImageSize = 256
	MinImageSize     = 64
	MaxImageSize     = 1024
)

// RenderPNG encodes the scan URL of an owner's QR code as a PNG of size
// pixels, clamped to [MinImageSize, MaxImageSize].
func (s *QrCodeService) RenderPNG(ctx context.Context, ownerID, id string, size int) ([]byte, error) {
	qr, err := s.Get(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}
	if qr.IsDeleted() {
		return nil, ErrNotFound
	}

	switch {
	case size == 0:
		size = DefaultImageSize
	case size < MinImageSize:
		size = MinImageSize
	case size > MaxImageSize:
		size = MaxImageSize
	}

	png, err := qrcode.Encode(s.ShortURL(qr.Code), qrcode.Medium, size)
	if err != nil {
		return nil, fmt.Errorf("encode qr png: %w", err)
	}
	return png, nil
}
