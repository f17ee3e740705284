package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"

	"github.com/scanpulse/scanpulse/internal/model"
	"github.com/scanpulse/scanpulse/internal/repository"
)

const (
	codeLength      = 7
	codeAlphabet    = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	maxCodeAttempts = 5

	bloomCapacity          = 1_000_000
	bloomFalsePositiveRate = 0.001
)

// WarmCodes loads every assigned code into the collision prefilter.
func (s *QrCodeService) WarmCodes(ctx context.Context) error {
	codes, err := s.store.ListAllCodes(ctx)
	if err != nil {
		return fmt.Errorf("warm code filter: %w", err)
	}

	s.codesMu.Lock()
	for _, code := range codes {
		s.codes.AddString(code)
	}
	s.codesMu.Unlock()

	s.logger.Info("code filter warmed", "codes", len(codes))
	return nil
}

// insertWithUniqueCode assigns a fresh code to qr and inserts it. The
// prefilter skips known codes without a query; the unique constraint
// settles races with other writers.
func (s *QrCodeService) insertWithUniqueCode(ctx context.Context, qr *model.QrCode) error {
	for attempt := 1; attempt <= maxCodeAttempts; attempt++ {
		code, err := s.randomCode()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrCodeGeneration, err)
		}

		taken, err := s.maybeTaken(ctx, code)
		if err != nil {
			return err
		}
		if taken {
			continue
		}

		qr.Code = code
		err = s.store.CreateQrCode(ctx, qr)
		if errors.Is(err, repository.ErrCodeExists) {
			s.remember(code)
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to create qr code: %w", err)
		}

		s.remember(code)
		return nil
	}
	return ErrCodeGeneration
}

// maybeTaken consults the store only when the prefilter reports a possible hit.
func (s *QrCodeService) maybeTaken(ctx context.Context, code string) (bool, error) {
	s.codesMu.Lock()
	seen := s.codes.TestString(code)
	s.codesMu.Unlock()
	if !seen {
		return false, nil
	}

	exists, err := s.store.CodeExists(ctx, code)
	if err != nil {
		return false, fmt.Errorf("check code: %w", err)
	}
	return exists, nil
}

func (s *QrCodeService) remember(code string) {
	s.codesMu.Lock()
	s.codes.AddString(code)
	s.codesMu.Unlock()
}

// randomCode draws codeLength characters from codeAlphabet with crypto/rand.
func randomCode() (string, error) {
	b := make([]byte, codeLength)
	max := big.NewInt(int64(len(codeAlphabet)))
	for i := range b {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b[i] = codeAlphabet[n.Int64()]
	}
	return string(b), nil
}
