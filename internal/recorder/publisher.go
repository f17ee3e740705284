package recorder

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/scanpulse/scanpulse/internal/metrics"
	"github.com/scanpulse/scanpulse/internal/model"
)

const (
	// StreamKey is the Redis stream for queued scans.
	StreamKey = "stream:scan_events"

	// DeadLetterStreamKey is the Redis stream for poison messages.
	DeadLetterStreamKey = "stream:scan_events:dlq"

	// MaxStreamLen is the approximate max length of the stream.
	MaxStreamLen = 100000

	// PublishTimeout is the max time to wait for Redis publish.
	PublishTimeout = 100 * time.Millisecond
)

// ScanPayload is the compact wire format of a queued scan.
type ScanPayload struct {
	QrCodeID  string `json:"qid"`
	Code      string `json:"c"`
	IP        string `json:"ip,omitempty"`
	UserAgent string `json:"ua,omitempty"`
	Referrer  string `json:"r,omitempty"`
	Host      string `json:"h,omitempty"`
	ScannedAt int64  `json:"t"` // Unix milliseconds
}

// NewScanPayload captures a scan for the stream.
func NewScanPayload(qr *model.QrCode, rc RequestContext) ScanPayload {
	return ScanPayload{
		QrCodeID:  qr.ID,
		Code:      qr.Code,
		IP:        rc.IP,
		UserAgent: truncate(rc.UserAgent),
		Referrer:  truncate(rc.Referrer),
		Host:      rc.Host,
		ScannedAt: rc.At.UnixMilli(),
	}
}

// StreamPublisher enqueues scans to a Redis stream for StreamWorker.
type StreamPublisher struct {
	redis   *redis.Client
	now     func() time.Time
	logger  *slog.Logger
	metrics metrics.Recorder

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewStreamPublisher creates a stream-backed dispatcher.
func NewStreamPublisher(client *redis.Client, logger *slog.Logger, recorder metrics.Recorder) *StreamPublisher {
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	return &StreamPublisher{
		redis:   client,
		now:     time.Now,
		logger:  logger.With("component", "recorder.publisher"),
		metrics: recorder,
	}
}

// Publish adds a scan to the stream synchronously.
func (p *StreamPublisher) Publish(ctx context.Context, payload ScanPayload) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal scan: %w", err)
	}

	id, err := p.redis.XAdd(ctx, &redis.XAddArgs{
		Stream: StreamKey,
		MaxLen: MaxStreamLen,
		Approx: true,
		ID:     "*",
		Values: map[string]interface{}{
			"payload": string(data),
		},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("xadd: %w", err)
	}
	return id, nil
}

// Dispatch publishes the scan in a tracked background task.
func (p *StreamPublisher) Dispatch(qr *model.QrCode, rc RequestContext) {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		p.logger.Warn("scan dropped", "qr_code_id", qr.ID, "reason", "shutting_down")
		p.metrics.IncScanDispatched("dropped")
		return
	}
	p.wg.Add(1)
	p.mu.RUnlock()

	if rc.At.IsZero() {
		rc.At = p.now()
	}
	payload := NewScanPayload(qr, rc)
	p.metrics.IncScanDispatched("queued")

	go func() {
		defer p.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), PublishTimeout)
		defer cancel()

		streamID, err := p.Publish(ctx, payload)
		if err != nil {
			p.logger.Warn("failed to publish scan",
				"qr_code_id", payload.QrCodeID,
				"error", err,
			)
			p.metrics.IncStreamEventPublished("dropped")
			return
		}
		p.logger.Debug("scan published",
			"qr_code_id", payload.QrCodeID,
			"stream_id", streamID,
		)
		p.metrics.IncStreamEventPublished("success")
	}()
}

// Shutdown waits for pending publishes.
func (p *StreamPublisher) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ValidatePayload checks a decoded stream payload.
func ValidatePayload(payload ScanPayload) error {
	if payload.QrCodeID == "" {
		return fmt.Errorf("qr_code_id is required")
	}
	if payload.ScannedAt <= 0 {
		return fmt.Errorf("scanned_at must be set")
	}
	if len(payload.Referrer) > maxMetaLength {
		return fmt.Errorf("referrer too long")
	}
	if len(payload.UserAgent) > maxMetaLength {
		return fmt.Errorf("user_agent too long")
	}
	return nil
}

// NewConsumerID creates a stable-ish consumer ID for Redis consumer groups.
func NewConsumerID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}
	return fmt.Sprintf("%s-%d-%d", host, os.Getpid(), time.Now().UnixNano())
}
