package recorder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/scanpulse/scanpulse/internal/metrics"
	"github.com/scanpulse/scanpulse/internal/model"
)

const (
	// ConsumerGroup is the Redis consumer group name.
	ConsumerGroup = "scan_recorders"

	// DefaultBatchSize is the max messages read per iteration.
	DefaultBatchSize = 200

	// DefaultBlockTimeout is how long to block waiting for messages.
	DefaultBlockTimeout = 5 * time.Second

	// DefaultMaxRetries is the max attempts for a failing insert.
	DefaultMaxRetries = 3

	// DefaultMaxDeliveries is how many times a message may be delivered
	// before a failing scan is dead-lettered.
	DefaultMaxDeliveries = 5

	// DefaultClaimInterval is how often to scan pending messages.
	DefaultClaimInterval = 10 * time.Second

	// DefaultClaimIdle is the idle time before reclaiming pending messages.
	DefaultClaimIdle = 30 * time.Second

	// DefaultMetricsInterval is how often to refresh queue depth metrics.
	DefaultMetricsInterval = 5 * time.Second
)

// Sink records one scan and reports the outcome.
type Sink interface {
	RecordOutcome(ctx context.Context, qr *model.QrCode, rc RequestContext) (Outcome, error)
}

// queuedScan is a decoded stream message.
type queuedScan struct {
	messageID string
	message   redis.XMessage
	payload   ScanPayload
}

// StreamWorker consumes queued scans and hands them to a Sink.
type StreamWorker struct {
	redis           *redis.Client
	sink            Sink
	logger          *slog.Logger
	metrics         metrics.Recorder
	consumerID      string
	batchSize       int
	blockTimeout    time.Duration
	maxRetries      int
	maxDeliveries   int64
	retryBase       time.Duration
	claimInterval   time.Duration
	claimIdle       time.Duration
	metricsInterval time.Duration
	claimStartID    string
	lastClaim       time.Time
	lastMetrics     time.Time

	started  bool
	draining bool
	cancel   context.CancelFunc
	done     chan struct{}
	mu       sync.Mutex
}

// NewStreamWorker creates a consumer in ConsumerGroup.
func NewStreamWorker(client *redis.Client, sink Sink, logger *slog.Logger, consumerID string, recorder metrics.Recorder) *StreamWorker {
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	return &StreamWorker{
		redis:           client,
		sink:            sink,
		logger:          logger.With("component", "recorder.worker", "consumer_id", consumerID),
		metrics:         recorder,
		consumerID:      consumerID,
		batchSize:       DefaultBatchSize,
		blockTimeout:    DefaultBlockTimeout,
		maxRetries:      DefaultMaxRetries,
		maxDeliveries:   DefaultMaxDeliveries,
		retryBase:       time.Second,
		claimInterval:   DefaultClaimInterval,
		claimIdle:       DefaultClaimIdle,
		metricsInterval: DefaultMetricsInterval,
		claimStartID:    "0-0",
	}
}

// SetBatchSize overrides the default batch size.
func (w *StreamWorker) SetBatchSize(size int) {
	if size > 0 {
		w.batchSize = size
	}
}

// SetBlockTimeout overrides the default blocking timeout.
func (w *StreamWorker) SetBlockTimeout(timeout time.Duration) {
	if timeout > 0 {
		w.blockTimeout = timeout
	}
}

// SetRetryBase overrides the first backoff step.
func (w *StreamWorker) SetRetryBase(base time.Duration) {
	if base > 0 {
		w.retryBase = base
	}
}

// SetMaxDeliveries overrides how many deliveries a failing scan gets.
func (w *StreamWorker) SetMaxDeliveries(n int) {
	if n > 0 {
		w.maxDeliveries = int64(n)
	}
}

// SetClaimInterval overrides how often pending messages are reclaimed.
func (w *StreamWorker) SetClaimInterval(interval time.Duration) {
	if interval > 0 {
		w.claimInterval = interval
	}
}

// SetClaimIdle overrides the default pending idle threshold.
func (w *StreamWorker) SetClaimIdle(idle time.Duration) {
	if idle > 0 {
		w.claimIdle = idle
	}
}

// Run starts the worker loop. Blocks until context is cancelled.
func (w *StreamWorker) Run(ctx context.Context) error {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return errors.New("worker already started")
	}
	w.started = true
	w.done = make(chan struct{})
	ctx, w.cancel = context.WithCancel(ctx)
	w.mu.Unlock()

	defer close(w.done)

	if err := w.ensureConsumerGroup(ctx); err != nil {
		return fmt.Errorf("ensure consumer group: %w", err)
	}

	w.logger.Info("scan worker started")

	for {
		w.mu.Lock()
		draining := w.draining
		w.mu.Unlock()

		if draining {
			w.logger.Info("scan worker draining, stopping")
			return nil
		}

		select {
		case <-ctx.Done():
			w.logger.Info("scan worker stopping")
			return ctx.Err()
		default:
			if err := w.processOnce(ctx); err != nil {
				if errors.Is(err, context.Canceled) {
					return nil
				}
				w.logger.Error("process error", "error", err)
				time.Sleep(time.Second)
			}
		}
	}
}

// Shutdown stops the loop after the current batch.
// It implements server.ShutdownFunc.
func (w *StreamWorker) Shutdown(ctx context.Context) error {
	w.mu.Lock()
	if !w.started {
		w.mu.Unlock()
		return nil
	}
	w.draining = true
	cancel := w.cancel
	done := w.done
	w.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	select {
	case <-done:
		w.logger.Info("scan worker shutdown complete")
		return nil
	case <-ctx.Done():
		w.logger.Warn("scan worker shutdown timed out")
		return ctx.Err()
	}
}

func (w *StreamWorker) ensureConsumerGroup(ctx context.Context) error {
	err := w.redis.XGroupCreateMkStream(ctx, StreamKey, ConsumerGroup, "0").Err()
	if err != nil && !isConsumerGroupExistsError(err) {
		return err
	}
	return nil
}

func (w *StreamWorker) processOnce(ctx context.Context) error {
	w.maybeUpdateQueueDepth(ctx)

	messages, err := w.maybeClaimPending(ctx)
	if err != nil {
		w.logger.Warn("failed to claim pending messages", "error", err)
	}
	if len(messages) == 0 {
		messages, err = w.readBatch(ctx)
		if err != nil {
			return err
		}
	}
	if len(messages) == 0 {
		return nil
	}

	start := time.Now()
	scans, ack := w.parseMessages(ctx, messages)
	var failed []queuedScan
	for _, scan := range scans {
		if w.recordWithRetry(ctx, scan) {
			ack = append(ack, scan.messageID)
		} else {
			failed = append(failed, scan)
		}
	}
	ack = append(ack, w.deadLetterExhausted(ctx, failed)...)
	w.metrics.ObserveStreamBatchSize(len(scans))
	w.metrics.ObserveStreamBatchDuration(time.Since(start))

	// Other unacked messages stay pending and are reclaimed later.
	return w.ackMessages(ctx, ack)
}

// deadLetterExhausted moves failed scans that reached maxDeliveries to the
// dead-letter stream and returns their ids for acknowledgement.
func (w *StreamWorker) deadLetterExhausted(ctx context.Context, failed []queuedScan) []string {
	if len(failed) == 0 || ctx.Err() != nil {
		return nil
	}

	deliveries, err := w.deliveryCounts(ctx, failed)
	if err != nil {
		w.logger.Warn("failed to read delivery counts", "error", err)
		return nil
	}

	var ack []string
	for _, scan := range failed {
		count := deliveries[scan.messageID]
		if count < w.maxDeliveries {
			continue
		}
		w.deadLetterMessage(ctx, scan.message, "max_deliveries",
			fmt.Sprintf("recording failed on %d deliveries", count))
		ack = append(ack, scan.messageID)
	}
	return ack
}

// deliveryCounts reads the pending-entry delivery count of each scan.
func (w *StreamWorker) deliveryCounts(ctx context.Context, scans []queuedScan) (map[string]int64, error) {
	cmds := make([]*redis.XPendingExtCmd, len(scans))
	_, err := w.redis.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, scan := range scans {
			cmds[i] = pipe.XPendingExt(ctx, &redis.XPendingExtArgs{
				Stream: StreamKey,
				Group:  ConsumerGroup,
				Start:  scan.messageID,
				End:    scan.messageID,
				Count:  1,
			})
		}
		return nil
	})
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("xpending: %w", err)
	}

	counts := make(map[string]int64, len(scans))
	for _, cmd := range cmds {
		entries, err := cmd.Result()
		if err != nil {
			continue
		}
		for _, entry := range entries {
			counts[entry.ID] = entry.RetryCount
		}
	}
	return counts, nil
}

// recordWithRetry reports whether the message can be acknowledged.
func (w *StreamWorker) recordWithRetry(ctx context.Context, scan queuedScan) bool {
	qr := &model.QrCode{ID: scan.payload.QrCodeID, Code: scan.payload.Code}
	rc := RequestContext{
		IP:        scan.payload.IP,
		UserAgent: scan.payload.UserAgent,
		Referrer:  scan.payload.Referrer,
		Host:      scan.payload.Host,
		At:        time.UnixMilli(scan.payload.ScannedAt).UTC(),
		EventID:   scan.messageID,
	}

	for attempt := 1; attempt <= w.maxRetries; attempt++ {
		outcome, _ := w.sink.RecordOutcome(ctx, qr, rc)
		switch outcome {
		case OutcomeRecorded:
			w.metrics.IncStreamEventProcessed("success")
			w.metrics.ObserveStreamIngestLag(time.Since(rc.At))
			return true
		case OutcomeDuplicate, OutcomeCounterFailed:
			// The event row exists; retrying cannot help the counters.
			w.metrics.IncStreamEventProcessed("success")
			return true
		}

		if attempt == w.maxRetries {
			break
		}
		backoff := w.retryBase << (attempt - 1)
		w.logger.Warn("scan recording failed, retrying",
			"message_id", scan.messageID,
			"attempt", attempt,
			"backoff_seconds", backoff.Seconds(),
		)
		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return false
		case <-timer.C:
		}
	}

	w.metrics.IncStreamEventProcessed("failed")
	return false
}

func (w *StreamWorker) maybeClaimPending(ctx context.Context) ([]redis.XMessage, error) {
	if w.claimInterval <= 0 || w.claimIdle <= 0 {
		return nil, nil
	}
	if !w.lastClaim.IsZero() && time.Since(w.lastClaim) < w.claimInterval {
		return nil, nil
	}

	w.lastClaim = time.Now()
	messages, start, err := w.redis.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   StreamKey,
		Group:    ConsumerGroup,
		Consumer: w.consumerID,
		MinIdle:  w.claimIdle,
		Start:    w.claimStartID,
		Count:    int64(w.batchSize),
	}).Result()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("xautoclaim: %w", err)
	}
	if start != "" {
		w.claimStartID = start
	}
	return messages, nil
}

func (w *StreamWorker) maybeUpdateQueueDepth(ctx context.Context) {
	if w.metricsInterval <= 0 {
		return
	}
	if !w.lastMetrics.IsZero() && time.Since(w.lastMetrics) < w.metricsInterval {
		return
	}
	w.lastMetrics = time.Now()

	groups, err := w.redis.XInfoGroups(ctx, StreamKey).Result()
	if err != nil && err != redis.Nil {
		w.logger.Warn("failed to read stream group info", "error", err)
		return
	}
	for _, group := range groups {
		if group.Name == ConsumerGroup {
			w.metrics.SetStreamQueueDepth(group.Pending + group.Lag)
			return
		}
	}
}

func (w *StreamWorker) readBatch(ctx context.Context) ([]redis.XMessage, error) {
	streams, err := w.redis.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    ConsumerGroup,
		Consumer: w.consumerID,
		Streams:  []string{StreamKey, ">"},
		Count:    int64(w.batchSize),
		Block:    w.blockTimeout,
	}).Result()

	if err == redis.Nil || len(streams) == 0 {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("xreadgroup: %w", err)
	}
	return streams[0].Messages, nil
}

// parseMessages decodes messages. Poison messages are dead-lettered and
// returned in ack so they do not block the group.
func (w *StreamWorker) parseMessages(ctx context.Context, messages []redis.XMessage) ([]queuedScan, []string) {
	scans := make([]queuedScan, 0, len(messages))
	var ack []string

	for _, msg := range messages {
		payload, err := decodeMessage(msg)
		if err != nil {
			var reason string
			switch {
			case errors.Is(err, errInvalidFormat):
				reason = "invalid_format"
			case errors.Is(err, errUnmarshal):
				reason = "unmarshal_error"
			default:
				reason = "validation_error"
			}
			w.deadLetterMessage(ctx, msg, reason, err.Error())
			ack = append(ack, msg.ID)
			continue
		}
		scans = append(scans, queuedScan{messageID: msg.ID, message: msg, payload: payload})
	}
	return scans, ack
}

var (
	errInvalidFormat = errors.New("payload field missing or not a string")
	errUnmarshal     = errors.New("payload is not valid json")
)

func decodeMessage(msg redis.XMessage) (ScanPayload, error) {
	raw, ok := msg.Values["payload"].(string)
	if !ok {
		return ScanPayload{}, errInvalidFormat
	}
	var payload ScanPayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return ScanPayload{}, fmt.Errorf("%w: %v", errUnmarshal, err)
	}
	if err := ValidatePayload(payload); err != nil {
		return ScanPayload{}, err
	}
	return payload, nil
}

func (w *StreamWorker) deadLetterMessage(ctx context.Context, msg redis.XMessage, reason, detail string) {
	w.logger.Warn("dead-lettering poison message",
		"message_id", msg.ID,
		"reason", reason,
		"detail", detail,
	)

	_, err := w.redis.XAdd(ctx, &redis.XAddArgs{
		Stream: DeadLetterStreamKey,
		MaxLen: 10000,
		Approx: true,
		ID:     "*",
		Values: map[string]interface{}{
			"original_id":      msg.ID,
			"original_stream":  StreamKey,
			"reason":           reason,
			"detail":           detail,
			"payload":          fmt.Sprint(msg.Values["payload"]),
			"dead_lettered_at": time.Now().UTC().Format(time.RFC3339),
		},
	}).Result()
	if err != nil {
		w.logger.Error("failed to write to dead-letter queue",
			"message_id", msg.ID,
			"error", err,
		)
	}

	w.metrics.IncStreamEventProcessed("dead_lettered")
}

func (w *StreamWorker) ackMessages(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := w.redis.XAck(ctx, StreamKey, ConsumerGroup, ids...).Err(); err != nil {
		return fmt.Errorf("xack: %w", err)
	}
	return nil
}

func isConsumerGroupExistsError(err error) bool {
	return err != nil && strings.HasPrefix(err.Error(), "BUSYGROUP")
}
