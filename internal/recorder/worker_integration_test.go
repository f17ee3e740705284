package recorder

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/scanpulse/scanpulse/internal/metrics"
	"github.com/scanpulse/scanpulse/internal/model"
	"github.com/scanpulse/scanpulse/internal/testutil"
)

type fakeSink struct {
	mu       sync.Mutex
	failures int
	calls    []RequestContext
}

func (s *fakeSink) RecordOutcome(_ context.Context, _ *model.QrCode, rc RequestContext) (Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, rc)
	if s.failures > 0 {
		s.failures--
		return OutcomeInsertFailed, context.DeadlineExceeded
	}
	return OutcomeRecorded, nil
}

func newRedisClient(t *testing.T) *redis.Client {
	t.Helper()
	url := testutil.RequireEnv(t, "REDIS_URL")
	opts, err := redis.ParseURL(url)
	if err != nil {
		t.Fatalf("parse redis url: %v", err)
	}
	client := redis.NewClient(opts)
	ctx := context.Background()
	if err := testutil.FlushRedis(ctx, client); err != nil {
		t.Fatalf("flush redis: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestStreamWorker_ProcessesAndDeadLetters(t *testing.T) {
	client := newRedisClient(t)
	ctx := context.Background()
	rec := metrics.NewInMemory()

	publisher := NewStreamPublisher(client, testLogger(), rec)
	if _, err := publisher.Publish(ctx, ScanPayload{QrCodeID: "qr-1", Code: "Ab3dE9z", ScannedAt: fixedNow.UnixMilli()}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := client.XAdd(ctx, &redis.XAddArgs{
		Stream: StreamKey,
		Values: map[string]interface{}{"payload": "{not json"},
	}).Err(); err != nil {
		t.Fatalf("xadd poison: %v", err)
	}

	sink := &fakeSink{failures: 1}
	worker := NewStreamWorker(client, sink, testLogger(), "test-consumer", rec)
	worker.SetBlockTimeout(100 * time.Millisecond)
	worker.SetRetryBase(10 * time.Millisecond)
	if err := worker.ensureConsumerGroup(ctx); err != nil {
		t.Fatalf("ensure group: %v", err)
	}
	if err := worker.processOnce(ctx); err != nil {
		t.Fatalf("processOnce: %v", err)
	}

	if len(sink.calls) != 2 {
		t.Fatalf("expected one retry, got %d calls", len(sink.calls))
	}
	if !sink.calls[0].At.Equal(fixedNow) {
		t.Errorf("scan time = %v, want %v", sink.calls[0].At, fixedNow)
	}
	if sink.calls[0].EventID == "" {
		t.Error("expected stream id as event id")
	}

	dlq, err := client.XLen(ctx, DeadLetterStreamKey).Result()
	if err != nil {
		t.Fatalf("xlen dlq: %v", err)
	}
	if dlq != 1 {
		t.Errorf("dead-letter length = %d, want 1", dlq)
	}

	pending, err := client.XPending(ctx, StreamKey, ConsumerGroup).Result()
	if err != nil {
		t.Fatalf("xpending: %v", err)
	}
	if pending.Count != 0 {
		t.Errorf("expected all messages acked, %d pending", pending.Count)
	}

	snap := rec.Snapshot()
	if snap.StreamProcessed["success"] != 1 || snap.StreamProcessed["dead_lettered"] != 1 {
		t.Errorf("unexpected processed counters %v", snap.StreamProcessed)
	}
}

func TestStreamWorker_LeavesFailedMessagesPending(t *testing.T) {
	client := newRedisClient(t)
	ctx := context.Background()

	publisher := NewStreamPublisher(client, testLogger(), nil)
	if _, err := publisher.Publish(ctx, ScanPayload{QrCodeID: "qr-1", ScannedAt: fixedNow.UnixMilli()}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	sink := &fakeSink{failures: DefaultMaxRetries}
	worker := NewStreamWorker(client, sink, testLogger(), "test-consumer", nil)
	worker.SetBlockTimeout(100 * time.Millisecond)
	worker.SetRetryBase(time.Millisecond)
	if err := worker.ensureConsumerGroup(ctx); err != nil {
		t.Fatalf("ensure group: %v", err)
	}
	if err := worker.processOnce(ctx); err != nil {
		t.Fatalf("processOnce: %v", err)
	}

	pending, err := client.XPending(ctx, StreamKey, ConsumerGroup).Result()
	if err != nil {
		t.Fatalf("xpending: %v", err)
	}
	if pending.Count != 1 {
		t.Errorf("expected failed message to stay pending, got %d", pending.Count)
	}
}

func TestStreamWorker_DeadLettersAfterMaxDeliveries(t *testing.T) {
	client := newRedisClient(t)
	ctx := context.Background()
	rec := metrics.NewInMemory()

	publisher := NewStreamPublisher(client, testLogger(), nil)
	if _, err := publisher.Publish(ctx, ScanPayload{QrCodeID: "qr-missing", ScannedAt: fixedNow.UnixMilli()}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	sink := &fakeSink{failures: 100}
	worker := NewStreamWorker(client, sink, testLogger(), "test-consumer", rec)
	worker.SetBlockTimeout(100 * time.Millisecond)
	worker.SetRetryBase(time.Millisecond)
	worker.SetMaxDeliveries(2)
	worker.SetClaimInterval(time.Millisecond)
	worker.SetClaimIdle(time.Millisecond)
	if err := worker.ensureConsumerGroup(ctx); err != nil {
		t.Fatalf("ensure group: %v", err)
	}

	// First delivery fails and stays pending.
	if err := worker.processOnce(ctx); err != nil {
		t.Fatalf("first processOnce: %v", err)
	}
	pending, err := client.XPending(ctx, StreamKey, ConsumerGroup).Result()
	if err != nil {
		t.Fatalf("xpending: %v", err)
	}
	if pending.Count != 1 {
		t.Fatalf("expected message pending after first delivery, got %d", pending.Count)
	}

	// Second delivery comes from the reclaim and exhausts the budget.
	time.Sleep(20 * time.Millisecond)
	if err := worker.processOnce(ctx); err != nil {
		t.Fatalf("second processOnce: %v", err)
	}

	if len(sink.calls) != 2*DefaultMaxRetries {
		t.Errorf("expected %d record attempts, got %d", 2*DefaultMaxRetries, len(sink.calls))
	}

	entries, err := client.XRange(ctx, DeadLetterStreamKey, "-", "+").Result()
	if err != nil {
		t.Fatalf("xrange dlq: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("dead-letter length = %d, want 1", len(entries))
	}
	if reason := entries[0].Values["reason"]; reason != "max_deliveries" {
		t.Errorf("dead-letter reason = %v, want max_deliveries", reason)
	}

	pending, err = client.XPending(ctx, StreamKey, ConsumerGroup).Result()
	if err != nil {
		t.Fatalf("xpending: %v", err)
	}
	if pending.Count != 0 {
		t.Errorf("expected exhausted message acked, %d pending", pending.Count)
	}
	if got := rec.Snapshot().StreamProcessed["dead_lettered"]; got != 1 {
		t.Errorf("dead_lettered = %d, want 1", got)
	}
}

func TestStreamPublisher_DispatchAndShutdown(t *testing.T) {
	client := newRedisClient(t)
	rec := metrics.NewInMemory()
	publisher := NewStreamPublisher(client, testLogger(), rec)

	publisher.Dispatch(&model.QrCode{ID: "qr-1", Code: "Ab3dE9z"}, RequestContext{IP: "203.0.113.7"})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := publisher.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}

	n, err := client.XLen(context.Background(), StreamKey).Result()
	if err != nil {
		t.Fatalf("xlen: %v", err)
	}
	if n != 1 {
		t.Errorf("stream length = %d, want 1", n)
	}
	if rec.Snapshot().StreamPublished["success"] != 1 {
		t.Error("expected published counter")
	}
}
