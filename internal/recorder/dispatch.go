package recorder

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/scanpulse/scanpulse/internal/metrics"
	"github.com/scanpulse/scanpulse/internal/model"
)

const (
	// DefaultRecordTimeout bounds one detached recording task.
	DefaultRecordTimeout = 5 * time.Second

	// DefaultMaxInflight caps concurrently running recording tasks.
	DefaultMaxInflight = 256
)

// Dispatcher hands a scan off the response path.
// Dispatch must return without waiting on persistence.
type Dispatcher interface {
	Dispatch(qr *model.QrCode, rc RequestContext)
	Shutdown(ctx context.Context) error
}

// Detached runs each scan as a tracked background task in this process.
type Detached struct {
	recorder *Recorder
	timeout  time.Duration
	sem      *semaphore.Weighted
	logger   *slog.Logger
	metrics  metrics.Recorder

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewDetached creates an in-process dispatcher.
func NewDetached(rec *Recorder, timeout time.Duration, maxInflight int, logger *slog.Logger, recorder metrics.Recorder) *Detached {
	if timeout <= 0 {
		timeout = DefaultRecordTimeout
	}
	if maxInflight <= 0 {
		maxInflight = DefaultMaxInflight
	}
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	return &Detached{
		recorder: rec,
		timeout:  timeout,
		sem:      semaphore.NewWeighted(int64(maxInflight)),
		logger:   logger.With("component", "recorder.detached"),
		metrics:  recorder,
	}
}

// Dispatch schedules qr's scan for recording. Scans are dropped once the
// dispatcher is shut down or when maxInflight tasks are already running.
func (d *Detached) Dispatch(qr *model.QrCode, rc RequestContext) {
	d.mu.RLock()
	if d.closed {
		d.mu.RUnlock()
		d.drop(qr, "shutting_down")
		return
	}
	if !d.sem.TryAcquire(1) {
		d.mu.RUnlock()
		d.drop(qr, "saturated")
		return
	}
	d.wg.Add(1)
	d.mu.RUnlock()

	if rc.At.IsZero() {
		rc.At = d.recorder.now()
	}
	d.metrics.IncScanDispatched("queued")

	go func() {
		defer d.wg.Done()
		defer d.sem.Release(1)
		defer func() {
			if rvr := recover(); rvr != nil {
				d.logger.Error("panic in scan recording task",
					"qr_code_id", qr.ID,
					"panic", rvr,
				)
				d.metrics.IncScanRecorded(string(OutcomeInsertFailed))
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()
		d.recorder.Record(ctx, qr, rc)
	}()
}

// Shutdown stops accepting scans and waits for in-flight tasks.
// It implements server.ShutdownFunc.
func (d *Detached) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.logger.Info("scan recording drained")
		return nil
	case <-ctx.Done():
		d.logger.Warn("scan recording drain timed out")
		return ctx.Err()
	}
}

func (d *Detached) drop(qr *model.QrCode, reason string) {
	d.logger.Warn("scan dropped", "qr_code_id", qr.ID, "reason", reason)
	d.metrics.IncScanDispatched("dropped")
}
