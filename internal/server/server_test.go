package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"testing"
	"time"
)

func newTestServer() *Server {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	return New(handler, Config{
		Port:            0,
		ReadTimeout:     time.Second,
		WriteTimeout:    time.Second,
		ShutdownTimeout: 2 * time.Second,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestServer_RunServesAndShutsDownInOrder(t *testing.T) {
	srv := newTestServer()

	var mu sync.Mutex
	var order []string
	record := func(name string) {
		mu.Lock()
		defer mu.Unlock()
		order = append(order, name)
	}

	srv.OnShutdown("first", func(context.Context) error { record("first"); return nil })
	srv.OnShutdown("second", func(context.Context) error { record("second"); return nil })
	srv.Background("worker", func(ctx context.Context) error {
		<-ctx.Done()
		record("worker")
		return ctx.Err()
	})

	ctx, cancel := context.WithCancel(context.Background())
	result := make(chan error, 1)
	go func() { result <- srv.Run(ctx) }()

	select {
	case <-srv.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("server did not start listening")
	}

	resp, err := http.Get("http://" + srv.Addr() + "/")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("expected 204, got %d", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-result:
		if err != nil {
			t.Fatalf("expected clean shutdown, got %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	want := []string{"worker", "second", "first"}
	if len(order) != len(want) {
		t.Fatalf("expected shutdown order %v, got %v", want, order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("expected shutdown order %v, got %v", want, order)
			break
		}
	}
}

func TestServer_FailedTaskStopsServer(t *testing.T) {
	srv := newTestServer()
	boom := errors.New("stream unavailable")

	stopped := false
	srv.OnShutdown("store", func(context.Context) error { stopped = true; return nil })
	srv.Background("ingest", func(context.Context) error { return boom })

	err := srv.Run(context.Background())
	if !errors.Is(err, boom) {
		t.Fatalf("expected task error, got %v", err)
	}
	if !stopped {
		t.Error("expected registered components to be shut down")
	}
}

func TestServer_ShutdownErrorsAreJoined(t *testing.T) {
	srv := newTestServer()
	errA := errors.New("a failed")
	errB := errors.New("b failed")
	srv.OnShutdown("a", func(context.Context) error { return errA })
	srv.OnShutdown("b", func(context.Context) error { return errB })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := srv.Run(ctx)
	if !errors.Is(err, errA) || !errors.Is(err, errB) {
		t.Fatalf("expected both shutdown errors, got %v", err)
	}
}
