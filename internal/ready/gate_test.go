package ready

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func TestGateStartsClosed(t *testing.T) {
	g := NewGate("test", nil)
	if g.Ready() {
		t.Error("Ready() = true before Open()")
	}
}

func TestGateOpenIsIdempotent(t *testing.T) {
	g := NewGate("test", nil)
	g.Open()
	g.Open()
	if !g.Ready() {
		t.Error("Ready() = false after Open()")
	}
	select {
	case <-g.Done():
	default:
		t.Error("Done() channel should be closed after Open()")
	}
}

func TestRequireFailsFastWhenClosed(t *testing.T) {
	g := NewGate("ble", nil)
	start := time.Now()
	err := g.Require(context.Background(), 0)
	if !errors.Is(err, ErrNotReady) {
		t.Fatalf("Require() error = %v, want ErrNotReady", err)
	}
	if time.Since(start) > 50*time.Millisecond {
		t.Error("Require() with zero wait should not block")
	}
}

func TestRequireWaitsForOpen(t *testing.T) {
	g := NewGate("ble", nil)
	go func() {
		time.Sleep(20 * time.Millisecond)
		g.Open()
	}()
	if err := g.Require(context.Background(), time.Second); err != nil {
		t.Fatalf("Require() error = %v", err)
	}
}

func TestRequireTimesOut(t *testing.T) {
	g := NewGate("camera", nil)
	err := g.Require(context.Background(), 20*time.Millisecond)
	if !errors.Is(err, ErrNotReady) {
		t.Fatalf("Require() error = %v, want ErrNotReady", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Require() error = %v, should wrap context.DeadlineExceeded", err)
	}
}

func TestPollOpensAfterProbeSucceeds(t *testing.T) {
	g := NewGate("ble", nil)
	var calls atomic.Int32
	probe := func() error {
		if calls.Add(1) < 3 {
			return errors.New("not yet")
		}
		return nil
	}

	if err := Poll(context.Background(), g, time.Millisecond, probe); err != nil {
		t.Fatalf("Poll() error = %v", err)
	}
	if !g.Ready() {
		t.Error("gate should be open after Poll() returns nil")
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("probe called %d times, want 3", got)
	}
}

func TestPollStopsOnCancel(t *testing.T) {
	g := NewGate("ble", nil)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	err := Poll(ctx, g, 5*time.Millisecond, func() error { return errors.New("never") })
	if !errors.Is(err, ErrNotReady) {
		t.Fatalf("Poll() error = %v, want ErrNotReady", err)
	}
	if g.Ready() {
		t.Error("gate should stay closed when the probe never succeeds")
	}
}

func TestPollReturnsWhenOpenedElsewhere(t *testing.T) {
	g := NewGate("ble", nil)
	go func() {
		time.Sleep(10 * time.Millisecond)
		g.Open()
	}()
	err := Poll(context.Background(), g, time.Hour, func() error { return errors.New("never") })
	if err != nil {
		t.Fatalf("Poll() error = %v", err)
	}
}

func TestGateLogsToInjectedLogger(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	g := NewGate("camera", log)

	var probes atomic.Int32
	err := Poll(context.Background(), g, time.Millisecond, func() error {
		if probes.Add(1) < 2 {
			return errors.New("still loading")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Poll() error = %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "waiting for capability") || !strings.Contains(out, "still loading") {
		t.Errorf("probe failure not logged to injected logger:\n%s", out)
	}
	if !strings.Contains(out, "capability ready") || !strings.Contains(out, "gate=camera") {
		t.Errorf("open not logged to injected logger:\n%s", out)
	}
}
