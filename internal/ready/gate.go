// Package ready provides the one-time readiness barrier that guards access
// to host capabilities (the BLE radio, the camera) until they are usable.
package ready

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// DefaultInterval is the delay between capability probes.
const DefaultInterval = 100 * time.Millisecond

// ErrNotReady is returned when an operation is attempted before the gate opened.
var ErrNotReady = errors.New("capability not ready")

// Gate is a barrier that transitions from closed to open exactly once.
// The zero value is not usable; create one with NewGate.
type Gate struct {
	name string
	log  *slog.Logger
	once sync.Once
	done chan struct{}
}

// NewGate creates a closed gate. The name is used in errors and logs; a
// nil log uses slog.Default().
func NewGate(name string, log *slog.Logger) *Gate {
	if log == nil {
		log = slog.Default()
	}
	return &Gate{name: name, log: log, done: make(chan struct{})}
}

// Open opens the gate. Calls after the first are no-ops.
func (g *Gate) Open() {
	g.once.Do(func() {
		close(g.done)
		g.log.Info("[READY] capability ready", "gate", g.name)
	})
}

// Ready reports whether the gate has been opened.
func (g *Gate) Ready() bool {
	select {
	case <-g.done:
		return true
	default:
		return false
	}
}

// Done returns a channel closed when the gate opens.
func (g *Gate) Done() <-chan struct{} {
	return g.done
}

// Wait blocks until the gate opens or ctx is done.
func (g *Gate) Wait(ctx context.Context) error {
	select {
	case <-g.done:
		return nil
	default:
	}
	select {
	case <-g.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%s: %w: %w", g.name, ErrNotReady, ctx.Err())
	}
}

// Require checks the gate on behalf of an operation. With wait <= 0 it
// fails immediately when closed; otherwise it waits up to wait.
func (g *Gate) Require(ctx context.Context, wait time.Duration) error {
	if g.Ready() {
		return nil
	}
	if wait <= 0 {
		return fmt.Errorf("%s: %w", g.name, ErrNotReady)
	}
	ctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()
	return g.Wait(ctx)
}

// Poll calls probe until it succeeds, then opens the gate. The first probe
// runs immediately, later ones every interval. There is no retry limit;
// Poll returns only when the gate opens or ctx is cancelled.
func Poll(ctx context.Context, g *Gate, interval time.Duration, probe func() error) error {
	if interval <= 0 {
		interval = DefaultInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for attempt := 1; ; attempt++ {
		if g.Ready() {
			return nil
		}
		err := probe()
		if err == nil {
			g.Open()
			return nil
		}
		g.log.Debug("[READY] waiting for capability", "gate", g.name, "attempt", attempt, "error", err)

		select {
		case <-ctx.Done():
			return fmt.Errorf("%s: %w: %w", g.name, ErrNotReady, ctx.Err())
		case <-g.done:
			return nil
		case <-ticker.C:
		}
	}
}
