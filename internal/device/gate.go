// internal/device/gate.go
package device

import (
	"context"
	"time"
)

// gate is a ctx-aware mutex: at most one logical register
// operation is in flight at any instant.
type gate chan struct{}

func newGate() gate { return make(gate, 1) }

func (g gate) acquire(ctx context.Context) error {
	select {
	case g <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// tryAcquire waits at most d.
func (g gate) tryAcquire(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case g <- struct{}{}:
		return nil
	case <-t.C:
		return ErrGateTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g gate) release() { <-g }
