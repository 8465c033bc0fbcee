// internal/status/tracker.go
package status

import (
	"errors"
	"sync"
	"time"

	"github.com/goburrow/modbus"

	"github.com/tamzrod/inverter-probe/internal/device"
)

// Tracker derives device health from poll outcomes.
// Observe is called per sample, Tick at 1 Hz. Both report whether the
// snapshot changed and should be republished.
type Tracker struct {
	mu         sync.Mutex
	snap       Snapshot
	staleAfter time.Duration
}

// NewTracker starts in HealthUnknown. staleAfter <= 0 disables STALE.
func NewTracker(deviceID string, staleAfter time.Duration) *Tracker {
	return &Tracker{
		snap:       Snapshot{Device: deviceID, Health: HealthUnknown},
		staleAfter: staleAfter,
	}
}

// Snapshot returns the current state.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snap
}

// Observe folds one poll outcome into the snapshot.
func (t *Tracker) Observe(at time.Time, err error) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	changed := false
	if err == nil {
		// Recovery / OK
		t.snap.LastSample = at
		if t.snap.Health != HealthOK {
			t.snap.Health = HealthOK
			changed = true
		}
		// Reset last error code and seconds-in-error when healthy.
		if t.snap.LastErrorCode != 0 || t.snap.SecondsInError != 0 {
			t.snap.LastErrorCode = 0
			t.snap.SecondsInError = 0
			changed = true
		}
		return changed
	}

	if t.snap.Health != HealthError {
		t.snap.Health = HealthError
		changed = true
	}
	if code := ErrorCode(err); t.snap.LastErrorCode != code {
		t.snap.LastErrorCode = code
		changed = true
	}
	// seconds_in_error increments on Tick only.
	return changed
}

// Tick advances the 1 Hz counters at now.
func (t *Tracker) Tick(now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	changed := false
	if t.snap.Health == HealthOK && t.staleAfter > 0 && now.Sub(t.snap.LastSample) > t.staleAfter {
		t.snap.Health = HealthStale
		changed = true
	}

	// Tick 1 Hz while not OK.
	if t.snap.Health != HealthOK && t.snap.Health != HealthUnknown && t.snap.SecondsInError < MaxSecondsInError {
		t.snap.SecondsInError++
		changed = true
	}
	return changed
}

// SetSession records the control session owning the device ("" = none).
func (t *Tracker) SetSession(id string, degraded bool) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.snap.Session == id && t.snap.Degraded == degraded {
		return false
	}
	t.snap.Session = id
	t.snap.Degraded = degraded
	return true
}

// ErrorCode extracts a best-effort uint16 code from an error without assuming concrete types.
// Modbus exceptions report their exception code. Errors without a code report 1.
func ErrorCode(err error) uint16 {
	if err == nil {
		return 0
	}
	if errors.Is(err, device.ErrGateTimeout) {
		return ErrorCodeGateBusy
	}

	var me *modbus.ModbusError
	if errors.As(err, &me) {
		return uint16(me.ExceptionCode)
	}

	type coder interface{ Code() uint16 }
	var c coder
	if errors.As(err, &c) {
		return c.Code()
	}

	return ErrorCodeGeneric
}
