// internal/status/tracker_test.go
package status

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/goburrow/modbus"

	"github.com/tamzrod/inverter-probe/internal/device"
)

type codeErr uint16

func (c codeErr) Error() string { return fmt.Sprintf("code %d", uint16(c)) }
func (c codeErr) Code() uint16 { return uint16(c) }

func TestErrorCode(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want uint16
	}{
		{"nil", nil, 0},
		{"generic", errors.New("boom"), ErrorCodeGeneric},
		{"modbus exception", &device.CommError{Op: "read", Err: &modbus.ModbusError{FunctionCode: 0x83, ExceptionCode: 2}}, 2},
		{"coder", fmt.Errorf("wrapped: %w", codeErr(42)), 42},
		{"gate busy", device.ErrGateTimeout, ErrorCodeGateBusy},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ErrorCode(tc.err); got != tc.want {
				t.Fatalf("ErrorCode() = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestTracker_ErrorThenRecovery(t *testing.T) {
	tr := NewTracker("inv1", 0)
	now := time.Now()

	if !tr.Observe(now, errors.New("timeout")) {
		t.Fatalf("first error must change snapshot")
	}
	if tr.Observe(now, errors.New("timeout")) {
		t.Fatalf("same error twice must not change snapshot")
	}

	for i := 0; i < 3; i++ {
		tr.Tick(now)
	}
	s := tr.Snapshot()
	if s.Health != HealthError || s.SecondsInError != 3 || s.LastErrorCode != ErrorCodeGeneric {
		t.Fatalf("unexpected snapshot %+v", s)
	}

	if !tr.Observe(now, nil) {
		t.Fatalf("recovery must change snapshot")
	}
	s = tr.Snapshot()
	if s.Health != HealthOK || s.SecondsInError != 0 || s.LastErrorCode != 0 {
		t.Fatalf("not reset on recovery: %+v", s)
	}
	if tr.Tick(now) {
		t.Fatalf("healthy tick must not change snapshot")
	}
}

func TestTracker_UnknownDoesNotCount(t *testing.T) {
	tr := NewTracker("inv1", time.Second)
	if tr.Tick(time.Now()) {
		t.Fatalf("boot state must not count seconds in error")
	}
}

func TestTracker_Stale(t *testing.T) {
	tr := NewTracker("inv1", 3*time.Second)
	t0 := time.Now()
	tr.Observe(t0, nil)

	if tr.Tick(t0.Add(2 * time.Second)) {
		t.Fatalf("not stale yet")
	}
	if !tr.Tick(t0.Add(4 * time.Second)) {
		t.Fatalf("expected stale transition")
	}
	if s := tr.Snapshot(); s.Health != HealthStale || s.SecondsInError != 1 {
		t.Fatalf("unexpected snapshot %+v", s)
	}

	tr.Observe(t0.Add(5*time.Second), nil)
	if s := tr.Snapshot(); s.Health != HealthOK {
		t.Fatalf("fresh sample must recover: %+v", s)
	}
}

func TestTracker_SecondsSaturate(t *testing.T) {
	tr := NewTracker("inv1", 0)
	tr.Observe(time.Now(), errors.New("x"))
	tr.snap.SecondsInError = MaxSecondsInError

	if tr.Tick(time.Now()) {
		t.Fatalf("saturated counter must not change")
	}
}

func TestTracker_Session(t *testing.T) {
	tr := NewTracker("inv1", 0)
	if !tr.SetSession("abc", false) || tr.SetSession("abc", false) {
		t.Fatalf("session change detection broken")
	}
	if !tr.SetSession("", true) {
		t.Fatalf("degraded flag must change snapshot")
	}
}

func TestEncode(t *testing.T) {
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	b, err := Encode(Snapshot{Device: "inv1", Health: HealthError, LastErrorCode: 2, SecondsInError: 7, LastSample: at, Degraded: true})
	if err != nil {
		t.Fatalf("Encode err=%v", err)
	}

	var got map[string]any
	if err := json.Unmarshal(b, &got); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if got["health"] != "ERROR" || got["seconds_in_error"] != float64(7) || got["last_sample"] != "2025-06-01T12:00:00Z" {
		t.Fatalf("unexpected payload %s", b)
	}
	if _, ok := got["session"]; ok {
		t.Fatalf("empty session must be omitted: %s", b)
	}
}
