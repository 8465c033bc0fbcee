// internal/device/errors.go
package device

import (
	"errors"
	"fmt"
)

// CommError wraps a transport failure.
// The access layer never retries; retry policy belongs to the transport.
type CommError struct {
	Op       string // "read" | "write" | "login"
	Register string
	Address  uint16
	Err      error
}

func (e *CommError) Error() string {
	if e.Register == "" {
		return fmt.Sprintf("device: %s failed: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("device: %s %s (addr=%d) failed: %v", e.Op, e.Register, e.Address, e.Err)
}

func (e *CommError) Unwrap() error { return e.Err }

// IsComm reports whether err is (or wraps) a CommError.
func IsComm(err error) bool {
	var ce *CommError
	return errors.As(err, &ce)
}

var (
	// ErrGateTimeout is returned by TryDo when the gate stayed busy.
	ErrGateTimeout = errors.New("device: register gate busy")

	// ErrNotWritable rejects writes to registers not declared writable.
	ErrNotWritable = errors.New("device: register not writable")

	// ErrSlotTaken means another control session owns the device.
	ErrSlotTaken = errors.New("device: control slot already claimed")
)
