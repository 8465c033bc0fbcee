// internal/status/snapshot.go
package status

import "time"

// Snapshot represents exactly what the sinks are allowed to deliver.
// It contains no logic and no memory of the past beyond current state.
type Snapshot struct {
	Device         string
	Health         uint16
	LastErrorCode  uint16
	SecondsInError uint16
	LastSample     time.Time

	// Control session currently owning the device, if any.
	Session  string
	Degraded bool
}
