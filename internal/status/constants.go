// internal/status/constants.go
package status

// Health codes published with every snapshot.
// These values are part of the published payload and MUST NOT be configurable.

// HealthUnknown represents an unknown or boot state.
const HealthUnknown uint16 = 0

// HealthOK represents a healthy device.
const HealthOK uint16 = 1

// HealthError represents a device error state.
const HealthError uint16 = 2

// HealthStale represents a stale data state.
const HealthStale uint16 = 3

// ---- LIMITS ----

// MaxSecondsInError caps the seconds-in-error counter (16-bit register width).
const MaxSecondsInError = 65535

// ErrorCodeGeneric is reported when an error carries no code.
const ErrorCodeGeneric uint16 = 1

// ErrorCodeGateBusy is reported for polls that could not get the device gate.
const ErrorCodeGateBusy uint16 = 0xFFFF

// HealthName renders a health code.
func HealthName(h uint16) string {
	switch h {
	case HealthOK:
		return "OK"
	case HealthError:
		return "ERROR"
	case HealthStale:
		return "STALE"
	default:
		return "UNKNOWN"
	}
}
