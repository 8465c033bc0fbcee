// internal/validate/types.go
package validate

import "github.com/tamzrod/inverter-probe/internal/register"

// Classification is how the device treated a write.
type Classification int

const (
	Accepted Classification = iota
	Clamped
	Defaulted
	Rejected
)

func (c Classification) String() string {
	switch c {
	case Accepted:
		return "ACCEPTED"
	case Clamped:
		return "CLAMPED"
	case Defaulted:
		return "DEFAULTED"
	case Rejected:
		return "REJECTED"
	default:
		return "UNKNOWN"
	}
}

// ParseClassification is the inverse of String.
func ParseClassification(s string) (Classification, bool) {
	for _, c := range []Classification{Accepted, Clamped, Defaulted, Rejected} {
		if c.String() == s {
			return c, true
		}
	}
	return 0, false
}

// Attempt is one issued write. RequestedRaw nil means the write was omitted.
type Attempt struct {
	Spec            register.Spec
	RequestedScaled float64
	RequestedRaw    *int64
}

// Omitted reports whether no write was issued.
func (a Attempt) Omitted() bool { return a.RequestedRaw == nil }

// ErrorFlag locates the device's error indication: flag = (raw & Mask) != 0.
type ErrorFlag struct {
	Spec register.Spec
	Mask uint32
}

// Set evaluates the flag on a raw value.
func (f ErrorFlag) Set(raw int64) bool {
	mask := f.Mask
	if mask == 0 {
		mask = 0xFFFFFFFF
	}
	return uint32(raw)&mask != 0
}

// Outcome is the validated result of one attempt.
type Outcome struct {
	Attempt        Attempt
	PreRaw         int64
	ObservedRaw    int64
	ObservedScaled float64
	ErrorFlag      bool
	Classification Classification
}
