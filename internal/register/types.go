// internal/register/types.go
package register

import "fmt"

// DataType is the on-wire integer layout of a register.
type DataType string

const (
	U16 DataType = "u16"
	I16 DataType = "i16"
	U32 DataType = "u32"
	I32 DataType = "i32"
)

// Words returns how many 16-bit registers the type occupies.
func (t DataType) Words() uint16 {
	switch t {
	case U32, I32:
		return 2
	default:
		return 1
	}
}

// Bounds returns the representable raw range of the type.
func (t DataType) Bounds() (min, max int64) {
	switch t {
	case I16:
		return -1 << 15, 1<<15 - 1
	case U32:
		return 0, 1<<32 - 1
	case I32:
		return -1 << 31, 1<<31 - 1
	default:
		return 0, 1<<16 - 1
	}
}

func (t DataType) valid() bool {
	switch t {
	case U16, I16, U32, I32:
		return true
	}
	return false
}

// Range is an inclusive engineering-unit interval.
type Range struct {
	Min float64 `yaml:"min"`
	Max float64 `yaml:"max"`
}

// Contains reports whether v lies inside the range.
func (r Range) Contains(v float64) bool {
	return v >= r.Min && v <= r.Max
}

// Spec describes one addressable register.
// Immutable once loaded.
type Spec struct {
	Name     string   `yaml:"name"`
	Address  uint16   `yaml:"address"`
	Type     DataType `yaml:"type"`
	Gain     float64  `yaml:"gain"`
	Offset   float64  `yaml:"offset"`
	Range    *Range   `yaml:"range"`
	Writable bool     `yaml:"writable"`
	Input    bool     `yaml:"input"` // FC4 instead of FC3
	Unit     string   `yaml:"unit"`
}

// gain returns the effective gain (missing gain => 1).
func (s Spec) gain() float64 {
	if s.Gain == 0 {
		return 1
	}
	return s.Gain
}

// Epsilon is one raw unit expressed in engineering units.
func (s Spec) Epsilon() float64 {
	return 1 / s.gain()
}

// InRange reports whether v is inside the valid range.
// A register without a declared range accepts everything.
func (s Spec) InRange(v float64) bool {
	if s.Range == nil {
		return true
	}
	return s.Range.Contains(v)
}

func (s Spec) String() string {
	return fmt.Sprintf("%s@%d", s.Name, s.Address)
}

// Value is one observation of a register.
// Raw is authoritative; Scaled is derived from it.
type Value struct {
	Spec   Spec
	Raw    int64
	Scaled float64
}
