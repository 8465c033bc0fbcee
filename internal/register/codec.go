// internal/register/codec.go
package register

import (
	"fmt"
	"math"
)

// Scale converts a raw register integer into engineering units.
func (s Spec) Scale(raw int64) float64 {
	return float64(raw)/s.gain() + s.Offset
}

// Unscale converts an engineering value into the nearest raw integer.
// Fails if the result does not fit the register's data type, so a negative
// value on an unsigned register is an error, not a wrap.
func (s Spec) Unscale(v float64) (int64, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("register %s: value %v is not finite", s.Name, v)
	}
	raw := int64(math.Round((v - s.Offset) * s.gain()))
	lo, hi := s.Type.Bounds()
	if raw < lo || raw > hi {
		return 0, fmt.Errorf("register %s: raw %d does not fit %s", s.Name, raw, s.Type)
	}
	return raw, nil
}

// ValueOf builds a Value from a raw integer.
func (s Spec) ValueOf(raw int64) Value {
	return Value{Spec: s, Raw: raw, Scaled: s.Scale(raw)}
}

// Decode unpacks Modbus words (big-endian, high word first) into a raw integer.
func (s Spec) Decode(words []uint16) (int64, error) {
	if len(words) != int(s.Type.Words()) {
		return 0, fmt.Errorf("register %s: got %d words, want %d", s.Name, len(words), s.Type.Words())
	}
	switch s.Type {
	case I16:
		return int64(int16(words[0])), nil
	case U32:
		return int64(uint32(words[0])<<16 | uint32(words[1])), nil
	case I32:
		return int64(int32(uint32(words[0])<<16 | uint32(words[1]))), nil
	default:
		return int64(words[0]), nil
	}
}

// Encode packs a raw integer into Modbus words.
func (s Spec) Encode(raw int64) ([]uint16, error) {
	lo, hi := s.Type.Bounds()
	if raw < lo || raw > hi {
		return nil, fmt.Errorf("register %s: raw %d does not fit %s", s.Name, raw, s.Type)
	}
	switch s.Type {
	case U32, I32:
		u := uint32(raw)
		return []uint16{uint16(u >> 16), uint16(u)}, nil
	default:
		return []uint16{uint16(raw)}, nil
	}
}
