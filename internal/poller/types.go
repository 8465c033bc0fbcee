// internal/poller/types.go
package poller

import (
	"strconv"
	"time"

	"github.com/tamzrod/inverter-probe/internal/register"
)

// Sample is one telemetry snapshot produced by a poll cycle.
// Values keep the configured register order.
type Sample struct {
	ID     string
	Device string
	At     time.Time

	Values []register.Value
	Err    error // non-nil means the poll cycle failed
}

// Get returns the scaled value of the named register.
func (s Sample) Get(name string) (float64, bool) {
	for _, v := range s.Values {
		if v.Spec.Name == name {
			return v.Scaled, true
		}
	}
	return 0, false
}

// Columns is the fixed field order used by tabular sinks.
func (s Sample) Columns(names []string) []string {
	cols := make([]string, 0, len(names)+4)
	cols = append(cols, "id", "device", "timestamp")
	cols = append(cols, names...)
	return append(cols, "error")
}

// Row renders the sample in Columns order. Missing values are empty.
func (s Sample) Row(names []string) []string {
	row := make([]string, 0, len(names)+4)
	row = append(row, s.ID, s.Device, s.At.Format(time.RFC3339Nano))
	for _, n := range names {
		if v, ok := s.Get(n); ok {
			row = append(row, strconv.FormatFloat(v, 'f', -1, 64))
		} else {
			row = append(row, "")
		}
	}
	errText := ""
	if s.Err != nil {
		errText = s.Err.Error()
	}
	return append(row, errText)
}

// Stats counts poll ticks. Missed ticks are ticks where the gate could not
// be acquired within the bounded wait.
type Stats struct {
	Ticks                int
	Samples              int
	Failed               int
	Missed               int
	MaxConsecutiveMissed int
}
