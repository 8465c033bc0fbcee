// internal/writer/writer.go
package writer

import (
	"errors"
	"fmt"
	"strings"

	"github.com/tamzrod/inverter-probe/internal/poller"
	"github.com/tamzrod/inverter-probe/internal/runner"
	"github.com/tamzrod/inverter-probe/internal/status"
)

// multi fans every record out to all sinks. A failing sink never stops
// delivery to the others; failures are joined into one error.
type multi struct {
	sinks []Sink
}

// Fanout returns a Sink delivering to every non-nil sink in order.
func Fanout(sinks ...Sink) Sink {
	m := &multi{}
	for _, s := range sinks {
		if s != nil {
			m.sinks = append(m.sinks, s)
		}
	}
	return m
}

func (m *multi) WriteSample(s poller.Sample) error {
	return m.each("sample", func(k Sink) error { return k.WriteSample(s) })
}

func (m *multi) WriteResult(r runner.TestResult) error {
	return m.each("result", func(k Sink) error { return k.WriteResult(r) })
}

func (m *multi) WriteStatus(s status.Snapshot) error {
	return m.each("status", func(k Sink) error { return k.WriteStatus(s) })
}

func (m *multi) Close() error {
	return m.each("close", func(k Sink) error { return k.Close() })
}

func (m *multi) each(op string, fn func(Sink) error) error {
	var errs []string
	for i, k := range m.sinks {
		if err := fn(k); err != nil {
			errs = append(errs, fmt.Sprintf("writer: %s sink=%d (%T) err=%v", op, i, k, err))
		}
	}
	if len(errs) > 0 {
		return errors.New(strings.Join(errs, " | "))
	}
	return nil
}
