// internal/writer/status_writer.go
package writer

import (
	"fmt"

	"github.com/tamzrod/inverter-probe/internal/status"
)

// StatusWriter is the delivery-only contract for device status.
// It receives a snapshot and delivers it when it differs from the last
// delivered one.
type StatusWriter interface {
	WriteStatus(s status.Snapshot) error
}

// dedupStatusWriter suppresses repeats. On any delivery failure, the next
// call re-asserts the full snapshot even if unchanged.
type dedupStatusWriter struct {
	sink StatusWriter

	needFull bool
	last     status.Snapshot
}

// NewStatusWriter wraps sink with change-only delivery.
func NewStatusWriter(sink StatusWriter) StatusWriter {
	return &dedupStatusWriter{sink: sink, needFull: true}
}

func (sw *dedupStatusWriter) WriteStatus(s status.Snapshot) error {
	if !sw.needFull && s == sw.last {
		return nil
	}

	if err := sw.sink.WriteStatus(s); err != nil {
		sw.needFull = true
		return fmt.Errorf("status writer: %w", err)
	}

	sw.needFull = false
	sw.last = s
	return nil
}
