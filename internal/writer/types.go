// internal/writer/types.go
package writer

import (
	"github.com/tamzrod/inverter-probe/internal/poller"
	"github.com/tamzrod/inverter-probe/internal/runner"
	"github.com/tamzrod/inverter-probe/internal/status"
)

// Sink persists the probe's output streams.
// Delivery only: no interpretation of what it receives.
type Sink interface {
	WriteSample(s poller.Sample) error
	WriteResult(r runner.TestResult) error
	WriteStatus(s status.Snapshot) error
	Close() error
}
