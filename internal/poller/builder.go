// internal/poller/builder.go
package poller

import (
	"fmt"
	"time"

	cfg "github.com/tamzrod/inverter-probe/internal/config"
	"github.com/tamzrod/inverter-probe/internal/device"
)

// Build constructs a Poller from the telemetry section, resolving register
// names against the device register table.
// Returns nil, nil when no telemetry registers are configured.
func Build(t cfg.TelemetryConfig, dev *device.Session) (*Poller, error) {
	if len(t.Registers) == 0 {
		return nil, nil
	}

	specs, err := dev.Catalogue.Resolve(t.Registers...)
	if err != nil {
		return nil, fmt.Errorf("poller: %w", err)
	}

	return New(
		Config{
			DeviceID:  dev.ID,
			Interval:  time.Duration(t.IntervalMs) * time.Millisecond,
			Registers: specs,
			Duration:  time.Duration(t.DurationS) * time.Second,
			MaxWait:   time.Duration(t.MaxWaitMs) * time.Millisecond,
		},
		dev,
	)
}
