// internal/sequencer/builder.go
package sequencer

import (
	"fmt"
	"time"

	cfg "github.com/tamzrod/inverter-probe/internal/config"
	"github.com/tamzrod/inverter-probe/internal/device"
	"github.com/tamzrod/inverter-probe/internal/register"
	"github.com/tamzrod/inverter-probe/internal/validate"
)

// Build constructs a Sequencer from the control section.
// Returns nil, nil when no trigger register is configured.
func Build(c cfg.ControlConfig, flag *validate.ErrorFlag, dev *device.Session) (*Sequencer, error) {
	if c.Trigger == "" {
		return nil, nil
	}

	specs, err := dev.Catalogue.Resolve(c.Trigger, c.TargetSoC, c.ChargePower, c.DischargePower, c.SoC)
	if err != nil {
		return nil, fmt.Errorf("sequencer: %w", err)
	}
	regs := Registers{
		Trigger:        specs[0],
		TargetSoC:      specs[1],
		ChargePower:    specs[2],
		DischargePower: specs[3],
		SoC:            specs[4],
	}
	if regs.Period, err = optional(dev.Catalogue, c.Period); err != nil {
		return nil, err
	}
	if regs.SettingMode, err = optional(dev.Catalogue, c.SettingMode); err != nil {
		return nil, err
	}

	return New(
		Config{
			Registers:       regs,
			ErrorFlag:       flag,
			SoCCadence:      time.Duration(c.SoCCadenceMs) * time.Millisecond,
			SafetyTimeout:   time.Duration(c.SafetyTimeoutS) * time.Second,
			StopRetries:     c.StopRetries,
			StopBackoff:     time.Duration(c.StopBackoffMs) * time.Millisecond,
			TeardownTimeout: time.Duration(c.TeardownTimeoutMs) * time.Millisecond,
		},
		dev,
	)
}

func optional(cat *register.Catalogue, name string) (*register.Spec, error) {
	if name == "" {
		return nil, nil
	}
	spec, ok := cat.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("sequencer: unknown register %q", name)
	}
	return &spec, nil
}
