// internal/config/normalize.go
package config

import (
	"fmt"
	"strings"
)

// Defaults applied by Normalize.
const (
	DefaultTimeoutMs         = 3000
	DefaultBaudRate          = 9600
	DefaultIntervalMs        = 5000
	DefaultSoCCadenceMs      = 30000
	DefaultSafetyTimeoutS    = 600
	DefaultStopRetries       = 3
	DefaultStopBackoffMs     = 1000
	DefaultTeardownTimeoutMs = 30000
	DefaultMQTTTopic         = "inverter-probe"
	DefaultScenarioDurationS = 60
)

// Normalize applies post-validation normalization.
// It is allowed to mutate configuration.
// It MUST be called only after Validate().
func Normalize(cfg *Config) {
	if cfg == nil {
		return
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}

	// ------------------------------------------------------------
	// DEVICE
	// ------------------------------------------------------------

	d := &cfg.Device
	if d.ID == "" {
		if d.Transport == "tcp" {
			d.ID = d.Endpoint
		} else {
			d.ID = d.Serial.Port
		}
	}
	if d.TimeoutMs == 0 {
		d.TimeoutMs = DefaultTimeoutMs
	}
	if d.Transport == "rtu" {
		s := &d.Serial
		if s.BaudRate == 0 {
			s.BaudRate = DefaultBaudRate
		}
		if s.DataBits == 0 {
			s.DataBits = 8
		}
		if s.Parity == "" {
			s.Parity = "N"
		}
		if s.StopBits == 0 {
			s.StopBits = 1
		}
	}
	if d.Login != nil && d.Login.Role == "" {
		d.Login.Role = "installer"
	}

	// ------------------------------------------------------------
	// CONTROL
	// ------------------------------------------------------------

	c := &cfg.Control
	if c.SoCCadenceMs == 0 {
		c.SoCCadenceMs = DefaultSoCCadenceMs
	}
	if c.SafetyTimeoutS == 0 {
		c.SafetyTimeoutS = DefaultSafetyTimeoutS
	}
	if c.StopRetries == 0 {
		c.StopRetries = DefaultStopRetries
	}
	if c.StopBackoffMs == 0 {
		c.StopBackoffMs = DefaultStopBackoffMs
	}
	if c.TeardownTimeoutMs == 0 {
		c.TeardownTimeoutMs = DefaultTeardownTimeoutMs
	}

	// ------------------------------------------------------------
	// TELEMETRY
	// ------------------------------------------------------------

	t := &cfg.Telemetry
	if t.IntervalMs == 0 {
		t.IntervalMs = DefaultIntervalMs
	}
	if t.MaxWaitMs == 0 {
		t.MaxWaitMs = t.IntervalMs / 2
	}

	// ------------------------------------------------------------
	// SCENARIOS / CYCLES
	// ------------------------------------------------------------

	for i := range cfg.Scenarios {
		s := &cfg.Scenarios[i]
		if s.Name == "" {
			s.Name = fmt.Sprintf("%s_%d", s.Kind, i+1)
		}
		s.Expect = strings.ToUpper(s.Expect)
		if s.Expect == "" {
			s.Expect = defaultExpect(s.Kind)
		}
		if s.Mode == "" {
			s.Mode = "charge"
		}
		if s.DurationS == 0 {
			s.DurationS = DefaultScenarioDurationS
		}
	}

	for i := range cfg.Cycles {
		c := &cfg.Cycles[i]
		if c.Name != "" {
			continue
		}
		if c.TargetSoC != nil {
			c.Name = fmt.Sprintf("%s_to_%v", c.Mode, *c.TargetSoC)
		} else {
			c.Name = fmt.Sprintf("%s_%ds", c.Mode, c.DurationS)
		}
	}

	// ------------------------------------------------------------
	// OUTPUTS
	// ------------------------------------------------------------

	if m := cfg.Outputs.MQTT; m != nil {
		if m.Topic == "" {
			m.Topic = DefaultMQTTTopic
		}
		if m.ClientID == "" {
			m.ClientID = "inverter-probe-" + cfg.Device.ID
		}
	}
}

func defaultExpect(kind string) string {
	switch kind {
	case KindEmptyValue:
		return "DEFAULTED"
	case KindOutOfRange:
		return "CLAMPED"
	default:
		return "ACCEPTED"
	}
}
