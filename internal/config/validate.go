// internal/config/validate.go
package config

import (
	"fmt"
	"strings"
)

// Scenario kinds.
const (
	KindEmptyValue       = "empty_value"
	KindOutOfRange       = "out_of_range"
	KindInterleavedWrite = "interleaved_write"
	KindSleepWake        = "sleep_wake"
	KindAlarmReadback    = "alarm_readback"
	KindRegisterDump     = "register_dump"
	KindRestoreDefaults  = "restore_defaults"
)

var classifications = map[string]bool{
	"ACCEPTED": true, "CLAMPED": true, "DEFAULTED": true, "REJECTED": true,
}

// Validate checks configuration correctness.
// It performs declarative validation only.
// It MUST NOT mutate configuration.
// Register names are resolved later against the register table.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config: nil config")
	}

	// ------------------------------------------------------------
	// DEVICE
	// ------------------------------------------------------------

	d := cfg.Device
	switch d.Transport {
	case "tcp":
		if d.Endpoint == "" {
			return fmt.Errorf("device %q: tcp transport requires endpoint", d.ID)
		}
	case "rtu":
		if d.Serial.Port == "" {
			return fmt.Errorf("device %q: rtu transport requires serial.port", d.ID)
		}
		if d.Login != nil {
			return fmt.Errorf("device %q: login is only supported over tcp", d.ID)
		}
		switch d.Serial.Parity {
		case "", "N", "E", "O":
		default:
			return fmt.Errorf("device %q: serial.parity must be N, E or O", d.ID)
		}
	default:
		return fmt.Errorf("device %q: transport must be tcp or rtu, got %q", d.ID, d.Transport)
	}
	if d.Login != nil && d.Login.Password == "" {
		return fmt.Errorf("device %q: login.password required", d.ID)
	}
	if d.TimeoutMs < 0 || d.SettleMs < 0 {
		return fmt.Errorf("device %q: timeouts must be >= 0", d.ID)
	}

	if cfg.Registers == "" {
		return fmt.Errorf("registers: register table path required")
	}

	// ------------------------------------------------------------
	// CONTROL (required only when something drives a session)
	// ------------------------------------------------------------

	needsControl := len(cfg.Cycles) > 0
	for _, s := range cfg.Scenarios {
		if s.Kind == KindEmptyValue || s.Kind == KindInterleavedWrite {
			needsControl = true
		}
	}
	if needsControl {
		c := cfg.Control
		for name, v := range map[string]string{
			"trigger":         c.Trigger,
			"target_soc":      c.TargetSoC,
			"charge_power":    c.ChargePower,
			"discharge_power": c.DischargePower,
			"soc":             c.SoC,
		} {
			if v == "" {
				return fmt.Errorf("control: %s register required", name)
			}
		}
	}
	if cfg.Control.StopRetries < 0 {
		return fmt.Errorf("control: stop_retries must be >= 0")
	}

	if cfg.ErrorFlag != nil && cfg.ErrorFlag.Register == "" {
		return fmt.Errorf("error_flag: register required")
	}

	// ------------------------------------------------------------
	// TELEMETRY
	// ------------------------------------------------------------

	t := cfg.Telemetry
	if len(t.Registers) > 0 && t.IntervalMs < 0 {
		return fmt.Errorf("telemetry: interval_ms must be >= 0")
	}
	if t.MaxWaitMs < 0 || t.DurationS < 0 {
		return fmt.Errorf("telemetry: max_wait_ms and duration_s must be >= 0")
	}
	if t.IntervalMs > 0 && t.MaxWaitMs > t.IntervalMs {
		return fmt.Errorf("telemetry: max_wait_ms %d exceeds interval_ms %d", t.MaxWaitMs, t.IntervalMs)
	}

	// ------------------------------------------------------------
	// SCENARIOS
	// ------------------------------------------------------------

	names := make(map[string]bool)
	for i, s := range cfg.Scenarios {
		id := s.Name
		if id == "" {
			id = fmt.Sprintf("#%d", i)
		}
		if s.Name != "" {
			if names[s.Name] {
				return fmt.Errorf("scenario %q: duplicate name", s.Name)
			}
			names[s.Name] = true
		}
		if s.Expect != "" && !classifications[strings.ToUpper(s.Expect)] {
			return fmt.Errorf("scenario %s: unknown expect %q", id, s.Expect)
		}
		if s.Mode != "" && s.Mode != "charge" && s.Mode != "discharge" {
			return fmt.Errorf("scenario %s: mode must be charge or discharge", id)
		}
		if s.SettleMs < 0 || s.DurationS < 0 {
			return fmt.Errorf("scenario %s: settle_ms and duration_s must be >= 0", id)
		}

		switch s.Kind {
		case KindEmptyValue:
			if s.Register == "" {
				return fmt.Errorf("scenario %s: empty_value requires register", id)
			}
		case KindOutOfRange, KindInterleavedWrite:
			if s.Register == "" || len(s.Values) == 0 {
				return fmt.Errorf("scenario %s: %s requires register and values", id, s.Kind)
			}
		case KindSleepWake:
			if s.Register == "" || len(s.Values) != 2 {
				return fmt.Errorf("scenario %s: sleep_wake requires register and values [sleep, wake]", id)
			}
		case KindAlarmReadback:
			if len(s.Readback) == 0 {
				return fmt.Errorf("scenario %s: alarm_readback requires readback registers", id)
			}
		case KindRegisterDump:
			// empty readback dumps the whole register table
		case KindRestoreDefaults:
			if len(s.Writes) == 0 {
				return fmt.Errorf("scenario %s: restore_defaults requires writes", id)
			}
			for j, w := range s.Writes {
				if w.Register == "" {
					return fmt.Errorf("scenario %s: writes[%d] requires register", id, j)
				}
			}
		default:
			return fmt.Errorf("scenario %s: unknown kind %q", id, s.Kind)
		}
	}

	// ------------------------------------------------------------
	// CYCLES
	// ------------------------------------------------------------

	for i, c := range cfg.Cycles {
		if c.Mode != "charge" && c.Mode != "discharge" {
			return fmt.Errorf("cycle #%d: mode must be charge or discharge", i)
		}
		if (c.DurationS > 0) == (c.TargetSoC != nil) {
			return fmt.Errorf("cycle #%d: exactly one of duration_s and target_soc required", i)
		}
		if c.TargetSoC != nil && (*c.TargetSoC < 0 || *c.TargetSoC > 100) {
			return fmt.Errorf("cycle #%d: target_soc %v out of 0..100", i, *c.TargetSoC)
		}
		if c.Power != nil && *c.Power < 0 {
			return fmt.Errorf("cycle #%d: power must be >= 0", i)
		}
	}

	// ------------------------------------------------------------
	// OUTPUTS
	// ------------------------------------------------------------

	if m := cfg.Outputs.MQTT; m != nil {
		if m.Broker == "" {
			return fmt.Errorf("outputs.mqtt: broker required")
		}
		if m.QoS > 2 {
			return fmt.Errorf("outputs.mqtt: qos must be 0, 1 or 2")
		}
	}

	return nil
}
