// internal/config/validate_test.go
package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// helper to build a minimal valid tcp config quickly
func base() *Config {
	return &Config{
		Device: DeviceConfig{
			ID:        "inv1",
			Transport: "tcp",
			Endpoint:  "192.168.200.1:6607",
		},
		Registers: "registers.yaml",
		Control: ControlConfig{
			Trigger:        "forcible_charge_discharge_write",
			TargetSoC:      "forcible_charge_discharge_soc",
			ChargePower:    "forcible_charge_power",
			DischargePower: "forcible_discharge_power",
			SoC:            "storage_state_of_capacity",
		},
	}
}

func f(v float64) *float64 { return &v }

func expectErr(t *testing.T, cfg *Config, contains string) {
	t.Helper()
	err := Validate(cfg)
	if err == nil {
		t.Fatalf("expected error containing %q, got nil", contains)
	}
	if !strings.Contains(err.Error(), contains) {
		t.Fatalf("expected error containing %q, got %v", contains, err)
	}
}

// ---- tests ----

func TestValidate_MinimalTCP(t *testing.T) {
	if err := Validate(base()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidate_TransportRequired(t *testing.T) {
	cfg := base()
	cfg.Device.Transport = "udp"
	expectErr(t, cfg, "transport must be tcp or rtu")
}

func TestValidate_RTURequiresPort(t *testing.T) {
	cfg := base()
	cfg.Device.Transport = "rtu"
	expectErr(t, cfg, "serial.port")
}

func TestValidate_RTULoginRejected(t *testing.T) {
	cfg := base()
	cfg.Device.Transport = "rtu"
	cfg.Device.Serial.Port = "/dev/ttyUSB0"
	cfg.Device.Login = &LoginConfig{Password: "00000a"}
	expectErr(t, cfg, "only supported over tcp")
}

func TestValidate_LoginNeedsPassword(t *testing.T) {
	cfg := base()
	cfg.Device.Login = &LoginConfig{Role: "installer"}
	expectErr(t, cfg, "login.password")
}

func TestValidate_ControlRequiredForCycles(t *testing.T) {
	cfg := base()
	cfg.Control.Trigger = ""
	if err := Validate(cfg); err != nil {
		t.Fatalf("no cycles: control should be optional, got %v", err)
	}

	cfg.Cycles = []CycleConfig{{Mode: "charge", DurationS: 120}}
	expectErr(t, cfg, "trigger register required")
}

func TestValidate_CycleStopCondition(t *testing.T) {
	cfg := base()

	cfg.Cycles = []CycleConfig{{Mode: "charge"}}
	expectErr(t, cfg, "exactly one of")

	cfg.Cycles = []CycleConfig{{Mode: "charge", DurationS: 60, TargetSoC: f(80)}}
	expectErr(t, cfg, "exactly one of")

	cfg.Cycles = []CycleConfig{{Mode: "discharge", TargetSoC: f(120)}}
	expectErr(t, cfg, "out of 0..100")

	cfg.Cycles = []CycleConfig{{Mode: "discharge", TargetSoC: f(20)}}
	if err := Validate(cfg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidate_ScenarioKinds(t *testing.T) {
	cases := []struct {
		name string
		sc   ScenarioConfig
		err  string
	}{
		{"unknown kind", ScenarioConfig{Kind: "reboot"}, "unknown kind"},
		{"out of range without values", ScenarioConfig{Kind: KindOutOfRange, Register: "p"}, "requires register and values"},
		{"sleep wake needs two values", ScenarioConfig{Kind: KindSleepWake, Register: "s", Values: []float64{1}}, "[sleep, wake]"},
		{"alarm without readback", ScenarioConfig{Kind: KindAlarmReadback}, "readback"},
		{"bad expect", ScenarioConfig{Kind: KindEmptyValue, Register: "p", Expect: "MAYBE"}, "unknown expect"},
		{"bad mode", ScenarioConfig{Kind: KindEmptyValue, Register: "p", Mode: "idle"}, "mode must be"},
		{"restore without writes", ScenarioConfig{Kind: KindRestoreDefaults}, "requires writes"},
		{"restore write without register", ScenarioConfig{Kind: KindRestoreDefaults, Writes: []WriteConfig{{Value: 1}}}, "writes[0] requires register"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base()
			cfg.Scenarios = []ScenarioConfig{tc.sc}
			expectErr(t, cfg, tc.err)
		})
	}
}

func TestValidate_RegisterDumpNeedsNothing(t *testing.T) {
	cfg := base()
	cfg.Scenarios = []ScenarioConfig{{Kind: KindRegisterDump}}
	if err := Validate(cfg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidate_DuplicateScenarioName(t *testing.T) {
	cfg := base()
	cfg.Scenarios = []ScenarioConfig{
		{Name: "alarms", Kind: KindAlarmReadback, Readback: []string{"alarm_1"}},
		{Name: "alarms", Kind: KindAlarmReadback, Readback: []string{"alarm_2"}},
	}
	expectErr(t, cfg, "duplicate name")
}

func TestValidate_MaxWaitBoundedByInterval(t *testing.T) {
	cfg := base()
	cfg.Telemetry = TelemetryConfig{Registers: []string{"soc"}, IntervalMs: 1000, MaxWaitMs: 1500}
	expectErr(t, cfg, "exceeds interval_ms")
}

func TestValidate_MQTTBroker(t *testing.T) {
	cfg := base()
	cfg.Outputs.MQTT = &MQTTConfig{Topic: "probe"}
	expectErr(t, cfg, "broker required")
}

func TestNormalize_Defaults(t *testing.T) {
	cfg := base()
	cfg.Device.ID = ""
	cfg.Device.Login = &LoginConfig{Password: "00000a"}
	cfg.Scenarios = []ScenarioConfig{
		{Kind: KindEmptyValue, Register: "forcible_charge_power"},
		{Kind: KindOutOfRange, Register: "forcible_charge_power", Values: []float64{1e6}, Expect: "clamped"},
	}
	cfg.Cycles = []CycleConfig{{Mode: "discharge", TargetSoC: f(20)}}
	cfg.Outputs.MQTT = &MQTTConfig{Broker: "tcp://localhost:1883"}

	if err := Validate(cfg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	Normalize(cfg)

	if cfg.Device.ID != "192.168.200.1:6607" {
		t.Fatalf("device id defaulted to %q", cfg.Device.ID)
	}
	if cfg.Device.Login.Role != "installer" {
		t.Fatalf("login role defaulted to %q", cfg.Device.Login.Role)
	}
	if cfg.Telemetry.IntervalMs != DefaultIntervalMs || cfg.Telemetry.MaxWaitMs != DefaultIntervalMs/2 {
		t.Fatalf("telemetry defaults: %+v", cfg.Telemetry)
	}
	if cfg.Control.StopRetries != DefaultStopRetries {
		t.Fatalf("stop retries = %d", cfg.Control.StopRetries)
	}
	if got := cfg.Scenarios[0]; got.Name != "empty_value_1" || got.Expect != "DEFAULTED" || got.Mode != "charge" {
		t.Fatalf("scenario defaults: %+v", got)
	}
	if got := cfg.Scenarios[1].Expect; got != "CLAMPED" {
		t.Fatalf("expect not upper-cased: %q", got)
	}
	if got := cfg.Cycles[0].Name; got != "discharge_to_20" {
		t.Fatalf("cycle name = %q", got)
	}
	if cfg.Outputs.MQTT.Topic != DefaultMQTTTopic {
		t.Fatalf("mqtt topic = %q", cfg.Outputs.MQTT.Topic)
	}
}

func TestNormalize_RTUSerialDefaults(t *testing.T) {
	cfg := base()
	cfg.Device.Transport = "rtu"
	cfg.Device.Serial = SerialConfig{Port: "/dev/ttyUSB0"}

	if err := Validate(cfg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	Normalize(cfg)

	s := cfg.Device.Serial
	if s.BaudRate != 9600 || s.DataBits != 8 || s.Parity != "N" || s.StopBits != 1 {
		t.Fatalf("serial defaults: %+v", s)
	}
}

func TestLoad_ResolvesRegisterPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "probe.yaml")
	doc := `
device:
  id: inv1
  transport: tcp
  endpoint: 192.168.200.1:6607
  unit_id: 0
  login:
    password: "00000a"
registers: registers.yaml
cycles:
  - mode: charge
    power: 500
    duration_s: 120
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load err=%v", err)
	}
	if cfg.Registers != filepath.Join(dir, "registers.yaml") {
		t.Fatalf("registers path = %q", cfg.Registers)
	}
	if len(cfg.Cycles) != 1 || cfg.Cycles[0].Power == nil || *cfg.Cycles[0].Power != 500 {
		t.Fatalf("cycles = %+v", cfg.Cycles)
	}
}

func TestLoad_RejectsUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "probe.yaml")
	if err := os.WriteFile(path, []byte("device:\n  transprot: tcp\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("expected unknown field error")
	}
}
