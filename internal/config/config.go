// internal/config/config.go
package config

type Config struct {
	Log       LogConfig        `yaml:"log"`
	Device    DeviceConfig     `yaml:"device"`
	Registers string           `yaml:"registers"` // register table path, relative to the config file
	Control   ControlConfig    `yaml:"control"`
	ErrorFlag *ErrorFlagConfig `yaml:"error_flag"`
	Telemetry TelemetryConfig  `yaml:"telemetry"`
	Scenarios []ScenarioConfig `yaml:"scenarios"`
	Cycles    []CycleConfig    `yaml:"cycles"`
	Outputs   OutputsConfig    `yaml:"outputs"`
}

// ---- LOG ----

type LogConfig struct {
	Level       string `yaml:"level"` // debug|info|warn|error
	Development bool   `yaml:"development"`
}

// ---- DEVICE ----

type DeviceConfig struct {
	ID        string       `yaml:"id"`
	Transport string       `yaml:"transport"` // tcp|rtu
	Endpoint  string       `yaml:"endpoint"`  // host:port (tcp)
	Serial    SerialConfig `yaml:"serial"`
	UnitID    uint8        `yaml:"unit_id"`
	TimeoutMs int          `yaml:"timeout_ms"`
	SettleMs  int          `yaml:"settle_ms"` // wait after connect/login
	Login     *LoginConfig `yaml:"login"`
}

type SerialConfig struct {
	Port     string `yaml:"port"`
	BaudRate int    `yaml:"baud_rate"`
	DataBits int    `yaml:"data_bits"`
	Parity   string `yaml:"parity"` // N|E|O
	StopBits int    `yaml:"stop_bits"`
}

// LoginConfig enables installer login on TCP transports.
type LoginConfig struct {
	Role     string `yaml:"role"`
	Password string `yaml:"password"`
}

// ---- CONTROL ----

// ControlConfig names the storage control registers (by register table name)
// and bounds every sequencer wait.
type ControlConfig struct {
	Trigger        string `yaml:"trigger"`
	TargetSoC      string `yaml:"target_soc"`
	ChargePower    string `yaml:"charge_power"`
	DischargePower string `yaml:"discharge_power"`
	SoC            string `yaml:"soc"`
	Period         string `yaml:"period"`       // optional
	SettingMode    string `yaml:"setting_mode"` // optional

	SoCCadenceMs      int `yaml:"soc_cadence_ms"`
	SafetyTimeoutS    int `yaml:"safety_timeout_s"`
	StopRetries       int `yaml:"stop_retries"`
	StopBackoffMs     int `yaml:"stop_backoff_ms"`
	TeardownTimeoutMs int `yaml:"teardown_timeout_ms"`
}

type ErrorFlagConfig struct {
	Register string `yaml:"register"`
	Mask     uint32 `yaml:"mask"` // 0 = any bit
}

// ---- TELEMETRY ----

type TelemetryConfig struct {
	Registers  []string `yaml:"registers"`
	IntervalMs int      `yaml:"interval_ms"`
	DurationS  int      `yaml:"duration_s"` // 0 = until the run ends
	MaxWaitMs  int      `yaml:"max_wait_ms"`
}

// ---- SCENARIOS ----

type ScenarioConfig struct {
	Name       string    `yaml:"name"`
	Kind       string    `yaml:"kind"`
	Register   string    `yaml:"register"`
	Values     []float64 `yaml:"values"`
	Expect     string    `yaml:"expect"`      // classification name
	ExpectFlag *bool     `yaml:"expect_flag"` // nil = not asserted
	Readback   []string  `yaml:"readback"`
	SettleMs   int       `yaml:"settle_ms"`

	// Setpoints applied in order (restore_defaults).
	Writes []WriteConfig `yaml:"writes"`

	// Background forced session (empty_value, interleaved_write).
	Mode      string  `yaml:"mode"`
	Power     float64 `yaml:"power"`
	DurationS int     `yaml:"duration_s"`
}

// WriteConfig is one named register setpoint in engineering units.
type WriteConfig struct {
	Register string  `yaml:"register"`
	Value    float64 `yaml:"value"`
}

// ---- CYCLES ----

// CycleConfig is one scripted forced charge/discharge run.
// Exactly one of DurationS and TargetSoC is set.
type CycleConfig struct {
	Name      string   `yaml:"name"`
	Mode      string   `yaml:"mode"`
	Power     *float64 `yaml:"power"` // nil = leave device default
	DurationS int      `yaml:"duration_s"`
	TargetSoC *float64 `yaml:"target_soc"`
}

// ---- OUTPUTS ----

type OutputsConfig struct {
	CSVDir string      `yaml:"csv_dir"`
	MQTT   *MQTTConfig `yaml:"mqtt"`
	Log    bool        `yaml:"log"`
}

type MQTTConfig struct {
	Broker   string `yaml:"broker"`
	Topic    string `yaml:"topic"`
	ClientID string `yaml:"client_id"`
	QoS      byte   `yaml:"qos"`
}
