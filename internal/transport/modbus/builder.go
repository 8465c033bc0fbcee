// internal/transport/modbus/builder.go
package modbus

import (
	"fmt"
	"time"

	cfg "github.com/tamzrod/inverter-probe/internal/config"
)

// Build opens the transport described by the device section.
// Connection is made once; no retries.
func Build(d cfg.DeviceConfig) (*Client, error) {
	c := Config{
		Endpoint: d.Endpoint,
		UnitID:   d.UnitID,
		Timeout:  time.Duration(d.TimeoutMs) * time.Millisecond,
		Serial: Serial{
			Port:     d.Serial.Port,
			BaudRate: d.Serial.BaudRate,
			DataBits: d.Serial.DataBits,
			Parity:   d.Serial.Parity,
			StopBits: d.Serial.StopBits,
		},
	}

	switch d.Transport {
	case "tcp":
		return NewTCP(c)
	case "rtu":
		return NewRTU(c)
	default:
		return nil, fmt.Errorf("modbus client: unknown transport %q", d.Transport)
	}
}
