// internal/status/encode.go
package status

import (
	"encoding/json"
	"time"
)

type payload struct {
	Device         string `json:"device"`
	Health         string `json:"health"`
	HealthCode     uint16 `json:"health_code"`
	LastErrorCode  uint16 `json:"last_error_code"`
	SecondsInError uint16 `json:"seconds_in_error"`
	LastSample     string `json:"last_sample,omitempty"`
	Session        string `json:"session,omitempty"`
	Degraded       bool   `json:"degraded"`
}

// Encode converts a Snapshot into its published JSON form.
// No IO. No side effects.
func Encode(s Snapshot) ([]byte, error) {
	p := payload{
		Device:         s.Device,
		Health:         HealthName(s.Health),
		HealthCode:     s.Health,
		LastErrorCode:  s.LastErrorCode,
		SecondsInError: s.SecondsInError,
		Session:        s.Session,
		Degraded:       s.Degraded,
	}
	if !s.LastSample.IsZero() {
		p.LastSample = s.LastSample.UTC().Format(time.RFC3339Nano)
	}
	return json.Marshal(p)
}
