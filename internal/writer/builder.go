// internal/writer/builder.go
package writer

import (
	"time"

	"go.uber.org/zap"

	cfg "github.com/tamzrod/inverter-probe/internal/config"
)

// Build creates every configured sink and fans them out.
// names fixes the telemetry CSV columns. On failure, sinks already opened
// are closed.
func Build(o cfg.OutputsConfig, deviceID string, names []string, log *zap.SugaredLogger) (Sink, error) {
	var sinks []Sink
	closeAll := func() {
		for _, s := range sinks {
			_ = s.Close()
		}
	}

	if o.Log {
		sinks = append(sinks, NewLogSink(log))
	}

	if o.CSVDir != "" {
		s, err := NewCSVSink(o.CSVDir, CSVPrefix(deviceID, time.Now()), names)
		if err != nil {
			closeAll()
			return nil, err
		}
		sinks = append(sinks, s)
	}

	if m := o.MQTT; m != nil {
		s, err := NewMQTTSink(MQTTConfig{
			Broker:   m.Broker,
			Topic:    m.Topic,
			ClientID: m.ClientID,
			QoS:      m.QoS,
		}, func(err error) {
			log.Warnf("mqtt connection lost (broker=%s): %v", m.Broker, err)
		})
		if err != nil {
			closeAll()
			return nil, err
		}
		sinks = append(sinks, s)
	}

	return Fanout(sinks...), nil
}
