// internal/writer/mqtt.go
package writer

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/tamzrod/inverter-probe/internal/poller"
	"github.com/tamzrod/inverter-probe/internal/runner"
	"github.com/tamzrod/inverter-probe/internal/status"
)

// publisher is the part of mqtt.Client the sink uses.
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// MQTTSink publishes one JSON payload per record.
//
//	<topic>/telemetry         samples
//	<topic>/results/<name>    test results
//	<topic>/status            device health, retained
//	<topic>/availability      online/offline, retained (LWT)
type MQTTSink struct {
	pub        publisher
	disconnect func()
	topic      string
	qos        byte
	timeout    time.Duration
}

// MQTTConfig is minimal broker config.
type MQTTConfig struct {
	Broker   string
	Topic    string
	ClientID string
	QoS      byte
	Timeout  time.Duration
}

// NewMQTTSink connects to the broker. Connection is made once; paho
// reconnects on its own afterwards.
func NewMQTTSink(cfg MQTTConfig, onLost func(error)) (*MQTTSink, error) {
	if cfg.Broker == "" {
		return nil, errors.New("mqtt sink: broker required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}

	avail := cfg.Topic + "/availability"
	opts := mqtt.NewClientOptions().AddBroker(cfg.Broker).SetClientID(cfg.ClientID)
	opts.SetKeepAlive(10 * time.Second)
	opts.SetPingTimeout(2 * time.Second)
	opts.SetAutoReconnect(true)
	opts.SetWill(avail, "offline", cfg.QoS, true)
	opts.OnConnect = func(c mqtt.Client) {
		c.Publish(avail, cfg.QoS, true, "online")
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		if onLost != nil {
			onLost(err)
		}
	}

	c := mqtt.NewClient(opts)
	if tok := c.Connect(); !tok.WaitTimeout(cfg.Timeout) {
		return nil, fmt.Errorf("mqtt sink: connect %s: timeout", cfg.Broker)
	} else if err := tok.Error(); err != nil {
		return nil, fmt.Errorf("mqtt sink: connect %s: %w", cfg.Broker, err)
	}

	s := newMQTTSink(c, cfg)
	s.disconnect = func() {
		c.Publish(avail, cfg.QoS, true, "offline").WaitTimeout(cfg.Timeout)
		c.Disconnect(250)
	}
	return s, nil
}

func newMQTTSink(pub publisher, cfg MQTTConfig) *MQTTSink {
	return &MQTTSink{pub: pub, topic: cfg.Topic, qos: cfg.QoS, timeout: cfg.Timeout}
}

type samplePayload struct {
	ID        string             `json:"id"`
	Device    string             `json:"device"`
	Timestamp time.Time          `json:"timestamp"`
	Values    map[string]float64 `json:"values,omitempty"`
	Error     string             `json:"error,omitempty"`
}

type outcomePayload struct {
	Register       string   `json:"register"`
	Requested      *float64 `json:"requested"` // null = omitted
	PreRaw         int64    `json:"pre_raw"`
	ObservedRaw    int64    `json:"observed_raw"`
	Observed       float64  `json:"observed"`
	ErrorFlag      bool     `json:"error_flag"`
	Classification string   `json:"classification"`
}

type resultPayload struct {
	Scenario   string             `json:"scenario"`
	Kind       string             `json:"kind"`
	Passed     bool               `json:"passed"`
	Reason     string             `json:"reason,omitempty"`
	StartedAt  time.Time          `json:"started_at"`
	FinishedAt time.Time          `json:"finished_at"`
	Outcomes   []outcomePayload   `json:"outcomes,omitempty"`
	Readings   map[string]float64 `json:"readings,omitempty"`
	Dump       []dumpPayload      `json:"dump,omitempty"`
}

type dumpPayload struct {
	Register string   `json:"register"`
	Address  uint16   `json:"address"`
	Value    *float64 `json:"value,omitempty"`
	Unit     string   `json:"unit,omitempty"`
	Error    string   `json:"error,omitempty"`
}

func (s *MQTTSink) WriteSample(smp poller.Sample) error {
	p := samplePayload{ID: smp.ID, Device: smp.Device, Timestamp: smp.At}
	if len(smp.Values) > 0 {
		p.Values = make(map[string]float64, len(smp.Values))
		for _, v := range smp.Values {
			p.Values[v.Spec.Name] = v.Scaled
		}
	}
	if smp.Err != nil {
		p.Error = smp.Err.Error()
	}
	return s.publishJSON(s.topic+"/telemetry", false, p)
}

func (s *MQTTSink) WriteResult(r runner.TestResult) error {
	p := resultPayload{
		Scenario:   r.Scenario,
		Kind:       string(r.Kind),
		Passed:     r.Passed,
		Reason:     r.Reason,
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
	}
	for _, o := range r.Outcomes {
		op := outcomePayload{
			Register:       o.Attempt.Spec.Name,
			PreRaw:         o.PreRaw,
			ObservedRaw:    o.ObservedRaw,
			Observed:       o.ObservedScaled,
			ErrorFlag:      o.ErrorFlag,
			Classification: o.Classification.String(),
		}
		if !o.Attempt.Omitted() {
			v := o.Attempt.RequestedScaled
			op.Requested = &v
		}
		p.Outcomes = append(p.Outcomes, op)
	}
	if len(r.Readings) > 0 {
		p.Readings = make(map[string]float64, len(r.Readings))
		for _, v := range r.Readings {
			p.Readings[v.Spec.Name] = v.Scaled
		}
	}
	for _, e := range r.Dump {
		dp := dumpPayload{Register: e.Value.Spec.Name, Address: e.Value.Spec.Address, Unit: e.Value.Spec.Unit}
		if e.Err != nil {
			dp.Error = e.Err.Error()
		} else {
			v := e.Value.Scaled
			dp.Value = &v
		}
		p.Dump = append(p.Dump, dp)
	}
	return s.publishJSON(s.topic+"/results/"+r.Scenario, false, p)
}

func (s *MQTTSink) WriteStatus(snap status.Snapshot) error {
	b, err := status.Encode(snap)
	if err != nil {
		return err
	}
	return s.publish(s.topic+"/status", true, b)
}

func (s *MQTTSink) Close() error {
	if s.disconnect != nil {
		s.disconnect()
	}
	return nil
}

func (s *MQTTSink) publishJSON(topic string, retained bool, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("mqtt sink: %w", err)
	}
	return s.publish(topic, retained, b)
}

func (s *MQTTSink) publish(topic string, retained bool, b []byte) error {
	tok := s.pub.Publish(topic, s.qos, retained, b)
	if !tok.WaitTimeout(s.timeout) {
		return fmt.Errorf("mqtt sink: publish %s: timeout", topic)
	}
	if err := tok.Error(); err != nil {
		return fmt.Errorf("mqtt sink: publish %s: %w", topic, err)
	}
	return nil
}
