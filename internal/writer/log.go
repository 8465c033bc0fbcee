// internal/writer/log.go
package writer

import (
	"go.uber.org/zap"

	"github.com/tamzrod/inverter-probe/internal/poller"
	"github.com/tamzrod/inverter-probe/internal/runner"
	"github.com/tamzrod/inverter-probe/internal/status"
)

// LogSink writes records as structured log lines.
type LogSink struct {
	log *zap.SugaredLogger
}

func NewLogSink(log *zap.SugaredLogger) *LogSink {
	return &LogSink{log: log}
}

func (s *LogSink) WriteSample(smp poller.Sample) error {
	if smp.Err != nil {
		s.log.Warnw("[TELEMETRY] poll failed", "device", smp.Device, "error", smp.Err)
		return nil
	}
	kv := make([]any, 0, 2*len(smp.Values)+2)
	kv = append(kv, "device", smp.Device)
	for _, v := range smp.Values {
		kv = append(kv, v.Spec.Name, v.Scaled)
	}
	s.log.Infow("[TELEMETRY]", kv...)
	return nil
}

func (s *LogSink) WriteResult(r runner.TestResult) error {
	outs := make([]string, len(r.Outcomes))
	for i, o := range r.Outcomes {
		outs[i] = runner.FormatOutcome(o)
	}
	s.log.Infow("[RESULT] "+r.Scenario,
		"kind", r.Kind,
		"passed", r.Passed,
		"reason", r.Reason,
		"outcomes", outs,
		"took", r.FinishedAt.Sub(r.StartedAt),
	)
	return nil
}

func (s *LogSink) WriteStatus(snap status.Snapshot) error {
	s.log.Infow("[STATUS]",
		"device", snap.Device,
		"health", status.HealthName(snap.Health),
		"last_error_code", snap.LastErrorCode,
		"seconds_in_error", snap.SecondsInError,
		"session", snap.Session,
		"degraded", snap.Degraded,
	)
	return nil
}

func (s *LogSink) Close() error { return nil }
