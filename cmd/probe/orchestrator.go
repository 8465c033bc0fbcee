// cmd/probe/orchestrator.go
package main

import (
	"time"

	"go.uber.org/zap"

	"github.com/tamzrod/inverter-probe/internal/device"
	"github.com/tamzrod/inverter-probe/internal/poller"
	"github.com/tamzrod/inverter-probe/internal/runner"
	"github.com/tamzrod/inverter-probe/internal/status"
	"github.com/tamzrod/inverter-probe/internal/writer"
)

// orchestrator owns the sinks and the status tracker. It is the only
// goroutine that writes to them.
type orchestrator struct {
	dev     *device.Session
	sink    writer.Sink
	status  writer.StatusWriter
	tracker *status.Tracker
	log     *zap.SugaredLogger

	degraded bool
}

// loop runs until both streams are closed, with a 1 Hz status tick.
func (o *orchestrator) loop(samples <-chan poller.Sample, results <-chan runner.TestResult) {
	secTicker := time.NewTicker(time.Second)
	defer secTicker.Stop()

	// identity re-assert on start
	o.publish()

	for samples != nil || results != nil {
		select {
		case s, ok := <-samples:
			if !ok {
				samples = nil
				continue
			}
			if err := o.sink.WriteSample(s); err != nil {
				o.log.Warnf("sample write failed (device=%s): %v", o.dev.ID, err)
			}
			if o.tracker.Observe(s.At, s.Err) {
				o.publish()
			}

		case res, ok := <-results:
			if !ok {
				results = nil
				continue
			}
			if err := o.sink.WriteResult(res); err != nil {
				o.log.Warnf("result write failed (device=%s): %v", o.dev.ID, err)
			}
			if res.Degraded {
				o.degraded = true
			}

		case now := <-secTicker.C:
			changed := o.tracker.Tick(now)
			if o.tracker.SetSession(o.dev.Holder(), o.degraded) {
				changed = true
			}
			if changed {
				o.publish()
			}
		}
	}

	o.tracker.SetSession("", o.degraded)
	o.publish()
}

func (o *orchestrator) publish() {
	if err := o.status.WriteStatus(o.tracker.Snapshot()); err != nil {
		o.log.Warnf("status write failed (device=%s): %v", o.dev.ID, err)
	}
}
