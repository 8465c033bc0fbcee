// internal/runner/runner.go
package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/tamzrod/inverter-probe/internal/device"
	"github.com/tamzrod/inverter-probe/internal/poller"
	"github.com/tamzrod/inverter-probe/internal/sequencer"
	"github.com/tamzrod/inverter-probe/internal/validate"
)

// Runner executes scenarios and cycles against one device.
// Scenario failures are results, not faults: the runner always moves on.
type Runner struct {
	dev  *device.Session
	seq  *sequencer.Sequencer
	flag *validate.ErrorFlag
	poll *poller.Poller
	log  *zap.SugaredLogger
}

// New binds a runner to dev. seq may be nil when no scenario drives a
// forced session; flag may be nil when the device has no error register.
func New(dev *device.Session, seq *sequencer.Sequencer, flag *validate.ErrorFlag) (*Runner, error) {
	if dev == nil {
		return nil, errors.New("runner: device required")
	}
	return &Runner{dev: dev, seq: seq, flag: flag, log: dev.Logger()}, nil
}

// WatchPoller makes interleaved_write scenarios assert the poller was
// never starved for more than one consecutive tick.
func (r *Runner) WatchPoller(p *poller.Poller) { r.poll = p }

// Run executes every scenario, then every cycle. report (optional) is
// called as each result is finalized. Stops early only on cancellation.
func (r *Runner) Run(ctx context.Context, plan Plan, report func(TestResult)) []TestResult {
	var results []TestResult
	emit := func(res TestResult) {
		results = append(results, res)
		if report != nil {
			report(res)
		}
	}

	for _, sc := range plan.Scenarios {
		if ctx.Err() != nil {
			r.log.Warnf("run cancelled before scenario %s", sc.Name)
			return results
		}
		emit(r.RunScenario(ctx, sc))
	}
	for _, c := range plan.Cycles {
		if ctx.Err() != nil {
			r.log.Warnf("run cancelled before cycle %s", c.Name)
			return results
		}
		emit(r.RunCycle(ctx, c))
	}

	passed := 0
	for _, res := range results {
		if res.Passed {
			passed++
		}
	}
	r.log.Infof("run complete: %d/%d passed", passed, len(results))
	return results
}

// RunScenario executes one scenario and never panics on device behaviour.
func (r *Runner) RunScenario(ctx context.Context, sc Scenario) TestResult {
	res := TestResult{Scenario: sc.Name, Kind: sc.Kind, Passed: true, StartedAt: time.Now()}
	r.log.Infof("scenario %s (%s) started", sc.Name, sc.Kind)

	var err error
	switch sc.Kind {
	case EmptyValue:
		err = r.emptyValue(ctx, sc, &res)
	case OutOfRange:
		err = r.outOfRange(ctx, sc, &res)
	case InterleavedWrite:
		err = r.interleavedWrite(ctx, sc, &res)
	case SleepWake:
		err = r.sleepWake(ctx, sc, &res)
	case AlarmReadback:
		err = r.alarmReadback(ctx, sc, &res)
	case RegisterDump:
		err = r.registerDump(ctx, sc, &res)
	case RestoreDefaults:
		err = r.restoreDefaults(ctx, sc, &res)
	default:
		err = fmt.Errorf("runner: unknown scenario kind %q", sc.Kind)
	}
	r.finish(&res, err)
	return res
}

// RunCycle drives one scripted forced session to its stop condition.
func (r *Runner) RunCycle(ctx context.Context, c Cycle) TestResult {
	res := TestResult{Scenario: c.Name, Kind: CycleRun, Passed: true, StartedAt: time.Now()}
	if r.seq == nil {
		r.finish(&res, errors.New("runner: no control registers configured"))
		return res
	}
	r.log.Infof("cycle %s started", c.Name)

	s, err := r.seq.Run(ctx, c.Plan)
	if s != nil {
		res.Outcomes = s.Outcomes()
		switch reason := s.StopReason(); reason {
		case sequencer.ReasonDuration, sequencer.ReasonSoC:
			res.Reason = fmt.Sprintf("stopped by %s after %s", reason, s.RunTime().Round(time.Millisecond))
		default:
			res.fail("stopped by %s after %s", reason, s.RunTime().Round(time.Millisecond))
		}
		if s.Degraded() {
			res.Degraded = true
			res.fail("stop degraded: trigger did not clear")
		}
	}
	if err == nil {
		if soc, rerr := r.dev.Read(ctx, r.seq.Registers().SoC); rerr == nil {
			res.Readings = append(res.Readings, soc)
		}
	}

	r.finish(&res, err)
	return res
}

func (r *Runner) finish(res *TestResult, err error) {
	res.FinishedAt = time.Now()
	switch {
	case err == nil:
	case device.IsComm(err):
		res.fail("aborted: %v", err)
		r.log.Errorf("scenario %s aborted (device=%s): %v", res.Scenario, r.dev.ID, err)
	default:
		res.fail("%v", err)
	}

	if res.Passed {
		r.log.Infof("scenario %s PASSED", res.Scenario)
	} else {
		r.log.Warnf("scenario %s FAILED: %s", res.Scenario, res.Reason)
	}
}

// withSession arms and starts a forced session, runs fn while it is
// RUNNING, and always stops it afterwards.
func (r *Runner) withSession(ctx context.Context, plan sequencer.Plan, res *TestResult, fn func(s *sequencer.Session) error) (err error) {
	if r.seq == nil {
		return errors.New("runner: no control registers configured")
	}

	s, err := r.seq.Arm(ctx, plan)
	if err != nil {
		return err
	}
	res.Outcomes = append(res.Outcomes, s.Outcomes()...)

	if err := r.seq.Start(ctx, s); err != nil {
		if errors.Is(err, sequencer.ErrDegradedStop) {
			res.Degraded = true
			res.fail("stop degraded: trigger did not clear")
		}
		return err
	}

	defer func() {
		stopErr := r.seq.Stop(ctx, s)
		switch {
		case errors.Is(stopErr, sequencer.ErrDegradedStop):
			res.Degraded = true
			res.fail("stop degraded: trigger did not clear")
		case stopErr != nil && err == nil:
			err = stopErr
		}
	}()
	return fn(s)
}

func (r *Runner) assert(res *TestResult, sc Scenario, o validate.Outcome) {
	res.Outcomes = append(res.Outcomes, o)
	if o.Classification != sc.Expect {
		res.fail("%s: expected %s, got %s", o.Attempt.Spec.Name, sc.Expect, o.Classification)
	}
	if sc.ExpectFlag != nil && o.ErrorFlag != *sc.ExpectFlag {
		res.fail("%s: expected error flag %t, got %t", o.Attempt.Spec.Name, *sc.ExpectFlag, o.ErrorFlag)
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func sleepUntil(ctx context.Context, at time.Time) error {
	return sleep(ctx, time.Until(at))
}
