// internal/runner/scenarios.go
package runner

import (
	"context"
	"fmt"
	"time"

	"github.com/tamzrod/inverter-probe/internal/device"
	"github.com/tamzrod/inverter-probe/internal/register"
	"github.com/tamzrod/inverter-probe/internal/sequencer"
	"github.com/tamzrod/inverter-probe/internal/validate"
)

// emptyValue arms a forced session with the power setpoint omitted, starts
// it, and checks what the device put in the observed register.
func (r *Runner) emptyValue(ctx context.Context, sc Scenario, res *TestResult) error {
	pre, err := r.dev.Read(ctx, sc.Register)
	if err != nil {
		return err
	}

	plan := sequencer.Plan{
		Mode:  sc.Mode,
		Power: device.Omit(),
		Stop:  sequencer.ForDuration(sc.Duration),
	}
	return r.withSession(ctx, plan, res, func(*sequencer.Session) error {
		if err := sleep(ctx, sc.Settle); err != nil {
			return err
		}

		var (
			post    register.Value
			flagSet bool
		)
		err := r.dev.Do(ctx, func(tx *device.Tx) error {
			var err error
			if post, err = tx.Read(sc.Register); err != nil {
				return err
			}
			if r.flag != nil {
				fv, err := tx.Read(r.flag.Spec)
				if err != nil {
					return err
				}
				flagSet = r.flag.Set(fv.Raw)
			}
			return nil
		})
		if err != nil {
			return err
		}

		o := validate.Validate(validate.Attempt{Spec: sc.Register}, pre, post, flagSet)
		r.log.Infof("[EMPTY] %s: %v -> %v, %s (flag=%v)", sc.Register.Name, pre.Scaled, post.Scaled, o.Classification, flagSet)
		r.assert(res, sc, o)
		return nil
	})
}

// outOfRange writes every boundary value and expects the device to clamp.
func (r *Runner) outOfRange(ctx context.Context, sc Scenario, res *TestResult) error {
	for _, v := range sc.Values {
		o, err := validate.Probe(ctx, r.dev, sc.Register, device.Set(v), r.flag)
		if err != nil {
			return err
		}
		r.assert(res, sc, o)
		if o.Classification == validate.Clamped && !sc.Register.InRange(o.ObservedScaled) {
			res.fail("%s: clamped value %v outside valid range", sc.Register.Name, o.ObservedScaled)
		}
	}
	return nil
}

// interleavedWrite keeps a forced session RUNNING for the scenario
// duration and spreads writes to an unrelated register across it while
// the poller samples. The session must survive and the poller must not be
// starved for more than one consecutive tick inside that window.
func (r *Runner) interleavedWrite(ctx context.Context, sc Scenario, res *TestResult) error {
	plan := sequencer.Plan{
		Mode:  sc.Mode,
		Power: device.Set(sc.Power),
		Stop:  sequencer.ForDuration(sc.Duration),
	}
	err := r.withSession(ctx, plan, res, func(s *sequencer.Session) error {
		if r.poll != nil {
			r.poll.Mark()
		}

		// write i lands at i+1 / n+1 of the window
		step := sc.Duration / time.Duration(len(sc.Values)+1)
		for i, v := range sc.Values {
			if err := sleepUntil(ctx, s.StartedAt().Add(step*time.Duration(i+1))); err != nil {
				return err
			}
			o, err := validate.Probe(ctx, r.dev, sc.Register, device.Set(v), r.flag)
			if err != nil {
				return err
			}
			r.assert(res, sc, o)
		}
		if err := sleepUntil(ctx, s.StartedAt().Add(sc.Duration)); err != nil {
			return err
		}

		trig, err := r.dev.Read(ctx, r.seq.Registers().Trigger)
		if err != nil {
			return err
		}
		res.Readings = append(res.Readings, trig)
		if trig.Raw != int64(sc.Mode) {
			res.fail("forced %s interrupted: trigger reads %d", sc.Mode, trig.Raw)
		}

		if r.poll != nil {
			w := r.poll.Window()
			r.log.Infof("[EMS] poller ticked %d time(s) during %s, missed %d (max consecutive %d)", w.Ticks, sc.Name, w.Missed, w.MaxConsecutiveMissed)
			switch {
			case w.Ticks == 0:
				res.fail("poller did not tick during the %s session", sc.Duration)
			case w.MaxConsecutiveMissed > 1:
				res.fail("poller missed %d consecutive ticks", w.MaxConsecutiveMissed)
			}
		}
		return nil
	})
	return err
}

// sleepWake writes the sleep value, then the wake value, and reads back
// the configured registers once the device has settled.
func (r *Runner) sleepWake(ctx context.Context, sc Scenario, res *TestResult) error {
	for i, v := range sc.Values {
		o, err := validate.Probe(ctx, r.dev, sc.Register, device.Set(v), r.flag)
		if err != nil {
			return err
		}
		r.assert(res, sc, o)
		phase := "sleep"
		if i > 0 {
			phase = "wake"
		}
		r.log.Infof("[%s] %s = %v", phase, sc.Register.Name, v)

		if err := sleep(ctx, sc.Settle); err != nil {
			return err
		}
	}
	return r.readback(ctx, sc.Readback, res)
}

// alarmReadback reads the alarm registers and asserts the error flag.
func (r *Runner) alarmReadback(ctx context.Context, sc Scenario, res *TestResult) error {
	if err := r.readback(ctx, sc.Readback, res); err != nil {
		return err
	}

	for _, v := range res.Readings {
		if v.Raw != 0 {
			r.log.Warnf("[ALARM] %s = 0x%04X", v.Spec.Name, v.Raw)
		}
	}

	if sc.ExpectFlag == nil {
		return nil
	}
	if r.flag == nil {
		return fmt.Errorf("runner: %s asserts the error flag but none is configured", sc.Name)
	}
	fv, err := r.dev.Read(ctx, r.flag.Spec)
	if err != nil {
		return err
	}
	if got := r.flag.Set(fv.Raw); got != *sc.ExpectFlag {
		res.fail("%s: expected error flag %t, got %t", r.flag.Spec.Name, *sc.ExpectFlag, got)
	}
	return nil
}

// registerDump reads every listed register (the whole table when none
// are listed) one at a time. A failed read is recorded and the dump goes
// on, so one missing register does not hide the rest.
func (r *Runner) registerDump(ctx context.Context, sc Scenario, res *TestResult) error {
	specs := sc.Readback
	if len(specs) == 0 {
		specs = r.dev.Catalogue.All()
	}

	failed := 0
	for _, spec := range specs {
		if err := ctx.Err(); err != nil {
			return err
		}
		v, err := r.dev.Read(ctx, spec)
		if err != nil {
			failed++
			r.log.Errorf("[MAP] %s (0x%04X) read failed: %v", spec.Name, spec.Address, err)
			res.Dump = append(res.Dump, DumpEntry{Value: register.Value{Spec: spec}, Err: err})
			continue
		}
		r.log.Infof("[MAP] %s (0x%04X) = %v %s", spec.Name, spec.Address, v.Scaled, spec.Unit)
		res.Dump = append(res.Dump, DumpEntry{Value: v})
	}

	if failed > 0 {
		res.fail("%d of %d registers unreadable", failed, len(specs))
	}
	return nil
}

// restoreDefaults writes each safe default in order and validates it
// reads back as written.
func (r *Runner) restoreDefaults(ctx context.Context, sc Scenario, res *TestResult) error {
	for _, w := range sc.Writes {
		o, err := validate.Probe(ctx, r.dev, w.Spec, device.Set(w.Value), r.flag)
		if err != nil {
			return err
		}
		r.log.Infof("[RESTORE] %s = %v (read back %v, %s)", w.Spec.Name, w.Value, o.ObservedScaled, o.Classification)
		r.assert(res, sc, o)
	}
	return nil
}

// readback reads specs in one transaction and records them.
func (r *Runner) readback(ctx context.Context, specs []register.Spec, res *TestResult) error {
	return r.dev.Do(ctx, func(tx *device.Tx) error {
		for _, spec := range specs {
			v, err := tx.Read(spec)
			if err != nil {
				return err
			}
			r.log.Infof("[READBACK] %s = %v %s", spec.Name, v.Scaled, spec.Unit)
			res.Readings = append(res.Readings, v)
		}
		return nil
	})
}
