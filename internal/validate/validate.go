// internal/validate/validate.go
package validate

import (
	"context"
	"math"

	"github.com/tamzrod/inverter-probe/internal/device"
	"github.com/tamzrod/inverter-probe/internal/register"
)

// Validate classifies an attempt from the values read before and after it.
// Pure: no I/O. The error flag is recorded, never interpreted here.
func Validate(a Attempt, pre, post register.Value, errorFlag bool) Outcome {
	out := Outcome{
		Attempt:        a,
		PreRaw:         pre.Raw,
		ObservedRaw:    post.Raw,
		ObservedScaled: post.Scaled,
		ErrorFlag:      errorFlag,
	}

	if a.Omitted() {
		if post.Raw != pre.Raw {
			out.Classification = Defaulted
		} else {
			out.Classification = Accepted
		}
		return out
	}

	// strict: a full raw unit of difference is not a match
	eps := a.Spec.Epsilon()
	delta := post.Scaled - a.RequestedScaled
	switch {
	case math.Abs(delta) < eps*(1-1e-6):
		out.Classification = Accepted
	case a.Spec.InRange(post.Scaled) && !a.Spec.InRange(a.RequestedScaled):
		out.Classification = Clamped
	default:
		out.Classification = Rejected
	}
	return out
}

// Probe reads the register, writes sp, reads it back and samples the error
// flag, all inside one gate transaction, then validates the result.
// Only transport failures are returned as errors.
func Probe(ctx context.Context, dev *device.Session, spec register.Spec, sp device.Setpoint, flag *ErrorFlag) (Outcome, error) {
	return probe(ctx, dev, spec, sp, flag, nil)
}

// ProbeWith is Probe with an extra step between the write and the
// read-back. Used when the device only applies a setpoint on a trigger.
func ProbeWith(ctx context.Context, dev *device.Session, spec register.Spec, sp device.Setpoint, flag *ErrorFlag, between func(tx *device.Tx) error) (Outcome, error) {
	return probe(ctx, dev, spec, sp, flag, between)
}

func probe(ctx context.Context, dev *device.Session, spec register.Spec, sp device.Setpoint, flag *ErrorFlag, between func(tx *device.Tx) error) (Outcome, error) {
	var (
		pre, post register.Value
		res       device.WriteResult
		flagSet   bool
	)

	err := dev.Do(ctx, func(tx *device.Tx) error {
		var err error
		if pre, err = tx.Read(spec); err != nil {
			return err
		}
		if res, err = tx.Write(spec, sp); err != nil {
			return err
		}
		if between != nil {
			if err := between(tx); err != nil {
				return err
			}
		}
		if post, err = tx.Read(spec); err != nil {
			return err
		}
		if flag != nil {
			fv, err := tx.Read(flag.Spec)
			if err != nil {
				return err
			}
			flagSet = flag.Set(fv.Raw)
		}
		return nil
	})
	if err != nil {
		return Outcome{}, err
	}

	a := Attempt{Spec: spec, RequestedScaled: sp.Scaled}
	if !res.Omitted {
		raw := res.Raw
		a.RequestedRaw = &raw
	}

	o := Validate(a, pre, post, flagSet)
	log := dev.Logger()
	switch o.Classification {
	case Accepted:
		log.Infof("[VALIDATED] %s = %v", spec.Name, o.ObservedScaled)
	default:
		log.Warnf("[%s] %s: requested %v, got %v (flag=%v)",
			o.Classification, spec.Name, describe(a), o.ObservedScaled, o.ErrorFlag)
	}
	return o, nil
}

func describe(a Attempt) any {
	if a.Omitted() {
		return "<omitted>"
	}
	return a.RequestedScaled
}
