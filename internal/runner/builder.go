// internal/runner/builder.go
package runner

import (
	"fmt"
	"time"

	cfg "github.com/tamzrod/inverter-probe/internal/config"
	"github.com/tamzrod/inverter-probe/internal/device"
	"github.com/tamzrod/inverter-probe/internal/register"
	"github.com/tamzrod/inverter-probe/internal/sequencer"
	"github.com/tamzrod/inverter-probe/internal/validate"
)

// BuildPlan resolves scenario and cycle config against the register table.
// Assumes config has already passed Validate and Normalize.
func BuildPlan(c *cfg.Config, cat *register.Catalogue) (Plan, error) {
	var plan Plan

	for _, s := range c.Scenarios {
		sc := Scenario{
			Name:       s.Name,
			Kind:       Kind(s.Kind),
			Values:     s.Values,
			ExpectFlag: s.ExpectFlag,
			Settle:     time.Duration(s.SettleMs) * time.Millisecond,
			Power:      s.Power,
			Duration:   time.Duration(s.DurationS) * time.Second,
		}

		var ok bool
		if sc.Expect, ok = validate.ParseClassification(s.Expect); !ok {
			return Plan{}, fmt.Errorf("runner: scenario %q: unknown expect %q", s.Name, s.Expect)
		}

		mode, err := sequencer.ParseMode(s.Mode)
		if err != nil {
			return Plan{}, fmt.Errorf("runner: scenario %q: %w", s.Name, err)
		}
		sc.Mode = mode

		if s.Register != "" {
			spec, ok := cat.Lookup(s.Register)
			if !ok {
				return Plan{}, fmt.Errorf("runner: scenario %q: unknown register %q", s.Name, s.Register)
			}
			sc.Register = spec
		}
		if sc.Readback, err = cat.Resolve(s.Readback...); err != nil {
			return Plan{}, fmt.Errorf("runner: scenario %q: %w", s.Name, err)
		}

		// Unsigned registers cannot carry negative requests; reject them
		// here instead of failing mid-run.
		for _, v := range s.Values {
			if s.Register == "" {
				break
			}
			if _, err := sc.Register.Unscale(v); err != nil {
				return Plan{}, fmt.Errorf("runner: scenario %q: value %v cannot be written: %w", s.Name, v, err)
			}
		}

		for _, w := range s.Writes {
			spec, ok := cat.Lookup(w.Register)
			if !ok {
				return Plan{}, fmt.Errorf("runner: scenario %q: unknown register %q", s.Name, w.Register)
			}
			if _, err := spec.Unscale(w.Value); err != nil {
				return Plan{}, fmt.Errorf("runner: scenario %q: value %v cannot be written: %w", s.Name, w.Value, err)
			}
			sc.Writes = append(sc.Writes, Write{Spec: spec, Value: w.Value})
		}

		plan.Scenarios = append(plan.Scenarios, sc)
	}

	for _, cy := range c.Cycles {
		mode, err := sequencer.ParseMode(cy.Mode)
		if err != nil {
			return Plan{}, fmt.Errorf("runner: cycle %q: %w", cy.Name, err)
		}

		p := sequencer.Plan{Mode: mode, Power: device.Omit()}
		if cy.Power != nil {
			p.Power = device.Set(*cy.Power)
		}
		if cy.TargetSoC != nil {
			p.Stop = sequencer.AtSoC(*cy.TargetSoC)
		} else {
			p.Stop = sequencer.ForDuration(time.Duration(cy.DurationS) * time.Second)
		}

		plan.Cycles = append(plan.Cycles, Cycle{Name: cy.Name, Plan: p})
	}

	return plan, nil
}
