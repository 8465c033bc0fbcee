// internal/sequencer/sequencer.go
package sequencer

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tamzrod/inverter-probe/internal/device"
	"github.com/tamzrod/inverter-probe/internal/register"
	"github.com/tamzrod/inverter-probe/internal/validate"
)

// Registers names the storage control points of the device.
// SettingMode and Period are optional (nil => not written).
type Registers struct {
	Trigger        register.Spec
	TargetSoC      register.Spec
	ChargePower    register.Spec
	DischargePower register.Spec
	SoC            register.Spec
	Period         *register.Spec // minutes
	SettingMode    *register.Spec // 0 = duration, 1 = SoC
}

// Config is the immutable runtime config of a sequencer.
type Config struct {
	Registers Registers
	ErrorFlag *validate.ErrorFlag

	SoCCadence      time.Duration // SoC strategy poll interval
	SafetyTimeout   time.Duration // upper bound for SoC sessions
	StopRetries     int           // trigger read-back attempts
	StopBackoff     time.Duration
	TeardownTimeout time.Duration
}

// Sequencer drives forced charge/discharge sessions on one device.
type Sequencer struct {
	cfg Config
	dev *device.Session
	log *zap.SugaredLogger
}

// New validates cfg and binds the sequencer to dev.
func New(cfg Config, dev *device.Session) (*Sequencer, error) {
	if dev == nil {
		return nil, errors.New("sequencer: device required")
	}
	if cfg.SoCCadence <= 0 {
		return nil, errors.New("sequencer: soc cadence must be > 0")
	}
	if cfg.SafetyTimeout <= 0 {
		return nil, errors.New("sequencer: safety timeout must be > 0")
	}
	if cfg.StopRetries < 1 {
		return nil, errors.New("sequencer: stop retries must be >= 1")
	}
	if cfg.TeardownTimeout <= 0 {
		return nil, errors.New("sequencer: teardown timeout must be > 0")
	}
	return &Sequencer{cfg: cfg, dev: dev, log: dev.Logger()}, nil
}

// Registers returns the control registers the sequencer drives.
func (q *Sequencer) Registers() Registers { return q.cfg.Registers }

// PowerRegister is the setpoint register written for mode m.
func (q *Sequencer) PowerRegister(m Mode) register.Spec {
	if m == Discharge {
		return q.cfg.Registers.DischargePower
	}
	return q.cfg.Registers.ChargePower
}

// Run drives a full session: arm, start, wait for the stop condition, stop.
// Teardown always runs once the trigger may have been asserted, including
// on cancellation. Only transport failures are returned as errors; a
// degraded stop is reported on the session.
func (q *Sequencer) Run(ctx context.Context, plan Plan) (*Session, error) {
	s, err := q.Arm(ctx, plan)
	if err != nil {
		return s, err
	}

	if err := q.Start(ctx, s); err != nil {
		return s, err
	}

	_, waitErr := q.Await(ctx, s)
	stopErr := q.Stop(ctx, s)

	if waitErr != nil {
		return s, waitErr
	}
	if stopErr != nil && !errors.Is(stopErr, ErrDegradedStop) {
		return s, stopErr
	}
	return s, nil
}

// Arm claims the device and writes the setpoints. INACTIVE -> ARMED.
func (q *Sequencer) Arm(ctx context.Context, plan Plan) (*Session, error) {
	if plan.Mode != Charge && plan.Mode != Discharge {
		return nil, fmt.Errorf("sequencer: invalid mode %d", plan.Mode)
	}
	if !plan.Stop.bySoC() && plan.Stop.Duration <= 0 {
		return nil, errors.New("sequencer: duration stop condition must be > 0")
	}

	s := &Session{ID: uuid.NewString(), Plan: plan}
	r := q.cfg.Registers

	if err := q.dev.Claim(s.ID); err != nil {
		return nil, fmt.Errorf("%w (holder=%s)", ErrSessionConflict, q.dev.Holder())
	}

	// The device may be running a session we did not start.
	trig, err := q.dev.Read(ctx, r.Trigger)
	if err != nil {
		q.dev.Release(s.ID)
		return nil, err
	}
	if trig.Raw != 0 {
		q.dev.Release(s.ID)
		return nil, fmt.Errorf("%w (trigger=%d)", ErrSessionConflict, trig.Raw)
	}

	if plan.Stop.bySoC() {
		q.log.Infof("arming SoC-based %s to %v%% @%s", plan.Mode, *plan.Stop.TargetSoC, powerString(plan.Power))
	} else {
		q.log.Infof("arming duration-based %s @%s for %s", plan.Mode, powerString(plan.Power), plan.Stop.Duration)
	}

	steps := q.armSteps(plan)
	for _, st := range steps {
		o, err := validate.Probe(ctx, q.dev, st.spec, st.sp, q.cfg.ErrorFlag)
		if err != nil {
			q.dev.Release(s.ID)
			return nil, err
		}
		s.record(o)
	}

	s.setState(Armed)
	return s, nil
}

type step struct {
	spec register.Spec
	sp   device.Setpoint
}

func (q *Sequencer) armSteps(plan Plan) []step {
	r := q.cfg.Registers
	var steps []step

	if r.SettingMode != nil {
		mode := 0.0
		if plan.Stop.bySoC() {
			mode = 1
		}
		steps = append(steps, step{*r.SettingMode, device.Set(mode)})
	}

	target := 100.0
	if plan.Mode == Discharge {
		target = 0
	}
	if plan.Stop.bySoC() {
		target = *plan.Stop.TargetSoC
	}
	steps = append(steps, step{r.TargetSoC, device.Set(target)})

	if !plan.Stop.bySoC() && r.Period != nil {
		minutes := math.Ceil(plan.Stop.Duration.Minutes())
		steps = append(steps, step{*r.Period, device.Set(minutes)})
	}

	steps = append(steps, step{q.PowerRegister(plan.Mode), plan.Power})

	return steps
}

// Start asserts the trigger. ARMED -> RUNNING.
// If the trigger write fails the session is torn down; a degraded
// teardown is joined to the returned error.
func (q *Sequencer) Start(ctx context.Context, s *Session) error {
	if st := s.State(); st != Armed {
		return fmt.Errorf("sequencer: start from %s", st)
	}

	o, err := validate.Probe(ctx, q.dev, q.cfg.Registers.Trigger, device.Set(float64(s.Plan.Mode)), nil)
	if err != nil {
		s.mu.Lock()
		s.reason = ReasonAborted
		s.mu.Unlock()
		if stopErr := q.Stop(ctx, s); stopErr != nil {
			return errors.Join(err, stopErr)
		}
		return err
	}
	s.record(o)
	s.setState(Running)

	q.log.Infof("session %s running (%s, stop=%s)", s.ID, s.Plan.Mode, s.Plan.Stop)
	return nil
}

// Await blocks until the stop condition fires or ctx is cancelled.
// Returns the stop reason. The session stays RUNNING; call Stop.
func (q *Sequencer) Await(ctx context.Context, s *Session) (string, error) {
	if st := s.State(); st != Running {
		return "", fmt.Errorf("sequencer: await from %s", st)
	}

	var (
		reason string
		err    error
	)
	if s.Plan.Stop.bySoC() {
		reason, err = q.awaitSoC(ctx, s)
	} else {
		reason = q.awaitDuration(ctx, s)
	}

	s.mu.Lock()
	s.reason = reason
	s.mu.Unlock()
	return reason, err
}

func (q *Sequencer) awaitDuration(ctx context.Context, s *Session) string {
	t := time.NewTimer(time.Until(s.StartedAt().Add(s.Plan.Stop.Duration)))
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ReasonCanceled
	case <-t.C:
		return ReasonDuration
	}
}

func (q *Sequencer) awaitSoC(ctx context.Context, s *Session) (string, error) {
	target := *s.Plan.Stop.TargetSoC

	safety := time.NewTimer(time.Until(s.StartedAt().Add(q.cfg.SafetyTimeout)))
	defer safety.Stop()

	tick := time.NewTicker(q.cfg.SoCCadence)
	defer tick.Stop()

	for {
		v, err := q.dev.Read(ctx, q.cfg.Registers.SoC)
		if err != nil {
			if ctx.Err() != nil {
				return ReasonCanceled, nil
			}
			return "", err
		}

		soc := v.Scaled
		s.mu.Lock()
		s.lastSoC = &soc
		s.mu.Unlock()

		q.log.Infof("[MONITOR] SoC = %v%% (target %v%%)", soc, target)
		if reached(s.Plan.Mode, soc, target) {
			return ReasonSoC, nil
		}

		select {
		case <-ctx.Done():
			return ReasonCanceled, nil
		case <-safety.C:
			q.log.Warnf("session %s: SoC %v%% never reached %v%% within %s, stopping", s.ID, soc, target, q.cfg.SafetyTimeout)
			return ReasonSafety, nil
		case <-tick.C:
		}
	}
}

func reached(m Mode, soc, target float64) bool {
	if m == Charge {
		return soc >= target
	}
	return soc <= target
}

// Stop tears the session down: clear setpoints, write trigger 0 and
// verify it clears. RUNNING/ARMED -> STOPPING -> STOPPED.
// Runs on a context detached from ctx cancellation, bounded by the
// teardown timeout. Returns ErrDegradedStop if the trigger never cleared.
func (q *Sequencer) Stop(ctx context.Context, s *Session) error {
	switch s.State() {
	case Stopped:
		return nil
	case Inactive:
		return fmt.Errorf("sequencer: stop from %s", Inactive)
	}
	s.setState(Stopping)

	tctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), q.cfg.TeardownTimeout)
	defer cancel()

	r := q.cfg.Registers
	zeroed := []register.Spec{r.ChargePower, r.DischargePower}
	if r.Period != nil {
		zeroed = append([]register.Spec{*r.Period}, zeroed...)
	}
	for _, spec := range zeroed {
		if _, err := q.dev.Write(tctx, spec, device.Set(0)); err != nil {
			q.log.Warnf("session %s: clearing %s failed: %v", s.ID, spec.Name, err)
		}
	}

	cleared := q.clearTrigger(tctx, s)

	s.mu.Lock()
	s.degraded = !cleared
	s.mu.Unlock()
	s.setState(Stopped)
	q.dev.Release(s.ID)

	if !cleared {
		q.log.Errorf("session %s: %v after %d attempts, marked STOPPED (degraded)", s.ID, ErrDegradedStop, q.cfg.StopRetries)
		return ErrDegradedStop
	}
	q.log.Infof("session %s stopped (%s)", s.ID, s.StopReason())
	return nil
}

// clearTrigger writes 0 and reads it back, retrying with backoff.
func (q *Sequencer) clearTrigger(ctx context.Context, s *Session) bool {
	trig := q.cfg.Registers.Trigger

	for attempt := 1; attempt <= q.cfg.StopRetries; attempt++ {
		var back register.Value
		err := q.dev.Do(ctx, func(tx *device.Tx) error {
			if _, err := tx.Write(trig, device.Set(0)); err != nil {
				return err
			}
			var err error
			back, err = tx.Read(trig)
			return err
		})
		if err == nil && back.Raw == 0 {
			return true
		}
		if err != nil {
			q.log.Warnf("session %s: stop attempt %d failed: %v", s.ID, attempt, err)
		} else {
			q.log.Warnf("session %s: stop attempt %d read back trigger=%d", s.ID, attempt, back.Raw)
		}

		if attempt == q.cfg.StopRetries {
			break
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(q.cfg.StopBackoff):
		}
	}
	return false
}

func powerString(sp device.Setpoint) string {
	if sp.Omitted {
		return "<default> W"
	}
	return fmt.Sprintf("%v W", sp.Scaled)
}
