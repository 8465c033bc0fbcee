// internal/sequencer/types.go
package sequencer

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/tamzrod/inverter-probe/internal/device"
	"github.com/tamzrod/inverter-probe/internal/validate"
)

var (
	// ErrSessionConflict rejects arming while another session runs.
	// Rejected, never queued.
	ErrSessionConflict = errors.New("sequencer: another control session is running")

	// ErrDegradedStop means the trigger did not clear after bounded retries.
	// The session is still STOPPED.
	ErrDegradedStop = errors.New("sequencer: stop trigger did not clear")
)

// Mode selects forced charge or discharge.
// Values are the trigger register codes.
type Mode int

const (
	Charge    Mode = 1
	Discharge Mode = 2
)

func (m Mode) String() string {
	switch m {
	case Charge:
		return "charge"
	case Discharge:
		return "discharge"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// ParseMode accepts "charge" or "discharge".
func ParseMode(s string) (Mode, error) {
	switch s {
	case "charge":
		return Charge, nil
	case "discharge":
		return Discharge, nil
	}
	return 0, fmt.Errorf("sequencer: unknown mode %q", s)
}

// State of a control session.
type State int

const (
	Inactive State = iota
	Armed
	Running
	Stopping
	Stopped
)

func (s State) String() string {
	switch s {
	case Inactive:
		return "INACTIVE"
	case Armed:
		return "ARMED"
	case Running:
		return "RUNNING"
	case Stopping:
		return "STOPPING"
	case Stopped:
		return "STOPPED"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// StopCondition is either a wall-clock duration or an SoC threshold.
// Direction of the threshold follows the session mode.
type StopCondition struct {
	Duration  time.Duration
	TargetSoC *float64
}

// ForDuration stops after d.
func ForDuration(d time.Duration) StopCondition { return StopCondition{Duration: d} }

// AtSoC stops once SoC crosses target (percent).
func AtSoC(target float64) StopCondition { return StopCondition{TargetSoC: &target} }

func (c StopCondition) bySoC() bool { return c.TargetSoC != nil }

func (c StopCondition) String() string {
	if c.bySoC() {
		return fmt.Sprintf("soc=%v%%", *c.TargetSoC)
	}
	return c.Duration.String()
}

// Plan describes one forced session.
type Plan struct {
	Mode  Mode
	Power device.Setpoint
	Stop  StopCondition
}

// Stop reasons.
const (
	ReasonDuration = "duration"
	ReasonSoC      = "soc"
	ReasonSafety   = "safety_timeout"
	ReasonCanceled = "canceled"
	ReasonAborted  = "aborted"
)

// Session is one forced charge/discharge run.
// Created by Arm; terminal once STOPPED.
type Session struct {
	ID   string
	Plan Plan

	mu         sync.Mutex
	state      State
	startedAt  time.Time
	stoppingAt time.Time
	stoppedAt  time.Time
	reason     string
	degraded   bool
	lastSoC    *float64
	outcomes   []validate.Outcome
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = st
	switch st {
	case Running:
		s.startedAt = time.Now()
	case Stopping:
		s.stoppingAt = time.Now()
	case Stopped:
		s.stoppedAt = time.Now()
	}
}

// StartedAt is when the trigger was asserted.
func (s *Session) StartedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startedAt
}

// RunTime is the RUNNING -> STOPPING interval.
func (s *Session) RunTime() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.startedAt.IsZero() || s.stoppingAt.IsZero() {
		return 0
	}
	return s.stoppingAt.Sub(s.startedAt)
}

func (s *Session) StoppedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stoppedAt
}

// StopReason is which condition ended the run.
func (s *Session) StopReason() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason
}

// Degraded is set when the stop trigger could not be verified.
func (s *Session) Degraded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.degraded
}

// LastSoC is the most recent SoC sample taken by the SoC strategy.
func (s *Session) LastSoC() (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastSoC == nil {
		return 0, false
	}
	return *s.lastSoC, true
}

// Outcomes returns the validated writes issued by the session, in order.
func (s *Session) Outcomes() []validate.Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]validate.Outcome, len(s.outcomes))
	copy(out, s.outcomes)
	return out
}

func (s *Session) record(o validate.Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outcomes = append(s.outcomes, o)
}
