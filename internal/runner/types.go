// internal/runner/types.go
package runner

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/tamzrod/inverter-probe/internal/register"
	"github.com/tamzrod/inverter-probe/internal/sequencer"
	"github.com/tamzrod/inverter-probe/internal/validate"
)

// Kind selects the scenario procedure.
type Kind string

const (
	EmptyValue       Kind = "empty_value"
	OutOfRange       Kind = "out_of_range"
	InterleavedWrite Kind = "interleaved_write"
	SleepWake        Kind = "sleep_wake"
	AlarmReadback    Kind = "alarm_readback"
	RegisterDump     Kind = "register_dump"
	RestoreDefaults  Kind = "restore_defaults"
	CycleRun         Kind = "cycle"
)

// Scenario is one resolved catalogue entry.
type Scenario struct {
	Name       string
	Kind       Kind
	Register   register.Spec
	Values     []float64
	Expect     validate.Classification
	ExpectFlag *bool // nil = not asserted
	Readback   []register.Spec
	Writes     []Write // restore_defaults, applied in order
	Settle     time.Duration

	// Background forced session for empty_value and interleaved_write.
	Mode     sequencer.Mode
	Power    float64
	Duration time.Duration
}

// Write is one setpoint of a restore_defaults scenario.
type Write struct {
	Spec  register.Spec
	Value float64
}

// DumpEntry is one register of a register_dump. Err is set when the
// read failed; Value is then zero apart from its Spec.
type DumpEntry struct {
	Value register.Value
	Err   error
}

// Cycle is one scripted forced charge/discharge run.
type Cycle struct {
	Name string
	Plan sequencer.Plan
}

// Plan is everything one probe run executes, in order.
type Plan struct {
	Scenarios []Scenario
	Cycles    []Cycle
}

// TestResult is the terminal record of one scenario or cycle.
type TestResult struct {
	Scenario   string
	Kind       Kind
	Outcomes   []validate.Outcome
	Readings   []register.Value
	Passed     bool
	Reason     string
	Degraded   bool        // a forced session ended without the trigger verified clear
	Dump       []DumpEntry // register_dump only
	StartedAt  time.Time
	FinishedAt time.Time
}

func (r *TestResult) fail(format string, args ...any) {
	r.Passed = false
	msg := fmt.Sprintf(format, args...)
	if r.Reason == "" {
		r.Reason = msg
		return
	}
	r.Reason += "; " + msg
}

// Columns is the fixed field order used by tabular sinks.
func (TestResult) Columns() []string {
	return []string{"scenario", "kind", "passed", "reason", "started_at", "finished_at", "outcomes", "readings"}
}

// Row renders the result in Columns order.
func (r TestResult) Row() []string {
	outs := make([]string, len(r.Outcomes))
	for i, o := range r.Outcomes {
		outs[i] = FormatOutcome(o)
	}
	reads := make([]string, len(r.Readings))
	for i, v := range r.Readings {
		reads[i] = v.Spec.Name + "=" + strconv.FormatFloat(v.Scaled, 'f', -1, 64)
	}
	return []string{
		r.Scenario,
		string(r.Kind),
		strconv.FormatBool(r.Passed),
		r.Reason,
		r.StartedAt.Format(time.RFC3339Nano),
		r.FinishedAt.Format(time.RFC3339Nano),
		strings.Join(outs, " "),
		strings.Join(reads, " "),
	}
}

// FormatOutcome renders an outcome as name:CLASS(requested->observed,flag).
func FormatOutcome(o validate.Outcome) string {
	req := "omit"
	if !o.Attempt.Omitted() {
		req = strconv.FormatFloat(o.Attempt.RequestedScaled, 'f', -1, 64)
	}
	return fmt.Sprintf("%s:%s(%s->%s,flag=%t)",
		o.Attempt.Spec.Name, o.Classification, req,
		strconv.FormatFloat(o.ObservedScaled, 'f', -1, 64), o.ErrorFlag)
}
