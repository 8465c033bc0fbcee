// internal/poller/poller_test.go
package poller

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	cfg "github.com/tamzrod/inverter-probe/internal/config"
	"github.com/tamzrod/inverter-probe/internal/device"
	"github.com/tamzrod/inverter-probe/internal/device/devicetest"
	"github.com/tamzrod/inverter-probe/internal/register"
)

var (
	activePower = register.Spec{Name: "active_power", Address: 32080, Type: register.I32, Unit: "W"}
	gridVoltage = register.Spec{Name: "grid_voltage", Address: 32069, Type: register.U16, Gain: 10, Unit: "V"}
	derating    = register.Spec{Name: "active_power_derating", Address: 40125, Type: register.I16, Gain: 10, Writable: true}
)

func newDevice(t *testing.T) (*device.Session, *devicetest.Sim) {
	t.Helper()
	cat, err := register.NewCatalogue([]register.Spec{activePower, gridVoltage, derating})
	if err != nil {
		t.Fatalf("catalogue: %v", err)
	}
	sim := devicetest.NewSim()
	dev, err := device.New("inv1", sim, cat, zaptest.NewLogger(t).Sugar())
	if err != nil {
		t.Fatalf("device: %v", err)
	}
	return dev, sim
}

func TestPollOnce_Success(t *testing.T) {
	dev, sim := newDevice(t)
	sim.Put(activePower, -2500)
	sim.Put(gridVoltage, 2301)

	p, err := New(Config{Interval: time.Second, Registers: []register.Spec{activePower, gridVoltage}}, dev)
	if err != nil {
		t.Fatalf("New() err=%v", err)
	}

	res := p.PollOnce(context.Background())
	if res.Err != nil {
		t.Fatalf("PollOnce err=%v", res.Err)
	}
	if len(res.Values) != 2 {
		t.Fatalf("expected 2 values, got %d", len(res.Values))
	}
	if v, _ := res.Get("active_power"); v != -2500 {
		t.Fatalf("active_power = %v", v)
	}
	if v, _ := res.Get("grid_voltage"); v != 230.1 {
		t.Fatalf("grid_voltage = %v", v)
	}
	if res.Device != "inv1" || res.ID == "" {
		t.Fatalf("sample identity not set: %+v", res)
	}

	names := p.Names()
	cols := res.Columns(names)
	row := res.Row(names)
	if len(cols) != len(row) {
		t.Fatalf("columns/row length mismatch: %d vs %d", len(cols), len(row))
	}
	if cols[3] != "active_power" || row[3] != "-2500" || row[4] != "230.1" || row[5] != "" {
		t.Fatalf("unexpected row %v for columns %v", row, cols)
	}
}

func TestPollOnce_Failure(t *testing.T) {
	dev, sim := newDevice(t)
	sim.FailOn(gridVoltage.Address, errors.New("timeout"))

	p, err := New(Config{Interval: time.Second, Registers: []register.Spec{activePower, gridVoltage}}, dev)
	if err != nil {
		t.Fatalf("New() err=%v", err)
	}

	res := p.PollOnce(context.Background())
	if res.Err == nil {
		t.Fatalf("expected error, got nil")
	}
	if !device.IsComm(res.Err) {
		t.Fatalf("expected comm error, got %T", res.Err)
	}
	if res.Values != nil {
		t.Fatalf("partial cycle committed: %v", res.Values)
	}
}

func TestNew_Validation(t *testing.T) {
	dev, _ := newDevice(t)

	if _, err := New(Config{Registers: []register.Spec{activePower}}, dev); err == nil {
		t.Fatalf("expected interval error")
	}
	if _, err := New(Config{Interval: time.Second}, dev); err == nil {
		t.Fatalf("expected registers error")
	}

	p, err := New(Config{Interval: time.Second, MaxWait: time.Hour, Registers: []register.Spec{activePower}}, dev)
	if err != nil {
		t.Fatalf("New() err=%v", err)
	}
	if p.cfg.MaxWait != time.Second {
		t.Fatalf("max wait not capped to interval: %s", p.cfg.MaxWait)
	}
}

func TestRun_StopsAfterDurationAndClosesChannel(t *testing.T) {
	dev, _ := newDevice(t)

	p, err := New(Config{
		Interval:  10 * time.Millisecond,
		Duration:  75 * time.Millisecond,
		Registers: []register.Spec{activePower},
	}, dev)
	if err != nil {
		t.Fatalf("New() err=%v", err)
	}

	out := make(chan Sample)
	go p.Run(context.Background(), out)

	n := 0
	for range out {
		n++
	}
	if n < 3 || n > 8 {
		t.Fatalf("expected about 7 samples, got %d", n)
	}
	if st := p.Stats(); st.Samples != n || st.Missed != 0 {
		t.Fatalf("stats = %+v, samples received %d", st, n)
	}
}

func TestRun_CancellationEndsAtTickBoundary(t *testing.T) {
	dev, _ := newDevice(t)

	p, err := New(Config{Interval: 10 * time.Millisecond, Registers: []register.Spec{activePower}}, dev)
	if err != nil {
		t.Fatalf("New() err=%v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	out := make(chan Sample)
	done := make(chan struct{})
	go func() {
		p.Run(ctx, out)
		close(done)
	}()

	<-out
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("poller did not exit after cancellation")
	}
	if _, ok := <-out; ok {
		t.Fatalf("output channel not closed")
	}
}

func TestRun_MissedTicksAreCountedNotFatal(t *testing.T) {
	dev, _ := newDevice(t)

	p, err := New(Config{
		Interval:  20 * time.Millisecond,
		MaxWait:   5 * time.Millisecond,
		Duration:  200 * time.Millisecond,
		Registers: []register.Spec{activePower},
	}, dev)
	if err != nil {
		t.Fatalf("New() err=%v", err)
	}

	// Hold the gate across several ticks.
	held := make(chan struct{})
	go func() {
		_ = dev.Do(context.Background(), func(*device.Tx) error {
			close(held)
			time.Sleep(90 * time.Millisecond)
			return nil
		})
	}()
	<-held

	out := make(chan Sample)
	go p.Run(context.Background(), out)

	n := 0
	for range out {
		n++
	}

	st := p.Stats()
	if st.Missed < 2 || st.MaxConsecutiveMissed < 2 {
		t.Fatalf("expected consecutive missed ticks, got %+v", st)
	}
	if n == 0 || st.Samples != n {
		t.Fatalf("poller did not recover after the gate was released: %+v", st)
	}
}

func TestRun_InterleavedWritesKeepReadBack(t *testing.T) {
	dev, sim := newDevice(t)
	sim.SetDelay(time.Millisecond)

	p, err := New(Config{
		Interval:  10 * time.Millisecond,
		Duration:  150 * time.Millisecond,
		Registers: []register.Spec{activePower, gridVoltage},
	}, dev)
	if err != nil {
		t.Fatalf("New() err=%v", err)
	}

	out := make(chan Sample, 32)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		p.Run(context.Background(), out)
	}()

	for i := 0; i < 20; i++ {
		want := float64(i%10) * 10
		var got register.Value
		err := dev.Do(context.Background(), func(tx *device.Tx) error {
			if _, err := tx.Write(derating, device.Set(want)); err != nil {
				return err
			}
			var err error
			got, err = tx.Read(derating)
			return err
		})
		if err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
		if got.Scaled != want {
			t.Fatalf("read-back %v, wrote %v", got.Scaled, want)
		}
		time.Sleep(3 * time.Millisecond)
	}

	wg.Wait()
	if st := p.Stats(); st.MaxConsecutiveMissed > 1 {
		t.Fatalf("poller starved: %+v", st)
	}
	if sim.Overlaps() != 0 {
		t.Fatalf("transport frames interleaved: %d overlaps", sim.Overlaps())
	}
}

func TestBuild_ResolvesRegisterNames(t *testing.T) {
	dev, _ := newDevice(t)

	p, err := Build(cfg.TelemetryConfig{Registers: []string{"grid_voltage", "active_power"}, IntervalMs: 1000, MaxWaitMs: 200}, dev)
	if err != nil {
		t.Fatalf("Build err=%v", err)
	}
	if got := p.Names(); len(got) != 2 || got[0] != "grid_voltage" {
		t.Fatalf("names = %v", got)
	}

	if _, err := Build(cfg.TelemetryConfig{Registers: []string{"nope"}, IntervalMs: 1000}, dev); err == nil {
		t.Fatalf("expected unknown register error")
	}

	p, err = Build(cfg.TelemetryConfig{}, dev)
	if err != nil || p != nil {
		t.Fatalf("empty telemetry should build nothing, got %v %v", p, err)
	}
}

func TestMark_WindowIgnoresEarlierStarvation(t *testing.T) {
	dev, _ := newDevice(t)

	p, err := New(Config{
		Interval:  10 * time.Millisecond,
		MaxWait:   2 * time.Millisecond,
		Registers: []register.Spec{activePower},
	}, dev)
	if err != nil {
		t.Fatalf("New() err=%v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	out := make(chan Sample, 64)
	go p.Run(ctx, out)

	// Starve the poller for several ticks.
	_ = dev.Do(context.Background(), func(*device.Tx) error {
		time.Sleep(60 * time.Millisecond)
		return nil
	})
	if st := p.Stats(); st.MaxConsecutiveMissed < 2 {
		t.Fatalf("expected starvation before mark, got %+v", st)
	}

	p.Mark()
	time.Sleep(60 * time.Millisecond)

	w := p.Window()
	if w.Ticks == 0 {
		t.Fatalf("no ticks in window")
	}
	if w.MaxConsecutiveMissed != 0 || w.Missed != 0 {
		t.Fatalf("window leaked earlier misses: %+v", w)
	}
	if st := p.Stats(); st.MaxConsecutiveMissed < 2 {
		t.Fatalf("lifetime stats must keep the earlier maximum: %+v", st)
	}
}

func TestMark_WindowSeesStarvationAfterMark(t *testing.T) {
	dev, _ := newDevice(t)

	p, err := New(Config{
		Interval:  10 * time.Millisecond,
		MaxWait:   2 * time.Millisecond,
		Registers: []register.Spec{activePower},
	}, dev)
	if err != nil {
		t.Fatalf("New() err=%v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	out := make(chan Sample, 64)
	go p.Run(ctx, out)

	p.Mark()
	_ = dev.Do(context.Background(), func(*device.Tx) error {
		time.Sleep(60 * time.Millisecond)
		return nil
	})
	time.Sleep(20 * time.Millisecond)

	if w := p.Window(); w.MaxConsecutiveMissed < 2 {
		t.Fatalf("expected starvation in window, got %+v", w)
	}
}
