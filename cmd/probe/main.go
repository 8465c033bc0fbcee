// cmd/probe/main.go
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/tamzrod/inverter-probe/internal/config"
	"github.com/tamzrod/inverter-probe/internal/device"
	"github.com/tamzrod/inverter-probe/internal/poller"
	"github.com/tamzrod/inverter-probe/internal/register"
	"github.com/tamzrod/inverter-probe/internal/runner"
	"github.com/tamzrod/inverter-probe/internal/sequencer"
	"github.com/tamzrod/inverter-probe/internal/status"
	"github.com/tamzrod/inverter-probe/internal/transport/modbus"
	"github.com/tamzrod/inverter-probe/internal/validate"
	"github.com/tamzrod/inverter-probe/internal/writer"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: probe <config.yaml>")
		os.Exit(2)
	}
	os.Exit(run(os.Args[1]))
}

// run returns the process exit code: 0 when every test passed,
// 1 when any failed or the run was interrupted.
func run(cfgPath string) int {
	boot := zap.Must(zap.NewProduction()).Sugar()

	// --------------------
	// Load + validate config
	// --------------------

	cfg, err := config.Load(cfgPath)
	if err != nil {
		boot.Fatalf("config load failed: %v", err)
	}

	if err := config.Validate(cfg); err != nil {
		boot.Fatalf("config validation failed: %v", err)
	}

	config.Normalize(cfg)

	zl, err := newLogger(cfg.Log)
	if err != nil {
		boot.Fatalf("logger build failed: %v", err)
	}
	defer func() { _ = zl.Sync() }()
	log := zl.Sugar()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --------------------
	// Register table + device
	// --------------------

	cat, err := register.Load(cfg.Registers)
	if err != nil {
		log.Fatalf("register table load failed (path=%s): %v", cfg.Registers, err)
	}

	tr, err := modbus.Build(cfg.Device)
	if err != nil {
		log.Fatalf("transport build failed (device=%s): %v", cfg.Device.ID, err)
	}
	defer tr.Close()

	dev, err := device.New(cfg.Device.ID, tr, cat, log)
	if err != nil {
		log.Fatalf("device session failed (device=%s): %v", cfg.Device.ID, err)
	}

	if l := cfg.Device.Login; l != nil {
		if err := dev.Login(ctx, l.Role, l.Password); err != nil {
			log.Fatalf("login failed (device=%s): %v", dev.ID, err)
		}
	}

	if cfg.Device.SettleMs > 0 {
		select {
		case <-ctx.Done():
			return 1
		case <-time.After(time.Duration(cfg.Device.SettleMs) * time.Millisecond):
		}
	}

	// --------------------
	// Components
	// --------------------

	flag, err := validate.BuildErrorFlag(cfg.ErrorFlag, cat)
	if err != nil {
		log.Fatalf("error flag failed: %v", err)
	}

	seq, err := sequencer.Build(cfg.Control, flag, dev)
	if err != nil {
		log.Fatalf("sequencer build failed (device=%s): %v", dev.ID, err)
	}

	p, err := poller.Build(cfg.Telemetry, dev)
	if err != nil {
		log.Fatalf("poller build failed (device=%s): %v", dev.ID, err)
	}

	r, err := runner.New(dev, seq, flag)
	if err != nil {
		log.Fatalf("runner build failed: %v", err)
	}
	if p != nil {
		r.WatchPoller(p)
	}

	plan, err := runner.BuildPlan(cfg, cat)
	if err != nil {
		log.Fatalf("test plan failed: %v", err)
	}

	var names []string
	if p != nil {
		names = p.Names()
	}
	sink, err := writer.Build(cfg.Outputs, dev.ID, names, log)
	if err != nil {
		log.Fatalf("sinks failed (device=%s): %v", dev.ID, err)
	}
	defer func() {
		if err := sink.Close(); err != nil {
			log.Warnf("sink close failed: %v", err)
		}
	}()

	// --------------------
	// Poller + orchestrator
	// --------------------

	samples := make(chan poller.Sample)
	resCh := make(chan runner.TestResult)

	pollCtx, cancelPoll := context.WithCancel(ctx)
	defer cancelPoll()

	var staleAfter time.Duration
	if p != nil {
		staleAfter = 3 * time.Duration(cfg.Telemetry.IntervalMs) * time.Millisecond
		go p.Run(pollCtx, samples)
	} else {
		close(samples)
	}

	o := &orchestrator{
		dev:     dev,
		sink:    sink,
		status:  writer.NewStatusWriter(sink),
		tracker: status.NewTracker(dev.ID, staleAfter),
		log:     log,
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		o.loop(samples, resCh)
	}()

	// --------------------
	// Test run
	// --------------------

	log.Infof("starting run (device=%s scenarios=%d cycles=%d)", dev.ID, len(plan.Scenarios), len(plan.Cycles))

	results := r.Run(ctx, plan, func(res runner.TestResult) { resCh <- res })
	close(resCh)

	// A fixed telemetry duration outlives the test plan. Without one,
	// telemetry stops with the plan, or runs until signalled when the
	// plan is empty.
	if cfg.Telemetry.DurationS == 0 && len(plan.Scenarios)+len(plan.Cycles) > 0 {
		cancelPoll()
	}
	<-done

	failed := 0
	for _, res := range results {
		if !res.Passed {
			failed++
		}
	}
	if ctx.Err() != nil {
		log.Warnf("run interrupted (device=%s)", dev.ID)
		return 1
	}
	if failed > 0 {
		return 1
	}
	return 0
}
