// internal/poller/runner.go
package poller

import (
	"context"
	"time"
)

// Run starts the ticker loop and emits Samples on out until ctx is
// cancelled or the configured duration elapses. out is closed on return.
// One goroutine per device. No overlap. No retries.
//
// Cancellation is checked before each tick; a cycle that already started
// finishes its reads.
func (p *Poller) Run(ctx context.Context, out chan<- Sample) {
	defer close(out)

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	var deadline <-chan time.Time
	if p.cfg.Duration > 0 {
		t := time.NewTimer(p.cfg.Duration)
		defer t.Stop()
		deadline = t.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-deadline:
			p.log.Infof("poller finished after %s (device=%s)", p.cfg.Duration, p.cfg.DeviceID)
			return
		case <-ticker.C:
		}
		if ctx.Err() != nil {
			return
		}

		s := p.PollOnce(context.WithoutCancel(ctx))
		if p.count(s) {
			st := p.Stats()
			p.log.Warnf("[POLL] missed tick (device=%s): gate busy for %s (missed=%d, run=%d)",
				p.cfg.DeviceID, p.cfg.MaxWait, st.Missed, st.MaxConsecutiveMissed)
			continue
		}
		if s.Err != nil {
			p.log.Warnf("[POLL] read failed (device=%s): %v", p.cfg.DeviceID, s.Err)
		}

		select {
		case out <- s:
		case <-ctx.Done():
			return
		}
	}
}
