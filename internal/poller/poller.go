// internal/poller/poller.go
package poller

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tamzrod/inverter-probe/internal/device"
	"github.com/tamzrod/inverter-probe/internal/register"
)

// Config is the minimal runtime config the poller needs.
type Config struct {
	DeviceID  string
	Interval  time.Duration
	Registers []register.Spec

	// Duration bounds the whole run. 0 = until cancelled.
	Duration time.Duration

	// MaxWait bounds gate acquisition per tick. 0 or > Interval = Interval.
	MaxWait time.Duration
}

// Poller is a clock-driven reader sharing the device gate with the
// control path.
type Poller struct {
	cfg Config
	dev *device.Session
	log *zap.SugaredLogger

	mu          sync.Mutex
	stats       Stats
	consecutive int

	// window counts from the last Mark only
	window         Stats
	winConsecutive int
}

// New creates a poller with immutable config.
func New(cfg Config, dev *device.Session) (*Poller, error) {
	if dev == nil {
		return nil, errors.New("poller: device required")
	}
	if cfg.DeviceID == "" {
		cfg.DeviceID = dev.ID
	}
	if cfg.Interval <= 0 {
		return nil, errors.New("poller: interval must be > 0")
	}
	if len(cfg.Registers) == 0 {
		return nil, errors.New("poller: at least one register required")
	}
	if cfg.Duration < 0 {
		return nil, errors.New("poller: duration must be >= 0")
	}
	if cfg.MaxWait <= 0 || cfg.MaxWait > cfg.Interval {
		cfg.MaxWait = cfg.Interval
	}
	return &Poller{cfg: cfg, dev: dev, log: dev.Logger()}, nil
}

// Names returns the polled register names in order.
func (p *Poller) Names() []string {
	out := make([]string, len(p.cfg.Registers))
	for i, r := range p.cfg.Registers {
		out[i] = r.Name
	}
	return out
}

// PollOnce performs exactly one poll cycle inside one gate transaction.
// All-or-nothing: any failure aborts the cycle. A gate timeout is
// reported as device.ErrGateTimeout in Sample.Err.
func (p *Poller) PollOnce(ctx context.Context) Sample {
	res := Sample{
		ID:     uuid.NewString(),
		Device: p.cfg.DeviceID,
		At:     time.Now(),
	}

	values := make([]register.Value, 0, len(p.cfg.Registers))
	err := p.dev.TryDo(ctx, p.cfg.MaxWait, func(tx *device.Tx) error {
		for _, spec := range p.cfg.Registers {
			v, err := tx.Read(spec)
			if err != nil {
				return err
			}
			values = append(values, v)
		}
		return nil
	})
	if err != nil {
		res.Err = err
		return res
	}

	// Commit only if all reads succeeded
	res.Values = values
	return res
}

// Stats returns a copy of the tick counters.
func (p *Poller) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

// Mark starts a new measurement window. Misses before the mark never
// show up in Window, including a starvation run still in progress.
func (p *Poller) Mark() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.window = Stats{}
	p.winConsecutive = 0
}

// Window returns the tick counters accumulated since the last Mark.
func (p *Poller) Window() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.window
}

func (p *Poller) count(s Sample) (missed bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	missed = errors.Is(s.Err, device.ErrGateTimeout)
	tally(&p.stats, &p.consecutive, s, missed)
	tally(&p.window, &p.winConsecutive, s, missed)
	return missed
}

func tally(st *Stats, consecutive *int, s Sample, missed bool) {
	st.Ticks++
	if missed {
		st.Missed++
		*consecutive++
		if *consecutive > st.MaxConsecutiveMissed {
			st.MaxConsecutiveMissed = *consecutive
		}
		return
	}

	*consecutive = 0
	if s.Err != nil {
		st.Failed++
	} else {
		st.Samples++
	}
}
