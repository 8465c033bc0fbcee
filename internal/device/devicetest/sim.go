// internal/device/devicetest/sim.go
package devicetest

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tamzrod/inverter-probe/internal/register"
)

// Call records one transport operation.
type Call struct {
	Write bool
	Addr  uint16
	Words []uint16
}

type hook struct {
	spec register.Spec
	fn   func(*Sim, int64)
}

type clamp struct {
	spec   register.Spec
	lo, hi int64
}

// Sim is an in-memory inverter implementing device.Transport.
// Word-addressed; behaviour rules are keyed by register spec.
type Sim struct {
	mu      sync.Mutex
	regs    map[uint16]uint16
	clamps  map[uint16]clamp
	ignored map[uint16]bool
	fail    map[uint16]error
	hooks   map[uint16][]hook
	onRead  map[uint16][]func(*Sim)
	calls   []Call
	delay   time.Duration
	logins  int

	inflight int32
	overlaps int32
}

func NewSim() *Sim {
	return &Sim{
		regs:    map[uint16]uint16{},
		clamps:  map[uint16]clamp{},
		ignored: map[uint16]bool{},
		fail:    map[uint16]error{},
		hooks:   map[uint16][]hook{},
		onRead:  map[uint16][]func(*Sim){},
	}
}

// Put stores raw into the register without running write rules.
func (s *Sim) Put(spec register.Spec, raw int64) {
	words, err := spec.Encode(raw)
	if err != nil {
		panic(err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.store(spec.Address, words)
}

// Get returns the current raw value of the register.
func (s *Sim) Get(spec register.Spec) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, _ := spec.Decode(s.load(spec.Address, spec.Type.Words()))
	return raw
}

// ClampTo makes the device substitute out-of-range writes with the boundary.
func (s *Sim) ClampTo(spec register.Spec, lo, hi int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clamps[spec.Address] = clamp{spec: spec, lo: lo, hi: hi}
}

// Ignore makes writes to the register succeed on the wire but have no effect.
func (s *Sim) Ignore(spec register.Spec) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ignored[spec.Address] = true
}

// OnWrite runs fn after every applied write to spec, outside the sim lock.
func (s *Sim) OnWrite(spec register.Spec, fn func(sim *Sim, raw int64)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks[spec.Address] = append(s.hooks[spec.Address], hook{spec: spec, fn: fn})
}

// OnRead runs fn before every read of spec, outside the sim lock.
// Lets tests model values that drift on their own (SoC).
func (s *Sim) OnRead(spec register.Spec, fn func(sim *Sim)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onRead[spec.Address] = append(s.onRead[spec.Address], fn)
}

// FailOn makes every operation touching addr return err. nil clears it.
func (s *Sim) FailOn(addr uint16, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.fail, addr)
		return
	}
	s.fail[addr] = err
}

// SetDelay adds latency to every transport call.
func (s *Sim) SetDelay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delay = d
}

// Calls returns a copy of the call log.
func (s *Sim) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Call, len(s.calls))
	copy(out, s.calls)
	return out
}

// WritesTo counts writes addressed to spec.
func (s *Sim) WritesTo(spec register.Spec) int {
	n := 0
	for _, c := range s.Calls() {
		if c.Write && c.Addr == spec.Address {
			n++
		}
	}
	return n
}

// Overlaps counts transport calls that started while another was in flight.
func (s *Sim) Overlaps() int { return int(atomic.LoadInt32(&s.overlaps)) }

// Logins counts Login calls.
func (s *Sim) Logins() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.logins
}

// ---- device.Transport ----

func (s *Sim) ReadHoldingRegisters(addr, qty uint16) ([]uint16, error) {
	return s.read(addr, qty)
}

func (s *Sim) ReadInputRegisters(addr, qty uint16) ([]uint16, error) {
	return s.read(addr, qty)
}

func (s *Sim) WriteMultipleRegisters(addr uint16, regs []uint16) error {
	done := s.enter()
	defer done()

	s.mu.Lock()
	s.calls = append(s.calls, Call{Write: true, Addr: addr, Words: append([]uint16(nil), regs...)})
	if err := s.fail[addr]; err != nil {
		s.mu.Unlock()
		return err
	}
	if s.ignored[addr] {
		s.mu.Unlock()
		return nil
	}

	words := regs
	if c, ok := s.clamps[addr]; ok {
		raw, err := c.spec.Decode(regs)
		if err != nil {
			s.mu.Unlock()
			return err
		}
		if raw < c.lo {
			raw = c.lo
		}
		if raw > c.hi {
			raw = c.hi
		}
		words, _ = c.spec.Encode(raw)
	}
	s.store(addr, words)

	hooks := s.hooks[addr]
	s.mu.Unlock()

	for _, h := range hooks {
		raw, err := h.spec.Decode(words)
		if err != nil {
			continue
		}
		h.fn(s, raw)
	}
	return nil
}

// Login implements device.Authenticator.
func (s *Sim) Login(role, credential string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if credential == "" {
		return errors.New("sim: login rejected")
	}
	s.logins++
	return nil
}

// ---- internals ----

func (s *Sim) read(addr, qty uint16) ([]uint16, error) {
	done := s.enter()
	defer done()

	s.mu.Lock()
	fns := s.onRead[addr]
	s.mu.Unlock()
	for _, fn := range fns {
		fn(s)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls = append(s.calls, Call{Addr: addr})
	if err := s.fail[addr]; err != nil {
		return nil, err
	}
	return s.load(addr, qty), nil
}

func (s *Sim) enter() func() {
	if atomic.AddInt32(&s.inflight, 1) > 1 {
		atomic.AddInt32(&s.overlaps, 1)
	}
	s.mu.Lock()
	d := s.delay
	s.mu.Unlock()
	if d > 0 {
		time.Sleep(d)
	}
	return func() { atomic.AddInt32(&s.inflight, -1) }
}

func (s *Sim) store(addr uint16, words []uint16) {
	for i, w := range words {
		s.regs[addr+uint16(i)] = w
	}
}

func (s *Sim) load(addr, qty uint16) []uint16 {
	out := make([]uint16, qty)
	for i := range out {
		out[i] = s.regs[addr+uint16(i)]
	}
	return out
}
