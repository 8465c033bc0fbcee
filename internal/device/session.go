// internal/device/session.go
package device

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tamzrod/inverter-probe/internal/register"
)

// Transport abstracts the Modbus operations the access layer needs.
// Word-level only: no scaling, no semantics.
type Transport interface {
	ReadHoldingRegisters(addr, qty uint16) ([]uint16, error) // FC 3
	ReadInputRegisters(addr, qty uint16) ([]uint16, error)   // FC 4
	WriteMultipleRegisters(addr uint16, regs []uint16) error // FC 16
}

// Authenticator is implemented by transports that need a login
// before privileged writes (TCP installer mode).
type Authenticator interface {
	Login(role, credential string) error
}

// Setpoint is a requested engineering value, or an omitted write.
type Setpoint struct {
	Scaled  float64
	Omitted bool
}

// Set requests v.
func Set(v float64) Setpoint { return Setpoint{Scaled: v} }

// Omit skips the write and lets the device apply its default.
func Omit() Setpoint { return Setpoint{Omitted: true} }

// WriteResult reports what was put on the wire.
type WriteResult struct {
	Raw     int64
	Omitted bool // no transport call was made
}

// Session is the owned per-device context: transport, register table,
// gate and the single control-session slot. No global state.
type Session struct {
	ID        string
	Catalogue *register.Catalogue

	tr  Transport
	g   gate
	log *zap.SugaredLogger

	mu     sync.Mutex
	holder string // id of the control session that owns the device
}

// New wires a device session over an already-connected transport.
func New(id string, tr Transport, cat *register.Catalogue, log *zap.SugaredLogger) (*Session, error) {
	if id == "" {
		return nil, errors.New("device: id required")
	}
	if tr == nil {
		return nil, errors.New("device: transport required")
	}
	if cat == nil {
		return nil, errors.New("device: register table required")
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Session{
		ID:        id,
		Catalogue: cat,
		tr:        tr,
		g:         newGate(),
		log:       log.With("device", id),
	}, nil
}

// Logger returns the device-scoped logger.
func (s *Session) Logger() *zap.SugaredLogger { return s.log }

// Do runs fn while holding the gate. Every operation issued through tx
// is applied in order with no foreign frame in between.
func (s *Session) Do(ctx context.Context, fn func(tx *Tx) error) error {
	if err := s.g.acquire(ctx); err != nil {
		return err
	}
	defer s.g.release()
	return fn(&Tx{s: s})
}

// TryDo is Do with a bounded wait for the gate.
func (s *Session) TryDo(ctx context.Context, wait time.Duration, fn func(tx *Tx) error) error {
	if err := s.g.tryAcquire(ctx, wait); err != nil {
		return err
	}
	defer s.g.release()
	return fn(&Tx{s: s})
}

// Read reads one register under the gate.
func (s *Session) Read(ctx context.Context, spec register.Spec) (register.Value, error) {
	var v register.Value
	err := s.Do(ctx, func(tx *Tx) error {
		var err error
		v, err = tx.Read(spec)
		return err
	})
	return v, err
}

// Write writes one register under the gate.
func (s *Session) Write(ctx context.Context, spec register.Spec, sp Setpoint) (WriteResult, error) {
	var res WriteResult
	err := s.Do(ctx, func(tx *Tx) error {
		var err error
		res, err = tx.Write(spec, sp)
		return err
	})
	return res, err
}

// Login forwards to the transport when it supports authentication.
// Transports without a login step (RTU) succeed trivially.
func (s *Session) Login(ctx context.Context, role, credential string) error {
	a, ok := s.tr.(Authenticator)
	if !ok {
		return nil
	}
	return s.Do(ctx, func(*Tx) error {
		if err := a.Login(role, credential); err != nil {
			return &CommError{Op: "login", Err: err}
		}
		s.log.Infof("logged in as %s", role)
		return nil
	})
}

// Claim reserves the device for one control session.
func (s *Session) Claim(holder string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.holder != "" && s.holder != holder {
		return ErrSlotTaken
	}
	s.holder = holder
	return nil
}

// Release frees the slot if holder owns it.
func (s *Session) Release(holder string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.holder == holder {
		s.holder = ""
	}
}

// Holder returns the id of the current control session, if any.
func (s *Session) Holder() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.holder
}

// Tx performs register I/O while the gate is held.
// Only valid inside Do/TryDo.
type Tx struct {
	s *Session
}

// Read fetches and scales one register.
func (tx *Tx) Read(spec register.Spec) (register.Value, error) {
	qty := spec.Type.Words()

	var (
		words []uint16
		err   error
	)
	if spec.Input {
		words, err = tx.s.tr.ReadInputRegisters(spec.Address, qty)
	} else {
		words, err = tx.s.tr.ReadHoldingRegisters(spec.Address, qty)
	}
	if err != nil {
		return register.Value{}, &CommError{Op: "read", Register: spec.Name, Address: spec.Address, Err: err}
	}

	raw, err := spec.Decode(words)
	if err != nil {
		return register.Value{}, &CommError{Op: "read", Register: spec.Name, Address: spec.Address, Err: err}
	}
	return spec.ValueOf(raw), nil
}

// Write converts sp to raw and writes it. An omitted setpoint makes
// no transport call.
func (tx *Tx) Write(spec register.Spec, sp Setpoint) (WriteResult, error) {
	if sp.Omitted {
		tx.s.log.Debugf("[OMIT] %s", spec.Name)
		return WriteResult{Omitted: true}, nil
	}
	if !spec.Writable {
		return WriteResult{}, fmt.Errorf("%w: %s", ErrNotWritable, spec.Name)
	}

	raw, err := spec.Unscale(sp.Scaled)
	if err != nil {
		return WriteResult{}, err
	}
	words, err := spec.Encode(raw)
	if err != nil {
		return WriteResult{}, err
	}

	if err := tx.s.tr.WriteMultipleRegisters(spec.Address, words); err != nil {
		return WriteResult{}, &CommError{Op: "write", Register: spec.Name, Address: spec.Address, Err: err}
	}

	tx.s.log.Debugf("[SET] %s = %v (raw=%d)", spec.Name, sp.Scaled, raw)
	return WriteResult{Raw: raw}, nil
}
