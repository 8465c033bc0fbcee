// internal/transport/modbus/client.go
package modbus

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/goburrow/modbus"
)

// Client implements device.Transport over goburrow/modbus.
// Geometry only: it moves word slices, scaling happens above.
type Client struct {
	mu     sync.Mutex
	client modbus.Client
	tcp    *modbus.TCPClientHandler // nil for RTU
	close  func() error
}

// Serial is the RTU line configuration.
type Serial struct {
	Port     string
	BaudRate int
	DataBits int
	Parity   string // "N" | "E" | "O"
	StopBits int
}

// Config is minimal transport config. Exactly one of Endpoint and
// Serial.Port is set.
type Config struct {
	Endpoint string
	Serial   Serial
	UnitID   uint8
	Timeout  time.Duration
}

// NewTCP dials a Modbus TCP endpoint.
func NewTCP(cfg Config) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("modbus client: endpoint required")
	}

	h := modbus.NewTCPClientHandler(cfg.Endpoint)
	h.Timeout = cfg.Timeout
	h.SlaveId = cfg.UnitID

	if err := h.Connect(); err != nil {
		return nil, fmt.Errorf("modbus client: connect %s: %w", cfg.Endpoint, err)
	}

	return &Client{
		client: modbus.NewClient(h),
		tcp:    h,
		close:  h.Close,
	}, nil
}

// NewRTU opens a serial line.
func NewRTU(cfg Config) (*Client, error) {
	if cfg.Serial.Port == "" {
		return nil, errors.New("modbus client: serial port required")
	}

	h := modbus.NewRTUClientHandler(cfg.Serial.Port)
	h.BaudRate = cfg.Serial.BaudRate
	h.DataBits = cfg.Serial.DataBits
	h.Parity = cfg.Serial.Parity
	h.StopBits = cfg.Serial.StopBits
	h.SlaveId = cfg.UnitID
	h.Timeout = cfg.Timeout

	if err := h.Connect(); err != nil {
		return nil, fmt.Errorf("modbus client: open %s: %w", cfg.Serial.Port, err)
	}

	return &Client{
		client: modbus.NewClient(h),
		close:  h.Close,
	}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	if c == nil || c.close == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.close()
}

// ---- device.Transport interface ----

func (c *Client) ReadHoldingRegisters(addr, qty uint16) ([]uint16, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	b, err := c.client.ReadHoldingRegisters(addr, qty)
	if err != nil {
		return nil, err
	}
	return checked(unpackRegisters(b), qty)
}

func (c *Client) ReadInputRegisters(addr, qty uint16) ([]uint16, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	b, err := c.client.ReadInputRegisters(addr, qty)
	if err != nil {
		return nil, err
	}
	return checked(unpackRegisters(b), qty)
}

func (c *Client) WriteMultipleRegisters(addr uint16, regs []uint16) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	qty := uint16(len(regs))
	_, err := c.client.WriteMultipleRegisters(addr, qty, packRegisters(regs))
	return err
}

// ---- helpers (pure geometry) ----

func checked(regs []uint16, qty uint16) ([]uint16, error) {
	if len(regs) != int(qty) {
		return nil, fmt.Errorf("modbus: read returned %d registers, want %d", len(regs), qty)
	}
	return regs, nil
}

func unpackRegisters(data []byte) []uint16 {
	n := len(data) / 2
	out := make([]uint16, n)
	for i := 0; i < n; i++ {
		out[i] = uint16(data[2*i])<<8 | uint16(data[2*i+1])
	}
	return out
}

func packRegisters(regs []uint16) []byte {
	out := make([]byte, len(regs)*2)
	for i, r := range regs {
		out[2*i] = byte(r >> 8)
		out[2*i+1] = byte(r)
	}
	return out
}
