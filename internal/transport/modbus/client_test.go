// internal/transport/modbus/client_test.go
package modbus

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/goburrow/modbus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	cfg "github.com/tamzrod/inverter-probe/internal/config"
	"github.com/tamzrod/inverter-probe/internal/device"
	"github.com/tamzrod/inverter-probe/internal/register"
)

// fakeInverter is a minimal Modbus TCP server: FC 3, 4, 16 and the
// private login function.
type fakeInverter struct {
	ln        net.Listener
	password  string
	challenge []byte

	mu       sync.Mutex
	regs     map[uint16]uint16
	illegal  map[uint16]bool
	loggedIn bool
}

func startInverter(t *testing.T, password string) *fakeInverter {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	f := &fakeInverter{
		ln:        ln,
		password:  password,
		challenge: bytes.Repeat([]byte{0xA5}, challengeLen),
		regs:      map[uint16]uint16{},
		illegal:   map[uint16]bool{},
	}
	t.Cleanup(func() { _ = ln.Close() })
	go f.serve()
	return f
}

func (f *fakeInverter) addr() string { return f.ln.Addr().String() }

func (f *fakeInverter) set(addr uint16, words ...uint16) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, w := range words {
		f.regs[addr+uint16(i)] = w
	}
}

func (f *fakeInverter) deny(addr uint16) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.illegal[addr] = true
}

func (f *fakeInverter) serve() {
	for {
		conn, err := f.ln.Accept()
		if err != nil {
			return
		}
		go f.handle(conn)
	}
}

func (f *fakeInverter) handle(conn net.Conn) {
	defer conn.Close()
	for {
		var hdr [7]byte
		if _, err := io.ReadFull(conn, hdr[:]); err != nil {
			return
		}
		n := int(binary.BigEndian.Uint16(hdr[4:6])) - 1
		pdu := make([]byte, n)
		if _, err := io.ReadFull(conn, pdu); err != nil {
			return
		}

		resp := f.respond(pdu)
		out := make([]byte, 7, 7+len(resp))
		copy(out, hdr[:4])
		binary.BigEndian.PutUint16(out[4:6], uint16(len(resp)+1))
		out[6] = hdr[6]
		out = append(out, resp...)
		if _, err := conn.Write(out); err != nil {
			return
		}
	}
}

func (f *fakeInverter) respond(pdu []byte) []byte {
	f.mu.Lock()
	defer f.mu.Unlock()

	fc := pdu[0]
	switch fc {
	case 3, 4:
		addr := binary.BigEndian.Uint16(pdu[1:3])
		qty := binary.BigEndian.Uint16(pdu[3:5])
		if f.illegal[addr] {
			return []byte{fc | 0x80, 2}
		}
		out := []byte{fc, byte(2 * qty)}
		for i := uint16(0); i < qty; i++ {
			out = binary.BigEndian.AppendUint16(out, f.regs[addr+i])
		}
		return out

	case 16:
		addr := binary.BigEndian.Uint16(pdu[1:3])
		qty := binary.BigEndian.Uint16(pdu[3:5])
		if f.illegal[addr] {
			return []byte{fc | 0x80, 3}
		}
		for i := uint16(0); i < qty; i++ {
			f.regs[addr+i] = binary.BigEndian.Uint16(pdu[6+2*i:])
		}
		return append([]byte{fc}, pdu[1:5]...)

	case fcPrivate:
		sub, content := pdu[1], pdu[3:3+int(pdu[2])]
		switch sub {
		case subChallenge:
			body := append([]byte{0}, f.challenge...)
			return append([]byte{fcPrivate, sub, byte(len(body))}, body...)
		case subLogin:
			status := byte(1)
			if f.checkLogin(content) {
				status = 0
				f.loggedIn = true
			}
			return []byte{fcPrivate, sub, 2, 0, status}
		}
	}
	return []byte{fc | 0x80, 1}
}

func (f *fakeInverter) checkLogin(b []byte) bool {
	nonceLen := int(b[0])
	b = b[1+nonceLen:]
	userLen := int(b[0])
	user := string(b[1 : 1+userLen])
	b = b[1+userLen:]
	digest := b[1 : 1+int(b[0])]
	return user == "installer" && bytes.Equal(digest, loginDigest(f.password, f.challenge))
}

func dial(t *testing.T, f *fakeInverter) *Client {
	t.Helper()
	c, err := NewTCP(Config{Endpoint: f.addr(), UnitID: 1, Timeout: time.Second})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

// ---- tests ----

func TestPackUnpackRegisters(t *testing.T) {
	regs := []uint16{0x0000, 0xFFFF, 0xF63C, 0x1234}
	b := packRegisters(regs)
	assert.Equal(t, []byte{0, 0, 0xFF, 0xFF, 0xF6, 0x3C, 0x12, 0x34}, b)
	assert.Equal(t, regs, unpackRegisters(b))
}

func TestWriteThenReadHolding(t *testing.T) {
	f := startInverter(t, "00000a")
	c := dial(t, f)

	require.NoError(t, c.WriteMultipleRegisters(47247, []uint16{0x0000, 0x01F4}))
	got, err := c.ReadHoldingRegisters(47247, 2)
	require.NoError(t, err)
	assert.Equal(t, []uint16{0x0000, 0x01F4}, got)
}

func TestReadInputRegisters(t *testing.T) {
	f := startInverter(t, "00000a")
	f.set(32069, 2301)

	c := dial(t, f)
	got, err := c.ReadInputRegisters(32069, 1)
	require.NoError(t, err)
	assert.Equal(t, []uint16{2301}, got)
}

func TestExceptionSurfacesAsModbusError(t *testing.T) {
	f := startInverter(t, "00000a")
	f.deny(47075)

	c := dial(t, f)
	err := c.WriteMultipleRegisters(47075, []uint16{0, 1})
	require.Error(t, err)

	var me *modbus.ModbusError
	require.True(t, errors.As(err, &me), "got %T", err)
	assert.Equal(t, byte(3), me.ExceptionCode)
}

func TestLoginChallengeResponse(t *testing.T) {
	f := startInverter(t, "00000a")
	c := dial(t, f)

	require.NoError(t, c.Login("installer", "00000a"))
	f.mu.Lock()
	assert.True(t, f.loggedIn)
	f.mu.Unlock()
}

func TestLoginWrongPassword(t *testing.T) {
	f := startInverter(t, "00000a")
	c := dial(t, f)

	err := c.Login("installer", "hunter2")
	require.ErrorIs(t, err, ErrLoginRejected)
}

func TestLoginRequiresTCP(t *testing.T) {
	c := &Client{}
	require.Error(t, c.Login("installer", "00000a"))
}

func TestLoginFraming(t *testing.T) {
	challenge := bytes.Repeat([]byte{7}, challengeLen)
	nonce := bytes.Repeat([]byte{9}, challengeLen)

	var sent [][]byte
	ex := func(sub byte, content []byte) ([]byte, error) {
		sent = append(sent, append([]byte{sub}, content...))
		if sub == subChallenge {
			return append([]byte{0}, challenge...), nil
		}
		return []byte{0, 0}, nil
	}

	require.NoError(t, login(ex, "installer", "00000a", nonce))
	require.Len(t, sent, 2)
	assert.Equal(t, []byte{subChallenge, 1, 0}, sent[0])

	body := sent[1][1:]
	assert.Equal(t, byte(subLogin), sent[1][0])
	assert.Equal(t, byte(challengeLen), body[0])
	assert.Equal(t, nonce, body[1:17])
	assert.Equal(t, byte(len("installer")), body[17])
	assert.Equal(t, "installer", string(body[18:27]))
	assert.Equal(t, byte(32), body[27])
	assert.Equal(t, loginDigest("00000a", challenge), body[28:])
}

func TestLoginShortChallenge(t *testing.T) {
	ex := func(sub byte, content []byte) ([]byte, error) { return []byte{0, 1, 2}, nil }
	require.Error(t, login(ex, "installer", "x", make([]byte, challengeLen)))
}

func TestDeviceSessionOverTCP(t *testing.T) {
	f := startInverter(t, "00000a")
	f.set(37760, 805) // SoC 80.5 %
	c := dial(t, f)

	soc := register.Spec{Name: "storage_state_of_capacity", Address: 37760, Type: register.U16, Gain: 10}
	power := register.Spec{Name: "storage_charge_discharge_power", Address: 37765, Type: register.I32}
	cat, err := register.NewCatalogue([]register.Spec{soc, power})
	require.NoError(t, err)

	dev, err := device.New("inv1", c, cat, zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)

	v, err := dev.Read(context.Background(), soc)
	require.NoError(t, err)
	assert.Equal(t, 80.5, v.Scaled)

	f.set(37765, 0xFFFF, 0xF63C)
	v, err = dev.Read(context.Background(), power)
	require.NoError(t, err)
	assert.Equal(t, int64(-2500), v.Raw)

	require.NoError(t, dev.Login(context.Background(), "installer", "00000a"))
}

func TestBuildUnknownTransport(t *testing.T) {
	_, err := Build(cfg.DeviceConfig{Transport: "can"})
	require.Error(t, err)
}
