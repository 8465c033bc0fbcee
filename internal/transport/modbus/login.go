// internal/transport/modbus/login.go
package modbus

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/goburrow/modbus"
)

// Installer login rides on a vendor function code with two sub-commands:
// challenge, then HMAC response. Only defined for TCP.
const (
	fcPrivate    = 0x41
	subChallenge = 0x24
	subLogin     = 0x25

	challengeLen = 16
)

// ErrLoginRejected is returned when the device refuses the credential.
var ErrLoginRejected = errors.New("modbus: login rejected")

// exchange sends one private sub-command and returns its content bytes.
type exchange func(sub byte, content []byte) ([]byte, error)

// Login implements device.Authenticator.
func (c *Client) Login(role, credential string) error {
	if c.tcp == nil {
		return errors.New("modbus: login requires a tcp transport")
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	nonce := make([]byte, challengeLen)
	if _, err := rand.Read(nonce); err != nil {
		return err
	}
	return login(c.private, role, credential, nonce)
}

func login(ex exchange, user, password string, nonce []byte) error {
	resp, err := ex(subChallenge, []byte{1, 0})
	if err != nil {
		return fmt.Errorf("modbus: login challenge: %w", err)
	}
	if len(resp) < 1+challengeLen {
		return fmt.Errorf("modbus: login challenge: short response (%d bytes)", len(resp))
	}
	challenge := resp[1 : 1+challengeLen]

	digest := loginDigest(password, challenge)

	body := make([]byte, 0, 3+len(nonce)+len(user)+len(digest))
	body = append(body, byte(len(nonce)))
	body = append(body, nonce...)
	body = append(body, byte(len(user)))
	body = append(body, user...)
	body = append(body, byte(len(digest)))
	body = append(body, digest...)

	resp, err = ex(subLogin, body)
	if err != nil {
		return fmt.Errorf("modbus: login: %w", err)
	}
	if len(resp) < 2 || resp[1] != 0 {
		return ErrLoginRejected
	}
	return nil
}

// loginDigest is HMAC-SHA256 keyed with sha256(password) over the device challenge.
func loginDigest(password string, challenge []byte) []byte {
	key := sha256.Sum256([]byte(password))
	mac := hmac.New(sha256.New, key[:])
	mac.Write(challenge)
	return mac.Sum(nil)
}

// private frames a sub-command as [sub, len, content...] under the
// vendor function code and unwraps the response the same way.
func (c *Client) private(sub byte, content []byte) ([]byte, error) {
	data := make([]byte, 0, 2+len(content))
	data = append(data, sub, byte(len(content)))
	data = append(data, content...)

	req := &modbus.ProtocolDataUnit{FunctionCode: fcPrivate, Data: data}
	adu, err := c.tcp.Encode(req)
	if err != nil {
		return nil, err
	}
	raw, err := c.tcp.Send(adu)
	if err != nil {
		return nil, err
	}
	if err := c.tcp.Verify(adu, raw); err != nil {
		return nil, err
	}
	resp, err := c.tcp.Decode(raw)
	if err != nil {
		return nil, err
	}

	if resp.FunctionCode != fcPrivate {
		if resp.FunctionCode == fcPrivate|0x80 && len(resp.Data) > 0 {
			return nil, &modbus.ModbusError{FunctionCode: resp.FunctionCode, ExceptionCode: resp.Data[0]}
		}
		return nil, fmt.Errorf("modbus: function mismatch: got=%d want=%d", resp.FunctionCode, fcPrivate)
	}
	if len(resp.Data) < 2 || resp.Data[0] != sub {
		return nil, fmt.Errorf("modbus: sub-command mismatch in response")
	}
	n := int(resp.Data[1])
	if len(resp.Data)-2 < n {
		return nil, errors.New("modbus: private response shorter than its length")
	}
	return resp.Data[2 : 2+n], nil
}
