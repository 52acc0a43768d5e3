// Package client is the host side of a Driver Validation link. A Session
// issues the text commands of the SPI and USART servers and decodes their
// responses over either transport.
package client

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-logr/logr"

	"dvserver/host/serial"
	"dvserver/host/spidev"
	"dvserver/protocol"
)

// DefaultSettle is the pause between a command and its data phase, long
// enough for the server to arm its receiver.
const DefaultSettle = 10 * time.Millisecond

// Commander sends command frames and collects fixed size responses.
// protocol.Client and spidev.Client implement it.
type Commander interface {
	Command(text string, respSize int, timeout time.Duration) ([]byte, error)
	ReceiveResponse(size int, timeout time.Duration) ([]byte, error)
	Write(data []byte) error
	Close() error
}

// Session is a connection to one command server
type Session struct {
	cmd     Commander
	timeout time.Duration
	settle  time.Duration
	log     logr.Logger
}

// New creates a session over c. Responses wait at most timeout.
func New(c Commander, timeout time.Duration, log logr.Logger) *Session {
	if log.GetSink() == nil {
		log = logr.Discard()
	}
	return &Session{cmd: c, timeout: timeout, settle: DefaultSettle, log: log}
}

// OpenSerial connects to a USART server on a serial port
func OpenSerial(cfg *serial.Config, timeout time.Duration, log logr.Logger) (*Session, error) {
	port, err := serial.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port: %w", err)
	}
	return New(protocol.NewClient(port), timeout, log), nil
}

// OpenSPI connects to an SPI server as bus master
func OpenSPI(cfg spidev.Config, timeout time.Duration, log logr.Logger) (*Session, error) {
	c, err := spidev.Open(cfg)
	if err != nil {
		return nil, err
	}
	return New(c, timeout, log), nil
}

// Close releases the transport
func (s *Session) Close() error {
	return s.cmd.Close()
}

// Raw sends any command text and waits for respSize bytes when positive
func (s *Session) Raw(text string, respSize int) ([]byte, error) {
	s.log.V(1).Info("Command", "cmd", text, "respSize", respSize)
	resp, err := s.cmd.Command(text, respSize, s.timeout)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", verbOf(text), err)
	}
	return resp, nil
}

func verbOf(text string) string {
	fields := strings.Fields(text)
	if len(fields) >= 2 {
		return fields[0] + " " + fields[1]
	}
	return text
}

func (s *Session) text(verb string, size int) (string, error) {
	resp, err := s.Raw(verb, size)
	if err != nil {
		return "", err
	}
	return protocol.FrameText(resp), nil
}

// Version returns the server version
func (s *Session) Version() (string, error) {
	return s.text(protocol.VerbGetVer, protocol.VersionSize)
}

// Capabilities returns the raw capability string
func (s *Session) Capabilities() (string, error) {
	return s.text(protocol.VerbGetCap, protocol.CapabilitySize)
}

// SetBuf fills a server buffer with pattern and then loads data into its
// start
func (s *Session) SetBuf(dir protocol.BufferDir, data []byte, pattern byte) error {
	cmd := fmt.Sprintf("%s %s,%d,%02X", protocol.VerbSetBuf, dir, len(data), pattern)
	if _, err := s.Raw(cmd, 0); err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}
	time.Sleep(s.settle)
	return s.cmd.Write(data)
}

// GetBuf reads n bytes from the start of a server buffer
func (s *Session) GetBuf(dir protocol.BufferDir, n int) ([]byte, error) {
	if n <= 0 {
		return nil, errors.New("buffer length must be positive")
	}
	return s.Raw(fmt.Sprintf("%s %s,%d", protocol.VerbGetBuf, dir, n), n)
}

// SetCom changes the server's transfer configuration. params is the
// comma separated argument list of the server's SET COM.
func (s *Session) SetCom(params string) error {
	_, err := s.Raw(protocol.VerbSetCom+" "+params, 0)
	return err
}

// Xfer starts a transfer on the server. The caller runs its own half of the
// transfer afterwards.
func (s *Session) Xfer(params string) error {
	_, err := s.Raw(protocol.VerbXfer+" "+params, 0)
	return err
}

// Count returns the item count of the last transfer
func (s *Session) Count() (uint32, error) {
	text, err := s.text(protocol.VerbGetCnt, protocol.CountSize)
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseUint(strings.TrimSpace(text), 10, 32)
	if err != nil {
		return 0, fmt.Errorf("bad count %q: %w", text, err)
	}
	return uint32(n), nil
}

// SetBreak asks a USART server to send a break of duration ms after delay ms
func (s *Session) SetBreak(delay, duration uint32) error {
	_, err := s.Raw(fmt.Sprintf("%s %d,%d", protocol.VerbSetBrk, delay, duration), 0)
	return err
}

// BreakDetected reports whether the USART server saw a break since the
// previous query
func (s *Session) BreakDetected() (bool, error) {
	resp, err := s.Raw(protocol.VerbGetBrk, protocol.StatusSize)
	if err != nil {
		return false, err
	}
	return resp[0] == '1', nil
}

// SetModem drives the server's modem lines with ctrl (bit0 RTS, bit1 DTR,
// bit2 DCD, bit3 RI) for duration ms after delay ms
func (s *Session) SetModem(ctrl uint8, delay, duration uint32) error {
	_, err := s.Raw(fmt.Sprintf("%s %X,%d,%d", protocol.VerbSetMdm, ctrl, delay, duration), 0)
	return err
}

// ModemStatus returns the CTS and DSR lines seen by the USART server
func (s *Session) ModemStatus() (cts, dsr bool, err error) {
	resp, err := s.Raw(protocol.VerbGetMdm, protocol.StatusSize)
	if err != nil {
		return false, false, err
	}
	v := resp[0] - '0'
	if v > 3 {
		return false, false, fmt.Errorf("bad modem status %q", resp)
	}
	return v&1 != 0, v&2 != 0, nil
}

// Send writes raw data, the client half of a receiving XFER
func (s *Session) Send(data []byte) error {
	return s.cmd.Write(data)
}

// Receive waits for n raw bytes, the client half of a sending XFER
func (s *Session) Receive(n int) ([]byte, error) {
	return s.cmd.ReceiveResponse(n, s.timeout)
}
