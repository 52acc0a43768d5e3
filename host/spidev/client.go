// Package spidev is the master end of an SPI Driver Validation link on a
// Linux host. It plays the role of the device under test: commands go out
// as 32-byte frames and responses are clocked in with dummy bytes.
package spidev

import (
	"fmt"
	"time"

	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"

	"dvserver/core"
	"dvserver/protocol"
)

// DefaultTurnaround is the pause between a command and its response phase.
// The server needs it to parse the command and arm its transmitter.
const DefaultTurnaround = 20 * time.Millisecond

// Config selects the bus and the frame format of the link
type Config struct {
	Port     string // spireg name, e.g. "/dev/spidev0.0"; empty for the first bus
	Speed    physic.Frequency
	Format   core.SPIFormat
	BitOrder core.SPIBitOrder
	Bits     int

	Turnaround time.Duration
}

// DefaultConfig matches the SPI server's command configuration at 1 MHz
func DefaultConfig(port string) Config {
	return Config{
		Port:       port,
		Speed:      physic.MegaHertz,
		Format:     core.SPIFormatCPOL0CPHA0,
		BitOrder:   core.SPIMSBFirst,
		Bits:       8,
		Turnaround: DefaultTurnaround,
	}
}

// Mode maps a frame format and bit order to a periph SPI mode. The TI and
// Microwire formats have no spidev equivalent.
func Mode(format core.SPIFormat, order core.SPIBitOrder) (spi.Mode, error) {
	var m spi.Mode
	switch format {
	case core.SPIFormatCPOL0CPHA0:
		m = spi.Mode0
	case core.SPIFormatCPOL0CPHA1:
		m = spi.Mode1
	case core.SPIFormatCPOL1CPHA0:
		m = spi.Mode2
	case core.SPIFormatCPOL1CPHA1:
		m = spi.Mode3
	default:
		return 0, fmt.Errorf("%w: frame format %d", core.ErrUnsupported, format)
	}
	if order == core.SPILSBFirst {
		m |= spi.LSBFirst
	}
	return m, nil
}

// Client talks to an SPI server as bus master
type Client struct {
	port       spi.PortCloser
	conn       spi.Conn
	turnaround time.Duration
}

// Open initializes the host drivers and connects to cfg.Port
func Open(cfg Config) (*Client, error) {
	mode, err := Mode(cfg.Format, cfg.BitOrder)
	if err != nil {
		return nil, err
	}
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("init host drivers: %w", err)
	}

	p, err := spireg.Open(cfg.Port)
	if err != nil {
		return nil, fmt.Errorf("open SPI port %q: %w", cfg.Port, err)
	}
	conn, err := p.Connect(cfg.Speed, mode, cfg.Bits)
	if err != nil {
		p.Close()
		return nil, fmt.Errorf("connect SPI port %q: %w", cfg.Port, err)
	}

	turnaround := cfg.Turnaround
	if turnaround <= 0 {
		turnaround = DefaultTurnaround
	}
	return &Client{port: p, conn: conn, turnaround: turnaround}, nil
}

// Command sends text as a command frame and, when respSize is positive,
// clocks in a response of that many bytes. The timeout is not used: the
// master owns the clock and a silent server reads as zeros.
func (c *Client) Command(text string, respSize int, timeout time.Duration) ([]byte, error) {
	if len(text) > protocol.CommandFrameSize {
		return nil, fmt.Errorf("command too long: %d bytes (max %d)", len(text), protocol.CommandFrameSize)
	}
	if err := c.conn.Tx(protocol.PadFrame(text, protocol.CommandFrameSize), nil); err != nil {
		return nil, fmt.Errorf("failed to write command: %w", err)
	}
	if respSize <= 0 {
		return nil, nil
	}

	time.Sleep(c.turnaround)
	return c.ReceiveResponse(respSize, timeout)
}

// ReceiveResponse clocks in size bytes with dummy zeros
func (c *Client) ReceiveResponse(size int, timeout time.Duration) ([]byte, error) {
	resp := make([]byte, size)
	if err := c.conn.Tx(make([]byte, size), resp); err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	return resp, nil
}

// Write clocks out raw data, e.g. a SET BUF payload
func (c *Client) Write(data []byte) error {
	return c.conn.Tx(data, nil)
}

// Exchange runs one full duplex transfer, the master half of an XFER
func (c *Client) Exchange(out []byte) ([]byte, error) {
	in := make([]byte, len(out))
	if err := c.conn.Tx(out, in); err != nil {
		return nil, err
	}
	return in, nil
}

// Close releases the port
func (c *Client) Close() error {
	return c.port.Close()
}
