package serial

import (
	"io"
)

// Port represents a serial port interface
// This abstraction allows for different implementations:
// - Native serial (using github.com/tarm/serial)
// - Pipes and fakes (for testing)
type Port interface {
	io.ReadWriteCloser

	// Flush discards buffered data
	Flush() error
}

// Parity of a serial frame
type Parity byte

const (
	ParityNone Parity = 'N'
	ParityEven Parity = 'E'
	ParityOdd  Parity = 'O'
)

// StopBits of a serial frame
type StopBits byte

const (
	Stop1     StopBits = 1
	Stop1Half StopBits = 15
	Stop2     StopBits = 2
)

// Config holds serial port configuration
type Config struct {
	// Device path (e.g., "/dev/ttyUSB0", "COM3")
	Device string

	// Baud rate
	Baud int

	// Frame format; zero values mean 8N1
	DataBits int
	Parity   Parity
	StopBits StopBits

	// Read timeout in milliseconds (0 = blocking)
	ReadTimeout int
}

// DefaultConfig returns the configuration a Driver Validation server
// receives commands with: 115200 baud, 8N1.
func DefaultConfig(device string) *Config {
	return &Config{
		Device:      device,
		Baud:        115200,
		DataBits:    8,
		Parity:      ParityNone,
		StopBits:    Stop1,
		ReadTimeout: 10,
	}
}
