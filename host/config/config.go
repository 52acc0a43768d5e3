// Package config loads the YAML configuration of the Driver Validation
// host tools.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/ghodss/yaml"
	"github.com/go-logr/logr"
	"periph.io/x/conn/v3/physic"

	"dvserver/core"
	"dvserver/host/gpio"
	"dvserver/host/serial"
	"dvserver/host/spidev"
	"dvserver/sockserver"
)

// Server kinds
const (
	ServerUSART = "usart"
	ServerSock  = "sock"
)

// Client transports
const (
	TransportSerial = "serial"
	TransportSPI    = "spi"
)

// Config is the complete host configuration
type Config struct {
	Server           string `json:"server"`
	LogLevel         int    `json:"logLevel"`
	Development      bool   `json:"development"`
	MetricsAddr      string `json:"metricsAddr"`
	BufferSize       int    `json:"bufferSize"`
	CommandTimeoutMs int    `json:"commandTimeoutMs"`

	USART  USARTConfig  `json:"usart"`
	GPIO   GPIOConfig   `json:"gpio"`
	Sock   SockConfig   `json:"sock"`
	Client ClientConfig `json:"client"`
}

type USARTConfig struct {
	Device string `json:"device"`
	Baud   int    `json:"baud"`
}

// GPIOConfig wires the DCD and RI outputs and the activity LEDs. Unset
// offsets leave the signal unwired.
type GPIOConfig struct {
	Chip string `json:"chip"`
	DCD  *int   `json:"dcd,omitempty"`
	RI   *int   `json:"ri,omitempty"`
	LEDs []int  `json:"leds,omitempty"` // receive, send, transfer
}

type SockConfig struct {
	Bind             string           `json:"bind"`
	Ports            sockserver.Ports `json:"ports"`
	StatusIntervalMs int              `json:"statusIntervalMs"`
}

type ClientConfig struct {
	Transport  string `json:"transport"`
	Device     string `json:"device"`
	Baud       int    `json:"baud"`
	SPIPort    string `json:"spiPort"`
	SPISpeedHz int    `json:"spiSpeedHz"`
	TimeoutMs  int    `json:"timeoutMs"`
}

// Default returns the configuration used without a file
func Default() *Config {
	c := &Config{}
	applyDefaults(c)
	return c
}

// Load reads and parses a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse parses YAML (or JSON) data and fills in the defaults
func Parse(data []byte) (*Config, error) {
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	applyDefaults(&c)
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// applyDefaults fills in missing values
func applyDefaults(c *Config) {
	if c.Server == "" {
		c.Server = ServerUSART
	}
	if c.BufferSize == 0 {
		c.BufferSize = core.DefaultBufferSize
	}
	if c.CommandTimeoutMs == 0 {
		c.CommandTimeoutMs = int(core.DefaultCommandTimeout / time.Millisecond)
	}

	if c.USART.Device == "" {
		c.USART.Device = "/dev/ttyUSB0"
	}
	if c.USART.Baud == 0 {
		c.USART.Baud = core.USARTDefaultBaudrate
	}

	if c.GPIO.Chip == "" {
		c.GPIO.Chip = "gpiochip0"
	}

	p := &c.Sock.Ports
	def := sockserver.DefaultPorts()
	if p.Echo == 0 {
		p.Echo = def.Echo
	}
	if p.Discard == 0 {
		p.Discard = def.Discard
	}
	if p.Chargen == 0 {
		p.Chargen = def.Chargen
	}
	if p.Assistant == 0 {
		p.Assistant = def.Assistant
	}
	if p.Rejected == 0 {
		p.Rejected = def.Rejected
	}
	if p.Timeout == 0 {
		p.Timeout = def.Timeout
	}

	if c.Client.Transport == "" {
		c.Client.Transport = TransportSerial
	}
	if c.Client.Device == "" {
		c.Client.Device = c.USART.Device
	}
	if c.Client.Baud == 0 {
		c.Client.Baud = core.USARTDefaultBaudrate
	}
	if c.Client.SPISpeedHz == 0 {
		c.Client.SPISpeedHz = 1000000
	}
	if c.Client.TimeoutMs == 0 {
		c.Client.TimeoutMs = 1000
	}
}

// Validate rejects values no component can run with
func (c *Config) Validate() error {
	switch c.Server {
	case ServerUSART, ServerSock:
	default:
		return fmt.Errorf("server %q: must be %s or %s", c.Server, ServerUSART, ServerSock)
	}
	switch c.Client.Transport {
	case TransportSerial, TransportSPI:
	default:
		return fmt.Errorf("client transport %q: must be %s or %s", c.Client.Transport, TransportSerial, TransportSPI)
	}
	if c.BufferSize < 0 || c.CommandTimeoutMs < 0 {
		return fmt.Errorf("bufferSize and commandTimeoutMs must not be negative")
	}
	if len(c.GPIO.LEDs) > 3 {
		return fmt.Errorf("gpio: at most 3 LEDs, got %d", len(c.GPIO.LEDs))
	}
	return nil
}

// Options returns the command server tunables
func (c *Config) Options(log logr.Logger, ind core.Indicator) core.Options {
	return core.Options{
		BufferSize:     c.BufferSize,
		CommandTimeout: time.Duration(c.CommandTimeoutMs) * time.Millisecond,
		Log:            log,
		Indicator:      ind,
	}
}

// PinMap returns the GPIO line assignment
func (c *Config) PinMap() gpio.PinMap {
	m := gpio.PinMap{
		Chip: c.GPIO.Chip,
		DCD:  gpio.NoLine,
		RI:   gpio.NoLine,
		LEDs: [3]int{gpio.NoLine, gpio.NoLine, gpio.NoLine},
	}
	if c.GPIO.DCD != nil {
		m.DCD = *c.GPIO.DCD
	}
	if c.GPIO.RI != nil {
		m.RI = *c.GPIO.RI
	}
	copy(m.LEDs[:], c.GPIO.LEDs)
	return m
}

// HasPins reports whether DCD or RI is wired
func (c *Config) HasPins() bool {
	return c.GPIO.DCD != nil || c.GPIO.RI != nil
}

// HasLEDs reports whether any LED is wired
func (c *Config) HasLEDs() bool {
	return len(c.GPIO.LEDs) > 0
}

// SockServer returns the socket server configuration
func (c *Config) SockServer(log logr.Logger) sockserver.Config {
	return sockserver.Config{
		Bind:           c.Sock.Bind,
		Ports:          c.Sock.Ports,
		StatusInterval: time.Duration(c.Sock.StatusIntervalMs) * time.Millisecond,
		Log:            log,
	}
}

// ClientTimeout is the response timeout of the host client
func (c *Config) ClientTimeout() time.Duration {
	return time.Duration(c.Client.TimeoutMs) * time.Millisecond
}

// ClientSerial returns the serial port settings of the host client
func (c *Config) ClientSerial() *serial.Config {
	sc := serial.DefaultConfig(c.Client.Device)
	sc.Baud = c.Client.Baud
	return sc
}

// ClientSPI returns the SPI master settings of the host client
func (c *Config) ClientSPI() spidev.Config {
	sc := spidev.DefaultConfig(c.Client.SPIPort)
	sc.Speed = physic.Frequency(c.Client.SPISpeedHz) * physic.Hertz
	return sc
}
