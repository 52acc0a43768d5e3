package core

import (
	"fmt"
	"sync"
	"time"

	"dvserver/protocol"
)

// SPIServerVersion is reported by GET VER
const SPIServerVersion = "1.1.0"

// SPIDefaultConfig is the configuration the SPI server receives commands
// with: slave, CPOL0/CPHA0, 8 data bits, MSB first, hardware slave select.
var SPIDefaultConfig = SPIConfig{
	Mode:     SPIModeSlave,
	Format:   SPIFormatCPOL0CPHA0,
	DataBits: 8,
	BitOrder: SPIMSBFirst,
	SS:       SPISSSlaveHW,
}

var spiInactiveConfig = SPIConfig{Mode: SPIModeInactive}

// SPIServer answers Driver Validation commands on an SPI slave channel.
type SPIServer struct {
	*Server

	com        *spiCom
	defaultCfg SPIConfig

	// state reset on every Start, written by the worker only
	mu          sync.Mutex
	xferCfg     SPIConfig
	xferTimeout time.Duration
}

// NewSPIServer creates a stopped SPI server on drv
func NewSPIServer(drv SPIDriver, opts Options) *SPIServer {
	opts.applyDefaults()
	s := &SPIServer{
		com:        newSPICom(drv, opts.Indicator),
		defaultCfg: SPIDefaultConfig,
	}
	s.Server = newServer("spi", SPIServerVersion, s, opts)
	s.registerCommands()
	return s
}

// TransferConfig returns the configuration the next XFER will use
func (s *SPIServer) TransferConfig() SPIConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.xferCfg
}

// TransferCount returns the item count of the last XFER
func (s *SPIServer) TransferCount() uint32 {
	return s.com.xferCount.Load()
}

func (s *SPIServer) reset() {
	s.mu.Lock()
	s.xferCfg = s.defaultCfg
	s.xferTimeout = s.opts.CommandTimeout
	s.mu.Unlock()
	s.com.xferCount.Store(0)
	s.com.bytesPerItem = s.defaultCfg.BytesPerItem()
}

func (s *SPIServer) open() error {
	if err := s.com.initialize(); err != nil {
		return err
	}
	if err := s.com.power(PowerFull); err != nil {
		s.com.uninitialize()
		return err
	}
	if err := s.com.configure(s.defaultCfg); err != nil {
		s.com.power(PowerOff)
		s.com.uninitialize()
		return err
	}
	return nil
}

func (s *SPIServer) close() error {
	if err := s.com.power(PowerOff); err != nil {
		return err
	}
	return s.com.uninitialize()
}

func (s *SPIServer) receiveCommand(frame []byte, quit <-chan struct{}) error {
	items := bytesToItems(uint32(len(frame)), s.defaultCfg.BytesPerItem())
	return s.com.receive(frame, items, Forever, quit)
}

func (s *SPIServer) abort() error {
	return s.com.abort()
}

// respond sends a zero padded response of size bytes
func (s *SPIServer) respond(text string, size int) error {
	if len(text) > size {
		return fmt.Errorf("response %q exceeds %d bytes", text, size)
	}
	resp := protocol.PadFrame(text, size)
	return s.com.send(resp, bytesToItems(uint32(size), s.defaultCfg.BytesPerItem()), s.opts.CommandTimeout)
}
