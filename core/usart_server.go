package core

import (
	"fmt"
	"sync"
	"time"

	"dvserver/protocol"
)

// USARTServerVersion is reported by GET VER
const USARTServerVersion = "1.0.1"

// USARTDefaultBaudrate is the baud rate commands are received with
const USARTDefaultBaudrate = 115200

// USARTDefaultConfig is the configuration the USART server receives
// commands with: asynchronous 8N1 without flow control.
var USARTDefaultConfig = USARTConfig{
	Mode:        USARTModeAsynchronous,
	DataBits:    8,
	Parity:      USARTParityNone,
	StopBits:    USARTStopBits1,
	FlowControl: USARTFlowNone,
	Baudrate:    USARTDefaultBaudrate,
}

// responseDelay gives the client time to start its reception before a
// response is sent.
const (
	responseDelay    = 10 * time.Millisecond
	capResponseDelay = 25 * time.Millisecond
)

// USARTServer answers Driver Validation commands on a USART channel.
type USARTServer struct {
	*Server

	com        *usartCom
	pins       PinDriver
	defaultCfg USARTConfig

	mu          sync.Mutex
	xferCfg     USARTConfig
	xferTimeout time.Duration
}

// NewUSARTServer creates a stopped USART server on drv. pins may be nil
// when no DCD/RI outputs are wired.
func NewUSARTServer(drv USARTDriver, pins PinDriver, opts Options) *USARTServer {
	opts.applyDefaults()
	if pins == nil {
		pins = NopPins{}
	}
	s := &USARTServer{
		com:        newUSARTCom(drv, opts.Indicator, opts.CommandTimeout),
		pins:       pins,
		defaultCfg: USARTDefaultConfig,
	}
	s.Server = newServer("usart", USARTServerVersion, s, opts)
	s.registerCommands()
	return s
}

// SetCommandBaudrate changes the baud rate commands are received with. It
// takes effect on the next Start.
func (s *USARTServer) SetCommandBaudrate(baud uint32) {
	s.mu.Lock()
	s.defaultCfg.Baudrate = baud
	s.mu.Unlock()
}

// TransferConfig returns the configuration the next XFER will use
func (s *USARTServer) TransferConfig() USARTConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.xferCfg
}

// TransferCount returns the item count of the last XFER
func (s *USARTServer) TransferCount() uint32 {
	return s.com.xferCount.Load()
}

func (s *USARTServer) reset() {
	s.mu.Lock()
	s.xferCfg = s.defaultCfg
	s.xferTimeout = s.opts.CommandTimeout
	s.mu.Unlock()
	s.com.xferCount.Store(0)
	s.com.breakStatus.Store(false)
	s.com.bytesPerItem = s.defaultCfg.BytesPerItem()
}

func (s *USARTServer) open() error {
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
	s.releasePins()
	return nil
}

func (s *USARTServer) close() error {
	s.releasePins()
	if err := s.com.power(PowerOff); err != nil {
		return err
	}
	return s.com.uninitialize()
}

func (s *USARTServer) releasePins() {
	if err := s.pins.SetDCD(false); err != nil {
		s.log.V(1).Info("release DCD failed", "err", err.Error())
	}
	if err := s.pins.SetRI(false); err != nil {
		s.log.V(1).Info("release RI failed", "err", err.Error())
	}
}

func (s *USARTServer) receiveCommand(frame []byte, quit <-chan struct{}) error {
	items := bytesToItems(uint32(len(frame)), s.defaultCfg.BytesPerItem())
	return s.com.receive(frame, items, Forever, quit)
}

func (s *USARTServer) abort() error {
	return s.com.abort()
}

// respond waits delay and sends a zero padded response of size bytes
func (s *USARTServer) respond(text string, size int, delay time.Duration) error {
	if len(text) > size {
		return fmt.Errorf("response %q exceeds %d bytes", text, size)
	}
	resp := protocol.PadFrame(text, size)
	time.Sleep(delay)
	return s.com.send(resp, bytesToItems(uint32(size), s.defaultCfg.BytesPerItem()), s.opts.CommandTimeout)
}
