//go:build !wasm

package serial

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"dvserver/core"
)

// Baud rates the Linux termios layer accepts
var supportedBauds = map[uint32]bool{
	1200: true, 1800: true, 2400: true, 4800: true, 9600: true, 19200: true,
	38400: true, 57600: true, 115200: true, 230400: true, 460800: true,
	500000: true, 576000: true, 921600: true, 1000000: true, 1152000: true,
	1500000: true, 2000000: true, 2500000: true, 3000000: true, 3500000: true,
	4000000: true,
}

// USART is a core.USARTDriver on a host serial port. It supports the
// asynchronous mode without flow control or modem lines; the port is
// reopened whenever the frame format changes.
type USART struct {
	device string
	opener func(*Config) (Port, error)

	mu      sync.Mutex
	cb      core.EventFunc
	cfg     *Config
	port    Port
	powered bool

	op      *operation
	txCount atomic.Uint32
	rxCount atomic.Uint32
	txBusy  atomic.Bool
	rxBusy  atomic.Bool
}

// operation is one Send or Receive running in its own goroutine
type operation struct {
	stop chan struct{}
	done chan struct{}
}

func (o *operation) cancel() {
	if o == nil {
		return
	}
	close(o.stop)
	<-o.done
}

// NewUSART creates a driver for device
func NewUSART(device string) *USART {
	return &USART{device: device, opener: Open}
}

func (u *USART) Capabilities() core.USARTCapabilities {
	return core.USARTCapabilities{Asynchronous: true}
}

func (u *USART) Initialize(cb core.EventFunc) error {
	u.mu.Lock()
	u.cb = cb
	u.mu.Unlock()
	return nil
}

func (u *USART) Uninitialize() error {
	err := u.closePort()
	u.mu.Lock()
	u.cb = nil
	u.mu.Unlock()
	return err
}

func (u *USART) PowerControl(state core.PowerState) error {
	switch state {
	case core.PowerFull:
		u.mu.Lock()
		u.powered = true
		u.mu.Unlock()
		return nil
	case core.PowerOff:
		err := u.closePort()
		u.mu.Lock()
		u.powered = false
		u.mu.Unlock()
		return err
	}
	return fmt.Errorf("%w: power state %d", core.ErrUnsupported, state)
}

func (u *USART) closePort() error {
	u.abort()

	u.mu.Lock()
	defer u.mu.Unlock()
	if u.port == nil {
		return nil
	}
	err := u.port.Close()
	u.port = nil
	u.cfg = nil
	return err
}

// portConfig maps a USART configuration to a serial port configuration
func (u *USART) portConfig(cfg core.USARTConfig) (*Config, error) {
	if cfg.Mode != core.USARTModeAsynchronous {
		return nil, fmt.Errorf("%w: mode %d", core.ErrUnsupported, cfg.Mode)
	}
	if cfg.DataBits < 5 || cfg.DataBits > 8 {
		return nil, fmt.Errorf("%w: %d data bits", core.ErrUnsupported, cfg.DataBits)
	}
	if cfg.FlowControl != core.USARTFlowNone {
		return nil, fmt.Errorf("%w: flow control", core.ErrUnsupported)
	}
	if !supportedBauds[cfg.Baudrate] {
		return nil, fmt.Errorf("%w: %d baud", core.ErrUnsupported, cfg.Baudrate)
	}

	pc := DefaultConfig(u.device)
	pc.Baud = int(cfg.Baudrate)
	pc.DataBits = int(cfg.DataBits)

	switch cfg.Parity {
	case core.USARTParityNone:
		pc.Parity = ParityNone
	case core.USARTParityEven:
		pc.Parity = ParityEven
	case core.USARTParityOdd:
		pc.Parity = ParityOdd
	}

	switch cfg.StopBits {
	case core.USARTStopBits1:
		pc.StopBits = Stop1
	case core.USARTStopBits2:
		pc.StopBits = Stop2
	case core.USARTStopBits1_5:
		pc.StopBits = Stop1Half
	default:
		return nil, fmt.Errorf("%w: stop bits %d", core.ErrUnsupported, cfg.StopBits)
	}
	return pc, nil
}

func (u *USART) Control(cfg core.USARTConfig) error {
	pc, err := u.portConfig(cfg)
	if err != nil {
		return err
	}

	u.mu.Lock()
	powered := u.powered
	same := u.port != nil && *u.cfg == *pc
	u.mu.Unlock()
	if !powered {
		return errors.New("usart not powered")
	}
	if same {
		return nil
	}

	if err := u.closePort(); err != nil {
		return err
	}
	port, err := u.opener(pc)
	if err != nil {
		return err
	}

	u.mu.Lock()
	u.port = port
	u.cfg = pc
	u.mu.Unlock()
	return nil
}

// The transmitter and receiver of a host port are always enabled
func (u *USART) ControlTx(bool) error { return nil }
func (u *USART) ControlRx(bool) error { return nil }

func (u *USART) Break(bool) error {
	return fmt.Errorf("%w: break", core.ErrUnsupported)
}

func (u *USART) start(run func(port Port, stop <-chan struct{})) error {
	u.abort()

	u.mu.Lock()
	defer u.mu.Unlock()
	if u.port == nil {
		return errors.New("usart not configured")
	}
	op := &operation{stop: make(chan struct{}), done: make(chan struct{})}
	u.op = op
	port := u.port

	go func() {
		defer close(op.done)
		run(port, op.stop)
	}()
	return nil
}

func (u *USART) signal(e core.Event) {
	u.mu.Lock()
	cb := u.cb
	u.mu.Unlock()
	if cb != nil {
		cb(e)
	}
}

func (u *USART) Send(data []byte, num uint32) error {
	u.txCount.Store(0)
	u.txBusy.Store(true)
	return u.start(func(port Port, stop <-chan struct{}) {
		defer u.txBusy.Store(false)
		n, err := port.Write(data[:num])
		u.txCount.Store(uint32(n))
		if err == nil {
			u.signal(core.EventUSARTSendComplete)
		}
	})
}

func (u *USART) Receive(data []byte, num uint32) error {
	u.rxCount.Store(0)
	u.rxBusy.Store(true)
	return u.start(func(port Port, stop <-chan struct{}) {
		defer u.rxBusy.Store(false)
		got := uint32(0)
		for got < num {
			select {
			case <-stop:
				return
			default:
			}
			n, err := port.Read(data[got:num])
			got += uint32(n)
			u.rxCount.Store(got)
			if err != nil && !errors.Is(err, io.EOF) {
				return
			}
		}
		u.signal(core.EventUSARTReceiveComplete)
	})
}

// Transfer needs a synchronous mode, which a host port has not
func (u *USART) Transfer(out, in []byte, num uint32) error {
	return fmt.Errorf("%w: transfer", core.ErrUnsupported)
}

func (u *USART) GetTxCount() uint32 { return u.txCount.Load() }
func (u *USART) GetRxCount() uint32 { return u.rxCount.Load() }

func (u *USART) GetStatus() core.USARTStatus {
	return core.USARTStatus{TxBusy: u.txBusy.Load(), RxBusy: u.rxBusy.Load()}
}

func (u *USART) SetModemControl(core.ModemControl) error {
	return fmt.Errorf("%w: modem control", core.ErrUnsupported)
}

func (u *USART) GetModemStatus() core.ModemStatus {
	return core.ModemStatus{}
}

func (u *USART) abort() {
	u.mu.Lock()
	op := u.op
	u.op = nil
	u.mu.Unlock()
	op.cancel()
}

func (u *USART) AbortSend() error {
	u.abort()
	return nil
}

func (u *USART) AbortReceive() error {
	u.abort()
	return nil
}

func (u *USART) AbortTransfer() error {
	u.abort()
	return nil
}
