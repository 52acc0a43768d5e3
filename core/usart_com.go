package core

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"
)

const (
	usartReceiveMask = EventUSARTReceiveComplete | EventUSARTRxOverflow | EventUSARTRxBreak |
		EventUSARTRxFramingError | EventUSARTRxParityError
	usartTransferMask = EventUSARTTransferComplete | EventUSARTTxUnderflow | EventUSARTRxOverflow

	// first data of a command is polled for in these steps
	commandPoll = time.Millisecond

	txDrainPolls = 10
	txDrainPoll  = time.Millisecond
)

// usartCom runs USART operations to completion on top of an asynchronous
// driver.
type usartCom struct {
	drv   USARTDriver
	caps  USARTCapabilities
	flags *eventFlags
	ind   Indicator

	cmdTimeout   time.Duration
	bytesPerItem int
	xferCount    atomic.Uint32

	// set by the event callback when a break was received
	breakStatus atomic.Bool
}

func newUSARTCom(drv USARTDriver, ind Indicator, cmdTimeout time.Duration) *usartCom {
	return &usartCom{
		drv:          drv,
		flags:        newEventFlags(),
		ind:          ind,
		cmdTimeout:   cmdTimeout,
		bytesPerItem: 1,
	}
}

func (c *usartCom) event(e Event) {
	if e&EventUSARTRxBreak != 0 {
		c.breakStatus.Store(true)
	}
	c.flags.Set(e)
}

func (c *usartCom) initialize() error {
	c.caps = c.drv.Capabilities()
	if err := c.drv.Initialize(c.event); err != nil {
		return fmt.Errorf("%w: initialize: %v", ErrTransport, err)
	}
	return nil
}

func (c *usartCom) uninitialize() error {
	if err := c.drv.Uninitialize(); err != nil {
		return fmt.Errorf("%w: uninitialize: %v", ErrTransport, err)
	}
	return nil
}

func (c *usartCom) power(state PowerState) error {
	if err := c.drv.PowerControl(state); err != nil {
		return fmt.Errorf("%w: power control: %v", ErrTransport, err)
	}
	return nil
}

// configure applies cfg and enables both directions
func (c *usartCom) configure(cfg USARTConfig) error {
	if err := c.drv.Control(cfg); err != nil {
		return fmt.Errorf("%w: control %+v: %v", ErrTransport, cfg, err)
	}
	c.bytesPerItem = cfg.BytesPerItem()
	if err := c.drv.ControlRx(true); err != nil {
		return fmt.Errorf("%w: enable receiver: %v", ErrTransport, err)
	}
	if err := c.drv.ControlTx(true); err != nil {
		return fmt.Errorf("%w: enable transmitter: %v", ErrTransport, err)
	}
	return nil
}

// receive reads num items into buf. With a timeout of Forever it waits for
// a command: first data is polled for until cancel closes, after which the
// rest must complete within the command timeout.
func (c *usartCom) receive(buf []byte, num uint32, timeout time.Duration, cancel <-chan struct{}) error {
	prefill(buf, num, c.bytesPerItem)
	defer activity(c.ind, LEDReceive)()

	c.flags.Clear()
	if err := c.drv.ControlRx(true); err != nil {
		return fmt.Errorf("%w: enable receiver: %v", ErrTransport, err)
	}
	defer c.drv.ControlRx(false)

	if err := c.drv.Receive(buf, num); err != nil {
		return fmt.Errorf("%w: receive: %v", ErrTransport, err)
	}

	var err error
	if timeout == Forever {
		err = c.waitCommand(cancel)
	} else {
		var got Event
		got, err = c.flags.Wait(EventUSARTReceiveComplete, timeout, nil)
		if err == nil {
			err = completion(got, EventUSARTReceiveComplete)
		}
	}
	if err != nil {
		c.drv.AbortReceive()
	}
	return err
}

func (c *usartCom) waitCommand(cancel <-chan struct{}) error {
	for {
		got, err := c.flags.Wait(usartReceiveMask, commandPoll, cancel)
		if err == nil {
			// an error event before any data was counted
			if got&EventUSARTReceiveComplete == 0 {
				return fmt.Errorf("%w: event %#x", ErrTransport, uint32(got))
			}
			return nil
		}
		if !errors.Is(err, ErrTimeout) {
			return err
		}
		if c.drv.GetRxCount() == 0 {
			continue
		}
		got, err = c.flags.Wait(usartReceiveMask, c.cmdTimeout, cancel)
		if err != nil {
			return err
		}
		return completion(got, EventUSARTReceiveComplete)
	}
}

// send writes num items. Without tx-complete events the end of a send is
// the driver's send-complete followed by the transmitter going idle.
func (c *usartCom) send(data []byte, num uint32, timeout time.Duration) error {
	defer activity(c.ind, LEDSend)()

	c.flags.Clear()
	if err := c.drv.ControlTx(true); err != nil {
		return fmt.Errorf("%w: enable transmitter: %v", ErrTransport, err)
	}
	defer c.drv.ControlTx(false)

	if err := c.drv.Send(data, num); err != nil {
		return fmt.Errorf("%w: send: %v", ErrTransport, err)
	}

	var err error
	if c.caps.EventTxComplete {
		var got Event
		got, err = c.flags.Wait(EventUSARTTxComplete, timeout, nil)
		if err == nil {
			err = completion(got, EventUSARTTxComplete)
		}
	} else {
		_, err = c.flags.Wait(EventUSARTSendComplete, timeout, nil)
		if err == nil {
			err = c.drainTx()
		}
	}
	if err != nil {
		c.drv.AbortSend()
	}
	return err
}

func (c *usartCom) drainTx() error {
	for i := 0; i < txDrainPolls; i++ {
		if !c.drv.GetStatus().TxBusy {
			return nil
		}
		time.Sleep(txDrainPoll)
	}
	return fmt.Errorf("%w: transmitter still busy", ErrTimeout)
}

// transfer exchanges num items; the transmitted count is recorded
func (c *usartCom) transfer(out, in []byte, num uint32, timeout time.Duration) error {
	defer activity(c.ind, LEDTransfer)()

	c.flags.Clear()
	if err := c.drv.Transfer(out, in, num); err != nil {
		return fmt.Errorf("%w: transfer: %v", ErrTransport, err)
	}

	got, err := c.flags.Wait(usartTransferMask, timeout, nil)
	c.xferCount.Store(c.drv.GetTxCount())
	if err == nil {
		err = completion(got, EventUSARTTransferComplete)
	}
	if err != nil {
		c.drv.AbortTransfer()
	}
	return err
}

func (c *usartCom) setBreak(on bool) error {
	if err := c.drv.Break(on); err != nil {
		return fmt.Errorf("%w: break: %v", ErrTransport, err)
	}
	return nil
}

func (c *usartCom) setModem(ctrl ModemControl) error {
	if err := c.drv.SetModemControl(ctrl); err != nil {
		return fmt.Errorf("%w: modem control: %v", ErrTransport, err)
	}
	return nil
}

func (c *usartCom) abort() error {
	if err := c.drv.AbortTransfer(); err != nil {
		return fmt.Errorf("%w: abort: %v", ErrTransport, err)
	}
	return nil
}
