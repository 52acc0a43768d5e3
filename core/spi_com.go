package core

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"
)

const (
	spiEventsMask = EventSPITransferComplete | EventSPIDataLost | EventSPIModeFault

	// receive waits in slices so a partially received item stream can be
	// told apart from silence
	receiveSlice  = 100 * time.Millisecond
	receiveSettle = 10 * time.Millisecond
)

// spiCom runs SPI operations to completion on top of an asynchronous driver
type spiCom struct {
	drv   SPIDriver
	flags *eventFlags
	ind   Indicator

	bytesPerItem int
	xferCount    atomic.Uint32
}

func newSPICom(drv SPIDriver, ind Indicator) *spiCom {
	return &spiCom{
		drv:          drv,
		flags:        newEventFlags(),
		ind:          ind,
		bytesPerItem: 1,
	}
}

func (c *spiCom) event(e Event) {
	c.flags.Set(e)
}

func (c *spiCom) initialize() error {
	if err := c.drv.Initialize(c.event); err != nil {
		return fmt.Errorf("%w: initialize: %v", ErrTransport, err)
	}
	return nil
}

func (c *spiCom) uninitialize() error {
	if err := c.drv.Uninitialize(); err != nil {
		return fmt.Errorf("%w: uninitialize: %v", ErrTransport, err)
	}
	return nil
}

func (c *spiCom) power(state PowerState) error {
	if err := c.drv.PowerControl(state); err != nil {
		return fmt.Errorf("%w: power control: %v", ErrTransport, err)
	}
	return nil
}

// configure applies cfg; item width follows the data bits of cfg
func (c *spiCom) configure(cfg SPIConfig) error {
	if err := c.drv.Control(cfg); err != nil {
		return fmt.Errorf("%w: control %+v: %v", ErrTransport, cfg, err)
	}
	c.bytesPerItem = cfg.BytesPerItem()
	return nil
}

func (c *spiCom) slaveSelect(active bool) error {
	if err := c.drv.ControlSS(active); err != nil {
		return fmt.Errorf("%w: slave select: %v", ErrTransport, err)
	}
	return nil
}

// completion maps the events a wait returned to a result
func completion(got, complete Event) error {
	if got&complete != 0 {
		return nil
	}
	return fmt.Errorf("%w: event %#x", ErrTransport, uint32(got))
}

// receive reads num items into buf. The buffer is pre-filled with '?' so
// missing data is visible. A timeout of Forever waits for the first data
// until cancel closes.
func (c *spiCom) receive(buf []byte, num uint32, timeout time.Duration, cancel <-chan struct{}) error {
	prefill(buf, num, c.bytesPerItem)
	defer activity(c.ind, LEDReceive)()

	c.flags.Clear()
	if err := c.drv.Receive(buf, num); err != nil {
		return fmt.Errorf("%w: receive: %v", ErrTransport, err)
	}

	err := c.waitReceive(timeout, cancel)
	if err != nil {
		// started but did not complete
		c.drv.Abort()
	}
	return err
}

func (c *spiCom) waitReceive(timeout time.Duration, cancel <-chan struct{}) error {
	remaining := timeout
	var cnt uint32

	for remaining != 0 {
		slice := receiveSlice
		if remaining != Forever && remaining < slice {
			slice = remaining
		}

		got, err := c.flags.Wait(spiEventsMask, slice, cancel)
		if err == nil {
			return completion(got, EventSPITransferComplete)
		}
		if !errors.Is(err, ErrTimeout) {
			return err
		}
		if remaining != Forever {
			remaining -= slice
		}

		if c.drv.GetDataCount() == 0 {
			continue
		}

		// Data is arriving, keep waiting while the count moves
		for cnt != c.drv.GetDataCount() {
			cnt = c.drv.GetDataCount()
			got, err := c.flags.Wait(spiEventsMask, receiveSettle, cancel)
			if err == nil {
				return completion(got, EventSPITransferComplete)
			}
			if !errors.Is(err, ErrTimeout) {
				return err
			}
			if remaining != Forever {
				if remaining > receiveSettle {
					remaining -= receiveSettle
				} else {
					remaining = 0
					break
				}
			}
		}
		return fmt.Errorf("%w: receive stalled after %d items", ErrTimeout, cnt)
	}
	return fmt.Errorf("%w: no data", ErrTimeout)
}

func (c *spiCom) send(data []byte, num uint32, timeout time.Duration) error {
	defer activity(c.ind, LEDSend)()

	c.flags.Clear()
	if err := c.drv.Send(data, num); err != nil {
		return fmt.Errorf("%w: send: %v", ErrTransport, err)
	}

	got, err := c.flags.Wait(spiEventsMask, timeout, nil)
	if err == nil {
		err = completion(got, EventSPITransferComplete)
	}
	if err != nil {
		c.drv.Abort()
	}
	return err
}

// transfer exchanges num items and records the count for GET CNT
func (c *spiCom) transfer(out, in []byte, num uint32, timeout time.Duration) error {
	defer activity(c.ind, LEDTransfer)()

	c.flags.Clear()
	if err := c.drv.Transfer(out, in, num); err != nil {
		return fmt.Errorf("%w: transfer: %v", ErrTransport, err)
	}

	got, err := c.flags.Wait(spiEventsMask, timeout, nil)
	c.xferCount.Store(c.drv.GetDataCount())
	if err == nil {
		err = completion(got, EventSPITransferComplete)
	}
	if err != nil {
		c.drv.Abort()
	}
	return err
}

func (c *spiCom) abort() error {
	if err := c.drv.Abort(); err != nil {
		return fmt.Errorf("%w: abort: %v", ErrTransport, err)
	}
	return nil
}
