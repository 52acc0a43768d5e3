package core

import (
	"fmt"
	"sync"
	"time"
)

// Event is a bit set of driver notifications.
type Event uint32

// EventFunc is registered with a driver on Initialize. Drivers call it from
// their own goroutine; it must not block.
type EventFunc func(Event)

// SPI driver events
const (
	EventSPITransferComplete Event = 1 << 0
	EventSPIDataLost         Event = 1 << 1
	EventSPIModeFault        Event = 1 << 2
)

// USART driver events
const (
	EventUSARTSendComplete     Event = 1 << 0
	EventUSARTReceiveComplete  Event = 1 << 1
	EventUSARTTransferComplete Event = 1 << 2
	EventUSARTTxComplete       Event = 1 << 3
	EventUSARTTxUnderflow      Event = 1 << 4
	EventUSARTRxOverflow       Event = 1 << 5
	EventUSARTRxTimeout        Event = 1 << 6
	EventUSARTRxBreak          Event = 1 << 7
	EventUSARTRxFramingError   Event = 1 << 8
	EventUSARTRxParityError    Event = 1 << 9
	EventUSARTCTS              Event = 1 << 10
	EventUSARTDSR              Event = 1 << 11
	EventUSARTDCD              Event = 1 << 12
	EventUSARTRI               Event = 1 << 13
)

// Forever disables the timeout of a wait.
const Forever time.Duration = -1

// eventFlags is the flag set a driver callback signals and the worker waits
// on. Set never blocks; waiters are woken by closing the current notify
// channel.
type eventFlags struct {
	mu     sync.Mutex
	flags  Event
	notify chan struct{}
}

func newEventFlags() *eventFlags {
	return &eventFlags{notify: make(chan struct{})}
}

// Set ORs e into the flag set
func (f *eventFlags) Set(e Event) {
	f.mu.Lock()
	f.flags |= e
	close(f.notify)
	f.notify = make(chan struct{})
	f.mu.Unlock()
}

// Clear drops all pending flags
func (f *eventFlags) Clear() {
	f.mu.Lock()
	f.flags = 0
	f.mu.Unlock()
}

// Wait blocks until any flag in mask is set and returns (and clears) the
// flags of mask that were set. It returns ErrTimeout after timeout, or
// ErrAborted once cancel is closed. A nil cancel never fires.
func (f *eventFlags) Wait(mask Event, timeout time.Duration, cancel <-chan struct{}) (Event, error) {
	var expired <-chan time.Time
	if timeout >= 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	for {
		f.mu.Lock()
		if got := f.flags & mask; got != 0 {
			f.flags &^= got
			f.mu.Unlock()
			return got, nil
		}
		notify := f.notify
		f.mu.Unlock()

		select {
		case <-notify:
		case <-expired:
			return 0, fmt.Errorf("%w after %v", ErrTimeout, timeout)
		case <-cancel:
			return 0, ErrAborted
		}
	}
}

// ms converts a protocol millisecond value to a Duration
func ms(v uint32) time.Duration {
	return time.Duration(v) * time.Millisecond
}

// sleep waits for d unless cancel closes first
func sleep(d time.Duration, cancel <-chan struct{}) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-cancel:
		return ErrAborted
	}
}
