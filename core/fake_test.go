package core

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"dvserver/protocol"
)

// fakeOp is one asynchronous driver operation. abort waits for the
// goroutine so no event of an aborted operation arrives late.
type fakeOp struct {
	stop chan struct{}
	done chan struct{}
}

func (o *fakeOp) cancel() {
	if o == nil {
		return
	}
	close(o.stop)
	<-o.done
}

// fakeLink is the client end shared by the fake drivers: frames the client
// sends queue on inbox, data the server sends arrives on sent.
type fakeLink struct {
	mu  sync.Mutex
	ops []string
	op  *fakeOp

	inbox chan []byte
	sent  chan []byte

	aborts atomic.Int32
}

func newFakeLink() *fakeLink {
	return &fakeLink{
		inbox: make(chan []byte, 16),
		sent:  make(chan []byte, 16),
	}
}

func (l *fakeLink) record(format string, args ...interface{}) {
	l.mu.Lock()
	l.ops = append(l.ops, fmt.Sprintf(format, args...))
	l.mu.Unlock()
}

// Ops returns the recorded operations from index from on
func (l *fakeLink) Ops(from int) []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if from > len(l.ops) {
		return nil
	}
	return append([]string(nil), l.ops[from:]...)
}

func (l *fakeLink) OpCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.ops)
}

// command queues a padded command frame
func (l *fakeLink) command(text string) {
	l.inbox <- protocol.PadFrame(text, protocol.CommandFrameSize)
}

// data queues raw bytes for the next receive
func (l *fakeLink) data(b []byte) {
	l.inbox <- b
}

// response waits for the next data the server sent
func (l *fakeLink) response(timeout time.Duration) ([]byte, error) {
	select {
	case b := <-l.sent:
		return b, nil
	case <-time.After(timeout):
		return nil, fmt.Errorf("no response within %v", timeout)
	}
}

func (l *fakeLink) start(run func(stop <-chan struct{})) {
	op := &fakeOp{stop: make(chan struct{}), done: make(chan struct{})}
	l.mu.Lock()
	prev := l.op
	l.op = op
	l.mu.Unlock()
	prev.cancel()

	go func() {
		defer close(op.done)
		run(op.stop)
	}()
}

// pending reports whether an operation was started and not aborted
func (l *fakeLink) pending() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.op != nil
}

func (l *fakeLink) abort() {
	l.aborts.Add(1)
	l.mu.Lock()
	op := l.op
	l.op = nil
	l.mu.Unlock()
	op.cancel()
}

// fakeSPI is an SPIDriver whose master is the test
type fakeSPI struct {
	*fakeLink

	cb    EventFunc
	cfg   SPIConfig
	count atomic.Uint32

	// accept decides which configurations Control takes
	accept func(SPIConfig) bool
	xferIn byte

	// xferEvent replaces transfer-complete; stall never ends a transfer
	xferEvent Event
	stall     bool
}

func newFakeSPI() *fakeSPI {
	return &fakeSPI{
		fakeLink: newFakeLink(),
		xferIn:   0x5A,
		accept: func(cfg SPIConfig) bool {
			if cfg.Mode == SPIModeMaster && (cfg.BusSpeed < 10000 || cfg.BusSpeed > 10000000) {
				return false
			}
			return cfg.Format <= SPIFormatCPOL1CPHA1 && (cfg.Mode == SPIModeInactive || (cfg.DataBits >= 4 && cfg.DataBits <= 16))
		},
	}
}

func (f *fakeSPI) Initialize(cb EventFunc) error {
	f.cb = cb
	f.record("initialize")
	return nil
}

func (f *fakeSPI) Uninitialize() error {
	f.record("uninitialize")
	return nil
}

func (f *fakeSPI) PowerControl(state PowerState) error {
	f.record("power %d", state)
	return nil
}

func (f *fakeSPI) Control(cfg SPIConfig) error {
	if !f.accept(cfg) {
		return ErrUnsupported
	}
	f.mu.Lock()
	f.cfg = cfg
	f.mu.Unlock()
	f.record("control %d", cfg.Mode)
	return nil
}

// config returns the configuration last accepted by Control
func (f *fakeSPI) config() SPIConfig {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cfg
}

func (f *fakeSPI) bytesPerItem() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cfg.BytesPerItem()
}

func (f *fakeSPI) ControlSS(active bool) error {
	f.record("ss %v", active)
	return nil
}

func (f *fakeSPI) Send(data []byte, num uint32) error {
	n := int(num) * f.bytesPerItem()
	out := append([]byte(nil), data[:n]...)
	f.count.Store(0)
	f.start(func(stop <-chan struct{}) {
		select {
		case f.sent <- out:
			f.count.Store(num)
			f.cb(EventSPITransferComplete)
		case <-stop:
		}
	})
	return nil
}

func (f *fakeSPI) Receive(data []byte, num uint32) error {
	bpi := f.bytesPerItem()
	f.count.Store(0)
	f.start(func(stop <-chan struct{}) {
		select {
		case msg := <-f.inbox:
			n := copy(data[:int(num)*bpi], msg)
			f.count.Store(uint32(n / bpi))
			if uint32(n/bpi) == num {
				f.cb(EventSPITransferComplete)
			}
		case <-stop:
		}
	})
	return nil
}

func (f *fakeSPI) Transfer(out, in []byte, num uint32) error {
	n := int(num) * f.bytesPerItem()
	f.record("transfer %d", num)
	sent := append([]byte(nil), out[:n]...)
	f.count.Store(0)
	ev := f.xferEvent
	if ev == 0 {
		ev = EventSPITransferComplete
	}
	if f.stall {
		f.start(func(stop <-chan struct{}) { <-stop })
		return nil
	}
	f.start(func(stop <-chan struct{}) {
		fill(in[:n], f.xferIn)
		select {
		case f.sent <- sent:
			f.count.Store(num)
			f.cb(ev)
		case <-stop:
		}
	})
	return nil
}

func (f *fakeSPI) GetDataCount() uint32 {
	return f.count.Load()
}

func (f *fakeSPI) Abort() error {
	f.abort()
	return nil
}

// fakeUSART is a USARTDriver whose peer is the test
type fakeUSART struct {
	*fakeLink

	caps USARTCapabilities
	cb   EventFunc
	cfg  USARTConfig

	txCount atomic.Uint32
	rxCount atomic.Uint32
	modem   ModemStatus

	accept func(USARTConfig) bool
}

func newFakeUSART() *fakeUSART {
	return &fakeUSART{
		fakeLink: newFakeLink(),
		caps: USARTCapabilities{
			Asynchronous:   true,
			RTS:            true,
			CTS:            true,
			DTR:            true,
			FlowControlCTS: true,
		},
		modem: ModemStatus{CTS: true},
		accept: func(cfg USARTConfig) bool {
			return cfg.Mode == USARTModeAsynchronous &&
				cfg.DataBits >= 7 && cfg.DataBits <= 8 &&
				cfg.StopBits <= USARTStopBits2 &&
				cfg.Baudrate >= 1200 && cfg.Baudrate <= 1000000
		},
	}
}

func (f *fakeUSART) Capabilities() USARTCapabilities { return f.caps }

func (f *fakeUSART) Initialize(cb EventFunc) error {
	f.cb = cb
	f.record("initialize")
	return nil
}

func (f *fakeUSART) Uninitialize() error {
	f.record("uninitialize")
	return nil
}

func (f *fakeUSART) PowerControl(state PowerState) error {
	f.record("power %d", state)
	return nil
}

func (f *fakeUSART) Control(cfg USARTConfig) error {
	if !f.accept(cfg) {
		return ErrUnsupported
	}
	f.mu.Lock()
	f.cfg = cfg
	f.mu.Unlock()
	return nil
}

func (f *fakeUSART) ControlTx(bool) error { return nil }
func (f *fakeUSART) ControlRx(bool) error { return nil }

func (f *fakeUSART) Break(on bool) error {
	f.record("break %v", on)
	return nil
}

func (f *fakeUSART) bytesPerItem() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cfg.BytesPerItem()
}

func (f *fakeUSART) Send(data []byte, num uint32) error {
	out := append([]byte(nil), data[:int(num)*f.bytesPerItem()]...)
	f.txCount.Store(0)
	f.start(func(stop <-chan struct{}) {
		select {
		case f.sent <- out:
			f.txCount.Store(num)
			f.cb(EventUSARTSendComplete)
		case <-stop:
		}
	})
	return nil
}

func (f *fakeUSART) Receive(data []byte, num uint32) error {
	bpi := f.bytesPerItem()
	f.rxCount.Store(0)
	f.start(func(stop <-chan struct{}) {
		select {
		case msg := <-f.inbox:
			n := copy(data[:int(num)*bpi], msg)
			f.rxCount.Store(uint32(n / bpi))
			if uint32(n/bpi) == num {
				f.cb(EventUSARTReceiveComplete)
			}
		case <-stop:
		}
	})
	return nil
}

func (f *fakeUSART) Transfer(out, in []byte, num uint32) error {
	n := int(num) * f.bytesPerItem()
	sent := append([]byte(nil), out[:n]...)
	f.txCount.Store(0)
	f.rxCount.Store(0)
	f.start(func(stop <-chan struct{}) {
		select {
		case msg := <-f.inbox:
			copy(in[:n], msg)
			f.sent <- sent
			f.txCount.Store(num)
			f.rxCount.Store(num)
			f.cb(EventUSARTTransferComplete)
		case <-stop:
		}
	})
	return nil
}

func (f *fakeUSART) GetTxCount() uint32     { return f.txCount.Load() }
func (f *fakeUSART) GetRxCount() uint32     { return f.rxCount.Load() }
func (f *fakeUSART) GetStatus() USARTStatus { return USARTStatus{} }

func (f *fakeUSART) SetModemControl(ctrl ModemControl) error {
	switch ctrl {
	case ModemRTSClear:
		f.record("rts false")
	case ModemRTSSet:
		f.record("rts true")
	case ModemDTRClear:
		f.record("dtr false")
	case ModemDTRSet:
		f.record("dtr true")
	}
	return nil
}

func (f *fakeUSART) GetModemStatus() ModemStatus { return f.modem }

func (f *fakeUSART) AbortSend() error {
	f.abort()
	return nil
}

func (f *fakeUSART) AbortReceive() error {
	f.abort()
	return nil
}

func (f *fakeUSART) AbortTransfer() error {
	f.abort()
	return nil
}

// fakePins records DCD and RI changes on the link of a fake USART
type fakePins struct {
	link     *fakeLink
	dcd, ri  bool
	wiredDCD bool
	wiredRI  bool
}

func (p *fakePins) Lines() (bool, bool) { return p.wiredDCD, p.wiredRI }

func (p *fakePins) SetDCD(active bool) error {
	if active != p.dcd {
		p.link.record("dcd %v", active)
	}
	p.dcd = active
	return nil
}

func (p *fakePins) SetRI(active bool) error {
	if active != p.ri {
		p.link.record("ri %v", active)
	}
	p.ri = active
	return nil
}

func (p *fakePins) Close() error { return nil }

// trickleSPI receives one item per step up to items, then completes when
// items reaches num or stays silent otherwise
type trickleSPI struct {
	*fakeSPI
	step  time.Duration
	items uint32
}

func (f *trickleSPI) Receive(data []byte, num uint32) error {
	f.count.Store(0)
	f.start(func(stop <-chan struct{}) {
		ticker := time.NewTicker(f.step)
		defer ticker.Stop()
		for i := uint32(1); i <= f.items; i++ {
			select {
			case <-ticker.C:
				data[i-1] = byte('0' + i%10)
				f.count.Store(i)
			case <-stop:
				return
			}
		}
		if f.items == num {
			f.cb(EventSPITransferComplete)
		}
	})
	return nil
}
