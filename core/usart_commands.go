package core

import (
	"fmt"
	"strconv"
	"time"

	"dvserver/metrics"
	"dvserver/protocol"
)

func (s *USARTServer) registerCommands() {
	s.table.Register(protocol.VerbGetVer, s.cmdGetVer)
	s.table.Register(protocol.VerbGetCap, s.cmdGetCap)
	s.table.Register(protocol.VerbSetBuf, s.cmdSetBuf)
	s.table.Register(protocol.VerbGetBuf, s.cmdGetBuf)
	s.table.Register(protocol.VerbSetCom, s.cmdSetCom)
	s.table.Register(protocol.VerbXfer, s.cmdXfer)
	s.table.Register(protocol.VerbGetCnt, s.cmdGetCnt)
	s.table.Register(protocol.VerbSetBrk, s.cmdSetBrk)
	s.table.Register(protocol.VerbGetBrk, s.cmdGetBrk)
	s.table.Register(protocol.VerbSetMdm, s.cmdSetMdm)
	s.table.Register(protocol.VerbGetMdm, s.cmdGetMdm)
}

func (s *USARTServer) cmdGetVer(cmd string) error {
	return s.respond(s.version, protocol.VersionSize, responseDelay)
}

// cmdGetCap probes the driver and reports "mode_mask,data_bits_mask,
// parity_mask,stop_bits_mask,flow_control_mask,modem_lines_mask,min_baud,
// max_baud". Probing runs with the receiver and transmitter disabled.
func (s *USARTServer) cmdGetCap(cmd string) error {
	drv := s.com.drv
	caps := s.com.caps
	def := s.defaultCfg

	drv.ControlRx(false)
	drv.ControlTx(false)

	async := func(cfg USARTConfig) bool {
		cfg.Mode = USARTModeAsynchronous
		return drv.Control(cfg) == nil
	}
	probe := USARTConfig{DataBits: 8, Parity: USARTParityNone, StopBits: USARTStopBits1, FlowControl: USARTFlowNone}
	atBaud := func(baud uint32) bool {
		cfg := probe
		cfg.Baudrate = baud
		return async(cfg)
	}

	minBaud, maxBaud := ProbeBaudRange(StandardBaudrates, atBaud)
	if br := ProbeMaxBaud(atBaud); br > maxBaud {
		maxBaud = br
	}

	var modes uint32
	for i, ok := range []bool{caps.Asynchronous, caps.SynchronousMaster, caps.SynchronousSlave,
		caps.SingleWire, caps.IrDA, caps.SmartCard} {
		if ok {
			modes |= 1 << i
		}
	}

	probe.Baudrate = def.Baudrate
	dataBits := ProbeMask(5, func(i int) bool {
		cfg := probe
		cfg.DataBits = uint8(5 + i)
		return async(cfg)
	})
	parity := ProbeMask(3, func(i int) bool {
		cfg := probe
		cfg.Parity = USARTParity(i)
		return async(cfg)
	})
	stopBits := ProbeMask(4, func(i int) bool {
		cfg := probe
		cfg.StopBits = USARTStopBits(i)
		return async(cfg)
	})

	flow := uint32(1)
	if caps.CTS && caps.FlowControlCTS {
		flow |= 1 << 1
	}
	if caps.RTS {
		flow |= 1 << 2
	}
	if caps.RTS && caps.CTS && caps.FlowControlCTS {
		flow |= 1 << 3
	}

	var modem uint32
	for i, ok := range []bool{caps.RTS, caps.CTS, caps.DTR, caps.DSR} {
		if ok {
			modem |= 1 << i
		}
	}
	dcd, ri := s.pins.Lines()
	if dcd {
		modem |= 1 << 4
	}
	if ri {
		modem |= 1 << 5
	}

	if err := s.com.configure(def); err != nil {
		s.log.V(1).Info("revert to default configuration failed", "err", err.Error())
	}

	text := fmt.Sprintf("%02X,%02X,%01X,%01X,%01X,%01X,%d,%d",
		modes, dataBits, parity, stopBits, flow, modem, minBaud, maxBaud)
	return s.respond(text, protocol.CapabilitySize, capResponseDelay)
}

func (s *USARTServer) cmdSetBuf(cmd string) error {
	bufs := s.Buffers()
	if bufs == nil {
		return ErrNotRunning
	}
	c, err := protocol.ParseSetBuf(cmd, uint32(bufs.Size()))
	if err != nil {
		return err
	}

	buf := bufs.Select(c.Dir)
	fill(buf, c.Pattern)

	if c.Len == 0 {
		return nil
	}
	items := bytesToItems(c.Len, s.defaultCfg.BytesPerItem())
	return s.com.receive(buf, items, s.opts.CommandTimeout, nil)
}

func (s *USARTServer) cmdGetBuf(cmd string) error {
	bufs := s.Buffers()
	if bufs == nil {
		return ErrNotRunning
	}
	c, err := protocol.ParseGetBuf(cmd, uint32(bufs.Size()))
	time.Sleep(responseDelay)
	if err != nil {
		return err
	}

	items := bytesToItems(c.Len, s.defaultCfg.BytesPerItem())
	return s.com.send(bufs.Select(c.Dir), items, s.opts.CommandTimeout)
}

// cmdSetCom updates the transfer configuration; omitted fields keep their
// previous value. Nothing changes unless the whole command is valid.
func (s *USARTServer) cmdSetCom(cmd string) error {
	c, err := protocol.ParseUSARTSetCom(cmd)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	cfg := s.xferCfg
	cfg.Mode = USARTMode(c.Mode)
	if c.DataBits.Valid {
		cfg.DataBits = uint8(c.DataBits.Value)
	}
	if c.Parity.Valid {
		cfg.Parity = USARTParity(c.Parity.Value)
	}
	if c.StopBits.Valid {
		cfg.StopBits = USARTStopBits(c.StopBits.Value)
	}
	if c.FlowControl.Valid {
		cfg.FlowControl = USARTFlowControl(c.FlowControl.Value)
	}
	if c.CPOL.Valid {
		cfg.CPOL = uint8(c.CPOL.Value)
	}
	if c.CPHA.Valid {
		cfg.CPHA = uint8(c.CPHA.Value)
	}
	if c.Baudrate.Valid {
		cfg.Baudrate = c.Baudrate.Value
	}
	s.xferCfg = cfg
	return nil
}

// cmdXfer runs one send, receive or transfer with the transfer
// configuration, then restores the default configuration.
func (s *USARTServer) cmdXfer(cmd string) error {
	bufs := s.Buffers()
	if bufs == nil {
		return ErrNotRunning
	}

	x, err := protocol.ParseUSARTXfer(cmd, uint32(bufs.Size()))
	cfg := s.TransferConfig()
	if err == nil && int(x.Num)*cfg.BytesPerItem() > bufs.Size() {
		err = fmt.Errorf("%w: %d items of %d bytes exceed the buffer", protocol.ErrRange, x.Num, cfg.BytesPerItem())
	}
	if err == nil {
		if x.Timeout.Valid {
			s.mu.Lock()
			s.xferTimeout = ms(x.Timeout.Value)
			s.mu.Unlock()
		}
		time.Sleep(ms(x.Delay.Or(0)))
		err = s.xfer(x, cfg, bufs)
	}

	if cerr := s.com.configure(s.defaultCfg); cerr != nil {
		s.log.V(1).Info("revert to default configuration failed", "err", cerr.Error())
	}

	if err == nil {
		metrics.ServerTransferItemsTotal.WithLabelValues(s.name).Add(float64(s.com.xferCount.Load()))
	}
	return err
}

func (s *USARTServer) xfer(x protocol.USARTXfer, cfg USARTConfig, bufs *TransferBuffers) error {
	if err := s.com.configure(cfg); err != nil {
		return err
	}
	drv := s.com.drv
	timeout := s.xferTimeout

	switch x.Dir {
	case protocol.XferSend:
		err := s.com.send(bufs.TX, x.Num, timeout)
		s.com.xferCount.Store(drv.GetTxCount())
		return err

	case protocol.XferReceive:
		if !x.NumRTS.Valid {
			err := s.com.receive(bufs.RX, x.Num, timeout, nil)
			s.com.xferCount.Store(drv.GetRxCount())
			return err
		}
		return s.receiveWithRTS(bufs.RX, x.Num, x.NumRTS.Value, cfg.BytesPerItem(), timeout)

	default:
		err := s.com.transfer(bufs.TX, bufs.RX, x.Num, timeout)
		s.com.xferCount.Store(drv.GetRxCount())
		return err
	}
}

// receiveWithRTS receives the first numRTS items with RTS asserted and the
// rest with RTS cleared, so the client sees its CTS drop mid transfer. The
// timeout is shared in proportion to the item counts.
func (s *USARTServer) receiveWithRTS(buf []byte, num, numRTS uint32, bpi int, timeout time.Duration) error {
	drv := s.com.drv
	part := func(n uint32) time.Duration {
		return shareTimeout(timeout, n, num)
	}

	if err := s.com.setModem(ModemRTSSet); err != nil {
		s.log.V(1).Info("assert RTS failed", "err", err.Error())
	}
	err := s.com.receive(buf, numRTS, part(numRTS), nil)
	count := drv.GetRxCount()
	if cerr := s.com.setModem(ModemRTSClear); cerr != nil {
		s.log.V(1).Info("clear RTS failed", "err", cerr.Error())
	}

	if rest := num - numRTS; rest > 0 {
		off := int(numRTS) * bpi
		// only the RTS phase decides the result
		s.com.receive(buf[off:], rest, part(rest), nil)
		count += drv.GetRxCount()
	}
	s.com.xferCount.Store(count)
	return err
}

// shareTimeout returns the part of timeout that n of num items get. The
// division comes first so that long timeouts cannot overflow.
func shareTimeout(timeout time.Duration, n, num uint32) time.Duration {
	return timeout / time.Duration(num) * time.Duration(n)
}

func (s *USARTServer) cmdGetCnt(cmd string) error {
	return s.respond(strconv.FormatUint(uint64(s.com.xferCount.Load()), 10), protocol.CountSize, responseDelay)
}

// cmdSetBrk holds a break condition on the line for the given duration
func (s *USARTServer) cmdSetBrk(cmd string) error {
	c, err := protocol.ParseSetBrk(cmd)
	if err == nil {
		time.Sleep(ms(c.Delay))
		err = s.com.setBreak(true)
		if err == nil {
			time.Sleep(ms(c.Duration.Or(0)))
		}
	}
	if berr := s.com.setBreak(false); err == nil {
		err = berr
	}
	return err
}

// cmdGetBrk reports '1' when a break was received since the last GET BRK
func (s *USARTServer) cmdGetBrk(cmd string) error {
	status := "0"
	if s.com.breakStatus.Swap(false) {
		status = "1"
	}
	return s.respond(status, protocol.StatusSize, responseDelay)
}

// cmdSetMdm drives the modem outputs: bit 0 RTS, bit 1 DTR, bit 2 DCD and
// bit 3 RI. All lines are inactive before the delay and after the duration.
func (s *USARTServer) cmdSetMdm(cmd string) error {
	c, err := protocol.ParseSetMdm(cmd)
	if err == nil {
		s.clearModem()
		time.Sleep(ms(c.Delay))
		err = s.applyModem(c.Control)
		if err == nil {
			time.Sleep(ms(c.Duration.Or(0)))
		}
	}
	s.clearModem()
	return err
}

func (s *USARTServer) applyModem(ctrl uint32) error {
	caps := s.com.caps
	if caps.RTS {
		mc := ModemRTSClear
		if ctrl&protocol.ModemRTS != 0 {
			mc = ModemRTSSet
		}
		if err := s.com.setModem(mc); err != nil {
			return err
		}
	}
	if caps.DTR {
		mc := ModemDTRClear
		if ctrl&protocol.ModemDTR != 0 {
			mc = ModemDTRSet
		}
		if err := s.com.setModem(mc); err != nil {
			return err
		}
	}
	if ctrl&protocol.ModemDCD != 0 {
		if err := s.pins.SetDCD(true); err != nil {
			s.log.V(1).Info("assert DCD failed", "err", err.Error())
		}
	}
	if ctrl&protocol.ModemRI != 0 {
		if err := s.pins.SetRI(true); err != nil {
			s.log.V(1).Info("assert RI failed", "err", err.Error())
		}
	}
	return nil
}

func (s *USARTServer) clearModem() {
	caps := s.com.caps
	if caps.RTS {
		s.com.setModem(ModemRTSClear)
	}
	if caps.DTR {
		s.com.setModem(ModemDTRClear)
	}
	s.releasePins()
}

// cmdGetMdm reports the modem inputs as '0' + CTS + 2*DSR
func (s *USARTServer) cmdGetMdm(cmd string) error {
	st := s.com.drv.GetModemStatus()
	v := 0
	if st.CTS {
		v++
	}
	if st.DSR {
		v += 2
	}
	return s.respond(strconv.Itoa(v), protocol.StatusSize, responseDelay)
}
