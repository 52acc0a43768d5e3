package core

import (
	"fmt"
	"strconv"
	"time"

	"dvserver/metrics"
	"dvserver/protocol"
)

// xferSettle is waited after a transfer window so the client has released
// the bus before the default configuration returns.
const xferSettle = 10 * time.Millisecond

func (s *SPIServer) registerCommands() {
	s.table.Register(protocol.VerbGetVer, s.cmdGetVer)
	s.table.Register(protocol.VerbGetCap, s.cmdGetCap)
	s.table.Register(protocol.VerbSetBuf, s.cmdSetBuf)
	s.table.Register(protocol.VerbGetBuf, s.cmdGetBuf)
	s.table.Register(protocol.VerbSetCom, s.cmdSetCom)
	s.table.Register(protocol.VerbXfer, s.cmdXfer)
	s.table.Register(protocol.VerbGetCnt, s.cmdGetCnt)
}

func (s *SPIServer) cmdGetVer(cmd string) error {
	return s.respond(s.version, protocol.VersionSize)
}

// cmdGetCap probes the driver and reports
// "mode_mask,format_mask,data_bits_mask,bit_order_mask,min_kHz,max_kHz".
func (s *SPIServer) cmdGetCap(cmd string) error {
	def := s.defaultCfg
	drv := s.com.drv

	master := func(hz uint32) bool {
		return drv.Control(SPIConfig{
			Mode:     SPIModeMaster,
			Format:   def.Format,
			DataBits: def.DataBits,
			BitOrder: def.BitOrder,
			SS:       SPISSMasterHWOutput,
			BusSpeed: hz,
		}) == nil
	}
	slave := func(cfg SPIConfig) bool {
		cfg.Mode = SPIModeSlave
		cfg.SS = SPISSSlaveHW
		cfg.BusSpeed = 0
		return drv.Control(cfg) == nil
	}

	minSpeed := ProbeMinSpeed(master)
	maxSpeed := ProbeMaxSpeed(master)

	var modes uint32
	if master(minSpeed) {
		modes |= 1
	}
	if slave(def) {
		modes |= 1 << 1
	}

	formats := ProbeMask(int(SPIFormatMicrowire)+1, func(i int) bool {
		cfg := def
		cfg.Format = SPIFormat(i)
		return slave(cfg)
	})
	dataBits := ProbeMask(32, func(i int) bool {
		cfg := def
		cfg.DataBits = uint8(i + 1)
		return slave(cfg)
	})
	bitOrders := ProbeMask(2, func(i int) bool {
		cfg := def
		cfg.BitOrder = SPIBitOrder(i)
		return slave(cfg)
	})

	// Probing left an arbitrary configuration behind
	if err := s.com.configure(def); err != nil {
		s.log.V(1).Info("revert to default configuration failed", "err", err.Error())
	}

	text := fmt.Sprintf("%02X,%02X,%08X,%02X,%d,%d",
		modes, formats, dataBits, bitOrders, minSpeed/1000, maxSpeed/1000)
	return s.respond(text, protocol.CapabilitySize)
}

func (s *SPIServer) cmdSetBuf(cmd string) error {
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

func (s *SPIServer) cmdGetBuf(cmd string) error {
	bufs := s.Buffers()
	if bufs == nil {
		return ErrNotRunning
	}
	c, err := protocol.ParseGetBuf(cmd, uint32(bufs.Size()))
	if err != nil {
		return err
	}

	items := bytesToItems(c.Len, s.defaultCfg.BytesPerItem())
	return s.com.send(bufs.Select(c.Dir), items, s.opts.CommandTimeout)
}

// cmdSetCom updates the transfer configuration. Nothing changes unless the
// whole command is valid.
func (s *SPIServer) cmdSetCom(cmd string) error {
	c, err := protocol.ParseSPISetCom(cmd)
	if err != nil {
		return err
	}

	cfg := s.xferCfg
	if c.Mode == 0 {
		cfg.Mode = SPIModeMaster
	} else {
		cfg.Mode = SPIModeSlave
	}
	if c.Format.Valid {
		cfg.Format = SPIFormat(c.Format.Value)
	}
	if c.DataBits.Valid {
		cfg.DataBits = uint8(c.DataBits.Value)
	}
	if c.BitOrder.Valid {
		cfg.BitOrder = SPIBitOrder(c.BitOrder.Value)
	}
	if c.SSMode.Valid {
		switch {
		case cfg.Mode == SPIModeMaster && c.SSMode.Value == 0:
			cfg.SS = SPISSMasterUnused
		case cfg.Mode == SPIModeMaster:
			cfg.SS = SPISSMasterSW
		case c.SSMode.Value == 0:
			cfg.SS = SPISSSlaveSW
		default:
			cfg.SS = SPISSSlaveHW
		}
	}
	if c.BusSpeed.Valid {
		cfg.BusSpeed = c.BusSpeed.Value
	}

	s.mu.Lock()
	s.xferCfg = cfg
	s.mu.Unlock()
	return nil
}

// cmdXfer runs one transfer window. Whatever happens, the channel is made
// inactive, the window is held until the transfer timeout since the start
// of the command has passed, and the default configuration is restored.
func (s *SPIServer) cmdXfer(cmd string) error {
	bufs := s.Buffers()
	if bufs == nil {
		return ErrNotRunning
	}
	start := time.Now()

	x, err := protocol.ParseSPIXfer(cmd, uint32(bufs.Size()))
	if err == nil && int(x.Num)*s.xferCfg.BytesPerItem() > bufs.Size() {
		err = fmt.Errorf("%w: %d items of %d bytes exceed the buffer", protocol.ErrRange, x.Num, s.xferCfg.BytesPerItem())
	}
	if err == nil {
		if x.Timeout.Valid {
			s.mu.Lock()
			s.xferTimeout = ms(x.Timeout.Value)
			s.mu.Unlock()
		}
		err = s.xfer(x, bufs)
	}

	if cerr := s.com.configure(spiInactiveConfig); cerr != nil {
		s.log.V(1).Info("deactivate after transfer failed", "err", cerr.Error())
	}
	if rest := s.xferTimeout - time.Since(start); rest > 0 {
		time.Sleep(rest)
	}
	time.Sleep(xferSettle)
	if cerr := s.com.configure(s.defaultCfg); cerr != nil {
		s.log.V(1).Info("revert to default configuration failed", "err", cerr.Error())
	}

	if err == nil {
		metrics.ServerTransferItemsTotal.WithLabelValues(s.name).Add(float64(s.com.xferCount.Load()))
	}
	return err
}

func (s *SPIServer) xfer(x protocol.SPIXfer, bufs *TransferBuffers) error {
	if err := s.com.configure(spiInactiveConfig); err != nil {
		return err
	}
	time.Sleep(ms(x.DelayC.Or(0)))

	if err := s.com.configure(s.xferCfg); err != nil {
		return err
	}
	time.Sleep(ms(x.DelayT.Or(0)))

	swSS := s.xferCfg.softwareSS()
	if swSS {
		if err := s.com.slaveSelect(true); err != nil {
			return err
		}
	}

	err := s.com.transfer(bufs.TX, bufs.RX, x.Num, s.xferTimeout)

	if swSS {
		if serr := s.com.slaveSelect(false); err == nil {
			err = serr
		}
	}
	return err
}

func (s *SPIServer) cmdGetCnt(cmd string) error {
	return s.respond(strconv.FormatUint(uint64(s.com.xferCount.Load()), 10), protocol.CountSize)
}
