package protocol

import (
	"fmt"
	"net"
	"strings"
)

// BufferDir selects one of the two transfer buffers.
type BufferDir uint8

const (
	BufferRX BufferDir = iota
	BufferTX
)

func (d BufferDir) String() string {
	if d == BufferTX {
		return "TX"
	}
	return "RX"
}

// parseDir finds the buffer selector anywhere in the command text.
func parseDir(cmd string) (BufferDir, error) {
	switch {
	case strings.Contains(cmd, "RX"):
		return BufferRX, nil
	case strings.Contains(cmd, "TX"):
		return BufferTX, nil
	}
	return 0, fmt.Errorf("%w: buffer must be RX or TX", ErrSyntax)
}

// SetBuf is "SET BUF RX|TX,len[,pattern]".
type SetBuf struct {
	Dir     BufferDir
	Len     uint32 // bytes to load from the channel after filling, 0 for none
	Pattern byte   // fill value for the whole buffer
}

// ParseSetBuf parses SET BUF. Len must not exceed max.
func ParseSetBuf(cmd string, max uint32) (SetBuf, error) {
	var c SetBuf
	dir, err := parseDir(cmd)
	if err != nil {
		return c, err
	}
	c.Dir = dir

	args := NewArgs(cmd, VerbSetBuf)
	n, err := args.NextUint()
	if err != nil {
		return c, fmt.Errorf("len: %w", err)
	}
	if n > max {
		return c, fmt.Errorf("len %d: %w", n, ErrRange)
	}
	c.Len = n

	pattern, err := args.OptHex()
	if err != nil {
		return c, fmt.Errorf("pattern: %w", err)
	}
	c.Pattern = byte(pattern.Or(0))
	return c, nil
}

// GetBuf is "GET BUF RX|TX,len".
type GetBuf struct {
	Dir BufferDir
	Len uint32
}

// ParseGetBuf parses GET BUF. Len must be in (0, max].
func ParseGetBuf(cmd string, max uint32) (GetBuf, error) {
	var c GetBuf
	dir, err := parseDir(cmd)
	if err != nil {
		return c, err
	}
	c.Dir = dir

	n, err := NewArgs(cmd, VerbGetBuf).NextUint()
	if err != nil {
		return c, fmt.Errorf("len: %w", err)
	}
	if n == 0 || n > max {
		return c, fmt.Errorf("len %d: %w", n, ErrRange)
	}
	c.Len = n
	return c, nil
}

// SPISetCom is "SET COM mode,format,bit_num,bit_order,ss_mode,bus_speed".
// Everything after mode may be omitted.
type SPISetCom struct {
	Mode     uint32 // 0 master, 1 slave
	Format   Opt    // 0..3 CPOL/CPHA, 4 TI SSI, 5 Microwire
	DataBits Opt    // 1..32
	BitOrder Opt    // 0 MSB first, 1 LSB first
	SSMode   Opt    // master: 0 unused, 1 software; slave: 0 software, 1 hardware
	BusSpeed Opt    // Hz
}

// ParseSPISetCom parses an SPI SET COM command.
func ParseSPISetCom(cmd string) (SPISetCom, error) {
	var c SPISetCom
	args := NewArgs(cmd, VerbSetCom)

	mode, err := args.Uint()
	if err != nil {
		return c, fmt.Errorf("mode: %w", err)
	}
	if mode > 1 {
		return c, fmt.Errorf("mode %d: %w", mode, ErrRange)
	}
	c.Mode = mode

	fields := []struct {
		name     string
		dst      *Opt
		min, max uint32
	}{
		{"format", &c.Format, 0, 5},
		{"bit_num", &c.DataBits, 1, 32},
		{"bit_order", &c.BitOrder, 0, 1},
		{"ss_mode", &c.SSMode, 0, 1},
		{"bus_speed", &c.BusSpeed, 0, Forever},
	}
	for _, f := range fields {
		o, err := args.OptUint()
		if err != nil {
			return c, fmt.Errorf("%s: %w", f.name, err)
		}
		if o.Valid && (o.Value < f.min || o.Value > f.max) {
			return c, fmt.Errorf("%s %d: %w", f.name, o.Value, ErrRange)
		}
		*f.dst = o
	}
	return c, nil
}

// SPIXfer is "XFER num[,delay_c][,delay_t][,timeout]".
type SPIXfer struct {
	Num     uint32
	DelayC  Opt // ms before the transfer configuration is applied
	DelayT  Opt // ms between configuration and transfer
	Timeout Opt // ms, persists for later transfers
}

// ParseSPIXfer parses an SPI XFER command. Num must be in (0, max].
func ParseSPIXfer(cmd string, max uint32) (SPIXfer, error) {
	var c SPIXfer
	args := NewArgs(cmd, VerbXfer)

	n, err := args.Uint()
	if err != nil {
		return c, fmt.Errorf("num: %w", err)
	}
	if n == 0 || n > max {
		return c, fmt.Errorf("num %d: %w", n, ErrRange)
	}
	c.Num = n

	if c.DelayC, err = args.OptDelay(); err != nil {
		return c, fmt.Errorf("delay_c: %w", err)
	}
	if c.DelayT, err = args.OptDelay(); err != nil {
		return c, fmt.Errorf("delay_t: %w", err)
	}
	if c.Timeout, err = args.OptDelay(); err != nil {
		return c, fmt.Errorf("timeout: %w", err)
	}
	return c, nil
}

// USARTSetCom is "SET COM mode,data_bits,parity,stop_bits,flow_ctrl,cpol,cpha,baudrate".
type USARTSetCom struct {
	Mode        uint32 // 1 async, 2 sync master, 3 sync slave, 4 single wire, 5 IrDA, 6 smart card
	DataBits    Opt    // 5..9
	Parity      Opt    // 0 none, 1 even, 2 odd
	StopBits    Opt    // 0 one, 1 two, 2 one and a half, 3 half
	FlowControl Opt    // 0 none, 1 RTS, 2 CTS, 3 RTS/CTS
	CPOL        Opt
	CPHA        Opt
	Baudrate    Opt
}

// ParseUSARTSetCom parses a USART SET COM command.
func ParseUSARTSetCom(cmd string) (USARTSetCom, error) {
	var c USARTSetCom
	args := NewArgs(cmd, VerbSetCom)

	mode, err := args.Uint()
	if err != nil {
		return c, fmt.Errorf("mode: %w", err)
	}
	if mode < 1 || mode > 6 {
		return c, fmt.Errorf("mode %d: %w", mode, ErrRange)
	}
	c.Mode = mode

	fields := []struct {
		name     string
		dst      *Opt
		min, max uint32
	}{
		{"data_bits", &c.DataBits, 5, 9},
		{"parity", &c.Parity, 0, 2},
		{"stop_bits", &c.StopBits, 0, 3},
		{"flow_ctrl", &c.FlowControl, 0, 3},
		{"cpol", &c.CPOL, 0, 1},
		{"cpha", &c.CPHA, 0, 1},
		{"baudrate", &c.Baudrate, 0, Forever},
	}
	for _, f := range fields {
		o, err := args.OptUint()
		if err != nil {
			return c, fmt.Errorf("%s: %w", f.name, err)
		}
		if o.Valid && (o.Value < f.min || o.Value > f.max) {
			return c, fmt.Errorf("%s %d: %w", f.name, o.Value, ErrRange)
		}
		*f.dst = o
	}
	return c, nil
}

// XferDir is the direction of a USART transfer.
type XferDir uint8

const (
	XferSend XferDir = iota
	XferReceive
	XferTransfer
)

// USARTXfer is "XFER dir,num[,delay][,timeout][,num_rts]".
type USARTXfer struct {
	Dir     XferDir
	Num     uint32
	Delay   Opt
	Timeout Opt
	NumRTS  Opt // items received while RTS is asserted, at most Num
}

// ParseUSARTXfer parses a USART XFER command. Num must be in (0, max].
func ParseUSARTXfer(cmd string, max uint32) (USARTXfer, error) {
	var c USARTXfer
	args := NewArgs(cmd, VerbXfer)

	dir, err := args.Uint()
	if err != nil {
		return c, fmt.Errorf("dir: %w", err)
	}
	if dir > uint32(XferTransfer) {
		return c, fmt.Errorf("dir %d: %w", dir, ErrRange)
	}
	c.Dir = XferDir(dir)

	n, err := args.NextUint()
	if err != nil {
		return c, fmt.Errorf("num: %w", err)
	}
	if n == 0 || n > max {
		return c, fmt.Errorf("num %d: %w", n, ErrRange)
	}
	c.Num = n

	if c.Delay, err = args.OptDelay(); err != nil {
		return c, fmt.Errorf("delay: %w", err)
	}
	if c.Timeout, err = args.OptDelay(); err != nil {
		return c, fmt.Errorf("timeout: %w", err)
	}
	if c.NumRTS, err = args.OptUint(); err != nil {
		return c, fmt.Errorf("num_rts: %w", err)
	}
	if c.NumRTS.Valid && c.NumRTS.Value > c.Num {
		return c, fmt.Errorf("num_rts %d: %w", c.NumRTS.Value, ErrRange)
	}
	return c, nil
}

// SetBrk is "SET BRK delay,duration".
type SetBrk struct {
	Delay    uint32
	Duration Opt
}

// ParseSetBrk parses SET BRK.
func ParseSetBrk(cmd string) (SetBrk, error) {
	var c SetBrk
	args := NewArgs(cmd, VerbSetBrk)

	d, err := args.Uint()
	if err != nil {
		return c, fmt.Errorf("delay: %w", err)
	}
	if d == Forever {
		return c, fmt.Errorf("delay %d: %w", d, ErrRange)
	}
	c.Delay = d

	if c.Duration, err = args.OptDelay(); err != nil {
		return c, fmt.Errorf("duration: %w", err)
	}
	return c, nil
}

// Modem line bits of SET MDM.
const (
	ModemRTS = 1 << 0
	ModemDTR = 1 << 1
	ModemDCD = 1 << 2
	ModemRI  = 1 << 3
)

// SetMdm is "SET MDM mdm_ctrl,delay,duration". Control is hexadecimal.
type SetMdm struct {
	Control  uint32
	Delay    uint32
	Duration Opt
}

// ParseSetMdm parses SET MDM.
func ParseSetMdm(cmd string) (SetMdm, error) {
	var c SetMdm
	args := NewArgs(cmd, VerbSetMdm)

	ctrl, err := args.Hex()
	if err != nil {
		return c, fmt.Errorf("mdm_ctrl: %w", err)
	}
	c.Control = ctrl

	d, err := args.NextUint()
	if err != nil {
		return c, fmt.Errorf("delay: %w", err)
	}
	if d == Forever {
		return c, fmt.Errorf("delay %d: %w", d, ErrRange)
	}
	c.Delay = d

	if c.Duration, err = args.OptDelay(); err != nil {
		return c, fmt.Errorf("duration: %w", err)
	}
	return c, nil
}

// Connect is the Test Assistant "CONNECT TCP|UDP,ip,port,delay_ms".
type Connect struct {
	Network string // "tcp" or "udp"
	IP      net.IP // unspecified means the sender of the command
	Port    uint16
	Delay   uint32 // ms, not yet clamped
}

// ParseConnect parses a CONNECT command.
func ParseConnect(cmd string) (Connect, error) {
	var c Connect
	var verb string
	switch {
	case strings.HasPrefix(cmd, VerbConnect+" TCP"):
		c.Network, verb = "tcp", VerbConnect+" TCP"
	case strings.HasPrefix(cmd, VerbConnect+" UDP"):
		c.Network, verb = "udp", VerbConnect+" UDP"
	default:
		return c, fmt.Errorf("%w: protocol must be TCP or UDP", ErrSyntax)
	}

	args := NewArgs(cmd, verb)
	if !args.Next() {
		return c, fmt.Errorf("%w: missing address", ErrSyntax)
	}
	addr := args.rest
	if i := strings.IndexByte(addr, ','); i >= 0 {
		addr = addr[:i]
	}
	c.IP = net.ParseIP(strings.TrimSpace(addr)).To4()
	if c.IP == nil {
		return c, fmt.Errorf("%w: bad address %q", ErrSyntax, addr)
	}

	port, err := args.NextUint()
	if err != nil {
		return c, fmt.Errorf("port: %w", err)
	}
	if port > 0xffff {
		return c, fmt.Errorf("port %d: %w", port, ErrRange)
	}
	c.Port = uint16(port)

	if c.Delay, err = args.NextUint(); err != nil {
		return c, fmt.Errorf("delay: %w", err)
	}
	return c, nil
}

// Send is the Test Assistant "SEND TCP,bsize,time_ms".
type Send struct {
	BlockSize uint32
	Duration  uint32 // ms
}

// ParseSend parses a SEND command. Values are not yet clamped.
func ParseSend(cmd string) (Send, error) {
	var c Send
	args := NewArgs(cmd, VerbSend)
	var err error
	if c.BlockSize, err = args.NextUint(); err != nil {
		return c, fmt.Errorf("bsize: %w", err)
	}
	if c.Duration, err = args.NextUint(); err != nil {
		return c, fmt.Errorf("time: %w", err)
	}
	return c, nil
}

// Recv is the Test Assistant "RECV TCP,bsize".
type Recv struct {
	BlockSize uint32
}

// ParseRecv parses a RECV command.
func ParseRecv(cmd string) (Recv, error) {
	var c Recv
	n, err := NewArgs(cmd, VerbRecv).NextUint()
	if err != nil {
		return c, fmt.Errorf("bsize: %w", err)
	}
	c.BlockSize = n
	return c, nil
}
