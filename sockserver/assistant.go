package sockserver

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/go-logr/logr"

	"dvserver/core"
	"dvserver/metrics"
	"dvserver/protocol"
)

const assistantReadSize = 1500

// Test Assistant limits, times in ms
const (
	MinConnectDelay  = 10
	MaxConnectDelay  = 5000
	OverConnectDelay = 6000 // used for any delay above MaxConnectDelay

	MinBlockSize = 32
	MaxBlockSize = 1460
	MinSendTime  = 500
	MaxSendTime  = 60000
)

const (
	settleDelay     = 10 * time.Millisecond
	connectGreeting = "SockServer"
	stopMarker      = "STOP"
)

// session is one Test Assistant command connection
type session struct {
	*Server
	ctx   context.Context
	conn  net.Conn
	log   logr.Logger
	table *core.CommandTable
}

func (s *Server) newSession(ctx context.Context, conn net.Conn) *session {
	ss := &session{
		Server: s,
		ctx:    ctx,
		conn:   conn,
		log:    s.log.WithValues("service", ServiceAssistant, "remote", conn.RemoteAddr().String()),
		table:  core.NewCommandTable(),
	}
	ss.table.Register(protocol.VerbConnect, ss.connect)
	ss.table.Register(protocol.VerbSend, ss.send)
	ss.table.Register(protocol.VerbRecv, ss.recv)
	return ss
}

// serveAssistant handles one command connection at a time
func (s *Server) serveAssistant(ctx context.Context, ln net.Listener) error {
	for {
		conn, err := s.accept(ctx, ServiceAssistant, ln)
		if conn == nil {
			return err
		}
		s.stats.setRemote(conn.RemoteAddr())
		metrics.SockConnectionsTotal.WithLabelValues(ServiceAssistant).Inc()
		s.assist(ctx, conn)
	}
}

func (s *Server) assist(ctx context.Context, conn net.Conn) {
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()
	defer conn.Close()

	ss := s.newSession(ctx, conn)
	buf := make([]byte, assistantReadSize)
	n, err := ss.read(buf)
	if n == 0 {
		ss.log.V(1).Info("No command received", "err", fmt.Sprint(err))
		return
	}

	cmd := protocol.FrameText(buf[:n])
	ss.log.V(1).Info("Command", "cmd", cmd)
	if err := ss.table.Dispatch(cmd); err != nil {
		if errors.Is(err, core.ErrNoMatch) {
			ss.log.V(1).Info("Discarded unknown command", "cmd", cmd)
			return
		}
		ss.log.Error(err, "Command failed", "cmd", cmd)
	}
}

// read waits at most the command timeout for data
func (ss *session) read(buf []byte) (int, error) {
	ss.conn.SetReadDeadline(time.Now().Add(ss.cfg.CommandTimeout))
	return ss.conn.Read(buf)
}

// drain reads until the client closes or goes quiet
func (ss *session) drain() {
	buf := make([]byte, assistantReadSize)
	for {
		if _, err := ss.read(buf); err != nil {
			return
		}
	}
}

func (ss *session) sleep(d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ss.ctx.Done():
		return ss.ctx.Err()
	case <-t.C:
		return nil
	}
}

func clamp(v, lo, hi uint32) uint32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// ConnectDelay limits a CONNECT startup delay
func ConnectDelay(ms uint32) time.Duration {
	if ms > MaxConnectDelay {
		ms = OverConnectDelay
	}
	if ms < MinConnectDelay {
		ms = MinConnectDelay
	}
	return time.Duration(ms) * time.Millisecond
}

// connect closes the command connection, waits the requested delay, then
// connects back, sends a greeting and hangs up.
func (ss *session) connect(cmd string) error {
	c, err := protocol.ParseConnect(cmd)
	if err != nil {
		return err
	}

	ip := c.IP
	if ip.IsUnspecified() {
		if ta, ok := ss.conn.RemoteAddr().(*net.TCPAddr); ok {
			ip = ta.IP
		}
	}
	addr := net.JoinHostPort(ip.String(), strconv.Itoa(int(c.Port)))
	ss.conn.Close()

	if err := ss.sleep(ConnectDelay(c.Delay)); err != nil {
		return err
	}

	var d net.Dialer
	peer, err := d.DialContext(ss.ctx, c.Network, addr)
	if err != nil {
		return fmt.Errorf("connect %s %s: %w", c.Network, addr, err)
	}
	defer peer.Close()
	ss.log.V(1).Info("Connected back", "network", c.Network, "addr", addr)

	n, err := peer.Write([]byte(connectGreeting))
	ss.stats.addTx(n)
	if err != nil {
		return err
	}
	return ss.sleep(ss.cfg.ConnectHold)
}

// fillBlock writes the block header and pads the rest with ch
func fillBlock(block []byte, index int, ch byte) {
	n := copy(block, fmt.Sprintf("Block[%d] ", index))
	for i := n; i < len(block); i++ {
		block[i] = ch
	}
}

// send streams numbered blocks for the requested time, then reports the
// byte count.
func (ss *session) send(cmd string) error {
	c, err := protocol.ParseSend(cmd)
	if err != nil {
		return err
	}
	bsize := clamp(c.BlockSize, MinBlockSize, MaxBlockSize)
	dur := time.Duration(clamp(c.Duration, MinSendTime, MaxSendTime)) * time.Millisecond

	if err := ss.sleep(settleDelay); err != nil {
		return err
	}

	block := make([]byte, bsize)
	end := time.Now().Add(dur)
	ss.conn.SetWriteDeadline(end.Add(ss.cfg.CommandTimeout))

	total := 0
	ch := byte('a')
	for i := 1; ; i++ {
		fillBlock(block, i, ch)
		if ch++; ch > '~' {
			ch = ' '
		}
		n, err := ss.conn.Write(block)
		total += n
		ss.stats.addTx(n)
		if err != nil {
			return fmt.Errorf("block %d: %w", i, err)
		}
		if !time.Now().Before(end) {
			break
		}
	}

	if err := ss.report(total); err != nil {
		return err
	}
	ss.drain()
	return nil
}

// recv counts the bytes the client uploads until it sends STOP or closes
func (ss *session) recv(cmd string) error {
	c, err := protocol.ParseRecv(cmd)
	if err != nil {
		return err
	}
	bsize := clamp(c.BlockSize, MinBlockSize, MaxBlockSize)

	if err := ss.sleep(settleDelay); err != nil {
		return err
	}

	buf := make([]byte, bsize)
	total := 0
	for {
		n, err := ss.read(buf)
		if bytes.HasPrefix(buf[:n], []byte(stopMarker)) {
			break
		}
		total += n
		ss.stats.addRx(n)
		if err != nil {
			break
		}
	}

	if err := ss.report(total); err != nil {
		return err
	}
	ss.drain()
	return nil
}

func (ss *session) report(total int) error {
	ss.conn.SetWriteDeadline(time.Now().Add(ss.cfg.CommandTimeout))
	n, err := ss.conn.Write([]byte(fmt.Sprintf("STAT %d bytes.", total)))
	ss.stats.addTx(n)
	ss.log.V(1).Info("Transfer done", "bytes", total)
	return err
}
