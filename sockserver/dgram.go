package sockserver

import (
	"context"
	"fmt"
	"math/rand"
	"net"

	"dvserver/metrics"
)

// Datagram chargen reply length bounds
const (
	minDgramLen = 2
	maxDgramLen = BufferSize
)

type dgramHandler func(pc net.PacketConn, data []byte, addr net.Addr)

// serveDgram reads datagrams from pc and hands each non-empty one to handle
func (s *Server) serveDgram(ctx context.Context, name string, pc net.PacketConn, handle dgramHandler) error {
	buf := make([]byte, BufferSize)
	for {
		n, addr, err := pc.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("%s: %w", name, err)
		}
		if n == 0 {
			continue
		}
		s.stats.addRx(n)
		s.stats.setRemote(addr)
		metrics.SockConnectionsTotal.WithLabelValues(name).Inc()
		handle(pc, buf[:n], addr)
	}
}

func (s *Server) reply(pc net.PacketConn, data []byte, addr net.Addr) {
	n, err := pc.WriteTo(data, addr)
	if err != nil {
		s.log.V(1).Info("Reply failed", "remote", addr.String(), "err", err.Error())
		return
	}
	s.stats.addTx(n)
}

func (s *Server) echoDgram(pc net.PacketConn, data []byte, addr net.Addr) {
	s.reply(pc, data, addr)
}

// chargenDgram answers every datagram with a line of random length
func (s *Server) chargenDgram() dgramHandler {
	buf := make([]byte, maxDgramLen)
	start := byte('@')
	return func(pc net.PacketConn, _ []byte, addr net.Addr) {
		n := minDgramLen + rand.Intn(maxDgramLen-minDgramLen+1)
		start = fillLine(buf[:n], start)
		s.reply(pc, buf[:n], addr)
	}
}
