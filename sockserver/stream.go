package sockserver

import (
	"context"
	"fmt"
	"net"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"dvserver/metrics"
)

// Chargen stream pacing
const (
	ChargenLineSize = 81
	ChargenInterval = 100 * time.Millisecond
)

const discardReadSize = 40

// accept waits for the next connection. It retries temporary errors with a
// growing delay and returns a nil conn and error once ctx is done.
func (s *Server) accept(ctx context.Context, name string, ln net.Listener) (net.Conn, error) {
	var tempDelay time.Duration // how long to sleep on accept failure
	for {
		conn, err := ln.Accept()
		if err == nil {
			return conn, nil
		}
		if ctx.Err() != nil {
			return nil, nil
		}
		if ne, ok := err.(net.Error); ok && ne.Temporary() {
			if tempDelay == 0 {
				tempDelay = 5 * time.Millisecond
			} else {
				tempDelay *= 2
			}
			if max := 1 * time.Second; tempDelay > max {
				tempDelay = max
			}
			s.log.Error(err, "Accept failed, retrying", "service", name, "delay", tempDelay)
			time.Sleep(tempDelay)
			continue
		}
		return nil, fmt.Errorf("%s: %w", name, err)
	}
}

// serveStream accepts connections for one TCP service and runs handle on
// each of them, at most limit at a time. Further clients wait in the backlog.
func (s *Server) serveStream(ctx context.Context, g *errgroup.Group, name string, ln net.Listener, limit int64, handle func(net.Conn)) {
	sem := semaphore.NewWeighted(limit)
	log := s.log.WithValues("service", name)

	g.Go(func() error {
		for {
			if err := sem.Acquire(ctx, 1); err != nil {
				return nil
			}
			conn, err := s.accept(ctx, name, ln)
			if conn == nil {
				sem.Release(1)
				return err
			}

			s.stats.setRemote(conn.RemoteAddr())
			metrics.SockConnectionsTotal.WithLabelValues(name).Inc()
			log.V(1).Info("Connected", "remote", conn.RemoteAddr().String())

			g.Go(func() error {
				defer sem.Release(1)
				stop := context.AfterFunc(ctx, func() { conn.Close() })
				defer stop()
				defer conn.Close()

				handle(conn)
				log.V(1).Info("Disconnected", "remote", conn.RemoteAddr().String())
				return nil
			})
		}
	})
}

func (s *Server) echo(conn net.Conn) {
	buf := make([]byte, BufferSize)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			s.stats.addRx(n)
			w, werr := conn.Write(buf[:n])
			s.stats.addTx(w)
			if buf[0] == ESC || werr != nil {
				return
			}
		}
		if err != nil {
			return
		}
	}
}

func (s *Server) discard(conn net.Conn) {
	buf := make([]byte, discardReadSize)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			s.stats.addRx(n)
			if buf[0] == ESC {
				return
			}
		}
		if err != nil {
			return
		}
	}
}

// chargen writes one line per interval until the peer sends ESC or the
// connection fails. Input other than ESC is counted and dropped.
func (s *Server) chargen(conn net.Conn) {
	esc := make(chan struct{})
	go func() {
		buf := make([]byte, ChargenLineSize+1)
		for {
			n, err := conn.Read(buf)
			if n > 0 {
				s.stats.addRx(n)
				if buf[0] == ESC {
					close(esc)
					return
				}
			}
			if err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(ChargenInterval)
	defer ticker.Stop()

	line := make([]byte, ChargenLineSize)
	start := byte('@')
	for {
		start = fillLine(line, start)
		n, err := conn.Write(line)
		s.stats.addTx(n)
		if err != nil {
			return
		}
		select {
		case <-esc:
			return
		case <-ticker.C:
		}
	}
}

// serveRejected resets every connection right after accepting it
func (s *Server) serveRejected(ctx context.Context, ln net.Listener) error {
	for {
		conn, err := s.accept(ctx, ServiceRejected, ln)
		if conn == nil {
			return err
		}
		metrics.SockConnectionsTotal.WithLabelValues(ServiceRejected).Inc()
		if tc, ok := conn.(*net.TCPConn); ok {
			tc.SetLinger(0)
		}
		conn.Close()
	}
}
