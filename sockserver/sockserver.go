// Package sockserver implements the socket test server used by the WiFi and
// socket driver validation: echo, discard and chargen services over TCP and
// UDP, a rejecting and a non-responding port, and the Test Assistant.
package sockserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"golang.org/x/sync/errgroup"
)

// Version is the socket server version logged on start
const Version = "1.1"

// Well known ports
const (
	EchoPort      = 7
	DiscardPort   = 9
	ChargenPort   = 19
	AssistantPort = 5000
	RejectedPort  = 5001
	TimeoutPort   = 5002
)

// ESC as the first byte of a read ends a stream session
const ESC = 0x1b

// BufferSize is the largest datagram and echo read
const BufferSize = 2000

// Service names used for logging, metrics and Addr
const (
	ServiceEchoTCP    = "echo/tcp"
	ServiceEchoUDP    = "echo/udp"
	ServiceDiscard    = "discard/tcp"
	ServiceChargenTCP = "chargen/tcp"
	ServiceChargenUDP = "chargen/udp"
	ServiceAssistant  = "assistant/tcp"
	ServiceRejected   = "rejected/tcp"
	ServiceTimeout    = "timeout/tcp"
)

// Ports selects the port of each service. Port 0 binds an ephemeral port.
type Ports struct {
	Echo      int `json:"echo"`
	Discard   int `json:"discard"`
	Chargen   int `json:"chargen"`
	Assistant int `json:"assistant"`
	Rejected  int `json:"rejected"`
	Timeout   int `json:"timeout"`
}

// DefaultPorts returns the well known ports
func DefaultPorts() Ports {
	return Ports{
		Echo:      EchoPort,
		Discard:   DiscardPort,
		Chargen:   ChargenPort,
		Assistant: AssistantPort,
		Rejected:  RejectedPort,
		Timeout:   TimeoutPort,
	}
}

// Config for a socket server
type Config struct {
	Bind  string // listen address, "" for all interfaces
	Ports Ports

	// StatusInterval logs the traffic counters periodically when set
	StatusInterval time.Duration

	// Test Assistant timings, zero takes the defaults
	CommandTimeout time.Duration
	ConnectHold    time.Duration

	Log logr.Logger
}

// Test Assistant defaults
const (
	DefaultCommandTimeout = 2 * time.Second
	DefaultConnectHold    = 500 * time.Millisecond
)

// DefaultConfig serves every service on its well known port
func DefaultConfig() Config {
	return Config{Ports: DefaultPorts()}
}

func (c *Config) applyDefaults() {
	if c.CommandTimeout <= 0 {
		c.CommandTimeout = DefaultCommandTimeout
	}
	if c.ConnectHold <= 0 {
		c.ConnectHold = DefaultConnectHold
	}
	if c.Log.GetSink() == nil {
		c.Log = logr.Discard()
	}
}

// Server runs all socket services until stopped
type Server struct {
	cfg   Config
	log   logr.Logger
	stats Stats

	mu        sync.Mutex
	listeners map[string]net.Listener
	packets   map[string]net.PacketConn
	cancel    context.CancelFunc
	group     *errgroup.Group
}

// New creates a stopped server
func New(cfg Config) *Server {
	cfg.applyDefaults()
	return &Server{
		cfg: cfg,
		log: cfg.Log.WithName("sock"),
	}
}

// Stats returns the traffic counters
func (s *Server) Stats() *Stats { return &s.stats }

// Addr returns the bound address of a service, nil when not running
func (s *Server) Addr(service string) net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ln, ok := s.listeners[service]; ok {
		return ln.Addr()
	}
	if pc, ok := s.packets[service]; ok {
		return pc.LocalAddr()
	}
	return nil
}

func (s *Server) hostPort(port int) string {
	return net.JoinHostPort(s.cfg.Bind, strconv.Itoa(port))
}

// bind opens every socket so that address errors surface from Start
func (s *Server) bind() error {
	tcp := []struct {
		name string
		port int
	}{
		{ServiceEchoTCP, s.cfg.Ports.Echo},
		{ServiceDiscard, s.cfg.Ports.Discard},
		{ServiceChargenTCP, s.cfg.Ports.Chargen},
		{ServiceAssistant, s.cfg.Ports.Assistant},
		{ServiceRejected, s.cfg.Ports.Rejected},
		{ServiceTimeout, s.cfg.Ports.Timeout},
	}
	udp := []struct {
		name string
		port int
	}{
		{ServiceEchoUDP, s.cfg.Ports.Echo},
		{ServiceChargenUDP, s.cfg.Ports.Chargen},
	}

	s.listeners = make(map[string]net.Listener)
	s.packets = make(map[string]net.PacketConn)
	for _, t := range tcp {
		ln, err := net.Listen("tcp4", s.hostPort(t.port))
		if err != nil {
			return fmt.Errorf("%s: %w", t.name, err)
		}
		s.listeners[t.name] = ln
	}
	for _, u := range udp {
		pc, err := net.ListenPacket("udp4", s.hostPort(u.port))
		if err != nil {
			return fmt.Errorf("%s: %w", u.name, err)
		}
		s.packets[u.name] = pc
	}
	return nil
}

func (s *Server) closeAll() error {
	var errs []error
	for _, ln := range s.listeners {
		if err := ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			errs = append(errs, err)
		}
	}
	for _, pc := range s.packets {
		if err := pc.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Start binds all services and serves them in the background
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.group != nil {
		return errors.New("socket server already running")
	}
	if err := s.bind(); err != nil {
		s.closeAll()
		s.listeners, s.packets = nil, nil
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	g, ctx := errgroup.WithContext(ctx)
	s.cancel = cancel
	s.group = g

	// Closing the sockets unblocks every accept and read loop
	go func() {
		<-ctx.Done()
		s.mu.Lock()
		s.closeAll()
		s.mu.Unlock()
	}()

	ln, pc := s.listeners, s.packets
	s.serveStream(ctx, g, ServiceEchoTCP, ln[ServiceEchoTCP], 2, s.echo)
	s.serveStream(ctx, g, ServiceChargenTCP, ln[ServiceChargenTCP], 2, s.chargen)
	s.serveStream(ctx, g, ServiceDiscard, ln[ServiceDiscard], 1, s.discard)
	g.Go(func() error { return s.serveRejected(ctx, ln[ServiceRejected]) })
	g.Go(func() error { return s.serveAssistant(ctx, ln[ServiceAssistant]) })
	g.Go(func() error { return s.serveDgram(ctx, ServiceEchoUDP, pc[ServiceEchoUDP], s.echoDgram) })
	g.Go(func() error { return s.serveDgram(ctx, ServiceChargenUDP, pc[ServiceChargenUDP], s.chargenDgram()) })
	if s.cfg.StatusInterval > 0 {
		g.Go(func() error { return s.logStatus(ctx) })
	}

	s.log.Info("Socket server started", "version", Version, "bind", s.cfg.Bind)
	return nil
}

// Stop closes all sockets and waits for the services to finish
func (s *Server) Stop() error {
	s.mu.Lock()
	g, cancel := s.group, s.cancel
	s.group, s.cancel = nil, nil
	s.mu.Unlock()
	if g == nil {
		return errors.New("socket server not running")
	}

	cancel()
	err := g.Wait()
	if errors.Is(err, net.ErrClosed) || errors.Is(err, context.Canceled) {
		err = nil
	}

	s.mu.Lock()
	s.closeAll()
	s.listeners, s.packets = nil, nil
	s.mu.Unlock()
	s.log.Info("Socket server stopped", "rx", s.stats.Rx(), "tx", s.stats.Tx())
	return err
}

// Run serves until ctx is cancelled
func (s *Server) Run(ctx context.Context) error {
	if err := s.Start(); err != nil {
		return err
	}
	<-ctx.Done()
	return s.Stop()
}

func (s *Server) logStatus(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.StatusInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.log.Info("Status", "addr", s.stats.Remote(), "rx", s.stats.Rx(), "tx", s.stats.Tx())
		}
	}
}
