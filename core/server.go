package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"dvserver/metrics"
	"dvserver/protocol"
)

// channel is the byte channel a command server runs on. The SPI and USART
// servers implement it over their drivers.
type channel interface {
	// reset restores server-local state before a start
	reset()
	// open initializes and powers the driver and applies the default config
	open() error
	// close powers the driver down and uninitializes it
	close() error
	// receiveCommand fills frame with the next command, waiting until quit closes
	receiveCommand(frame []byte, quit <-chan struct{}) error
	// abort cancels any transfer in progress
	abort() error
}

// Server is the command engine shared by the SPI and USART servers: one
// worker receives a fixed size frame, dispatches it through the command
// table and returns to reception, until Stop moves it to StateTerminate.
type Server struct {
	name    string
	version string
	opts    Options
	log     logr.Logger

	table   *CommandTable
	ch      channel
	history *History

	mu      sync.Mutex // serializes Start and Stop
	running bool
	state   atomic.Uint32
	quit    chan struct{}
	done    chan struct{}
	buffers atomic.Pointer[TransferBuffers]
}

func newServer(name, version string, ch channel, opts Options) *Server {
	opts.applyDefaults()
	return &Server{
		name:    name,
		version: version,
		opts:    opts,
		log:     opts.Log.WithName(name).WithValues("instance", uuid.New().String()),
		table:   NewCommandTable(),
		ch:      ch,
		history: NewHistory(opts.HistorySize),
	}
}

// Name returns the server name used in logs and metrics
func (s *Server) Name() string { return s.name }

// Version returns the version reported by GET VER
func (s *Server) Version() string { return s.version }

// Commands returns the dispatch table
func (s *Server) Commands() *CommandTable { return s.table }

// History returns the most recently executed commands
func (s *Server) History() *History { return s.history }

// State returns the current worker state
func (s *Server) State() ServerState {
	return ServerState(s.state.Load())
}

// Buffers returns the transfer buffers, or nil when the server is stopped
func (s *Server) Buffers() *TransferBuffers {
	return s.buffers.Load()
}

// Start allocates the transfer buffers, brings up the driver and spawns the
// worker. Nothing stays acquired when Start fails.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return ErrRunning
	}
	// A worker abandoned by a timed out Stop still owns the channel
	if s.done != nil {
		select {
		case <-s.done:
		default:
			return fmt.Errorf("start %s server: %w", s.name, ErrStopTimeout)
		}
	}

	s.ch.reset()

	bufs, err := NewTransferBuffers(s.opts.BufferSize)
	if err != nil {
		return fmt.Errorf("start %s server: %w", s.name, err)
	}
	s.buffers.Store(bufs)

	if err := s.ch.open(); err != nil {
		s.buffers.Store(nil)
		s.log.Error(err, "server start failed")
		return fmt.Errorf("start %s server: %w", s.name, err)
	}

	s.state.Store(uint32(StateReception))
	s.quit = make(chan struct{})
	s.done = make(chan struct{})
	s.running = true

	go s.worker(s.quit, s.done)

	s.log.Info("server started", "version", s.version, "bufferSize", s.opts.BufferSize)
	return nil
}

// Stop requests termination and waits up to StopRetries*StopPoll for the
// worker to exit. The driver is shut down only when the worker exited; the
// buffers are released either way. After ErrStopTimeout, Start fails until
// the abandoned worker has finished its command and exited.
func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return ErrNotRunning
	}
	s.running = false
	close(s.quit)

	exited := false
	for i := 0; i < s.opts.StopRetries && !exited; i++ {
		select {
		case <-s.done:
			exited = true
		case <-time.After(s.opts.StopPoll):
		}
	}

	var err error
	if exited {
		err = s.ch.close()
		if err != nil {
			err = fmt.Errorf("stop %s server: %w", s.name, err)
		}
	} else {
		err = ErrStopTimeout
	}

	s.buffers.Store(nil)

	if err != nil {
		s.log.Error(err, "server stop failed")
	}
	return err
}

// Run starts the server and stops it when ctx is done
func (s *Server) Run(ctx context.Context) error {
	if err := s.Start(); err != nil {
		return err
	}
	<-ctx.Done()
	return s.Stop()
}

func (s *Server) worker(quit <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	frame := make([]byte, protocol.CommandFrameSize)

	for {
		// Stop only closes quit, the worker owns the state
		select {
		case <-quit:
			s.state.Store(uint32(StateTerminate))
		default:
		}

		switch s.State() {
		case StateReception:
			if err := s.ch.receiveCommand(frame, quit); err != nil {
				// Incomplete frame, restart reception
				if !errors.Is(err, ErrAborted) {
					s.log.V(2).Info("command reception failed", "err", err.Error())
				}
				continue
			}
			s.state.CompareAndSwap(uint32(StateReception), uint32(StateExecution))

		case StateExecution:
			s.execute(protocol.FrameText(frame))
			s.state.CompareAndSwap(uint32(StateExecution), uint32(StateReception))

		default:
			if err := s.ch.abort(); err != nil {
				s.log.V(1).Info("abort on terminate failed", "err", err.Error())
			}
			s.log.Info("server stopped")
			return
		}
	}
}

func (s *Server) execute(frame string) {
	cmd, ok := s.table.Lookup(frame)
	if !ok {
		metrics.ServerUnmatchedFramesTotal.WithLabelValues(s.name).Inc()
		s.log.V(1).Info("discarding frame", "frame", printable(frame))
		return
	}

	start := time.Now()
	err := cmd.Handler(frame)
	elapsed := time.Since(start)

	s.history.Record(CommandRecord{Time: start, Verb: cmd.Prefix, Frame: frame, Duration: elapsed, Err: err})
	metrics.ServerCommandsTotal.WithLabelValues(s.name, cmd.Prefix).Inc()

	if err != nil {
		metrics.ServerCommandFailuresTotal.WithLabelValues(s.name, cmd.Prefix).Inc()
		s.log.V(1).Info("command failed", "frame", printable(frame), "duration", elapsed, "err", err.Error())
		return
	}
	s.log.V(1).Info("command executed", "frame", printable(frame), "duration", elapsed)
}

// printable trims a frame for logging: non-printing bytes become '.' and
// at most 20 characters are kept.
func printable(frame string) string {
	if len(frame) > 20 {
		frame = frame[:20]
	}
	return strings.Map(func(r rune) rune {
		if r < 0x20 || r > 0x7e {
			return '.'
		}
		return r
	}, frame)
}
