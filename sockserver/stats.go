package sockserver

import (
	"net"
	"sync"
	"sync/atomic"

	"dvserver/metrics"
)

// Stats counts the traffic of all services and remembers the last peer
type Stats struct {
	rx atomic.Uint64
	tx atomic.Uint64

	mu     sync.Mutex
	remote net.Addr
}

func (s *Stats) addRx(n int) {
	if n <= 0 {
		return
	}
	s.rx.Add(uint64(n))
	metrics.SockRxBytesTotal.Add(float64(n))
}

func (s *Stats) addTx(n int) {
	if n <= 0 {
		return
	}
	s.tx.Add(uint64(n))
	metrics.SockTxBytesTotal.Add(float64(n))
}

func (s *Stats) setRemote(addr net.Addr) {
	s.mu.Lock()
	s.remote = addr
	s.mu.Unlock()
}

// Rx returns the number of bytes received
func (s *Stats) Rx() uint64 { return s.rx.Load() }

// Tx returns the number of bytes sent
func (s *Stats) Tx() uint64 { return s.tx.Load() }

// Remote returns the address of the last peer, or "" if there was none
func (s *Stats) Remote() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.remote == nil {
		return ""
	}
	return s.remote.String()
}

// Clear resets the counters and forgets the last peer
func (s *Stats) Clear() {
	s.rx.Store(0)
	s.tx.Store(0)
	s.setRemote(nil)
}
