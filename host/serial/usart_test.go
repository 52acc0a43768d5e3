//go:build !wasm

package serial

import (
	"errors"
	"io"
	"net"
	"os"
	"testing"
	"time"

	"dvserver/core"
	"dvserver/protocol"
)

// pipePort is the server end of a net.Pipe. Reads time out like a serial
// port with a read timeout; Close is left to the test.
type pipePort struct {
	conn net.Conn
}

func (p *pipePort) Read(b []byte) (int, error) {
	p.conn.SetReadDeadline(time.Now().Add(10 * time.Millisecond))
	n, err := p.conn.Read(b)
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return n, io.EOF
	}
	return n, err
}

func (p *pipePort) Write(b []byte) (int, error) { return p.conn.Write(b) }
func (p *pipePort) Close() error                { return nil }
func (p *pipePort) Flush() error                { return nil }

func newPipeUSART(t *testing.T) (*USART, net.Conn, *[]*Config) {
	t.Helper()
	server, client := net.Pipe()
	t.Cleanup(func() {
		server.Close()
		client.Close()
	})

	var opened []*Config
	u := NewUSART("pipe")
	u.opener = func(cfg *Config) (Port, error) {
		opened = append(opened, cfg)
		return &pipePort{conn: server}, nil
	}
	return u, client, &opened
}

func TestUSARTControl(t *testing.T) {
	u, _, opened := newPipeUSART(t)

	cfg := core.USARTDefaultConfig
	if err := u.Control(cfg); err == nil {
		t.Error("Expected Control to fail before power up")
	}

	u.PowerControl(core.PowerFull)
	if err := u.Control(cfg); err != nil {
		t.Fatalf("Control failed: %v", err)
	}
	if err := u.Control(cfg); err != nil {
		t.Fatalf("Control failed: %v", err)
	}
	if len(*opened) != 1 {
		t.Errorf("Expected an unchanged config to keep the port, got %d opens", len(*opened))
	}
	got := (*opened)[0]
	if got.Baud != 115200 || got.DataBits != 8 || got.Parity != ParityNone || got.StopBits != Stop1 {
		t.Errorf("Unexpected port config %+v", got)
	}

	unsupported := []core.USARTConfig{
		{Mode: core.USARTModeSynchronousMaster, DataBits: 8, Baudrate: 115200},
		{Mode: core.USARTModeAsynchronous, DataBits: 9, Baudrate: 115200},
		{Mode: core.USARTModeAsynchronous, DataBits: 8, StopBits: core.USARTStopBits0_5, Baudrate: 115200},
		{Mode: core.USARTModeAsynchronous, DataBits: 8, FlowControl: core.USARTFlowRTSCTS, Baudrate: 115200},
		{Mode: core.USARTModeAsynchronous, DataBits: 8, Baudrate: 12345},
	}
	for _, c := range unsupported {
		if err := u.Control(c); !errors.Is(err, core.ErrUnsupported) {
			t.Errorf("Control(%+v): expected ErrUnsupported, got %v", c, err)
		}
	}

	cfg.Parity = core.USARTParityOdd
	if err := u.Control(cfg); err != nil {
		t.Fatalf("Control failed: %v", err)
	}
	if len(*opened) != 2 || (*opened)[1].Parity != ParityOdd {
		t.Error("Expected the port to be reopened with odd parity")
	}
}

func TestUSARTSendReceive(t *testing.T) {
	u, client, _ := newPipeUSART(t)

	events := make(chan core.Event, 4)
	u.Initialize(func(e core.Event) { events <- e })
	u.PowerControl(core.PowerFull)
	if err := u.Control(core.USARTDefaultConfig); err != nil {
		t.Fatalf("Control failed: %v", err)
	}

	buf := make([]byte, 8)
	if err := u.Receive(buf, 4); err != nil {
		t.Fatalf("Receive failed: %v", err)
	}
	client.Write([]byte("ab"))
	client.Write([]byte("cd"))

	select {
	case e := <-events:
		if e != core.EventUSARTReceiveComplete {
			t.Errorf("Expected receive complete, got %#x", e)
		}
	case <-time.After(time.Second):
		t.Fatal("No receive event")
	}
	if string(buf[:4]) != "abcd" || u.GetRxCount() != 4 {
		t.Errorf("Received %q (%d items)", buf[:4], u.GetRxCount())
	}

	if err := u.Send([]byte("xyz"), 3); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	out := make([]byte, 3)
	if _, err := io.ReadFull(client, out); err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if string(out) != "xyz" {
		t.Errorf("Expected xyz, got %q", out)
	}
	select {
	case e := <-events:
		if e != core.EventUSARTSendComplete {
			t.Errorf("Expected send complete, got %#x", e)
		}
	case <-time.After(time.Second):
		t.Fatal("No send event")
	}
}

func TestUSARTAbortReceive(t *testing.T) {
	u, _, _ := newPipeUSART(t)
	u.PowerControl(core.PowerFull)
	u.Control(core.USARTDefaultConfig)

	buf := make([]byte, 4)
	u.Receive(buf, 4)
	if !u.GetStatus().RxBusy {
		t.Error("Expected receiver busy")
	}

	done := make(chan struct{})
	go func() {
		u.AbortReceive()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("AbortReceive did not return")
	}
	if u.GetStatus().RxBusy {
		t.Error("Expected receiver idle after abort")
	}
}

// A USART server on the pipe answers a protocol client on the other end
func TestUSARTServerOverPipe(t *testing.T) {
	u, client, _ := newPipeUSART(t)

	s := core.NewUSARTServer(u, nil, core.Options{})
	if err := s.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer s.Stop()

	c := protocol.NewClient(client)
	defer c.Close()

	resp, err := c.Command(protocol.VerbGetVer, protocol.VersionSize, time.Second)
	if err != nil {
		t.Fatalf("GET VER failed: %v", err)
	}
	if got := protocol.FrameText(resp); got != core.USARTServerVersion {
		t.Errorf("Expected version %s, got %q", core.USARTServerVersion, got)
	}

	resp, err = c.Command(protocol.VerbGetMdm, protocol.StatusSize, time.Second)
	if err != nil {
		t.Fatalf("GET MDM failed: %v", err)
	}
	if string(resp) != "0" {
		t.Errorf("Expected no modem lines, got %q", resp)
	}
}
