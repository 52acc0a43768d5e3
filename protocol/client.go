package protocol

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"
)

// ErrClosed is returned by a Client after Close.
var ErrClosed = errors.New("client closed")

// DefaultResponseTimeout bounds a response wait when the caller passes zero.
const DefaultResponseTimeout = 2 * time.Second

// Client drives a command server over a byte stream, typically a serial
// line. Commands go out as fixed 32-byte frames; responses have a size known
// from the verb and are collected by a background reader.
type Client struct {
	port io.ReadWriteCloser

	mu    sync.Mutex
	input *FifoBuffer

	// signalled (non-blocking) whenever the reader appends data
	dataChan chan struct{}

	writeMutex sync.Mutex

	stopChan chan struct{}
	doneChan chan struct{}
	stopOnce sync.Once
}

// NewClient creates a client over port and starts its reader
func NewClient(port io.ReadWriteCloser) *Client {
	c := &Client{
		port:     port,
		input:    NewFifoBuffer(2*4096 + 1),
		dataChan: make(chan struct{}, 1),
		stopChan: make(chan struct{}),
		doneChan: make(chan struct{}),
	}

	go c.readLoop()

	return c
}

// Command sends text as a command frame and, when respSize is positive,
// waits for a response of exactly that many bytes.
func (c *Client) Command(text string, respSize int, timeout time.Duration) ([]byte, error) {
	if len(text) > CommandFrameSize {
		return nil, fmt.Errorf("command too long: %d bytes (max %d)", len(text), CommandFrameSize)
	}

	c.Discard()
	if err := c.Write(PadFrame(text, CommandFrameSize)); err != nil {
		return nil, fmt.Errorf("failed to write command: %w", err)
	}
	if respSize <= 0 {
		return nil, nil
	}
	return c.ReceiveResponse(respSize, timeout)
}

// Write sends raw bytes, e.g. the payload of a SET BUF or XFER.
func (c *Client) Write(data []byte) error {
	c.writeMutex.Lock()
	defer c.writeMutex.Unlock()

	select {
	case <-c.stopChan:
		return ErrClosed
	default:
	}

	n, err := c.port.Write(data)
	if err != nil {
		return err
	}
	if n != len(data) {
		return fmt.Errorf("incomplete write: %d/%d bytes", n, len(data))
	}
	return nil
}

// ReceiveResponse waits until size bytes arrived and returns them
func (c *Client) ReceiveResponse(size int, timeout time.Duration) ([]byte, error) {
	if timeout <= 0 {
		timeout = DefaultResponseTimeout
	}
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		c.mu.Lock()
		data := c.input.Take(size)
		have := c.input.Available()
		c.mu.Unlock()
		if data != nil {
			return data, nil
		}

		select {
		case <-c.dataChan:
		case <-deadline.C:
			return nil, fmt.Errorf("response timeout after %v (%d/%d bytes)", timeout, have, size)
		case <-c.stopChan:
			return nil, ErrClosed
		}
	}
}

// Discard drops any bytes received so far
func (c *Client) Discard() {
	c.mu.Lock()
	c.input.Reset()
	c.mu.Unlock()
}

func (c *Client) readLoop() {
	defer close(c.doneChan)

	buffer := make([]byte, 256)

	for {
		select {
		case <-c.stopChan:
			return
		default:
		}

		n, err := c.port.Read(buffer)
		if err != nil {
			// Serial ports report an idle read timeout as EOF
			if errors.Is(err, io.EOF) {
				time.Sleep(time.Millisecond)
				continue
			}
			time.Sleep(10 * time.Millisecond)
			continue
		}

		if n > 0 {
			c.mu.Lock()
			c.input.Write(buffer[:n])
			c.mu.Unlock()

			select {
			case c.dataChan <- struct{}{}:
			default:
			}
		}
	}
}

// Close stops the reader and closes the port. The port is closed first so a
// blocked Read returns.
func (c *Client) Close() error {
	var err error
	c.stopOnce.Do(func() {
		close(c.stopChan)
		if c.port != nil {
			err = c.port.Close()
		}
		<-c.doneChan
	})
	return err
}
