package core

import (
	"fmt"
	"unsafe"

	"dvserver/protocol"
)

// bufferAlign is the alignment of transfer buffers; drivers may move
// 16 and 32 bit items straight out of them.
const bufferAlign = 4

// TransferBuffers holds the RX and TX buffers of a command server.
type TransferBuffers struct {
	RX []byte
	TX []byte

	// backing allocations, kept so the aligned views stay reachable
	rxAlloc []byte
	txAlloc []byte
}

// NewTransferBuffers allocates two zeroed, aligned buffers of size bytes.
func NewTransferBuffers(size int) (*TransferBuffers, error) {
	if size <= 0 {
		return nil, fmt.Errorf("invalid transfer buffer size %d", size)
	}
	b := &TransferBuffers{}
	b.RX, b.rxAlloc = alignedBuffer(size)
	b.TX, b.txAlloc = alignedBuffer(size)
	return b, nil
}

// alignedBuffer over-allocates by the alignment and returns the view that
// starts at the first aligned address.
func alignedBuffer(size int) (buf, alloc []byte) {
	alloc = make([]byte, size+bufferAlign)
	off := int(uintptr(unsafe.Pointer(&alloc[0])) & (bufferAlign - 1))
	if off != 0 {
		off = bufferAlign - off
	}
	return alloc[off : off+size : off+size], alloc
}

// Select returns the buffer for dir
func (b *TransferBuffers) Select(dir protocol.BufferDir) []byte {
	if dir == protocol.BufferTX {
		return b.TX
	}
	return b.RX
}

// Size returns the usable size of each buffer
func (b *TransferBuffers) Size() int {
	return len(b.RX)
}

// fill sets every byte of buf to v
func fill(buf []byte, v byte) {
	for i := range buf {
		buf[i] = v
	}
}

// prefill marks the bytes of num items in buf with '?'
func prefill(buf []byte, num uint32, bytesPerItem int) {
	n := int(num) * bytesPerItem
	if n > len(buf) {
		n = len(buf)
	}
	fill(buf[:n], '?')
}

// bytesToItems rounds a byte count up to whole items
func bytesToItems(n uint32, bytesPerItem int) uint32 {
	bpi := uint32(bytesPerItem)
	return (n + bpi - 1) / bpi
}
