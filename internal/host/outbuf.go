package host

import (
	"github.com/smallnest/ringbuffer"

	"github.com/obsolescence/arpanet/internal/util"
)

// outputCapacity bounds console output awaiting send credit.
const outputCapacity = 8000

// maxDataBytes is the largest data message placed on the network.
const maxDataBytes = 100

// OutBuffer accumulates console output until send credit releases it onto
// the data channel. It never blocks: input that would overflow is dropped.
type OutBuffer struct {
	ring *ringbuffer.RingBuffer
}

// NewOutBuffer returns an empty buffer of the fixed capacity.
func NewOutBuffer() *OutBuffer {
	return &OutBuffer{ring: ringbuffer.New(outputCapacity)}
}

// Enqueue appends p. If p does not fit in the remaining space it is dropped
// whole and logged; the return value reports whether it was kept.
func (b *OutBuffer) Enqueue(p []byte) bool {
	if len(p) > b.ring.Free() {
		util.LogWarning("host: output buffer full, dropping %d bytes", len(p))
		return false
	}
	if _, err := b.ring.Write(p); err != nil {
		util.LogWarning("host: output buffer write: %v", err)
		return false
	}
	return true
}

// Next removes and returns up to one maximum-sized data chunk, or nil when
// the buffer is empty.
func (b *OutBuffer) Next() []byte {
	if b.ring.IsEmpty() {
		return nil
	}
	chunk := make([]byte, maxDataBytes)
	n, err := b.ring.Read(chunk)
	if err != nil || n == 0 {
		return nil
	}
	return chunk[:n]
}

// Len reports the number of buffered bytes.
func (b *OutBuffer) Len() int {
	return b.ring.Length()
}

// Reset discards all buffered output.
func (b *OutBuffer) Reset() {
	b.ring.Reset()
}
