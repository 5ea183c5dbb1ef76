package mqttsession

import (
	"bytes"
	"sync"
)

const maxPooledBuffer = 64 * 1024

// bufferPool holds encode buffers for WritePacket.
var bufferPool = sync.Pool{
	New: func() any {
		return new(bytes.Buffer)
	},
}

// getBuffer returns an empty pooled buffer.
func getBuffer() *bytes.Buffer {
	b := bufferPool.Get().(*bytes.Buffer)
	b.Reset()
	return b
}

// putBuffer returns a buffer to the pool. Oversized buffers are dropped so a
// single large publish does not pin its memory.
func putBuffer(b *bytes.Buffer) {
	if b == nil || b.Cap() > maxPooledBuffer {
		return
	}
	bufferPool.Put(b)
}
