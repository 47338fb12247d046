package nstransport

import "sync"

// bufferSize is large enough to hold one NS datagram (MaxMessageSize)
// plus IP/UDP framing slack.
const bufferSize = 2048

var bufferPool = sync.Pool{
	New: func() any {
		buf := make([]byte, bufferSize)
		return &buf
	},
}

// GetBuffer borrows a receive buffer from the pool: a hot receive loop
// should not allocate per packet.
func GetBuffer() *[]byte { return bufferPool.Get().(*[]byte) }

// PutBuffer returns a buffer borrowed from GetBuffer.
func PutBuffer(buf *[]byte) { bufferPool.Put(buf) }
