package state

import "io"

// Channel is one duplex byte channel to a neighbour. Channels carry no message
// boundaries, framing is done by the datalink layer.
type Channel interface {
	io.Writer
	io.Closer
	// ReadAvailable returns the bytes that are available right now. It never blocks
	// and returns an empty slice when nothing has arrived.
	ReadAvailable() ([]byte, error)
}

type ChannelKind string

const (
	// FileChannel uses a pair of regular files named from<a>to<b>.txt per edge.
	FileChannel ChannelKind = "file"
	// FifoChannel uses a pair of named pipes with the same naming scheme.
	FifoChannel ChannelKind = "fifo"
	// MemoryChannel channels are created in-process by the simulator.
	MemoryChannel ChannelKind = "memory"
)
