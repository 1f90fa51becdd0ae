package state

import "time"

const (
	// SeqnoModulus bounds the transport sequence counter to [0, SeqnoModulus).
	SeqnoModulus = 100
	// MissingByte fills chunks that could not be recovered.
	MissingByte = '?'
)

var (
	DefaultTick        = time.Second
	DefaultPayloadSize = 5
	AdvertInterval     = 5 // ticks between full table broadcasts
	ReassemblyTimeout  = 3 // ticks of silence before a conversation is finalized
	ReadRetries        = 2
	ReadRetryDelay     = 200 * time.Microsecond
	ReadChunk          = 1024
	MaxFrameSize       = 64 * 1024
	FifoBacklog        = 1 << 20 // bytes a fifo channel queues while its pipe is full

	// debug
	DebugAddr       = "127.0.0.1:6060"
	DBG_debug       = false
	DBG_trace       = false
	DBG_log_router  = false
	DBG_log_packets = false
)
