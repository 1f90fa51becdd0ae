package state

import "errors"

var (
	// ErrIncompleteFrame means no end marker has been seen yet; buffer and retry on the next read.
	ErrIncompleteFrame = errors.New("incomplete frame")
	// ErrMalformedPacket is returned for payloads with an unknown tag or a broken header.
	ErrMalformedPacket = errors.New("malformed packet")
	// ErrUnknownRoute means the destination has no known next hop. The packet is dropped.
	ErrUnknownRoute = errors.New("unknown route")
	// ErrUnrecoverableLoss means both chunks of a parity pair (or an unpaired chunk) never arrived.
	ErrUnrecoverableLoss = errors.New("unrecoverable loss")
	// ErrChannelUnavailable means the bounded read retries for a neighbour were exhausted this tick.
	ErrChannelUnavailable = errors.New("channel unavailable")
	ErrInvalidNodeId      = errors.New("invalid node id")
	ErrRunComplete        = errors.New("run duration elapsed")
)
