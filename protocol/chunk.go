package protocol

import "iter"

// Chunks splits msg into consecutive pieces of at most size bytes. The last piece
// may be shorter and is never padded. The pieces alias msg.
func Chunks(msg []byte, size int) iter.Seq[[]byte] {
	return func(yield func([]byte) bool) {
		if size <= 0 {
			return
		}
		for len(msg) > 0 {
			n := min(size, len(msg))
			if !yield(msg[:n:n]) {
				return
			}
			msg = msg[n:]
		}
	}
}

// XorParity returns a XOR b, the shorter operand is treated as zero padded. The
// same function recovers a lost chunk from its sibling and the parity.
func XorParity(a, b []byte) []byte {
	out := make([]byte, max(len(a), len(b)))
	copy(out, a)
	for i, v := range b {
		out[i] ^= v
	}
	return out
}
