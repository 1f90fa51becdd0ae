package protocol

import (
	"fmt"

	"github.com/encodeous/strata/state"
)

// Seqno is a transport sequence number in [0, state.SeqnoModulus). It travels as
// two ASCII digits.
type Seqno uint8

func (s Seqno) Valid() bool {
	return int(s) < state.SeqnoModulus
}

func (s Seqno) Next() Seqno {
	return s.Add(1)
}

func (s Seqno) Add(n int) Seqno {
	v := (int(s) + n) % state.SeqnoModulus
	if v < 0 {
		v += state.SeqnoModulus
	}
	return Seqno(v)
}

func (s Seqno) String() string {
	return fmt.Sprintf("%02d", int(s))
}

// SeqnoDiff returns how many increments take a to b, in [0, state.SeqnoModulus).
func SeqnoDiff(a, b Seqno) int {
	return (int(b) - int(a) + state.SeqnoModulus) % state.SeqnoModulus
}

func appendSeqno(b []byte, s Seqno) []byte {
	return append(b, '0'+byte(s/10), '0'+byte(s%10))
}

func parseSeqno(b []byte) (Seqno, error) {
	if len(b) < 2 || b[0] < '0' || b[0] > '9' || b[1] < '0' || b[1] > '9' {
		return 0, fmt.Errorf("%w: bad sequence number %q", state.ErrMalformedPacket, b)
	}
	return Seqno((b[0]-'0')*10 + b[1] - '0'), nil
}
