package protocol

import (
	"bytes"
	"iter"

	"github.com/encodeous/strata/state"
)

// Frame delimiters. None of them collide with a packet tag.
const (
	Start  byte = 0x02
	End    byte = 0x03
	Escape byte = 0x10
)

func needsEscape(b byte) bool {
	return b == Start || b == End || b == Escape
}

// EscapedLen is the length of the frame EncodeFrame produces for payload.
func EscapedLen(payload []byte) int {
	n := len(payload) + 2
	for _, b := range payload {
		if needsEscape(b) {
			n++
		}
	}
	return n
}

// AppendFrame appends START, the escaped payload and END to dst.
func AppendFrame(dst, payload []byte) []byte {
	dst = append(dst, Start)
	for _, b := range payload {
		if needsEscape(b) {
			dst = append(dst, Escape)
		}
		dst = append(dst, b)
	}
	return append(dst, End)
}

func EncodeFrame(payload []byte) []byte {
	return AppendFrame(make([]byte, 0, EscapedLen(payload)), payload)
}

// DecodeFrame extracts the first complete frame from raw and returns its payload
// and the number of bytes of raw that were consumed. Bytes before the first START
// are line noise and are skipped. An unescaped START inside a frame means the
// previous frame was cut short, decoding restarts from it.
//
// When raw holds no complete frame, DecodeFrame returns state.ErrIncompleteFrame and
// n is the number of leading bytes that can never become part of a frame.
func DecodeFrame(raw []byte) (payload []byte, n int, err error) {
	start := bytes.IndexByte(raw, Start)
	if start < 0 {
		return nil, len(raw), state.ErrIncompleteFrame
	}
	out := make([]byte, 0, len(raw)-start)
	for i := start + 1; i < len(raw); i++ {
		switch b := raw[i]; b {
		case Escape:
			if i+1 == len(raw) {
				return nil, start, state.ErrIncompleteFrame
			}
			i++
			out = append(out, raw[i])
		case End:
			return out, i + 1, nil
		case Start:
			start = i
			out = out[:0]
		default:
			out = append(out, b)
		}
	}
	return nil, start, state.ErrIncompleteFrame
}

// Deframer accumulates bytes read from a channel and yields complete frames.
// A partial frame stays buffered until the rest of it arrives.
type Deframer struct {
	buf []byte
	// MaxSize bounds the buffered bytes, zero means state.MaxFrameSize.
	MaxSize int
	// Discarded counts bytes thrown away as noise or overflow.
	Discarded int
}

func (d *Deframer) Write(p []byte) (int, error) {
	d.buf = append(d.buf, p...)
	limit := d.MaxSize
	if limit <= 0 {
		limit = state.MaxFrameSize
	}
	if over := len(d.buf) - limit; over > 0 {
		d.Discarded += over
		d.buf = d.buf[over:]
	}
	return len(p), nil
}

// Next returns the next complete frame payload, or state.ErrIncompleteFrame.
func (d *Deframer) Next() ([]byte, error) {
	payload, n, err := DecodeFrame(d.buf)
	if err != nil {
		d.Discarded += n
	} else {
		// noise ahead of the frame
		d.Discarded += max(bytes.IndexByte(d.buf, Start), 0)
	}
	d.buf = d.buf[n:]
	if len(d.buf) == 0 {
		d.buf = nil
	}
	return payload, err
}

// Frames yields every complete frame that is currently buffered.
func (d *Deframer) Frames() iter.Seq[[]byte] {
	return func(yield func([]byte) bool) {
		for {
			payload, err := d.Next()
			if err != nil {
				return
			}
			if !yield(payload) {
				return
			}
		}
	}
}

func (d *Deframer) Buffered() int {
	return len(d.buf)
}
