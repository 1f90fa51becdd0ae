package protocol

import (
	"fmt"
	"strings"

	"github.com/encodeous/strata/state"
)

// Kind is the tag byte that leads every deframed payload.
type Kind byte

const (
	KindData   Kind = 'D'
	KindParity Kind = 'X'
	KindAdvert Kind = 'R'
)

// dataHeaderLen covers tag, source, dest and the two seq digits.
const dataHeaderLen = 5

func (k Kind) Valid() bool {
	return k == KindData || k == KindParity || k == KindAdvert
}

func (k Kind) String() string {
	switch k {
	case KindData:
		return "data"
	case KindParity:
		return "parity"
	case KindAdvert:
		return "advert"
	default:
		return fmt.Sprintf("Kind(%#02x)", byte(k))
	}
}

// Packet is the decoded form of a network layer payload. Data and Parity packets use
// Dest, Seq and Payload. Advert packets carry Table and are addressed to
// state.Broadcast.
type Packet struct {
	Kind    Kind
	Source  state.NodeId
	Dest    state.NodeId
	Seq     Seqno
	Payload []byte
	Table   []state.PathVector
}

func NewData(src, dst state.NodeId, seq Seqno, payload []byte) Packet {
	return Packet{Kind: KindData, Source: src, Dest: dst, Seq: seq, Payload: payload}
}

func NewParity(src, dst state.NodeId, seq Seqno, payload []byte) Packet {
	return Packet{Kind: KindParity, Source: src, Dest: dst, Seq: seq, Payload: payload}
}

func NewAdvert(src state.NodeId, table []state.PathVector) Packet {
	return Packet{Kind: KindAdvert, Source: src, Dest: state.Broadcast, Table: table}
}

// Marshal encodes the packet as `tag src dst seq payload` or `R src snapshot`.
func (p Packet) Marshal() ([]byte, error) {
	if !p.Source.Valid() {
		return nil, fmt.Errorf("%w: source %d", state.ErrInvalidNodeId, p.Source)
	}
	switch p.Kind {
	case KindData, KindParity:
		if !p.Dest.Valid() {
			return nil, fmt.Errorf("%w: dest %d", state.ErrInvalidNodeId, p.Dest)
		}
		if !p.Seq.Valid() {
			return nil, fmt.Errorf("%w: seq %d out of range", state.ErrMalformedPacket, p.Seq)
		}
		b := make([]byte, 0, dataHeaderLen+len(p.Payload))
		b = append(b, byte(p.Kind), p.Source.Digit(), p.Dest.Digit())
		b = appendSeqno(b, p.Seq)
		return append(b, p.Payload...), nil
	case KindAdvert:
		b := []byte{byte(p.Kind), p.Source.Digit()}
		return AppendTable(b, p.Table)
	default:
		return nil, fmt.Errorf("%w: unknown kind %s", state.ErrMalformedPacket, p.Kind)
	}
}

// Unmarshal decodes a deframed payload. Errors wrap state.ErrMalformedPacket.
func Unmarshal(b []byte) (Packet, error) {
	if len(b) < 2 {
		return Packet{}, fmt.Errorf("%w: %d byte payload", state.ErrMalformedPacket, len(b))
	}
	p := Packet{Kind: Kind(b[0])}
	src, err := NodeIdFromWire(b[1])
	if err != nil {
		return Packet{}, err
	}
	p.Source = src
	switch p.Kind {
	case KindData, KindParity:
		if len(b) < dataHeaderLen {
			return Packet{}, fmt.Errorf("%w: %s header truncated", state.ErrMalformedPacket, p.Kind)
		}
		p.Dest, err = NodeIdFromWire(b[2])
		if err != nil {
			return Packet{}, err
		}
		p.Seq, err = parseSeqno(b[3:5])
		if err != nil {
			return Packet{}, err
		}
		p.Payload = append([]byte{}, b[dataHeaderLen:]...)
	case KindAdvert:
		p.Dest = state.Broadcast
		p.Table, err = ConsumeTable(b[2:])
		if err != nil {
			return Packet{}, err
		}
	default:
		return Packet{}, fmt.Errorf("%w: unknown tag %#02x", state.ErrMalformedPacket, b[0])
	}
	return p, nil
}

func NodeIdFromWire(b byte) (state.NodeId, error) {
	id, err := state.NodeIdFromDigit(b)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", state.ErrMalformedPacket, err)
	}
	return id, nil
}

func (p Packet) String() string {
	switch p.Kind {
	case KindData, KindParity:
		return fmt.Sprintf("%s %s->%s seq %s %q", p.Kind, p.Source, p.Dest, p.Seq, p.Payload)
	case KindAdvert:
		entries := make([]string, 0, len(p.Table))
		for _, pv := range p.Table {
			hops := make([]string, 0, len(pv.Path))
			for _, h := range pv.Path {
				hops = append(hops, h.String())
			}
			entries = append(entries, fmt.Sprintf("%s:[%s]", pv.Dest, strings.Join(hops, " ")))
		}
		return fmt.Sprintf("%s from %s {%s}", p.Kind, p.Source, strings.Join(entries, ", "))
	default:
		return fmt.Sprintf("%s from %s", p.Kind, p.Source)
	}
}
