package core

import (
	"time"

	"github.com/encodeous/strata/protocol"
	"github.com/encodeous/strata/state"
)

// Sender is the part of the network layer the transport hands packets to.
type Sender interface {
	Send(p protocol.Packet) error
}

type TransportStats struct {
	DataSent   int
	ParitySent int
	// Dropped counts packets the network layer refused, mostly for lack of a route.
	Dropped int
}

// Transport segments outbound messages into sequenced Data packets with XOR parity,
// and reassembles what is delivered to this node.
type Transport struct {
	*state.State
	Seq         protocol.Seqno
	Net         Sender
	Reassembler *Reassembler
	Stats       TransportStats
	received    []Message
}

func (t *Transport) Init(s *state.State) error {
	s.Log.Debug("init transport")
	t.State = s
	r := Get[*NetworkRouter](s)
	r.Upper = t
	t.Net = r
	idle := time.Duration(state.ReassemblyTimeout) * s.TickInterval()
	t.Reassembler = NewReassembler(s.PayloadSize, idle, s.Log)
	return nil
}

func (t *Transport) Cleanup(s *state.State) error {
	t.Reassembler.Flush()
	t.collect()
	t.Reassembler.Close()
	for _, m := range t.received {
		if m.Complete() {
			s.Log.Info("received message", "from", m.Source, "data", string(m.Data), "recovered", len(m.Recovered))
		} else {
			s.Log.Warn("received incomplete message", "from", m.Source, "data", string(m.Data), "missing", m.Missing)
		}
	}
	return nil
}

func (t *Transport) emit(p protocol.Packet) {
	switch p.Kind {
	case protocol.KindData:
		t.Stats.DataSent++
	case protocol.KindParity:
		t.Stats.ParitySent++
	}
	if err := t.Net.Send(p); err != nil {
		t.Stats.Dropped++
		t.Log.Debug("packet dropped", "packet", p, "error", err)
	}
}

// Send segments msg into chunks of PayloadSize bytes. Every chunk and every parity
// packet takes the next sequence number, and the counter skips one more number once
// the message is out. Packets the network layer drops still consume their number.
func (t *Transport) Send(msg []byte, src, dst state.NodeId) {
	var first []byte
	idx := 0
	for chunk := range protocol.Chunks(msg, t.PayloadSize) {
		t.emit(protocol.NewData(src, dst, t.Seq, chunk))
		t.Seq = t.Seq.Next()
		if idx%2 == 0 {
			first = chunk
		} else {
			t.emit(protocol.NewParity(src, dst, t.Seq, protocol.XorParity(first, chunk)))
			t.Seq = t.Seq.Next()
		}
		idx++
	}
	t.Seq = t.Seq.Next()
	t.Log.Debug("message sent", "dest", dst, "chunks", idx, "seq", t.Seq)
}

func (t *Transport) Deliver(p protocol.Packet) {
	t.Reassembler.Add(p)
}

// Tick finalizes idle conversations.
func (t *Transport) Tick() {
	t.Reassembler.Sweep()
	t.collect()
}

func (t *Transport) collect() {
	for m := range t.Reassembler.DrainReady() {
		t.received = append(t.received, m)
	}
}

// Received returns every message reassembled so far, in completion order.
func (t *Transport) Received() []Message {
	t.collect()
	return t.received
}
