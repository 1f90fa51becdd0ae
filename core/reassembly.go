package core

import (
	"bytes"
	"cmp"
	"fmt"
	"iter"
	"log/slog"
	"maps"
	"slices"
	"time"

	"github.com/encodeous/strata/perf"
	"github.com/encodeous/strata/protocol"
	"github.com/encodeous/strata/state"
	"github.com/jellydator/ttlcache/v3"
)

// ConvKey identifies one conversation, the packets one source sends to one destination.
type ConvKey struct {
	Source state.NodeId
	Dest   state.NodeId
}

func compareConvKey(a, b ConvKey) int {
	return cmp.Or(cmp.Compare(a.Source, b.Source), cmp.Compare(a.Dest, b.Dest))
}

// Message is a reassembled transport message. Chunks that could not be rebuilt are
// filled with state.MissingByte and listed in Missing.
type Message struct {
	Source    state.NodeId
	Dest      state.NodeId
	Data      []byte
	Chunks    int
	Missing   []int
	Recovered []int
}

func (m Message) Complete() bool {
	return len(m.Missing) == 0
}

func (m Message) Err() error {
	if m.Complete() {
		return nil
	}
	return fmt.Errorf("%w: %s -> %s chunks %v", state.ErrUnrecoverableLoss, m.Source, m.Dest, m.Missing)
}

func (m Message) String() string {
	return fmt.Sprintf("%s -> %s: %q", m.Source, m.Dest, m.Data)
}

/*
Slot layout of one message. The sender emits every pair of data chunks followed by
their parity, so position p (sequence distance from the first packet) holds

	p % 3 == 0: data chunk 2*(p/3)
	p % 3 == 1: data chunk 2*(p/3)+1
	p % 3 == 2: parity of group p/3
*/
type assembly struct {
	slots     map[int][]byte
	recovered map[int]bool
}

func newAssembly() *assembly {
	return &assembly{
		slots:     make(map[int][]byte),
		recovered: make(map[int]bool),
	}
}

func isParitySlot(pos int) bool {
	return pos%3 == 2
}

func chunkSlot(idx int) int {
	return 3*(idx/2) + idx%2
}

func (a *assembly) hasParity() bool {
	for pos := range a.slots {
		if isParitySlot(pos) {
			return true
		}
	}
	return false
}

func (a *assembly) shift(n int) {
	slots := make(map[int][]byte, len(a.slots))
	for pos, b := range a.slots {
		slots[pos+n] = b
	}
	recovered := make(map[int]bool, len(a.recovered))
	for pos := range a.recovered {
		recovered[pos+n] = true
	}
	a.slots, a.recovered = slots, recovered
}

// recoverGroup rebuilds the one missing data chunk of group g from its parity.
func (a *assembly) recoverGroup(g int) (int, bool) {
	parity, ok := a.slots[3*g+2]
	if !ok {
		return 0, false
	}
	first, hasFirst := a.slots[3*g]
	second, hasSecond := a.slots[3*g+1]
	switch {
	case hasFirst && !hasSecond:
		a.slots[3*g+1] = protocol.XorParity(parity, first)
		a.recovered[3*g+1] = true
		return 3*g + 1, true
	case hasSecond && !hasFirst:
		a.slots[3*g] = protocol.XorParity(parity, second)
		a.recovered[3*g] = true
		return 3 * g, true
	}
	return 0, false
}

// chunkCount derives the number of data chunks from the furthest occupied slot.
func (a *assembly) chunkCount() int {
	maxPos := -1
	for pos := range a.slots {
		maxPos = max(maxPos, pos)
	}
	if maxPos < 0 {
		return 0
	}
	if maxPos%3 == 0 {
		return 2*(maxPos/3) + 1
	}
	return 2*(maxPos/3) + 2
}

// boundary is a data packet that may either continue the current message after a
// lost chunk or start the next message. The packet after it decides.
type boundary struct {
	pos int
	pkt protocol.Packet
}

type conversation struct {
	key      ConvKey
	lastSeq  protocol.Seqno
	lastPos  int
	msg      *assembly
	boundary *boundary
}

// maxLostRun is the longest run of consecutive lost packets still read as a gap
// inside one message.
const maxLostRun = 2

func fitsSlot(kind protocol.Kind, pos int) bool {
	return (kind == protocol.KindParity) == isParitySlot(pos)
}

type ReassemblyStats struct {
	Completed     int
	Recovered     int
	Unrecoverable int
	Duplicates    int
}

// Reassembler buffers Data and Parity packets per conversation and turns them back
// into messages. A conversation that stays silent for the idle timeout, or any
// conversation still open on Flush, is finalized.
type Reassembler struct {
	PayloadSize int
	Stats       ReassemblyStats
	convs       map[ConvKey]*conversation
	live        *ttlcache.Cache[ConvKey, struct{}]
	ready       []Message
	log         *slog.Logger
}

func NewReassembler(payloadSize int, idle time.Duration, log *slog.Logger) *Reassembler {
	return &Reassembler{
		PayloadSize: payloadSize,
		convs:       make(map[ConvKey]*conversation),
		live: ttlcache.New[ConvKey, struct{}](
			ttlcache.WithTTL[ConvKey, struct{}](idle),
			ttlcache.WithDisableTouchOnHit[ConvKey, struct{}](),
		),
		log: log,
	}
}

// Add buffers one Data or Parity packet.
func (r *Reassembler) Add(p protocol.Packet) {
	if p.Kind != protocol.KindData && p.Kind != protocol.KindParity {
		return
	}
	key := ConvKey{Source: p.Source, Dest: p.Dest}
	r.live.Set(key, struct{}{}, ttlcache.DefaultTTL)
	c, ok := r.convs[key]
	if !ok {
		c = &conversation{key: key}
		r.convs[key] = c
	}

	if c.msg == nil {
		r.begin(c, p)
		return
	}

	diff := protocol.SeqnoDiff(c.lastSeq, p.Seq)
	if diff == 0 || diff >= state.SeqnoModulus/2 {
		// duplicate or older than what we have seen
		r.Stats.Duplicates++
		return
	}
	if diff > maxLostRun+1 {
		// the sender shares its counter between destinations, a longer gap is the
		// end of this message and other traffic
		r.finish(c)
		r.begin(c, p)
		return
	}
	pos := c.lastPos + diff

	if b := c.boundary; b != nil {
		c.boundary = nil
		if !fitsSlot(p.Kind, pos) && fitsSlot(p.Kind, pos-b.pos) {
			r.split(c, b)
			pos = c.lastPos + diff
		}
	}

	if p.Kind == protocol.KindData {
		// the sender skips one sequence number between messages
		if isParitySlot(pos) {
			r.finalize(c)
			r.begin(c, p)
			return
		}
		afterParity := isParitySlot(c.lastPos)
		r.place(c, p, pos)
		if diff == 2 && afterParity {
			c.boundary = &boundary{pos: pos, pkt: p}
		}
		return
	}

	if !isParitySlot(pos) {
		if c.msg.hasParity() {
			r.finalize(c)
			r.begin(c, p)
			return
		}
		// the first chunk of the message was lost, realign
		shift := (2 - pos%3 + 3) % 3
		c.msg.shift(shift)
		c.lastPos += shift
		pos += shift
	}
	r.place(c, p, pos)
	r.recoverAt(c, pos/3)
}

func (r *Reassembler) begin(c *conversation, p protocol.Packet) {
	c.msg = newAssembly()
	pos := 0
	if p.Kind == protocol.KindParity {
		pos = 2
	}
	r.place(c, p, pos)
}

func (r *Reassembler) place(c *conversation, p protocol.Packet, pos int) {
	c.msg.slots[pos] = slices.Clone(p.Payload)
	delete(c.msg.recovered, pos)
	c.lastSeq = p.Seq
	c.lastPos = pos
}

// split ends the current message just before the boundary packet, which then
// starts the next one.
func (r *Reassembler) split(c *conversation, b *boundary) {
	delete(c.msg.slots, b.pos)
	delete(c.msg.recovered, b.pos)
	c.lastPos = b.pos - 1
	r.finalize(c)
	r.begin(c, b.pkt)
}

// finish finalizes the open message of c, the next message begins at a pending
// boundary.
func (r *Reassembler) finish(c *conversation) {
	if b := c.boundary; b != nil {
		c.boundary = nil
		r.split(c, b)
	}
	r.finalize(c)
}

func (r *Reassembler) recoverAt(c *conversation, group int) {
	if pos, ok := c.msg.recoverGroup(group); ok {
		r.Stats.Recovered++
		perf.Recovered.Add(1)
		r.log.Debug("recovered chunk from parity", "conv", c.key, "chunk", 2*(pos/3)+pos%3)
	}
}

func (r *Reassembler) finalize(c *conversation) {
	a := c.msg
	if a == nil {
		return
	}
	for g := 0; 3*g < c.lastPos+1; g++ {
		r.recoverAt(c, g)
	}
	c.msg = nil
	n := a.chunkCount()
	m := Message{Source: c.key.Source, Dest: c.key.Dest, Chunks: n, Data: make([]byte, 0, n*r.PayloadSize)}
	for i := range n {
		pos := chunkSlot(i)
		chunk, ok := a.slots[pos]
		if !ok {
			m.Missing = append(m.Missing, i)
			m.Data = append(m.Data, bytes.Repeat([]byte{state.MissingByte}, r.PayloadSize)...)
			continue
		}
		if a.recovered[pos] {
			m.Recovered = append(m.Recovered, i)
			if i == n-1 {
				// the true length of a rebuilt final chunk is not on the wire
				chunk = bytes.TrimRight(chunk, "\x00")
			}
		}
		m.Data = append(m.Data, chunk...)
	}
	r.Stats.Completed++
	if !m.Complete() {
		r.Stats.Unrecoverable++
		perf.Unrecoverable.Add(1)
		r.log.Warn("message incomplete", "error", m.Err())
	}
	r.ready = append(r.ready, m)
}

// Sweep finalizes every conversation that has been idle for longer than the timeout.
func (r *Reassembler) Sweep() {
	for _, key := range slices.SortedFunc(maps.Keys(r.convs), compareConvKey) {
		c := r.convs[key]
		if c.msg != nil && !r.live.Has(key) {
			r.finish(c)
		}
	}
	r.live.DeleteExpired()
}

// Flush finalizes every open conversation.
func (r *Reassembler) Flush() {
	for _, key := range slices.SortedFunc(maps.Keys(r.convs), compareConvKey) {
		r.finish(r.convs[key])
	}
}

// DrainReady yields finished messages in completion order and forgets them.
func (r *Reassembler) DrainReady() iter.Seq[Message] {
	return func(yield func(Message) bool) {
		for len(r.ready) > 0 {
			m := r.ready[0]
			r.ready = r.ready[1:]
			if !yield(m) {
				return
			}
		}
	}
}

func (r *Reassembler) Pending() int {
	n := 0
	for _, c := range r.convs {
		if c.msg != nil {
			n++
		}
	}
	return n
}

func (r *Reassembler) Close() {
	r.live.DeleteAll()
	r.convs = make(map[ConvKey]*conversation)
}
