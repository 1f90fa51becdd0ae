package core

import (
	"slices"
	"testing"
	"time"

	"github.com/encodeous/strata/protocol"
	"github.com/encodeous/strata/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestReassembler() *Reassembler {
	return NewReassembler(4, time.Hour, testLogger())
}

// without drops the packets whose sequence number is listed
func without(packets []protocol.Packet, seqs ...protocol.Seqno) []protocol.Packet {
	return slices.DeleteFunc(slices.Clone(packets), func(p protocol.Packet) bool {
		return slices.Contains(seqs, p.Seq)
	})
}

func reassemble(r *Reassembler, packets ...[]protocol.Packet) []Message {
	for _, batch := range packets {
		for _, p := range batch {
			r.Add(p)
		}
	}
	r.Flush()
	return slices.Collect(r.DrainReady())
}

func TestReassembleInOrder(t *testing.T) {
	packets, _ := segment("HELLO!", 4, 0, 2, 0)
	got := reassemble(newTestReassembler(), packets)
	require.Len(t, got, 1)
	assert.Equal(t, Message{Source: 0, Dest: 2, Data: []byte("HELLO!"), Chunks: 2}, got[0])
	assert.NoError(t, got[0].Err())
}

func TestReassembleRecoversSecondChunk(t *testing.T) {
	packets, _ := segment("HELLO!", 4, 0, 2, 0)
	r := newTestReassembler()
	got := reassemble(r, without(packets, 1))
	require.Len(t, got, 1)
	// the rebuilt final chunk loses its zero padding
	assert.Equal(t, "HELLO!", string(got[0].Data))
	assert.Equal(t, []int{1}, got[0].Recovered)
	assert.True(t, got[0].Complete())
	assert.Equal(t, 1, r.Stats.Recovered)
}

func TestReassembleRecoversFirstChunk(t *testing.T) {
	packets, _ := segment("HELLO!", 4, 0, 2, 0)
	got := reassemble(newTestReassembler(), without(packets, 0))
	require.Len(t, got, 1)
	assert.Equal(t, "HELLO!", string(got[0].Data))
	assert.Equal(t, []int{0}, got[0].Recovered)
}

func TestReassembleRecoversMiddleGroup(t *testing.T) {
	packets, _ := segment("ABCDEFGHIJKLMNOP", 4, 0, 2, 20)
	// groups (20 21 22) (23 24 25), lose the first chunk of the second group
	got := reassemble(newTestReassembler(), without(packets, 23))
	require.Len(t, got, 1)
	assert.Equal(t, "ABCDEFGHIJKLMNOP", string(got[0].Data))
	assert.Equal(t, []int{2}, got[0].Recovered)
}

func TestReassembleUnrecoverable(t *testing.T) {
	packets, _ := segment("HELLO!", 4, 0, 2, 0)
	r := newTestReassembler()
	got := reassemble(r, without(packets, 0, 1))
	require.Len(t, got, 1)
	assert.Equal(t, "????????", string(got[0].Data))
	assert.Equal(t, []int{0, 1}, got[0].Missing)
	assert.ErrorIs(t, got[0].Err(), state.ErrUnrecoverableLoss)
	assert.Equal(t, 1, r.Stats.Unrecoverable)
}

func TestReassembleLostUnpairedChunk(t *testing.T) {
	packets, _ := segment("ABCDEFGHIJKLMNOPQR", 4, 0, 2, 0)
	// chunks ABCD EFGH | IJKL MNOP | QR, the middle parity and a chunk of its group are lost
	got := reassemble(newTestReassembler(), without(packets, 4, 5))
	require.Len(t, got, 1)
	assert.Equal(t, "ABCDEFGHIJKL????QR", string(got[0].Data))
	assert.Equal(t, []int{3}, got[0].Missing)
	assert.Equal(t, 5, got[0].Chunks)
}

func TestReassembleConsecutiveMessages(t *testing.T) {
	first, next := segment("HELLO!", 4, 0, 2, 0)
	second, _ := segment("ABCDEFGHIJ", 4, 0, 2, next)
	got := reassemble(newTestReassembler(), first, second)
	require.Len(t, got, 2)
	assert.Equal(t, "HELLO!", string(got[0].Data))
	assert.Equal(t, "ABCDEFGHIJ", string(got[1].Data))
}

func TestReassembleAfterOddMessage(t *testing.T) {
	// the first message ends on a data chunk, the gap before the next one is a parity slot
	first, next := segment("ABCDEFGHIJ", 4, 0, 2, 0)
	second, _ := segment("HELLO!", 4, 0, 2, next)
	got := reassemble(newTestReassembler(), first, second)
	require.Len(t, got, 2)
	assert.Equal(t, "ABCDEFGHIJ", string(got[0].Data))
	assert.Equal(t, "HELLO!", string(got[1].Data))
}

func TestReassembleBoundaryWithLoss(t *testing.T) {
	first, next := segment("HELLO!", 4, 0, 2, 0)
	second, _ := segment("HELLO!", 4, 0, 2, next)
	// the parity that follows decides that 4 starts a new message
	got := reassemble(newTestReassembler(), first, without(second, 5))
	require.Len(t, got, 2)
	assert.Equal(t, "HELLO!", string(got[0].Data))
	assert.Equal(t, "HELLO!", string(got[1].Data))
	assert.Equal(t, []int{1}, got[1].Recovered)
}

func TestReassembleTrailingSingleChunk(t *testing.T) {
	first, next := segment("HELLO!", 4, 0, 2, 0)
	second, _ := segment("HI", 4, 0, 2, next)
	got := reassemble(newTestReassembler(), first, second)
	require.Len(t, got, 2)
	assert.Equal(t, "HELLO!", string(got[0].Data))
	assert.Equal(t, Message{Source: 0, Dest: 2, Data: []byte("HI"), Chunks: 1}, got[1])
}

func TestReassembleAcrossWraparound(t *testing.T) {
	packets, _ := segment("ABCDEFGHIJKLMNOP", 4, 0, 2, 97)
	got := reassemble(newTestReassembler(), without(packets, 99))
	require.Len(t, got, 1)
	assert.Equal(t, "ABCDEFGHIJKLMNOP", string(got[0].Data))
}

func TestReassembleDuplicates(t *testing.T) {
	packets, _ := segment("HELLO!", 4, 0, 2, 0)
	r := newTestReassembler()
	got := reassemble(r, packets[:2], packets[:1], packets[2:])
	require.Len(t, got, 1)
	assert.Equal(t, "HELLO!", string(got[0].Data))
	assert.Equal(t, 1, r.Stats.Duplicates)
}

func TestReassembleSeparatesConversations(t *testing.T) {
	a, _ := segment("HELLO!", 4, 0, 2, 0)
	b, _ := segment("WORLD", 4, 1, 2, 0)
	var mixed []protocol.Packet
	for i := range max(len(a), len(b)) {
		if i < len(a) {
			mixed = append(mixed, a[i])
		}
		if i < len(b) {
			mixed = append(mixed, b[i])
		}
	}
	got := reassemble(newTestReassembler(), mixed)
	require.Len(t, got, 2)
	assert.Equal(t, Message{Source: 0, Dest: 2, Data: []byte("HELLO!"), Chunks: 2}, got[0])
	assert.Equal(t, Message{Source: 1, Dest: 2, Data: []byte("WORLD"), Chunks: 2}, got[1])
}

// sendAll pushes msgs through one transport, so every destination shares its counter.
func sendAll(size int, msgs ...outbound) []protocol.Packet {
	rec := &packetRecorder{}
	tp := &Transport{
		State: &state.State{Env: &state.Env{
			NodeCfg: state.NodeCfg{PayloadSize: size},
			Log:     testLogger(),
		}},
		Net: rec,
	}
	for _, m := range msgs {
		tp.Send([]byte(m.V1), 0, m.V2)
	}
	return rec.packets
}

type outbound = state.Pair[string, state.NodeId]

func toDest(packets []protocol.Packet, dst state.NodeId) []protocol.Packet {
	return slices.DeleteFunc(slices.Clone(packets), func(p protocol.Packet) bool {
		return p.Dest != dst
	})
}

func TestReassembleInterleavedDestinations(t *testing.T) {
	tests := []struct {
		name string
		msgs []outbound
		lost []protocol.Seqno
		want []string
	}{
		{
			name: "after parity",
			msgs: []outbound{{V1: "HELLO!", V2: 2}, {V1: "HI", V2: 3}, {V1: "WORLD!", V2: 2}},
			want: []string{"HELLO!", "WORLD!"},
		},
		{
			name: "after unpaired chunk",
			msgs: []outbound{{V1: "ABCDEFGHIJ", V2: 2}, {V1: "HI", V2: 3}, {V1: "HELLO!", V2: 2}},
			want: []string{"ABCDEFGHIJ", "HELLO!"},
		},
		{
			name: "several messages between",
			msgs: []outbound{{V1: "HELLO!", V2: 2}, {V1: "ABCDEFGHIJ", V2: 3}, {V1: "HI", V2: 4}, {V1: "WORLD!", V2: 2}},
			want: []string{"HELLO!", "WORLD!"},
		},
		{
			name: "recovery after a gap",
			msgs: []outbound{{V1: "HELLO!", V2: 2}, {V1: "HI", V2: 3}, {V1: "WORLD!", V2: 2}},
			// the first chunk of WORLD!
			lost: []protocol.Seqno{6},
			want: []string{"HELLO!", "WORLD!"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			packets := without(toDest(sendAll(4, tt.msgs...), 2), tt.lost...)
			got := reassemble(newTestReassembler(), packets)
			data := make([]string, 0, len(got))
			for _, m := range got {
				assert.True(t, m.Complete(), "%s missing %v", m, m.Missing)
				data = append(data, string(m.Data))
			}
			assert.Equal(t, tt.want, data)
		})
	}
}

func TestSegmentReassembleRoundTrip(t *testing.T) {
	for size := 1; size <= 6; size++ {
		for length := 1; length <= 25; length++ {
			msg := make([]byte, length)
			for i := range msg {
				msg[i] = byte('a' + i%26)
			}
			for _, start := range []protocol.Seqno{0, 37, 95} {
				packets, _ := segment(string(msg), size, 0, 2, start)
				got := reassemble(NewReassembler(size, time.Hour, testLogger()), packets)
				require.Len(t, got, 1, "size %d length %d start %d", size, length, start)
				assert.Equal(t, string(msg), string(got[0].Data), "size %d length %d start %d", size, length, start)

				// any single paired data packet can be lost
				for _, p := range packets {
					if p.Kind != protocol.KindData || chunkIsUnpaired(packets, p) {
						continue
					}
					got := reassemble(NewReassembler(size, time.Hour, testLogger()), without(packets, p.Seq))
					require.Len(t, got, 1, "size %d length %d lost %d", size, length, p.Seq)
					assert.Equal(t, string(msg), string(got[0].Data), "size %d length %d lost %d", size, length, p.Seq)
					assert.Len(t, got[0].Recovered, 1)
				}
			}
		}
	}
}

// chunkIsUnpaired reports whether p is the odd final chunk, which has no parity.
func chunkIsUnpaired(packets []protocol.Packet, p protocol.Packet) bool {
	last := packets[len(packets)-1]
	return last.Kind == protocol.KindData && last.Seq == p.Seq
}

func TestReassembleIgnoresAdverts(t *testing.T) {
	r := newTestReassembler()
	r.Add(protocol.NewAdvert(1, nil))
	assert.Zero(t, r.Pending())
	r.Flush()
	assert.Empty(t, slices.Collect(r.DrainReady()))
}

func TestReassemblerSweep(t *testing.T) {
	r := NewReassembler(4, 20*time.Millisecond, testLogger())
	defer r.Close()
	packets, _ := segment("HELLO!", 4, 0, 2, 0)
	for _, p := range packets {
		r.Add(p)
	}

	r.Sweep()
	assert.Equal(t, 1, r.Pending())
	assert.Empty(t, slices.Collect(r.DrainReady()))

	time.Sleep(60 * time.Millisecond)
	r.Sweep()
	assert.Zero(t, r.Pending())
	got := slices.Collect(r.DrainReady())
	require.Len(t, got, 1)
	assert.Equal(t, "HELLO!", string(got[0].Data))

	// nothing is left to drain
	assert.Empty(t, slices.Collect(r.DrainReady()))
}

func TestMessageString(t *testing.T) {
	m := Message{Source: 0, Dest: 2, Data: []byte("HI")}
	assert.Equal(t, `0 -> 2: "HI"`, m.String())
}
