package core

import (
	"context"
	"log/slog"
	"slices"
	"testing"

	"github.com/encodeous/strata/protocol"
	"github.com/encodeous/strata/state"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// newTestState builds a node state that is not driven by a main loop.
func newTestState(t *testing.T, id state.NodeId, channels map[state.NodeId]state.Channel) *state.State {
	ctx, cancel := context.WithCancelCause(context.Background())
	t.Cleanup(func() { cancel(context.Canceled) })
	cfg := state.NodeCfg{
		Id:          id,
		Dest:        id,
		Duration:    20,
		TickMs:      10,
		PayloadSize: 4,
	}
	cfg.ApplyDefaults()
	s := &state.State{
		Modules: make(map[string]state.Module),
		Env: &state.Env{
			NodeCfg: cfg,
			Context: ctx,
			Cancel:  cancel,
			Log:     testLogger(),
		},
	}
	ids := make([]state.NodeId, 0, len(channels))
	for n := range channels {
		ids = append(ids, n)
	}
	slices.Sort(ids)
	for _, n := range ids {
		s.Neighbours = append(s.Neighbours, &state.Neighbour{Id: n, Channel: channels[n]})
	}
	s.NodeCfg.Neighbours = ids
	return s
}

type sentFrame struct {
	To      state.NodeId
	Payload []byte
}

// fakeLink records what the router hands to the datalink layer.
type fakeLink struct {
	sent       []sentFrame
	broadcasts []sentFrame
}

func (l *fakeLink) SendFrame(to state.NodeId, payload []byte) error {
	l.sent = append(l.sent, sentFrame{to, payload})
	return nil
}

func (l *fakeLink) Broadcast(payload []byte, except state.NodeId) error {
	l.broadcasts = append(l.broadcasts, sentFrame{except, payload})
	return nil
}

type packetRecorder struct {
	packets []protocol.Packet
	err     error
}

func (r *packetRecorder) Deliver(p protocol.Packet) {
	r.packets = append(r.packets, p)
}

func (r *packetRecorder) Send(p protocol.Packet) error {
	r.packets = append(r.packets, p)
	return r.err
}

type frameRecorder struct {
	frames []sentFrame
}

func (r *frameRecorder) OnFrameReceived(payload []byte, from state.NodeId) {
	r.frames = append(r.frames, sentFrame{from, payload})
}

// segment returns the packets a transport emits for msg, starting at seq.
func segment(msg string, size int, src, dst state.NodeId, seq protocol.Seqno) ([]protocol.Packet, protocol.Seqno) {
	rec := &packetRecorder{}
	tp := &Transport{
		State: &state.State{Env: &state.Env{
			NodeCfg: state.NodeCfg{PayloadSize: size},
			Log:     testLogger(),
		}},
		Seq: seq,
		Net: rec,
	}
	tp.Send([]byte(msg), src, dst)
	return rec.packets, tp.Seq
}
