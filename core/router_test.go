package core

import (
	"testing"

	"github.com/encodeous/strata/protocol"
	"github.com/encodeous/strata/state"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRouter(t *testing.T, id state.NodeId, neighbours ...state.NodeId) (*NetworkRouter, *fakeLink, *packetRecorder) {
	channels := make(map[state.NodeId]state.Channel)
	for _, n := range neighbours {
		channels[n] = nil
	}
	l := &fakeLink{}
	up := &packetRecorder{}
	r := &NetworkRouter{
		State: newTestState(t, id, channels),
		Table: MakeTable(t, id, neighbours...),
		Link:  l,
		Upper: up,
	}
	return r, l, up
}

func decode(t *testing.T, payload []byte) protocol.Packet {
	p, err := protocol.Unmarshal(payload)
	require.NoError(t, err)
	return p
}

func TestRouterSendUsesNextHop(t *testing.T) {
	r, l, _ := newTestRouter(t, 0, 1)
	HandleAdvertisement(r.Table, &RouterHarness{}, 1, Advert(2, Path(2)))

	p := protocol.NewData(0, 2, 7, []byte("HELL"))
	require.NoError(t, r.Send(p))
	require.Len(t, l.sent, 1)
	assert.Equal(t, state.NodeId(1), l.sent[0].To)
	assert.Equal(t, "D0207HELL", string(l.sent[0].Payload))
	if diff := cmp.Diff(p, decode(t, l.sent[0].Payload)); diff != "" {
		t.Errorf("packet on the wire (-want +got):\n%s", diff)
	}
}

func TestRouterEncapsulate(t *testing.T) {
	r, _, _ := newTestRouter(t, 3, 4)

	payload, nh, err := r.Encapsulate(protocol.NewParity(3, 4, 2, []byte{1, 2}))
	require.NoError(t, err)
	assert.Equal(t, state.NodeId(4), nh)
	assert.Equal(t, []byte{'X', '3', '4', '0', '2', 1, 2}, payload)

	_, nh, err = r.Encapsulate(protocol.NewAdvert(3, r.Table.Snapshot()))
	require.NoError(t, err)
	assert.Equal(t, state.Broadcast, nh)

	_, _, err = r.Encapsulate(protocol.NewData(3, 9, 0, nil))
	assert.ErrorIs(t, err, state.ErrUnknownRoute)
}

func TestRouterSendUnknownRoute(t *testing.T) {
	r, l, _ := newTestRouter(t, 0, 1)
	err := r.Send(protocol.NewData(0, 5, 0, []byte("lost")))
	assert.ErrorIs(t, err, state.ErrUnknownRoute)
	assert.Equal(t, 1, r.Stats.Undeliverable)
	assert.Empty(t, l.sent)
}

func TestRouterSendToSelf(t *testing.T) {
	r, l, up := newTestRouter(t, 2, 1)
	require.NoError(t, r.Send(protocol.NewData(2, 2, 0, []byte("me"))))
	assert.Empty(t, l.sent)
	require.Len(t, up.packets, 1)
	assert.Equal(t, "me", string(up.packets[0].Payload))
}

func TestRouterDeliversLocalPackets(t *testing.T) {
	r, l, up := newTestRouter(t, 0, 1)
	r.OnFrameReceived([]byte("D1012ab"), 1)
	r.OnFrameReceived([]byte("X1013\x01"), 1)
	require.Len(t, up.packets, 2)
	assert.Equal(t, protocol.KindData, up.packets[0].Kind)
	assert.Equal(t, protocol.KindParity, up.packets[1].Kind)
	assert.Equal(t, 2, r.Stats.Delivered)
	assert.Empty(t, l.sent)
}

func TestRouterForwards(t *testing.T) {
	r, l, up := newTestRouter(t, 1, 0, 2)
	r.OnFrameReceived([]byte("D0204HELL"), 0)
	assert.Empty(t, up.packets)
	require.Len(t, l.sent, 1)
	assert.Equal(t, state.NodeId(2), l.sent[0].To)
	// forwarded untouched
	assert.Equal(t, "D0204HELL", string(l.sent[0].Payload))
	assert.Equal(t, 1, r.Stats.Forwarded)

	// no route to 7, dropped
	r.OnFrameReceived([]byte("D0704HELL"), 0)
	assert.Len(t, l.sent, 1)
	assert.Equal(t, 1, r.Stats.Undeliverable)
}

func TestRouterMalformed(t *testing.T) {
	r, l, up := newTestRouter(t, 0, 1)
	r.OnFrameReceived([]byte("Z1000"), 1)
	r.OnFrameReceived([]byte("D1"), 1)
	r.OnFrameReceived(nil, 1)
	assert.Equal(t, 3, r.Stats.Malformed)
	assert.Empty(t, up.packets)
	assert.Empty(t, l.sent)
}

func TestRouterHandlesAdvert(t *testing.T) {
	r, l, _ := newTestRouter(t, 0, 1, 2)
	payload, err := protocol.NewAdvert(1, Advert(1, Path(), 3, Path(3))).Marshal()
	require.NoError(t, err)

	r.OnFrameReceived(payload, 1)
	assert.Equal(t, state.RoutingEntry{NextHop: 1, Path: Path(1, 3), Known: true}, r.Table.Get(3))
	require.Len(t, l.broadcasts, 1)
	// triggered updates skip the neighbour the change came from
	assert.Equal(t, state.NodeId(1), l.broadcasts[0].To)
	adv := decode(t, l.broadcasts[0].Payload)
	assert.Equal(t, protocol.KindAdvert, adv.Kind)
	assert.Equal(t, state.NodeId(0), adv.Source)
	assert.Equal(t, 1, r.Stats.AdvertsSent)
}

func TestRouterAdvertSourceMismatch(t *testing.T) {
	r, l, _ := newTestRouter(t, 0, 1, 2)
	payload, err := protocol.NewAdvert(2, Advert(3, Path(3))).Marshal()
	require.NoError(t, err)

	r.OnFrameReceived(payload, 1)
	assert.False(t, r.Table.Get(3).Known)
	assert.Empty(t, l.broadcasts)
}

func TestRouterTickAdvertises(t *testing.T) {
	r, l, _ := newTestRouter(t, 0, 1, 2)
	for range state.AdvertInterval - 1 {
		r.Tick()
	}
	assert.Empty(t, l.broadcasts)

	r.Tick()
	require.Len(t, l.broadcasts, 1)
	assert.Equal(t, state.Broadcast, l.broadcasts[0].To)
	adv := decode(t, l.broadcasts[0].Payload)
	dests := make([]state.NodeId, 0)
	for _, pv := range adv.Table {
		dests = append(dests, pv.Dest)
	}
	assert.Equal(t, []state.NodeId{0, 1, 2}, dests)

	for range state.AdvertInterval {
		r.Tick()
	}
	assert.Len(t, l.broadcasts, 2)
}
