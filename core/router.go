package core

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/encodeous/strata/perf"
	"github.com/encodeous/strata/protocol"
	"github.com/encodeous/strata/state"
)

// Link is the part of the datalink layer the router writes to.
type Link interface {
	SendFrame(to state.NodeId, payload []byte) error
	Broadcast(payload []byte, except state.NodeId) error
}

// PacketHandler receives Data and Parity packets addressed to this node.
type PacketHandler interface {
	Deliver(p protocol.Packet)
}

type RouterStats struct {
	Delivered     int
	Forwarded     int
	Undeliverable int
	Malformed     int
	AdvertsSent   int
	AdvertsRecv   int
}

// NetworkRouter owns the routing table. It encapsulates outbound packets, demultiplexes
// inbound frames and periodically advertises its table to every neighbour.
type NetworkRouter struct {
	*state.State
	Table       *state.RoutingTable
	Link        Link
	Upper       PacketHandler
	Stats       RouterStats
	sinceAdvert int
}

func (r *NetworkRouter) Init(s *state.State) error {
	s.Log.Debug("init router")
	r.State = s
	table, err := state.NewRoutingTable(s.Id, s.NeighbourIds())
	if err != nil {
		return err
	}
	r.Table = table
	dl := Get[*Datalink](s)
	dl.Upper = r
	r.Link = dl
	return nil
}

func (r *NetworkRouter) Cleanup(s *state.State) error {
	if state.DBG_log_router {
		s.Log.Info("final routing table", "table", "\n"+r.Table.String())
	}
	return nil
}

// Encapsulate encodes p and resolves the neighbour it is handed to. Adverts resolve to
// state.Broadcast.
func (r *NetworkRouter) Encapsulate(p protocol.Packet) ([]byte, state.NodeId, error) {
	payload, err := p.Marshal()
	if err != nil {
		return nil, 0, err
	}
	if p.Kind == protocol.KindAdvert {
		return payload, state.Broadcast, nil
	}
	nh, ok := r.Table.NextHop(p.Dest)
	if !ok {
		return nil, 0, fmt.Errorf("%w: %s", state.ErrUnknownRoute, p.Dest)
	}
	return payload, nh, nil
}

// Send routes p towards its destination. Packets without a route are dropped and
// counted as undeliverable.
func (r *NetworkRouter) Send(p protocol.Packet) error {
	if p.Kind != protocol.KindAdvert && p.Dest == r.Id {
		r.deliver(p)
		return nil
	}
	payload, nh, err := r.Encapsulate(p)
	if err != nil {
		if errors.Is(err, state.ErrUnknownRoute) {
			r.Stats.Undeliverable++
			perf.Undeliverable.Add(1)
			r.Log(PacketDropped, "dropping undeliverable packet", "packet", p)
		}
		return err
	}
	if state.DBG_log_packets {
		r.Env.Log.Debug("send", "packet", p, "nh", nh)
	}
	if nh == state.Broadcast {
		return r.Link.Broadcast(payload, state.Broadcast)
	}
	return r.Link.SendFrame(nh, payload)
}

func (r *NetworkRouter) deliver(p protocol.Packet) {
	r.Stats.Delivered++
	if r.Upper != nil {
		r.Upper.Deliver(p)
	}
}

// OnFrameReceived handles one deframed payload read from neighbour from.
func (r *NetworkRouter) OnFrameReceived(payload []byte, from state.NodeId) {
	p, err := protocol.Unmarshal(payload)
	if err != nil {
		r.Stats.Malformed++
		perf.Malformed.Add(1)
		r.Env.Log.Warn("dropping malformed packet", "from", from, "error", err)
		return
	}
	if state.DBG_log_packets {
		r.Env.Log.Debug("recv", "packet", p, "from", from)
	}
	switch p.Kind {
	case protocol.KindData, protocol.KindParity:
		if p.Dest == r.Id {
			r.deliver(p)
			return
		}
		// store and forward
		if err := r.Send(p); err == nil {
			r.Stats.Forwarded++
		} else if !errors.Is(err, state.ErrUnknownRoute) {
			r.Env.Log.Warn("failed to forward packet", "packet", p, "error", err)
		}
	case protocol.KindAdvert:
		r.Stats.AdvertsRecv++
		if p.Source != from {
			r.Env.Log.Warn("advertisement source does not match the channel", "source", p.Source, "from", from)
			return
		}
		HandleAdvertisement(r.Table, r, from, p.Table)
	}
}

// Tick advertises the full table every state.AdvertInterval calls.
func (r *NetworkRouter) Tick() {
	r.sinceAdvert++
	if r.sinceAdvert >= state.AdvertInterval {
		r.sinceAdvert = 0
		r.BroadcastTable(state.Broadcast)
	}
}

func (r *NetworkRouter) BroadcastTable(except state.NodeId) {
	payload, err := protocol.NewAdvert(r.Id, r.Table.Snapshot()).Marshal()
	if err != nil {
		r.Env.Log.Error("failed to encode table", "error", err)
		return
	}
	r.Stats.AdvertsSent++
	perf.AdvertsSent.Add(1)
	r.Log(TableBroadcast, "advertising table", "except", except)
	if err := r.Link.Broadcast(payload, except); err != nil {
		r.Env.Log.Warn("failed to advertise table", "error", err)
	}
}

func (r *NetworkRouter) Log(event RouterEvent, desc string, args ...any) {
	level := slog.LevelDebug
	if event.IsWarning() {
		level = slog.LevelWarn
	}
	if state.DBG_log_router && level < slog.LevelInfo {
		level = slog.LevelInfo
	}
	r.Env.Log.Log(r.Context, level, fmt.Sprintf("%s %s", event.String(), desc), args...)
}
