package core

import (
	"fmt"
	"slices"

	"github.com/encodeous/strata/state"
)

type RouterEvent int

// trace events

const (
	RouteAdded RouterEvent = iota
	RouteImproved
	RouteUpdated
	RouteWithdrawn
	LoopRejected
	TableBroadcast
	PacketDropped
)

// warn events

const (
	NonNeighbourAdvert RouterEvent = iota + 1000
	InvalidPath
)

func (e RouterEvent) String() string {
	switch e {
	case RouteAdded:
		return "RouteAdded"
	case RouteImproved:
		return "RouteImproved"
	case RouteUpdated:
		return "RouteUpdated"
	case RouteWithdrawn:
		return "RouteWithdrawn"
	case LoopRejected:
		return "LoopRejected"
	case TableBroadcast:
		return "TableBroadcast"
	case PacketDropped:
		return "PacketDropped"
	case NonNeighbourAdvert:
		return "NonNeighbourAdvert"
	case InvalidPath:
		return "InvalidPath"
	default:
		return fmt.Sprintf("RouterEvent(%d)", int(e))
	}
}

func (e RouterEvent) IsWarning() bool {
	return e >= 1000
}

// Router is an interface that defines the underlying router operations
type Router interface {
	// BroadcastTable advertises the full table to every neighbour except one.
	BroadcastTable(except state.NodeId)
	Log(event RouterEvent, desc string, args ...any)
}

// checkPath validates a path advertised by neighbour from for destination d. The
// path must end at d and must not pass through this node or the advertiser.
func checkPath(self, from, d state.NodeId, path []state.NodeId) (bool, RouterEvent) {
	if len(path) == 0 || path[len(path)-1] != d {
		return false, InvalidPath
	}
	seen := make([]state.NodeId, 0, len(path))
	for _, hop := range path {
		if !hop.Valid() || slices.Contains(seen, hop) {
			return false, InvalidPath
		}
		if hop == self || hop == from {
			return false, LoopRejected
		}
		seen = append(seen, hop)
	}
	return true, 0
}

// HandleAdvertisement merges the table snapshot of neighbour from into t. It
// returns whether any entry changed, in which case the table has been re-advertised
// to every neighbour except from.
func HandleAdvertisement(t *state.RoutingTable, r Router, from state.NodeId, advert []state.PathVector) bool {
	if !t.IsNeighbour(from) {
		r.Log(NonNeighbourAdvert, "dropping advertisement", "from", from)
		return false
	}

	offered := make(map[state.NodeId][]state.NodeId, len(advert))
	for _, pv := range advert {
		if pv.Dest.Valid() {
			offered[pv.Dest] = pv.Path
		}
	}

	changed := false
	for d := range state.AllNodes() {
		// direct neighbours are pinned
		if d == t.Self || t.IsNeighbour(d) {
			continue
		}
		cur := t.Get(d)
		path, ok := offered[d]
		usable := false
		if ok {
			var event RouterEvent
			usable, event = checkPath(t.Self, from, d, path)
			if !usable {
				r.Log(event, "ignoring path", "from", from, "dest", d, "path", path)
			}
		}
		if !usable {
			if cur.Known && cur.NextHop == from {
				t.Forget(d)
				r.Log(RouteWithdrawn, "route withdrawn", "dest", d, "via", from)
				changed = true
			}
			continue
		}

		candidate := append([]state.NodeId{from}, path...)
		var event RouterEvent
		switch {
		case !cur.Known:
			event = RouteAdded
		case len(candidate) < cur.Cost():
			event = RouteImproved
		case cur.NextHop == from && !slices.Equal(cur.Path, candidate):
			event = RouteUpdated
		default:
			continue
		}
		t.Set(d, from, candidate)
		r.Log(event, "route selected", "dest", d, "entry", t.Get(d))
		changed = true
	}

	if changed {
		r.BroadcastTable(from)
	}
	return changed
}
