package state

import (
	"fmt"
	"slices"
	"strings"
)

// RoutingEntry is the path-vector state for one destination. Path lists the hops
// after this node, ending at the destination, so a direct neighbour has a path of
// length one and the entry for this node itself has an empty path.
type RoutingEntry struct {
	NextHop NodeId
	Path    []NodeId
	Known   bool
}

// Cost is the hop count of the entry.
func (e RoutingEntry) Cost() int {
	return len(e.Path)
}

func (e RoutingEntry) String() string {
	if !e.Known {
		return "unknown"
	}
	hops := make([]string, 0, len(e.Path))
	for _, h := range e.Path {
		hops = append(hops, h.String())
	}
	return fmt.Sprintf("(nh: %s, cost: %d, path: [%s])", e.NextHop, e.Cost(), strings.Join(hops, " "))
}

// PathVector is one advertised destination along with the advertiser's path to it.
type PathVector struct {
	Dest NodeId
	Path []NodeId
}

// RoutingTable holds exactly one entry for every node id. Unknown destinations
// carry Known == false rather than being absent.
type RoutingTable struct {
	Self       NodeId
	Neighbours []NodeId
	entries    map[NodeId]RoutingEntry
}

func NewRoutingTable(self NodeId, neighbours []NodeId) (*RoutingTable, error) {
	if !self.Valid() {
		return nil, fmt.Errorf("%w: self %d", ErrInvalidNodeId, self)
	}
	t := &RoutingTable{
		Self:       self,
		Neighbours: slices.Clone(neighbours),
		entries:    make(map[NodeId]RoutingEntry, NodeCount),
	}
	for id := range AllNodes() {
		t.entries[id] = RoutingEntry{}
	}
	t.entries[self] = RoutingEntry{NextHop: self, Path: []NodeId{}, Known: true}
	for _, n := range neighbours {
		if !n.Valid() || n == self {
			return nil, fmt.Errorf("%w: neighbour %d of %d", ErrInvalidNodeId, n, self)
		}
		t.entries[n] = RoutingEntry{NextHop: n, Path: []NodeId{n}, Known: true}
	}
	return t, nil
}

func (t *RoutingTable) IsNeighbour(id NodeId) bool {
	return slices.Contains(t.Neighbours, id)
}

// Get returns a copy of the entry for dest. Ids outside the domain are unknown.
func (t *RoutingTable) Get(dest NodeId) RoutingEntry {
	e := t.entries[dest]
	e.Path = slices.Clone(e.Path)
	return e
}

func (t *RoutingTable) Set(dest NodeId, nextHop NodeId, path []NodeId) {
	t.entries[dest] = RoutingEntry{NextHop: nextHop, Path: slices.Clone(path), Known: true}
}

func (t *RoutingTable) Forget(dest NodeId) {
	t.entries[dest] = RoutingEntry{}
}

// NextHop resolves the neighbour that traffic for dest is handed to.
func (t *RoutingTable) NextHop(dest NodeId) (NodeId, bool) {
	if t.IsNeighbour(dest) {
		return dest, true
	}
	e, ok := t.entries[dest]
	if !ok || !e.Known {
		return 0, false
	}
	return e.NextHop, true
}

// Snapshot returns every known destination, including this node with an empty path.
func (t *RoutingTable) Snapshot() []PathVector {
	out := make([]PathVector, 0, NodeCount)
	for id := range AllNodes() {
		e := t.entries[id]
		if !e.Known {
			continue
		}
		out = append(out, PathVector{Dest: id, Path: slices.Clone(e.Path)})
	}
	return out
}

func (t *RoutingTable) String() string {
	sb := strings.Builder{}
	for id := range AllNodes() {
		if id == t.Self {
			continue
		}
		sb.WriteString(fmt.Sprintf("%s via %s\n", id, t.entries[id]))
	}
	return strings.TrimSuffix(sb.String(), "\n")
}
