package state

import (
	"cmp"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"
)

// NodeCfg is the validated configuration a single node is started with.
type NodeCfg struct {
	Id          NodeId      `yaml:"id"`
	Duration    int         `yaml:"duration"` // number of ticks the node runs for
	Dest        NodeId      `yaml:"dest"`     // destination of the transport message, Id if none
	Message     string      `yaml:"message,omitempty"`
	StartOffset int         `yaml:"start,omitempty"` // the message is sent on the first tick after StartOffset
	Neighbours  []NodeId    `yaml:"neighbours"`
	TickMs      int         `yaml:"tick_ms,omitempty"`      // tick length, defaults to one second
	PayloadSize int         `yaml:"payload_size,omitempty"` // transport chunk size
	ChannelDir  string      `yaml:"channel_dir,omitempty"`  // where file and fifo channels live
	ChannelKind ChannelKind `yaml:"channel_kind,omitempty"`
	LogPath     string      `yaml:"log_path,omitempty"` // if not empty, logs are also written to this file
}

func (c *NodeCfg) ApplyDefaults() {
	if c.TickMs == 0 {
		c.TickMs = int(DefaultTick / time.Millisecond)
	}
	if c.PayloadSize == 0 {
		c.PayloadSize = DefaultPayloadSize
	}
	if c.ChannelKind == "" {
		c.ChannelKind = FileChannel
	}
	if c.ChannelDir == "" {
		c.ChannelDir = "."
	}
}

func (c *NodeCfg) TickInterval() time.Duration {
	return time.Duration(c.TickMs) * time.Millisecond
}

// HasMessage is false for nodes whose destination is themselves.
func (c *NodeCfg) HasMessage() bool {
	return c.Dest != c.Id
}

/*
ParseNodeArgs parses the positional form used on the command line:

	<id> <duration> <dest> <message> <start> <neighbour>...

When dest equals id, the node sends nothing and <message> <start> are omitted:

	<id> <duration> <dest> <neighbour>...
*/
func ParseNodeArgs(args []string) (NodeCfg, error) {
	cfg := NodeCfg{}
	if len(args) < 3 {
		return cfg, fmt.Errorf("expected at least 3 arguments, got %d", len(args))
	}
	var err error
	cfg.Id, err = ParseNodeId(args[0])
	if err != nil {
		return cfg, fmt.Errorf("id: %w", err)
	}
	cfg.Duration, err = strconv.Atoi(args[1])
	if err != nil {
		return cfg, fmt.Errorf("duration: %w", err)
	}
	cfg.Dest, err = ParseNodeId(args[2])
	if err != nil {
		return cfg, fmt.Errorf("dest: %w", err)
	}
	rest := args[3:]
	if cfg.HasMessage() {
		if len(rest) < 2 {
			return cfg, fmt.Errorf("node %s sends to %s, a message and a start time are required", cfg.Id, cfg.Dest)
		}
		cfg.Message = rest[0]
		cfg.StartOffset, err = strconv.Atoi(rest[1])
		if err != nil {
			return cfg, fmt.Errorf("start: %w", err)
		}
		rest = rest[2:]
	}
	for _, arg := range rest {
		n, err := ParseNodeId(arg)
		if err != nil {
			return cfg, fmt.Errorf("neighbour: %w", err)
		}
		cfg.Neighbours = append(cfg.Neighbours, n)
	}
	return cfg, nil
}

// TopologyNode describes one node of a simulated network. Neighbours come from the graph.
type TopologyNode struct {
	Id          NodeId  `yaml:"id"`
	Dest        *NodeId `yaml:"dest,omitempty"`
	Message     string  `yaml:"message,omitempty"`
	StartOffset int     `yaml:"start,omitempty"`
}

// LossRule drops the Nth packet of the given kind written on the directed edge From -> To.
type LossRule struct {
	From NodeId `yaml:"from"`
	To   NodeId `yaml:"to"`
	Kind string `yaml:"kind"`
	Nth  int    `yaml:"nth"`
}

type TopologyCfg struct {
	TickMs      int            `yaml:"tick_ms,omitempty"`
	PayloadSize int            `yaml:"payload_size,omitempty"`
	Duration    int            `yaml:"duration"`
	Graph       []string       `yaml:"graph"`
	Nodes       []TopologyNode `yaml:"nodes"`
	Loss        []LossRule     `yaml:"loss,omitempty"`
}

func (t *TopologyCfg) nodeNames() []string {
	names := make([]string, 0, len(t.Nodes))
	for _, n := range t.Nodes {
		names = append(names, n.Id.String())
	}
	return names
}

func (t *TopologyCfg) Edges() ([]Pair[NodeId, NodeId], error) {
	return ParseGraph(t.Graph, t.nodeNames())
}

func (t *TopologyCfg) GetPeers(curId NodeId) ([]NodeId, error) {
	graph, err := t.Edges()
	if err != nil {
		return nil, err
	}
	nodes := make([]NodeId, 0)
	for _, edge := range graph {
		if edge.V1 == curId {
			nodes = append(nodes, edge.V2)
		}
		if edge.V2 == curId {
			nodes = append(nodes, edge.V1)
		}
	}
	slices.Sort(nodes)
	return slices.Compact(nodes), nil
}

// NodeConfig derives the configuration of one node of the topology.
func (t *TopologyCfg) NodeConfig(id NodeId) (NodeCfg, error) {
	idx := slices.IndexFunc(t.Nodes, func(n TopologyNode) bool {
		return n.Id == id
	})
	if idx == -1 {
		return NodeCfg{}, fmt.Errorf("node %s is not part of the topology", id)
	}
	node := t.Nodes[idx]
	peers, err := t.GetPeers(id)
	if err != nil {
		return NodeCfg{}, err
	}
	cfg := NodeCfg{
		Id:          id,
		Duration:    t.Duration,
		Dest:        id,
		Message:     node.Message,
		StartOffset: node.StartOffset,
		Neighbours:  peers,
		TickMs:      t.TickMs,
		PayloadSize: t.PayloadSize,
		ChannelKind: MemoryChannel,
	}
	if node.Dest != nil {
		cfg.Dest = *node.Dest
	}
	cfg.ApplyDefaults()
	return cfg, nil
}

func parseSymbolList(s string, validSymbols []string) ([]string, error) {
	spl := strings.Split(strings.TrimSpace(s), ",")
	line := make([]string, 0)
	for _, s := range spl {
		x := strings.TrimSpace(s)
		if x == "" {
			continue
		}
		if !slices.Contains(validSymbols, x) {
			return nil, fmt.Errorf(`%s is not a valid node/group`, x)
		}
		line = append(line, x)
	}
	if len(line) == 0 {
		return nil, fmt.Errorf(`node/group list must not be empty`)
	}
	slices.Sort(line)
	return line, nil
}

/*
ParseGraph Graph syntax is something like this:

Group1 = 1, 2, 3

Group2 = 4, 5

Group1, Group2, 6 // Group1, Group2, 6 will all be interconnected, but not within Group1 or Group2

Group1, Group1 // every node is connected to every other node

8, 9 // 8 and 9 will be connected

nodes are the node ids (as strings) that the graph evaluates down to
*/
func ParseGraph(graph []string, nodes []string) ([]Pair[NodeId, NodeId], error) {
	parsedPairings := make([]Pair[string, string], 0)

	groups := make(map[string][]string)

	symbols := slices.Clone(nodes)

	// pass 0, collect all symbols

	for _, line := range graph {
		line = strings.ToLower(strings.TrimSpace(line))
		if strings.Contains(line, "=") {
			// group definition
			spl := strings.Split(line, "=")
			if len(spl) != 2 {
				return nil, fmt.Errorf("invalid graph: %s. group definition must contain one '='", line)
			}
			grp := strings.TrimSpace(spl[0])
			if slices.Contains(nodes, grp) {
				return nil, fmt.Errorf("group name must not be a node name: %s", grp)
			}
			symbols = append(symbols, grp)
		}
	}
	slices.Sort(symbols)
	symbols = slices.Compact(symbols)

	// used for topological sorting
	// map: group -> []<groups that the group depends on>
	topo := make(map[string][]string)
	expansion := make(map[string][]string)

	// pass 1, parse graph
	for _, line := range graph {
		line = strings.ToLower(strings.TrimSpace(line))
		if line == "" {
			continue
		}
		if strings.Contains(line, "=") {
			spl := strings.Split(line, "=")
			grp := strings.TrimSpace(spl[0])
			if _, ok := groups[grp]; ok {
				return nil, fmt.Errorf("duplicate group name: %s", grp)
			}
			lst, err := parseSymbolList(spl[1], symbols)
			if err != nil {
				return nil, err
			}
			deps := make([]string, 0)
			for _, l := range lst {
				if !slices.Contains(nodes, l) {
					deps = append(deps, l)
				} else {
					expansion[grp] = append(expansion[grp], l)
				}
			}
			slices.Sort(deps)
			deps = slices.Compact(deps)

			topo[grp] = deps
			groups[grp] = lst
		} else {
			names, err := parseSymbolList(line, symbols)
			if err != nil {
				return nil, err
			}
			if len(names) < 2 {
				return nil, fmt.Errorf("invalid pairing, %v", names)
			}
			interconnect := make([]string, 0)
			for _, name := range names {
				for _, node := range interconnect {
					parsedPairings = append(parsedPairings, MakeSortedPair(node, name))
				}
				interconnect = append(interconnect, name)
			}
			SortPairs(parsedPairings)
			parsedPairings = slices.Compact(parsedPairings)
		}
	}

	// pass 2, expand group names
	// just topological sorting
	for len(topo) > 0 {
		var group string
		for k, v := range topo {
			if len(v) == 0 {
				group = k
				break
			}
		}
		if group == "" {
			cycleNodes := make([]string, 0)
			for node := range topo {
				cycleNodes = append(cycleNodes, node)
			}
			slices.Sort(cycleNodes)
			return nil, fmt.Errorf("cycle detected in graph: %v", cycleNodes)
		}
		delete(topo, group)

		for k, deps := range topo {
			if slices.Contains(deps, group) {
				expansion[k] = append(expansion[k], expansion[group]...)
				slices.Sort(expansion[k])
				expansion[k] = slices.Compact(expansion[k])
				topo[k] = slices.DeleteFunc(deps, func(dep string) bool {
					return dep == group
				})
			}
		}
	}

	// pass 3, rewrite pairings into node ids
	expand := func(sym string) ([]NodeId, error) {
		members := []string{sym}
		if !slices.Contains(nodes, sym) {
			members = expansion[sym]
		}
		ids := make([]NodeId, 0, len(members))
		for _, m := range members {
			id, err := ParseNodeId(m)
			if err != nil {
				return nil, err
			}
			ids = append(ids, id)
		}
		return ids, nil
	}
	pairings := make([]Pair[NodeId, NodeId], 0)
	for _, pair := range parsedPairings {
		x, err := expand(pair.V1)
		if err != nil {
			return nil, err
		}
		y, err := expand(pair.V2)
		if err != nil {
			return nil, err
		}
		for _, x1 := range x {
			for _, y1 := range y {
				if x1 != y1 {
					pairings = append(pairings, MakeSortedPair(x1, y1))
				}
			}
		}
	}
	SortPairs(pairings)
	return slices.Compact(pairings), nil
}

func MakeSortedPair[T cmp.Ordered](a, b T) Pair[T, T] {
	if a < b {
		return Pair[T, T]{a, b}
	} else {
		return Pair[T, T]{b, a}
	}
}
