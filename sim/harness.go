package sim

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/pprof"
	"slices"
	"sync"

	"github.com/encodeous/strata/core"
	"github.com/encodeous/strata/impl"
	"github.com/encodeous/strata/protocol"
	"github.com/encodeous/strata/state"
)

// VirtualLink is one direction of a topology edge. It counts the packets written to
// it per kind and drops the ones selected by the loss rules of that direction.
type VirtualLink struct {
	Edge    state.Pair[state.NodeId, state.NodeId]
	Loss    []state.LossRule
	mu      sync.Mutex
	seen    map[protocol.Kind]int
	Dropped []protocol.Packet
	// Passed holds the Data and Parity packets that reached the receiver.
	Passed []protocol.Packet
}

func newVirtualLink(from, to state.NodeId, rules []state.LossRule) *VirtualLink {
	v := &VirtualLink{
		Edge: state.Pair[state.NodeId, state.NodeId]{V1: from, V2: to},
		seen: make(map[protocol.Kind]int),
	}
	for _, rule := range rules {
		if rule.From == from && rule.To == to {
			v.Loss = append(v.Loss, rule)
		}
	}
	return v
}

// simulate sees every frame the sender writes and returns what reaches the receiver.
func (v *VirtualLink) simulate(frame []byte) []byte {
	payload, _, err := protocol.DecodeFrame(frame)
	if err != nil || len(payload) == 0 {
		return frame
	}
	kind := protocol.Kind(payload[0])
	v.mu.Lock()
	defer v.mu.Unlock()
	v.seen[kind]++
	p, err := protocol.Unmarshal(payload)
	for _, rule := range v.Loss {
		if protocol.Kind(rule.Kind[0]) == kind && rule.Nth == v.seen[kind] {
			if err == nil {
				v.Dropped = append(v.Dropped, p)
			}
			return nil
		}
	}
	if err == nil && kind != protocol.KindAdvert {
		v.Passed = append(v.Passed, p)
	}
	return frame
}

// Payloads returns the payloads of the packets of kind that reached the receiver.
func (v *VirtualLink) Payloads(kind protocol.Kind) []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	var out []string
	for _, p := range v.Passed {
		if p.Kind == kind {
			out = append(out, string(p.Payload))
		}
	}
	return out
}

// Seen returns how many packets of kind were written on the link.
func (v *VirtualLink) Seen(kind protocol.Kind) int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.seen[kind]
}

// VirtualHarness runs every node of a topology in this process, connected by
// in-memory channels.
type VirtualHarness struct {
	Topology state.TopologyCfg
	LogLevel slog.Level
	Context  context.Context
	Cancel   context.CancelCauseFunc
	States   []*state.State
	Errors   []error
	Links    []*VirtualLink
	wg       sync.WaitGroup
}

func (v *VirtualHarness) IndexOf(id state.NodeId) int {
	return slices.IndexFunc(v.Topology.Nodes, func(n state.TopologyNode) bool {
		return n.Id == id
	})
}

// Link returns the directed link from -> to, or nil.
func (v *VirtualHarness) Link(from, to state.NodeId) *VirtualLink {
	idx := slices.IndexFunc(v.Links, func(l *VirtualLink) bool {
		return l.Edge.V1 == from && l.Edge.V2 == to
	})
	if idx == -1 {
		return nil
	}
	return v.Links[idx]
}

// connect creates one memory pipe per edge and returns the channels of every node.
func (v *VirtualHarness) connect() ([]map[state.NodeId]state.Channel, error) {
	edges, err := v.Topology.Edges()
	if err != nil {
		return nil, err
	}
	channels := make([]map[state.NodeId]state.Channel, len(v.Topology.Nodes))
	for i := range channels {
		channels[i] = make(map[state.NodeId]state.Channel)
	}
	for _, edge := range edges {
		a, b := impl.NewMemPipe()
		ab := newVirtualLink(edge.V1, edge.V2, v.Topology.Loss)
		ba := newVirtualLink(edge.V2, edge.V1, v.Topology.Loss)
		a.Intercept = ab.simulate
		b.Intercept = ba.simulate
		v.Links = append(v.Links, ab, ba)
		channels[v.IndexOf(edge.V1)][edge.V2] = a
		channels[v.IndexOf(edge.V2)][edge.V1] = b
	}
	return channels, nil
}

// Start launches every node. The nodes stop on their own once the topology duration
// has elapsed, use Wait to collect them.
func (v *VirtualHarness) Start(ctx context.Context) error {
	if err := state.TopologyValidator(&v.Topology); err != nil {
		return err
	}
	channels, err := v.connect()
	if err != nil {
		return err
	}
	cfgs := make([]state.NodeCfg, 0, len(v.Topology.Nodes))
	for _, n := range v.Topology.Nodes {
		cfg, err := v.Topology.NodeConfig(n.Id)
		if err != nil {
			return err
		}
		cfgs = append(cfgs, cfg)
	}
	v.Context, v.Cancel = context.WithCancelCause(ctx)
	v.States = make([]*state.State, len(cfgs))
	v.Errors = make([]error, len(cfgs))
	for idx, cfg := range cfgs {
		v.wg.Go(func() {
			labels := pprof.Labels("strata node", cfg.Id.String())
			pprof.Do(v.Context, labels, func(ctx context.Context) {
				v.Errors[idx] = core.Start(ctx, cfg, v.LogLevel, channels[idx], &v.States[idx])
			})
		})
	}
	return nil
}

// Wait blocks until every node has stopped.
func (v *VirtualHarness) Wait() error {
	v.wg.Wait()
	v.Cancel(context.Canceled)
	errs := make([]error, 0)
	for idx, err := range v.Errors {
		if err != nil {
			errs = append(errs, fmt.Errorf("node %s: %w", v.Topology.Nodes[idx].Id, err))
		}
	}
	return errors.Join(errs...)
}

// Stop cuts the run short.
func (v *VirtualHarness) Stop() error {
	v.Cancel(fmt.Errorf("stopping harness"))
	return v.Wait()
}

// Result summarizes one node after the run.
type Result struct {
	Id         state.NodeId
	Received   []core.Message
	Table      *state.RoutingTable
	Link       core.LinkStats
	Router     core.RouterStats
	Transport  core.TransportStats
	Reassembly core.ReassemblyStats
}

// Results must only be called after Wait.
func (v *VirtualHarness) Results() []Result {
	out := make([]Result, 0, len(v.States))
	for idx, s := range v.States {
		if s == nil || v.Errors[idx] != nil {
			continue
		}
		tp := core.Get[*core.Transport](s)
		router := core.Get[*core.NetworkRouter](s)
		out = append(out, Result{
			Id:         s.Id,
			Received:   tp.Received(),
			Table:      router.Table,
			Link:       core.Get[*core.Datalink](s).Stats,
			Router:     router.Stats,
			Transport:  tp.Stats,
			Reassembly: tp.Reassembler.Stats,
		})
	}
	return out
}

// Run executes a whole topology and returns the per-node results.
func Run(ctx context.Context, topo state.TopologyCfg, level slog.Level) ([]Result, error) {
	v := &VirtualHarness{Topology: topo, LogLevel: level}
	if err := v.Start(ctx); err != nil {
		return nil, err
	}
	if err := v.Wait(); err != nil {
		return nil, err
	}
	return v.Results(), nil
}
