package state

import (
	"context"
	"log/slog"
	"sync/atomic"
)

type Module interface {
	Init(s *State) error
	Cleanup(s *State) error
}

// State access must be done only on a single Goroutine
type State struct {
	*Env
	Modules    map[string]Module
	Neighbours []*Neighbour
}

// Env can be read from any Goroutine
type Env struct {
	DispatchChannel chan<- func(s *State) error
	NodeCfg
	Context  context.Context
	Cancel   context.CancelCauseFunc
	Log      *slog.Logger
	Started  atomic.Bool
	Stopping atomic.Bool
}

// NeighbourIds returns the ids of all neighbours in configuration order.
func (s *State) NeighbourIds() []NodeId {
	ids := make([]NodeId, 0, len(s.Neighbours))
	for _, n := range s.Neighbours {
		ids = append(ids, n.Id)
	}
	return ids
}
