package core

import (
	"github.com/encodeous/strata/state"
)

// NodeScheduler drives the stack once per tick: read every channel, let the router
// advertise, send this node's message once its start time has passed, then sweep the
// reassembler. The node stops after Duration ticks.
type NodeScheduler struct {
	*state.State
	Elapsed int
	Sent    bool
}

func (n *NodeScheduler) Init(s *state.State) error {
	s.Log.Debug("init scheduler", "tick", s.TickInterval(), "duration", s.Duration)
	n.State = s
	s.Env.RepeatTask(n.Tick, s.TickInterval())
	return nil
}

func (n *NodeScheduler) Cleanup(s *state.State) error {
	s.Log.Debug("scheduler stopped", "elapsed", n.Elapsed)
	return nil
}

func (n *NodeScheduler) Tick(s *state.State) error {
	if n.Elapsed >= n.Duration {
		return nil
	}
	Get[*Datalink](s).Poll()
	Get[*NetworkRouter](s).Tick()
	tp := Get[*Transport](s)
	if !n.Sent && n.HasMessage() && n.Elapsed > n.StartOffset {
		n.Sent = true
		s.Log.Info("sending message", "dest", n.Dest, "message", n.Message)
		tp.Send([]byte(n.Message), n.Id, n.Dest)
	}
	tp.Tick()
	n.Elapsed++
	if n.Elapsed >= n.Duration {
		s.Cancel(state.ErrRunComplete)
	}
	return nil
}
