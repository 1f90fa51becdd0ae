package core

import (
	"errors"
	"fmt"
	"time"

	"github.com/encodeous/strata/perf"
	"github.com/encodeous/strata/protocol"
	"github.com/encodeous/strata/state"
)

// FrameHandler receives every complete frame the datalink layer reads.
type FrameHandler interface {
	OnFrameReceived(payload []byte, from state.NodeId)
}

type link struct {
	neigh    *state.Neighbour
	deframer protocol.Deframer
}

type LinkStats struct {
	FramesSent   int
	FramesRecv   int
	WriteErrors  int
	ChannelSkips int
	// Discarded counts bytes that never became part of a frame.
	Discarded int
}

// Datalink frames outbound payloads onto neighbour channels and deframes what
// arrives from them.
type Datalink struct {
	*state.State
	links []*link
	Upper FrameHandler
	Stats LinkStats
}

func (d *Datalink) Init(s *state.State) error {
	s.Log.Debug("init datalink")
	d.State = s
	d.links = make([]*link, 0, len(s.Neighbours))
	for _, n := range s.Neighbours {
		if n.Channel == nil {
			return fmt.Errorf("neighbour %s has no channel", n.Id)
		}
		d.links = append(d.links, &link{neigh: n})
	}
	return nil
}

func (d *Datalink) Cleanup(s *state.State) error {
	var errs []error
	for _, l := range d.links {
		if err := l.neigh.Channel.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing channel to %s: %w", l.neigh.Id, err))
		}
	}
	d.links = nil
	return errors.Join(errs...)
}

func (d *Datalink) getLink(id state.NodeId) *link {
	for _, l := range d.links {
		if l.neigh.Id == id {
			return l
		}
	}
	return nil
}

// SendFrame frames payload and writes it to the channel of neighbour to.
func (d *Datalink) SendFrame(to state.NodeId, payload []byte) error {
	l := d.getLink(to)
	if l == nil {
		return fmt.Errorf("%w: %s is not a neighbour", state.ErrUnknownRoute, to)
	}
	return d.write(l, protocol.EncodeFrame(payload))
}

// Broadcast writes the same frame to every neighbour except one. Use state.Broadcast
// to exclude nobody.
func (d *Datalink) Broadcast(payload []byte, except state.NodeId) error {
	frame := protocol.EncodeFrame(payload)
	var errs []error
	for _, l := range d.links {
		if l.neigh.Id == except {
			continue
		}
		if err := d.write(l, frame); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (d *Datalink) write(l *link, frame []byte) error {
	_, err := l.neigh.Channel.Write(frame)
	if err != nil {
		d.Stats.WriteErrors++
		return fmt.Errorf("write to %s: %w", l.neigh.Id, err)
	}
	d.Stats.FramesSent++
	perf.FramesSentPerSecond.Add(1)
	perf.BytesSentPerSecond.Add(float64(len(frame)))
	return nil
}

// read pulls whatever is available from the channel into the deframer. A read that
// fails is retried state.ReadRetries times before the neighbour is skipped, an
// empty read is retried the same way in case the writer is mid-flush.
func (d *Datalink) read(l *link) (int, error) {
	var lastErr error
	for attempt := 0; attempt <= state.ReadRetries; attempt++ {
		if attempt > 0 && state.ReadRetryDelay > 0 {
			time.Sleep(state.ReadRetryDelay)
		}
		buf, err := l.neigh.Channel.ReadAvailable()
		if err != nil {
			lastErr = err
			continue
		}
		if len(buf) == 0 {
			lastErr = nil
			continue
		}
		_, _ = l.deframer.Write(buf)
		perf.BytesRecvPerSecond.Add(float64(len(buf)))
		return len(buf), nil
	}
	if lastErr != nil {
		return 0, fmt.Errorf("%w: %s: %w", state.ErrChannelUnavailable, l.neigh.Id, lastErr)
	}
	return 0, nil
}

// Poll reads every neighbour once and hands complete frames to the upper layer.
func (d *Datalink) Poll() {
	for _, l := range d.links {
		_, err := d.read(l)
		if err != nil {
			d.Stats.ChannelSkips++
			perf.ChannelSkips.Add(1)
			d.Log.Warn("skipping neighbour this tick", "neigh", l.neigh.Id, "error", err)
		}
		before := l.deframer.Discarded
		for payload := range l.deframer.Frames() {
			d.Stats.FramesRecv++
			perf.FramesRecvPerSecond.Add(1)
			if d.Upper != nil {
				d.Upper.OnFrameReceived(payload, l.neigh.Id)
			}
		}
		if dropped := l.deframer.Discarded - before; dropped > 0 {
			d.Stats.Discarded += dropped
			d.Log.Debug("discarded bytes outside of a frame", "neigh", l.neigh.Id, "count", dropped)
		}
	}
}
