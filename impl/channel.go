package impl

import (
	"errors"
	"fmt"
	"os"

	"github.com/encodeous/strata/state"
)

// ChannelFileName names the one-way channel carrying bytes from one node to another.
func ChannelFileName(from, to state.NodeId) string {
	return fmt.Sprintf("from%dto%d.txt", from, to)
}

func OpenChannel(kind state.ChannelKind, dir string, self, neigh state.NodeId) (state.Channel, error) {
	switch kind {
	case state.FileChannel:
		ch, err := OpenFileChannel(dir, self, neigh)
		if err != nil {
			return nil, err
		}
		return ch, nil
	case state.FifoChannel:
		ch, err := OpenFifoChannel(dir, self, neigh)
		if err != nil {
			return nil, err
		}
		return ch, nil
	case state.MemoryChannel:
		return nil, fmt.Errorf("memory channels are created in-process, use NewMemPipe")
	default:
		return nil, fmt.Errorf("unknown channel kind %q", kind)
	}
}

// OpenChannels opens one channel per neighbour. If any of them fails, the ones
// already opened are closed again.
func OpenChannels(kind state.ChannelKind, dir string, self state.NodeId, neighs []state.NodeId) (map[state.NodeId]state.Channel, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, err
	}
	channels := make(map[state.NodeId]state.Channel, len(neighs))
	for _, n := range neighs {
		ch, err := OpenChannel(kind, dir, self, n)
		if err != nil {
			errs := []error{fmt.Errorf("neighbour %s: %w", n, err)}
			for _, opened := range channels {
				errs = append(errs, opened.Close())
			}
			return nil, errors.Join(errs...)
		}
		channels[n] = ch
	}
	return channels, nil
}
