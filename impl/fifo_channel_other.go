//go:build !linux && !darwin

package impl

import (
	"errors"

	"github.com/encodeous/strata/state"
)

type FifoChannel struct {
	state.Channel
}

func OpenFifoChannel(dir string, self, neigh state.NodeId) (*FifoChannel, error) {
	return nil, errors.New("named pipe channels are not supported on this platform")
}
