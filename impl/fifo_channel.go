//go:build linux || darwin

package impl

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/encodeous/strata/state"
	"golang.org/x/sys/unix"
)

// FifoChannel is a pair of named pipes using the same names as FileChannel. Both
// ends are opened non-blocking so that neither side waits for the other to start.
type FifoChannel struct {
	outFd int
	inFd  int
	// bytes accepted by Write that did not fit into the pipe yet
	pending []byte
}

func mkfifo(path string) error {
	err := unix.Mkfifo(path, 0644)
	if err != nil && !errors.Is(err, unix.EEXIST) {
		return fmt.Errorf("mkfifo %s: %w", path, err)
	}
	return nil
}

func OpenFifoChannel(dir string, self, neigh state.NodeId) (*FifoChannel, error) {
	outPath := filepath.Join(dir, ChannelFileName(self, neigh))
	inPath := filepath.Join(dir, ChannelFileName(neigh, self))
	if err := mkfifo(outPath); err != nil {
		return nil, err
	}
	if err := mkfifo(inPath); err != nil {
		return nil, err
	}
	// opening the write end read-write keeps it from failing with ENXIO while the
	// neighbour has not opened its read end yet
	outFd, err := unix.Open(outPath, unix.O_RDWR|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", outPath, err)
	}
	inFd, err := unix.Open(inPath, unix.O_RDONLY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		_ = unix.Close(outFd)
		return nil, fmt.Errorf("open %s: %w", inPath, err)
	}
	return &FifoChannel{outFd: outFd, inFd: inFd}, nil
}

// Write queues p behind any earlier unwritten bytes and writes as much as the pipe
// takes, waiting briefly while it is full. The rest is written by later calls to
// Write or ReadAvailable, so frames are never cut short.
func (c *FifoChannel) Write(p []byte) (int, error) {
	if len(c.pending)+len(p) > state.FifoBacklog {
		return 0, fmt.Errorf("%w: %d bytes waiting for the reader", state.ErrChannelUnavailable, len(c.pending))
	}
	c.pending = append(c.pending, p...)
	err := c.flush()
	for attempt := 0; errors.Is(err, unix.EAGAIN) && attempt < state.ReadRetries; attempt++ {
		time.Sleep(state.ReadRetryDelay)
		err = c.flush()
	}
	if err != nil && !errors.Is(err, unix.EAGAIN) {
		return 0, err
	}
	return len(p), nil
}

func (c *FifoChannel) flush() error {
	for len(c.pending) > 0 {
		n, err := unix.Write(c.outFd, c.pending)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return err
		}
		c.pending = c.pending[n:]
	}
	c.pending = nil
	return nil
}

func (c *FifoChannel) ReadAvailable() ([]byte, error) {
	if err := c.flush(); err != nil && !errors.Is(err, unix.EAGAIN) {
		return nil, err
	}
	var out []byte
	buf := make([]byte, state.ReadChunk)
	for {
		n, err := unix.Read(c.inFd, buf)
		if err != nil {
			if errors.Is(err, unix.EAGAIN) {
				return out, nil
			}
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return out, err
		}
		if n <= 0 {
			// no writer has the pipe open
			return out, nil
		}
		out = append(out, buf[:n]...)
	}
}

func (c *FifoChannel) Close() error {
	return errors.Join(unix.Close(c.outFd), unix.Close(c.inFd))
}
