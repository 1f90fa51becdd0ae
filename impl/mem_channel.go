package impl

import (
	"io"
	"slices"
	"sync"
	"sync/atomic"
)

// MemChannel is one end of an in-process duplex byte pipe. It is safe to write to
// from one goroutine while the peer reads from another.
type MemChannel struct {
	peer   *MemChannel
	mu     sync.Mutex
	inbox  []byte
	closed atomic.Bool
	// Intercept, if set before use, sees every write and returns the bytes that are
	// actually delivered to the peer. Returning nil drops the write.
	Intercept func(p []byte) []byte
}

func NewMemPipe() (*MemChannel, *MemChannel) {
	a, b := &MemChannel{}, &MemChannel{}
	a.peer, b.peer = b, a
	return a, b
}

func (c *MemChannel) Write(p []byte) (int, error) {
	if c.closed.Load() {
		return 0, io.ErrClosedPipe
	}
	data := slices.Clone(p)
	if c.Intercept != nil {
		data = c.Intercept(data)
	}
	if len(data) > 0 && !c.peer.closed.Load() {
		c.peer.mu.Lock()
		c.peer.inbox = append(c.peer.inbox, data...)
		c.peer.mu.Unlock()
	}
	return len(p), nil
}

func (c *MemChannel) ReadAvailable() ([]byte, error) {
	if c.closed.Load() {
		return nil, io.ErrClosedPipe
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.inbox
	c.inbox = nil
	return out, nil
}

func (c *MemChannel) Close() error {
	c.closed.Store(true)
	return nil
}
