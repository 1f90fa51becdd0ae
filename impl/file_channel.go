package impl

import (
	"errors"
	"io"
	"os"
	"path/filepath"

	"github.com/encodeous/strata/state"
)

// FileChannel is a pair of regular files. This node appends to from<self>to<neigh>.txt
// and reads from<neigh>to<self>.txt from where it last stopped.
type FileChannel struct {
	out    *os.File
	in     *os.File
	offset int64
}

func OpenFileChannel(dir string, self, neigh state.NodeId) (*FileChannel, error) {
	out, err := os.OpenFile(filepath.Join(dir, ChannelFileName(self, neigh)), os.O_WRONLY|os.O_CREATE|os.O_TRUNC|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}
	in, err := os.OpenFile(filepath.Join(dir, ChannelFileName(neigh, self)), os.O_RDONLY|os.O_CREATE, 0644)
	if err != nil {
		_ = out.Close()
		return nil, err
	}
	return &FileChannel{out: out, in: in}, nil
}

func (c *FileChannel) Write(p []byte) (int, error) {
	return c.out.Write(p)
}

func (c *FileChannel) ReadAvailable() ([]byte, error) {
	info, err := c.in.Stat()
	if err != nil {
		return nil, err
	}
	if info.Size() < c.offset {
		// the writer restarted and truncated the file
		if _, err := c.in.Seek(0, io.SeekStart); err != nil {
			return nil, err
		}
		c.offset = 0
	}
	var out []byte
	buf := make([]byte, state.ReadChunk)
	for {
		n, err := c.in.Read(buf)
		out = append(out, buf[:n]...)
		c.offset += int64(n)
		if errors.Is(err, io.EOF) || n == 0 {
			return out, nil
		}
		if err != nil {
			return out, err
		}
	}
}

func (c *FileChannel) Close() error {
	return errors.Join(c.out.Close(), c.in.Close())
}
