package state

import (
	"fmt"
	"iter"
	"strconv"
	"strings"
)

// NodeId identifies a node in the network. Valid ids are 0 through MaxNodeId.
type NodeId uint8

const (
	MaxNodeId NodeId = 9
	NodeCount        = int(MaxNodeId) + 1
	// Broadcast is never a valid node id, it addresses every neighbour at once.
	Broadcast NodeId = 0xff
)

func (n NodeId) Valid() bool {
	return n <= MaxNodeId
}

func (n NodeId) String() string {
	if n == Broadcast {
		return "*"
	}
	return strconv.Itoa(int(n))
}

// Digit returns the single ASCII digit used for n on the wire.
func (n NodeId) Digit() byte {
	return '0' + byte(n)
}

func NodeIdFromDigit(b byte) (NodeId, error) {
	if b < '0' || b > '0'+byte(MaxNodeId) {
		return 0, fmt.Errorf("%w: %q is not a node id digit", ErrInvalidNodeId, b)
	}
	return NodeId(b - '0'), nil
}

func ParseNodeId(s string) (NodeId, error) {
	v, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("%w: %q: %w", ErrInvalidNodeId, s, err)
	}
	if v < 0 || v > int(MaxNodeId) {
		return 0, fmt.Errorf("%w: %d is outside [0, %d]", ErrInvalidNodeId, v, MaxNodeId)
	}
	return NodeId(v), nil
}

// AllNodes yields every valid node id in ascending order.
func AllNodes() iter.Seq[NodeId] {
	return func(yield func(NodeId) bool) {
		for id := NodeId(0); id <= MaxNodeId; id++ {
			if !yield(id) {
				return
			}
		}
	}
}

// Neighbour is a directly connected node and the channel used to reach it.
type Neighbour struct {
	Id      NodeId
	Channel Channel
}

func (s *State) GetNeighbour(node NodeId) *Neighbour {
	for _, n := range s.Neighbours {
		if n.Id == node {
			return n
		}
	}
	return nil
}
