package state

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"slices"
)

func PathValidator(s string) error {
	_, err := os.Stat(path.Dir(s))
	if err != nil {
		return err
	}
	_, err = filepath.Abs(s)
	return err
}

func NodeConfigValidator(node *NodeCfg) error {
	if !node.Id.Valid() {
		return fmt.Errorf("%w: id %d", ErrInvalidNodeId, node.Id)
	}
	if !node.Dest.Valid() {
		return fmt.Errorf("%w: dest %d", ErrInvalidNodeId, node.Dest)
	}
	if node.Duration < 0 {
		return fmt.Errorf("duration must not be negative, got %d", node.Duration)
	}
	if node.StartOffset < 0 {
		return fmt.Errorf("start must not be negative, got %d", node.StartOffset)
	}
	if node.TickMs <= 0 {
		return fmt.Errorf("tick_ms must be positive, got %d", node.TickMs)
	}
	if node.PayloadSize <= 0 {
		return fmt.Errorf("payload_size must be positive, got %d", node.PayloadSize)
	}
	if node.HasMessage() && node.Message == "" {
		return fmt.Errorf("node %s sends to %s but has no message", node.Id, node.Dest)
	}
	seen := make([]NodeId, 0, len(node.Neighbours))
	for _, n := range node.Neighbours {
		if !n.Valid() {
			return fmt.Errorf("%w: neighbour %d", ErrInvalidNodeId, n)
		}
		if n == node.Id {
			return fmt.Errorf("node %s cannot be its own neighbour", node.Id)
		}
		if slices.Contains(seen, n) {
			return fmt.Errorf("duplicate neighbour %s", n)
		}
		seen = append(seen, n)
	}
	switch node.ChannelKind {
	case FileChannel, FifoChannel, MemoryChannel:
	default:
		return fmt.Errorf("unknown channel kind %q", node.ChannelKind)
	}
	if node.LogPath != "" {
		if err := PathValidator(node.LogPath); err != nil {
			return err
		}
	}
	return nil
}

func TopologyValidator(cfg *TopologyCfg) error {
	ids := make([]NodeId, 0, len(cfg.Nodes))
	for _, node := range cfg.Nodes {
		if !node.Id.Valid() {
			return fmt.Errorf("%w: %d", ErrInvalidNodeId, node.Id)
		}
		if slices.Contains(ids, node.Id) {
			return fmt.Errorf("duplicate node %s", node.Id)
		}
		ids = append(ids, node.Id)
	}
	for _, node := range cfg.Nodes {
		if node.Dest == nil || *node.Dest == node.Id {
			continue
		}
		if !slices.Contains(ids, *node.Dest) {
			return fmt.Errorf("node %s sends to %s, which is not defined", node.Id, *node.Dest)
		}
		if node.Message == "" {
			return fmt.Errorf("node %s sends to %s but has no message", node.Id, *node.Dest)
		}
	}
	edges, err := cfg.Edges()
	if err != nil {
		return err
	}
	for _, rule := range cfg.Loss {
		if !slices.Contains(edges, MakeSortedPair(rule.From, rule.To)) {
			return fmt.Errorf("loss rule %s -> %s does not match an edge", rule.From, rule.To)
		}
		switch rule.Kind {
		case "D", "X", "R":
		default:
			return fmt.Errorf("loss rule kind must be one of D, X, R, got %q", rule.Kind)
		}
		if rule.Nth < 1 {
			return fmt.Errorf("loss rule nth must be at least 1, got %d", rule.Nth)
		}
	}
	for _, id := range ids {
		ncfg, err := cfg.NodeConfig(id)
		if err != nil {
			return err
		}
		if err := NodeConfigValidator(&ncfg); err != nil {
			return fmt.Errorf("node %s: %w", id, err)
		}
	}
	return nil
}
