package protocol

import (
	"fmt"

	"github.com/encodeous/strata/state"
	"google.golang.org/protobuf/encoding/protowire"
)

// The routing snapshot is a protobuf message without a schema file:
//
//	message Table { repeated Entry entries = 1; }
//	message Entry { uint32 dest = 1; repeated uint32 path = 2; }
const (
	tableEntryField protowire.Number = 1
	entryDestField  protowire.Number = 1
	entryPathField  protowire.Number = 2
)

func appendEntry(b []byte, pv state.PathVector) []byte {
	b = protowire.AppendTag(b, entryDestField, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(pv.Dest))
	if len(pv.Path) > 0 {
		var path []byte
		for _, hop := range pv.Path {
			path = protowire.AppendVarint(path, uint64(hop))
		}
		b = protowire.AppendTag(b, entryPathField, protowire.BytesType)
		b = protowire.AppendBytes(b, path)
	}
	return b
}

// AppendTable appends the wire form of a routing snapshot to b.
func AppendTable(b []byte, table []state.PathVector) ([]byte, error) {
	for _, pv := range table {
		if !pv.Dest.Valid() {
			return nil, fmt.Errorf("%w: snapshot dest %d", state.ErrInvalidNodeId, pv.Dest)
		}
		for _, hop := range pv.Path {
			if !hop.Valid() {
				return nil, fmt.Errorf("%w: snapshot hop %d", state.ErrInvalidNodeId, hop)
			}
		}
		b = protowire.AppendTag(b, tableEntryField, protowire.BytesType)
		b = protowire.AppendBytes(b, appendEntry(nil, pv))
	}
	return b, nil
}

func malformed(n int) error {
	return fmt.Errorf("%w: %w", state.ErrMalformedPacket, protowire.ParseError(n))
}

func wireNodeId(v uint64) (state.NodeId, error) {
	if v > uint64(state.MaxNodeId) {
		return 0, fmt.Errorf("%w: %w: %d", state.ErrMalformedPacket, state.ErrInvalidNodeId, v)
	}
	return state.NodeId(v), nil
}

func consumeEntry(b []byte) (state.PathVector, error) {
	pv := state.PathVector{Path: []state.NodeId{}}
	hasDest := false
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return pv, malformed(n)
		}
		b = b[n:]
		switch {
		case num == entryDestField && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return pv, malformed(n)
			}
			b = b[n:]
			id, err := wireNodeId(v)
			if err != nil {
				return pv, err
			}
			pv.Dest = id
			hasDest = true
		case num == entryPathField && typ == protowire.BytesType:
			packed, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return pv, malformed(n)
			}
			b = b[n:]
			for len(packed) > 0 {
				v, n := protowire.ConsumeVarint(packed)
				if n < 0 {
					return pv, malformed(n)
				}
				packed = packed[n:]
				id, err := wireNodeId(v)
				if err != nil {
					return pv, err
				}
				pv.Path = append(pv.Path, id)
			}
		case num == entryPathField && typ == protowire.VarintType:
			// unpacked repeated field
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return pv, malformed(n)
			}
			b = b[n:]
			id, err := wireNodeId(v)
			if err != nil {
				return pv, err
			}
			pv.Path = append(pv.Path, id)
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return pv, malformed(n)
			}
			b = b[n:]
		}
	}
	if !hasDest {
		return pv, fmt.Errorf("%w: snapshot entry without dest", state.ErrMalformedPacket)
	}
	return pv, nil
}

// ConsumeTable decodes a routing snapshot. Unknown fields are skipped.
func ConsumeTable(b []byte) ([]state.PathVector, error) {
	table := make([]state.PathVector, 0)
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, malformed(n)
		}
		b = b[n:]
		if num != tableEntryField || typ != protowire.BytesType {
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, malformed(n)
			}
			b = b[n:]
			continue
		}
		v, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return nil, malformed(n)
		}
		b = b[n:]
		pv, err := consumeEntry(v)
		if err != nil {
			return nil, err
		}
		table = append(table, pv)
	}
	return table, nil
}
