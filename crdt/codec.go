package crdt

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// tombstoneLiteral is the JSON representation of a Tombstone node, per the
// on-disk layout: JsonNode is serialized untagged, so Map becomes a JSON
// object of string to node, Entry becomes a JSON object with EntryMeta
// fields, and Tombstone serializes as the bare string "Tombstone".
const tombstoneLiteral = `"Tombstone"`

// MarshalJSON implements the untagged wire representation described in
// spec.md §6: a Map is a JSON object of children, an Entry is a JSON object
// of EntryMeta fields, and Tombstone is the literal string "Tombstone".
func (n *JsonNode) MarshalJSON() ([]byte, error) {
	if n == nil {
		return []byte("null"), nil
	}
	switch n.Kind {
	case KindTombstone:
		return []byte(tombstoneLiteral), nil
	case KindEntry:
		return json.Marshal(n.Entry)
	case KindMap:
		return json.Marshal(n.Map)
	default:
		return nil, fmt.Errorf("crdt: unknown node kind %d", n.Kind)
	}
}

// UnmarshalJSON discriminates the three untagged variants: the tombstone
// literal, an object carrying the EntryMeta discriminator fields (name,
// relativePath, isDirectory), or a plain map of children.
func (n *JsonNode) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if bytes.Equal(trimmed, []byte(tombstoneLiteral)) {
		n.Kind = KindTombstone
		return nil
	}
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return fmt.Errorf("crdt: unrecognized node encoding: %s", trimmed)
	}

	var probe map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &probe); err != nil {
		return err
	}
	_, hasName := probe["name"]
	_, hasRelPath := probe["relativePath"]
	_, hasIsDir := probe["isDirectory"]
	if hasName && hasRelPath && hasIsDir {
		var meta EntryMeta
		if err := json.Unmarshal(trimmed, &meta); err != nil {
			return err
		}
		n.Kind = KindEntry
		n.Entry = meta
		return nil
	}

	children := make(map[string]*JsonNode, len(probe))
	for key, raw := range probe {
		child := new(JsonNode)
		if err := child.UnmarshalJSON(raw); err != nil {
			return fmt.Errorf("crdt: child %q: %w", key, err)
		}
		children[key] = child
	}
	n.Kind = KindMap
	n.Map = children
	return nil
}
