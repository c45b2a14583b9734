// Package crdt implements the operation-based CRDT over a tree of
// filesystem entries: the JsonNode state, the Operation/Mutation wire
// types, and the apply semantics that guarantee convergence across
// concurrently-edited replicas.
package crdt

import (
	"fmt"
	"sort"
)

// ReplicaId uniquely identifies a peer for the lifetime of its identity.
type ReplicaId string

// LamportTimestamp totally orders events by (Counter, ReplicaId).
type LamportTimestamp struct {
	Counter   uint64    `json:"counter"`
	ReplicaId ReplicaId `json:"replica_id"`
}

// Less implements the (counter, replicaId) lexicographic order.
func (t LamportTimestamp) Less(other LamportTimestamp) bool {
	if t.Counter != other.Counter {
		return t.Counter < other.Counter
	}
	return t.ReplicaId < other.ReplicaId
}

func (t LamportTimestamp) String() string {
	return fmt.Sprintf("%d@%s", t.Counter, t.ReplicaId)
}

// VersionVector maps a replica id to the highest counter seen from it.
type VersionVector map[ReplicaId]uint64

// NewVersionVector returns an empty version vector.
func NewVersionVector() VersionVector {
	return make(VersionVector)
}

// Record merges a single timestamp into the vector by taking the max.
func (vv VersionVector) Record(ts LamportTimestamp) {
	if vv[ts.ReplicaId] < ts.Counter {
		vv[ts.ReplicaId] = ts.Counter
	}
}

// Dominates reports whether vv has observed at least as much as ts from
// ts.ReplicaId.
func (vv VersionVector) Dominates(ts LamportTimestamp) bool {
	return vv[ts.ReplicaId] >= ts.Counter
}

// Merge combines other into vv pointwise by max.
func (vv VersionVector) Merge(other VersionVector) {
	for r, c := range other {
		if vv[r] < c {
			vv[r] = c
		}
	}
}

// Frontier expands the vector into the set of LamportTimestamps it
// summarizes, i.e., the highest-counter id known per replica.
func (vv VersionVector) Frontier() []LamportTimestamp {
	ids := make([]LamportTimestamp, 0, len(vv))
	for r, c := range vv {
		ids = append(ids, LamportTimestamp{Counter: c, ReplicaId: r})
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].Less(ids[j]) })
	return ids
}

// Clone returns an independent copy.
func (vv VersionVector) Clone() VersionVector {
	c := make(VersionVector, len(vv))
	for r, cnt := range vv {
		c[r] = cnt
	}
	return c
}

// EntryMeta is the payload stored at a tree leaf.
type EntryMeta struct {
	Name         string  `json:"name"`
	RelativePath string  `json:"relativePath"`
	IsDirectory  bool    `json:"isDirectory"`
	Accessed     *int64  `json:"accessed,omitempty"`
	Modified     *int64  `json:"modified,omitempty"`
	Created      *int64  `json:"created,omitempty"`
	Permissions  *uint32 `json:"permissions,omitempty"`
	Size         *uint64 `json:"size,omitempty"`
	Owner        *string `json:"owner,omitempty"`
	ContentHash  *string `json:"contentHash,omitempty"`
}

// Equal compares all fields, including optional pointer fields by value.
func (m EntryMeta) Equal(other EntryMeta) bool {
	if m.Name != other.Name || m.RelativePath != other.RelativePath || m.IsDirectory != other.IsDirectory {
		return false
	}
	if !equalInt64Ptr(m.Accessed, other.Accessed) ||
		!equalInt64Ptr(m.Modified, other.Modified) ||
		!equalInt64Ptr(m.Created, other.Created) {
		return false
	}
	if !equalUint32Ptr(m.Permissions, other.Permissions) {
		return false
	}
	if !equalUint64Ptr(m.Size, other.Size) {
		return false
	}
	if !equalStringPtr(m.Owner, other.Owner) || !equalStringPtr(m.ContentHash, other.ContentHash) {
		return false
	}
	return true
}

func equalInt64Ptr(a, b *int64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func equalUint32Ptr(a, b *uint32) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func equalUint64Ptr(a, b *uint64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func equalStringPtr(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// NodeKind tags the JsonNode variant, used only for JSON round-tripping
// since the wire format is untagged (see codec.go).
type NodeKind int

const (
	KindMap NodeKind = iota
	KindEntry
	KindTombstone
)

// JsonNode is a tagged tree node: Map, Entry, or Tombstone. Exactly one of
// the fields is meaningful, selected by Kind.
type JsonNode struct {
	Kind  NodeKind
	Map   map[string]*JsonNode
	Entry EntryMeta
}

// NewMapNode returns an empty Map node.
func NewMapNode() *JsonNode {
	return &JsonNode{Kind: KindMap, Map: make(map[string]*JsonNode)}
}

// NewEntryNode wraps metadata as an Entry node.
func NewEntryNode(meta EntryMeta) *JsonNode {
	return &JsonNode{Kind: KindEntry, Entry: meta}
}

// Tombstone is the sentinel deleted-child marker.
var Tombstone = &JsonNode{Kind: KindTombstone}

// IsTombstone reports whether n denotes a tombstoned child. A nil node
// (absent child) is not a tombstone.
func (n *JsonNode) IsTombstone() bool {
	return n != nil && n.Kind == KindTombstone
}

// IsMap reports whether n is a Map node.
func (n *JsonNode) IsMap() bool {
	return n != nil && n.Kind == KindMap
}

// Clone deep-copies a JsonNode tree.
func (n *JsonNode) Clone() *JsonNode {
	if n == nil {
		return nil
	}
	switch n.Kind {
	case KindMap:
		m := make(map[string]*JsonNode, len(n.Map))
		for k, v := range n.Map {
			m[k] = v.Clone()
		}
		return &JsonNode{Kind: KindMap, Map: m}
	case KindEntry:
		return &JsonNode{Kind: KindEntry, Entry: n.Entry}
	default:
		return Tombstone
	}
}

// Equal performs a deep structural comparison of two trees.
func (n *JsonNode) Equal(other *JsonNode) bool {
	if n == nil || other == nil {
		return n == other
	}
	if n.Kind != other.Kind {
		return false
	}
	switch n.Kind {
	case KindMap:
		if len(n.Map) != len(other.Map) {
			return false
		}
		for k, v := range n.Map {
			if !v.Equal(other.Map[k]) {
				return false
			}
		}
		return true
	case KindEntry:
		return n.Entry.Equal(other.Entry)
	default:
		return true
	}
}

// Compress recursively removes tombstoned children from maps. This is an
// observational cleanup: callers must not invoke it until every peer is
// known to have advanced past the tombstoned ids.
func (n *JsonNode) Compress() {
	if n == nil || n.Kind != KindMap {
		return
	}
	for k, v := range n.Map {
		if v.IsTombstone() {
			delete(n.Map, k)
			continue
		}
		v.Compress()
	}
}

// Mutation is the payload of an Operation: New, Edit, or Delete of a child
// keyed by Key under the cursor's terminal map.
type MutationKind int

const (
	MutationNew MutationKind = iota
	MutationEdit
	MutationDelete
)

type Mutation struct {
	Kind  MutationKind
	Key   string
	Value *JsonNode // meaningful for New and Edit only
}

func NewMutation(key string, value *JsonNode) Mutation {
	return Mutation{Kind: MutationNew, Key: key, Value: value}
}

func EditMutation(key string, value *JsonNode) Mutation {
	return Mutation{Kind: MutationEdit, Key: key, Value: value}
}

func DeleteMutation(key string) Mutation {
	return Mutation{Kind: MutationDelete, Key: key}
}

// Operation is a single causally-stamped mutation against the tree.
type Operation struct {
	Id       LamportTimestamp   `json:"id"`
	Deps     []LamportTimestamp `json:"deps"`
	Cursor   []string           `json:"cursor"`
	Mutation Mutation           `json:"mutation"`
}

// DepsSet materializes Deps as a set, for subset tests against applied.
func (op Operation) DepsSet() map[LamportTimestamp]struct{} {
	s := make(map[LamportTimestamp]struct{}, len(op.Deps))
	for _, d := range op.Deps {
		s[d] = struct{}{}
	}
	return s
}
