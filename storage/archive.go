package storage

import "github.com/nicolagi/atlassync/crdt"

// KeyedArchive adapts a Store into the index.Archive role: index snapshots
// are addressed by replica id rather than content hash, one blob per
// replica.
type KeyedArchive struct {
	store Store
}

// NewKeyedArchive wraps store for use as an index snapshot archive. A nil
// store (no archive configured) yields a KeyedArchive whose methods
// always report not found / fail, matching the "no archive" baseline.
func NewKeyedArchive(store Store) *KeyedArchive {
	return &KeyedArchive{store: store}
}

func (a *KeyedArchive) Put(replicaId crdt.ReplicaId, snapshot []byte) error {
	if a.store == nil {
		return ErrNotImplemented
	}
	return a.store.Put(Key(replicaId), Value(snapshot))
}

func (a *KeyedArchive) Get(replicaId crdt.ReplicaId) ([]byte, error) {
	if a.store == nil {
		return nil, ErrNotFound
	}
	v, err := a.store.Get(Key(replicaId))
	if err != nil {
		return nil, err
	}
	return v, nil
}
