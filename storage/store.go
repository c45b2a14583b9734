package storage

import (
	"errors"
	"fmt"

	"github.com/nicolagi/atlassync/config"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrNotImplemented = errors.New("not implemented")
)

// Key addresses one blob in the store. For the index-snapshot archive
// (storage.KeyedArchive), a Key is a crdt.ReplicaId: one key per replica,
// not a content hash, so there is no generator for random keys here.
type Key string

type Value []byte

// Store is the minimal backend the index-snapshot archive needs: put,
// get, and delete one blob per replica id. Listing/enumeration was part
// of the teacher's content-addressed block store (where a background
// process walks every block); the archive never needs to enumerate its
// keys, so that surface is dropped rather than carried over unused.
type Store interface {
	Get(Key) (Value, error)
	Put(Key, Value) error
	Delete(Key) error
}

// NewStore builds the Store backing the optional index-snapshot archive,
// selected by c.Archive: "disk", "s3", or "" (no archive configured).
func NewStore(c *config.C) (Store, error) {
	switch c.Archive {
	case "disk":
		return NewDiskStore(c.DiskArchiveDir), nil
	case "s3":
		return newS3Store(c), nil
	case "":
		return nil, nil
	default:
		return nil, fmt.Errorf("%q: %w", c.Archive, ErrNotImplemented)
	}
}
