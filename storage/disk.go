package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"syscall"

	"github.com/pkg/errors"
)

const (
	diskStoreDirPerm  = 0700
	diskStoreFilePerm = 0600
)

// DiskStore persists one file per key under dir. For the index-snapshot
// archive this is one file per replica id, holding that replica's most
// recent snapshot; unlike the teacher's content-addressed block store,
// keys here are not hashes spread uniformly over a large keyspace, so
// pathFor does not shard into hash-prefixed subdirectories.
type DiskStore struct {
	dir string
}

func NewDiskStore(dir string) *DiskStore {
	return &DiskStore{dir: dir}
}

func (s *DiskStore) Get(k Key) (Value, error) {
	b, err := os.ReadFile(s.pathFor(k))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%q: %w", k, ErrNotFound)
	}
	return b, err
}

func (s *DiskStore) Put(k Key, v Value) error {
	p := s.pathFor(k)
	err := os.WriteFile(p, v, diskStoreFilePerm)
	if err != nil {
		if !os.IsNotExist(err) {
			return err
		}
		if err = os.MkdirAll(filepath.Dir(p), diskStoreDirPerm); err != nil {
			return err
		}
		return os.WriteFile(p, v, diskStoreFilePerm)
	}
	return nil
}

func (s *DiskStore) Delete(k Key) error {
	err := os.Remove(s.pathFor(k))
	if err != nil {
		perr, ok := err.(*os.PathError)
		if ok {
			serr, ok := perr.Err.(syscall.Errno)
			if ok && serr == syscall.ENOENT {
				return errors.Wrapf(ErrNotFound, "could not delete %v", k)
			}
		}
	}
	return err
}

func (s *DiskStore) pathFor(key Key) string {
	return filepath.Join(s.dir, string(key))
}
