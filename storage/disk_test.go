package storage // import "github.com/nicolagi/atlassync/storage"

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiskStore_Get(t *testing.T) {
	store, clean := disposableDiskStore(t)
	defer clean()
	key := Key("replica-a")
	value := Value("snapshot-bytes")
	err := store.Put(key, value)
	require.Nil(t, err)
	actual, err := store.Get(key)
	assert.Nil(t, err)
	assert.Equal(t, value, actual)
}

func TestDiskStore_GetMissingKeyIsNotFound(t *testing.T) {
	store, clean := disposableDiskStore(t)
	defer clean()
	_, err := store.Get(Key("no-such-replica"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDiskStore_Delete(t *testing.T) {
	store, clean := disposableDiskStore(t)
	defer clean()
	key := Key("replica-b")
	err := store.Put(key, Value("snapshot-bytes"))
	require.Nil(t, err)
	err = store.Delete(key)
	require.Nil(t, err)
	value, err := store.Get(key)
	assert.Nil(t, value)
	assert.NotNil(t, err)
}

func TestDiskStore_PutOverwritesPriorSnapshotForSameReplica(t *testing.T) {
	store, clean := disposableDiskStore(t)
	defer clean()
	key := Key("replica-c")
	require.Nil(t, store.Put(key, Value("first snapshot")))
	require.Nil(t, store.Put(key, Value("second snapshot")))
	actual, err := store.Get(key)
	require.Nil(t, err)
	assert.Equal(t, Value("second snapshot"), actual)
}

func TestDiskStore_KeysAreIsolatedByReplica(t *testing.T) {
	store, clean := disposableDiskStore(t)
	defer clean()
	require.Nil(t, store.Put(Key("replica-a"), Value("a's snapshot")))
	require.Nil(t, store.Put(Key("replica-b"), Value("b's snapshot")))
	a, err := store.Get(Key("replica-a"))
	require.Nil(t, err)
	assert.Equal(t, Value("a's snapshot"), a)
	b, err := store.Get(Key("replica-b"))
	require.Nil(t, err)
	assert.Equal(t, Value("b's snapshot"), b)
}

func disposableDiskStore(t *testing.T) (store *DiskStore, cleanup func()) {
	dir, err := os.MkdirTemp("", "")
	require.Nil(t, err)
	return NewDiskStore(dir), func() {
		assert.Nil(t, os.RemoveAll(store.dir))
	}
}
