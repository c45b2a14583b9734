package storage

import (
	"errors"
	"testing"

	"github.com/nicolagi/atlassync/crdt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyedArchiveRoundTrip(t *testing.T) {
	a := NewKeyedArchive(NewInMemory())
	require.NoError(t, a.Put(crdt.ReplicaId("replica-a"), []byte("snapshot-bytes")))
	got, err := a.Get(crdt.ReplicaId("replica-a"))
	require.NoError(t, err)
	assert.Equal(t, []byte("snapshot-bytes"), got)
}

func TestKeyedArchiveWithoutStore(t *testing.T) {
	a := NewKeyedArchive(nil)
	assert.Error(t, a.Put(crdt.ReplicaId("x"), []byte("y")))
	_, err := a.Get(crdt.ReplicaId("x"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestKeyedArchivePropagatesBackendFailure(t *testing.T) {
	backendErr := errors.New("s3: connection refused")
	mockStore := &StoreMock{}
	mockStore.On("Put", Key("replica-a"), Value("snapshot-bytes")).Return(backendErr)
	mockStore.On("Get", Key("replica-a")).Return(Value(nil), backendErr)

	a := NewKeyedArchive(mockStore)
	assert.ErrorIs(t, a.Put(crdt.ReplicaId("replica-a"), []byte("snapshot-bytes")), backendErr)
	_, err := a.Get(crdt.ReplicaId("replica-a"))
	assert.ErrorIs(t, err, backendErr)
	mockStore.AssertExpectations(t)
}
