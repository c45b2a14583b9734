package gossip

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/nicolagi/atlassync/crdt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishOperationDeliversToSubscriber(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	a, err := New(ctx)
	require.NoError(t, err)
	defer func() { _ = a.Close() }()

	b, err := New(ctx)
	require.NoError(t, err)
	defer func() { _ = b.Close() }()

	bAddrs := b.Host.Addrs()
	require.NotEmpty(t, bAddrs)
	require.NoError(t, a.Host.Connect(ctx, peer.AddrInfo{ID: b.Host.ID(), Addrs: bAddrs}))

	inbound := make(chan Inbound, 1)
	go b.Run(ctx, inbound)

	// Give floodsub's mesh a moment to register the new peer before
	// publishing, mirroring the handshake's own discovery-then-publish
	// ordering.
	time.Sleep(500 * time.Millisecond)

	op := crdt.Operation{
		Id:       crdt.LamportTimestamp{Counter: 1, ReplicaId: crdt.ReplicaId(a.Self().String())},
		Mutation: crdt.NewMutation("x", crdt.NewEntryNode(crdt.EntryMeta{Name: "x"})),
	}
	require.NoError(t, a.PublishOperation(ctx, op))

	select {
	case msg := <-inbound:
		require.NotNil(t, msg.Operation)
		assert.Equal(t, op.Id, msg.Operation.Id)
	case <-time.After(15 * time.Second):
		t.Fatal("timed out waiting for gossiped operation")
	}
}

func TestDecodeDistinguishesOperationFromEvent(t *testing.T) {
	op := crdt.Operation{
		Id:       crdt.LamportTimestamp{Counter: 1, ReplicaId: "A"},
		Mutation: crdt.NewMutation("x", crdt.NewEntryNode(crdt.EntryMeta{Name: "x"})),
	}
	opBytes, err := json.Marshal(op)
	require.NoError(t, err)
	inbound, err := decode("peer", opBytes)
	require.NoError(t, err)
	assert.NotNil(t, inbound.Operation)
	assert.Nil(t, inbound.Event)

	evt := PeerConnectionEvent{Kind: InitialConnection, Target: "p1", Source: "p2"}
	evtBytes, err := json.Marshal(evt)
	require.NoError(t, err)
	inbound, err = decode("peer", evtBytes)
	require.NoError(t, err)
	assert.Nil(t, inbound.Operation)
	require.NotNil(t, inbound.Event)
	assert.Equal(t, InitialConnection, inbound.Event.Kind)
}
