// Package gossip is the thin adapter over the broadcast transport: a
// libp2p host publishing and subscribing to a single floodsub-style
// topic, with mDNS peer discovery, carrying JSON-encoded Operations and
// PeerConnectionEvents.
package gossip

import (
	"context"
	"encoding/json"

	"github.com/libp2p/go-libp2p"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/p2p/discovery/mdns"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/nicolagi/atlassync/crdt"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// topicName is the fixed broadcast topic every replica subscribes to.
const topicName = "atlassync/v1/messages"

// serviceTag is the mDNS service tag replicas discover each other under.
const serviceTag = "atlassync-mdns"

// PeerConnectionEventKind discriminates the handshake messages carried
// alongside Operations on the broadcast topic.
type PeerConnectionEventKind int

const (
	InitialConnection PeerConnectionEventKind = iota
	SyncFile
	InitialConnCompleted
)

// PeerConnectionEvent is the handshake/bulk-push message family from
// spec.md §4.6: InitialConnection(target, source, vv), SyncFile(target,
// FileBlob), InitialConnCompleted(target). Only the fields relevant to
// Kind are populated. VV rides along with InitialConnection so the
// bootstrap peer can compute which operations the joiner still needs
// (index.ComputeMissing), not just which files to push.
type PeerConnectionEvent struct {
	Kind   PeerConnectionEventKind `json:"kind"`
	Target string                  `json:"target"`
	Source string                  `json:"source,omitempty"`
	VV     crdt.VersionVector      `json:"vv,omitempty"`
	Blob   json.RawMessage         `json:"blob,omitempty"`
}

// Node wraps a libp2p host subscribed to the broadcast topic.
type Node struct {
	Host  host.Host
	topic *pubsub.Topic
	sub   *pubsub.Subscription
}

// New builds a libp2p host listening on an ephemeral TCP port, joins the
// broadcast topic, and starts mDNS discovery. Discovered peers are dialed
// directly; pubsub's own mesh then takes over propagation, mirroring the
// floodsub "add to partial view on discover" behavior.
func New(ctx context.Context) (*Node, error) {
	h, err := libp2p.New(libp2p.ListenAddrStrings("/ip4/0.0.0.0/tcp/0"))
	if err != nil {
		return nil, errors.Wrap(err, "create libp2p host")
	}

	ps, err := pubsub.NewFloodSub(ctx, h)
	if err != nil {
		_ = h.Close()
		return nil, errors.Wrap(err, "create floodsub")
	}

	topic, err := ps.Join(topicName)
	if err != nil {
		_ = h.Close()
		return nil, errors.Wrap(err, "join topic")
	}

	sub, err := topic.Subscribe()
	if err != nil {
		_ = h.Close()
		return nil, errors.Wrap(err, "subscribe to topic")
	}

	n := &Node{Host: h, topic: topic, sub: sub}

	svc := mdns.NewMdnsService(h, serviceTag, &discoveryNotifee{host: h})
	if err := svc.Start(); err != nil {
		log.WithError(err).Warn("could not start mdns discovery")
	}

	return n, nil
}

// Self returns this node's own peer id, the address handshake events use
// for this node (InitialConnection source, SyncFile and
// InitialConnCompleted target). It is distinct from the persisted replica
// id that stamps operations.
func (n *Node) Self() peer.ID {
	return n.Host.ID()
}

// Close shuts down the host.
func (n *Node) Close() error {
	return n.Host.Close()
}

// PublishOperation JSON-encodes op and publishes it on the topic.
func (n *Node) PublishOperation(ctx context.Context, op crdt.Operation) error {
	body, err := json.Marshal(op)
	if err != nil {
		return errors.Wrap(err, "encode operation")
	}
	return n.topic.Publish(ctx, body)
}

// PublishEvent JSON-encodes evt and publishes it on the topic.
func (n *Node) PublishEvent(ctx context.Context, evt PeerConnectionEvent) error {
	body, err := json.Marshal(evt)
	if err != nil {
		return errors.Wrap(err, "encode peer connection event")
	}
	return n.topic.Publish(ctx, body)
}

// Inbound is a decoded broadcast message, carrying exactly one of its
// fields set.
type Inbound struct {
	From      peer.ID
	Operation *crdt.Operation
	Event     *PeerConnectionEvent
}

// Run decodes every message delivered by the subscription and sends it on
// out, until ctx is cancelled. Messages this host itself published are
// skipped (pubsub delivers them to local subscriptions too).
func (n *Node) Run(ctx context.Context, out chan<- Inbound) {
	for {
		msg, err := n.sub.Next(ctx)
		if err != nil {
			return
		}
		if msg.ReceivedFrom == n.Host.ID() {
			continue
		}
		inbound, err := decode(msg.ReceivedFrom, msg.Data)
		if err != nil {
			log.WithError(err).Debug("gossip: could not parse message")
			continue
		}
		select {
		case out <- inbound:
		case <-ctx.Done():
			return
		}
	}
}

// decode attempts, in order of specificity, to interpret data as an
// Operation and then as a PeerConnectionEvent.
func decode(from peer.ID, data []byte) (Inbound, error) {
	var op crdt.Operation
	if err := json.Unmarshal(data, &op); err == nil && op.Id != (crdt.LamportTimestamp{}) {
		return Inbound{From: from, Operation: &op}, nil
	}
	var evt PeerConnectionEvent
	if err := json.Unmarshal(data, &evt); err == nil {
		return Inbound{From: from, Event: &evt}, nil
	}
	return Inbound{}, errors.New("message matched neither Operation nor PeerConnectionEvent")
}
