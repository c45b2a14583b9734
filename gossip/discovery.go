package gossip

import (
	"context"
	"time"

	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	log "github.com/sirupsen/logrus"
)

// discoveryNotifee dials every peer mDNS discovers. Floodsub's own mesh
// bookkeeping (Subscribe/Publish) takes it from there; this mirrors the
// "add discovered peer to partial view" step, done here as a direct
// connect instead of a separate partial-view structure.
type discoveryNotifee struct {
	host host.Host
}

func (n *discoveryNotifee) HandlePeerFound(pi peer.AddrInfo) {
	if pi.ID == n.host.ID() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := n.host.Connect(ctx, pi); err != nil {
		log.WithError(err).WithField("peer", pi.ID).Debug("could not connect to discovered peer")
	}
}
