// Package coordinator drives one replica's lifecycle: boot, the optional
// initial-sync handshake with a bootstrap peer, and the steady-state
// multiplex of transport, watcher, and index.
package coordinator

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/gops/agent"
	"github.com/google/uuid"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/nicolagi/atlassync/config"
	"github.com/nicolagi/atlassync/crdt"
	"github.com/nicolagi/atlassync/gossip"
	"github.com/nicolagi/atlassync/ignorelist"
	"github.com/nicolagi/atlassync/index"
	"github.com/nicolagi/atlassync/storage"
	"github.com/nicolagi/atlassync/transfer"
	"github.com/nicolagi/atlassync/watcher"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// handshakeResendInterval is how often InitialConnection is republished
// while waiting for InitialConnCompleted, per spec.md §9's "periodic
// wakeup, no hard timeout" design note.
const handshakeResendInterval = 3 * time.Second

// Replica owns one running instance: its index, gossip node, watcher, and
// the channels wiring them together.
type Replica struct {
	cfg    *config.C
	index  *index.Index
	node   *gossip.Node
	ignore *ignorelist.List

	// origins maps a replica id to the last libp2p peer id seen
	// gossiping on its behalf: the Operation wire format (spec.md §3)
	// carries only the replica id, a UUID with no network meaning, so
	// the on-demand fetch in §4.4 needs this directory to know where to
	// dial. It is populated from each received message's sender, which
	// in floodsub's small fully-connected mesh is, in practice, the
	// operation's true origin.
	originsMu sync.Mutex
	origins   map[crdt.ReplicaId]peer.ID
}

// Boot takes the already loaded configuration and sets up a persisted
// replica identity, the ignore list, the optional archive, the index, and
// the gossip transport. It registers the gops diagnostics agent the same
// way the teacher's musclefs does, for introspection without a bespoke
// control socket.
func Boot(ctx context.Context, cfg *config.C) (*Replica, error) {
	if err := agent.Listen(agent.Options{}); err != nil {
		log.WithError(err).Warn("could not start gops diagnostics agent")
	}

	replicaId, err := loadOrCreateReplicaId(cfg.ReplicaIdFilePath())
	if err != nil {
		return nil, errors.Wrap(err, "load replica id")
	}

	ignore, err := ignorelist.Load(cfg.WatchPath)
	if err != nil {
		return nil, errors.Wrap(err, "load ignore list")
	}

	var archive index.Archive
	if cfg.Archive != "" {
		store, err := storage.NewStore(cfg)
		if err != nil {
			return nil, errors.Wrap(err, "construct archive store")
		}
		archive = storage.NewKeyedArchive(store)
	}

	ix, err := index.LoadOrInit(replicaId, cfg.WatchPath, cfg.IndexSnapshotFilePath(), archive)
	if err != nil {
		return nil, errors.Wrap(err, "load or initialize index")
	}

	node, err := gossip.New(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "start gossip node")
	}

	transfer.RegisterResponder(node.Host, func(relativePath string) (string, error) {
		return filepath.Join(cfg.WatchPath, filepath.FromSlash(relativePath)), nil
	})

	return &Replica{cfg: cfg, index: ix, node: node, ignore: ignore, origins: make(map[crdt.ReplicaId]peer.ID)}, nil
}

// Close releases the replica's transport resources.
func (r *Replica) Close() error {
	return r.node.Close()
}

// loadOrCreateReplicaId reads the persisted replica identity at path,
// generating and persisting a fresh UUIDv7 if none exists yet. A stable
// identity across restarts lets peers recognize this replica's operations
// in their version vectors.
func loadOrCreateReplicaId(path string) (crdt.ReplicaId, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		return crdt.ReplicaId(string(data)), nil
	}
	if !os.IsNotExist(err) {
		return "", err
	}
	id, err := uuid.NewV7()
	if err != nil {
		return "", errors.Wrap(err, "generate uuidv7 replica id")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, []byte(id.String()), 0o600); err != nil {
		return "", err
	}
	return crdt.ReplicaId(id.String()), nil
}

// Run executes the handshake (if a bootstrap peer is configured) followed
// by the steady state, until ctx is cancelled.
func (r *Replica) Run(ctx context.Context) error {
	if r.cfg.BootstrapPeer != "" {
		if err := r.handshake(ctx); err != nil {
			return err
		}
	}
	return r.steadyState(ctx)
}

// handshake implements spec.md §4.6's joining flow: publish
// InitialConnection(bootstrap, self) on a resend timer, drain transport
// events, and return once InitialConnCompleted(self) is observed.
func (r *Replica) handshake(ctx context.Context) error {
	self := r.node.Self().String()
	if _, err := peer.Decode(r.cfg.BootstrapPeer); err != nil {
		return errors.Wrapf(err, "decode bootstrap peer id %q", r.cfg.BootstrapPeer)
	}

	inbound := make(chan gossip.Inbound, 64)
	go r.node.Run(ctx, inbound)

	ticker := time.NewTicker(handshakeResendInterval)
	defer ticker.Stop()

	publish := func() {
		evt := gossip.PeerConnectionEvent{Kind: gossip.InitialConnection, Target: r.cfg.BootstrapPeer, Source: self, VV: r.index.VersionVector()}
		if err := r.node.PublishEvent(ctx, evt); err != nil {
			log.WithError(err).Warn("could not publish InitialConnection")
		}
	}
	publish()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			publish()
		case msg := <-inbound:
			// An Operation arriving mid-handshake is the bootstrap's
			// catch-up set (see handleInitialConnection): apply it
			// directly so the joiner's tree converges, without the
			// steady-state on-demand fetch (the matching SyncFile
			// already supplies the content in bulk).
			if msg.Operation != nil {
				r.index.ApplyRemote(*msg.Operation)
				continue
			}
			if msg.Event == nil || msg.Event.Target != self {
				continue
			}
			switch msg.Event.Kind {
			case gossip.SyncFile:
				r.receiveSyncFile(*msg.Event)
			case gossip.InitialConnCompleted:
				return nil
			}
		}
	}
}

// receiveSyncFile writes a bulk-push blob to disk. No watcher is running
// yet during handshake (it only starts in the steady state that follows),
// so there is no echo to suppress here.
func (r *Replica) receiveSyncFile(evt gossip.PeerConnectionEvent) {
	var blob transfer.FileBlob
	if err := unmarshalBlob(evt.Blob, &blob); err != nil {
		log.WithError(err).Warn("could not decode SyncFile blob")
		return
	}
	if err := blob.Write(r.cfg.WatchPath); err != nil {
		log.WithError(err).WithField("name", blob.Name).Warn("could not write synced blob")
	}
}

// steadyState multiplexes the watcher, gossip transport, and index,
// exactly as spec.md §4.6 describes: watcher and gossip each feed
// commands into the index's single-owner goroutine, and every locally
// applied operation is published back out on the topic.
func (r *Replica) steadyState(ctx context.Context) error {
	tr, err := watcher.New(r.cfg.WatchPath, r.ignore)
	if err != nil {
		return errors.Wrap(err, "start filesystem watcher")
	}

	inbound := make(chan gossip.Inbound, 64)
	done := make(chan struct{})

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-ctx.Done()
		close(done)
		return nil
	})
	g.Go(func() error {
		r.node.Run(ctx, inbound)
		return nil
	})
	g.Go(func() error {
		tr.Run(done)
		return nil
	})
	g.Go(func() error {
		return r.driveIndex(ctx, tr, inbound)
	})

	return g.Wait()
}

// driveIndex is the single goroutine that owns the index: it applies
// local commands from the watcher and remote operations from gossip, and
// republishes every locally applied operation.
func (r *Replica) driveIndex(ctx context.Context, tr *watcher.Translator, inbound <-chan gossip.Inbound) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case cmd, ok := <-tr.Commands():
			if !ok {
				return nil
			}
			op, err := r.index.ApplyLocal(cmd.Cursor, cmd.Mutation)
			if err != nil {
				log.WithError(err).Warn("could not apply local command")
				continue
			}
			if err := r.node.PublishOperation(ctx, op); err != nil {
				log.WithError(err).Warn("could not publish operation")
			}
		case msg := <-inbound:
			r.handleInbound(ctx, tr, msg)
		}
	}
}

func (r *Replica) handleInbound(ctx context.Context, tr *watcher.Translator, msg gossip.Inbound) {
	switch {
	case msg.Operation != nil:
		r.recordOrigin(msg.Operation.Id.ReplicaId, msg.From)
		r.handleRemoteOp(ctx, tr, *msg.Operation)
	case msg.Event != nil && msg.Event.Kind == gossip.InitialConnection:
		r.handleInitialConnection(ctx, *msg.Event)
	}
}

func (r *Replica) recordOrigin(replicaId crdt.ReplicaId, from peer.ID) {
	r.originsMu.Lock()
	defer r.originsMu.Unlock()
	r.origins[replicaId] = from
}

func (r *Replica) originOf(replicaId crdt.ReplicaId) (peer.ID, bool) {
	r.originsMu.Lock()
	defer r.originsMu.Unlock()
	id, ok := r.origins[replicaId]
	return id, ok
}

// handleRemoteOp integrates a gossiped operation and, for New/Edit
// mutations carrying an Entry, fetches the file content on demand from
// the originating replica, per spec.md §4.4.
func (r *Replica) handleRemoteOp(ctx context.Context, tr *watcher.Translator, op crdt.Operation) {
	if !r.index.ApplyRemote(op) {
		return
	}
	if op.Mutation.Value == nil || op.Mutation.Value.Kind != crdt.KindEntry {
		return
	}
	if op.Mutation.Kind != crdt.MutationNew && op.Mutation.Kind != crdt.MutationEdit {
		return
	}
	originPeer, ok := r.originOf(op.Id.ReplicaId)
	if !ok {
		log.WithField("replica", op.Id.ReplicaId).Debug("no known peer for operation's replica, cannot fetch content")
		return
	}
	go r.fetchAndWrite(ctx, tr, originPeer, op.Mutation.Key)
}

func (r *Replica) fetchAndWrite(ctx context.Context, tr *watcher.Translator, from peer.ID, relativePath string) {
	blob, err := transfer.Fetch(ctx, r.node.Host, from, relativePath)
	if err != nil {
		log.WithError(err).WithField("name", relativePath).Debug("could not fetch file content")
		return
	}
	tr.Suppress(filepath.Base(relativePath))
	if err := blob.Write(r.cfg.WatchPath); err != nil {
		log.WithError(err).WithField("name", relativePath).Warn("could not write fetched blob")
	}
}

// handleInitialConnection answers a joiner's handshake: first publish the
// catch-up set of operations the joiner's version vector is missing, so
// its CRDT tree converges (the §3 invariant that every Entry corresponds
// to a real file depends on this, not just the bytes landing on disk via
// SyncFile), then walk the watched root, publish one SyncFile per regular
// file that is not ignored (directories get none), then
// InitialConnCompleted.
func (r *Replica) handleInitialConnection(ctx context.Context, evt gossip.PeerConnectionEvent) {
	if evt.Target != r.node.Self().String() {
		return
	}
	for _, op := range r.index.ComputeMissing(evt.VV) {
		if err := r.node.PublishOperation(ctx, op); err != nil {
			log.WithError(err).Warn("could not publish catch-up operation")
		}
	}
	err := filepath.Walk(r.cfg.WatchPath, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return err
		}
		rel, err := filepath.Rel(r.cfg.WatchPath, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if r.ignore.Ignored(rel) {
			return nil
		}
		blob, err := transfer.NewFileBlob(path, rel)
		if err != nil {
			return err
		}
		return r.publishSyncFile(ctx, evt.Source, blob)
	})
	if err != nil {
		log.WithError(err).Warn("initial sync walk failed")
	}
	if err := r.node.PublishEvent(ctx, gossip.PeerConnectionEvent{Kind: gossip.InitialConnCompleted, Target: evt.Source}); err != nil {
		log.WithError(err).Warn("could not publish InitialConnCompleted")
	}
}

func (r *Replica) publishSyncFile(ctx context.Context, target string, blob transfer.FileBlob) error {
	encoded, err := marshalBlob(blob)
	if err != nil {
		return err
	}
	return r.node.PublishEvent(ctx, gossip.PeerConnectionEvent{Kind: gossip.SyncFile, Target: target, Blob: encoded})
}

