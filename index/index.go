// Package index implements the per-replica index: the durable, causally
// ordered view of the tree CRDT that generates, applies, and persists
// operations.
package index

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/nicolagi/atlassync/crdt"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Archive is the optional disaster-recovery backend for index snapshots
// (see SPEC_FULL.md §4.7). It is never consulted on the primary durability
// path: persist writes the on-disk JSON file first, and only then forwards
// a copy here; LoadOrInit only reaches for it when the local file is
// missing.
type Archive interface {
	Put(replicaId crdt.ReplicaId, snapshot []byte) error
	Get(replicaId crdt.ReplicaId) ([]byte, error)
}

// Index is the CRDTIndex of §4.2: Lamport clock, version vector, op log,
// and the in-memory tree, plus the means to load, apply, and persist it.
type Index struct {
	mu sync.Mutex

	replicaId crdt.ReplicaId
	root      *crdt.JsonNode
	rootPath  string
	watchRoot string
	clock     uint64
	vv        crdt.VersionVector
	applied   map[crdt.LamportTimestamp]struct{}
	opLog     []crdt.Operation

	archive Archive
}

// snapshot is the on-disk/archive document shape from spec.md §6:
// {replicaId, root, rootPath, clock, vv, opLog}. The applied set is not
// stored; it is rebuilt from opLog on load.
type snapshot struct {
	ReplicaId crdt.ReplicaId      `json:"replicaId"`
	Root      *crdt.JsonNode      `json:"root"`
	RootPath  string              `json:"rootPath"`
	Clock     uint64              `json:"clock"`
	VV        crdt.VersionVector  `json:"vv"`
	OpLog     []crdt.Operation    `json:"opLog"`
}

// New constructs an empty index for replicaId, rooted at watchRoot, with
// its snapshot persisted at rootPath.
func New(replicaId crdt.ReplicaId, watchRoot, rootPath string, archive Archive) *Index {
	return &Index{
		replicaId: replicaId,
		root:      crdt.NewMapNode(),
		rootPath:  rootPath,
		watchRoot: watchRoot,
		vv:        crdt.NewVersionVector(),
		applied:   make(map[crdt.LamportTimestamp]struct{}),
		archive:   archive,
	}
}

// ReplicaId returns the index's owning replica identity.
func (ix *Index) ReplicaId() crdt.ReplicaId {
	return ix.replicaId
}

// Root returns the current tree root. Callers must not mutate the
// returned node outside of Apply; it is exposed read-only for cold-start
// walks and diagnostics.
func (ix *Index) Root() *crdt.JsonNode {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.root
}

// VersionVector returns a copy of the current version vector.
func (ix *Index) VersionVector() crdt.VersionVector {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.vv.Clone()
}

// OpLog returns a copy of the operation log, in append order.
func (ix *Index) OpLog() []crdt.Operation {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	out := make([]crdt.Operation, len(ix.opLog))
	copy(out, ix.opLog)
	return out
}

// nextTs increments the Lamport counter and returns a fresh id for this
// replica. Caller must hold ix.mu.
func (ix *Index) nextTs() crdt.LamportTimestamp {
	ix.clock++
	return crdt.LamportTimestamp{Counter: ix.clock, ReplicaId: ix.replicaId}
}

// currentDeps snapshots the frontier of the version vector. Caller must
// hold ix.mu.
func (ix *Index) currentDeps() []crdt.LamportTimestamp {
	return ix.vv.Frontier()
}

// MakeOp builds an Operation with a fresh id and the current deps, without
// mutating any state.
func (ix *Index) MakeOp(cursor []string, mutation crdt.Mutation) crdt.Operation {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return crdt.Operation{
		Id:       ix.nextTs(),
		Deps:     ix.currentDeps(),
		Cursor:   cursor,
		Mutation: mutation,
	}
}

// ApplyLocal builds, applies, and persists a locally-originated operation,
// returning it for the caller to broadcast.
func (ix *Index) ApplyLocal(cursor []string, mutation crdt.Mutation) (crdt.Operation, error) {
	ix.mu.Lock()
	op := crdt.Operation{
		Id:       ix.nextTs(),
		Deps:     ix.currentDeps(),
		Cursor:   cursor,
		Mutation: mutation,
	}
	if err := crdt.Apply(ix.root, op, ix.applied); err != nil {
		ix.mu.Unlock()
		// The local apply is expected to always succeed: it is
		// constructed against the replica's own current state.
		return crdt.Operation{}, errors.Wrapf(err, "apply local op against own state")
	}
	ix.vv.Record(op.Id)
	ix.opLog = append(ix.opLog, op)
	ix.mu.Unlock()

	if err := ix.persist(); err != nil {
		return op, err
	}
	return op, nil
}

// ApplyRemote applies an operation received from a peer. It returns true
// iff the operation was newly integrated into the index (idempotent:
// applying the same op twice returns false the second time, with no side
// effects).
func (ix *Index) ApplyRemote(op crdt.Operation) bool {
	ix.mu.Lock()
	if _, ok := ix.applied[op.Id]; ok {
		ix.mu.Unlock()
		return false
	}
	if err := crdt.Apply(ix.root, op, ix.applied); err != nil {
		ix.mu.Unlock()
		if errors.Is(err, crdt.ErrMissingDeps) {
			log.WithFields(log.Fields{"op": op.Id.String()}).Debug("dropping remote op: deps not yet observed")
		} else {
			log.WithFields(log.Fields{"op": op.Id.String(), "cause": err}).Warn("dropping remote op: structural mismatch")
		}
		return false
	}
	ix.vv.Record(op.Id)
	ix.opLog = append(ix.opLog, op)
	ix.mu.Unlock()

	if err := ix.persist(); err != nil {
		log.WithError(err).Error("could not persist index after remote apply")
	}
	return true
}

// ComputeMissing returns the operations in the log whose counter exceeds
// remoteVV's recorded counter for their replica: the catch-up set a remote
// replica still needs.
func (ix *Index) ComputeMissing(remoteVV crdt.VersionVector) []crdt.Operation {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	var missing []crdt.Operation
	for _, op := range ix.opLog {
		if op.Id.Counter > remoteVV[op.Id.ReplicaId] {
			missing = append(missing, op)
		}
	}
	return missing
}

// Compact removes tombstoned children (crdt.Compress) and truncates op log
// entries dominated by retainAfter. It is a hook; nothing in atlassync
// calls it automatically, per spec.md §9's compaction design note.
func (ix *Index) Compact(retainAfter crdt.VersionVector) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.root.Compress()
	kept := ix.opLog[:0]
	for _, op := range ix.opLog {
		if !retainAfter.Dominates(op.Id) {
			kept = append(kept, op)
		}
	}
	ix.opLog = kept
}

// persist writes the full index to rootPath, replacing the prior file
// atomically (write to a temp file, then rename), then mirrors the bytes
// to the archive if one is configured.
func (ix *Index) persist() error {
	ix.mu.Lock()
	snap := snapshot{
		ReplicaId: ix.replicaId,
		Root:      ix.root,
		RootPath:  ix.rootPath,
		Clock:     ix.clock,
		VV:        ix.vv,
		OpLog:     ix.opLog,
	}
	ix.mu.Unlock()

	encoded, err := marshalSnapshot(snap)
	if err != nil {
		return errors.Wrap(err, "encode index snapshot")
	}

	if err := writeFileAtomic(ix.rootPath, encoded); err != nil {
		return errors.Wrapf(err, "persist index snapshot to %q", ix.rootPath)
	}

	if ix.archive != nil {
		if err := ix.archive.Put(ix.replicaId, encoded); err != nil {
			// Archival is disaster-recovery best-effort: the primary
			// on-disk snapshot above already succeeded.
			log.WithError(err).Warn("could not mirror index snapshot to archive")
		}
	}
	return nil
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".index-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// checkIntegrity walks the tree and verifies that every reachable Entry
// corresponds to a real path under watchRoot whose directory/file nature
// matches IsDirectory.
func checkIntegrity(root *crdt.JsonNode, watchRoot string) error {
	var walk func(node *crdt.JsonNode) error
	walk = func(node *crdt.JsonNode) error {
		if node == nil {
			return nil
		}
		switch node.Kind {
		case crdt.KindMap:
			for _, child := range node.Map {
				if err := walk(child); err != nil {
					return err
				}
			}
		case crdt.KindEntry:
			abs := filepath.Join(watchRoot, filepath.FromSlash(node.Entry.RelativePath))
			fi, err := os.Stat(abs)
			if err != nil {
				return errors.Wrapf(err, "integrity: %q no longer exists", abs)
			}
			if fi.IsDir() != node.Entry.IsDirectory {
				return fmt.Errorf("integrity: %q directory/file nature mismatch", abs)
			}
		}
		return nil
	}
	return walk(root)
}
