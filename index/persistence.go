package index

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/nicolagi/atlassync/crdt"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

func marshalSnapshot(snap snapshot) ([]byte, error) {
	return json.MarshalIndent(snap, "", "  ")
}

func unmarshalSnapshot(data []byte) (snapshot, error) {
	var snap snapshot
	err := json.Unmarshal(data, &snap)
	return snap, err
}

// LoadOrInit implements the Index lifecycle of spec.md §3/§4.2: if the
// snapshot file exists and passes the integrity check, it is deserialized
// and applied/vv are rebuilt from opLog; if it exists but fails to decode or
// to pass the integrity check, it is discarded and a cold-start walk of
// watchRoot seeds a brand new index. If it is missing and an archive is
// configured, the archive copy is tried next (disaster recovery); failing
// that, the index is cold-started too.
func LoadOrInit(replicaId crdt.ReplicaId, watchRoot, rootPath string, archive Archive) (*Index, error) {
	data, err := os.ReadFile(rootPath)
	switch {
	case err == nil:
		ix, err := fromSnapshotBytes(data, watchRoot, rootPath, archive)
		if err == nil {
			return ix, nil
		}
		log.WithError(err).Warn("discarding on-disk snapshot, falling back to cold start")
		return coldStart(replicaId, watchRoot, rootPath, archive)
	case !os.IsNotExist(err):
		return nil, errors.Wrapf(err, "read index snapshot %q", rootPath)
	}

	if archive != nil {
		if archived, aerr := archive.Get(replicaId); aerr == nil {
			if ix, err := fromSnapshotBytes(archived, watchRoot, rootPath, archive); err == nil {
				log.Info("recovered index from archive after missing local snapshot")
				return ix, nil
			}
		}
	}

	return coldStart(replicaId, watchRoot, rootPath, archive)
}

// fromSnapshotBytes deserializes a snapshot, runs the integrity check, and
// rebuilds applied/vv from opLog. An integrity failure or decode error
// causes the caller to discard the snapshot and fall back to cold start:
// the watched tree is authoritative at boot when the stored index cannot
// be trusted.
func fromSnapshotBytes(data []byte, watchRoot, rootPath string, archive Archive) (*Index, error) {
	snap, err := unmarshalSnapshot(data)
	if err != nil {
		return nil, errors.Wrap(err, "decode index snapshot")
	}
	if snap.Root == nil {
		snap.Root = crdt.NewMapNode()
	}

	if err := checkIntegrity(snap.Root, watchRoot); err != nil {
		return nil, err
	}

	ix := &Index{
		replicaId: snap.ReplicaId,
		root:      snap.Root,
		rootPath:  rootPath,
		watchRoot: watchRoot,
		clock:     snap.Clock,
		vv:        snap.VV,
		applied:   make(map[crdt.LamportTimestamp]struct{}, len(snap.OpLog)),
		opLog:     snap.OpLog,
		archive:   archive,
	}
	if ix.vv == nil {
		ix.vv = crdt.NewVersionVector()
	}
	for _, op := range ix.opLog {
		ix.applied[op.Id] = struct{}{}
		ix.vv.Record(op.Id)
	}
	return ix, nil
}

// coldStart recursively walks watchRoot and emits/applies a New mutation
// per entry found, producing a brand-new index whose op log is the
// enumeration of the directory tree at boot time.
func coldStart(replicaId crdt.ReplicaId, watchRoot, rootPath string, archive Archive) (*Index, error) {
	ix := New(replicaId, watchRoot, rootPath, archive)

	if _, err := os.Stat(watchRoot); os.IsNotExist(err) {
		if err := os.MkdirAll(watchRoot, 0o755); err != nil {
			return nil, errors.Wrapf(err, "create watch root %q", watchRoot)
		}
	}

	err := filepath.Walk(watchRoot, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if path == watchRoot {
			return nil
		}
		rel, err := filepath.Rel(watchRoot, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if isIndexSnapshotFile(path, rootPath) {
			return nil
		}

		meta, err := crdt.EntryMetaFromPath(path, rel)
		if err != nil {
			return err
		}
		cursor := pathToCursor(filepath.Dir(rel))
		if info.IsDir() {
			// A directory's own entry sits inside the Map for its path, the
			// same Map that holds the entries beneath it.
			cursor = pathToCursor(rel)
		}
		key := rel
		if _, err := ix.ApplyLocal(cursor, crdt.NewMutation(key, crdt.NewEntryNode(meta))); err != nil {
			return errors.Wrapf(err, "cold start: apply entry %q", rel)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ix, nil
}

func isIndexSnapshotFile(path, rootPath string) bool {
	return filepath.Base(path) == filepath.Base(rootPath)
}

// pathToCursor splits a relative directory path into path segments,
// discarding root/prefix/current/parent components. A "." (the watched
// root itself) yields an empty cursor.
func pathToCursor(relDir string) []string {
	relDir = filepath.ToSlash(relDir)
	if relDir == "." || relDir == "" {
		return nil
	}
	parts := make([]string, 0, 4)
	for _, seg := range splitClean(relDir) {
		switch seg {
		case "", ".", "..":
			continue
		default:
			parts = append(parts, seg)
		}
	}
	return parts
}

func splitClean(p string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(p); i++ {
		if i == len(p) || p[i] == '/' {
			if i > start {
				out = append(out, p[start:i])
			}
			start = i + 1
		}
	}
	return out
}
