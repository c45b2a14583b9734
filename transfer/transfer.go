// Package transfer carries file content between replicas: the bulk push
// used during initial sync and the on-demand request/response protocol
// used to fetch a single file's bytes after an Operation arrives without
// its content.
package transfer

import (
	"os"
	"path/filepath"

	"github.com/nicolagi/atlassync/storage"
	"github.com/pkg/errors"
)

// FileBlob is a file's full content plus the checksum and size it claims,
// as carried over the wire (SyncFile payload, or the response half of the
// request/response protocol).
type FileBlob struct {
	Name     string `json:"name"`
	Checksum string `json:"checksum"`
	Size     uint64 `json:"size"`
	Content  []byte `json:"content"`
}

// NewFileBlob reads absPath (whose relative name is name) into a FileBlob.
func NewFileBlob(absPath, name string) (FileBlob, error) {
	content, err := os.ReadFile(absPath)
	if err != nil {
		return FileBlob{}, errors.Wrapf(err, "read %q", absPath)
	}
	return FileBlob{
		Name:     name,
		Checksum: storage.PointerTo(content).Hex(),
		Size:     uint64(len(content)),
		Content:  content,
	}, nil
}

// Write persists the blob's content under base, smart-joined with its
// Name (see smartJoin). It creates any missing parent directories, then
// verifies Content against Size and Checksum, and writes the file only if
// both match.
func (b FileBlob) Write(base string) error {
	dest := smartJoin(base, b.Name)
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return errors.Wrapf(err, "create parent dirs for %q", dest)
	}
	if uint64(len(b.Content)) != b.Size {
		return errors.Errorf("blob %q: size mismatch, claimed %d got %d", b.Name, b.Size, len(b.Content))
	}
	if storage.PointerTo(b.Content).Hex() != b.Checksum {
		return errors.Errorf("blob %q: checksum mismatch", b.Name)
	}
	return os.WriteFile(dest, b.Content, 0o644)
}
