package crdt

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"syscall"
)

// EntryMetaFromPath builds the EntryMeta for absPath (the entry's real
// location on disk), labeled with relativePath (its name relative to the
// watched root). Directories never carry a ContentHash.
func EntryMetaFromPath(absPath, relativePath string) (EntryMeta, error) {
	fi, err := os.Stat(absPath)
	if err != nil {
		return EntryMeta{}, err
	}

	meta := EntryMeta{
		Name:         filepath.Base(absPath),
		RelativePath: relativePath,
		IsDirectory:  fi.IsDir(),
	}

	modified := fi.ModTime().Unix()
	meta.Modified = &modified

	mode := uint32(fi.Mode().Perm())
	meta.Permissions = &mode

	if owner, ok := ownerOf(fi); ok {
		meta.Owner = &owner
	}

	if fi.IsDir() {
		return meta, nil
	}

	size := uint64(fi.Size())
	meta.Size = &size

	hash, err := hashFile(absPath)
	if err != nil {
		return EntryMeta{}, err
	}
	meta.ContentHash = &hash

	return meta, nil
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// ownerOf resolves the owning uid as a string, on platforms where the
// os.FileInfo's underlying Sys() exposes a unix Stat_t. On other
// platforms, ownership is left unset rather than guessed.
func ownerOf(fi os.FileInfo) (string, bool) {
	if runtime.GOOS == "windows" || runtime.GOOS == "js" {
		return "", false
	}
	stat, ok := fi.Sys().(*syscall.Stat_t)
	if !ok {
		return "", false
	}
	return fmt.Sprintf("%d", stat.Uid), true
}
