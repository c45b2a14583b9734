package config

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

var (
	// DefaultBaseDirectoryPath is where atlassync stores configuration
	// and its replica identity (the index snapshot lives under the
	// watched tree, see IndexSnapshotFilePath). It defaults to
	// $ATLASSYNC_BASE if set, otherwise $HOME/lib/atlassync.
	DefaultBaseDirectoryPath string
)

func init() {
	if base := os.Getenv("ATLASSYNC_BASE"); base != "" {
		DefaultBaseDirectoryPath = base
	} else {
		// The portable way of doing this is by using the os/user package,
		// but I only intend to run this on Linux or NetBSD.
		DefaultBaseDirectoryPath = os.ExpandEnv("$HOME/lib/atlassync")
	}
}

// C is the on-disk configuration for one replica.
type C struct {
	// WatchPath is the directory this replica keeps synchronized.
	WatchPath string

	// BootstrapPeer, if non-empty, is the peer id of an existing replica
	// to join at startup via the initial sync handshake.
	BootstrapPeer string

	// Archive is the optional disaster-recovery backend for index
	// snapshots: "s3", "disk", or "" (no archive).
	Archive string

	// These only make sense if Archive is "s3". The AWS profile is used
	// for credentials.
	S3Profile string
	S3Region  string
	S3Bucket  string

	// This only makes sense if Archive is "disk". If the path is
	// relative, it is assumed relative to the base directory.
	DiskArchiveDir string

	// Directory holding the atlassync config file and replica identity.
	// The replica identity path and a relative DiskArchiveDir are derived
	// from this.
	base string
}

// Load loads the configuration from the file called "config" in the
// provided base directory.
func Load(base string) (*C, error) {
	filename := filepath.Join(base, "config")
	if fi, err := os.Stat(filename); err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	} else if fi.Mode()&0077 != 0 {
		return nil, fmt.Errorf("config.Load %q: mode is %#o, want at most %#o",
			filename, fi.Mode()&0777, fi.Mode()&0700)
	}
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = f.Close()
	}()
	c, err := load(f)
	if err != nil {
		return nil, err
	}
	c.base = base
	if c.DiskArchiveDir != "" && !filepath.IsAbs(c.DiskArchiveDir) {
		c.DiskArchiveDir = filepath.Clean(filepath.Join(c.base, c.DiskArchiveDir))
	}
	if c.WatchPath == "" {
		return nil, fmt.Errorf("config.Load: watch-path is required")
	}
	return c, nil
}

func load(f io.Reader) (*C, error) {
	c := C{}
	s := bufio.NewScanner(f)
	for s.Scan() {
		line := strings.TrimSpace(s.Text())
		if len(line) == 0 || line[0] == '#' {
			continue
		}
		i := strings.IndexAny(line, " \t")
		if i == -1 {
			return nil, fmt.Errorf("load: no separator in %q", line)
		}
		switch key, val := line[:i], strings.TrimSpace(line[i:]); key {
		case "watch-path":
			c.WatchPath = val
		case "bootstrap-peer":
			c.BootstrapPeer = val
		case "archive":
			c.Archive = val
		case "s3-bucket":
			c.S3Bucket = val
		case "s3-profile":
			c.S3Profile = val
		case "s3-region":
			c.S3Region = val
		case "disk-archive-dir":
			c.DiskArchiveDir = val
		default:
			return nil, fmt.Errorf("load: unknown key %q", key)
		}
	}
	if err := s.Err(); err != nil {
		return nil, fmt.Errorf("load: %w", err)
	}
	return &c, nil
}

// ReplicaIdFilePath is where the persisted UUIDv7 replica identity lives,
// so that a restarted process keeps the identity peers already associate
// with its history of operations.
func (c *C) ReplicaIdFilePath() string {
	return filepath.Join(c.base, "replica-id")
}

// IndexSnapshotFilePath is where the durable CRDT index snapshot is
// written: a single JSON document at "<watchRoot>/index.json", per
// spec.md §6. It lives under the watched tree, not the base directory,
// which is why the watcher and ignore list both always treat its
// basename as implicitly ignored regardless of .atlassyncignore content.
func (c *C) IndexSnapshotFilePath() string {
	return filepath.Join(c.WatchPath, "index.json")
}

// Initialize generates an initial configuration at the given directory.
func Initialize(baseDir, watchPath string) error {
	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return fmt.Errorf("%q: could not mkdir: %w", baseDir, err)
	}
	path := filepath.Join(baseDir, "config")
	_, err := os.Stat(path)
	if err == nil {
		return fmt.Errorf("%q: already exists", path)
	}
	if !os.IsNotExist(err) {
		return fmt.Errorf("%q: could not determine if it exists: %w", path, err)
	}

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "watch-path %s\n", watchPath)
	buf.WriteString("archive disk\n")
	buf.WriteString("disk-archive-dir archive\n")
	if err := os.WriteFile(path, buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("config.Initialize %q: %w", path, err)
	}
	return nil
}
