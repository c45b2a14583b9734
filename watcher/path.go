package watcher

import (
	"os"
	"path/filepath"
)

// pathToCursor splits a relative directory path into path segments,
// discarding root/prefix/current/parent components. A "." (the watched
// root itself) yields an empty cursor. Mirrors index.pathToCursor: both
// implement the same rule from the cursor's definition in the data model,
// kept as separate unexported copies since neither package imports the
// other.
func pathToCursor(relDir string) []string {
	relDir = filepath.ToSlash(relDir)
	if relDir == "." || relDir == "" {
		return nil
	}
	var out []string
	start := 0
	for i := 0; i <= len(relDir); i++ {
		if i == len(relDir) || relDir[i] == '/' {
			if i > start {
				seg := relDir[start:i]
				if seg != "." && seg != ".." {
					out = append(out, seg)
				}
			}
			start = i + 1
		}
	}
	return out
}

// walkDirs calls fn for root and every directory beneath it.
func walkDirs(root string, fn func(dir string) error) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			return nil
		}
		return fn(path)
	})
}
