// Package ignorelist wraps github.com/sabhiram/go-gitignore to decide
// whether a path under the watched root should be kept out of the index
// and never gossiped.
package ignorelist

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	gitignore "github.com/sabhiram/go-gitignore"
)

// fileName is the optional ignore file consulted at the watched root, in
// .gitignore syntax.
const fileName = ".atlassyncignore"

// alwaysIgnored are basename suffixes excluded regardless of any
// .atlassyncignore content: the index's own snapshot file (written at
// "<watchRoot>/index.json", see config.C.IndexSnapshotFilePath), the
// ignore file itself, and any name ending in ".atlassync-partial".
var alwaysIgnored = []string{
	"index.json",
	".atlassyncignore",
	".atlassync-partial",
}

// List decides whether a relative path is ignored. A nil *List (no
// .atlassyncignore present) still applies alwaysIgnored.
type List struct {
	matcher *gitignore.GitIgnore
}

// Load reads watchRoot/.atlassyncignore, if present, compiling its
// patterns. A missing file is not an error: List.Ignored then only
// applies the always-ignored rules.
func Load(watchRoot string) (*List, error) {
	path := filepath.Join(watchRoot, fileName)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return &List{}, nil
	}
	m, err := gitignore.CompileIgnoreFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "compile %q", path)
	}
	return &List{matcher: m}, nil
}

// Ignored reports whether relativePath (slash-separated, relative to the
// watched root) should be excluded from the index and from gossip.
func (l *List) Ignored(relativePath string) bool {
	base := filepath.Base(relativePath)
	for _, suffix := range alwaysIgnored {
		if strings.HasSuffix(base, suffix) {
			return true
		}
	}
	if l == nil || l.matcher == nil {
		return false
	}
	return l.matcher.MatchesPath(relativePath)
}
