package transfer

import (
	"path/filepath"
	"strings"
)

// smartJoin is the Smart-join operator from the glossary: given base and
// name, it detects a suffix of base that is a prefix of name and elides
// the overlap, rather than concatenating the two paths verbatim. This
// guards FileBlob.Write against a caller passing a name that is already
// rooted under (part of) base, e.g. base=".../watched/docs" joined with
// name="docs/readme.txt" should not produce ".../watched/docs/docs/readme.txt".
func smartJoin(base, name string) string {
	baseSegs := strings.Split(filepath.ToSlash(filepath.Clean(base)), "/")
	nameSegs := strings.Split(filepath.ToSlash(filepath.Clean(name)), "/")

	max := len(baseSegs)
	if len(nameSegs) < max {
		max = len(nameSegs)
	}
	overlap := 0
	for k := max; k > 0; k-- {
		if segmentsEqual(baseSegs[len(baseSegs)-k:], nameSegs[:k]) {
			overlap = k
			break
		}
	}

	joined := append(append([]string{}, baseSegs...), nameSegs[overlap:]...)
	return filepath.FromSlash(strings.Join(joined, "/"))
}

func segmentsEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
