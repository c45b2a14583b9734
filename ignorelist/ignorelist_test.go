package ignorelist

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadWithNoIgnoreFile(t *testing.T) {
	dir := t.TempDir()
	l, err := Load(dir)
	require.NoError(t, err)
	assert.False(t, l.Ignored("foo.txt"))
	assert.True(t, l.Ignored("index.json.atlassync-partial"))
}

func TestLoadAppliesPatterns(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, fileName), []byte("*.log\nbuild/\n"), 0o644))
	l, err := Load(dir)
	require.NoError(t, err)
	assert.True(t, l.Ignored("debug.log"))
	assert.True(t, l.Ignored("build/output.bin"))
	assert.False(t, l.Ignored("src/main.go"))
}

func TestAlwaysIgnoredRegardlessOfPatterns(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, fileName), []byte("!everything\n"), 0o644))
	l, err := Load(dir)
	require.NoError(t, err)
	assert.True(t, l.Ignored(".atlassyncignore"))
}
