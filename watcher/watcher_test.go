package watcher

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nicolagi/atlassync/crdt"
	"github.com/nicolagi/atlassync/ignorelist"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTranslator(t *testing.T) (*Translator, string, chan struct{}) {
	t.Helper()
	dir := t.TempDir()
	ignore, err := ignorelist.Load(dir)
	require.NoError(t, err)
	tr, err := New(dir, ignore)
	require.NoError(t, err)
	done := make(chan struct{})
	go tr.Run(done)
	return tr, dir, done
}

func waitCommand(t *testing.T, tr *Translator) Command {
	t.Helper()
	select {
	case cmd := <-tr.Commands():
		return cmd
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for command")
		return Command{}
	}
}

func TestCreateFileEmitsNew(t *testing.T) {
	tr, dir, done := newTestTranslator(t)
	defer close(done)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "hello.txt"), []byte("hi"), 0o644))

	cmd := waitCommand(t, tr)
	assert.Equal(t, crdt.MutationNew, cmd.Mutation.Kind)
	assert.Equal(t, "hello.txt", cmd.Mutation.Key)
}

func TestSuppressSwallowsNextEventForBasename(t *testing.T) {
	tr, dir, done := newTestTranslator(t)
	defer close(done)

	tr.Suppress("echoed.txt")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "echoed.txt"), []byte("x"), 0o644))

	select {
	case cmd := <-tr.Commands():
		t.Fatalf("expected no command, got %+v", cmd)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestIgnoredPathProducesNoCommand(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".atlassyncignore"), []byte("*.tmp\n"), 0o644))
	ignore, err := ignorelist.Load(dir)
	require.NoError(t, err)
	tr, err := New(dir, ignore)
	require.NoError(t, err)
	done := make(chan struct{})
	go tr.Run(done)
	defer close(done)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "scratch.tmp"), []byte("x"), 0o644))

	select {
	case cmd := <-tr.Commands():
		t.Fatalf("expected no command, got %+v", cmd)
	case <-time.After(300 * time.Millisecond):
	}
}
