// Package watcher is the Event Translator: it turns raw filesystem events
// into index commands (crdt.Mutation plus cursor), suppressing events that
// are the local echo of a write the file-transfer layer just performed.
package watcher

import (
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/nicolagi/atlassync/crdt"
	"github.com/nicolagi/atlassync/ignorelist"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Command is an index command derived from one or more filesystem events:
// the cursor and mutation ready to hand to index.ApplyLocal.
type Command struct {
	Cursor   []string
	Mutation crdt.Mutation
}

// Translator watches watchRoot and emits Commands on Commands(). Call
// Suppress before the file-transfer layer writes a path directly to disk,
// so the resulting fsnotify event is swallowed rather than re-broadcast.
type Translator struct {
	watchRoot string
	ignore    *ignorelist.List
	fsw       *fsnotify.Watcher
	commands  chan Command

	mu       sync.Mutex
	suppress map[string]int
}

// New creates a Translator rooted at watchRoot, recursively watching every
// directory beneath it at construction time and as new directories appear.
func New(watchRoot string, ignore *ignorelist.List) (*Translator, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "create fsnotify watcher")
	}
	t := &Translator{
		watchRoot: watchRoot,
		ignore:    ignore,
		fsw:       fsw,
		commands:  make(chan Command, 64),
		suppress:  make(map[string]int),
	}
	if err := t.addTreeRecursive(watchRoot); err != nil {
		_ = fsw.Close()
		return nil, err
	}
	return t, nil
}

// Commands returns the channel of translated commands. It is closed when
// Run returns.
func (t *Translator) Commands() <-chan Command {
	return t.commands
}

// Suppress marks basename as a self-write: the next fsnotify event whose
// path has this basename is consumed silently instead of translated.
// Entries are consumed on first match (one Suppress per expected event).
func (t *Translator) Suppress(basename string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.suppress[basename]++
}

func (t *Translator) consumeSuppress(basename string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if n, ok := t.suppress[basename]; ok && n > 0 {
		if n == 1 {
			delete(t.suppress, basename)
		} else {
			t.suppress[basename] = n - 1
		}
		return true
	}
	return false
}

// Run drains fsnotify events until done is closed, translating each into
// zero or one Commands (a rename yields a Delete for its old path; the new
// path arrives as a separate Create event). Run closes the Commands channel
// on return.
func (t *Translator) Run(done <-chan struct{}) {
	defer close(t.commands)
	defer func() { _ = t.fsw.Close() }()
	for {
		select {
		case <-done:
			return
		case event, ok := <-t.fsw.Events:
			if !ok {
				return
			}
			t.handle(event)
		case err, ok := <-t.fsw.Errors:
			if !ok {
				return
			}
			log.WithError(err).Warn("fsnotify reported an error")
		}
	}
}

func (t *Translator) handle(event fsnotify.Event) {
	rel, err := t.relativize(event.Name)
	if err != nil {
		return
	}
	if t.ignore.Ignored(rel) {
		return
	}
	basename := filepath.Base(event.Name)
	if t.consumeSuppress(basename) {
		return
	}

	switch {
	case event.Op&fsnotify.Create != 0:
		t.emitCreate(event.Name, rel)
	case event.Op&fsnotify.Write != 0:
		t.emitEdit(event.Name, rel)
	case event.Op&fsnotify.Chmod != 0:
		t.emitEdit(event.Name, rel)
	case event.Op&fsnotify.Rename != 0:
		// fsnotify reports a rename's origin as a single Rename event on
		// the old path; the destination surfaces separately as a Create.
		// This is the "From" half of spec's Rename Both/From split.
		t.emitDelete(rel)
	case event.Op&fsnotify.Remove != 0:
		t.emitDelete(rel)
	}
}

func (t *Translator) emitCreate(absPath, rel string) {
	meta, err := crdt.EntryMetaFromPath(absPath, rel)
	if err != nil {
		log.WithError(err).WithField("path", absPath).Debug("skipping create: stat failed")
		return
	}
	if meta.IsDirectory {
		if err := t.addTreeRecursive(absPath); err != nil {
			log.WithError(err).WithField("path", absPath).Warn("could not watch new directory")
		}
	}
	t.send(Command{Cursor: pathToCursor(filepath.Dir(rel)), Mutation: crdt.NewMutation(rel, crdt.NewEntryNode(meta))})
}

func (t *Translator) emitEdit(absPath, rel string) {
	meta, err := crdt.EntryMetaFromPath(absPath, rel)
	if err != nil {
		log.WithError(err).WithField("path", absPath).Debug("skipping edit: stat failed")
		return
	}
	t.send(Command{Cursor: pathToCursor(filepath.Dir(rel)), Mutation: crdt.EditMutation(rel, crdt.NewEntryNode(meta))})
}

func (t *Translator) emitDelete(rel string) {
	t.send(Command{Cursor: pathToCursor(filepath.Dir(rel)), Mutation: crdt.DeleteMutation(rel)})
}

func (t *Translator) send(cmd Command) {
	t.commands <- cmd
}

func (t *Translator) relativize(absPath string) (string, error) {
	rel, err := filepath.Rel(t.watchRoot, absPath)
	if err != nil {
		return "", err
	}
	return filepath.ToSlash(rel), nil
}

func (t *Translator) addTreeRecursive(root string) error {
	return walkDirs(root, func(dir string) error {
		return t.fsw.Add(dir)
	})
}
