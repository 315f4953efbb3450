package playbook

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/elemental/daemon/internal/logging"
)

const reloadDebounce = 200 * time.Millisecond

// ChangeEvent reports a detected playbook file change. If Err is set,
// the file failed to parse or validate and Definition is nil.
type ChangeEvent struct {
	Name       string
	Definition *Definition
	Err        error
}

// Watcher hot-reloads playbook definitions as their backing files
// change on disk.
type Watcher struct {
	loader *Loader
	dir    string
	log    *logging.Logger
	fs     *fsnotify.Watcher
}

// NewWatcher constructs a Watcher over dir, using loader to parse changed files.
func NewWatcher(loader *Loader, dir string, log *logging.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, err
	}
	return &Watcher{loader: loader, dir: dir, log: log, fs: fsw}, nil
}

// Close stops watching and releases the underlying inotify/kqueue handle.
func (w *Watcher) Close() error { return w.fs.Close() }

// Run blocks, emitting a ChangeEvent on onChange for every create/write to a
// .yaml/.yml file in the watched directory, until ctx is cancelled or the
// watcher's channels close. Rapid successive writes to the same file are
// debounced.
func (w *Watcher) Run(ctx context.Context, onChange func(ChangeEvent)) error {
	pending := map[string]bool{}
	debounce := time.NewTimer(time.Hour)
	if !debounce.Stop() {
		<-debounce.C
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-w.fs.Events:
			if !ok {
				return nil
			}
			if !isPlaybookFile(event.Name) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			pending[event.Name] = true
			debounce.Reset(reloadDebounce)

		case <-debounce.C:
			for path := range pending {
				w.reload(path, onChange)
			}
			pending = map[string]bool{}

		case err, ok := <-w.fs.Errors:
			if !ok {
				return nil
			}
			if w.log != nil {
				w.log.Error("playbook watcher error", "error", err)
			}
		}
	}
}

func (w *Watcher) reload(path string, onChange func(ChangeEvent)) {
	name := strings.TrimSuffix(strings.TrimSuffix(filepath.Base(path), ".yaml"), ".yml")
	def, err := w.loader.Load(name)
	onChange(ChangeEvent{Name: name, Definition: def, Err: err})
}

func isPlaybookFile(path string) bool {
	return strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml")
}
