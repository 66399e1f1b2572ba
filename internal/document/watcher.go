package document

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Edit notes that the document file changed on disk.
type Edit struct {
	Path      string
	Timestamp time.Time
}

// Watcher reports external writes to the monitored document between
// polls. Polling remains the source of truth for word-count deltas; the
// watcher only exists so a standing verification token can be
// invalidated promptly when the file changes.
type Watcher struct {
	fsWatcher *fsnotify.Watcher
	path      string

	edits  chan Edit
	errors chan error

	done chan struct{}
	wg   sync.WaitGroup
}

// NewWatcher creates a watcher for a single document file.
func NewWatcher(path string) (*Watcher, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &Watcher{
		fsWatcher: fsWatcher,
		path:      absPath,
		edits:     make(chan Edit, 16),
		errors:    make(chan error, 4),
		done:      make(chan struct{}),
	}, nil
}

// Edits returns the channel of edit notifications.
func (w *Watcher) Edits() <-chan Edit {
	return w.edits
}

// Errors returns the channel of watcher errors.
func (w *Watcher) Errors() <-chan error {
	return w.errors
}

// Start begins watching the document's directory. Editors commonly
// replace files on save, so watching the file inode directly would miss
// rename-based writes.
func (w *Watcher) Start() error {
	if err := w.fsWatcher.Add(filepath.Dir(w.path)); err != nil {
		return err
	}

	w.wg.Add(1)
	go w.loop()
	return nil
}

// Stop shuts the watcher down.
func (w *Watcher) Stop() error {
	close(w.done)
	w.wg.Wait()
	close(w.edits)
	close(w.errors)
	return w.fsWatcher.Close()
}

func (w *Watcher) loop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.done:
			return

		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if event.Name != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			select {
			case w.edits <- Edit{Path: w.path, Timestamp: time.Now()}:
			default:
				// Channel full; the pending notification already
				// signals a change.
			}

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			select {
			case w.errors <- err:
			default:
			}
		}
	}
}
