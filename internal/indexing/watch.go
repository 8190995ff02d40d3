package indexing

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"ckb/internal/logging"
)

// Watcher turns raw fsnotify events for one workspace into debounced
// batches of FileChange, replacing the teacher's git-HEAD-polling
// watcher with real filesystem notifications.
type Watcher struct {
	root     string
	delay    time.Duration
	detector func(path string) (string, bool)
	logger   *logging.Logger

	fsw    *fsnotify.Watcher
	emit   func([]FileChange)
	done   chan struct{}
	wg     sync.WaitGroup

	mu      sync.Mutex
	pending map[string]FileChange
	timer   *time.Timer
}

// NewWatcher creates a Watcher rooted at root. emit is called with a
// batch of coalesced changes once delay has passed with no further
// events for any of them. detector filters which paths are worth
// watching at all (non-source files are ignored).
func NewWatcher(root string, delay time.Duration, detector func(path string) (string, bool), emit func([]FileChange), logger *logging.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		root:     root,
		delay:    delay,
		detector: detector,
		logger:   logger,
		fsw:      fsw,
		emit:     emit,
		done:     make(chan struct{}),
		pending:  make(map[string]FileChange),
	}
	return w, nil
}

// Start walks root adding every directory to the fsnotify watch list
// (fsnotify does not watch recursively on its own) and begins the event
// loop.
func (w *Watcher) Start() error {
	err := filepath.WalkDir(w.root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if isIgnoredDir(d.Name()) {
				return filepath.SkipDir
			}
			return w.fsw.Add(path)
		}
		return nil
	})
	if err != nil {
		return err
	}

	w.wg.Add(1)
	go w.loop()
	return nil
}

// Stop tears down the fsnotify watch and waits for the event loop to
// exit.
func (w *Watcher) Stop() {
	close(w.done)
	_ = w.fsw.Close()
	w.wg.Wait()
}

func isIgnoredDir(name string) bool {
	switch name {
	case ".git", "node_modules", "vendor", "target", "dist", "build", ".venv", "__pycache__":
		return true
	default:
		return false
	}
}

func (w *Watcher) loop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("fsnotify error", map[string]interface{}{"error": err.Error()})
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if _, ok := w.detector(event.Name); !ok {
		return
	}

	var kind FileChangeKind
	var hash string

	switch {
	case event.Op&fsnotify.Remove != 0:
		kind = ChangeDelete
	case event.Op&fsnotify.Create != 0:
		kind = ChangeCreate
		if fi, err := os.Stat(event.Name); err == nil && fi.IsDir() {
			_ = w.fsw.Add(event.Name)
			return
		}
		hash = hashFile(event.Name)
	case event.Op&fsnotify.Write != 0:
		kind = ChangeUpdate
		hash = hashFile(event.Name)
	case event.Op&fsnotify.Rename != 0:
		// fsnotify reports a rename as Rename on the old path; the new
		// path arrives as its own Create event, so this is treated as a
		// delete here and reconciled by ProcessFileChanges on the
		// create side if the caller wants move semantics.
		kind = ChangeDelete
	default:
		return
	}

	w.queue(FileChange{Path: event.Name, Kind: kind, Hash: hash})
}

func (w *Watcher) queue(change FileChange) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.pending[change.Path] = change

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.delay, w.flush)
}

func (w *Watcher) flush() {
	w.mu.Lock()
	batch := make([]FileChange, 0, len(w.pending))
	for _, c := range w.pending {
		batch = append(batch, c)
	}
	w.pending = make(map[string]FileChange)
	w.timer = nil
	w.mu.Unlock()

	if len(batch) > 0 && w.emit != nil {
		w.emit(batch)
	}
}

func hashFile(path string) string {
	content, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}
