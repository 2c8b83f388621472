package autosync

import (
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// EventOp represents the type of file system operation.
type EventOp int

const (
	// OpCreate indicates a new file was created.
	OpCreate EventOp = iota
	// OpModify indicates an existing file was modified.
	OpModify
	// OpDelete indicates a file was deleted or renamed away.
	OpDelete
)

// String returns a human-readable representation of the operation.
func (op EventOp) String() string {
	switch op {
	case OpCreate:
		return "create"
	case OpModify:
		return "modify"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// FileEvent is a single file system event inside the vault.
type FileEvent struct {
	// Path is the absolute path to the file that changed.
	Path string
	// Op is the operation that occurred.
	Op EventOp
}

// Watcher watches a vault directory tree for changes, including the
// .jot metadata subtree, and coalesces bursts of events into a single
// changed signal per debounce window.
//
// The .git directory is never watched: the engine's own pull and commit
// operations must not retrigger the engine.
type Watcher struct {
	root     string
	watcher  *fsnotify.Watcher
	debounce *Debouncer
	events   chan FileEvent
	errors   chan error
	done     chan struct{}
	wg       sync.WaitGroup
	logger   *log.Logger

	mu        sync.Mutex
	running   bool
	suspended bool
	nextSub   int
	subs      map[int]func()
}

// NewWatcher creates a watcher for the vault rooted at root.
// The watcher must be started with Start() before it emits anything.
// If logger is nil, logging is disabled.
func NewWatcher(root string, debounce time.Duration, logger *log.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	return &Watcher{
		root:     root,
		watcher:  fsw,
		debounce: NewDebouncer(debounce),
		events:   make(chan FileEvent, 100),
		errors:   make(chan error, 10),
		done:     make(chan struct{}),
		logger:   logger,
		subs:     make(map[int]func()),
	}, nil
}

// OnChange subscribes to the coalesced changed signal and returns a
// disposer. Disposing twice is harmless. Callbacks run on the debounce
// timer goroutine; they must not block for long.
func (w *Watcher) OnChange(fn func()) (unsubscribe func()) {
	w.mu.Lock()
	id := w.nextSub
	w.nextSub++
	w.subs[id] = fn
	w.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			w.mu.Lock()
			delete(w.subs, id)
			w.mu.Unlock()
		})
	}
}

// Events returns the raw per-file event channel, bypassing the debounce.
// Used by consumers that need the individual paths, like the note index.
// The channel is closed when the watcher stops.
func (w *Watcher) Events() <-chan FileEvent {
	return w.events
}

// Errors returns the watcher error channel.
// The channel is closed when the watcher stops.
func (w *Watcher) Errors() <-chan error {
	return w.errors
}

// Start begins watching the vault tree. All existing subdirectories are
// added; directories created later are picked up from create events.
func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return fmt.Errorf("watcher already running")
	}

	if err := w.addTree(w.root); err != nil {
		return err
	}

	w.running = true
	w.wg.Add(1)
	go w.processEvents()

	return nil
}

// Stop stops watching, cancels any pending debounce countdown, and
// blocks until the event loop has exited. Safe to call more than once.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	w.mu.Unlock()

	w.debounce.Cancel()
	close(w.done)

	// The event channels close even when fsnotify fails to shut down;
	// consumers of Events() must always unblock.
	closeErr := w.watcher.Close()

	w.wg.Wait()

	close(w.events)
	close(w.errors)

	if closeErr != nil {
		return fmt.Errorf("failed to close watcher: %w", closeErr)
	}
	return nil
}

// Suspend gates the coalesced changed signal. While suspended, events
// are still observed (and still flow to Events()) but no subscriber
// callback fires. Used while the engine is in conflict mode.
func (w *Watcher) Suspend(suspended bool) {
	w.mu.Lock()
	w.suspended = suspended
	w.mu.Unlock()

	if suspended {
		w.debounce.Cancel()
	}
}

// IsRunning returns true if the watcher is currently running.
func (w *Watcher) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// addTree registers root and every subdirectory with fsnotify,
// skipping .git.
func (w *Watcher) addTree(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if d.Name() == ".git" {
			return filepath.SkipDir
		}
		if err := w.watcher.Add(path); err != nil {
			return fmt.Errorf("failed to watch %s: %w", path, err)
		}
		return nil
	})
}

// processEvents is the event loop converting fsnotify events into raw
// file events and the debounced changed signal.
func (w *Watcher) processEvents() {
	defer w.wg.Done()

	for {
		select {
		case <-w.done:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			select {
			case w.errors <- err:
			case <-w.done:
				return
			}
		}
	}
}

// handleEvent filters one fsnotify event and feeds the debouncer.
func (w *Watcher) handleEvent(event fsnotify.Event) {
	if w.ignored(event.Name) {
		return
	}

	var op EventOp
	switch {
	case event.Has(fsnotify.Create):
		op = OpCreate
		// New directories must be watched too.
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if filepath.Base(event.Name) != ".git" {
				if err := w.watcher.Add(event.Name); err != nil && w.logger != nil {
					w.logger.Printf("Failed to watch new directory %s: %v", event.Name, err)
				}
			}
			return
		}
	case event.Has(fsnotify.Write):
		op = OpModify
	case event.Has(fsnotify.Remove):
		op = OpDelete
	case event.Has(fsnotify.Rename):
		// The new name will arrive as a create event.
		op = OpDelete
	default:
		// Chmod and friends are noise.
		return
	}

	select {
	case w.events <- FileEvent{Path: event.Name, Op: op}:
	default:
		// Raw channel consumers that fall behind lose events; the
		// coalesced signal below is what correctness depends on.
	}

	w.mu.Lock()
	suspended := w.suspended
	w.mu.Unlock()
	if suspended {
		return
	}

	w.debounce.Trigger(w.fireChanged)
}

// fireChanged invokes every subscriber once for the elapsed burst.
func (w *Watcher) fireChanged() {
	w.mu.Lock()
	if w.suspended || !w.running {
		w.mu.Unlock()
		return
	}
	fns := make([]func(), 0, len(w.subs))
	for _, fn := range w.subs {
		fns = append(fns, fn)
	}
	w.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

// ignored reports whether events for the path are filtered out.
// The .git tree is the engine's own write traffic.
func (w *Watcher) ignored(path string) bool {
	rel, err := filepath.Rel(w.root, path)
	if err != nil {
		return false
	}
	for _, part := range strings.Split(rel, string(filepath.Separator)) {
		if part == ".git" {
			return true
		}
	}
	return false
}
