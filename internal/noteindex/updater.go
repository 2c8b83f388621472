package noteindex

import (
	"context"
	"errors"
	"io/fs"
	"log"
	"path/filepath"
	"strings"

	"github.com/jotkit/jot/internal/autosync"
)

// Updater keeps the index current from watcher file events.
//
// It is resilient the way the sync daemon is: individual file failures
// are logged and skipped, never fatal to the loop.
type Updater struct {
	db     *DB
	root   string
	logger *log.Logger
}

// NewUpdater creates an updater for the vault rooted at root.
// If logger is nil, logging is disabled.
func NewUpdater(db *DB, root string, logger *log.Logger) *Updater {
	return &Updater{db: db, root: root, logger: logger}
}

// Run consumes events until the channel closes or ctx is cancelled.
// Intended to run as a goroutine beside the sync engine, fed by the
// watcher's raw event channel.
func (u *Updater) Run(ctx context.Context, events <-chan autosync.FileEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			u.apply(ctx, ev)
		}
	}
}

// apply indexes or removes a single note for one file event.
func (u *Updater) apply(ctx context.Context, ev autosync.FileEvent) {
	if !IsNoteFile(ev.Path) || u.internal(ev.Path) {
		return
	}

	rel, err := filepath.Rel(u.root, ev.Path)
	if err != nil {
		return
	}

	switch ev.Op {
	case autosync.OpDelete:
		if err := u.db.Delete(ctx, rel); err != nil && u.logger != nil {
			u.logger.Printf("Failed to unindex %s: %v", rel, err)
		}
	default:
		// A create may race the file being written; treat it like a
		// modify and let a failed read fall through to the next event.
		note, err := ReadNote(ev.Path, rel)
		if err != nil {
			if !errors.Is(err, fs.ErrNotExist) && u.logger != nil {
				u.logger.Printf("Failed to read %s: %v", rel, err)
			}
			return
		}
		if err := u.db.Upsert(ctx, note); err != nil && u.logger != nil {
			u.logger.Printf("Failed to index %s: %v", rel, err)
		}
	}
}

// FullSync rebuilds the index from the vault tree. Called at daemon
// startup so the index converges even after missed events.
func (u *Updater) FullSync(ctx context.Context) error {
	seen := make(map[string]bool)

	err := filepath.WalkDir(u.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == ".git" || d.Name() == ".jot" {
				return filepath.SkipDir
			}
			return nil
		}
		if !IsNoteFile(path) {
			return nil
		}

		rel, err := filepath.Rel(u.root, path)
		if err != nil {
			return nil
		}
		seen[rel] = true

		note, readErr := ReadNote(path, rel)
		if readErr != nil {
			if u.logger != nil {
				u.logger.Printf("Warning: failed to read %s: %v", rel, readErr)
			}
			return nil
		}
		if upsertErr := u.db.Upsert(ctx, note); upsertErr != nil && u.logger != nil {
			u.logger.Printf("Warning: failed to index %s: %v", rel, upsertErr)
		}
		return nil
	})
	if err != nil {
		return err
	}

	// Drop index entries whose files no longer exist.
	notes, err := u.db.List(ctx, 0)
	if err != nil {
		return err
	}
	for _, n := range notes {
		if !seen[n.Path] {
			if err := u.db.Delete(ctx, n.Path); err != nil && u.logger != nil {
				u.logger.Printf("Warning: failed to unindex %s: %v", n.Path, err)
			}
		}
	}

	if u.logger != nil {
		u.logger.Printf("Index full sync complete: %d notes", len(seen))
	}
	return nil
}

// internal reports whether the path is inside the .jot metadata tree.
// The index database's own writes must not reindex themselves.
func (u *Updater) internal(path string) bool {
	rel, err := filepath.Rel(u.root, path)
	if err != nil {
		return false
	}
	for _, part := range strings.Split(rel, string(filepath.Separator)) {
		if part == ".jot" {
			return true
		}
	}
	return false
}
