package noteindex

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jotkit/jot/internal/autosync"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()

	db, err := Open(filepath.Join(t.TempDir(), ".jot", "index.db"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestUpsertAndGet(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	note := &Note{
		Path:       "daily/2026-08-30.md",
		Title:      "Saturday",
		WordCount:  120,
		SizeBytes:  840,
		ModifiedAt: time.Now().Add(-time.Hour),
	}
	if err := db.Upsert(ctx, note); err != nil {
		t.Fatalf("Upsert() failed: %v", err)
	}

	got, err := db.Get(ctx, note.Path)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if got == nil {
		t.Fatal("Get() = nil for an indexed note")
	}
	if got.Title != "Saturday" || got.WordCount != 120 || got.SizeBytes != 840 {
		t.Errorf("Get() = %+v, want title/words/size preserved", got)
	}

	// Second upsert replaces, not duplicates.
	note.Title = "Saturday notes"
	note.WordCount = 150
	if err := db.Upsert(ctx, note); err != nil {
		t.Fatalf("second Upsert() failed: %v", err)
	}

	got, err = db.Get(ctx, note.Path)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if got.Title != "Saturday notes" || got.WordCount != 150 {
		t.Errorf("upsert did not replace: got %+v", got)
	}
}

func TestGetMissing(t *testing.T) {
	db := openTestDB(t)

	got, err := db.Get(context.Background(), "nope.md")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if got != nil {
		t.Errorf("Get() = %+v for a missing note, want nil", got)
	}
}

func TestUpsertRequiresPath(t *testing.T) {
	db := openTestDB(t)

	if err := db.Upsert(context.Background(), &Note{Title: "no path"}); err == nil {
		t.Error("Upsert() without a path succeeded")
	}
}

func TestDelete(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	note := &Note{Path: "a.md", Title: "a", ModifiedAt: time.Now()}
	if err := db.Upsert(ctx, note); err != nil {
		t.Fatalf("Upsert() failed: %v", err)
	}
	if err := db.Delete(ctx, "a.md"); err != nil {
		t.Fatalf("Delete() failed: %v", err)
	}

	got, err := db.Get(ctx, "a.md")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if got != nil {
		t.Error("note still indexed after Delete()")
	}

	// Missing notes delete without error.
	if err := db.Delete(ctx, "never-indexed.md"); err != nil {
		t.Errorf("Delete() of a missing note failed: %v", err)
	}
}

func TestListOrdersByModified(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	base := time.Now().Add(-24 * time.Hour)
	for i, path := range []string{"old.md", "mid.md", "new.md"} {
		note := &Note{Path: path, Title: path, ModifiedAt: base.Add(time.Duration(i) * time.Hour)}
		if err := db.Upsert(ctx, note); err != nil {
			t.Fatalf("Upsert(%s) failed: %v", path, err)
		}
	}

	notes, err := db.List(ctx, 0)
	if err != nil {
		t.Fatalf("List() failed: %v", err)
	}
	if len(notes) != 3 {
		t.Fatalf("List() returned %d notes, want 3", len(notes))
	}
	if notes[0].Path != "new.md" || notes[2].Path != "old.md" {
		t.Errorf("List() order = %s, %s, %s, want newest first",
			notes[0].Path, notes[1].Path, notes[2].Path)
	}

	limited, err := db.List(ctx, 1)
	if err != nil {
		t.Fatalf("List(1) failed: %v", err)
	}
	if len(limited) != 1 || limited[0].Path != "new.md" {
		t.Errorf("List(1) = %v, want just new.md", limited)
	}
}

func TestStats(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	s, err := db.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats() on empty index failed: %v", err)
	}
	if s.NoteCount != 0 || s.TotalWords != 0 {
		t.Errorf("empty index stats = %+v, want zeros", s)
	}

	newest := time.Now().Truncate(time.Second)
	for _, n := range []*Note{
		{Path: "a.md", Title: "a", WordCount: 10, ModifiedAt: newest.Add(-time.Hour)},
		{Path: "b.md", Title: "b", WordCount: 32, ModifiedAt: newest},
	} {
		if err := db.Upsert(ctx, n); err != nil {
			t.Fatalf("Upsert() failed: %v", err)
		}
	}

	s, err = db.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats() failed: %v", err)
	}
	if s.NoteCount != 2 {
		t.Errorf("NoteCount = %d, want 2", s.NoteCount)
	}
	if s.TotalWords != 42 {
		t.Errorf("TotalWords = %d, want 42", s.TotalWords)
	}
	if !s.LastEdited.Equal(newest.UTC()) {
		t.Errorf("LastEdited = %v, want %v", s.LastEdited, newest.UTC())
	}
}

func TestIsNoteFile(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"note.md", true},
		{"NOTE.MD", true},
		{"note.markdown", true},
		{"note.txt", true},
		{"image.png", false},
		{"script.sh", false},
		{"noext", false},
	}

	for _, tt := range tests {
		if got := IsNoteFile(tt.path); got != tt.want {
			t.Errorf("IsNoteFile(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

func TestReadNote(t *testing.T) {
	dir := t.TempDir()

	path := filepath.Join(dir, "meeting.md")
	content := "# Weekly planning\n\nDiscussed the roadmap with the team.\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	note, err := ReadNote(path, "meeting.md")
	if err != nil {
		t.Fatalf("ReadNote() failed: %v", err)
	}
	if note.Title != "Weekly planning" {
		t.Errorf("Title = %q, want Weekly planning", note.Title)
	}
	// Heading words count too: 2 + 6 body words.
	if note.WordCount != 8 {
		t.Errorf("WordCount = %d, want 8", note.WordCount)
	}
	if note.SizeBytes != int64(len(content)) {
		t.Errorf("SizeBytes = %d, want %d", note.SizeBytes, len(content))
	}
}

func TestReadNoteFallbackTitle(t *testing.T) {
	dir := t.TempDir()

	path := filepath.Join(dir, "scratch.md")
	if err := os.WriteFile(path, []byte("no heading here\n"), 0644); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	note, err := ReadNote(path, "inbox/scratch.md")
	if err != nil {
		t.Fatalf("ReadNote() failed: %v", err)
	}
	if note.Title != "scratch" {
		t.Errorf("Title = %q, want file name fallback scratch", note.Title)
	}
}

func TestUpdaterApply(t *testing.T) {
	root := t.TempDir()
	db, err := Open(filepath.Join(root, ".jot", "index.db"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer db.Close()

	u := NewUpdater(db, root, nil)
	ctx := context.Background()

	notePath := filepath.Join(root, "idea.md")
	if err := os.WriteFile(notePath, []byte("# Idea\n\ntext\n"), 0644); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	u.apply(ctx, autosync.FileEvent{Path: notePath, Op: autosync.OpCreate})

	got, err := db.Get(ctx, "idea.md")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if got == nil || got.Title != "Idea" {
		t.Fatalf("Get() = %+v after create event, want indexed Idea", got)
	}

	u.apply(ctx, autosync.FileEvent{Path: notePath, Op: autosync.OpDelete})

	got, err = db.Get(ctx, "idea.md")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if got != nil {
		t.Error("note still indexed after delete event")
	}

	// Non-note files and .jot internals never reach the index.
	u.apply(ctx, autosync.FileEvent{Path: filepath.Join(root, "photo.png"), Op: autosync.OpCreate})
	u.apply(ctx, autosync.FileEvent{Path: filepath.Join(root, ".jot", "config.md"), Op: autosync.OpCreate})

	notes, err := db.List(ctx, 0)
	if err != nil {
		t.Fatalf("List() failed: %v", err)
	}
	if len(notes) != 0 {
		t.Errorf("index contains %d notes, want 0", len(notes))
	}
}

func TestUpdaterFullSync(t *testing.T) {
	root := t.TempDir()
	db, err := Open(filepath.Join(root, ".jot", "index.db"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer db.Close()

	// Vault layout with a nested note, a non-note, and .git noise.
	mustMkdir(t, filepath.Join(root, "projects"))
	mustMkdir(t, filepath.Join(root, ".git"))
	mustWrite(t, filepath.Join(root, "inbox.md"), "# Inbox\n\none two three\n")
	mustWrite(t, filepath.Join(root, "projects", "plan.md"), "# Plan\n")
	mustWrite(t, filepath.Join(root, "diagram.svg"), "<svg/>")
	mustWrite(t, filepath.Join(root, ".git", "HEAD.md"), "not a note")

	u := NewUpdater(db, root, nil)
	ctx := context.Background()

	// Seed a stale entry whose file no longer exists.
	stale := &Note{Path: "deleted.md", Title: "gone", ModifiedAt: time.Now()}
	if err := db.Upsert(ctx, stale); err != nil {
		t.Fatalf("Upsert() failed: %v", err)
	}

	if err := u.FullSync(ctx); err != nil {
		t.Fatalf("FullSync() failed: %v", err)
	}

	notes, err := db.List(ctx, 0)
	if err != nil {
		t.Fatalf("List() failed: %v", err)
	}
	if len(notes) != 2 {
		t.Fatalf("index contains %d notes after full sync, want 2: %v", len(notes), notePaths(notes))
	}

	byPath := make(map[string]*Note)
	for _, n := range notes {
		byPath[n.Path] = n
	}
	if byPath["inbox.md"] == nil || byPath[filepath.Join("projects", "plan.md")] == nil {
		t.Errorf("indexed paths = %v, want inbox.md and projects/plan.md", notePaths(notes))
	}
	if byPath["deleted.md"] != nil {
		t.Error("stale entry survived full sync")
	}
}

func mustMkdir(t *testing.T, dir string) {
	t.Helper()
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatalf("mkdir %s failed: %v", dir, err)
	}
}

func mustWrite(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write %s failed: %v", path, err)
	}
}

func notePaths(notes []*Note) []string {
	paths := make([]string, 0, len(notes))
	for _, n := range notes {
		paths = append(paths, n.Path)
	}
	return paths
}
