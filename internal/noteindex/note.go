package noteindex

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Note is one indexed note record.
type Note struct {
	// Path is the vault-relative path to the note file.
	Path string

	// Title is the first Markdown heading, or the file name without
	// extension when the note has no heading.
	Title string

	// WordCount is the whitespace-separated word count of the body.
	WordCount int

	// SizeBytes is the file size at index time.
	SizeBytes int64

	// ModifiedAt is the file's modification time.
	ModifiedAt time.Time
}

// noteExtensions are the file types treated as notes.
var noteExtensions = map[string]bool{
	".md":       true,
	".markdown": true,
	".txt":      true,
}

// IsNoteFile reports whether the path looks like a note.
func IsNoteFile(path string) bool {
	return noteExtensions[strings.ToLower(filepath.Ext(path))]
}

// ReadNote reads a note file and extracts its index record.
// relPath is the vault-relative path stored in the index.
func ReadNote(absPath, relPath string) (*Note, error) {
	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat note: %w", err)
	}

	f, err := os.Open(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open note: %w", err)
	}
	defer f.Close()

	note := &Note{
		Path:       relPath,
		SizeBytes:  info.Size(),
		ModifiedAt: info.ModTime(),
	}

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if note.Title == "" {
			if heading := strings.TrimSpace(strings.TrimLeft(line, "#")); strings.HasPrefix(line, "#") && heading != "" {
				note.Title = heading
			}
		}
		note.WordCount += len(strings.Fields(line))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read note: %w", err)
	}

	if note.Title == "" {
		base := filepath.Base(relPath)
		note.Title = strings.TrimSuffix(base, filepath.Ext(base))
	}

	return note, nil
}
