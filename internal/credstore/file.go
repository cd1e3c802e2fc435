package credstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// File keeps every record in one JSON document of the form {email: record}.
// The document is read once at open and rewritten on each Put.
type File struct {
	path string

	mu      sync.RWMutex
	records map[string]Record
}

// OpenFile loads the document at path. A missing file is treated as empty.
func OpenFile(path string) (*File, error) {
	f := &File{path: path, records: make(map[string]Record)}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return f, nil
	case err != nil:
		return nil, fmt.Errorf("read token store: %w", err)
	}

	if len(data) == 0 {
		return f, nil
	}
	if err := json.Unmarshal(data, &f.records); err != nil {
		return nil, fmt.Errorf("decode token store %s: %w", path, err)
	}
	return f, nil
}

// Get implements Store.
func (f *File) Get(_ context.Context, email string) (Record, bool, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	rec, ok := f.records[NormalizeEmail(email)]
	return rec, ok, nil
}

// Put implements Store. The in-memory view is only updated once the
// document has been written.
func (f *File) Put(_ context.Context, email string, rec Record) error {
	key := NormalizeEmail(email)
	if key == "" {
		return ErrInvalidEmail
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	next := make(map[string]Record, len(f.records)+1)
	for k, v := range f.records {
		next[k] = v
	}
	next[key] = rec

	if err := f.write(next); err != nil {
		return err
	}
	f.records = next
	return nil
}

// write replaces the document atomically via a temp file in the same directory.
func (f *File) write(records map[string]Record) error {
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("encode token store: %w", err)
	}

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create token store directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".tokens-*.json")
	if err != nil {
		return fmt.Errorf("create temp token store: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp token store: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod temp token store: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp token store: %w", err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		return fmt.Errorf("replace token store: %w", err)
	}
	return nil
}

// Close implements io.Closer.
func (f *File) Close() error {
	return nil
}
