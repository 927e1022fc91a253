package blacklist

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// FileStore keeps entries in a flat CSV file (the .ipblacklist format). Save writes a
// single row; Load accepts any number of rows, so one address per line also works.
type FileStore struct {
	path string
}

// NewFileStore creates a store for path. The file need not exist yet.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the file location
func (fs *FileStore) Path() string {
	return fs.path
}

// Load reads all entries. A missing file is an empty list.
func (fs *FileStore) Load() ([]string, error) {
	f, err := os.Open(fs.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open %s: %w", fs.path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.Comment = '#'

	var entries []string
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", fs.path, err)
		}
		for _, field := range record {
			if field = strings.TrimSpace(field); field != "" {
				entries = append(entries, field)
			}
		}
	}
	return entries, nil
}

// Save replaces the file contents with entries as one CSV row
func (fs *FileStore) Save(entries []string) error {
	if dir := filepath.Dir(fs.path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create blacklist directory: %w", err)
		}
	}

	tmp := fs.path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", tmp, err)
	}

	w := csv.NewWriter(f)
	if len(entries) > 0 {
		if err := w.Write(entries); err != nil {
			f.Close()
			return fmt.Errorf("failed to write blacklist: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return fmt.Errorf("failed to write blacklist: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", tmp, err)
	}

	return os.Rename(tmp, fs.path)
}

// Close is a no-op for files
func (fs *FileStore) Close() error {
	return nil
}
