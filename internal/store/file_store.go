package store

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// FileStore implements Store interface using CSV files on the filesystem
type FileStore struct {
	baseDir string
}

// NewFileStore creates a new file-based store rooted at dir
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory %s: %w", dir, err)
	}

	return &FileStore{baseDir: dir}, nil
}

// Path returns the filesystem path backing a table name
func (s *FileStore) Path(name string) string {
	return filepath.Join(s.baseDir, filepath.FromSlash(name))
}

// Write replaces the named table. The file is written next to its final
// location and renamed into place so a crash never leaves a torn table.
func (s *FileStore) Write(name string, t *Table) error {
	filename := s.Path(name)

	// Ensure directory exists
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create table directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*.csv")
	if err != nil {
		return fmt.Errorf("failed to create temp file for %s: %w", name, err)
	}
	defer os.Remove(tmp.Name())

	w := csv.NewWriter(tmp)
	if err := w.Write(t.Columns); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write header of %s: %w", name, err)
	}
	if err := w.WriteAll(t.Rows); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write rows of %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", name, err)
	}

	if err := os.Rename(tmp.Name(), filename); err != nil {
		return fmt.Errorf("failed to move %s into place: %w", name, err)
	}

	return nil
}

// Read loads the named table
func (s *FileStore) Read(name string) (*Table, error) {
	f, err := os.Open(s.Path(name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrTableNotFound, name)
		}
		return nil, fmt.Errorf("failed to open table %s: %w", name, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	header, err := r.Read()
	if err == io.EOF {
		return &Table{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read header of %s: %w", name, err)
	}

	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read rows of %s: %w", name, err)
	}

	return &Table{Columns: header, Rows: rows}, nil
}

// Close cleans up the store resources (no-op for file store)
func (s *FileStore) Close() error {
	return nil
}
