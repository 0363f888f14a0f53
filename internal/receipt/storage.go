package receipt

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/zombor/expense-tracker/internal/apperr"
)

// Storage defines the interface for file storage operations
type Storage interface {
	// Save stores data under name, replacing any existing blob
	Save(name string, data []byte) error

	// Get retrieves a blob by name
	Get(name string) ([]byte, error)

	// Delete removes a blob
	Delete(name string) error
}

// LocalStorage implements the Storage interface using local filesystem
type LocalStorage struct {
	basePath string
}

// NewLocalStorage creates a new LocalStorage instance
func NewLocalStorage(basePath string) (*LocalStorage, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("creating storage directory: %w", err)
	}

	return &LocalStorage{
		basePath: basePath,
	}, nil
}

// Save writes to a temporary file first and renames it into place, so a
// reader never observes a partially written blob
func (l *LocalStorage) Save(name string, data []byte) error {
	path, err := l.path(name)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(l.basePath, ".upload-*")
	if err != nil {
		return apperr.Storage(err, "Error saving file")
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return apperr.Storage(err, "Error saving file")
	}
	if err := tmp.Close(); err != nil {
		return apperr.Storage(err, "Error saving file")
	}
	if err := os.Chmod(tmp.Name(), 0644); err != nil {
		return apperr.Storage(err, "Error saving file")
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return apperr.Storage(err, "Error saving file")
	}
	return nil
}

// Get retrieves a file from local storage
func (l *LocalStorage) Get(name string) ([]byte, error) {
	path, err := l.path(name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, apperr.NotFound("File not found")
	}
	if err != nil {
		return nil, apperr.Storage(err, "Error reading file")
	}
	return data, nil
}

// Delete removes a file from local storage
func (l *LocalStorage) Delete(name string) error {
	path, err := l.path(name)
	if err != nil {
		return err
	}
	err = os.Remove(path)
	if errors.Is(err, fs.ErrNotExist) {
		return apperr.NotFound("File not found")
	}
	if err != nil {
		return apperr.Storage(err, "Error deleting file")
	}
	return nil
}

// path resolves a blob name inside basePath. Names are flat.
func (l *LocalStorage) path(name string) (string, error) {
	if name == "" || name == "." || name == ".." ||
		strings.ContainsAny(name, `/\`) || strings.HasPrefix(name, ".") {
		return "", apperr.Validation("Invalid filename")
	}
	return filepath.Join(l.basePath, name), nil
}
