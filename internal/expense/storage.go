package expense

import (
	"fmt"
	"os"
	"path/filepath"
)

// Storage defines the interface for captured-image storage.
type Storage interface {
	// Save saves an image and returns the name it is stored under.
	Save(filename string, data []byte) (string, error)

	// Get retrieves a stored image.
	Get(path string) ([]byte, error)

	// Delete removes a stored image.
	Delete(path string) error
}

// LocalStorage implements Storage on the local filesystem.
type LocalStorage struct {
	basePath string
}

// NewLocalStorage creates a LocalStorage rooted at basePath, creating
// the directory if needed.
func NewLocalStorage(basePath string) (*LocalStorage, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("creating storage directory: %w", err)
	}
	return &LocalStorage{basePath: basePath}, nil
}

// Save writes an image under the base path.
func (l *LocalStorage) Save(filename string, data []byte) (string, error) {
	if err := os.WriteFile(filepath.Join(l.basePath, filename), data, 0644); err != nil {
		return "", fmt.Errorf("writing image: %w", err)
	}
	return filename, nil
}

// Get reads a stored image.
func (l *LocalStorage) Get(path string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(l.basePath, path))
	if err != nil {
		return nil, fmt.Errorf("reading image: %w", err)
	}
	return data, nil
}

// Delete removes a stored image.
func (l *LocalStorage) Delete(path string) error {
	if err := os.Remove(filepath.Join(l.basePath, path)); err != nil {
		return fmt.Errorf("deleting image: %w", err)
	}
	return nil
}
