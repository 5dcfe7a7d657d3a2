package receipt

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// Storage defines the interface for file storage operations
type Storage interface {
	// Save stores data as name inside scope and returns the stored path. An
	// existing file is never overwritten; a numeric suffix is added instead.
	Save(scope, name string, data []byte) (string, error)

	// Get retrieves a file by stored path
	Get(path string) ([]byte, error)

	// Delete removes a file
	Delete(path string) error
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

// maxCollisions bounds the suffix search for one name.
const maxCollisions = 1000

// Save saves a file to local storage. Scope is a slash separated relative
// directory; the returned path is slash separated too.
func (l *LocalStorage) Save(scope, name string, data []byte) (string, error) {
	dir, err := l.resolve(scope)
	if err != nil {
		return "", err
	}
	if name == "" || strings.ContainsAny(name, `/\`) {
		return "", fmt.Errorf("invalid file name %q", name)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("creating directory: %w", err)
	}

	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for i := 0; i < maxCollisions; i++ {
		candidate := name
		if i > 0 {
			candidate = fmt.Sprintf("%s_%d%s", stem, i, ext)
		}

		// O_EXCL makes the existence check and creation one step, so
		// concurrent saves of the same name each get their own file.
		f, err := os.OpenFile(filepath.Join(dir, candidate), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("creating file: %w", err)
		}

		if _, err := f.Write(data); err != nil {
			f.Close()
			return "", fmt.Errorf("writing file: %w", err)
		}
		if err := f.Close(); err != nil {
			return "", fmt.Errorf("writing file: %w", err)
		}
		return path.Join(scope, candidate), nil
	}
	return "", fmt.Errorf("too many files named %s in %s", name, scope)
}

// Get retrieves a file from local storage
func (l *LocalStorage) Get(p string) ([]byte, error) {
	fullPath, err := l.resolve(p)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(fullPath)
	if err != nil {
		return nil, fmt.Errorf("reading file: %w", err)
	}
	return data, nil
}

// Delete removes a file from local storage
func (l *LocalStorage) Delete(p string) error {
	fullPath, err := l.resolve(p)
	if err != nil {
		return err
	}
	if err := os.Remove(fullPath); err != nil {
		return fmt.Errorf("deleting file: %w", err)
	}
	return nil
}

func (l *LocalStorage) resolve(p string) (string, error) {
	local := filepath.FromSlash(p)
	if !filepath.IsLocal(local) {
		return "", fmt.Errorf("path %q escapes storage", p)
	}
	return filepath.Join(l.basePath, local), nil
}
