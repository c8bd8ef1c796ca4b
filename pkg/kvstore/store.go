// Package kvstore persists JSON documents as files under a root directory.
//
// Keys are slash separated paths relative to the root. Writes go through a
// temporary file that is synced and renamed into place, so readers never
// observe a partially written document.
package kvstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

var (
	// ErrNotFound is returned by Load when no document exists for the key.
	ErrNotFound = errors.New("kvstore: key not found")
	// ErrCorrupt is returned by Load when the document cannot be decoded.
	ErrCorrupt = errors.New("kvstore: corrupt document")
	// ErrExists is returned by Create when the key is already taken.
	ErrExists = errors.New("kvstore: key already exists")
	// ErrInvalidKey is returned for keys that escape the root.
	ErrInvalidKey = errors.New("kvstore: invalid key")
)

// Store is a directory of JSON documents
type Store struct {
	root string
}

// New returns a Store rooted at root. The directory is created lazily.
func New(root string) *Store {
	return &Store{root: root}
}

// Root returns the store's base directory
func (s *Store) Root() string {
	return s.root
}

// Path resolves key to a filesystem path inside the root.
func (s *Store) Path(key string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(key))
	if key == "" || filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return filepath.Join(s.root, clean), nil
}

// Load decodes the document stored at key into v.
func (s *Store) Load(key string, v any) error {
	path, err := s.Path(key)
	if err != nil {
		return err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to read %s: %w", key, err)
	}

	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrCorrupt, key, err)
	}
	return nil
}

// Save atomically replaces the document at key with v.
func (s *Store) Save(key string, v any) error {
	path, tmp, err := s.writeTemp(key, v)
	if err != nil {
		return err
	}

	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace %s: %w", key, err)
	}
	return nil
}

// Create writes v at key only if nothing exists there yet.
func (s *Store) Create(key string, v any) error {
	path, tmp, err := s.writeTemp(key, v)
	if err != nil {
		return err
	}
	defer os.Remove(tmp)

	// Link fails instead of replacing an existing target.
	err = link(tmp, path)
	if err != nil && linkUnsupported(err) {
		err = copyExclusive(tmp, path)
	}
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("%w: %s", ErrExists, key)
		}
		return fmt.Errorf("failed to create %s: %w", key, err)
	}
	return nil
}

// link is replaced in tests to emulate filesystems without hard links.
var link = os.Link

// linkUnsupported reports errors of filesystems that cannot hard link, such
// as exFAT (EPERM) or some network mounts (ENOTSUP).
func linkUnsupported(err error) bool {
	if errors.Is(err, fs.ErrExist) {
		return false
	}
	return errors.Is(err, errors.ErrUnsupported) || errors.Is(err, fs.ErrPermission)
}

// copyExclusive creates path with O_EXCL and copies src into it. A failed
// copy removes the partial file.
func copyExclusive(src, path string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(path)
		return err
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(path)
		return err
	}
	if err := file.Close(); err != nil {
		os.Remove(path)
		return err
	}
	return nil
}

// writeTemp encodes v into a synced temporary file next to key's path.
func (s *Store) writeTemp(key string, v any) (string, string, error) {
	path, err := s.Path(key)
	if err != nil {
		return "", "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", "", fmt.Errorf("failed to create directory for %s: %w", key, err)
	}

	file, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return "", "", fmt.Errorf("failed to create temporary file: %w", err)
	}
	tmp := file.Name()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(v); err != nil {
		file.Close()
		os.Remove(tmp)
		return "", "", fmt.Errorf("failed to encode %s: %w", key, err)
	}

	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tmp)
		return "", "", fmt.Errorf("failed to sync %s: %w", key, err)
	}

	if err := file.Close(); err != nil {
		os.Remove(tmp)
		return "", "", fmt.Errorf("failed to close %s: %w", key, err)
	}
	return path, tmp, nil
}

// Delete removes the document at key. Missing keys are not an error.
func (s *Store) Delete(key string) error {
	path, err := s.Path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

// Exists reports whether a document is stored at key
func (s *Store) Exists(key string) bool {
	path, err := s.Path(key)
	if err != nil {
		return false
	}
	_, err = os.Stat(path)
	return err == nil
}

// List returns the keys directly under dir whose base name matches pattern
// (filepath.Match syntax), sorted lexically.
func (s *Store) List(dir, pattern string) ([]string, error) {
	path, err := s.Path(dir)
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read directory %s: %w", dir, err)
	}

	var keys []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ok, err := filepath.Match(pattern, entry.Name())
		if err != nil {
			return nil, fmt.Errorf("bad pattern %q: %w", pattern, err)
		}
		if ok {
			keys = append(keys, filepath.ToSlash(filepath.Join(dir, entry.Name())))
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// DeleteAll removes dir and every document below it.
func (s *Store) DeleteAll(dir string) error {
	path, err := s.Path(dir)
	if err != nil {
		return err
	}
	if path == filepath.Clean(s.root) {
		return fmt.Errorf("%w: refusing to delete the store root", ErrInvalidKey)
	}
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("failed to delete %s: %w", dir, err)
	}
	return nil
}
