// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// =============================================================================
// FILE BACKEND
// =============================================================================

// File stores one document per key under a single directory. Writes are
// atomic (temp file + fsync + rename) so a crash leaves either the old or
// the new complete document, never a partial one. Directory is 0700, files
// are 0600.
type File struct {
	dir string
}

// NewFile creates a file-backed store rooted at dir, creating it if needed.
func NewFile(dir string) (*File, error) {
	if dir == "" {
		return nil, fmt.Errorf("%w: empty directory", ErrUnavailable)
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("%w: create %s: %v", ErrUnavailable, dir, err)
	}
	return &File{dir: dir}, nil
}

// Dir returns the backing directory, for change watching.
func (f *File) Dir() string {
	return f.dir
}

// keyPath maps a key to a filename. Keys are hex-encoded so arbitrary key
// strings (including path separators) stay inside the store directory.
func (f *File) keyPath(key string) string {
	return filepath.Join(f.dir, hex.EncodeToString([]byte(key))+".json")
}

// Get returns the stored document for key, or found=false.
func (f *File) Get(key string) ([]byte, bool, error) {
	data, err := os.ReadFile(f.keyPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("%w: read %s: %v", ErrUnavailable, key, err)
	}
	return data, true, nil
}

// Set writes the document for key atomically.
func (f *File) Set(key string, value []byte) error {
	path := f.keyPath(key)

	tmp, err := os.CreateTemp(f.dir, ".tmp-")
	if err != nil {
		return fmt.Errorf("%w: temp file: %v", ErrUnavailable, err)
	}
	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(value); err != nil {
		return fmt.Errorf("%w: write %s: %v", ErrUnavailable, key, err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("%w: sync %s: %v", ErrUnavailable, key, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: close %s: %v", ErrUnavailable, key, err)
	}
	if err := os.Chmod(tmpPath, 0600); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("%w: chmod %s: %v", ErrUnavailable, key, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("%w: rename %s: %v", ErrUnavailable, key, err)
	}

	success = true
	return nil
}

// Delete removes the document for key. Missing documents are not an error.
func (f *File) Delete(key string) error {
	if err := os.Remove(f.keyPath(key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("%w: remove %s: %v", ErrUnavailable, key, err)
	}
	return nil
}

// Close is a no-op for the file backend.
func (f *File) Close() error {
	return nil
}

// DecodeKeyFilename recovers the original key from a store filename, for
// watcher consumers mapping change events back to keys.
func DecodeKeyFilename(name string) (string, bool) {
	name = strings.TrimSuffix(filepath.Base(name), ".json")
	raw, err := hex.DecodeString(name)
	if err != nil {
		return "", false
	}
	return string(raw), true
}
