// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage defines the key-value store contract the guards persist
// through, with in-memory, JSON-file, and SQLite backends.
//
// Store failures are advisory to the guards: a failed write degrades to
// in-memory-only effect for that call, it never crashes a guard operation.
package storage

import (
	"errors"
	"sync"
)

// ErrUnavailable wraps backend failures (quota exceeded, IO error, closed
// handle). Guards treat it as non-fatal.
var ErrUnavailable = errors.New("storage unavailable")

// Store is the key-value contract shared by all backends.
//
// Get returns (nil, false, nil) for a missing key; errors are reserved for
// backend failures.
type Store interface {
	Get(key string) ([]byte, bool, error)
	Set(key string, value []byte) error
	Delete(key string) error
	Close() error
}

// =============================================================================
// MEMORY BACKEND
// =============================================================================

// Memory is an ephemeral in-process store. Safe for concurrent use.
// It backs step-up sessions and test fakes.
type Memory struct {
	mu     sync.RWMutex
	data   map[string][]byte
	closed bool
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{data: make(map[string][]byte)}
}

// Get returns the value for key, or found=false.
func (m *Memory) Get(key string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, false, ErrUnavailable
	}
	v, ok := m.data[key]
	if !ok {
		return nil, false, nil
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, true, nil
}

// Set stores value under key.
func (m *Memory) Set(key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrUnavailable
	}
	v := make([]byte, len(value))
	copy(v, value)
	m.data[key] = v
	return nil
}

// Delete removes key. Removing a missing key is not an error.
func (m *Memory) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrUnavailable
	}
	delete(m.data, key)
	return nil
}

// Close marks the store unusable.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.data = nil
	return nil
}
