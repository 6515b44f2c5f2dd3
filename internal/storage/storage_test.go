// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// roundTrip exercises the Store contract shared by every backend.
func roundTrip(t *testing.T, s Store) {
	t.Helper()

	// Missing key: found=false, no error.
	_, found, err := s.Get("absent")
	if err != nil || found {
		t.Fatalf("missing key: found=%v err=%v", found, err)
	}

	if err := s.Set("k", []byte(`{"v":1}`)); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, found, err := s.Get("k")
	if err != nil || !found {
		t.Fatalf("get: found=%v err=%v", found, err)
	}
	if string(got) != `{"v":1}` {
		t.Errorf("get = %q", got)
	}

	// Overwrite.
	if err := s.Set("k", []byte(`{"v":2}`)); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	got, _, _ = s.Get("k")
	if string(got) != `{"v":2}` {
		t.Errorf("after overwrite = %q", got)
	}

	// Delete, and delete again (missing is not an error).
	if err := s.Delete("k"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := s.Delete("k"); err != nil {
		t.Fatalf("delete missing: %v", err)
	}
	_, found, _ = s.Get("k")
	if found {
		t.Error("key survived delete")
	}
}

func TestMemoryRoundTrip(t *testing.T) {
	roundTrip(t, NewMemory())
}

func TestFileRoundTrip(t *testing.T) {
	s, err := NewFile(t.TempDir())
	if err != nil {
		t.Fatalf("new file store: %v", err)
	}
	roundTrip(t, s)
}

func TestSQLiteRoundTrip(t *testing.T) {
	s, err := NewSQLite(filepath.Join(t.TempDir(), "kv.db"))
	if err != nil {
		t.Fatalf("new sqlite store: %v", err)
	}
	defer s.Close()
	roundTrip(t, s)
}

func TestMemoryClosedReturnsUnavailable(t *testing.T) {
	m := NewMemory()
	m.Close()

	if _, _, err := m.Get("k"); !errors.Is(err, ErrUnavailable) {
		t.Errorf("get after close: %v", err)
	}
	if err := m.Set("k", nil); !errors.Is(err, ErrUnavailable) {
		t.Errorf("set after close: %v", err)
	}
	if err := m.Delete("k"); !errors.Is(err, ErrUnavailable) {
		t.Errorf("delete after close: %v", err)
	}
}

func TestMemoryCopiesValues(t *testing.T) {
	m := NewMemory()
	val := []byte("original")
	m.Set("k", val)
	val[0] = 'X'

	got, _, _ := m.Get("k")
	if string(got) != "original" {
		t.Errorf("stored value aliased caller buffer: %q", got)
	}
}

func TestFileKeyEncodingContainsPathSeparators(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFile(dir)
	if err != nil {
		t.Fatal(err)
	}

	key := "../escape/attempt"
	if err := s.Set(key, []byte("v")); err != nil {
		t.Fatalf("set: %v", err)
	}

	// The document must land inside the store directory.
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 file in store dir, got %d", len(entries))
	}

	got, found, err := s.Get(key)
	if err != nil || !found || string(got) != "v" {
		t.Errorf("round trip with separator key: %q found=%v err=%v", got, found, err)
	}
}

func TestDecodeKeyFilename(t *testing.T) {
	s, err := NewFile(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	s.Set("guardrail.audit_chain", []byte("v"))

	entries, _ := os.ReadDir(s.Dir())
	key, ok := DecodeKeyFilename(entries[0].Name())
	if !ok || key != "guardrail.audit_chain" {
		t.Errorf("decoded %q ok=%v", key, ok)
	}

	if _, ok := DecodeKeyFilename("not-hex.json"); ok {
		t.Error("decoded a non-hex filename")
	}
}

func TestWatcherSeesExternalWrites(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFile(dir)
	if err != nil {
		t.Fatal(err)
	}

	w, err := NewWatcher(s)
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}
	defer w.Close()

	// Simulate another process updating the store.
	other, err := NewFile(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := other.Set("guardrail.audit_chain", []byte(`{"v":1}`)); err != nil {
		t.Fatal(err)
	}

	select {
	case c := <-w.Changes():
		if c.Key != "guardrail.audit_chain" || c.Removed {
			t.Errorf("change = %+v", c)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no change event for external write")
	}
}

func TestWatcherReportsRemoval(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFile(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Set("k", []byte("v")); err != nil {
		t.Fatal(err)
	}

	w, err := NewWatcher(s)
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	if err := s.Delete("k"); err != nil {
		t.Fatal(err)
	}

	deadline := time.After(2 * time.Second)
	for {
		select {
		case c := <-w.Changes():
			if c.Key == "k" && c.Removed {
				return
			}
		case <-deadline:
			t.Fatal("no removal event")
		}
	}
}
