// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ledger

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/morganforge/guardrail/internal/digest"
	"github.com/morganforge/guardrail/internal/storage"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

var testTime = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func testEntry(id, action string) Entry {
	return Entry{
		ID:        id,
		Timestamp: testTime,
		Action:    action,
		ActorID:   "user-1",
		Payload:   Payload{Kind: "login", Fields: map[string]string{"result": "success"}},
	}
}

func TestAppendLinksFromGenesis(t *testing.T) {
	l := New(WithClock(fixedClock(testTime)))

	first, err := l.Append(testEntry("e1", "login.success"))
	require.NoError(t, err)
	require.Equal(t, digest.GenesisHex, first.PreviousHash)
	require.Len(t, first.Hash, digest.HexLen)
	require.NotEmpty(t, first.Signature)

	second, err := l.Append(testEntry("e2", "login.failure"))
	require.NoError(t, err)
	require.Equal(t, first.Hash, second.PreviousHash)

	chain := l.ChainState()
	require.Equal(t, second.Hash, chain.LastHash)
	require.Len(t, chain.EntryHashes, 2)
	require.NotEmpty(t, chain.ChainHash)
}

func TestAppendDeterministicAcrossReplicas(t *testing.T) {
	a := New(WithClock(fixedClock(testTime)))
	b := New(WithClock(fixedClock(testTime)))

	ea, err := a.Append(testEntry("e1", "records.update"))
	require.NoError(t, err)
	eb, err := b.Append(testEntry("e1", "records.update"))
	require.NoError(t, err)

	require.Equal(t, ea.Hash, eb.Hash)
	require.Equal(t, ea.Signature, eb.Signature)
	require.Equal(t, a.ChainState().ChainHash, b.ChainState().ChainHash)
}

func TestVerifyChainClean(t *testing.T) {
	l := New(WithClock(fixedClock(testTime)))
	for i, action := range []string{"a", "b", "c"} {
		_, err := l.Append(testEntry(string(rune('1'+i)), action))
		require.NoError(t, err)
	}

	result := l.VerifyChain(l.Entries())
	require.True(t, result.Valid)
	require.Equal(t, 3, result.TotalEntries)
	require.Equal(t, 3, result.ValidEntries)
	require.Zero(t, result.InvalidEntries)
	require.False(t, result.Degraded)
}

func TestVerifyChainDetectsContentTamper(t *testing.T) {
	l := New(WithClock(fixedClock(testTime)))
	for _, id := range []string{"e1", "e2", "e3"} {
		_, err := l.Append(testEntry(id, "action."+id))
		require.NoError(t, err)
	}

	entries := l.Entries()
	entries[1].Action = "action.forged"

	result := l.VerifyChain(entries)
	require.False(t, result.Valid)
	require.Equal(t, 1, result.InvalidEntries)

	// Untouched prefix stays valid; entry after the tamper still links to
	// the stored (unmodified) hash, so it stays valid too.
	require.True(t, result.Entries[0].Valid)
	require.False(t, result.Entries[1].Valid)
	require.True(t, result.Entries[2].Valid)
}

func TestVerifyChainTamperedHashCascades(t *testing.T) {
	l := New(WithClock(fixedClock(testTime)))
	for _, id := range []string{"e1", "e2", "e3"} {
		_, err := l.Append(testEntry(id, "action."+id))
		require.NoError(t, err)
	}

	entries := l.Entries()
	if entries[1].Hash[0] == 'f' {
		entries[1].Hash = "0" + entries[1].Hash[1:]
	} else {
		entries[1].Hash = "f" + entries[1].Hash[1:]
	}

	result := l.VerifyChain(entries)
	require.False(t, result.Valid)

	// The forged hash invalidates entry 1, and because entry 2 was chained
	// to the original hash, the mismatch cascades.
	require.True(t, result.Entries[0].Valid)
	require.False(t, result.Entries[1].Valid)
	require.False(t, result.Entries[2].Valid)
}

func TestVerifyEntryCollectsAllIssues(t *testing.T) {
	l := New(WithClock(fixedClock(testTime)))

	v := l.VerifyEntry(Entry{ID: "bare", Timestamp: testTime}, digest.GenesisHex)
	require.False(t, v.Valid)
	// Missing hash and missing previous hash both reported in one pass.
	require.GreaterOrEqual(t, len(v.Issues), 2)
}

func TestVerifyEntrySignatureMismatch(t *testing.T) {
	l := New(WithClock(fixedClock(testTime)))
	e, err := l.Append(testEntry("e1", "login.success"))
	require.NoError(t, err)

	if e.Signature[0] == '0' {
		e.Signature = "1" + e.Signature[1:]
	} else {
		e.Signature = "0" + e.Signature[1:]
	}
	v := l.VerifyEntry(e, digest.GenesisHex)
	require.False(t, v.Valid)
	require.Contains(t, v.Issues, "signature mismatch")
}

func TestExportImportRoundTrip(t *testing.T) {
	src := New(WithClock(fixedClock(testTime)))
	for _, id := range []string{"e1", "e2"} {
		_, err := src.Append(testEntry(id, "action."+id))
		require.NoError(t, err)
	}

	data, err := src.Export()
	require.NoError(t, err)

	dst := New(WithClock(fixedClock(testTime)))
	require.NoError(t, dst.Import(data))

	result := dst.Verify()
	require.True(t, result.Valid)
	require.Equal(t, 2, result.TotalEntries)
	require.Equal(t, src.ChainState().ChainHash, dst.ChainState().ChainHash)
}

func TestImportRejectsMismatchedEnvelope(t *testing.T) {
	l := New()
	require.Error(t, l.Import([]byte(`{"version":1,"chain":{"entry_hashes":["abc"]},"entries":[]}`)))
	require.Error(t, l.Import([]byte("not json")))
}

func TestImportIsFullOverwrite(t *testing.T) {
	src := New(WithClock(fixedClock(testTime)))
	_, err := src.Append(testEntry("e1", "a"))
	require.NoError(t, err)
	data, err := src.Export()
	require.NoError(t, err)

	dst := New(WithClock(fixedClock(testTime)))
	for _, id := range []string{"x1", "x2", "x3"} {
		_, err := dst.Append(testEntry(id, "old."+id))
		require.NoError(t, err)
	}

	require.NoError(t, dst.Import(data))
	require.Len(t, dst.Entries(), 1)
	require.Equal(t, "e1", dst.Entries()[0].ID)
}

func TestStoreUnavailableIsNonFatal(t *testing.T) {
	store := storage.NewMemory()
	require.NoError(t, store.Close())

	l := New(WithStore(store), WithClock(fixedClock(testTime)))
	e, err := l.Append(testEntry("e1", "login.success"))

	// Entry is chained in memory even though persistence failed.
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrStoreUnavailable))
	require.NotEmpty(t, e.Hash)
	require.Len(t, l.Entries(), 1)

	result := l.VerifyChain(l.Entries())
	require.True(t, result.Valid)
}

func TestPersistAndReload(t *testing.T) {
	store, err := storage.NewFile(t.TempDir())
	require.NoError(t, err)

	l := New(WithStore(store), WithClock(fixedClock(testTime)))
	_, err = l.Append(testEntry("e1", "login.success"))
	require.NoError(t, err)
	want := l.ChainState().ChainHash

	reloaded := New(WithStore(store), WithClock(fixedClock(testTime)))
	require.Len(t, reloaded.Entries(), 1)
	require.Equal(t, want, reloaded.ChainState().ChainHash)
	require.True(t, reloaded.Verify().Valid)
}

func TestResetClearsChain(t *testing.T) {
	store, err := storage.NewFile(t.TempDir())
	require.NoError(t, err)

	l := New(WithStore(store), WithClock(fixedClock(testTime)))
	_, err = l.Append(testEntry("e1", "a"))
	require.NoError(t, err)

	require.NoError(t, l.Reset())
	require.Empty(t, l.Entries())

	_, found, err := store.Get(DefaultStoreKey)
	require.NoError(t, err)
	require.False(t, found)
}

func TestDegradedDigestFlaggedInReport(t *testing.T) {
	l := New(
		WithDigest(digest.New(digest.WithoutCrypto())),
		WithClock(fixedClock(testTime)),
	)
	_, err := l.Append(testEntry("e1", "a"))
	require.NoError(t, err)

	result := l.VerifyChain(l.Entries())
	require.True(t, result.Degraded)
	require.NotEmpty(t, result.Issues)
	// Entries still internally consistent under the fallback digest.
	require.Zero(t, result.InvalidEntries)
}

func TestExistingButEmptyChainIsSuspicious(t *testing.T) {
	store := storage.NewMemory()

	l := New(WithStore(store), WithClock(fixedClock(testTime)))
	_, err := l.Append(testEntry("e1", "a"))
	require.NoError(t, err)

	// Simulate out-of-band log clearing: the document survives but its
	// entries are gone.
	require.NoError(t, store.Set(DefaultStoreKey, []byte(
		`{"version":1,"chain":{"entry_hashes":[],"created_at":"2025-06-01T12:00:00Z","version":1},"entries":[]}`)))

	reloaded := New(WithStore(store), WithClock(fixedClock(testTime)))
	result := reloaded.Verify()
	require.False(t, result.Valid)
	require.NotEmpty(t, result.Issues)
}

func TestPayloadCanonicalSortsFields(t *testing.T) {
	a := Payload{Kind: "k", Fields: map[string]string{"b": "2", "a": "1"}}
	b := Payload{Kind: "k", Fields: map[string]string{"a": "1", "b": "2"}}
	require.Equal(t, a.canonical(), b.canonical())
	require.Equal(t, "k;a=1;b=2", a.canonical())
}
