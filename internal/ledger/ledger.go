// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ledger implements a tamper-evident, hash-linked audit trail.
//
// Every appended entry carries the hash of its predecessor, so mutating any
// historical entry invalidates its own hash and breaks the link of every
// entry after it. Verification never heals: a detected tamper is reported as
// structured data for the caller to act on.
//
// The per-entry signature is a PLACEHOLDER: it is a digest over the entry
// hash and a secret derived locally from the calendar date, which anyone
// with this code can recompute. It must be replaced by a server-held-key
// signing service before the signature field is trusted for non-repudiation.
// How a real daily secret would be distributed and rotated across devices is
// an unresolved design gap; see SigningNote.
//
// A single local replica owns the chain. Two processes sharing the same
// store can interleave appends last-write-wins; that race is accepted for a
// local-only ledger. storage.Watcher gives embedders read-side consistency.
package ledger

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/pbkdf2"

	"github.com/morganforge/guardrail/internal/digest"
	"github.com/morganforge/guardrail/internal/storage"
)

// =============================================================================
// CONSTANTS
// =============================================================================

const (
	// DefaultStoreKey is the durable-store key holding the chain document.
	DefaultStoreKey = "guardrail.audit_chain"

	// documentVersion identifies the persisted chain document format.
	documentVersion = 1

	// chainHashSeparator joins entry hashes for the rolling chain hash.
	chainHashSeparator = "|"

	// dayKeyIterations is the PBKDF2 round count for the day secret. Low by
	// design: the derivation is a placeholder, not a defense.
	dayKeyIterations = 4096
)

// SigningNote is surfaced in exports and integrity reports so downstream
// consumers cannot mistake the placeholder signature for a real one.
const SigningNote = "signature is derived from a locally computable daily secret; " +
	"not valid for non-repudiation until replaced by server-held-key signing"

// daySalt is the fixed PBKDF2 salt for the placeholder day secret.
var daySalt = []byte("guardrail.day-secret.v1")

// ErrStoreUnavailable marks a persistence failure during Append. The entry
// is still chained in memory; callers check errors.Is against this to tell
// a degraded append from a hard failure.
var ErrStoreUnavailable = storage.ErrUnavailable

// =============================================================================
// TYPES
// =============================================================================

// Payload is the closed audit payload shape. Kind names the event type;
// Fields carry flat string details. The closed shape keeps canonicalization
// (and therefore hashing) deterministic.
type Payload struct {
	Kind   string            `json:"kind"`
	Fields map[string]string `json:"fields,omitempty"`
}

// canonical renders the payload with sorted field keys.
func (p Payload) canonical() string {
	if len(p.Fields) == 0 {
		return p.Kind
	}
	keys := make([]string, 0, len(p.Fields))
	for k := range p.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(p.Kind)
	for _, k := range keys {
		b.WriteByte(';')
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(p.Fields[k])
	}
	return b.String()
}

// Entry is one audit record. PreviousHash, Hash, and Signature are populated
// by Append and never mutated afterward.
type Entry struct {
	ID           string    `json:"id"`
	Timestamp    time.Time `json:"timestamp"`
	Action       string    `json:"action"`
	ActorID      string    `json:"actor_id"`
	Payload      Payload   `json:"payload"`
	PreviousHash string    `json:"previous_hash,omitempty"`
	Hash         string    `json:"hash,omitempty"`
	Signature    string    `json:"signature,omitempty"`
}

// Chain is the integrity metadata over the entry sequence.
type Chain struct {
	EntryHashes []string  `json:"entry_hashes"`
	LastHash    string    `json:"last_hash"`
	ChainHash   string    `json:"chain_hash"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	Version     int       `json:"version"`
}

// document is the persisted shape: chain metadata plus the entries.
type document struct {
	Version int     `json:"version"`
	Chain   Chain   `json:"chain"`
	Entries []Entry `json:"entries"`
}

// Verification is the integrity report for a single entry. Issues collects
// every problem found; nothing short-circuits.
type Verification struct {
	EntryID string   `json:"entry_id"`
	Valid   bool     `json:"valid"`
	Issues  []string `json:"issues,omitempty"`
}

// ChainVerification is the integrity report for a whole entry sequence.
type ChainVerification struct {
	Valid          bool           `json:"valid"`
	TotalEntries   int            `json:"total_entries"`
	ValidEntries   int            `json:"valid_entries"`
	InvalidEntries int            `json:"invalid_entries"`
	Entries        []Verification `json:"entries,omitempty"`
	Issues         []string       `json:"issues,omitempty"`
	Degraded       bool           `json:"degraded,omitempty"`
}

// =============================================================================
// LEDGER
// =============================================================================

// Recorder receives guard-internal events (append, verify, import). The
// caller wires it to its own logging.
type Recorder func(event string, fields map[string]string)

// Ledger is the hash-chain guard. Safe for concurrent use within a process;
// cross-process writers race last-write-wins (see package comment).
type Ledger struct {
	mu       sync.Mutex
	digests  *digest.Provider
	store    storage.Store
	storeKey string
	now      func() time.Time
	record   Recorder

	chain   Chain
	entries []Entry
	loaded  bool
}

// Option is a functional option for configuring a Ledger.
type Option func(*Ledger)

// WithStore sets the durable store backing the chain.
func WithStore(s storage.Store) Option {
	return func(l *Ledger) { l.store = s }
}

// WithStoreKey overrides the store key for the chain document.
func WithStoreKey(key string) Option {
	return func(l *Ledger) { l.storeKey = key }
}

// WithDigest sets the digest provider.
func WithDigest(p *digest.Provider) Option {
	return func(l *Ledger) { l.digests = p }
}

// WithClock overrides the clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// WithRecorder sets the internal event recorder.
func WithRecorder(r Recorder) Option {
	return func(l *Ledger) { l.record = r }
}

// New creates a ledger. Without WithStore it runs memory-only.
func New(opts ...Option) *Ledger {
	l := &Ledger{
		digests:  digest.New(),
		store:    storage.NewMemory(),
		storeKey: DefaultStoreKey,
		now:      time.Now,
		record:   func(string, map[string]string) {},
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// loadLocked pulls the persisted document into memory on first use.
func (l *Ledger) loadLocked() {
	if l.loaded {
		return
	}
	l.loaded = true

	data, found, err := l.store.Get(l.storeKey)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[GUARD WARN] audit chain load failed, starting empty: %v\n", err)
		return
	}
	if !found {
		return
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		fmt.Fprintf(os.Stderr, "[GUARD WARN] audit chain document unreadable, starting empty: %v\n", err)
		return
	}
	l.chain = doc.Chain
	l.entries = doc.Entries
}

// persistLocked writes the chain document. Returns a wrapped
// ErrStoreUnavailable on failure; the in-memory chain stays authoritative.
func (l *Ledger) persistLocked() error {
	doc := document{Version: documentVersion, Chain: l.chain, Entries: l.entries}
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("%w: encode chain: %v", ErrStoreUnavailable, err)
	}
	if err := l.store.Set(l.storeKey, data); err != nil {
		return fmt.Errorf("persist chain: %w", err)
	}
	return nil
}

// =============================================================================
// APPEND
// =============================================================================

// NewEntry builds an unchained entry with a fresh ID and the current time.
func (l *Ledger) NewEntry(action, actorID string, payload Payload) Entry {
	return Entry{
		ID:        uuid.NewString(),
		Timestamp: l.now().UTC(),
		Action:    action,
		ActorID:   actorID,
		Payload:   payload,
	}
}

// Append chains and persists an entry, returning it fully populated.
//
// Missing ID/Timestamp are filled in. The only failure mode is storage
// unavailability, which is non-fatal: the returned entry is chained in
// memory and the error wraps ErrStoreUnavailable.
func (l *Ledger) Append(e Entry) (Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.loadLocked()

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = l.now().UTC()
	}

	if len(l.chain.EntryHashes) == 0 {
		e.PreviousHash = digest.GenesisHex
		if l.chain.CreatedAt.IsZero() {
			l.chain.CreatedAt = l.now().UTC()
		}
	} else {
		e.PreviousHash = l.chain.LastHash
	}

	e.Hash = l.entryHash(e)
	e.Signature = l.sign(e.Hash, e.Timestamp)

	l.entries = append(l.entries, e)
	l.chain.EntryHashes = append(l.chain.EntryHashes, e.Hash)
	l.chain.LastHash = e.Hash
	l.chain.ChainHash = l.digests.SumString(strings.Join(l.chain.EntryHashes, chainHashSeparator)).Hex
	l.chain.UpdatedAt = l.now().UTC()
	l.chain.Version = documentVersion

	l.record("audit.append", map[string]string{"entry": e.ID, "action": e.Action})

	if err := l.persistLocked(); err != nil {
		fmt.Fprintf(os.Stderr, "[GUARD WARN] audit chain not persisted (in-memory only): %v\n", err)
		return e, err
	}
	return e, nil
}

// entryHash digests the canonical form of the entry's chained fields.
// Field order is fixed; changing it invalidates every existing chain.
func (l *Ledger) entryHash(e Entry) string {
	canonical := strings.Join([]string{
		e.ID,
		e.Timestamp.UTC().Format(time.RFC3339Nano),
		e.Action,
		e.ActorID,
		e.Payload.canonical(),
		e.PreviousHash,
	}, "|")
	return l.digests.SumString(canonical).Hex
}

// sign produces the placeholder signature: a digest of the entry hash
// concatenated with a secret derived from the entry's calendar date. See
// SigningNote.
func (l *Ledger) sign(hash string, at time.Time) string {
	return l.digests.SumString(hash + daySecret(at)).Hex
}

// daySecret derives the placeholder per-day secret with PBKDF2 over the
// UTC calendar date.
func daySecret(at time.Time) string {
	day := at.UTC().Format("2006-01-02")
	key := pbkdf2.Key([]byte(day), daySalt, dayKeyIterations, 32, sha256.New)
	return fmt.Sprintf("%x", key)
}

// =============================================================================
// VERIFICATION
// =============================================================================

// VerifyEntry checks one entry against an expected previous hash. Every
// mismatch found is collected into Issues; nothing short-circuits.
func (l *Ledger) VerifyEntry(e Entry, expectedPrev string) Verification {
	v := Verification{EntryID: e.ID}

	if e.Hash == "" {
		v.Issues = append(v.Issues, "entry hash missing")
	}
	if e.PreviousHash == "" {
		v.Issues = append(v.Issues, "previous hash missing")
	} else if e.PreviousHash != expectedPrev {
		v.Issues = append(v.Issues, fmt.Sprintf("previous hash mismatch: have %.12s, want %.12s", e.PreviousHash, expectedPrev))
	}

	if recomputed := l.entryHash(e); e.Hash != "" && recomputed != e.Hash {
		v.Issues = append(v.Issues, "entry hash does not match recomputed content hash")
	}

	if e.Hash != "" {
		if want := l.sign(e.Hash, e.Timestamp); e.Signature != want {
			v.Issues = append(v.Issues, "signature mismatch")
		}
	}

	v.Valid = len(v.Issues) == 0
	return v
}

// VerifyChain walks entries in order from the genesis hash. An entry whose
// stored hash is wrong still supplies that stored hash as the next entry's
// expected previous, so a tamper at position k flags k and cascades into
// the entries after it instead of hiding the chain structure.
func (l *Ledger) VerifyChain(entries []Entry) ChainVerification {
	cv := ChainVerification{
		TotalEntries: len(entries),
		Degraded:     !l.digests.CryptoAvailable(),
	}
	if cv.Degraded {
		cv.Issues = append(cv.Issues, "digest provider is in degraded fallback mode; tamper evidence is weakened")
	}

	expectedPrev := digest.GenesisHex
	for _, e := range entries {
		v := l.VerifyEntry(e, expectedPrev)
		cv.Entries = append(cv.Entries, v)
		if v.Valid {
			cv.ValidEntries++
		} else {
			cv.InvalidEntries++
			cv.Issues = append(cv.Issues, fmt.Sprintf("entry %s: %s", e.ID, strings.Join(v.Issues, "; ")))
		}
		if e.Hash != "" {
			expectedPrev = e.Hash
		}
	}

	cv.Valid = cv.InvalidEntries == 0
	l.record("audit.verify_chain", map[string]string{
		"total":   fmt.Sprintf("%d", cv.TotalEntries),
		"invalid": fmt.Sprintf("%d", cv.InvalidEntries),
	})
	return cv
}

// Verify runs VerifyChain over the ledger's own stored entries. A missing
// chain is valid (fresh install); a chain document that exists but holds no
// entries is reported as suspicious, since clearing the ledger is itself a
// tamper vector.
func (l *Ledger) Verify() ChainVerification {
	l.mu.Lock()
	l.loadLocked()
	entries := make([]Entry, len(l.entries))
	copy(entries, l.entries)
	hadDocument := len(l.chain.EntryHashes) > 0 || !l.chain.CreatedAt.IsZero()
	l.mu.Unlock()

	cv := l.VerifyChain(entries)
	if hadDocument && len(entries) == 0 {
		cv.Issues = append(cv.Issues, "chain document exists but holds no entries (possible log clearing)")
		cv.Valid = false
	}
	return cv
}

// =============================================================================
// EXPORT / IMPORT / RESET
// =============================================================================

// exportEnvelope is the serialized shape handed to whatever transport the
// surrounding system uses for backend sync.
type exportEnvelope struct {
	Version     int       `json:"version"`
	ExportedAt  time.Time `json:"exported_at"`
	SigningNote string    `json:"signing_note"`
	Chain       Chain     `json:"chain"`
	Entries     []Entry   `json:"entries"`
}

// Export serializes the chain and its entries for backend synchronization.
func (l *Ledger) Export() ([]byte, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.loadLocked()

	env := exportEnvelope{
		Version:     documentVersion,
		ExportedAt:  l.now().UTC(),
		SigningNote: SigningNote,
		Chain:       l.chain,
		Entries:     l.entries,
	}
	data, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("export chain: %w", err)
	}
	return data, nil
}

// Import replaces local state with an exported chain. Full overwrite, no
// merge: a local single-writer chain has no concurrent-branch concept.
func (l *Ledger) Import(data []byte) error {
	var env exportEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("import chain: %w", err)
	}
	if env.Version != documentVersion {
		return fmt.Errorf("import chain: unsupported version %d", env.Version)
	}
	if len(env.Chain.EntryHashes) != len(env.Entries) {
		return fmt.Errorf("import chain: %d entry hashes but %d entries", len(env.Chain.EntryHashes), len(env.Entries))
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.loaded = true
	l.chain = env.Chain
	l.entries = env.Entries
	l.record("audit.import", map[string]string{"entries": fmt.Sprintf("%d", len(env.Entries))})

	if err := l.persistLocked(); err != nil {
		fmt.Fprintf(os.Stderr, "[GUARD WARN] imported chain not persisted (in-memory only): %v\n", err)
		return err
	}
	return nil
}

// Reset clears the chain and removes the persisted document.
func (l *Ledger) Reset() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.loaded = true
	l.chain = Chain{}
	l.entries = nil
	l.record("audit.reset", nil)

	if err := l.store.Delete(l.storeKey); err != nil {
		return fmt.Errorf("reset chain: %w", err)
	}
	return nil
}

// =============================================================================
// ACCESSORS
// =============================================================================

// Entries returns a copy of the chained entries in append order.
func (l *Ledger) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.loadLocked()

	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// ChainState returns a copy of the chain metadata.
func (l *Ledger) ChainState() Chain {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.loadLocked()

	c := l.chain
	c.EntryHashes = append([]string(nil), l.chain.EntryHashes...)
	return c
}
