// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package throttle enforces adaptive login throttling: capped exponential
// backoff on repeated failures and a hard lockout at the attempt limit.
//
// Per identifier the state machine is CLEAN -> FAILING(n) -> LOCKED -> CLEAN
// (on lock expiry, recorded success, or explicit clear). Waits are expressed
// as data the caller polls against; the guard never owns a timer.
package throttle

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/morganforge/guardrail/internal/storage"
)

// =============================================================================
// CONSTANTS
// =============================================================================

const (
	// MaxAttempts is the default failure count that triggers a lockout.
	MaxAttempts = 5

	// LockoutDuration is the default lock length.
	LockoutDuration = 15 * time.Minute

	// BaseDelay is the first backoff step.
	BaseDelay = 1 * time.Second

	// maxBackoffExponent caps the backoff doubling (1,2,4,8,16...16s).
	maxBackoffExponent = 4

	// DefaultStoreKey is the durable-store key for the throttle table.
	DefaultStoreKey = "guardrail.throttle"

	// tableVersion identifies the persisted table format.
	tableVersion = 1
)

// =============================================================================
// TYPES
// =============================================================================

// Record is the per-identifier throttle state.
type Record struct {
	FailureCount  int       `json:"failure_count"`
	LastAttemptAt time.Time `json:"last_attempt_at"`
	LockedUntil   time.Time `json:"locked_until,omitempty"`
}

// table is the persisted shape: all records in one document. The table is
// advisory client state, so unlike the audit chain it carries no integrity
// envelope.
type table struct {
	Version int               `json:"version"`
	Records map[string]Record `json:"records"`
}

// Decision is the structured result of a pre-attempt check. Denials carry a
// wait the caller renders as a countdown, never an exception.
type Decision struct {
	Allowed           bool          `json:"allowed"`
	WaitTime          time.Duration `json:"wait_time,omitempty"`
	AttemptsRemaining int           `json:"attempts_remaining"`
	LockedUntil       time.Time     `json:"locked_until,omitempty"`
}

// FailureResult is the structured result of recording a failed attempt.
type FailureResult struct {
	Locked            bool          `json:"locked"`
	AttemptsRemaining int           `json:"attempts_remaining"`
	LockedUntil       time.Time     `json:"locked_until,omitempty"`
	WaitTime          time.Duration `json:"wait_time,omitempty"`
}

// =============================================================================
// GUARD
// =============================================================================

// Guard tracks failed attempts per identifier. Safe for concurrent use.
type Guard struct {
	mu       sync.Mutex
	store    storage.Store
	storeKey string
	now      func() time.Time

	maxAttempts int
	lockout     time.Duration

	records map[string]Record
	loaded  bool

	// Optional scripted-hammering absorber in front of the backoff logic.
	// Only ever tightens a decision, never loosens one.
	burstLimit rate.Limit
	burstSize  int
	limiters   map[string]*rate.Limiter
}

// Option is a functional option for configuring a Guard.
type Option func(*Guard)

// WithStore sets the durable store backing the throttle table.
func WithStore(s storage.Store) Option {
	return func(g *Guard) { g.store = s }
}

// WithStoreKey overrides the store key for the throttle table.
func WithStoreKey(key string) Option {
	return func(g *Guard) { g.storeKey = key }
}

// WithClock overrides the clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(g *Guard) { g.now = now }
}

// WithMaxAttempts overrides the failure count that triggers a lockout.
// Non-positive values keep the default.
func WithMaxAttempts(n int) Option {
	return func(g *Guard) {
		if n > 0 {
			g.maxAttempts = n
		}
	}
}

// WithLockoutDuration overrides the lock length. Non-positive values keep
// the default.
func WithLockoutDuration(d time.Duration) Option {
	return func(g *Guard) {
		if d > 0 {
			g.lockout = d
		}
	}
}

// WithBurstLimit enables a per-identifier token bucket in front of Check.
// It absorbs scripted hammering between backoff probes; disabled by default.
func WithBurstLimit(limit rate.Limit, burst int) Option {
	return func(g *Guard) {
		g.burstLimit = limit
		g.burstSize = burst
		g.limiters = make(map[string]*rate.Limiter)
	}
}

// New creates a throttle guard. Without WithStore it runs memory-only.
func New(opts ...Option) *Guard {
	g := &Guard{
		store:       storage.NewMemory(),
		storeKey:    DefaultStoreKey,
		now:         time.Now,
		maxAttempts: MaxAttempts,
		lockout:     LockoutDuration,
		records:     make(map[string]Record),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// delay returns the backoff wait after n consecutive failures:
// BaseDelay * 2^min(n-1, 4), so 1s,2s,4s,8s,16s and capped at 16s.
func delay(n int) time.Duration {
	if n <= 0 {
		return 0
	}
	exp := n - 1
	if exp > maxBackoffExponent {
		exp = maxBackoffExponent
	}
	return BaseDelay * (1 << exp)
}

func (g *Guard) loadLocked() {
	if g.loaded {
		return
	}
	g.loaded = true

	data, found, err := g.store.Get(g.storeKey)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[GUARD WARN] throttle table load failed, starting empty: %v\n", err)
		return
	}
	if !found {
		return
	}

	var t table
	if err := json.Unmarshal(data, &t); err != nil {
		fmt.Fprintf(os.Stderr, "[GUARD WARN] throttle table unreadable, starting empty: %v\n", err)
		return
	}
	if t.Records != nil {
		g.records = t.Records
	}
}

// persistLocked writes the table. Failures degrade to in-memory-only effect.
func (g *Guard) persistLocked() {
	t := table{Version: tableVersion, Records: g.records}
	data, err := json.Marshal(t)
	if err == nil {
		err = g.store.Set(g.storeKey, data)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "[GUARD WARN] throttle table not persisted (in-memory only): %v\n", err)
	}
}

// limiterLocked returns the burst limiter for id, if burst limiting is on.
func (g *Guard) limiterLocked(id string) *rate.Limiter {
	if g.limiters == nil {
		return nil
	}
	lim, ok := g.limiters[id]
	if !ok {
		lim = rate.NewLimiter(g.burstLimit, g.burstSize)
		g.limiters[id] = lim
	}
	return lim
}

// =============================================================================
// OPERATIONS
// =============================================================================

// Check decides whether an attempt for id may proceed right now.
//
// A live lock denies with the remaining wait; an expired lock clears the
// record and allows. With prior failures, the attempt is denied until
// delay(failureCount) has elapsed since the last attempt.
func (g *Guard) Check(id string) Decision {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.loadLocked()

	now := g.now()
	rec, ok := g.records[id]
	if !ok {
		return g.burstCheckLocked(id, Decision{Allowed: true, AttemptsRemaining: g.maxAttempts})
	}

	if !rec.LockedUntil.IsZero() {
		if now.Before(rec.LockedUntil) {
			return Decision{
				Allowed:     false,
				WaitTime:    rec.LockedUntil.Sub(now),
				LockedUntil: rec.LockedUntil,
			}
		}
		// Lock expired: full reset.
		delete(g.records, id)
		g.persistLocked()
		return g.burstCheckLocked(id, Decision{Allowed: true, AttemptsRemaining: g.maxAttempts})
	}

	remaining := g.maxAttempts - rec.FailureCount
	if rec.FailureCount > 0 {
		if retryAt := rec.LastAttemptAt.Add(delay(rec.FailureCount)); now.Before(retryAt) {
			return Decision{
				Allowed:           false,
				WaitTime:          retryAt.Sub(now),
				AttemptsRemaining: remaining,
			}
		}
	}
	return g.burstCheckLocked(id, Decision{Allowed: true, AttemptsRemaining: remaining})
}

// burstCheckLocked applies the optional token bucket to an otherwise-allowed
// decision. A denied token converts the allow into a short deny; it never
// converts a deny into an allow.
func (g *Guard) burstCheckLocked(id string, d Decision) Decision {
	lim := g.limiterLocked(id)
	if lim == nil || !d.Allowed {
		return d
	}
	if !lim.Allow() {
		d.Allowed = false
		if d.WaitTime <= 0 {
			d.WaitTime = BaseDelay
		}
	}
	return d
}

// RecordFailure records a failed attempt for id. The attempt-limit-th
// failure locks the identifier for the configured lockout duration.
func (g *Guard) RecordFailure(id string) FailureResult {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.loadLocked()

	now := g.now()
	rec := g.records[id]
	rec.FailureCount++
	rec.LastAttemptAt = now

	if rec.FailureCount >= g.maxAttempts {
		rec.LockedUntil = now.Add(g.lockout)
		g.records[id] = rec
		g.persistLocked()
		return FailureResult{
			Locked:      true,
			LockedUntil: rec.LockedUntil,
			WaitTime:    g.lockout,
		}
	}

	g.records[id] = rec
	g.persistLocked()
	return FailureResult{
		AttemptsRemaining: g.maxAttempts - rec.FailureCount,
		WaitTime:          delay(rec.FailureCount),
	}
}

// RecordSuccess clears id entirely. A single success forgives all prior
// failures, full reset rather than decrement.
func (g *Guard) RecordSuccess(id string) {
	g.Clear(id)
}

// Clear removes id's record. Idempotent; used for administrative override.
func (g *Guard) Clear(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.loadLocked()

	if _, ok := g.records[id]; ok {
		delete(g.records, id)
		g.persistLocked()
	}
	if g.limiters != nil {
		delete(g.limiters, id)
	}
}

// Limits returns the configured attempt limit and lockout duration.
func (g *Guard) Limits() (int, time.Duration) {
	return g.maxAttempts, g.lockout
}

// Status returns a copy of id's record and whether one exists.
func (g *Guard) Status(id string) (Record, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.loadLocked()

	rec, ok := g.records[id]
	return rec, ok
}

// Identifiers returns every identifier currently carrying throttle state.
func (g *Guard) Identifiers() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.loadLocked()

	out := make([]string, 0, len(g.records))
	for id := range g.records {
		out = append(out, id)
	}
	return out
}
