// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stepup

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/pquerna/otp/totp"

	"github.com/morganforge/guardrail/internal/fingerprint"
	"github.com/morganforge/guardrail/internal/storage"
)

// =============================================================================
// SESSION
// =============================================================================

// Method identifies how the second factor was verified.
type Method string

const (
	MethodTOTP       Method = "totp"
	MethodBackupCode Method = "backup_code"
	MethodWebAuthn   Method = "webauthn"
)

// Session is the proof that a second factor was verified recently. Lives in
// ephemeral storage so it dies with the browser session.
type Session struct {
	VerifiedAt        time.Time                `json:"verified_at"`
	ExpiresAt         time.Time                `json:"expires_at"`
	Method            Method                   `json:"method"`
	DeviceFingerprint *fingerprint.Fingerprint `json:"device_fingerprint,omitempty"`
}

// Live reports whether the session is still valid at the given instant.
func (s Session) Live(now time.Time) bool {
	return now.Before(s.ExpiresAt)
}

// =============================================================================
// GATE
// =============================================================================

// DefaultStoreKey is the ephemeral-store key holding the step-up session.
const DefaultStoreKey = "guardrail.stepup_session"

// Gate owns the step-up session lifecycle and answers whether an action
// needs step-up verification right now. Safe for concurrent use.
type Gate struct {
	mu       sync.Mutex
	store    storage.Store
	storeKey string
	now      func() time.Time
	registry *Registry
	matcher  *fingerprint.Matcher
	duration time.Duration
}

// Option is a functional option for configuring a Gate.
type Option func(*Gate)

// WithStore sets the ephemeral store holding the session.
func WithStore(s storage.Store) Option {
	return func(g *Gate) { g.store = s }
}

// WithStoreKey overrides the session store key.
func WithStoreKey(key string) Option {
	return func(g *Gate) { g.storeKey = key }
}

// WithClock overrides the clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(g *Gate) { g.now = now }
}

// WithRegistry overrides the protected-action registry.
func WithRegistry(r *Registry) Option {
	return func(g *Gate) { g.registry = r }
}

// WithMatcher sets the fingerprint matcher used by ValidateDevice.
func WithMatcher(m *fingerprint.Matcher) Option {
	return func(g *Gate) { g.matcher = m }
}

// WithSessionDuration overrides the session lifetime.
func WithSessionDuration(d time.Duration) Option {
	return func(g *Gate) {
		if d > 0 {
			g.duration = d
		}
	}
}

// New creates a step-up gate over an ephemeral store.
func New(opts ...Option) *Gate {
	g := &Gate{
		store:    storage.NewMemory(),
		storeKey: DefaultStoreKey,
		now:      time.Now,
		registry: DefaultRegistry(),
		matcher:  fingerprint.NewMatcher(nil),
		duration: SessionDuration,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// loadLocked reads the stored session, dropping it if expired or unreadable.
func (g *Gate) loadLocked() (Session, bool) {
	data, found, err := g.store.Get(g.storeKey)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[GUARD WARN] step-up session load failed: %v\n", err)
		return Session{}, false
	}
	if !found {
		return Session{}, false
	}

	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		g.store.Delete(g.storeKey)
		return Session{}, false
	}
	if !s.Live(g.now()) {
		g.store.Delete(g.storeKey)
		return Session{}, false
	}
	return s, true
}

// saveLocked persists the session. A store failure degrades to no session
// rather than crashing the gate.
func (g *Gate) saveLocked(s Session) {
	data, err := json.Marshal(s)
	if err == nil {
		err = g.store.Set(g.storeKey, data)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "[GUARD WARN] step-up session not persisted: %v\n", err)
	}
}

// =============================================================================
// LIFECYCLE
// =============================================================================

// Start records a fresh verification, optionally bound to a device
// fingerprint. Expiry is now + the configured session duration.
func (g *Gate) Start(method Method, fp *fingerprint.Fingerprint) Session {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	s := Session{
		VerifiedAt:        now,
		ExpiresAt:         now.Add(g.duration),
		Method:            method,
		DeviceFingerprint: fp,
	}
	g.saveLocked(s)
	return s
}

// Extend slides the expiry forward from now without re-verifying the factor.
// No-op if no live session exists.
func (g *Gate) Extend() (Session, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	s, ok := g.loadLocked()
	if !ok {
		return Session{}, false
	}
	s.ExpiresAt = g.now().Add(g.duration)
	g.saveLocked(s)
	return s, true
}

// Clear drops the session. Used on logout and explicit invalidation.
func (g *Gate) Clear() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.store.Delete(g.storeKey)
}

// Session returns the live session, if any. Expiry is checked at call time.
func (g *Gate) Session() (Session, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.loadLocked()
}

// =============================================================================
// DECISIONS
// =============================================================================

// NeedsStepUp reports whether actionID requires step-up verification before
// proceeding: the action is protected, the user has MFA enabled, and no
// live session exists.
func (g *Gate) NeedsStepUp(actionID string, userHasMFA bool) bool {
	if !userHasMFA {
		return false
	}
	if !g.registry.IsProtected(actionID) {
		return false
	}
	_, live := g.Session()
	return !live
}

// Registry returns the gate's protected-action registry.
func (g *Gate) Registry() *Registry {
	return g.registry
}

// EvaluatePolicy evaluates the role MFA policy against the gate's clock.
func (g *Gate) EvaluatePolicy(role string, mfaEnabled bool, accountCreatedAt time.Time) PolicyDecision {
	return EvaluatePolicy(role, mfaEnabled, accountCreatedAt, g.now())
}

// ValidateDevice compares the session's bound fingerprint against the
// current device. A session without a bound fingerprint validates trivially;
// no session at all does not validate.
func (g *Gate) ValidateDevice(current fingerprint.Fingerprint, tol fingerprint.Tolerance) (fingerprint.Match, bool) {
	s, ok := g.Session()
	if !ok {
		return fingerprint.Match{Tolerance: tol}, false
	}
	if s.DeviceFingerprint == nil {
		return fingerprint.Match{Valid: true, Similarity: 100, Tolerance: tol}, true
	}
	return g.matcher.Compare(*s.DeviceFingerprint, current, tol), true
}

// =============================================================================
// TOTP
// =============================================================================

// VerifyTOTP validates a one-time code against a shared secret. On success
// the caller starts a session with MethodTOTP.
func VerifyTOTP(secret, code string) bool {
	return totp.Validate(code, secret)
}

// GenerateTOTPSecret provisions a new TOTP key for enrollment and returns
// the shared secret plus the otpauth:// provisioning URL.
func GenerateTOTPSecret(issuer, account string) (secret, url string, err error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      issuer,
		AccountName: account,
	})
	if err != nil {
		return "", "", fmt.Errorf("generate totp secret: %w", err)
	}
	return key.Secret(), key.URL(), nil
}
