// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stepup

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/morganforge/guardrail/internal/fingerprint"
	"github.com/morganforge/guardrail/internal/storage"
)

type gateClock struct {
	now time.Time
}

func (c *gateClock) Now() time.Time          { return c.now }
func (c *gateClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestGate(opts ...Option) (*Gate, *gateClock) {
	clock := &gateClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	opts = append(opts, WithClock(clock.Now))
	return New(opts...), clock
}

func TestStartAndSession(t *testing.T) {
	g, clock := newTestGate()

	s := g.Start(MethodTOTP, nil)
	require.Equal(t, clock.Now(), s.VerifiedAt)
	require.Equal(t, clock.Now().Add(SessionDuration), s.ExpiresAt)

	got, ok := g.Session()
	require.True(t, ok)
	require.Equal(t, MethodTOTP, got.Method)
}

func TestSessionExpiryCheckedAtCallTime(t *testing.T) {
	g, clock := newTestGate()
	g.Start(MethodTOTP, nil)

	clock.Advance(SessionDuration - time.Second)
	_, ok := g.Session()
	require.True(t, ok, "session dropped before expiry")

	clock.Advance(2 * time.Second)
	_, ok = g.Session()
	require.False(t, ok, "session survived past expiry")
}

func TestExtendSlidesExpiry(t *testing.T) {
	g, clock := newTestGate()
	g.Start(MethodTOTP, nil)

	clock.Advance(10 * time.Minute)
	s, ok := g.Extend()
	require.True(t, ok)
	require.Equal(t, clock.Now().Add(SessionDuration), s.ExpiresAt)

	// Without the extend this would have been past the original expiry.
	clock.Advance(10 * time.Minute)
	_, ok = g.Session()
	require.True(t, ok)
}

func TestExtendWithoutSessionIsNoop(t *testing.T) {
	g, _ := newTestGate()
	_, ok := g.Extend()
	require.False(t, ok)
}

func TestClearDropsSession(t *testing.T) {
	g, _ := newTestGate()
	g.Start(MethodBackupCode, nil)

	g.Clear()
	_, ok := g.Session()
	require.False(t, ok)
}

func TestNeedsStepUp(t *testing.T) {
	g, clock := newTestGate()

	// No MFA enrolled: step-up is impossible, never demanded.
	require.False(t, g.NeedsStepUp("billing.issue_refund", false))

	// Unprotected action never needs step-up.
	require.False(t, g.NeedsStepUp("records.view", true))

	// Protected action with no live session.
	require.True(t, g.NeedsStepUp("billing.issue_refund", true))

	// Fresh session satisfies the gate.
	g.Start(MethodTOTP, nil)
	require.False(t, g.NeedsStepUp("billing.issue_refund", true))

	// Expiry re-opens the gate.
	clock.Advance(SessionDuration + time.Second)
	require.True(t, g.NeedsStepUp("billing.issue_refund", true))
}

func TestValidateDevice(t *testing.T) {
	m := fingerprint.NewMatcher(nil)
	g, _ := newTestGate(WithMatcher(m))

	sig := fingerprint.Signals{
		Platform:    "linux/amd64",
		Timezone:    "America/New_York",
		ScreenW:     2560,
		ScreenH:     1440,
		Concurrency: 16,
		GPURenderer: "NVIDIA GeForce RTX 4070",
	}
	fp := m.Compute(sig)

	// No session: nothing to validate against.
	_, ok := g.ValidateDevice(fp, fingerprint.Strict)
	require.False(t, ok)

	// Session without a bound fingerprint validates trivially.
	g.Start(MethodTOTP, nil)
	match, ok := g.ValidateDevice(fp, fingerprint.Strict)
	require.True(t, ok)
	require.True(t, match.Valid)
	require.Equal(t, 100, match.Similarity)

	// Bound fingerprint: same device validates.
	g.Start(MethodTOTP, &fp)
	match, ok = g.ValidateDevice(fp, fingerprint.Strict)
	require.True(t, ok)
	require.True(t, match.Valid)

	// Different device fails strict validation.
	other := m.Compute(fingerprint.Signals{
		Platform:    "darwin/arm64",
		Timezone:    "Asia/Tokyo",
		ScreenW:     1512,
		ScreenH:     982,
		Concurrency: 8,
		GPURenderer: "Apple M3",
	})
	match, ok = g.ValidateDevice(other, fingerprint.Strict)
	require.True(t, ok)
	require.False(t, match.Valid)
}

func TestSessionPersistsAcrossGates(t *testing.T) {
	store := storage.NewMemory()
	clock := &gateClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}

	g1 := New(WithStore(store), WithClock(clock.Now))
	g1.Start(MethodWebAuthn, nil)

	g2 := New(WithStore(store), WithClock(clock.Now))
	s, ok := g2.Session()
	require.True(t, ok)
	require.Equal(t, MethodWebAuthn, s.Method)
}

func TestCorruptSessionDropped(t *testing.T) {
	store := storage.NewMemory()
	require.NoError(t, store.Set(DefaultStoreKey, []byte("not json")))

	g := New(WithStore(store))
	_, ok := g.Session()
	require.False(t, ok)

	// The corrupt record was purged, not just skipped.
	_, found, err := store.Get(DefaultStoreKey)
	require.NoError(t, err)
	require.False(t, found)
}

func TestCustomRegistryViaGate(t *testing.T) {
	r := DefaultRegistry()
	r.Register("records.purge", ClassBulkData)
	g, _ := newTestGate(WithRegistry(r))

	require.True(t, g.NeedsStepUp("records.purge", true))
	require.False(t, g.NeedsStepUp("records.view", true))
}

func TestGenerateTOTPSecret(t *testing.T) {
	secret, url, err := GenerateTOTPSecret("GuardRail", "user@example.com")
	require.NoError(t, err)
	require.NotEmpty(t, secret)
	require.Contains(t, url, "otpauth://totp/")
	require.Contains(t, url, "GuardRail")

	// A malformed code never validates.
	require.False(t, VerifyTOTP(secret, "123"))
}
