// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package digest provides the one-way hash primitive shared by the
// guardrail guards.
//
// The primary mode is SHA-256. When the cryptographic primitive is
// unavailable the provider degrades to a fast FNV-1a rolling hash that is
// NOT collision-resistant; degraded digests keep the same fixed width so
// downstream code never has to special-case them, but a chain built on
// fallback digests no longer carries a tamper-evidence guarantee. The mode
// that produced a digest is reported on every Result so integrity reports
// can flag the weakness.
package digest

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"hash/fnv"
	"os"
	"strings"
	"sync"
)

// =============================================================================
// CONSTANTS
// =============================================================================

// HexLen is the fixed length of every digest in hex characters (256 bits).
const HexLen = 64

// GenesisHex is the all-zero digest used as the previous hash of the first
// entry in a hash chain.
var GenesisHex = strings.Repeat("0", HexLen)

// =============================================================================
// MODE
// =============================================================================

// Mode identifies which primitive produced a digest.
type Mode int

const (
	// ModeSHA256 is the normal cryptographic mode.
	ModeSHA256 Mode = iota
	// ModeFallback is the degraded non-cryptographic rolling hash.
	ModeFallback
)

// String returns the string representation of the digest mode.
func (m Mode) String() string {
	switch m {
	case ModeSHA256:
		return "sha256"
	case ModeFallback:
		return "fallback"
	default:
		return "unknown"
	}
}

// =============================================================================
// RESULT
// =============================================================================

// Result is a tagged digest value. Callers that care about integrity
// guarantees check Mode; callers that only need a stable identifier use Hex.
type Result struct {
	Hex  string `json:"hex"`
	Mode Mode   `json:"mode"`
}

// Degraded returns true if the digest was produced by the fallback hash.
func (r Result) Degraded() bool {
	return r.Mode == ModeFallback
}

// =============================================================================
// PROVIDER
// =============================================================================

// Provider computes fixed-width digests. The zero value is not usable; use New.
type Provider struct {
	cryptoAvailable bool
	warnOnce        sync.Once
}

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithoutCrypto forces the provider into degraded fallback mode. This models
// a platform where the cryptographic digest primitive is unavailable and
// exists so the degraded path stays testable.
func WithoutCrypto() Option {
	return func(p *Provider) {
		p.cryptoAvailable = false
	}
}

// New creates a digest provider. SHA-256 is used unless WithoutCrypto is set.
func New(opts ...Option) *Provider {
	p := &Provider{cryptoAvailable: true}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// CryptoAvailable reports whether the provider hashes with SHA-256.
func (p *Provider) CryptoAvailable() bool {
	return p.cryptoAvailable
}

// Sum computes the digest of data. Never fails: if the cryptographic
// primitive is unavailable it returns a degraded fallback digest and warns
// once per provider, since fallback digests break the tamper-evidence
// guarantee of the audit chain.
func (p *Provider) Sum(data []byte) Result {
	if p.cryptoAvailable {
		sum := sha256.Sum256(data)
		return Result{Hex: hex.EncodeToString(sum[:]), Mode: ModeSHA256}
	}

	p.warnOnce.Do(func() {
		fmt.Fprintf(os.Stderr, "[DIGEST WARN] cryptographic digest unavailable - using non-cryptographic fallback (tamper evidence degraded)\n")
	})
	return Result{Hex: fallbackSum(data), Mode: ModeFallback}
}

// SumString is a convenience wrapper over Sum for string input.
func (p *Provider) SumString(s string) Result {
	return p.Sum([]byte(s))
}

// =============================================================================
// FALLBACK HASH
// =============================================================================

// fallbackSum stretches a 64-bit FNV-1a hash to the fixed 256-bit hex width
// by chaining four rounds, each seeded with the previous round's value.
// Deterministic but NOT collision-resistant.
func fallbackSum(data []byte) string {
	var out [32]byte
	var prev uint64

	for round := 0; round < 4; round++ {
		h := fnv.New64a()

		var seed [8]byte
		binary.BigEndian.PutUint64(seed[:], prev+uint64(round)+1)
		h.Write(seed[:])
		h.Write(data)

		prev = h.Sum64()
		binary.BigEndian.PutUint64(out[round*8:round*8+8], prev)
	}

	return hex.EncodeToString(out[:])
}
