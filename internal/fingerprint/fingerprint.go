// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package fingerprint derives a stable device identifier from environment
// signals and compares two fingerprints with a fuzzy similarity score.
//
// Exact-match device binding is too brittle: routine browser or driver
// upgrades legitimately perturb some signals without indicating a different
// physical device. Comparison therefore scores a positional character match
// over a tolerance-dependent prefix of the two digests instead of requiring
// equality.
package fingerprint

import (
	"fmt"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/morganforge/guardrail/internal/digest"
)

// =============================================================================
// SIGNALS
// =============================================================================

// Signals is the canonical device signal tuple. Field order in Canonical is
// fixed; changing it changes every fingerprint ever computed.
type Signals struct {
	Platform    string   `json:"platform"`
	Locales     []string `json:"locales"`
	ScreenW     int      `json:"screen_w"`
	ScreenH     int      `json:"screen_h"`
	ColorDepth  int      `json:"color_depth"`
	Timezone    string   `json:"timezone"`
	Concurrency int      `json:"concurrency"`
	TouchPoints int      `json:"touch_points"`
	GPUVendor   string   `json:"gpu_vendor"`
	GPURenderer string   `json:"gpu_renderer"`
	CanvasHash  string   `json:"canvas_hash"`
}

// Canonical renders the fixed-order pipe-joined serialization of the full
// signal tuple.
func (s Signals) Canonical() string {
	parts := []string{
		s.Platform,
		strings.Join(s.Locales, ","),
		strconv.Itoa(s.ScreenW) + "x" + strconv.Itoa(s.ScreenH),
		strconv.Itoa(s.ColorDepth),
		s.Timezone,
		strconv.Itoa(s.Concurrency),
		strconv.Itoa(s.TouchPoints),
		s.GPUVendor,
		s.GPURenderer,
		s.CanvasHash,
	}
	return strings.Join(parts, "|")
}

// stableCanonical renders only the signals that survive routine browser and
// driver upgrades: platform, resolution, timezone, concurrency, renderer.
func (s Signals) stableCanonical() string {
	parts := []string{
		s.Platform,
		strconv.Itoa(s.ScreenW) + "x" + strconv.Itoa(s.ScreenH),
		s.Timezone,
		strconv.Itoa(s.Concurrency),
		s.GPURenderer,
	}
	return strings.Join(parts, "|")
}

// HostSignals gathers best-effort signals from the local process environment.
// Intended for CLI and diagnostic use; embedders supply real client signals
// from their own environment source.
func HostSignals() Signals {
	zone, _ := time.Now().Zone()
	return Signals{
		Platform:    runtime.GOOS + "/" + runtime.GOARCH,
		Locales:     []string{"en-US"},
		Timezone:    zone,
		Concurrency: runtime.NumCPU(),
	}
}

// =============================================================================
// FINGERPRINT
// =============================================================================

// Fingerprint is an opaque fixed-length digest of a device's signal tuple.
type Fingerprint struct {
	Hash       string      `json:"hash"`
	StableHash string      `json:"stable_hash"`
	Mode       digest.Mode `json:"mode"`
}

// Matcher computes and compares device fingerprints.
type Matcher struct {
	digests *digest.Provider
}

// NewMatcher creates a fingerprint matcher over the given digest provider.
// A nil provider gets a default SHA-256 provider.
func NewMatcher(p *digest.Provider) *Matcher {
	if p == nil {
		p = digest.New()
	}
	return &Matcher{digests: p}
}

// Compute derives the fingerprint for a signal tuple. Pure: persistence of
// the result is the caller's responsibility.
func (m *Matcher) Compute(sig Signals) Fingerprint {
	full := m.digests.SumString(sig.Canonical())
	stable := m.digests.SumString(sig.stableCanonical())
	return Fingerprint{
		Hash:       full.Hex,
		StableHash: stable.Hex,
		Mode:       full.Mode,
	}
}

// =============================================================================
// COMPARISON
// =============================================================================

// Tolerance selects how much fingerprint drift a comparison accepts.
type Tolerance int

const (
	// Strict compares a 32-char prefix and requires 90% similarity.
	Strict Tolerance = iota
	// Moderate compares a 16-char prefix and requires 70% similarity.
	Moderate
	// Lenient compares an 8-char prefix and requires 50% similarity.
	Lenient
)

// String returns the string representation of the tolerance.
func (t Tolerance) String() string {
	switch t {
	case Strict:
		return "strict"
	case Moderate:
		return "moderate"
	case Lenient:
		return "lenient"
	default:
		return "unknown"
	}
}

// ParseTolerance parses a tolerance name. Unrecognized names fail closed to
// Strict.
func ParseTolerance(s string) (Tolerance, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "strict":
		return Strict, nil
	case "moderate":
		return Moderate, nil
	case "lenient":
		return Lenient, nil
	default:
		return Strict, fmt.Errorf("unknown tolerance %q", s)
	}
}

// prefixLen returns the number of leading digest characters compared.
func (t Tolerance) prefixLen() int {
	switch t {
	case Strict:
		return 32
	case Moderate:
		return 16
	case Lenient:
		return 8
	default:
		return 32
	}
}

// threshold returns the minimum similarity percentage accepted as a match.
func (t Tolerance) threshold() int {
	switch t {
	case Strict:
		return 90
	case Moderate:
		return 70
	case Lenient:
		return 50
	default:
		return 90
	}
}

// Match is the result of comparing two fingerprints.
type Match struct {
	Valid      bool      `json:"valid"`
	Similarity int       `json:"similarity"`
	Tolerance  Tolerance `json:"tolerance"`
}

// Compare scores the similarity of two fingerprints under a tolerance.
// An exact hash match scores 100; otherwise similarity is the percentage of
// positionally matching characters over the tolerance's prefix length.
// Symmetric and bounded to [0,100].
//
// Empty fingerprints fail closed: a missing stored hash never counts as an
// exact match, so two zero-value fingerprints score 0 and do not validate.
func (m *Matcher) Compare(stored, current Fingerprint, tol Tolerance) Match {
	if stored.Hash != "" && stored.Hash == current.Hash {
		return Match{Valid: true, Similarity: 100, Tolerance: tol}
	}

	sim := prefixSimilarity(stored.Hash, current.Hash, tol.prefixLen())

	// Stable-subset agreement rescues comparisons where volatile signals
	// (canvas, locale set) drifted but the hardware identity did not.
	if stored.StableHash != "" && stored.StableHash == current.StableHash {
		if s := tol.threshold(); sim < s {
			sim = s
		}
	}

	return Match{
		Valid:      sim >= tol.threshold(),
		Similarity: sim,
		Tolerance:  tol,
	}
}

// prefixSimilarity counts positionally matching characters over the first k
// characters of a and b, as a percentage of k.
func prefixSimilarity(a, b string, k int) int {
	if k <= 0 {
		return 0
	}
	if len(a) < k || len(b) < k {
		if a == b && a != "" {
			return 100
		}
		if n := min(len(a), len(b)); n < k {
			k = n
		}
		if k == 0 {
			return 0
		}
	}

	matched := 0
	for i := 0; i < k; i++ {
		if a[i] == b[i] {
			matched++
		}
	}
	return matched * 100 / k
}
