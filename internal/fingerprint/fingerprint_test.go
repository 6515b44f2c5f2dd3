// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package fingerprint

import (
	"testing"

	"github.com/morganforge/guardrail/internal/digest"
)

func testSignals() Signals {
	return Signals{
		Platform:    "linux/amd64",
		Locales:     []string{"en-US", "en"},
		ScreenW:     2560,
		ScreenH:     1440,
		ColorDepth:  24,
		Timezone:    "America/New_York",
		Concurrency: 16,
		TouchPoints: 0,
		GPUVendor:   "NVIDIA Corporation",
		GPURenderer: "NVIDIA GeForce RTX 4070",
		CanvasHash:  "f3a9c1",
	}
}

func TestComputeDeterministic(t *testing.T) {
	m := NewMatcher(nil)

	a := m.Compute(testSignals())
	b := m.Compute(testSignals())

	if a.Hash != b.Hash || a.StableHash != b.StableHash {
		t.Error("identical signals produced different fingerprints")
	}
	if len(a.Hash) != digest.HexLen {
		t.Errorf("fingerprint hash not fixed width: %d", len(a.Hash))
	}
}

func TestCanonicalFieldOrderMatters(t *testing.T) {
	m := NewMatcher(nil)

	sig := testSignals()
	fp1 := m.Compute(sig)

	sig.Timezone = "Europe/Berlin"
	fp2 := m.Compute(sig)

	if fp1.Hash == fp2.Hash {
		t.Error("changing a signal did not change the fingerprint")
	}
}

func TestIdenticalFingerprintsScore100(t *testing.T) {
	m := NewMatcher(nil)
	fp := m.Compute(testSignals())

	for _, tol := range []Tolerance{Strict, Moderate, Lenient} {
		match := m.Compare(fp, fp, tol)
		if !match.Valid || match.Similarity != 100 {
			t.Errorf("tolerance %s: identical fingerprints scored %d (valid=%v)",
				tol, match.Similarity, match.Valid)
		}
	}
}

func TestCompareSymmetryAndBounds(t *testing.T) {
	m := NewMatcher(nil)

	a := m.Compute(testSignals())

	sig := testSignals()
	sig.CanvasHash = "00ff00"
	sig.Locales = []string{"de-DE"}
	b := m.Compute(sig)

	for _, tol := range []Tolerance{Strict, Moderate, Lenient} {
		ab := m.Compare(a, b, tol)
		ba := m.Compare(b, a, tol)

		if ab.Similarity != ba.Similarity {
			t.Errorf("tolerance %s: asymmetric similarity %d vs %d", tol, ab.Similarity, ba.Similarity)
		}
		if ab.Similarity < 0 || ab.Similarity > 100 {
			t.Errorf("tolerance %s: similarity out of bounds: %d", tol, ab.Similarity)
		}
	}
}

func TestStableSubsetRescuesVolatileDrift(t *testing.T) {
	m := NewMatcher(nil)

	a := m.Compute(testSignals())

	// Volatile signals drift, stable subset unchanged.
	sig := testSignals()
	sig.CanvasHash = "deadbeef"
	b := m.Compute(sig)

	match := m.Compare(a, b, Moderate)
	if !match.Valid {
		t.Errorf("stable-subset match rejected: similarity=%d", match.Similarity)
	}
}

func TestDifferentDevicesRejectedStrict(t *testing.T) {
	m := NewMatcher(nil)

	a := m.Compute(testSignals())

	sig := Signals{
		Platform:    "darwin/arm64",
		Locales:     []string{"ja-JP"},
		ScreenW:     1512,
		ScreenH:     982,
		ColorDepth:  30,
		Timezone:    "Asia/Tokyo",
		Concurrency: 8,
		TouchPoints: 5,
		GPUVendor:   "Apple",
		GPURenderer: "Apple M3",
		CanvasHash:  "0b1c2d",
	}
	b := m.Compute(sig)

	match := m.Compare(a, b, Strict)
	if match.Valid {
		t.Errorf("strict tolerance accepted a different device: similarity=%d", match.Similarity)
	}
}

func TestEmptyFingerprintsNeverMatch(t *testing.T) {
	m := NewMatcher(nil)

	for _, tol := range []Tolerance{Strict, Moderate, Lenient} {
		match := m.Compare(Fingerprint{}, Fingerprint{}, tol)
		if match.Valid || match.Similarity != 0 {
			t.Errorf("tolerance %s: empty fingerprints matched (valid=%v similarity=%d)",
				tol, match.Valid, match.Similarity)
		}
	}

	// One-sided emptiness fails closed too.
	fp := m.Compute(testSignals())
	if match := m.Compare(Fingerprint{}, fp, Lenient); match.Valid {
		t.Error("empty stored fingerprint validated a device")
	}
}

func TestParseTolerance(t *testing.T) {
	cases := []struct {
		in      string
		want    Tolerance
		wantErr bool
	}{
		{"strict", Strict, false},
		{"Moderate", Moderate, false},
		{" lenient ", Lenient, false},
		{"bogus", Strict, true},
	}
	for _, tc := range cases {
		got, err := ParseTolerance(tc.in)
		if (err != nil) != tc.wantErr {
			t.Errorf("ParseTolerance(%q) error = %v, wantErr %v", tc.in, err, tc.wantErr)
		}
		if got != tc.want {
			t.Errorf("ParseTolerance(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestHostSignalsPopulated(t *testing.T) {
	sig := HostSignals()
	if sig.Platform == "" {
		t.Error("host platform signal empty")
	}
	if sig.Concurrency < 1 {
		t.Errorf("host concurrency signal = %d", sig.Concurrency)
	}
}
