// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/morganforge/guardrail/internal/fingerprint"
)

// writeTestConfig writes a config file pointing storage at a temp dir so
// engine tests never touch the real state directory.
func writeTestConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	body += fmt.Sprintf("\n[storage]\nbackend = \"file\"\ndir = %q\n", filepath.Join(dir, "state"))
	if err := os.WriteFile(path, []byte(body), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestEngineWiresThrottleLimits(t *testing.T) {
	path := writeTestConfig(t, `
[throttle]
max_attempts = 2
lockout_minutes = 1
`)
	eng, err := newEngine(Args{ConfigPath: path})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	defer eng.Close()

	n, d := eng.Guard.Limits()
	if n != 2 || d != time.Minute {
		t.Fatalf("guard limits = (%d, %v), want (2, 1m)", n, d)
	}

	// The configured limit moves the lock point: 2nd failure locks.
	eng.Guard.RecordFailure("user@x")
	res := eng.Guard.RecordFailure("user@x")
	if !res.Locked {
		t.Error("2nd failure did not lock with max_attempts = 2")
	}
	if res.WaitTime != time.Minute {
		t.Errorf("lock wait = %v, want configured 1m", res.WaitTime)
	}
}

func TestEngineWiresBurstLimiter(t *testing.T) {
	path := writeTestConfig(t, `
[throttle]
burst_limit_per_sec = 0.001
burst_size = 2
`)
	eng, err := newEngine(Args{ConfigPath: path})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	defer eng.Close()

	// Bucket of 2 with negligible refill: third check denies.
	eng.Guard.Check("user@x")
	eng.Guard.Check("user@x")
	if d := eng.Guard.Check("user@x"); d.Allowed {
		t.Error("configured burst limiter did not engage")
	}
}

func TestEngineWiresDeviceTolerance(t *testing.T) {
	path := writeTestConfig(t, `
[stepup]
device_tolerance = "lenient"
`)
	eng, err := newEngine(Args{ConfigPath: path})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	defer eng.Close()

	if tol := eng.deviceTolerance(); tol != fingerprint.Lenient {
		t.Errorf("device tolerance = %v, want lenient", tol)
	}
}
