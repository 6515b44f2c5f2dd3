// engine.go - Shared guard construction for CLI commands.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"path/filepath"
	"time"

	"golang.org/x/time/rate"

	"github.com/morganforge/guardrail/internal/config"
	"github.com/morganforge/guardrail/internal/digest"
	"github.com/morganforge/guardrail/internal/fingerprint"
	"github.com/morganforge/guardrail/internal/ledger"
	"github.com/morganforge/guardrail/internal/stepup"
	"github.com/morganforge/guardrail/internal/storage"
	"github.com/morganforge/guardrail/internal/throttle"
)

// Engine bundles the guards behind the CLI commands, wired from config.
type Engine struct {
	Config  *config.Config
	Store   storage.Store
	Ledger  *ledger.Ledger
	Guard   *throttle.Guard
	Gate    *stepup.Gate
	Matcher *fingerprint.Matcher
}

// loadConfig loads the effective configuration for a command invocation.
func loadConfig(args Args) (*config.Config, error) {
	if args.ConfigPath != "" {
		return config.LoadFromPath(args.ConfigPath)
	}
	return config.Load()
}

// openStore opens the configured durable backend.
func openStore(cfg *config.Config) (storage.Store, error) {
	dir, err := cfg.StateDir()
	if err != nil {
		return nil, err
	}
	switch cfg.Storage.Backend {
	case "sqlite":
		return storage.NewSQLite(filepath.Join(dir, "guardrail.db"))
	default:
		return storage.NewFile(dir)
	}
}

// newEngine builds the guards for a command invocation.
func newEngine(args Args) (*Engine, error) {
	cfg, err := loadConfig(args)
	if err != nil {
		return nil, err
	}

	store, err := openStore(cfg)
	if err != nil {
		return nil, fmt.Errorf("open storage backend: %w", err)
	}

	guardOpts := []throttle.Option{
		throttle.WithStore(store),
		throttle.WithMaxAttempts(cfg.Throttle.MaxAttempts),
		throttle.WithLockoutDuration(time.Duration(cfg.Throttle.LockoutMinutes) * time.Minute),
	}
	if cfg.Throttle.BurstLimitPerSec > 0 {
		guardOpts = append(guardOpts,
			throttle.WithBurstLimit(rate.Limit(cfg.Throttle.BurstLimitPerSec), cfg.Throttle.BurstSize))
	}

	digests := digest.New()
	matcher := fingerprint.NewMatcher(digests)
	return &Engine{
		Config: cfg,
		Store:  store,
		Ledger: ledger.New(
			ledger.WithStore(store),
			ledger.WithStoreKey(cfg.Ledger.StoreKey),
			ledger.WithDigest(digests),
		),
		Guard: throttle.New(guardOpts...),
		Gate: stepup.New(
			stepup.WithSessionDuration(cfg.SessionDuration()),
			stepup.WithMatcher(matcher),
		),
		Matcher: matcher,
	}, nil
}

// deviceTolerance returns the configured fingerprint tolerance. Validate has
// already normalized the name, and parse failures fall back closed.
func (e *Engine) deviceTolerance() fingerprint.Tolerance {
	tol, _ := fingerprint.ParseTolerance(e.Config.StepUp.DeviceTolerance)
	return tol
}

// Close releases the engine's storage handle.
func (e *Engine) Close() {
	if e.Store != nil {
		e.Store.Close()
	}
}

// ledgerFields builds an audit payload for a CLI administrative action from
// alternating key/value pairs.
func ledgerFields(kv ...string) ledger.Payload {
	p := ledger.Payload{Kind: "cli_admin", Fields: make(map[string]string, len(kv)/2)}
	for i := 0; i+1 < len(kv); i += 2 {
		p.Fields[kv[i]] = kv[i+1]
	}
	return p
}
