// fingerprint_cmd.go - CLI commands for device fingerprint diagnostics.
//
// Command: fingerprint [subcommand]
// Aliases: fp
//
// Subcommands:
//   show (default)         Compute and show the host fingerprint
//   compare <a> <b>        Compare two fingerprint hashes
//
// Flags:
//   --tolerance <level>    strict | moderate | lenient (default from config)
//   --json                 Output in JSON format
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"encoding/json"
	"fmt"

	"github.com/morganforge/guardrail/internal/fingerprint"
)

// HandleFingerprint handles the "fingerprint" command with its subcommands.
func HandleFingerprint(args Args) error {
	eng, err := newEngine(args)
	if err != nil {
		return err
	}
	defer eng.Close()

	switch args.Subcommand {
	case "", "show":
		return handleFingerprintShow(eng, args)
	case "compare":
		return handleFingerprintCompare(eng, args)
	default:
		return fmt.Errorf("unknown fingerprint subcommand: %s\n\nUsage:\n"+
			"  guardrail fingerprint show               Show host fingerprint\n"+
			"  guardrail fingerprint compare <a> <b>    Compare two fingerprint hashes", args.Subcommand)
	}
}

// handleFingerprintShow computes the fingerprint of the local environment.
// Host signals are best-effort; embedders supply real client signals.
func handleFingerprintShow(eng *Engine, args Args) error {
	sig := fingerprint.HostSignals()
	fp := eng.Matcher.Compute(sig)

	if args.JSON {
		data, err := json.MarshalIndent(map[string]any{
			"signals":     sig,
			"fingerprint": fp,
		}, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}

	fmt.Println()
	fmt.Println(TitleStyle.Render("Device Fingerprint"))
	fmt.Println(RenderSeparator(50))
	fmt.Println()

	fmt.Println(SectionStyle.Render("Signals"))
	fmt.Printf("  %s%s\n", LabelStyle.Render("Platform:"), ValueStyle.Render(sig.Platform))
	fmt.Printf("  %s%s\n", LabelStyle.Render("Timezone:"), ValueStyle.Render(sig.Timezone))
	fmt.Printf("  %s%s\n", LabelStyle.Render("Concurrency:"), ValueStyle.Render(fmt.Sprintf("%d", sig.Concurrency)))
	fmt.Println()

	fmt.Println(SectionStyle.Render("Fingerprint"))
	fmt.Printf("  %s%s\n", LabelStyle.Render("Hash:"), DimStyle.Render(fp.Hash))
	fmt.Printf("  %s%s\n", LabelStyle.Render("Stable Hash:"), DimStyle.Render(fp.StableHash))
	fmt.Printf("  %s%s\n", LabelStyle.Render("Digest Mode:"), ValueStyle.Render(fp.Mode.String()))
	fmt.Println()
	return nil
}

// handleFingerprintCompare scores the similarity of two fingerprint hashes.
func handleFingerprintCompare(eng *Engine, args Args) error {
	a, b := args.Arg(0), args.Arg(1)
	if a == "" || b == "" {
		return fmt.Errorf("two fingerprint hashes required\nUsage: guardrail fingerprint compare <a> <b>")
	}

	tol := eng.deviceTolerance()
	if flag := args.Flag("tolerance"); flag != "" {
		parsed, err := fingerprint.ParseTolerance(flag)
		if err != nil {
			return err
		}
		tol = parsed
	}

	match := eng.Matcher.Compare(
		fingerprint.Fingerprint{Hash: a},
		fingerprint.Fingerprint{Hash: b},
		tol,
	)

	if args.JSON {
		data, err := json.MarshalIndent(match, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}

	fmt.Println()
	fmt.Println(TitleStyle.Render("Fingerprint Comparison"))
	fmt.Println(RenderSeparator(50))
	fmt.Println()
	fmt.Printf("  %s%s\n", LabelStyle.Render("Tolerance:"), ValueStyle.Render(tol.String()))
	fmt.Printf("  %s%s\n", LabelStyle.Render("Similarity:"), ValueStyle.Render(fmt.Sprintf("%d%%", match.Similarity)))
	fmt.Printf("  %s%s\n", LabelStyle.Render("Match:"), RenderStatus(match.Valid))
	fmt.Println()
	return nil
}
