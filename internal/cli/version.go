// version.go - Version and help output for guardrail.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"encoding/json"
	"fmt"
	"runtime"
)

// Version information (set at build time via main).
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// HandleVersion prints version information.
func HandleVersion(args Args) error {
	if args.JSON {
		data, err := json.MarshalIndent(map[string]string{
			"version":    Version,
			"git_commit": GitCommit,
			"build_date": BuildDate,
			"go_version": runtime.Version(),
			"platform":   runtime.GOOS + "/" + runtime.GOARCH,
		}, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}

	fmt.Printf("guardrail %s (%s, built %s, %s)\n", Version, GitCommit, BuildDate, runtime.Version())
	return nil
}

// HandleHelp prints top-level usage.
func HandleHelp() {
	fmt.Println()
	fmt.Println(TitleStyle.Render("guardrail - client-side security guards"))
	fmt.Println()
	fmt.Println("Usage: guardrail <command> [subcommand] [flags]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  chain        Audit hash chain (verify, show, export, import, watch, reset)")
	fmt.Println("  lockout      Login throttle (status, check, reset, clear)")
	fmt.Println("  fingerprint  Device fingerprint (show, compare)")
	fmt.Println("  policy       MFA policy evaluation (check, enroll)")
	fmt.Println("  version      Show version information")
	fmt.Println()
	fmt.Println("Flags:")
	fmt.Println("  --json           JSON output on reporting commands")
	fmt.Println("  --config <path>  Use an explicit config file")
	fmt.Println("  --confirm        Confirm destructive operations")
	fmt.Println()
}
