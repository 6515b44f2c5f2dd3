// guardrail - client-resident security guards for sensitive operations.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"fmt"
	"os"

	"github.com/morganforge/guardrail/internal/cli"
)

// Version information (set at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

func init() {
	// Sync version info with cli package
	cli.Version = Version
	cli.GitCommit = GitCommit
	cli.BuildDate = BuildDate
}

func main() {
	cmd, args := cli.Parse()

	var err error
	switch cmd {
	case cli.CmdChain:
		err = cli.HandleChain(args)
	case cli.CmdLockout:
		err = cli.HandleLockout(args)
	case cli.CmdFingerprint:
		err = cli.HandleFingerprint(args)
	case cli.CmdPolicy:
		err = cli.HandlePolicy(args)
	case cli.CmdVersion:
		err = cli.HandleVersion(args)
	default:
		cli.HandleHelp()
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
