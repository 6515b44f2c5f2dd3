// args.go - Unified argument parsing for all CLI commands in guardrail.
//
// Every command shares one parser so flags behave identically everywhere:
// long flags (--flag value, --flag=value), boolean flags (--json), and
// positional arguments, with the first positional acting as the subcommand.
// Only flags listed in valueFlags consume a following token as their value;
// everything else is boolean unless the --flag=value form is used, so an
// unknown flag can never swallow a positional argument.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"os"
	"strings"
)

// =============================================================================
// COMMANDS
// =============================================================================

// Command identifies a top-level guardrail command.
type Command int

const (
	CmdHelp Command = iota
	CmdChain
	CmdLockout
	CmdFingerprint
	CmdPolicy
	CmdVersion
)

// Args holds parsed command-line arguments shared by all commands.
type Args struct {
	Subcommand string   // second word: "verify", "status", ...
	Positional []string // positionals after the subcommand
	JSON       bool     // --json
	Confirm    bool     // --confirm / -y
	ConfigPath string   // --config <path>
	Flags      map[string]string
}

// Flag returns the value of a string flag, or empty.
func (a Args) Flag(name string) string {
	return a.Flags[strings.TrimLeft(name, "-")]
}

// Arg returns the i-th positional after the subcommand, or empty.
func (a Args) Arg(i int) string {
	if i < len(a.Positional) {
		return a.Positional[i]
	}
	return ""
}

// =============================================================================
// PARSE
// =============================================================================

// Parse reads os.Args and returns the command plus its parsed arguments.
func Parse() (Command, Args) {
	return parseArgs(os.Args[1:])
}

// valueFlags are the flags that take the next token as their value.
var valueFlags = map[string]bool{
	"role":      true,
	"tolerance": true,
	"created":   true,
	"action":    true,
	"account":   true,
}

func parseArgs(raw []string) (Command, Args) {
	args := Args{Flags: make(map[string]string)}

	var positional []string
	for i := 0; i < len(raw); i++ {
		arg := raw[i]
		if !strings.HasPrefix(arg, "-") {
			positional = append(positional, arg)
			continue
		}

		name := strings.TrimLeft(arg, "-")
		value := ""
		if eq := strings.Index(name, "="); eq >= 0 {
			name, value = name[:eq], name[eq+1:]
		}

		switch name {
		case "json":
			args.JSON = value != "false"
		case "confirm", "y":
			args.Confirm = value != "false"
		case "config":
			if value == "" && i+1 < len(raw) {
				value = raw[i+1]
				i++
			}
			args.ConfigPath = value
		default:
			if value == "" && valueFlags[name] && i+1 < len(raw) && !strings.HasPrefix(raw[i+1], "-") {
				value = raw[i+1]
				i++
			}
			args.Flags[name] = value
		}
	}

	if len(positional) == 0 {
		return CmdHelp, args
	}

	cmd := CmdHelp
	switch positional[0] {
	case "chain", "audit":
		cmd = CmdChain
	case "lockout", "lock":
		cmd = CmdLockout
	case "fingerprint", "fp":
		cmd = CmdFingerprint
	case "policy":
		cmd = CmdPolicy
	case "version":
		cmd = CmdVersion
	case "help", "-h", "--help":
		cmd = CmdHelp
	}

	if len(positional) > 1 {
		args.Subcommand = positional[1]
		args.Positional = positional[2:]
	}
	return cmd, args
}
