// lockout_cmd.go - CLI commands for login throttle management in guardrail.
//
// Command: lockout [subcommand]
// Aliases: lock
//
// Subcommands:
//   status (default)    Show throttle state for all tracked identifiers
//   check <id>          Check whether an attempt would be allowed
//   reset <id>          Clear throttle state for one identifier
//   clear --confirm     Clear all throttle records
//
// Throttle policy:
//   - Max attempts: 5 consecutive failures
//   - Lockout duration: 15 minutes
//   - Backoff doubles per failure, capped at 16 seconds
//
// Flags:
//   --json              Output in JSON format
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/morganforge/guardrail/internal/throttle"
)

// HandleLockout handles the "lockout" command with its subcommands.
func HandleLockout(args Args) error {
	eng, err := newEngine(args)
	if err != nil {
		return err
	}
	defer eng.Close()

	switch args.Subcommand {
	case "", "status":
		return handleLockoutStatus(eng, args)
	case "check":
		return handleLockoutCheck(eng, args)
	case "reset":
		return handleLockoutReset(eng, args)
	case "clear":
		return handleLockoutClear(eng, args)
	default:
		return fmt.Errorf("unknown lockout subcommand: %s\n\nUsage:\n"+
			"  guardrail lockout status          Show throttle state\n"+
			"  guardrail lockout check <id>      Check whether an attempt is allowed\n"+
			"  guardrail lockout reset <id>      Clear one identifier\n"+
			"  guardrail lockout clear --confirm Clear all records", args.Subcommand)
	}
}

// LockoutStatusOutput is the JSON output format for lockout status.
type LockoutStatusOutput struct {
	MaxAttempts     int                        `json:"max_attempts"`
	LockoutDuration string                     `json:"lockout_duration"`
	TotalTracked    int                        `json:"total_tracked"`
	Records         map[string]throttle.Record `json:"records,omitempty"`
}

// handleLockoutStatus shows the throttle configuration and tracked state.
func handleLockoutStatus(eng *Engine, args Args) error {
	ids := eng.Guard.Identifiers()
	records := make(map[string]throttle.Record, len(ids))
	for _, id := range ids {
		if rec, ok := eng.Guard.Status(id); ok {
			records[id] = rec
		}
	}

	maxAttempts, lockout := eng.Guard.Limits()
	output := LockoutStatusOutput{
		MaxAttempts:     maxAttempts,
		LockoutDuration: lockout.String(),
		TotalTracked:    len(records),
		Records:         records,
	}

	if args.JSON {
		data, err := json.MarshalIndent(output, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}

	fmt.Println()
	fmt.Println(TitleStyle.Render("Login Throttle Status"))
	fmt.Println(RenderSeparator(50))
	fmt.Println()

	fmt.Println(SectionStyle.Render("Configuration"))
	fmt.Printf("  %s%s\n", LabelStyle.Render("Max Attempts:"), ValueStyle.Render(fmt.Sprintf("%d", maxAttempts)))
	fmt.Printf("  %s%s\n", LabelStyle.Render("Lockout Duration:"), ValueStyle.Render(lockout.String()))
	fmt.Println()

	fmt.Println(SectionStyle.Render("Tracked Identifiers"))
	if len(records) == 0 {
		fmt.Println(SuccessStyle.Render("  No identifiers are currently tracked."))
		fmt.Println()
		return nil
	}

	now := time.Now()
	for id, rec := range records {
		state := fmt.Sprintf("%d failure(s)", rec.FailureCount)
		if !rec.LockedUntil.IsZero() && now.Before(rec.LockedUntil) {
			state = ErrorStyle.Render(fmt.Sprintf("LOCKED until %s", rec.LockedUntil.Format("15:04:05")))
		}
		fmt.Printf("  %-28s %s\n", ValueStyle.Render(id), state)
	}

	fmt.Println()
	return nil
}

// handleLockoutCheck runs a pre-attempt check for one identifier.
func handleLockoutCheck(eng *Engine, args Args) error {
	id := args.Arg(0)
	if id == "" {
		return fmt.Errorf("identifier required\nUsage: guardrail lockout check <identifier>")
	}

	decision := eng.Guard.Check(id)

	if args.JSON {
		data, err := json.MarshalIndent(decision, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}

	fmt.Println()
	if decision.Allowed {
		fmt.Printf("%s Attempt allowed (%d attempt(s) remaining)\n",
			SuccessStyle.Render("[OK]"), decision.AttemptsRemaining)
	} else {
		fmt.Printf("%s Attempt denied; retry in %s\n",
			ErrorStyle.Render("[DENIED]"), decision.WaitTime.Round(time.Second))
	}
	fmt.Println()
	return nil
}

// handleLockoutReset clears throttle state for one identifier.
func handleLockoutReset(eng *Engine, args Args) error {
	id := args.Arg(0)
	if id == "" {
		return fmt.Errorf("identifier required\nUsage: guardrail lockout reset <identifier>")
	}

	eng.Guard.Clear(id)
	eng.Ledger.Append(eng.Ledger.NewEntry("lockout.reset", "cli", ledgerFields("identifier", id)))

	if args.JSON {
		data, _ := json.MarshalIndent(map[string]any{
			"reset":      true,
			"identifier": id,
		}, "", "  ")
		fmt.Println(string(data))
		return nil
	}

	fmt.Println()
	fmt.Printf("%s Throttle state reset for: %s\n", SuccessStyle.Render("[OK]"), id)
	fmt.Println()
	return nil
}

// handleLockoutClear clears every throttle record.
func handleLockoutClear(eng *Engine, args Args) error {
	if !args.Confirm {
		fmt.Println()
		fmt.Println(WarningStyle.Render("WARNING: This will clear all throttle records."))
		fmt.Println()
		fmt.Println("To proceed, run:")
		fmt.Println("  guardrail lockout clear --confirm")
		fmt.Println()
		return nil
	}

	ids := eng.Guard.Identifiers()
	for _, id := range ids {
		eng.Guard.Clear(id)
	}
	eng.Ledger.Append(eng.Ledger.NewEntry("lockout.clear_all", "cli",
		ledgerFields("records_cleared", fmt.Sprintf("%d", len(ids)))))

	if args.JSON {
		data, _ := json.MarshalIndent(map[string]any{
			"cleared": true,
			"count":   len(ids),
		}, "", "  ")
		fmt.Println(string(data))
		return nil
	}

	fmt.Println()
	fmt.Printf("%s Cleared %d throttle record(s)\n", SuccessStyle.Render("[OK]"), len(ids))
	fmt.Println()
	return nil
}
