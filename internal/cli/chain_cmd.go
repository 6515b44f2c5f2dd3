// chain_cmd.go - CLI commands for audit chain management in guardrail.
//
// Command: chain [subcommand]
// Aliases: audit
//
// Subcommands:
//   verify (default)    Verify chain integrity
//   show                Show chain summary and recent entries
//   export <file>       Export the chain for backend sync
//   import <file>       Import an exported chain (full overwrite)
//   watch               Re-verify when another process writes the chain
//   reset --confirm     Clear the chain
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
	"os"
	"strings"
	"time"

	"github.com/morganforge/guardrail/internal/ledger"
	"github.com/morganforge/guardrail/internal/storage"
)

// HandleChain handles the "chain" command with its subcommands.
func HandleChain(args Args) error {
	eng, err := newEngine(args)
	if err != nil {
		return err
	}
	defer eng.Close()

	switch args.Subcommand {
	case "", "verify":
		return handleChainVerify(eng, args)
	case "show":
		return handleChainShow(eng, args)
	case "export":
		return handleChainExport(eng, args)
	case "import":
		return handleChainImport(eng, args)
	case "watch":
		return handleChainWatch(eng)
	case "reset":
		return handleChainReset(eng, args)
	default:
		return fmt.Errorf("unknown chain subcommand: %s\n\nUsage:\n"+
			"  guardrail chain verify           Verify chain integrity\n"+
			"  guardrail chain show             Show chain summary\n"+
			"  guardrail chain export <file>    Export chain to file\n"+
			"  guardrail chain import <file>    Import chain from file\n"+
			"  guardrail chain watch            Re-verify on external changes\n"+
			"  guardrail chain reset --confirm  Clear the chain", args.Subcommand)
	}
}

// handleChainVerify verifies the stored chain and reports every issue found.
func handleChainVerify(eng *Engine, args Args) error {
	result := eng.Ledger.Verify()

	if args.JSON {
		data, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}

	fmt.Println()
	fmt.Println(TitleStyle.Render("Audit Chain Verification"))
	fmt.Println(RenderSeparator(50))
	fmt.Println()

	fmt.Printf("  %s%s\n", LabelStyle.Render("Integrity:"), RenderStatus(result.Valid))
	fmt.Printf("  %s%s\n", LabelStyle.Render("Total Entries:"), ValueStyle.Render(fmt.Sprintf("%d", result.TotalEntries)))
	fmt.Printf("  %s%s\n", LabelStyle.Render("Valid Entries:"), ValueStyle.Render(fmt.Sprintf("%d", result.ValidEntries)))
	fmt.Printf("  %s%s\n", LabelStyle.Render("Invalid Entries:"), ValueStyle.Render(fmt.Sprintf("%d", result.InvalidEntries)))

	if result.Degraded {
		fmt.Println()
		fmt.Println(WarningStyle.Render("  Digest provider is degraded; tamper evidence is weakened."))
	}

	if len(result.Issues) > 0 {
		fmt.Println()
		fmt.Println(SectionStyle.Render("Issues"))
		for _, issue := range result.Issues {
			fmt.Printf("  %s %s\n", ErrorStyle.Render("-"), issue)
		}
	}

	fmt.Println()
	return nil
}

// handleChainShow prints the chain summary and the most recent entries.
func handleChainShow(eng *Engine, args Args) error {
	chain := eng.Ledger.ChainState()
	entries := eng.Ledger.Entries()

	if args.JSON {
		data, err := json.MarshalIndent(map[string]any{
			"chain":   chain,
			"entries": entries,
		}, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}

	fmt.Println()
	fmt.Println(TitleStyle.Render("Audit Chain"))
	fmt.Println(RenderSeparator(50))
	fmt.Println()

	fmt.Printf("  %s%s\n", LabelStyle.Render("Entries:"), ValueStyle.Render(fmt.Sprintf("%d", len(entries))))
	fmt.Printf("  %s%s\n", LabelStyle.Render("Last Hash:"), DimStyle.Render(shortHash(chain.LastHash)))
	fmt.Printf("  %s%s\n", LabelStyle.Render("Chain Hash:"), DimStyle.Render(shortHash(chain.ChainHash)))
	if !chain.CreatedAt.IsZero() {
		fmt.Printf("  %s%s\n", LabelStyle.Render("Created:"), ValueStyle.Render(chain.CreatedAt.Format("2006-01-02 15:04:05")))
		fmt.Printf("  %s%s\n", LabelStyle.Render("Updated:"), ValueStyle.Render(chain.UpdatedAt.Format("2006-01-02 15:04:05")))
	}

	if len(entries) > 0 {
		fmt.Println()
		fmt.Println(SectionStyle.Render("Recent Entries"))
		start := len(entries) - 10
		if start < 0 {
			start = 0
		}
		for _, e := range entries[start:] {
			fmt.Printf("  %s  %-24s %-16s %s\n",
				DimStyle.Render(e.Timestamp.Format("15:04:05")),
				ValueStyle.Render(e.Action),
				e.ActorID,
				DimStyle.Render(shortHash(e.Hash)))
		}
	}

	fmt.Println()
	return nil
}

// handleChainExport writes the export envelope to a file (or stdout).
func handleChainExport(eng *Engine, args Args) error {
	data, err := eng.Ledger.Export()
	if err != nil {
		return err
	}

	path := args.Arg(0)
	if path == "" || path == "-" {
		fmt.Println(string(data))
		return nil
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write export: %w", err)
	}

	fmt.Println()
	fmt.Printf("%s Chain exported to: %s\n", SuccessStyle.Render("[OK]"), path)
	fmt.Println()
	return nil
}

// handleChainImport overwrites local chain state with an exported chain.
func handleChainImport(eng *Engine, args Args) error {
	path := args.Arg(0)
	if path == "" {
		return fmt.Errorf("file required\nUsage: guardrail chain import <file>")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read import: %w", err)
	}
	if err := eng.Ledger.Import(data); err != nil {
		return err
	}

	result := eng.Ledger.Verify()

	if args.JSON {
		out, err := json.MarshalIndent(map[string]any{
			"imported": true,
			"entries":  result.TotalEntries,
			"valid":    result.Valid,
		}, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	}

	fmt.Println()
	fmt.Printf("%s Imported %d entries (integrity: %s)\n",
		SuccessStyle.Render("[OK]"), result.TotalEntries, RenderStatus(result.Valid))
	fmt.Println()
	return nil
}

// handleChainWatch follows external writes to the chain document and
// re-verifies on each one. Runs until interrupted.
func handleChainWatch(eng *Engine) error {
	if !eng.Config.Ledger.WatchChanges {
		return fmt.Errorf("chain watching is disabled (set ledger.watch_changes = true)")
	}
	file, ok := eng.Store.(*storage.File)
	if !ok {
		return fmt.Errorf("chain watching requires the file storage backend")
	}

	w, err := storage.NewWatcher(file)
	if err != nil {
		return err
	}
	defer w.Close()

	fmt.Println()
	fmt.Println(TitleStyle.Render("Watching Audit Chain"))
	fmt.Printf("%s\n\n", DimStyle.Render("  "+file.Dir()))

	for c := range w.Changes() {
		if c.Key != eng.Config.Ledger.StoreKey {
			continue
		}
		stamp := time.Now().Format("15:04:05")
		if c.Removed {
			fmt.Printf("  %s %s chain document removed\n", DimStyle.Render(stamp), ErrorStyle.Render("[GONE]"))
			continue
		}

		// Fresh ledger per event so the externally written state is read,
		// not this process's cached copy.
		result := ledger.New(
			ledger.WithStore(eng.Store),
			ledger.WithStoreKey(eng.Config.Ledger.StoreKey),
		).Verify()
		fmt.Printf("  %s %s %d entry(s), %d invalid\n",
			DimStyle.Render(stamp), RenderStatus(result.Valid),
			result.TotalEntries, result.InvalidEntries)
	}
	return nil
}

// handleChainReset clears the chain after confirmation.
func handleChainReset(eng *Engine, args Args) error {
	if !args.Confirm {
		fmt.Println()
		fmt.Println(WarningStyle.Render("WARNING: This will permanently clear the audit chain."))
		fmt.Println()
		fmt.Println("To proceed, run:")
		fmt.Println("  guardrail chain reset --confirm")
		fmt.Println()
		return nil
	}

	count := len(eng.Ledger.Entries())
	if err := eng.Ledger.Reset(); err != nil {
		return err
	}

	fmt.Println()
	fmt.Printf("%s Cleared %d chain entry(s)\n", SuccessStyle.Render("[OK]"), count)
	fmt.Println()
	return nil
}

// shortHash truncates a digest for display.
func shortHash(h string) string {
	if len(h) > 16 {
		return h[:16] + "..."
	}
	if h == "" {
		return strings.Repeat("-", 16)
	}
	return h
}
