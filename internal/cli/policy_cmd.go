// policy_cmd.go - CLI commands for MFA policy checks in guardrail.
//
// Command: policy [subcommand]
//
// Subcommands:
//   check (default)     Evaluate the MFA policy for a role
//   enroll <account>    Provision a TOTP secret for step-up enrollment
//
// Flags:
//   --role <role>       Role to evaluate (required for check)
//   --mfa               Whether the user has MFA enabled
//   --created <date>    Account creation date, YYYY-MM-DD (default today)
//   --action <id>       Also classify a protected action
//   --json              Output in JSON format
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/morganforge/guardrail/internal/stepup"
)

// HandlePolicy handles the "policy" command.
func HandlePolicy(args Args) error {
	switch args.Subcommand {
	case "", "check":
		return handlePolicyCheck(args)
	case "enroll":
		return handlePolicyEnroll(args)
	default:
		return fmt.Errorf("unknown policy subcommand: %s\n\nUsage:\n"+
			"  guardrail policy check --role <role> [--mfa] [--created YYYY-MM-DD] [--action <id>]\n"+
			"  guardrail policy enroll <account>",
			args.Subcommand)
	}
}

// handlePolicyCheck evaluates the role MFA policy, and optionally classifies
// a protected action.
func handlePolicyCheck(args Args) error {
	eng, err := newEngine(args)
	if err != nil {
		return err
	}
	defer eng.Close()

	role := args.Flag("role")
	if role == "" {
		role = args.Arg(0)
	}
	if role == "" {
		return fmt.Errorf("role required\nUsage: guardrail policy check --role <role>")
	}

	_, mfaEnabled := args.Flags["mfa"]
	if args.Flags["mfa"] == "false" {
		mfaEnabled = false
	}

	createdAt := time.Now()
	if c := args.Flag("created"); c != "" {
		parsed, err := time.Parse("2006-01-02", c)
		if err != nil {
			return fmt.Errorf("invalid --created date %q (want YYYY-MM-DD)", c)
		}
		createdAt = parsed
	}

	decision := eng.Gate.EvaluatePolicy(role, mfaEnabled, createdAt)

	var actionClass stepup.Classification
	var actionProtected bool
	action := args.Flag("action")
	if action != "" {
		actionClass, actionProtected = eng.Gate.Registry().Classify(action)
	}

	if args.JSON {
		out := map[string]any{"role": role, "decision": decision}
		if action != "" {
			out["action"] = action
			out["protected"] = actionProtected
			out["classification"] = actionClass
		}
		data, err := json.MarshalIndent(out, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}

	fmt.Println()
	fmt.Println(TitleStyle.Render("MFA Policy Check"))
	fmt.Println(RenderSeparator(50))
	fmt.Println()

	fmt.Printf("  %s%s\n", LabelStyle.Render("Role:"), ValueStyle.Render(role))
	fmt.Printf("  %s%s\n", LabelStyle.Render("MFA Required:"), yesNo(decision.Required))
	fmt.Printf("  %s%s\n", LabelStyle.Render("MFA Recommended:"), yesNo(decision.Recommended))
	fmt.Printf("  %s%s\n", LabelStyle.Render("MFA Enabled:"), yesNo(decision.Enabled))
	if decision.InGracePeriod {
		fmt.Printf("  %s%s\n", LabelStyle.Render("Grace Period:"),
			WarningStyle.Render(fmt.Sprintf("%d day(s) remaining", decision.GraceDaysRemaining)))
	}
	fmt.Printf("  %s%s\n", LabelStyle.Render("Can Proceed:"), yesNo(decision.CanProceedWithoutMFA))
	fmt.Println()
	fmt.Println(DimStyle.Render("  " + decision.Message))

	if action != "" {
		fmt.Println()
		fmt.Println(SectionStyle.Render("Action"))
		fmt.Printf("  %s%s\n", LabelStyle.Render("Action ID:"), ValueStyle.Render(action))
		if actionProtected {
			fmt.Printf("  %s%s\n", LabelStyle.Render("Protected:"),
				WarningStyle.Render(fmt.Sprintf("yes (%s)", actionClass)))
		} else {
			fmt.Printf("  %s%s\n", LabelStyle.Render("Protected:"), ValueStyle.Render("no"))
		}
	}

	fmt.Println()
	return nil
}

// handlePolicyEnroll provisions a new TOTP secret under the configured
// issuer and prints the otpauth provisioning URL.
func handlePolicyEnroll(args Args) error {
	eng, err := newEngine(args)
	if err != nil {
		return err
	}
	defer eng.Close()

	account := args.Flag("account")
	if account == "" {
		account = args.Arg(0)
	}
	if account == "" {
		return fmt.Errorf("account required\nUsage: guardrail policy enroll <account>")
	}

	secret, url, err := stepup.GenerateTOTPSecret(eng.Config.StepUp.TOTPIssuer, account)
	if err != nil {
		return err
	}

	if args.JSON {
		data, err := json.MarshalIndent(map[string]string{
			"issuer":  eng.Config.StepUp.TOTPIssuer,
			"account": account,
			"secret":  secret,
			"url":     url,
		}, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}

	fmt.Println()
	fmt.Println(TitleStyle.Render("TOTP Enrollment"))
	fmt.Println(RenderSeparator(50))
	fmt.Println()
	fmt.Printf("  %s%s\n", LabelStyle.Render("Issuer:"), ValueStyle.Render(eng.Config.StepUp.TOTPIssuer))
	fmt.Printf("  %s%s\n", LabelStyle.Render("Account:"), ValueStyle.Render(account))
	fmt.Printf("  %s%s\n", LabelStyle.Render("Secret:"), ValueStyle.Render(secret))
	fmt.Printf("  %s%s\n", LabelStyle.Render("URL:"), DimStyle.Render(url))
	fmt.Println()
	fmt.Println(DimStyle.Render("  Add the secret to an authenticator app, then verify a code."))
	fmt.Println()
	return nil
}

// yesNo renders a boolean with semantic color.
func yesNo(v bool) string {
	if v {
		return SuccessStyle.Render("yes")
	}
	return DimStyle.Render("no")
}
