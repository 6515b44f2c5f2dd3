// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package stepup decides whether a sensitive action may proceed: role MFA
// policy, the protected-action registry, and the time-boxed step-up session
// that proves a second factor was verified recently.
//
// Every classification lookup fails closed. An unrecognized role requires
// MFA with no grace period; an unrecognized action under a protected prefix
// is treated as protected.
package stepup

import (
	"fmt"
	"strings"
	"time"
)

// =============================================================================
// CONSTANTS
// =============================================================================

const (
	// GracePeriodDays is how long after account creation a required role may
	// still proceed without MFA enabled.
	GracePeriodDays = 7

	// SessionDuration is the step-up session lifetime, sliding on Extend.
	SessionDuration = 15 * time.Minute
)

// =============================================================================
// ROLES
// =============================================================================

// requiredRoles must have MFA enabled (after the grace period).
var requiredRoles = map[string]bool{
	"admin":            true,
	"managing_partner": true,
	"billing":          true,
}

// recommendedRoles are advised to enable MFA but may always proceed.
var recommendedRoles = map[string]bool{
	"lawyer":     true,
	"paralegal":  true,
	"accountant": true,
}

func normalizeRole(role string) string {
	return strings.ToLower(strings.TrimSpace(role))
}

// IsRequired reports whether a role must have MFA. Unrecognized roles fail
// closed to required.
func IsRequired(role string) bool {
	r := normalizeRole(role)
	if requiredRoles[r] {
		return true
	}
	return !recommendedRoles[r]
}

// IsRecommended reports whether MFA is recommended (but not required) for a
// role.
func IsRecommended(role string) bool {
	return recommendedRoles[normalizeRole(role)]
}

// knownRole reports whether the role appears in either policy table.
// Unknown roles get the required policy but no grace period.
func knownRole(role string) bool {
	r := normalizeRole(role)
	return requiredRoles[r] || recommendedRoles[r]
}

// =============================================================================
// PROTECTED ACTIONS
// =============================================================================

// Classification is the protection category of a sensitive action.
type Classification string

const (
	ClassFinancial       Classification = "financial"
	ClassUserManagement  Classification = "user-management"
	ClassSecuritySetting Classification = "security-setting"
	ClassBulkData        Classification = "bulk-data"
	ClassAdmin           Classification = "admin"
)

// Registry maps action identifiers to protection classifications. Consulted
// read-only; the default registry covers the standard sensitive surfaces.
type Registry struct {
	actions  map[string]Classification
	prefixes map[string]Classification
}

// DefaultRegistry returns the standard protected-action registry.
func DefaultRegistry() *Registry {
	return &Registry{
		actions: map[string]Classification{
			"billing.update_payment_method": ClassFinancial,
			"billing.issue_refund":          ClassFinancial,
			"billing.change_plan":           ClassFinancial,
			"users.delete":                  ClassUserManagement,
			"users.change_role":             ClassUserManagement,
			"users.impersonate":             ClassUserManagement,
			"security.disable_mfa":          ClassSecuritySetting,
			"security.rotate_keys":          ClassSecuritySetting,
			"security.change_password":      ClassSecuritySetting,
			"data.bulk_export":              ClassBulkData,
			"data.bulk_delete":              ClassBulkData,
			"admin.settings":                ClassAdmin,
			"admin.audit_clear":             ClassAdmin,
		},
		prefixes: map[string]Classification{
			"billing.":  ClassFinancial,
			"security.": ClassSecuritySetting,
			"admin.":    ClassAdmin,
		},
	}
}

// Classify returns the classification for an action identifier. Explicit
// entries win; otherwise protected prefixes apply, so an unregistered action
// under a protected namespace still denies.
func (r *Registry) Classify(actionID string) (Classification, bool) {
	id := strings.ToLower(strings.TrimSpace(actionID))
	if c, ok := r.actions[id]; ok {
		return c, true
	}
	for prefix, c := range r.prefixes {
		if strings.HasPrefix(id, prefix) {
			return c, true
		}
	}
	return "", false
}

// IsProtected reports whether an action requires step-up verification.
func (r *Registry) IsProtected(actionID string) bool {
	_, ok := r.Classify(actionID)
	return ok
}

// Register adds or overrides an action classification.
func (r *Registry) Register(actionID string, c Classification) {
	r.actions[strings.ToLower(strings.TrimSpace(actionID))] = c
}

// =============================================================================
// POLICY EVALUATION
// =============================================================================

// PolicyDecision is the total outcome of an MFA policy evaluation. Message
// is a human-readable reason for the caller's UI layer.
type PolicyDecision struct {
	Required             bool   `json:"required"`
	Recommended          bool   `json:"recommended"`
	Enabled              bool   `json:"enabled"`
	InGracePeriod        bool   `json:"in_grace_period"`
	GraceDaysRemaining   int    `json:"grace_days_remaining"`
	CanProceedWithoutMFA bool   `json:"can_proceed_without_mfa"`
	Message              string `json:"message"`
}

// EvaluatePolicy decides whether a user may proceed given their role, MFA
// enrollment, and account age. Pure and total: every input combination maps
// to a defined outcome relative to now.
func EvaluatePolicy(role string, mfaEnabled bool, accountCreatedAt, now time.Time) PolicyDecision {
	d := PolicyDecision{
		Required:    IsRequired(role),
		Recommended: IsRecommended(role),
		Enabled:     mfaEnabled,
	}

	if mfaEnabled {
		d.CanProceedWithoutMFA = true
		d.Message = "multi-factor authentication is enabled"
		return d
	}

	if !d.Required {
		d.CanProceedWithoutMFA = true
		d.Message = "enabling multi-factor authentication is recommended for this role"
		return d
	}

	if !knownRole(role) {
		// Fail closed: no grace period for roles outside the policy tables.
		d.Message = fmt.Sprintf("role %q is not recognized; multi-factor authentication is required", role)
		return d
	}

	graceEnds := accountCreatedAt.Add(GracePeriodDays * 24 * time.Hour)
	if now.Before(graceEnds) {
		d.InGracePeriod = true
		d.GraceDaysRemaining = int(graceEnds.Sub(now).Hours()/24) + 1
		d.CanProceedWithoutMFA = true
		d.Message = fmt.Sprintf("multi-factor authentication is required for this role; %d day(s) remain to enable it", d.GraceDaysRemaining)
		return d
	}

	d.Message = "multi-factor authentication is required for this role and the setup grace period has ended"
	return d
}
