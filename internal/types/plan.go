// SPDX-License-Identifier: AGPL-3.0-or-later
package types

import "time"

// Confirmation gate kinds derived from plan risk.
const (
	GateNone   = "none"
	GateSingle = "single"
	GateDouble = "double"
)

// Plan is a resolved, ordered set of steps for one install request. It is
// built once per resolution call and never mutated afterwards; a resumed plan
// is a new Plan holding only the remaining steps.
type Plan struct {
	ID               string           `json:"id"`
	Tool             string           `json:"tool"`
	Label            string           `json:"label"`
	AlreadyInstalled bool             `json:"already_installed,omitempty"`
	Method           string           `json:"method,omitempty"`
	NeedsSudo        bool             `json:"needs_sudo"`
	RiskSummary      RiskSummary      `json:"risk_summary"`
	Gate             ConfirmationGate `json:"confirmation_gate"`
	Warning          string           `json:"warning,omitempty"`
	Steps            []Step           `json:"steps"`
}

// RiskSummary aggregates per-step risk for a whole plan.
type RiskSummary struct {
	Level            string `json:"level"`
	HighCount        int    `json:"high_count,omitempty"`
	MediumCount      int    `json:"medium_count,omitempty"`
	Escalated        bool   `json:"escalated,omitempty"`
	EscalationReason string `json:"escalation_reason,omitempty"`
}

// ConfirmationGate is the human-acknowledgment policy for a plan.
type ConfirmationGate struct {
	Type    string       `json:"type"`
	Details []GateDetail `json:"details,omitempty"`
}

// GateDetail exposes one high-risk step on a double gate.
type GateDetail struct {
	StepID        string   `json:"step_id"`
	Description   string   `json:"description"`
	Rollback      string   `json:"rollback,omitempty"`
	BackupTargets []string `json:"backup_targets,omitempty"`
}

// Plan state lifecycle statuses.
const (
	StatusRunning   = "running"
	StatusPaused    = "paused"
	StatusFailed    = "failed"
	StatusDone      = "done"
	StatusCancelled = "cancelled"
)

// PlanState is the persisted record of one plan execution. Password-bearing
// input values are redacted before every persist.
type PlanState struct {
	PlanID         string            `json:"plan_id"`
	Tool           string            `json:"tool"`
	Status         string            `json:"status"`
	Steps          []Step            `json:"steps"`
	CompletedSteps []string          `json:"completed_steps"`
	FailedSteps    []string          `json:"failed_steps,omitempty"`
	Inputs         map[string]string `json:"inputs,omitempty"`
	SecretInputs   []string          `json:"secret_inputs,omitempty"`
	PauseReason    string            `json:"pause_reason,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}
