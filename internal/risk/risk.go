// SPDX-License-Identifier: AGPL-3.0-or-later

// Package risk holds the pure per-step risk inference and the plan-level
// aggregation. Confirmation-gate policy lives in gate.go so the two can be
// tested independently.
package risk

import (
	"strings"

	"github.com/toolup-org/toolup/internal/types"
)

var highRiskKeywords = []string{
	"kernel", "driver", "bootloader", "partition", "firmware",
	"grub", "initramfs", "mkinitcpio", "dd ",
}

// InferStep assigns a risk bucket to a step. An explicit recipe risk wins;
// otherwise a system restart or a high-risk keyword forces high, sudo forces
// medium, and everything else is low.
func InferStep(step types.Step, explicit string) string {
	if explicit != "" {
		return explicit
	}
	if step.RestartRequired == types.RestartSystem {
		return types.RiskHigh
	}
	label := strings.ToLower(step.Label + " " + step.Command)
	for _, kw := range highRiskKeywords {
		if strings.Contains(label, kw) {
			return types.RiskHigh
		}
	}
	if step.NeedsSudo {
		return types.RiskMedium
	}
	return types.RiskLow
}

// Rank orders risk buckets for comparisons.
func Rank(level string) int {
	switch level {
	case types.RiskHigh:
		return 2
	case types.RiskMedium:
		return 1
	default:
		return 0
	}
}

// Aggregate folds per-step risk into a plan summary.
func Aggregate(steps []types.Step) types.RiskSummary {
	sum := types.RiskSummary{Level: types.RiskLow}
	for _, s := range steps {
		switch s.Risk {
		case types.RiskHigh:
			sum.HighCount++
		case types.RiskMedium:
			sum.MediumCount++
		}
		if Rank(s.Risk) > Rank(sum.Level) {
			sum.Level = s.Risk
		}
	}
	return sum
}

// DetectEscalation compares the risk a plan would carry without any choices
// applied against the resolved plan and records why the bucket moved.
func DetectEscalation(baseline, resolved string, reason string) (bool, string) {
	if Rank(resolved) > Rank(baseline) {
		if reason == "" {
			reason = "a selected option raised the plan risk from " + baseline + " to " + resolved
		}
		return true, reason
	}
	return false, ""
}
