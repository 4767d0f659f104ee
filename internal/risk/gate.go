// SPDX-License-Identifier: AGPL-3.0-or-later
package risk

import "github.com/toolup-org/toolup/internal/types"

// GateFor derives the confirmation-gate policy from a plan's steps. Any
// high-risk step requires a double gate exposing that step's description,
// rollback data and backup targets; sudo-only plans require a single gate.
func GateFor(steps []types.Step, summary types.RiskSummary) types.ConfirmationGate {
	if summary.HighCount > 0 {
		gate := types.ConfirmationGate{Type: types.GateDouble}
		for _, s := range steps {
			if s.Risk != types.RiskHigh {
				continue
			}
			detail := types.GateDetail{
				StepID:      s.ID,
				Description: s.Label,
				Rollback:    s.Rollback,
			}
			if s.Config != nil && s.Config.Path != "" {
				detail.BackupTargets = append(detail.BackupTargets, s.Config.Path)
			}
			gate.Details = append(gate.Details, detail)
		}
		return gate
	}
	for _, s := range steps {
		if s.NeedsSudo || s.Risk == types.RiskMedium {
			return types.ConfirmationGate{Type: types.GateSingle}
		}
	}
	return types.ConfirmationGate{Type: types.GateNone}
}
