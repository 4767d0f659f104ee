// SPDX-License-Identifier: AGPL-3.0-or-later

// Package rollback derives and runs the inverse of a plan's completed steps.
// Rollback is best-effort: every inverse step runs even when an earlier one
// fails, and all failures are reported together.
package rollback

import (
	"context"
	"errors"
	"fmt"

	"github.com/toolup-org/toolup/internal/types"
)

// Runner executes one rollback step.
type Runner interface {
	Execute(ctx context.Context, step types.Step) types.StepResult
}

// Generate builds the inverse steps for a plan state, newest completed step
// first. Steps without rollback data are skipped; config steps fall back to
// restoring the backup taken before the file was written.
func Generate(st *types.PlanState) []types.Step {
	byID := make(map[string]types.Step, len(st.Steps))
	for _, s := range st.Steps {
		byID[s.ID] = s
	}

	var out []types.Step
	for i := len(st.CompletedSteps) - 1; i >= 0; i-- {
		step, ok := byID[st.CompletedSteps[i]]
		if !ok {
			continue
		}
		inv := inverseStep(step)
		if inv != nil {
			out = append(out, *inv)
		}
	}
	return out
}

func inverseStep(step types.Step) *types.Step {
	cmd := step.Rollback
	if cmd == "" && step.Type == types.StepConfig && step.Config != nil {
		path := step.Config.Path
		cmd = fmt.Sprintf("test -f %s.bak && mv %s.bak %s || rm -f %s", path, path, path, path)
	}
	if cmd == "" {
		return nil
	}
	return &types.Step{
		ID:         "rollback-" + step.ID,
		Type:       types.StepCommand,
		Label:      "Roll back: " + step.Label,
		Command:    cmd,
		NeedsSudo:  step.NeedsSudo,
		Risk:       step.Risk,
		Timeout:    step.Timeout,
		PMAffinity: types.InferAffinity(cmd),
	}
}

// Execute runs every rollback step and returns the joined failures, if any.
func Execute(ctx context.Context, runner Runner, steps []types.Step) error {
	var errs []error
	for _, step := range steps {
		res := runner.Execute(ctx, step)
		if !res.OK {
			errs = append(errs, fmt.Errorf("rollback step %s: %s", step.ID, res.Error))
		}
	}
	return errors.Join(errs...)
}
