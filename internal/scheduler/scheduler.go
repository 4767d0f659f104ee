// SPDX-License-Identifier: AGPL-3.0-or-later
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/toolup-org/toolup/internal/events"
	"github.com/toolup-org/toolup/internal/types"
)

// DefaultMaxParallel caps the number of steps in flight per round.
const DefaultMaxParallel = 4

// StepRunner executes one step. The executor package provides the real
// implementation; tests inject fakes.
type StepRunner interface {
	Execute(ctx context.Context, step types.Step) types.StepResult
}

// Store persists plan state. The scheduler saves after every finished step so
// a crash loses at most the step in flight.
type Store interface {
	Save(st *types.PlanState) error
}

// Scheduler drives one plan to completion, pause or failure.
type Scheduler struct {
	Runner      StepRunner
	Store       Store
	Sink        events.Sink
	MaxParallel int
}

// New returns a scheduler with the default parallelism.
func New(runner StepRunner, store Store, sink events.Sink) *Scheduler {
	return &Scheduler{Runner: runner, Store: store, Sink: sink, MaxParallel: DefaultMaxParallel}
}

// Run executes the plan's remaining steps round by round. Each round takes
// every step whose dependencies have completed, holding back all but one step
// per package-manager affinity, and runs the batch concurrently. A failed
// step skips its transitive dependents; a successful step that demands a
// restart, or a step that turns out to need sudo, pauses the plan after its
// round finishes.
func (s *Scheduler) Run(ctx context.Context, plan *types.Plan, st *types.PlanState) error {
	if err := ValidateGraph(plan.Steps); err != nil {
		return err
	}

	completed := make(map[string]bool, len(st.CompletedSteps))
	for _, id := range st.CompletedSteps {
		completed[id] = true
	}
	failed := make(map[string]bool)
	skipped := make(map[string]bool)
	total := len(plan.Steps)

	var mu sync.Mutex
	persist := func() error {
		st.UpdatedAt = time.Now().UTC()
		if s.Store == nil {
			return nil
		}
		return s.Store.Save(st)
	}

	st.Status = types.StatusRunning
	if err := persist(); err != nil {
		return err
	}

	var pauseReason string
	for {
		if err := ctx.Err(); err != nil {
			st.Status = types.StatusCancelled
			if perr := persist(); perr != nil {
				return perr
			}
			return err
		}

		// Propagate failure before selecting: a step whose dependency failed
		// or was skipped can never run.
		for changed := true; changed; {
			changed = false
			for _, step := range plan.Steps {
				if completed[step.ID] || failed[step.ID] || skipped[step.ID] {
					continue
				}
				for _, dep := range step.DependsOn {
					if failed[dep] || skipped[dep] {
						skipped[step.ID] = true
						changed = true
						break
					}
				}
			}
		}

		batch := s.selectRound(plan.Steps, completed, failed, skipped)
		if len(batch) == 0 {
			break
		}

		runStep := func(ctx context.Context, step types.Step) error {
			if s.Sink != nil {
				s.Sink.EmitStepStart(plan.ID, step.ID, step.Label, total)
			}
			res := s.Runner.Execute(ctx, step)

			mu.Lock()
			defer mu.Unlock()
			if res.OK {
				completed[step.ID] = true
				st.CompletedSteps = append(st.CompletedSteps, step.ID)
				if s.Sink != nil {
					s.Sink.EmitStepDone(plan.ID, step.ID, res.Duration, res.Skipped)
				}
				if res.RestartRequired != "" && res.RestartRequired != types.RestartNone && pauseReason == "" {
					pauseReason = fmt.Sprintf("step %s requires a %s restart", step.ID, res.RestartRequired)
				}
			} else if res.NeedsSudo {
				// Recoverable: pause instead of recording a failure so the
				// plan resumes cleanly once a password is supplied.
				if pauseReason == "" {
					pauseReason = fmt.Sprintf("step %s requires sudo; resume with --sudo-password", step.ID)
				}
				if s.Sink != nil {
					s.Sink.EmitStepFailed(plan.ID, step.ID, fmt.Errorf("%s", res.Error), true)
				}
			} else {
				failed[step.ID] = true
				st.FailedSteps = append(st.FailedSteps, step.ID)
				if s.Sink != nil {
					s.Sink.EmitStepFailed(plan.ID, step.ID, fmt.Errorf("%s", res.Error), res.NeedsSudo)
				}
			}
			return persist()
		}

		if len(batch) == 1 {
			if err := runStep(ctx, batch[0]); err != nil {
				return err
			}
		} else {
			g, gctx := errgroup.WithContext(ctx)
			g.SetLimit(s.maxParallel())
			for _, step := range batch {
				step := step
				g.Go(func() error {
					return runStep(gctx, step)
				})
			}
			if err := g.Wait(); err != nil {
				return err
			}
		}

		if pauseReason != "" {
			st.Status = types.StatusPaused
			st.PauseReason = pauseReason
			if err := persist(); err != nil {
				return err
			}
			if s.Sink != nil {
				s.Sink.EmitDone(plan.ID, true, "", true, pauseReason)
			}
			return nil
		}
	}

	if len(failed) > 0 {
		st.Status = types.StatusFailed
		if err := persist(); err != nil {
			return err
		}
		if s.Sink != nil {
			s.Sink.EmitDone(plan.ID, false, fmt.Sprintf("%d step(s) failed", len(failed)), false, "")
		}
		return nil
	}

	st.Status = types.StatusDone
	if err := persist(); err != nil {
		return err
	}
	if s.Sink != nil {
		s.Sink.EmitDone(plan.ID, true, fmt.Sprintf("completed %d step(s)", len(completed)), false, "")
	}
	return nil
}

// selectRound picks the runnable steps for one round in plan order, limiting
// each nonempty package-manager affinity to a single step.
func (s *Scheduler) selectRound(steps []types.Step, completed, failed, skipped map[string]bool) []types.Step {
	claimed := make(map[string]bool)
	var batch []types.Step
	for _, step := range steps {
		if completed[step.ID] || failed[step.ID] || skipped[step.ID] {
			continue
		}
		ready := true
		for _, dep := range step.DependsOn {
			if !completed[dep] {
				ready = false
				break
			}
		}
		if !ready {
			continue
		}
		if step.PMAffinity != "" {
			if claimed[step.PMAffinity] {
				continue
			}
			claimed[step.PMAffinity] = true
		}
		batch = append(batch, step)
	}
	return batch
}

func (s *Scheduler) maxParallel() int {
	if s.MaxParallel > 0 {
		return s.MaxParallel
	}
	return DefaultMaxParallel
}
