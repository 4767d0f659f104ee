package rollback

import (
	"context"
	"strings"
	"testing"

	"github.com/toolup-org/toolup/internal/types"
)

type fakeRunner struct {
	executed []string
	fail     map[string]bool
}

func (f *fakeRunner) Execute(ctx context.Context, step types.Step) types.StepResult {
	f.executed = append(f.executed, step.ID)
	if f.fail[step.ID] {
		return types.StepResult{StepID: step.ID, Error: "exit status 1"}
	}
	return types.StepResult{StepID: step.ID, OK: true}
}

func TestGenerateReversesCompletedOrder(t *testing.T) {
	t.Parallel()
	st := &types.PlanState{
		PlanID: "p1",
		Steps: []types.Step{
			{ID: "packages", Label: "Install packages", Rollback: "apt-get remove -y libfoo"},
			{ID: "install-tool", Label: "Install tool", Rollback: "apt-get remove -y tool", NeedsSudo: true},
			{ID: "verify", Label: "Verify"},
		},
		CompletedSteps: []string{"packages", "install-tool", "verify"},
	}

	steps := Generate(st)
	if len(steps) != 2 {
		t.Fatalf("expected 2 inverse steps, got %d", len(steps))
	}
	if steps[0].ID != "rollback-install-tool" || steps[1].ID != "rollback-packages" {
		t.Fatalf("expected newest-first order, got %v", []string{steps[0].ID, steps[1].ID})
	}
	if !steps[0].NeedsSudo {
		t.Fatalf("expected sudo carried onto the inverse step")
	}
	if steps[0].PMAffinity != "apt" {
		t.Fatalf("expected package manager affinity inferred, got %q", steps[0].PMAffinity)
	}
}

func TestGenerateConfigBackupFallback(t *testing.T) {
	t.Parallel()
	st := &types.PlanState{
		PlanID: "p1",
		Steps: []types.Step{{
			ID:     "post-conf",
			Label:  "Write config",
			Type:   types.StepConfig,
			Config: &types.ConfigSpec{Path: "/etc/tool.conf"},
		}},
		CompletedSteps: []string{"post-conf"},
	}
	steps := Generate(st)
	if len(steps) != 1 {
		t.Fatalf("expected a backup-restore step, got %d", len(steps))
	}
	cmd := steps[0].Command
	if !strings.Contains(cmd, "/etc/tool.conf.bak") || !strings.Contains(cmd, "rm -f /etc/tool.conf") {
		t.Fatalf("unexpected restore command: %q", cmd)
	}
}

func TestGenerateSkipsUncompletedAndUnknown(t *testing.T) {
	t.Parallel()
	st := &types.PlanState{
		PlanID: "p1",
		Steps: []types.Step{
			{ID: "a", Rollback: "undo-a"},
			{ID: "b", Rollback: "undo-b"},
		},
		CompletedSteps: []string{"a", "ghost"},
	}
	steps := Generate(st)
	if len(steps) != 1 || steps[0].ID != "rollback-a" {
		t.Fatalf("expected only the completed known step, got %+v", steps)
	}
}

func TestExecuteRunsEverythingAndJoinsFailures(t *testing.T) {
	t.Parallel()
	runner := &fakeRunner{fail: map[string]bool{"rollback-b": true}}
	steps := []types.Step{
		{ID: "rollback-c", Command: "undo-c"},
		{ID: "rollback-b", Command: "undo-b"},
		{ID: "rollback-a", Command: "undo-a"},
	}
	err := Execute(context.Background(), runner, steps)
	if err == nil {
		t.Fatalf("expected aggregated failure")
	}
	if len(runner.executed) != 3 {
		t.Fatalf("expected best-effort execution of all steps, got %v", runner.executed)
	}
	if !strings.Contains(err.Error(), "rollback-b") {
		t.Fatalf("expected failing step named, got %v", err)
	}
}

func TestExecuteNoSteps(t *testing.T) {
	t.Parallel()
	if err := Execute(context.Background(), &fakeRunner{}, nil); err != nil {
		t.Fatalf("expected nil error for empty rollbacks, got %v", err)
	}
}
