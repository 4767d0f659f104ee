package scheduler

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/toolup-org/toolup/internal/types"
)

type fakeRunner struct {
	mu       sync.Mutex
	order    []string
	inFlight int
	maxSeen  int
	delay    time.Duration
	results  map[string]types.StepResult
}

func (f *fakeRunner) Execute(ctx context.Context, step types.Step) types.StepResult {
	f.mu.Lock()
	f.order = append(f.order, step.ID)
	f.inFlight++
	if f.inFlight > f.maxSeen {
		f.maxSeen = f.inFlight
	}
	res, ok := f.results[step.ID]
	f.mu.Unlock()

	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	f.mu.Lock()
	f.inFlight--
	f.mu.Unlock()

	if !ok {
		res = types.StepResult{StepID: step.ID, OK: true}
	}
	return res
}

func (f *fakeRunner) ran(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, got := range f.order {
		if got == id {
			return true
		}
	}
	return false
}

func (f *fakeRunner) indexOf(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, got := range f.order {
		if got == id {
			return i
		}
	}
	return -1
}

type memStore struct {
	mu    sync.Mutex
	saves int
}

func (m *memStore) Save(st *types.PlanState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	return nil
}

func TestValidateGraphRejectsDuplicateID(t *testing.T) {
	t.Parallel()
	err := ValidateGraph([]types.Step{{ID: "a"}, {ID: "a"}})
	if err == nil {
		t.Fatalf("expected duplicate id error")
	}
}

func TestValidateGraphRejectsUnknownDependency(t *testing.T) {
	t.Parallel()
	err := ValidateGraph([]types.Step{{ID: "a", DependsOn: []string{"ghost"}}})
	if err == nil {
		t.Fatalf("expected unknown dependency error")
	}
}

func TestValidateGraphRejectsCycle(t *testing.T) {
	t.Parallel()
	steps := []types.Step{
		{ID: "a", DependsOn: []string{"c"}},
		{ID: "b", DependsOn: []string{"a"}},
		{ID: "c", DependsOn: []string{"b"}},
	}
	err := ValidateGraph(steps)
	var cyc *CycleError
	if !errors.As(err, &cyc) {
		t.Fatalf("expected CycleError, got %v", err)
	}
	if len(cyc.Steps) != 3 {
		t.Fatalf("expected 3 steps in cycle, got %v", cyc.Steps)
	}
}

func TestRunRespectsDependencyOrder(t *testing.T) {
	t.Parallel()
	plan := &types.Plan{ID: "p1", Steps: []types.Step{
		{ID: "a"},
		{ID: "b", DependsOn: []string{"a"}},
		{ID: "c", DependsOn: []string{"b"}},
	}}
	runner := &fakeRunner{}
	st := &types.PlanState{PlanID: "p1"}

	if err := New(runner, &memStore{}, nil).Run(context.Background(), plan, st); err != nil {
		t.Fatalf("run: %v", err)
	}
	if st.Status != types.StatusDone {
		t.Fatalf("expected status done, got %s", st.Status)
	}
	if runner.indexOf("a") > runner.indexOf("b") || runner.indexOf("b") > runner.indexOf("c") {
		t.Fatalf("expected a before b before c, got %v", runner.order)
	}
	if len(st.CompletedSteps) != 3 {
		t.Fatalf("expected 3 completed steps, got %v", st.CompletedSteps)
	}
}

func TestRunOverlapsIndependentSteps(t *testing.T) {
	t.Parallel()
	plan := &types.Plan{ID: "p1", Steps: []types.Step{
		{ID: "a"},
		{ID: "b"},
		{ID: "c"},
	}}
	runner := &fakeRunner{delay: 30 * time.Millisecond}
	st := &types.PlanState{PlanID: "p1"}

	if err := New(runner, &memStore{}, nil).Run(context.Background(), plan, st); err != nil {
		t.Fatalf("run: %v", err)
	}
	if runner.maxSeen < 2 {
		t.Fatalf("expected independent steps to overlap, max in flight was %d", runner.maxSeen)
	}
}

func TestRunSerializesSharedPackageManager(t *testing.T) {
	t.Parallel()
	plan := &types.Plan{ID: "p1", Steps: []types.Step{
		{ID: "a", PMAffinity: "apt"},
		{ID: "b", PMAffinity: "apt"},
	}}
	runner := &fakeRunner{delay: 30 * time.Millisecond}
	st := &types.PlanState{PlanID: "p1"}

	if err := New(runner, &memStore{}, nil).Run(context.Background(), plan, st); err != nil {
		t.Fatalf("run: %v", err)
	}
	if runner.maxSeen != 1 {
		t.Fatalf("expected apt steps to serialize, max in flight was %d", runner.maxSeen)
	}
	if len(st.CompletedSteps) != 2 {
		t.Fatalf("expected both steps completed, got %v", st.CompletedSteps)
	}
}

func TestRunSkipsTransitiveDependentsOfFailure(t *testing.T) {
	t.Parallel()
	plan := &types.Plan{ID: "p1", Steps: []types.Step{
		{ID: "a"},
		{ID: "b", DependsOn: []string{"a"}},
		{ID: "c", DependsOn: []string{"b"}},
		{ID: "d"},
	}}
	runner := &fakeRunner{results: map[string]types.StepResult{
		"a": {StepID: "a", OK: false, Error: "boom"},
	}}
	st := &types.PlanState{PlanID: "p1"}

	if err := New(runner, &memStore{}, nil).Run(context.Background(), plan, st); err != nil {
		t.Fatalf("run: %v", err)
	}
	if st.Status != types.StatusFailed {
		t.Fatalf("expected status failed, got %s", st.Status)
	}
	if runner.ran("b") || runner.ran("c") {
		t.Fatalf("expected dependents of failed step to be skipped, ran %v", runner.order)
	}
	if !runner.ran("d") {
		t.Fatalf("expected independent step d to run")
	}
	if len(st.FailedSteps) != 1 || st.FailedSteps[0] != "a" {
		t.Fatalf("expected only a in failed steps, got %v", st.FailedSteps)
	}
}

func TestRunPausesOnRestartRequired(t *testing.T) {
	t.Parallel()
	plan := &types.Plan{ID: "p1", Steps: []types.Step{
		{ID: "a"},
		{ID: "b", DependsOn: []string{"a"}},
	}}
	runner := &fakeRunner{results: map[string]types.StepResult{
		"a": {StepID: "a", OK: true, RestartRequired: types.RestartShell},
	}}
	st := &types.PlanState{PlanID: "p1"}

	if err := New(runner, &memStore{}, nil).Run(context.Background(), plan, st); err != nil {
		t.Fatalf("run: %v", err)
	}
	if st.Status != types.StatusPaused {
		t.Fatalf("expected status paused, got %s", st.Status)
	}
	if st.PauseReason == "" {
		t.Fatalf("expected a pause reason")
	}
	if runner.ran("b") {
		t.Fatalf("expected b to wait for the restart")
	}
}

func TestRunPausesOnSudoRequiredWithoutFailing(t *testing.T) {
	t.Parallel()
	plan := &types.Plan{ID: "p1", Steps: []types.Step{
		{ID: "a"},
		{ID: "b", DependsOn: []string{"a"}},
	}}
	runner := &fakeRunner{results: map[string]types.StepResult{
		"a": {StepID: "a", OK: false, NeedsSudo: true, Error: "step a requires sudo; supply a password"},
	}}
	st := &types.PlanState{PlanID: "p1"}

	if err := New(runner, &memStore{}, nil).Run(context.Background(), plan, st); err != nil {
		t.Fatalf("run: %v", err)
	}
	if st.Status != types.StatusPaused {
		t.Fatalf("expected status paused, got %s", st.Status)
	}
	if !strings.Contains(st.PauseReason, "sudo") {
		t.Fatalf("expected a sudo pause reason, got %q", st.PauseReason)
	}
	if len(st.FailedSteps) != 0 {
		t.Fatalf("expected no persisted failure, got %v", st.FailedSteps)
	}
	if len(st.CompletedSteps) != 0 {
		t.Fatalf("expected a left uncompleted for the retry, got %v", st.CompletedSteps)
	}
	if runner.ran("b") {
		t.Fatalf("expected b held back for the resume")
	}
}

func TestRunSkipsAlreadyCompletedSteps(t *testing.T) {
	t.Parallel()
	plan := &types.Plan{ID: "p1", Steps: []types.Step{
		{ID: "a"},
		{ID: "b", DependsOn: []string{"a"}},
	}}
	runner := &fakeRunner{}
	st := &types.PlanState{PlanID: "p1", CompletedSteps: []string{"a"}}

	if err := New(runner, &memStore{}, nil).Run(context.Background(), plan, st); err != nil {
		t.Fatalf("run: %v", err)
	}
	if runner.ran("a") {
		t.Fatalf("expected completed step a not to re-run")
	}
	if !runner.ran("b") {
		t.Fatalf("expected b to run")
	}
}

func TestRunPersistsAfterEveryStep(t *testing.T) {
	t.Parallel()
	plan := &types.Plan{ID: "p1", Steps: []types.Step{{ID: "a"}, {ID: "b"}}}
	store := &memStore{}
	st := &types.PlanState{PlanID: "p1"}

	if err := New(&fakeRunner{}, store, nil).Run(context.Background(), plan, st); err != nil {
		t.Fatalf("run: %v", err)
	}
	// Initial running save, one per step, final status save.
	if store.saves < 4 {
		t.Fatalf("expected at least 4 saves, got %d", store.saves)
	}
}
