package state

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/toolup-org/toolup/internal/types"
)

func sampleState() *types.PlanState {
	return &types.PlanState{
		PlanID: "plan-1",
		Tool:   "postgres",
		Status: types.StatusRunning,
		Steps: []types.Step{
			{ID: "packages", Type: types.StepPackages},
			{ID: "configure", Type: types.StepConfig, Config: &types.ConfigSpec{
				Path:   "/etc/postgres.conf",
				Values: map[string]string{"port": "5432", "admin_password": "hunter2"},
			}},
			{ID: "verify", Type: types.StepVerify},
		},
		Inputs:       map[string]string{"port": "5432", "admin_password": "hunter2"},
		SecretInputs: []string{"admin_password"},
		CreatedAt:    time.Now().UTC(),
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	t.Parallel()
	store := NewStore(t.TempDir())
	st := sampleState()
	st.CompletedSteps = []string{"packages"}

	if err := store.Save(st); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := store.Load("plan-1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Tool != "postgres" || got.Status != types.StatusRunning {
		t.Fatalf("unexpected state: %+v", got)
	}
	if len(got.CompletedSteps) != 1 || got.CompletedSteps[0] != "packages" {
		t.Fatalf("expected completed steps to survive, got %v", got.CompletedSteps)
	}
}

func TestLoadMissingPlan(t *testing.T) {
	t.Parallel()
	store := NewStore(t.TempDir())
	_, err := store.Load("nope")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSaveRedactsSecretsEverywhere(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	store := NewStore(dir)
	st := sampleState()

	if err := store.Save(st); err != nil {
		t.Fatalf("save: %v", err)
	}

	raw, err := os.ReadFile(filepath.Join(dir, "plan-1.json"))
	if err != nil {
		t.Fatalf("read raw state: %v", err)
	}
	if strings.Contains(string(raw), "hunter2") {
		t.Fatalf("secret value leaked into persisted state:\n%s", raw)
	}
	if !strings.Contains(string(raw), "***REDACTED***") {
		t.Fatalf("expected redaction marker in persisted state")
	}
	// Non-secret values survive.
	if !strings.Contains(string(raw), "5432") {
		t.Fatalf("expected non-secret input to persist")
	}
	// The in-memory state the caller holds is untouched.
	if st.Inputs["admin_password"] != "hunter2" {
		t.Fatalf("save must not mutate the caller's state")
	}
}

func TestListNewestFirst(t *testing.T) {
	t.Parallel()
	store := NewStore(t.TempDir())

	old := sampleState()
	old.PlanID = "plan-old"
	old.UpdatedAt = time.Now().UTC().Add(-time.Hour)
	if err := store.Save(old); err != nil {
		t.Fatalf("save old: %v", err)
	}
	fresh := sampleState()
	fresh.PlanID = "plan-new"
	fresh.UpdatedAt = time.Now().UTC()
	if err := store.Save(fresh); err != nil {
		t.Fatalf("save new: %v", err)
	}

	states, err := store.List()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(states) != 2 {
		t.Fatalf("expected 2 states, got %d", len(states))
	}
	if states[0].PlanID != "plan-new" {
		t.Fatalf("expected newest first, got %s", states[0].PlanID)
	}
}

func TestCancelRunningPlan(t *testing.T) {
	t.Parallel()
	store := NewStore(t.TempDir())
	st := sampleState()
	if err := store.Save(st); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := store.Cancel("plan-1"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	got, err := store.Load("plan-1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Status != types.StatusCancelled {
		t.Fatalf("expected cancelled, got %s", got.Status)
	}
	if err := store.Cancel("plan-1"); err == nil {
		t.Fatalf("expected second cancel to fail")
	}
}

func TestAcquireLockBlocksSecondHolder(t *testing.T) {
	t.Parallel()
	store := NewStore(t.TempDir())
	release, err := store.AcquireLock("plan-1")
	if err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	if _, err := store.AcquireLock("plan-1"); err == nil {
		t.Fatalf("expected second acquire to fail while held")
	}
	release()
	release2, err := store.AcquireLock("plan-1")
	if err != nil {
		t.Fatalf("expected acquire after release to succeed: %v", err)
	}
	release2()
}

func TestResumePlanKeepsOnlyRemainingSteps(t *testing.T) {
	t.Parallel()
	st := &types.PlanState{
		PlanID: "plan-1",
		Tool:   "postgres",
		Status: types.StatusPaused,
		Steps: []types.Step{
			{ID: "a"},
			{ID: "b", DependsOn: []string{"a"}},
			{ID: "c", DependsOn: []string{"b"}},
			{ID: "d", DependsOn: []string{"a", "c"}},
		},
		CompletedSteps: []string{"a", "b"},
	}
	plan, err := ResumePlan(st)
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if len(plan.Steps) != 2 {
		t.Fatalf("expected 2 remaining steps, got %d", len(plan.Steps))
	}
	if plan.Steps[0].ID != "c" || plan.Steps[1].ID != "d" {
		t.Fatalf("unexpected remaining steps: %+v", plan.Steps)
	}
	if len(plan.Steps[0].DependsOn) != 0 {
		t.Fatalf("expected satisfied deps dropped, got %v", plan.Steps[0].DependsOn)
	}
	if len(plan.Steps[1].DependsOn) != 1 || plan.Steps[1].DependsOn[0] != "c" {
		t.Fatalf("expected only unmet dep c kept, got %v", plan.Steps[1].DependsOn)
	}
}

func TestResumePlanRejectsWrongStatus(t *testing.T) {
	t.Parallel()
	st := &types.PlanState{PlanID: "plan-1", Status: types.StatusDone, Steps: []types.Step{{ID: "a"}}}
	if _, err := ResumePlan(st); err == nil {
		t.Fatalf("expected resume of done plan to fail")
	}
}
