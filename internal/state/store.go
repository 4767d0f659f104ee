// SPDX-License-Identifier: AGPL-3.0-or-later

// Package state persists plan execution records as one JSON document per
// plan. Writes are atomic and guarded by a per-plan lock so two toolup
// processes cannot race on the same plan.
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/toolup-org/toolup/internal/events"
	"github.com/toolup-org/toolup/internal/paths"
	"github.com/toolup-org/toolup/internal/types"
)

// ErrNotFound is returned when no state exists for a plan id.
var ErrNotFound = errors.New("plan state not found")

// Store reads and writes plan state documents under a single directory.
type Store struct {
	dir string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewStore returns a store rooted at dir, defaulting to the toolup state
// directory.
func NewStore(dir string) *Store {
	if dir == "" {
		dir = paths.StateDir()
	}
	return &Store{dir: dir, locks: make(map[string]*sync.Mutex)}
}

func (s *Store) planLock(planID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[planID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[planID] = l
	}
	return l
}

func (s *Store) path(planID string) string {
	return filepath.Join(s.dir, planID+".json")
}

func (s *Store) lockPath(planID string) string {
	return filepath.Join(s.dir, planID+".lock")
}

// AcquireLock claims the cross-process lock file for a plan. The returned
// release function removes it.
func (s *Store) AcquireLock(planID string) (func(), error) {
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return nil, err
	}
	path := s.lockPath(planID)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		if os.IsExist(err) {
			return nil, fmt.Errorf("plan %s is locked by another process (remove %s if stale)", planID, path)
		}
		return nil, err
	}
	fmt.Fprintf(f, "%d\n", os.Getpid())
	f.Close()
	return func() { os.Remove(path) }, nil
}

// Save writes the state document atomically. Secret input values are redacted
// before anything reaches disk, both in the inputs map and in any config step
// values they were merged into.
func (s *Store) Save(st *types.PlanState) error {
	lock := s.planLock(st.PlanID)
	lock.Lock()
	defer lock.Unlock()

	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return err
	}

	clean := redactState(st)
	if clean.UpdatedAt.IsZero() {
		clean.UpdatedAt = time.Now().UTC()
	}
	payload, err := json.MarshalIndent(clean, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal plan state: %w", err)
	}

	tmp := s.path(st.PlanID) + ".tmp"
	if err := os.WriteFile(tmp, payload, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.path(st.PlanID))
}

// Load reads one plan state by id.
func (s *Store) Load(planID string) (*types.PlanState, error) {
	data, err := os.ReadFile(s.path(planID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, planID)
		}
		return nil, err
	}
	var st types.PlanState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("parse plan state %s: %w", planID, err)
	}
	return &st, nil
}

// List returns every persisted plan state, newest first.
func (s *Store) List() ([]*types.PlanState, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []*types.PlanState
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		id := strings.TrimSuffix(e.Name(), ".json")
		st, err := s.Load(id)
		if err != nil {
			continue
		}
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, nil
}

// Cancel marks a running or paused plan cancelled.
func (s *Store) Cancel(planID string) error {
	st, err := s.Load(planID)
	if err != nil {
		return err
	}
	if st.Status == types.StatusDone || st.Status == types.StatusCancelled {
		return fmt.Errorf("plan %s is already %s", planID, st.Status)
	}
	st.Status = types.StatusCancelled
	st.UpdatedAt = time.Now().UTC()
	return s.Save(st)
}

// Archive moves a finished plan's document into the archive subdirectory.
func (s *Store) Archive(planID string) error {
	st, err := s.Load(planID)
	if err != nil {
		return err
	}
	if st.Status == types.StatusRunning {
		return fmt.Errorf("plan %s is still running", planID)
	}
	dir := filepath.Join(s.dir, "archive")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	return os.Rename(s.path(planID), filepath.Join(dir, planID+".json"))
}

// ResumePlan builds a fresh plan from a paused or failed state holding only
// the steps that have not completed. Dependencies on completed steps are
// dropped so the new graph stands alone; failed steps are retried.
func ResumePlan(st *types.PlanState) (*types.Plan, error) {
	if st.Status != types.StatusPaused && st.Status != types.StatusFailed {
		return nil, fmt.Errorf("plan %s is %s; only paused or failed plans can resume", st.PlanID, st.Status)
	}
	done := make(map[string]bool, len(st.CompletedSteps))
	for _, id := range st.CompletedSteps {
		done[id] = true
	}
	var remaining []types.Step
	for _, step := range st.Steps {
		if done[step.ID] {
			continue
		}
		kept := step
		kept.DependsOn = nil
		for _, dep := range step.DependsOn {
			if !done[dep] {
				kept.DependsOn = append(kept.DependsOn, dep)
			}
		}
		remaining = append(remaining, kept)
	}
	if len(remaining) == 0 {
		return nil, fmt.Errorf("plan %s has no remaining steps", st.PlanID)
	}
	return &types.Plan{
		ID:    st.PlanID,
		Tool:  st.Tool,
		Label: "Resume " + st.Tool,
		Steps: remaining,
	}, nil
}

// redactState returns a copy safe to persist: secret inputs are masked
// everywhere their values could have been copied.
func redactState(st *types.PlanState) *types.PlanState {
	clean := *st
	clean.Inputs = events.RedactValues(st.Inputs, st.SecretInputs)
	if len(st.SecretInputs) == 0 {
		return &clean
	}
	clean.Steps = make([]types.Step, len(st.Steps))
	copy(clean.Steps, st.Steps)
	for i, step := range clean.Steps {
		if step.Config == nil || len(step.Config.Values) == 0 {
			continue
		}
		cfg := *step.Config
		cfg.Values = events.RedactValues(cfg.Values, st.SecretInputs)
		clean.Steps[i].Config = &cfg
	}
	return &clean
}
