// SPDX-License-Identifier: AGPL-3.0-or-later

// Package scheduler orders plan steps by their dependency graph and runs
// independent steps concurrently, serializing steps that share a package
// manager.
package scheduler

import (
	"fmt"
	"sort"
	"strings"

	"github.com/toolup-org/toolup/internal/types"
)

// CycleError reports a dependency cycle with the steps involved.
type CycleError struct {
	Steps []string
}

func (e *CycleError) Error() string {
	return "dependency cycle among steps: " + strings.Join(e.Steps, ", ")
}

// ValidateGraph rejects duplicate step ids, references to unknown steps and
// cycles. Validation runs before the first step executes so a malformed plan
// never partially applies.
func ValidateGraph(steps []types.Step) error {
	ids := make(map[string]struct{}, len(steps))
	for _, s := range steps {
		if s.ID == "" {
			return fmt.Errorf("step with empty id")
		}
		if _, exists := ids[s.ID]; exists {
			return fmt.Errorf("duplicate step id %q", s.ID)
		}
		ids[s.ID] = struct{}{}
	}
	for _, s := range steps {
		for _, dep := range s.DependsOn {
			if _, ok := ids[dep]; !ok {
				return fmt.Errorf("step %q depends on unknown step %q", s.ID, dep)
			}
			if dep == s.ID {
				return &CycleError{Steps: []string{s.ID}}
			}
		}
	}

	// Kahn's algorithm; whatever survives with a nonzero in-degree sits on a
	// cycle.
	indeg := make(map[string]int, len(steps))
	dependents := make(map[string][]string, len(steps))
	for _, s := range steps {
		indeg[s.ID] = len(s.DependsOn)
		for _, dep := range s.DependsOn {
			dependents[dep] = append(dependents[dep], s.ID)
		}
	}
	queue := make([]string, 0, len(steps))
	for _, s := range steps {
		if indeg[s.ID] == 0 {
			queue = append(queue, s.ID)
		}
	}
	visited := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		visited++
		for _, next := range dependents[id] {
			indeg[next]--
			if indeg[next] == 0 {
				queue = append(queue, next)
			}
		}
	}
	if visited != len(steps) {
		var cycle []string
		for id, d := range indeg {
			if d > 0 {
				cycle = append(cycle, id)
			}
		}
		sort.Strings(cycle)
		return &CycleError{Steps: cycle}
	}
	return nil
}
