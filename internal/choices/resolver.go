// SPDX-License-Identifier: AGPL-3.0-or-later

// Package choices evaluates every user-selectable option of a recipe against
// the system profile. Options are never removed, only annotated; all
// constraint checks run to completion so a disabled option can report every
// unmet constraint.
package choices

import (
	"context"
	"fmt"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/toolup-org/toolup/internal/events"
	"github.com/toolup-org/toolup/internal/recipe"
	"github.com/toolup-org/toolup/internal/sysprofile"
)

// ResolvedOption is one option plus its availability verdict.
type ResolvedOption struct {
	Option            recipe.Option `json:"option"`
	Available         bool          `json:"available"`
	DisabledReason    string        `json:"disabled_reason,omitempty"`
	EnableHint        string        `json:"enable_hint,omitempty"`
	FailedConstraints []string      `json:"failed_constraints,omitempty"`
}

// ResolvedChoice is a choice with every option evaluated.
type ResolvedChoice struct {
	ID           string           `json:"id"`
	Label        string           `json:"label"`
	Options      []ResolvedOption `json:"options"`
	Versions     []Version        `json:"versions,omitempty"`
	AutoSelected bool             `json:"auto_selected"`
	Selected     string           `json:"selected,omitempty"`
}

// Resolution is the outcome of the two-pass decision-tree build.
type Resolution struct {
	AutoResolve bool                `json:"auto_resolve"`
	Choices     []ResolvedChoice    `json:"choices"`
	Inputs      []recipe.InputField `json:"inputs,omitempty"`
	Defaults    map[string]string   `json:"defaults,omitempty"`
}

// Resolver carries the per-resolution caches. Build one per call chain; it is
// never shared global state.
type Resolver struct {
	Prober   *Prober
	Versions *VersionLister
	// Sink, when set, receives network warnings from failed dynamic version
	// lookups. Resolution runs before a plan exists, so events carry no
	// plan id.
	Sink events.Sink
}

// NewResolver wires default probe and version listers.
func NewResolver() *Resolver {
	return &Resolver{
		Prober:   NewProber(nil),
		Versions: NewVersionLister(nil, ""),
	}
}

// Resolve evaluates all choices and inputs of the recipe against the profile.
//
// Pass one annotates every option independently; pass two picks defaults and
// auto-selects choices with exactly one viable option.
func (rv *Resolver) Resolve(ctx context.Context, r *recipe.Recipe, profile *sysprofile.Profile) (*Resolution, error) {
	res := &Resolution{Defaults: make(map[string]string)}

	for _, c := range r.Choices {
		rc := ResolvedChoice{ID: c.ID, Label: c.Label}

		if c.Versions != nil {
			versions, err := rv.Versions.List(ctx, c.Versions)
			if err != nil {
				// Version enumeration failing must not kill resolution;
				// the choice simply has no dynamic entries.
				rc.Versions = nil
				if rv.Sink != nil && c.Versions.Mode == "dynamic" {
					rv.Sink.EmitNetworkWarning("", "github", rv.Versions.ReleaseURL(c.Versions), err)
				}
			} else {
				rc.Versions = versions
			}
		}

		for _, opt := range c.Options {
			rc.Options = append(rc.Options, rv.evaluateOption(ctx, opt, profile))
		}

		available := make([]string, 0, len(rc.Options))
		for _, ro := range rc.Options {
			if ro.Available {
				available = append(available, ro.Option.ID)
			}
		}

		switch {
		case len(available) == 1:
			rc.AutoSelected = true
			rc.Selected = available[0]
		case c.Default != "" && containsString(available, c.Default):
			rc.Selected = c.Default
		default:
			for _, ro := range rc.Options {
				if ro.Available && ro.Option.Default {
					rc.Selected = ro.Option.ID
					break
				}
			}
		}
		if rc.Selected != "" {
			res.Defaults[c.ID] = rc.Selected
		}
		res.Choices = append(res.Choices, rc)
	}

	env := profile.ExprEnv()
	for _, in := range r.Inputs {
		show, err := evalCondition(in.When, env)
		if err != nil {
			return nil, fmt.Errorf("input %s: condition: %w", in.Name, err)
		}
		if show {
			res.Inputs = append(res.Inputs, in)
			if in.Default != "" {
				res.Defaults[in.Name] = in.Default
			}
		}
	}

	res.AutoResolve = len(res.Inputs) == 0
	for _, rc := range res.Choices {
		if !rc.AutoSelected {
			res.AutoResolve = false
			break
		}
	}
	return res, nil
}

// evaluateOption runs every constraint to completion; no short-circuit, so
// the disabled reason can list all failures.
func (rv *Resolver) evaluateOption(ctx context.Context, opt recipe.Option, profile *sysprofile.Profile) ResolvedOption {
	ro := ResolvedOption{Option: opt, Available: true, EnableHint: opt.EnableHint}
	var failures []string

	if len(opt.Requires.Platforms) > 0 && !containsString(opt.Requires.Platforms, profile.OSFamily) {
		failures = append(failures, fmt.Sprintf("platform %s is not one of %s",
			profile.OSFamily, strings.Join(opt.Requires.Platforms, ", ")))
	}

	for _, bin := range opt.Requires.Binaries {
		if !profile.HasBinary(bin) {
			failures = append(failures, fmt.Sprintf("missing binary %s", bin))
		}
	}

	for _, hc := range opt.Requires.Hardware {
		if ok, why := profile.Satisfies(hc.Path, hc.Op, hc.Value); !ok {
			failures = append(failures, why)
		}
	}

	for _, host := range opt.Requires.Network {
		if ok, why := rv.Prober.Reachable(ctx, host); !ok {
			failures = append(failures, fmt.Sprintf("%s unreachable: %s", host, why))
		}
	}

	if len(failures) > 0 {
		ro.Available = false
		ro.FailedConstraints = failures
		ro.DisabledReason = strings.Join(failures, "; ")
		if ro.EnableHint == "" && len(opt.Requires.Binaries) > 0 {
			ro.EnableHint = "install " + strings.Join(opt.Requires.Binaries, ", ") + " to enable this option"
		}
	}
	return ro
}

func evalCondition(cond string, env map[string]any) (bool, error) {
	cond = strings.TrimSpace(cond)
	if cond == "" {
		return true, nil
	}
	prog, err := expr.Compile(cond, expr.Env(env), expr.AsBool())
	if err != nil {
		return false, err
	}
	out, err := expr.Run(prog, env)
	if err != nil {
		return false, err
	}
	b, _ := out.(bool)
	return b, nil
}

func containsString(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}
