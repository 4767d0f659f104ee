// SPDX-License-Identifier: AGPL-3.0-or-later

// Package planner turns a recipe plus a system profile into an ordered list
// of steps: repository setup, one batched system-package install, per-tool
// install commands, post-install actions and a final verification step.
package planner

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/expr-lang/expr"
	"github.com/google/uuid"
	"github.com/toolup-org/toolup/internal/recipe"
	"github.com/toolup-org/toolup/internal/risk"
	"github.com/toolup-org/toolup/internal/sysprofile"
	"github.com/toolup-org/toolup/internal/types"
)

// NoRecipeError reports a tool the registry does not know.
type NoRecipeError struct {
	Tool string
}

func (e *NoRecipeError) Error() string { return fmt.Sprintf("no recipe for tool %q", e.Tool) }

// NoInstallMethodError reports a recipe with no method viable on this host.
type NoInstallMethodError struct {
	Tool string
}

func (e *NoInstallMethodError) Error() string {
	return fmt.Sprintf("no viable install method for tool %q on this system", e.Tool)
}

// Default per-kind step timeouts.
const (
	defaultCommandTimeout  = 10 * time.Minute
	defaultPackagesTimeout = 30 * time.Minute
	defaultBuildTimeout    = time.Hour
	defaultDownloadTimeout = 30 * time.Minute
	defaultVerifyTimeout   = 60 * time.Second
)

// Options configures one resolution call.
type Options struct {
	// Selections maps choice id to the selected option id.
	Selections map[string]string
	// Inputs are user-supplied values for the recipe's input fields.
	Inputs map[string]string
}

// Planner resolves install plans. Registry and profile are injected; the
// planner holds no global state.
type Planner struct {
	Registry *recipe.Registry
	Profile  *sysprofile.Profile
}

func New(reg *recipe.Registry, profile *sysprofile.Profile) *Planner {
	return &Planner{Registry: reg, Profile: profile}
}

// ResolvePlan builds the plan for one tool. Returns NoRecipeError or
// NoInstallMethodError for resolution failures; those are never attempted.
func (p *Planner) ResolvePlan(tool string, opts Options) (*types.Plan, error) {
	base, ok := p.Registry.Get(tool)
	if !ok {
		return nil, &NoRecipeError{Tool: tool}
	}

	plan := &types.Plan{
		ID:    uuid.NewString(),
		Tool:  base.ID,
		Label: base.Label,
	}

	if p.Profile.HasBinary(verifyBinary(base)) {
		plan.AlreadyInstalled = true
		plan.RiskSummary = types.RiskSummary{Level: types.RiskLow}
		plan.Gate = types.ConfirmationGate{Type: types.GateNone}
		return plan, nil
	}

	r, applied, err := recipe.ApplyChoices(base, opts.Selections)
	if err != nil {
		return nil, err
	}

	method, ok := p.pickMethod(r)
	if !ok {
		return nil, &NoInstallMethodError{Tool: tool}
	}
	plan.Method = method

	b := &builder{planner: p, plan: plan, visited: map[string]bool{}}
	if err := b.walk(r, method, true); err != nil {
		return nil, err
	}
	b.emit(r, method, opts)

	for i := range plan.Steps {
		s := &plan.Steps[i]
		if s.Risk == "" {
			s.Risk = risk.InferStep(*s, "")
		}
	}
	plan.RiskSummary = risk.Aggregate(plan.Steps)
	plan.Gate = risk.GateFor(plan.Steps, plan.RiskSummary)

	// Escalation means a selected option pushed the plan into a higher
	// bucket, so the baseline is the same plan resolved without selections.
	// A choice-free plan never escalates, however risky its steps are.
	if len(applied) > 0 {
		if baseline, ok := p.baselineRiskLevel(base); ok {
			escalated, reason := risk.DetectEscalation(baseline, plan.RiskSummary.Level, escalationReason(applied))
			plan.RiskSummary.Escalated = escalated
			plan.RiskSummary.EscalationReason = reason
		}
	}

	for _, s := range plan.Steps {
		if s.NeedsSudo {
			plan.NeedsSudo = true
			break
		}
	}
	return plan, nil
}

// baselineRiskLevel aggregates the risk the plan would carry with no choices
// applied. Reported false when the unmodified recipe cannot resolve at all,
// e.g. when a choice supplies the only viable install method.
func (p *Planner) baselineRiskLevel(base *recipe.Recipe) (string, bool) {
	method, ok := p.pickMethod(base)
	if !ok {
		return "", false
	}
	b := &builder{planner: p, plan: &types.Plan{}, visited: map[string]bool{}}
	if err := b.walk(base, method, true); err != nil {
		return "", false
	}
	b.emit(base, method, Options{})
	steps := b.plan.Steps
	for i := range steps {
		if steps[i].Risk == "" {
			steps[i].Risk = risk.InferStep(steps[i], "")
		}
	}
	return risk.Aggregate(steps).Level, true
}

// pickMethod applies the method priority: the recipe's explicit preference
// list filtered by actual availability, then the system's primary package
// manager, then snap, then the generic fallback, then any method whose
// binary exists on the host.
func (p *Planner) pickMethod(r *recipe.Recipe) (string, bool) {
	for _, m := range r.PreferredMethods {
		if _, has := r.Install[m]; has && p.methodAvailable(m) {
			return m, true
		}
	}
	if _, has := r.Install[p.Profile.PrimaryPM]; has {
		return p.Profile.PrimaryPM, true
	}
	if _, has := r.Install["snap"]; has && p.Profile.SnapAvailable {
		return "snap", true
	}
	if _, has := r.Install["generic"]; has {
		return "generic", true
	}
	methods := make([]string, 0, len(r.Install))
	for m := range r.Install {
		methods = append(methods, m)
	}
	sort.Strings(methods)
	for _, m := range methods {
		if p.methodAvailable(m) {
			return m, true
		}
	}
	return "", false
}

func (p *Planner) methodAvailable(method string) bool {
	switch method {
	case "generic", "github_release", "source":
		return true
	case "snap":
		return p.Profile.SnapAvailable
	case "brew":
		return p.Profile.BrewAvailable
	default:
		if p.Profile.HasPM(method) {
			return true
		}
		return p.Profile.HasBinary(method)
	}
}

// builder accumulates the package batch and the ordered tool installs while
// walking the dependency tree depth-first.
type builder struct {
	planner  *Planner
	plan     *types.Plan
	visited  map[string]bool
	packages []string
	repoCmds []repoCmd
	installs []installCmd
}

type repoCmd struct {
	tool string
	cmd  string
}

type installCmd struct {
	recipe *recipe.Recipe
	method string
	root   bool
}

// walk collects, depth-first and cycle-guarded, everything the tool needs:
// system packages into one batch, dependency tools into ordered installs.
func (b *builder) walk(r *recipe.Recipe, method string, root bool) error {
	if b.visited[r.ID] {
		return nil
	}
	b.visited[r.ID] = true

	profile := b.planner.Profile
	for _, pkg := range r.Requires.Packages[profile.OSFamily] {
		if !profile.PackageInstalled(pkg) && !containsString(b.packages, pkg) {
			b.packages = append(b.packages, pkg)
		}
	}

	for _, bin := range r.Requires.Binaries {
		if profile.HasBinary(bin) {
			continue
		}
		dep, ok := b.planner.Registry.Get(bin)
		if !ok {
			// No recipe: treat the binary name as a system package.
			if !containsString(b.packages, bin) {
				b.packages = append(b.packages, bin)
			}
			continue
		}
		depMethod, ok := b.planner.pickMethod(dep)
		if !ok {
			return &NoInstallMethodError{Tool: dep.ID}
		}
		if err := b.walk(dep, depMethod, false); err != nil {
			return err
		}
	}

	for _, cmd := range r.RepoSetup[method] {
		b.repoCmds = append(b.repoCmds, repoCmd{tool: r.ID, cmd: cmd})
	}
	b.installs = append(b.installs, installCmd{recipe: r, method: method, root: root})
	return nil
}

// emit turns the collected work into ordered plan steps.
func (b *builder) emit(root *recipe.Recipe, method string, opts Options) {
	plan := b.plan
	profile := b.planner.Profile
	var prev string

	appendStep := func(s types.Step) string {
		if prev != "" && len(s.DependsOn) == 0 {
			s.DependsOn = []string{prev}
		}
		plan.Steps = append(plan.Steps, s)
		prev = s.ID
		return s.ID
	}

	for i, rc := range b.repoCmds {
		appendStep(types.Step{
			ID:         fmt.Sprintf("repo-%d", i+1),
			Type:       types.StepRepo,
			Label:      fmt.Sprintf("Set up package repository for %s", rc.tool),
			Command:    rc.cmd,
			NeedsSudo:  true,
			Timeout:    defaultCommandTimeout,
			PMAffinity: types.InferAffinity(rc.cmd),
		})
	}

	if len(b.packages) > 0 {
		appendStep(types.Step{
			ID:         "packages",
			Type:       types.StepPackages,
			Label:      fmt.Sprintf("Install system packages (%s)", strings.Join(b.packages, ", ")),
			Packages:   append([]string(nil), b.packages...),
			NeedsSudo:  profile.PrimaryPM != "brew",
			Timeout:    defaultPackagesTimeout,
			PMAffinity: profile.PrimaryPM,
		})
	}

	chained := make(map[string]string)
	for _, inst := range b.installs {
		r := inst.recipe
		cmd, has := r.Install[inst.method]
		if !has || strings.TrimSpace(cmd) == "" {
			continue
		}
		step := types.Step{
			ID:              "install-" + r.ID,
			Type:            stepTypeForMethod(inst.method),
			Label:           fmt.Sprintf("Install %s via %s", labelOf(r), inst.method),
			Command:         cmd,
			NeedsSudo:       r.NeedsSudo[inst.method],
			Risk:            r.Risk,
			Rollback:        r.Rollback,
			RestartRequired: restartFor(r, inst.root),
			Timeout:         timeoutForType(stepTypeForMethod(inst.method)),
			PMAffinity:      types.InferAffinity(cmd),
		}
		if len(chained) > 0 {
			step.Env = cloneMap(chained)
		}
		appendStep(step)
		for k, v := range r.PostEnv {
			chained[k] = v
		}
	}

	env := profile.ExprEnv()
	decls := inputDecls(root.Inputs, env)
	for _, a := range root.PostInstall {
		if !conditionHolds(a.When, env) {
			continue
		}
		step := actionStep(a, opts)
		if step.Type == types.StepConfig && step.Config != nil && len(decls) > 0 {
			cfg := *step.Config
			cfg.Inputs = decls
			step.Config = &cfg
		}
		if len(chained) > 0 && step.Env == nil {
			step.Env = cloneMap(chained)
		}
		appendStep(step)
	}

	verify := types.Step{
		ID:      "verify",
		Type:    types.StepVerify,
		Label:   fmt.Sprintf("Verify %s installation", labelOf(root)),
		Command: root.Verify,
		Risk:    types.RiskLow,
		Timeout: defaultVerifyTimeout,
	}
	if len(chained) > 0 {
		verify.Env = cloneMap(chained)
	}
	appendStep(verify)
}

func actionStep(a recipe.Action, opts Options) types.Step {
	id := "post-" + a.ID
	step := types.Step{
		ID:              id,
		Label:           a.Label,
		NeedsSudo:       a.NeedsSudo,
		Risk:            a.Risk,
		Rollback:        a.Rollback,
		RestartRequired: a.RestartRequired,
		Timeout:         defaultCommandTimeout,
	}
	if step.Label == "" {
		step.Label = "Post-install: " + a.ID
	}
	switch a.Type {
	case types.StepService:
		step.Type = types.StepService
		step.Service = a.Service
	case types.StepConfig:
		step.Type = types.StepConfig
		step.Config = a.Config
		if step.Config != nil && len(opts.Inputs) > 0 {
			merged := cloneMap(step.Config.Values)
			if merged == nil {
				merged = make(map[string]string)
			}
			for k, v := range opts.Inputs {
				merged[k] = v
			}
			cfg := *step.Config
			cfg.Values = merged
			step.Config = &cfg
		}
	case types.StepShellProfile:
		step.Type = types.StepShellProfile
		step.Profile = a.Profile
	case types.StepKernelModule:
		step.Type = types.StepKernelModule
		step.Module = a.Module
	case types.StepDownload:
		step.Type = types.StepDownload
		step.Download = a.Download
		step.Timeout = defaultDownloadTimeout
	case types.StepNotify:
		step.Type = types.StepNotify
		step.Message = a.Message
	default:
		step.Type = types.StepCommand
		step.Command = a.Command
		step.PMAffinity = types.InferAffinity(a.Command)
	}
	return step
}

// inputDecls converts a recipe's active input fields into the validation
// declarations carried on config steps.
func inputDecls(fields []recipe.InputField, env map[string]any) []types.InputDecl {
	var out []types.InputDecl
	for _, f := range fields {
		if !conditionHolds(f.When, env) {
			continue
		}
		out = append(out, types.InputDecl{
			Name:     f.Name,
			Type:     f.Type,
			Required: f.Required,
			Default:  f.Default,
			Min:      f.Min,
			Max:      f.Max,
			Pattern:  f.Pattern,
		})
	}
	return out
}

func stepTypeForMethod(method string) string {
	switch method {
	case "source":
		return types.StepBuild
	case "github_release":
		return types.StepGithubRel
	default:
		return types.StepCommand
	}
}

func timeoutForType(t string) time.Duration {
	switch t {
	case types.StepBuild:
		return defaultBuildTimeout
	case types.StepDownload, types.StepGithubRel:
		return defaultDownloadTimeout
	case types.StepPackages:
		return defaultPackagesTimeout
	default:
		return defaultCommandTimeout
	}
}

func restartFor(r *recipe.Recipe, root bool) string {
	if !root {
		return types.RestartNone
	}
	return r.RestartRequired
}

func verifyBinary(r *recipe.Recipe) string {
	if r.VerifyBinary != "" {
		return r.VerifyBinary
	}
	return r.ID
}

func labelOf(r *recipe.Recipe) string {
	if r.Label != "" {
		return r.Label
	}
	return r.ID
}

func escalationReason(applied []recipe.Option) string {
	for _, o := range applied {
		if o.Risk == types.RiskHigh || o.Risk == types.RiskMedium {
			return fmt.Sprintf("option %q raised the risk to %s", o.ID, o.Risk)
		}
	}
	return ""
}

func conditionHolds(cond string, env map[string]any) bool {
	cond = strings.TrimSpace(cond)
	if cond == "" {
		return true
	}
	prog, err := expr.Compile(cond, expr.Env(env), expr.AsBool())
	if err != nil {
		return false
	}
	out, err := expr.Run(prog, env)
	if err != nil {
		return false
	}
	b, _ := out.(bool)
	return b
}

func containsString(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}

func cloneMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
