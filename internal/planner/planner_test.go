package planner

import (
	"errors"
	"strings"
	"testing"

	"github.com/toolup-org/toolup/internal/recipe"
	"github.com/toolup-org/toolup/internal/sysprofile"
	"github.com/toolup-org/toolup/internal/types"
)

func debianProfile() *sysprofile.Profile {
	return &sysprofile.Profile{
		OSFamily:      "debian",
		PrimaryPM:     "apt",
		AvailablePMs:  []string{"apt"},
		InstalledPkgs: map[string]bool{},
		Binaries:      map[string]bool{"git": true, "curl": false, "pg_ctl": false, "htop": false, "nvtop": false, "cmake": false},
		HasSudo:       true,
	}
}

func registryWith(t *testing.T, recipes ...*recipe.Recipe) *recipe.Registry {
	t.Helper()
	reg := recipe.NewRegistry()
	for _, r := range recipes {
		if err := reg.Add(r); err != nil {
			t.Fatalf("add %s: %v", r.ID, err)
		}
	}
	return reg
}

func TestResolvePlanUnknownTool(t *testing.T) {
	t.Parallel()
	p := New(registryWith(t), debianProfile())
	_, err := p.ResolvePlan("ghost", Options{})
	var nre *NoRecipeError
	if !errors.As(err, &nre) {
		t.Fatalf("expected NoRecipeError, got %v", err)
	}
}

func TestResolvePlanAlreadyInstalled(t *testing.T) {
	t.Parallel()
	r := &recipe.Recipe{
		ID: "git", Label: "Git",
		Install: map[string]string{"apt": "apt-get install -y git"},
		Verify:  "git --version",
	}
	p := New(registryWith(t, r), debianProfile())
	plan, err := p.ResolvePlan("git", Options{})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !plan.AlreadyInstalled {
		t.Fatalf("expected already-installed short circuit")
	}
	if len(plan.Steps) != 0 {
		t.Fatalf("expected no steps, got %d", len(plan.Steps))
	}
	if plan.Gate.Type != types.GateNone {
		t.Fatalf("expected no gate, got %s", plan.Gate.Type)
	}
}

func TestResolvePlanNoViableMethod(t *testing.T) {
	t.Parallel()
	r := &recipe.Recipe{
		ID: "htop", Label: "htop",
		Install: map[string]string{"brew": "brew install htop"},
		Verify:  "htop --version",
	}
	p := New(registryWith(t, r), debianProfile())
	_, err := p.ResolvePlan("htop", Options{})
	var nime *NoInstallMethodError
	if !errors.As(err, &nime) {
		t.Fatalf("expected NoInstallMethodError, got %v", err)
	}
}

func TestResolvePlanOrdersPackagesInstallVerify(t *testing.T) {
	t.Parallel()
	r := &recipe.Recipe{
		ID: "htop", Label: "htop",
		Install:   map[string]string{"apt": "apt-get install -y htop"},
		NeedsSudo: map[string]bool{"apt": true},
		Requires: recipe.Requirements{
			Packages: map[string][]string{"debian": {"libncurses6"}},
		},
		Verify: "htop --version",
	}
	p := New(registryWith(t, r), debianProfile())
	plan, err := p.ResolvePlan("htop", Options{})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}

	ids := make([]string, len(plan.Steps))
	for i, s := range plan.Steps {
		ids[i] = s.ID
	}
	want := []string{"packages", "install-htop", "verify"}
	if len(ids) != len(want) {
		t.Fatalf("expected steps %v, got %v", want, ids)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("expected steps %v, got %v", want, ids)
		}
	}

	// Linear chain through implicit dependencies.
	if len(plan.Steps[1].DependsOn) != 1 || plan.Steps[1].DependsOn[0] != "packages" {
		t.Fatalf("expected install to depend on packages, got %v", plan.Steps[1].DependsOn)
	}
	if len(plan.Steps[2].DependsOn) != 1 || plan.Steps[2].DependsOn[0] != "install-htop" {
		t.Fatalf("expected verify to depend on install, got %v", plan.Steps[2].DependsOn)
	}
	if !plan.NeedsSudo {
		t.Fatalf("expected plan to need sudo")
	}
	if plan.Method != "apt" {
		t.Fatalf("expected apt method, got %s", plan.Method)
	}
}

func TestResolvePlanSkipsInstalledPackages(t *testing.T) {
	t.Parallel()
	r := &recipe.Recipe{
		ID: "htop", Label: "htop",
		Install: map[string]string{"apt": "apt-get install -y htop"},
		Requires: recipe.Requirements{
			Packages: map[string][]string{"debian": {"libncurses6", "libnl-3-200"}},
		},
		Verify: "htop --version",
	}
	profile := debianProfile()
	profile.InstalledPkgs["libncurses6"] = true
	p := New(registryWith(t, r), profile)
	plan, err := p.ResolvePlan("htop", Options{})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	var pkgStep *types.Step
	for i := range plan.Steps {
		if plan.Steps[i].Type == types.StepPackages {
			pkgStep = &plan.Steps[i]
		}
	}
	if pkgStep == nil {
		t.Fatalf("expected a packages step")
	}
	if len(pkgStep.Packages) != 1 || pkgStep.Packages[0] != "libnl-3-200" {
		t.Fatalf("expected only the missing package, got %v", pkgStep.Packages)
	}
}

func TestResolvePlanWalksDependencyRecipes(t *testing.T) {
	t.Parallel()
	dep := &recipe.Recipe{
		ID: "cmake", Label: "CMake",
		Install: map[string]string{"apt": "apt-get install -y cmake"},
		Verify:  "cmake --version",
	}
	root := &recipe.Recipe{
		ID: "nvtop", Label: "nvtop",
		Install:  map[string]string{"source": "make install"},
		Requires: recipe.Requirements{Binaries: []string{"cmake"}},
		Verify:   "nvtop --version",
	}
	p := New(registryWith(t, dep, root), debianProfile())
	plan, err := p.ResolvePlan("nvtop", Options{})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}

	var depIdx, rootIdx = -1, -1
	for i, s := range plan.Steps {
		switch s.ID {
		case "install-cmake":
			depIdx = i
		case "install-nvtop":
			rootIdx = i
		}
	}
	if depIdx == -1 || rootIdx == -1 {
		t.Fatalf("expected both installs, got %+v", plan.Steps)
	}
	if depIdx > rootIdx {
		t.Fatalf("expected dependency installed before the tool")
	}
	if plan.Steps[rootIdx].Type != types.StepBuild {
		t.Fatalf("expected source install typed as build, got %s", plan.Steps[rootIdx].Type)
	}
}

func TestResolvePlanEscalatesOnRiskyChoice(t *testing.T) {
	t.Parallel()
	r := &recipe.Recipe{
		ID: "nvtop", Label: "nvtop",
		Risk:    "low",
		Install: map[string]string{"apt": "apt-get install -y nvtop"},
		Choices: []recipe.Choice{{
			ID: "driver",
			Options: []recipe.Option{
				{ID: "none", Default: true},
				{ID: "proprietary", Risk: "high",
					InstallOverride: map[string]string{"apt": "apt-get install -y nvtop nvidia-driver-550"}},
			},
		}},
		Verify: "nvtop --version",
	}
	p := New(registryWith(t, r), debianProfile())
	plan, err := p.ResolvePlan("nvtop", Options{Selections: map[string]string{"driver": "proprietary"}})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if plan.RiskSummary.Level != types.RiskHigh {
		t.Fatalf("expected high risk, got %s", plan.RiskSummary.Level)
	}
	if !plan.RiskSummary.Escalated || plan.RiskSummary.EscalationReason == "" {
		t.Fatalf("expected escalation with reason, got %+v", plan.RiskSummary)
	}
	if plan.Gate.Type != types.GateDouble {
		t.Fatalf("expected double gate, got %s", plan.Gate.Type)
	}
}

func TestResolvePlanNoEscalationWithoutChoices(t *testing.T) {
	t.Parallel()
	r := &recipe.Recipe{
		ID: "htop", Label: "htop",
		Install:   map[string]string{"apt": "apt-get install -y htop"},
		NeedsSudo: map[string]bool{"apt": true},
		Verify:    "htop --version",
	}
	p := New(registryWith(t, r), debianProfile())
	plan, err := p.ResolvePlan("htop", Options{})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if plan.RiskSummary.Level != types.RiskMedium {
		t.Fatalf("expected medium risk for a sudo install, got %s", plan.RiskSummary.Level)
	}
	if plan.RiskSummary.Escalated || plan.RiskSummary.EscalationReason != "" {
		t.Fatalf("expected no escalation for a choice-free plan, got %+v", plan.RiskSummary)
	}
}

func TestResolvePlanNoEscalationOnSafeChoice(t *testing.T) {
	t.Parallel()
	r := &recipe.Recipe{
		ID: "nvtop", Label: "nvtop",
		Install:   map[string]string{"apt": "apt-get install -y nvtop"},
		NeedsSudo: map[string]bool{"apt": true},
		Choices: []recipe.Choice{{
			ID: "driver",
			Options: []recipe.Option{
				{ID: "none", Default: true},
				{ID: "proprietary", Risk: "high",
					InstallOverride: map[string]string{"apt": "apt-get install -y nvtop nvidia-driver-550"}},
			},
		}},
		Verify: "nvtop --version",
	}
	p := New(registryWith(t, r), debianProfile())
	plan, err := p.ResolvePlan("nvtop", Options{Selections: map[string]string{"driver": "none"}})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if plan.RiskSummary.Escalated {
		t.Fatalf("expected no escalation when the selected option carries no extra risk, got %+v", plan.RiskSummary)
	}
}

func TestResolvePlanPostInstallConditionsAndInputs(t *testing.T) {
	t.Parallel()
	r := &recipe.Recipe{
		ID: "pgtool", Label: "pgtool",
		Install: map[string]string{"apt": "apt-get install -y pgtool"},
		Inputs: []recipe.InputField{
			{Name: "port", Type: "int", Default: "5432"},
			{Name: "admin_password", Type: "password", Required: true},
		},
		PostInstall: []recipe.Action{
			{ID: "conf", Type: types.StepConfig, Config: &types.ConfigSpec{
				Path:     "/etc/pgtool.conf",
				Template: "port = {port}\npassword = {admin_password}\n",
			}},
			{ID: "mac-only", Type: types.StepCommand, Command: "true", When: `os_family == "darwin"`},
		},
		Verify: "pgtool --version",
	}
	p := New(registryWith(t, r), debianProfile())
	plan, err := p.ResolvePlan("pgtool", Options{Inputs: map[string]string{"admin_password": "hunter2"}})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}

	var conf *types.Step
	for i := range plan.Steps {
		if plan.Steps[i].ID == "post-conf" {
			conf = &plan.Steps[i]
		}
		if plan.Steps[i].ID == "post-mac-only" {
			t.Fatalf("expected darwin-only action filtered out")
		}
	}
	if conf == nil {
		t.Fatalf("expected config step, got %+v", plan.Steps)
	}
	if conf.Config.Values["admin_password"] != "hunter2" {
		t.Fatalf("expected user input merged into config values")
	}
	if len(conf.Config.Inputs) != 2 {
		t.Fatalf("expected input declarations carried onto the step, got %v", conf.Config.Inputs)
	}
}

func TestResolvePlanEveryStepHasRisk(t *testing.T) {
	t.Parallel()
	r := &recipe.Recipe{
		ID: "htop", Label: "htop",
		Install:   map[string]string{"apt": "apt-get install -y htop"},
		NeedsSudo: map[string]bool{"apt": true},
		Verify:    "htop --version",
	}
	p := New(registryWith(t, r), debianProfile())
	plan, err := p.ResolvePlan("htop", Options{})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	for _, s := range plan.Steps {
		if s.Risk == "" {
			t.Fatalf("step %s has no risk bucket", s.ID)
		}
		if s.Timeout <= 0 {
			t.Fatalf("step %s has no timeout", s.ID)
		}
	}
	if !strings.HasPrefix(plan.Steps[len(plan.Steps)-1].ID, "verify") {
		t.Fatalf("expected verify last, got %v", plan.Steps)
	}
}
