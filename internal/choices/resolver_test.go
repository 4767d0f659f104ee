package choices

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/toolup-org/toolup/internal/recipe"
	"github.com/toolup-org/toolup/internal/sysprofile"
)

func testResolver() *Resolver {
	// No network: the prober and lister are only exercised by tests that
	// install an httptest server.
	return &Resolver{
		Prober:   NewProber(&http.Client{Timeout: time.Second}),
		Versions: NewVersionLister(&http.Client{Timeout: time.Second}, "http://127.0.0.1:0"),
	}
}

func archProfile() *sysprofile.Profile {
	return &sysprofile.Profile{
		OSFamily:  "arch",
		PrimaryPM: "pacman",
		HasSudo:   true,
		Binaries:  map[string]bool{"docker": true, "podman": false},
		Hardware: map[string]any{
			"gpu": map[string]any{"vendor": "nvidia"},
		},
	}
}

func TestResolveAnnotatesEveryFailedConstraint(t *testing.T) {
	t.Parallel()
	r := &recipe.Recipe{
		ID:      "lazydocker",
		Install: map[string]string{"pacman": "pacman -S --noconfirm lazydocker"},
		Choices: []recipe.Choice{{
			ID: "runtime",
			Options: []recipe.Option{
				{ID: "docker", Requires: recipe.Requirements{Binaries: []string{"docker"}}},
				{ID: "podman", Requires: recipe.Requirements{
					Binaries:  []string{"podman"},
					Platforms: []string{"rhel", "debian"},
				}},
			},
		}},
		Verify: "lazydocker --version",
	}
	res, err := testResolver().Resolve(context.Background(), r, archProfile())
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(res.Choices) != 1 {
		t.Fatalf("expected one choice, got %d", len(res.Choices))
	}
	rc := res.Choices[0]

	var podman *ResolvedOption
	for i := range rc.Options {
		if rc.Options[i].Option.ID == "podman" {
			podman = &rc.Options[i]
		}
	}
	if podman == nil || podman.Available {
		t.Fatalf("expected podman disabled, got %+v", podman)
	}
	if len(podman.FailedConstraints) != 2 {
		t.Fatalf("expected both failures reported, got %v", podman.FailedConstraints)
	}
	if !strings.Contains(podman.DisabledReason, "missing binary podman") {
		t.Fatalf("unexpected reason: %s", podman.DisabledReason)
	}
	if podman.EnableHint == "" {
		t.Fatalf("expected a derived enable hint")
	}
}

func TestResolveAutoSelectsSoleAvailableOption(t *testing.T) {
	t.Parallel()
	r := &recipe.Recipe{
		ID:      "lazydocker",
		Install: map[string]string{"pacman": "pacman -S --noconfirm lazydocker"},
		Choices: []recipe.Choice{{
			ID: "runtime",
			Options: []recipe.Option{
				{ID: "docker", Requires: recipe.Requirements{Binaries: []string{"docker"}}},
				{ID: "podman", Requires: recipe.Requirements{Binaries: []string{"podman"}}},
			},
		}},
		Verify: "lazydocker --version",
	}
	res, err := testResolver().Resolve(context.Background(), r, archProfile())
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	rc := res.Choices[0]
	if !rc.AutoSelected || rc.Selected != "docker" {
		t.Fatalf("expected docker auto-selected, got %+v", rc)
	}
	if res.Defaults["runtime"] != "docker" {
		t.Fatalf("expected default recorded, got %v", res.Defaults)
	}
	if !res.AutoResolve {
		t.Fatalf("expected fully auto-resolvable recipe")
	}
}

func TestResolvePrefersChoiceDefaultWhenAvailable(t *testing.T) {
	t.Parallel()
	r := &recipe.Recipe{
		ID:      "tool",
		Install: map[string]string{"pacman": "pacman -S tool"},
		Choices: []recipe.Choice{{
			ID:      "mode",
			Default: "server",
			Options: []recipe.Option{
				{ID: "desktop"},
				{ID: "server"},
			},
		}},
		Verify: "tool --version",
	}
	res, err := testResolver().Resolve(context.Background(), r, archProfile())
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	rc := res.Choices[0]
	if rc.AutoSelected {
		t.Fatalf("two viable options must not auto-select")
	}
	if rc.Selected != "server" {
		t.Fatalf("expected declared default, got %q", rc.Selected)
	}
	if res.AutoResolve {
		t.Fatalf("open choice must block auto-resolve")
	}
}

func TestResolveHardwareConstraint(t *testing.T) {
	t.Parallel()
	r := &recipe.Recipe{
		ID:      "nvtop",
		Install: map[string]string{"pacman": "pacman -S nvtop"},
		Choices: []recipe.Choice{{
			ID: "driver",
			Options: []recipe.Option{
				{ID: "nvidia", Requires: recipe.Requirements{Hardware: []recipe.HardwareConstraint{
					{Path: "gpu.vendor", Op: "eq", Value: "nvidia"},
				}}},
				{ID: "amd", Requires: recipe.Requirements{Hardware: []recipe.HardwareConstraint{
					{Path: "gpu.vendor", Op: "eq", Value: "amd"},
				}}},
			},
		}},
		Verify: "nvtop --version",
	}
	res, err := testResolver().Resolve(context.Background(), r, archProfile())
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	rc := res.Choices[0]
	if !rc.AutoSelected || rc.Selected != "nvidia" {
		t.Fatalf("expected nvidia selected on this hardware, got %+v", rc)
	}
	for _, ro := range rc.Options {
		if ro.Option.ID == "amd" && ro.Available {
			t.Fatalf("expected amd disabled by the gpu fact")
		}
	}
}

func TestResolveFiltersInputsByCondition(t *testing.T) {
	t.Parallel()
	r := &recipe.Recipe{
		ID:      "pgtool",
		Install: map[string]string{"pacman": "pacman -S pgtool"},
		Inputs: []recipe.InputField{
			{Name: "port", Type: "int", Default: "5432"},
			{Name: "unit_name", Type: "string", When: `init_system == "systemd"`},
		},
		Verify: "pgtool --version",
	}
	res, err := testResolver().Resolve(context.Background(), r, archProfile())
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(res.Inputs) != 1 || res.Inputs[0].Name != "port" {
		t.Fatalf("expected only the unconditioned input, got %+v", res.Inputs)
	}
	if res.Defaults["port"] != "5432" {
		t.Fatalf("expected input default recorded, got %v", res.Defaults)
	}
	if res.AutoResolve {
		t.Fatalf("pending input must block auto-resolve")
	}
}

func TestResolveNetworkConstraintUsesProber(t *testing.T) {
	t.Parallel()
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	rv := testResolver()
	r := &recipe.Recipe{
		ID:      "tool",
		Install: map[string]string{"pacman": "pacman -S tool"},
		Choices: []recipe.Choice{{
			ID: "source",
			Options: []recipe.Option{
				{ID: "remote", Requires: recipe.Requirements{Network: []string{srv.URL, srv.URL}}},
			},
		}},
		Verify: "tool --version",
	}
	res, err := rv.Resolve(context.Background(), r, archProfile())
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !res.Choices[0].Options[0].Available {
		t.Fatalf("expected reachable host, got %+v", res.Choices[0].Options[0])
	}
	if hits != 1 {
		t.Fatalf("expected the second probe served from cache, got %d hits", hits)
	}
}

// warnSink records network warnings and ignores the rest of the stream.
type warnSink struct {
	registry string
	url      string
	err      error
	count    int
}

func (s *warnSink) EmitStepStart(planID, step, label string, total int) {}

func (s *warnSink) EmitLog(planID, step, line string) {}

func (s *warnSink) EmitStepDone(planID, step string, elapsed time.Duration, skipped bool) {}

func (s *warnSink) EmitStepFailed(planID, step string, err error, needsSudo bool) {}

func (s *warnSink) EmitDone(planID string, ok bool, message string, paused bool, pr string) {}
func (s *warnSink) EmitNetworkWarning(planID, registry, url string, err error) {
	s.registry, s.url, s.err = registry, url, err
	s.count++
}

func TestResolveEmitsNetworkWarningOnVersionFailure(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	sink := &warnSink{}
	rv := testResolver()
	rv.Versions = NewVersionLister(srv.Client(), srv.URL)
	rv.Sink = sink

	r := &recipe.Recipe{
		ID:      "tool",
		Install: map[string]string{"pacman": "pacman -S tool"},
		Choices: []recipe.Choice{{
			ID:       "version",
			Versions: &recipe.VersionStrategy{Mode: "dynamic", Repo: "acme/tool"},
			Options:  []recipe.Option{{ID: "latest", Default: true}},
		}},
		Verify: "tool --version",
	}
	res, err := rv.Resolve(context.Background(), r, archProfile())
	if err != nil {
		t.Fatalf("resolve must survive a version lookup failure, got %v", err)
	}
	if got := res.Choices[0].Versions; got != nil {
		t.Fatalf("expected no dynamic entries, got %v", got)
	}
	if sink.count != 1 {
		t.Fatalf("expected one network warning, got %d", sink.count)
	}
	if sink.registry != "github" || sink.err == nil {
		t.Fatalf("expected registry and error carried, got %q / %v", sink.registry, sink.err)
	}
	if want := srv.URL + "/repos/acme/tool/releases"; sink.url != want {
		t.Fatalf("expected url %s, got %s", want, sink.url)
	}
}

func TestProberCacheExpires(t *testing.T) {
	t.Parallel()
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
	}))
	defer srv.Close()

	p := NewProber(srv.Client())
	now := time.Now()
	p.nowFn = func() time.Time { return now }

	if ok, _ := p.Reachable(context.Background(), srv.URL); !ok {
		t.Fatalf("expected reachable")
	}
	if ok, _ := p.Reachable(context.Background(), srv.URL); !ok {
		t.Fatalf("expected cached answer")
	}
	if hits != 1 {
		t.Fatalf("expected one probe, got %d", hits)
	}

	now = now.Add(probeCacheTTL + time.Second)
	if ok, _ := p.Reachable(context.Background(), srv.URL); !ok {
		t.Fatalf("expected re-probe after expiry")
	}
	if hits != 2 {
		t.Fatalf("expected expiry to re-probe, got %d hits", hits)
	}
}

func TestProberEmptyHostIsAlwaysReachable(t *testing.T) {
	t.Parallel()
	p := NewProber(nil)
	if ok, reason := p.Reachable(context.Background(), "  "); !ok || reason != "" {
		t.Fatalf("expected empty host treated as reachable, got %v / %q", ok, reason)
	}
}
